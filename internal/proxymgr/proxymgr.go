// Package proxymgr leases managed egress proxies out to the parsing
// worker pool. PostgreSQL (via the store) is the authoritative record of
// proxy state; Redis adds a best-effort cross-process reservation so two
// workers do not lease the same least-recently-used proxy at once.
//
// Redis is never the source of truth: if it is unreachable, Acquire
// degrades to store-only selection rather than failing outright.
package proxymgr

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vhz-mon/marketwatch/internal/config"
	"github.com/vhz-mon/marketwatch/internal/model"
	"github.com/vhz-mon/marketwatch/internal/store"
)

const reservationKeyPrefix = "marketwatch:proxy:inuse:"

// Session is the slice of store.Session the manager needs.
type Session interface {
	Close() error
	ListLeasableProxies(now time.Time) ([]model.Proxy, error)
	ReportSuccess(proxyID int64, at time.Time) error
	ReportRateLimit(proxyID int64, blockedUntil time.Time) error
	ReportTransportFailure(proxyID int64) error
	GetProxyStats(now time.Time) (store.ProxyStats, error)
}

// Store opens sessions. Every selection and every outcome report opens
// a fresh session, so a selection always observes blocks committed by
// other workers.
type Store interface {
	NewSession(ctx context.Context) (Session, error)
}

// WrapStore adapts the concrete store to the narrow Store interface.
func WrapStore(st *store.Store) Store { return storeAdapter{st} }

type storeAdapter struct{ st *store.Store }

func (a storeAdapter) NewSession(ctx context.Context) (Session, error) {
	return a.st.NewSession(ctx)
}

// Manager leases proxies and records the outcome of each use.
type Manager struct {
	store  Store
	redis  *redis.Client
	cfg    config.ProxyConfig
	logger *slog.Logger
}

// New builds a Manager. Redis connectivity is not verified here; a down
// Redis is tolerated at call time, per the package doc.
func New(st Store, cfg config.ProxyConfig, logger *slog.Logger) *Manager {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	return &Manager{store: st, redis: rdb, cfg: cfg, logger: logger}
}

// ErrNoProxyAvailable is returned when no proxy is leasable, or when every
// leasable proxy is currently reserved by another worker. Callers treat it
// as a signal to requeue,
// never as a crash.
var ErrNoProxyAvailable = fmt.Errorf("proxymgr: no proxy available")

// Lease is a handle on a proxy a worker has acquired. Callers must call
// exactly one of ReportSuccess, ReportRateLimit, or ReportTransportFailure
// once they are done, which also releases the reservation.
type Lease struct {
	Proxy model.Proxy
}

// Acquire selects the least-recently-used leasable proxy that is not
// currently reserved by another worker, breaking ties by the highest
// success ratio, and reserves it for the configured lease TTL.
func (m *Manager) Acquire(ctx context.Context) (*Lease, error) {
	sess, err := m.store.NewSession(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire proxy: %w", err)
	}
	defer sess.Close()

	candidates, err := sess.ListLeasableProxies(time.Now())
	if err != nil {
		return nil, fmt.Errorf("acquire proxy: %w", err)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i].LastUsedAt, candidates[j].LastUsedAt
		if (a == nil) != (b == nil) {
			return a == nil
		}
		if a != nil && !a.Equal(*b) {
			return a.Before(*b)
		}
		return candidates[i].SuccessRatio() > candidates[j].SuccessRatio()
	})

	for _, p := range candidates {
		if m.reserve(ctx, p.ID) {
			return &Lease{Proxy: p}, nil
		}
	}
	return nil, ErrNoProxyAvailable
}

// reserve attempts the Redis SET NX EX guard. A down Redis fails open:
// the store-level row serialization still keeps state correct, only the
// LRU collision guard is lost.
func (m *Manager) reserve(ctx context.Context, proxyID int64) bool {
	if m.redis == nil {
		return true
	}
	ok, err := m.redis.SetNX(ctx, reservationKey(proxyID), "1", m.cfg.LeaseTTL).Result()
	if err != nil {
		m.logger.Debug("redis reservation unavailable, leasing anyway", "proxy_id", proxyID, "error", err)
		return true
	}
	return ok
}

func (m *Manager) release(ctx context.Context, proxyID int64) {
	if m.redis == nil {
		return
	}
	if err := m.redis.Del(ctx, reservationKey(proxyID)).Err(); err != nil {
		m.logger.Debug("redis release failed", "proxy_id", proxyID, "error", err)
	}
}

func reservationKey(proxyID int64) string {
	return fmt.Sprintf("%s%d", reservationKeyPrefix, proxyID)
}

// ReportSuccess records a successful use and releases the lease.
func (m *Manager) ReportSuccess(ctx context.Context, lease *Lease) error {
	defer m.release(ctx, lease.Proxy.ID)
	sess, err := m.store.NewSession(ctx)
	if err != nil {
		return fmt.Errorf("report proxy success: %w", err)
	}
	defer sess.Close()
	return sess.ReportSuccess(lease.Proxy.ID, time.Now())
}

// ReportRateLimit records a 429-class response, blocking the proxy for
// the configured cooloff. The cooloff is a fixed duration; repeated
// blocks within a window do not escalate it.
func (m *Manager) ReportRateLimit(ctx context.Context, lease *Lease) error {
	defer m.release(ctx, lease.Proxy.ID)
	sess, err := m.store.NewSession(ctx)
	if err != nil {
		return fmt.Errorf("report proxy rate limit: %w", err)
	}
	defer sess.Close()
	blockedUntil := time.Now().Add(m.cfg.RateLimitCooloff)
	return sess.ReportRateLimit(lease.Proxy.ID, blockedUntil)
}

// ReportTransportFailure records a connection-level failure without
// blocking the proxy, since such failures may be transient and unrelated
// to the proxy itself.
func (m *Manager) ReportTransportFailure(ctx context.Context, lease *Lease) error {
	defer m.release(ctx, lease.Proxy.ID)
	sess, err := m.store.NewSession(ctx)
	if err != nil {
		return fmt.Errorf("report proxy transport failure: %w", err)
	}
	defer sess.Close()
	return sess.ReportTransportFailure(lease.Proxy.ID)
}

// GetStats returns a single consistent snapshot of proxy pool health
// from a fresh read, so blocks just committed by other processes are
// visible.
func (m *Manager) GetStats(ctx context.Context) (store.ProxyStats, error) {
	sess, err := m.store.NewSession(ctx)
	if err != nil {
		return store.ProxyStats{}, fmt.Errorf("get proxy stats: %w", err)
	}
	defer sess.Close()
	return sess.GetProxyStats(time.Now())
}

// Close releases the Redis client.
func (m *Manager) Close() error {
	if m.redis == nil {
		return nil
	}
	return m.redis.Close()
}
