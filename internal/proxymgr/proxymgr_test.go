package proxymgr

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/vhz-mon/marketwatch/internal/config"
	"github.com/vhz-mon/marketwatch/internal/model"
	"github.com/vhz-mon/marketwatch/internal/store"
)

type fakeSession struct {
	leasable     []model.Proxy
	listErr      error
	successes    map[int64]int
	rateLimits   map[int64]time.Time
	transports   map[int64]int
	stats        store.ProxyStats
	sessionCount *int
}

func (s *fakeSession) Close() error { return nil }

func (s *fakeSession) ListLeasableProxies(now time.Time) ([]model.Proxy, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.leasable, nil
}

func (s *fakeSession) ReportSuccess(proxyID int64, at time.Time) error {
	s.successes[proxyID]++
	return nil
}

func (s *fakeSession) ReportRateLimit(proxyID int64, blockedUntil time.Time) error {
	s.rateLimits[proxyID] = blockedUntil
	return nil
}

func (s *fakeSession) ReportTransportFailure(proxyID int64) error {
	s.transports[proxyID]++
	return nil
}

func (s *fakeSession) GetProxyStats(now time.Time) (store.ProxyStats, error) {
	return s.stats, nil
}

type fakeStore struct {
	session *fakeSession
}

func (s *fakeStore) NewSession(ctx context.Context) (Session, error) {
	if s.session.sessionCount != nil {
		*s.session.sessionCount++
	}
	return s.session, nil
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		successes:  make(map[int64]int),
		rateLimits: make(map[int64]time.Time),
		transports: make(map[int64]int),
	}
}

// newTestManager builds a Manager without Redis: the reservation guard
// fails open, which is exactly the degraded mode under test.
func newTestManager(sess *fakeSession) *Manager {
	return &Manager{
		store:  &fakeStore{session: sess},
		redis:  nil,
		cfg:    config.ProxyConfig{RateLimitCooloff: 5 * time.Minute, LeaseTTL: 5 * time.Minute},
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func TestAcquirePicksFirstLeasable(t *testing.T) {
	sess := newFakeSession()
	sess.leasable = []model.Proxy{
		{ID: 7, Endpoint: "http://proxy7:3128", IsActive: true},
		{ID: 8, Endpoint: "http://proxy8:3128", IsActive: true},
	}
	m := newTestManager(sess)

	lease, err := m.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if lease.Proxy.ID != 7 {
		t.Errorf("leased proxy = %d, want the least recently used (7)", lease.Proxy.ID)
	}
}

func TestAcquireNoneAvailable(t *testing.T) {
	m := newTestManager(newFakeSession())
	if _, err := m.Acquire(context.Background()); !errors.Is(err, ErrNoProxyAvailable) {
		t.Errorf("Acquire() error = %v, want ErrNoProxyAvailable", err)
	}
}

func TestAcquireStoreError(t *testing.T) {
	sess := newFakeSession()
	sess.listErr = errors.New("connection refused")
	m := newTestManager(sess)
	if _, err := m.Acquire(context.Background()); err == nil || errors.Is(err, ErrNoProxyAvailable) {
		t.Errorf("Acquire() error = %v, want a wrapped store error", err)
	}
}

func TestReportSuccess(t *testing.T) {
	sess := newFakeSession()
	m := newTestManager(sess)
	lease := &Lease{Proxy: model.Proxy{ID: 7}}

	if err := m.ReportSuccess(context.Background(), lease); err != nil {
		t.Fatalf("ReportSuccess() error = %v", err)
	}
	if sess.successes[7] != 1 {
		t.Errorf("successes[7] = %d, want 1", sess.successes[7])
	}
}

func TestReportRateLimitBlocksForCooloff(t *testing.T) {
	sess := newFakeSession()
	m := newTestManager(sess)
	lease := &Lease{Proxy: model.Proxy{ID: 7}}

	before := time.Now()
	if err := m.ReportRateLimit(context.Background(), lease); err != nil {
		t.Fatalf("ReportRateLimit() error = %v", err)
	}
	blockedUntil, ok := sess.rateLimits[7]
	if !ok {
		t.Fatal("rate limit not recorded")
	}
	want := before.Add(5 * time.Minute)
	if blockedUntil.Before(want) || blockedUntil.After(want.Add(time.Second)) {
		t.Errorf("blocked_until = %v, want about %v", blockedUntil, want)
	}
}

func TestReportTransportFailureDoesNotBlock(t *testing.T) {
	sess := newFakeSession()
	m := newTestManager(sess)
	lease := &Lease{Proxy: model.Proxy{ID: 7}}

	if err := m.ReportTransportFailure(context.Background(), lease); err != nil {
		t.Fatalf("ReportTransportFailure() error = %v", err)
	}
	if sess.transports[7] != 1 {
		t.Errorf("transports[7] = %d, want 1", sess.transports[7])
	}
	if _, blocked := sess.rateLimits[7]; blocked {
		t.Error("transport failure must not block the proxy")
	}
}

func TestGetStats(t *testing.T) {
	sess := newFakeSession()
	sess.stats = store.ProxyStats{Total: 5, Active: 4, Inactive: 1, Blocked: 2, ActiveBlocked: 2}
	m := newTestManager(sess)

	stats, err := m.GetStats(context.Background())
	if err != nil {
		t.Fatalf("GetStats() error = %v", err)
	}
	if stats != sess.stats {
		t.Errorf("GetStats() = %+v, want %+v", stats, sess.stats)
	}
}

func TestEverySelectionOpensAFreshSession(t *testing.T) {
	sess := newFakeSession()
	sess.leasable = []model.Proxy{{ID: 7, IsActive: true}}
	count := 0
	sess.sessionCount = &count
	m := newTestManager(sess)

	for i := 0; i < 3; i++ {
		if _, err := m.Acquire(context.Background()); err != nil {
			t.Fatalf("Acquire() #%d error = %v", i+1, err)
		}
	}
	if count != 3 {
		t.Errorf("sessions opened = %d, want one per selection", count)
	}
}
