package store

import (
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/vhz-mon/marketwatch/internal/model"
)

// ListLeasableProxies returns every proxy leasable at now, ordered
// least-recently-used first (never-used rows sort first). The unblock
// path is this predicate itself: a lapsed blocked_until simply stops
// excluding the row, no sweep required.
func (s *Session) ListLeasableProxies(now time.Time) ([]model.Proxy, error) {
	var proxies []model.Proxy
	err := s.db.
		Where("is_active = ?", true).
		Where("blocked_until IS NULL OR blocked_until <= ?", now).
		Order("last_used_at ASC NULLS FIRST").
		Find(&proxies).Error
	if err != nil {
		return nil, fmt.Errorf("list leasable proxies: %w", err)
	}
	return proxies, nil
}

// ListProxies returns every proxy, used by the admin surface and GetStats.
func (s *Session) ListProxies() ([]model.Proxy, error) {
	var proxies []model.Proxy
	if err := s.db.Find(&proxies).Error; err != nil {
		return nil, fmt.Errorf("list proxies: %w", err)
	}
	return proxies, nil
}

// CreateProxy inserts a new operator-provisioned proxy.
func (s *Session) CreateProxy(p *model.Proxy) error {
	if err := s.db.Create(p).Error; err != nil {
		return fmt.Errorf("create proxy: %w", err)
	}
	return nil
}

// ReportSuccess increments Successes and stamps LastUsedAt.
func (s *Session) ReportSuccess(proxyID int64, at time.Time) error {
	err := s.db.Model(&model.Proxy{}).Where("id = ?", proxyID).Updates(map[string]any{
		"successes":    gorm.Expr("successes + 1"),
		"last_used_at": at,
	}).Error
	if err != nil {
		return fmt.Errorf("report proxy success: %w", err)
	}
	return nil
}

// ReportRateLimit sets BlockedUntil and increments Failures.
func (s *Session) ReportRateLimit(proxyID int64, blockedUntil time.Time) error {
	err := s.db.Model(&model.Proxy{}).Where("id = ?", proxyID).Updates(map[string]any{
		"blocked_until": blockedUntil,
		"failures":      gorm.Expr("failures + 1"),
	}).Error
	if err != nil {
		return fmt.Errorf("report proxy rate limit: %w", err)
	}
	return nil
}

// ReportTransportFailure increments Failures without blocking (transient).
func (s *Session) ReportTransportFailure(proxyID int64) error {
	err := s.db.Model(&model.Proxy{}).Where("id = ?", proxyID).
		UpdateColumn("failures", gorm.Expr("failures + 1")).Error
	if err != nil {
		return fmt.Errorf("report proxy transport failure: %w", err)
	}
	return nil
}

// ClearBlock clears BlockedUntil, used by the admin unblock command.
func (s *Session) ClearBlock(proxyID int64) error {
	err := s.db.Model(&model.Proxy{}).Where("id = ?", proxyID).
		Update("blocked_until", nil).Error
	if err != nil {
		return fmt.Errorf("clear proxy block: %w", err)
	}
	return nil
}

// SetProxyActive flips the operator kill switch.
func (s *Session) SetProxyActive(proxyID int64, active bool) error {
	if err := s.db.Model(&model.Proxy{}).Where("id = ?", proxyID).
		Update("is_active", active).Error; err != nil {
		return fmt.Errorf("set proxy active: %w", err)
	}
	return nil
}

// ProxyStats is the snapshot returned by GetProxyStats. ActiveBlocked
// counts proxies that are active but sitting out a rate-limit block.
type ProxyStats struct {
	Total         int `json:"total"`
	Active        int `json:"active"`
	Inactive      int `json:"inactive"`
	Blocked       int `json:"blocked"`
	ActiveBlocked int `json:"active_blocked"`
}

// GetProxyStats computes a fresh snapshot as of now.
func (s *Session) GetProxyStats(now time.Time) (ProxyStats, error) {
	proxies, err := s.ListProxies()
	if err != nil {
		return ProxyStats{}, err
	}
	var st ProxyStats
	st.Total = len(proxies)
	for _, p := range proxies {
		if p.IsActive {
			st.Active++
		} else {
			st.Inactive++
		}
		blocked := p.BlockedUntil != nil && p.BlockedUntil.After(now)
		if blocked {
			st.Blocked++
		}
		if p.IsActive && blocked {
			st.ActiveBlocked++
		}
	}
	return st, nil
}
