package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/vhz-mon/marketwatch/internal/bus"
	"github.com/vhz-mon/marketwatch/internal/config"
	"github.com/vhz-mon/marketwatch/internal/fetcher"
	"github.com/vhz-mon/marketwatch/internal/model"
	"github.com/vhz-mon/marketwatch/internal/proxymgr"
)

type recordingBus struct {
	mu       sync.Mutex
	requests []bus.CheckRequest
	results  []bus.CheckResult
}

func (b *recordingBus) PublishCheckRequest(ctx context.Context, req bus.CheckRequest) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.requests = append(b.requests, req)
	return nil
}

func (b *recordingBus) PublishCheckResult(ctx context.Context, res bus.CheckResult) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.results = append(b.results, res)
	return nil
}

func (b *recordingBus) ConsumeCheckRequests(ctx context.Context, handler func(context.Context, bus.CheckRequest) error) error {
	return nil
}

func (b *recordingBus) ConsumeCheckResults(ctx context.Context, handler func(context.Context, bus.CheckResult) error) error {
	return nil
}

func (b *recordingBus) Close() error { return nil }

type fakePool struct {
	acquireErr        error
	successes         int
	rateLimits        int
	transportFailures int
}

func (p *fakePool) Acquire(ctx context.Context) (*proxymgr.Lease, error) {
	if p.acquireErr != nil {
		return nil, p.acquireErr
	}
	return &proxymgr.Lease{Proxy: model.Proxy{ID: 1, Endpoint: "http://proxy:3128", IsActive: true}}, nil
}

func (p *fakePool) ReportSuccess(ctx context.Context, lease *proxymgr.Lease) error {
	p.successes++
	return nil
}

func (p *fakePool) ReportRateLimit(ctx context.Context, lease *proxymgr.Lease) error {
	p.rateLimits++
	return nil
}

func (p *fakePool) ReportTransportFailure(ctx context.Context, lease *proxymgr.Lease) error {
	p.transportFailures++
	return nil
}

type fakeFetcher struct {
	listings []model.Listing
	err      error
}

func (f *fakeFetcher) Fetch(ctx context.Context, targetURL, proxyEndpoint string) ([]model.Listing, error) {
	return f.listings, f.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() config.WorkerConfig {
	return config.WorkerConfig{
		MaxRetryAttempts: 3,
		RetryBaseDelay:   time.Millisecond,
		RequeueDelay:     time.Millisecond,
	}
}

func newTestWorker(b *recordingBus, pool *fakePool, f *fakeFetcher) *Worker {
	return New(b, pool, f, testConfig(), testLogger())
}

func TestHandleSuccess(t *testing.T) {
	b := &recordingBus{}
	pool := &fakePool{}
	f := &fakeFetcher{listings: []model.Listing{
		{ItemName: "AK-47 | Redline", PriceCents: 900},
		{ItemName: "AK-47 | Redline", PriceCents: 1500},
	}}
	w := newTestWorker(b, pool, f)

	req := bus.NewCheckRequest(1, "https://example.com/market", model.FilterDoc{})
	if err := w.Handle(context.Background(), req); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	if pool.successes != 1 {
		t.Errorf("successes = %d, want 1", pool.successes)
	}
	if len(b.results) != 1 {
		t.Fatalf("results = %d, want 1", len(b.results))
	}
	res := b.results[0]
	if !res.OK || len(res.Listings) != 2 {
		t.Errorf("result = %+v, want ok with 2 listings", res)
	}
	if res.TaskID != req.TaskID || res.CorrelationID != req.CorrelationID {
		t.Errorf("result identity %d/%s does not match request %d/%s",
			res.TaskID, res.CorrelationID, req.TaskID, req.CorrelationID)
	}
}

func TestHandleRateLimitedRetries(t *testing.T) {
	b := &recordingBus{}
	pool := &fakePool{}
	f := &fakeFetcher{err: &fetcher.Error{Outcome: fetcher.OutcomeRateLimited, Cause: errors.New("429")}}
	w := newTestWorker(b, pool, f)

	req := bus.NewCheckRequest(1, "https://example.com/market", model.FilterDoc{})
	if err := w.Handle(context.Background(), req); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	if pool.rateLimits != 1 {
		t.Errorf("rateLimits = %d, want 1", pool.rateLimits)
	}
	if len(b.results) != 0 {
		t.Errorf("results = %d, want 0 before retries are exhausted", len(b.results))
	}
	if len(b.requests) != 1 {
		t.Fatalf("requeued requests = %d, want 1", len(b.requests))
	}
	if got := b.requests[0].Attempt; got != req.Attempt+1 {
		t.Errorf("requeued attempt = %d, want %d", got, req.Attempt+1)
	}
}

func TestHandleRateLimitedExhausted(t *testing.T) {
	b := &recordingBus{}
	pool := &fakePool{}
	f := &fakeFetcher{err: &fetcher.Error{Outcome: fetcher.OutcomeRateLimited, Cause: errors.New("429")}}
	w := newTestWorker(b, pool, f)

	req := bus.NewCheckRequest(1, "https://example.com/market", model.FilterDoc{})
	req.Attempt = 3
	if err := w.Handle(context.Background(), req); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	if len(b.requests) != 0 {
		t.Errorf("requeued requests = %d, want 0 at the cap", len(b.requests))
	}
	if len(b.results) != 1 {
		t.Fatalf("results = %d, want 1", len(b.results))
	}
	res := b.results[0]
	if res.OK || res.Kind != bus.KindRateLimited {
		t.Errorf("result = %+v, want not-ok rate_limited", res)
	}
}

func TestHandleParseErrorNoRetry(t *testing.T) {
	b := &recordingBus{}
	pool := &fakePool{}
	f := &fakeFetcher{err: &fetcher.Error{Outcome: fetcher.OutcomeParse, Cause: errors.New("bad json")}}
	w := newTestWorker(b, pool, f)

	req := bus.NewCheckRequest(1, "https://example.com/market", model.FilterDoc{})
	if err := w.Handle(context.Background(), req); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	if len(b.requests) != 0 {
		t.Errorf("requeued requests = %d, want 0 for parse errors", len(b.requests))
	}
	if len(b.results) != 1 || b.results[0].Kind != bus.KindParse {
		t.Fatalf("results = %+v, want one parse failure", b.results)
	}
	if pool.rateLimits != 0 || pool.transportFailures != 0 {
		t.Error("parse errors should not count against the proxy")
	}
}

func TestHandleTransportRetries(t *testing.T) {
	b := &recordingBus{}
	pool := &fakePool{}
	f := &fakeFetcher{err: &fetcher.Error{Outcome: fetcher.OutcomeTransient, Cause: errors.New("502")}}
	w := newTestWorker(b, pool, f)

	req := bus.NewCheckRequest(1, "https://example.com/market", model.FilterDoc{})
	if err := w.Handle(context.Background(), req); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	if pool.transportFailures != 1 {
		t.Errorf("transportFailures = %d, want 1", pool.transportFailures)
	}
	if pool.rateLimits != 0 {
		t.Error("upstream errors should not block the proxy")
	}
	if len(b.requests) != 1 {
		t.Errorf("requeued requests = %d, want 1", len(b.requests))
	}
}

func TestHandleNoProxyRequeues(t *testing.T) {
	b := &recordingBus{}
	pool := &fakePool{acquireErr: proxymgr.ErrNoProxyAvailable}
	f := &fakeFetcher{}
	w := newTestWorker(b, pool, f)

	req := bus.NewCheckRequest(1, "https://example.com/market", model.FilterDoc{})
	if err := w.Handle(context.Background(), req); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	if len(b.requests) != 1 {
		t.Fatalf("requeued requests = %d, want 1", len(b.requests))
	}
	if got := b.requests[0].Attempt; got != req.Attempt {
		t.Errorf("requeue without a fetch should not consume an attempt, got %d want %d", got, req.Attempt)
	}
}
