// Package worker implements the stateless parsing workers: each
// consumes check.requests, leases a proxy, drives the Fetcher, and
// publishes a terminal CheckResult, retrying transient and rate-limited
// outcomes with bounded exponential backoff.
package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/vhz-mon/marketwatch/internal/bus"
	"github.com/vhz-mon/marketwatch/internal/config"
	"github.com/vhz-mon/marketwatch/internal/fetcher"
	"github.com/vhz-mon/marketwatch/internal/model"
	"github.com/vhz-mon/marketwatch/internal/proxymgr"
	"github.com/vhz-mon/marketwatch/internal/retry"
)

// ProxyPool is the slice of the proxy manager the worker needs. Exactly
// one Report* call is made per acquired lease.
type ProxyPool interface {
	Acquire(ctx context.Context) (*proxymgr.Lease, error)
	ReportSuccess(ctx context.Context, lease *proxymgr.Lease) error
	ReportRateLimit(ctx context.Context, lease *proxymgr.Lease) error
	ReportTransportFailure(ctx context.Context, lease *proxymgr.Lease) error
}

// Worker consumes check.requests and publishes check.results.
type Worker struct {
	bus     bus.Bus
	proxies ProxyPool
	fetcher fetcher.Fetcher
	cfg     config.WorkerConfig
	logger  *slog.Logger
	policy  retry.Policy
}

// New builds a Worker.
func New(b bus.Bus, proxies ProxyPool, f fetcher.Fetcher, cfg config.WorkerConfig, logger *slog.Logger) *Worker {
	return &Worker{
		bus:     b,
		proxies: proxies,
		fetcher: f,
		cfg:     cfg,
		logger:  logger,
		policy:  retry.WorkerRetryPolicy(cfg.RetryBaseDelay, cfg.MaxRetryAttempts),
	}
}

// Run blocks consuming check.requests until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	return w.bus.ConsumeCheckRequests(ctx, w.Handle)
}

// Handle processes one check request end to end.
func (w *Worker) Handle(ctx context.Context, req bus.CheckRequest) error {
	log := w.logger.With("task_id", req.TaskID, "correlation_id", req.CorrelationID, "attempt", req.Attempt)

	lease, err := w.proxies.Acquire(ctx)
	if err != nil {
		log.Warn("no proxy available, requeueing", "error", err)
		return w.requeue(ctx, req)
	}

	listings, ferr := w.fetcher.Fetch(ctx, req.URL, lease.Proxy.Endpoint)
	if ferr == nil {
		if err := w.proxies.ReportSuccess(ctx, lease); err != nil {
			log.Error("report proxy success failed", "error", err)
		}
		return w.publishSuccess(ctx, req, listings)
	}

	fe, ok := ferr.(*fetcher.Error)
	if !ok {
		fe = &fetcher.Error{Outcome: fetcher.OutcomeTransient, Cause: ferr}
	}

	switch fe.Outcome {
	case fetcher.OutcomeParse:
		// The page came back but could not be understood; a retry
		// through another proxy would see the same bytes.
		if err := w.proxies.ReportSuccess(ctx, lease); err != nil {
			log.Error("report proxy success failed", "error", err)
		}
		log.Info("parse error, no retry")
		return w.publishFailure(ctx, req, bus.KindParse)

	case fetcher.OutcomeRateLimited:
		if err := w.proxies.ReportRateLimit(ctx, lease); err != nil {
			log.Error("report rate limit failed", "error", err)
		}
		return w.retryOrGiveUp(ctx, req, bus.KindRateLimited, log)

	default: // transport failure, upstream 5xx, or network hiccup
		if err := w.proxies.ReportTransportFailure(ctx, lease); err != nil {
			log.Error("report transport failure failed", "error", err)
		}
		return w.retryOrGiveUp(ctx, req, bus.KindTransport, log)
	}
}

func (w *Worker) retryOrGiveUp(ctx context.Context, req bus.CheckRequest, kind bus.ResultKind, log *slog.Logger) error {
	if w.policy.Exhausted(req.Attempt) {
		log.Info("retries exhausted, publishing failure", "kind", kind)
		return w.publishFailure(ctx, req, kind)
	}
	delay := w.policy.NextDelay(req.Attempt + 1)
	log.Info("retrying after delay", "delay", delay)
	select {
	case <-time.After(delay):
	case <-ctx.Done():
		return ctx.Err()
	}
	next := req
	next.Attempt = req.Attempt + 1
	return w.bus.PublishCheckRequest(ctx, next)
}

func (w *Worker) requeue(ctx context.Context, req bus.CheckRequest) error {
	select {
	case <-time.After(w.cfg.RequeueDelay):
	case <-ctx.Done():
		return ctx.Err()
	}
	return w.bus.PublishCheckRequest(ctx, req)
}

func (w *Worker) publishSuccess(ctx context.Context, req bus.CheckRequest, listings []model.Listing) error {
	wireListings := make([]bus.Listing, 0, len(listings))
	for _, l := range listings {
		wireListings = append(wireListings, bus.FromModel(l))
	}
	return w.bus.PublishCheckResult(ctx, bus.CheckResult{
		TaskID:        req.TaskID,
		CorrelationID: req.CorrelationID,
		OK:            true,
		Listings:      wireListings,
		FetchedAt:     time.Now(),
	})
}

func (w *Worker) publishFailure(ctx context.Context, req bus.CheckRequest, kind bus.ResultKind) error {
	return w.bus.PublishCheckResult(ctx, bus.CheckResult{
		TaskID:        req.TaskID,
		CorrelationID: req.CorrelationID,
		OK:            false,
		Kind:          kind,
		FetchedAt:     time.Now(),
	})
}
