package bus

import (
	"context"
	"sync"
)

var _ Bus = (*FakeBus)(nil)

// FakeBus is an in-process Bus used by component tests that need a real
// publish/consume round trip without a Kafka cluster.
type FakeBus struct {
	mu             sync.Mutex
	requestQueue   []CheckRequest
	resultQueue    []CheckResult
	requestWaiters []chan struct{}
	resultWaiters  []chan struct{}
}

// NewFakeBus returns an empty FakeBus.
func NewFakeBus() *FakeBus {
	return &FakeBus{}
}

func (b *FakeBus) PublishCheckRequest(ctx context.Context, req CheckRequest) error {
	b.mu.Lock()
	b.requestQueue = append(b.requestQueue, req)
	waiters := b.requestWaiters
	b.requestWaiters = nil
	b.mu.Unlock()
	for _, w := range waiters {
		close(w)
	}
	return nil
}

func (b *FakeBus) PublishCheckResult(ctx context.Context, res CheckResult) error {
	b.mu.Lock()
	b.resultQueue = append(b.resultQueue, res)
	waiters := b.resultWaiters
	b.resultWaiters = nil
	b.mu.Unlock()
	for _, w := range waiters {
		close(w)
	}
	return nil
}

func (b *FakeBus) ConsumeCheckRequests(ctx context.Context, handler func(context.Context, CheckRequest) error) error {
	for {
		req, ok := b.popRequest()
		if !ok {
			if !b.waitForRequest(ctx) {
				return ctx.Err()
			}
			continue
		}
		if err := handler(ctx, req); err != nil {
			continue
		}
	}
}

func (b *FakeBus) ConsumeCheckResults(ctx context.Context, handler func(context.Context, CheckResult) error) error {
	for {
		res, ok := b.popResult()
		if !ok {
			if !b.waitForResult(ctx) {
				return ctx.Err()
			}
			continue
		}
		if err := handler(ctx, res); err != nil {
			continue
		}
	}
}

func (b *FakeBus) popRequest() (CheckRequest, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.requestQueue) == 0 {
		return CheckRequest{}, false
	}
	req := b.requestQueue[0]
	b.requestQueue = b.requestQueue[1:]
	return req, true
}

func (b *FakeBus) popResult() (CheckResult, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.resultQueue) == 0 {
		return CheckResult{}, false
	}
	res := b.resultQueue[0]
	b.resultQueue = b.resultQueue[1:]
	return res, true
}

func (b *FakeBus) waitForRequest(ctx context.Context) bool {
	ch := make(chan struct{})
	b.mu.Lock()
	b.requestWaiters = append(b.requestWaiters, ch)
	b.mu.Unlock()
	select {
	case <-ch:
		return true
	case <-ctx.Done():
		return false
	}
}

func (b *FakeBus) waitForResult(ctx context.Context) bool {
	ch := make(chan struct{})
	b.mu.Lock()
	b.resultWaiters = append(b.resultWaiters, ch)
	b.mu.Unlock()
	select {
	case <-ch:
		return true
	case <-ctx.Done():
		return false
	}
}

func (b *FakeBus) Close() error { return nil }
