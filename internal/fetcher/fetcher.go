// Package fetcher retrieves market listing pages: given a URL and a
// leased proxy endpoint, it returns parsed listings or a classified
// error the worker uses to decide retry and block behavior.
package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/vhz-mon/marketwatch/internal/config"
	"github.com/vhz-mon/marketwatch/internal/model"
)

// Outcome classifies how a fetch attempt ended.
type Outcome int

const (
	OutcomeUnknown Outcome = iota
	OutcomeTransient
	OutcomeRateLimited
	OutcomeTransport
	OutcomeParse
)

// Error wraps a classified fetch failure.
type Error struct {
	Outcome Outcome
	Cause   error
}

func (e *Error) Error() string { return fmt.Sprintf("fetch failed (%v): %v", e.Outcome, e.Cause) }
func (e *Error) Unwrap() error { return e.Cause }

func classify(o Outcome, cause error) error { return &Error{Outcome: o, Cause: cause} }

// Fetcher is the interface the worker depends on; HTTPFetcher is the
// production implementation and a fake lives alongside worker tests.
type Fetcher interface {
	Fetch(ctx context.Context, targetURL string, proxyEndpoint string) ([]model.Listing, error)
}

// HTTPFetcher retrieves a Steam Market listing page through a proxy and
// extracts listings from its JSON payload. The actual page-scraping
// grammar is treated as an implementation detail behind this interface,
// per the system's explicit non-goal of re-deriving Steam's HTML/JSON
// shape.
type HTTPFetcher struct {
	timeout time.Duration
}

// New builds an HTTPFetcher from configuration.
func New(cfg config.FetcherConfig) *HTTPFetcher {
	return &HTTPFetcher{timeout: cfg.Timeout}
}

// marketResponse is the minimal JSON envelope this fetcher expects from
// the market listing endpoint.
type marketResponse struct {
	Listings []model.Listing `json:"listings"`
}

// Fetch performs the request through the given proxy endpoint and
// classifies any failure.
func (f *HTTPFetcher) Fetch(ctx context.Context, targetURL string, proxyEndpoint string) ([]model.Listing, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	client, err := f.clientFor(proxyEndpoint)
	if err != nil {
		return nil, classify(OutcomeTransport, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return nil, classify(OutcomeTransport, err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, classify(OutcomeTransient, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, classify(OutcomeRateLimited, fmt.Errorf("rate limited: status %d", resp.StatusCode))
	case resp.StatusCode >= 500:
		return nil, classify(OutcomeTransient, fmt.Errorf("upstream error: status %d", resp.StatusCode))
	case resp.StatusCode >= 400:
		return nil, classify(OutcomeTransport, fmt.Errorf("client error: status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classify(OutcomeTransient, err)
	}

	var parsed marketResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, classify(OutcomeParse, err)
	}

	return parsed.Listings, nil
}

func (f *HTTPFetcher) clientFor(proxyEndpoint string) (*http.Client, error) {
	transport := &http.Transport{}
	if proxyEndpoint != "" {
		proxyURL, err := url.Parse(proxyEndpoint)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy endpoint: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}
	return &http.Client{Transport: transport}, nil
}
