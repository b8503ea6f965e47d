package fetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/vhz-mon/marketwatch/internal/config"
)

func newTestFetcher() *HTTPFetcher {
	return New(config.FetcherConfig{Timeout: 5 * time.Second})
}

func outcomeOf(t *testing.T, err error) Outcome {
	t.Helper()
	var fe *Error
	if !errors.As(err, &fe) {
		t.Fatalf("error %v is not a classified fetch error", err)
	}
	return fe.Outcome
}

func TestFetchOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"listings": [
			{"item_name": "AK-47 | Redline", "price_cents": 900},
			{"listing_id": "42", "item_name": "AK-47 | Case Hardened", "price_cents": 12500, "pattern_seed": 661}
		]}`))
	}))
	defer srv.Close()

	listings, err := newTestFetcher().Fetch(context.Background(), srv.URL, "")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if len(listings) != 2 {
		t.Fatalf("listings = %d, want 2", len(listings))
	}
	if listings[0].PriceCents != 900 || listings[1].ListingID != "42" {
		t.Errorf("unexpected listings %+v", listings)
	}
}

func TestFetchRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := newTestFetcher().Fetch(context.Background(), srv.URL, "")
	if got := outcomeOf(t, err); got != OutcomeRateLimited {
		t.Errorf("outcome = %v, want OutcomeRateLimited", got)
	}
}

func TestFetchUpstream5xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := newTestFetcher().Fetch(context.Background(), srv.URL, "")
	if got := outcomeOf(t, err); got != OutcomeTransient {
		t.Errorf("outcome = %v, want OutcomeTransient", got)
	}
}

func TestFetchClientError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := newTestFetcher().Fetch(context.Background(), srv.URL, "")
	if got := outcomeOf(t, err); got != OutcomeTransport {
		t.Errorf("outcome = %v, want OutcomeTransport", got)
	}
}

func TestFetchParseError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>not json</html>`))
	}))
	defer srv.Close()

	_, err := newTestFetcher().Fetch(context.Background(), srv.URL, "")
	if got := outcomeOf(t, err); got != OutcomeParse {
		t.Errorf("outcome = %v, want OutcomeParse", got)
	}
}

func TestFetchBadProxyEndpoint(t *testing.T) {
	_, err := newTestFetcher().Fetch(context.Background(), "https://example.com", "http://bad proxy")
	if got := outcomeOf(t, err); got != OutcomeTransport {
		t.Errorf("outcome = %v, want OutcomeTransport", got)
	}
}
