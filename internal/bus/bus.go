// Package bus carries check requests from the scheduler to the parsing
// worker pool and check results from the workers to the result
// processor, with at-least-once delivery.
package bus

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/vhz-mon/marketwatch/internal/model"
)

// CheckRequest is published by the scheduler once per due tick and
// consumed by exactly one parsing worker.
type CheckRequest struct {
	TaskID        int64           `json:"task_id"`
	URL           string          `json:"url"`
	Filters       model.FilterDoc `json:"filters"`
	Attempt       int             `json:"attempt"`
	CorrelationID string          `json:"correlation_id"`
}

// NewCheckRequest stamps a fresh correlation id for a first attempt.
func NewCheckRequest(taskID int64, url string, filters model.FilterDoc) CheckRequest {
	return CheckRequest{
		TaskID:        taskID,
		URL:           url,
		Filters:       filters,
		Attempt:       0,
		CorrelationID: uuid.NewString(),
	}
}

// ResultKind classifies a non-ok CheckResult.
type ResultKind string

const (
	KindRateLimited ResultKind = "rate_limited"
	KindParse       ResultKind = "parse"
	KindTransport   ResultKind = "transport"
)

// CheckResult is published by the Parsing Worker once per request it
// terminally resolves, whether by success or by exhausting its retries.
type CheckResult struct {
	TaskID        int64      `json:"task_id"`
	CorrelationID string     `json:"correlation_id"`
	OK            bool       `json:"ok"`
	Kind          ResultKind `json:"kind,omitempty"`
	Listings      []Listing  `json:"listings,omitempty"`
	FetchedAt     time.Time  `json:"fetched_at"`
}

// Listing mirrors model.Listing on the wire.
type Listing struct {
	ListingID      string         `json:"listing_id,omitempty"`
	ItemName       string         `json:"item_name"`
	PriceCents     int64          `json:"price_cents"`
	Wear           *float64       `json:"wear,omitempty"`
	PatternSeed    *int           `json:"pattern_seed,omitempty"`
	Stickers       []string       `json:"stickers,omitempty"`
	SellerOpaqueID string         `json:"seller_opaque_id,omitempty"`
	Raw            map[string]any `json:"raw,omitempty"`
}

// ToModel converts a wire Listing to the internal model shape used by
// the filter engine and fingerprinting.
func (l Listing) ToModel() model.Listing {
	return model.Listing{
		ListingID:      l.ListingID,
		ItemName:       l.ItemName,
		PriceCents:     l.PriceCents,
		Wear:           l.Wear,
		PatternSeed:    l.PatternSeed,
		Stickers:       l.Stickers,
		SellerOpaqueID: l.SellerOpaqueID,
		Raw:            l.Raw,
	}
}

// FromModel converts an internal model Listing to its wire shape.
func FromModel(l model.Listing) Listing {
	return Listing{
		ListingID:      l.ListingID,
		ItemName:       l.ItemName,
		PriceCents:     l.PriceCents,
		Wear:           l.Wear,
		PatternSeed:    l.PatternSeed,
		Stickers:       l.Stickers,
		SellerOpaqueID: l.SellerOpaqueID,
		Raw:            l.Raw,
	}
}

// Bus is the narrow interface every component depends on, so the Kafka
// implementation can be swapped for the in-memory fake in tests.
type Bus interface {
	PublishCheckRequest(ctx context.Context, req CheckRequest) error
	PublishCheckResult(ctx context.Context, res CheckResult) error
	ConsumeCheckRequests(ctx context.Context, handler func(context.Context, CheckRequest) error) error
	ConsumeCheckResults(ctx context.Context, handler func(context.Context, CheckResult) error) error
	Close() error
}

func marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
