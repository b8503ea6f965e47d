// Package model defines the domain types shared across every component:
// the persisted rows (MonitoringTask, FoundItem, Proxy) and the wire
// shapes that travel between them (FilterDoc, Listing).
package model

import "time"

// MonitoringTask is a user-owned subscription to a Steam Market listing
// page, filtered and polled on its own schedule.
//
// While a task is active its NextCheck is non-nil and only moves forward
// except on an explicit reschedule; TotalChecks never decreases; and at
// most one scheduler loop per task id runs at a time, process-wide.
type MonitoringTask struct {
	ID            int64      `gorm:"primaryKey"`
	OwnerID       int64      `gorm:"column:owner_id;not null;index"`
	Name          string     `gorm:"column:name;not null"`
	URL           string     `gorm:"column:url;not null"`
	Filters       FilterDoc  `gorm:"column:filters;type:jsonb;serializer:json"`
	CheckInterval int        `gorm:"column:check_interval;not null"`
	IsActive      bool       `gorm:"column:is_active;not null;default:true;index"`
	TotalChecks   int64      `gorm:"column:total_checks;not null;default:0"`
	LastCheck     *time.Time `gorm:"column:last_check"`
	NextCheck     *time.Time `gorm:"column:next_check;index"`
	UpdatedAt     time.Time  `gorm:"column:updated_at;autoUpdateTime"`
	CreatedAt     time.Time  `gorm:"column:created_at;autoCreateTime"`
}

// TableName pins the GORM-generated table name instead of the pluralized
// default, matching the name the SQL migrations use.
func (MonitoringTask) TableName() string { return "monitoring_tasks" }

// MinCheckInterval is the floor enforced on MonitoringTask.CheckInterval;
// values supplied below it are clamped up.
const MinCheckInterval = 30

// ClampCheckInterval enforces MinCheckInterval.
func ClampCheckInterval(seconds int) int {
	if seconds < MinCheckInterval {
		return MinCheckInterval
	}
	return seconds
}

// FoundItem is the de-duplication record of a match already notified for
// a task. One row per (TaskID, Fingerprint); FirstSeenAt never changes
// once written.
type FoundItem struct {
	ID             int64     `gorm:"primaryKey"`
	TaskID         int64     `gorm:"column:task_id;not null;uniqueIndex:uq_found_items_task_fingerprint"`
	Fingerprint    string    `gorm:"column:fingerprint;not null;uniqueIndex:uq_found_items_task_fingerprint"`
	PriceCents     int64     `gorm:"column:price_cents;not null"`
	FirstSeenAt    time.Time `gorm:"column:first_seen_at;not null;autoCreateTime"`
	RawSummaryJSON string    `gorm:"column:raw_summary_json"`
}

// TableName pins the table name.
func (FoundItem) TableName() string { return "found_items" }

// Proxy is a managed egress endpoint leased out by the proxy manager.
// BlockedUntil only ever moves forward via rate-limit handling and is
// cleared on unblock; Successes and Failures only accumulate.
type Proxy struct {
	ID           int64      `gorm:"primaryKey"`
	Endpoint     string     `gorm:"column:endpoint;not null;uniqueIndex"`
	IsActive     bool       `gorm:"column:is_active;not null;default:true;index"`
	BlockedUntil *time.Time `gorm:"column:blocked_until;index"`
	Successes    int64      `gorm:"column:successes;not null;default:0"`
	Failures     int64      `gorm:"column:failures;not null;default:0"`
	LastUsedAt   *time.Time `gorm:"column:last_used_at"`
	CreatedAt    time.Time  `gorm:"column:created_at;autoCreateTime"`
}

// TableName pins the table name.
func (Proxy) TableName() string { return "proxies" }

// Leasable reports whether the proxy may be handed out right now: active
// and either never blocked or past its block deadline.
func (p Proxy) Leasable(now time.Time) bool {
	if !p.IsActive {
		return false
	}
	return p.BlockedUntil == nil || !p.BlockedUntil.After(now)
}

// SuccessRatio is used to break LRU ties during selection.
func (p Proxy) SuccessRatio() float64 {
	total := p.Successes + p.Failures
	if total == 0 {
		return 0
	}
	return float64(p.Successes) / float64(total)
}

// FilterDoc is the structured filter document attached to a
// MonitoringTask. Unknown keys in the stored JSON are tolerated and
// ignored.
type FilterDoc struct {
	MaxPrice     *int64       `json:"max_price,omitempty"`
	MinPrice     *int64       `json:"min_price,omitempty"`
	WearMax      *float64     `json:"wear_max,omitempty"`
	WearMin      *float64     `json:"wear_min,omitempty"`
	PatternList  *PatternList `json:"pattern_list,omitempty"`
	NameContains string       `json:"name_contains,omitempty"`
	StickersAll  []string     `json:"stickers_all,omitempty"`
}

// PatternList gates pattern-seed matching by item type.
type PatternList struct {
	ItemType string `json:"item_type"`
	Seeds    []int  `json:"seeds"`
}

// Listing is a single Steam Market listing as extracted by the Fetcher.
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
