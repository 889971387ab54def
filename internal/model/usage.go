package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type UsageKind string

const (
	UsageCharge   UsageKind = "charge"
	UsageReversal UsageKind = "reversal"
)

// UsageRecord is one immutable ledger entry.
type UsageRecord struct {
	ID            string          `db:"id"            json:"record_id"` // ULID
	AccountID     int64           `db:"account_id"    json:"-"`
	RequestID     string          `db:"request_id"    json:"request_id"`
	Kind          UsageKind       `db:"kind"          json:"kind"`
	Reverses      *string         `db:"reverses"      json:"reverses,omitempty"`
	URL           string          `db:"url"           json:"url"`
	SizeBytes     int64           `db:"size_bytes"    json:"size_bytes"`
	SizeBucket    string          `db:"size_bucket"   json:"size_bucket"`
	UsedImages    bool            `db:"used_images"   json:"used_images"`
	UsedPDF       bool            `db:"used_pdf"      json:"used_pdf"`
	Cost          decimal.Decimal `db:"cost"          json:"cost_usd"`
	BillableUnits int             `db:"billable_units" json:"billable_units"`
	CreatedAt     time.Time       `db:"created_at"    json:"created_at"`
}

// UsageSummary is the billing snapshot of one calendar month.
type UsageSummary struct {
	Month     string          `json:"month"` // YYYY-MM
	Count     int64           `json:"requests"`
	TotalCost decimal.Decimal `json:"total_cost_usd"`
	Quota     int64           `json:"monthly_limit"`
	Remaining int64           `json:"remaining"` // -1 when unlimited
}

// UsagePage is one page of history, newest first.
type UsagePage struct {
	Records    []UsageRecord `json:"records"`
	Limit      int           `json:"limit"`
	NextCursor string        `json:"next_cursor,omitempty"`
	HasMore    bool          `json:"has_more"`
}

// UsageEvent is the outbox payload published for every ledger entry.
type UsageEvent struct {
	ID         string          `json:"id"`
	AccountID  int64           `json:"account_id"`
	Kind       UsageKind       `json:"kind"`
	SizeBytes  int64           `json:"size_bytes"`
	SizeBucket string          `json:"size_bucket"`
	UsedImages bool            `json:"used_images"`
	UsedPDF    bool            `json:"used_pdf"`
	Cost       decimal.Decimal `json:"cost"`
	Units      int             `json:"units"`
	CreatedAt  time.Time       `json:"created_at"`
}

// DailyUsage is a per-day rollup served from ClickHouse.
type DailyUsage struct {
	Day       time.Time       `db:"day"      json:"day"`
	Requests  uint64          `db:"requests" json:"requests"`
	Units     int64           `db:"units"    json:"units"`
	TotalCost decimal.Decimal `db:"cost"     json:"cost_usd"`
}
