package ratelimit

import (
	"time"

	"github.com/jmehdipour/reader-gateway/internal/model"
)

// Window is one counter slot to check: the caller's live window of a kind.
type Window struct {
	Kind  model.WindowKind
	ID    int64     // floor(unix/size) for minute and day, calendar month for month
	Limit int64     // model.Unlimited disables the check but still counts
	End   time.Time // first instant of the next window
}

// WindowsAt returns the live minute, day and month windows at now for tier.
// Boundaries come from the server clock so every caller shares the same epochs.
func WindowsAt(now time.Time, tier model.Tier) []Window {
	now = now.UTC()
	out := make([]Window, 0, len(model.WindowKinds))
	for _, k := range model.WindowKinds {
		id, end := windowOf(k, now)
		out = append(out, Window{Kind: k, ID: id, Limit: tier.Limit(k), End: end})
	}
	return out
}

func windowOf(kind model.WindowKind, now time.Time) (int64, time.Time) {
	switch kind {
	case model.WindowMinute:
		id := now.Unix() / 60
		return id, time.Unix((id+1)*60, 0).UTC()
	case model.WindowDay:
		id := now.Unix() / 86400
		return id, time.Unix((id+1)*86400, 0).UTC()
	default:
		y, m, _ := now.Date()
		id := int64(y)*12 + int64(m) - 1
		return id, time.Date(y, m+1, 1, 0, 0, 0, 0, time.UTC)
	}
}

// MonthWindowID is the month counter's id for t, shared with ledger summaries.
func MonthWindowID(t time.Time) int64 {
	id, _ := windowOf(model.WindowMonth, t.UTC())
	return id
}
