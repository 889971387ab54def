// Package ratelimit enforces the per-minute, per-day and per-month request
// ceilings of a tier using fixed, clock-aligned windows.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/jmehdipour/reader-gateway/internal/clock"
	"github.com/jmehdipour/reader-gateway/internal/metrics"
	"github.com/jmehdipour/reader-gateway/internal/model"
	"go.uber.org/zap"
)

// Quota is the state of one window kind as reported to the caller.
type Quota struct {
	Limit     int64     `json:"limit"`     // model.Unlimited when not enforced
	Used      int64     `json:"used"`
	Remaining int64     `json:"remaining"` // -1 when unlimited
	ResetAt   time.Time `json:"reset_at"`
}

// Verdict is returned for every admission attempt, allowed or not.
type Verdict struct {
	Allowed    bool               `json:"allowed"`
	Minute     Quota              `json:"minute"`
	Day        Quota              `json:"day"`
	Month      Quota              `json:"month"`
	Denied     []model.WindowKind `json:"denied,omitempty"`
	RetryAfter time.Duration      `json:"-"`
	// At is the instant the windows were computed for. Usage admitted by
	// this verdict belongs to the windows containing At.
	At time.Time `json:"-"`
}

func (v *Verdict) quota(k model.WindowKind) *Quota {
	switch k {
	case model.WindowMinute:
		return &v.Minute
	case model.WindowDay:
		return &v.Day
	default:
		return &v.Month
	}
}

type Limiter struct {
	store   CounterStore
	clock   clock.Clock
	timeout time.Duration
	log     *zap.Logger
}

// NewLimiter builds a limiter. Every store call is bounded by timeout
// (default 200ms).
func NewLimiter(store CounterStore, clk clock.Clock, timeout time.Duration, log *zap.Logger) *Limiter {
	if clk == nil {
		clk = clock.Real{}
	}
	if timeout <= 0 {
		timeout = 200 * time.Millisecond
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Limiter{store: store, clock: clk, timeout: timeout, log: log}
}

// CheckAndIncrement admits or denies one request for callerID.
//
// All three windows are checked before any is incremented; a denial leaves
// every counter untouched. When the store fails or times out the request is
// denied and ErrCounterStoreUnavailable is returned: failing open would let
// an outage turn into unbounded billable traffic.
func (l *Limiter) CheckAndIncrement(ctx context.Context, callerID string, tier model.Tier) (Verdict, error) {
	now := l.clock.Now()
	windows := WindowsAt(now, tier)

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	counts, allowed, err := l.store.CheckAndIncrement(ctx, callerID, windows)
	if err != nil {
		metrics.CounterStoreErrors.WithLabelValues("check").Inc()
		l.log.Warn("counter store check failed, denying",
			zap.String("caller", callerID), zap.String("tier", tier.Name), zap.Error(err))
		return unavailable(windows), fmt.Errorf("%w: %v", ErrCounterStoreUnavailable, err)
	}

	v := verdict(windows, counts, now)
	v.Allowed = allowed
	if allowed {
		v.Denied = nil
		v.RetryAfter = 0
	}
	return v, nil
}

// Status reports the caller's live windows without consuming budget.
// Allowed tells whether the next request would be admitted.
func (l *Limiter) Status(ctx context.Context, callerID string, tier model.Tier) (Verdict, error) {
	now := l.clock.Now()
	windows := WindowsAt(now, tier)

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	counts, err := l.store.Peek(ctx, callerID, windows)
	if err != nil {
		metrics.CounterStoreErrors.WithLabelValues("peek").Inc()
		return unavailable(windows), fmt.Errorf("%w: %v", ErrCounterStoreUnavailable, err)
	}

	v := verdict(windows, counts, now)
	v.Allowed = len(v.Denied) == 0
	return v, nil
}

func verdict(windows []Window, counts []int64, now time.Time) Verdict {
	v := Verdict{At: now}
	for i, w := range windows {
		q := v.quota(w.Kind)
		q.Limit = w.Limit
		q.Used = counts[i]
		q.ResetAt = w.End
		q.Remaining = remaining(w.Limit, counts[i])

		if exceeded(counts[i], w.Limit) {
			v.Denied = append(v.Denied, w.Kind)
			if wait := w.End.Sub(now); wait > v.RetryAfter {
				v.RetryAfter = wait
			}
		}
	}
	return v
}

// unavailable reports limits with nothing remaining, for fail-closed denials.
func unavailable(windows []Window) Verdict {
	var v Verdict
	for _, w := range windows {
		q := v.quota(w.Kind)
		q.Limit = w.Limit
		q.ResetAt = w.End
		if w.Limit == model.Unlimited {
			q.Remaining = -1
		}
	}
	return v
}

func remaining(limit, count int64) int64 {
	if limit == model.Unlimited {
		return -1
	}
	if r := limit - count; r > 0 {
		return r
	}
	return 0
}
