package ratelimit

import (
	"context"
	"errors"
	"strconv"
)

var ErrCounterStoreUnavailable = errors.New("counter store unavailable")

// CounterStore keeps the per-caller window counters.
//
// CheckAndIncrement is all-or-nothing: it reads every window, and only when
// none is at its limit it increments all of them, atomically with respect to
// other calls for the same caller. It returns the counts after the operation
// (post-increment when allowed, untouched otherwise).
type CounterStore interface {
	CheckAndIncrement(ctx context.Context, callerID string, windows []Window) (counts []int64, allowed bool, err error)
	Peek(ctx context.Context, callerID string, windows []Window) ([]int64, error)
}

func exceeded(count, limit int64) bool {
	return limit > 0 && count >= limit
}

// CallerID is the counter identity of an account.
func CallerID(accountID int64) string {
	return strconv.FormatInt(accountID, 10)
}
