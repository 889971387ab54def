package util

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// New generates a new ULID string
func New() string {
	return NewAt(time.Now())
}

// NewAt generates a ULID for t. IDs made in the same millisecond by this
// process are strictly increasing, so they can back cursor pagination.
func NewAt(t time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// ValidULID reports whether s is a canonical ULID.
func ValidULID(s string) bool {
	_, err := ulid.ParseStrict(s)
	return err == nil
}
