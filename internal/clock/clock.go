// Package clock abstracts the wall clock so window boundaries can be tested.
package clock

import (
	"sync"
	"time"
)

type Clock interface {
	Now() time.Time
}

// Real returns the server's UTC time.
type Real struct{}

func (Real) Now() time.Time { return time.Now().UTC() }

// Fake is a settable clock for tests.
type Fake struct {
	mu      sync.RWMutex
	current time.Time
}

func NewFake(t time.Time) *Fake {
	return &Fake{current: t}
}

func (f *Fake) Now() time.Time {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.current
}

func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	f.current = t
	f.mu.Unlock()
}

// Advance moves the clock forward by d.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.current = f.current.Add(d)
	f.mu.Unlock()
}
