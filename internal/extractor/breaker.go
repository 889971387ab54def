package extractor

import (
	"sync"
	"time"

	"github.com/jmehdipour/reader-gateway/internal/clock"
)

type state int

const (
	closed state = iota
	open
	halfOpen
)

func (s state) String() string {
	switch s {
	case open:
		return "open"
	case halfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// Breaker is a consecutive-failure circuit breaker guarding one upstream
// host. While open it rejects calls until openFor has passed, then lets a
// single probe through.
type Breaker struct {
	mu               sync.Mutex
	st               state
	consecutiveFails int
	failThreshold    int
	openFor          time.Duration
	nextTryAt        time.Time
	probeInFlight    bool
	clock            clock.Clock
}

func NewBreaker(threshold int, openFor time.Duration, clk clock.Clock) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if openFor <= 0 {
		openFor = 15 * time.Second
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &Breaker{failThreshold: threshold, openFor: openFor, clock: clk}
}

// TryAcquire reports whether a call may proceed. In half-open state only
// the first caller gets through.
func (b *Breaker) TryAcquire() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.st {
	case open:
		if b.clock.Now().After(b.nextTryAt) && !b.probeInFlight {
			b.st = halfOpen
			b.probeInFlight = true
			return true
		}
		return false
	case halfOpen:
		if !b.probeInFlight {
			b.probeInFlight = true
			return true
		}
		return false
	default:
		return true
	}
}

func (b *Breaker) OnSuccess() {
	b.mu.Lock()
	b.consecutiveFails = 0
	b.st = closed
	b.probeInFlight = false
	b.mu.Unlock()
}

func (b *Breaker) OnFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.st == halfOpen {
		b.trip()
		return
	}

	b.consecutiveFails++
	if b.consecutiveFails >= b.failThreshold {
		b.trip()
	}
}

// Release gives back an acquired slot without judging the upstream, e.g.
// when the caller went away mid-request.
func (b *Breaker) Release() {
	b.mu.Lock()
	b.probeInFlight = false
	b.mu.Unlock()
}

func (b *Breaker) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.st.String()
}

func (b *Breaker) trip() {
	b.st = open
	b.nextTryAt = b.clock.Now().Add(b.openFor)
	b.probeInFlight = false
}
