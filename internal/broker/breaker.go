package broker

import (
	"errors"
	"sync"
	"time"
)

// ErrBreakerOpen is returned without touching the venue while a breaker cools down.
var ErrBreakerOpen = errors.New("circuit breaker open")

// Breaker is a per-call-type circuit breaker. It opens after Threshold
// consecutive failures, fails fast for Cooldown, then admits exactly one
// trial call whose outcome closes or re-opens the circuit.
type Breaker struct {
	mu        sync.Mutex
	threshold int
	cooldown  time.Duration
	now       func() time.Time

	failures int
	openedAt time.Time
	open     bool
	trialing bool
}

// NewBreaker builds a breaker with the given consecutive-failure threshold
// and cool-down period.
func NewBreaker(threshold int, cooldown time.Duration) *Breaker {
	if threshold < 1 {
		threshold = 3
	}
	return &Breaker{threshold: threshold, cooldown: cooldown, now: time.Now}
}

// WithClock overrides the clock for deterministic tests.
func (b *Breaker) WithClock(now func() time.Time) *Breaker {
	b.now = now
	return b
}

// Do runs fn under the breaker, returning ErrBreakerOpen without calling it
// while the circuit is open.
func (b *Breaker) Do(fn func() error) error {
	if err := b.allow(); err != nil {
		return err
	}
	err := fn()
	b.record(err)
	return err
}

func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.open {
		return nil
	}
	if b.now().Sub(b.openedAt) < b.cooldown || b.trialing {
		return ErrBreakerOpen
	}
	// Cool-down elapsed: admit a single trial call.
	b.trialing = true
	return nil
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		b.failures = 0
		b.open = false
		b.trialing = false
		return
	}

	if b.trialing {
		// Failed trial: restart the cool-down.
		b.trialing = false
		b.openedAt = b.now()
		return
	}

	b.failures++
	if b.failures >= b.threshold && !b.open {
		b.open = true
		b.openedAt = b.now()
	}
}

// Open reports whether the breaker is currently rejecting calls.
func (b *Breaker) Open() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.open
}
