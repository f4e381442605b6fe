package broker

import (
	"errors"
	"testing"
	"time"
)

var errBoom = errors.New("boom")

func TestBreakerOpensAfterThreshold(t *testing.T) {
	now := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	b := NewBreaker(3, time.Minute).WithClock(func() time.Time { return now })

	fail := func() error { return errBoom }
	for i := 0; i < 2; i++ {
		if err := b.Do(fail); !errors.Is(err, errBoom) {
			t.Fatalf("attempt %d: expected underlying error, got %v", i, err)
		}
		if b.Open() {
			t.Fatalf("breaker opened before threshold at attempt %d", i)
		}
	}
	if err := b.Do(fail); !errors.Is(err, errBoom) {
		t.Fatalf("third failure should still surface, got %v", err)
	}
	if !b.Open() {
		t.Fatalf("breaker must open after exactly 3 consecutive failures")
	}

	called := false
	if err := b.Do(func() error { called = true; return nil }); !errors.Is(err, ErrBreakerOpen) {
		t.Fatalf("expected fast-fail while open, got %v", err)
	}
	if called {
		t.Fatalf("open breaker must not invoke the call")
	}
}

func TestBreakerAdmitsSingleTrialAfterCooldown(t *testing.T) {
	now := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	b := NewBreaker(2, time.Minute).WithClock(func() time.Time { return now })

	_ = b.Do(func() error { return errBoom })
	_ = b.Do(func() error { return errBoom })
	if !b.Open() {
		t.Fatalf("breaker should be open")
	}

	now = now.Add(61 * time.Second)

	// Trial fails: breaker stays open and restarts the cool-down.
	if err := b.Do(func() error { return errBoom }); !errors.Is(err, errBoom) {
		t.Fatalf("trial call should run, got %v", err)
	}
	if err := b.Do(func() error { return nil }); !errors.Is(err, ErrBreakerOpen) {
		t.Fatalf("second call in the same window must fast-fail, got %v", err)
	}

	// Next cool-down elapses; a successful trial closes the circuit.
	now = now.Add(61 * time.Second)
	if err := b.Do(func() error { return nil }); err != nil {
		t.Fatalf("successful trial returned error: %v", err)
	}
	if b.Open() {
		t.Fatalf("breaker must close after a successful trial")
	}
}

func TestBreakerSuccessResetsCount(t *testing.T) {
	b := NewBreaker(3, time.Minute)
	_ = b.Do(func() error { return errBoom })
	_ = b.Do(func() error { return errBoom })
	_ = b.Do(func() error { return nil })
	_ = b.Do(func() error { return errBoom })
	_ = b.Do(func() error { return errBoom })
	if b.Open() {
		t.Fatalf("non-consecutive failures must not open the breaker")
	}
}
