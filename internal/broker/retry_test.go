package broker

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func fastPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func TestRetryRecoversFromTransient(t *testing.T) {
	attempts := 0
	err := fastPolicy().Do(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return fmt.Errorf("%w: flaky", ErrTransient)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected recovery, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestRetryExhaustsBudget(t *testing.T) {
	attempts := 0
	err := fastPolicy().Do(context.Background(), func() error {
		attempts++
		return fmt.Errorf("%w: always", ErrTransient)
	})
	if !errors.Is(err, ErrTransient) {
		t.Fatalf("expected last transient error, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", attempts)
	}
}

func TestRetryDoesNotRetryAuthErrors(t *testing.T) {
	attempts := 0
	err := fastPolicy().Do(context.Background(), func() error {
		attempts++
		return fmt.Errorf("%w: bad key", ErrAuth)
	})
	if !errors.Is(err, ErrAuth) {
		t.Fatalf("expected auth error, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("auth errors must not be retried, got %d attempts", attempts)
	}
}

func TestRetryHonorsContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	err := RetryPolicy{MaxAttempts: 5, BaseDelay: 50 * time.Millisecond}.Do(ctx, func() error {
		attempts++
		cancel()
		return fmt.Errorf("%w: flaky", ErrTransient)
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt before cancel, got %d", attempts)
	}
}

func TestTransientClassification(t *testing.T) {
	if !Transient(fmt.Errorf("wrap: %w", ErrTransient)) {
		t.Fatalf("wrapped transient must classify as transient")
	}
	if !Transient(context.DeadlineExceeded) {
		t.Fatalf("deadline exceeded must classify as transient")
	}
	if Transient(ErrAuth) {
		t.Fatalf("auth must not classify as transient")
	}
	if Transient(nil) {
		t.Fatalf("nil must not classify as transient")
	}
}

func TestClassifyStatus(t *testing.T) {
	if !errors.Is(classifyStatus(503, "down"), ErrTransient) {
		t.Fatalf("5xx must map to transient")
	}
	if !errors.Is(classifyStatus(429, "slow down"), ErrTransient) {
		t.Fatalf("429 must map to transient")
	}
	if !errors.Is(classifyStatus(401, "bad key"), ErrAuth) {
		t.Fatalf("401 must map to auth")
	}
	if err := classifyStatus(400, "bad request"); Transient(err) || Auth(err) {
		t.Fatalf("400 must be neither transient nor auth: %v", err)
	}
}
