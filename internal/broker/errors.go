package broker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

var (
	// ErrTransient marks failures worth retrying: timeouts, 5xx, rate limits.
	ErrTransient = errors.New("transient broker error")
	// ErrAuth marks credential failures. Never retried; the instance stops.
	ErrAuth = errors.New("broker auth error")
)

// Transient reports whether the error should be retried under the backoff policy.
func Transient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransient) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// Auth reports whether the error is a fatal credential failure.
func Auth(err error) bool {
	return errors.Is(err, ErrAuth)
}

// classifyStatus maps an HTTP response code onto the error taxonomy.
func classifyStatus(code int, body string) error {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return fmt.Errorf("%w: http %d: %s", ErrAuth, code, body)
	case code == http.StatusTooManyRequests || code >= 500:
		return fmt.Errorf("%w: http %d: %s", ErrTransient, code, body)
	default:
		return fmt.Errorf("broker http %d: %s", code, body)
	}
}
