// Package reliability holds the retry policy for outbound HTTP calls.
package reliability

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// StatusError is a completed request that the upstream rejected.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("status %d", e.Status)
	}
	return fmt.Sprintf("status %d: %s", e.Status, e.Body)
}

// IsRetryableHTTPStatus classifies statuses worth another attempt.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// Retryable reports whether err may clear on a later attempt. Transport
// errors are retryable; cancellation and non-retryable statuses are not.
func Retryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return IsRetryableHTTPStatus(se.Status)
	}
	return true
}

// Backoff doubles base per attempt, capped at limit.
func Backoff(attempt int, base, limit time.Duration) time.Duration {
	if attempt <= 0 {
		return base
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= limit {
			return limit
		}
	}
	return d
}

// Policy bounds a retry loop.
type Policy struct {
	Attempts int
	Base     time.Duration
	Limit    time.Duration
}

var DefaultPolicy = Policy{Attempts: 3, Base: 200 * time.Millisecond, Limit: 2 * time.Second}

// Do calls fn until it succeeds, returns a non-retryable error, the attempts
// run out, or ctx is done. It returns fn's last error.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := max(p.Attempts, 1)
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if err = fn(ctx); err == nil || !Retryable(err) {
			return err
		}
		if attempt == attempts-1 {
			break
		}
		t := time.NewTimer(Backoff(attempt, p.Base, p.Limit))
		select {
		case <-ctx.Done():
			t.Stop()
			return err
		case <-t.C:
		}
	}
	return err
}
