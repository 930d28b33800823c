// Package retry runs operations with bounded exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrInvalidPolicy is returned when a policy allows no attempts.
var ErrInvalidPolicy = errors.New("retry policy must allow at least one attempt")

// Policy bounds the number of attempts and the delay between them.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultPolicy returns the policy used for external API calls.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 4,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
	}
}

// Backoff returns the delay before the retry that follows attempt (1-based):
// BaseDelay * 2^(attempt-1), capped at MaxDelay.
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := p.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if p.MaxDelay > 0 && delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Notify is called before each wait with the failed attempt number, the delay and the error.
type Notify func(attempt int, delay time.Duration, err error)

// Do runs op until it succeeds, returns a permanent error, attempts run out or ctx ends.
// The last error is returned wrapped with the attempt count.
func Do(ctx context.Context, p Policy, op func(ctx context.Context) error, notify Notify) error {
	if p.MaxAttempts <= 0 {
		return ErrInvalidPolicy
	}

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if IsPermanent(lastErr) {
			return errors.Unwrap(lastErr)
		}
		if attempt == p.MaxAttempts {
			break
		}

		delay := p.Backoff(attempt)
		if notify != nil {
			notify(attempt, delay, lastErr)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return fmt.Errorf("gave up after %d attempts: %w", p.MaxAttempts, lastErr)
}

// RetryableStatus reports whether an HTTP status is transient.
func RetryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}
