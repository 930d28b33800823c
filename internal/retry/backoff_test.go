package retry

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPolicy_Backoff(t *testing.T) {
	p := Policy{MaxAttempts: 10, BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, time.Second},
		{30, time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.Backoff(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestDo_SucceedsAfterRetries(t *testing.T) {
	calls := 0
	var waits []time.Duration
	p := Policy{MaxAttempts: 4, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}

	err := Do(context.Background(), p, func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	}, func(_ int, d time.Duration, _ error) { waits = append(waits, d) })

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{time.Millisecond, 2 * time.Millisecond}, waits)
}

func TestDo_GivesUp(t *testing.T) {
	sentinel := errors.New("down")
	calls := 0
	err := Do(context.Background(), Policy{MaxAttempts: 3, BaseDelay: time.Microsecond}, func(context.Context) error {
		calls++
		return sentinel
	}, nil)

	require.Error(t, err)
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 3, calls)
}

func TestDo_PermanentStopsImmediately(t *testing.T) {
	sentinel := errors.New("bad request")
	calls := 0
	err := Do(context.Background(), Policy{MaxAttempts: 5, BaseDelay: time.Microsecond}, func(context.Context) error {
		calls++
		return Permanent(sentinel)
	}, nil)

	assert.Equal(t, sentinel, err)
	assert.Equal(t, 1, calls)
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Do(ctx, DefaultPolicy(), func(context.Context) error { return nil }, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDo_InvalidPolicy(t *testing.T) {
	err := Do(context.Background(), Policy{}, func(context.Context) error { return nil }, nil)
	assert.ErrorIs(t, err, ErrInvalidPolicy)
}

func TestRetryableStatus(t *testing.T) {
	assert.True(t, RetryableStatus(http.StatusTooManyRequests))
	assert.True(t, RetryableStatus(http.StatusServiceUnavailable))
	assert.False(t, RetryableStatus(http.StatusBadRequest))
	assert.False(t, RetryableStatus(http.StatusOK))
}
