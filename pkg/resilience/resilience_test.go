package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
)

func TestRetryWithBackoff_EventuallySucceeds(t *testing.T) {
	calls := 0
	err := RetryWithBackoff(context.Background(), Config{MaxRetries: 3, InitialBackoff: time.Millisecond}, func() error {
		calls++
		if calls < 3 {
			return errors.New("flaky")
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryWithBackoff_GivesUp(t *testing.T) {
	calls := 0
	boom := errors.New("down")
	err := RetryWithBackoff(context.Background(), Config{MaxRetries: 2, InitialBackoff: time.Millisecond}, func() error {
		calls++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, calls)
}

func TestRetryWithBackoff_PermanentStopsImmediately(t *testing.T) {
	calls := 0
	bad := errors.New("bad request")
	err := RetryWithBackoff(context.Background(), Config{MaxRetries: 5, InitialBackoff: time.Millisecond}, func() error {
		calls++
		return &Permanent{Err: bad}
	})
	assert.Equal(t, bad, err)
	assert.Equal(t, 1, calls)
}

func TestRetryWithBackoff_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := RetryWithBackoff(ctx, Config{MaxRetries: 3, InitialBackoff: time.Second}, func() error {
		return errors.New("never called")
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCircuitBreaker_Opens(t *testing.T) {
	cb := NewCircuitBreaker("test", time.Minute)
	for range 5 {
		_, _ = cb.Execute(func() (any, error) { return nil, errors.New("fail") })
	}
	assert.Equal(t, gobreaker.StateOpen, cb.State())

	_, err := cb.Execute(func() (any, error) { return nil, nil })
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
}
