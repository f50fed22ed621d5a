package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig() Config {
	return Config{
		MaxRetries:     3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     10 * time.Millisecond,
		Multiplier:     2.0,
	}
}

func TestBackoffSchedule(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, time.Second, cfg.Backoff(0))
	assert.Equal(t, 2*time.Second, cfg.Backoff(1))
	assert.Equal(t, 4*time.Second, cfg.Backoff(2))
	assert.Equal(t, 30*time.Second, cfg.Backoff(10))
	assert.Equal(t, time.Second, cfg.Backoff(-1))
}

func TestDoSucceedsAfterFailures(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), fastConfig(), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("connection reset")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDoReturnsLastError(t *testing.T) {
	attempts := 0
	last := errors.New("attempt 4")
	err := Do(context.Background(), fastConfig(), func() error {
		attempts++
		if attempts == 4 {
			return last
		}
		return errors.New("earlier")
	})

	assert.Equal(t, 4, attempts)
	assert.ErrorIs(t, err, last)
	assert.Contains(t, err.Error(), "max retries (3) exceeded")
}

func TestDoPermanentStopsImmediately(t *testing.T) {
	attempts := 0
	bad := errors.New("bad request")
	err := Do(context.Background(), fastConfig(), func() error {
		attempts++
		return Permanent(bad)
	})

	assert.Equal(t, 1, attempts)
	assert.Equal(t, bad, err)
}

func TestDoHonorsRetryAfter(t *testing.T) {
	var delays []time.Duration
	cfg := fastConfig()
	cfg.OnRetry = func(attempt int, delay time.Duration, err error) {
		delays = append(delays, delay)
	}

	attempts := 0
	err := Do(context.Background(), cfg, func() error {
		attempts++
		switch attempts {
		case 1:
			return &RetryAfterError{Delay: 5 * time.Millisecond, Err: errors.New("429")}
		case 2:
			return &RetryAfterError{Err: errors.New("429 no hint")}
		default:
			return nil
		}
	})

	require.NoError(t, err)
	assert.Equal(t, []time.Duration{5 * time.Millisecond, 2 * time.Millisecond}, delays)
}

func TestDoContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := fastConfig()
	cfg.InitialBackoff = time.Hour
	cfg.MaxBackoff = time.Hour

	done := make(chan error, 1)
	go func() {
		done <- Do(ctx, cfg, func() error { return errors.New("flaky") })
	}()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Do did not return after cancellation")
	}
}

func TestDoRetriesTimeoutsWhileContextLive(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), fastConfig(), func() error {
		attempts++
		if attempts == 1 {
			return fmt.Errorf("Client.Timeout exceeded: %w", context.DeadlineExceeded)
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
}

func TestDoStopsWhenCallerContextExpires(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	err := Do(ctx, fastConfig(), func() error {
		attempts++
		cancel()
		return fmt.Errorf("post: %w", context.Canceled)
	})

	assert.Equal(t, 1, attempts)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"network", errors.New("connection refused"), true},
		{"request timeout", fmt.Errorf("post: %w", context.DeadlineExceeded), true},
		{"permanent", Permanent(errors.New("x")), false},
		{"retry after", &RetryAfterError{Err: errors.New("429")}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}
