package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoff(t *testing.T) {
	cfg := Config{
		InitialWait: 100 * time.Millisecond,
		MaxWait:     time.Second,
		Multiplier:  2,
	}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{attempt: 0, want: 0},
		{attempt: 1, want: 100 * time.Millisecond},
		{attempt: 2, want: 200 * time.Millisecond},
		{attempt: 3, want: 400 * time.Millisecond},
		{attempt: 4, want: 800 * time.Millisecond},
		{attempt: 5, want: time.Second},
		{attempt: 50, want: time.Second},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Backoff(cfg, tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestBackoff_ZeroInitialWait(t *testing.T) {
	assert.Zero(t, Backoff(Config{Multiplier: 2, MaxWait: time.Second}, 3))
}

func TestBackoff_JitterBounds(t *testing.T) {
	cfg := Config{InitialWait: time.Second, Multiplier: 1, Jitter: 0.1}
	for i := 0; i < 100; i++ {
		wait := Backoff(cfg, 1)
		assert.GreaterOrEqual(t, wait, 900*time.Millisecond)
		assert.LessOrEqual(t, wait, 1100*time.Millisecond)
	}
}

func TestDo_RetriesRetryableErrors(t *testing.T) {
	cfg := Config{MaxAttempts: 3, InitialWait: time.Millisecond, Multiplier: 1}
	calls := 0

	err := Do(context.Background(), cfg, func() error {
		calls++
		if calls < 3 {
			return Retryable(errors.New("connection refused"))
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_StopsOnPermanentError(t *testing.T) {
	permanent := errors.New("permission denied")
	calls := 0

	err := Do(context.Background(), DefaultConfig(), func() error {
		calls++
		return permanent
	})

	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
}

func TestDoWithResult_ReturnsLastError(t *testing.T) {
	cfg := Config{MaxAttempts: 2, InitialWait: time.Millisecond, Multiplier: 1}
	cause := errors.New("daemon down")

	_, err := DoWithResult(context.Background(), cfg, func() (int, error) {
		return 0, Retryable(cause)
	})

	assert.ErrorIs(t, err, cause)
	assert.True(t, IsRetryable(err))
}

func TestDo_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Do(ctx, Config{MaxAttempts: 0, InitialWait: time.Hour}, func() error {
		return Retryable(errors.New("unreachable"))
	})

	assert.ErrorIs(t, err, context.Canceled)
}
