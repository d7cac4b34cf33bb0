package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jordanlewiz/atlas-xray/internal/atlas"
)

var errTransient = errors.New("transient")

func retryAll(error) bool { return true }

func TestDo_SuccessFirstAttempt(t *testing.T) {
	l := New(Config{})
	calls := 0

	err := l.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_RetriesRateLimited(t *testing.T) {
	l := New(Config{
		BaseDelay:  time.Millisecond,
		MaxRetries: 3,
		Retryable:  retryAll,
	})
	calls := 0

	err := l.Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errTransient
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_ExhaustsRetries(t *testing.T) {
	l := New(Config{
		BaseDelay:  time.Millisecond,
		MaxRetries: 2,
		Retryable:  retryAll,
	})
	calls := 0

	err := l.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return errTransient
	})

	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, 3, calls, "1 + MaxRetries attempts")
}

func TestDo_NonRetryableFailsImmediately(t *testing.T) {
	l := New(Config{
		BaseDelay:  time.Millisecond,
		MaxRetries: 5,
	})
	calls := 0

	err := l.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return errTransient // not a rate-limit error under the default Retryable
	})

	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, 1, calls)
}

func TestDo_DefaultRetryableDetectsRateLimit(t *testing.T) {
	l := New(Config{
		BaseDelay:  time.Millisecond,
		MaxRetries: 1,
	})
	calls := 0

	err := l.Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls == 1 {
			return &atlas.RateLimitError{StatusCode: 429, Message: "slow down"}
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestDo_RetryCountIsPerCall(t *testing.T) {
	l := New(Config{
		BaseDelay:  time.Millisecond,
		MaxRetries: 1,
		Retryable:  retryAll,
	})

	for i := 0; i < 2; i++ {
		calls := 0
		err := l.Do(context.Background(), func(ctx context.Context) error {
			calls++
			return errTransient
		})
		assert.ErrorIs(t, err, errTransient)
		assert.Equal(t, 2, calls, "call %d starts with a fresh retry budget", i)
	}
}

func TestDo_ContextCancelledDuringBackoff(t *testing.T) {
	l := New(Config{
		BaseDelay:  time.Hour,
		MaxRetries: 1,
		Retryable:  retryAll,
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := l.Do(ctx, func(ctx context.Context) error {
		return errTransient
	})

	assert.ErrorIs(t, err, context.Canceled)
}

func TestPacing_EnforcesMinInterval(t *testing.T) {
	l := New(Config{RequestsPerSecond: 100}) // 10ms interval

	start := time.Now()
	for i := 0; i < 4; i++ {
		err := l.Do(context.Background(), func(ctx context.Context) error { return nil })
		require.NoError(t, err)
	}
	elapsed := time.Since(start)

	// 4 calls at 10ms spacing: the last three must wait.
	assert.GreaterOrEqual(t, elapsed, 30*time.Millisecond)
}

func TestPacing_DisabledWithoutRate(t *testing.T) {
	l := New(Config{})

	start := time.Now()
	for i := 0; i < 100; i++ {
		require.NoError(t, l.Do(context.Background(), func(ctx context.Context) error { return nil }))
	}
	assert.Less(t, time.Since(start), time.Second)
}

func TestBackoff_DoublesAndCaps(t *testing.T) {
	l := New(Config{
		BaseDelay: 100 * time.Millisecond,
		MaxDelay:  400 * time.Millisecond,
	})

	assert.Equal(t, 100*time.Millisecond, l.backoff(0))
	assert.Equal(t, 200*time.Millisecond, l.backoff(1))
	assert.Equal(t, 400*time.Millisecond, l.backoff(2))
	assert.Equal(t, 400*time.Millisecond, l.backoff(3), "capped at MaxDelay")
	assert.Equal(t, 400*time.Millisecond, l.backoff(62), "shift overflow falls back to MaxDelay")
}

func TestBackoff_JitterStaysInBounds(t *testing.T) {
	l := New(Config{
		BaseDelay: 100 * time.Millisecond,
		MaxDelay:  time.Second,
		Jitter:    0.2,
	})

	for i := 0; i < 50; i++ {
		d := l.backoff(1) // nominal 200ms
		assert.GreaterOrEqual(t, d, 160*time.Millisecond)
		assert.LessOrEqual(t, d, 240*time.Millisecond)
	}
}

func TestDoValue(t *testing.T) {
	l := New(Config{
		BaseDelay:  time.Millisecond,
		MaxRetries: 1,
		Retryable:  retryAll,
	})
	calls := 0

	v, err := DoValue(context.Background(), l, func(ctx context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", errTransient
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", v)
}

func TestDoValue_Error(t *testing.T) {
	l := New(Config{BaseDelay: time.Millisecond})

	v, err := DoValue(context.Background(), l, func(ctx context.Context) (int, error) {
		return 0, errTransient
	})

	assert.ErrorIs(t, err, errTransient)
	assert.Zero(t, v)
}

func TestNew_Defaults(t *testing.T) {
	l := New(Config{})

	assert.Equal(t, time.Second, l.baseDelay)
	assert.Equal(t, 30*time.Second, l.maxDelay)
	assert.Equal(t, 0, l.maxRetries)
	assert.NotNil(t, l.retryable)
	assert.Zero(t, l.minInterval)
}
