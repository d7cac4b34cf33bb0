// Package ratelimit paces async operations and retries rate-limited calls
// with exponential backoff and optional jitter.
package ratelimit

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/jordanlewiz/atlas-xray/internal/atlas"
)

// Config controls pacing and backoff behavior.
type Config struct {
	// RequestsPerSecond derives the minimum inter-request interval.
	// Zero or negative disables pacing.
	RequestsPerSecond float64
	// BaseDelay is the first backoff wait; doubled each retry.
	BaseDelay time.Duration
	// MaxDelay caps the backoff wait.
	MaxDelay time.Duration
	// MaxRetries bounds retries of rate-limited calls. A call is attempted
	// at most 1+MaxRetries times.
	MaxRetries int
	// Jitter is the fraction (0..1) of random spread applied to each
	// backoff wait. Zero means deterministic waits.
	Jitter float64
	// Retryable decides whether an error is a rate-limit error worth
	// retrying. Defaults to atlas.IsRateLimited.
	Retryable func(error) bool
}

// Limiter wraps operations with token pacing and rate-limit backoff.
// A single limiter serializes pacing across all call sites that share it;
// use separate limiters for independent rate budgets.
type Limiter struct {
	minInterval time.Duration
	baseDelay   time.Duration
	maxDelay    time.Duration
	maxRetries  int
	jitter      float64
	retryable   func(error) bool

	mu   sync.Mutex
	next time.Time
}

// New creates a limiter from cfg, applying defaults for zero values.
func New(cfg Config) *Limiter {
	l := &Limiter{
		baseDelay:  cfg.BaseDelay,
		maxDelay:   cfg.MaxDelay,
		maxRetries: cfg.MaxRetries,
		jitter:     cfg.Jitter,
		retryable:  cfg.Retryable,
	}
	if cfg.RequestsPerSecond > 0 {
		l.minInterval = time.Duration(float64(time.Second) / cfg.RequestsPerSecond)
	}
	if l.baseDelay <= 0 {
		l.baseDelay = time.Second
	}
	if l.maxDelay <= 0 {
		l.maxDelay = 30 * time.Second
	}
	if l.maxRetries < 0 {
		l.maxRetries = 0
	}
	if l.retryable == nil {
		l.retryable = atlas.IsRateLimited
	}
	return l
}

// Do runs fn, pacing it to the configured request rate and retrying
// rate-limited failures with exponential backoff. After 1+MaxRetries
// attempts the last error is returned; the retry count is per call, so a
// later call starts fresh.
func (l *Limiter) Do(ctx context.Context, fn func(context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= l.maxRetries; attempt++ {
		if err := l.pace(ctx); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !l.retryable(err) || attempt == l.maxRetries {
			break
		}

		if err := l.wait(ctx, l.backoff(attempt)); err != nil {
			return err
		}
	}
	return lastErr
}

// DoValue is Do for operations that return a value.
func DoValue[T any](ctx context.Context, l *Limiter, fn func(context.Context) (T, error)) (T, error) {
	var out T
	err := l.Do(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// pace blocks until the minimum inter-request interval has elapsed since
// the previous paced call.
func (l *Limiter) pace(ctx context.Context) error {
	if l.minInterval <= 0 {
		return ctx.Err()
	}

	l.mu.Lock()
	now := time.Now()
	at := l.next
	if at.Before(now) {
		at = now
	}
	l.next = at.Add(l.minInterval)
	l.mu.Unlock()

	return l.wait(ctx, time.Until(at))
}

// backoff computes the wait before retry number attempt (0-based).
func (l *Limiter) backoff(attempt int) time.Duration {
	d := l.baseDelay << uint(attempt)
	if d > l.maxDelay || d <= 0 {
		d = l.maxDelay
	}
	if l.jitter > 0 {
		// Spread the wait by ±jitter.
		spread := (rand.Float64()*2 - 1) * l.jitter * float64(d)
		d += time.Duration(spread)
		if d < 0 {
			d = 0
		}
	}
	return d
}

func (l *Limiter) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("rate limit wait: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
