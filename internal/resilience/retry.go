package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"
)

// RetryConfig tunes the bounded exponential backoff used by [Retry].
type RetryConfig struct {
	// MaxAttempts is the total number of tries, including the first.
	// Default: 3.
	MaxAttempts int

	// InitialDelay is the wait before the second attempt. Default: 50ms.
	InitialDelay time.Duration

	// MaxDelay caps the base delay between attempts; up to 20% jitter is
	// added on top of the capped value. Default: 500ms.
	MaxDelay time.Duration

	// BackoffFactor multiplies the delay after each failed attempt.
	// Default: 2.0.
	BackoffFactor float64
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = 50 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 500 * time.Millisecond
	}
	if c.BackoffFactor <= 0 {
		c.BackoffFactor = 2.0
	}
	return c
}

// Retry runs fn up to cfg.MaxAttempts times, waiting an exponentially
// increasing, jittered delay between attempts. It stops early if ctx is
// cancelled, including while waiting out a backoff delay.
func Retry[R any](ctx context.Context, name string, cfg RetryConfig, fn func() (R, error)) (R, error) {
	cfg = cfg.withDefaults()
	var (
		lastErr error
		zero    R
	)
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, fmt.Errorf("resilience: %s: %w", name, err)
		}

		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if attempt == cfg.MaxAttempts {
			break
		}

		delay := backoffDelay(cfg, attempt)
		slog.Warn("retrying after failure", "name", name, "attempt", attempt, "delay", delay, "error", err)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return zero, fmt.Errorf("resilience: %s: %w", name, ctx.Err())
		}
	}
	return zero, fmt.Errorf("resilience: %s: attempts exhausted: %w", name, lastErr)
}

func backoffDelay(cfg RetryConfig, attempt int) time.Duration {
	delay := float64(cfg.InitialDelay) * math.Pow(cfg.BackoffFactor, float64(attempt-1))
	if delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	jitter := delay * 0.2 * rand.Float64()
	return time.Duration(delay + jitter)
}
