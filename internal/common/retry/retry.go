// Package retry runs an operation again with exponential backoff until it
// succeeds, the attempts run out or the context ends.
package retry

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

// Config controls the backoff
type Config struct {
	// Attempts counts the first call
	Attempts     int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	// Jitter adds up to this fraction of the delay at random
	Jitter float64
	// Retryable filters errors; nil retries everything
	Retryable func(error) bool
}

// Startup is used while backing services come up alongside the bridge
func Startup() Config {
	return Config{
		Attempts:     5,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2,
		Jitter:       0.1,
	}
}

// Do calls fn until it returns nil. The last error is wrapped once attempts
// are exhausted; a non-retryable error is returned as is.
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context) error) error {
	if cfg.Attempts < 1 {
		cfg.Attempts = 1
	}
	delay := cfg.InitialDelay

	var lastErr error
	for attempt := 1; ; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if cfg.Retryable != nil && !cfg.Retryable(lastErr) {
			return lastErr
		}
		if attempt == cfg.Attempts {
			return fmt.Errorf("giving up after %d attempts: %w", attempt, lastErr)
		}

		wait := delay
		if cfg.Jitter > 0 && wait > 0 {
			wait += time.Duration(rand.Int63n(int64(float64(wait)*cfg.Jitter) + 1))
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry cancelled: %w", ctx.Err())
		case <-timer.C:
		}

		if cfg.Multiplier > 1 {
			delay = time.Duration(float64(delay) * cfg.Multiplier)
		}
		if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}
}
