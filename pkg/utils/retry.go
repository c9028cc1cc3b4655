package utils

import (
	"context"
	"fmt"
	"math"
	"time"
)

// Backoff configures exponential retry delays.
type Backoff struct {
	// MaxRetries is the number of attempts after the first one.
	MaxRetries int
	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration
	// MaxDelay caps the delay between retries.
	MaxDelay time.Duration
	// Multiplier grows the delay after each retry.
	Multiplier float64
}

// DefaultBackoff returns the backoff used for store commits.
func DefaultBackoff() Backoff {
	return Backoff{
		MaxRetries:   3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
	}
}

// Delay returns the wait before retry number attempt (1-based).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt <= 0 || b.InitialDelay <= 0 {
		return 0
	}
	mult := b.Multiplier
	if mult <= 0 {
		mult = 2.0
	}
	delay := float64(b.InitialDelay) * math.Pow(mult, float64(attempt-1))
	if b.MaxDelay > 0 && delay > float64(b.MaxDelay) {
		delay = float64(b.MaxDelay)
	}
	return time.Duration(delay)
}

// Retry calls fn until it succeeds, returns an error rejected by retryable, or
// the retries are exhausted. A nil retryable retries every error. The returned
// error wraps the last failure.
func Retry(ctx context.Context, b Backoff, retryable func(error) bool, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= b.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(b.Delay(attempt)):
			case <-ctx.Done():
				return fmt.Errorf("context cancelled during retry backoff: %w", ctx.Err())
			}
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if retryable != nil && !retryable(err) {
			return err
		}
	}
	return fmt.Errorf("failed after %d retries: %w", b.MaxRetries, lastErr)
}
