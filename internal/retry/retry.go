// Package retry provides a bounded exponential-backoff policy applied
// uniformly around provider and storage calls.
package retry

import (
	"context"
	"math/rand/v2"
	"time"
)

// Policy describes how many attempts to make and how long to wait between
// them. The zero value performs a single attempt with no backoff.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultPolicy matches the provider defaults used at startup: 3 retries
// on top of the initial attempt, starting at one second.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 4, BaseDelay: time.Second, MaxDelay: 30 * time.Second}
}

// Backoff returns the delay before the given attempt (1-based), doubling
// each attempt with random jitter up to 25% either way.
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt <= 0 || p.BaseDelay <= 0 {
		return 0
	}
	// Cap the shift to avoid overflow.
	if attempt > 30 {
		attempt = 30
	}
	backoff := p.BaseDelay * time.Duration(1<<uint(attempt-1))
	max := p.MaxDelay
	if max <= 0 {
		max = 30 * time.Second
	}
	if backoff > max {
		backoff = max
	}
	jitter := time.Duration(rand.Int64N(int64(backoff)/2)) - backoff/4
	return backoff + jitter
}

// Do runs fn until it succeeds, the policy is exhausted, or the context is
// done. The last error is returned when all attempts fail.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(p.Backoff(attempt)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if err := fn(ctx); err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return err
			}
			continue
		}
		return nil
	}
	return lastErr
}
