// Package retry provides an explicit, testable backoff policy for
// transient failures. The policy decides how often and how long to wait;
// the caller decides which errors are worth retrying.
package retry

import (
	"context"
	"math/rand"
	"time"
)

// Strategy selects how the delay grows between attempts.
type Strategy string

const (
	// Fixed waits BaseDelay between every attempt.
	Fixed Strategy = "fixed"
	// Exponential doubles the delay each attempt, capped at MaxDelay.
	Exponential Strategy = "exponential"
)

// Policy bounds retries of an operation. The zero value retries nothing;
// use Default for a sensible starting point.
type Policy struct {
	// MaxAttempts is the total number of tries, including the first.
	MaxAttempts int
	// Strategy selects fixed or exponential backoff.
	Strategy Strategy
	// BaseDelay is the initial wait between attempts.
	BaseDelay time.Duration
	// MaxDelay caps the wait between attempts. 0 means no cap.
	MaxDelay time.Duration
	// Jitter randomizes each wait by up to +/-50% to avoid thundering
	// herds of synchronized retriers.
	Jitter bool
}

// Default is three attempts with exponential backoff from 50ms.
func Default() Policy {
	return Policy{
		MaxAttempts: 3,
		Strategy:    Exponential,
		BaseDelay:   50 * time.Millisecond,
		MaxDelay:    2 * time.Second,
		Jitter:      true,
	}
}

// Delay returns the wait before the given 1-based attempt's successor.
func (p Policy) Delay(attempt int) time.Duration {
	d := p.BaseDelay
	if p.Strategy == Exponential {
		for i := 1; i < attempt; i++ {
			d *= 2
			if p.MaxDelay > 0 && d >= p.MaxDelay {
				d = p.MaxDelay
				break
			}
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	if p.Jitter && d > 0 {
		// +/-50%
		d = d/2 + time.Duration(rand.Int63n(int64(d)))
	}
	return d
}

// Do runs fn up to MaxAttempts times. retryable decides whether an error
// is transient; a non-retryable error stops immediately and is returned
// as-is, as is the last error once attempts are exhausted. Cancelling
// ctx aborts between attempts.
func (p Policy) Do(ctx context.Context, retryable func(error) bool, fn func() error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = ctx.Err(); err != nil {
			return err
		}
		if err = fn(); err == nil {
			return nil
		}
		if !retryable(err) || attempt == attempts {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.Delay(attempt)):
		}
	}
	return err
}
