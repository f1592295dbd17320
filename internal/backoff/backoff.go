// Package backoff implements the jittered exponential delays used between
// retry attempts.
package backoff

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// maxDoublings caps the exponent so the shift below stays meaningful.
const maxDoublings = 32

// Exponential returns base doubled attempt times, saturating at the largest
// duration instead of overflowing. Negative attempts count as zero.
func Exponential(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	}
	if attempt > maxDoublings {
		attempt = maxDoublings
	}
	if base > time.Duration(math.MaxInt64)>>attempt {
		return time.Duration(math.MaxInt64)
	}
	return base << attempt
}

// FullJitter returns a random duration in [0, delay).
// Returns 0 for zero or negative delays.
func FullJitter(delay time.Duration) time.Duration {
	if delay <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(delay)))
}

// ExponentialWithJitter returns a random duration in [0, base * 2^attempt),
// the full-jitter strategy for spreading out competing retries.
func ExponentialWithJitter(base time.Duration, attempt int) time.Duration {
	return FullJitter(Exponential(base, attempt))
}

// Sleep waits for d or until ctx is done, whichever comes first. It returns
// nil when the full duration elapsed and ctx.Err() otherwise. Zero and
// negative durations return immediately.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
