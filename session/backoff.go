// ABOUTME: Retry policy and exponential backoff delay calculation for upstream connect attempts.
// ABOUTME: Bounded attempts with configurable initial delay, growth factor, cap, and jitter.
package session

import (
	"math"
	"math/rand/v2"
	"time"
)

// BackoffConfig controls delay timing between connect attempts.
type BackoffConfig struct {
	InitialDelay time.Duration // default 200ms
	Factor       float64       // default 2.0
	MaxDelay     time.Duration // default 30s
	Jitter       bool          // default true
}

// RetryPolicy bounds how many connect attempts a single cycle makes before
// the session is marked Failed.
type RetryPolicy struct {
	// MaxAttempts is the total attempt count, minimum 1 (1 = no retries).
	MaxAttempts int
	Backoff     BackoffConfig
}

// DefaultRetryPolicy returns the policy used when config leaves retries unset:
// 5 attempts, 200ms base delay doubling up to 30s, jitter enabled.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		Backoff: BackoffConfig{
			InitialDelay: 200 * time.Millisecond,
			Factor:       2.0,
			MaxDelay:     30 * time.Second,
			Jitter:       true,
		},
	}
}

// DelayForAttempt calculates the delay for a given attempt number (0-indexed).
// The formula is InitialDelay * Factor^attempt, capped at MaxDelay. With
// Jitter enabled the delay is randomized in [0, calculated_delay].
func (b BackoffConfig) DelayForAttempt(attempt int) time.Duration {
	baseNanos := float64(b.InitialDelay.Nanoseconds()) * math.Pow(b.Factor, float64(attempt))
	maxNanos := float64(b.MaxDelay.Nanoseconds())
	delayNanos := math.Min(baseNanos, maxNanos)

	if b.Jitter {
		delayNanos = rand.Float64() * delayNanos
	}

	return time.Duration(int64(delayNanos))
}
