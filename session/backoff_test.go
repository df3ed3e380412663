// ABOUTME: Tests for backoff delay calculation: exponential growth, cap, and jitter bounds.
package session

import (
	"testing"
	"time"
)

func TestDelayForAttemptNoJitter(t *testing.T) {
	b := BackoffConfig{
		InitialDelay: 100 * time.Millisecond,
		Factor:       2.0,
		MaxDelay:     time.Second,
		Jitter:       false,
	}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{3, 800 * time.Millisecond},
		{4, time.Second}, // capped
		{10, time.Second},
	}

	for _, tt := range tests {
		if got := b.DelayForAttempt(tt.attempt); got != tt.want {
			t.Errorf("DelayForAttempt(%d) = %s, want %s", tt.attempt, got, tt.want)
		}
	}
}

func TestDelayForAttemptJitterBounds(t *testing.T) {
	b := BackoffConfig{
		InitialDelay: 100 * time.Millisecond,
		Factor:       2.0,
		MaxDelay:     time.Second,
		Jitter:       true,
	}

	for attempt := 0; attempt < 5; attempt++ {
		ceiling := BackoffConfig{
			InitialDelay: b.InitialDelay,
			Factor:       b.Factor,
			MaxDelay:     b.MaxDelay,
		}.DelayForAttempt(attempt)

		for i := 0; i < 20; i++ {
			got := b.DelayForAttempt(attempt)
			if got < 0 || got > ceiling {
				t.Fatalf("jittered delay %s out of range [0, %s] for attempt %d", got, ceiling, attempt)
			}
		}
	}
}

func TestDefaultRetryPolicy(t *testing.T) {
	p := DefaultRetryPolicy()
	if p.MaxAttempts != 5 {
		t.Errorf("expected 5 max attempts, got %d", p.MaxAttempts)
	}
	if !p.Backoff.Jitter {
		t.Error("expected jitter enabled by default")
	}
}
