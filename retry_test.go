package mailout

import (
	"math"
	"testing"
	"time"
)

func TestRetryPolicyBackoffDoubles(t *testing.T) {
	policy := RetryPolicy{
		BaseDelay:   time.Minute,
		MaxDelay:    time.Hour,
		MaxAttempts: 10,
	}
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	expected := []time.Duration{
		time.Minute,
		2 * time.Minute,
		4 * time.Minute,
		8 * time.Minute,
		16 * time.Minute,
	}
	for i, want := range expected {
		attempt := i + 1
		next, ok := policy.NextAttempt(attempt, now)
		if !ok {
			t.Fatalf("attempt %d: expected retry to be scheduled", attempt)
		}
		if got := next.Sub(now); got != want {
			t.Fatalf("attempt %d: expected delay %s, got %s", attempt, want, got)
		}
	}
}

func TestRetryPolicyMaxDelayCap(t *testing.T) {
	policy := RetryPolicy{
		BaseDelay:   time.Minute,
		MaxDelay:    5 * time.Minute,
		MaxAttempts: 64,
	}
	now := time.Unix(0, 0).UTC()

	next, ok := policy.NextAttempt(10, now)
	if !ok {
		t.Fatalf("expected retry to be scheduled")
	}
	if got := next.Sub(now); got != 5*time.Minute {
		t.Fatalf("expected capped delay, got %s", got)
	}

	// Large attempt counts must not overflow past the cap.
	next, ok = policy.NextAttempt(62, now)
	if !ok {
		t.Fatalf("expected retry to be scheduled")
	}
	if got := next.Sub(now); got != 5*time.Minute {
		t.Fatalf("expected capped delay for large attempt, got %s", got)
	}
}

func TestRetryPolicyHugeMaxDelayDoesNotOverflow(t *testing.T) {
	policy := RetryPolicy{
		BaseDelay:   time.Hour,
		MaxDelay:    math.MaxInt64,
		MaxAttempts: 128,
	}
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	next, ok := policy.NextAttempt(100, now)
	if !ok {
		t.Fatalf("expected retry to be scheduled")
	}
	if !next.After(now) {
		t.Fatalf("expected a schedule in the future, got %s", next)
	}
	if got := next.Sub(now); got != time.Duration(math.MaxInt64) {
		t.Fatalf("expected delay capped at MaxDelay, got %s", got)
	}
}

func TestRetryPolicyExhaustsBudget(t *testing.T) {
	policy := RetryPolicy{BaseDelay: time.Second, MaxDelay: time.Minute, MaxAttempts: 3}
	now := time.Unix(0, 0).UTC()

	if _, ok := policy.NextAttempt(2, now); !ok {
		t.Fatalf("attempt 2 of 3 should schedule a retry")
	}
	if _, ok := policy.NextAttempt(3, now); ok {
		t.Fatalf("attempt 3 of 3 should be terminal")
	}
	if _, ok := policy.NextAttempt(4, now); ok {
		t.Fatalf("attempts past the budget should be terminal")
	}
}

func TestRetryPolicyJitterBounded(t *testing.T) {
	policy := RetryPolicy{
		BaseDelay:   time.Minute,
		MaxDelay:    time.Hour,
		MaxAttempts: 5,
		Jitter:      10 * time.Second,
		Rand:        func() float64 { return 0.5 },
	}
	now := time.Unix(0, 0).UTC()

	next, ok := policy.NextAttempt(1, now)
	if !ok {
		t.Fatalf("expected retry to be scheduled")
	}
	if got := next.Sub(now); got != time.Minute+5*time.Second {
		t.Fatalf("expected deterministic jitter, got %s", got)
	}

	// Nil Rand disables jitter regardless of the configured bound.
	policy.Rand = nil
	next, _ = policy.NextAttempt(1, now)
	if got := next.Sub(now); got != time.Minute {
		t.Fatalf("expected no jitter without a rand source, got %s", got)
	}
}

func TestRetryPolicyDefaults(t *testing.T) {
	policy := RetryPolicy{}.withDefaults()
	if policy.BaseDelay != defaultBaseDelay {
		t.Fatalf("unexpected base delay: %s", policy.BaseDelay)
	}
	if policy.MaxDelay != defaultMaxDelay {
		t.Fatalf("unexpected max delay: %s", policy.MaxDelay)
	}
	if policy.MaxAttempts != defaultMaxAttempts {
		t.Fatalf("unexpected max attempts: %d", policy.MaxAttempts)
	}
}
