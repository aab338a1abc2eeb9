package resilience

import (
	"context"
	"testing"
	"time"
)

func TestExponentialBackoff_NextDelay(t *testing.T) {
	backoff := &ExponentialBackoff{
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   10 * time.Second,
		Multiplier: 2.0,
		Jitter:     0.0, // No jitter for predictable testing
	}

	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{3, 800 * time.Millisecond},
		{6, 6400 * time.Millisecond},
		{7, 10 * time.Second}, // 12.8s capped at 10s
		{10, 10 * time.Second},
	}

	for _, tt := range tests {
		delay := backoff.NextDelay(tt.attempt)
		if delay != tt.expected {
			t.Errorf("NextDelay(%d) = %v, want %v", tt.attempt, delay, tt.expected)
		}
	}
}

func TestLockRetryBackoff_Jitter(t *testing.T) {
	backoff := LockRetryBackoff(50*time.Millisecond, time.Second, 0.25)

	// Attempt 2: 200ms ± 25%
	minExpected := 150 * time.Millisecond
	maxExpected := 250 * time.Millisecond

	seen := make(map[time.Duration]bool)
	for i := 0; i < 100; i++ {
		delay := backoff.NextDelay(2)
		if delay < minExpected || delay > maxExpected {
			t.Fatalf("delay %v outside [%v, %v]", delay, minExpected, maxExpected)
		}
		seen[delay] = true
	}

	if len(seen) < 2 {
		t.Error("All delays are identical - jitter is not working")
	}
}

func TestExponentialBackoff_NegativeAttempt(t *testing.T) {
	backoff := NotificationBackoff()

	if delay := backoff.NextDelay(-1); delay != backoff.BaseDelay {
		t.Errorf("NextDelay(-1) = %v, want %v", delay, backoff.BaseDelay)
	}
}

func TestNotificationBackoff(t *testing.T) {
	backoff := NotificationBackoff()
	backoff.Jitter = 0.0

	expected := []time.Duration{
		30 * time.Second,
		time.Minute,
		2 * time.Minute,
		4 * time.Minute,
	}
	for attempt, want := range expected {
		if got := backoff.NextDelay(attempt); got != want {
			t.Errorf("NextDelay(%d) = %v, want %v", attempt, got, want)
		}
	}

	if got := backoff.NextDelay(20); got != time.Hour {
		t.Errorf("NextDelay(20) = %v, want capped at 1h", got)
	}
}

func TestSleep(t *testing.T) {
	if err := Sleep(context.Background(), time.Millisecond); err != nil {
		t.Fatalf("Sleep returned %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	if err := Sleep(ctx, time.Minute); err != context.Canceled {
		t.Fatalf("Sleep on cancelled context returned %v", err)
	}
	if time.Since(start) > time.Second {
		t.Error("Sleep did not return promptly on cancellation")
	}
}

// Compile-time check
var _ BackoffStrategy = (*ExponentialBackoff)(nil)
