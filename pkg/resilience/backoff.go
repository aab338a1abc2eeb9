package resilience

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// BackoffStrategy defines retry backoff behavior
type BackoffStrategy interface {
	NextDelay(attempt int) time.Duration
}

// ExponentialBackoff implements exponential backoff with jitter
// This prevents thundering herd by spreading retry attempts over time
type ExponentialBackoff struct {
	BaseDelay  time.Duration // Initial delay (e.g., 100ms)
	MaxDelay   time.Duration // Maximum delay (e.g., 30s)
	Multiplier float64       // Exponential multiplier (typically 2.0)
	Jitter     float64       // Jitter factor (0.0-1.0, typically 0.1 for ±10%)
}

// LockRetryBackoff spaces out lock acquisition attempts.
// Contenders for the same company lock are spread by jitter so they do not
// wake up together.
//
// Retry sequence with base=50ms, max=1s, jitter=0.25:
//   - Attempt 0: ~50ms
//   - Attempt 1: ~100ms
//   - Attempt 2: ~200ms
//   - Attempt 3: ~400ms
//   - Attempt 4: ~800ms
//   - Attempt 5+: ~1s (capped)
func LockRetryBackoff(base, max time.Duration, jitter float64) *ExponentialBackoff {
	return &ExponentialBackoff{
		BaseDelay:  base,
		MaxDelay:   max,
		Multiplier: 2.0,
		Jitter:     jitter,
	}
}

// NotificationBackoff returns backoff configuration for outbox redelivery
//
// Retry sequence (±10% jitter):
//   - Attempt 0: ~30s
//   - Attempt 1: ~1m
//   - Attempt 2: ~2m
//   - Attempt 3: ~4m
//   - Attempt 4: ~8m
//   - Attempt 7+: ~1h (capped)
func NotificationBackoff() *ExponentialBackoff {
	return &ExponentialBackoff{
		BaseDelay:  30 * time.Second,
		MaxDelay:   time.Hour,
		Multiplier: 2.0,
		Jitter:     0.1,
	}
}

// NextDelay calculates the delay for the given attempt number (0-indexed)
//
// The delay is calculated as: BaseDelay * (Multiplier ^ attempt) ± jitter
// The result is capped at MaxDelay to prevent excessive delays
func (eb *ExponentialBackoff) NextDelay(attempt int) time.Duration {
	if attempt < 0 {
		return eb.BaseDelay
	}

	delay := float64(eb.BaseDelay) * math.Pow(eb.Multiplier, float64(attempt))
	if delay > float64(eb.MaxDelay) {
		delay = float64(eb.MaxDelay)
	}

	// delay ± (delay * jitter)
	jitterAmount := delay * eb.Jitter
	jitter := (rand.Float64()*2 - 1) * jitterAmount

	finalDelay := time.Duration(delay + jitter)
	if finalDelay < 0 {
		finalDelay = eb.BaseDelay
	}

	return finalDelay
}

// Sleep waits for d or until ctx is done, whichever comes first.
// It never busy-loops; callers get ctx.Err() when the wait was cut short.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
