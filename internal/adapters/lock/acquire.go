// Package lock implements ports.Locker on Redis and in process memory.
package lock

import (
	"context"
	"time"

	"github.com/kevin07696/payout-service/internal/domain"
	"github.com/kevin07696/payout-service/pkg/observability"
	"github.com/kevin07696/payout-service/pkg/resilience"
)

// RetryPolicy bounds lock acquisition attempts
type RetryPolicy struct {
	Backoff    resilience.BackoffStrategy
	MaxRetries int
}

// DefaultRetryPolicy retries 20 times from 50ms up to 1s with 20% jitter
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Backoff:    resilience.LockRetryBackoff(50*time.Millisecond, time.Second, 0.2),
		MaxRetries: 20,
	}
}

// tryFunc makes one acquisition attempt
type tryFunc func(ctx context.Context) (bool, error)

// acquire calls try until it succeeds, the retry budget is spent, timeout
// elapses or ctx is cancelled.
func acquire(ctx context.Context, key string, timeout time.Duration, policy RetryPolicy, try tryFunc) error {
	start := time.Now()
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for attempt := 0; ; attempt++ {
		ok, err := try(actx)
		if err != nil {
			if actx.Err() != nil {
				return timedOut(key, start, actx.Err())
			}
			observability.RecordLockWait("unavailable", time.Since(start).Seconds())
			return domain.WrapError(domain.ErrorCodeLockUnavailable, "lock backend error", err).WithDetail("key", key)
		}
		if ok {
			observability.RecordLockWait("acquired", time.Since(start).Seconds())
			return nil
		}
		if attempt >= policy.MaxRetries {
			return timedOut(key, start, nil).WithDetail("attempts", attempt+1)
		}
		if err := resilience.Sleep(actx, policy.Backoff.NextDelay(attempt)); err != nil {
			return timedOut(key, start, err)
		}
	}
}

func timedOut(key string, start time.Time, cause error) *domain.DomainError {
	waited := time.Since(start)
	observability.RecordLockWait("timeout", waited.Seconds())
	return domain.WrapError(domain.ErrorCodeLockTimeout, "timed out acquiring lock", cause).
		WithDetail("key", key).
		WithDetail("waited", waited.String())
}
