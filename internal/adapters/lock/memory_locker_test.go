package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kevin07696/payout-service/internal/domain"
	"github.com/kevin07696/payout-service/pkg/resilience"
)

func TestMemoryLocker_MutualExclusion(t *testing.T) {
	l := NewMemoryLocker(RetryPolicy{
		Backoff:    resilience.LockRetryBackoff(time.Millisecond, 5*time.Millisecond, 0.2),
		MaxRetries: 10000,
	})

	var inside, maxInside, runs int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := l.WithLock(context.Background(), "batch:co_1", 10*time.Second, func(ctx context.Context) error {
				n := atomic.AddInt32(&inside, 1)
				for {
					m := atomic.LoadInt32(&maxInside)
					if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&runs, 1)
				atomic.AddInt32(&inside, -1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside)
	assert.Equal(t, int32(16), runs)
	assert.False(t, l.Held("batch:co_1"))
}

func TestMemoryLocker_DistinctKeysDoNotContend(t *testing.T) {
	l := NewMemoryLocker(RetryPolicy{Backoff: noDelay{}, MaxRetries: 0})

	err := l.WithLock(context.Background(), "batch:a", time.Second, func(ctx context.Context) error {
		return l.WithLock(ctx, "batch:b", time.Second, func(ctx context.Context) error { return nil })
	})
	require.NoError(t, err)
}

func TestMemoryLocker_TimeoutWhileHeld(t *testing.T) {
	l := NewMemoryLocker(RetryPolicy{
		Backoff:    resilience.LockRetryBackoff(5*time.Millisecond, 5*time.Millisecond, 0),
		MaxRetries: 1000,
	})

	err := l.WithLock(context.Background(), "batch:co_1", time.Second, func(ctx context.Context) error {
		inner := l.WithLock(ctx, "batch:co_1", 30*time.Millisecond, func(ctx context.Context) error {
			t.Fatal("must not run while the lock is held")
			return nil
		})
		assert.ErrorIs(t, inner, domain.ErrLockTimeout)
		return nil
	})
	require.NoError(t, err)
}

func TestMemoryLocker_ReleasesOnPanic(t *testing.T) {
	l := NewMemoryLocker(RetryPolicy{Backoff: noDelay{}, MaxRetries: 0})

	assert.Panics(t, func() {
		_ = l.WithLock(context.Background(), "batch:co_1", time.Second, func(ctx context.Context) error {
			panic("kaboom")
		})
	})
	assert.False(t, l.Held("batch:co_1"))
}
