package lock

import (
	"context"
	"sync"
	"time"
)

// MemoryLocker serializes callers inside one process. It backs development
// runs without Redis and the service tests.
type MemoryLocker struct {
	mu    sync.Mutex
	held  map[string]bool
	retry RetryPolicy
}

// NewMemoryLocker creates an in-process locker
func NewMemoryLocker(retry RetryPolicy) *MemoryLocker {
	return &MemoryLocker{
		held:  make(map[string]bool),
		retry: retry,
	}
}

// WithLock acquires key, runs fn and releases the key on every exit path
func (l *MemoryLocker) WithLock(ctx context.Context, key string, timeout time.Duration, fn func(ctx context.Context) error) error {
	err := acquire(ctx, key, timeout, l.retry, func(context.Context) (bool, error) {
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.held[key] {
			return false, nil
		}
		l.held[key] = true
		return true, nil
	})
	if err != nil {
		return err
	}

	defer func() {
		l.mu.Lock()
		delete(l.held, key)
		l.mu.Unlock()
	}()

	return fn(ctx)
}

// Held reports whether key is currently locked
func (l *MemoryLocker) Held(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held[key]
}
