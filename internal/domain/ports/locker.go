package ports

import (
	"context"
	"time"
)

// Locker provides mutual exclusion scoped to a key across processes.
//
// WithLock blocks until the lock is acquired, timeout elapses or the retry
// budget runs out, then runs fn while holding it. The lock is released on
// every exit path including a panic in fn. Acquisition failures are returned
// as domain.ErrLockTimeout or domain.ErrLockUnavailable and fn is not called.
type Locker interface {
	WithLock(ctx context.Context, key string, timeout time.Duration, fn func(ctx context.Context) error) error
}
