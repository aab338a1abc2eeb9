package secrets

import (
	"context"
	"sync"
	"time"

	"github.com/kevin07696/payout-service/internal/domain/ports"
)

type cacheEntry struct {
	expiresAt time.Time
	value     string
}

// CachedStore keeps resolved secrets in memory for ttl.
// A zero ttl disables caching.
type CachedStore struct {
	next    ports.CredentialStore
	now     func() time.Time
	entries map[string]cacheEntry
	mu      sync.RWMutex
	ttl     time.Duration
}

// NewCachedStore wraps next with a TTL cache
func NewCachedStore(next ports.CredentialStore, ttl time.Duration) *CachedStore {
	return &CachedStore{
		next:    next,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]cacheEntry),
	}
}

// GetSecret returns the cached value or resolves it from the wrapped store.
// Failures are never cached.
func (c *CachedStore) GetSecret(ctx context.Context, path string) (string, error) {
	if c.ttl > 0 {
		c.mu.RLock()
		entry, ok := c.entries[path]
		c.mu.RUnlock()
		if ok && c.now().Before(entry.expiresAt) {
			return entry.value, nil
		}
	}

	value, err := c.next.GetSecret(ctx, path)
	if err != nil {
		return "", err
	}

	if c.ttl > 0 {
		c.mu.Lock()
		c.entries[path] = cacheEntry{value: value, expiresAt: c.now().Add(c.ttl)}
		c.mu.Unlock()
	}
	return value, nil
}

// Invalidate drops a cached path so the next read goes to the backend
func (c *CachedStore) Invalidate(path string) {
	c.mu.Lock()
	delete(c.entries, path)
	c.mu.Unlock()
}
