package middleware

import (
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/kevin07696/payout-service/internal/domain/ports"
)

// clientLimiter tracks a rate limiter and its last access time
type clientLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// RateLimiter applies a token bucket per client address with periodic cleanup
type RateLimiter struct {
	limiters        map[string]*clientLimiter
	logger          ports.Logger
	stopCh          chan struct{}
	now             func() time.Time
	mu              sync.Mutex
	rate            rate.Limit
	burst           int
	maxSize         int
	cleanupInterval time.Duration
	stopOnce        sync.Once
}

// NewRateLimiter creates a rate limiter allowing requestsPerSecond per client
// with the given burst. Cleanup runs until Shutdown is called.
func NewRateLimiter(requestsPerSecond float64, burst int, logger ports.Logger) *RateLimiter {
	rl := &RateLimiter{
		limiters:        make(map[string]*clientLimiter),
		logger:          logger,
		rate:            rate.Limit(requestsPerSecond),
		burst:           burst,
		maxSize:         10000,
		cleanupInterval: 5 * time.Minute,
		stopCh:          make(chan struct{}),
		now:             time.Now,
	}

	go rl.cleanupLoop()

	return rl
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stopCh:
			return
		case <-ticker.C:
			rl.cleanup()
		}
	}
}

// cleanup removes clients idle for longer than the cleanup interval
func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-rl.cleanupInterval)
	removed := 0
	for key, l := range rl.limiters {
		if l.lastAccess.Before(cutoff) {
			delete(rl.limiters, key)
			removed++
		}
	}

	if removed > 0 {
		rl.logger.Debug("rate limiter cleanup", ports.Int("removed", removed), ports.Int("remaining", len(rl.limiters)))
	}
}

// Shutdown stops the cleanup goroutine
func (rl *RateLimiter) Shutdown() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

func (rl *RateLimiter) limiterFor(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if l, ok := rl.limiters[key]; ok {
		l.lastAccess = now
		return l.limiter
	}

	if len(rl.limiters) >= rl.maxSize {
		rl.evictOldest()
	}

	l := &clientLimiter{
		limiter:    rate.NewLimiter(rl.rate, rl.burst),
		lastAccess: now,
	}
	rl.limiters[key] = l
	return l.limiter
}

func (rl *RateLimiter) evictOldest() {
	var (
		oldestKey  string
		oldestTime time.Time
	)
	for key, l := range rl.limiters {
		if oldestKey == "" || l.lastAccess.Before(oldestTime) {
			oldestKey = key
			oldestTime = l.lastAccess
		}
	}
	delete(rl.limiters, oldestKey)
}

// Middleware rejects requests over the limit with 429
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := clientKey(r)
		if !rl.limiterFor(key).Allow() {
			rl.logger.Warn("rate limit exceeded",
				ports.String("client", key),
				ports.String("path", r.URL.Path))
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "rate limit exceeded"})
			return
		}

		next.ServeHTTP(w, r)
	})
}

// clientKey strips the port so one client maps to one bucket. chi's RealIP
// middleware has already rewritten RemoteAddr when running behind a proxy.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
