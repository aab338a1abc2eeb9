package lock

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/kevin07696/payout-service/internal/domain/ports"
)

// releaseScript deletes the key only while it still holds our token, so an
// expired holder never removes a lock another process has since taken.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// extendScript pushes the expiry out only while the key still holds our token
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

const keyPrefix = "payout:lock:"

// RedisLocker is a single-instance Redis lock (SET NX PX + token release)
type RedisLocker struct {
	client   redis.Cmdable
	logger   ports.Logger
	newToken func() string
	retry    RetryPolicy
	ttl      time.Duration
	refresh  time.Duration
}

// RedisOption customizes a RedisLocker
type RedisOption func(*RedisLocker)

// WithTokenGenerator overrides the random token source
func WithTokenGenerator(fn func() string) RedisOption {
	return func(l *RedisLocker) { l.newToken = fn }
}

// WithRetryPolicy overrides the acquisition retry policy
func WithRetryPolicy(p RetryPolicy) RedisOption {
	return func(l *RedisLocker) { l.retry = p }
}

// WithRefreshInterval sets how often a held lock's TTL is extended.
// Defaults to a third of the TTL.
func WithRefreshInterval(d time.Duration) RedisOption {
	return func(l *RedisLocker) { l.refresh = d }
}

// NewRedisLocker creates a locker whose keys expire after ttl if the holder dies
func NewRedisLocker(client redis.Cmdable, ttl time.Duration, logger ports.Logger, opts ...RedisOption) *RedisLocker {
	l := &RedisLocker{
		client:   client,
		logger:   logger,
		newToken: uuid.NewString,
		retry:    DefaultRetryPolicy(),
		ttl:      ttl,
		refresh:  ttl / 3,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// WithLock acquires key, runs fn and releases the key on every exit path.
// The TTL is extended while fn runs. If an extension finds the key taken
// over, fn's context is cancelled; callers that write under the lock still
// re-check their rows inside a transaction.
func (l *RedisLocker) WithLock(ctx context.Context, key string, timeout time.Duration, fn func(ctx context.Context) error) error {
	redisKey := keyPrefix + key
	token := l.newToken()

	err := acquire(ctx, key, timeout, l.retry, func(ctx context.Context) (bool, error) {
		return l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
	})
	if err != nil {
		l.logger.Warn("Lock acquisition failed",
			ports.String("key", key),
			ports.Err(err),
		)
		return err
	}

	defer l.release(redisKey, token)

	fnCtx, cancel := context.WithCancel(ctx)
	stop := l.keepAlive(fnCtx, cancel, redisKey, token)
	defer func() {
		stop()
		cancel()
	}()

	return fn(fnCtx)
}

// keepAlive extends the key every refresh interval until the returned stop
// func is called. stop waits for the goroutine to exit.
func (l *RedisLocker) keepAlive(ctx context.Context, lost context.CancelFunc, redisKey, token string) func() {
	if l.refresh <= 0 {
		return func() {}
	}

	done := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		ticker := time.NewTicker(l.refresh)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			extended, err := extendScript.Run(ctx, l.client, []string{redisKey}, token, l.ttl.Milliseconds()).Int()
			if err != nil {
				// Transient; the key is still valid until the TTL runs out.
				l.logger.Warn("Lock refresh failed",
					ports.String("key", redisKey),
					ports.Err(err),
				)
				continue
			}
			if extended == 0 {
				l.logger.Warn("Lock lost while held",
					ports.String("key", redisKey),
					ports.Duration("ttl", l.ttl),
				)
				lost()
				return
			}
		}
	}()

	return func() {
		close(done)
		<-exited
	}
}

func (l *RedisLocker) release(redisKey, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	deleted, err := releaseScript.Run(ctx, l.client, []string{redisKey}, token).Int()
	if err != nil {
		l.logger.Error("Lock release failed",
			ports.String("key", redisKey),
			ports.Err(err),
		)
		return
	}
	if deleted == 0 {
		l.logger.Warn("Lock expired before release",
			ports.String("key", redisKey),
			ports.Duration("ttl", l.ttl),
		)
	}
}
