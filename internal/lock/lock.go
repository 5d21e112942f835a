// Package lock serializes work on a key across concurrent webhook deliveries.
package lock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"bingo_gateway/internal/logging"
)

const (
	keyPrefix      = "bingo:lock:"
	releaseTimeout = 2 * time.Second
)

// Locker acquires short-lived exclusive locks. ok is false when another holder
// owns the key; release is a no-op in that case.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}

// releaseScript deletes the key only while it still carries our token, so an
// expired lock taken over by another holder is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type redisClient interface {
	redis.Scripter
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Ping(ctx context.Context) *redis.StatusCmd
	Close() error
}

// newRedisClient is overridable for tests.
var newRedisClient = func(opts *redis.Options) redisClient {
	return redis.NewClient(opts)
}

// RedisLocker implements Locker with SET NX PX.
type RedisLocker struct {
	client redisClient
	logger *logrus.Entry
}

// OpenRedis connects to the Redis URL and verifies it with a ping.
func OpenRedis(ctx context.Context, rawURL string, logger *logrus.Entry) (*RedisLocker, error) {
	if ctx == nil {
		return nil, errors.New("context is required")
	}

	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := newRedisClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return NewRedisLocker(client, logger), nil
}

// NewRedisLocker wraps an existing client.
func NewRedisLocker(client redisClient, logger *logrus.Entry) *RedisLocker {
	if logger == nil {
		logger = logging.Logger()
	}
	return &RedisLocker{client: client, logger: logger}
}

// Acquire implements Locker.
func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	if l == nil || l.client == nil {
		return noop, false, errors.New("redis locker is not initialized")
	}
	if ctx == nil {
		return noop, false, errors.New("context is required")
	}
	if strings.TrimSpace(key) == "" {
		return noop, false, errors.New("lock key is required")
	}

	redisKey := keyPrefix + key
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, redisKey, token, ttl).Result()
	if err != nil {
		return noop, false, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return noop, false, nil
	}

	release := func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
		defer cancel()

		if err := releaseScript.Run(releaseCtx, l.client, []string{redisKey}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
			l.logger.WithFields(logging.Fields{
				"event": "lock_release_error",
				"key":   key,
			}).WithError(err).Warn("failed to release lock")
		}
	}

	return release, true, nil
}

// Close closes the Redis client.
func (l *RedisLocker) Close() error {
	if l == nil || l.client == nil {
		return nil
	}
	return l.client.Close()
}

// LocalLocker is an in-process Locker for single-replica deployments.
type LocalLocker struct {
	mu    sync.Mutex
	held  map[string]time.Time
	clock func() time.Time
}

// NewLocalLocker constructs an empty LocalLocker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{
		held:  make(map[string]time.Time),
		clock: time.Now,
	}
}

// Acquire implements Locker.
func (l *LocalLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	if ctx == nil {
		return noop, false, errors.New("context is required")
	}
	if strings.TrimSpace(key) == "" {
		return noop, false, errors.New("lock key is required")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	if expiry, ok := l.held[key]; ok && now.Before(expiry) {
		return noop, false, nil
	}

	expiry := now.Add(ttl)
	l.held[key] = expiry

	var once sync.Once
	release := func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			if l.held[key].Equal(expiry) {
				delete(l.held, key)
			}
		})
	}

	return release, true, nil
}

func noop() {}
