package lock

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only while it still carries our token, so a
// holder whose TTL lapsed cannot release somebody else's lock.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func NewRedisLocker(client *redis.Client, ttl time.Duration) *RedisLocker {
	return &RedisLocker{
		client:   client,
		ttl:      ttl,
		retry:    25 * time.Millisecond,
		maxRetry: 250 * time.Millisecond,
	}
}

type RedisLocker struct {
	client   *redis.Client
	ttl      time.Duration
	retry    time.Duration
	maxRetry time.Duration
}

func (r *RedisLocker) Acquire(ctx context.Context, key string) (func(context.Context) error, error) {
	key = lockKey(key)
	token := uuid.NewString()
	wait := r.retry

	for {
		ok, err := r.client.SetNX(ctx, key, token, r.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("redis setnx failed: %w", err)
		}
		if ok {
			return func(ctx context.Context) error {
				return r.release(ctx, key, token)
			}, nil
		}

		jitter := time.Duration(rand.Int63n(int64(wait)/2 + 1))
		timer := time.NewTimer(wait + jitter)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("%w: %s: %w", ErrNotAcquired, key, ctx.Err())
		case <-timer.C:
		}
		if wait *= 2; wait > r.maxRetry {
			wait = r.maxRetry
		}
	}
}

func (r *RedisLocker) release(ctx context.Context, key, token string) error {
	n, err := releaseScript.Run(ctx, r.client, []string{key}, token).Int()
	if err != nil {
		return fmt.Errorf("redis release failed: %w", err)
	}
	if n == 0 {
		return ErrNotHeld
	}
	return nil
}

func lockKey(key string) string {
	return fmt.Sprintf("lock:%s", key)
}
