package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const DefaultPrefix = "ag:rl:"

// RedisLimiter enforces a fixed window shared by every process using the same
// Redis keyspace.
type RedisLimiter struct {
	redis  redis.UniversalClient
	prefix string
	window time.Duration
	max    int
}

// NewRedis returns a limiter admitting maxAttempts per key per window.
func NewRedis(client redis.UniversalClient, window time.Duration, maxAttempts int) *RedisLimiter {
	return &RedisLimiter{
		redis:  client,
		prefix: DefaultPrefix,
		window: window,
		max:    maxAttempts,
	}
}

// WithPrefix returns a copy using prefix for its keys.
func (l *RedisLimiter) WithPrefix(prefix string) *RedisLimiter {
	c := *l
	c.prefix = prefix
	return &c
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	k := l.prefix + key
	count, err := l.incrementWithTTL(ctx, k)
	if err != nil {
		return Decision{Allowed: true}, err
	}

	if count <= int64(l.max) {
		return Decision{Allowed: true, Remaining: l.max - int(count)}, nil
	}

	ttl, err := l.redis.PTTL(ctx, k).Result()
	if err != nil || ttl < 0 {
		ttl = l.window
	}
	return Decision{RetryAfter: ttl}, nil
}

// Reset clears the counter for key.
func (l *RedisLimiter) Reset(ctx context.Context, key string) error {
	if err := l.redis.Del(ctx, l.prefix+key).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func (l *RedisLimiter) incrementWithTTL(ctx context.Context, key string) (int64, error) {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	// The window starts at the first hit.
	if count == 1 {
		if err := l.redis.Expire(ctx, key, l.window).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	return count, nil
}
