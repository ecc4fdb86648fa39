// Package rediscache is a Redis-backed token cache shared by every replica of
// a service. Keys are derived from a SHA-256 digest of the token so raw tokens
// never reach Redis.
package rediscache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/skygenesisenterprise/aethergate/cache"
)

// DefaultPrefix namespaces cache keys when no prefix is supplied.
const DefaultPrefix = "ag:tok:"

// ErrUnavailable wraps every Redis failure.
var ErrUnavailable = errors.New("shared token cache unavailable")

type record[V any] struct {
	Value      V         `json:"value"`
	ExpiresAt  time.Time `json:"expiresAt"`
	CachedAt   time.Time `json:"cachedAt"`
	ValidUntil time.Time `json:"validUntil"`
}

// Cache stores validated values in Redis with the same expiry bounds as
// [cache.TokenCache].
type Cache[V any] struct {
	redis  redis.UniversalClient
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

// New returns a shared cache. Entries live at most ttl.
func New[V any](client redis.UniversalClient, prefix string, ttl time.Duration) *Cache[V] {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Cache[V]{
		redis:  client,
		prefix: prefix,
		ttl:    ttl,
		now:    time.Now,
	}
}

// Get returns the entry for token. A missing entry is (zero, false, nil).
func (c *Cache[V]) Get(ctx context.Context, token string) (cache.CachedToken[V], bool, error) {
	raw, err := c.redis.Get(ctx, c.key(token)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return cache.CachedToken[V]{}, false, nil
		}
		return cache.CachedToken[V]{}, false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var rec record[V]
	if err := json.Unmarshal(raw, &rec); err != nil {
		// A record written by an incompatible version is treated as a miss.
		_ = c.redis.Del(ctx, c.key(token)).Err()
		return cache.CachedToken[V]{}, false, nil
	}

	entry := cache.CachedToken[V]{
		Value:      rec.Value,
		ExpiresAt:  rec.ExpiresAt,
		CachedAt:   rec.CachedAt,
		ValidUntil: rec.ValidUntil,
	}
	if entry.Expired(c.now()) {
		return cache.CachedToken[V]{}, false, nil
	}
	return entry, true, nil
}

// Set stores value for token until min(tokenExpiresAt, now+ttl).
func (c *Cache[V]) Set(ctx context.Context, token string, value V, tokenExpiresAt time.Time) error {
	now := c.now()
	validUntil := now.Add(c.ttl)
	if !tokenExpiresAt.IsZero() && tokenExpiresAt.Before(validUntil) {
		validUntil = tokenExpiresAt
	}
	life := validUntil.Sub(now)
	if life <= 0 {
		return nil
	}

	raw, err := json.Marshal(record[V]{
		Value:      value,
		ExpiresAt:  tokenExpiresAt,
		CachedAt:   now,
		ValidUntil: validUntil,
	})
	if err != nil {
		return err
	}

	if err := c.redis.Set(ctx, c.key(token), raw, life).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Delete removes token.
func (c *Cache[V]) Delete(ctx context.Context, token string) error {
	if err := c.redis.Del(ctx, c.key(token)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Clear removes every key under the cache prefix.
func (c *Cache[V]) Clear(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := c.redis.Scan(ctx, cursor, c.prefix+"*", 256).Result()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		if len(keys) > 0 {
			if err := c.redis.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("%w: %v", ErrUnavailable, err)
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

func (c *Cache[V]) key(token string) string {
	sum := sha256.Sum256([]byte(token))
	return c.prefix + hex.EncodeToString(sum[:])
}
