package cache

import (
	"sync"
	"time"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// CachedToken is one cache entry: the validated value plus the two bounds of
// its lifetime.
type CachedToken[V any] struct {
	Value V
	// ExpiresAt is the token's own expiry as reported by the identity service.
	ExpiresAt time.Time
	// CachedAt is the time the entry was stored.
	CachedAt time.Time
	// ValidUntil is the effective expiry: min(ExpiresAt, CachedAt+ttl).
	ValidUntil time.Time
}

// Expired reports whether the entry must no longer be served at now.
func (c CachedToken[V]) Expired(now time.Time) bool {
	return !now.Before(c.ValidUntil)
}

// Stats is a point-in-time view of cache activity.
type Stats struct {
	Hits        uint64
	Misses      uint64
	Evictions   uint64
	Expirations uint64
	Size        int
	MaxSize     int
}

// Option configures a [TokenCache].
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock replaces time.Now. Tests use it to move time deterministically.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// TokenCache is a bounded, TTL-based map from raw token to validated value.
//
// When full, the earliest inserted entry is evicted (FIFO, not LRU). Expired
// entries are removed lazily on Get and eagerly before a live entry would be
// evicted.
type TokenCache[V any] struct {
	mu      sync.Mutex
	entries *orderedmap.OrderedMap[string, CachedToken[V]]
	maxSize int
	ttl     time.Duration
	now     func() time.Time

	hits        uint64
	misses      uint64
	evictions   uint64
	expirations uint64
}

// New returns a cache holding at most maxSize entries, each for at most ttl.
// A maxSize <= 0 yields a cache that stores nothing.
func New[V any](maxSize int, ttl time.Duration, opts ...Option) *TokenCache[V] {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if maxSize < 0 {
		maxSize = 0
	}

	return &TokenCache[V]{
		entries: orderedmap.New[string, CachedToken[V]](),
		maxSize: maxSize,
		ttl:     ttl,
		now:     o.now,
	}
}

// Get returns the entry for token if present and unexpired.
func (c *TokenCache[V]) Get(token string) (CachedToken[V], bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries.Get(token)
	if !ok {
		c.misses++
		return CachedToken[V]{}, false
	}
	if entry.Expired(c.now()) {
		c.entries.Delete(token)
		c.expirations++
		c.misses++
		return CachedToken[V]{}, false
	}

	c.hits++
	return entry, true
}

// Set inserts or replaces the entry for token. tokenExpiresAt is the token's
// real expiry; the zero time means the service did not report one and only the
// TTL bounds the entry.
func (c *TokenCache[V]) Set(token string, value V, tokenExpiresAt time.Time) {
	if c.maxSize == 0 || token == "" {
		return
	}

	now := c.now()
	validUntil := now.Add(c.ttl)
	if !tokenExpiresAt.IsZero() && tokenExpiresAt.Before(validUntil) {
		validUntil = tokenExpiresAt
	}
	if !now.Before(validUntil) {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// A replaced entry moves to the back of the eviction order.
	c.entries.Delete(token)

	if c.entries.Len() >= c.maxSize {
		c.sweepLocked(now)
	}
	for c.entries.Len() >= c.maxSize {
		oldest := c.entries.Oldest()
		if oldest == nil {
			break
		}
		c.entries.Delete(oldest.Key)
		c.evictions++
	}

	c.entries.Set(token, CachedToken[V]{
		Value:      value,
		ExpiresAt:  tokenExpiresAt,
		CachedAt:   now,
		ValidUntil: validUntil,
	})
}

// Delete removes token. Deleting an absent token is a no-op.
func (c *TokenCache[V]) Delete(token string) {
	c.mu.Lock()
	c.entries.Delete(token)
	c.mu.Unlock()
}

// Clear removes every entry. Counters are kept.
func (c *TokenCache[V]) Clear() {
	c.mu.Lock()
	c.entries = orderedmap.New[string, CachedToken[V]]()
	c.mu.Unlock()
}

// Len returns the number of stored entries, expired ones included until they
// are swept.
func (c *TokenCache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Len()
}

// Sweep removes every expired entry and returns how many were removed.
func (c *TokenCache[V]) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sweepLocked(c.now())
}

func (c *TokenCache[V]) sweepLocked(now time.Time) int {
	var expired []string
	for pair := c.entries.Oldest(); pair != nil; pair = pair.Next() {
		if pair.Value.Expired(now) {
			expired = append(expired, pair.Key)
		}
	}
	for _, key := range expired {
		c.entries.Delete(key)
	}
	c.expirations += uint64(len(expired))
	return len(expired)
}

// TTL returns the configured per-entry lifetime.
func (c *TokenCache[V]) TTL() time.Duration {
	return c.ttl
}

// Stats returns a snapshot of the cache counters.
func (c *TokenCache[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Hits:        c.hits,
		Misses:      c.misses,
		Evictions:   c.evictions,
		Expirations: c.expirations,
		Size:        c.entries.Len(),
		MaxSize:     c.maxSize,
	}
}
