package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newRedisLimiter(t *testing.T, window time.Duration, maxAttempts int) (*RedisLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedis(rdb, window, maxAttempts), mr
}

func TestRedisLimiterFixedWindow(t *testing.T) {
	l, mr := newRedisLimiter(t, time.Minute, 3)
	ctx := context.Background()

	for i := range 3 {
		d, err := l.Allow(ctx, "1.2.3.4")
		require.NoError(t, err)
		assert.True(t, d.Allowed)
		assert.Equal(t, 2-i, d.Remaining)
	}

	d, err := l.Allow(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.InDelta(t, time.Minute, d.RetryAfter, float64(time.Second))

	d, err = l.Allow(ctx, "5.6.7.8")
	require.NoError(t, err)
	assert.True(t, d.Allowed, "keys are independent")

	mr.FastForward(time.Minute)
	d, err = l.Allow(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.True(t, d.Allowed, "a new window starts after expiry")
}

func TestRedisLimiterKeysAndReset(t *testing.T) {
	l, mr := newRedisLimiter(t, time.Minute, 1)
	l = l.WithPrefix("test:")
	ctx := context.Background()

	_, err := l.Allow(ctx, "k")
	require.NoError(t, err)
	assert.True(t, mr.Exists("test:k"))

	d, err := l.Allow(ctx, "k")
	require.NoError(t, err)
	require.False(t, d.Allowed)

	require.NoError(t, l.Reset(ctx, "k"))
	d, err = l.Allow(ctx, "k")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestRedisLimiterUnavailable(t *testing.T) {
	l, mr := newRedisLimiter(t, time.Minute, 1)
	mr.Close()

	d, err := l.Allow(context.Background(), "k")
	assert.ErrorIs(t, err, ErrRedisUnavailable)
	assert.True(t, d.Allowed)
}

func TestMemoryLimiterRefills(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	l := NewMemory(time.Minute, 2)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	for range 2 {
		d, err := l.Allow(ctx, "k")
		require.NoError(t, err)
		require.True(t, d.Allowed)
	}

	d, err := l.Allow(ctx, "k")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.InDelta(t, 30*time.Second, d.RetryAfter, float64(time.Millisecond))

	now = now.Add(31 * time.Second)
	d, err = l.Allow(ctx, "k")
	require.NoError(t, err)
	assert.True(t, d.Allowed, "one token refills every window/max")
}

func TestMemoryLimiterPrunesIdleKeys(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	l := NewMemory(time.Minute, 1)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	for i := range pruneThreshold {
		_, _ = l.Allow(ctx, fmt.Sprintf("k%d", i))
	}
	require.Equal(t, pruneThreshold, l.Len())

	now = now.Add(time.Minute)
	_, _ = l.Allow(ctx, "fresh")
	assert.Equal(t, 1, l.Len())
}

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string) (Decision, error) {
	return Decision{Allowed: true}, errors.New("boom")
}

func TestMiddleware(t *testing.T) {
	calls := 0
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	})
	h := Middleware(NewMemory(time.Minute, 1), ByIP)(next)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/auth/login", nil))
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/auth/login", nil))
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "60", rr.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"error":"Too Many Requests","message":"Rate limit exceeded"}`, rr.Body.String())
	assert.Equal(t, 1, calls)
}

func TestMiddlewareFailsOpen(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	called := false
	h := Middleware(failingLimiter{}, nil, WithLogger(zap.New(core)))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		called = true
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.True(t, called)
	assert.Equal(t, 1, logs.Len())
}

func TestMiddlewareSkipsEmptyKey(t *testing.T) {
	called := 0
	h := Middleware(NewMemory(time.Minute, 1), func(*http.Request) string { return "" })(
		http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called++ }))

	for range 3 {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	}
	assert.Equal(t, 3, called)
}
