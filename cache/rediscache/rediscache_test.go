package rediscache

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type user struct {
	ID    string   `json:"id"`
	Roles []string `json:"roles"`
}

func newTestCache(t *testing.T, ttl time.Duration) (*Cache[user], *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return New[user](rdb, "", ttl), mr
}

func TestSetGetRoundTrip(t *testing.T) {
	c, mr := newTestCache(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "raw-token", user{ID: "u1", Roles: []string{"admin"}}, time.Time{}))

	entry, ok, err := c.Get(ctx, "raw-token")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "u1", entry.Value.ID)
	assert.Equal(t, []string{"admin"}, entry.Value.Roles)

	for _, key := range mr.Keys() {
		assert.True(t, strings.HasPrefix(key, DefaultPrefix))
		assert.NotContains(t, key, "raw-token")
	}
}

func TestRedisTTLFollowsEarlierBound(t *testing.T) {
	c, mr := newTestCache(t, time.Hour)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "tok", user{ID: "u1"}, time.Now().Add(30*time.Second)))
	keys := mr.Keys()
	require.Len(t, keys, 1)
	ttl := mr.TTL(keys[0])
	assert.LessOrEqual(t, ttl, 30*time.Second)
	assert.Greater(t, ttl, time.Duration(0))

	mr.FastForward(31 * time.Second)
	_, ok, err := c.Get(ctx, "tok")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGetHonoursValidUntilEvenIfKeyLingers(t *testing.T) {
	c, _ := newTestCache(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "tok", user{ID: "u1"}, time.Time{}))
	c.now = func() time.Time { return time.Now().Add(2 * time.Minute) }

	_, ok, err := c.Get(ctx, "tok")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDeleteAndClear(t *testing.T) {
	c, mr := newTestCache(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "a", user{ID: "a"}, time.Time{}))
	require.NoError(t, c.Set(ctx, "b", user{ID: "b"}, time.Time{}))
	require.NoError(t, mr.Set("unrelated", "keep"))

	require.NoError(t, c.Delete(ctx, "a"))
	_, ok, err := c.Get(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Clear(ctx))
	assert.Equal(t, []string{"unrelated"}, mr.Keys())
}

func TestCorruptRecordIsAMiss(t *testing.T) {
	c, mr := newTestCache(t, time.Minute)
	require.NoError(t, mr.Set(c.key("tok"), "{not json"))

	_, ok, err := c.Get(context.Background(), "tok")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, mr.Exists(c.key("tok")))
}

func TestUnavailableRedis(t *testing.T) {
	c, mr := newTestCache(t, time.Minute)
	mr.Close()

	_, _, err := c.Get(context.Background(), "tok")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, c.Set(context.Background(), "tok", user{}, time.Time{}), ErrUnavailable)
}
