package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redisc "github.com/mx-space/shortener/internal/pkg/redis"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*RedirectCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rc := redisc.New(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	return New(rc, time.Minute), mr
}

func TestCacheRoundTrip(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	expiry := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	in := &Target{Code: "abc1234", Original: "https://example.com", ExpiresAt: &expiry, HitCount: 3}
	require.NoError(t, c.Set(ctx, in))

	out, err := c.Get(ctx, "abc1234")
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, in.Code, out.Code)
	assert.Equal(t, in.Original, out.Original)
	assert.Equal(t, in.HitCount, out.HitCount)
	require.NotNil(t, out.ExpiresAt)
	assert.True(t, expiry.Equal(*out.ExpiresAt))
}

func TestCacheMiss(t *testing.T) {
	c, _ := newTestCache(t)
	out, err := c.Get(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestCacheEntryExpires(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, &Target{Code: "ttl1", Original: "https://example.com"}))
	mr.FastForward(2 * time.Minute)

	out, err := c.Get(ctx, "ttl1")
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestCacheCorruptEntryEvicted(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, mr.Set(keyPrefix+"bad1", "{not json"))

	out, err := c.Get(ctx, "bad1")
	require.NoError(t, err)
	assert.Nil(t, out)
	assert.False(t, mr.Exists(keyPrefix+"bad1"))
}

func TestCacheInvalidate(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, &Target{Code: "gone1", Original: "https://example.com"}))
	require.NoError(t, c.Invalidate(ctx, "gone1"))

	out, err := c.Get(ctx, "gone1")
	require.NoError(t, err)
	assert.Nil(t, out)
}
