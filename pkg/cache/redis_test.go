package cache

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newRedisCache starts a miniredis server and returns a RedisCache backed by it.
func newRedisCache(t *testing.T) (*RedisCache, *miniredis.Miniredis, *bytes.Buffer) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	var logs bytes.Buffer
	return NewRedisCache(rdb, slog.New(slog.NewTextHandler(&logs, nil))), mr, &logs
}

func TestRedisCache_PutGet(t *testing.T) {
	ctx := context.Background()
	c, mr, _ := newRedisCache(t)

	c.Put(ctx, 7, OpDirectory, "docs", "main", []byte(`[{"name":"a"}]`), time.Minute)

	got, ok := c.Get(ctx, 7, OpDirectory, "docs", "main")
	require.True(t, ok)
	assert.Equal(t, `[{"name":"a"}]`, string(got))

	assert.True(t, mr.Exists(redisKeyPrefix+Key(7, OpDirectory, "docs", "main")))
	members, err := mr.Members(indexKey(7))
	require.NoError(t, err)
	assert.Len(t, members, 1)
}

func TestRedisCache_ExpiresWithTTL(t *testing.T) {
	ctx := context.Background()
	c, mr, _ := newRedisCache(t)

	c.Put(ctx, 7, OpFileContent, "f", "", []byte("x"), time.Minute)
	mr.FastForward(time.Minute + time.Second)

	_, ok := c.Get(ctx, 7, OpFileContent, "f", "")
	assert.False(t, ok)
}

func TestRedisCache_DefaultTTL(t *testing.T) {
	ctx := context.Background()
	c, mr, _ := newRedisCache(t)

	c.Put(ctx, 7, OpFileContent, "f", "", []byte("x"), 0)

	assert.Equal(t, DefaultTTL, mr.TTL(redisKeyPrefix+Key(7, OpFileContent, "f", "")))
}

func TestRedisCache_Invalidate(t *testing.T) {
	ctx := context.Background()
	c, mr, _ := newRedisCache(t)

	c.Put(ctx, 1, OpDirectory, "", "", []byte("a"), 0)
	c.Put(ctx, 1, OpFileContent, "f", "", []byte("b"), 0)
	c.Put(ctx, 2, OpDirectory, "", "", []byte("c"), 0)

	c.Invalidate(ctx, 1)

	_, ok := c.Get(ctx, 1, OpDirectory, "", "")
	assert.False(t, ok)
	_, ok = c.Get(ctx, 1, OpFileContent, "f", "")
	assert.False(t, ok)
	assert.False(t, mr.Exists(indexKey(1)))

	_, ok = c.Get(ctx, 2, OpDirectory, "", "")
	assert.True(t, ok)
}

func TestRedisCache_BackendFailureIsMiss(t *testing.T) {
	ctx := context.Background()
	c, mr, logs := newRedisCache(t)
	c.Put(ctx, 1, OpDirectory, "", "", []byte("a"), 0)

	mr.Close()

	_, ok := c.Get(ctx, 1, OpDirectory, "", "")
	assert.False(t, ok)
	c.Put(ctx, 1, OpDirectory, "", "", []byte("a"), 0)
	c.Invalidate(ctx, 1)

	assert.Contains(t, logs.String(), "cache get failed")
	assert.Contains(t, logs.String(), "cache put failed")
	assert.Contains(t, logs.String(), "cache invalidate failed")
}
