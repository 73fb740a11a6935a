package cache

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix = "repogw:cache:"
	redisRepoIndex = "repogw:cache:repo:"
)

// Compile-time check: *RedisCache implements Cache.
var _ Cache = (*RedisCache)(nil)

// RedisCache stores entries with SET EX and tracks each repository's keys in
// a set so Invalidate can remove them together.
type RedisCache struct {
	rdb    *redis.Client
	logger *slog.Logger
}

// NewRedisCache creates a cache on an existing client. A nil logger uses
// slog.Default().
func NewRedisCache(rdb *redis.Client, logger *slog.Logger) *RedisCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisCache{rdb: rdb, logger: logger}
}

func indexKey(repoID int64) string {
	return redisRepoIndex + strconv.FormatInt(repoID, 10)
}

func (c *RedisCache) Get(ctx context.Context, repoID int64, op, path, branch string) ([]byte, bool) {
	val, err := c.rdb.Get(ctx, redisKeyPrefix+Key(repoID, op, path, branch)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		c.logger.Warn("cache get failed", "repo_id", repoID, "op", op, "error", err)
		return nil, false
	}
	return val, true
}

func (c *RedisCache) Put(ctx context.Context, repoID int64, op, path, branch string, payload []byte, ttl time.Duration) {
	ttl = effectiveTTL(ttl)
	key := redisKeyPrefix + Key(repoID, op, path, branch)

	_, err := c.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, key, payload, ttl)
		p.SAdd(ctx, indexKey(repoID), key)
		// With a uniform ttl the index outlives every entry it names.
		p.Expire(ctx, indexKey(repoID), ttl)
		return nil
	})
	if err != nil {
		c.logger.Warn("cache put failed", "repo_id", repoID, "op", op, "error", err)
	}
}

func (c *RedisCache) Invalidate(ctx context.Context, repoID int64) {
	keys, err := c.rdb.SMembers(ctx, indexKey(repoID)).Result()
	if err != nil {
		c.logger.Warn("cache invalidate failed", "repo_id", repoID, "error", err)
		return
	}
	keys = append(keys, indexKey(repoID))
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		c.logger.Warn("cache invalidate failed", "repo_id", repoID, "error", err)
	}
}
