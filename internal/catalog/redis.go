// internal/catalog/redis.go
//
// Redis backend for the catalog lookup cache, shared by every replica so an
// Invalidate issued on one node is seen by all of them.

package catalog

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisClient is the subset of *redis.Client the cache needs.
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	SetEx(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisCache stores entries with a server-side TTL.
type RedisCache struct {
	rdb RedisClient
	ttl time.Duration
}

// NewRedisCache returns a RedisCache.
func NewRedisCache(rdb RedisClient, ttl time.Duration) *RedisCache {
	return &RedisCache{rdb: rdb, ttl: ttl}
}

func (r *RedisCache) Get(ctx context.Context, key string) ([]byte, bool) {
	raw, err := r.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			zap.L().Warn("catalog cache get", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}
	return raw, true
}

func (r *RedisCache) Set(ctx context.Context, key string, val []byte) {
	if err := r.rdb.SetEx(ctx, key, val, r.ttl).Err(); err != nil {
		zap.L().Warn("catalog cache set", zap.String("key", key), zap.Error(err))
	}
}

func (r *RedisCache) Delete(ctx context.Context, keys ...string) {
	if len(keys) == 0 {
		return
	}
	if err := r.rdb.Del(ctx, keys...).Err(); err != nil {
		zap.L().Warn("catalog cache delete", zap.Strings("keys", keys), zap.Error(err))
	}
}
