package timeseries

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrCacheMiss is returned by a KV when the key is absent.
var ErrCacheMiss = errors.New("cache miss")

// KV is a byte-valued cache with expiry.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// RedisKV adapts a go-redis client to KV.
type RedisKV struct {
	client *redis.Client
}

// NewRedisKV wraps client.
func NewRedisKV(client *redis.Client) *RedisKV { return &RedisKV{client: client} }

// Get returns ErrCacheMiss for absent keys.
func (r *RedisKV) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	return b, err
}

// Set stores value under key for ttl.
func (r *RedisKV) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

// CheckReadiness pings Redis.
func (r *RedisKV) CheckReadiness(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// CachedSource serves repeated fetches from a KV. Cache failures degrade
// to the inner source.
type CachedSource struct {
	inner  Source
	kv     KV
	ttl    time.Duration
	logger *slog.Logger
}

// NewCachedSource decorates inner with kv.
func NewCachedSource(inner Source, kv KV, ttl time.Duration, logger *slog.Logger) *CachedSource {
	return &CachedSource{inner: inner, kv: kv, ttl: ttl, logger: logger}
}

func cacheKey(assetID string) string { return "timeseries:" + assetID }

// Fetch returns the cached bytes or fetches and caches them.
func (c *CachedSource) Fetch(ctx context.Context, assetID string) ([]byte, error) {
	key := cacheKey(assetID)
	data, err := c.kv.Get(ctx, key)
	if err == nil {
		return data, nil
	}
	if !errors.Is(err, ErrCacheMiss) {
		c.logger.Warn("time series cache read", "asset_id", assetID, "error", err)
	}

	data, err = c.inner.Fetch(ctx, assetID)
	if err != nil {
		return nil, err
	}
	if err := c.kv.Set(ctx, key, data, c.ttl); err != nil {
		c.logger.Warn("time series cache write", "asset_id", assetID, "error", err)
	}
	return data, nil
}
