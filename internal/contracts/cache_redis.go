package contracts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisResponseKeyPrefix = "gateway:response:"

// RedisCache persists gateway response bodies in Redis with TTL-based
// eviction, so cache hits survive process restarts and are shared across
// replicas.
type RedisCache struct {
	client   *redis.Client
	cacheTTL time.Duration
}

// NewRedisCache constructs a Redis-backed response cache.
func NewRedisCache(client *redis.Client, cacheTTL time.Duration) *RedisCache {
	return &RedisCache{
		client:   client,
		cacheTTL: cacheTTL,
	}
}

// Get loads a cached response body by URL.
//
// Errors: returns ErrCacheMiss on cache miss; wraps Redis errors.
func (c *RedisCache) Get(ctx context.Context, url string) ([]byte, error) {
	data, err := c.client.Get(ctx, responseKey(url)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("get cached response: %w", err)
	}
	return data, nil
}

// Set writes a response body to Redis with TTL eviction.
//
// Side effects: overwrites any existing entry for the URL.
func (c *RedisCache) Set(ctx context.Context, url string, body []byte) error {
	if err := c.client.Set(ctx, responseKey(url), body, c.cacheTTL).Err(); err != nil {
		return fmt.Errorf("save cached response: %w", err)
	}
	return nil
}

func responseKey(url string) string {
	return redisResponseKeyPrefix + url
}

var _ ResponseCache = (*RedisCache)(nil)
