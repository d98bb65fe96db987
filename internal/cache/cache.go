// Package cache provides the TTL cache injected into components that memoise
// external lookups. Expiry is driven by an injectable clock so tests control time.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/normanking/concierge/internal/config"
)

// Cache stores byte values with a time-to-live. A non-positive ttl never expires.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Backend names.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// New builds the backend selected by cfg.
func New(cfg config.CacheConfig) (Cache, error) {
	switch cfg.Backend {
	case "", BackendMemory:
		return NewMemoryCache(), nil
	case BackendRedis:
		return NewRedisCache(RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}

// GetJSON decodes a cached JSON value into v.
func GetJSON(ctx context.Context, c Cache, key string, v any) (bool, error) {
	data, ok, err := c.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("decode cached %s: %w", key, err)
	}
	return true, nil
}

// SetJSON caches v encoded as JSON.
func SetJSON(ctx context.Context, c Cache, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return c.Set(ctx, key, data, ttl)
}
