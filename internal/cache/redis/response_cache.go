package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/marketsettler/internal/domain"
)

// ResponseCache implements domain.ResponseCache with plain string keys and
// a per-entry TTL.
type ResponseCache struct {
	c *Client
}

// NewResponseCache creates a ResponseCache backed by the given Client.
func NewResponseCache(c *Client) *ResponseCache {
	return &ResponseCache{c: c}
}

// Get returns the cached value and whether it was present.
func (rc *ResponseCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := rc.c.rdb.Get(ctx, rc.c.Key("cache", key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis: cache get %s: %w", key, err)
	}
	return val, true, nil
}

// Set stores value for ttl.
func (rc *ResponseCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := rc.c.rdb.Set(ctx, rc.c.Key("cache", key), value, ttl).Err(); err != nil {
		return fmt.Errorf("redis: cache set %s: %w", key, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.ResponseCache = (*ResponseCache)(nil)
