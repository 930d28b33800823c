// Package cache provides the key/value cache backing the answer cache.
package cache

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrCacheMiss indicates a cache miss.
var ErrCacheMiss = errors.New("cache miss")

// Client is a byte-valued cache. A ttl of zero or less stores the value
// without expiry.
type Client interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// DeleteByPrefix removes every key that starts with prefix. An empty
	// prefix clears the cache.
	DeleteByPrefix(ctx context.Context, prefix string) error
	Close() error
}

// Notifier broadcasts cache events between processes. Only the Redis client implements it.
type Notifier interface {
	Publish(ctx context.Context, channel string, message any) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error)
}

// KeySeparator joins the segments of a cache key.
const KeySeparator = ":"

// Key joins key segments, e.g. Key("answer", "v1", hash).
func Key(parts ...string) string {
	return strings.Join(parts, KeySeparator)
}

var (
	_ Client   = (*RedisClient)(nil)
	_ Client   = (*MemoryClient)(nil)
	_ Notifier = (*RedisClient)(nil)
)
