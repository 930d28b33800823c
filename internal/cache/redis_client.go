package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultRedisPrefix = "legis:"
	// scanBatch is both the SCAN count hint and the UNLINK batch size.
	scanBatch   = 200
	pingTimeout = 5 * time.Second
)

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
	Prefix   string
}

// RedisClient is a Client shared by every engine process pointing at the
// same Redis. All keys and channels live under the configured namespace.
type RedisClient struct {
	rdb       *redis.Client
	namespace string
}

// NewRedisClient connects and pings Redis.
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*RedisClient, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis at %s: %w", cfg.Addr, err)
	}

	namespace := cfg.Prefix
	if namespace == "" {
		namespace = defaultRedisPrefix
	}
	return &RedisClient{rdb: rdb, namespace: namespace}, nil
}

func (c *RedisClient) key(k string) string { return c.namespace + k }

// Get returns ErrCacheMiss for absent or expired keys.
func (c *RedisClient) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := c.rdb.Get(ctx, c.key(key)).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, ErrCacheMiss
	case err != nil:
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return val, nil
}

func (c *RedisClient) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := c.rdb.Set(ctx, c.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (c *RedisClient) Delete(ctx context.Context, key string) error {
	if err := c.rdb.Unlink(ctx, c.key(key)).Err(); err != nil {
		return fmt.Errorf("redis unlink %s: %w", key, err)
	}
	return nil
}

// DeleteByPrefix scans the namespace for matching keys and unlinks them in
// batches. Glob metacharacters in prefix are matched literally.
func (c *RedisClient) DeleteByPrefix(ctx context.Context, prefix string) error {
	iter := c.rdb.Scan(ctx, 0, matchPrefix(c.key(prefix)), scanBatch).Iterator()

	batch := make([]string, 0, scanBatch)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := c.rdb.Unlink(ctx, batch...).Err(); err != nil {
			return fmt.Errorf("redis unlink %d keys: %w", len(batch), err)
		}
		batch = batch[:0]
		return nil
	}

	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == scanBatch {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan %q: %w", prefix, err)
	}
	return flush()
}

// matchPrefix builds a SCAN MATCH pattern selecting keys that begin with prefix.
func matchPrefix(prefix string) string {
	var b strings.Builder
	b.Grow(len(prefix) + 1)
	for _, r := range prefix {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	b.WriteByte('*')
	return b.String()
}

func (c *RedisClient) Close() error {
	return c.rdb.Close()
}

// Publish sends message as JSON on the namespaced channel.
func (c *RedisClient) Publish(ctx context.Context, channel string, message any) error {
	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("marshal %s message: %w", channel, err)
	}
	if err := c.rdb.Publish(ctx, c.key(channel), data).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe waits for the subscription to be confirmed, then relays payloads
// until ctx ends or the returned func is called.
func (c *RedisClient) Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error) {
	sub := c.rdb.Subscribe(ctx, c.key(channel))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, fmt.Errorf("redis subscribe %s: %w", channel, err)
	}

	out := make(chan []byte, 16)
	done := make(chan struct{})
	go relay(ctx, sub.Channel(), out, done)

	var once sync.Once
	stop := func() {
		once.Do(func() {
			close(done)
			_ = sub.Close()
		})
	}
	return out, stop, nil
}

func relay(ctx context.Context, in <-chan *redis.Message, out chan<- []byte, done <-chan struct{}) {
	defer close(out)
	for {
		var msg *redis.Message
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case m, ok := <-in:
			if !ok {
				return
			}
			msg = m
		}
		select {
		case out <- []byte(msg.Payload):
		case <-done:
			return
		case <-ctx.Done():
			return
		}
	}
}
