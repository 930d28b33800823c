package retrieval

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/cache"
	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/intent"
	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/observability"
)

// InvalidationChannel carries InvalidationEvents between processes.
const InvalidationChannel = "index:invalidated"

// ResponseCache caches answers keyed by question and conversation history.
type ResponseCache struct {
	client   cache.Client
	notifier cache.Notifier
	logger   *observability.Logger
	config   ResponseCacheConfig
	now      func() time.Time
}

// ResponseCacheConfig configures the response cache.
type ResponseCacheConfig struct {
	TTL       time.Duration
	KeyPrefix string
	Enabled   bool
}

// DefaultResponseCacheConfig returns default cache configuration.
func DefaultResponseCacheConfig() ResponseCacheConfig {
	return ResponseCacheConfig{
		TTL:       10 * time.Minute,
		KeyPrefix: "answer:",
		Enabled:   true,
	}
}

// InvalidationEvent is published after the indexes change.
type InvalidationEvent struct {
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}

// NewResponseCache creates a response cache. Invalidations are broadcast when
// client also implements cache.Notifier.
func NewResponseCache(client cache.Client, config ResponseCacheConfig, logger *observability.Logger) *ResponseCache {
	if config.KeyPrefix == "" {
		config.KeyPrefix = "answer:"
	}
	if config.TTL <= 0 {
		config.TTL = DefaultResponseCacheConfig().TTL
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	notifier, _ := client.(cache.Notifier)

	return &ResponseCache{
		client:   client,
		notifier: notifier,
		logger:   logger.WithComponent("response_cache"),
		config:   config,
		now:      time.Now,
	}
}

// Key derives the cache key. Whitespace and case differences in the question do not matter.
func (c *ResponseCache) Key(question string, history []intent.Turn) string {
	var sb strings.Builder
	sb.WriteString(normalizeQuestion(question))
	for _, t := range history {
		sb.WriteString("\x1f")
		sb.WriteString(strings.ToLower(t.Role))
		sb.WriteString("\x1e")
		sb.WriteString(normalizeQuestion(t.Content))
	}
	sum := sha256.Sum256([]byte(sb.String()))
	return c.config.KeyPrefix + hex.EncodeToString(sum[:16])
}

func normalizeQuestion(q string) string {
	return strings.ToLower(strings.Join(strings.Fields(q), " "))
}

// CachedAnswer is the stored form of an answer.
type CachedAnswer struct {
	Answer   *Answer   `json:"answer"`
	CachedAt time.Time `json:"cached_at"`
}

// Get returns a cached answer if present.
func (c *ResponseCache) Get(ctx context.Context, question string, history []intent.Turn) (*Answer, bool) {
	if !c.config.Enabled || c.client == nil {
		return nil, false
	}

	key := c.Key(question, history)
	data, err := c.client.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			c.logger.Debug().Err(err).Str("key", key).Msg("Cache get error")
		}
		return nil, false
	}

	var cached CachedAnswer
	if err := json.Unmarshal(data, &cached); err != nil || cached.Answer == nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("Failed to unmarshal cached answer")
		return nil, false
	}

	c.logger.Debug().Str("key", key).Msg("Cache hit")
	return cached.Answer, true
}

// Set stores an answer.
func (c *ResponseCache) Set(ctx context.Context, question string, history []intent.Turn, answer *Answer) error {
	if !c.config.Enabled || c.client == nil || answer == nil {
		return nil
	}

	key := c.Key(question, history)
	data, err := json.Marshal(CachedAnswer{Answer: answer, CachedAt: c.now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal answer: %w", err)
	}

	if err := c.client.Set(ctx, key, data, c.config.TTL); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("Failed to cache answer")
		return err
	}

	c.logger.Debug().Str("key", key).Dur("ttl", c.config.TTL).Msg("Cached answer")
	return nil
}

// Invalidate drops every cached answer and, when possible, tells other
// processes the indexes changed.
func (c *ResponseCache) Invalidate(ctx context.Context, reason string) error {
	if c.client == nil {
		return nil
	}
	if err := c.client.DeleteByPrefix(ctx, c.config.KeyPrefix); err != nil {
		return fmt.Errorf("invalidate answers: %w", err)
	}
	c.logger.Info().Str("reason", reason).Msg("Invalidated cached answers")

	if c.notifier == nil {
		return nil
	}
	event := InvalidationEvent{Reason: reason, At: c.now().UTC()}
	if err := c.notifier.Publish(ctx, InvalidationChannel, event); err != nil {
		return fmt.Errorf("publish invalidation: %w", err)
	}
	return nil
}

// Listen calls onEvent for every invalidation published by another process
// until ctx ends. It returns immediately when the backend cannot broadcast.
func (c *ResponseCache) Listen(ctx context.Context, onEvent func(context.Context, InvalidationEvent)) error {
	if c.notifier == nil {
		return nil
	}
	msgs, unsubscribe, err := c.notifier.Subscribe(ctx, InvalidationChannel)
	if err != nil {
		return err
	}
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return nil
		case raw, ok := <-msgs:
			if !ok {
				return nil
			}
			var event InvalidationEvent
			if err := json.Unmarshal(raw, &event); err != nil {
				c.logger.Warn().Err(err).Msg("Ignoring malformed invalidation event")
				continue
			}
			c.logger.Info().Str("reason", event.Reason).Msg("Received invalidation")
			onEvent(ctx, event)
		}
	}
}
