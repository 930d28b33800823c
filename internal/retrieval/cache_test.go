package retrieval

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/cache"
	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/intent"
)

// broadcastClient is a MemoryClient that also implements cache.Notifier.
type broadcastClient struct {
	*cache.MemoryClient
	published chan []byte
}

func newBroadcastClient() *broadcastClient {
	return &broadcastClient{MemoryClient: cache.NewMemoryClient(100), published: make(chan []byte, 4)}
}

func (b *broadcastClient) Publish(_ context.Context, _ string, message any) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}
	b.published <- data
	return nil
}

func (b *broadcastClient) Subscribe(_ context.Context, _ string) (<-chan []byte, func(), error) {
	return b.published, func() {}, nil
}

func TestResponseCache_Key(t *testing.T) {
	c := NewResponseCache(cache.NewMemoryClient(10), DefaultResponseCacheConfig(), nil)

	a := c.Key("What is HR 1234?", nil)
	assert.Equal(t, a, c.Key("  what is   hr 1234? ", nil))
	assert.NotEqual(t, a, c.Key("What is HR 1235?", nil))
	assert.NotEqual(t, a, c.Key("What is HR 1234?", []intent.Turn{{Role: "user", Content: "hi"}}))
	assert.Contains(t, a, "answer:")
}

func TestResponseCache_SetGetInvalidate(t *testing.T) {
	ctx := context.Background()
	mem := cache.NewMemoryClient(10)
	defer mem.Close()
	c := NewResponseCache(mem, DefaultResponseCacheConfig(), nil)

	_, ok := c.Get(ctx, "q", nil)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "q", nil, &Answer{Text: "a", Diagnostics: Diagnostics{Stage: StageStandard}}))
	got, ok := c.Get(ctx, "q", nil)
	require.True(t, ok)
	assert.Equal(t, "a", got.Text)
	assert.Equal(t, StageStandard, got.Diagnostics.Stage)

	require.NoError(t, c.Invalidate(ctx, "test"))
	_, ok = c.Get(ctx, "q", nil)
	assert.False(t, ok)

	// Without a notifier Listen has nothing to wait for.
	assert.NoError(t, c.Listen(ctx, func(context.Context, InvalidationEvent) {}))
}

func TestResponseCache_Disabled(t *testing.T) {
	cfg := DefaultResponseCacheConfig()
	cfg.Enabled = false
	c := NewResponseCache(cache.NewMemoryClient(10), cfg, nil)

	require.NoError(t, c.Set(context.Background(), "q", nil, &Answer{Text: "a"}))
	_, ok := c.Get(context.Background(), "q", nil)
	assert.False(t, ok)
}

func TestResponseCache_BroadcastsInvalidation(t *testing.T) {
	client := newBroadcastClient()
	defer client.Close()
	c := NewResponseCache(client, DefaultResponseCacheConfig(), nil)

	require.NoError(t, c.Invalidate(context.Background(), "reindex"))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	got := make(chan InvalidationEvent, 1)
	go func() {
		_ = c.Listen(ctx, func(_ context.Context, e InvalidationEvent) {
			got <- e
			cancel()
		})
	}()

	select {
	case e := <-got:
		assert.Equal(t, "reindex", e.Reason)
	case <-time.After(2 * time.Second):
		t.Fatal("invalidation was not delivered")
	}
}
