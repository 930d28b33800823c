package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/config"
	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/storage"
	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/storage/storagetest"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Database.SQLite.Path = filepath.Join(t.TempDir(), "engine.db")
	cfg.Embedding.Provider = "mock"
	cfg.Embedding.Dimension = 64
	cfg.Generation.Provider = "extractive"
	cfg.Indexer.BatchDelay = 0
	cfg.Indexer.RequestsPerSecond = 0
	cfg.Linker.BaseURL = "https://example.org"
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestNew_IndexAndAnswer(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, testConfig(t), nil, Options{Migrate: true})
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })

	storagetest.Seed(t, a.DB)
	require.NoError(t, a.Ready(ctx))

	pipeline, err := a.Pipeline()
	require.NoError(t, err)
	res, err := pipeline.Run(ctx, nil, nil)
	require.NoError(t, err)
	assert.True(t, res.Changed())
	assert.Positive(t, a.Vectors.Len())
	assert.Positive(t, a.Fingerprints.Len())

	ans, err := a.Engine.Answer(ctx, "What is HR 1234 about?", nil)
	require.NoError(t, err)
	assert.Equal(t, "extractive", ans.Diagnostics.Generator)
	require.False(t, ans.Bundle.Empty())
	require.NotNil(t, ans.Bundle.Items[0].Ref)
	assert.Equal(t, storage.EntityRef{Type: storage.EntityBill, ID: "118-hr-1234"}, *ans.Bundle.Items[0].Ref)

	again, err := a.Engine.Answer(ctx, "What is HR 1234 about?", nil)
	require.NoError(t, err)
	assert.True(t, again.Diagnostics.Cached)
}

func TestNew_ReopenLoadsPersistedIndexes(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	first, err := New(ctx, cfg, nil, Options{Migrate: true})
	require.NoError(t, err)
	storagetest.Seed(t, first.DB)
	pipeline, err := first.Pipeline()
	require.NoError(t, err)
	_, err = pipeline.Run(ctx, nil, nil)
	require.NoError(t, err)
	want := first.Vectors.Len()
	require.NoError(t, first.Close())

	second, err := New(ctx, cfg, nil, Options{})
	require.NoError(t, err)
	t.Cleanup(func() { second.Close() })
	assert.Equal(t, want, second.Vectors.Len())

	// Memory cache has no notifier, so there is nothing to watch.
	require.NoError(t, second.WatchInvalidations(ctx))
}

func TestNew_RejectsMissingAPIKey(t *testing.T) {
	cfg := testConfig(t)
	cfg.Generation.Provider = "openrouter"
	cfg.Generation.APIKey = ""

	_, err := New(context.Background(), cfg, nil, Options{Migrate: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "generation client")
}

func TestControllerConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cc := controllerConfig(cfg.Fallback)
	assert.Equal(t, 0.9, cc.FastConfidence)
	assert.Equal(t, 25, cc.Deep.SearchLimit)
	assert.Equal(t, 0.45, cc.Standard.SearchThreshold)
}
