// Package app assembles the legislative engine from configuration. Both the
// API server and the CLI build their collaborators through it.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/cache"
	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/config"
	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/embedding"
	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/evidence"
	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/executor"
	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/generation"
	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/index"
	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/indexer"
	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/intent"
	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/linker"
	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/observability"
	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/planner"
	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/retrieval"
	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/retry"
	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/storage"
)

// Options control what New does beyond wiring.
type Options struct {
	// Migrate applies the index schema, and the corpus schema on SQLite.
	Migrate bool
	// SkipIndexLoad leaves the in-memory indexes empty.
	SkipIndexLoad bool
	// Embedder and Generator override the configured providers.
	Embedder  embedding.Embedder
	Generator generation.Generator
}

// App holds the wired engine and its infrastructure.
type App struct {
	Config       *config.Config
	Logger       *observability.Logger
	DB           *storage.Database
	Entities     *storage.EntityRepository
	Embedder     embedding.Embedder
	Vectors      *index.EmbeddingIndex
	Fingerprints *index.FingerprintIndex
	Classifier   *intent.Classifier
	Planner      *planner.Planner
	Generator    generation.Generator
	Linker       *linker.Linker
	Cache        cache.Client
	Responses    *retrieval.ResponseCache
	Engine       *retrieval.Engine
	Batch        *retrieval.BatchProcessor

	reloadMu sync.Mutex
}

// New opens the database and builds every collaborator from cfg.
func New(ctx context.Context, cfg *config.Config, logger *observability.Logger, opts Options) (*App, error) {
	if logger == nil {
		logger = observability.NopLogger()
	}
	a := &App{Config: cfg, Logger: logger}

	dialect := storage.Dialect(cfg.Database.Driver)
	openOpts := storage.OpenOptions{MaxOpenConns: cfg.Database.SQLite.MaxOpenConns}
	if dialect == storage.DialectPostgres {
		openOpts = storage.OpenOptions{
			MaxOpenConns:    cfg.Database.Postgres.MaxOpenConns,
			MaxIdleConns:    cfg.Database.Postgres.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.Postgres.ConnMaxLifetime,
		}
	}
	db, err := storage.Open(ctx, dialect, cfg.DatabaseDSN(), openOpts)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	a.DB = db

	if err := a.build(ctx, opts); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context, opts Options) error {
	cfg := a.Config
	dialect := a.DB.Dialect()

	if opts.Migrate {
		if err := storage.Migrate(ctx, a.DB, dialect, dialect == storage.DialectSQLite); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	a.Entities = storage.NewEntityRepository(a.DB)

	a.Embedder = opts.Embedder
	if a.Embedder == nil {
		emb, err := newEmbedder(cfg.Embedding, a.Logger)
		if err != nil {
			return err
		}
		a.Embedder = emb
	}

	vectors, err := index.NewEmbeddingIndex(cfg.Embedding.Dimension, storage.NewEmbeddingRepository(a.DB), a.Logger)
	if err != nil {
		return fmt.Errorf("embedding index: %w", err)
	}
	a.Vectors = vectors

	fp := cfg.Index.Fingerprint
	fingerprints, err := index.NewFingerprintIndex(index.FingerprintWeights{
		Topics:      fp.TopicsWeight,
		PolicyAreas: fp.PolicyAreasWeight,
		Entities:    fp.EntitiesWeight,
		ScopeBonus:  fp.ScopeBonus,
	}, storage.NewFingerprintRepository(a.DB), a.Logger)
	if err != nil {
		return fmt.Errorf("fingerprint index: %w", err)
	}
	a.Fingerprints = fingerprints

	if !opts.SkipIndexLoad {
		if err := a.Reload(ctx); err != nil {
			return err
		}
	}

	a.Generator = opts.Generator
	if a.Generator == nil {
		gen, err := newGenerator(cfg.Generation, a.Logger)
		if err != nil {
			return err
		}
		a.Generator = gen
	}

	if cfg.Cache.Enabled {
		client, err := newCache(ctx, cfg.Cache)
		if err != nil {
			return err
		}
		a.Cache = client
		a.Responses = retrieval.NewResponseCache(client, retrieval.ResponseCacheConfig{
			TTL:     cfg.Cache.TTL,
			Enabled: true,
		}, a.Logger)
	}

	a.Classifier = intent.NewClassifier(a.Logger)
	a.Planner = planner.New(planner.Config{
		MaxPlans:            cfg.Planner.MaxPlans,
		DefaultLookbackDays: cfg.Planner.DefaultLookbackDays,
		RowLimit:            cfg.Planner.RowLimit,
	}, dialect, a.Logger)

	q := cfg.Executor.Quality
	scorer := executor.NewScorer(executor.QualityWeights{
		Completeness:     q.CompletenessWeight,
		Freshness:        q.FreshnessWeight,
		Volume:           q.VolumeWeight,
		FreshnessHorizon: q.FreshnessHorizon,
	}, time.Now)
	exec := executor.New(a.DB, executor.Config{
		PlanTimeout:    cfg.Executor.PlanTimeout,
		MaxConcurrency: cfg.Executor.MaxConcurrency,
	}, scorer, a.Logger)

	a.Linker = linker.New(a.Entities, cfg.Linker.BaseURL, a.Logger)

	engine, err := retrieval.NewEngine(retrieval.EngineOptions{
		Classifier: a.Classifier,
		Paths: &retrieval.Paths{
			Embedder:     a.Embedder,
			Vectors:      a.Vectors,
			Fingerprints: a.Fingerprints,
			Planner:      a.Planner,
			Executor:     exec,
			Resolver:     a.Entities,
			Merger:       evidence.NewMerger(cfg.Merger.MaxItems, a.Logger),
			Logger:       a.Logger,
		},
		Controller: retrieval.NewFallbackController(controllerConfig(cfg.Fallback), a.Logger),
		Generator:  a.Generator,
		Linker:     a.Linker,
		Cache:      a.Responses,
		Logger:     a.Logger,
	})
	if err != nil {
		return err
	}
	a.Engine = engine
	a.Batch = retrieval.NewBatchProcessor(engine, cfg.Executor.MaxConcurrency, cfg.Server.RequestTimeout)
	return nil
}

// Pipeline builds the offline indexing pipeline over this app's indexes.
// Cached answers are invalidated whenever a run changes an index.
func (a *App) Pipeline() (*indexer.Pipeline, error) {
	ic := a.Config.Indexer
	p, err := indexer.NewPipeline(a.Logger, indexer.PipelineConfig{
		BatchSize:         ic.BatchSize,
		MaxConcurrency:    ic.MaxConcurrency,
		BatchDelay:        ic.BatchDelay,
		RequestsPerSecond: ic.RequestsPerSecond,
		Burst:             ic.Burst,
		Retry: retry.Policy{
			MaxAttempts: ic.MaxRetries,
			BaseDelay:   ic.RetryBaseDelay,
			MaxDelay:    ic.RetryMaxDelay,
		},
	}, a.Entities, a.Embedder, a.Vectors, a.Fingerprints)
	if err != nil {
		return nil, err
	}
	if a.Responses != nil {
		p = p.WithInvalidator(a.Responses)
	}
	return p, nil
}

// Reload refreshes both in-memory indexes from the database.
func (a *App) Reload(ctx context.Context) error {
	a.reloadMu.Lock()
	defer a.reloadMu.Unlock()

	nv, err := a.Vectors.Load(ctx)
	if err != nil {
		return fmt.Errorf("load embedding index: %w", err)
	}
	nf, err := a.Fingerprints.Load(ctx)
	if err != nil {
		return fmt.Errorf("load fingerprint index: %w", err)
	}
	a.Logger.Info().
		Int("embeddings", nv).
		Int("fingerprints", nf).
		Msg("Indexes loaded")
	return nil
}

// WatchInvalidations reloads the indexes whenever another process announces
// an index change. It blocks until ctx is done.
func (a *App) WatchInvalidations(ctx context.Context) error {
	if a.Responses == nil {
		return nil
	}
	return a.Responses.Listen(ctx, func(ctx context.Context, ev retrieval.InvalidationEvent) {
		if err := a.Reload(ctx); err != nil {
			a.Logger.Error().Err(err).Str("reason", ev.Reason).Msg("Index reload failed")
		}
	})
}

// Ready reports whether the database is reachable.
func (a *App) Ready(ctx context.Context) error {
	return a.DB.PingContext(ctx)
}

// Close releases the cache and database.
func (a *App) Close() error {
	var errs []error
	if a.Cache != nil {
		errs = append(errs, a.Cache.Close())
	}
	if a.DB != nil {
		errs = append(errs, a.DB.Close())
	}
	return errors.Join(errs...)
}

func newEmbedder(cfg config.EmbeddingConfig, logger *observability.Logger) (embedding.Embedder, error) {
	if cfg.Provider == "mock" {
		return embedding.NewMockClient(cfg.Dimension), nil
	}
	client, err := embedding.NewClient(embedding.Config{
		APIKey:     cfg.APIKey,
		Model:      cfg.Model,
		BaseURL:    cfg.BaseURL,
		Dimension:  cfg.Dimension,
		Timeout:    cfg.Timeout,
		MaxRetries: cfg.MaxRetries,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("embedding client: %w", err)
	}
	return client, nil
}

func newGenerator(cfg config.GenerationConfig, logger *observability.Logger) (generation.Generator, error) {
	if cfg.Provider == "extractive" {
		return generation.NewExtractiveGenerator(0), nil
	}
	client, err := generation.NewChatClient(generation.ChatConfig{
		APIKey:         cfg.APIKey,
		BaseURL:        cfg.BaseURL,
		Model:          cfg.Model,
		Temperature:    cfg.Temperature,
		MaxTokens:      cfg.MaxTokens,
		Timeout:        cfg.Timeout,
		MaxRetries:     cfg.MaxRetries,
		MaxPromptBytes: cfg.MaxPromptBytes,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("generation client: %w", err)
	}
	return client, nil
}

func newCache(ctx context.Context, cfg config.CacheConfig) (cache.Client, error) {
	if cfg.Driver == "redis" {
		client, err := cache.NewRedisClient(ctx, cache.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
			Prefix:   "legislative:",
		})
		if err != nil {
			return nil, fmt.Errorf("redis cache: %w", err)
		}
		return client, nil
	}
	return cache.NewMemoryClient(cfg.MaxEntries), nil
}

func controllerConfig(fc config.FallbackConfig) retrieval.ControllerConfig {
	stage := func(s config.StageConfig) retrieval.StageConfig {
		return retrieval.StageConfig{
			QualityThreshold: s.QualityThreshold,
			SearchLimit:      s.SearchLimit,
			SearchThreshold:  s.SearchThreshold,
		}
	}
	return retrieval.ControllerConfig{
		FastConfidence:    fc.FastConfidence,
		PrimaryCategories: fc.PrimaryCategories,
		Fast:              stage(fc.Fast),
		Standard:          stage(fc.Standard),
		Deep:              stage(fc.Deep),
	}
}
