// Package indexer builds the embedding and fingerprint indexes from the corpus.
// Runs are idempotent: entities whose content and timestamps are unchanged cost
// no API calls and no writes, so an interrupted run is resumed by running again.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"golang.org/x/time/rate"

	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/embedding"
	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/index"
	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/observability"
	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/retry"
	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/storage"
)

// Source lists indexable documents.
type Source interface {
	ListDocuments(ctx context.Context, entityType storage.EntityType) ([]storage.Document, error)
}

// VectorIndex is the embedding index being built.
type VectorIndex interface {
	Dimension() int
	NeedsIndexing(ref storage.EntityRef, content string, sourceUpdatedAt time.Time) bool
	Index(ctx context.Context, doc index.EmbeddingDocument) (index.Outcome, error)
}

// FingerprintIndex is the fingerprint index being built.
type FingerprintIndex interface {
	NeedsIndexing(ref storage.EntityRef, content string, sourceUpdatedAt time.Time) bool
	Index(ctx context.Context, doc index.FingerprintDocument) (index.Outcome, error)
}

// Invalidator is told when a run changed the indexes.
type Invalidator interface {
	Invalidate(ctx context.Context, reason string) error
}

// PipelineConfig holds pipeline configuration.
type PipelineConfig struct {
	BatchSize      int
	MaxConcurrency int
	// BatchDelay is the minimum gap between submitting two embedding batches.
	BatchDelay        time.Duration
	RequestsPerSecond float64 // <= 0 disables the limiter
	Burst             int
	Retry             retry.Policy
}

// DefaultPipelineConfig returns conservative settings for a hosted embedding API.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		BatchSize:         50,
		MaxConcurrency:    2,
		BatchDelay:        500 * time.Millisecond,
		RequestsPerSecond: 2,
		Burst:             2,
		Retry:             retry.DefaultPolicy(),
	}
}

// Progress is reported after every embedding batch.
type Progress struct {
	EntityType storage.EntityType
	Done       int
	Total      int
}

// ProgressFunc receives progress updates. Calls are serialized.
type ProgressFunc func(Progress)

// TypeResult counts what happened to one entity type.
type TypeResult struct {
	Documents             int `json:"documents"`
	Embedded              int `json:"embedded"`
	EmbeddingsUnchanged   int `json:"embeddings_unchanged"`
	Fingerprinted         int `json:"fingerprinted"`
	FingerprintsUnchanged int `json:"fingerprints_unchanged"`
	FailedBatches         int `json:"failed_batches"`
	FailedEntities        int `json:"failed_entities"`
}

// IndexingResult represents the result of an indexing run.
type IndexingResult struct {
	JobID       uuid.UUID                          `json:"job_id"`
	Types       map[storage.EntityType]*TypeResult `json:"types"`
	APICalls    int                                `json:"api_calls"`
	Errors      []string                           `json:"errors,omitempty"`
	StartedAt   time.Time                          `json:"started_at"`
	CompletedAt time.Time                          `json:"completed_at"`
	Duration    time.Duration                      `json:"duration"`
}

// Changed reports whether the run wrote anything.
func (r *IndexingResult) Changed() bool {
	for _, t := range r.Types {
		if t.Embedded > 0 || t.Fingerprinted > 0 {
			return true
		}
	}
	return false
}

// Pipeline orchestrates an indexing run.
type Pipeline struct {
	logger       *observability.Logger
	config       PipelineConfig
	source       Source
	embedder     embedding.Embedder
	vectors      VectorIndex
	fingerprints FingerprintIndex
	invalidator  Invalidator
	limiter      *rate.Limiter
	sleep        func(ctx context.Context, d time.Duration) error
}

// NewPipeline creates a new indexing pipeline.
func NewPipeline(
	logger *observability.Logger,
	cfg PipelineConfig,
	source Source,
	embedder embedding.Embedder,
	vectors VectorIndex,
	fingerprints FingerprintIndex,
) (*Pipeline, error) {
	if source == nil || embedder == nil || vectors == nil || fingerprints == nil {
		return nil, errors.New("indexer: source, embedder and both indexes are required")
	}
	if embedder.Dimension() != vectors.Dimension() {
		return nil, fmt.Errorf("%w: embedder produces %d, index expects %d",
			index.ErrDimensionMismatch, embedder.Dimension(), vectors.Dimension())
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultPipelineConfig().BatchSize
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 1
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = retry.DefaultPolicy()
	}
	if logger == nil {
		logger = observability.NopLogger()
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	return &Pipeline{
		logger:       logger.WithComponent("indexer"),
		config:       cfg,
		source:       source,
		embedder:     embedder,
		vectors:      vectors,
		fingerprints: fingerprints,
		limiter:      limiter,
		sleep:        sleepCtx,
	}, nil
}

// WithInvalidator registers who to tell when a run changed the indexes.
func (p *Pipeline) WithInvalidator(inv Invalidator) *Pipeline {
	p.invalidator = inv
	return p
}

// Run indexes every document of the given types (all types when empty).
// Batches that exhaust their retries are logged and skipped; only context
// cancellation and dimension mismatches abort the run.
func (p *Pipeline) Run(ctx context.Context, types []storage.EntityType, progress ProgressFunc) (*IndexingResult, error) {
	if len(types) == 0 {
		types = storage.EntityTypes
	}
	result := &IndexingResult{
		JobID:     uuid.New(),
		Types:     make(map[storage.EntityType]*TypeResult, len(types)),
		StartedAt: time.Now(),
	}
	log := p.logger.WithOperation("index").WithContext(ctx)
	log.Info().Str("job_id", result.JobID.String()).Int("types", len(types)).Msg("Starting indexing job")

	pool, err := ants.NewPool(p.config.MaxConcurrency)
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}
	defer pool.Release()

	var runErr error
	for _, et := range types {
		tr := &TypeResult{}
		result.Types[et] = tr
		if runErr = p.runType(ctx, pool, et, tr, result, progress); runErr != nil {
			break
		}
	}

	result.CompletedAt = time.Now()
	result.Duration = result.CompletedAt.Sub(result.StartedAt)

	if result.Changed() && p.invalidator != nil {
		// Use a fresh context so a cancelled run still invalidates what it wrote.
		invCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		if err := p.invalidator.Invalidate(invCtx, "index job "+result.JobID.String()); err != nil {
			log.Warn().Err(err).Msg("Failed to invalidate cached answers")
			result.Errors = append(result.Errors, fmt.Sprintf("invalidate: %v", err))
		}
		cancel()
	}

	log.Info().
		Str("job_id", result.JobID.String()).
		Int("api_calls", result.APICalls).
		Int("errors", len(result.Errors)).
		Dur("duration", result.Duration).
		Msg("Indexing job completed")

	return result, runErr
}

func (p *Pipeline) runType(ctx context.Context, pool *ants.Pool, et storage.EntityType, tr *TypeResult, result *IndexingResult, progress ProgressFunc) error {
	log := p.logger.WithContext(ctx)

	docs, err := p.source.ListDocuments(ctx, et)
	if err != nil {
		return fmt.Errorf("list %s documents: %w", et, err)
	}
	tr.Documents = len(docs)

	// Fingerprints are derived locally, so they are built inline.
	var stale []storage.Document
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if p.fingerprints.NeedsIndexing(doc.Ref, doc.Content, doc.UpdatedAt) {
			outcome, err := p.fingerprints.Index(ctx, index.FingerprintDocument{
				Ref:             doc.Ref,
				Fingerprint:     index.ExtractFingerprint(doc),
				Content:         doc.Content,
				SourceUpdatedAt: doc.UpdatedAt,
			})
			if err != nil {
				tr.FailedEntities++
				result.Errors = append(result.Errors, fmt.Sprintf("fingerprint %s: %v", doc.Ref, err))
				log.Warn().Err(err).Str("entity", doc.Ref.String()).Msg("Failed to index fingerprint")
			} else if outcome != index.OutcomeUnchanged {
				tr.Fingerprinted++
			} else {
				tr.FingerprintsUnchanged++
			}
		} else {
			tr.FingerprintsUnchanged++
		}

		if p.vectors.NeedsIndexing(doc.Ref, doc.Content, doc.UpdatedAt) {
			stale = append(stale, doc)
		} else {
			tr.EmbeddingsUnchanged++
		}
	}

	if len(stale) == 0 {
		if progress != nil {
			progress(Progress{EntityType: et, Done: 0, Total: 0})
		}
		log.Debug().Str("entity_type", string(et)).Msg("No stale embeddings")
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu    sync.Mutex
		wg    sync.WaitGroup
		fatal error
		done  int
	)
	report := func(n int) {
		done += n
		if progress != nil {
			progress(Progress{EntityType: et, Done: done, Total: len(stale)})
		}
	}

	for start := 0; start < len(stale); start += p.config.BatchSize {
		end := min(start+p.config.BatchSize, len(stale))
		batch := stale[start:end]

		if start > 0 && p.config.BatchDelay > 0 {
			if err := p.sleep(ctx, p.config.BatchDelay); err != nil {
				break
			}
		}

		wg.Add(1)
		submitErr := pool.Submit(func() {
			defer wg.Done()
			calls, embedded, err := p.embedBatch(ctx, batch)

			mu.Lock()
			defer mu.Unlock()
			result.APICalls += calls
			tr.Embedded += embedded
			if err != nil {
				if errors.Is(err, index.ErrDimensionMismatch) || errors.Is(err, embedding.ErrDimensionMismatch) {
					if fatal == nil {
						fatal = err
						cancel()
					}
					return
				}
				tr.FailedBatches++
				tr.FailedEntities += len(batch) - embedded
				result.Errors = append(result.Errors, fmt.Sprintf("%s batch at %d: %v", et, start, err))
				log.Error().Err(err).
					Str("entity_type", string(et)).
					Int("batch_start", start).
					Int("batch_size", len(batch)).
					Msg("Embedding batch failed, skipping")
			}
			report(len(batch))
		})
		if submitErr != nil {
			wg.Done()
			return fmt.Errorf("submit batch: %w", submitErr)
		}
	}
	wg.Wait()

	if fatal != nil {
		return fatal
	}
	return context.Cause(ctx)
}

// embedBatch embeds one batch with retries, then writes each vector. It
// returns the API calls made and the number of records written.
func (p *Pipeline) embedBatch(ctx context.Context, batch []storage.Document) (int, int, error) {
	texts := make([]string, len(batch))
	for i, doc := range batch {
		texts[i] = doc.Content
	}

	calls := 0
	var vectors [][]float32
	err := retry.Do(ctx, p.config.Retry, func(ctx context.Context) error {
		if err := p.limiter.Wait(ctx); err != nil {
			return retry.Permanent(err)
		}
		calls++
		out, err := p.embedder.Embed(ctx, texts)
		if err != nil {
			if errors.Is(err, embedding.ErrDimensionMismatch) {
				return retry.Permanent(err)
			}
			return err
		}
		vectors = out
		return nil
	}, func(attempt int, delay time.Duration, err error) {
		p.logger.Warn().Int("attempt", attempt).Dur("backoff", delay).Err(err).Msg("Embedding batch failed, retrying")
	})
	if err != nil {
		return calls, 0, err
	}

	written := 0
	for i, doc := range batch {
		outcome, err := p.vectors.Index(ctx, index.EmbeddingDocument{
			Ref:             doc.Ref,
			Vector:          vectors[i],
			Content:         doc.Content,
			Metadata:        metadataFor(doc),
			SourceUpdatedAt: doc.UpdatedAt,
		})
		if err != nil {
			return calls, written, fmt.Errorf("index %s: %w", doc.Ref, err)
		}
		if outcome != index.OutcomeUnchanged {
			written++
		}
	}
	return calls, written, nil
}

func metadataFor(doc storage.Document) map[string]any {
	md := map[string]any{}
	if doc.Attributes.PolicyArea != "" {
		md["policy_area"] = doc.Attributes.PolicyArea
	}
	if doc.Attributes.Chamber != "" {
		md["chamber"] = doc.Attributes.Chamber
	}
	if len(doc.Attributes.States) > 0 {
		md["states"] = doc.Attributes.States
	}
	if len(doc.Attributes.Parties) > 0 {
		md["parties"] = doc.Attributes.Parties
	}
	return md
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
