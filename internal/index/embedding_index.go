package index

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/observability"
	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/storage"
)

// EmbeddingStore persists embedding records.
type EmbeddingStore interface {
	Upsert(ctx context.Context, rec *storage.EmbeddingRecord) error
	List(ctx context.Context) ([]*storage.EmbeddingRecord, error)
}

// EmbeddingDocument is the input to EmbeddingIndex.Index.
type EmbeddingDocument struct {
	Ref             storage.EntityRef
	Vector          []float32
	Content         string
	Metadata        map[string]any
	SourceUpdatedAt time.Time
}

// EmbeddingIndex is an exhaustive cosine-similarity index over one embedding
// record per entity. It is safe for concurrent use.
type EmbeddingIndex struct {
	mu        sync.RWMutex
	dimension int
	entries   map[storage.EntityRef]*embeddingEntry
	store     EmbeddingStore
	now       func() time.Time
	logger    *observability.Logger
}

type embeddingEntry struct {
	rec  *storage.EmbeddingRecord
	norm float64
}

// NewEmbeddingIndex creates an empty index. store may be nil for a memory-only index.
func NewEmbeddingIndex(dimension int, store EmbeddingStore, logger *observability.Logger) (*EmbeddingIndex, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("embedding index dimension must be positive, got %d", dimension)
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &EmbeddingIndex{
		dimension: dimension,
		entries:   make(map[storage.EntityRef]*embeddingEntry),
		store:     store,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    logger.WithComponent("embedding_index"),
	}, nil
}

// Dimension returns the vector size every record must have.
func (x *EmbeddingIndex) Dimension() int {
	return x.dimension
}

// Len returns the number of indexed entities.
func (x *EmbeddingIndex) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.entries)
}

// Load replaces the in-memory state with the persisted records.
func (x *EmbeddingIndex) Load(ctx context.Context) (int, error) {
	if x.store == nil {
		return 0, nil
	}
	records, err := x.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("load embeddings: %w", err)
	}

	entries := make(map[storage.EntityRef]*embeddingEntry, len(records))
	for _, rec := range records {
		if len(rec.Vector) != x.dimension {
			return 0, fmt.Errorf("%w: stored %s has %d dimensions, index expects %d",
				ErrDimensionMismatch, rec.Ref(), len(rec.Vector), x.dimension)
		}
		entries[rec.Ref()] = &embeddingEntry{rec: rec, norm: norm(rec.Vector)}
	}

	x.mu.Lock()
	x.entries = entries
	x.mu.Unlock()

	x.logger.Info().Int("records", len(entries)).Msg("Embedding index loaded")
	return len(entries), nil
}

// Get returns the current record for ref.
func (x *EmbeddingIndex) Get(ref storage.EntityRef) (*storage.EmbeddingRecord, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	e, ok := x.entries[ref]
	if !ok {
		return nil, false
	}
	return e.rec, true
}

// NeedsIndexing reports whether content for ref differs from, or is newer than, the current record.
func (x *EmbeddingIndex) NeedsIndexing(ref storage.EntityRef, content string, sourceUpdatedAt time.Time) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.needsIndexingLocked(ref, ContentHash(content), sourceUpdatedAt)
}

func (x *EmbeddingIndex) needsIndexingLocked(ref storage.EntityRef, hash string, sourceUpdatedAt time.Time) bool {
	e, ok := x.entries[ref]
	if !ok {
		return true
	}
	return e.rec.ContentHash != hash || isStale(e.rec.UpdatedAt, sourceUpdatedAt)
}

// Index upserts the embedding for doc.Ref. Unchanged, non-stale content is a
// no-op that performs no store writes.
func (x *EmbeddingIndex) Index(ctx context.Context, doc EmbeddingDocument) (Outcome, error) {
	if len(doc.Vector) != x.dimension {
		return OutcomeUnchanged, fmt.Errorf("%w: %s has %d dimensions, index expects %d",
			ErrDimensionMismatch, doc.Ref, len(doc.Vector), x.dimension)
	}

	hash := ContentHash(doc.Content)

	x.mu.RLock()
	current, exists := x.entries[doc.Ref]
	needed := x.needsIndexingLocked(doc.Ref, hash, doc.SourceUpdatedAt)
	x.mu.RUnlock()

	if !needed {
		return OutcomeUnchanged, nil
	}

	now := x.now()
	rec := &storage.EmbeddingRecord{
		EntityType:    doc.Ref.Type,
		EntityID:      doc.Ref.ID,
		Vector:        append([]float32(nil), doc.Vector...),
		SourceContent: doc.Content,
		ContentHash:   hash,
		Metadata:      doc.Metadata,
		CreatedAt:     now,
		UpdatedAt:     laterOf(now, doc.SourceUpdatedAt),
	}
	outcome := OutcomeInserted
	if exists {
		rec.CreatedAt = current.rec.CreatedAt
		outcome = OutcomeUpdated
	}

	if x.store != nil {
		if err := x.store.Upsert(ctx, rec); err != nil {
			return OutcomeUnchanged, fmt.Errorf("persist embedding %s: %w", doc.Ref, err)
		}
	}

	x.mu.Lock()
	x.entries[doc.Ref] = &embeddingEntry{rec: rec, norm: norm(rec.Vector)}
	x.mu.Unlock()

	return outcome, nil
}

// Search returns up to opts.Limit entities whose cosine similarity to query is at
// least opts.Threshold, best first.
func (x *EmbeddingIndex) Search(ctx context.Context, query []float32, opts SearchOptions) ([]Hit, error) {
	if len(query) != x.dimension {
		return nil, fmt.Errorf("%w: query has %d dimensions, index expects %d",
			ErrDimensionMismatch, len(query), x.dimension)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	qn := norm(query)

	x.mu.RLock()
	hits := make([]Hit, 0, opts.limit())
	for ref, e := range x.entries {
		if !opts.accepts(ref.Type) {
			continue
		}
		score := 0.0
		if qn > 0 && e.norm > 0 {
			var dot float64
			for i, v := range e.rec.Vector {
				dot += float64(v) * float64(query[i])
			}
			score = dot / (qn * e.norm)
		}
		if score < opts.Threshold {
			continue
		}
		hits = append(hits, Hit{
			Ref:       ref,
			Score:     score,
			Content:   e.rec.SourceContent,
			UpdatedAt: e.rec.UpdatedAt,
			Metadata:  e.rec.Metadata,
		})
	}
	x.mu.RUnlock()

	sortHits(hits)
	if len(hits) > opts.limit() {
		hits = hits[:opts.limit()]
	}
	return hits, nil
}
