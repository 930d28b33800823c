package index

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/observability"
	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/storage"
)

// FingerprintWeights weights the three set overlaps. Topics, PolicyAreas and
// Entities must sum to 1.0; ScopeBonus is added when scopes match.
type FingerprintWeights struct {
	Topics      float64
	PolicyAreas float64
	Entities    float64
	ScopeBonus  float64
}

// DefaultFingerprintWeights returns the weights used when none are configured.
func DefaultFingerprintWeights() FingerprintWeights {
	return FingerprintWeights{Topics: 0.4, PolicyAreas: 0.35, Entities: 0.25, ScopeBonus: 0.1}
}

// Validate checks the weights.
func (w FingerprintWeights) Validate() error {
	if w.Topics < 0 || w.PolicyAreas < 0 || w.Entities < 0 || w.ScopeBonus < 0 {
		return fmt.Errorf("fingerprint weights must not be negative")
	}
	if sum := w.Topics + w.PolicyAreas + w.Entities; math.Abs(sum-1) > 1e-6 {
		return fmt.Errorf("fingerprint weights must sum to 1.0, got %.4f", sum)
	}
	return nil
}

// FingerprintStore persists fingerprint records.
type FingerprintStore interface {
	Upsert(ctx context.Context, rec *storage.FingerprintRecord) error
	List(ctx context.Context) ([]*storage.FingerprintRecord, error)
}

// FingerprintDocument is the input to FingerprintIndex.Index.
type FingerprintDocument struct {
	Ref             storage.EntityRef
	Fingerprint     storage.Fingerprint
	Content         string
	SourceUpdatedAt time.Time
}

// FingerprintIndex scores entities by weighted Jaccard overlap of their
// topics, policy areas and named entities. It is safe for concurrent use.
type FingerprintIndex struct {
	mu      sync.RWMutex
	weights FingerprintWeights
	records map[storage.EntityRef]*storage.FingerprintRecord
	store   FingerprintStore
	now     func() time.Time
	logger  *observability.Logger
}

// NewFingerprintIndex creates an empty index. store may be nil for a memory-only index.
func NewFingerprintIndex(weights FingerprintWeights, store FingerprintStore, logger *observability.Logger) (*FingerprintIndex, error) {
	if err := weights.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &FingerprintIndex{
		weights: weights,
		records: make(map[storage.EntityRef]*storage.FingerprintRecord),
		store:   store,
		now:     func() time.Time { return time.Now().UTC() },
		logger:  logger.WithComponent("fingerprint_index"),
	}, nil
}

// Len returns the number of indexed entities.
func (x *FingerprintIndex) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.records)
}

// Load replaces the in-memory state with the persisted records.
func (x *FingerprintIndex) Load(ctx context.Context) (int, error) {
	if x.store == nil {
		return 0, nil
	}
	records, err := x.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("load fingerprints: %w", err)
	}

	m := make(map[storage.EntityRef]*storage.FingerprintRecord, len(records))
	for _, rec := range records {
		rec.Fingerprint = Normalize(rec.Fingerprint)
		m[rec.Ref()] = rec
	}

	x.mu.Lock()
	x.records = m
	x.mu.Unlock()

	x.logger.Info().Int("records", len(m)).Msg("Fingerprint index loaded")
	return len(m), nil
}

// Get returns the current record for ref.
func (x *FingerprintIndex) Get(ref storage.EntityRef) (*storage.FingerprintRecord, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	rec, ok := x.records[ref]
	return rec, ok
}

// NeedsIndexing reports whether content for ref differs from, or is newer than, the current record.
func (x *FingerprintIndex) NeedsIndexing(ref storage.EntityRef, content string, sourceUpdatedAt time.Time) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	rec, ok := x.records[ref]
	if !ok {
		return true
	}
	return rec.ContentHash != ContentHash(content) || isStale(rec.UpdatedAt, sourceUpdatedAt)
}

// Index upserts the fingerprint for doc.Ref. Unchanged, non-stale content is a no-op.
func (x *FingerprintIndex) Index(ctx context.Context, doc FingerprintDocument) (Outcome, error) {
	if !x.NeedsIndexing(doc.Ref, doc.Content, doc.SourceUpdatedAt) {
		return OutcomeUnchanged, nil
	}

	now := x.now()
	rec := &storage.FingerprintRecord{
		EntityType:    doc.Ref.Type,
		EntityID:      doc.Ref.ID,
		Fingerprint:   Normalize(doc.Fingerprint),
		SourceContent: doc.Content,
		ContentHash:   ContentHash(doc.Content),
		CreatedAt:     now,
		UpdatedAt:     laterOf(now, doc.SourceUpdatedAt),
	}

	outcome := OutcomeInserted
	if current, ok := x.Get(doc.Ref); ok {
		rec.CreatedAt = current.CreatedAt
		outcome = OutcomeUpdated
	}

	if x.store != nil {
		if err := x.store.Upsert(ctx, rec); err != nil {
			return OutcomeUnchanged, fmt.Errorf("persist fingerprint %s: %w", doc.Ref, err)
		}
	}

	x.mu.Lock()
	x.records[doc.Ref] = rec
	x.mu.Unlock()

	return outcome, nil
}

// Score computes the weighted Jaccard similarity of two normalized fingerprints,
// divided by 1+ScopeBonus so the result stays within [0,1].
func (x *FingerprintIndex) Score(a, b storage.Fingerprint) float64 {
	return Score(x.weights, a, b)
}

// Score is the weighted Jaccard similarity under weights w.
func Score(w FingerprintWeights, a, b storage.Fingerprint) float64 {
	return combine(w, overlap(w, a, b), a, b)
}

func overlap(w FingerprintWeights, a, b storage.Fingerprint) float64 {
	return w.Topics*Jaccard(a.Topics, b.Topics) +
		w.PolicyAreas*Jaccard(a.PolicyAreas, b.PolicyAreas) +
		w.Entities*Jaccard(a.Entities, b.Entities)
}

func combine(w FingerprintWeights, s float64, a, b storage.Fingerprint) float64 {
	if a.Scope != "" && a.Scope == b.Scope {
		s += w.ScopeBonus
	}
	return s / (1 + w.ScopeBonus)
}

// Search returns up to opts.Limit entities scoring at least opts.Threshold against query, best first.
func (x *FingerprintIndex) Search(ctx context.Context, query storage.Fingerprint, opts SearchOptions) ([]Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	query = Normalize(query)
	if len(query.Topics) == 0 && len(query.PolicyAreas) == 0 && len(query.Entities) == 0 {
		return nil, nil
	}

	x.mu.RLock()
	var hits []Hit
	for ref, rec := range x.records {
		if !opts.accepts(ref.Type) {
			continue
		}
		// A shared scope alone is not evidence of relevance.
		base := overlap(x.weights, query, rec.Fingerprint)
		if base <= 0 {
			continue
		}
		score := combine(x.weights, base, query, rec.Fingerprint)
		if score < opts.Threshold {
			continue
		}
		hits = append(hits, Hit{
			Ref:       ref,
			Score:     score,
			Content:   rec.SourceContent,
			UpdatedAt: rec.UpdatedAt,
		})
	}
	x.mu.RUnlock()

	sortHits(hits)
	if len(hits) > opts.limit() {
		hits = hits[:opts.limit()]
	}
	return hits, nil
}

// Normalize canonicalizes every set of a fingerprint.
func Normalize(f storage.Fingerprint) storage.Fingerprint {
	return storage.Fingerprint{
		Topics:      NormalizeSet(f.Topics),
		PolicyAreas: NormalizeSet(f.PolicyAreas),
		Entities:    NormalizeSet(f.Entities),
		Scope:       f.Scope,
	}
}
