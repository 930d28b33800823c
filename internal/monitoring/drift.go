// Package monitoring audits the persisted similarity indexes against the
// corpus they were built from.
package monitoring

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/index"
	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/observability"
	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/storage"
)

// DocumentSource lists the current corpus documents of one entity type.
type DocumentSource interface {
	ListDocuments(ctx context.Context, entityType storage.EntityType) ([]storage.Document, error)
}

// EmbeddingStore lists persisted embedding records.
type EmbeddingStore interface {
	List(ctx context.Context) ([]*storage.EmbeddingRecord, error)
}

// FingerprintStore lists persisted fingerprint records.
type FingerprintStore interface {
	List(ctx context.Context) ([]*storage.FingerprintRecord, error)
}

// IndexName identifies which index a finding belongs to.
type IndexName string

const (
	IndexEmbedding   IndexName = "embedding"
	IndexFingerprint IndexName = "fingerprint"
)

// FindingKind classifies a drift finding.
type FindingKind string

const (
	// FindingMissing: the entity exists in the corpus but has no record.
	FindingMissing FindingKind = "missing"
	// FindingStale: the record is older than the entity's last modification.
	FindingStale FindingKind = "stale"
	// FindingChanged: the entity content no longer hashes to the record's hash.
	FindingChanged FindingKind = "changed"
	// FindingOrphaned: the record points at an entity no longer in the corpus.
	FindingOrphaned FindingKind = "orphaned"
	// FindingDimension: the stored vector has the wrong size.
	FindingDimension FindingKind = "dimension"
)

// Finding is one detected discrepancy.
type Finding struct {
	Index  IndexName         `json:"index"`
	Kind   FindingKind       `json:"kind"`
	Ref    storage.EntityRef `json:"ref"`
	Detail string            `json:"detail,omitempty"`
}

// TypeSummary holds per-entity-type counts.
type TypeSummary struct {
	EntityType   storage.EntityType `json:"entity_type"`
	Documents    int                `json:"documents"`
	Embeddings   int                `json:"embeddings"`
	Fingerprints int                `json:"fingerprints"`
	LatestUpdate time.Time          `json:"latest_update"`
	// CorpusStale is set when the newest document is older than the freshness threshold.
	CorpusStale bool `json:"corpus_stale"`
}

// DriftReport is the result of one check.
type DriftReport struct {
	CheckedAt time.Time      `json:"checked_at"`
	Types     []TypeSummary  `json:"types"`
	Findings  []Finding      `json:"findings"`
	ByKind    map[string]int `json:"by_kind"`
}

// Healthy reports whether no findings or stale corpora were detected.
func (r *DriftReport) Healthy() bool {
	if len(r.Findings) > 0 {
		return false
	}
	for _, t := range r.Types {
		if t.CorpusStale {
			return false
		}
	}
	return true
}

// DriftConfig holds drift detection configuration.
type DriftConfig struct {
	Dimension          int           // expected vector size; 0 skips the check
	FreshnessThreshold time.Duration // 0 disables corpus staleness
}

// DriftRunner compares index records with the corpus.
type DriftRunner struct {
	logger       *observability.Logger
	source       DocumentSource
	embeddings   EmbeddingStore
	fingerprints FingerprintStore
	config       DriftConfig
	now          func() time.Time
}

// NewDriftRunner creates a new drift runner.
func NewDriftRunner(logger *observability.Logger, source DocumentSource, embeddings EmbeddingStore, fingerprints FingerprintStore, cfg DriftConfig) *DriftRunner {
	return &DriftRunner{
		logger:       logger,
		source:       source,
		embeddings:   embeddings,
		fingerprints: fingerprints,
		config:       cfg,
		now:          time.Now,
	}
}

// WithClock overrides the clock used for corpus freshness.
func (d *DriftRunner) WithClock(now func() time.Time) *DriftRunner {
	d.now = now
	return d
}

type recordInfo struct {
	hash      string
	updatedAt time.Time
}

// RunCheck audits both indexes for the given entity types.
func (d *DriftRunner) RunCheck(ctx context.Context, types []storage.EntityType) (*DriftReport, error) {
	report := &DriftReport{
		CheckedAt: d.now().UTC(),
		ByKind:    make(map[string]int),
	}

	embRecords, err := d.embeddings.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list embeddings: %w", err)
	}
	fpRecords, err := d.fingerprints.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list fingerprints: %w", err)
	}

	embByRef := make(map[storage.EntityRef]recordInfo, len(embRecords))
	for _, rec := range embRecords {
		embByRef[rec.Ref()] = recordInfo{hash: rec.ContentHash, updatedAt: rec.UpdatedAt}
		if d.config.Dimension > 0 && len(rec.Vector) != d.config.Dimension {
			report.add(Finding{
				Index:  IndexEmbedding,
				Kind:   FindingDimension,
				Ref:    rec.Ref(),
				Detail: fmt.Sprintf("got %d, want %d", len(rec.Vector), d.config.Dimension),
			})
		}
	}
	fpByRef := make(map[storage.EntityRef]recordInfo, len(fpRecords))
	for _, rec := range fpRecords {
		fpByRef[rec.Ref()] = recordInfo{hash: rec.ContentHash, updatedAt: rec.UpdatedAt}
	}

	checked := make(map[storage.EntityType]bool, len(types))
	for _, et := range types {
		checked[et] = true
		docs, err := d.source.ListDocuments(ctx, et)
		if err != nil {
			return nil, fmt.Errorf("list %s documents: %w", et, err)
		}

		summary := TypeSummary{EntityType: et, Documents: len(docs)}
		for _, doc := range docs {
			if doc.UpdatedAt.After(summary.LatestUpdate) {
				summary.LatestUpdate = doc.UpdatedAt
			}
			hash := index.ContentHash(doc.Content)
			if rec, ok := embByRef[doc.Ref]; ok {
				summary.Embeddings++
				report.compare(IndexEmbedding, doc, hash, rec)
			} else {
				report.add(Finding{Index: IndexEmbedding, Kind: FindingMissing, Ref: doc.Ref})
			}
			if rec, ok := fpByRef[doc.Ref]; ok {
				summary.Fingerprints++
				report.compare(IndexFingerprint, doc, hash, rec)
			} else {
				report.add(Finding{Index: IndexFingerprint, Kind: FindingMissing, Ref: doc.Ref})
			}
			delete(embByRef, doc.Ref)
			delete(fpByRef, doc.Ref)
		}
		if d.config.FreshnessThreshold > 0 && len(docs) > 0 {
			summary.CorpusStale = d.now().Sub(summary.LatestUpdate) > d.config.FreshnessThreshold
		}
		report.Types = append(report.Types, summary)
	}

	// Whatever is left was not matched by a corpus document of a checked type.
	for ref := range embByRef {
		if checked[ref.Type] {
			report.add(Finding{Index: IndexEmbedding, Kind: FindingOrphaned, Ref: ref})
		}
	}
	for ref := range fpByRef {
		if checked[ref.Type] {
			report.add(Finding{Index: IndexFingerprint, Kind: FindingOrphaned, Ref: ref})
		}
	}
	report.sort()

	d.logger.Info().
		Int("findings", len(report.Findings)).
		Int("missing", report.ByKind[string(FindingMissing)]).
		Int("stale", report.ByKind[string(FindingStale)]).
		Int("orphaned", report.ByKind[string(FindingOrphaned)]).
		Bool("healthy", report.Healthy()).
		Msg("Drift check completed")

	return report, nil
}

func (r *DriftReport) compare(name IndexName, doc storage.Document, hash string, rec recordInfo) {
	switch {
	case !doc.UpdatedAt.IsZero() && rec.updatedAt.Before(doc.UpdatedAt):
		r.add(Finding{
			Index:  name,
			Kind:   FindingStale,
			Ref:    doc.Ref,
			Detail: fmt.Sprintf("indexed %s, modified %s", rec.updatedAt.Format(time.RFC3339), doc.UpdatedAt.Format(time.RFC3339)),
		})
	case rec.hash != hash:
		r.add(Finding{Index: name, Kind: FindingChanged, Ref: doc.Ref})
	}
}

func (r *DriftReport) add(f Finding) {
	r.Findings = append(r.Findings, f)
	r.ByKind[string(f.Kind)]++
}

func (r *DriftReport) sort() {
	sort.SliceStable(r.Findings, func(i, j int) bool {
		a, b := r.Findings[i], r.Findings[j]
		if a.Index != b.Index {
			return a.Index < b.Index
		}
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		return a.Ref.String() < b.Ref.String()
	})
}
