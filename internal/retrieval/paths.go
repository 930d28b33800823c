package retrieval

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/evidence"
	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/executor"
	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/index"
	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/intent"
	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/observability"
	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/planner"
	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/storage"
)

// QueryEmbedder embeds the question for vector search.
type QueryEmbedder interface {
	EmbedSingle(ctx context.Context, text string) ([]float32, error)
}

// EmbeddingSearcher is the dense vector index.
type EmbeddingSearcher interface {
	Search(ctx context.Context, query []float32, opts index.SearchOptions) ([]index.Hit, error)
	Get(ref storage.EntityRef) (*storage.EmbeddingRecord, bool)
}

// FingerprintSearcher is the structured attribute index.
type FingerprintSearcher interface {
	Search(ctx context.Context, query storage.Fingerprint, opts index.SearchOptions) ([]index.Hit, error)
}

// QueryPlanner produces query plans.
type QueryPlanner interface {
	Plan(c intent.Classification, categories []intent.Category) []planner.QueryPlan
	GenericPlans() []planner.QueryPlan
}

// QueryExecutor runs query plans.
type QueryExecutor interface {
	ExecuteAll(ctx context.Context, plans []planner.QueryPlan) []executor.QueryResult
}

// EntityResolver maps natural keys to entity IDs.
type EntityResolver interface {
	Lookup(ctx context.Context, entityType storage.EntityType, naturalKey string) (string, error)
}

// Paths wires the three retrieval paths: embedding search, fingerprint search
// and planned structured queries.
type Paths struct {
	Embedder     QueryEmbedder
	Vectors      EmbeddingSearcher
	Fingerprints FingerprintSearcher
	Planner      QueryPlanner
	Executor     QueryExecutor
	Resolver     EntityResolver
	Merger       *evidence.Merger
	Logger       *observability.Logger
}

// ForRequest returns a runner that embeds the question at most once.
func (p *Paths) ForRequest() StageRunner {
	logger := p.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}
	merger := p.Merger
	if merger == nil {
		merger = evidence.NewMerger(0, logger)
	}
	return &requestRunner{paths: p, merger: merger, logger: logger.WithComponent("retrieval")}
}

type requestRunner struct {
	paths  *Paths
	merger *evidence.Merger
	logger *observability.Logger

	embedOnce sync.Once
	vector    Result[[]float32]
}

func (r *requestRunner) queryVector(ctx context.Context, question string) Result[[]float32] {
	r.embedOnce.Do(func() {
		if r.paths.Embedder == nil {
			r.vector = Fail[[]float32](errors.New("no embedder configured"))
			return
		}
		r.vector = FromPair(r.paths.Embedder.EmbedSingle(ctx, question))
	})
	return r.vector
}

// RunStage runs the requested paths concurrently and merges what they return.
func (r *requestRunner) RunStage(ctx context.Context, question string, c intent.Classification, req StageRequest) StageResult {
	log := r.logger.WithContext(ctx).WithStage(string(req.Stage))
	opts := index.SearchOptions{Limit: req.SearchLimit, Threshold: req.SearchThreshold}

	var (
		embedding   *Result[[]index.Hit]
		fingerprint *Result[[]index.Hit]
		pinned      *Result[[]evidence.Item]
		queries     []executor.QueryResult
	)

	var plans []planner.QueryPlan
	switch {
	case req.GenericPlans && r.paths.Planner != nil:
		plans = r.paths.Planner.GenericPlans()
	case req.Categories != nil && r.paths.Planner != nil:
		plans = r.paths.Planner.Plan(c, req.Categories)
	}

	var g errgroup.Group
	if req.Search && r.paths.Vectors != nil {
		g.Go(func() error {
			res := r.searchEmbeddings(ctx, question, opts)
			embedding = &res
			return nil
		})
	}
	if fp := index.QueryFingerprint(c); req.Search && r.paths.Fingerprints != nil && !fp.IsEmpty() {
		g.Go(func() error {
			res := FromPair(r.paths.Fingerprints.Search(ctx, fp, opts))
			fingerprint = &res
			return nil
		})
	}
	if req.PinResolved && c.Params.Bill != nil && r.paths.Resolver != nil && r.paths.Vectors != nil {
		g.Go(func() error {
			res := r.pinResolvedBill(ctx, c)
			pinned = &res
			return nil
		})
	}
	if len(plans) > 0 && r.paths.Executor != nil {
		g.Go(func() error {
			queries = r.paths.Executor.ExecuteAll(ctx, plans)
			return nil
		})
	}
	_ = g.Wait()

	var out StageResult
	var in evidence.Inputs

	record := func(op string, err error) {
		out.Failed++
		e := classify(op, KindRetrieval, err)
		out.Errors = append(out.Errors, e)
		log.Warn().Err(err).Str("path", op).Msg("Retrieval path failed")
	}

	if embedding != nil {
		out.Attempted++
		if hits, err := embedding.Unwrap(); err != nil {
			record("embedding_search", err)
		} else {
			in.Embedding = append(in.Embedding, hits...)
		}
	}
	if fingerprint != nil {
		out.Attempted++
		if hits, err := fingerprint.Unwrap(); err != nil {
			record("fingerprint_search", err)
		} else {
			in.Fingerprint = append(in.Fingerprint, hits...)
		}
	}
	if pinned != nil {
		out.Attempted++
		if items, err := pinned.Unwrap(); err != nil {
			record("entity_resolution", err)
		} else {
			in.Pinned = append(in.Pinned, items...)
		}
	}
	if len(plans) > 0 && r.paths.Executor != nil {
		out.Attempted++
		failed := 0
		for i, res := range queries {
			out.Plans = append(out.Plans, plans[i].Name)
			if res.Err != nil {
				failed++
				out.Errors = append(out.Errors, &Error{Kind: KindQueryExecution, Op: "execute " + res.PlanName, Err: res.Err})
			}
		}
		if failed == len(queries) {
			out.Failed++
		}
		in.Queries = append(in.Queries, queries...)
	}

	out.Inputs = in
	out.Bundle = r.merger.Merge(in)
	return out
}

func (r *requestRunner) searchEmbeddings(ctx context.Context, question string, opts index.SearchOptions) Result[[]index.Hit] {
	vec, err := r.queryVector(ctx, question).Unwrap()
	if err != nil {
		return Fail[[]index.Hit](err)
	}
	return FromPair(r.paths.Vectors.Search(ctx, vec, opts))
}

// pinResolvedBill resolves the bill named in the question and pins its indexed
// content with full confidence.
func (r *requestRunner) pinResolvedBill(ctx context.Context, c intent.Classification) Result[[]evidence.Item] {
	ref, _ := c.Params.BillRef()
	id, err := r.paths.Resolver.Lookup(ctx, storage.EntityBill, ref.Key())
	if errors.Is(err, storage.ErrNotFound) {
		return Ok[[]evidence.Item](nil)
	}
	if err != nil {
		return Fail[[]evidence.Item](err)
	}

	entity := storage.EntityRef{Type: storage.EntityBill, ID: id}
	rec, ok := r.paths.Vectors.Get(entity)
	if !ok {
		return Ok[[]evidence.Item](nil)
	}
	return Ok([]evidence.Item{{
		Kind:      evidence.KindEmbedding,
		Ref:       &entity,
		Score:     1,
		Source:    evidence.SourceEntityResolution,
		Content:   rec.SourceContent,
		Fields:    rec.Metadata,
		UpdatedAt: rec.UpdatedAt,
	}})
}
