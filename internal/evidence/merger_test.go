package evidence

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/executor"
	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/index"
	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/storage"
)

func billRef(id string) storage.EntityRef {
	return storage.EntityRef{Type: storage.EntityBill, ID: id}
}

func TestMerge_DedupesAcrossPaths(t *testing.T) {
	m := NewMerger(10, nil)
	bundle := m.Merge(Inputs{
		Embedding: []index.Hit{
			{Ref: billRef("118-hr-1234"), Score: 0.82, Content: "Affordable Insulin Act"},
			{Ref: billRef("118-s-77"), Score: 0.4},
		},
		Fingerprint: []index.Hit{
			{Ref: billRef("118-hr-1234"), Score: 0.9},
		},
	})

	require.Len(t, bundle.Items, 2)
	top := bundle.Items[0]
	assert.Equal(t, "bill:118-hr-1234", top.Key)
	assert.Equal(t, 0.9, top.Score)
	assert.Equal(t, SourceFingerprint, top.Source)
	assert.Equal(t, []string{SourceEmbedding, SourceFingerprint}, top.Sources)
	assert.Equal(t, "Affordable Insulin Act", top.Content)
	assert.Equal(t, []string{SourceEmbedding, SourceFingerprint}, bundle.SourcesUsed)
	assert.InDelta(t, 0.65, bundle.AverageQuality, 1e-9)
}

func TestMerge_QueryRows(t *testing.T) {
	ref := billRef("118-hr-1234")
	bundle := NewMerger(10, nil).Merge(Inputs{
		Queries: []executor.QueryResult{
			{
				PlanName:     "bill_lookup",
				QualityScore: 80,
				Rows: []executor.Row{
					{Ref: &ref, Fields: map[string]any{"entity_type": "bill", "entity_id": "118-hr-1234", "title": "Affordable Insulin Act", "status": ""}},
				},
			},
			{
				PlanName:     "bill_count",
				QualityScore: 60,
				Rows:         []executor.Row{{Fields: map[string]any{"bill_count": int64(2)}}},
			},
			{
				PlanName: "broken",
				Err:      errors.New("no such table"),
				Rows:     []executor.Row{{Fields: map[string]any{"x": 1}}},
			},
		},
	})

	require.Len(t, bundle.Items, 2)
	assert.Equal(t, KindQueryRow, bundle.Items[0].Kind)
	assert.Equal(t, 0.8, bundle.Items[0].Score)
	assert.Equal(t, "title: Affordable Insulin Act", bundle.Items[0].Content)
	assert.Equal(t, "bill_count#0", bundle.Items[1].Key)
	assert.Nil(t, bundle.Items[1].Ref)
	assert.Equal(t, []string{"query:bill_count", "query:bill_lookup"}, bundle.SourcesUsed)
}

func TestMerge_AggregateRowsNeverCollide(t *testing.T) {
	rows := []executor.Row{{Fields: map[string]any{"n": 1}}, {Fields: map[string]any{"n": 2}}}
	bundle := NewMerger(10, nil).Merge(Inputs{
		Queries: []executor.QueryResult{
			{PlanName: "a", QualityScore: 50, Rows: rows},
			{PlanName: "b", QualityScore: 50, Rows: rows},
		},
	})
	assert.Len(t, bundle.Items, 4)
}

func TestMerge_PinnedAndCap(t *testing.T) {
	ref := billRef("118-hr-1234")
	var hits []index.Hit
	for _, id := range []string{"a", "b", "c", "d"} {
		hits = append(hits, index.Hit{Ref: billRef(id), Score: 0.5})
	}

	bundle := NewMerger(3, nil).Merge(Inputs{
		Pinned:    []Item{{Kind: KindEmbedding, Ref: &ref, Score: 1, Source: SourceEntityResolution}},
		Embedding: hits,
	})

	assert.Equal(t, 5, bundle.TotalCount)
	require.Len(t, bundle.Items, 3)
	assert.Equal(t, "bill:118-hr-1234", bundle.Items[0].Key)
	assert.Equal(t, []string{"bill:a", "bill:b"}, []string{bundle.Items[1].Key, bundle.Items[2].Key})
	assert.Equal(t, []storage.EntityRef{ref, billRef("a"), billRef("b")}, bundle.Refs())
}

func TestMerge_ClampsScores(t *testing.T) {
	bundle := NewMerger(10, nil).Merge(Inputs{
		Embedding: []index.Hit{{Ref: billRef("x"), Score: 1.3}, {Ref: billRef("y"), Score: -0.2}},
	})
	assert.Equal(t, 1.0, bundle.Items[0].Score)
	assert.Equal(t, 0.0, bundle.Items[1].Score)
}

func TestMerge_Empty(t *testing.T) {
	bundle := NewMerger(10, nil).Merge(Inputs{})
	assert.True(t, bundle.Empty())
	assert.Zero(t, bundle.AverageQuality)
}
