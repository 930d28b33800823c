// Package evidence merges retrieval results from every path into a single
// deduplicated, ranked bundle.
package evidence

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/executor"
	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/index"
	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/observability"
	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/storage"
)

// Kind tags where an item came from.
type Kind string

const (
	KindEmbedding   Kind = "embedding"
	KindFingerprint Kind = "fingerprint"
	KindQueryRow    Kind = "query_row"
)

// Source labels.
const (
	SourceEmbedding        = "embedding"
	SourceFingerprint      = "fingerprint"
	SourceEntityResolution = "entity_resolution"
	querySourcePrefix      = "query:"
)

// QuerySource is the source label for rows produced by a plan.
func QuerySource(plan string) string { return querySourcePrefix + plan }

// Item is one piece of evidence. Ref is nil for aggregate rows.
type Item struct {
	Kind      Kind               `json:"kind"`
	Key       string             `json:"key"`
	Ref       *storage.EntityRef `json:"ref,omitempty"`
	Score     float64            `json:"score"`
	Source    string             `json:"source"`
	Sources   []string           `json:"sources"`
	Content   string             `json:"content,omitempty"`
	Fields    map[string]any     `json:"fields,omitempty"`
	UpdatedAt time.Time          `json:"updated_at,omitempty"`
}

// Bundle is the merged evidence handed to generation.
type Bundle struct {
	Items          []Item   `json:"items"`
	TotalCount     int      `json:"total_count"`
	AverageQuality float64  `json:"average_quality"`
	SourcesUsed    []string `json:"sources_used"`
}

// Empty reports whether the bundle has no items.
func (b *Bundle) Empty() bool { return b == nil || len(b.Items) == 0 }

// Refs returns the entity refs in rank order.
func (b *Bundle) Refs() []storage.EntityRef {
	var out []storage.EntityRef
	for _, it := range b.Items {
		if it.Ref != nil {
			out = append(out, *it.Ref)
		}
	}
	return out
}

// Inputs are the raw outputs of one retrieval stage.
type Inputs struct {
	Pinned      []Item
	Embedding   []index.Hit
	Fingerprint []index.Hit
	Queries     []executor.QueryResult
}

// Merger builds bundles.
type Merger struct {
	maxItems int
	logger   *observability.Logger
}

// NewMerger creates a merger keeping at most maxItems items.
func NewMerger(maxItems int, logger *observability.Logger) *Merger {
	if maxItems <= 0 {
		maxItems = 30
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Merger{maxItems: maxItems, logger: logger.WithComponent("evidence")}
}

// Merge normalizes, deduplicates and ranks the inputs. Errored query results
// are skipped.
func (m *Merger) Merge(in Inputs) *Bundle {
	byKey := make(map[string]*Item)
	var order []string

	add := func(it Item) {
		it.Score = clamp(it.Score)
		if it.Sources == nil {
			it.Sources = []string{it.Source}
		}
		existing, ok := byKey[it.Key]
		if !ok {
			byKey[it.Key] = &it
			order = append(order, it.Key)
			return
		}
		mergeInto(existing, it)
	}

	for _, it := range in.Pinned {
		if it.Key == "" && it.Ref != nil {
			it.Key = it.Ref.String()
		}
		add(it)
	}
	for _, h := range in.Embedding {
		add(hitItem(KindEmbedding, SourceEmbedding, h))
	}
	for _, h := range in.Fingerprint {
		add(hitItem(KindFingerprint, SourceFingerprint, h))
	}
	for _, res := range in.Queries {
		if !res.OK() {
			continue
		}
		score := res.QualityScore / 100
		for i, row := range res.Rows {
			add(rowItem(res.PlanName, i, row, score))
		}
	}

	items := make([]Item, 0, len(order))
	for _, k := range order {
		it := byKey[k]
		sort.Strings(it.Sources)
		items = append(items, *it)
	}
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Score != items[j].Score {
			return items[i].Score > items[j].Score
		}
		return items[i].Key < items[j].Key
	})

	bundle := &Bundle{TotalCount: len(items)}
	if len(items) > m.maxItems {
		items = items[:m.maxItems]
	}
	bundle.Items = items

	sources := map[string]bool{}
	var sum float64
	for _, it := range items {
		sum += it.Score
		for _, s := range it.Sources {
			sources[s] = true
		}
	}
	if len(items) > 0 {
		bundle.AverageQuality = sum / float64(len(items))
	}
	for s := range sources {
		bundle.SourcesUsed = append(bundle.SourcesUsed, s)
	}
	sort.Strings(bundle.SourcesUsed)

	m.logger.Debug().
		Int("items", len(bundle.Items)).
		Int("total", bundle.TotalCount).
		Float64("average_quality", bundle.AverageQuality).
		Strs("sources", bundle.SourcesUsed).
		Msg("Merged evidence")

	return bundle
}

// mergeInto keeps the higher-scoring item and the union of sources.
func mergeInto(dst *Item, src Item) {
	sources := unionSources(dst.Sources, src.Sources)
	if src.Score > dst.Score {
		if src.Content == "" {
			src.Content = dst.Content
		}
		src.Fields = mergeFields(src.Fields, dst.Fields)
		*dst = src
	} else {
		if dst.Content == "" {
			dst.Content = src.Content
		}
		dst.Fields = mergeFields(dst.Fields, src.Fields)
	}
	dst.Sources = sources
}

func hitItem(kind Kind, source string, h index.Hit) Item {
	ref := h.Ref
	return Item{
		Kind:      kind,
		Key:       ref.String(),
		Ref:       &ref,
		Score:     h.Score,
		Source:    source,
		Content:   h.Content,
		Fields:    h.Metadata,
		UpdatedAt: h.UpdatedAt,
	}
}

func rowItem(plan string, i int, row executor.Row, score float64) Item {
	it := Item{
		Kind:    KindQueryRow,
		Ref:     row.Ref,
		Score:   score,
		Source:  QuerySource(plan),
		Content: RenderFields(row.Fields),
		Fields:  row.Fields,
	}
	if row.Ref != nil {
		it.Key = row.Ref.String()
	} else {
		it.Key = fmt.Sprintf("%s#%d", plan, i)
	}
	if row.Timestamp != nil {
		it.UpdatedAt = *row.Timestamp
	}
	return it
}

// RenderFields renders a row as "key: value" pairs in a stable order.
func RenderFields(fields map[string]any) string {
	keys := make([]string, 0, len(fields))
	for k, v := range fields {
		if k == "entity_type" || k == "entity_id" || v == nil {
			continue
		}
		if s, ok := v.(string); ok && s == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		v := fields[k]
		if t, ok := v.(time.Time); ok {
			v = t.Format("2006-01-02")
		}
		parts[i] = fmt.Sprintf("%s: %v", k, v)
	}
	return strings.Join(parts, "; ")
}

func unionSources(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for _, s := range append(append([]string{}, a...), b...) {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func mergeFields(primary, secondary map[string]any) map[string]any {
	if len(secondary) == 0 {
		return primary
	}
	out := make(map[string]any, len(primary)+len(secondary))
	for k, v := range secondary {
		out[k] = v
	}
	for k, v := range primary {
		out[k] = v
	}
	return out
}

func clamp(s float64) float64 {
	switch {
	case s < 0:
		return 0
	case s > 1:
		return 1
	}
	return s
}
