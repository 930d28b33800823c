// Package index holds the in-memory similarity indexes over corpus entities:
// dense embeddings searched by cosine similarity and structured fingerprints
// searched by weighted set overlap.
package index

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/storage"
)

// ErrDimensionMismatch indicates a vector of the wrong size was indexed or queried.
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// Hit is one search result.
type Hit struct {
	Ref       storage.EntityRef
	Score     float64
	Content   string
	UpdatedAt time.Time
	Metadata  map[string]any
}

// SearchOptions bounds a search.
type SearchOptions struct {
	EntityTypes []storage.EntityType // empty means all
	Limit       int
	Threshold   float64
}

const defaultSearchLimit = 10

func (o SearchOptions) limit() int {
	if o.Limit <= 0 {
		return defaultSearchLimit
	}
	return o.Limit
}

func (o SearchOptions) accepts(t storage.EntityType) bool {
	if len(o.EntityTypes) == 0 {
		return true
	}
	for _, et := range o.EntityTypes {
		if et == t {
			return true
		}
	}
	return false
}

// Outcome reports what an Index call did.
type Outcome int

const (
	OutcomeUnchanged Outcome = iota
	OutcomeInserted
	OutcomeUpdated
)

func (o Outcome) String() string {
	switch o {
	case OutcomeInserted:
		return "inserted"
	case OutcomeUpdated:
		return "updated"
	}
	return "unchanged"
}

// ContentHash is the hex sha256 of the source content.
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// CosineSimilarity returns dot(a,b)/(|a||b|). Zero vectors score 0.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", ErrDimensionMismatch, len(a), len(b))
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb)), nil
}

func norm(v []float32) float64 {
	var s float64
	for _, x := range v {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}

// Jaccard returns |a∩b|/|a∪b| over normalized sets. Two empty sets score 0.
func Jaccard(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	set := make(map[string]struct{}, len(a))
	for _, s := range a {
		set[s] = struct{}{}
	}
	inter := 0
	union := len(set)
	seen := make(map[string]struct{}, len(b))
	for _, s := range b {
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		if _, ok := set[s]; ok {
			inter++
		} else {
			union++
		}
	}
	return float64(inter) / float64(union)
}

// NormalizeSet lower-cases, trims, de-duplicates and sorts a set of labels.
func NormalizeSet(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.Join(strings.Fields(s), " "))
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// sortHits orders by score descending, then most recently updated, then ref.
func sortHits(hits []Hit) {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		if !hits[i].UpdatedAt.Equal(hits[j].UpdatedAt) {
			return hits[i].UpdatedAt.After(hits[j].UpdatedAt)
		}
		return hits[i].Ref.String() < hits[j].Ref.String()
	})
}

func isStale(recordUpdated, sourceUpdated time.Time) bool {
	return !sourceUpdated.IsZero() && recordUpdated.Before(sourceUpdated)
}

func laterOf(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}
