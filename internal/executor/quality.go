package executor

import (
	"math"
	"time"
)

// QualityWeights weight the three quality components.
type QualityWeights struct {
	Completeness     float64
	Freshness        float64
	Volume           float64
	FreshnessHorizon time.Duration
}

// DefaultQualityWeights favours completeness and volume over freshness.
func DefaultQualityWeights() QualityWeights {
	return QualityWeights{
		Completeness:     0.4,
		Freshness:        0.2,
		Volume:           0.4,
		FreshnessHorizon: 365 * 24 * time.Hour,
	}
}

// Scorer computes a 0-100 quality score for a result set.
type Scorer struct {
	weights QualityWeights
	now     func() time.Time
}

// NewScorer creates a scorer. A nil clock uses the wall clock.
func NewScorer(weights QualityWeights, now func() time.Time) *Scorer {
	if weights.Completeness+weights.Freshness+weights.Volume <= 0 {
		weights = DefaultQualityWeights()
	}
	if weights.FreshnessHorizon <= 0 {
		weights.FreshnessHorizon = DefaultQualityWeights().FreshnessHorizon
	}
	if now == nil {
		now = time.Now
	}
	return &Scorer{weights: weights, now: now}
}

// Components holds the individual scores, each in [0,1].
type Components struct {
	Completeness float64 `json:"completeness"`
	Freshness    float64 `json:"freshness"`
	Volume       float64 `json:"volume"`
}

// Score rates rows against the expected fields. Zero rows score 0.
func (s *Scorer) Score(rows []Row, expectedFields []string, hasTimestamp bool, minRows int) float64 {
	if len(rows) == 0 {
		return 0
	}
	c := s.Components(rows, expectedFields, hasTimestamp, minRows)
	w := s.weights
	total := w.Completeness + w.Freshness + w.Volume
	score := 100 * (w.Completeness*c.Completeness + w.Freshness*c.Freshness + w.Volume*c.Volume) / total
	return math.Round(score*100) / 100
}

// Components computes each quality component separately.
func (s *Scorer) Components(rows []Row, expectedFields []string, hasTimestamp bool, minRows int) Components {
	if len(rows) == 0 {
		return Components{}
	}
	return Components{
		Completeness: completeness(rows, expectedFields),
		Freshness:    s.freshness(rows, hasTimestamp),
		Volume:       volume(len(rows), minRows),
	}
}

func completeness(rows []Row, expected []string) float64 {
	if len(expected) == 0 {
		return 1
	}
	present := 0
	for _, r := range rows {
		for _, f := range expected {
			if v, ok := r.Fields[f]; ok && !isBlank(v) {
				present++
			}
		}
	}
	return float64(present) / float64(len(rows)*len(expected))
}

func (s *Scorer) freshness(rows []Row, hasTimestamp bool) float64 {
	if !hasTimestamp {
		return 1
	}
	var newest time.Time
	for _, r := range rows {
		if r.Timestamp != nil && r.Timestamp.After(newest) {
			newest = *r.Timestamp
		}
	}
	if newest.IsZero() {
		return 0
	}
	age := s.now().Sub(newest)
	if age <= 0 {
		return 1
	}
	return math.Exp(-float64(age) / float64(s.weights.FreshnessHorizon))
}

func volume(n, minRows int) float64 {
	if minRows <= 0 {
		minRows = 1
	}
	return math.Min(1, float64(n)/float64(minRows))
}

func isBlank(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return x == ""
	}
	return false
}
