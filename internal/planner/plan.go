// Package planner turns a classified question into parameterized SQL query plans.
package planner

import (
	"errors"
	"fmt"

	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/intent"
	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/storage"
)

// ErrInvalidPlan is returned by Validate.
var ErrInvalidPlan = errors.New("invalid query plan")

// PlanType describes the shape of the query.
type PlanType string

const (
	TypeLookup    PlanType = "lookup"
	TypeAggregate PlanType = "aggregate"
	TypeJoin      PlanType = "join"
	TypeTrend     PlanType = "trend"
)

// Complexity is a coarse cost hint.
type Complexity string

const (
	ComplexityLow    Complexity = "low"
	ComplexityMedium Complexity = "medium"
	ComplexityHigh   Complexity = "high"
)

// QueryPlan is a single parameterized query. Plans are immutable once emitted.
type QueryPlan struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Template    string          `json:"template"`
	Params      []any           `json:"params"`
	Type        PlanType        `json:"type"`
	Complexity  Complexity      `json:"complexity"`
	Category    intent.Category `json:"category"`

	// ExpectedFields are the columns whose presence drives completeness scoring.
	ExpectedFields []string `json:"expected_fields"`
	// TimestampField names the column used for freshness; empty when rows carry none.
	TimestampField string `json:"timestamp_field,omitempty"`
	// MinRows is the row count at which the volume score saturates.
	MinRows int `json:"min_rows"`

	DateRange *intent.DateRange `json:"date_range,omitempty"`
}

// Validate checks that every placeholder is bound and the date window is ordered.
func (p *QueryPlan) Validate() error {
	if p.Name == "" || p.Template == "" {
		return fmt.Errorf("%w: name and template are required", ErrInvalidPlan)
	}
	if n := storage.CountPlaceholders(p.Template); n != len(p.Params) {
		return fmt.Errorf("%w: %s has %d placeholders but %d params", ErrInvalidPlan, p.Name, n, len(p.Params))
	}
	if p.DateRange != nil && !p.DateRange.Valid() {
		return fmt.Errorf("%w: %s has an empty or inverted date range %s..%s", ErrInvalidPlan, p.Name,
			p.DateRange.Start.Format("2006-01-02"), p.DateRange.End.Format("2006-01-02"))
	}
	if p.MinRows < 1 {
		return fmt.Errorf("%w: %s min rows must be at least 1", ErrInvalidPlan, p.Name)
	}
	return nil
}
