// Package intent classifies legislative questions into retrieval categories and
// extracts the parameters the query planner binds.
package intent

import (
	"time"

	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/billref"
)

// Category is a retrieval category.
type Category string

const (
	CategorySpecificBill Category = "specific_bill"
	CategoryMember       Category = "member"
	CategoryParty        Category = "party"
	CategoryState        Category = "state"
	CategoryTrend        Category = "trend"
	CategoryStatistic    Category = "statistic"
	CategoryTopic        Category = "topic"
	CategoryGeneric      Category = "generic"
)

// Priority is the evaluation and output order of categories.
var Priority = []Category{
	CategorySpecificBill,
	CategoryMember,
	CategoryParty,
	CategoryState,
	CategoryTrend,
	CategoryStatistic,
	CategoryTopic,
}

var baseConfidence = map[Category]float64{
	CategorySpecificBill: 0.95,
	CategoryMember:       0.85,
	CategoryParty:        0.8,
	CategoryState:        0.8,
	CategoryTrend:        0.75,
	CategoryStatistic:    0.75,
	CategoryTopic:        0.7,
	CategoryGeneric:      0.2,
}

// DateRange is a half-open interval [Start, End).
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Label string    `json:"label"`
}

// Valid reports whether the range is non-empty and ordered.
func (d DateRange) Valid() bool {
	return !d.Start.IsZero() && !d.End.IsZero() && d.Start.Before(d.End)
}

// Params are the values extracted from a question.
type Params struct {
	Bill        *billref.Ref `json:"bill,omitempty"`
	MemberNames []string     `json:"member_names,omitempty"`
	PartyCodes  []string     `json:"party_codes,omitempty"`
	StateCodes  []string     `json:"state_codes,omitempty"`
	Topics      []string     `json:"topics,omitempty"`
	Keywords    []string     `json:"keywords,omitempty"`
	DateRange   *DateRange   `json:"date_range,omitempty"`
	// Inherited is set when a bill or member reference came from an earlier turn.
	Inherited bool `json:"inherited,omitempty"`
}

// Classification is the classifier output.
type Classification struct {
	Question   string     `json:"question"`
	Categories []Category `json:"categories"`
	Params     Params     `json:"params"`
	Confidence float64    `json:"confidence"`
}

// Primary returns the highest-priority category.
func (c Classification) Primary() Category {
	if len(c.Categories) == 0 {
		return CategoryGeneric
	}
	return c.Categories[0]
}

// Has reports whether cat was matched.
func (c Classification) Has(cat Category) bool {
	for _, x := range c.Categories {
		if x == cat {
			return true
		}
	}
	return false
}

// Turn is one prior message in the conversation.
type Turn struct {
	Role    string `json:"role"` // user or assistant
	Content string `json:"content"`
}
