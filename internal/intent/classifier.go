package intent

import (
	"strings"
	"time"

	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/billref"
	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/observability"
)

// Classifier maps a question to ordered categories and extracted parameters.
// It is stateless apart from its clock and safe for concurrent use.
type Classifier struct {
	now    func() time.Time
	logger *observability.Logger
}

// NewClassifier creates a classifier using the wall clock.
func NewClassifier(logger *observability.Logger) *Classifier {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Classifier{
		now:    time.Now,
		logger: logger.WithComponent("intent"),
	}
}

// WithClock replaces the clock used to resolve relative dates.
func (c *Classifier) WithClock(now func() time.Time) *Classifier {
	c.now = now
	return c
}

// Classify evaluates the predicates in priority order. A question that matches
// nothing is classified as generic with no parameters.
func (c *Classifier) Classify(question string, history []Turn) Classification {
	question = strings.TrimSpace(question)
	matched := map[Category]bool{}
	var params Params

	if ref, ok := MatchBillReference(question); ok {
		params.Bill = &ref
		matched[CategorySpecificBill] = true
	}

	if names, ok := MatchMember(question); ok {
		params.MemberNames = names
		matched[CategoryMember] = true
	}

	if codes, ok := MatchParty(question); ok {
		params.PartyCodes = codes
		matched[CategoryParty] = true
	}

	if codes, ok := MatchState(question); ok {
		params.StateCodes = codes
		matched[CategoryState] = true
	}

	if MatchTrend(question) {
		matched[CategoryTrend] = true
	}

	if MatchStatistic(question) {
		matched[CategoryStatistic] = true
	}

	if areas, keywords, ok := MatchTopic(question); ok {
		params.Topics = areas
		params.Keywords = keywords
		matched[CategoryTopic] = true
	}

	if dr, ok := ParseDateRange(question, c.now()); ok {
		params.DateRange = dr
	}

	if len(history) > 0 && refersBack(question) {
		c.inherit(&params, matched, history)
	}

	var categories []Category
	for _, cat := range Priority {
		if matched[cat] {
			categories = append(categories, cat)
		}
	}
	if len(categories) == 0 {
		categories = []Category{CategoryGeneric}
		params = Params{}
	}

	confidence := baseConfidence[categories[0]]
	if params.Inherited {
		confidence -= 0.1
	}

	result := Classification{
		Question:   question,
		Categories: categories,
		Params:     params,
		Confidence: confidence,
	}

	c.logger.Debug().
		Str("question", question).
		Strs("categories", categoryStrings(categories)).
		Float64("confidence", confidence).
		Bool("inherited", params.Inherited).
		Msg("Classified question")

	return result
}

// inherit pulls the most recent bill or member reference from earlier user turns.
func (c *Classifier) inherit(params *Params, matched map[Category]bool, history []Turn) {
	needBill := params.Bill == nil
	needMember := len(params.MemberNames) == 0

	for i := len(history) - 1; i >= 0 && (needBill || needMember); i-- {
		turn := history[i]
		if turn.Role != "" && turn.Role != "user" {
			continue
		}
		if needBill {
			if ref, ok := MatchBillReference(turn.Content); ok {
				r := ref
				params.Bill = &r
				params.Inherited = true
				matched[CategorySpecificBill] = true
				return
			}
		}
		if needMember {
			if names, ok := MatchMember(turn.Content); ok && len(names) > 0 {
				params.MemberNames = names
				params.Inherited = true
				matched[CategoryMember] = true
				return
			}
		}
	}
}

// BillRef is a convenience accessor for the extracted bill.
func (p Params) BillRef() (billref.Ref, bool) {
	if p.Bill == nil {
		return billref.Ref{}, false
	}
	return *p.Bill, true
}

func categoryStrings(cats []Category) []string {
	out := make([]string, len(cats))
	for i, c := range cats {
		out[i] = string(c)
	}
	return out
}
