package intent

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/billref"
)

var fixedNow = time.Date(2024, time.June, 15, 12, 0, 0, 0, time.UTC)

func newTestClassifier() *Classifier {
	return NewClassifier(nil).WithClock(func() time.Time { return fixedNow })
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name       string
		question   string
		categories []Category
		check      func(t *testing.T, c Classification)
	}{
		{
			name:       "specific bill",
			question:   "What is HR 1234 about?",
			categories: []Category{CategorySpecificBill},
			check: func(t *testing.T, c Classification) {
				require.NotNil(t, c.Params.Bill)
				assert.Equal(t, billref.Ref{Type: billref.HR, Number: 1234}, *c.Params.Bill)
				assert.InDelta(t, 0.95, c.Confidence, 1e-9)
			},
		},
		{
			name:       "topic",
			question:   "Show me healthcare legislation",
			categories: []Category{CategoryTopic},
			check: func(t *testing.T, c Classification) {
				assert.Equal(t, []string{"Health"}, c.Params.Topics)
				assert.Equal(t, []string{"healthcare"}, c.Params.Keywords)
			},
		},
		{
			name:       "party state statistic with date",
			question:   "How many bills did Democrats introduce in Texas this year?",
			categories: []Category{CategoryParty, CategoryState, CategoryStatistic},
			check: func(t *testing.T, c Classification) {
				assert.Equal(t, []string{"D"}, c.Params.PartyCodes)
				assert.Equal(t, []string{"TX"}, c.Params.StateCodes)
				require.NotNil(t, c.Params.DateRange)
				assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), c.Params.DateRange.Start)
				assert.InDelta(t, 0.8, c.Confidence, 1e-9)
			},
		},
		{
			name:       "titled member",
			question:   "What bills has Senator John Carter sponsored?",
			categories: []Category{CategoryMember},
			check: func(t *testing.T, c Classification) {
				assert.Equal(t, []string{"John Carter"}, c.Params.MemberNames)
			},
		},
		{
			name:       "no match is generic",
			question:   "Hello there",
			categories: []Category{CategoryGeneric},
			check: func(t *testing.T, c Classification) {
				assert.Equal(t, Params{}, c.Params)
				assert.InDelta(t, 0.2, c.Confidence, 1e-9)
				assert.Equal(t, CategoryGeneric, c.Primary())
			},
		},
	}

	clf := newTestClassifier()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := clf.Classify(tt.question, nil)
			assert.Equal(t, tt.categories, c.Categories)
			if tt.check != nil {
				tt.check(t, c)
			}
		})
	}
}

func TestClassify_CountryAbbreviationIsNotABill(t *testing.T) {
	c := newTestClassifier().Classify("How did U.S. 2023 healthcare spending change?", nil)
	assert.Nil(t, c.Params.Bill)
	assert.False(t, c.Has(CategorySpecificBill))
	assert.True(t, c.Has(CategoryTopic))
}

func TestClassify_InheritsBillFromHistory(t *testing.T) {
	history := []Turn{
		{Role: "user", Content: "What is HR 1234 about?"},
		{Role: "assistant", Content: "It caps insulin prices. See S. 77 for a related bill."},
	}

	c := newTestClassifier().Classify("Who sponsored it?", history)

	require.NotNil(t, c.Params.Bill)
	assert.Equal(t, "hr1234", c.Params.Bill.Key())
	assert.True(t, c.Params.Inherited)
	assert.Equal(t, CategorySpecificBill, c.Primary())
	assert.True(t, c.Has(CategoryMember))
	assert.InDelta(t, 0.85, c.Confidence, 1e-9)
}

func TestClassify_OwnReferenceWins(t *testing.T) {
	history := []Turn{{Role: "user", Content: "What is HR 1234 about?"}}

	c := newTestClassifier().Classify("Is S. 2960 related to it?", history)

	require.NotNil(t, c.Params.Bill)
	assert.Equal(t, "s2960", c.Params.Bill.Key())
	assert.False(t, c.Params.Inherited)
}

func TestClassify_NoPronounNoInheritance(t *testing.T) {
	history := []Turn{{Role: "user", Content: "What is HR 1234 about?"}}

	c := newTestClassifier().Classify("Show me healthcare legislation", history)

	assert.Nil(t, c.Params.Bill)
	assert.Equal(t, []Category{CategoryTopic}, c.Categories)
}

func TestMatchMember(t *testing.T) {
	tests := []struct {
		question string
		names    []string
		ok       bool
	}{
		{"What has Rep. Jane Smith sponsored?", []string{"Jane Smith"}, true},
		{"Tell me about Ana Lopez", []string{"Ana Lopez"}, true},
		{"Which senators voted for it?", nil, true},
		{"Tell me about New York bills", nil, false},
		{"What is the Affordable Insulin Act?", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.question, func(t *testing.T) {
			names, ok := MatchMember(tt.question)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.names, names)
		})
	}
}

func TestMatchState(t *testing.T) {
	codes, ok := MatchState("Bills from California and West Virginia")
	require.True(t, ok)
	assert.Equal(t, []string{"CA", "WV"}, codes)

	codes, ok = MatchState("Show bills from TX")
	require.True(t, ok)
	assert.Equal(t, []string{"TX"}, codes)

	_, ok = MatchState("bills introduced IN the house")
	assert.False(t, ok)
}

func TestMatchStateName(t *testing.T) {
	codes, ok := MatchStateName("Restores the Great Salt Lake in Utah. Sponsor: Jane Smith (D-CA)")
	require.True(t, ok)
	assert.Equal(t, []string{"UT"}, codes)

	_, ok = MatchStateName("Sponsor: Jane Smith (D-CA)")
	assert.False(t, ok)
}

func TestMatchTopic(t *testing.T) {
	areas, keywords, ok := MatchTopic("insulin prices and the border")
	require.True(t, ok)
	assert.Equal(t, []string{"Health", "Immigration"}, areas)
	assert.Equal(t, []string{"insulin", "border"}, keywords)

	_, _, ok = MatchTopic("what happened yesterday")
	assert.False(t, ok)
}

func TestMatchPartyTrendStatistic(t *testing.T) {
	codes, ok := MatchParty("Republicans and independents")
	require.True(t, ok)
	assert.Equal(t, []string{"R", "I"}, codes)

	assert.True(t, MatchTrend("How has immigration legislation changed over time?"))
	assert.False(t, MatchTrend("What is HR 1234?"))
	assert.True(t, MatchStatistic("What is the total number of bills?"))
	assert.False(t, MatchStatistic("Who sponsored HR 1234?"))
}

func TestParseDateRange(t *testing.T) {
	day := func(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 0, 0, 0, 0, time.UTC) }
	tomorrow := day(2024, time.June, 16)

	tests := []struct {
		question string
		start    time.Time
		end      time.Time
		valid    bool
	}{
		{"bills in the last 30 days", day(2024, time.May, 16), tomorrow, true},
		{"bills since 2020", day(2020, 1, 1), tomorrow, true},
		{"bills from last year", day(2023, 1, 1), day(2024, 1, 1), true},
		{"bills introduced in 2022", day(2022, 1, 1), day(2023, 1, 1), true},
		{"bills this month", day(2024, time.June, 1), tomorrow, true},
		{"between 2024 and 2020", day(2024, 1, 1), day(2021, 1, 1), false},
	}
	for _, tt := range tests {
		t.Run(tt.question, func(t *testing.T) {
			dr, ok := ParseDateRange(tt.question, fixedNow)
			require.True(t, ok)
			assert.Equal(t, tt.start, dr.Start)
			assert.Equal(t, tt.end, dr.End)
			assert.Equal(t, tt.valid, dr.Valid())
		})
	}

	_, ok := ParseDateRange("What is HR 1234 about?", fixedNow)
	assert.False(t, ok)
}
