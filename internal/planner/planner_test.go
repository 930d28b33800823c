package planner

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/billref"
	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/intent"
	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/storage"
)

var testNow = time.Date(2024, time.June, 15, 12, 0, 0, 0, time.UTC)

func newTestPlanner(cfg Config) *Planner {
	return New(cfg, storage.DialectSQLite, nil).WithClock(func() time.Time { return testNow })
}

func planNames(plans []QueryPlan) []string {
	names := make([]string, len(plans))
	for i, p := range plans {
		names[i] = p.Name
	}
	return names
}

func TestPlan_Catalog(t *testing.T) {
	bill := billref.Ref{Type: billref.HR, Number: 1234}
	tests := []struct {
		name  string
		class intent.Classification
		want  []string
	}{
		{
			name:  "specific bill",
			class: intent.Classification{Categories: []intent.Category{intent.CategorySpecificBill}, Params: intent.Params{Bill: &bill}},
			want:  []string{"bill_lookup"},
		},
		{
			name:  "named member",
			class: intent.Classification{Categories: []intent.Category{intent.CategoryMember}, Params: intent.Params{MemberNames: []string{"Jane Smith"}}},
			want:  []string{"member_profile", "member_sponsored_bills"},
		},
		{
			name:  "members in general",
			class: intent.Classification{Categories: []intent.Category{intent.CategoryMember}},
			want:  []string{"top_sponsors"},
		},
		{
			name: "party state statistic",
			class: intent.Classification{
				Categories: []intent.Category{intent.CategoryParty, intent.CategoryState, intent.CategoryStatistic},
				Params:     intent.Params{PartyCodes: []string{"D"}, StateCodes: []string{"TX"}},
			},
			want: []string{"party_bills", "state_delegation", "state_bills", "bill_count"},
		},
		{
			name:  "trend",
			class: intent.Classification{Categories: []intent.Category{intent.CategoryTrend}, Params: intent.Params{Topics: []string{"Immigration"}}},
			want:  []string{"bill_trend", "status_breakdown"},
		},
		{
			name:  "topic",
			class: intent.Classification{Categories: []intent.Category{intent.CategoryTopic}, Params: intent.Params{Topics: []string{"Health"}, Keywords: []string{"healthcare"}}},
			want:  []string{"topic_bills"},
		},
		{
			name:  "generic",
			class: intent.Classification{Categories: []intent.Category{intent.CategoryGeneric}},
			want:  []string{"recent_bills", "top_policy_areas"},
		},
		{
			name:  "specific bill without a reference falls back to generic",
			class: intent.Classification{Categories: []intent.Category{intent.CategorySpecificBill}},
			want:  []string{"recent_bills", "top_policy_areas"},
		},
	}

	p := newTestPlanner(DefaultConfig())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plans := p.Plan(tt.class, nil)
			assert.Equal(t, tt.want, planNames(plans))
			for _, plan := range plans {
				assert.NoError(t, plan.Validate(), plan.Name)
			}
		})
	}
}

func TestPlan_SpecificBillIsSingleLookup(t *testing.T) {
	bill := billref.Ref{Type: billref.S, Number: 2960}
	plans := newTestPlanner(DefaultConfig()).Plan(intent.Classification{
		Categories: []intent.Category{intent.CategorySpecificBill},
		Params:     intent.Params{Bill: &bill},
	}, nil)

	require.Len(t, plans, 1)
	assert.Equal(t, TypeLookup, plans[0].Type)
	assert.Equal(t, []any{"s", 2960}, plans[0].Params)
}

func TestPlan_CapAndSubset(t *testing.T) {
	class := intent.Classification{
		Categories: []intent.Category{intent.CategoryMember, intent.CategoryState, intent.CategoryTrend},
		Params:     intent.Params{MemberNames: []string{"Ana Lopez"}, StateCodes: []string{"NY"}},
	}

	capped := newTestPlanner(Config{MaxPlans: 3}).Plan(class, nil)
	assert.Equal(t, []string{"member_profile", "member_sponsored_bills", "state_delegation"}, planNames(capped))

	subset := newTestPlanner(DefaultConfig()).Plan(class, []intent.Category{intent.CategoryState})
	assert.Equal(t, []string{"state_delegation", "state_bills"}, planNames(subset))
}

func TestPlan_DedupesByName(t *testing.T) {
	class := intent.Classification{Categories: []intent.Category{intent.CategoryGeneric, intent.CategoryGeneric}}
	plans := newTestPlanner(DefaultConfig()).Plan(class, nil)
	assert.Equal(t, []string{"recent_bills", "top_policy_areas"}, planNames(plans))
}

func TestPlan_DefaultWindowForStatistics(t *testing.T) {
	class := intent.Classification{Categories: []intent.Category{intent.CategoryStatistic}}
	plans := newTestPlanner(DefaultConfig()).Plan(class, nil)

	require.Len(t, plans, 1)
	dr := plans[0].DateRange
	require.NotNil(t, dr)
	assert.Equal(t, time.Date(2024, time.June, 16, 0, 0, 0, 0, time.UTC), dr.End)
	assert.Equal(t, dr.End.AddDate(0, 0, -365), dr.Start)
	assert.Equal(t, []any{dr.Start, dr.End}, plans[0].Params)
}

func TestPlan_TopicWithoutWindowHasNoDateFilter(t *testing.T) {
	class := intent.Classification{
		Categories: []intent.Category{intent.CategoryTopic},
		Params:     intent.Params{Topics: []string{"Health"}},
	}
	plans := newTestPlanner(DefaultConfig()).Plan(class, nil)

	require.Len(t, plans, 1)
	assert.Nil(t, plans[0].DateRange)
	assert.NotContains(t, plans[0].Template, "introduced_date >=")
}

func TestPlan_PostgresTrendUsesToChar(t *testing.T) {
	p := New(DefaultConfig(), storage.DialectPostgres, nil).WithClock(func() time.Time { return testNow })
	plans := p.Plan(intent.Classification{Categories: []intent.Category{intent.CategoryTrend}}, nil)
	require.NotEmpty(t, plans)
	assert.Contains(t, plans[0].Template, "to_char(b.introduced_date, 'YYYY-MM')")
}

func TestQueryPlan_Validate(t *testing.T) {
	inverted := &intent.DateRange{
		Start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	tests := []struct {
		name string
		plan QueryPlan
	}{
		{"missing name", QueryPlan{Template: "SELECT 1", MinRows: 1}},
		{"param mismatch", QueryPlan{Name: "x", Template: "SELECT ? , ?", Params: []any{1}, MinRows: 1}},
		{"inverted range", QueryPlan{Name: "x", Template: "SELECT 1", DateRange: inverted, MinRows: 1}},
		{"zero min rows", QueryPlan{Name: "x", Template: "SELECT 1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.plan.Validate(), ErrInvalidPlan)
		})
	}

	ok := QueryPlan{Name: "x", Template: "SELECT '?' , ?", Params: []any{1}, MinRows: 1}
	assert.NoError(t, ok.Validate())
}

func TestPlan_InvertedRangeFromQuestion(t *testing.T) {
	clf := intent.NewClassifier(nil).WithClock(func() time.Time { return testNow })
	class := clf.Classify("How many immigration bills were introduced between 2024 and 2020?", nil)
	require.True(t, class.Has(intent.CategoryStatistic))

	plans := newTestPlanner(DefaultConfig()).Plan(class, []intent.Category{intent.CategoryStatistic})
	require.Len(t, plans, 1)
	assert.ErrorIs(t, plans[0].Validate(), ErrInvalidPlan)
}
