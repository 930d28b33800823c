package executor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/billref"
	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/intent"
	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/planner"
	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/storage"
	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/storage/storagetest"
)

func fixedClock() time.Time { return storagetest.Now }

func setup(t *testing.T) (*Executor, *planner.Planner) {
	t.Helper()
	db := storagetest.NewSQLite(t)
	storagetest.Seed(t, db)

	exec := New(db, Config{PlanTimeout: 2 * time.Second, MaxConcurrency: 2},
		NewScorer(DefaultQualityWeights(), fixedClock), nil)
	plan := planner.New(planner.DefaultConfig(), storage.DialectSQLite, nil).WithClock(fixedClock)
	return exec, plan
}

func TestExecute_BillLookup(t *testing.T) {
	exec, p := setup(t)
	bill := billref.Ref{Type: billref.HR, Number: 1234}
	plans := p.Plan(intent.Classification{
		Categories: []intent.Category{intent.CategorySpecificBill},
		Params:     intent.Params{Bill: &bill},
	}, nil)

	res := exec.Execute(context.Background(), plans[0])
	require.NoError(t, res.Err)
	require.Equal(t, 1, res.RowCount)

	row := res.Rows[0]
	require.NotNil(t, row.Ref)
	assert.Equal(t, storage.EntityRef{Type: storage.EntityBill, ID: "118-hr-1234"}, *row.Ref)
	assert.Equal(t, "Affordable Insulin Act", row.Fields["title"])
	assert.Equal(t, "Jane Smith", row.Fields["sponsor_name"])
	require.NotNil(t, row.Timestamp)
	assert.Greater(t, res.QualityScore, 90.0)
}

func TestExecuteAll_FailingPlanDoesNotAffectSiblings(t *testing.T) {
	exec, p := setup(t)
	good := p.GenericPlans()
	broken := planner.QueryPlan{
		Name:     "broken",
		Template: "SELECT * FROM no_such_table",
		MinRows:  1,
	}
	invalid := planner.QueryPlan{
		Name:     "unbound",
		Template: "SELECT ? AS x",
		MinRows:  1,
	}

	results := exec.ExecuteAll(context.Background(), []planner.QueryPlan{good[0], broken, invalid, good[1]})
	require.Len(t, results, 4)

	assert.NoError(t, results[0].Err)
	assert.Equal(t, 4, results[0].RowCount)

	var execErr *ExecutionError
	require.ErrorAs(t, results[1].Err, &execErr)
	assert.Equal(t, "broken", execErr.Plan)
	assert.Empty(t, results[1].Rows)

	assert.ErrorIs(t, results[2].Err, planner.ErrInvalidPlan)

	assert.NoError(t, results[3].Err)
	assert.Equal(t, "top_policy_areas", results[3].PlanName)
	assert.Equal(t, "Health", results[3].Rows[0].Fields["policy_area"])
	assert.Equal(t, int64(2), results[3].Rows[0].Fields["bill_count"])
}

func TestExecute_TrendBucketsByMonth(t *testing.T) {
	exec, p := setup(t)
	plans := p.Plan(intent.Classification{Categories: []intent.Category{intent.CategoryTrend}}, nil)
	require.Equal(t, "bill_trend", plans[0].Name)

	res := exec.Execute(context.Background(), plans[0])
	require.NoError(t, res.Err)

	var periods []any
	for _, r := range res.Rows {
		periods = append(periods, r.Fields["period"])
		assert.Nil(t, r.Ref)
	}
	assert.Equal(t, []any{"2023-12", "2024-02", "2024-04"}, periods)
}

func TestExecute_PartyStatistic(t *testing.T) {
	exec, p := setup(t)
	plans := p.Plan(intent.Classification{
		Categories: []intent.Category{intent.CategoryStatistic},
		Params:     intent.Params{PartyCodes: []string{"D"}},
	}, nil)

	res := exec.Execute(context.Background(), plans[0])
	require.NoError(t, res.Err)
	require.Equal(t, 1, res.RowCount)
	assert.Equal(t, int64(2), res.Rows[0].Fields["bill_count"])
	assert.NotNil(t, res.Rows[0].Timestamp)
}

func TestExecute_TopicBills(t *testing.T) {
	exec, p := setup(t)
	plans := p.Plan(intent.Classification{
		Categories: []intent.Category{intent.CategoryTopic},
		Params:     intent.Params{Topics: []string{"Health"}, Keywords: []string{"healthcare"}},
	}, nil)

	res := exec.Execute(context.Background(), plans[0])
	require.NoError(t, res.Err)

	var ids []string
	for _, r := range res.Rows {
		ids = append(ids, r.Ref.ID)
	}
	assert.Equal(t, []string{"118-hr-1234", "118-hres-123"}, ids)
}

func TestExecute_CancelledContext(t *testing.T) {
	exec, p := setup(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := exec.Execute(ctx, p.GenericPlans()[0])
	assert.Error(t, res.Err)
	assert.Zero(t, res.QualityScore)
}

func TestScorer(t *testing.T) {
	s := NewScorer(DefaultQualityWeights(), fixedClock)
	now := storagetest.Now
	old := now.AddDate(-2, 0, 0)

	full := Row{Fields: map[string]any{"a": "x", "b": 1}, Timestamp: &now}
	partial := Row{Fields: map[string]any{"a": "x", "b": nil}, Timestamp: &now}
	stale := Row{Fields: map[string]any{"a": "x", "b": 1}, Timestamp: &old}
	fields := []string{"a", "b"}

	assert.Zero(t, s.Score(nil, fields, true, 1))
	assert.Equal(t, 100.0, s.Score([]Row{full}, fields, true, 1))

	assert.Less(t, s.Score([]Row{partial}, fields, true, 1), s.Score([]Row{full}, fields, true, 1))
	assert.Less(t, s.Score([]Row{stale}, fields, true, 1), s.Score([]Row{full}, fields, true, 1))
	assert.Less(t, s.Score([]Row{full}, fields, true, 5), s.Score([]Row{full, full}, fields, true, 5))

	c := s.Components([]Row{stale}, fields, false, 1)
	assert.Equal(t, 1.0, c.Freshness)

	c = s.Components([]Row{partial, full}, fields, true, 4)
	assert.InDelta(t, 0.75, c.Completeness, 1e-9)
	assert.InDelta(t, 0.5, c.Volume, 1e-9)
}

func TestScorer_FreshnessDecay(t *testing.T) {
	s := NewScorer(DefaultQualityWeights(), fixedClock)
	var prev float64 = 2
	for _, days := range []int{0, 30, 180, 365, 730} {
		ts := storagetest.Now.AddDate(0, 0, -days)
		c := s.Components([]Row{{Fields: map[string]any{}, Timestamp: &ts}}, nil, true, 1)
		assert.Less(t, c.Freshness, prev)
		prev = c.Freshness
	}
}
