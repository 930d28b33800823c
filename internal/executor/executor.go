// Package executor runs query plans against the corpus and scores the results.
package executor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/observability"
	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/planner"
	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/storage"
)

const maxScannedRows = 500

// ExecutionError records why a single plan failed.
type ExecutionError struct {
	Plan string
	Err  error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("query %s: %v", e.Plan, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// Row is one result row. Ref is set when the row identifies an entity.
type Row struct {
	Ref       *storage.EntityRef `json:"ref,omitempty"`
	Fields    map[string]any     `json:"fields"`
	Timestamp *time.Time         `json:"timestamp,omitempty"`
}

// QueryResult is the outcome of one plan. Results with Err set carry no rows.
type QueryResult struct {
	PlanName        string     `json:"plan_name"`
	Rows            []Row      `json:"rows"`
	RowCount        int        `json:"row_count"`
	ExecutionTimeMs int64      `json:"execution_time_ms"`
	QualityScore    float64    `json:"quality_score"`
	Components      Components `json:"components"`
	Err             error      `json:"-"`
}

// OK reports whether the plan ran successfully.
func (r QueryResult) OK() bool { return r.Err == nil }

// Config bounds execution.
type Config struct {
	PlanTimeout    time.Duration
	MaxConcurrency int
}

// Executor runs plans with per-plan timeouts and bounded concurrency.
type Executor struct {
	db     storage.DB
	cfg    Config
	scorer *Scorer
	logger *observability.Logger
}

// New creates an executor.
func New(db storage.DB, cfg Config, scorer *Scorer, logger *observability.Logger) *Executor {
	if cfg.PlanTimeout <= 0 {
		cfg.PlanTimeout = 5 * time.Second
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 4
	}
	if scorer == nil {
		scorer = NewScorer(DefaultQualityWeights(), nil)
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Executor{db: db, cfg: cfg, scorer: scorer, logger: logger.WithComponent("executor")}
}

// ExecuteAll runs plans concurrently. Results are returned in plan order; a
// failing plan never cancels its siblings.
func (e *Executor) ExecuteAll(ctx context.Context, plans []planner.QueryPlan) []QueryResult {
	results := make([]QueryResult, len(plans))

	var g errgroup.Group
	g.SetLimit(e.cfg.MaxConcurrency)
	for i := range plans {
		i := i
		g.Go(func() error {
			results[i] = e.Execute(ctx, plans[i])
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// Execute runs a single plan under its own timeout.
func (e *Executor) Execute(ctx context.Context, plan planner.QueryPlan) QueryResult {
	start := time.Now()
	result := QueryResult{PlanName: plan.Name}
	log := e.logger.WithContext(ctx).WithOperation(plan.Name)

	if err := plan.Validate(); err != nil {
		result.Err = &ExecutionError{Plan: plan.Name, Err: err}
		log.Warn().Err(err).Msg("Rejected invalid plan")
		return result
	}

	qctx, cancel := context.WithTimeout(ctx, e.cfg.PlanTimeout)
	defer cancel()

	rows, err := e.query(qctx, plan)
	result.ExecutionTimeMs = time.Since(start).Milliseconds()
	if err != nil {
		if errors.Is(qctx.Err(), context.DeadlineExceeded) && !errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
		}
		result.Err = &ExecutionError{Plan: plan.Name, Err: err}
		log.Warn().
			Err(err).
			Int64("duration_ms", result.ExecutionTimeMs).
			Msg("Query plan failed")
		return result
	}

	result.Rows = rows
	result.RowCount = len(rows)
	hasTimestamp := plan.TimestampField != ""
	result.Components = e.scorer.Components(rows, plan.ExpectedFields, hasTimestamp, plan.MinRows)
	result.QualityScore = e.scorer.Score(rows, plan.ExpectedFields, hasTimestamp, plan.MinRows)

	log.Debug().
		Int("rows", result.RowCount).
		Float64("quality", result.QualityScore).
		Int64("duration_ms", result.ExecutionTimeMs).
		Msg("Query plan executed")

	return result
}

func (e *Executor) query(ctx context.Context, plan planner.QueryPlan) ([]Row, error) {
	rows, err := e.db.QueryContext(ctx, plan.Template, plan.Params...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out, err := scanRows(rows, plan.TimestampField)
	if err != nil {
		return nil, err
	}
	return out, ctx.Err()
}

func scanRows(rows *sql.Rows, timestampField string) ([]Row, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read columns: %w", err)
	}

	var out []Row
	for rows.Next() {
		if len(out) >= maxScannedRows {
			break
		}
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		row := Row{Fields: make(map[string]any, len(cols))}
		for i, col := range cols {
			row.Fields[col] = normalize(values[i])
		}
		row.Ref = entityRef(row.Fields)
		if timestampField != "" {
			if ts, ok := parseTimestamp(row.Fields[timestampField]); ok {
				row.Timestamp = &ts
				row.Fields[timestampField] = ts
			}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}

func normalize(v any) any {
	switch x := v.(type) {
	case []byte:
		return string(x)
	case time.Time:
		return x.UTC()
	}
	return v
}

// entityRef reads the entity_type/entity_id columns plans select for entity rows.
func entityRef(fields map[string]any) *storage.EntityRef {
	typ, _ := fields["entity_type"].(string)
	id, _ := fields["entity_id"].(string)
	if typ == "" || id == "" {
		return nil
	}
	et, err := storage.ParseEntityType(typ)
	if err != nil {
		return nil
	}
	return &storage.EntityRef{Type: et, ID: id}
}

var timestampLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02T15:04:05.999999999-07:00",
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

func parseTimestamp(v any) (time.Time, bool) {
	switch x := v.(type) {
	case time.Time:
		return x.UTC(), !x.IsZero()
	case string:
		for _, layout := range timestampLayouts {
			if ts, err := time.Parse(layout, x); err == nil {
				return ts.UTC(), true
			}
		}
	}
	return time.Time{}, false
}
