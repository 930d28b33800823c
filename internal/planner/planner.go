package planner

import (
	"fmt"
	"strings"
	"time"

	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/intent"
	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/observability"
	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/storage"
)

// Config bounds plan generation.
type Config struct {
	MaxPlans            int
	DefaultLookbackDays int
	RowLimit            int
}

// DefaultConfig returns the planner defaults.
func DefaultConfig() Config {
	return Config{MaxPlans: 5, DefaultLookbackDays: 365, RowLimit: 25}
}

// Planner selects query templates from a fixed catalog by category.
type Planner struct {
	cfg     Config
	dialect storage.Dialect
	now     func() time.Time
	logger  *observability.Logger
}

// New creates a planner emitting SQL for dialect.
func New(cfg Config, dialect storage.Dialect, logger *observability.Logger) *Planner {
	def := DefaultConfig()
	if cfg.MaxPlans <= 0 {
		cfg.MaxPlans = def.MaxPlans
	}
	if cfg.DefaultLookbackDays <= 0 {
		cfg.DefaultLookbackDays = def.DefaultLookbackDays
	}
	if cfg.RowLimit <= 0 {
		cfg.RowLimit = def.RowLimit
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Planner{
		cfg:     cfg,
		dialect: dialect,
		now:     time.Now,
		logger:  logger.WithComponent("planner"),
	}
}

// WithClock replaces the clock used for default date windows.
func (p *Planner) WithClock(now func() time.Time) *Planner {
	p.now = now
	return p
}

type builder func(p *Planner, params intent.Params) []QueryPlan

var catalog = map[intent.Category]builder{
	intent.CategorySpecificBill: (*Planner).specificBillPlans,
	intent.CategoryMember:       (*Planner).memberPlans,
	intent.CategoryParty:        (*Planner).partyPlans,
	intent.CategoryState:        (*Planner).statePlans,
	intent.CategoryTrend:        (*Planner).trendPlans,
	intent.CategoryStatistic:    (*Planner).statisticPlans,
	intent.CategoryTopic:        (*Planner).topicPlans,
	intent.CategoryGeneric:      func(p *Planner, _ intent.Params) []QueryPlan { return p.GenericPlans() },
}

// Plan emits plans for the given categories in order, de-duplicated by name and
// capped at MaxPlans. A nil categories slice plans every matched category. It
// never returns zero plans.
func (p *Planner) Plan(c intent.Classification, categories []intent.Category) []QueryPlan {
	if categories == nil {
		categories = c.Categories
	}

	seen := map[string]bool{}
	var plans []QueryPlan
	for _, cat := range categories {
		build, ok := catalog[cat]
		if !ok {
			continue
		}
		for _, plan := range build(p, c.Params) {
			if seen[plan.Name] || len(plans) >= p.cfg.MaxPlans {
				continue
			}
			seen[plan.Name] = true
			plans = append(plans, plan)
		}
	}

	if len(plans) == 0 {
		plans = p.GenericPlans()
	}

	names := make([]string, len(plans))
	for i, plan := range plans {
		names[i] = plan.Name
	}
	p.logger.Debug().
		Strs("plans", names).
		Int("categories", len(categories)).
		Msg("Planned queries")

	return plans
}

// GenericPlans are the overview plans used when nothing more specific applies.
func (p *Planner) GenericPlans() []QueryPlan {
	return []QueryPlan{
		{
			Name:        "recent_bills",
			Description: "Most recently updated bills",
			Template: billSelect + `
				ORDER BY b.updated_at DESC
				LIMIT ?`,
			Params:         []any{p.cfg.RowLimit},
			Type:           TypeLookup,
			Complexity:     ComplexityLow,
			Category:       intent.CategoryGeneric,
			ExpectedFields: billFields,
			TimestampField: "updated_at",
			MinRows:        5,
		},
		{
			Name:        "top_policy_areas",
			Description: "Policy areas with the most bills",
			Template: `
				SELECT b.policy_area AS policy_area, COUNT(*) AS bill_count, MAX(b.updated_at) AS latest_update
				FROM bills b
				WHERE b.policy_area IS NOT NULL AND b.policy_area <> ''
				GROUP BY b.policy_area
				ORDER BY bill_count DESC
				LIMIT ?`,
			Params:         []any{10},
			Type:           TypeAggregate,
			Complexity:     ComplexityMedium,
			Category:       intent.CategoryGeneric,
			ExpectedFields: []string{"policy_area", "bill_count"},
			TimestampField: "latest_update",
			MinRows:        3,
		},
	}
}

const billSelect = `
	SELECT 'bill' AS entity_type, b.id AS entity_id, b.bill_type, b.number, b.congress,
		b.title, b.summary, b.policy_area, b.status, b.introduced_date, b.latest_action_date,
		m.full_name AS sponsor_name, m.party AS sponsor_party, m.state AS sponsor_state, b.updated_at
	FROM bills b
	LEFT JOIN members m ON m.id = b.sponsor_id`

var billFields = []string{"title", "summary", "policy_area", "status", "sponsor_name"}

const memberSelect = `
	SELECT 'member' AS entity_type, m.id AS entity_id, m.full_name, m.party, m.state,
		m.chamber, m.district, m.updated_at
	FROM members m`

var memberFields = []string{"full_name", "party", "state", "chamber"}

func (p *Planner) specificBillPlans(params intent.Params) []QueryPlan {
	ref, ok := params.BillRef()
	if !ok {
		return nil
	}
	return []QueryPlan{{
		Name:        "bill_lookup",
		Description: "Look up " + ref.String(),
		Template: billSelect + `
			WHERE lower(b.bill_type) = ? AND b.number = ?
			ORDER BY b.congress DESC
			LIMIT 1`,
		Params:         []any{string(ref.Type), ref.Number},
		Type:           TypeLookup,
		Complexity:     ComplexityLow,
		Category:       intent.CategorySpecificBill,
		ExpectedFields: billFields,
		TimestampField: "updated_at",
		MinRows:        1,
	}}
}

func (p *Planner) memberPlans(params intent.Params) []QueryPlan {
	if len(params.MemberNames) == 0 {
		f := &filter{}
		f.in("m.party", params.PartyCodes)
		f.in("m.state", params.StateCodes)
		dr := p.window(params.DateRange, false)
		f.dateRange("b.introduced_date", dr)
		return []QueryPlan{{
			Name:        "top_sponsors",
			Description: "Members sponsoring the most bills",
			Template: `
				SELECT 'member' AS entity_type, m.id AS entity_id, m.full_name, m.party, m.state,
					COUNT(b.id) AS bill_count, MAX(b.introduced_date) AS latest_introduced
				FROM members m
				JOIN bills b ON b.sponsor_id = m.id` + f.where() + `
				GROUP BY m.id, m.full_name, m.party, m.state
				ORDER BY bill_count DESC, m.full_name
				LIMIT ?`,
			Params:         f.with(p.cfg.RowLimit),
			Type:           TypeAggregate,
			Complexity:     ComplexityMedium,
			Category:       intent.CategoryMember,
			ExpectedFields: []string{"full_name", "party", "state", "bill_count"},
			TimestampField: "latest_introduced",
			MinRows:        3,
			DateRange:      dr,
		}}
	}

	names := lowerAll(params.MemberNames)
	profile := &filter{}
	profile.nameMatch(names)

	sponsored := &filter{}
	sponsored.nameMatch(names)
	dr := p.window(params.DateRange, false)
	sponsored.dateRange("b.introduced_date", dr)

	return []QueryPlan{
		{
			Name:        "member_profile",
			Description: "Profile of " + strings.Join(params.MemberNames, ", "),
			Template: memberSelect + profile.where() + `
				ORDER BY m.updated_at DESC
				LIMIT ?`,
			Params:         profile.with(p.cfg.RowLimit),
			Type:           TypeLookup,
			Complexity:     ComplexityLow,
			Category:       intent.CategoryMember,
			ExpectedFields: memberFields,
			TimestampField: "updated_at",
			MinRows:        1,
		},
		{
			Name:        "member_sponsored_bills",
			Description: "Bills sponsored by " + strings.Join(params.MemberNames, ", "),
			Template: billSelect + sponsored.where() + `
				ORDER BY b.introduced_date DESC
				LIMIT ?`,
			Params:         sponsored.with(p.cfg.RowLimit),
			Type:           TypeJoin,
			Complexity:     ComplexityMedium,
			Category:       intent.CategoryMember,
			ExpectedFields: billFields,
			TimestampField: "introduced_date",
			MinRows:        3,
			DateRange:      dr,
		},
	}
}

func (p *Planner) partyPlans(params intent.Params) []QueryPlan {
	f, dr := p.billScope(params, false)
	return []QueryPlan{{
		Name:        "party_bills",
		Description: "Bills sponsored by party " + strings.Join(params.PartyCodes, ", "),
		Template: billSelect + f.where() + `
			ORDER BY b.introduced_date DESC
			LIMIT ?`,
		Params:         f.with(p.cfg.RowLimit),
		Type:           TypeJoin,
		Complexity:     ComplexityMedium,
		Category:       intent.CategoryParty,
		ExpectedFields: billFields,
		TimestampField: "introduced_date",
		MinRows:        5,
		DateRange:      dr,
	}}
}

func (p *Planner) statePlans(params intent.Params) []QueryPlan {
	delegation := &filter{}
	delegation.in("m.state", params.StateCodes)
	delegation.in("m.party", params.PartyCodes)

	bills, dr := p.billScope(params, false)

	return []QueryPlan{
		{
			Name:        "state_delegation",
			Description: "Members representing " + strings.Join(params.StateCodes, ", "),
			Template: memberSelect + delegation.where() + `
				ORDER BY m.chamber, m.full_name
				LIMIT ?`,
			Params:         delegation.with(p.cfg.RowLimit),
			Type:           TypeLookup,
			Complexity:     ComplexityLow,
			Category:       intent.CategoryState,
			ExpectedFields: memberFields,
			TimestampField: "updated_at",
			MinRows:        2,
		},
		{
			Name:        "state_bills",
			Description: "Bills sponsored by members from " + strings.Join(params.StateCodes, ", "),
			Template: billSelect + bills.where() + `
				ORDER BY b.introduced_date DESC
				LIMIT ?`,
			Params:         bills.with(p.cfg.RowLimit),
			Type:           TypeJoin,
			Complexity:     ComplexityMedium,
			Category:       intent.CategoryState,
			ExpectedFields: billFields,
			TimestampField: "introduced_date",
			MinRows:        5,
			DateRange:      dr,
		},
	}
}

func (p *Planner) trendPlans(params intent.Params) []QueryPlan {
	f, dr := p.billScope(params, true)
	period := storage.MonthBucket(p.dialect, "b.introduced_date")

	return []QueryPlan{
		{
			Name:        "bill_trend",
			Description: "Monthly bill introductions",
			Template: `
				SELECT ` + period + ` AS period, COUNT(*) AS bill_count
				FROM bills b
				LEFT JOIN members m ON m.id = b.sponsor_id` + f.where() + `
				GROUP BY ` + period + `
				ORDER BY period`,
			Params:         f.with(),
			Type:           TypeTrend,
			Complexity:     ComplexityHigh,
			Category:       intent.CategoryTrend,
			ExpectedFields: []string{"period", "bill_count"},
			MinRows:        3,
			DateRange:      dr,
		},
		{
			Name:        "status_breakdown",
			Description: "Bills by status",
			Template: `
				SELECT b.status AS status, COUNT(*) AS bill_count, MAX(b.introduced_date) AS latest_introduced
				FROM bills b
				LEFT JOIN members m ON m.id = b.sponsor_id` + f.where() + `
				GROUP BY b.status
				ORDER BY bill_count DESC`,
			Params:         f.with(),
			Type:           TypeAggregate,
			Complexity:     ComplexityMedium,
			Category:       intent.CategoryTrend,
			ExpectedFields: []string{"status", "bill_count"},
			TimestampField: "latest_introduced",
			MinRows:        2,
			DateRange:      dr,
		},
	}
}

func (p *Planner) statisticPlans(params intent.Params) []QueryPlan {
	f, dr := p.billScope(params, true)
	return []QueryPlan{{
		Name:        "bill_count",
		Description: "Number of matching bills",
		Template: `
			SELECT COUNT(*) AS bill_count, COUNT(DISTINCT b.sponsor_id) AS sponsor_count,
				MAX(b.introduced_date) AS latest_introduced
			FROM bills b
			LEFT JOIN members m ON m.id = b.sponsor_id` + f.where(),
		Params:         f.with(),
		Type:           TypeAggregate,
		Complexity:     ComplexityMedium,
		Category:       intent.CategoryStatistic,
		ExpectedFields: []string{"bill_count", "sponsor_count", "latest_introduced"},
		TimestampField: "latest_introduced",
		MinRows:        1,
		DateRange:      dr,
	}}
}

func (p *Planner) topicPlans(params intent.Params) []QueryPlan {
	f := &filter{}
	var alternatives []string
	var args []any
	if len(params.Topics) > 0 {
		alternatives = append(alternatives, "b.policy_area IN ("+placeholders(len(params.Topics))+")")
		for _, t := range params.Topics {
			args = append(args, t)
		}
	}
	for _, kw := range params.Keywords {
		alternatives = append(alternatives, "lower(b.title) LIKE ?", "lower(b.subjects) LIKE ?")
		pattern := "%" + strings.ToLower(kw) + "%"
		args = append(args, pattern, pattern)
	}
	if len(alternatives) > 0 {
		f.add("("+strings.Join(alternatives, " OR ")+")", args...)
	}
	dr := p.window(params.DateRange, false)
	f.dateRange("b.introduced_date", dr)

	return []QueryPlan{{
		Name:        "topic_bills",
		Description: "Bills about " + strings.Join(params.Topics, ", "),
		Template: billSelect + f.where() + `
			ORDER BY b.introduced_date DESC
			LIMIT ?`,
		Params:         f.with(p.cfg.RowLimit),
		Type:           TypeLookup,
		Complexity:     ComplexityMedium,
		Category:       intent.CategoryTopic,
		ExpectedFields: billFields,
		TimestampField: "introduced_date",
		MinRows:        5,
		DateRange:      dr,
	}}
}

// billScope filters bills by every extracted attribute.
func (p *Planner) billScope(params intent.Params, defaultWindow bool) (*filter, *intent.DateRange) {
	f := &filter{}
	if len(params.MemberNames) > 0 {
		f.nameMatch(lowerAll(params.MemberNames))
	}
	f.in("m.party", params.PartyCodes)
	f.in("m.state", params.StateCodes)
	f.in("b.policy_area", params.Topics)
	dr := p.window(params.DateRange, defaultWindow)
	f.dateRange("b.introduced_date", dr)
	return f, dr
}

// window returns the extracted range, or the trailing lookback when defaultWindow is set.
func (p *Planner) window(dr *intent.DateRange, defaultWindow bool) *intent.DateRange {
	if dr != nil || !defaultWindow {
		return dr
	}
	now := p.now().UTC()
	end := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
	return &intent.DateRange{
		Start: end.AddDate(0, 0, -p.cfg.DefaultLookbackDays),
		End:   end,
		Label: fmt.Sprintf("last %d days", p.cfg.DefaultLookbackDays),
	}
}

// filter accumulates WHERE clauses and their bound arguments in order.
type filter struct {
	clauses []string
	args    []any
}

func (f *filter) add(clause string, args ...any) {
	f.clauses = append(f.clauses, clause)
	f.args = append(f.args, args...)
}

func (f *filter) in(column string, values []string) {
	if len(values) == 0 {
		return
	}
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	f.add(column+" IN ("+placeholders(len(values))+")", args...)
}

func (f *filter) nameMatch(names []string) {
	args := make([]any, 0, 2*len(names))
	for _, n := range names {
		args = append(args, n)
	}
	for _, n := range names {
		args = append(args, n)
	}
	ph := placeholders(len(names))
	f.add("(lower(m.full_name) IN ("+ph+") OR lower(m.last_name) IN ("+ph+"))", args...)
}

func (f *filter) dateRange(column string, dr *intent.DateRange) {
	if dr == nil {
		return
	}
	f.add(column+" >= ? AND "+column+" < ?", dr.Start, dr.End)
}

func (f *filter) where() string {
	if len(f.clauses) == 0 {
		return ""
	}
	return "\n\tWHERE " + strings.Join(f.clauses, "\n\t\tAND ")
}

// with returns the filter args followed by extra trailing args.
func (f *filter) with(extra ...any) []any {
	out := make([]any, 0, len(f.args)+len(extra))
	out = append(out, f.args...)
	return append(out, extra...)
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func lowerAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(s)
	}
	return out
}
