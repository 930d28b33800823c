package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/billref"
)

const subjectSeparator = "|"

// EntityRepository reads the legislative corpus: resolution of natural keys,
// indexable documents and development fixtures.
type EntityRepository struct {
	db  DB
	now func() time.Time
}

// NewEntityRepository creates a new entity repository.
func NewEntityRepository(db DB) *EntityRepository {
	return &EntityRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// Lookup resolves a natural key to an entity ID. Bills use "hr1234" style keys,
// members their full name (case-insensitive), actions their ID.
func (r *EntityRepository) Lookup(ctx context.Context, entityType EntityType, naturalKey string) (string, error) {
	var (
		id  string
		err error
	)
	switch entityType {
	case EntityBill:
		ref, perr := billref.ParseKey(naturalKey)
		if perr != nil {
			return "", fmt.Errorf("%w: %v", ErrNotFound, perr)
		}
		err = r.db.QueryRowContext(ctx, `
			SELECT id FROM bills
			WHERE lower(bill_type) = ? AND number = ?
			ORDER BY congress DESC
			LIMIT 1`, string(ref.Type), ref.Number).Scan(&id)
	case EntityMember:
		id, err = r.lookupMember(ctx, strings.ToLower(strings.TrimSpace(naturalKey)))
	case EntityAction:
		err = r.db.QueryRowContext(ctx, `SELECT id FROM actions WHERE id = ?`, naturalKey).Scan(&id)
	default:
		return "", fmt.Errorf("lookup: unknown entity type %q", entityType)
	}

	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("lookup %s %q: %w", entityType, naturalKey, err)
	}
	return id, nil
}

func (r *EntityRepository) lookupMember(ctx context.Context, name string) (string, error) {
	var id string
	err := r.db.QueryRowContext(ctx, `
		SELECT id FROM members WHERE lower(full_name) = ?
		ORDER BY updated_at DESC LIMIT 1`, name).Scan(&id)
	if !errors.Is(err, sql.ErrNoRows) {
		return id, err
	}

	// A bare surname resolves only when it is unambiguous.
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM members WHERE lower(last_name) = ? LIMIT 2`, name)
	if err != nil {
		return "", err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var candidate string
		if err := rows.Scan(&candidate); err != nil {
			return "", err
		}
		ids = append(ids, candidate)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	if len(ids) != 1 {
		return "", sql.ErrNoRows
	}
	return ids[0], nil
}

// ListDocuments renders every entity of a type into indexable text.
func (r *EntityRepository) ListDocuments(ctx context.Context, entityType EntityType) ([]Document, error) {
	switch entityType {
	case EntityBill:
		return r.billDocuments(ctx)
	case EntityMember:
		return r.memberDocuments(ctx)
	case EntityAction:
		return r.actionDocuments(ctx)
	}
	return nil, fmt.Errorf("list documents: unknown entity type %q", entityType)
}

func (r *EntityRepository) billDocuments(ctx context.Context) ([]Document, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT b.id, b.bill_type, b.number, b.congress, b.title, b.summary, b.policy_area,
		       b.subjects, b.status, b.updated_at, m.full_name, m.party, m.state
		FROM bills b
		LEFT JOIN members m ON m.id = b.sponsor_id
		ORDER BY b.id`)
	if err != nil {
		return nil, fmt.Errorf("list bills: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var (
			id, billType, title             string
			number, congress                int
			summary, area, subjects, status sql.NullString
			sponsor, party, state           sql.NullString
			updatedAt                       time.Time
		)
		if err := rows.Scan(&id, &billType, &number, &congress, &title, &summary, &area,
			&subjects, &status, &updatedAt, &sponsor, &party, &state); err != nil {
			return nil, fmt.Errorf("scan bill: %w", err)
		}

		label := BillLabel(billType, number)
		var b strings.Builder
		fmt.Fprintf(&b, "%s (%d Congress): %s\n", label, congress, title)
		if area.String != "" {
			fmt.Fprintf(&b, "Policy area: %s\n", area.String)
		}
		if subjects.String != "" {
			fmt.Fprintf(&b, "Subjects: %s\n", strings.ReplaceAll(subjects.String, subjectSeparator, ", "))
		}
		if sponsor.String != "" {
			fmt.Fprintf(&b, "Sponsor: %s (%s-%s)\n", sponsor.String, party.String, state.String)
		}
		if status.String != "" {
			fmt.Fprintf(&b, "Status: %s\n", status.String)
		}
		if summary.String != "" {
			b.WriteString(summary.String)
		}

		docs = append(docs, Document{
			Ref:       EntityRef{Type: EntityBill, ID: id},
			Content:   strings.TrimSpace(b.String()),
			UpdatedAt: updatedAt,
			Attributes: DocumentAttributes{
				PolicyArea: area.String,
				Subjects:   splitSubjects(subjects.String),
				People:     nonEmpty(sponsor.String),
				States:     nonEmpty(state.String),
				Parties:    nonEmpty(party.String),
				Chamber:    chamberOf(billType),
			},
		})
	}
	return docs, rows.Err()
}

func (r *EntityRepository) memberDocuments(ctx context.Context) ([]Document, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT m.id, m.full_name, m.party, m.state, m.chamber, m.district, m.updated_at,
		       (SELECT COUNT(*) FROM bills b WHERE b.sponsor_id = m.id)
		FROM members m
		ORDER BY m.id`)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var (
			id, name              string
			party, state, chamber sql.NullString
			district              sql.NullInt64
			updatedAt             time.Time
			sponsored             int
		)
		if err := rows.Scan(&id, &name, &party, &state, &chamber, &district, &updatedAt, &sponsored); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}

		title := "Representative"
		if strings.EqualFold(chamber.String, "senate") {
			title = "Senator"
		}
		content := fmt.Sprintf("%s %s (%s-%s), %s. Sponsored %d bills.",
			title, name, party.String, state.String, chamber.String, sponsored)
		if district.Valid && district.Int64 > 0 {
			content += fmt.Sprintf(" District %d.", district.Int64)
		}

		docs = append(docs, Document{
			Ref:       EntityRef{Type: EntityMember, ID: id},
			Content:   content,
			UpdatedAt: updatedAt,
			Attributes: DocumentAttributes{
				People:  []string{name},
				States:  nonEmpty(state.String),
				Parties: nonEmpty(party.String),
				Chamber: strings.ToLower(chamber.String),
			},
		})
	}
	return docs, rows.Err()
}

func (r *EntityRepository) actionDocuments(ctx context.Context) ([]Document, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT a.id, a.action_date, a.chamber, a.text, a.updated_at,
		       b.bill_type, b.number, b.policy_area
		FROM actions a
		JOIN bills b ON b.id = a.bill_id
		ORDER BY a.id`)
	if err != nil {
		return nil, fmt.Errorf("list actions: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var (
			id, text, billType string
			number             int
			chamber, area      sql.NullString
			actionDate         time.Time
			updatedAt          time.Time
		)
		if err := rows.Scan(&id, &actionDate, &chamber, &text, &updatedAt, &billType, &number, &area); err != nil {
			return nil, fmt.Errorf("scan action: %w", err)
		}
		docs = append(docs, Document{
			Ref:       EntityRef{Type: EntityAction, ID: id},
			Content:   fmt.Sprintf("Action on %s (%s): %s", BillLabel(billType, number), actionDate.Format("2006-01-02"), text),
			UpdatedAt: updatedAt,
			Attributes: DocumentAttributes{
				PolicyArea: area.String,
				Chamber:    strings.ToLower(chamber.String),
			},
		})
	}
	return docs, rows.Err()
}

// UpsertMember writes a member row.
func (r *EntityRepository) UpsertMember(ctx context.Context, m *Member) error {
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = r.now()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO members (id, full_name, first_name, last_name, party, state, chamber, district, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			full_name = excluded.full_name, first_name = excluded.first_name, last_name = excluded.last_name,
			party = excluded.party, state = excluded.state, chamber = excluded.chamber,
			district = excluded.district, updated_at = excluded.updated_at`,
		m.ID, m.FullName, m.FirstName, m.LastName, m.Party, m.State, m.Chamber, m.District, m.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("upsert member %s: %w", m.ID, err)
	}
	return nil
}

// UpsertBill writes a bill row.
func (r *EntityRepository) UpsertBill(ctx context.Context, b *Bill) error {
	if b.UpdatedAt.IsZero() {
		b.UpdatedAt = r.now()
	}
	var latest any
	if b.LatestActionDate != nil {
		latest = b.LatestActionDate.UTC()
	}
	var sponsor any
	if b.SponsorID != "" {
		sponsor = b.SponsorID
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO bills (id, bill_type, number, congress, title, summary, policy_area, subjects, status,
		                   introduced_date, latest_action_date, sponsor_id, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			bill_type = excluded.bill_type, number = excluded.number, congress = excluded.congress,
			title = excluded.title, summary = excluded.summary, policy_area = excluded.policy_area,
			subjects = excluded.subjects, status = excluded.status, introduced_date = excluded.introduced_date,
			latest_action_date = excluded.latest_action_date, sponsor_id = excluded.sponsor_id,
			updated_at = excluded.updated_at`,
		b.ID, strings.ToLower(b.BillType), b.Number, b.Congress, b.Title, b.Summary, b.PolicyArea,
		strings.Join(b.Subjects, subjectSeparator), b.Status, b.IntroducedDate.UTC(), latest, sponsor,
		b.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("upsert bill %s: %w", b.ID, err)
	}
	return nil
}

// UpsertAction writes an action row.
func (r *EntityRepository) UpsertAction(ctx context.Context, a *Action) error {
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = r.now()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO actions (id, bill_id, action_date, chamber, text, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			bill_id = excluded.bill_id, action_date = excluded.action_date, chamber = excluded.chamber,
			text = excluded.text, updated_at = excluded.updated_at`,
		a.ID, a.BillID, a.ActionDate.UTC(), a.Chamber, a.Text, a.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("upsert action %s: %w", a.ID, err)
	}
	return nil
}

// BillLabel renders a bill type and number as a citation, e.g. "H.R. 1234".
func BillLabel(billType string, number int) string {
	t, ok := billref.ParseType(billType)
	if !ok {
		return fmt.Sprintf("%s %d", strings.ToUpper(billType), number)
	}
	return billref.Ref{Type: t, Number: number}.String()
}

func chamberOf(billType string) string {
	if strings.HasPrefix(strings.ToLower(billType), "s") {
		return "senate"
	}
	return "house"
}

func splitSubjects(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, subjectSeparator) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func nonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	return []string{s}
}
