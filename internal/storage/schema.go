package storage

import (
	"context"
	"fmt"
	"strings"
)

// Corpus tables are owned by ingestion; they are provisioned here only for
// development databases and tests. The index tables belong to this engine.
const corpusSchema = `
CREATE TABLE IF NOT EXISTS members (
	id TEXT PRIMARY KEY,
	full_name TEXT NOT NULL,
	first_name TEXT,
	last_name TEXT,
	party TEXT,
	state TEXT,
	chamber TEXT,
	district INTEGER,
	updated_at {{TS}} NOT NULL
);

CREATE TABLE IF NOT EXISTS bills (
	id TEXT PRIMARY KEY,
	bill_type TEXT NOT NULL,
	number INTEGER NOT NULL,
	congress INTEGER NOT NULL,
	title TEXT NOT NULL,
	summary TEXT,
	policy_area TEXT,
	subjects TEXT,
	status TEXT,
	introduced_date {{TS}},
	latest_action_date {{TS}},
	sponsor_id TEXT REFERENCES members(id),
	updated_at {{TS}} NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_bills_type_number ON bills(bill_type, number);
CREATE INDEX IF NOT EXISTS idx_bills_policy_area ON bills(policy_area);
CREATE INDEX IF NOT EXISTS idx_bills_sponsor ON bills(sponsor_id);

CREATE TABLE IF NOT EXISTS actions (
	id TEXT PRIMARY KEY,
	bill_id TEXT NOT NULL REFERENCES bills(id),
	action_date {{TS}} NOT NULL,
	chamber TEXT,
	text TEXT NOT NULL,
	updated_at {{TS}} NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_actions_bill ON actions(bill_id);
`

const indexSchema = `
CREATE TABLE IF NOT EXISTS entity_embeddings (
	entity_type TEXT NOT NULL,
	entity_id TEXT NOT NULL,
	vector {{BLOB}} NOT NULL,
	dimension INTEGER NOT NULL,
	source_content TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	metadata TEXT,
	created_at {{TS}} NOT NULL,
	updated_at {{TS}} NOT NULL,
	PRIMARY KEY (entity_type, entity_id)
);

CREATE TABLE IF NOT EXISTS entity_fingerprints (
	entity_type TEXT NOT NULL,
	entity_id TEXT NOT NULL,
	topics TEXT NOT NULL,
	policy_areas TEXT NOT NULL,
	entities TEXT NOT NULL,
	scope TEXT NOT NULL,
	source_content TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	created_at {{TS}} NOT NULL,
	updated_at {{TS}} NOT NULL,
	PRIMARY KEY (entity_type, entity_id)
);
`

// SchemaSQL renders the DDL for a dialect.
func SchemaSQL(dialect Dialect, includeCorpus bool) string {
	ts, blob := "TIMESTAMP", "BLOB"
	if dialect == DialectPostgres {
		ts, blob = "TIMESTAMPTZ", "BYTEA"
	}

	ddl := indexSchema
	if includeCorpus {
		ddl = corpusSchema + ddl
	}
	return strings.NewReplacer("{{TS}}", ts, "{{BLOB}}", blob).Replace(ddl)
}

// Migrate creates the index tables and, when requested, the development corpus tables.
func Migrate(ctx context.Context, db DB, dialect Dialect, includeCorpus bool) error {
	for _, stmt := range strings.Split(SchemaSQL(dialect, includeCorpus), ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
