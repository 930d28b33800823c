package storage

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// EmbeddingRepository persists entity embeddings.
type EmbeddingRepository struct {
	db DB
}

// NewEmbeddingRepository creates a new embedding repository.
func NewEmbeddingRepository(db DB) *EmbeddingRepository {
	return &EmbeddingRepository{db: db}
}

// Upsert writes the record, replacing any current record for the same entity.
func (r *EmbeddingRepository) Upsert(ctx context.Context, rec *EmbeddingRecord) error {
	metadata, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	query := `
		INSERT INTO entity_embeddings
			(entity_type, entity_id, vector, dimension, source_content, content_hash, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (entity_type, entity_id) DO UPDATE SET
			vector = excluded.vector,
			dimension = excluded.dimension,
			source_content = excluded.source_content,
			content_hash = excluded.content_hash,
			metadata = excluded.metadata,
			updated_at = excluded.updated_at
	`
	_, err = r.db.ExecContext(ctx, query,
		string(rec.EntityType), rec.EntityID, EncodeVector(rec.Vector), len(rec.Vector),
		rec.SourceContent, rec.ContentHash, string(metadata),
		rec.CreatedAt.UTC(), rec.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert embedding %s:%s: %w", rec.EntityType, rec.EntityID, err)
	}
	return nil
}

// Get returns the current record for an entity.
func (r *EmbeddingRepository) Get(ctx context.Context, ref EntityRef) (*EmbeddingRecord, error) {
	query := `
		SELECT entity_type, entity_id, vector, source_content, content_hash, metadata, created_at, updated_at
		FROM entity_embeddings
		WHERE entity_type = ? AND entity_id = ?
	`
	rec, err := scanEmbedding(r.db.QueryRowContext(ctx, query, string(ref.Type), ref.ID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rec, err
}

// List returns every stored embedding.
func (r *EmbeddingRepository) List(ctx context.Context) ([]*EmbeddingRecord, error) {
	query := `
		SELECT entity_type, entity_id, vector, source_content, content_hash, metadata, created_at, updated_at
		FROM entity_embeddings
		ORDER BY entity_type, entity_id
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list embeddings: %w", err)
	}
	defer rows.Close()

	var records []*EmbeddingRecord
	for rows.Next() {
		rec, err := scanEmbedding(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Count returns the number of stored embeddings.
func (r *EmbeddingRepository) Count(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entity_embeddings`).Scan(&n)
	return n, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEmbedding(row rowScanner) (*EmbeddingRecord, error) {
	var (
		rec        EmbeddingRecord
		entityType string
		vector     []byte
		metadata   sql.NullString
	)
	if err := row.Scan(&entityType, &rec.EntityID, &vector, &rec.SourceContent, &rec.ContentHash,
		&metadata, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	rec.EntityType = EntityType(entityType)

	v, err := DecodeVector(vector)
	if err != nil {
		return nil, fmt.Errorf("decode vector %s:%s: %w", entityType, rec.EntityID, err)
	}
	rec.Vector = v

	if metadata.Valid && metadata.String != "" && metadata.String != "null" {
		if err := json.Unmarshal([]byte(metadata.String), &rec.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata %s:%s: %w", entityType, rec.EntityID, err)
		}
	}
	return &rec, nil
}

// FingerprintRepository persists entity fingerprints.
type FingerprintRepository struct {
	db DB
}

// NewFingerprintRepository creates a new fingerprint repository.
func NewFingerprintRepository(db DB) *FingerprintRepository {
	return &FingerprintRepository{db: db}
}

// Upsert writes the record, replacing any current record for the same entity.
func (r *FingerprintRepository) Upsert(ctx context.Context, rec *FingerprintRecord) error {
	topics, _ := json.Marshal(nonNil(rec.Fingerprint.Topics))
	areas, _ := json.Marshal(nonNil(rec.Fingerprint.PolicyAreas))
	entities, _ := json.Marshal(nonNil(rec.Fingerprint.Entities))

	query := `
		INSERT INTO entity_fingerprints
			(entity_type, entity_id, topics, policy_areas, entities, scope, source_content, content_hash, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (entity_type, entity_id) DO UPDATE SET
			topics = excluded.topics,
			policy_areas = excluded.policy_areas,
			entities = excluded.entities,
			scope = excluded.scope,
			source_content = excluded.source_content,
			content_hash = excluded.content_hash,
			updated_at = excluded.updated_at
	`
	_, err := r.db.ExecContext(ctx, query,
		string(rec.EntityType), rec.EntityID, string(topics), string(areas), string(entities),
		string(rec.Fingerprint.Scope), rec.SourceContent, rec.ContentHash,
		rec.CreatedAt.UTC(), rec.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert fingerprint %s:%s: %w", rec.EntityType, rec.EntityID, err)
	}
	return nil
}

// List returns every stored fingerprint.
func (r *FingerprintRepository) List(ctx context.Context) ([]*FingerprintRecord, error) {
	query := `
		SELECT entity_type, entity_id, topics, policy_areas, entities, scope, source_content, content_hash, created_at, updated_at
		FROM entity_fingerprints
		ORDER BY entity_type, entity_id
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list fingerprints: %w", err)
	}
	defer rows.Close()

	var records []*FingerprintRecord
	for rows.Next() {
		var (
			rec                     FingerprintRecord
			entityType, scope       string
			topics, areas, entities string
		)
		if err := rows.Scan(&entityType, &rec.EntityID, &topics, &areas, &entities, &scope,
			&rec.SourceContent, &rec.ContentHash, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		rec.EntityType = EntityType(entityType)
		rec.Fingerprint.Scope = Scope(scope)
		for _, f := range []struct {
			raw string
			dst *[]string
		}{
			{topics, &rec.Fingerprint.Topics},
			{areas, &rec.Fingerprint.PolicyAreas},
			{entities, &rec.Fingerprint.Entities},
		} {
			if err := json.Unmarshal([]byte(f.raw), f.dst); err != nil {
				return nil, fmt.Errorf("decode fingerprint %s:%s: %w", entityType, rec.EntityID, err)
			}
		}
		records = append(records, &rec)
	}
	return records, rows.Err()
}

// EncodeVector packs a vector as little-endian float32s.
func EncodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

// DecodeVector reverses EncodeVector.
func DecodeVector(buf []byte) ([]float32, error) {
	if len(buf)%4 != 0 {
		return nil, fmt.Errorf("vector blob length %d is not a multiple of 4", len(buf))
	}
	v := make([]float32, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return v, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
