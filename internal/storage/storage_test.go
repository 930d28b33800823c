package storage_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/storage"
	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/storage/storagetest"
)

func TestRebind(t *testing.T) {
	tests := []struct {
		name    string
		dialect storage.Dialect
		in      string
		want    string
	}{
		{"sqlite untouched", storage.DialectSQLite, "SELECT * FROM bills WHERE id = ?", "SELECT * FROM bills WHERE id = ?"},
		{"postgres numbered", storage.DialectPostgres, "WHERE a = ? AND b IN (?, ?)", "WHERE a = $1 AND b IN ($2, $3)"},
		{"quoted literal kept", storage.DialectPostgres, "WHERE title = 'why?' AND id = ?", "WHERE title = 'why?' AND id = $1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, storage.Rebind(tt.dialect, tt.in))
		})
	}
}

func TestCountPlaceholders(t *testing.T) {
	assert.Equal(t, 2, storage.CountPlaceholders("a = ? AND b = ? AND c = '?'"))
	assert.Equal(t, 0, storage.CountPlaceholders("SELECT 1"))
}

func TestVectorCodec(t *testing.T) {
	in := []float32{0.25, -1.5, 3e-7, 0}
	out, err := storage.DecodeVector(storage.EncodeVector(in))
	require.NoError(t, err)
	assert.Equal(t, in, out)

	_, err = storage.DecodeVector([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestEntityRepository_Lookup(t *testing.T) {
	db := storagetest.NewSQLite(t)
	storagetest.Seed(t, db)
	repo := storage.NewEntityRepository(db)
	ctx := context.Background()

	tests := []struct {
		name       string
		entityType storage.EntityType
		key        string
		wantID     string
		wantErr    error
	}{
		{"bill by key", storage.EntityBill, "hr1234", "118-hr-1234", nil},
		{"bill key case", storage.EntityBill, "HRES123", "118-hres-123", nil},
		{"unknown bill", storage.EntityBill, "hr9999", "", storage.ErrNotFound},
		{"malformed bill key", storage.EntityBill, "bogus", "", storage.ErrNotFound},
		{"member full name", storage.EntityMember, "jane smith", "M001", nil},
		{"member surname", storage.EntityMember, "Carter", "M002", nil},
		{"action id", storage.EntityAction, "A2", "A2", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := repo.Lookup(ctx, tt.entityType, tt.key)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, id)
		})
	}
}

func TestEntityRepository_ListDocuments(t *testing.T) {
	db := storagetest.NewSQLite(t)
	storagetest.Seed(t, db)
	repo := storage.NewEntityRepository(db)

	docs, err := repo.ListDocuments(context.Background(), storage.EntityBill)
	require.NoError(t, err)
	require.Len(t, docs, 4)

	var insulin storage.Document
	for _, d := range docs {
		if d.Ref.ID == "118-hr-1234" {
			insulin = d
		}
	}
	assert.Contains(t, insulin.Content, "H.R. 1234")
	assert.Contains(t, insulin.Content, "Affordable Insulin Act")
	assert.Contains(t, insulin.Content, "Sponsor: Jane Smith (D-CA)")
	assert.Equal(t, "Health", insulin.Attributes.PolicyArea)
	assert.Equal(t, []string{"Medicare", "Prescription drugs"}, insulin.Attributes.Subjects)
	assert.Equal(t, "house", insulin.Attributes.Chamber)

	members, err := repo.ListDocuments(context.Background(), storage.EntityMember)
	require.NoError(t, err)
	require.Len(t, members, 3)
	assert.Contains(t, members[1].Content, "Senator John Carter (R-TX)")

	actions, err := repo.ListDocuments(context.Background(), storage.EntityAction)
	require.NoError(t, err)
	require.Len(t, actions, 2)
	assert.Contains(t, actions[0].Content, "Action on H.R. 1234")
}

func TestEmbeddingRepository_UpsertAndList(t *testing.T) {
	db := storagetest.NewSQLite(t)
	repo := storage.NewEmbeddingRepository(db)
	ctx := context.Background()
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	rec := &storage.EmbeddingRecord{
		EntityType:    storage.EntityBill,
		EntityID:      "118-hr-1234",
		Vector:        []float32{0.1, 0.2, 0.3},
		SourceContent: "insulin",
		ContentHash:   "h1",
		Metadata:      map[string]any{"policy_area": "Health"},
		CreatedAt:     ts,
		UpdatedAt:     ts,
	}
	require.NoError(t, repo.Upsert(ctx, rec))

	rec.ContentHash = "h2"
	rec.Vector = []float32{0.3, 0.2, 0.1}
	rec.UpdatedAt = ts.Add(time.Hour)
	require.NoError(t, repo.Upsert(ctx, rec))

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "one current record per entity")

	got, err := repo.Get(ctx, storage.EntityRef{Type: storage.EntityBill, ID: "118-hr-1234"})
	require.NoError(t, err)
	assert.Equal(t, "h2", got.ContentHash)
	assert.Equal(t, []float32{0.3, 0.2, 0.1}, got.Vector)
	assert.Equal(t, "Health", got.Metadata["policy_area"])
	assert.True(t, got.UpdatedAt.Equal(ts.Add(time.Hour)))

	_, err = repo.Get(ctx, storage.EntityRef{Type: storage.EntityBill, ID: "missing"})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestFingerprintRepository_UpsertAndList(t *testing.T) {
	db := storagetest.NewSQLite(t)
	repo := storage.NewFingerprintRepository(db)
	ctx := context.Background()

	rec := &storage.FingerprintRecord{
		EntityType: storage.EntityMember,
		EntityID:   "M001",
		Fingerprint: storage.Fingerprint{
			Topics:   []string{"medicare"},
			Entities: []string{"jane smith", "ca"},
			Scope:    storage.ScopeNational,
		},
		SourceContent: "Jane Smith",
		ContentHash:   "abc",
		CreatedAt:     storagetest.Now,
		UpdatedAt:     storagetest.Now,
	}
	require.NoError(t, repo.Upsert(ctx, rec))

	list, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, []string{"medicare"}, list[0].Fingerprint.Topics)
	assert.Empty(t, list[0].Fingerprint.PolicyAreas)
	assert.Equal(t, storage.ScopeNational, list[0].Fingerprint.Scope)
}

func TestSchemaSQL_Dialects(t *testing.T) {
	pg := storage.SchemaSQL(storage.DialectPostgres, false)
	assert.Contains(t, pg, "TIMESTAMPTZ")
	assert.Contains(t, pg, "BYTEA")
	assert.NotContains(t, pg, "CREATE TABLE IF NOT EXISTS bills")

	lite := storage.SchemaSQL(storage.DialectSQLite, true)
	assert.Contains(t, lite, "CREATE TABLE IF NOT EXISTS bills")
	assert.Contains(t, lite, "BLOB")
}

func TestMonthBucket(t *testing.T) {
	assert.Equal(t, "substr(b.introduced_date, 1, 7)", storage.MonthBucket(storage.DialectSQLite, "b.introduced_date"))
	assert.Equal(t, "to_char(b.introduced_date, 'YYYY-MM')", storage.MonthBucket(storage.DialectPostgres, "b.introduced_date"))
}
