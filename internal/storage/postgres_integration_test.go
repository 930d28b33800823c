//go:build integration

package storage_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/storage"
	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/storage/storagetest"
)

func newPostgres(t *testing.T) *storage.Database {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("legislative_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("terminate postgres container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := storage.Open(ctx, storage.DialectPostgres, dsn, storage.OpenOptions{MaxOpenConns: 4})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, storage.Migrate(ctx, db, storage.DialectPostgres, true))
	// Migrations are idempotent.
	require.NoError(t, storage.Migrate(ctx, db, storage.DialectPostgres, true))
	return db
}

func TestPostgres_CorpusAndIndexes(t *testing.T) {
	db := newPostgres(t)
	storagetest.Seed(t, db)
	ctx := context.Background()

	entities := storage.NewEntityRepository(db)
	id, err := entities.Lookup(ctx, storage.EntityBill, "hr1234")
	require.NoError(t, err)
	assert.Equal(t, "118-hr-1234", id)

	id, err = entities.Lookup(ctx, storage.EntityMember, "carter")
	require.NoError(t, err)
	assert.Equal(t, "M002", id)

	docs, err := entities.ListDocuments(ctx, storage.EntityBill)
	require.NoError(t, err)
	assert.Len(t, docs, 4)

	embeddings := storage.NewEmbeddingRepository(db)
	rec := &storage.EmbeddingRecord{
		EntityType:    storage.EntityBill,
		EntityID:      "118-hr-1234",
		Vector:        []float32{0.5, 0.25, 0.125},
		SourceContent: "insulin",
		ContentHash:   "h1",
		CreatedAt:     storagetest.Now,
		UpdatedAt:     storagetest.Now,
	}
	require.NoError(t, embeddings.Upsert(ctx, rec))
	rec.ContentHash = "h2"
	require.NoError(t, embeddings.Upsert(ctx, rec))

	got, err := embeddings.Get(ctx, rec.Ref())
	require.NoError(t, err)
	assert.Equal(t, "h2", got.ContentHash)
	assert.Equal(t, rec.Vector, got.Vector)

	fingerprints := storage.NewFingerprintRepository(db)
	require.NoError(t, fingerprints.Upsert(ctx, &storage.FingerprintRecord{
		EntityType:  storage.EntityBill,
		EntityID:    "118-hr-1234",
		Fingerprint: storage.Fingerprint{PolicyAreas: []string{"health"}, Scope: storage.ScopeNational},
		ContentHash: "f1",
		CreatedAt:   storagetest.Now,
		UpdatedAt:   storagetest.Now,
	}))
	list, err := fingerprints.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, []string{"health"}, list[0].Fingerprint.PolicyAreas)
}

func TestPostgres_RebindPlaceholders(t *testing.T) {
	db := newPostgres(t)
	storagetest.Seed(t, db)

	q := storage.Rebind(storage.DialectPostgres, "SELECT COUNT(*) FROM bills WHERE policy_area = ? AND congress = ?")
	var n int
	require.NoError(t, db.QueryRowContext(context.Background(), q, "Health", 118).Scan(&n))
	assert.Equal(t, 2, n)
}
