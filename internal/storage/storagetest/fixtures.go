// Package storagetest provides an in-memory SQLite corpus for tests.
package storagetest

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/storage"
)

var dbCounter atomic.Int64

// NewSQLite opens a private in-memory database with the full schema applied.
func NewSQLite(t testing.TB) *storage.Database {
	t.Helper()

	ctx := context.Background()
	dsn := fmt.Sprintf("file:legis_test_%d?mode=memory&cache=shared", dbCounter.Add(1))
	db, err := storage.Open(ctx, storage.DialectSQLite, dsn, storage.OpenOptions{MaxOpenConns: 1})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, storage.Migrate(ctx, db, storage.DialectSQLite, true))
	return db
}

// Now is the reference clock used by fixtures.
var Now = time.Date(2024, time.June, 15, 12, 0, 0, 0, time.UTC)

// Seed inserts a small, fixed corpus.
func Seed(t testing.TB, db storage.DB) {
	t.Helper()

	ctx := context.Background()
	repo := storage.NewEntityRepository(db)

	members := []*storage.Member{
		{ID: "M001", FullName: "Jane Smith", FirstName: "Jane", LastName: "Smith", Party: "D", State: "CA", Chamber: "House", District: 12, UpdatedAt: Now.AddDate(0, -1, 0)},
		{ID: "M002", FullName: "John Carter", FirstName: "John", LastName: "Carter", Party: "R", State: "TX", Chamber: "Senate", UpdatedAt: Now.AddDate(0, -2, 0)},
		{ID: "M003", FullName: "Ana Lopez", FirstName: "Ana", LastName: "Lopez", Party: "D", State: "NY", Chamber: "Senate", UpdatedAt: Now.AddDate(0, -3, 0)},
	}
	for _, m := range members {
		require.NoError(t, repo.UpsertMember(ctx, m))
	}

	latest := Now.AddDate(0, 0, -10)
	bills := []*storage.Bill{
		{ID: "118-hr-1234", BillType: "hr", Number: 1234, Congress: 118, Title: "Affordable Insulin Act",
			Summary: "Caps out-of-pocket insulin costs under Medicare.", PolicyArea: "Health",
			Subjects: []string{"Medicare", "Prescription drugs"}, Status: "Passed House",
			IntroducedDate: Now.AddDate(0, -4, 0), LatestActionDate: &latest, SponsorID: "M001", UpdatedAt: Now.AddDate(0, 0, -10)},
		{ID: "118-s-2960", BillType: "s", Number: 2960, Congress: 118, Title: "Border Security Enhancement Act",
			Summary: "Funds additional border patrol agents.", PolicyArea: "Immigration",
			Subjects: []string{"Border security"}, Status: "Introduced",
			IntroducedDate: Now.AddDate(0, -2, 0), SponsorID: "M002", UpdatedAt: Now.AddDate(0, -2, 0)},
		{ID: "118-hres-123", BillType: "hres", Number: 123, Congress: 118, Title: "Recognizing National Nurses Week",
			PolicyArea: "Health", Status: "Agreed to", IntroducedDate: Now.AddDate(0, -6, 0),
			SponsorID: "M001", UpdatedAt: Now.AddDate(0, -6, 0)},
		{ID: "118-s-77", BillType: "s", Number: 77, Congress: 118, Title: "Clean Water Infrastructure Act",
			Summary: "Grants for state drinking water systems.", PolicyArea: "Environmental Protection",
			Subjects: []string{"Water quality"}, Status: "Reported", IntroducedDate: Now.AddDate(-1, -1, 0),
			SponsorID: "M003", UpdatedAt: Now.AddDate(-1, 0, 0)},
	}
	for _, b := range bills {
		require.NoError(t, repo.UpsertBill(ctx, b))
	}

	actions := []*storage.Action{
		{ID: "A1", BillID: "118-hr-1234", ActionDate: Now.AddDate(0, 0, -10), Chamber: "House", Text: "Passed House by recorded vote.", UpdatedAt: Now.AddDate(0, 0, -10)},
		{ID: "A2", BillID: "118-s-2960", ActionDate: Now.AddDate(0, -2, 0), Chamber: "Senate", Text: "Read twice and referred to committee.", UpdatedAt: Now.AddDate(0, -2, 0)},
	}
	for _, a := range actions {
		require.NoError(t, repo.UpsertAction(ctx, a))
	}
}
