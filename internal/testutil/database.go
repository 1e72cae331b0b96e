package testutil

import (
	"testing"

	"dsync-go/internal/database"
)

// NewTestHistory creates a new in-memory run-history database with the
// schema applied. The database is automatically closed when the test completes.
func NewTestHistory(t *testing.T) *database.SQLiteDatabase {
	t.Helper()

	sqlDB, err := database.OpenConnection(":memory:")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}

	db := database.NewSQLiteDatabaseFromDB(sqlDB, FixedClock(), NewStubIDGenerator())
	if err := db.Migrate(); err != nil {
		db.Close()
		t.Fatalf("failed to apply schema: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}
