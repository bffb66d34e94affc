package testutil

import (
	"testing"

	"svpatch/internal/database"
	"svpatch/internal/patch"
)

// NewTestDatabase creates a new in-memory run index with schema applied.
// The database is automatically closed when the test completes.
func NewTestDatabase(t *testing.T) patch.Database {
	t.Helper()

	db, err := database.NewSQLiteDatabase(":memory:")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})
	return db
}
