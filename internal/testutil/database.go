package testutil

import (
	"testing"

	"chara-go/internal/chara"
	"chara-go/internal/database"
)

// NewTestDatabase creates a new in-memory SQLite database with schema applied.
// The database is automatically closed when the test completes.
func NewTestDatabase(t *testing.T, clock chara.Clock) *database.SQLiteDatabase {
	t.Helper()

	db, err := database.NewSQLiteDatabase(":memory:", clock)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		t.Fatalf("failed to apply migrations: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}
