package db

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
)

// OpenTestSQLite opens a migrated registry in t.TempDir() and closes it
// when the test ends.
func OpenTestSQLite(t *testing.T) *sql.DB {
	t.Helper()

	db, err := OpenRegistry(context.Background(), filepath.Join(t.TempDir(), "registry.sqlite"))
	if err != nil {
		t.Fatalf("open test registry: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}
