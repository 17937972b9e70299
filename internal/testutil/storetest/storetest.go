// Package storetest opens temporary terminal stores for tests.
package storetest

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/Veraticus/tillpoint/internal/storage"
)

// NewTestStore opens a migrated SQLite store in a temporary directory. It is
// closed when the test finishes.
func NewTestStore(t *testing.T, opts ...storage.Option) *storage.SQLiteStorage {
	t.Helper()

	store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "till.db"), opts...)
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})

	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}
	return store
}
