// Package storagetest opens throwaway databases for tests in other packages.
package storagetest

import (
	"context"
	"testing"

	"MedicineCrawler/internal/infrastructure/storage"
)

// OpenMemory opens a migrated in-memory SQLite database closed on cleanup.
func OpenMemory(t testing.TB) *storage.DB {
	t.Helper()
	db, err := storage.Open(context.Background(), string(storage.SQLite), ":memory:")
	if err != nil {
		t.Fatalf("storagetest.OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}
