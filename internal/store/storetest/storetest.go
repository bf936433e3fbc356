// Package storetest opens throwaway databases for package tests.
package storetest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"campuslib/internal/store"
)

// New returns a migrated SQLite database living in the test's temp dir.
func New(t testing.TB) *store.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "campuslib-test.db")
	db, err := store.Open(context.Background(), "sqlite", path, 1)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// Postgres connects to CAMPUSLIB_TEST_POSTGRES_URL and migrates it.
// The test is skipped when the variable is unset or the server is unreachable.
func Postgres(t testing.TB) *store.DB {
	t.Helper()

	dsn := os.Getenv("CAMPUSLIB_TEST_POSTGRES_URL")
	if dsn == "" {
		t.Skip("CAMPUSLIB_TEST_POSTGRES_URL not set")
	}

	db, err := store.Open(context.Background(), "postgres", dsn, 10)
	if err != nil {
		t.Skipf("could not connect to postgres: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}
