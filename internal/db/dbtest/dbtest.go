// Package dbtest opens migrated in-memory catalogs for tests.
package dbtest

import (
	"testing"

	"github.com/zulandar/datayard/internal/db"
)

// Open returns a Store over a fresh, migrated sqlite database.
func Open(t testing.TB) *db.Store {
	t.Helper()
	gdb, err := db.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.AutoMigrate(gdb); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db.NewStore(gdb)
}
