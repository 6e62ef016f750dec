// Package cachetest opens throwaway local cache databases for tests.
package cachetest

import (
	"context"
	"database/sql"
	"testing"

	"github.com/dmitrijs2005/chatkeeper/internal/client/migrations"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

// Open returns a migrated in-memory database closed on test cleanup.
// A single connection keeps every statement on the same memory database.
func Open(t testing.TB) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, migrations.Up(context.Background(), db))
	return db
}
