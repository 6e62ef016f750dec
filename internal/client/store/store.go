// Package store opens the local cache and groups its repositories.
//
// The cache is a SQLite database migrated with the embedded goose
// migrations. Every row carries an account scope, so one file can serve
// several local accounts.
package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dmitrijs2005/chatkeeper/internal/client/migrations"
	"github.com/dmitrijs2005/chatkeeper/internal/client/repositories/conversations"
	"github.com/dmitrijs2005/chatkeeper/internal/client/repositories/messages"
	"github.com/dmitrijs2005/chatkeeper/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/chatkeeper/internal/client/repositories/personalkeys"
	"github.com/dmitrijs2005/chatkeeper/internal/dbx"
	"github.com/dmitrijs2005/chatkeeper/internal/filex"

	_ "modernc.org/sqlite"
)

// Repositories bundles the cache tables bound to one handle, either the
// database itself or a transaction.
type Repositories struct {
	Metadata      metadata.Repository
	Conversations conversations.Repository
	Messages      messages.Repository
	PersonalKeys  personalkeys.Repository
}

// NewRepositories binds every repository to db.
func NewRepositories(db dbx.DBTX) *Repositories {
	return &Repositories{
		Metadata:      metadata.NewSQLiteRepository(db),
		Conversations: conversations.NewSQLiteRepository(db),
		Messages:      messages.NewSQLiteRepository(db),
		PersonalKeys:  personalkeys.NewSQLiteRepository(db),
	}
}

// Store is an open local cache.
type Store struct {
	*Repositories
	db *sql.DB
}

// New wraps an already migrated database.
func New(db *sql.DB) *Store {
	return &Store{Repositories: NewRepositories(db), db: db}
}

// Open opens (creating if needed) the cache at dsn and applies migrations.
// The pool is limited to one connection: SQLite serializes writers anyway
// and ":memory:" databases are per connection.
func Open(ctx context.Context, dsn string) (*Store, error) {
	if dsn != ":memory:" {
		if err := filex.EnsureParentDir(dsn); err != nil {
			return nil, fmt.Errorf("prepare cache dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	if err := migrations.Up(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate cache: %w", err)
	}

	return New(db), nil
}

// WithTx runs fn with repositories bound to a single transaction. The
// transaction commits when fn returns nil and rolls back otherwise.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, repos *Repositories) error) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		return fn(ctx, NewRepositories(tx))
	})
}

// DB exposes the underlying handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Close() error {
	return s.db.Close()
}
