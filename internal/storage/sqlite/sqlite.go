// Package sqlite registers the "sqlite" storage backend on modernc.org/sqlite.
// SQLite has no bulk-load API; execute-many inside one transaction is the
// fast path.
package sqlite

import (
	"context"
	"fmt"

	_ "modernc.org/sqlite"

	"surge/internal/dialect"
	"surge/internal/storage"
	"surge/internal/storage/sqldb"
)

// Open opens dsn ("file:etl.db", ":memory:", ...) with a single connection.
// One connection keeps in-memory databases and temp tables visible to
// every statement of a load.
func Open(ctx context.Context, cfg storage.Config) (*sqldb.DB, error) {
	style, err := cfg.Style(dialect.SQLite.DefaultStyle())
	if err != nil {
		return nil, fmt.Errorf("sqlite: %w", err)
	}
	db, err := sqldb.Open(ctx, "sqlite", cfg.DSN, dialect.SQLite, style)
	if err != nil {
		return nil, err
	}
	db.Raw().SetMaxOpenConns(1)
	// Ignore the error if the build lacks foreign key support.
	_, _ = db.Raw().ExecContext(ctx, "PRAGMA foreign_keys = ON")
	return db, nil
}

// newDB is a test hook that points to Open by default.
var newDB = Open

func init() {
	storage.Register("sqlite", func(ctx context.Context, cfg storage.Config) (storage.DB, error) {
		db, err := newDB(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return db, nil
	})
}
