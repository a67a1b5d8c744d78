package sqldb

import (
	"context"
	"fmt"

	"surge/internal/dialect"
	"surge/internal/storage"
)

// defaultOracleDriver is the database/sql name godror registers.
const defaultOracleDriver = "godror"

// open is a test hook that points to Open by default.
var open = Open

func init() {
	// "sql": any database/sql driver the binary links in.
	storage.Register("sql", func(ctx context.Context, cfg storage.Config) (storage.DB, error) {
		if cfg.Driver == "" {
			return nil, fmt.Errorf("sql: storage.driver is required")
		}
		d, err := dialect.Parse(cfg.Dialect)
		if err != nil {
			return nil, fmt.Errorf("sql: %w", err)
		}
		return openConfigured(ctx, cfg, cfg.Driver, d)
	})

	// "oracle": no native bulk path, MERGE for upserts, ":1" placeholders.
	storage.Register("oracle", func(ctx context.Context, cfg storage.Config) (storage.DB, error) {
		driver := cfg.Driver
		if driver == "" {
			driver = defaultOracleDriver
		}
		return openConfigured(ctx, cfg, driver, dialect.Oracle)
	})
}

func openConfigured(ctx context.Context, cfg storage.Config, driver string, d dialect.Dialect) (storage.DB, error) {
	style, err := cfg.Style(d.DefaultStyle())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", d, err)
	}
	db, err := open(ctx, driver, cfg.DSN, d, style)
	if err != nil {
		return nil, err
	}
	return db, nil
}
