// Package mssql implements the "mssql" storage backend on go-mssqldb.
//
// Statements run through database/sql with "@pN" placeholders. Bulk copy
// decodes the delimited stream, converts each field to the Go type of its
// column and feeds the record to the driver's bulk insert API
// (mssql.CopyIn) inside a transaction.
package mssql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strings"

	mssql "github.com/microsoft/go-mssqldb"
	"github.com/microsoft/go-mssqldb/msdsn"

	"surge/internal/dialect"
	"surge/internal/storage"
	"surge/internal/storage/sqldb"
)

// DB is the mssql storage.DB.
type DB struct {
	*sqldb.DB
}

// Tx is the mssql storage.Tx.
type Tx struct {
	*sqldb.Tx
}

var (
	_ storage.DB         = (*DB)(nil)
	_ storage.BulkCopier = (*DB)(nil)
	_ storage.BulkCopier = (*Tx)(nil)
)

// Open validates the DSN, then opens and pings the pool.
func Open(ctx context.Context, cfg storage.Config) (*DB, error) {
	if _, err := msdsn.Parse(cfg.DSN); err != nil {
		return nil, fmt.Errorf("mssql dsn: %w", err)
	}
	style, err := cfg.Style(dialect.SQLServer.DefaultStyle())
	if err != nil {
		return nil, fmt.Errorf("mssql: %w", err)
	}
	db, err := sqldb.Open(ctx, "sqlserver", cfg.DSN, dialect.SQLServer, style)
	if err != nil {
		return nil, err
	}
	return &DB{DB: db}, nil
}

// Begin starts a transaction that can also bulk copy.
func (db *DB) Begin(ctx context.Context) (storage.Tx, error) {
	tx, err := db.DB.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	return &Tx{Tx: tx}, nil
}

// CopyFrom bulk-inserts the stream in its own transaction.
func (db *DB) CopyFrom(ctx context.Context, table string, cols []string, r io.Reader, f dialect.Format) (int64, error) {
	tx, err := db.Raw().BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	n, err := bulkCopy(ctx, sqlPreparer{tx}, table, cols, r, f)
	if err != nil {
		_ = tx.Rollback()
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return n, nil
}

// CopyFrom bulk-inserts the stream inside the open transaction.
func (t *Tx) CopyFrom(ctx context.Context, table string, cols []string, r io.Reader, f dialect.Format) (int64, error) {
	return bulkCopy(ctx, sqlPreparer{t.Raw()}, table, cols, r, f)
}

// bulkStmt is the subset of *sql.Stmt bulk copy uses.
type bulkStmt interface {
	ExecContext(ctx context.Context, args ...any) (sql.Result, error)
	Close() error
}

type preparer interface {
	PrepareContext(ctx context.Context, query string) (bulkStmt, error)
	// ColumnTypes returns the server type name of each of table's cols.
	ColumnTypes(ctx context.Context, table string, cols []string) ([]string, error)
}

type sqlPreparer struct{ tx *sql.Tx }

func (p sqlPreparer) PrepareContext(ctx context.Context, q string) (bulkStmt, error) {
	st, err := p.tx.PrepareContext(ctx, q)
	if err != nil {
		return nil, err
	}
	return st, nil
}

func (p sqlPreparer) ColumnTypes(ctx context.Context, table string, cols []string) ([]string, error) {
	rows, err := p.tx.QueryContext(ctx, "SELECT TOP 0 "+strings.Join(cols, ", ")+" FROM "+table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	cts, err := rows.ColumnTypes()
	if err != nil {
		return nil, err
	}
	out := make([]string, len(cts))
	for i, ct := range cts {
		out[i] = ct.DatabaseTypeName()
	}
	return out, rows.Err()
}

// bulkCopy decodes records from r and streams them through CopyIn. CopyIn
// only accepts Go values matching the column type, so each field is
// converted by the server type of its column. The final argument-less Exec
// flushes the driver buffer and reports the count.
func bulkCopy(ctx context.Context, p preparer, table string, cols []string, r io.Reader, f dialect.Format) (int64, error) {
	types, err := p.ColumnTypes(ctx, table, cols)
	if err != nil {
		return 0, fmt.Errorf("bulk column types: %w", err)
	}
	if len(types) != len(cols) {
		return 0, fmt.Errorf("bulk column types: got %d, want %d", len(types), len(cols))
	}
	convs := make([]convertFunc, len(cols))
	for i, typ := range types {
		convs[i] = converter(typ, f)
	}

	stmt, err := p.PrepareContext(ctx, mssql.CopyIn(table, mssql.BulkOptions{}, cols...))
	if err != nil {
		return 0, fmt.Errorf("prepare bulk: %w", err)
	}

	dec := f.NewDecoder(r)
	vals := make([]any, len(cols))
	for i := 0; ; i++ {
		rec, err := dec.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err == nil && len(rec) != len(cols) {
			err = fmt.Errorf("%w: %d fields, want %d", dialect.ErrMalformed, len(rec), len(cols))
		}
		if err != nil {
			_ = stmt.Close()
			return 0, fmt.Errorf("bulk decode row %d: %w", i, err)
		}
		for j, v := range rec {
			s, ok := v.(string)
			if !ok {
				vals[j] = nil
				continue
			}
			if vals[j], err = convs[j](s); err != nil {
				_ = stmt.Close()
				return 0, fmt.Errorf("bulk row %d: column %s (%s): %w", i, cols[j], types[j], err)
			}
		}
		if _, err := stmt.ExecContext(ctx, vals...); err != nil {
			_ = stmt.Close()
			return 0, fmt.Errorf("bulk row %d: %w", i, err)
		}
	}

	res, err := stmt.ExecContext(ctx)
	if cerr := stmt.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		return 0, fmt.Errorf("bulk finalize: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

// newDB is a test hook that points to Open by default.
var newDB = Open

func init() {
	storage.Register("mssql", func(ctx context.Context, cfg storage.Config) (storage.DB, error) {
		db, err := newDB(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return db, nil
	})
}
