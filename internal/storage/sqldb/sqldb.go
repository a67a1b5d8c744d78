// Package sqldb implements storage.Conn on top of database/sql. The mssql,
// mysql and sqlite backends embed it, and the "sql" and "oracle" kinds use it
// directly with a driver the caller links in.
//
// Execute-many prepares the statement once and executes it per parameter
// row on the same connection or transaction.
package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"surge/internal/dialect"
	"surge/internal/paramstyle"
	"surge/internal/storage"
)

//
// Testability seams: *sql.DB and *sql.Tx are adapted to queryer so unit
// tests can inject fakes without a driver.
//

// stmtCore is the subset of *sql.Stmt we use.
type stmtCore interface {
	ExecContext(ctx context.Context, args ...any) (sql.Result, error)
	Close() error
}

// queryer is what DB and Tx execute against.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	PrepareContext(ctx context.Context, query string) (stmtCore, error)
}

type realDB struct{ db *sql.DB }

func (r realDB) ExecContext(ctx context.Context, q string, args ...any) (sql.Result, error) {
	return r.db.ExecContext(ctx, q, args...)
}

func (r realDB) PrepareContext(ctx context.Context, q string) (stmtCore, error) {
	st, err := r.db.PrepareContext(ctx, q)
	if err != nil {
		return nil, err
	}
	return st, nil
}

type realTx struct{ tx *sql.Tx }

func (r realTx) ExecContext(ctx context.Context, q string, args ...any) (sql.Result, error) {
	return r.tx.ExecContext(ctx, q, args...)
}

func (r realTx) PrepareContext(ctx context.Context, q string) (stmtCore, error) {
	st, err := r.tx.PrepareContext(ctx, q)
	if err != nil {
		return nil, err
	}
	return st, nil
}

// DB is a storage.DB over a *sql.DB.
type DB struct {
	raw   *sql.DB
	q     queryer
	d     dialect.Dialect
	style paramstyle.Style
}

var (
	_ storage.DB = (*DB)(nil)
	_ storage.Tx = (*Tx)(nil)
)

// Open opens driver/dsn and pings with a 5s timeout to fail fast on bad DSNs.
func Open(ctx context.Context, driver, dsn string, d dialect.Dialect, style paramstyle.Style) (*DB, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("%s: DSN must not be empty", d)
	}
	raw, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: open: %w", d, err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := raw.PingContext(pingCtx); err != nil {
		_ = raw.Close()
		return nil, fmt.Errorf("%s: ping: %w", d, err)
	}
	return New(raw, d, style), nil
}

// New wraps an already opened pool.
func New(raw *sql.DB, d dialect.Dialect, style paramstyle.Style) *DB {
	return &DB{raw: raw, q: realDB{raw}, d: d, style: style}
}

// Raw exposes the pool for driver-specific paths.
func (db *DB) Raw() *sql.DB { return db.raw }

func (db *DB) Dialect() dialect.Dialect      { return db.d }
func (db *DB) ParamStyle() paramstyle.Style { return db.style }

// Exec runs one statement.
func (db *DB) Exec(ctx context.Context, q string, p paramstyle.Params) (int64, error) {
	return execOne(ctx, db.q, q, p)
}

// ExecMany runs q once per parameter row with a single prepared statement.
func (db *DB) ExecMany(ctx context.Context, q string, ps []paramstyle.Params) (int64, error) {
	return execMany(ctx, db.q, q, ps)
}

// Begin starts a transaction.
func (db *DB) Begin(ctx context.Context) (storage.Tx, error) {
	tx, err := db.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	return tx, nil
}

// BeginTx is Begin with the concrete return type.
func (db *DB) BeginTx(ctx context.Context) (*Tx, error) {
	tx, err := db.raw.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: begin: %w", db.d, err)
	}
	return &Tx{raw: tx, q: realTx{tx}, d: db.d, style: db.style}, nil
}

// Close closes the pool.
func (db *DB) Close() error {
	if db.raw == nil {
		return nil
	}
	return db.raw.Close()
}

// Tx is a storage.Tx over a *sql.Tx.
type Tx struct {
	raw   *sql.Tx
	q     queryer
	d     dialect.Dialect
	style paramstyle.Style
}

// Raw exposes the transaction for driver-specific paths.
func (tx *Tx) Raw() *sql.Tx { return tx.raw }

func (tx *Tx) Dialect() dialect.Dialect      { return tx.d }
func (tx *Tx) ParamStyle() paramstyle.Style { return tx.style }

func (tx *Tx) Exec(ctx context.Context, q string, p paramstyle.Params) (int64, error) {
	return execOne(ctx, tx.q, q, p)
}

func (tx *Tx) ExecMany(ctx context.Context, q string, ps []paramstyle.Params) (int64, error) {
	return execMany(ctx, tx.q, q, ps)
}

func (tx *Tx) Commit(context.Context) error   { return tx.raw.Commit() }
func (tx *Tx) Rollback(context.Context) error { return tx.raw.Rollback() }

func execOne(ctx context.Context, q queryer, query string, p paramstyle.Params) (int64, error) {
	res, err := q.ExecContext(ctx, query, p.Args()...)
	if err != nil {
		return 0, err
	}
	return affected(res), nil
}

func execMany(ctx context.Context, q queryer, query string, ps []paramstyle.Params) (int64, error) {
	if len(ps) == 0 {
		return 0, nil
	}
	stmt, err := q.PrepareContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	var total int64
	for i, p := range ps {
		res, err := stmt.ExecContext(ctx, p.Args()...)
		if err != nil {
			return total, fmt.Errorf("row %d: %w", i, err)
		}
		total += affected(res)
	}
	return total, nil
}

// affected tolerates drivers that cannot report rows affected.
func affected(res sql.Result) int64 {
	n, err := res.RowsAffected()
	if err != nil || n < 0 {
		return 0
	}
	return n
}
