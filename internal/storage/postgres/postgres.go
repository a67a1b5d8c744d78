// Package postgres implements the "postgres" storage backend on pgx v5.
//
// Execute-many sends every parameter row in one pgx.Batch round trip, and
// bulk copy streams CSV text through COPY ... FROM STDIN on a pooled
// connection.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"surge/internal/dialect"
	"surge/internal/paramstyle"
	"surge/internal/storage"
)

// execer is the subset of *pgxpool.Pool and pgx.Tx used for statements.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// pgCopier is satisfied by *pgconn.PgConn.
type pgCopier interface {
	CopyFrom(ctx context.Context, r io.Reader, sql string) (pgconn.CommandTag, error)
}

// poolLike is the subset of *pgxpool.Pool the backend needs.
type poolLike interface {
	execer
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// DB is the postgres storage.DB.
type DB struct {
	pool poolLike
	// acquire hands out a raw connection for COPY plus its release func.
	acquire func(ctx context.Context) (pgCopier, func(), error)
}

var (
	_ storage.DB         = (*DB)(nil)
	_ storage.BulkCopier = (*DB)(nil)
	_ storage.BulkCopier = (*Tx)(nil)
)

// Open connects a pgxpool and pings it.
func Open(ctx context.Context, cfg storage.Config) (*DB, error) {
	if cfg.ParamStyle != "" {
		if s, err := cfg.Style(paramstyle.Dollar); err != nil || s != paramstyle.Dollar {
			return nil, fmt.Errorf("postgres: pgx only accepts dollar placeholders, got %q", cfg.ParamStyle)
		}
	}
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("pgxpool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return &DB{
		pool: pool,
		acquire: func(ctx context.Context) (pgCopier, func(), error) {
			c, err := pool.Acquire(ctx)
			if err != nil {
				return nil, nil, err
			}
			return c.Conn().PgConn(), c.Release, nil
		},
	}, nil
}

func (db *DB) Dialect() dialect.Dialect      { return dialect.Postgres }
func (db *DB) ParamStyle() paramstyle.Style { return paramstyle.Dollar }

// Exec runs one statement.
func (db *DB) Exec(ctx context.Context, sql string, p paramstyle.Params) (int64, error) {
	return execOne(ctx, db.pool, sql, p)
}

// ExecMany queues one statement per row in a single batch.
func (db *DB) ExecMany(ctx context.Context, sql string, ps []paramstyle.Params) (int64, error) {
	return execBatch(ctx, db.pool, sql, ps)
}

// Begin starts a transaction on one pooled connection.
func (db *DB) Begin(ctx context.Context) (storage.Tx, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return nil, wrapErr("begin", err)
	}
	return &Tx{tx: tx, copier: func() pgCopier { return tx.Conn().PgConn() }}, nil
}

// CopyFrom streams r into table via COPY FROM STDIN.
func (db *DB) CopyFrom(ctx context.Context, table string, cols []string, r io.Reader, f dialect.Format) (int64, error) {
	c, release, err := db.acquire(ctx)
	if err != nil {
		return 0, wrapErr("acquire", err)
	}
	defer release()
	return copyFrom(ctx, c, table, cols, r, f)
}

// Close closes the pool.
func (db *DB) Close() error {
	db.pool.Close()
	return nil
}

// Tx is the postgres storage.Tx.
type Tx struct {
	tx     pgx.Tx
	copier func() pgCopier
}

func (t *Tx) Dialect() dialect.Dialect      { return dialect.Postgres }
func (t *Tx) ParamStyle() paramstyle.Style { return paramstyle.Dollar }

func (t *Tx) Exec(ctx context.Context, sql string, p paramstyle.Params) (int64, error) {
	return execOne(ctx, t.tx, sql, p)
}

func (t *Tx) ExecMany(ctx context.Context, sql string, ps []paramstyle.Params) (int64, error) {
	return execBatch(ctx, t.tx, sql, ps)
}

// CopyFrom runs COPY inside the transaction.
func (t *Tx) CopyFrom(ctx context.Context, table string, cols []string, r io.Reader, f dialect.Format) (int64, error) {
	return copyFrom(ctx, t.copier(), table, cols, r, f)
}

func (t *Tx) Commit(ctx context.Context) error   { return t.tx.Commit(ctx) }
func (t *Tx) Rollback(ctx context.Context) error { return t.tx.Rollback(ctx) }

func execOne(ctx context.Context, e execer, sql string, p paramstyle.Params) (int64, error) {
	tag, err := e.Exec(ctx, sql, p.Positional...)
	if err != nil {
		return 0, wrapErr("exec", err)
	}
	return tag.RowsAffected(), nil
}

func execBatch(ctx context.Context, e execer, sql string, ps []paramstyle.Params) (int64, error) {
	if len(ps) == 0 {
		return 0, nil
	}
	b := &pgx.Batch{}
	for _, p := range ps {
		b.Queue(sql, p.Positional...)
	}
	br := e.SendBatch(ctx, b)

	var total int64
	for i := range ps {
		tag, err := br.Exec()
		if err != nil {
			_ = br.Close()
			return total, wrapErr(fmt.Sprintf("batch row %d", i), err)
		}
		total += tag.RowsAffected()
	}
	if err := br.Close(); err != nil {
		return total, wrapErr("batch close", err)
	}
	return total, nil
}

func copyFrom(ctx context.Context, c pgCopier, table string, cols []string, r io.Reader, f dialect.Format) (int64, error) {
	tag, err := c.CopyFrom(ctx, r, CopySQL(table, cols, f))
	if err != nil {
		return tag.RowsAffected(), wrapErr("copy", err)
	}
	return tag.RowsAffected(), nil
}

// CopySQL renders the COPY statement for the CSV encoding f.
func CopySQL(table string, cols []string, f dialect.Format) string {
	return fmt.Sprintf("COPY %s (%s) FROM STDIN WITH (FORMAT csv, DELIMITER %s, QUOTE %s, NULL %s)",
		table, strings.Join(cols, ", "),
		quoteLiteral(string(f.Delimiter)), quoteLiteral(string(f.Quote)), quoteLiteral(f.Null))
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// wrapErr adds SQLSTATE and detail from *pgconn.PgError when present.
func wrapErr(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		msg := fmt.Sprintf("postgres: %s: %s (SQLSTATE %s)", op, pgErr.Message, pgErr.Code)
		if pgErr.Detail != "" {
			msg += " detail=" + pgErr.Detail
		}
		return fmt.Errorf("%s: %w", msg, err)
	}
	return fmt.Errorf("postgres: %s: %w", op, err)
}

// newDB is a test hook that points to Open by default.
var newDB = Open

func init() {
	storage.Register("postgres", func(ctx context.Context, cfg storage.Config) (storage.DB, error) {
		db, err := newDB(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return db, nil
	})
}
