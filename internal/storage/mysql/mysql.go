// Package mysql implements the "mysql" storage backend on
// go-sql-driver/mysql. Bulk copy registers the stream as a named reader
// and runs LOAD DATA LOCAL INFILE 'Reader::<name>' against it.
package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/go-sql-driver/mysql"

	"surge/internal/dialect"
	"surge/internal/storage"
	"surge/internal/storage/sqldb"
)

// DB is the mysql storage.DB.
type DB struct {
	*sqldb.DB
}

// Tx is the mysql storage.Tx.
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
	if _, err := mysql.ParseDSN(cfg.DSN); err != nil {
		return nil, fmt.Errorf("mysql dsn: %w", err)
	}
	style, err := cfg.Style(dialect.MySQL.DefaultStyle())
	if err != nil {
		return nil, fmt.Errorf("mysql: %w", err)
	}
	db, err := sqldb.Open(ctx, "mysql", cfg.DSN, dialect.MySQL, style)
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

type execContexter interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// CopyFrom loads the stream with LOAD DATA LOCAL INFILE.
func (db *DB) CopyFrom(ctx context.Context, table string, cols []string, r io.Reader, f dialect.Format) (int64, error) {
	return loadData(ctx, db.Raw(), table, cols, r, f)
}

// CopyFrom loads the stream inside the open transaction.
func (t *Tx) CopyFrom(ctx context.Context, table string, cols []string, r io.Reader, f dialect.Format) (int64, error) {
	return loadData(ctx, t.Raw(), table, cols, r, f)
}

var readerSeq atomic.Uint64

// registerReader and deregisterReader are test hooks around the driver's
// global reader registry.
var (
	registerReader   = mysql.RegisterReaderHandler
	deregisterReader = mysql.DeregisterReaderHandler
)

func loadData(ctx context.Context, e execContexter, table string, cols []string, r io.Reader, f dialect.Format) (int64, error) {
	name := "surge_" + strconv.FormatUint(readerSeq.Add(1), 10)
	registerReader(name, func() io.Reader { return r })
	defer deregisterReader(name)

	res, err := e.ExecContext(ctx, LoadDataSQL(name, table, cols, f))
	if err != nil {
		return 0, fmt.Errorf("mysql: load data: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("mysql: rows affected: %w", err)
	}
	return n, nil
}

// LoadDataSQL renders LOAD DATA for the reader handler name and format f.
func LoadDataSQL(reader, table string, cols []string, f dialect.Format) string {
	esc := "''"
	if f.EscapeBackslash {
		esc = `'\\'`
	}
	return fmt.Sprintf(
		"LOAD DATA LOCAL INFILE 'Reader::%s' INTO TABLE %s "+
			"FIELDS TERMINATED BY %s OPTIONALLY ENCLOSED BY %s ESCAPED BY %s "+
			"LINES TERMINATED BY '\\n' (%s)",
		reader, table, quote(string(f.Delimiter)), quote(string(f.Quote)), esc,
		strings.Join(cols, ", "))
}

func quote(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return "'" + strings.ReplaceAll(s, "'", `\'`) + "'"
}

// newDB is a test hook that points to Open by default.
var newDB = Open

func init() {
	storage.Register("mysql", func(ctx context.Context, cfg storage.Config) (storage.DB, error) {
		db, err := newDB(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return db, nil
	})
}
