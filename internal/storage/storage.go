// Package storage defines the connection contract the loaders execute
// against and a registry of backend factories keyed by kind.
//
// Backends live in subpackages (postgres, mssql, mysql, sqlite, sqldb) and
// register themselves in init; import surge/internal/storage/all to enable
// every built-in backend.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"surge/internal/dialect"
	"surge/internal/paramstyle"
)

// ErrBulkUnsupported is returned by backends without a native bulk path.
var ErrBulkUnsupported = errors.New("storage: bulk copy not supported")

// Conn executes statements already translated to ParamStyle.
type Conn interface {
	Dialect() dialect.Dialect
	ParamStyle() paramstyle.Style
	// Exec runs one statement and returns rows affected.
	Exec(ctx context.Context, sql string, p paramstyle.Params) (int64, error)
	// ExecMany runs sql once per parameter row and returns total rows
	// affected.
	ExecMany(ctx context.Context, sql string, ps []paramstyle.Params) (int64, error)
}

// Tx is a Conn scoped to one transaction.
type Tx interface {
	Conn
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// TxBeginner opens transactions.
type TxBeginner interface {
	Begin(ctx context.Context) (Tx, error)
}

// BulkCopier streams delimited text in f into table's cols and returns the
// row count. r is read until io.EOF.
type BulkCopier interface {
	CopyFrom(ctx context.Context, table string, cols []string, r io.Reader, f dialect.Format) (int64, error)
}

// DB is what a factory returns.
type DB interface {
	Conn
	TxBeginner
	Close() error
}

// Config selects and configures a backend.
type Config struct {
	// Kind is the registered backend name ("postgres", "mssql", ...).
	Kind string `yaml:"kind" json:"kind"`
	// DSN is passed to the driver.
	DSN string `yaml:"dsn" json:"dsn"`
	// Driver is the database/sql driver name for the generic backend.
	Driver string `yaml:"driver,omitempty" json:"driver,omitempty"`
	// Dialect is required by the generic backend; others imply it.
	Dialect string `yaml:"dialect,omitempty" json:"dialect,omitempty"`
	// ParamStyle overrides the dialect default placeholder style.
	ParamStyle string `yaml:"paramstyle,omitempty" json:"paramstyle,omitempty"`
}

// Style resolves the placeholder style: the override if set, else def.
func (c Config) Style(def paramstyle.Style) (paramstyle.Style, error) {
	if c.ParamStyle == "" {
		return def, nil
	}
	return paramstyle.ParseStyle(c.ParamStyle)
}

// Factory opens a backend.
type Factory func(ctx context.Context, cfg Config) (DB, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register adds or replaces a backend factory.
func Register(kind string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[kind] = f
}

// Open constructs the backend registered for cfg.Kind.
func Open(ctx context.Context, cfg Config) (DB, error) {
	mu.RLock()
	f, ok := factories[cfg.Kind]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported storage.kind=%s", cfg.Kind)
	}
	return f(ctx, cfg)
}

// ListKinds returns registered kinds in sorted order.
func ListKinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
