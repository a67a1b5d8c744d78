package postgres

import (
	"context"
	"errors"
	"io"
	"strconv"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"surge/internal/dialect"
	"surge/internal/paramstyle"
	"surge/internal/storage"
)

type fakeBatchResults struct {
	n      int
	failAt int
	closed bool
}

func (f *fakeBatchResults) Exec() (pgconn.CommandTag, error) {
	f.n++
	if f.failAt > 0 && f.n == f.failAt {
		return pgconn.CommandTag{}, &pgconn.PgError{Code: "23505", Message: "duplicate key", Detail: "Key (a)=(1) already exists."}
	}
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}
func (f *fakeBatchResults) Query() (pgx.Rows, error) { return nil, errors.New("unused") }
func (f *fakeBatchResults) QueryRow() pgx.Row        { return nil }
func (f *fakeBatchResults) Close() error             { f.closed = true; return nil }

type fakePool struct {
	batch  *pgx.Batch
	br     *fakeBatchResults
	execs  []string
	closed bool
}

func (p *fakePool) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	p.execs = append(p.execs, sql)
	return pgconn.NewCommandTag("DELETE 2"), nil
}
func (p *fakePool) SendBatch(_ context.Context, b *pgx.Batch) pgx.BatchResults {
	p.batch = b
	return p.br
}
func (p *fakePool) Begin(context.Context) (pgx.Tx, error) { return nil, errors.New("no tx") }
func (p *fakePool) Close()                                { p.closed = true }

type fakeCopier struct {
	sql  string
	data string
}

func (c *fakeCopier) CopyFrom(_ context.Context, r io.Reader, sql string) (pgconn.CommandTag, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return pgconn.CommandTag{}, err
	}
	c.sql, c.data = sql, string(b)
	return pgconn.NewCommandTag("COPY " + strconv.Itoa(strings.Count(c.data, "\n"))), nil
}

func TestExecMany_SingleBatch(t *testing.T) {
	t.Parallel()

	pool := &fakePool{br: &fakeBatchResults{}}
	db := &DB{pool: pool}

	ps := []paramstyle.Params{{Positional: []any{1}}, {Positional: []any{2}}, {Positional: []any{3}}}
	n, err := db.ExecMany(context.Background(), "INSERT INTO t (a) VALUES ($1)", ps)
	if err != nil {
		t.Fatalf("ExecMany error: %v", err)
	}
	if n != 3 {
		t.Fatalf("affected = %d, want 3", n)
	}
	if pool.batch.Len() != 3 {
		t.Fatalf("batch len = %d, want 3", pool.batch.Len())
	}
	if !pool.br.closed {
		t.Fatalf("batch results not closed")
	}
}

func TestExecMany_WrapsPgError(t *testing.T) {
	t.Parallel()

	pool := &fakePool{br: &fakeBatchResults{failAt: 2}}
	db := &DB{pool: pool}

	_, err := db.ExecMany(context.Background(), "X", []paramstyle.Params{{}, {}, {}})
	if err == nil {
		t.Fatalf("expected error")
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		t.Fatalf("error does not wrap *pgconn.PgError: %v", err)
	}
	for _, want := range []string{"batch row 1", "SQLSTATE 23505", "already exists"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q missing %q", err, want)
		}
	}
	if !pool.br.closed {
		t.Fatalf("batch results not closed on error")
	}
}

func TestExec_RowsAffected(t *testing.T) {
	t.Parallel()

	db := &DB{pool: &fakePool{}}
	n, err := db.Exec(context.Background(), "DELETE FROM t", paramstyle.Params{})
	if err != nil || n != 2 {
		t.Fatalf("Exec = %d, %v; want 2, nil", n, err)
	}
	if db.Dialect() != dialect.Postgres || db.ParamStyle() != paramstyle.Dollar {
		t.Fatalf("unexpected dialect/style")
	}
}

func TestCopyFrom_StreamsReader(t *testing.T) {
	t.Parallel()

	fc := &fakeCopier{}
	released := false
	db := &DB{
		pool: &fakePool{},
		acquire: func(context.Context) (pgCopier, func(), error) {
			return fc, func() { released = true }, nil
		},
	}
	f, _ := dialect.Postgres.BulkFormat()
	n, err := db.CopyFrom(context.Background(), "public.t", []string{"a", "b"}, strings.NewReader("1,x\n2,\\N\n"), f)
	if err != nil {
		t.Fatalf("CopyFrom error: %v", err)
	}
	if n != 2 {
		t.Fatalf("copied = %d, want 2", n)
	}
	if want := `COPY public.t (a, b) FROM STDIN WITH (FORMAT csv, DELIMITER ',', QUOTE '"', NULL '\N')`; fc.sql != want {
		t.Fatalf("sql = %q\nwant %q", fc.sql, want)
	}
	if !released {
		t.Fatalf("connection not released")
	}
}

func TestOpen_RejectsNonDollarStyle(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), storage.Config{DSN: "postgres://x", ParamStyle: "qmark"})
	if err == nil || !strings.Contains(err.Error(), "dollar") {
		t.Fatalf("err = %v, want dollar placeholder error", err)
	}
}

func TestRegister_UsesHook(t *testing.T) {
	orig := newDB
	defer func() { newDB = orig }()
	called := false
	newDB = func(ctx context.Context, cfg storage.Config) (*DB, error) {
		called = true
		return &DB{pool: &fakePool{}}, nil
	}
	if _, err := storage.Open(context.Background(), storage.Config{Kind: "postgres"}); err != nil {
		t.Fatalf("Open error: %v", err)
	}
	if !called {
		t.Fatalf("factory did not use newDB hook")
	}
}
