package surge

import (
	"context"
	"errors"
	"io"
	"iter"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"surge/internal/dialect"
	"surge/internal/paramstyle"
	"surge/internal/storage"
	"surge/internal/table"
)

type manyCall struct {
	sql  string
	rows []paramstyle.Params
}

// fakeConn records every call. It is a storage.DB and a BulkCopier; the
// transactions it begins share its recorder.
type fakeConn struct {
	d     dialect.Dialect
	style paramstyle.Style

	mu        sync.Mutex
	execs     []string
	many      []manyCall
	begins    int
	commits   int
	rollbacks int

	// manyErr fails the ExecMany call with the given index.
	manyErr map[int]error
	// execErr fails Exec statements starting with the given prefix.
	execErr map[string]error

	copied    string
	copyTable string
	copyCols  []string
	// copyErr makes CopyFrom fail before reading.
	copyErr error
}

func newFakeConn(d dialect.Dialect) *fakeConn {
	return &fakeConn{d: d, style: d.DefaultStyle()}
}

func (f *fakeConn) Dialect() dialect.Dialect     { return f.d }
func (f *fakeConn) ParamStyle() paramstyle.Style { return f.style }
func (f *fakeConn) Close() error                 { return nil }

func (f *fakeConn) Exec(_ context.Context, sql string, _ paramstyle.Params) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.execs = append(f.execs, sql)
	for prefix, err := range f.execErr {
		if strings.HasPrefix(sql, prefix) {
			return 0, err
		}
	}
	return 1, nil
}

func (f *fakeConn) ExecMany(_ context.Context, sql string, ps []paramstyle.Params) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := len(f.many)
	f.many = append(f.many, manyCall{sql: sql, rows: ps})
	if err := f.manyErr[idx]; err != nil {
		return 0, err
	}
	return int64(len(ps)), nil
}

func (f *fakeConn) Begin(context.Context) (storage.Tx, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.begins++
	return &fakeTx{fakeConn: f}, nil
}

func (f *fakeConn) CopyFrom(_ context.Context, tbl string, cols []string, r io.Reader, _ dialect.Format) (int64, error) {
	if f.copyErr != nil {
		return 0, f.copyErr
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.copied, f.copyTable, f.copyCols = string(b), tbl, cols
	return int64(strings.Count(f.copied, "\n")), nil
}

type fakeTx struct {
	*fakeConn
}

func (t *fakeTx) Commit(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.commits++
	return nil
}

func (t *fakeTx) Rollback(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rollbacks++
	return nil
}

var (
	_ storage.DB         = (*fakeConn)(nil)
	_ storage.BulkCopier = (*fakeConn)(nil)
	_ storage.Tx         = (*fakeTx)(nil)
)

// plainConn hides everything but storage.Conn.
type plainConn struct{ storage.Conn }

func peopleTable(t *testing.T, conn table.Describer) *table.Table {
	t.Helper()
	tbl, err := table.New("people", []table.ColumnSpec{
		{Name: "id", PrimaryKey: true},
		{Name: "name", Required: true},
		{Name: "city"},
	}, conn)
	require.NoError(t, err)
	return tbl
}

func people(n int) []table.MapRecord {
	out := make([]table.MapRecord, n)
	for i := range out {
		out[i] = table.MapRecord{"id": i + 1, "name": "p" + string(rune('a'+i%26)), "city": "Brno"}
	}
	return out
}

// failingSource yields recs and then err.
func failingSource(recs []table.MapRecord, err error) iter.Seq2[table.Record, error] {
	return func(yield func(table.Record, error) bool) {
		for _, r := range recs {
			if !yield(r, nil) {
				return
			}
		}
		yield(nil, err)
	}
}

var errBoom = errors.New("boom")
