package mssql

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"surge/internal/dialect"
	"surge/internal/storage"
)

type countResult int64

func (c countResult) LastInsertId() (int64, error) { return 0, nil }
func (c countResult) RowsAffected() (int64, error) { return int64(c), nil }

type fakeBulkStmt struct {
	rows   [][]any
	closed bool
	failAt int
}

func (s *fakeBulkStmt) ExecContext(_ context.Context, args ...any) (sql.Result, error) {
	if len(args) == 0 {
		return countResult(len(s.rows)), nil
	}
	cp := append([]any(nil), args...)
	s.rows = append(s.rows, cp)
	if s.failAt > 0 && len(s.rows) == s.failAt {
		return nil, errors.New("conversion failed")
	}
	return countResult(0), nil
}

func (s *fakeBulkStmt) Close() error { s.closed = true; return nil }

type fakePreparer struct {
	query string
	types []string
	stmt  *fakeBulkStmt
}

func (p *fakePreparer) PrepareContext(_ context.Context, q string) (bulkStmt, error) {
	p.query = q
	return p.stmt, nil
}

// ColumnTypes reports NVARCHAR for every column unless types is set.
func (p *fakePreparer) ColumnTypes(_ context.Context, _ string, cols []string) ([]string, error) {
	if p.types != nil {
		return p.types, nil
	}
	out := make([]string, len(cols))
	for i := range out {
		out[i] = "NVARCHAR"
	}
	return out, nil
}

func TestBulkCopy_DecodesStream(t *testing.T) {
	t.Parallel()

	f, ok := dialect.SQLServer.BulkFormat()
	if !ok {
		t.Fatalf("sqlserver should support bulk copy")
	}
	p := &fakePreparer{stmt: &fakeBulkStmt{}}
	in := "1,alpha\n2,\\N\n3,\"a,b\"\n4,\"\"\n"

	n, err := bulkCopy(context.Background(), p, "dbo.items", []string{"id", "name"}, strings.NewReader(in), f)
	if err != nil {
		t.Fatalf("bulkCopy error: %v", err)
	}
	if n != 4 {
		t.Fatalf("copied = %d, want 4", n)
	}
	if !strings.HasPrefix(p.query, "INSERTBULK") {
		t.Fatalf("prepared %q, want a CopyIn statement", p.query)
	}
	rows := p.stmt.rows
	if rows[1][1] != nil {
		t.Fatalf("row 2 name = %#v, want nil", rows[1][1])
	}
	if rows[2][1] != "a,b" {
		t.Fatalf("row 3 name = %#v, want a,b", rows[2][1])
	}
	if rows[3][1] != "" {
		t.Fatalf("row 4 name = %#v, want empty string", rows[3][1])
	}
	if !p.stmt.closed {
		t.Fatalf("statement not closed")
	}
}

func TestBulkCopy_TypedColumns(t *testing.T) {
	t.Parallel()

	f, _ := dialect.SQLServer.BulkFormat()
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	cols := []string{"id", "active", "score", "seen_at", "note", "blob", "price"}
	var in []byte
	in = f.AppendRecord(in, []any{int64(42), true, 1.5, ts, `\N`, []byte{0xca, 0xfe}, "12.30"})
	in = f.AppendRecord(in, []any{int64(-7), false, nil, nil, nil, nil, nil})

	p := &fakePreparer{
		types: []string{"BIGINT", "BIT", "FLOAT", "DATETIME2", "NVARCHAR", "VARBINARY", "DECIMAL"},
		stmt:  &fakeBulkStmt{},
	}
	n, err := bulkCopy(context.Background(), p, "dbo.items", cols, bytes.NewReader(in), f)
	if err != nil {
		t.Fatalf("bulkCopy error: %v", err)
	}
	if n != 2 {
		t.Fatalf("copied = %d, want 2", n)
	}

	first := p.stmt.rows[0]
	if first[0] != int64(42) || first[1] != true || first[2] != 1.5 {
		t.Fatalf("numeric fields = %#v", first[:3])
	}
	got, ok := first[3].(time.Time)
	if !ok || !got.Equal(ts) {
		t.Fatalf("seen_at = %#v, want %v", first[3], ts)
	}
	if first[4] != `\N` {
		t.Fatalf("note = %#v, want the literal \\N", first[4])
	}
	if !bytes.Equal(first[5].([]byte), []byte{0xca, 0xfe}) {
		t.Fatalf("blob = %#v", first[5])
	}
	if first[6] != "12.30" {
		t.Fatalf("price = %#v, want text for the driver to parse", first[6])
	}

	second := p.stmt.rows[1]
	if second[0] != int64(-7) || second[1] != false {
		t.Fatalf("second row = %#v", second)
	}
	for i, v := range second[2:] {
		if v != nil {
			t.Fatalf("second row field %d = %#v, want nil", i+2, v)
		}
	}
}

func TestBulkCopy_ConversionError(t *testing.T) {
	t.Parallel()

	f, _ := dialect.SQLServer.BulkFormat()
	p := &fakePreparer{types: []string{"INT"}, stmt: &fakeBulkStmt{}}

	_, err := bulkCopy(context.Background(), p, "t", []string{"a"}, strings.NewReader("1\nabc\n"), f)
	if err == nil || !strings.Contains(err.Error(), "bulk row 1: column a (INT)") {
		t.Fatalf("err = %v, want conversion failure on row 1", err)
	}
	if !p.stmt.closed {
		t.Fatalf("statement not closed on error")
	}
}

func TestBulkCopy_RowError(t *testing.T) {
	t.Parallel()

	f, _ := dialect.SQLServer.BulkFormat()
	p := &fakePreparer{stmt: &fakeBulkStmt{failAt: 2}}

	_, err := bulkCopy(context.Background(), p, "t", []string{"a"}, strings.NewReader("1\nx\n3\n"), f)
	if err == nil || !strings.Contains(err.Error(), "bulk row 1") {
		t.Fatalf("err = %v, want bulk row 1 failure", err)
	}
	if !p.stmt.closed {
		t.Fatalf("statement not closed on error")
	}
}

func TestBulkCopy_FieldCountMismatch(t *testing.T) {
	t.Parallel()

	f, _ := dialect.SQLServer.BulkFormat()
	p := &fakePreparer{stmt: &fakeBulkStmt{}}

	_, err := bulkCopy(context.Background(), p, "t", []string{"a", "b"}, strings.NewReader("1,2\n3\n"), f)
	if err == nil || !strings.Contains(err.Error(), "bulk decode row 1") {
		t.Fatalf("err = %v, want decode failure", err)
	}
}

func TestOpen_InvalidDSN(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), storage.Config{DSN: "sqlserver://%zz"})
	if err == nil || !strings.Contains(err.Error(), "mssql dsn") {
		t.Fatalf("err = %v, want mssql dsn error", err)
	}
}
