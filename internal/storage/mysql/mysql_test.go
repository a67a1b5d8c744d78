package mysql

import (
	"context"
	"database/sql"
	"io"
	"strings"
	"testing"

	"surge/internal/dialect"
	"surge/internal/storage"
)

type rowsResult int64

func (r rowsResult) LastInsertId() (int64, error) { return 0, nil }
func (r rowsResult) RowsAffected() (int64, error) { return int64(r), nil }

// fakeExec reads the registered reader the way the driver would.
type fakeExec struct {
	query    string
	readers  map[string]func() io.Reader
	consumed string
}

func (f *fakeExec) ExecContext(_ context.Context, q string, _ ...any) (sql.Result, error) {
	f.query = q
	start := strings.Index(q, "Reader::") + len("Reader::")
	name := q[start : start+strings.IndexByte(q[start:], '\'')]
	b, err := io.ReadAll(f.readers[name]())
	if err != nil {
		return nil, err
	}
	f.consumed = string(b)
	return rowsResult(strings.Count(f.consumed, "\n")), nil
}

func TestLoadDataSQL(t *testing.T) {
	t.Parallel()

	f, _ := dialect.MySQL.BulkFormat()
	got := LoadDataSQL("r1", "shop.items", []string{"id", "name"}, f)
	want := `LOAD DATA LOCAL INFILE 'Reader::r1' INTO TABLE shop.items ` +
		`FIELDS TERMINATED BY ',' OPTIONALLY ENCLOSED BY '"' ESCAPED BY '\\' ` +
		`LINES TERMINATED BY '\n' (id, name)`
	if got != want {
		t.Fatalf("LoadDataSQL =\n%s\nwant\n%s", got, want)
	}
}

func TestLoadData_RegistersAndReleasesReader(t *testing.T) {
	readers := map[string]func() io.Reader{}
	origReg, origDereg := registerReader, deregisterReader
	registerReader = func(name string, h func() io.Reader) { readers[name] = h }
	deregisterReader = func(name string) { delete(readers, name) }
	defer func() { registerReader, deregisterReader = origReg, origDereg }()

	fe := &fakeExec{readers: readers}
	f, _ := dialect.MySQL.BulkFormat()
	n, err := loadData(context.Background(), fe, "t", []string{"a"}, strings.NewReader("1\n2\n"), f)
	if err != nil {
		t.Fatalf("loadData error: %v", err)
	}
	if n != 2 {
		t.Fatalf("loaded = %d, want 2", n)
	}
	if fe.consumed != "1\n2\n" {
		t.Fatalf("consumed %q", fe.consumed)
	}
	if len(readers) != 0 {
		t.Fatalf("reader handler not deregistered: %v", readers)
	}
}

func TestOpen_InvalidDSN(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), storage.Config{DSN: "not a dsn"})
	if err == nil || !strings.Contains(err.Error(), "mysql dsn") {
		t.Fatalf("err = %v, want mysql dsn error", err)
	}
}
