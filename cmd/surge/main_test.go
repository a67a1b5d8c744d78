package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"surge/internal/paramstyle"
	"surge/internal/storage"
	"surge/internal/storage/sqlite"
)

const peopleCSV = "id,name,city\n1,Ann,Brno\n2,,Praha\n3,Cyril,\n"

// writeJob writes a YAML job for a people table and returns its path.
func writeJob(t *testing.T, dir, csvPath, storageBlock, load string) string {
	t.Helper()
	job := `name: people
source:
  path: ` + csvPath + `
table:
  name: people
  columns:
    - { name: id, primary_key: true, transforms: [int] }
    - { name: name, required: true, transforms: [trim] }
    - { name: city }
storage:
` + storageBlock + `
load:
` + load + `
log: { level: error }
metrics: { backend: none }
`
	path := filepath.Join(dir, "job.yaml")
	require.NoError(t, os.WriteFile(path, []byte(job), 0o600))
	return path
}

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

func TestValidateCmd(t *testing.T) {
	dir := t.TempDir()
	csv := writeFile(t, dir, "people.csv", peopleCSV)
	path := writeJob(t, dir, csv, "  kind: postgres\n  dsn: postgres://localhost/db", "  op: insert\n  batch_size: 10")

	out, _, err := run(t, "validate", "-c", path)
	require.NoError(t, err)
	assert.Contains(t, out, "configuration is valid")

	bad := writeJob(t, dir, csv, "  kind: postgres\n  dsn: postgres://localhost/db", "  op: upsert")
	_, errOut, err := run(t, "validate", "-c", bad)
	require.Error(t, err)
	assert.Contains(t, errOut, "error: load.op:")
}

func TestValidateCmd_EnvFile(t *testing.T) {
	dir := t.TempDir()
	csv := writeFile(t, dir, "people.csv", peopleCSV)
	envFile := writeFile(t, dir, "test.env", "SURGE_CMD_TEST_DSN=postgres://env@localhost/db\n")
	t.Cleanup(func() { os.Unsetenv("SURGE_CMD_TEST_DSN") })
	path := writeJob(t, dir, csv, "  kind: postgres\n  dsn: ${SURGE_CMD_TEST_DSN}", "  batch_size: 10")

	out, _, err := run(t, "validate", "--env-file", envFile, "-c", path)
	require.NoError(t, err)
	assert.Contains(t, out, "configuration is valid")

	_, _, err = run(t, "validate", "--env-file", filepath.Join(dir, "missing.env"), "-c", path)
	require.NoError(t, err)
}

func TestValidateCmd_DatadogAddrFromEnv(t *testing.T) {
	dir := t.TempDir()
	csv := writeFile(t, dir, "people.csv", peopleCSV)
	path := writeJob(t, dir, csv, "  kind: postgres\n  dsn: postgres://localhost/db", "  batch_size: 10")
	job, err := os.ReadFile(path)
	require.NoError(t, err)
	job = bytes.Replace(job, []byte("backend: none"), []byte("backend: datadog"), 1)
	require.NoError(t, os.WriteFile(path, job, 0o600))
	t.Setenv("DD_DOGSTATSD_URL", "127.0.0.1:8125")

	out, errOut, err := run(t, "validate", "-c", path)
	require.NoError(t, err)
	assert.Contains(t, out, "configuration is valid")
	assert.Contains(t, errOut, "warning: metrics.options.addr:")
}

func TestSQLCmd_Postgres(t *testing.T) {
	dir := t.TempDir()
	csv := writeFile(t, dir, "people.csv", peopleCSV)
	path := writeJob(t, dir, csv, "  kind: postgres\n  dsn: postgres://localhost/db", "  op: merge\n  batch_size: 10")

	out, _, err := run(t, "sql", "-c", path)
	require.NoError(t, err)
	assert.Contains(t, out, "-- table people, dialect postgres")
	assert.Contains(t, out, "INSERT INTO people (id, name, city) VALUES ($1, $2, $3)")
	assert.Contains(t, out, "ON CONFLICT (id) DO UPDATE SET")
	assert.Contains(t, out, "-- delete\n")
}

func TestLoadCmd_SQLite(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "people.db")

	db, err := sqlite.Open(ctx, storage.Config{DSN: dbPath})
	require.NoError(t, err)
	_, err = db.Exec(ctx, "CREATE TABLE people (id INTEGER PRIMARY KEY, name TEXT NOT NULL, city TEXT)", paramstyle.Params{})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	csv := writeFile(t, dir, "people.csv", peopleCSV)
	storageBlock := "  kind: sqlite\n  dsn: " + dbPath
	path := writeJob(t, dir, csv, storageBlock, "  op: insert\n  batch_size: 2\n  transaction: true")

	out, _, err := run(t, "load", "-c", path)
	require.NoError(t, err)
	assert.Contains(t, out, "read=3 loaded=2 skipped=1 errored=0 batches=1")
	assert.Contains(t, out, "skipped 1 missing name rows [1]")

	// Merge a changed row and a new one.
	csv = writeFile(t, dir, "changes.csv", "id,name,city\n1,Anna,Olomouc\n4,Dan,Brno\n")
	path = writeJob(t, dir, csv, storageBlock, "  op: merge\n  batch_size: 10")
	out, _, err = run(t, "load", "-c", path)
	require.NoError(t, err)
	assert.Contains(t, out, "read=2 loaded=2 skipped=0")

	db, err = sqlite.Open(ctx, storage.Config{DSN: dbPath})
	require.NoError(t, err)
	defer db.Close()
	var n int
	require.NoError(t, db.Raw().QueryRowContext(ctx, "SELECT COUNT(*) FROM people").Scan(&n))
	assert.Equal(t, 3, n)
	var name, city string
	require.NoError(t, db.Raw().QueryRowContext(ctx, "SELECT name, city FROM people WHERE id = 1").Scan(&name, &city))
	assert.Equal(t, "Anna", name)
	assert.Equal(t, "Olomouc", city)
}

func TestDumpCmd_CSV(t *testing.T) {
	dir := t.TempDir()
	csv := writeFile(t, dir, "people.csv", peopleCSV)
	path := writeJob(t, dir, csv, "  kind: sqlite\n  dsn: unused.db", "  op: insert\n  batch_size: 10")
	outPath := filepath.Join(dir, "people.out.csv")

	out, _, err := run(t, "dump", "-c", path, "-o", outPath)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "read=3 loaded=2 skipped=1"))

	got, err := os.ReadFile(outPath)
	require.NoError(t, err)
	assert.Equal(t, "1,Ann,Brno\n3,Cyril,\\N\n", string(got))

	_, _, err = run(t, "dump", "-c", path)
	assert.Error(t, err)
}

func TestDescriberFor(t *testing.T) {
	d, err := describerFor(storage.Config{Kind: "mssql"})
	require.NoError(t, err)
	assert.Equal(t, "sqlserver", d.Dialect().String())
	assert.Equal(t, paramstyle.AtP, d.ParamStyle())

	d, err = describerFor(storage.Config{Kind: "sql", Dialect: "oracle", ParamStyle: "named"})
	require.NoError(t, err)
	assert.Equal(t, paramstyle.Named, d.ParamStyle())

	_, err = describerFor(storage.Config{Kind: "sql"})
	assert.Error(t, err)
}
