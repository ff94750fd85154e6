package db

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/nickyhof/BranchDB/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSQLiteFile(t *testing.T, dir string, stmts ...string) string {
	t.Helper()
	path := filepath.Join(dir, SQLite{}.FileName())
	conn, err := SQLite{}.Open(path, OpenOptions{})
	require.NoError(t, err)
	defer conn.Close()
	for _, stmt := range stmts {
		_, err := conn.Exec(stmt)
		require.NoError(t, err, stmt)
	}
	return path
}

func TestLookup(t *testing.T) {
	d, err := Lookup("sqlite")
	require.NoError(t, err)
	assert.Equal(t, "sqlite", d.Name())

	d, err = Lookup("DuckDB")
	require.NoError(t, err)
	assert.Equal(t, "duckdb", d.Name())

	_, err = Lookup("oracle")
	assert.ErrorIs(t, err, core.ErrInvalidArgument)
}

func TestQualify(t *testing.T) {
	assert.Equal(t, `"rows"`, Qualify("", "rows"))
	assert.Equal(t, `"base"."rows"`, Qualify("base", "rows"))
	assert.Equal(t, `"we""ird"`, QuoteIdent(`we"ird`))
}

func TestDescribeTable(t *testing.T) {
	ctx := context.Background()
	path := newSQLiteFile(t, t.TempDir(),
		"CREATE TABLE items (region TEXT, name TEXT, qty INTEGER, sku TEXT, PRIMARY KEY (sku, region))",
		"CREATE TABLE loose (a TEXT, b TEXT)",
	)

	conn, err := SQLite{}.Open(path, OpenOptions{})
	require.NoError(t, err)
	defer conn.Close()

	meta, err := DescribeTable(ctx, conn, SQLite{}, "items")
	require.NoError(t, err)
	assert.Equal(t, []string{"region", "sku"}, meta.KeyFields)
	assert.Equal(t, []string{"name", "qty"}, meta.NormalFields)

	_, err = DescribeTable(ctx, conn, SQLite{}, "loose")
	assert.ErrorIs(t, err, core.ErrUnsupportedTable)

	_, err = DescribeTable(ctx, conn, SQLite{}, "missing")
	assert.ErrorIs(t, err, core.ErrInvalidArgument)

	tables, err := ListTables(ctx, conn, SQLite{})
	require.NoError(t, err)
	assert.Equal(t, []string{"items", "loose"}, tables)
}

func TestSQLiteAttachmentsOnEveryConnection(t *testing.T) {
	ctx := context.Background()
	mainPath := newSQLiteFile(t, t.TempDir(), "CREATE TABLE rows (id INTEGER PRIMARY KEY, val TEXT)")
	basePath := newSQLiteFile(t, t.TempDir(),
		"CREATE TABLE rows (id INTEGER PRIMARY KEY, val TEXT)",
		"INSERT INTO rows VALUES (1, 'a')",
	)

	conn, err := SQLite{}.Open(mainPath, OpenOptions{Attachments: []Attachment{{Name: "base", Path: basePath}}})
	require.NoError(t, err)
	defer conn.Close()

	// hold one connection so the next query has to open another
	held, err := conn.Conn(ctx)
	require.NoError(t, err)
	defer held.Close()

	for _, q := range []Querier{held, conn} {
		var val string
		rows, err := q.QueryContext(ctx, `SELECT val FROM "base"."rows" WHERE id = 1`)
		require.NoError(t, err)
		require.True(t, rows.Next())
		require.NoError(t, rows.Scan(&val))
		require.NoError(t, rows.Close())
		assert.Equal(t, "a", val)
	}
}

func TestSQLitePathWithURICharacters(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "odd?name#1 %2F")
	require.NoError(t, os.MkdirAll(dir, 0755))
	path := newSQLiteFile(t, dir,
		"CREATE TABLE rows (id INTEGER PRIMARY KEY, val TEXT)",
		"INSERT INTO rows VALUES (1, 'a')",
	)
	assert.FileExists(t, path)

	conn, err := SQLite{}.Open(path, OpenOptions{ReadOnly: true})
	require.NoError(t, err)
	defer conn.Close()
	var val string
	require.NoError(t, conn.QueryRowContext(ctx, "SELECT val FROM rows WHERE id = 1").Scan(&val))
	assert.Equal(t, "a", val)
}

func TestSQLiteReadOnly(t *testing.T) {
	ctx := context.Background()
	mainPath := newSQLiteFile(t, t.TempDir(), "CREATE TABLE rows (id INTEGER PRIMARY KEY, val TEXT)")
	basePath := newSQLiteFile(t, t.TempDir(),
		"CREATE TABLE rows (id INTEGER PRIMARY KEY, val TEXT)",
		"INSERT INTO rows VALUES (1, 'a')",
	)

	conn, err := SQLite{}.Open(mainPath, OpenOptions{Attachments: []Attachment{{Name: "base", Path: basePath}}})
	require.NoError(t, err)
	_, err = conn.ExecContext(ctx, "INSERT INTO rows VALUES (1, 'b')")
	require.NoError(t, err)
	_, err = conn.ExecContext(ctx, `UPDATE "base"."rows" SET val = 'x'`)
	assert.Error(t, err)
	require.NoError(t, conn.Close())

	conn, err = SQLite{}.Open(mainPath, OpenOptions{ReadOnly: true})
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.ExecContext(ctx, "DELETE FROM rows")
	assert.Error(t, err)
	var n int
	require.NoError(t, conn.QueryRowContext(ctx, "SELECT count(*) FROM rows").Scan(&n))
	assert.Equal(t, 1, n)
}

func TestDuckDBFile(t *testing.T) {
	ctx := context.Background()
	d := DuckDB{}
	path := filepath.Join(t.TempDir(), d.FileName())

	conn, err := d.Open(path, OpenOptions{})
	require.NoError(t, err)
	for _, stmt := range []string{
		"CREATE TABLE items (region TEXT, name TEXT, qty INTEGER, sku TEXT, PRIMARY KEY (sku, region))",
		"CREATE TABLE loose (a TEXT, b TEXT)",
		"INSERT INTO items VALUES ('eu', 'bolt', 3, 'b-1')",
	} {
		_, err := conn.ExecContext(ctx, stmt)
		require.NoError(t, err, stmt)
	}
	require.NoError(t, d.Flush(ctx, conn))

	meta, err := DescribeTable(ctx, conn, d, "items")
	require.NoError(t, err)
	assert.Equal(t, []string{"region", "sku"}, meta.KeyFields)
	assert.Equal(t, []string{"name", "qty"}, meta.NormalFields)

	_, err = DescribeTable(ctx, conn, d, "loose")
	assert.ErrorIs(t, err, core.ErrUnsupportedTable)

	tables, err := ListTables(ctx, conn, d)
	require.NoError(t, err)
	assert.Equal(t, []string{"items", "loose"}, tables)
	require.NoError(t, conn.Close())

	conn, err = d.Open(path, OpenOptions{ReadOnly: true})
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.ExecContext(ctx, "DELETE FROM items")
	assert.Error(t, err)
	var n int64
	require.NoError(t, conn.QueryRowContext(ctx, "SELECT count(*) FROM items").Scan(&n))
	assert.Equal(t, int64(1), n)
}
