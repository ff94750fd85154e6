package db

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"

	"github.com/duckdb/duckdb-go/v2"
)

// DuckDB stores a checkout in a DuckDB file. Views are attached READ_ONLY
// and the WAL is checkpointed into the file before every snapshot.
type DuckDB struct{}

func (DuckDB) Name() string {
	return "duckdb"
}

func (DuckDB) FileName() string {
	return "data.duckdb"
}

func (DuckDB) TransientPatterns() []string {
	return []string{"*.wal", "*.tmp/"}
}

func (DuckDB) Open(path string, opts OpenOptions) (*sql.DB, error) {
	dsn := path
	if opts.ReadOnly {
		dsn += "?access_mode=read_only"
	}
	connector, err := duckdb.NewConnector(dsn, func(execer driver.ExecerContext) error {
		for _, a := range opts.Attachments {
			// attached databases are instance wide, so later connections
			// find them already present
			stmt := fmt.Sprintf("ATTACH IF NOT EXISTS %s AS %s (READ_ONLY)", quoteLiteral(a.Path), QuoteIdent(a.Name))
			if _, err := execer.ExecContext(context.Background(), stmt, nil); err != nil {
				return fmt.Errorf("attach %s: %w", a.Name, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("open duckdb %s: %w", path, err)
	}
	return sql.OpenDB(connector), nil
}

func (DuckDB) Flush(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, "CHECKPOINT")
	return err
}

func (DuckDB) TablesQuery() string {
	return "SELECT table_name FROM information_schema.tables " +
		"WHERE table_catalog = current_database() AND table_schema = 'main' AND table_type = 'BASE TABLE' " +
		"ORDER BY table_name"
}

func (DuckDB) TableInfoQuery(table string) (string, []any) {
	return fmt.Sprintf("SELECT cid, name, pk FROM pragma_table_info(%s) ORDER BY cid", quoteLiteral(table)), nil
}

func (DuckDB) DistinctOp() string {
	return "IS DISTINCT FROM"
}

func (DuckDB) UpsertVerb() string {
	return "INSERT OR REPLACE INTO"
}
