package db

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"net/url"
	"path/filepath"

	"github.com/mattn/go-sqlite3"
)

// SQLite stores a checkout in a single SQLite file using the default
// rollback journal, so the file alone is a complete snapshot once a
// transaction has committed.
type SQLite struct{}

func (SQLite) Name() string {
	return "sqlite"
}

func (SQLite) FileName() string {
	return "data.sqlite"
}

func (SQLite) TransientPatterns() []string {
	return []string{"*-journal", "*-wal", "*-shm"}
}

func (SQLite) Open(path string, opts OpenOptions) (*sql.DB, error) {
	views := make([]string, len(opts.Attachments))
	for i, a := range opts.Attachments {
		uri, err := fileURI(a.Path, url.Values{"mode": {"ro"}})
		if err != nil {
			return nil, err
		}
		views[i] = uri
	}
	drv := &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			for i, a := range opts.Attachments {
				stmt := fmt.Sprintf("ATTACH DATABASE ? AS %s", QuoteIdent(a.Name))
				if _, err := conn.Exec(stmt, []driver.Value{views[i]}); err != nil {
					return fmt.Errorf("attach %s: %w", a.Name, err)
				}
			}
			return nil
		},
	}

	params := url.Values{"_busy_timeout": {"5000"}, "_foreign_keys": {"1"}}
	if opts.ReadOnly {
		params.Set("mode", "ro")
	}
	dsn, err := fileURI(path, params)
	if err != nil {
		return nil, err
	}
	return sql.OpenDB(&dsnConnector{dsn: dsn, driver: drv}), nil
}

// fileURI builds an SQLite URI filename for path. The path is escaped so
// that '?' and '#' in directory names survive.
func fileURI(path string, params url.Values) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", path, err)
	}
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(abs), RawQuery: params.Encode()}
	return u.String(), nil
}

func (SQLite) Flush(ctx context.Context, db *sql.DB) error {
	return nil
}

func (SQLite) TablesQuery() string {
	return "SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name"
}

func (SQLite) TableInfoQuery(table string) (string, []any) {
	return "SELECT cid, name, pk FROM pragma_table_info(?) ORDER BY cid", []any{table}
}

func (SQLite) DistinctOp() string {
	return "IS NOT"
}

func (SQLite) UpsertVerb() string {
	return "INSERT OR REPLACE INTO"
}
