package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/nickyhof/BranchDB/core"
)

// Querier is satisfied by *sql.DB, *sql.Conn and *sql.Tx.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Execer is satisfied by *sql.DB, *sql.Conn and *sql.Tx.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Attachment names an engine file exposed as an extra read-only schema on
// every connection.
type Attachment struct {
	Name string
	Path string
}

// OpenOptions control how a Dialect opens an engine file.
type OpenOptions struct {
	// ReadOnly opens the primary file without write access.
	ReadOnly    bool
	Attachments []Attachment
}

// Dialect abstracts the differences between the supported table engines.
type Dialect interface {
	Name() string
	// FileName is the engine file kept in a checkout's working directory.
	FileName() string
	// TransientPatterns are gitignore patterns for engine side files that
	// must never be snapshotted.
	TransientPatterns() []string
	Open(path string, opts OpenOptions) (*sql.DB, error)
	// Flush makes the engine file on disk reflect every completed
	// transaction.
	Flush(ctx context.Context, db *sql.DB) error
	TablesQuery() string
	TableInfoQuery(table string) (string, []any)
	// DistinctOp is the null-aware inequality operator.
	DistinctOp() string
	UpsertVerb() string
}

// Lookup returns the dialect registered under name.
func Lookup(name string) (Dialect, error) {
	switch strings.ToLower(name) {
	case "", "sqlite", "sqlite3":
		return SQLite{}, nil
	case "duckdb":
		return DuckDB{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown engine %q", core.ErrInvalidArgument, name)
	}
}

// QuoteIdent quotes an SQL identifier.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// Qualify returns the table reference for table inside view. The empty view
// is the primary, unprefixed schema.
func Qualify(view, table string) string {
	if view == "" {
		return QuoteIdent(table)
	}
	return QuoteIdent(view) + "." + QuoteIdent(table)
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// Names of the views attached to a checkout while it is merging.
const (
	ViewBase   = "base"
	ViewOurs   = "ours"
	ViewTheirs = "theirs"
)

// MergeViews lists the merge views in attachment order.
func MergeViews() []string {
	return []string{ViewOurs, ViewTheirs, ViewBase}
}
