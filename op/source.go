package op

import (
	"context"
	"database/sql"

	"github.com/nickyhof/BranchDB/core"
	"github.com/nickyhof/BranchDB/db"
)

// Source is what the merge operations need from a database handle.
type Source interface {
	db.Querier
	db.Execer
	Dialect() db.Dialect
	Metadata(ctx context.Context, table string) (core.TableMetadata, error)
}

type sqlSource struct {
	*sql.DB
	dialect db.Dialect
}

// NewSource wraps a plain pool. Metadata is introspected on every call.
func NewSource(conn *sql.DB, dialect db.Dialect) Source {
	return &sqlSource{DB: conn, dialect: dialect}
}

func (s *sqlSource) Dialect() db.Dialect {
	return s.dialect
}

func (s *sqlSource) Metadata(ctx context.Context, table string) (core.TableMetadata, error) {
	return db.DescribeTable(ctx, s.DB, s.dialect, table)
}

// Tables lists the tables of the primary view.
func Tables(ctx context.Context, src Source) ([]string, error) {
	return db.ListTables(ctx, src, src.Dialect())
}
