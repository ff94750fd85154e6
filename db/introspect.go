package db

import (
	"context"
	"fmt"

	"github.com/nickyhof/BranchDB/core"
)

// DescribeTable introspects table in the primary view. Key fields and normal
// fields are both returned in declaration order.
func DescribeTable(ctx context.Context, q Querier, d Dialect, table string) (core.TableMetadata, error) {
	query, args := d.TableInfoQuery(table)
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return core.TableMetadata{}, core.Storage("describe table "+table, err)
	}
	defer rows.Close()

	meta := core.TableMetadata{Name: table}
	columns := 0
	for rows.Next() {
		var (
			cid  int64
			name string
			pk   any
		)
		if err := rows.Scan(&cid, &name, &pk); err != nil {
			return core.TableMetadata{}, core.Storage("describe table "+table, err)
		}
		columns++
		if truthy(pk) {
			meta.KeyFields = append(meta.KeyFields, name)
		} else {
			meta.NormalFields = append(meta.NormalFields, name)
		}
	}
	if err := rows.Err(); err != nil {
		return core.TableMetadata{}, core.Storage("describe table "+table, err)
	}

	if columns == 0 {
		return core.TableMetadata{}, fmt.Errorf("%w: table %q does not exist", core.ErrInvalidArgument, table)
	}
	if err := meta.Validate(); err != nil {
		return core.TableMetadata{}, err
	}
	return meta, nil
}

// ListTables returns the tables of the primary view in name order.
func ListTables(ctx context.Context, q Querier, d Dialect) ([]string, error) {
	rows, err := q.QueryContext(ctx, d.TablesQuery())
	if err != nil {
		return nil, core.Storage("list tables", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, core.Storage("list tables", err)
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, core.Storage("list tables", err)
	}
	return tables, nil
}

func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case int64:
		return x != 0
	case int32:
		return x != 0
	case int:
		return x != 0
	case []byte:
		return len(x) > 0 && string(x) != "0"
	case string:
		return x != "" && x != "0" && x != "false"
	default:
		return false
	}
}
