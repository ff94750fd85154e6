package op

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/nickyhof/BranchDB/core"
	"github.com/nickyhof/BranchDB/db"
)

// Diff2Row is one diverging row of a two-way diff. Key holds the key field
// values; From and To hold the normal field values on each side and are nil
// when the row is absent on that side.
type Diff2Row struct {
	Result core.DiffResult
	Key    []any
	From   []any
	To     []any
}

// Diff2Cursor iterates a two-way diff in ascending key order.
type Diff2Cursor struct {
	meta core.TableMetadata
	rows *sql.Rows
	dest []any
	row  Diff2Row
	prev []any
	err  error
}

// Diff2 compares table between the from and to views. The empty view name
// addresses the primary view.
func Diff2(ctx context.Context, src Source, table, from, to string) (*Diff2Cursor, error) {
	meta, err := src.Metadata(ctx, table)
	if err != nil {
		return nil, err
	}
	return diff2(ctx, src, meta, from, to)
}

func diff2(ctx context.Context, src Source, meta core.TableMetadata, from, to string) (*Diff2Cursor, error) {
	if err := meta.Validate(); err != nil {
		return nil, err
	}

	query := diff2Query(meta, src.Dialect(), from, to)
	rows, err := src.QueryContext(ctx, query)
	if err != nil {
		return nil, core.Storage(fmt.Sprintf("diff %s %s..%s", meta.Name, viewName(from), viewName(to)), err)
	}

	width := 1 + len(meta.KeyFields) + 2*len(meta.NormalFields)
	dest := make([]any, width)
	for i := range dest {
		dest[i] = new(any)
	}

	return &Diff2Cursor{meta: meta, rows: rows, dest: dest}, nil
}

// diff2Query unions the deleted, inserted and modified rows. Every branch
// selects: tag, key fields, from fields, to fields.
func diff2Query(meta core.TableMetadata, d db.Dialect, from, to string) string {
	fromTable := db.Qualify(from, meta.Name)
	toTable := db.Qualify(to, meta.Name)

	cols := func(alias string, fields []string) []string {
		out := make([]string, len(fields))
		for i, f := range fields {
			out[i] = alias + "." + db.QuoteIdent(f)
		}
		return out
	}
	nulls := func(n int) []string {
		out := make([]string, n)
		for i := range out {
			out[i] = "NULL"
		}
		return out
	}
	join := func(parts ...[]string) string {
		var all []string
		for _, p := range parts {
			all = append(all, p...)
		}
		return strings.Join(all, ", ")
	}

	on := make([]string, len(meta.KeyFields))
	for i, k := range meta.KeyFields {
		on[i] = fmt.Sprintf("f.%s = t.%s", db.QuoteIdent(k), db.QuoteIdent(k))
	}
	onClause := strings.Join(on, " AND ")
	firstKey := db.QuoteIdent(meta.KeyFields[0])
	normals := len(meta.NormalFields)

	branches := []string{
		fmt.Sprintf("SELECT %d, %s FROM %s f LEFT JOIN %s t ON %s WHERE t.%s IS NULL",
			int(core.Deleted), join(cols("f", meta.KeyFields), cols("f", meta.NormalFields), nulls(normals)),
			fromTable, toTable, onClause, firstKey),
		fmt.Sprintf("SELECT %d, %s FROM %s t LEFT JOIN %s f ON %s WHERE f.%s IS NULL",
			int(core.Inserted), join(cols("t", meta.KeyFields), nulls(normals), cols("t", meta.NormalFields)),
			toTable, fromTable, onClause, firstKey),
	}

	if normals > 0 {
		differs := make([]string, normals)
		for i, f := range meta.NormalFields {
			differs[i] = fmt.Sprintf("f.%s %s t.%s", db.QuoteIdent(f), d.DistinctOp(), db.QuoteIdent(f))
		}
		branches = append(branches, fmt.Sprintf("SELECT %d, %s FROM %s f JOIN %s t ON %s WHERE %s",
			int(core.Modified), join(cols("f", meta.KeyFields), cols("f", meta.NormalFields), cols("t", meta.NormalFields)),
			fromTable, toTable, onClause, strings.Join(differs, " OR ")))
	}

	order := make([]string, len(meta.KeyFields))
	for i := range meta.KeyFields {
		order[i] = fmt.Sprintf("%d", i+2)
	}

	return strings.Join(branches, " UNION ALL ") + " ORDER BY " + strings.Join(order, ", ")
}

// Next advances to the next row. It returns false when the diff is
// exhausted or an error occurred.
func (c *Diff2Cursor) Next() bool {
	if c.err != nil || c.rows == nil {
		return false
	}
	if !c.rows.Next() {
		if err := c.rows.Err(); err != nil {
			c.err = core.Storage("diff "+c.meta.Name, err)
		}
		return false
	}
	if err := c.rows.Scan(c.dest...); err != nil {
		c.err = core.Storage("diff "+c.meta.Name, err)
		return false
	}

	values := make([]any, len(c.dest))
	for i, d := range c.dest {
		values[i] = *(d.(*any))
	}

	tag, ok := toInt64(values[0])
	if !ok {
		c.err = fmt.Errorf("diff %s: unexpected tag %v", c.meta.Name, values[0])
		return false
	}

	keys := len(c.meta.KeyFields)
	normals := len(c.meta.NormalFields)
	row := Diff2Row{
		Result: core.DiffResult(tag),
		Key:    values[1 : 1+keys],
		From:   values[1+keys : 1+keys+normals],
		To:     values[1+keys+normals:],
	}
	switch row.Result {
	case core.Inserted:
		row.From = nil
	case core.Deleted:
		row.To = nil
	}

	if c.prev != nil && compareKeys(c.prev, row.Key) >= 0 {
		c.err = fmt.Errorf("diff %s: key %v after %v: %w", c.meta.Name, row.Key, c.prev, core.ErrKeyOrder)
		return false
	}
	c.prev = row.Key
	c.row = row
	return true
}

// Row returns the current row.
func (c *Diff2Cursor) Row() Diff2Row {
	return c.row
}

func (c *Diff2Cursor) Metadata() core.TableMetadata {
	return c.meta
}

func (c *Diff2Cursor) Err() error {
	return c.err
}

func (c *Diff2Cursor) Close() error {
	if c.rows == nil {
		return nil
	}
	err := c.rows.Close()
	c.rows = nil
	return err
}

func viewName(view string) string {
	if view == "" {
		return "primary"
	}
	return view
}
