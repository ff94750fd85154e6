package op

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/nickyhof/BranchDB/core"
	"github.com/nickyhof/BranchDB/db"
)

// ApplyResolution writes the chosen version of a row into the primary view.
// values are the normal field values; nil deletes the row.
func ApplyResolution(ctx context.Context, src Source, table string, key, values []any) error {
	meta, err := src.Metadata(ctx, table)
	if err != nil {
		return err
	}
	return applyRow(ctx, src, src.Dialect(), meta, key, values)
}

func applyRow(ctx context.Context, exec db.Execer, d db.Dialect, meta core.TableMetadata, key, values []any) error {
	if len(key) != len(meta.KeyFields) {
		return fmt.Errorf("%w: %s expects %d key values, got %d", core.ErrInvalidArgument, meta.Name, len(meta.KeyFields), len(key))
	}

	table := db.Qualify("", meta.Name)
	if values == nil {
		where := make([]string, len(meta.KeyFields))
		for i, k := range meta.KeyFields {
			where[i] = db.QuoteIdent(k) + " = ?"
		}
		stmt := fmt.Sprintf("DELETE FROM %s WHERE %s", table, strings.Join(where, " AND "))
		if _, err := exec.ExecContext(ctx, stmt, key...); err != nil {
			return core.Storage("delete from "+meta.Name, err)
		}
		return nil
	}

	if len(values) != len(meta.NormalFields) {
		return fmt.Errorf("%w: %s expects %d values, got %d", core.ErrInvalidArgument, meta.Name, len(meta.NormalFields), len(values))
	}

	fields := meta.Fields()
	quoted := make([]string, len(fields))
	marks := make([]string, len(fields))
	for i, f := range fields {
		quoted[i] = db.QuoteIdent(f)
		marks[i] = "?"
	}
	stmt := fmt.Sprintf("%s %s (%s) VALUES (%s)", d.UpsertVerb(), table, strings.Join(quoted, ", "), strings.Join(marks, ", "))

	args := make([]any, 0, len(fields))
	args = append(args, key...)
	args = append(args, values...)
	if _, err := exec.ExecContext(ctx, stmt, args...); err != nil {
		return core.Storage("upsert into "+meta.Name, err)
	}
	return nil
}

type txBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// MergeSummary counts what AutoMerge did to one table.
type MergeSummary struct {
	Table     string
	Applied   int
	Conflicts []Diff3Row
}

// AutoMerge applies every change made only on the theirs side to the
// primary view, which starts out as ours. Conflicting rows are left
// untouched and returned.
func AutoMerge(ctx context.Context, src Source, table string) (MergeSummary, error) {
	summary := MergeSummary{Table: table}

	cur, err := Diff3(ctx, src, table)
	if err != nil {
		return summary, err
	}
	meta := cur.Metadata()

	var pending []Diff3Row
	for cur.Next() {
		row := cur.Row()
		switch {
		case row.Conflict():
			summary.Conflicts = append(summary.Conflicts, row)
		case row.Theirs != core.Same && row.Ours == core.Same:
			pending = append(pending, row)
		}
	}
	err = cur.Err()
	if closeErr := cur.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return summary, err
	}
	if len(pending) == 0 {
		return summary, nil
	}

	var exec db.Execer = src
	var tx *sql.Tx
	if b, ok := src.(txBeginner); ok {
		tx, err = b.BeginTx(ctx, nil)
		if err != nil {
			return summary, core.Storage("begin merge of "+table, err)
		}
		exec = tx
	}

	for _, row := range pending {
		if err := applyRow(ctx, exec, src.Dialect(), meta, row.Key, row.TheirsValues); err != nil {
			if tx != nil {
				_ = tx.Rollback()
			}
			return summary, err
		}
		summary.Applied++
	}

	if tx != nil {
		if err := tx.Commit(); err != nil {
			summary.Applied = 0
			return summary, core.Storage("commit merge of "+table, err)
		}
	}
	return summary, nil
}
