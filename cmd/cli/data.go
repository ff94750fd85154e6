package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/nickyhof/BranchDB/ps"
	"github.com/spf13/cobra"
)

func newExecCmd(a *app) *cobra.Command {
	var boxed bool
	cmd := &cobra.Command{
		Use:   "exec <branch> <sql>",
		Short: "Run a statement against the working data of a branch",
		Long: `Run one SQL statement. Queries print their rows tab separated, or boxed with --table; other
statements print the number of affected rows. Changes stay in the working
directory until they are committed.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			co, err := a.checkout(ctx, args[0])
			if err != nil {
				return err
			}
			stmt := args[1]
			if isQuery(stmt) {
				return co.WithRead(ctx, func(h *ps.Handle) error {
					return a.query(ctx, h, stmt, boxed)
				})
			}
			return co.WithWrite(ctx, func(h *ps.Handle) error {
				res, err := h.ExecContext(ctx, stmt)
				if err != nil {
					return err
				}
				n, err := res.RowsAffected()
				if err != nil {
					return err
				}
				a.printf("%d rows affected\n", n)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&boxed, "table", false, "print query results as a bordered table")
	return cmd
}

func isQuery(stmt string) bool {
	fields := strings.Fields(stmt)
	if len(fields) == 0 {
		return false
	}
	switch strings.ToUpper(fields[0]) {
	case "SELECT", "WITH", "PRAGMA", "EXPLAIN", "SHOW", "DESCRIBE":
		return true
	}
	return false
}

func (a *app) query(ctx context.Context, h *ps.Handle, stmt string, boxed bool) error {
	rows, err := h.QueryContext(ctx, stmt)
	if err != nil {
		return err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return err
	}
	t := &boxTable{headers: columns}
	if !boxed {
		a.printf("%s\n", strings.Join(columns, "\t"))
	}

	values := make([]any, len(columns))
	ptrs := make([]any, len(columns))
	for i := range values {
		ptrs[i] = &values[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return err
		}
		if boxed {
			t.Row(formatRow(values))
		} else {
			a.printf("%s\n", strings.Join(formatRow(values), "\t"))
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if boxed {
		t.Render(a.out)
	}
	return nil
}

func formatRow(values []any) []string {
	cells := make([]string, len(values))
	for i, v := range values {
		switch x := v.(type) {
		case nil:
			cells[i] = "NULL"
		case []byte:
			cells[i] = string(x)
		default:
			cells[i] = fmt.Sprint(x)
		}
	}
	return cells
}

func newCommitCmd(a *app) *cobra.Command {
	var message string
	cmd := &cobra.Command{
		Use:   "commit <branch>",
		Short: "Snapshot the working data of a branch as a new commit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			co, err := a.checkout(ctx, args[0])
			if err != nil {
				return err
			}
			id, err := co.Commit(ctx, a.identity(), message)
			if err != nil {
				return err
			}
			a.printf("%s\n", id)
			return nil
		},
	}
	cmd.Flags().StringVarP(&message, "message", "m", "", "commit message")
	_ = cmd.MarkFlagRequired("message")
	return cmd
}
