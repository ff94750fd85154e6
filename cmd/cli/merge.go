package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/nickyhof/BranchDB/core"
	"github.com/nickyhof/BranchDB/op"
	"github.com/nickyhof/BranchDB/ps"
	"github.com/spf13/cobra"
)

const (
	takeOurs   = "ours"
	takeTheirs = "theirs"
)

func newMergeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "merge",
		Short: "Merge another reference into a branch",
		Long: `A merge runs in steps: start materializes the ours, theirs and base
versions and applies every non-conflicting change, resolve settles the
conflicts, and commit on the branch records the merge commit.`,
	}
	cmd.AddCommand(
		newMergeStartCmd(a),
		newMergeResolveCmd(a),
		&cobra.Command{
			Use:   "revert <branch>",
			Short: "Abandon the merge and any uncommitted change",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				co, err := a.checkout(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if err := co.Revert(cmd.Context()); err != nil {
					return err
				}
				a.printf("reverted %s to %s\n", args[0], headOrUnborn(co))
				return nil
			},
		},
		&cobra.Command{
			Use:   "status <branch>",
			Short: "Show the merge state of a branch",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				co, err := a.checkout(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				a.printf("state\t%s\n", co.State())
				if state, ok := co.MergeState(); ok {
					a.printf("merge\t%s\nbase\t%s\nours\t%s\ntheirs\t%s\n", state.ID, state.Base, state.Ours, state.Theirs)
				}
				return nil
			},
		},
		newMergeDiffCmd(a),
	)
	return cmd
}

func newMergeStartCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "start <branch> <theirs>",
		Short: "Start merging theirs into branch and apply the clean changes",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			co, err := a.checkout(ctx, args[0])
			if err != nil {
				return err
			}
			state, err := co.StartMerge(ctx, args[1])
			if err != nil {
				return err
			}
			a.printf("merging %s into %s (base %s)\n", state.Theirs, args[0], state.Base)

			var conflicts int
			err = co.WithWrite(ctx, func(h *ps.Handle) error {
				return eachTable(ctx, a, h, nil, func(table string) error {
					summary, err := op.AutoMerge(ctx, h, table)
					if err != nil {
						return err
					}
					a.printf("%s\tapplied %d\tconflicts %d\n", table, summary.Applied, len(summary.Conflicts))
					for _, row := range summary.Conflicts {
						a.printf("  conflict %v: ours %v, theirs %v\n", row.Key, row.OursValues, row.TheirsValues)
					}
					conflicts += len(summary.Conflicts)
					return nil
				})
			})
			if err != nil {
				return err
			}

			if conflicts > 0 {
				a.printf("resolve with: branchdb merge resolve %s --take ours|theirs\n", args[0])
				return nil
			}
			if err := co.MarkResolved(); err != nil {
				return err
			}
			a.printf("no conflicts; commit %s to finish\n", args[0])
			return nil
		},
	}
}

func newMergeResolveCmd(a *app) *cobra.Command {
	var (
		take   string
		tables []string
	)
	cmd := &cobra.Command{
		Use:   "resolve <branch>",
		Short: "Mark the merge resolved, optionally taking one side of every conflict",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if take != "" && take != takeOurs && take != takeTheirs {
				return fmt.Errorf("%w: --take must be %q or %q", core.ErrInvalidArgument, takeOurs, takeTheirs)
			}
			ctx := cmd.Context()
			co, err := a.checkout(ctx, args[0])
			if err != nil {
				return err
			}
			if _, ok := co.MergeState(); !ok {
				return fmt.Errorf("%s: %w", args[0], core.ErrNotMerging)
			}

			if take != "" {
				err = co.WithWrite(ctx, func(h *ps.Handle) error {
					return eachTable(ctx, a, h, tables, func(table string) error {
						n, err := takeSide(ctx, h, table, take)
						if err != nil {
							return err
						}
						a.printf("%s\ttook %s for %d rows\n", table, take, n)
						return nil
					})
				})
				if err != nil {
					return err
				}
			}

			if err := co.MarkResolved(); err != nil {
				return err
			}
			a.printf("merge resolved; commit %s to finish\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&take, "take", "", "settle every conflict with this side (ours or theirs)")
	cmd.Flags().StringSliceVar(&tables, "table", nil, "limit --take to these tables")
	return cmd
}

// takeSide writes the chosen side of every conflicting row of table.
func takeSide(ctx context.Context, h *ps.Handle, table, side string) (int, error) {
	rows, err := diff3Rows(ctx, h, table)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, row := range rows {
		if !row.Conflict() {
			continue
		}
		values, result := row.TheirsValues, row.Theirs
		if side == takeOurs {
			values, result = row.OursValues, row.Ours
		}
		if result != core.Deleted && values == nil {
			values = []any{}
		}
		if err := op.ApplyResolution(ctx, h, table, row.Key, values); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func newMergeDiffCmd(a *app) *cobra.Command {
	var conflictsOnly bool
	cmd := &cobra.Command{
		Use:   "diff <branch> [table...]",
		Short: "Show the rows changed by a merge in progress; ! marks conflicts",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			co, err := a.checkout(ctx, args[0])
			if err != nil {
				return err
			}
			if _, ok := co.MergeState(); !ok {
				return fmt.Errorf("%s: %w", args[0], core.ErrNotMerging)
			}
			return co.WithRead(ctx, func(h *ps.Handle) error {
				return eachTable(ctx, a, h, args[1:], func(table string) error {
					rows, err := diff3Rows(ctx, h, table)
					if err != nil {
						return err
					}
					for _, row := range rows {
						marker := " "
						if row.Conflict() {
							marker = "!"
						} else if conflictsOnly {
							continue
						}
						a.printf("%s %s %v\tours %s %v\ttheirs %s %v\n",
							marker, table, row.Key, row.Ours, row.OursValues, row.Theirs, row.TheirsValues)
					}
					return nil
				})
			})
		},
	}
	cmd.Flags().BoolVar(&conflictsOnly, "conflicts", false, "only show conflicting rows")
	return cmd
}

func diff3Rows(ctx context.Context, h *ps.Handle, table string) ([]op.Diff3Row, error) {
	cur, err := op.Diff3(ctx, h, table)
	if err != nil {
		return nil, err
	}
	var rows []op.Diff3Row
	for cur.Next() {
		rows = append(rows, cur.Row())
	}
	err = cur.Err()
	if closeErr := cur.Close(); err == nil {
		err = closeErr
	}
	return rows, err
}

// eachTable runs fn for tables, or for every table of the primary view when
// tables is empty. Tables without a primary key are skipped with a notice.
func eachTable(ctx context.Context, a *app, h *ps.Handle, tables []string, fn func(table string) error) error {
	if len(tables) == 0 {
		var err error
		tables, err = op.Tables(ctx, h)
		if err != nil {
			return err
		}
	}
	for _, table := range tables {
		err := fn(table)
		if errors.Is(err, core.ErrUnsupportedTable) {
			fmt.Fprintf(a.errOut, "skipping %s: %v\n", table, err)
			continue
		}
		if err != nil {
			return err
		}
	}
	return nil
}
