package main

import (
	"context"
	"strings"

	"github.com/nickyhof/BranchDB/core"
	"github.com/nickyhof/BranchDB/ps"
	"github.com/spf13/cobra"
)

func newBranchCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "branch",
		Short: "Create, delete and list branches",
	}

	create := &cobra.Command{
		Use:   "create <name> [base]",
		Short: "Create a branch from a branch, remote branch or commit",
		Long: `Create a branch and check it out. The base defaults to the initial
branch. Branching from a branch without commits copies its working data.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			base := a.cfg.InitialBranch
			if len(args) == 2 {
				base = args[1]
			}
			co, err := a.store.CreateBranch(cmd.Context(), args[0], base)
			if err != nil {
				return err
			}
			a.printf("created %s at %s\n", args[0], headOrUnborn(co))
			return nil
		},
	}

	del := &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a branch and its checkout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.store.DeleteBranch(cmd.Context(), args[0]); err != nil {
				return err
			}
			a.printf("deleted %s\n", args[0])
			return nil
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List local branches",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			names, err := a.store.ListBranches()
			if err != nil {
				return err
			}
			for _, name := range names {
				head, err := a.store.Resolve(name)
				if err != nil {
					head = "(no commits)"
				}
				a.printf("%s\t%s\n", name, head)
			}
			return nil
		},
	}

	cmd.AddCommand(create, del, list)
	return cmd
}

// checkout opens the working copy of a local branch.
func (a *app) checkout(ctx context.Context, branch string) (*ps.Checkout, error) {
	return a.store.Checkout(ctx, core.BranchLocator(a.store.Name(), branch))
}

func headOrUnborn(co *ps.Checkout) string {
	if head := co.Head(); head != "" {
		return head
	}
	return "(no commits)"
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	return line
}
