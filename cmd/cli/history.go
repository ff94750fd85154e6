package main

import (
	"time"

	"github.com/spf13/cobra"
)

func newLogCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "log [ref...]",
		Short: "Show the commits reachable from refs, newest first",
		Long:  `Show history. Without refs every local branch is walked.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			commits, err := a.store.Commits(args...)
			if err != nil {
				return err
			}
			for i, c := range commits {
				if limit > 0 && i == limit {
					break
				}
				a.printf("%s %s %s %s\n", c.ID, c.When.UTC().Format(time.RFC3339), c.Author, firstLine(c.Message))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "show at most this many commits")
	return cmd
}

func newMergeBaseCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "merge-base <ref> <ref>...",
		Short: "Print the best common ancestor of the given refs",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := a.store.MergeBase(cmd.Context(), args...)
			if err != nil {
				return err
			}
			a.printf("%s\n", base)
			return nil
		},
	}
}
