package main

import (
	"strings"

	"github.com/spf13/cobra"
)

func newRemoteCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remote",
		Short: "Manage remotes and exchange branches with them",
	}

	add := &cobra.Command{
		Use:   "add <name> <url>",
		Short: "Add a remote",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.store.AddRemote(args[0], args[1])
		},
	}

	remove := &cobra.Command{
		Use:   "remove <name>",
		Short: "Remove a remote and its remote-tracking branches",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.store.RemoveRemote(args[0])
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List remotes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			remotes, err := a.store.ListRemotes()
			if err != nil {
				return err
			}
			for _, r := range remotes {
				a.printf("%s\t%s\n", r.Name, strings.Join(r.URLs, ","))
			}
			return nil
		},
	}

	push := &cobra.Command{
		Use:   "push <remote> [<local> <remote-branch>]",
		Short: "Push every branch, or one branch under a given name",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 || len(args) == 3 {
				return nil
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 3 {
				return a.store.PushToRemoteExplicit(cmd.Context(), args[0], args[1], args[2])
			}
			return a.store.PushToRemote(cmd.Context(), args[0], a.errOut)
		},
	}

	pull := &cobra.Command{
		Use:   "pull <remote>",
		Short: "Fetch the branches of a remote into remote-tracking branches",
		Long: `Fetch every branch of the remote as <remote>/<branch>. Local branches
are not changed; merge a tracking branch with "merge start".`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.store.PullFromRemote(cmd.Context(), args[0], a.errOut)
		},
	}

	cmd.AddCommand(add, remove, list, push, pull)
	return cmd
}
