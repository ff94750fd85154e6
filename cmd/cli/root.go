package main

import (
	"context"
	"errors"
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// execute runs one invocation of the CLI. Every invocation gets its own
// viper instance and registry, so it can be called repeatedly in one process.
func execute(ctx context.Context, out, errOut io.Writer, args []string) error {
	a := &app{v: viper.New(), out: out, errOut: errOut}
	root := newRootCmd(a)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	return errors.Join(err, a.close())
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "branchdb",
		Short: "Version-controlled relational data",
		Long: `branchdb keeps relational tables in git-style repositories.

Every branch is checked out into its own working directory holding a table
engine file. Commits snapshot that file; merges compare the ours, theirs and
base versions row by row.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := a.initConfig(); err != nil {
				return err
			}
			return a.openStore()
		},
	}
	root.SetOut(a.out)
	root.SetErr(a.errOut)

	flags := root.PersistentFlags()
	flags.String("config", "", "config file (default ./branchdb.yaml or $HOME/.branchdb/branchdb.yaml)")
	flags.String("root", "", "directory holding the repositories")
	flags.StringP("repository", "r", "", "repository to operate on")
	flags.String("engine", "", "table engine for new checkouts (sqlite or duckdb)")
	flags.String("schema", "", "DDL file applied to the initial branch of a new repository")
	flags.String("log-level", "", "log level (debug, info, warn, error or none)")
	flags.String("name", "", "author name recorded on commits")
	flags.String("email", "", "author email recorded on commits")

	for key, flag := range map[string]string{
		"config":         "config",
		"root":           "root",
		"repository":     "repository",
		"engine":         "engine",
		"schema":         "schema",
		"log_level":      "log-level",
		"identity.name":  "name",
		"identity.email": "email",
	} {
		_ = a.v.BindPFlag(key, flags.Lookup(flag))
	}

	root.AddCommand(
		newBranchCmd(a),
		newLogCmd(a),
		newMergeBaseCmd(a),
		newExecCmd(a),
		newCommitCmd(a),
		newMergeCmd(a),
		newRemoteCmd(a),
	)
	return root
}
