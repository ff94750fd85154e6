// Package BranchDB keeps relational data under version control. Each
// repository is a git object graph whose commits are snapshots of a table
// engine file (SQLite by default, DuckDB optionally). Branches are checked
// out into working directories that applications read and write through
// database/sql, and are brought back together with a row-level three-way
// merge.
//
// # Quick Start
//
//	reg, _ := BranchDB.NewRegistry(core.Config{Root: "/var/lib/branchdb"},
//		ps.WithSchema(ps.StaticSchema("CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT);")))
//	defer reg.Close()
//
//	store, _ := reg.Open("accounts")
//	feature, _ := store.CreateBranch(ctx, "feature", "master")
//
//	feature.WithWrite(ctx, func(h *ps.Handle) error {
//		_, err := h.ExecContext(ctx, "INSERT INTO users (id, name) VALUES (1, 'Alice')")
//		return err
//	})
//	feature.Commit(ctx, core.Identity{Name: "App", Email: "app@example.com"}, "add alice")
//
// # Merging
//
// StartMerge attaches the ours, theirs and base versions of the data next
// to the primary view. The op package diffs them row by row:
//
//	main, _ := store.Checkout(ctx, core.BranchLocator("accounts", "main"))
//	main.StartMerge(ctx, "feature")
//	main.WithWrite(ctx, func(h *ps.Handle) error {
//		summary, err := op.AutoMerge(ctx, h, "users")
//		// resolve summary.Conflicts with op.ApplyResolution
//		return err
//	})
//	main.MarkResolved()
//	main.Commit(ctx, identity, "merge feature")
//
// # Packages
//
//   - core: locators, configuration, errors and shared types
//   - db: table engine dialects and schema introspection
//   - ps: repositories, branches, checkouts, history and remotes
//   - op: two- and three-way row diffs and conflict resolution
package BranchDB
