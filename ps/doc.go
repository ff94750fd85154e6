// Package ps is the persistence layer of BranchDB.
//
// A Store owns one repository: a bare git object store under
// <root>/<repo>/objects and one working directory per checkout under
// <root>/<repo>/checkouts. A checkout directory holds the table engine file
// and a .branchdb control directory that is never committed.
//
// # Branches and commits
//
//	store, err := ps.Open(cfg, "inventory", ps.WithSchema(ps.StaticSchema(ddl)))
//	master, err := store.Checkout(ctx, core.BranchLocator("inventory", "master"))
//	err = master.WithWrite(ctx, func(h *ps.Handle) error {
//	    _, err := h.ExecContext(ctx, "INSERT INTO rows VALUES (1, 'a')")
//	    return err
//	})
//	id, err := master.Commit(ctx, identity, "add row 1")
//	feature, err := store.CreateBranch(ctx, "feature", id)
//
// # Merging
//
// StartMerge attaches the ours, theirs and base versions of the database
// next to the primary one. The op package diffs them through a Handle;
// MarkResolved and Commit finish the merge, Revert abandons it.
//
//	state, err := master.StartMerge(ctx, "feature")
//	h, err := master.AcquireWrite(ctx)
//	summary, err := op.AutoMerge(ctx, h, "rows")
//	h.Release()
//	err = master.MarkResolved()
//	id, err = master.Commit(ctx, identity, "merge feature")
package ps
