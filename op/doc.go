// Package op provides the merge operations BranchDB runs against a
// checkout's database handle.
//
// The operations are stateless: they take a Source (a checkout handle or
// any *sql.DB wrapped with NewSource) and issue queries against the primary
// view and the views attached while merging (base, ours, theirs).
//
// # Two-way diff
//
// Diff2 compares a table between two views and yields the deleted, inserted
// and modified rows ordered by primary key:
//
//	cur, err := op.Diff2(ctx, handle, "items", db.ViewBase, db.ViewOurs)
//	defer cur.Close()
//	for cur.Next() {
//	    row := cur.Row() // row.Result, row.Key, row.From, row.To
//	}
//	err = cur.Err()
//
// # Three-way diff
//
// Diff3 walks Diff2(base, ours) and Diff2(base, theirs) in lockstep and
// yields one row per diverging key with the result on each side:
//
//	cur, err := op.Diff3(ctx, handle, "items")
//	for cur.Next() {
//	    row := cur.Row()
//	    if row.Conflict() {
//	        // pick a side, then:
//	        op.ApplyResolution(ctx, handle, "items", row.Key, row.TheirsValues)
//	    }
//	}
//
// # Architecture
//
// The layering is:
//
//	Merge operations (op/)  ← This package
//	     ↓
//	Checkout handles (ps/)
//	     ↓
//	Table engines (db/)
package op
