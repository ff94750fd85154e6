// Package db provides the embedded table engines behind BranchDB checkouts.
//
// Every checkout keeps its table data in a single engine file inside its
// working directory. A Dialect knows how to open that file, how to attach
// the read-only views used while merging and how to introspect tables:
//
//	d, _ := db.Lookup("sqlite")
//	conn, err := d.Open("/path/to/checkout/data.sqlite", db.OpenOptions{
//	    Attachments: []db.Attachment{
//	        {Name: "base", Path: "/path/to/views/base/data.sqlite"},
//	    },
//	})
//
// Attachments are applied to every pooled connection, so the views are
// visible no matter which connection database/sql hands out.
//
// # Engines
//
//   - SQLite (default): github.com/mattn/go-sqlite3, rollback journal mode
//   - DuckDB: github.com/duckdb/duckdb-go/v2, checkpointed before snapshots
package db
