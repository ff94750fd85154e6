// Package core provides core types used throughout BranchDB.
//
// The package defines the value types shared by the persistence layer (ps/),
// the table engines (db/) and the merge operations (op/): locators,
// identities, table metadata, diff results, configuration and the error
// kinds every layer reports.
//
// # Locators
//
// A Locator addresses a repository, a reference inside it and optionally an
// entity (table) and entity id (row):
//
//	loc, err := core.ParseLocator("/inventory/branches/feature/items/42")
//	loc.Kind          // core.LocalBranch
//	loc.Reference     // "feature"
//	loc.StripToReference().String() // "/inventory/branches/feature"
//
// # Identity
//
// Identity identifies the author of commits (Git commit author):
//
//	identity := core.Identity{
//	    Name:  "John Doe",
//	    Email: "john@example.com",
//	}
//
// # Errors
//
// Expected conditions are reported as sentinel errors and are meant to be
// tested with errors.Is:
//
//	if errors.Is(err, core.ErrLockTimeout) {
//	    // retry later
//	}
package core
