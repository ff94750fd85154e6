package core

import (
	"errors"
	"fmt"
)

var (
	ErrMalformedLocator    = errors.New("malformed locator")
	ErrReferenceNotFound   = errors.New("reference not found")
	ErrReferenceExists     = errors.New("reference already exists")
	ErrNoCommonAncestor    = errors.New("no common ancestor")
	ErrMergeInProgress     = errors.New("merge already in progress")
	ErrNotMerging          = errors.New("checkout is not merging")
	ErrMergeUnresolved     = errors.New("merge has not been marked resolved")
	ErrDirtyCheckout       = errors.New("checkout has uncommitted changes")
	ErrConcurrentRefUpdate = errors.New("reference was updated concurrently")
	ErrLockTimeout         = errors.New("timed out waiting for checkout lock")
	ErrCheckoutDeleted     = errors.New("checkout has been deleted")
	ErrImmutableReference  = errors.New("reference is not mutable")
	ErrUnsupportedTable    = errors.New("table has no primary key")
	ErrKeyOrder            = errors.New("diff rows are not in key order")
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrStorageIO           = errors.New("storage failure")
)

// StorageError wraps a failure of the object graph or the table engine.
// It matches ErrStorageIO and unwraps to the underlying cause.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func (e *StorageError) Is(target error) bool {
	return target == ErrStorageIO
}

// Storage wraps err as a StorageError. It returns nil for a nil err and
// leaves errors that already carry a kind from this package untouched.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	if hasKind(err) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return &StorageError{Op: op, Err: err}
}

var kinds = []error{
	ErrMalformedLocator, ErrReferenceNotFound, ErrReferenceExists, ErrNoCommonAncestor,
	ErrMergeInProgress, ErrNotMerging, ErrMergeUnresolved, ErrDirtyCheckout,
	ErrConcurrentRefUpdate, ErrLockTimeout, ErrCheckoutDeleted, ErrImmutableReference,
	ErrUnsupportedTable, ErrKeyOrder, ErrInvalidArgument, ErrStorageIO,
}

func hasKind(err error) bool {
	for _, kind := range kinds {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}
