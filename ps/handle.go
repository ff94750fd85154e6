package ps

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/nickyhof/BranchDB/core"
	"github.com/nickyhof/BranchDB/db"
)

// Handle is a leased view of a checkout's database. It satisfies op.Source,
// so the merge operations run directly against it. Every handle must be
// released exactly once.
type Handle struct {
	co       *Checkout
	db       *sql.DB
	writable bool
	hold     *readHold
	released atomic.Bool
}

// readHold is one acquisition of the read side of a checkout lock, shared
// by every handle acquired through a context that carries it. The lock is
// released with the last of them.
type readHold struct {
	mu   sync.Mutex
	refs int
	lock *rwLock
}

func (r *readHold) retain() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.refs == 0 {
		return false
	}
	r.refs++
	return true
}

func (r *readHold) release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refs--
	if r.refs == 0 {
		r.lock.RUnlock()
	}
}

type holdKey struct {
	co *Checkout
}

// Context returns a context carrying the handle's lock hold. Handles acquired
// from the same checkout with it share that hold instead of queueing on the
// lock again, so nested acquisitions never wait behind a pending Commit or
// Delete.
func (h *Handle) Context(ctx context.Context) context.Context {
	return context.WithValue(ctx, holdKey{h.co}, h.hold)
}

// QueryContext runs a query against the primary view. Read handles refuse
// statements that modify data or schema.
func (h *Handle) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	if !h.writable && isWrite(query) {
		return nil, fmt.Errorf("write through read handle of %s: %w", h.co.loc, core.ErrImmutableReference)
	}
	return h.db.QueryContext(ctx, query, args...)
}

// ExecContext runs a statement against the primary view. Read handles
// refuse it.
func (h *Handle) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if !h.writable {
		return nil, fmt.Errorf("exec on read handle of %s: %w", h.co.loc, core.ErrImmutableReference)
	}
	res, err := h.db.ExecContext(ctx, query, args...)
	if isDDL(query) {
		h.co.meta.Purge()
	}
	return res, err
}

func (h *Handle) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	if !h.writable {
		return nil, fmt.Errorf("transaction on read handle of %s: %w", h.co.loc, core.ErrImmutableReference)
	}
	return h.db.BeginTx(ctx, opts)
}

func (h *Handle) Dialect() db.Dialect {
	return h.co.store.dialect
}

// Metadata describes table in the primary view. Results are cached until
// the checkout's database is reopened or a DDL statement runs.
func (h *Handle) Metadata(ctx context.Context, table string) (core.TableMetadata, error) {
	return h.co.metadata(ctx, h.db, table)
}

// DB exposes the underlying pool. It must not be used after Release. The
// pool of a commit or remote branch checkout is opened read-only.
func (h *Handle) DB() *sql.DB {
	return h.db
}

func (h *Handle) Writable() bool {
	return h.writable
}

func (h *Handle) Checkout() *Checkout {
	return h.co
}

func (h *Handle) Release() {
	if h.released.CompareAndSwap(false, true) {
		h.hold.release()
	}
}

func firstKeyword(query string) string {
	fields := strings.Fields(query)
	if len(fields) == 0 {
		return ""
	}
	return strings.ToUpper(strings.TrimLeft(fields[0], "("))
}

func isDDL(query string) bool {
	switch firstKeyword(query) {
	case "CREATE", "ALTER", "DROP":
		return true
	}
	return false
}

func isWrite(query string) bool {
	if isDDL(query) {
		return true
	}
	switch firstKeyword(query) {
	case "INSERT", "UPDATE", "DELETE", "REPLACE", "UPSERT", "MERGE", "ATTACH", "DETACH", "VACUUM", "COPY":
		return true
	}
	return false
}
