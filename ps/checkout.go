package ps

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-git/go-billy/v6"
	"github.com/go-git/go-billy/v6/osfs"
	"github.com/go-git/go-billy/v6/util"
	"github.com/go-git/go-git/v6/plumbing"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/nickyhof/BranchDB/core"
	"github.com/nickyhof/BranchDB/db"
	"go.uber.org/zap"
)

// State is the position of a Checkout in its lifecycle.
type State int

const (
	StateNormal State = iota
	// StateMerging is a merge with unresolved conflicts.
	StateMerging
	// StateResolved is a merge ready to be committed.
	StateResolved
	StateDeleted
)

func (s State) String() string {
	switch s {
	case StateNormal:
		return "normal"
	case StateMerging:
		return "merging"
	case StateResolved:
		return "resolved"
	case StateDeleted:
		return "deleted"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Checkout is a working instance of a branch or commit: a directory holding
// the table engine file, the database pool opened on it and the merge state.
//
// Data access goes through handles. Any number of read and write handles
// may be held at once; Commit, Delete, StartMerge and Revert wait until all
// of them are released and block new ones while they run.
type Checkout struct {
	store  *Store
	loc    core.Locator
	dir    string
	fs     billy.Filesystem
	lock   *rwLock
	meta   *lru.Cache[string, core.TableMetadata]
	logger *zap.Logger

	// mu guards the fields below.
	mu      sync.Mutex
	db      *sql.DB
	merge   *MergeState
	head    plumbing.Hash
	deleted bool
}

func newCheckout(s *Store, loc core.Locator, dir string) (*Checkout, error) {
	fs := osfs.New(dir)

	head, err := readHead(fs)
	if err != nil {
		return nil, err
	}
	merge, err := readMergeState(fs)
	if err != nil {
		return nil, err
	}
	if merge != nil && merge.Ours != head.String() {
		// the merge was committed but its marker survived
		s.logger.Warn("discarding merge state of a committed merge",
			zap.String("checkout", loc.String()), zap.String("merge", merge.ID))
		if err := removeMergeState(fs); err != nil {
			return nil, err
		}
		if err := util.RemoveAll(fs, viewsDir); err != nil {
			return nil, core.Storage("remove merge views", err)
		}
		merge = nil
	}
	meta, err := lru.New[string, core.TableMetadata](s.cfg.MetadataCacheSize)
	if err != nil {
		return nil, fmt.Errorf("%w: metadata cache: %v", core.ErrInvalidArgument, err)
	}

	return &Checkout{
		store:  s,
		loc:    loc,
		dir:    dir,
		fs:     fs,
		lock:   newRWLock(s.cfg.LockTimeout),
		meta:   meta,
		logger: s.logger.With(zap.String("checkout", loc.String())),
		merge:  merge,
		head:   head,
	}, nil
}

func (c *Checkout) Locator() core.Locator {
	return c.loc
}

// Dir is the working directory of the checkout.
func (c *Checkout) Dir() string {
	return c.dir
}

func (c *Checkout) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.deleted:
		return StateDeleted
	case c.merge == nil:
		return StateNormal
	case c.merge.Resolved:
		return StateResolved
	default:
		return StateMerging
	}
}

// MergeState returns the merge in progress, if any.
func (c *Checkout) MergeState() (MergeState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.merge == nil {
		return MergeState{}, false
	}
	return *c.merge, true
}

// Head is the commit the working directory was last materialized from or
// committed as. It is empty for a branch without commits.
func (c *Checkout) Head() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.head == plumbing.ZeroHash {
		return ""
	}
	return c.head.String()
}

// AcquireRead returns a handle for queries. A ctx obtained from
// Handle.Context reuses that handle's hold on the checkout lock.
func (c *Checkout) AcquireRead(ctx context.Context) (*Handle, error) {
	return c.acquire(ctx, false)
}

// AcquireWrite returns a handle that may also modify the primary view. Only
// local branches accept writes.
func (c *Checkout) AcquireWrite(ctx context.Context) (*Handle, error) {
	if !c.loc.Kind.IsMutable() {
		return nil, fmt.Errorf("write to %s: %w", c.loc, core.ErrImmutableReference)
	}
	return c.acquire(ctx, true)
}

func (c *Checkout) acquire(ctx context.Context, writable bool) (*Handle, error) {
	if held, ok := ctx.Value(holdKey{c}).(*readHold); ok && held.retain() {
		c.mu.Lock()
		defer c.mu.Unlock()
		conn, err := c.openDBLocked(ctx)
		if err != nil {
			held.release()
			return nil, err
		}
		return &Handle{co: c, db: conn, writable: writable, hold: held}, nil
	}

	if err := c.lock.RLock(ctx); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.usableLocked(); err != nil {
		c.lock.RUnlock()
		return nil, err
	}
	conn, err := c.openDBLocked(ctx)
	if err != nil {
		c.lock.RUnlock()
		return nil, err
	}
	return &Handle{co: c, db: conn, writable: writable, hold: &readHold{refs: 1, lock: c.lock}}, nil
}

// Release returns h to the checkout. Releasing a handle twice is a no-op.
func (c *Checkout) Release(h *Handle) {
	if h != nil {
		h.Release()
	}
}

// WithRead runs fn with a read handle that is released when fn returns.
func (c *Checkout) WithRead(ctx context.Context, fn func(*Handle) error) error {
	h, err := c.AcquireRead(ctx)
	if err != nil {
		return err
	}
	defer h.Release()
	return fn(h)
}

// WithWrite runs fn with a write handle that is released when fn returns.
func (c *Checkout) WithWrite(ctx context.Context, fn func(*Handle) error) error {
	h, err := c.AcquireWrite(ctx)
	if err != nil {
		return err
	}
	defer h.Release()
	return fn(h)
}

// Commit snapshots the working directory and advances the branch to the new
// commit. While merging, the merge must be resolved; the commit then gets the
// ours and theirs commits as parents and the merge state is cleared.
func (c *Checkout) Commit(ctx context.Context, identity core.Identity, message string) (string, error) {
	if err := c.lock.Lock(ctx); err != nil {
		return "", err
	}
	defer c.lock.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.usableLocked(); err != nil {
		return "", err
	}
	if !c.loc.Kind.IsMutable() {
		return "", fmt.Errorf("commit to %s: %w", c.loc, core.ErrImmutableReference)
	}
	if c.merge != nil && !c.merge.Resolved {
		return "", fmt.Errorf("%s: %w", c.loc, core.ErrMergeUnresolved)
	}

	if err := c.flushLocked(ctx); err != nil {
		return "", err
	}
	tree, err := c.store.snapshot(c.fs)
	if err != nil {
		return "", err
	}

	var parents []plumbing.Hash
	switch {
	case c.merge != nil:
		parents = []plumbing.Hash{c.head, plumbing.NewHash(c.merge.Theirs)}
	case c.head != plumbing.ZeroHash:
		parents = []plumbing.Hash{c.head}
	}

	hash, err := c.store.createCommit(tree, parents, identity, message)
	if err != nil {
		return "", err
	}
	// HEAD is written first, so once the ref moves the checkout already
	// records it. A stale merge marker left by a failure below is
	// discarded on reopen because its ours no longer matches HEAD.
	if err := writeHead(c.fs, hash); err != nil {
		return "", err
	}
	ref := plumbing.NewBranchReferenceName(c.loc.Reference)
	if err := c.store.compareAndSwapRef(ref, hash, c.head); err != nil {
		if restoreErr := writeHead(c.fs, c.head); restoreErr != nil {
			c.logger.Error("failed to restore checkout head", zap.Error(restoreErr))
		}
		return "", err
	}

	c.head = hash
	merged := c.merge != nil
	if err := c.clearMergeLocked(); err != nil {
		c.logger.Warn("failed to clear merge state after commit",
			zap.String("commit", hash.String()), zap.Error(err))
	}

	c.logger.Info("committed",
		zap.String("commit", hash.String()),
		zap.Int("parents", len(parents)),
		zap.Bool("merge", merged))
	return hash.String(), nil
}

// Revert discards the working directory and any merge in progress, and
// materializes the current head of the reference again. A branch without
// commits is re-initialized from the schema.
func (c *Checkout) Revert(ctx context.Context) error {
	if err := c.lock.Lock(ctx); err != nil {
		return err
	}
	defer c.lock.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.usableLocked(); err != nil {
		return err
	}

	head, err := c.store.currentHead(c.loc)
	if err != nil {
		return err
	}

	c.closeDBLocked()

	entries, err := c.fs.ReadDir(".")
	if err != nil {
		return core.Storage("revert "+c.loc.String(), err)
	}
	for _, entry := range entries {
		if err := util.RemoveAll(c.fs, entry.Name()); err != nil {
			return core.Storage("revert "+c.loc.String(), err)
		}
	}
	c.merge = nil

	if head == plumbing.ZeroHash {
		err = c.store.initializeDB(ctx, c.abs(c.store.dialect.FileName()))
	} else {
		err = c.store.writeTree(head, c.fs)
	}
	if err != nil {
		return err
	}
	if err := writeHead(c.fs, head); err != nil {
		return err
	}
	c.head = head

	c.logger.Info("reverted", zap.String("head", head.String()))
	return nil
}

// Delete closes the database, removes the working directory and evicts the
// checkout from its Store. Every later call on the checkout fails with
// ErrCheckoutDeleted.
func (c *Checkout) Delete(ctx context.Context) error {
	if err := c.lock.Lock(ctx); err != nil {
		return err
	}
	defer c.lock.Unlock()

	c.mu.Lock()
	if err := c.usableLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	c.closeDBLocked()
	if err := os.RemoveAll(c.dir); err != nil {
		c.mu.Unlock()
		return core.Storage("delete "+c.loc.String(), err)
	}
	c.deleted = true
	c.merge = nil
	c.mu.Unlock()

	c.store.evict(c)
	c.logger.Info("deleted checkout")
	return nil
}

// IsDirty reports whether the working directory differs from the head
// commit.
func (c *Checkout) IsDirty(ctx context.Context) (bool, error) {
	var dirty bool
	err := c.exclusive(ctx, func() error {
		var err error
		dirty, err = c.isDirtyLocked(ctx)
		return err
	})
	return dirty, err
}

func (c *Checkout) isDirtyLocked(ctx context.Context) (bool, error) {
	if err := c.flushLocked(ctx); err != nil {
		return false, err
	}
	tree, err := c.store.snapshot(c.fs)
	if err != nil {
		return false, err
	}
	headTree, err := c.store.treeOf(c.head)
	if err != nil {
		return false, err
	}
	return tree != headTree.Hash, nil
}

// exclusive runs fn holding the write side of the lock and the mutex.
func (c *Checkout) exclusive(ctx context.Context, fn func() error) error {
	if err := c.lock.Lock(ctx); err != nil {
		return err
	}
	defer c.lock.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.usableLocked(); err != nil {
		return err
	}
	return fn()
}

func (c *Checkout) usableLocked() error {
	if c.deleted {
		return fmt.Errorf("%s: %w", c.loc, core.ErrCheckoutDeleted)
	}
	return nil
}

func (c *Checkout) abs(rel string) string {
	return filepath.Join(c.dir, filepath.FromSlash(rel))
}

// openDBLocked opens the pool on first use. While merging every connection
// of the pool gets the merge views attached.
func (c *Checkout) openDBLocked(ctx context.Context) (*sql.DB, error) {
	if c.db != nil {
		return c.db, nil
	}

	d := c.store.dialect
	var attachments []db.Attachment
	if c.merge != nil {
		for _, view := range db.MergeViews() {
			attachments = append(attachments, db.Attachment{Name: view, Path: c.abs(viewPath(d, view))})
		}
	}

	conn, err := d.Open(c.abs(d.FileName()), db.OpenOptions{
		ReadOnly:    !c.loc.Kind.IsMutable(),
		Attachments: attachments,
	})
	if err != nil {
		return nil, core.Storage("open database of "+c.loc.String(), err)
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, core.Storage("open database of "+c.loc.String(), err)
	}

	c.db = conn
	c.meta.Purge()
	c.logger.Debug("opened database", zap.Int("attachments", len(attachments)))
	return conn, nil
}

func (c *Checkout) closeDBLocked() error {
	if c.db == nil {
		return nil
	}
	err := c.db.Close()
	c.db = nil
	c.meta.Purge()
	if err != nil {
		return core.Storage("close database of "+c.loc.String(), err)
	}
	return nil
}

func (c *Checkout) closeDB() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeDBLocked()
}

func (c *Checkout) flushLocked(ctx context.Context) error {
	if c.db == nil || !c.loc.Kind.IsMutable() {
		return nil
	}
	if err := c.store.dialect.Flush(ctx, c.db); err != nil {
		return core.Storage("flush database of "+c.loc.String(), err)
	}
	return nil
}

func (c *Checkout) metadata(ctx context.Context, q db.Querier, table string) (core.TableMetadata, error) {
	if meta, ok := c.meta.Get(table); ok {
		return meta, nil
	}
	meta, err := db.DescribeTable(ctx, q, c.store.dialect, table)
	if err != nil {
		return core.TableMetadata{}, err
	}
	c.meta.Add(table, meta)
	return meta, nil
}
