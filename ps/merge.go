package ps

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"time"

	"github.com/go-git/go-billy/v6"
	"github.com/go-git/go-billy/v6/util"
	"github.com/go-git/go-git/v6/plumbing"
	"github.com/google/uuid"
	"github.com/nickyhof/BranchDB/core"
	"github.com/nickyhof/BranchDB/db"
	"go.uber.org/zap"
)

const (
	mergeStateVersion = 1
	mergeStateFile    = controlDir + "/MERGE_STATE"
	viewsDir          = controlDir + "/views"
)

// MergeState records a merge in progress. It is stored as JSON in the
// checkout's control directory; its presence on disk means the checkout is
// merging.
type MergeState struct {
	Version   int       `json:"version"`
	ID        string    `json:"id"`
	Base      string    `json:"base"`
	Ours      string    `json:"ours"`
	Theirs    string    `json:"theirs"`
	Resolved  bool      `json:"resolved"`
	StartedAt time.Time `json:"started_at"`
}

func readMergeState(fs billy.Filesystem) (*MergeState, error) {
	data, err := util.ReadFile(fs, mergeStateFile)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, core.Storage("read merge state", err)
	}

	var state MergeState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, core.Storage("decode merge state", err)
	}
	if state.Version != mergeStateVersion {
		return nil, core.Storage("decode merge state", fmt.Errorf("unsupported version %d", state.Version))
	}
	return &state, nil
}

// writeMergeState replaces the marker atomically.
func writeMergeState(fs billy.Filesystem, state *MergeState) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return core.Storage("encode merge state", err)
	}

	tmp := mergeStateFile + ".tmp"
	if err := util.WriteFile(fs, tmp, data, 0644); err != nil {
		return core.Storage("write merge state", err)
	}
	if err := fs.Rename(tmp, mergeStateFile); err != nil {
		fs.Remove(tmp)
		return core.Storage("write merge state", err)
	}
	return nil
}

func removeMergeState(fs billy.Filesystem) error {
	err := fs.Remove(mergeStateFile)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return core.Storage("remove merge state", err)
	}
	return nil
}

// viewPath is the engine file of a merge view, relative to the checkout.
func viewPath(d db.Dialect, view string) string {
	return path.Join(viewsDir, view, d.FileName())
}

// StartMerge begins merging theirs (a commit id, a local branch or a
// remote/branch) into the checkout. The working directory must match the
// checkout head. On success the checkout is Merging and every database
// handle sees the ours, theirs and base views next to the primary one. On
// failure nothing changes.
func (c *Checkout) StartMerge(ctx context.Context, theirs string) (*MergeState, error) {
	if err := c.lock.Lock(ctx); err != nil {
		return nil, err
	}
	defer c.lock.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.usableLocked(); err != nil {
		return nil, err
	}
	if !c.loc.Kind.IsMutable() {
		return nil, fmt.Errorf("merge into %s: %w", c.loc, core.ErrImmutableReference)
	}
	if c.merge != nil {
		return nil, fmt.Errorf("%s: %w", c.loc, core.ErrMergeInProgress)
	}

	theirsHash, err := c.store.resolve(theirs)
	if err != nil {
		return nil, err
	}
	if c.head == plumbing.ZeroHash {
		return nil, fmt.Errorf("%s has no commits: %w", c.loc, core.ErrNoCommonAncestor)
	}

	dirty, err := c.isDirtyLocked(ctx)
	if err != nil {
		return nil, err
	}
	if dirty {
		return nil, fmt.Errorf("%s: %w", c.loc, core.ErrDirtyCheckout)
	}

	base, err := c.store.mergeBase(c.head, theirsHash)
	if err != nil {
		return nil, err
	}

	state := &MergeState{
		Version:   mergeStateVersion,
		ID:        uuid.NewString(),
		Base:      base.String(),
		Ours:      c.head.String(),
		Theirs:    theirsHash.String(),
		StartedAt: time.Now().UTC(),
	}

	rollback := func() {
		c.closeDBLocked()
		c.merge = nil
		_ = removeMergeState(c.fs)
		_ = util.RemoveAll(c.fs, viewsDir)
	}

	views := map[string]plumbing.Hash{
		db.ViewOurs:   c.head,
		db.ViewTheirs: theirsHash,
		db.ViewBase:   base,
	}
	for _, view := range db.MergeViews() {
		if err := c.materializeView(ctx, view, views[view]); err != nil {
			rollback()
			return nil, err
		}
	}

	if err := writeMergeState(c.fs, state); err != nil {
		rollback()
		return nil, err
	}

	c.closeDBLocked()
	c.merge = state
	if _, err := c.openDBLocked(ctx); err != nil {
		rollback()
		return nil, err
	}

	c.logger.Info("started merge",
		zap.String("merge", state.ID),
		zap.String("base", state.Base),
		zap.String("ours", state.Ours),
		zap.String("theirs", state.Theirs))

	copied := *state
	return &copied, nil
}

func (c *Checkout) materializeView(ctx context.Context, view string, commit plumbing.Hash) error {
	dir := path.Join(viewsDir, view)
	if err := util.RemoveAll(c.fs, dir); err != nil {
		return core.Storage("clear view "+view, err)
	}
	if err := c.fs.MkdirAll(dir, 0755); err != nil {
		return core.Storage("create view "+view, err)
	}
	viewFS, err := c.fs.Chroot(dir)
	if err != nil {
		return core.Storage("create view "+view, err)
	}
	if err := c.store.writeTree(commit, viewFS); err != nil {
		return err
	}
	return c.store.ensureEngineFile(ctx, c.abs(viewPath(c.store.dialect, view)))
}

// MarkResolved records that every conflict of the current merge has been
// dealt with, allowing the merge to be committed.
func (c *Checkout) MarkResolved() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.usableLocked(); err != nil {
		return err
	}
	if c.merge == nil {
		return fmt.Errorf("%s: %w", c.loc, core.ErrNotMerging)
	}
	if c.merge.Resolved {
		return nil
	}

	next := *c.merge
	next.Resolved = true
	if err := writeMergeState(c.fs, &next); err != nil {
		return err
	}
	c.merge = &next
	c.logger.Info("merge resolved", zap.String("merge", next.ID))
	return nil
}

// clearMergeLocked leaves the Merging state: the views are detached by
// closing the pool and their files and the marker are removed.
func (c *Checkout) clearMergeLocked() error {
	if c.merge == nil {
		return nil
	}
	closeErr := c.closeDBLocked()
	c.merge = nil
	if err := removeMergeState(c.fs); err != nil {
		return err
	}
	if err := util.RemoveAll(c.fs, viewsDir); err != nil {
		return core.Storage("remove merge views", err)
	}
	return closeErr
}
