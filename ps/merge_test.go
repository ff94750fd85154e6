package ps

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/nickyhof/BranchDB/core"
	"github.com/nickyhof/BranchDB/op"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func conflicts(t *testing.T, co *Checkout) []op.Diff3Row {
	t.Helper()
	ctx := context.Background()
	var rows []op.Diff3Row
	require.NoError(t, co.WithRead(ctx, func(h *Handle) error {
		cur, err := op.Diff3(ctx, h, "rows")
		if err != nil {
			return err
		}
		defer cur.Close()
		for cur.Next() {
			rows = append(rows, cur.Row())
		}
		return cur.Err()
	}))
	return rows
}

func TestMergeSurvivesReopen(t *testing.T) {
	for _, engine := range engines {
		t.Run(engine, func(t *testing.T) {
			mergeSurvivesReopen(t, engine)
		})
	}
}

func mergeSurvivesReopen(t *testing.T, engine string) {
	cfg := engineConfig(t, engine)
	ctx := context.Background()

	s := openStore(t, cfg)
	b1, _, c1, c2, c3 := diverged(t, s)
	started, err := b1.StartMerge(ctx, "b2")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s = openStore(t, cfg)
	b1 = branch(t, s, "b1")
	assert.Equal(t, StateMerging, b1.State())

	state, ok := b1.MergeState()
	require.True(t, ok)
	assert.Equal(t, started.ID, state.ID)
	assert.Equal(t, c1, state.Base)
	assert.Equal(t, c3, state.Ours)
	assert.Equal(t, c2, state.Theirs)

	rows := conflicts(t, b1)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].Conflict())

	require.NoError(t, b1.MarkResolved())
	require.NoError(t, s.Close())

	s = openStore(t, cfg)
	b1 = branch(t, s, "b1")
	assert.Equal(t, StateResolved, b1.State())
	merged := commit(t, b1, "merge")
	assert.Equal(t, StateNormal, b1.State())

	history, err := s.Commits(merged)
	require.NoError(t, err)
	assert.Equal(t, []string{c3, c2}, history[0].Parents)
}

func TestStartMergeRefusesDirtyCheckout(t *testing.T) {
	s := openStore(t, testConfig(t))
	b1, _, _, _, _ := diverged(t, s)

	execOn(t, b1, "INSERT INTO rows (id, val) VALUES (9, 'uncommitted')")
	_, err := b1.StartMerge(context.Background(), "b2")
	assert.ErrorIs(t, err, core.ErrDirtyCheckout)

	assert.Equal(t, StateNormal, b1.State())
	assert.NoFileExists(t, filepath.Join(b1.Dir(), filepath.FromSlash(mergeStateFile)))
	assert.NoDirExists(t, filepath.Join(b1.Dir(), filepath.FromSlash(viewsDir)))
	assert.Equal(t, "uncommitted", rowValue(t, b1, 9))
}

func TestStartMergeErrors(t *testing.T) {
	s := openStore(t, testConfig(t))
	ctx := context.Background()
	b1, _, _, _, _ := diverged(t, s)

	_, err := b1.StartMerge(ctx, "nope")
	assert.ErrorIs(t, err, core.ErrReferenceNotFound)

	_, err = branch(t, s, "master").StartMerge(ctx, "b1")
	assert.ErrorIs(t, err, core.ErrNoCommonAncestor)

	// a second root commit shares nothing with b1
	other, err := s.CreateBranch(ctx, "other", "master")
	require.NoError(t, err)
	execOn(t, other, "INSERT INTO rows (id, val) VALUES (1, 'x')")
	commit(t, other, "root")
	_, err = b1.StartMerge(ctx, "other")
	assert.ErrorIs(t, err, core.ErrNoCommonAncestor)
	assert.Equal(t, StateNormal, b1.State())

	_, err = b1.StartMerge(ctx, "b2")
	require.NoError(t, err)
	_, err = b1.StartMerge(ctx, "b2")
	assert.ErrorIs(t, err, core.ErrMergeInProgress)
}

func TestMarkResolvedRequiresMerge(t *testing.T) {
	s := openStore(t, testConfig(t))
	b1, _, _, _, _ := diverged(t, s)

	assert.ErrorIs(t, b1.MarkResolved(), core.ErrNotMerging)

	_, err := b1.StartMerge(context.Background(), "b2")
	require.NoError(t, err)
	require.NoError(t, b1.MarkResolved())
	require.NoError(t, b1.MarkResolved())
	assert.Equal(t, StateResolved, b1.State())
}

func TestRevertAbandonsMerge(t *testing.T) {
	s := openStore(t, testConfig(t))
	ctx := context.Background()
	b1, _, _, _, c3 := diverged(t, s)

	_, err := b1.StartMerge(ctx, "b2")
	require.NoError(t, err)
	execOn(t, b1, "UPDATE rows SET val = 'half done' WHERE id = 1")

	require.NoError(t, b1.Revert(ctx))
	assert.Equal(t, StateNormal, b1.State())
	assert.Equal(t, c3, b1.Head())
	assert.Equal(t, "c", rowValue(t, b1, 1))
	assert.NoFileExists(t, filepath.Join(b1.Dir(), filepath.FromSlash(mergeStateFile)))
	assert.NoDirExists(t, filepath.Join(b1.Dir(), filepath.FromSlash(viewsDir)))
}

func TestUnknownMergeStateVersion(t *testing.T) {
	cfg := testConfig(t)
	s := openStore(t, cfg)
	b1, _, _, _, _ := diverged(t, s)
	marker := filepath.Join(b1.Dir(), filepath.FromSlash(mergeStateFile))
	require.NoError(t, s.Close())

	require.NoError(t, os.WriteFile(marker, []byte(`{"version": 7}`), 0644))

	s = openStore(t, cfg)
	_, err := s.Checkout(context.Background(), core.BranchLocator("repo", "b1"))
	assert.ErrorIs(t, err, core.ErrStorageIO)
}

func TestCommittedMergeMarkerIsDiscarded(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()
	s := openStore(t, cfg)
	b1, _, _, _, _ := diverged(t, s)

	_, err := b1.StartMerge(ctx, "b2")
	require.NoError(t, err)
	require.NoError(t, b1.MarkResolved())
	marker := filepath.Join(b1.Dir(), filepath.FromSlash(mergeStateFile))
	stale, err := os.ReadFile(marker)
	require.NoError(t, err)
	merged := commit(t, b1, "merge")
	require.NoError(t, s.Close())

	// a marker left behind by a commit that moved the ref
	require.NoError(t, os.WriteFile(marker, stale, 0644))

	s = openStore(t, cfg)
	b1 = branch(t, s, "b1")
	assert.Equal(t, StateNormal, b1.State())
	assert.Equal(t, merged, b1.Head())
	assert.NoFileExists(t, marker)
}
