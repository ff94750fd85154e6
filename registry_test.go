package BranchDB

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/nickyhof/BranchDB/core"
	"github.com/nickyhof/BranchDB/op"
	"github.com/nickyhof/BranchDB/ps"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const usersSchema = "CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT);"

func newRegistry(t *testing.T, root string) *Registry {
	t.Helper()
	reg, err := NewRegistry(core.Config{Root: root},
		ps.WithSchema(ps.StaticSchema(usersSchema)),
		ps.WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	t.Cleanup(func() { reg.Close() })
	return reg
}

func TestRegistryOpen(t *testing.T) {
	reg := newRegistry(t, t.TempDir())

	a, err := reg.Open("accounts")
	require.NoError(t, err)
	again, err := reg.Open("accounts")
	require.NoError(t, err)
	assert.Same(t, a, again)

	_, err = reg.Open("../escape")
	assert.ErrorIs(t, err, core.ErrInvalidArgument)

	assert.Equal(t, core.DefaultInitialBranch, reg.Config().InitialBranch)
}

func TestRegistryNames(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "archived"), 0755))
	reg := newRegistry(t, root)

	_, err := reg.Open("orders")
	require.NoError(t, err)
	_, err = reg.Open("accounts")
	require.NoError(t, err)

	names, err := reg.Names()
	require.NoError(t, err)
	assert.Equal(t, []string{"accounts", "archived", "orders"}, names)
}

func TestRegistryClose(t *testing.T) {
	reg := newRegistry(t, t.TempDir())
	_, err := reg.Open("accounts")
	require.NoError(t, err)

	require.NoError(t, reg.Close())
	require.NoError(t, reg.Close())
	_, err = reg.Open("accounts")
	assert.ErrorIs(t, err, core.ErrInvalidArgument)
}

func TestNewRegistryRequiresRoot(t *testing.T) {
	_, err := NewRegistry(core.Config{})
	assert.ErrorIs(t, err, core.ErrInvalidArgument)
}

// TestMergeAcrossRestart drives two diverging branches through a merge that
// is interrupted by a registry restart.
func TestMergeAcrossRestart(t *testing.T) {
	root := t.TempDir()
	ctx := context.Background()
	identity := core.Identity{Name: "Test", Email: "test@test.com"}

	reg := newRegistry(t, root)
	store, err := reg.Open("accounts")
	require.NoError(t, err)

	b1, err := store.CreateBranch(ctx, "b1", "master")
	require.NoError(t, err)
	exec := func(co *ps.Checkout, stmt string) {
		require.NoError(t, co.WithWrite(ctx, func(h *ps.Handle) error {
			_, err := h.ExecContext(ctx, stmt)
			return err
		}))
	}
	exec(b1, "INSERT INTO users (id, name) VALUES (1, 'alice'), (2, 'bob')")
	c1, err := b1.Commit(ctx, identity, "C1")
	require.NoError(t, err)

	b2, err := store.CreateBranch(ctx, "b2", "b1")
	require.NoError(t, err)
	exec(b2, "UPDATE users SET name = 'bobby' WHERE id = 2")
	exec(b2, "INSERT INTO users (id, name) VALUES (3, 'carol')")
	c2, err := b2.Commit(ctx, identity, "C2")
	require.NoError(t, err)

	exec(b1, "UPDATE users SET name = 'alicia' WHERE id = 1")
	exec(b1, "UPDATE users SET name = 'robert' WHERE id = 2")
	c3, err := b1.Commit(ctx, identity, "C3")
	require.NoError(t, err)

	_, err = b1.StartMerge(ctx, "b2")
	require.NoError(t, err)
	require.NoError(t, reg.Close())

	reg = newRegistry(t, root)
	store, err = reg.Open("accounts")
	require.NoError(t, err)
	b1, err = store.Checkout(ctx, core.BranchLocator("accounts", "b1"))
	require.NoError(t, err)
	state, ok := b1.MergeState()
	require.True(t, ok)
	assert.Equal(t, c1, state.Base)

	var summary op.MergeSummary
	require.NoError(t, b1.WithWrite(ctx, func(h *ps.Handle) error {
		var err error
		summary, err = op.AutoMerge(ctx, h, "users")
		if err != nil {
			return err
		}
		for _, conflict := range summary.Conflicts {
			if err := op.ApplyResolution(ctx, h, "users", conflict.Key, []any{"bob"}); err != nil {
				return err
			}
		}
		return nil
	}))
	assert.Equal(t, 1, summary.Applied)
	require.Len(t, summary.Conflicts, 1)
	assert.Equal(t, []any{int64(2)}, summary.Conflicts[0].Key)

	require.NoError(t, b1.MarkResolved())
	merged, err := b1.Commit(ctx, identity, "merge b2")
	require.NoError(t, err)

	history, err := store.Commits(merged)
	require.NoError(t, err)
	assert.Equal(t, []string{c3, c2}, history[0].Parents)

	names := map[int64]string{}
	require.NoError(t, b1.WithRead(ctx, func(h *ps.Handle) error {
		rows, err := h.QueryContext(ctx, "SELECT id, name FROM users")
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var id int64
			var name string
			if err := rows.Scan(&id, &name); err != nil {
				return err
			}
			names[id] = name
		}
		return rows.Err()
	}))
	assert.Equal(t, map[int64]string{1: "alicia", 2: "bob", 3: "carol"}, names)
}
