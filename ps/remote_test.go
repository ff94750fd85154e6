package ps

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/go-git/go-git/v6"
	"github.com/go-git/go-git/v6/config"
	"github.com/go-git/go-git/v6/plumbing"
	"github.com/nickyhof/BranchDB/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// fakeTransport records ref specs and serves fetches from a fixed set of
// upstream branches whose commits already exist locally.
type fakeTransport struct {
	upstream map[string]plumbing.Hash
	fetched  []config.RefSpec
	pushed   []config.RefSpec
	err      error
}

func (f *fakeTransport) Fetch(_ context.Context, repo *git.Repository, remote string, specs []config.RefSpec, _ io.Writer) error {
	if f.err != nil {
		return f.err
	}
	f.fetched = append(f.fetched, specs...)
	for name, hash := range f.upstream {
		ref := plumbing.NewHashReference(plumbing.NewRemoteReferenceName(remote, name), hash)
		if err := repo.Storer.SetReference(ref); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeTransport) Push(_ context.Context, _ *git.Repository, _ string, specs []config.RefSpec, _ io.Writer) error {
	if f.err != nil {
		return f.err
	}
	f.pushed = append(f.pushed, specs...)
	return nil
}

func openRemoteStore(t *testing.T) (*Store, *fakeTransport) {
	t.Helper()
	transport := &fakeTransport{}
	s, err := Open(testConfig(t), "repo",
		WithSchema(StaticSchema(rowsSchema)),
		WithLogger(zaptest.NewLogger(t)),
		WithTransport(transport))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, transport
}

func TestRemotes(t *testing.T) {
	s, _ := openRemoteStore(t)

	require.NoError(t, s.AddRemote("upstream", "https://example.com/u.git"))
	require.NoError(t, s.AddRemote("origin", "https://example.com/o.git"))
	assert.ErrorIs(t, s.AddRemote("origin", "https://example.com/other.git"), core.ErrReferenceExists)
	assert.ErrorIs(t, s.AddRemote("bad/name", "https://example.com"), core.ErrInvalidArgument)
	assert.ErrorIs(t, s.AddRemote("empty", ""), core.ErrInvalidArgument)

	remotes, err := s.ListRemotes()
	require.NoError(t, err)
	assert.Equal(t, []Remote{
		{Name: "origin", URLs: []string{"https://example.com/o.git"}},
		{Name: "upstream", URLs: []string{"https://example.com/u.git"}},
	}, remotes)

	require.NoError(t, s.RemoveRemote("upstream"))
	assert.ErrorIs(t, s.RemoveRemote("upstream"), core.ErrReferenceNotFound)
	remotes, err = s.ListRemotes()
	require.NoError(t, err)
	assert.Len(t, remotes, 1)
}

func TestPullCreatesTrackingRefs(t *testing.T) {
	s, transport := openRemoteStore(t)
	ctx := context.Background()
	_, _, _, c2, _ := diverged(t, s)

	require.NoError(t, s.AddRemote("origin", "https://example.com/o.git"))
	transport.upstream = map[string]plumbing.Hash{"feature": plumbing.NewHash(c2)}
	require.NoError(t, s.PullFromRemote(ctx, "origin", nil))
	assert.Equal(t, []config.RefSpec{"+refs/heads/*:refs/remotes/origin/*"}, transport.fetched)

	got, err := s.Resolve("origin/feature")
	require.NoError(t, err)
	assert.Equal(t, c2, got)

	// local branches are left alone
	got, err = s.Resolve("b2")
	require.NoError(t, err)
	assert.Equal(t, c2, got)

	tracking, err := s.Checkout(ctx, core.RemoteBranchLocator("repo", "origin", "feature"))
	require.NoError(t, err)
	assert.Equal(t, "b", rowValue(t, tracking, 1))
	_, err = tracking.AcquireWrite(ctx)
	assert.ErrorIs(t, err, core.ErrImmutableReference)

	local, err := s.CreateBranch(ctx, "feature", "origin/feature")
	require.NoError(t, err)
	assert.Equal(t, c2, local.Head())

	require.NoError(t, s.RemoveRemote("origin"))
	_, err = s.Resolve("origin/feature")
	assert.ErrorIs(t, err, core.ErrReferenceNotFound)
}

func TestPush(t *testing.T) {
	s, transport := openRemoteStore(t)
	ctx := context.Background()
	diverged(t, s)
	require.NoError(t, s.AddRemote("origin", "https://example.com/o.git"))

	require.NoError(t, s.PushToRemote(ctx, "origin", nil))
	assert.ElementsMatch(t, []config.RefSpec{
		"refs/heads/b1:refs/heads/b1",
		"refs/heads/b2:refs/heads/b2",
	}, transport.pushed)

	transport.pushed = nil
	require.NoError(t, s.PushToRemoteExplicit(ctx, "origin", "b1", "release/1"))
	assert.Equal(t, []config.RefSpec{"refs/heads/b1:refs/heads/release/1"}, transport.pushed)

	assert.ErrorIs(t, s.PushToRemoteExplicit(ctx, "origin", "master", "master"), core.ErrReferenceNotFound)
	assert.ErrorIs(t, s.PushToRemoteExplicit(ctx, "origin", "b1", "a..b"), core.ErrInvalidArgument)
	assert.ErrorIs(t, s.PushToRemoteExplicit(ctx, "nowhere", "b1", "b1"), core.ErrReferenceNotFound)
	assert.ErrorIs(t, s.PushToRemote(ctx, "nowhere", nil), core.ErrReferenceNotFound)
	assert.ErrorIs(t, s.PullFromRemote(ctx, "nowhere", nil), core.ErrReferenceNotFound)
}

func TestTransportFailureIsStorageError(t *testing.T) {
	s, transport := openRemoteStore(t)
	require.NoError(t, s.AddRemote("origin", "https://example.com/o.git"))

	transport.err = errors.New("connection refused")
	err := s.PullFromRemote(context.Background(), "origin", nil)
	assert.ErrorIs(t, err, core.ErrStorageIO)
	assert.ErrorContains(t, err, "connection refused")
}
