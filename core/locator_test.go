package core

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLocator(t *testing.T) {
	tests := []struct {
		in   string
		want Locator
	}{
		{"/inv", RepositoryLocator("inv")},
		{"inv", RepositoryLocator("inv")},
		{"/inv/branches/master", BranchLocator("inv", "master")},
		{"/inv/commits/abc123", CommitLocator("inv", "abc123")},
		{"/inv/remote/origin", RemoteLocator("inv", "origin")},
		{"/inv/remote-branches/origin/master", RemoteBranchLocator("inv", "origin", "master")},
		{"/inv/branches/master/items", BranchLocator("inv", "master").WithEntity("items", "")},
		{"/inv/branches/master/items/42", BranchLocator("inv", "master").WithEntity("items", "42")},
		{"/inv/remote-branches/origin/dev/items/7", RemoteBranchLocator("inv", "origin", "dev").WithEntity("items", "7")},
		{"/inv/branches/feature%2Fx", BranchLocator("inv", "feature/x")},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLocator(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseLocatorMalformed(t *testing.T) {
	for _, in := range []string{
		"",
		"/",
		"/inv/",
		"/inv//master",
		"/inv/tags/v1",
		"/inv/branches",
		"/inv/remote-branches/origin",
		"/inv/branches/master/items/42/extra",
		"/inv/branches/bad%zz",
		"/inv/remote-branches/a%2Fb/master",
	} {
		t.Run(in, func(t *testing.T) {
			_, err := ParseLocator(in)
			assert.True(t, errors.Is(err, ErrMalformedLocator), "got %v", err)
		})
	}
}

func TestLocatorString(t *testing.T) {
	assert.Equal(t, "/inv", RepositoryLocator("inv").String())
	assert.Equal(t, "/inv/branches/master/items/1", BranchLocator("inv", "master").WithEntity("items", "1").String())
	assert.Equal(t, "/inv/remote-branches/origin/feature%2Fa", RemoteBranchLocator("inv", "origin", "feature/a").String())
}

func TestLocatorRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	alphabet := []rune("abcXYZ019-_./% é")
	name := func() string {
		n := 1 + rng.Intn(8)
		out := make([]rune, n)
		for i := range out {
			out[i] = alphabet[rng.Intn(len(alphabet))]
		}
		return string(out)
	}
	remote := func() string {
		for {
			if s := name(); !containsSlash(s) {
				return s
			}
		}
	}

	for i := 0; i < 500; i++ {
		var loc Locator
		switch rng.Intn(5) {
		case 0:
			loc = RepositoryLocator(name())
		case 1:
			loc = BranchLocator(name(), name())
		case 2:
			loc = CommitLocator(name(), name())
		case 3:
			loc = RemoteLocator(name(), name())
		case 4:
			loc = RemoteBranchLocator(name(), remote(), name())
		}
		if loc.Kind != Repository {
			switch rng.Intn(3) {
			case 1:
				loc = loc.WithEntity(name(), "")
			case 2:
				loc = loc.WithEntity(name(), name())
			}
		}
		require.NoError(t, loc.Validate())

		parsed, err := ParseLocator(loc.String())
		require.NoError(t, err, loc.String())
		require.Equal(t, loc, parsed, loc.String())
	}
}

func containsSlash(s string) bool {
	for _, r := range s {
		if r == '/' {
			return true
		}
	}
	return false
}

func TestLocatorValidate(t *testing.T) {
	assert.ErrorIs(t, Locator{Kind: LocalBranch, Reference: "x"}.Validate(), ErrMalformedLocator)
	assert.ErrorIs(t, Locator{Repository: "r", Kind: LocalBranch}.Validate(), ErrMalformedLocator)
	assert.ErrorIs(t, BranchLocator("r", "b").WithEntity("", "1").Validate(), ErrMalformedLocator)
	assert.ErrorIs(t, RepositoryLocator("r").WithEntity("t", "").Validate(), ErrMalformedLocator)
	assert.ErrorIs(t, Locator{Repository: "r", Kind: RemoteBranch, Reference: "origin"}.Validate(), ErrMalformedLocator)
	assert.NoError(t, RemoteBranchLocator("r", "origin", "a/b").Validate())
}

func TestStripToReference(t *testing.T) {
	loc := BranchLocator("inv", "dev").WithEntity("items", "9")
	stripped := loc.StripToReference()
	assert.Equal(t, "/inv/branches/dev", stripped.String())
	assert.Equal(t, "items", loc.Entity, "original is unchanged")
}

func TestReferenceKindPredicates(t *testing.T) {
	assert.False(t, Repository.IsCheckout())
	assert.True(t, LocalBranch.IsCheckout())
	assert.True(t, Commit.IsCheckout())
	assert.False(t, Remote.IsCheckout())
	assert.True(t, RemoteBranch.IsCheckout())

	assert.True(t, LocalBranch.IsMutable())
	for _, kind := range []ReferenceKind{Repository, Commit, Remote, RemoteBranch} {
		assert.False(t, kind.IsMutable(), kind.String())
	}
}
