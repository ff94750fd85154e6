package ps

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/go-git/go-git/v6/plumbing"
	"github.com/go-git/go-git/v6/plumbing/object"
	"github.com/nickyhof/BranchDB/core"
)

// CommitInfo describes one commit of the history.
type CommitInfo struct {
	ID      string
	Parents []string
	Author  core.Identity
	When    time.Time
	Message string
}

func (info CommitInfo) String() string {
	return fmt.Sprintf("CommitInfo{ID: %s, When: %s, Author: %s}", info.ID, info.When, info.Author)
}

func newCommitInfo(c *object.Commit) CommitInfo {
	parents := make([]string, len(c.ParentHashes))
	for i, p := range c.ParentHashes {
		parents[i] = p.String()
	}
	return CommitInfo{
		ID:      c.Hash.String(),
		Parents: parents,
		Author:  core.Identity{Name: c.Author.Name, Email: c.Author.Email},
		When:    c.Committer.When,
		Message: c.Message,
	}
}

// Commits walks the history reachable from every leaf and returns each
// commit once, newest first. Without leaves every local branch is used.
func (s *Store) Commits(leaves ...string) ([]CommitInfo, error) {
	if len(leaves) == 0 {
		branches, err := s.ListBranches()
		if err != nil {
			return nil, err
		}
		for _, b := range branches {
			if _, err := s.resolve(b); err == nil {
				leaves = append(leaves, b)
			}
		}
	}

	starts := make([]*object.Commit, 0, len(leaves))
	for _, leaf := range leaves {
		hash, err := s.resolve(leaf)
		if err != nil {
			return nil, err
		}
		c, err := s.repo.CommitObject(hash)
		if err != nil {
			return nil, s.commitError(hash, err)
		}
		starts = append(starts, c)
	}

	seen := make(map[plumbing.Hash]bool)
	var out []CommitInfo
	for _, start := range starts {
		iter := object.NewCommitIterCTime(start, seen, nil)
		err := iter.ForEach(func(c *object.Commit) error {
			seen[c.Hash] = true
			out = append(out, newCommitInfo(c))
			return nil
		})
		iter.Close()
		if err != nil {
			return nil, core.Storage("walk history", err)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].When.After(out[j].When)
	})
	return out, nil
}

// MergeBase returns the best common ancestor of all commits. Each argument
// may be anything Resolve accepts. At least two are required.
func (s *Store) MergeBase(ctx context.Context, commits ...string) (string, error) {
	if len(commits) < 2 {
		return "", fmt.Errorf("%w: merge base needs at least two commits, got %d", core.ErrInvalidArgument, len(commits))
	}

	hashes := make([]plumbing.Hash, len(commits))
	for i, ref := range commits {
		hash, err := s.resolve(ref)
		if err != nil {
			return "", err
		}
		hashes[i] = hash
	}

	base, err := s.mergeBase(hashes[0], hashes[1:]...)
	if err != nil {
		return "", err
	}
	return base.String(), nil
}

// mergeBase folds the pairwise merge base over others. The first best
// ancestor go-git reports wins each round.
func (s *Store) mergeBase(first plumbing.Hash, others ...plumbing.Hash) (plumbing.Hash, error) {
	current, err := s.repo.CommitObject(first)
	if err != nil {
		return plumbing.ZeroHash, s.commitError(first, err)
	}

	for _, hash := range others {
		other, err := s.repo.CommitObject(hash)
		if err != nil {
			return plumbing.ZeroHash, s.commitError(hash, err)
		}
		bases, err := current.MergeBase(other)
		if err != nil && !errors.Is(err, io.EOF) {
			return plumbing.ZeroHash, core.Storage("merge base", err)
		}
		if len(bases) == 0 {
			return plumbing.ZeroHash, fmt.Errorf("%s and %s: %w", current.Hash, hash, core.ErrNoCommonAncestor)
		}
		current = bases[0]
	}
	return current.Hash, nil
}
