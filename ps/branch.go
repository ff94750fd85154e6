package ps

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-git/go-git/v6/plumbing"
	"github.com/nickyhof/BranchDB/core"
	"go.uber.org/zap"
)

// validBranchName applies the git ref-name rules that matter for branch
// names.
func validBranchName(name string) error {
	bad := name == "" ||
		strings.HasPrefix(name, "/") || strings.HasSuffix(name, "/") ||
		strings.HasPrefix(name, "-") || strings.HasSuffix(name, ".lock") ||
		strings.Contains(name, "..") || strings.Contains(name, "//") ||
		strings.Contains(name, "@{") ||
		strings.ContainsAny(name, " ~^:?*[\\\x00\x7f")
	if bad {
		return fmt.Errorf("%w: invalid branch name %q", core.ErrInvalidArgument, name)
	}
	return nil
}

func parseHash(s string) (plumbing.Hash, bool) {
	if len(s) != 40 {
		return plumbing.ZeroHash, false
	}
	if _, err := hex.DecodeString(s); err != nil {
		return plumbing.ZeroHash, false
	}
	return plumbing.NewHash(s), true
}

// Resolve returns the commit id ref points at. ref is a local branch name, a
// remote/branch name or a full commit id, tried in that order.
func (s *Store) Resolve(ref string) (string, error) {
	hash, err := s.resolve(ref)
	if err != nil {
		return "", err
	}
	return hash.String(), nil
}

func (s *Store) resolve(ref string) (plumbing.Hash, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resolveLocked(ref)
}

func (s *Store) resolveLocked(ref string) (plumbing.Hash, error) {
	if ref == "" {
		return plumbing.ZeroHash, fmt.Errorf("%w: empty reference", core.ErrReferenceNotFound)
	}

	candidates := []plumbing.ReferenceName{plumbing.NewBranchReferenceName(ref)}
	if remote, branch, ok := strings.Cut(ref, "/"); ok {
		candidates = append(candidates, plumbing.NewRemoteReferenceName(remote, branch))
	}
	for _, name := range candidates {
		r, err := s.repo.Storer.Reference(name)
		if err == nil {
			return r.Hash(), nil
		}
		if !errors.Is(err, plumbing.ErrReferenceNotFound) {
			return plumbing.ZeroHash, core.Storage("read "+name.String(), err)
		}
	}

	if hash, ok := parseHash(ref); ok {
		if _, err := s.repo.CommitObject(hash); err != nil {
			return plumbing.ZeroHash, s.commitError(hash, err)
		}
		return hash, nil
	}
	return plumbing.ZeroHash, fmt.Errorf("%q: %w", ref, core.ErrReferenceNotFound)
}

// resolveLocatorLocked resolves a checkout locator strictly by its kind.
func (s *Store) resolveLocatorLocked(loc core.Locator) (plumbing.Hash, error) {
	var name plumbing.ReferenceName
	switch loc.Kind {
	case core.LocalBranch:
		name = plumbing.NewBranchReferenceName(loc.Reference)
	case core.RemoteBranch:
		name = plumbing.NewRemoteReferenceName(loc.RemoteName(), loc.BranchName())
	case core.Commit:
		hash, ok := parseHash(loc.Reference)
		if !ok {
			return plumbing.ZeroHash, fmt.Errorf("%w: %q is not a commit id", core.ErrMalformedLocator, loc.Reference)
		}
		if _, err := s.repo.CommitObject(hash); err != nil {
			return plumbing.ZeroHash, s.commitError(hash, err)
		}
		return hash, nil
	default:
		return plumbing.ZeroHash, fmt.Errorf("%w: %s cannot be checked out", core.ErrInvalidArgument, loc)
	}

	ref, err := s.repo.Storer.Reference(name)
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return plumbing.ZeroHash, fmt.Errorf("%s: %w", loc, core.ErrReferenceNotFound)
	}
	if err != nil {
		return plumbing.ZeroHash, core.Storage("read "+name.String(), err)
	}
	return ref.Hash(), nil
}

func (s *Store) hasBranchRefLocked(name string) (bool, error) {
	_, err := s.repo.Storer.Reference(plumbing.NewBranchReferenceName(name))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, plumbing.ErrReferenceNotFound):
		return false, nil
	default:
		return false, core.Storage("read branch "+name, err)
	}
}

func (s *Store) hasCheckoutLocked(loc core.Locator) bool {
	if _, ok := s.checkouts[loc.String()]; ok {
		return true
	}
	_, err := os.Stat(s.checkoutDir(loc))
	return err == nil
}

// branchStateLocked reports whether name has a ref and whether it exists at
// all. A branch without a ref exists while its unborn checkout does.
func (s *Store) branchStateLocked(name string) (hasRef, exists bool, err error) {
	hasRef, err = s.hasBranchRefLocked(name)
	if err != nil {
		return false, false, err
	}
	return hasRef, hasRef || s.hasCheckoutLocked(core.BranchLocator(s.name, name)), nil
}

// CreateBranch creates branch name at baseRef (a commit id, a local branch
// or a remote/branch) and materializes its checkout. The ref is written
// first and removed again when the checkout cannot be materialized.
//
// Branching from a branch without commits copies its working directory; the
// new branch has no commits either.
func (s *Store) CreateBranch(ctx context.Context, name, baseRef string) (*Checkout, error) {
	if err := validBranchName(name); err != nil {
		return nil, err
	}
	loc := core.BranchLocator(s.name, name)

	s.mu.Lock()
	if err := s.ensureOpen(); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	_, exists, err := s.branchStateLocked(name)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if exists {
		s.mu.Unlock()
		return nil, fmt.Errorf("branch %q: %w", name, core.ErrReferenceExists)
	}

	base, err := s.resolveLocked(baseRef)
	if errors.Is(err, core.ErrReferenceNotFound) && s.isUnbornLocked(baseRef) {
		src, err := s.checkoutLocked(ctx, core.BranchLocator(s.name, baseRef))
		s.mu.Unlock()
		if err != nil {
			return nil, err
		}
		return s.branchFromUnborn(ctx, src, loc)
	}
	defer s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	refName := plumbing.NewBranchReferenceName(name)
	if err := s.compareAndSwapRefLocked(refName, base, plumbing.ZeroHash); err != nil {
		return nil, err
	}

	co, err := s.checkoutLocked(ctx, loc)
	if err != nil {
		if rmErr := s.repo.Storer.RemoveReference(refName); rmErr != nil {
			s.logger.Error("failed to roll back branch ref", zap.String("branch", name), zap.Error(rmErr))
		}
		return nil, err
	}

	s.logger.Info("created branch", zap.String("branch", name), zap.String("base", base.String()))
	return co, nil
}

func (s *Store) isUnbornLocked(name string) bool {
	if validBranchName(name) != nil {
		return false
	}
	hasRef, err := s.hasBranchRefLocked(name)
	if err != nil || hasRef {
		return false
	}
	return name == s.cfg.InitialBranch || s.hasCheckoutLocked(core.BranchLocator(s.name, name))
}

func (s *Store) branchFromUnborn(ctx context.Context, src *Checkout, loc core.Locator) (*Checkout, error) {
	staged, fs, err := s.stage()
	if err != nil {
		return nil, err
	}
	cleanup := func() { os.RemoveAll(staged) }

	err = src.exclusive(ctx, func() error {
		if err := src.flushLocked(ctx); err != nil {
			return err
		}
		if err := s.copyWorkingDir(src.fs, fs); err != nil {
			return core.Storage("copy "+src.loc.String(), err)
		}
		return nil
	})
	if err == nil {
		err = writeHead(fs, plumbing.ZeroHash)
	}
	if err != nil {
		cleanup()
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureOpen(); err != nil {
		cleanup()
		return nil, err
	}
	if _, exists, err := s.branchStateLocked(loc.Reference); err != nil || exists {
		cleanup()
		if err == nil {
			err = fmt.Errorf("branch %q: %w", loc.Reference, core.ErrReferenceExists)
		}
		return nil, err
	}
	if err := install(staged, s.checkoutDir(loc)); err != nil {
		cleanup()
		return nil, err
	}

	co, err := s.checkoutLocked(ctx, loc)
	if err != nil {
		return nil, err
	}
	s.logger.Info("created unborn branch", zap.String("branch", loc.Reference), zap.String("from", src.loc.Reference))
	return co, nil
}

// DeleteBranch deletes the branch checkout and then removes its ref. When the
// checkout cannot be deleted the ref is left alone.
func (s *Store) DeleteBranch(ctx context.Context, name string) error {
	loc := core.BranchLocator(s.name, name)
	refName := plumbing.NewBranchReferenceName(name)

	s.mu.Lock()
	if err := s.ensureOpen(); err != nil {
		s.mu.Unlock()
		return err
	}
	hasRef, err := s.hasBranchRefLocked(name)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	var co *Checkout
	if s.hasCheckoutLocked(loc) {
		co, err = s.checkoutLocked(ctx, loc)
		if err != nil {
			s.mu.Unlock()
			return err
		}
	}
	s.mu.Unlock()

	if !hasRef && co == nil {
		return fmt.Errorf("branch %q: %w", name, core.ErrReferenceNotFound)
	}
	if co != nil {
		if err := co.Delete(ctx); err != nil {
			return err
		}
	}
	if hasRef {
		s.mu.Lock()
		err := s.repo.Storer.RemoveReference(refName)
		s.mu.Unlock()
		if err != nil {
			return core.Storage("remove "+refName.String(), err)
		}
	}

	s.logger.Info("deleted branch", zap.String("branch", name))
	return nil
}

// ListBranches returns the local branches, including unborn ones, in name
// order.
func (s *Store) ListBranches() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool)
	refs, err := s.repo.Branches()
	if err != nil {
		return nil, core.Storage("list branches", err)
	}
	err = refs.ForEach(func(ref *plumbing.Reference) error {
		seen[ref.Name().Short()] = true
		return nil
	})
	if err != nil {
		return nil, core.Storage("list branches", err)
	}

	entries, err := os.ReadDir(filepath.Join(s.dir, checkoutsDir, core.LocalBranch.Token()))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, core.Storage("list branches", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if name, err := url.PathUnescape(entry.Name()); err == nil {
			seen[name] = true
		}
	}

	branches := make([]string, 0, len(seen))
	for name := range seen {
		branches = append(branches, name)
	}
	sort.Strings(branches)
	return branches, nil
}
