package ps

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-billy/v6"
	"github.com/go-git/go-billy/v6/osfs"
	"github.com/go-git/go-billy/v6/util"
	"github.com/go-git/go-git/v6/plumbing"
	"github.com/google/uuid"
	"github.com/nickyhof/BranchDB/core"
	"github.com/nickyhof/BranchDB/db"
	"go.uber.org/zap"
)

const headFile = controlDir + "/HEAD"

// readHead returns the commit recorded in the control directory. A missing
// or empty file means the checkout has no commit yet.
func readHead(fs billy.Filesystem) (plumbing.Hash, error) {
	data, err := util.ReadFile(fs, headFile)
	if errors.Is(err, os.ErrNotExist) {
		return plumbing.ZeroHash, nil
	}
	if err != nil {
		return plumbing.ZeroHash, core.Storage("read checkout head", err)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return plumbing.ZeroHash, nil
	}
	hash, ok := parseHash(text)
	if !ok {
		return plumbing.ZeroHash, core.Storage("read checkout head", fmt.Errorf("malformed commit id %q", text))
	}
	return hash, nil
}

func writeHead(fs billy.Filesystem, hash plumbing.Hash) error {
	content := ""
	if hash != plumbing.ZeroHash {
		content = hash.String() + "\n"
	}
	if err := util.WriteFile(fs, headFile, []byte(content), 0644); err != nil {
		return core.Storage("write checkout head", err)
	}
	return nil
}

// checkoutDir is <repo>/checkouts/<kind>/<escaped reference>.
func (s *Store) checkoutDir(loc core.Locator) string {
	return filepath.Join(s.dir, checkoutsDir, loc.Kind.Token(), url.PathEscape(loc.Reference))
}

// stage creates an empty directory next to the checkouts that can be moved
// into place with a single rename.
func (s *Store) stage() (string, billy.Filesystem, error) {
	dir := filepath.Join(s.dir, checkoutsDir, stagingDir, uuid.NewString())
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", nil, core.Storage("create staging directory", err)
	}
	return dir, osfs.New(dir), nil
}

func install(staged, dir string) error {
	if err := os.MkdirAll(filepath.Dir(dir), 0755); err != nil {
		return core.Storage("install checkout", err)
	}
	if err := os.Rename(staged, dir); err != nil {
		return core.Storage("install checkout", err)
	}
	return nil
}

// initializeDB creates the engine file at path and runs the schema script
// on it.
func (s *Store) initializeDB(ctx context.Context, path string) error {
	conn, err := s.dialect.Open(path, db.OpenOptions{})
	if err != nil {
		return core.Storage("create database", err)
	}
	defer conn.Close()

	if err := conn.PingContext(ctx); err != nil {
		return core.Storage("create database", err)
	}
	if s.schema != nil {
		if ddl := strings.TrimSpace(s.schema.DDL()); ddl != "" {
			if _, err := conn.ExecContext(ctx, ddl); err != nil {
				return core.Storage("apply schema", err)
			}
		}
	}
	if err := s.dialect.Flush(ctx, conn); err != nil {
		return core.Storage("create database", err)
	}
	return nil
}

// ensureEngineFile creates an empty database at path when a commit carried
// none, so that it can always be attached.
func (s *Store) ensureEngineFile(ctx context.Context, path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return core.Storage("stat "+path, err)
	}

	conn, err := s.dialect.Open(path, db.OpenOptions{})
	if err != nil {
		return core.Storage("create database", err)
	}
	defer conn.Close()
	if err := conn.PingContext(ctx); err != nil {
		return core.Storage("create database", err)
	}
	return nil
}

// copyWorkingDir copies the snapshot-visible files of src into dst.
func (s *Store) copyWorkingDir(src, dst billy.Filesystem) error {
	return util.Walk(src, ".", func(name string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel := filepath.ToSlash(name)
		if rel == "." {
			return nil
		}
		if info.IsDir() {
			if s.ignore.MatchesPath(rel + "/") {
				return filepath.SkipDir
			}
			return dst.MkdirAll(name, info.Mode().Perm())
		}
		if !info.Mode().IsRegular() || s.ignore.MatchesPath(rel) {
			return nil
		}

		in, err := src.Open(name)
		if err != nil {
			return err
		}
		defer in.Close()
		out, err := dst.OpenFile(name, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, info.Mode().Perm())
		if err != nil {
			return err
		}
		if _, err := io.Copy(out, in); err != nil {
			out.Close()
			return err
		}
		return out.Close()
	})
}

// Checkout returns the checkout addressed by loc, materializing it on first
// use. Entity fields of loc are ignored.
func (s *Store) Checkout(ctx context.Context, loc core.Locator) (*Checkout, error) {
	loc = loc.StripToReference()
	if err := loc.Validate(); err != nil {
		return nil, err
	}
	if loc.Repository != s.name {
		return nil, fmt.Errorf("%w: %s is not in repository %s", core.ErrInvalidArgument, loc, s.name)
	}
	if !loc.Kind.IsCheckout() {
		return nil, fmt.Errorf("%w: %s cannot be checked out", core.ErrInvalidArgument, loc)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureOpen(); err != nil {
		return nil, err
	}
	return s.checkoutLocked(ctx, loc)
}

func (s *Store) checkoutLocked(ctx context.Context, loc core.Locator) (*Checkout, error) {
	key := loc.String()
	if co, ok := s.checkouts[key]; ok {
		return co, nil
	}

	dir := s.checkoutDir(loc)
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		if err := s.materializeLocked(ctx, loc, dir); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, core.Storage("stat checkout", err)
	}

	co, err := newCheckout(s, loc, dir)
	if err != nil {
		return nil, err
	}
	s.checkouts[key] = co
	return co, nil
}

// materializeLocked builds the working directory of loc from its commit.
// The initial branch is created unborn from the schema when it has no
// commit yet.
func (s *Store) materializeLocked(ctx context.Context, loc core.Locator, dir string) error {
	hash, err := s.resolveLocatorLocked(loc)
	unborn := errors.Is(err, core.ErrReferenceNotFound) &&
		loc.Kind == core.LocalBranch && loc.Reference == s.cfg.InitialBranch
	if err != nil && !unborn {
		return err
	}

	staged, fs, err := s.stage()
	if err != nil {
		return err
	}
	if unborn {
		err = s.initializeDB(ctx, filepath.Join(staged, s.dialect.FileName()))
	} else {
		err = s.writeTree(hash, fs)
	}
	if err == nil {
		err = writeHead(fs, hash)
	}
	if err == nil {
		err = install(staged, dir)
	}
	if err != nil {
		os.RemoveAll(staged)
		return err
	}

	s.logger.Info("materialized checkout",
		zap.String("checkout", loc.String()),
		zap.String("commit", hash.String()),
		zap.Bool("unborn", unborn))
	return nil
}

// evict drops a deleted checkout from the map.
func (s *Store) evict(co *Checkout) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := co.loc.String()
	if s.checkouts[key] == co {
		delete(s.checkouts, key)
	}
}

// currentHead re-reads the commit loc points at. A local branch without a
// ref yields ZeroHash.
func (s *Store) currentHead(loc core.Locator) (plumbing.Hash, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	hash, err := s.resolveLocatorLocked(loc)
	if errors.Is(err, core.ErrReferenceNotFound) && loc.Kind == core.LocalBranch {
		return plumbing.ZeroHash, nil
	}
	return hash, err
}
