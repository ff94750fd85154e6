package ps

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-git/go-billy/v6"
	"github.com/go-git/go-billy/v6/util"
	"github.com/go-git/go-git/v6/plumbing"
	"github.com/go-git/go-git/v6/plumbing/filemode"
	"github.com/go-git/go-git/v6/plumbing/object"
	"github.com/go-git/go-git/v6/storage"
	"github.com/nickyhof/BranchDB/core"
)

// createBlob streams r into a blob object in the object store.
func (s *Store) createBlob(r io.Reader, size int64) (plumbing.Hash, error) {
	obj := s.repo.Storer.NewEncodedObject()
	obj.SetType(plumbing.BlobObject)
	obj.SetSize(size)

	writer, err := obj.Writer()
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("failed to create blob writer: %w", err)
	}

	if _, err := io.Copy(writer, r); err != nil {
		writer.Close()
		return plumbing.ZeroHash, fmt.Errorf("failed to write blob data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("failed to write blob data: %w", err)
	}

	hash, err := s.repo.Storer.SetEncodedObject(obj)
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("failed to store blob: %w", err)
	}

	return hash, nil
}

// getTreeEntries reads all entries from an existing tree, returning a map of name -> entry
func (s *Store) getTreeEntries(treeHash plumbing.Hash) (map[string]object.TreeEntry, error) {
	entries := make(map[string]object.TreeEntry)

	if treeHash == plumbing.ZeroHash {
		return entries, nil
	}

	tree, err := object.GetTree(s.repo.Storer, treeHash)
	if err != nil {
		return nil, fmt.Errorf("failed to get tree: %w", err)
	}

	for _, entry := range tree.Entries {
		entries[entry.Name] = entry
	}

	return entries, nil
}

// buildTreeFromEntries creates a tree object from a list of entries
func (s *Store) buildTreeFromEntries(entries []object.TreeEntry) (plumbing.Hash, error) {
	// Directories sort as if they had a trailing slash
	sort.Slice(entries, func(i, j int) bool {
		nameI := entries[i].Name
		nameJ := entries[j].Name
		if entries[i].Mode == filemode.Dir {
			nameI += "/"
		}
		if entries[j].Mode == filemode.Dir {
			nameJ += "/"
		}
		return nameI < nameJ
	})

	tree := &object.Tree{Entries: entries}

	obj := s.repo.Storer.NewEncodedObject()
	if err := tree.Encode(obj); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("failed to encode tree: %w", err)
	}

	hash, err := s.repo.Storer.SetEncodedObject(obj)
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("failed to store tree: %w", err)
	}

	return hash, nil
}

// TreeChange is a single file to place into a tree
type TreeChange struct {
	Path     string // slash separated, relative to the checkout root
	BlobHash plumbing.Hash
	Mode     filemode.FileMode
}

// batchUpdateTree applies all changes to rootTreeHash, building every
// intermediate tree once. An empty result is reported as ZeroHash.
func (s *Store) batchUpdateTree(rootTreeHash plumbing.Hash, changes []TreeChange) (plumbing.Hash, error) {
	if len(changes) == 0 {
		return rootTreeHash, nil
	}

	grouped := make(map[string][]TreeChange)
	leafChanges := make([]TreeChange, 0)

	for _, change := range changes {
		dir, rest, nested := strings.Cut(change.Path, "/")
		if !nested {
			leafChanges = append(leafChanges, change)
			continue
		}
		grouped[dir] = append(grouped[dir], TreeChange{
			Path:     rest,
			BlobHash: change.BlobHash,
			Mode:     change.Mode,
		})
	}

	entries, err := s.getTreeEntries(rootTreeHash)
	if err != nil {
		return plumbing.ZeroHash, err
	}

	for _, change := range leafChanges {
		mode := change.Mode
		if mode == filemode.Empty {
			mode = filemode.Regular
		}
		entries[change.Path] = object.TreeEntry{
			Name: change.Path,
			Mode: mode,
			Hash: change.BlobHash,
		}
	}

	for dir, subChanges := range grouped {
		var subTreeHash plumbing.Hash
		if existing, ok := entries[dir]; ok && existing.Mode == filemode.Dir {
			subTreeHash = existing.Hash
		}

		newSubTreeHash, err := s.batchUpdateTree(subTreeHash, subChanges)
		if err != nil {
			return plumbing.ZeroHash, err
		}

		if newSubTreeHash == plumbing.ZeroHash {
			delete(entries, dir)
		} else {
			entries[dir] = object.TreeEntry{
				Name: dir,
				Mode: filemode.Dir,
				Hash: newSubTreeHash,
			}
		}
	}

	if len(entries) == 0 {
		return plumbing.ZeroHash, nil
	}

	entrySlice := make([]object.TreeEntry, 0, len(entries))
	for _, entry := range entries {
		entrySlice = append(entrySlice, entry)
	}

	return s.buildTreeFromEntries(entrySlice)
}

// emptyTree stores the empty tree object and returns its hash.
func (s *Store) emptyTree() (plumbing.Hash, error) {
	return s.buildTreeFromEntries([]object.TreeEntry{})
}

// snapshot stores every file of fs that is not excluded by the ignore
// patterns and returns the resulting tree. An empty working directory
// yields the hash of the empty tree.
func (s *Store) snapshot(fs billy.Filesystem) (plumbing.Hash, error) {
	var changes []TreeChange

	err := util.Walk(fs, ".", func(name string, info os.FileInfo, err error) error {
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
			return nil
		}
		if !info.Mode().IsRegular() || s.ignore.MatchesPath(rel) {
			return nil
		}

		f, err := fs.Open(name)
		if err != nil {
			return err
		}
		defer f.Close()

		hash, err := s.createBlob(f, info.Size())
		if err != nil {
			return err
		}

		mode := filemode.Regular
		if info.Mode()&0111 != 0 {
			mode = filemode.Executable
		}
		changes = append(changes, TreeChange{Path: rel, BlobHash: hash, Mode: mode})
		return nil
	})
	if err != nil {
		return plumbing.ZeroHash, core.Storage("snapshot working directory", err)
	}

	tree, err := s.batchUpdateTree(plumbing.ZeroHash, changes)
	if err != nil {
		return plumbing.ZeroHash, core.Storage("snapshot working directory", err)
	}
	if tree == plumbing.ZeroHash {
		tree, err = s.emptyTree()
		if err != nil {
			return plumbing.ZeroHash, core.Storage("snapshot working directory", err)
		}
	}
	return tree, nil
}

// createCommit stores a commit object for tree with the given parents.
func (s *Store) createCommit(tree plumbing.Hash, parents []plumbing.Hash, identity core.Identity, message string) (plumbing.Hash, error) {
	if identity.Name == "" && identity.Email == "" {
		identity = s.cfg.Identity
	}

	sig := object.Signature{
		Name:  identity.Name,
		Email: identity.Email,
		When:  time.Now(),
	}

	commit := &object.Commit{
		Author:       sig,
		Committer:    sig,
		Message:      message,
		TreeHash:     tree,
		ParentHashes: parents,
	}

	obj := s.repo.Storer.NewEncodedObject()
	if err := commit.Encode(obj); err != nil {
		return plumbing.ZeroHash, core.Storage("encode commit", err)
	}

	hash, err := s.repo.Storer.SetEncodedObject(obj)
	if err != nil {
		return plumbing.ZeroHash, core.Storage("store commit", err)
	}
	return hash, nil
}

// compareAndSwapRef points name at next if it still points at prev. A zero
// prev requires the ref to be absent.
func (s *Store) compareAndSwapRef(name plumbing.ReferenceName, next, prev plumbing.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.compareAndSwapRefLocked(name, next, prev)
}

func (s *Store) compareAndSwapRefLocked(name plumbing.ReferenceName, next, prev plumbing.Hash) error {
	ref := plumbing.NewHashReference(name, next)

	if prev == plumbing.ZeroHash {
		_, err := s.repo.Storer.Reference(name)
		switch {
		case err == nil:
			return fmt.Errorf("%s already exists: %w", name.Short(), core.ErrConcurrentRefUpdate)
		case !errors.Is(err, plumbing.ErrReferenceNotFound):
			return core.Storage("read "+name.String(), err)
		}
		if err := s.repo.Storer.SetReference(ref); err != nil {
			return core.Storage("create "+name.String(), err)
		}
		return nil
	}

	old := plumbing.NewHashReference(name, prev)
	if err := s.repo.Storer.CheckAndSetReference(ref, old); err != nil {
		if errors.Is(err, storage.ErrReferenceHasChanged) {
			return fmt.Errorf("%s moved since %s: %w", name.Short(), prev, core.ErrConcurrentRefUpdate)
		}
		return core.Storage("update "+name.String(), err)
	}
	return nil
}

// treeOf returns the tree of commit, or the empty tree for ZeroHash.
func (s *Store) treeOf(commit plumbing.Hash) (*object.Tree, error) {
	if commit == plumbing.ZeroHash {
		hash, err := s.emptyTree()
		if err != nil {
			return nil, core.Storage("store empty tree", err)
		}
		return object.GetTree(s.repo.Storer, hash)
	}

	c, err := s.repo.CommitObject(commit)
	if err != nil {
		return nil, s.commitError(commit, err)
	}
	tree, err := c.Tree()
	if err != nil {
		return nil, core.Storage("read tree of "+commit.String(), err)
	}
	return tree, nil
}

// writeTree writes every file of the tree of commit into fs.
func (s *Store) writeTree(commit plumbing.Hash, fs billy.Filesystem) error {
	tree, err := s.treeOf(commit)
	if err != nil {
		return err
	}

	err = tree.Files().ForEach(func(f *object.File) error {
		perm, err := f.Mode.ToOSFileMode()
		if err != nil {
			return err
		}
		if dir := path.Dir(f.Name); dir != "." {
			if err := fs.MkdirAll(dir, 0755); err != nil {
				return err
			}
		}

		r, err := f.Reader()
		if err != nil {
			return err
		}
		defer r.Close()

		w, err := fs.OpenFile(f.Name, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, perm.Perm())
		if err != nil {
			return err
		}
		if _, err := io.Copy(w, r); err != nil {
			w.Close()
			return err
		}
		return w.Close()
	})
	if err != nil {
		return core.Storage("materialize "+commit.String(), err)
	}
	return nil
}

func (s *Store) commitError(hash plumbing.Hash, err error) error {
	if errors.Is(err, plumbing.ErrObjectNotFound) {
		return fmt.Errorf("commit %s: %w", hash, core.ErrReferenceNotFound)
	}
	return core.Storage("read commit "+hash.String(), err)
}
