package ps

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/go-git/go-billy/v6/osfs"
	"github.com/go-git/go-git/v6/plumbing"
	"github.com/go-git/go-git/v6/plumbing/filemode"
	"github.com/go-git/go-git/v6/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const emptyTreeHash = "4b825dc642cb6eb9a060e54bf8d69288fbee4904"

func writeFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}
}

func treeFiles(t *testing.T, s *Store, hash plumbing.Hash) map[string]string {
	t.Helper()
	tree, err := s.repo.TreeObject(hash)
	require.NoError(t, err)
	files := map[string]string{}
	require.NoError(t, tree.Files().ForEach(func(f *object.File) error {
		content, err := f.Contents()
		files[f.Name] = content
		return err
	}))
	return files
}

func TestSnapshotSkipsControlAndTransientFiles(t *testing.T) {
	cfg := testConfig(t)
	cfg.Ignore = []string{"*.log"}
	s := openStore(t, cfg)

	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"data.sqlite":         "main",
		"data.sqlite-journal": "journal",
		"data.sqlite-wal":     "wal",
		"engine.log":          "noise",
		".branchdb/HEAD":      "",
		"extra/notes.txt":     "kept",
	})

	hash, err := s.snapshot(osfs.New(dir))
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"data.sqlite":     "main",
		"extra/notes.txt": "kept",
	}, treeFiles(t, s, hash))

	other := t.TempDir()
	writeFiles(t, other, map[string]string{
		"data.sqlite":     "main",
		"extra/notes.txt": "kept",
	})
	again, err := s.snapshot(osfs.New(other))
	require.NoError(t, err)
	assert.Equal(t, hash, again)
}

func TestSnapshotOfEmptyDirectory(t *testing.T) {
	s := openStore(t, testConfig(t))
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{".branchdb/HEAD": ""})

	hash, err := s.snapshot(osfs.New(dir))
	require.NoError(t, err)
	assert.Equal(t, emptyTreeHash, hash.String())
}

func TestBatchUpdateTreeNested(t *testing.T) {
	s := openStore(t, testConfig(t))

	blob := func(content string) plumbing.Hash {
		hash, err := s.createBlob(strings.NewReader(content), int64(len(content)))
		require.NoError(t, err)
		return hash
	}

	root, err := s.batchUpdateTree(plumbing.ZeroHash, []TreeChange{
		{Path: "a/b/c", BlobHash: blob("c")},
		{Path: "a/d", BlobHash: blob("d")},
		{Path: "top", BlobHash: blob("top"), Mode: filemode.Executable},
	})
	require.NoError(t, err)

	updated, err := s.batchUpdateTree(root, []TreeChange{
		{Path: "a/b/e", BlobHash: blob("e")},
		{Path: "a/d", BlobHash: blob("d2")},
	})
	require.NoError(t, err)

	files := treeFiles(t, s, updated)
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)
	assert.Equal(t, []string{"a/b/c", "a/b/e", "a/d", "top"}, names)
	assert.Equal(t, "d2", files["a/d"])

	tree, err := s.repo.TreeObject(updated)
	require.NoError(t, err)
	top, err := tree.File("top")
	require.NoError(t, err)
	assert.Equal(t, filemode.Executable, top.Mode)

	unchanged, err := s.batchUpdateTree(root, nil)
	require.NoError(t, err)
	assert.Equal(t, root, unchanged)
}
