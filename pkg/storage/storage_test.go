package storage_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/loom/pkg/ids"
	"github.com/cuemby/loom/pkg/storage"
)

func TestInitCreatesMainBranchLayout(t *testing.T) {
	root := t.TempDir()
	s, err := storage.Init(root)
	require.NoError(t, err)

	require.DirExists(t, s.MetaDir())
	require.DirExists(t, s.BranchJournalDir(ids.Main))
	require.DirExists(t, s.BranchSnapshotDir(ids.Main))
}

func TestWriteAtomicThenReadFileRoundTrips(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "thing.json")

	require.NoError(t, storage.WriteAtomic(path, []byte(`{"a":1}`)))
	require.True(t, storage.Exists(path))

	data, err := storage.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, `{"a":1}`, string(data))
}

func TestReadFileMissingReturnsStorageError(t *testing.T) {
	_, err := storage.ReadFile(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}

func TestEnsureBranchDirsCreatesNewBranchLayout(t *testing.T) {
	root := t.TempDir()
	s, err := storage.Init(root)
	require.NoError(t, err)

	branch := ids.BranchId("experiment")
	require.NoError(t, s.EnsureBranchDirs(branch))
	require.DirExists(t, s.BranchJournalDir(branch))
	require.DirExists(t, s.BranchSnapshotDir(branch))
}
