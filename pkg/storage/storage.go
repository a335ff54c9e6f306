package storage

import (
	"os"
	"path/filepath"

	"github.com/cuemby/loom/pkg/ids"
	"github.com/cuemby/loom/pkg/rterrors"
)

// Storage resolves every path under a runtime root.
type Storage struct {
	Root string
}

// New wraps an existing root directory.
func New(root string) Storage { return Storage{Root: root} }

// Init creates the full directory layout (config lives alongside it, but is
// written separately by the caller via WriteAtomic) and the main branch's
// journal/snapshot subdirectories.
func Init(root string) (Storage, error) {
	s := Storage{Root: root}
	dirs := []string{
		s.MetaDir(),
		s.JournalDir(),
		s.SnapshotsDir(),
		s.BranchJournalDir(ids.Main),
		s.BranchSnapshotDir(ids.Main),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return Storage{}, &rterrors.StorageError{Kind: rterrors.StoragePermissionDenied, Path: d, Err: err}
		}
	}
	return s, nil
}

func (s Storage) ConfigPath() string        { return filepath.Join(s.Root, "config.json") }
func (s Storage) MetaDir() string           { return filepath.Join(s.Root, "meta") }
func (s Storage) JournalDir() string        { return filepath.Join(s.Root, "journal") }
func (s Storage) SnapshotsDir() string      { return filepath.Join(s.Root, "snapshots") }
func (s Storage) BranchesPath() string      { return filepath.Join(s.MetaDir(), "branches.json") }
func (s Storage) SnapshotIndexPath() string { return filepath.Join(s.MetaDir(), "snapshots.json") }
func (s Storage) ReactionsPath() string     { return filepath.Join(s.MetaDir(), "reactions.json") }

func (s Storage) BranchIndexPath(branch ids.BranchId) string {
	return filepath.Join(s.MetaDir(), string(branch)+".journal.index")
}

func (s Storage) BranchJournalDir(branch ids.BranchId) string {
	return filepath.Join(s.JournalDir(), string(branch))
}

func (s Storage) BranchSnapshotDir(branch ids.BranchId) string {
	return filepath.Join(s.SnapshotsDir(), string(branch))
}

// EnsureBranchDirs creates the journal/snapshot directories for a new branch.
func (s Storage) EnsureBranchDirs(branch ids.BranchId) error {
	for _, d := range []string{s.BranchJournalDir(branch), s.BranchSnapshotDir(branch)} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return &rterrors.StorageError{Kind: rterrors.StoragePermissionDenied, Path: d, Err: err}
		}
	}
	return nil
}

// WriteAtomic implements the mandatory pattern: write-temp, fsync(temp),
// rename(temp, target), fsync(parent dir). Every metadata file in the
// runtime (config, branch state, snapshot index, reaction registry, journal
// index) is written this way so a crash mid-write never leaves a partially
// written file visible at the target path.
func WriteAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp := path + ".tmp"

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return &rterrors.StorageError{Kind: rterrors.StorageAtomicWriteFailed, Path: path, Err: err}
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return &rterrors.StorageError{Kind: rterrors.StorageAtomicWriteFailed, Path: path, Detail: "write", Err: err}
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return &rterrors.StorageError{Kind: rterrors.StorageAtomicWriteFailed, Path: path, Detail: "fsync temp", Err: err}
	}
	if err := f.Close(); err != nil {
		return &rterrors.StorageError{Kind: rterrors.StorageAtomicWriteFailed, Path: path, Detail: "close temp", Err: err}
	}
	if err := os.Rename(tmp, path); err != nil {
		return &rterrors.StorageError{Kind: rterrors.StorageAtomicWriteFailed, Path: path, Detail: "rename", Err: err}
	}
	if err := fsyncDir(dir); err != nil {
		return &rterrors.StorageError{Kind: rterrors.StorageAtomicWriteFailed, Path: path, Detail: "fsync parent dir", Err: err}
	}
	return nil
}

func fsyncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}

// ReadFile reads a file, translating not-found into a StorageError.
func ReadFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &rterrors.StorageError{Kind: rterrors.StoragePathNotFound, Path: path, Err: err}
		}
		return nil, &rterrors.StorageError{Kind: rterrors.StoragePermissionDenied, Path: path, Err: err}
	}
	return data, nil
}

// Exists reports whether path exists.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
