// Package snapshot implements periodic full-state capture and nearest-
// predecessor lookup so time travel and startup recovery never require a
// full journal replay from turn zero.
package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/cuemby/loom/pkg/ids"
	"github.com/cuemby/loom/pkg/rterrors"
	"github.com/cuemby/loom/pkg/state"
	"github.com/cuemby/loom/pkg/storage"
	"github.com/cuemby/loom/pkg/turn"
)

// listSnapshotFiles returns the snapshot file names present in dir, or nil
// if dir does not exist.
func listSnapshotFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names, nil
}

const snapshotFilePattern = "turn-%08d.snapshot"

// Snapshot is the full-state capture of one branch at one turn.
type Snapshot struct {
	Branch       ids.BranchId             `json:"branch"`
	TurnID       turn.TurnID              `json:"turn_id"`
	TurnCount    uint64                   `json:"turn_count"`
	Assertions   *state.AssertionSet      `json:"assertions"`
	Facets       *state.FacetMap          `json:"facets"`
	Capabilities *state.CapabilityMap     `json:"capabilities"`
	EntityStates map[ids.ActorId][]byte   `json:"entity_states"`
}

// indexEntry is one row of the per-branch snapshot index.
type indexEntry struct {
	TurnID    turn.TurnID `json:"turn_id"`
	TurnCount uint64      `json:"turn_count"`
}

// Index maps branch -> sorted-by-turn-count list of snapshot locations.
type Index struct {
	Branches map[ids.BranchId][]indexEntry `json:"branches"`
}

func newIndex() *Index {
	return &Index{Branches: make(map[ids.BranchId][]indexEntry)}
}

// Manager owns the snapshot files and index for all branches of one runtime.
type Manager struct {
	store    storage.Storage
	interval uint64
	idx      *Index
}

// NewManager loads (or initializes) the snapshot index for a runtime rooted
// at store.Root.
func NewManager(store storage.Storage, interval uint64) (*Manager, error) {
	if interval == 0 {
		interval = 1
	}
	m := &Manager{store: store, interval: interval}
	idx, err := m.loadIndex()
	if err != nil {
		return nil, err
	}
	m.idx = idx
	return m, nil
}

func (m *Manager) loadIndex() (*Index, error) {
	path := m.store.SnapshotIndexPath()
	if !storage.Exists(path) {
		return newIndex(), nil
	}
	data, err := storage.ReadFile(path)
	if err != nil {
		return nil, &rterrors.SnapshotError{Kind: rterrors.SnapshotInvalidFormat, Detail: "read index", Err: err}
	}
	var idx Index
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, &rterrors.SnapshotError{Kind: rterrors.SnapshotInvalidFormat, Detail: "parse index", Err: err}
	}
	if idx.Branches == nil {
		idx.Branches = make(map[ids.BranchId][]indexEntry)
	}
	return &idx, nil
}

func (m *Manager) persistIndex() error {
	data, err := json.Marshal(m.idx)
	if err != nil {
		return &rterrors.SnapshotError{Kind: rterrors.SnapshotInvalidFormat, Detail: "marshal index", Err: err}
	}
	return storage.WriteAtomic(m.store.SnapshotIndexPath(), data)
}

// ShouldSnapshot reports whether a snapshot should be taken after turnCount
// turns have been durably journaled.
func (m *Manager) ShouldSnapshot(turnCount uint64) bool {
	return turnCount%m.interval == 0
}

// Save writes a snapshot atomically to its turn-count-named file, then
// updates and persists the snapshot index. The caller must only call Save
// after the corresponding turn record is already durably journaled.
func (m *Manager) Save(snap Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return &rterrors.SnapshotError{Kind: rterrors.SnapshotInvalidFormat, Detail: "marshal snapshot", Err: err}
	}
	path := m.path(snap.Branch, snap.TurnCount)
	if err := storage.WriteAtomic(path, data); err != nil {
		return &rterrors.SnapshotError{Kind: rterrors.SnapshotValidationFailed, Branch: string(snap.Branch), TurnID: string(snap.TurnID), Detail: "write snapshot", Err: err}
	}

	entries := m.idx.Branches[snap.Branch]
	entries = append(entries, indexEntry{TurnID: snap.TurnID, TurnCount: snap.TurnCount})
	sort.Slice(entries, func(i, j int) bool { return entries[i].TurnCount < entries[j].TurnCount })
	m.idx.Branches[snap.Branch] = entries

	return m.persistIndex()
}

func (m *Manager) path(branch ids.BranchId, turnCount uint64) string {
	return filepath.Join(m.store.BranchSnapshotDir(branch), fmt.Sprintf(snapshotFilePattern, turnCount))
}

// NearestSnapshot returns the latest snapshot on branch whose turn count is
// less than or equal to target, using the index when available and falling
// back to a directory scan when the index has no entry for the branch (e.g.
// after an index-only corruption).
func (m *Manager) NearestSnapshot(branch ids.BranchId, target uint64) (Snapshot, bool, error) {
	entries := m.idx.Branches[branch]
	if len(entries) == 0 {
		entries = m.scanDir(branch)
	}

	var best *indexEntry
	for i := range entries {
		e := entries[i]
		if e.TurnCount <= target && (best == nil || e.TurnCount > best.TurnCount) {
			best = &entries[i]
		}
	}
	if best == nil {
		return Snapshot{}, false, nil
	}

	data, err := storage.ReadFile(m.path(branch, best.TurnCount))
	if err != nil {
		return Snapshot{}, false, &rterrors.SnapshotError{Kind: rterrors.SnapshotNotFound, Branch: string(branch), Detail: "read snapshot file", Err: err}
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, false, &rterrors.SnapshotError{Kind: rterrors.SnapshotInvalidFormat, Branch: string(branch), Detail: "parse snapshot", Err: err}
	}
	return snap, true, nil
}

// scanDir reconstructs index entries for a branch directly from the snapshot
// directory when the on-disk index is missing or lacks the branch.
func (m *Manager) scanDir(branch ids.BranchId) []indexEntry {
	dir := m.store.BranchSnapshotDir(branch)
	names, err := listSnapshotFiles(dir)
	if err != nil {
		return nil
	}
	var out []indexEntry
	for _, n := range names {
		var count uint64
		if _, err := fmt.Sscanf(n, snapshotFilePattern, &count); err != nil {
			continue
		}
		data, err := storage.ReadFile(filepath.Join(dir, n))
		if err != nil {
			continue
		}
		var snap Snapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			continue
		}
		out = append(out, indexEntry{TurnID: snap.TurnID, TurnCount: count})
	}
	return out
}
