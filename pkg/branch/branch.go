// Package branch implements the branch DAG: fork, switch, head tracking, and
// lowest-common-ancestor computation for time travel. Branch state is
// persisted atomically alongside the journal index.
package branch

import (
	"encoding/json"

	"github.com/cuemby/loom/pkg/ids"
	"github.com/cuemby/loom/pkg/rterrors"
	"github.com/cuemby/loom/pkg/storage"
	"github.com/cuemby/loom/pkg/turn"
)

// Branch is one node of the branch DAG.
type Branch struct {
	ID        ids.BranchId  `json:"id"`
	Parent    *ids.BranchId `json:"parent,omitempty"`
	BaseTurn  turn.TurnID   `json:"base_turn"`
	HeadTurn  turn.TurnID   `json:"head_turn"`
	Snapshot  turn.TurnID   `json:"snapshot,omitempty"`
}

// state is the on-disk representation of the whole branch DAG.
type state struct {
	Branches map[ids.BranchId]*Branch `json:"branches"`
}

// Manager owns every branch's metadata for one runtime.
type Manager struct {
	store storage.Storage
	st    *state
}

// NewManager loads (or initializes, with a fresh "main" branch at the zero
// turn) the branch DAG for a runtime rooted at store.Root.
func NewManager(store storage.Storage) (*Manager, error) {
	m := &Manager{store: store}
	st, err := m.load()
	if err != nil {
		return nil, err
	}
	m.st = st
	if _, ok := m.st.Branches[ids.Main]; !ok {
		m.st.Branches[ids.Main] = &Branch{
			ID:       ids.Main,
			BaseTurn: turn.ZeroTurnID,
			HeadTurn: turn.ZeroTurnID,
		}
		if err := m.persist(); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Manager) load() (*state, error) {
	path := m.store.BranchesPath()
	if !storage.Exists(path) {
		return &state{Branches: make(map[ids.BranchId]*Branch)}, nil
	}
	data, err := storage.ReadFile(path)
	if err != nil {
		return nil, &rterrors.BranchError{Kind: rterrors.BranchNotFound, Detail: "read branch state", Err: err}
	}
	var st state
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, &rterrors.BranchError{Kind: rterrors.BranchNotFound, Detail: "parse branch state", Err: err}
	}
	if st.Branches == nil {
		st.Branches = make(map[ids.BranchId]*Branch)
	}
	return &st, nil
}

func (m *Manager) persist() error {
	data, err := json.Marshal(m.st)
	if err != nil {
		return &rterrors.BranchError{Kind: rterrors.BranchNotFound, Detail: "marshal branch state", Err: err}
	}
	return storage.WriteAtomic(m.store.BranchesPath(), data)
}

// Get returns the branch metadata for id.
func (m *Manager) Get(id ids.BranchId) (Branch, error) {
	b, ok := m.st.Branches[id]
	if !ok {
		return Branch{}, &rterrors.BranchError{Kind: rterrors.BranchNotFound, Branch: string(id)}
	}
	return *b, nil
}

// List returns every branch, in no particular order.
func (m *Manager) List() []Branch {
	out := make([]Branch, 0, len(m.st.Branches))
	for _, b := range m.st.Branches {
		out = append(out, *b)
	}
	return out
}

// Head returns the current head turn of a branch.
func (m *Manager) Head(id ids.BranchId) (turn.TurnID, error) {
	b, err := m.Get(id)
	if err != nil {
		return "", err
	}
	return b.HeadTurn, nil
}

// UpdateHead advances a branch's head turn. It is called after every turn is
// durably journaled.
func (m *Manager) UpdateHead(id ids.BranchId, head turn.TurnID) error {
	b, ok := m.st.Branches[id]
	if !ok {
		return &rterrors.BranchError{Kind: rterrors.BranchNotFound, Branch: string(id)}
	}
	b.HeadTurn = head
	return m.persist()
}

// Fork creates newName as a child of source, with baseTurn as both its base
// and head turn and source's snapshot reference as its own. The new
// branch's journal/snapshot directories must be created by the caller (the
// orchestrator) via storage.EnsureBranchDirs before turns are appended.
func (m *Manager) Fork(source ids.BranchId, newName ids.BranchId, baseTurn turn.TurnID) (Branch, error) {
	if _, exists := m.st.Branches[newName]; exists {
		return Branch{}, &rterrors.BranchError{Kind: rterrors.BranchAlreadyExists, Branch: string(newName)}
	}
	src, ok := m.st.Branches[source]
	if !ok {
		return Branch{}, &rterrors.BranchError{Kind: rterrors.BranchNotFound, Branch: string(source)}
	}

	parent := source
	child := &Branch{
		ID:       newName,
		Parent:   &parent,
		BaseTurn: baseTurn,
		HeadTurn: baseTurn,
		Snapshot: src.Snapshot,
	}
	m.st.Branches[newName] = child
	if err := m.persist(); err != nil {
		return Branch{}, err
	}
	return *child, nil
}

// FindLCA traces both branches' ancestries to their root, finds the deepest
// branch common to both chains, and returns the turn at which the other line
// forked from it: the base turn of that branch's child on b's chain, or on
// a's chain when b is itself the common branch. For two branches forked
// separately from a common ancestor, b's fork turn is returned. Identical
// branches yield their own base turn; chains sharing no branch yield
// ZeroTurnID.
func (m *Manager) FindLCA(a, b ids.BranchId) (turn.TurnID, error) {
	ancestorsA, err := m.ancestryChain(a)
	if err != nil {
		return "", err
	}
	ancestorsB, err := m.ancestryChain(b)
	if err != nil {
		return "", err
	}

	seen := make(map[ids.BranchId]int, len(ancestorsA))
	for i, anc := range ancestorsA {
		seen[anc.ID] = i
	}
	for j, anc := range ancestorsB {
		i, ok := seen[anc.ID]
		if !ok {
			continue
		}
		switch {
		case j > 0:
			return ancestorsB[j-1].BaseTurn, nil
		case i > 0:
			return ancestorsA[i-1].BaseTurn, nil
		default:
			return anc.BaseTurn, nil
		}
	}
	return turn.ZeroTurnID, nil
}

// ancestryChain walks parent pointers from id up to the root, id first.
func (m *Manager) ancestryChain(id ids.BranchId) ([]Branch, error) {
	var chain []Branch
	cur := id
	for {
		b, ok := m.st.Branches[cur]
		if !ok {
			return nil, &rterrors.BranchError{Kind: rterrors.BranchNotFound, Branch: string(cur)}
		}
		chain = append(chain, *b)
		if b.Parent == nil {
			return chain, nil
		}
		cur = *b.Parent
	}
}

// Merge is declared but deliberately unimplemented: conflict resolution
// across journal histories is left to a future capability.
func (m *Manager) Merge(source, target ids.BranchId) error {
	return rterrors.ErrBranchMergeNotImplemented
}
