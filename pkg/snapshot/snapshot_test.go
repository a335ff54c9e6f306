package snapshot_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/loom/pkg/ids"
	"github.com/cuemby/loom/pkg/snapshot"
	"github.com/cuemby/loom/pkg/state"
	"github.com/cuemby/loom/pkg/storage"
)

func newStore(t *testing.T) storage.Storage {
	t.Helper()
	s, err := storage.Init(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestShouldSnapshotInterval(t *testing.T) {
	s := newStore(t)
	m, err := snapshot.NewManager(s, 10)
	require.NoError(t, err)

	for count := uint64(0); count <= 30; count++ {
		require.Equal(t, count%10 == 0, m.ShouldSnapshot(count))
	}
}

func TestNoSnapshotBeforeInterval(t *testing.T) {
	s := newStore(t)
	m, err := snapshot.NewManager(s, 10)
	require.NoError(t, err)

	// Scenario A: five turns executed, interval 10 -> no snapshot exists yet.
	_, ok, err := m.NearestSnapshot(ids.Main, 5)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSaveAndNearestSnapshot(t *testing.T) {
	s := newStore(t)
	m, err := snapshot.NewManager(s, 10)
	require.NoError(t, err)

	snap := snapshot.Snapshot{
		Branch:       ids.Main,
		TurnID:       "turn_deadbeef",
		TurnCount:    10,
		Assertions:   state.NewAssertionSet(),
		Facets:       state.NewFacetMap(),
		Capabilities: state.NewCapabilityMap(),
	}
	require.NoError(t, m.Save(snap))

	snap2 := snap
	snap2.TurnID = "turn_feedface"
	snap2.TurnCount = 20
	require.NoError(t, m.Save(snap2))

	got, ok, err := m.NearestSnapshot(ids.Main, 15)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, snap.TurnID, got.TurnID)

	got2, ok, err := m.NearestSnapshot(ids.Main, 25)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, snap2.TurnID, got2.TurnID)
}

func TestReopenUsesDirScanFallback(t *testing.T) {
	s := newStore(t)
	m, err := snapshot.NewManager(s, 10)
	require.NoError(t, err)

	snap := snapshot.Snapshot{
		Branch:       ids.Main,
		TurnID:       "turn_abc123",
		TurnCount:    10,
		Assertions:   state.NewAssertionSet(),
		Facets:       state.NewFacetMap(),
		Capabilities: state.NewCapabilityMap(),
	}
	require.NoError(t, m.Save(snap))

	// Drop the index entirely; a fresh manager must still find the snapshot
	// by scanning the branch's snapshot directory.
	require.NoError(t, storage.WriteAtomic(s.SnapshotIndexPath(), []byte(`{"branches":{}}`)))

	m2, err := snapshot.NewManager(s, 10)
	require.NoError(t, err)

	got, ok, err := m2.NearestSnapshot(ids.Main, 10)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, snap.TurnID, got.TurnID)
}
