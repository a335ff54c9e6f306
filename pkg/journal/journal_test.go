package journal_test

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/loom/pkg/ids"
	"github.com/cuemby/loom/pkg/journal"
	"github.com/cuemby/loom/pkg/state"
	"github.com/cuemby/loom/pkg/storage"
	"github.com/cuemby/loom/pkg/turn"
	"github.com/cuemby/loom/pkg/value"
)

func newStore(t *testing.T) storage.Storage {
	t.Helper()
	root := t.TempDir()
	s, err := storage.Init(root)
	require.NoError(t, err)
	return s
}

func makeRecord(t *testing.T, actor ids.ActorId, clock turn.LogicalClock, payload value.Value) turn.Record {
	t.Helper()
	in := turn.ExternalMessage(actor, ids.NewFacetId(), payload)
	r, err := turn.NewRecord(actor, ids.Main, clock, nil, []turn.Input{in}, nil, state.Delta{}, 0)
	require.NoError(t, err)
	return r
}

func TestAppendAndReadBack(t *testing.T) {
	s := newStore(t)
	j, err := journal.Open(s, ids.Main, journal.DefaultSegmentLimit)
	require.NoError(t, err)
	defer j.Close()

	actor := ids.NewActorId()
	r := makeRecord(t, actor, turn.ZeroClock(), value.Int(1))
	require.NoError(t, j.Append(r))

	got, err := j.Read(r.TurnID)
	require.NoError(t, err)
	require.Equal(t, r.TurnID, got.TurnID)
	require.Equal(t, r.Actor, got.Actor)
}

func TestAppendDurableAcrossReopen(t *testing.T) {
	s := newStore(t)
	j, err := journal.Open(s, ids.Main, journal.DefaultSegmentLimit)
	require.NoError(t, err)

	actor := ids.NewActorId()
	var ids1 []turn.TurnID
	for i := 0; i < 5; i++ {
		r := makeRecord(t, actor, turn.LogicalClock(i), value.Int(int64(i)))
		require.NoError(t, j.Append(r))
		ids1 = append(ids1, r.TurnID)
	}
	require.NoError(t, j.Close())

	// Reopening must find every previously appended record without replaying
	// anything: the index was persisted after each append.
	j2, err := journal.Open(s, ids.Main, journal.DefaultSegmentLimit)
	require.NoError(t, err)
	defer j2.Close()

	require.Equal(t, 5, j2.Len())
	for _, id := range ids1 {
		_, err := j2.Read(id)
		require.NoError(t, err)
	}
}

func TestRotationAcrossSegmentLimit(t *testing.T) {
	s := newStore(t)
	// A tiny limit forces rotation after a couple of records.
	j, err := journal.Open(s, ids.Main, 64)
	require.NoError(t, err)

	actor := ids.NewActorId()
	var written []turn.TurnID
	for i := 0; i < 20; i++ {
		r := makeRecord(t, actor, turn.LogicalClock(i), value.Bytes(make([]byte, 32)))
		require.NoError(t, j.Append(r))
		written = append(written, r.TurnID)
	}
	require.NoError(t, j.Close())

	entries, err := os.ReadDir(s.BranchJournalDir(ids.Main))
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(entries), 2, "expected at least two segments after rotation")

	// Delete the index: the next open must rebuild it and every prior turn
	// must remain readable.
	require.NoError(t, os.Remove(s.BranchIndexPath(ids.Main)))

	j2, err := journal.Open(s, ids.Main, 64)
	require.NoError(t, err)
	defer j2.Close()

	require.Equal(t, len(written), j2.Len())
	for _, id := range written {
		_, err := j2.Read(id)
		require.NoError(t, err)
	}
}

func TestValidateAndRepairTruncatesCorruptTail(t *testing.T) {
	s := newStore(t)
	j, err := journal.Open(s, ids.Main, journal.DefaultSegmentLimit)
	require.NoError(t, err)

	actor := ids.NewActorId()
	var good []turn.TurnID
	for i := 0; i < 3; i++ {
		r := makeRecord(t, actor, turn.LogicalClock(i), value.Int(int64(i)))
		require.NoError(t, j.Append(r))
		good = append(good, r.TurnID)
	}
	require.NoError(t, j.Close())

	// Simulate a crash mid-write: append garbage bytes to the segment file
	// that do not form a valid frame.
	segPath := s.BranchJournalDir(ids.Main) + "/segment-000000.turnlog"
	f, err := os.OpenFile(segPath, os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	_, err = f.Write([]byte{0xff, 0xff, 0xff, 0xff, 0x01, 0x02})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	j2, err := journal.Open(s, ids.Main, journal.DefaultSegmentLimit)
	require.NoError(t, err)
	defer j2.Close()

	truncated, err := j2.ValidateAndRepair()
	require.NoError(t, err)
	require.Greater(t, truncated, int64(0))

	require.Equal(t, len(good), j2.Len())
	for _, id := range good {
		_, err := j2.Read(id)
		require.NoError(t, err)
	}

	// The journal must remain appendable after repair.
	r := makeRecord(t, actor, turn.LogicalClock(3), value.Int(3))
	require.NoError(t, j2.Append(r))
	got, err := j2.Read(r.TurnID)
	require.NoError(t, err)
	require.Equal(t, r.TurnID, got.TurnID)
}

func TestIterFromAndIterAllOrdering(t *testing.T) {
	s := newStore(t)
	j, err := journal.Open(s, ids.Main, journal.DefaultSegmentLimit)
	require.NoError(t, err)
	defer j.Close()

	actor := ids.NewActorId()
	var ordered []turn.TurnID
	for i := 0; i < 4; i++ {
		r := makeRecord(t, actor, turn.LogicalClock(i), value.Int(int64(i)))
		require.NoError(t, j.Append(r))
		ordered = append(ordered, r.TurnID)
	}

	all, err := j.IterAll()
	require.NoError(t, err)
	require.Len(t, all, 4)
	for i, r := range all {
		require.Equal(t, ordered[i], r.TurnID)
	}

	from, err := j.IterFrom(ordered[2])
	require.NoError(t, err)
	require.Len(t, from, 2)
	require.Equal(t, ordered[2], from[0].TurnID)
}
