package scheduler_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/cuemby/loom/pkg/ids"
	"github.com/cuemby/loom/pkg/scheduler"
	"github.com/cuemby/loom/pkg/state"
	"github.com/cuemby/loom/pkg/turn"
	"github.com/cuemby/loom/pkg/value"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestStepFiveExternalMessagesAssignsSequentialClocks(t *testing.T) {
	s := scheduler.New(100)
	actor := ids.NewActorId()
	facet := ids.NewFacetId()

	for i := 0; i < 5; i++ {
		in := turn.ExternalMessage(actor, facet, value.Int(int64(i)))
		s.Enqueue(actor, []turn.Input{in}, turn.CauseExternal)
	}
	require.Equal(t, 5, s.PendingCount())

	var clocks []turn.LogicalClock
	for i := 0; i < 5; i++ {
		st, ok := s.NextTurn()
		require.True(t, ok)
		clocks = append(clocks, st.Clock)
	}
	require.Equal(t, []turn.LogicalClock{1, 2, 3, 4, 5}, clocks)
	require.Equal(t, 0, s.PendingCount())

	_, ok := s.NextTurn()
	require.False(t, ok)
}

func TestAccountAtOrAboveCreditLimitBlocksHead(t *testing.T) {
	s := scheduler.New(100)
	actor := ids.NewActorId()
	facet := ids.NewFacetId()

	s.Enqueue(actor, []turn.Input{turn.ExternalMessage(actor, facet, value.Int(1))}, turn.CauseExternal)
	require.True(t, s.HasReadyTurns())

	s.UpdateAccount(actor, state.AccountDelta{Borrowed: 100})
	require.Equal(t, int64(100), s.Balance(actor))
	require.False(t, s.HasReadyTurns(), "an actor at its credit limit must block even with ready turns")

	_, ok := s.NextTurn()
	require.False(t, ok)

	s.UpdateAccount(actor, state.AccountDelta{Repaid: 50})
	require.Equal(t, int64(50), s.Balance(actor))
	require.True(t, s.HasReadyTurns(), "repaying below the limit must permit progress")

	st, ok := s.NextTurn()
	require.True(t, ok)
	require.Equal(t, actor, st.Actor)
}

func TestBlockedHeadActorStallsWholeQueue(t *testing.T) {
	s := scheduler.New(10)
	blocked := ids.NewActorId()
	free := ids.NewActorId()
	facet := ids.NewFacetId()

	s.Enqueue(blocked, []turn.Input{turn.ExternalMessage(blocked, facet, value.Int(1))}, turn.CauseExternal)
	s.UpdateAccount(blocked, state.AccountDelta{Borrowed: 10})

	s.Enqueue(free, []turn.Input{turn.ExternalMessage(free, facet, value.Int(1))}, turn.CauseExternal)

	// Both turns have clock 1; the blocked actor's arrived first, so it is the
	// head of the single global queue and the queue stalls on it even though
	// the second actor's turn is individually ready.
	require.False(t, s.HasReadyTurns())
	_, ok := s.NextTurn()
	require.False(t, ok)
	require.Equal(t, 2, s.PendingCount())
}

func TestPendingCountAndClock(t *testing.T) {
	s := scheduler.New(0)
	actor := ids.NewActorId()
	facet := ids.NewFacetId()

	require.Equal(t, turn.LogicalClock(0), s.Clock(actor))
	s.Enqueue(actor, []turn.Input{turn.ExternalMessage(actor, facet, value.Int(1))}, turn.CauseExternal)
	require.Equal(t, turn.LogicalClock(1), s.Clock(actor))
	require.Equal(t, 1, s.PendingCount())
}
