package runtime_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/loom/pkg/actor"
	"github.com/cuemby/loom/pkg/config"
	"github.com/cuemby/loom/pkg/events"
	"github.com/cuemby/loom/pkg/ids"
	"github.com/cuemby/loom/pkg/reaction"
	"github.com/cuemby/loom/pkg/runtime"
	"github.com/cuemby/loom/pkg/turn"
	"github.com/cuemby/loom/pkg/value"
)

// counter increments on every message and exposes its count for snapshot
// round-tripping.
type counter struct {
	actor.EntityBase
	n int64
}

func (c *counter) OnMessage(act *actor.Activation, payload value.Value) error {
	c.n++
	return nil
}

func (c *counter) SnapshotState() value.Value { return value.Int(c.n) }

func (c *counter) RestoreState(v value.Value) error {
	c.n = v.Int()
	return nil
}

func counterFactory(value.Value) (actor.Entity, error) { return &counter{}, nil }

// echo asserts whatever payload it receives under a fixed handle.
type echo struct {
	actor.EntityBase
	handle ids.Handle
	got    bool
}

func (e *echo) OnMessage(act *actor.Activation, payload value.Value) error {
	if e.got {
		_ = act.Retract(e.handle)
	}
	e.handle = act.Assert(payload)
	e.got = true
	return nil
}

func echoFactory(value.Value) (actor.Entity, error) { return &echo{}, nil }

func newRuntime(t *testing.T) *runtime.Runtime {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, runtime.Init(root, config.Default(root)))
	r, err := runtime.New(root)
	require.NoError(t, err)
	return r
}

func TestStepExecutesQueuedMessageAndAdvancesTurnCount(t *testing.T) {
	r := newRuntime(t)
	require.NoError(t, r.RegisterEntity("counter", counterFactory))

	id, err := r.CreateActor("counter", value.Symbol("nil"))
	require.NoError(t, err)

	_, err = r.SendMessage(id, value.Symbol("tick"))
	require.NoError(t, err)

	rec, ok, err := r.Step()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, id, rec.Actor)

	status, err := r.Status()
	require.NoError(t, err)
	require.Equal(t, uint64(1), status.TurnCount)

	_, ok, err = r.Step()
	require.NoError(t, err)
	require.False(t, ok)
}

func TestStepNStopsWhenQueueDrains(t *testing.T) {
	r := newRuntime(t)
	require.NoError(t, r.RegisterEntity("counter", counterFactory))
	id, err := r.CreateActor("counter", value.Symbol("nil"))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := r.SendMessage(id, value.Int(int64(i)))
		require.NoError(t, err)
	}

	recs, err := r.StepN(10)
	require.NoError(t, err)
	require.Len(t, recs, 3)
}

func TestForkAndSwitchBranchChangesCurrentBranch(t *testing.T) {
	r := newRuntime(t)
	require.NoError(t, r.RegisterEntity("echo", echoFactory))
	id, err := r.CreateActor("echo", value.Symbol("nil"))
	require.NoError(t, err)

	_, err = r.SendMessage(id, value.Symbol("before-fork"))
	require.NoError(t, err)
	_, ok, err := r.Step()
	require.NoError(t, err)
	require.True(t, ok)

	status, err := r.Status()
	require.NoError(t, err)

	_, err = r.Fork(ids.Main, ids.BranchId("experiment"), status.Head)
	require.NoError(t, err)
	require.NoError(t, r.SwitchBranch(ids.BranchId("experiment")))

	s, err := r.Status()
	require.NoError(t, err)
	require.Equal(t, ids.BranchId("experiment"), s.Branch)
}

func TestGotoReplaysAssertionsToEarlierTurnCount(t *testing.T) {
	r := newRuntime(t)
	require.NoError(t, r.RegisterEntity("echo", echoFactory))
	id, err := r.CreateActor("echo", value.Symbol("nil"))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := r.SendMessage(id, value.Int(int64(i)))
		require.NoError(t, err)
		_, ok, err := r.Step()
		require.NoError(t, err)
		require.True(t, ok)
	}

	status, err := r.Status()
	require.NoError(t, err)
	require.Equal(t, uint64(3), status.TurnCount)

	require.NoError(t, r.Back(1))

	status, err = r.Status()
	require.NoError(t, err)
	require.Equal(t, uint64(2), status.TurnCount)

	assertions, err := r.ListAssertions()
	require.NoError(t, err)
	require.Len(t, assertions, 1)
	require.Equal(t, int64(1), assertions[0].Value.Int())
}

func TestReactionFiresOnMatchingAssertion(t *testing.T) {
	r := newRuntime(t)
	require.NoError(t, r.RegisterEntity("echo", echoFactory))
	source, err := r.CreateActor("echo", value.Symbol("nil"))
	require.NoError(t, err)
	reactor, err := r.CreateActor("echo", value.Symbol("nil"))
	require.NoError(t, err)

	require.NoError(t, r.RegisterReaction(reaction.Reaction{
		Actor:   reactor,
		Pattern: value.Record("ping", value.Symbol("<x>")),
		Effect: reaction.Effect{
			Kind:     reaction.EffectAssertProjection,
			Template: value.Record("pong", value.Symbol("<x>")),
		},
	}))

	_, err = r.SendMessage(source, value.Record("ping", value.Int(7)))
	require.NoError(t, err)

	_, ok, err := r.Step()
	require.NoError(t, err)
	require.True(t, ok)

	assertions, err := r.ListAssertions()
	require.NoError(t, err)

	var sawPong bool
	for _, a := range assertions {
		if a.Actor == reactor && a.Value.Label() == "pong" {
			sawPong = true
		}
	}
	require.True(t, sawPong)
}

func TestAssertionEventsSinceReturnsOnlyNewerEvents(t *testing.T) {
	r := newRuntime(t)
	require.NoError(t, r.RegisterEntity("echo", echoFactory))
	id, err := r.CreateActor("echo", value.Symbol("nil"))
	require.NoError(t, err)

	_, err = r.SendMessage(id, value.Symbol("one"))
	require.NoError(t, err)
	_, ok, err := r.Step()
	require.NoError(t, err)
	require.True(t, ok)

	all, err := r.AssertionEventsSince(0)
	require.NoError(t, err)
	require.NotEmpty(t, all)
	last := all[len(all)-1].Seq

	_, err = r.SendMessage(id, value.Symbol("two"))
	require.NoError(t, err)
	_, ok, err = r.Step()
	require.NoError(t, err)
	require.True(t, ok)

	fresh, err := r.AssertionEventsSince(last)
	require.NoError(t, err)
	require.Len(t, fresh, 1)
}

func TestWatchReceivesTurnExecutedEvent(t *testing.T) {
	r := newRuntime(t)
	defer r.Close()
	require.NoError(t, r.RegisterEntity("counter", counterFactory))
	id, err := r.CreateActor("counter", value.Symbol("nil"))
	require.NoError(t, err)

	sub := r.Watch()
	defer r.Unwatch(sub)

	_, err = r.SendMessage(id, value.Symbol("tick"))
	require.NoError(t, err)
	_, ok, err := r.Step()
	require.NoError(t, err)
	require.True(t, ok)

	select {
	case ev := <-sub:
		require.Equal(t, events.EventTurnExecuted, ev.Type)
		require.Equal(t, id, ev.Actor)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for turn.executed event")
	}
}

func TestReopenRestoresTurnCountAndHydratesEntityState(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, runtime.Init(root, config.Default(root)))

	r, err := runtime.New(root)
	require.NoError(t, err)
	require.NoError(t, r.RegisterEntity("counter", counterFactory))

	id, err := r.CreateActor("counter", value.Symbol("nil"))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := r.SendMessage(id, value.Symbol("tick"))
		require.NoError(t, err)
		_, ok, err := r.Step()
		require.NoError(t, err)
		require.True(t, ok)
	}

	before, err := r.Status()
	require.NoError(t, err)
	require.Equal(t, uint64(3), before.TurnCount)
	r.Close()

	r2, err := runtime.New(root)
	require.NoError(t, err)
	defer r2.Close()

	after, err := r2.Status()
	require.NoError(t, err)
	require.Equal(t, before.TurnCount, after.TurnCount)
	require.Equal(t, before.Head, after.Head)

	require.NoError(t, r2.RegisterEntity("counter", counterFactory))
	require.NoError(t, r2.HydrateActors())

	_, err = r2.SendMessage(id, value.Symbol("tick"))
	require.NoError(t, err)
	rec, ok, err := r2.Step()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, id, rec.Actor)

	status, err := r2.Status()
	require.NoError(t, err)
	require.Equal(t, uint64(4), status.TurnCount)
}

func TestGotoUpdatesHeadAndNextTurnParentsOnTarget(t *testing.T) {
	r := newRuntime(t)
	require.NoError(t, r.RegisterEntity("echo", echoFactory))
	id, err := r.CreateActor("echo", value.Symbol("nil"))
	require.NoError(t, err)

	var heads []turn.TurnID
	for i := 0; i < 3; i++ {
		_, err := r.SendMessage(id, value.Int(int64(i)))
		require.NoError(t, err)
		rec, ok, err := r.Step()
		require.NoError(t, err)
		require.True(t, ok)
		heads = append(heads, rec.TurnID)
	}

	t2 := heads[1]
	require.NoError(t, r.Goto(t2))

	status, err := r.Status()
	require.NoError(t, err)
	require.Equal(t, t2, status.Head, "head must report the post-travel turn, not the pre-travel one")
	require.Equal(t, uint64(2), status.TurnCount)

	_, err = r.SendMessage(id, value.Symbol("after-goto"))
	require.NoError(t, err)
	rec, ok, err := r.Step()
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, rec.Parent)
	require.Equal(t, t2, *rec.Parent)
}
