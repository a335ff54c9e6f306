package actor_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/loom/pkg/actor"
	"github.com/cuemby/loom/pkg/ids"
	"github.com/cuemby/loom/pkg/turn"
	"github.com/cuemby/loom/pkg/value"
)

// counter is a minimal hydratable entity used across these tests: it
// increments an in-memory count on every message and exposes it for
// snapshot/restore.
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

func TestExecuteTurnDispatchesExternalMessage(t *testing.T) {
	c := &counter{}
	a := actor.New(c, "counter", value.Symbol("nil"))

	in := turn.ExternalMessage(a.ID, a.RootFacet, value.Int(1))
	outputs, _, err := actor.ExecuteTurn(a, turn.ZeroClock().Next(), []turn.Input{in})
	require.NoError(t, err)
	require.Empty(t, outputs)
	require.Equal(t, int64(1), c.n)
}

// asserter asserts a constant on every message and retracts it on the next.
type asserter struct {
	actor.EntityBase
	lastHandle ids.Handle
	asserted   bool
}

func (a *asserter) OnMessage(act *actor.Activation, payload value.Value) error {
	if a.asserted {
		if err := act.Retract(a.lastHandle); err != nil {
			return err
		}
		a.asserted = false
		return nil
	}
	a.lastHandle = act.Assert(value.Symbol("ping"))
	a.asserted = true
	return nil
}

func TestExecuteTurnAppliesAssertDelta(t *testing.T) {
	e := &asserter{}
	a := actor.New(e, "asserter", value.Symbol("nil"))

	in := turn.ExternalMessage(a.ID, a.RootFacet, value.Symbol("go"))
	outputs, delta, err := actor.ExecuteTurn(a, turn.ZeroClock().Next(), []turn.Input{in})
	require.NoError(t, err)
	require.Len(t, outputs, 1)
	require.Equal(t, turn.OutputAssert, outputs[0].Kind)
	require.Len(t, delta.Assertions.Added, 1)

	_, ok := a.Assertions.Get(a.ID, e.lastHandle)
	require.True(t, ok)
}

type failingEntity struct{ actor.EntityBase }

func (failingEntity) OnMessage(act *actor.Activation, payload value.Value) error {
	act.Assert(value.Int(1))
	return errValidation
}

var errValidation = &testError{"entity rejected input"}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }

func TestExecuteTurnAllOrNothingOnError(t *testing.T) {
	e := &failingEntity{}
	a := actor.New(e, "failing", value.Symbol("nil"))

	in := turn.ExternalMessage(a.ID, a.RootFacet, value.Int(1))
	_, _, err := actor.ExecuteTurn(a, turn.ZeroClock().Next(), []turn.Input{in})
	require.Error(t, err)
	require.Empty(t, a.Assertions.All(), "a failed turn must not leave any partial assertion")
}

func TestSpawnFacetAndDescendants(t *testing.T) {
	c := &counter{}
	a := actor.New(c, "counter", value.Symbol("nil"))

	child, err := a.SpawnFacet(a.RootFacet, &counter{}, "counter", value.Symbol("nil"))
	require.NoError(t, err)

	grandchild, err := a.SpawnFacet(child, &counter{}, "counter", value.Symbol("nil"))
	require.NoError(t, err)

	descendants := a.Descendants(a.RootFacet)
	require.ElementsMatch(t, []ids.FacetId{a.RootFacet, child, grandchild}, descendants)
}

func TestRegistryRejectsDuplicateRegistration(t *testing.T) {
	r := actor.NewRegistry()
	factory := func(config value.Value) (actor.Entity, error) { return &counter{}, nil }

	require.NoError(t, r.Register("counter", factory))
	require.Error(t, r.Register("counter", factory))

	e, err := r.Build("counter", value.Symbol("nil"))
	require.NoError(t, err)
	require.NotNil(t, e)

	_, err = r.Build("unknown", value.Symbol("nil"))
	require.Error(t, err)
}

func TestHydratableEntityRoundTrip(t *testing.T) {
	c := &counter{}
	a := actor.New(c, "counter", value.Symbol("nil"))

	for i := 0; i < 7; i++ {
		in := turn.ExternalMessage(a.ID, a.RootFacet, value.Int(int64(i)))
		_, _, err := actor.ExecuteTurn(a, turn.LogicalClock(i+1), []turn.Input{in})
		require.NoError(t, err)
	}
	require.Equal(t, int64(7), c.n)

	blob := c.SnapshotState()
	restored := &counter{}
	require.NoError(t, restored.RestoreState(blob))
	require.Equal(t, int64(7), restored.n)
}
