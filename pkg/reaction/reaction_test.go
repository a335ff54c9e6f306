package reaction_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/loom/pkg/actor"
	"github.com/cuemby/loom/pkg/ids"
	"github.com/cuemby/loom/pkg/pattern"
	"github.com/cuemby/loom/pkg/reaction"
	"github.com/cuemby/loom/pkg/storage"
	"github.com/cuemby/loom/pkg/turn"
	"github.com/cuemby/loom/pkg/value"
)

func newStore(t *testing.T) storage.Storage {
	t.Helper()
	s, err := storage.Init(t.TempDir())
	require.NoError(t, err)
	return s
}

// firingEntity calls Fire on the first message it receives, standing in for
// the runtime layer's dispatch from a pattern match to a reaction effect.
type firingEntity struct {
	actor.EntityBase
	mgr     *reaction.Manager
	id      ids.PatternId
	matched value.Value
}

func (e *firingEntity) OnMessage(act *actor.Activation, payload value.Value) error {
	return e.mgr.Fire(e.id, act, e.matched)
}

func TestRegisterFiresAssertConstantOnMatch(t *testing.T) {
	store := newStore(t)
	eng := pattern.NewEngine()
	mgr := reaction.NewManager(store, eng)

	r := reaction.Reaction{
		Actor:   ids.NewActorId(),
		Facet:   ids.NewFacetId(),
		Pattern: value.Record("ping", value.Symbol("<x>")),
		Effect:  reaction.Effect{Kind: reaction.EffectAssertConstant, Constant: value.Symbol("pong")},
	}
	require.NoError(t, mgr.Register(r))
	require.Len(t, mgr.List(), 1)

	matched := value.Record("ping", value.Int(1))
	matches := eng.EvalAssert(ids.NewHandle(), matched)
	require.Len(t, matches, 1)
	require.Equal(t, r.ID, matches[0].PatternID)

	e := &firingEntity{mgr: mgr, id: r.ID, matched: matched}
	a := actor.New(e, "firing", value.Symbol("nil"))
	outputs, _, err := actor.ExecuteTurn(a, turn.ZeroClock().Next(), []turn.Input{
		turn.ExternalMessage(a.ID, a.RootFacet, value.Symbol("go")),
	})
	require.NoError(t, err)
	require.Len(t, outputs, 1)
	require.Equal(t, turn.OutputAssert, outputs[0].Kind)
	require.True(t, value.Equal(value.Symbol("pong"), outputs[0].Value))
}

func TestRegisteredReactionSurvivesRestart(t *testing.T) {
	store := newStore(t)

	eng1 := pattern.NewEngine()
	mgr1 := reaction.NewManager(store, eng1)

	r := reaction.Reaction{
		Actor:   ids.NewActorId(),
		Facet:   ids.NewFacetId(),
		Pattern: value.Record("alert", value.Symbol("<_>")),
		Effect:  reaction.Effect{Kind: reaction.EffectAssertConstant, Constant: value.Symbol("handled")},
	}
	require.NoError(t, mgr1.Register(r))

	eng2 := pattern.NewEngine()
	mgr2 := reaction.NewManager(store, eng2)
	require.NoError(t, mgr2.Load())

	restored := mgr2.List()
	require.Len(t, restored, 1)
	require.Equal(t, r.ID, restored[0].ID)
	require.Equal(t, reaction.EffectAssertConstant, restored[0].Effect.Kind)
	require.True(t, value.Equal(value.Symbol("handled"), restored[0].Effect.Constant))

	matches := eng2.EvalAssert(ids.NewHandle(), value.Record("alert", value.Int(9)))
	require.Len(t, matches, 1, "the re-registered pattern must still match after restart")
}

func TestUnregisterRemovesPatternAndPersists(t *testing.T) {
	store := newStore(t)
	eng := pattern.NewEngine()
	mgr := reaction.NewManager(store, eng)

	r := reaction.Reaction{
		Actor:   ids.NewActorId(),
		Facet:   ids.NewFacetId(),
		Pattern: value.Symbol("x"),
		Effect:  reaction.Effect{Kind: reaction.EffectAssertConstant, Constant: value.Int(1)},
	}
	require.NoError(t, mgr.Register(r))
	require.NoError(t, mgr.Unregister(r.ID))
	require.Empty(t, mgr.List())

	eng2 := pattern.NewEngine()
	mgr2 := reaction.NewManager(store, eng2)
	require.NoError(t, mgr2.Load())
	require.Empty(t, mgr2.List())
}
