package actor

import (
	"github.com/cuemby/loom/pkg/ids"
	"github.com/cuemby/loom/pkg/rterrors"
	"github.com/cuemby/loom/pkg/state"
	"github.com/cuemby/loom/pkg/turn"
	"github.com/cuemby/loom/pkg/value"
)

// ExecuteTurn dispatches every input in a turn to the target facet's entity,
// accumulating outputs and a state delta in a single activation. If any
// callback returns an error, all accumulated effects are discarded and the
// turn fails as a whole: no partial state ever reaches the actor's CRDTs.
func ExecuteTurn(a *Actor, clock turn.LogicalClock, inputs []turn.Input) ([]turn.Output, state.Delta, error) {
	act := newActivation(a, a.RootFacet)

	for _, in := range inputs {
		if err := dispatch(a, act, in); err != nil {
			return nil, state.Delta{}, &rterrors.ActorError{
				Kind: rterrors.ActorExecutionFailed, Actor: a.ID.String(), Detail: err.Error(), Err: err,
			}
		}
		if act.failed {
			return nil, state.Delta{}, &rterrors.ActorError{
				Kind: rterrors.ActorExecutionFailed, Actor: a.ID.String(), Detail: "activation marked failed",
			}
		}
	}

	act.delta.Accounts = state.AccountDelta{Borrowed: act.borrowed, Repaid: act.repaid}
	applyDelta(a, act.delta)
	return act.outputs, act.delta, nil
}

func dispatch(a *Actor, act *Activation, in turn.Input) error {
	switch in.Kind {
	case turn.InputExternalMessage, turn.InputMessage:
		f, err := a.Facet(in.Facet)
		if err != nil {
			return err
		}
		act.facet = in.Facet
		return f.Entity.OnMessage(act, in.Payload)

	case turn.InputAssert:
		f, err := a.Facet(in.Facet)
		if err != nil {
			return err
		}
		act.facet = in.Facet
		return f.Entity.OnAssert(act, in.Handle, in.Value)

	case turn.InputRetract:
		f, err := a.Facet(in.Facet)
		if err != nil {
			return err
		}
		act.facet = in.Facet
		return f.Entity.OnRetract(act, in.Handle)

	case turn.InputTimer:
		f, err := a.Facet(a.RootFacet)
		if err != nil {
			return err
		}
		act.facet = f.ID
		return f.Entity.OnMessage(act, value.Record("timer_fired", value.Symbol(in.TimerID.String())))

	case turn.InputSync:
		f, err := a.Facet(in.Facet)
		if err != nil {
			return err
		}
		act.facet = in.Facet
		return f.Entity.OnMessage(act, value.Record("sync"))

	case turn.InputExternalResponse:
		f, err := a.Facet(a.RootFacet)
		if err != nil {
			return err
		}
		act.facet = f.ID
		return f.Entity.OnMessage(act, value.Record("external_response", value.String(in.RequestID), in.Payload, value.String(in.Err)))

	case turn.InputRemote:
		f, err := a.Facet(a.RootFacet)
		if err != nil {
			return err
		}
		act.facet = f.ID
		return f.Entity.OnMessage(act, value.Record("remote", value.String(in.Origin), in.Payload))

	default:
		return &rterrors.ActorError{Kind: rterrors.ActorInvalidActivation, Actor: a.ID.String(), Detail: "unknown input kind"}
	}
}

// ExecuteEffect runs fn against a fresh activation scoped to facet and, on
// success, commits its accumulated delta exactly as ExecuteTurn does. Unlike
// ExecuteTurn it does not dispatch through an entity's callbacks: it is the
// seam pkg/reaction and capability invocation use to apply an effect as its
// own atomic turn without pretending it arrived as ordinary entity input.
func ExecuteEffect(a *Actor, facet ids.FacetId, fn func(*Activation) error) ([]turn.Output, state.Delta, error) {
	act := newActivation(a, facet)
	if err := fn(act); err != nil {
		return nil, state.Delta{}, &rterrors.ActorError{
			Kind: rterrors.ActorExecutionFailed, Actor: a.ID.String(), Detail: err.Error(), Err: err,
		}
	}
	if act.failed {
		return nil, state.Delta{}, &rterrors.ActorError{
			Kind: rterrors.ActorExecutionFailed, Actor: a.ID.String(), Detail: "activation marked failed",
		}
	}
	act.delta.Accounts = state.AccountDelta{Borrowed: act.borrowed, Repaid: act.repaid}
	applyDelta(a, act.delta)
	return act.outputs, act.delta, nil
}

// applyDelta folds a turn's accumulated delta into the actor's own CRDTs.
// It is only ever called after ExecuteTurn or ExecuteEffect confirms every
// callback or effect succeeded.
func applyDelta(a *Actor, d state.Delta) {
	a.Assertions.Apply(d.Assertions)
	a.Caps.Apply(d.Capabilities)
	a.Account.Apply(d.Accounts)

	for _, meta := range d.Facets.Spawned {
		if _, exists := a.facets[meta.ID]; !exists {
			a.facets[meta.ID] = &Facet{ID: meta.ID, Parent: meta.Parent}
		}
	}
	for _, id := range d.Facets.Terminated {
		delete(a.facets, id)
	}
}
