package actor

import (
	"github.com/cuemby/loom/pkg/ids"
	"github.com/cuemby/loom/pkg/rterrors"
	"github.com/cuemby/loom/pkg/state"
	"github.com/cuemby/loom/pkg/turn"
	"github.com/cuemby/loom/pkg/value"
)

// Activation is the mutable receipt for one turn's effects. Entity callbacks
// accumulate intent into it; they never mutate shared state directly. The
// runtime applies the resulting delta and outputs atomically only after
// every callback for the turn has returned without error.
type Activation struct {
	actor *Actor
	facet ids.FacetId

	outputs []turn.Output
	delta   state.Delta

	borrowed int64
	repaid   int64

	failed bool
}

func newActivation(a *Actor, facet ids.FacetId) *Activation {
	return &Activation{actor: a, facet: facet}
}

// Actor returns the id of the actor this activation runs for.
func (act *Activation) Actor() ids.ActorId { return act.actor.ID }

// Facet returns the facet this activation is scoped to.
func (act *Activation) Facet() ids.FacetId { return act.facet }

// Assert publishes a fresh value under a new handle, returning the handle.
func (act *Activation) Assert(v value.Value) ids.Handle {
	handle := ids.NewHandle()
	version := ids.NewVersion()
	act.delta.Assertions.Added = append(act.delta.Assertions.Added, state.AssertionAdd{
		Actor: act.actor.ID, Handle: handle, Value: v, Version: version,
	})
	act.outputs = append(act.outputs, turn.Output{Kind: turn.OutputAssert, Handle: handle, Value: v})
	return handle
}

// Retract retracts a previously asserted handle, resolving its true active
// version so the tombstone dominates the add it targets.
func (act *Activation) Retract(handle ids.Handle) error {
	version, ok := act.actor.Assertions.ActiveVersion(act.actor.ID, handle)
	if !ok {
		return &rterrors.ActorError{Kind: rterrors.ActorInvalidActivation, Actor: act.actor.ID.String(), Detail: "retract of unknown handle " + handle.String()}
	}
	act.delta.Assertions.Retracted = append(act.delta.Assertions.Retracted, state.AssertionRetraction{
		Actor: act.actor.ID, Handle: handle, Version: version,
	})
	act.outputs = append(act.outputs, turn.Output{Kind: turn.OutputRetract, Handle: handle})
	return nil
}

// SendMessage emits a message to another actor's facet.
func (act *Activation) SendMessage(target ids.ActorId, targetFacet ids.FacetId, payload value.Value) {
	act.outputs = append(act.outputs, turn.Output{Kind: turn.OutputMessage, TargetActor: target, TargetFacet: targetFacet, Payload: payload})
}

// SpawnFacet records a new child facet of parent.
func (act *Activation) SpawnFacet(parent ids.FacetId) ids.FacetId {
	id := ids.NewFacetId()
	p := parent
	act.delta.Facets.Spawned = append(act.delta.Facets.Spawned, state.FacetMetadata{
		ID: id, Parent: &p, Status: state.FacetAlive, Actor: act.actor.ID,
	})
	act.outputs = append(act.outputs, turn.Output{Kind: turn.OutputFacetSpawned, Facet: id, Parent: parent})
	return id
}

// TerminateFacet records the termination of a facet and all its descendants.
func (act *Activation) TerminateFacet(facet ids.FacetId) {
	for _, id := range act.actor.Descendants(facet) {
		act.delta.Facets.Terminated = append(act.delta.Facets.Terminated, id)
		act.outputs = append(act.outputs, turn.Output{Kind: turn.OutputFacetTerminated, Facet: id})
	}
}

// RegisterTimer records a new timer with the given deadline.
func (act *Activation) RegisterTimer(deadline turn.LogicalClock) ids.TimerId {
	id := ids.NewTimerId()
	act.delta.Timers.Registered = append(act.delta.Timers.Registered, state.TimerMetadata{
		ID: id, Actor: act.actor.ID, Facet: act.facet, Deadline: uint64(deadline),
	})
	act.outputs = append(act.outputs, turn.Output{Kind: turn.OutputTimerRegistered, TimerID: id, Deadline: deadline})
	return id
}

// GrantCapability records a new capability granted by this facet.
func (act *Activation) GrantCapability(target *ids.ActorId, kind string, attenuation []string) ids.CapId {
	id := ids.NewCapId()
	act.delta.Capabilities.Granted = append(act.delta.Capabilities.Granted, state.CapabilityMetadata{
		ID: id, HolderActor: act.actor.ID, HolderFacet: act.facet, Target: target, Kind: kind, Attenuation: attenuation, Status: state.CapabilityActive,
	})
	act.outputs = append(act.outputs, turn.Output{Kind: turn.OutputCapabilityGranted, CapID: id})
	return id
}

// RevokeCapability records a capability's revocation.
func (act *Activation) RevokeCapability(cap ids.CapId) {
	act.delta.Capabilities.Revoked = append(act.delta.Capabilities.Revoked, cap)
	act.outputs = append(act.outputs, turn.Output{Kind: turn.OutputCapabilityRevoked, CapID: cap})
}

// EmitExternalRequest records an outbound request to a background helper,
// tagged with a caller-chosen request id so the eventual ExternalResponse
// input can be correlated back to this call.
func (act *Activation) EmitExternalRequest(requestID string, payload value.Value) {
	act.outputs = append(act.outputs, turn.Output{Kind: turn.OutputExternalRequest, RequestID: requestID, Payload: payload})
}

// RecordCapabilityInvocation records the result of a capability invocation
// handled during this turn.
func (act *Activation) RecordCapabilityInvocation(cap ids.CapId, result value.Value) {
	act.outputs = append(act.outputs, turn.Output{Kind: turn.OutputCapabilityInvoked, CapID: cap, Result: result})
}

// Borrow records flow-control tokens consumed by this turn.
func (act *Activation) Borrow(n int64) { act.borrowed += n }

// Repay records flow-control tokens returned by this turn.
func (act *Activation) Repay(n int64) { act.repaid += n }

// Fail marks the activation as failed; ExecuteTurn discards all accumulated
// effects for a failed activation.
func (act *Activation) Fail() { act.failed = true }
