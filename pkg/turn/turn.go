// Package turn defines the atomic unit of execution: its identifier, inputs,
// outputs, and the record persisted to the journal.
package turn

import (
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/blake2b"

	"github.com/cuemby/loom/pkg/ids"
	"github.com/cuemby/loom/pkg/state"
	"github.com/cuemby/loom/pkg/value"
)

// LogicalClock is a monotone, per-actor counter. Turn order within an actor
// equals clock order.
type LogicalClock uint64

func ZeroClock() LogicalClock { return LogicalClock(0) }

// Next returns the clock value one turn ahead; it does not mutate c.
func (c LogicalClock) Next() LogicalClock { return c + 1 }

// TurnID is a content-addressed identifier: "turn_" followed by the lower-hex
// BLAKE2b-256 digest of the canonical encoding of (actor, clock, inputs).
type TurnID string

// ZeroTurnID is the sentinel returned when no common ancestor exists between
// two branches (see pkg/branch.FindLCA).
const ZeroTurnID TurnID = "turn_" + zeroHex

const zeroHex = "0000000000000000000000000000000000000000000000000000000000000000"

// Cause names why a turn was scheduled. It does not affect ordering; it is
// carried only for observability.
type Cause string

const (
	CauseExternal         Cause = "external"
	CauseMessage          Cause = "message"
	CauseTimer            Cause = "timer"
	CauseSync             Cause = "sync"
	CauseExternalResponse Cause = "external_response"
	CauseRemote           Cause = "remote"
)

// InputKind discriminates TurnInput variants.
type InputKind string

const (
	InputExternalMessage  InputKind = "external_message"
	InputMessage          InputKind = "message"
	InputAssert           InputKind = "assert"
	InputRetract          InputKind = "retract"
	InputTimer            InputKind = "timer"
	InputSync             InputKind = "sync"
	InputExternalResponse InputKind = "external_response"
	InputRemote           InputKind = "remote"
)

// Input is one unit of work delivered to an actor during a turn.
type Input struct {
	Kind InputKind

	Actor   ids.ActorId
	Facet   ids.FacetId
	Handle  ids.Handle
	Payload value.Value
	Value   value.Value

	TimerID  ids.TimerId
	Deadline LogicalClock

	RequestID string
	Err       string

	Origin string
}

func ExternalMessage(actor ids.ActorId, facet ids.FacetId, payload value.Value) Input {
	return Input{Kind: InputExternalMessage, Actor: actor, Facet: facet, Payload: payload}
}

func Message(actor ids.ActorId, facet ids.FacetId, payload value.Value) Input {
	return Input{Kind: InputMessage, Actor: actor, Facet: facet, Payload: payload}
}

// Assert delivers a newly observed assertion to the facet that registered a
// matching pattern, so its entity's OnAssert runs.
func Assert(actor ids.ActorId, facet ids.FacetId, handle ids.Handle, v value.Value) Input {
	return Input{Kind: InputAssert, Actor: actor, Facet: facet, Handle: handle, Value: v}
}

// Retract delivers a retraction observation to the facet that registered a
// matching pattern, so its entity's OnRetract runs.
func Retract(actor ids.ActorId, facet ids.FacetId, handle ids.Handle) Input {
	return Input{Kind: InputRetract, Actor: actor, Facet: facet, Handle: handle}
}

func Sync(actor ids.ActorId, facet ids.FacetId) Input {
	return Input{Kind: InputSync, Actor: actor, Facet: facet}
}

// CauseOf reports the scheduling cause implied by an input's kind.
func (i Input) CauseOf() Cause {
	switch i.Kind {
	case InputExternalMessage:
		return CauseExternal
	case InputMessage:
		return CauseMessage
	case InputAssert, InputRetract:
		return CauseMessage
	case InputTimer:
		return CauseTimer
	case InputSync:
		return CauseSync
	case InputExternalResponse:
		return CauseExternalResponse
	case InputRemote:
		return CauseRemote
	default:
		return CauseExternal
	}
}

// canonicalValue renders an Input as a value.Value so it can participate in
// the canonical encoding used for turn-id hashing (the journal encodes
// inputs with ToValue instead).
func (i Input) canonicalValue() value.Value {
	switch i.Kind {
	case InputExternalMessage:
		return value.Record("external_message", value.Symbol(i.Facet.String()), i.Payload)
	case InputMessage:
		return value.Record("message", value.Symbol(i.Facet.String()), i.Payload)
	case InputAssert:
		return value.Record("assert", value.Symbol(i.Facet.String()), value.Symbol(i.Handle.String()), i.Value)
	case InputRetract:
		return value.Record("retract", value.Symbol(i.Facet.String()), value.Symbol(i.Handle.String()))
	case InputTimer:
		return value.Record("timer", value.Symbol(i.TimerID.String()), value.Int(int64(i.Deadline)))
	case InputSync:
		return value.Record("sync", value.Symbol(i.Facet.String()))
	case InputExternalResponse:
		return value.Record("external_response", value.String(i.RequestID), i.Payload, value.String(i.Err))
	case InputRemote:
		return value.Record("remote", value.String(i.Origin), i.Payload)
	default:
		return value.Symbol("unknown")
	}
}

// OutputKind discriminates TurnOutput variants.
type OutputKind string

const (
	OutputAssert             OutputKind = "assert"
	OutputRetract            OutputKind = "retract"
	OutputMessage            OutputKind = "message"
	OutputFacetSpawned       OutputKind = "facet_spawned"
	OutputFacetTerminated    OutputKind = "facet_terminated"
	OutputTimerRegistered    OutputKind = "timer_registered"
	OutputCapabilityGranted  OutputKind = "capability_granted"
	OutputCapabilityRevoked  OutputKind = "capability_revoked"
	OutputExternalRequest    OutputKind = "external_request"
	OutputCapabilityInvoked  OutputKind = "capability_invoked"
	OutputSynced             OutputKind = "synced"
)

// Output is one effect produced by a turn.
type Output struct {
	Kind OutputKind

	Handle ids.Handle
	Value  value.Value

	TargetActor ids.ActorId
	TargetFacet ids.FacetId
	Payload     value.Value

	Facet  ids.FacetId
	Parent ids.FacetId

	TimerID  ids.TimerId
	Deadline LogicalClock

	CapID  ids.CapId
	Result value.Value

	RequestID string
}

// Record is the durable, replayable representation of one executed turn.
// Timestamp is debug-only and excluded from the turn id hash.
type Record struct {
	TurnID    TurnID
	Actor     ids.ActorId
	Branch    ids.BranchId
	Clock     LogicalClock
	Parent    *TurnID
	Inputs    []Input
	Outputs   []Output
	Delta     state.Delta
	Timestamp int64
}

// ComputeTurnID derives the content-addressed turn id from (actor, clock,
// inputs). Equal content yields an equal id deterministically; any change to
// inputs changes the id.
func ComputeTurnID(actor ids.ActorId, clock LogicalClock, inputs []Input) (TurnID, error) {
	vals := make([]value.Value, 0, len(inputs)+2)
	vals = append(vals, value.Symbol(actor.String()))
	vals = append(vals, value.Int(int64(clock)))
	for _, in := range inputs {
		vals = append(vals, in.canonicalValue())
	}
	encoded, err := value.EncodeValues(vals)
	if err != nil {
		return "", fmt.Errorf("turn: compute turn id: %w", err)
	}
	digest := blake2b.Sum256(encoded)
	return TurnID("turn_" + hex.EncodeToString(digest[:])), nil
}

// NewRecord builds a Record, computing its TurnID from the given inputs.
func NewRecord(actor ids.ActorId, branch ids.BranchId, clock LogicalClock, parent *TurnID, inputs []Input, outputs []Output, delta state.Delta, timestamp int64) (Record, error) {
	id, err := ComputeTurnID(actor, clock, inputs)
	if err != nil {
		return Record{}, err
	}
	return Record{
		TurnID:    id,
		Actor:     actor,
		Branch:    branch,
		Clock:     clock,
		Parent:    parent,
		Inputs:    inputs,
		Outputs:   outputs,
		Delta:     delta,
		Timestamp: timestamp,
	}, nil
}
