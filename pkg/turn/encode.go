package turn

import (
	"fmt"

	"github.com/cuemby/loom/pkg/ids"
	"github.com/cuemby/loom/pkg/state"
	"github.com/cuemby/loom/pkg/value"
)

// ToValue renders an Input in full fidelity (unlike canonicalValue, which
// intentionally omits fields that don't participate in the turn-id hash).
func (i Input) ToValue() value.Value {
	switch i.Kind {
	case InputExternalMessage:
		return value.Record(string(i.Kind), value.Symbol(i.Actor.String()), value.Symbol(i.Facet.String()), i.Payload)
	case InputMessage:
		return value.Record(string(i.Kind), value.Symbol(i.Actor.String()), value.Symbol(i.Facet.String()), i.Payload)
	case InputAssert:
		return value.Record(string(i.Kind), value.Symbol(i.Actor.String()), value.Symbol(i.Facet.String()), value.Symbol(i.Handle.String()), i.Value)
	case InputRetract:
		return value.Record(string(i.Kind), value.Symbol(i.Actor.String()), value.Symbol(i.Facet.String()), value.Symbol(i.Handle.String()))
	case InputTimer:
		return value.Record(string(i.Kind), value.Symbol(i.Actor.String()), value.Symbol(i.TimerID.String()), value.Int(int64(i.Deadline)))
	case InputSync:
		return value.Record(string(i.Kind), value.Symbol(i.Actor.String()), value.Symbol(i.Facet.String()))
	case InputExternalResponse:
		return value.Record(string(i.Kind), value.Symbol(i.Actor.String()), value.String(i.RequestID), i.Payload, value.String(i.Err))
	case InputRemote:
		return value.Record(string(i.Kind), value.Symbol(i.Actor.String()), value.String(i.Origin), i.Payload)
	default:
		return value.Symbol("unknown")
	}
}

// InputFromValue parses an Input previously produced by Input.ToValue.
func InputFromValue(v value.Value) (Input, error) {
	if v.Kind() != value.KindRecord {
		return Input{}, fmt.Errorf("turn: expected record for input, got %v", v.Kind())
	}
	kind := InputKind(v.Label())
	f := v.Fields()
	actor, err := parseActorId(f[0].String())
	if err != nil {
		return Input{}, err
	}
	switch kind {
	case InputExternalMessage, InputMessage:
		facet, err := parseFacetId(f[1].String())
		if err != nil {
			return Input{}, err
		}
		return Input{Kind: kind, Actor: actor, Facet: facet, Payload: f[2]}, nil
	case InputAssert:
		facet, err := parseFacetId(f[1].String())
		if err != nil {
			return Input{}, err
		}
		handle, err := parseHandle(f[2].String())
		if err != nil {
			return Input{}, err
		}
		return Input{Kind: kind, Actor: actor, Facet: facet, Handle: handle, Value: f[3]}, nil
	case InputRetract:
		facet, err := parseFacetId(f[1].String())
		if err != nil {
			return Input{}, err
		}
		handle, err := parseHandle(f[2].String())
		if err != nil {
			return Input{}, err
		}
		return Input{Kind: kind, Actor: actor, Facet: facet, Handle: handle}, nil
	case InputTimer:
		timerID, err := parseTimerId(f[1].String())
		if err != nil {
			return Input{}, err
		}
		return Input{Kind: kind, Actor: actor, TimerID: timerID, Deadline: LogicalClock(f[2].Int())}, nil
	case InputSync:
		facet, err := parseFacetId(f[1].String())
		if err != nil {
			return Input{}, err
		}
		return Input{Kind: kind, Actor: actor, Facet: facet}, nil
	case InputExternalResponse:
		return Input{Kind: kind, Actor: actor, RequestID: f[1].String(), Payload: f[2], Err: f[3].String()}, nil
	case InputRemote:
		return Input{Kind: kind, Actor: actor, Origin: f[1].String(), Payload: f[2]}, nil
	default:
		return Input{}, fmt.Errorf("turn: unknown input kind %q", kind)
	}
}

// ToValue renders an Output in full fidelity.
func (o Output) ToValue() value.Value {
	switch o.Kind {
	case OutputAssert:
		return value.Record(string(o.Kind), value.Symbol(o.Handle.String()), o.Value)
	case OutputRetract:
		return value.Record(string(o.Kind), value.Symbol(o.Handle.String()))
	case OutputMessage:
		return value.Record(string(o.Kind), value.Symbol(o.TargetActor.String()), value.Symbol(o.TargetFacet.String()), o.Payload)
	case OutputFacetSpawned:
		parent := value.Symbol("")
		if o.Parent != (ids.FacetId{}) {
			parent = value.Symbol(o.Parent.String())
		}
		return value.Record(string(o.Kind), value.Symbol(o.Facet.String()), parent)
	case OutputFacetTerminated:
		return value.Record(string(o.Kind), value.Symbol(o.Facet.String()))
	case OutputTimerRegistered:
		return value.Record(string(o.Kind), value.Symbol(o.TimerID.String()), value.Int(int64(o.Deadline)))
	case OutputCapabilityGranted:
		return value.Record(string(o.Kind), value.Symbol(o.CapID.String()))
	case OutputCapabilityRevoked:
		return value.Record(string(o.Kind), value.Symbol(o.CapID.String()))
	case OutputExternalRequest:
		return value.Record(string(o.Kind), value.String(o.RequestID), o.Payload)
	case OutputCapabilityInvoked:
		return value.Record(string(o.Kind), value.Symbol(o.CapID.String()), o.Result)
	case OutputSynced:
		return value.Record(string(o.Kind), value.Symbol(o.Facet.String()))
	default:
		return value.Symbol("unknown")
	}
}

// OutputFromValue parses an Output previously produced by Output.ToValue.
func OutputFromValue(v value.Value) (Output, error) {
	if v.Kind() != value.KindRecord {
		return Output{}, fmt.Errorf("turn: expected record for output, got %v", v.Kind())
	}
	kind := OutputKind(v.Label())
	f := v.Fields()
	switch kind {
	case OutputAssert:
		handle, err := parseHandle(f[0].String())
		if err != nil {
			return Output{}, err
		}
		return Output{Kind: kind, Handle: handle, Value: f[1]}, nil
	case OutputRetract:
		handle, err := parseHandle(f[0].String())
		if err != nil {
			return Output{}, err
		}
		return Output{Kind: kind, Handle: handle}, nil
	case OutputMessage:
		targetActor, err := parseActorId(f[0].String())
		if err != nil {
			return Output{}, err
		}
		targetFacet, err := parseFacetId(f[1].String())
		if err != nil {
			return Output{}, err
		}
		return Output{Kind: kind, TargetActor: targetActor, TargetFacet: targetFacet, Payload: f[2]}, nil
	case OutputFacetSpawned:
		facet, err := parseFacetId(f[0].String())
		if err != nil {
			return Output{}, err
		}
		var parent ids.FacetId
		if f[1].String() != "" {
			parent, err = parseFacetId(f[1].String())
			if err != nil {
				return Output{}, err
			}
		}
		return Output{Kind: kind, Facet: facet, Parent: parent}, nil
	case OutputFacetTerminated:
		facet, err := parseFacetId(f[0].String())
		if err != nil {
			return Output{}, err
		}
		return Output{Kind: kind, Facet: facet}, nil
	case OutputTimerRegistered:
		timerID, err := parseTimerId(f[0].String())
		if err != nil {
			return Output{}, err
		}
		return Output{Kind: kind, TimerID: timerID, Deadline: LogicalClock(f[1].Int())}, nil
	case OutputCapabilityGranted, OutputCapabilityRevoked:
		capID, err := parseCapId(f[0].String())
		if err != nil {
			return Output{}, err
		}
		return Output{Kind: kind, CapID: capID}, nil
	case OutputExternalRequest:
		return Output{Kind: kind, RequestID: f[0].String(), Payload: f[1]}, nil
	case OutputCapabilityInvoked:
		capID, err := parseCapId(f[0].String())
		if err != nil {
			return Output{}, err
		}
		return Output{Kind: kind, CapID: capID, Result: f[1]}, nil
	case OutputSynced:
		facet, err := parseFacetId(f[0].String())
		if err != nil {
			return Output{}, err
		}
		return Output{Kind: kind, Facet: facet}, nil
	default:
		return Output{}, fmt.Errorf("turn: unknown output kind %q", kind)
	}
}

// ToValue renders a Record as a semi-structured value for canonical encoding.
func (r Record) ToValue() (value.Value, error) {
	inputs := make([]value.Value, 0, len(r.Inputs))
	for _, in := range r.Inputs {
		inputs = append(inputs, in.ToValue())
	}
	outputs := make([]value.Value, 0, len(r.Outputs))
	for _, out := range r.Outputs {
		outputs = append(outputs, out.ToValue())
	}
	parent := value.Symbol("")
	if r.Parent != nil {
		parent = value.Symbol(string(*r.Parent))
	}
	return value.Record("turn_record",
		value.Symbol(string(r.TurnID)),
		value.Symbol(r.Actor.String()),
		value.Symbol(string(r.Branch)),
		value.Int(int64(r.Clock)),
		parent,
		value.Sequence(inputs...),
		value.Sequence(outputs...),
		r.Delta.ToValue(),
		value.Int(r.Timestamp),
	), nil
}

// Encode produces the canonical binary encoding of a Record.
func Encode(r Record) ([]byte, error) {
	v, err := r.ToValue()
	if err != nil {
		return nil, fmt.Errorf("turn: encode record: %w", err)
	}
	return value.Encode(nil, v)
}

// Decode parses a Record from its canonical binary encoding, returning the
// number of bytes consumed.
func Decode(buf []byte) (Record, int, error) {
	v, n, err := value.Decode(buf)
	if err != nil {
		return Record{}, 0, fmt.Errorf("turn: decode record: %w", err)
	}
	r, err := RecordFromValue(v)
	if err != nil {
		return Record{}, 0, err
	}
	return r, n, nil
}

// RecordFromValue parses a Record previously produced by Record.ToValue.
func RecordFromValue(v value.Value) (Record, error) {
	if v.Kind() != value.KindRecord || v.Label() != "turn_record" {
		return Record{}, fmt.Errorf("turn: expected turn_record, got %v", v.Kind())
	}
	f := v.Fields()
	if len(f) != 9 {
		return Record{}, fmt.Errorf("turn: turn_record has %d fields, want 9", len(f))
	}
	actor, err := parseActorId(f[1].String())
	if err != nil {
		return Record{}, err
	}
	var parent *TurnID
	if f[4].String() != "" {
		p := TurnID(f[4].String())
		parent = &p
	}
	var inputs []Input
	for _, iv := range f[5].Fields() {
		in, err := InputFromValue(iv)
		if err != nil {
			return Record{}, err
		}
		inputs = append(inputs, in)
	}
	var outputs []Output
	for _, ov := range f[6].Fields() {
		out, err := OutputFromValue(ov)
		if err != nil {
			return Record{}, err
		}
		outputs = append(outputs, out)
	}
	delta, err := state.DeltaFromValue(f[7])
	if err != nil {
		return Record{}, err
	}
	return Record{
		TurnID:    TurnID(f[0].String()),
		Actor:     actor,
		Branch:    ids.BranchId(f[2].String()),
		Clock:     LogicalClock(f[3].Int()),
		Parent:    parent,
		Inputs:    inputs,
		Outputs:   outputs,
		Delta:     delta,
		Timestamp: f[8].Int(),
	}, nil
}

func parseActorId(s string) (ids.ActorId, error) {
	var a ids.ActorId
	err := a.UnmarshalText([]byte(s))
	return a, err
}

func parseFacetId(s string) (ids.FacetId, error) {
	var f ids.FacetId
	err := f.UnmarshalText([]byte(s))
	return f, err
}

func parseHandle(s string) (ids.Handle, error) {
	var h ids.Handle
	err := h.UnmarshalText([]byte(s))
	return h, err
}

func parseCapId(s string) (ids.CapId, error) {
	var c ids.CapId
	err := c.UnmarshalText([]byte(s))
	return c, err
}

func parseTimerId(s string) (ids.TimerId, error) {
	var t ids.TimerId
	err := t.UnmarshalText([]byte(s))
	return t, err
}
