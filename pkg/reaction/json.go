package reaction

import (
	"fmt"

	"github.com/cuemby/loom/pkg/ids"
	"github.com/cuemby/loom/pkg/value"
)

// reactionJSON is the on-disk representation of a Reaction. value.Value
// fields are carried as their canonical binary encoding, since value.Value
// itself has no JSON representation (see pkg/state/json.go for the same
// pattern applied to CRDT state).
type reactionJSON struct {
	ID      string
	Actor   ids.ActorId
	Facet   ids.FacetId
	Pattern []byte

	EffectKind  EffectKind
	Constant    []byte `json:",omitempty"`
	Template    []byte `json:",omitempty"`
	TargetActor ids.ActorId `json:",omitempty"`
	TargetFacet ids.FacetId `json:",omitempty"`
	CapID       ids.CapId   `json:",omitempty"`
}

func fromReaction(r Reaction) (reactionJSON, error) {
	patternBytes, err := value.Encode(nil, r.Pattern)
	if err != nil {
		return reactionJSON{}, fmt.Errorf("reaction: encode pattern: %w", err)
	}
	rj := reactionJSON{
		ID:          r.ID.String(),
		Actor:       r.Actor,
		Facet:       r.Facet,
		Pattern:     patternBytes,
		EffectKind:  r.Effect.Kind,
		TargetActor: r.Effect.TargetActor,
		TargetFacet: r.Effect.TargetFacet,
		CapID:       r.Effect.CapID,
	}
	if r.Effect.Kind == EffectAssertConstant {
		b, err := value.Encode(nil, r.Effect.Constant)
		if err != nil {
			return reactionJSON{}, fmt.Errorf("reaction: encode constant: %w", err)
		}
		rj.Constant = b
	}
	if r.Effect.Kind == EffectAssertProjection || r.Effect.Kind == EffectSendMessage || r.Effect.Kind == EffectInvokeCapability {
		b, err := value.Encode(nil, r.Effect.Template)
		if err != nil {
			return reactionJSON{}, fmt.Errorf("reaction: encode template: %w", err)
		}
		rj.Template = b
	}
	return rj, nil
}

func (rj reactionJSON) toReaction() (Reaction, error) {
	var id ids.PatternId
	if err := id.UnmarshalText([]byte(rj.ID)); err != nil {
		return Reaction{}, fmt.Errorf("reaction: parse id: %w", err)
	}
	pat, _, err := value.Decode(rj.Pattern)
	if err != nil {
		return Reaction{}, fmt.Errorf("reaction: decode pattern: %w", err)
	}
	effect := Effect{
		Kind:        rj.EffectKind,
		TargetActor: rj.TargetActor,
		TargetFacet: rj.TargetFacet,
		CapID:       rj.CapID,
	}
	if len(rj.Constant) > 0 {
		v, _, err := value.Decode(rj.Constant)
		if err != nil {
			return Reaction{}, fmt.Errorf("reaction: decode constant: %w", err)
		}
		effect.Constant = v
	}
	if len(rj.Template) > 0 {
		v, _, err := value.Decode(rj.Template)
		if err != nil {
			return Reaction{}, fmt.Errorf("reaction: decode template: %w", err)
		}
		effect.Template = v
	}
	return Reaction{ID: id, Actor: rj.Actor, Facet: rj.Facet, Pattern: pat, Effect: effect}, nil
}
