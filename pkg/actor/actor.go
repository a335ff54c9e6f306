// Package actor implements the isolation unit of the runtime: actors, their
// facet trees, the entity interface entities must implement, the entity
// catalog, and the activation context a turn's entity callbacks run inside.
package actor

import (
	"fmt"
	"sync"

	"github.com/cuemby/loom/pkg/ids"
	"github.com/cuemby/loom/pkg/rterrors"
	"github.com/cuemby/loom/pkg/state"
	"github.com/cuemby/loom/pkg/value"
)

// Entity is the callback surface attached to a facet. Only OnMessage is
// mandatory; EntityBase supplies defaults for the rest (see EntityBase).
type Entity interface {
	OnMessage(act *Activation, payload value.Value) error
	OnAssert(act *Activation, handle ids.Handle, v value.Value) error
	OnRetract(act *Activation, handle ids.Handle) error
	OnCapabilityInvoke(act *Activation, cap state.CapabilityMetadata, payload value.Value) (value.Value, error)
	OnStop(act *Activation) error
}

// HydratableEntity is an extension capability: entities that implement it
// are snapshotted and restored by value instead of being rebuilt from their
// factory and original configuration.
type HydratableEntity interface {
	Entity
	SnapshotState() value.Value
	RestoreState(v value.Value) error
}

// EntityBase supplies defaults for every optional Entity callback: no-ops,
// except OnCapabilityInvoke, which fails with a CapabilityDenied error.
// Concrete entities embed it and override only what they need.
type EntityBase struct{}

func (EntityBase) OnMessage(*Activation, value.Value) error { return nil }
func (EntityBase) OnAssert(*Activation, ids.Handle, value.Value) error { return nil }
func (EntityBase) OnRetract(*Activation, ids.Handle) error { return nil }
func (EntityBase) OnCapabilityInvoke(*Activation, state.CapabilityMetadata, value.Value) (value.Value, error) {
	return value.Value{}, &rterrors.CapabilityError{Kind: rterrors.CapabilityDenied, Detail: "entity does not implement capability invocation"}
}
func (EntityBase) OnStop(*Activation) error { return nil }

// Factory builds an Entity from a JSON-ish configuration value.
type Factory func(config value.Value) (Entity, error)

// Registry is the process-wide entity catalog: a name -> factory map.
// Each type name can be registered once.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory under name. A name is claimed once: any later
// Register under the same name returns an error, even with the same factory
// (functions aren't comparable, so an identical factory cannot be detected).
func (r *Registry) Register(name string, f Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("actor: entity type %q already registered", name)
	}
	r.factories[name] = f
	return nil
}

// Build instantiates a new entity of the named type.
func (r *Registry) Build(name string, config value.Value) (Entity, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, &rterrors.ActorError{Kind: rterrors.ActorInvalidActivation, Detail: fmt.Sprintf("unknown entity type %q", name)}
	}
	return f(config)
}

// Facet is one node of an actor's facet tree, attached to at most one
// entity.
type Facet struct {
	ID       ids.FacetId
	Parent   *ids.FacetId
	Entity   Entity
	TypeName string
	Config   value.Value
}

// Actor is the isolation boundary owning its facet tree, assertions,
// capabilities, and flow-control account.
type Actor struct {
	ID         ids.ActorId
	RootFacet  ids.FacetId
	facets     map[ids.FacetId]*Facet
	Assertions *state.AssertionSet
	Caps       *state.CapabilityMap
	Account    state.Account
}

// New constructs an actor with a fresh root facet attached to the given
// entity.
func New(entity Entity, typeName string, config value.Value) *Actor {
	actorID := ids.NewActorId()
	root := ids.NewFacetId()
	a := &Actor{
		ID:         actorID,
		RootFacet:  root,
		facets:     make(map[ids.FacetId]*Facet),
		Assertions: state.NewAssertionSet(),
		Caps:       state.NewCapabilityMap(),
	}
	a.facets[root] = &Facet{ID: root, Entity: entity, TypeName: typeName, Config: config}
	return a
}

// Restore constructs an actor with a pre-existing id, used when rebuilding
// actors recorded in the dataspace's entity catalog after a runtime reopen.
// The root facet gets a fresh id: facet ids are routing state scoped to the
// runtime's current process, not an identity the dataspace catalog tracks.
func Restore(id ids.ActorId, entity Entity, typeName string, config value.Value) *Actor {
	root := ids.NewFacetId()
	a := &Actor{
		ID:         id,
		RootFacet:  root,
		facets:     make(map[ids.FacetId]*Facet),
		Assertions: state.NewAssertionSet(),
		Caps:       state.NewCapabilityMap(),
	}
	a.facets[root] = &Facet{ID: root, Entity: entity, TypeName: typeName, Config: config}
	return a
}

// Facet returns the facet for id, if it belongs to this actor.
func (a *Actor) Facet(id ids.FacetId) (*Facet, error) {
	f, ok := a.facets[id]
	if !ok {
		return nil, &rterrors.ActorError{Kind: rterrors.ActorFacetNotFound, Actor: a.ID.String(), Detail: id.String()}
	}
	return f, nil
}

// SpawnFacet attaches a new child facet under parent, owned by entity.
func (a *Actor) SpawnFacet(parent ids.FacetId, entity Entity, typeName string, config value.Value) (ids.FacetId, error) {
	if _, err := a.Facet(parent); err != nil {
		return ids.FacetId{}, err
	}
	id := ids.NewFacetId()
	p := parent
	a.facets[id] = &Facet{ID: id, Parent: &p, Entity: entity, TypeName: typeName, Config: config}
	return id, nil
}

// Children returns the direct children of a facet.
func (a *Actor) Children(parent ids.FacetId) []ids.FacetId {
	var out []ids.FacetId
	for id, f := range a.facets {
		if f.Parent != nil && *f.Parent == parent {
			out = append(out, id)
		}
	}
	return out
}

// Descendants returns every facet reachable from parent, including parent
// itself, in no particular order.
func (a *Actor) Descendants(parent ids.FacetId) []ids.FacetId {
	out := []ids.FacetId{parent}
	for _, child := range a.Children(parent) {
		out = append(out, a.Descendants(child)...)
	}
	return out
}
