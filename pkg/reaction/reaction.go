// Package reaction implements standing reactions: facet-scoped rules that
// fire an effect automatically whenever an assertion matching their pattern
// appears anywhere in the dataspace. Reactions are registered once and
// persisted, so they survive process restarts without the entity that
// installed them re-running any setup code.
package reaction

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/cuemby/loom/pkg/actor"
	"github.com/cuemby/loom/pkg/ids"
	"github.com/cuemby/loom/pkg/pattern"
	"github.com/cuemby/loom/pkg/rterrors"
	"github.com/cuemby/loom/pkg/storage"
	"github.com/cuemby/loom/pkg/value"
)

// EffectKind discriminates the shapes a reaction's effect can take.
type EffectKind string

const (
	// EffectAssertConstant asserts a fixed value, ignoring the matched
	// assertion's contents.
	EffectAssertConstant EffectKind = "assert_constant"
	// EffectAssertProjection asserts a value built by substituting the
	// matched value into a template's wildcard positions.
	EffectAssertProjection EffectKind = "assert_projection"
	// EffectSendMessage sends a message to another actor's facet, with the
	// matched value available to the payload template.
	EffectSendMessage EffectKind = "send_message"
	// EffectInvokeCapability invokes a previously granted capability with an
	// argument built from the matched value.
	EffectInvokeCapability EffectKind = "invoke_capability"
)

// Effect is the action a reaction performs each time its pattern matches.
type Effect struct {
	Kind EffectKind

	Constant value.Value
	Template value.Value

	TargetActor ids.ActorId
	TargetFacet ids.FacetId

	CapID ids.CapId
}

// Reaction is a standing rule: whenever Pattern matches an assertion visible
// to Facet, Effect fires against a synthetic activation for Actor/Facet.
type Reaction struct {
	ID      ids.PatternId
	Actor   ids.ActorId
	Facet   ids.FacetId
	Pattern value.Value
	Effect  Effect
}

// Manager owns the set of registered reactions, keeps them wired into a
// pattern engine, and persists them so they can be re-registered after a
// restart without entity code running again.
type Manager struct {
	mu    sync.RWMutex
	store storage.Storage
	eng   *pattern.Engine

	reactions map[ids.PatternId]Reaction
	byFacet   map[ids.FacetId][]ids.PatternId
}

// NewManager creates an empty reaction manager bound to eng, the runtime's
// shared pattern engine.
func NewManager(store storage.Storage, eng *pattern.Engine) *Manager {
	return &Manager{
		store:     store,
		eng:       eng,
		reactions: make(map[ids.PatternId]Reaction),
		byFacet:   make(map[ids.FacetId][]ids.PatternId),
	}
}

// Register installs a new reaction, wires its pattern into the engine, and
// persists the updated registry to disk.
func (m *Manager) Register(r Reaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if r.ID == (ids.PatternId{}) {
		r.ID = ids.NewPatternId()
	}
	m.reactions[r.ID] = r
	m.byFacet[r.Facet] = append(m.byFacet[r.Facet], r.ID)
	m.eng.Register(pattern.Pattern{ID: r.ID, Facet: r.Facet, Actor: r.Actor, Pattern: r.Pattern})
	return m.persistLocked()
}

// Unregister removes a reaction and its pattern, then persists the change.
func (m *Manager) Unregister(id ids.PatternId) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.reactions[id]
	if !ok {
		return &rterrors.ReactionError{Kind: rterrors.ReactionNotFound, ID: id.String()}
	}
	m.eng.Unregister(id)
	delete(m.reactions, id)
	plist := m.byFacet[r.Facet]
	for i, pid := range plist {
		if pid == id {
			m.byFacet[r.Facet] = append(plist[:i], plist[i+1:]...)
			break
		}
	}
	return m.persistLocked()
}

// Get returns a registered reaction by id.
func (m *Manager) Get(id ids.PatternId) (Reaction, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.reactions[id]
	return r, ok
}

// List returns every registered reaction, ordered by ID for determinism.
func (m *Manager) List() []Reaction {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Reaction, 0, len(m.reactions))
	for _, r := range m.reactions {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out
}

// Fire applies the effect for reaction id against act, using matched as the
// value that triggered the match.
func (m *Manager) Fire(id ids.PatternId, act *actor.Activation, matched value.Value) error {
	m.mu.RLock()
	r, ok := m.reactions[id]
	m.mu.RUnlock()
	if !ok {
		return &rterrors.ReactionError{Kind: rterrors.ReactionNotFound, ID: id.String()}
	}

	switch r.Effect.Kind {
	case EffectAssertConstant:
		act.Assert(r.Effect.Constant)
	case EffectAssertProjection:
		act.Assert(project(r.Effect.Template, matched))
	case EffectSendMessage:
		act.SendMessage(r.Effect.TargetActor, r.Effect.TargetFacet, project(r.Effect.Template, matched))
	case EffectInvokeCapability:
		act.RecordCapabilityInvocation(r.Effect.CapID, project(r.Effect.Template, matched))
	default:
		return fmt.Errorf("reaction: unknown effect kind %q", r.Effect.Kind)
	}
	return nil
}

// project substitutes the wildcard positions of template with matched,
// recursively. A bare wildcard template is replaced wholesale; a record or
// sequence template has each field projected independently.
func project(template, matched value.Value) value.Value {
	if template.IsWildcard() {
		return matched
	}
	switch template.Kind() {
	case value.KindRecord:
		fields := make([]value.Value, len(template.Fields()))
		for i, f := range template.Fields() {
			fields[i] = project(f, matched)
		}
		return value.Record(template.Label(), fields...)
	case value.KindSequence:
		elems := make([]value.Value, len(template.Fields()))
		for i, f := range template.Fields() {
			elems[i] = project(f, matched)
		}
		return value.Sequence(elems...)
	default:
		return template
	}
}

// Load reads the persisted reaction registry from disk, if any, and
// re-registers every reaction's pattern into the engine. It is a no-op if no
// registry file exists yet.
func (m *Manager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !storage.Exists(m.store.ReactionsPath()) {
		return nil
	}
	data, err := storage.ReadFile(m.store.ReactionsPath())
	if err != nil {
		return err
	}
	var records []reactionJSON
	if err := json.Unmarshal(data, &records); err != nil {
		return &rterrors.ReactionError{Kind: rterrors.ReactionCorruptRegistry, Err: err}
	}
	for _, rj := range records {
		r, err := rj.toReaction()
		if err != nil {
			return err
		}
		m.reactions[r.ID] = r
		m.byFacet[r.Facet] = append(m.byFacet[r.Facet], r.ID)
		m.eng.Register(pattern.Pattern{ID: r.ID, Facet: r.Facet, Actor: r.Actor, Pattern: r.Pattern})
	}
	return nil
}

func (m *Manager) persistLocked() error {
	records := make([]reactionJSON, 0, len(m.reactions))
	for _, r := range m.reactions {
		rj, err := fromReaction(r)
		if err != nil {
			return err
		}
		records = append(records, rj)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return &rterrors.ReactionError{Kind: rterrors.ReactionCorruptRegistry, Err: err}
	}
	return storage.WriteAtomic(m.store.ReactionsPath(), data)
}
