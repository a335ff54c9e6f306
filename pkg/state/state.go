// Package state implements the runtime's CRDT state model: the assertion
// OR-set, the facet and capability lattice maps, and the per-actor
// flow-control PN-counter, plus the per-turn StateDelta that aggregates them.
//
// Every CRDT here supports Apply (idempotent w.r.t. already-observed
// versions) and Join (commutative, associative, idempotent).
package state

import (
	"github.com/cuemby/loom/pkg/ids"
	"github.com/cuemby/loom/pkg/value"
)

// --- Assertions (OR-set) ---------------------------------------------------

// assertionKey identifies one assertion slot.
type assertionKey struct {
	Actor  ids.ActorId
	Handle ids.Handle
}

// activeAssertion is one live (un-tombstoned) add.
type activeAssertion struct {
	Value   value.Value
	Version ids.Version
}

// AssertionSet is the OR-set of assertions. The zero value is ready to use.
type AssertionSet struct {
	active     map[assertionKey]activeAssertion
	tombstones map[assertionKey]map[ids.Version]struct{}
}

func NewAssertionSet() *AssertionSet {
	return &AssertionSet{
		active:     make(map[assertionKey]activeAssertion),
		tombstones: make(map[assertionKey]map[ids.Version]struct{}),
	}
}

func (s *AssertionSet) ensure() {
	if s.active == nil {
		s.active = make(map[assertionKey]activeAssertion)
	}
	if s.tombstones == nil {
		s.tombstones = make(map[assertionKey]map[ids.Version]struct{})
	}
}

// Add records a fresh assertion add, returning the version id it was given.
// If the (actor, handle) slot already has an active, non-tombstoned add, it
// is silently superseded (a handle is meant to be reused by its owning actor
// only after a retract, but Add does not itself enforce that — callers in
// pkg/actor only ever Add once per fresh handle).
func (s *AssertionSet) Add(actor ids.ActorId, handle ids.Handle, v value.Value, version ids.Version) {
	s.ensure()
	s.active[assertionKey{actor, handle}] = activeAssertion{Value: v, Version: version}
}

// ActiveVersion returns the version currently active for (actor, handle), if
// any. Callers retracting an assertion must resolve the real active version
// through this method rather than minting a fresh one, or the tombstone will
// never dominate the add it is meant to retract.
func (s *AssertionSet) ActiveVersion(actor ids.ActorId, handle ids.Handle) (ids.Version, bool) {
	a, ok := s.active[assertionKey{actor, handle}]
	return a.Version, ok
}

// Retract tombstones the given (actor, handle, version) tuple and removes it
// from the active map if present.
func (s *AssertionSet) Retract(actor ids.ActorId, handle ids.Handle, version ids.Version) {
	s.ensure()
	key := assertionKey{actor, handle}
	if s.tombstones[key] == nil {
		s.tombstones[key] = make(map[ids.Version]struct{})
	}
	s.tombstones[key][version] = struct{}{}
	if a, ok := s.active[key]; ok && a.Version == version {
		delete(s.active, key)
	}
}

// IsTombstoned reports whether (actor, handle, version) has been retracted.
func (s *AssertionSet) IsTombstoned(actor ids.ActorId, handle ids.Handle, version ids.Version) bool {
	key := assertionKey{actor, handle}
	vs, ok := s.tombstones[key]
	if !ok {
		return false
	}
	_, ok = vs[version]
	return ok
}

// Get returns the active value for (actor, handle), if any.
func (s *AssertionSet) Get(actor ids.ActorId, handle ids.Handle) (value.Value, bool) {
	a, ok := s.active[assertionKey{actor, handle}]
	return a.Value, ok
}

// Entry is one active assertion, for enumeration.
type Entry struct {
	Actor  ids.ActorId
	Handle ids.Handle
	Value  value.Value
}

// All enumerates every active assertion.
func (s *AssertionSet) All() []Entry {
	out := make([]Entry, 0, len(s.active))
	for k, a := range s.active {
		out = append(out, Entry{Actor: k.Actor, Handle: k.Handle, Value: a.Value})
	}
	return out
}

// Apply folds an AssertionDelta into the set: adds become active entries
// (unless already tombstoned), retractions tombstone their version.
func (s *AssertionSet) Apply(d AssertionDelta) {
	s.ensure()
	for _, r := range d.Retracted {
		s.Retract(r.Actor, r.Handle, r.Version)
	}
	for _, a := range d.Added {
		if s.IsTombstoned(a.Actor, a.Handle, a.Version) {
			continue
		}
		s.Add(a.Actor, a.Handle, a.Value, a.Version)
	}
}

// Join merges another AssertionSet's tombstones and active entries into s,
// observing at-most-once per version and monotone tombstone accumulation.
// Join is commutative, associative, and idempotent: the result depends only
// on the union of tombstones and the surviving adds, never on call order.
func (s *AssertionSet) Join(other *AssertionSet) {
	s.ensure()
	for key, vs := range other.tombstones {
		if s.tombstones[key] == nil {
			s.tombstones[key] = make(map[ids.Version]struct{})
		}
		for v := range vs {
			s.tombstones[key][v] = struct{}{}
		}
	}
	for key, a := range other.active {
		if existing, ok := s.active[key]; ok && existing.Version == a.Version {
			continue
		}
		if s.IsTombstoned(key.Actor, key.Handle, a.Version) {
			continue
		}
		s.active[key] = a
	}
	// Re-filter: any active entry now tombstoned by the merged set is removed.
	for key, a := range s.active {
		if s.IsTombstoned(key.Actor, key.Handle, a.Version) {
			delete(s.active, key)
		}
	}
}

// AssertionAdd is one add entry of an AssertionDelta.
type AssertionAdd struct {
	Actor   ids.ActorId
	Handle  ids.Handle
	Value   value.Value
	Version ids.Version
}

// AssertionRetraction is one retract entry of an AssertionDelta.
type AssertionRetraction struct {
	Actor   ids.ActorId
	Handle  ids.Handle
	Version ids.Version
}

// AssertionDelta is the per-turn diff of the assertion OR-set.
type AssertionDelta struct {
	Added     []AssertionAdd
	Retracted []AssertionRetraction
}

func (d AssertionDelta) Empty() bool { return len(d.Added) == 0 && len(d.Retracted) == 0 }

// --- Facets (lattice map) ---------------------------------------------------

type FacetStatus int

const (
	FacetAlive FacetStatus = iota
	FacetTerminated
	FacetRemoved
)

// dominates implements the linear order Alive < Terminated < Removed; join
// takes the max.
func (s FacetStatus) dominates(other FacetStatus) FacetStatus {
	if s > other {
		return s
	}
	return other
}

// FacetMetadata describes one facet.
type FacetMetadata struct {
	ID     ids.FacetId
	Parent *ids.FacetId
	Status FacetStatus
	Actor  ids.ActorId
}

// FacetMap is the lattice map FacetId -> FacetMetadata.
type FacetMap struct {
	facets map[ids.FacetId]FacetMetadata
}

func NewFacetMap() *FacetMap { return &FacetMap{facets: make(map[ids.FacetId]FacetMetadata)} }

func (m *FacetMap) ensure() {
	if m.facets == nil {
		m.facets = make(map[ids.FacetId]FacetMetadata)
	}
}

func (m *FacetMap) Set(meta FacetMetadata) {
	m.ensure()
	if existing, ok := m.facets[meta.ID]; ok {
		meta.Status = existing.Status.dominates(meta.Status)
	}
	m.facets[meta.ID] = meta
}

func (m *FacetMap) Get(id ids.FacetId) (FacetMetadata, bool) {
	meta, ok := m.facets[id]
	return meta, ok
}

func (m *FacetMap) Children(parent ids.FacetId) []ids.FacetId {
	var out []ids.FacetId
	for id, meta := range m.facets {
		if meta.Parent != nil && *meta.Parent == parent {
			out = append(out, id)
		}
	}
	return out
}

func (m *FacetMap) All() []FacetMetadata {
	out := make([]FacetMetadata, 0, len(m.facets))
	for _, meta := range m.facets {
		out = append(out, meta)
	}
	return out
}

// Apply folds a FacetDelta into the map.
func (m *FacetMap) Apply(d FacetDelta) {
	m.ensure()
	for _, meta := range d.Spawned {
		m.Set(meta)
	}
	for _, id := range d.Terminated {
		if meta, ok := m.facets[id]; ok {
			meta.Status = meta.Status.dominates(FacetTerminated)
			m.facets[id] = meta
		}
	}
}

// Join merges another FacetMap by taking the dominating status per facet.
func (m *FacetMap) Join(other *FacetMap) {
	m.ensure()
	for id, meta := range other.facets {
		m.Set(meta)
	}
}

type FacetDelta struct {
	Spawned    []FacetMetadata
	Terminated []ids.FacetId
}

func (d FacetDelta) Empty() bool { return len(d.Spawned) == 0 && len(d.Terminated) == 0 }

// --- Capabilities (lattice map) --------------------------------------------

type CapabilityStatus int

const (
	CapabilityActive CapabilityStatus = iota
	CapabilityRevoked
)

func (s CapabilityStatus) dominates(other CapabilityStatus) CapabilityStatus {
	if s > other {
		return s
	}
	return other
}

// CapabilityMetadata describes one capability.
type CapabilityMetadata struct {
	ID           ids.CapId
	HolderActor  ids.ActorId
	HolderFacet  ids.FacetId
	Target       *ids.ActorId
	Kind         string
	Attenuation  []string
	Status       CapabilityStatus
}

// CapabilityMap is the lattice map CapId -> CapabilityMetadata.
type CapabilityMap struct {
	caps map[ids.CapId]CapabilityMetadata
}

func NewCapabilityMap() *CapabilityMap { return &CapabilityMap{caps: make(map[ids.CapId]CapabilityMetadata)} }

func (m *CapabilityMap) ensure() {
	if m.caps == nil {
		m.caps = make(map[ids.CapId]CapabilityMetadata)
	}
}

func (m *CapabilityMap) Set(meta CapabilityMetadata) {
	m.ensure()
	if existing, ok := m.caps[meta.ID]; ok {
		meta.Status = existing.Status.dominates(meta.Status)
	}
	m.caps[meta.ID] = meta
}

func (m *CapabilityMap) Get(id ids.CapId) (CapabilityMetadata, bool) {
	meta, ok := m.caps[id]
	return meta, ok
}

func (m *CapabilityMap) Revoke(id ids.CapId) {
	m.ensure()
	if meta, ok := m.caps[id]; ok {
		meta.Status = CapabilityRevoked
		m.caps[id] = meta
	}
}

func (m *CapabilityMap) All() []CapabilityMetadata {
	out := make([]CapabilityMetadata, 0, len(m.caps))
	for _, meta := range m.caps {
		out = append(out, meta)
	}
	return out
}

func (m *CapabilityMap) ForActor(actor ids.ActorId) []CapabilityMetadata {
	var out []CapabilityMetadata
	for _, meta := range m.caps {
		if meta.HolderActor == actor {
			out = append(out, meta)
		}
	}
	return out
}

func (m *CapabilityMap) Apply(d CapabilityDelta) {
	m.ensure()
	for _, meta := range d.Granted {
		m.Set(meta)
	}
	for _, id := range d.Revoked {
		m.Revoke(id)
	}
}

func (m *CapabilityMap) Join(other *CapabilityMap) {
	m.ensure()
	for _, meta := range other.caps {
		m.Set(meta)
	}
}

type CapabilityDelta struct {
	Granted []CapabilityMetadata
	Revoked []ids.CapId
}

func (d CapabilityDelta) Empty() bool { return len(d.Granted) == 0 && len(d.Revoked) == 0 }

// --- Flow-control accounts (PN-counter) ------------------------------------

// Account is a per-actor PN-counter: Balance = Increments - Decrements.
type Account struct {
	Increments uint64
	Decrements uint64
}

func (a Account) Balance() int64 { return int64(a.Increments) - int64(a.Decrements) }

func (a *Account) Apply(d AccountDelta) {
	if d.Borrowed > 0 {
		a.Increments += uint64(d.Borrowed)
	}
	if d.Repaid > 0 {
		a.Decrements += uint64(d.Repaid)
	}
}

// Join takes the per-field max, which is correct for two monotone counters
// only when both sides observed disjoint or identical histories; within this
// single-process runtime accounts are never merged across branches at
// runtime (only replayed), so this is provided for completeness of the CRDT
// interface and for the universal join-law tests.
func (a *Account) Join(other Account) {
	if other.Increments > a.Increments {
		a.Increments = other.Increments
	}
	if other.Decrements > a.Decrements {
		a.Decrements = other.Decrements
	}
}

type AccountDelta struct {
	Borrowed int64
	Repaid   int64
}

func (d AccountDelta) Empty() bool { return d.Borrowed == 0 && d.Repaid == 0 }

// --- Timers ------------------------------------------------------------------

type TimerMetadata struct {
	ID       ids.TimerId
	Actor    ids.ActorId
	Facet    ids.FacetId
	Deadline uint64
}

type TimerDelta struct {
	Registered []TimerMetadata
	Fired      []ids.TimerId
}

func (d TimerDelta) Empty() bool { return len(d.Registered) == 0 && len(d.Fired) == 0 }

// --- Aggregate delta ---------------------------------------------------------

// Delta is the per-turn diff of every CRDT component.
type Delta struct {
	Assertions   AssertionDelta
	Facets       FacetDelta
	Capabilities CapabilityDelta
	Timers       TimerDelta
	Accounts     AccountDelta
}

func (d Delta) Empty() bool {
	return d.Assertions.Empty() && d.Facets.Empty() && d.Capabilities.Empty() &&
		d.Timers.Empty() && d.Accounts.Empty()
}
