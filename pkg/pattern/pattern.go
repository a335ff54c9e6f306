// Package pattern implements the structural pattern matcher and the engine
// that tracks, per handle, which patterns currently match it.
package pattern

import (
	"math"

	"github.com/cuemby/loom/pkg/ids"
	"github.com/cuemby/loom/pkg/value"
)

// PatternID names a registered pattern.
type PatternID = ids.PatternId

// Pattern is a compiled pattern template attached to a facet.
type Pattern struct {
	ID      PatternID
	Facet   ids.FacetId
	Actor   ids.ActorId
	Pattern value.Value
}

// Match records that a pattern matched a specific handle's current value.
type Match struct {
	PatternID PatternID
	Handle    ids.Handle
	Value     value.Value
}

// Engine tracks all registered patterns and their current matches.
type Engine struct {
	patterns          map[PatternID]Pattern
	matches           map[PatternID]map[ids.Handle]Match
	handleToPatterns  map[ids.Handle]map[PatternID]struct{}
}

func NewEngine() *Engine {
	return &Engine{
		patterns:         make(map[PatternID]Pattern),
		matches:          make(map[PatternID]map[ids.Handle]Match),
		handleToPatterns: make(map[ids.Handle]map[PatternID]struct{}),
	}
}

// Register adds a pattern to the engine.
func (e *Engine) Register(p Pattern) {
	e.patterns[p.ID] = p
	if e.matches[p.ID] == nil {
		e.matches[p.ID] = make(map[ids.Handle]Match)
	}
}

// Unregister removes a pattern and cleans up the reverse index.
func (e *Engine) Unregister(id PatternID) {
	for handle := range e.matches[id] {
		if set := e.handleToPatterns[handle]; set != nil {
			delete(set, id)
			if len(set) == 0 {
				delete(e.handleToPatterns, handle)
			}
		}
	}
	delete(e.matches, id)
	delete(e.patterns, id)
}

// EvalAssert tests every registered pattern against the newly asserted value,
// recording and returning any new matches.
func (e *Engine) EvalAssert(handle ids.Handle, v value.Value) []Match {
	var fresh []Match
	for id, p := range e.patterns {
		if !Matches(p.Pattern, v) {
			continue
		}
		m := Match{PatternID: id, Handle: handle, Value: v}
		e.matches[id][handle] = m
		if e.handleToPatterns[handle] == nil {
			e.handleToPatterns[handle] = make(map[PatternID]struct{})
		}
		e.handleToPatterns[handle][id] = struct{}{}
		fresh = append(fresh, m)
	}
	return fresh
}

// EvalRetract removes all matches recorded against handle, in O(k) where k is
// the number of patterns that matched it, and returns the affected pattern
// ids.
func (e *Engine) EvalRetract(handle ids.Handle) []PatternID {
	affected := make([]PatternID, 0, len(e.handleToPatterns[handle]))
	for id := range e.handleToPatterns[handle] {
		delete(e.matches[id], handle)
		affected = append(affected, id)
	}
	delete(e.handleToPatterns, handle)
	return affected
}

// Matches returns the current match set for a pattern.
func (e *Engine) Matches(id PatternID) map[ids.Handle]Match {
	return e.matches[id]
}

// Matches reports whether value v matches pattern template p. Matching is
// recursive-structural: atoms match by type and value, records match when
// label and field count match and every field matches recursively, sequences
// match by length then recursive element match, sets/dicts by structural
// equality, and a wildcard symbol (shaped "<...>" or "<name>") matches any
// subtree.
func Matches(p, v value.Value) bool {
	if p.IsWildcard() {
		return true
	}
	if p.Kind() != v.Kind() {
		return false
	}
	switch p.Kind() {
	case value.KindBool:
		return p.Bool() == v.Bool()
	case value.KindInt:
		return p.Int() == v.Int()
	case value.KindFloat:
		return math.Float64bits(p.Float()) == math.Float64bits(v.Float())
	case value.KindString, value.KindSymbol:
		return p.String() == v.String()
	case value.KindBytes:
		return string(p.Bytes()) == string(v.Bytes())
	case value.KindRecord:
		if p.Label() != v.Label() || len(p.Fields()) != len(v.Fields()) {
			return false
		}
		for i := range p.Fields() {
			if !Matches(p.Fields()[i], v.Fields()[i]) {
				return false
			}
		}
		return true
	case value.KindSequence:
		if len(p.Fields()) != len(v.Fields()) {
			return false
		}
		for i := range p.Fields() {
			if !Matches(p.Fields()[i], v.Fields()[i]) {
				return false
			}
		}
		return true
	case value.KindSet, value.KindDict:
		return value.Equal(p, v)
	case value.KindEmbedded:
		return p.Embedded() == v.Embedded()
	default:
		return false
	}
}
