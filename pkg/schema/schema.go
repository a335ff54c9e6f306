// Package schema centralizes the runtime's named schema definitions for turn
// records, state deltas, and snapshots, each identified by a stable content
// hash used to validate snapshot/journal compatibility across versions.
package schema

import (
	"encoding/hex"
	"sync"

	"golang.org/x/crypto/blake2b"
)

// SchemaID is the stable content hash of a schema name + version.
type SchemaID string

// Definition describes one registered schema.
type Definition struct {
	Name       string
	Definition string
	Hash       SchemaID
	Version    string
}

// Registry is the process-wide table of schema definitions.
type Registry struct {
	mu      sync.RWMutex
	schemas map[string]Definition
}

var (
	globalOnce sync.Once
	global     *Registry
)

// Init returns the process-wide schema registry, constructing and populating
// it with the built-in schemas exactly once.
func Init() *Registry {
	globalOnce.Do(func() {
		global = &Registry{schemas: make(map[string]Definition)}
		global.registerBuiltins()
	})
	return global
}

func (r *Registry) register(d Definition) {
	d.Hash = ComputeHash(d.Name, d.Version)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.schemas[d.Name] = d
}

func (r *Registry) registerBuiltins() {
	r.register(Definition{
		Name:    "TurnRecord",
		Version: "1.0.0",
		Definition: `TurnRecord = {turn_id, actor, branch, clock, parent, inputs, outputs, delta, timestamp}`,
	})
	r.register(Definition{
		Name:    "StateDelta",
		Version: "1.0.0",
		Definition: `StateDelta = {assertions, facets, capabilities, timers, accounts}`,
	})
	r.register(Definition{
		Name:    "RuntimeSnapshot",
		Version: "1.0.0",
		Definition: `RuntimeSnapshot = {branch, turn_id, assertions, facets, capabilities, entity_states, metadata}`,
	})
}

// Get returns a schema definition by name.
func (r *Registry) Get(name string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.schemas[name]
	return d, ok
}

// AllHashes returns every registered schema's hash, keyed by name.
func (r *Registry) AllHashes() map[string]SchemaID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]SchemaID, len(r.schemas))
	for name, d := range r.schemas {
		out[name] = d.Hash
	}
	return out
}

// ValidateHash reports whether hash matches the current definition of name.
func (r *Registry) ValidateHash(name string, hash SchemaID) bool {
	d, ok := r.Get(name)
	return ok && d.Hash == hash
}

// ComputeHash derives a stable hash for a schema name + version.
func ComputeHash(name, version string) SchemaID {
	h, _ := blake2b.New256(nil)
	h.Write([]byte(name))
	h.Write([]byte("|"))
	h.Write([]byte(version))
	return SchemaID(hex.EncodeToString(h.Sum(nil)))
}
