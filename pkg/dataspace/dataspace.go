// Package dataspace maintains a bbolt-backed materialized read model over a
// branch's assertions, capabilities, and registered entities. It is rebuilt
// from a snapshot plus journal replay at load, then kept incrementally in
// sync as the runtime applies each turn's delta. It exists purely to answer
// control-plane queries (list_assertions, list_capabilities,
// assertion_events_since) cheaply, without walking the journal or holding the
// full CRDT state in memory for every branch at once.
package dataspace

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/loom/pkg/ids"
	"github.com/cuemby/loom/pkg/rterrors"
	"github.com/cuemby/loom/pkg/state"
	"github.com/cuemby/loom/pkg/value"
)

var (
	topAssertions   = []byte("assertions")
	topCapabilities = []byte("capabilities")
	topEntities     = []byte("entities")
	topEvents       = []byte("events")
	topSequences    = []byte("sequences")
)

// AssertionRecord is one row of the assertions read model.
type AssertionRecord struct {
	Actor  ids.ActorId
	Handle ids.Handle
	Value  value.Value
}

// CapabilityRecord is one row of the capabilities read model.
type CapabilityRecord struct {
	ID          ids.CapId
	HolderActor ids.ActorId
	HolderFacet ids.FacetId
	Target      *ids.ActorId
	Kind        string
	Attenuation []string
	Revoked     bool
}

// EventKind discriminates assertion_events_since entries.
type EventKind string

const (
	EventAsserted EventKind = "asserted"
	EventRetracted EventKind = "retracted"
)

// AssertionEvent is one append-only entry in a branch's event log, used to
// answer assertion_events_since without rescanning the whole read model.
type AssertionEvent struct {
	Seq    uint64
	Kind   EventKind
	Actor  ids.ActorId
	Handle ids.Handle
	Value  value.Value
}

// EntityRecord describes one registered actor for list_entities and for
// rebuilding the actor from its factory on hydration.
type EntityRecord struct {
	Actor    ids.ActorId
	TypeName string
	Config   []byte
}

// Store is the bbolt-backed read model, shared across all branches of one
// runtime root.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if absent) the read-model database under root.
func Open(root string) (*Store, error) {
	path := filepath.Join(root, "dataspace.db")
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, &rterrors.StorageError{Kind: rterrors.StorageAtomicWriteFailed, Path: path, Detail: "open dataspace db", Err: err}
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{topAssertions, topCapabilities, topEntities, topEvents, topSequences} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, &rterrors.StorageError{Kind: rterrors.StorageAtomicWriteFailed, Path: path, Detail: "create buckets", Err: err}
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// ApplyDelta folds one turn's state delta into branch's read model,
// appending assertion events for every add and retraction.
func (s *Store) ApplyDelta(branch ids.BranchId, d state.Delta) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		assertions, err := branchBucket(tx, topAssertions, branch)
		if err != nil {
			return err
		}
		events, err := branchBucket(tx, topEvents, branch)
		if err != nil {
			return err
		}
		seqs, err := branchBucket(tx, topSequences, branch)
		if err != nil {
			return err
		}

		for _, add := range d.Assertions.Added {
			rec := assertionRecordJSON{Actor: add.Actor, Handle: add.Handle}
			if rec.Value, err = value.Encode(nil, add.Value); err != nil {
				return fmt.Errorf("dataspace: encode assertion: %w", err)
			}
			if err := putJSON(assertions, assertionKeyBytes(add.Actor, add.Handle), rec); err != nil {
				return err
			}
			if err := appendEvent(events, seqs, AssertionEvent{Kind: EventAsserted, Actor: add.Actor, Handle: add.Handle, Value: add.Value}); err != nil {
				return err
			}
		}
		for _, r := range d.Assertions.Retracted {
			key := assertionKeyBytes(r.Actor, r.Handle)
			if err := assertions.Delete(key); err != nil {
				return err
			}
			if err := appendEvent(events, seqs, AssertionEvent{Kind: EventRetracted, Actor: r.Actor, Handle: r.Handle}); err != nil {
				return err
			}
		}

		caps, err := branchBucket(tx, topCapabilities, branch)
		if err != nil {
			return err
		}
		for _, g := range d.Capabilities.Granted {
			if err := putJSON(caps, capKeyBytes(g.ID), capRecordFromMeta(g)); err != nil {
				return err
			}
		}
		for _, revoked := range d.Capabilities.Revoked {
			var rec CapabilityRecord
			raw := caps.Get(capKeyBytes(revoked))
			if raw == nil {
				continue
			}
			if err := json.Unmarshal(raw, &rec); err != nil {
				return err
			}
			rec.Revoked = true
			if err := putJSON(caps, capKeyBytes(revoked), rec); err != nil {
				return err
			}
		}
		return nil
	})
}

// RecordEntity registers an actor's type name and construction config for
// list_entities and hydration, called once when an actor is created.
func (s *Store) RecordEntity(branch ids.BranchId, actor ids.ActorId, typeName string, cfg value.Value) error {
	encoded, err := value.Encode(nil, cfg)
	if err != nil {
		return fmt.Errorf("dataspace: encode entity config: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := branchBucket(tx, topEntities, branch)
		if err != nil {
			return err
		}
		return putJSON(b, []byte(actor.String()), EntityRecord{Actor: actor, TypeName: typeName, Config: encoded})
	})
}

// ListAssertions enumerates every live assertion in branch's read model.
func (s *Store) ListAssertions(branch ids.BranchId) ([]AssertionRecord, error) {
	var out []AssertionRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		b := existingBranchBucket(tx, topAssertions, branch)
		if b == nil {
			return nil
		}
		return b.ForEach(func(_, v []byte) error {
			var rec assertionRecordJSON
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			val, _, err := value.Decode(rec.Value)
			if err != nil {
				return err
			}
			out = append(out, AssertionRecord{Actor: rec.Actor, Handle: rec.Handle, Value: val})
			return nil
		})
	})
	return out, err
}

// ListCapabilities enumerates every capability ever granted in branch,
// including revoked ones (callers filter on Revoked as needed).
func (s *Store) ListCapabilities(branch ids.BranchId) ([]CapabilityRecord, error) {
	var out []CapabilityRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		b := existingBranchBucket(tx, topCapabilities, branch)
		if b == nil {
			return nil
		}
		return b.ForEach(func(_, v []byte) error {
			var rec CapabilityRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			out = append(out, rec)
			return nil
		})
	})
	return out, err
}

// ListEntities enumerates every registered entity in branch.
func (s *Store) ListEntities(branch ids.BranchId) ([]EntityRecord, error) {
	var out []EntityRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		b := existingBranchBucket(tx, topEntities, branch)
		if b == nil {
			return nil
		}
		return b.ForEach(func(_, v []byte) error {
			var rec EntityRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			out = append(out, rec)
			return nil
		})
	})
	return out, err
}

// AssertionEventsSince returns every assertion event in branch with a
// sequence number greater than since, in order.
func (s *Store) AssertionEventsSince(branch ids.BranchId, since uint64) ([]AssertionEvent, error) {
	var out []AssertionEvent
	err := s.db.View(func(tx *bolt.Tx) error {
		b := existingBranchBucket(tx, topEvents, branch)
		if b == nil {
			return nil
		}
		c := b.Cursor()
		start := make([]byte, 8)
		binary.BigEndian.PutUint64(start, since+1)
		for k, v := c.Seek(start); k != nil; k, v = c.Next() {
			var ev eventJSON
			if err := json.Unmarshal(v, &ev); err != nil {
				return err
			}
			var val value.Value
			if len(ev.Value) > 0 {
				var err error
				val, _, err = value.Decode(ev.Value)
				if err != nil {
					return err
				}
			}
			out = append(out, AssertionEvent{Seq: ev.Seq, Kind: ev.Kind, Actor: ev.Actor, Handle: ev.Handle, Value: val})
		}
		return nil
	})
	return out, err
}

// ResetBranch clears branch's assertion, capability, and event buckets,
// used before rebuilding the read model from a snapshot. The entity catalog
// is left untouched: which actors exist is an identity fact that survives
// time travel and reopen, not CRDT state a snapshot baselines.
func (s *Store) ResetBranch(branch ids.BranchId) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, top := range [][]byte{topAssertions, topCapabilities, topEvents, topSequences} {
			b := tx.Bucket(top)
			if b == nil {
				continue
			}
			if err := b.DeleteBucket([]byte(branch)); err != nil && err != bolt.ErrBucketNotFound {
				return err
			}
		}
		return nil
	})
}

// LoadSnapshot seeds branch's assertions and capabilities read model directly
// from a snapshot's CRDT state, bypassing per-turn event bookkeeping: a
// snapshot is a point-in-time baseline, not a stream of new events.
func (s *Store) LoadSnapshot(branch ids.BranchId, assertions *state.AssertionSet, caps *state.CapabilityMap) error {
	if err := s.ResetBranch(branch); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		ab, err := branchBucket(tx, topAssertions, branch)
		if err != nil {
			return err
		}
		for _, entry := range assertions.All() {
			rec := assertionRecordJSON{Actor: entry.Actor, Handle: entry.Handle}
			encoded, err := value.Encode(nil, entry.Value)
			if err != nil {
				return err
			}
			rec.Value = encoded
			if err := putJSON(ab, assertionKeyBytes(entry.Actor, entry.Handle), rec); err != nil {
				return err
			}
		}

		cb, err := branchBucket(tx, topCapabilities, branch)
		if err != nil {
			return err
		}
		for _, meta := range caps.All() {
			if err := putJSON(cb, capKeyBytes(meta.ID), capRecordFromMeta(meta)); err != nil {
				return err
			}
		}
		return nil
	})
}

func branchBucket(tx *bolt.Tx, top []byte, branch ids.BranchId) (*bolt.Bucket, error) {
	parent := tx.Bucket(top)
	return parent.CreateBucketIfNotExists([]byte(branch))
}

func existingBranchBucket(tx *bolt.Tx, top []byte, branch ids.BranchId) *bolt.Bucket {
	parent := tx.Bucket(top)
	if parent == nil {
		return nil
	}
	return parent.Bucket([]byte(branch))
}

func putJSON(b *bolt.Bucket, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Put(key, data)
}

func assertionKeyBytes(actor ids.ActorId, handle ids.Handle) []byte {
	return []byte(actor.String() + ":" + handle.String())
}

func capKeyBytes(id ids.CapId) []byte { return []byte(id.String()) }

func capRecordFromMeta(meta state.CapabilityMetadata) CapabilityRecord {
	return CapabilityRecord{
		ID: meta.ID, HolderActor: meta.HolderActor, HolderFacet: meta.HolderFacet,
		Target: meta.Target, Kind: meta.Kind, Attenuation: meta.Attenuation,
		Revoked: meta.Status == state.CapabilityRevoked,
	}
}

func appendEvent(events, seqs *bolt.Bucket, ev AssertionEvent) error {
	seq, _ := seqs.NextSequence()
	ev.Seq = seq
	var encoded []byte
	if ev.Kind == EventAsserted {
		var err error
		encoded, err = value.Encode(nil, ev.Value)
		if err != nil {
			return err
		}
	}
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return putJSON(events, key, eventJSON{Seq: seq, Kind: ev.Kind, Actor: ev.Actor, Handle: ev.Handle, Value: encoded})
}

type assertionRecordJSON struct {
	Actor  ids.ActorId
	Handle ids.Handle
	Value  []byte
}

type eventJSON struct {
	Seq    uint64
	Kind   EventKind
	Actor  ids.ActorId
	Handle ids.Handle
	Value  []byte
}
