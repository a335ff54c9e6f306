package state

import (
	"encoding/json"

	"github.com/cuemby/loom/pkg/ids"
	"github.com/cuemby/loom/pkg/value"
)

// The CRDT types above keep their fields private so every mutation goes
// through Add/Retract/Set/Apply/Join; snapshotting needs the full internal
// shape (including tombstones), so each type gets an explicit JSON
// projection instead of relying on struct-tag reflection.

type assertionSetJSON struct {
	Active     []activeAssertionJSON `json:"active"`
	Tombstones []tombstoneJSON       `json:"tombstones"`
}

type activeAssertionJSON struct {
	Actor   ids.ActorId `json:"actor"`
	Handle  ids.Handle  `json:"handle"`
	Value   []byte      `json:"value"`
	Version ids.Version `json:"version"`
}

type tombstoneJSON struct {
	Actor   ids.ActorId `json:"actor"`
	Handle  ids.Handle  `json:"handle"`
	Version ids.Version `json:"version"`
}

func (s *AssertionSet) MarshalJSON() ([]byte, error) {
	proj := assertionSetJSON{}
	for key, a := range s.active {
		encoded, err := value.Encode(nil, a.Value)
		if err != nil {
			return nil, err
		}
		proj.Active = append(proj.Active, activeAssertionJSON{
			Actor: key.Actor, Handle: key.Handle, Value: encoded, Version: a.Version,
		})
	}
	for key, vs := range s.tombstones {
		for v := range vs {
			proj.Tombstones = append(proj.Tombstones, tombstoneJSON{Actor: key.Actor, Handle: key.Handle, Version: v})
		}
	}
	return json.Marshal(proj)
}

func (s *AssertionSet) UnmarshalJSON(data []byte) error {
	var proj assertionSetJSON
	if err := json.Unmarshal(data, &proj); err != nil {
		return err
	}
	s.active = make(map[assertionKey]activeAssertion)
	s.tombstones = make(map[assertionKey]map[ids.Version]struct{})
	for _, a := range proj.Active {
		v, _, err := value.Decode(a.Value)
		if err != nil {
			return err
		}
		s.active[assertionKey{a.Actor, a.Handle}] = activeAssertion{Value: v, Version: a.Version}
	}
	for _, t := range proj.Tombstones {
		key := assertionKey{t.Actor, t.Handle}
		if s.tombstones[key] == nil {
			s.tombstones[key] = make(map[ids.Version]struct{})
		}
		s.tombstones[key][t.Version] = struct{}{}
	}
	return nil
}

func (m *FacetMap) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.All())
}

func (m *FacetMap) UnmarshalJSON(data []byte) error {
	var all []FacetMetadata
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	m.facets = make(map[ids.FacetId]FacetMetadata, len(all))
	for _, meta := range all {
		m.facets[meta.ID] = meta
	}
	return nil
}

func (m *CapabilityMap) MarshalJSON() ([]byte, error) {
	out := make([]CapabilityMetadata, 0, len(m.caps))
	for _, meta := range m.caps {
		out = append(out, meta)
	}
	return json.Marshal(out)
}

func (m *CapabilityMap) UnmarshalJSON(data []byte) error {
	var all []CapabilityMetadata
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	m.caps = make(map[ids.CapId]CapabilityMetadata, len(all))
	for _, meta := range all {
		m.caps[meta.ID] = meta
	}
	return nil
}
