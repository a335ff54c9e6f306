package state

import (
	"fmt"

	"github.com/cuemby/loom/pkg/ids"
	"github.com/cuemby/loom/pkg/value"
)

// ToValue renders a Delta as a semi-structured value so it can participate in
// the canonical encoding used by the journal.
func (d Delta) ToValue() value.Value {
	adds := make([]value.Value, 0, len(d.Assertions.Added))
	for _, a := range d.Assertions.Added {
		adds = append(adds, value.Record("add",
			value.Symbol(a.Actor.String()), value.Symbol(a.Handle.String()), a.Value, value.Symbol(a.Version.String())))
	}
	rets := make([]value.Value, 0, len(d.Assertions.Retracted))
	for _, r := range d.Assertions.Retracted {
		rets = append(rets, value.Record("retract",
			value.Symbol(r.Actor.String()), value.Symbol(r.Handle.String()), value.Symbol(r.Version.String())))
	}
	spawned := make([]value.Value, 0, len(d.Facets.Spawned))
	for _, f := range d.Facets.Spawned {
		parent := value.Symbol("")
		if f.Parent != nil {
			parent = value.Symbol(f.Parent.String())
		}
		spawned = append(spawned, value.Record("facet",
			value.Symbol(f.ID.String()), parent, value.Int(int64(f.Status)), value.Symbol(f.Actor.String())))
	}
	terminated := make([]value.Value, 0, len(d.Facets.Terminated))
	for _, id := range d.Facets.Terminated {
		terminated = append(terminated, value.Symbol(id.String()))
	}
	granted := make([]value.Value, 0, len(d.Capabilities.Granted))
	for _, c := range d.Capabilities.Granted {
		target := value.Symbol("")
		if c.Target != nil {
			target = value.Symbol(c.Target.String())
		}
		atten := make([]value.Value, 0, len(c.Attenuation))
		for _, a := range c.Attenuation {
			atten = append(atten, value.String(a))
		}
		granted = append(granted, value.Record("cap",
			value.Symbol(c.ID.String()), value.Symbol(c.HolderActor.String()), value.Symbol(c.HolderFacet.String()),
			target, value.String(c.Kind), value.Sequence(atten...), value.Int(int64(c.Status))))
	}
	revoked := make([]value.Value, 0, len(d.Capabilities.Revoked))
	for _, id := range d.Capabilities.Revoked {
		revoked = append(revoked, value.Symbol(id.String()))
	}
	registered := make([]value.Value, 0, len(d.Timers.Registered))
	for _, t := range d.Timers.Registered {
		registered = append(registered, value.Record("timer",
			value.Symbol(t.ID.String()), value.Symbol(t.Actor.String()), value.Symbol(t.Facet.String()), value.Int(int64(t.Deadline))))
	}
	fired := make([]value.Value, 0, len(d.Timers.Fired))
	for _, id := range d.Timers.Fired {
		fired = append(fired, value.Symbol(id.String()))
	}

	return value.Record("delta",
		value.Sequence(adds...), value.Sequence(rets...),
		value.Sequence(spawned...), value.Sequence(terminated...),
		value.Sequence(granted...), value.Sequence(revoked...),
		value.Sequence(registered...), value.Sequence(fired...),
		value.Int(d.Accounts.Borrowed), value.Int(d.Accounts.Repaid),
	)
}

// DeltaFromValue parses a Delta previously produced by Delta.ToValue.
func DeltaFromValue(v value.Value) (Delta, error) {
	if v.Kind() != value.KindRecord || v.Label() != "delta" {
		return Delta{}, fmt.Errorf("state: expected delta record, got %v", v.Kind())
	}
	f := v.Fields()
	if len(f) != 10 {
		return Delta{}, fmt.Errorf("state: delta record has %d fields, want 10", len(f))
	}

	var d Delta
	for _, av := range f[0].Fields() {
		af := av.Fields()
		actor, err := parseActorId(af[0].String())
		if err != nil {
			return Delta{}, err
		}
		handle, err := parseHandle(af[1].String())
		if err != nil {
			return Delta{}, err
		}
		version, err := parseVersion(af[3].String())
		if err != nil {
			return Delta{}, err
		}
		d.Assertions.Added = append(d.Assertions.Added, AssertionAdd{Actor: actor, Handle: handle, Value: af[2], Version: version})
	}
	for _, rv := range f[1].Fields() {
		rf := rv.Fields()
		actor, err := parseActorId(rf[0].String())
		if err != nil {
			return Delta{}, err
		}
		handle, err := parseHandle(rf[1].String())
		if err != nil {
			return Delta{}, err
		}
		version, err := parseVersion(rf[2].String())
		if err != nil {
			return Delta{}, err
		}
		d.Assertions.Retracted = append(d.Assertions.Retracted, AssertionRetraction{Actor: actor, Handle: handle, Version: version})
	}
	for _, sv := range f[2].Fields() {
		sf := sv.Fields()
		facet, err := parseFacetId(sf[0].String())
		if err != nil {
			return Delta{}, err
		}
		var parent *ids.FacetId
		if sf[1].String() != "" {
			p, err := parseFacetId(sf[1].String())
			if err != nil {
				return Delta{}, err
			}
			parent = &p
		}
		actor, err := parseActorId(sf[3].String())
		if err != nil {
			return Delta{}, err
		}
		d.Facets.Spawned = append(d.Facets.Spawned, FacetMetadata{ID: facet, Parent: parent, Status: FacetStatus(sf[2].Int()), Actor: actor})
	}
	for _, tv := range f[3].Fields() {
		id, err := parseFacetId(tv.String())
		if err != nil {
			return Delta{}, err
		}
		d.Facets.Terminated = append(d.Facets.Terminated, id)
	}
	for _, gv := range f[4].Fields() {
		gf := gv.Fields()
		capID, err := parseCapId(gf[0].String())
		if err != nil {
			return Delta{}, err
		}
		holderActor, err := parseActorId(gf[1].String())
		if err != nil {
			return Delta{}, err
		}
		holderFacet, err := parseFacetId(gf[2].String())
		if err != nil {
			return Delta{}, err
		}
		var target *ids.ActorId
		if gf[3].String() != "" {
			t, err := parseActorId(gf[3].String())
			if err != nil {
				return Delta{}, err
			}
			target = &t
		}
		var atten []string
		for _, av := range gf[5].Fields() {
			atten = append(atten, av.String())
		}
		d.Capabilities.Granted = append(d.Capabilities.Granted, CapabilityMetadata{
			ID: capID, HolderActor: holderActor, HolderFacet: holderFacet, Target: target,
			Kind: gf[4].String(), Attenuation: atten, Status: CapabilityStatus(gf[6].Int()),
		})
	}
	for _, rv := range f[5].Fields() {
		id, err := parseCapId(rv.String())
		if err != nil {
			return Delta{}, err
		}
		d.Capabilities.Revoked = append(d.Capabilities.Revoked, id)
	}
	for _, tv := range f[6].Fields() {
		tf := tv.Fields()
		id, err := parseTimerId(tf[0].String())
		if err != nil {
			return Delta{}, err
		}
		actor, err := parseActorId(tf[1].String())
		if err != nil {
			return Delta{}, err
		}
		facet, err := parseFacetId(tf[2].String())
		if err != nil {
			return Delta{}, err
		}
		d.Timers.Registered = append(d.Timers.Registered, TimerMetadata{ID: id, Actor: actor, Facet: facet, Deadline: uint64(tf[3].Int())})
	}
	for _, fv := range f[7].Fields() {
		id, err := parseTimerId(fv.String())
		if err != nil {
			return Delta{}, err
		}
		d.Timers.Fired = append(d.Timers.Fired, id)
	}
	d.Accounts.Borrowed = f[8].Int()
	d.Accounts.Repaid = f[9].Int()
	return d, nil
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

func parseVersion(s string) (ids.Version, error) {
	return ids.ParseVersion(s)
}
