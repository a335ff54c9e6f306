// Package ids defines the opaque identifiers that thread through every
// component of the runtime: actors, facets, assertion handles, capabilities,
// timers, branches, and turns.
package ids

import (
	"fmt"

	"github.com/google/uuid"
)

// ActorId uniquely names an actor for the lifetime of the runtime.
type ActorId uuid.UUID

// NewActorId returns a fresh, random actor identifier.
func NewActorId() ActorId { return ActorId(uuid.New()) }

func (a ActorId) String() string { return uuid.UUID(a).String() }

// MarshalText and UnmarshalText let ActorId participate in JSON directly.
func (a ActorId) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

func (a *ActorId) UnmarshalText(text []byte) error {
	u, err := uuid.Parse(string(text))
	if err != nil {
		return fmt.Errorf("ids: parse ActorId: %w", err)
	}
	*a = ActorId(u)
	return nil
}

// FacetId names a facet within the actor that owns it.
type FacetId uuid.UUID

func NewFacetId() FacetId { return FacetId(uuid.New()) }

func (f FacetId) String() string { return uuid.UUID(f).String() }

func (f FacetId) MarshalText() ([]byte, error) { return []byte(f.String()), nil }

func (f *FacetId) UnmarshalText(text []byte) error {
	u, err := uuid.Parse(string(text))
	if err != nil {
		return fmt.Errorf("ids: parse FacetId: %w", err)
	}
	*f = FacetId(u)
	return nil
}

// Handle names an assertion within the actor that published it.
type Handle uuid.UUID

func NewHandle() Handle { return Handle(uuid.New()) }

func (h Handle) String() string { return uuid.UUID(h).String() }

func (h Handle) MarshalText() ([]byte, error) { return []byte(h.String()), nil }

func (h *Handle) UnmarshalText(text []byte) error {
	u, err := uuid.Parse(string(text))
	if err != nil {
		return fmt.Errorf("ids: parse Handle: %w", err)
	}
	*h = Handle(u)
	return nil
}

// PatternId names a registered pattern in the pattern engine.
type PatternId uuid.UUID

func NewPatternId() PatternId { return PatternId(uuid.New()) }

func (p PatternId) String() string { return uuid.UUID(p).String() }

func (p PatternId) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func (p *PatternId) UnmarshalText(text []byte) error {
	u, err := uuid.Parse(string(text))
	if err != nil {
		return fmt.Errorf("ids: parse PatternId: %w", err)
	}
	*p = PatternId(u)
	return nil
}

// CapId names a capability.
type CapId uuid.UUID

func NewCapId() CapId { return CapId(uuid.New()) }

func (c CapId) String() string { return uuid.UUID(c).String() }

func (c CapId) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

func (c *CapId) UnmarshalText(text []byte) error {
	u, err := uuid.Parse(string(text))
	if err != nil {
		return fmt.Errorf("ids: parse CapId: %w", err)
	}
	*c = CapId(u)
	return nil
}

// TimerId names a registered timer.
type TimerId uuid.UUID

func NewTimerId() TimerId { return TimerId(uuid.New()) }

func (t TimerId) String() string { return uuid.UUID(t).String() }

func (t TimerId) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *TimerId) UnmarshalText(text []byte) error {
	u, err := uuid.Parse(string(text))
	if err != nil {
		return fmt.Errorf("ids: parse TimerId: %w", err)
	}
	*t = TimerId(u)
	return nil
}

// BranchId is a user-given branch name. "main" is the name of the root branch.
type BranchId string

// Main is the name of the branch created at Runtime.Init.
const Main BranchId = "main"

func (b BranchId) String() string { return string(b) }

// Version is the fresh identifier generated for each assertion add; retracting
// that assertion tombstones this exact version, never a new one.
type Version uuid.UUID

func NewVersion() Version { return Version(uuid.New()) }

func (v Version) String() string { return uuid.UUID(v).String() }

func (v Version) MarshalText() ([]byte, error) { return []byte(v.String()), nil }

func (v *Version) UnmarshalText(text []byte) error {
	parsed, err := ParseVersion(string(text))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// ParseVersion parses the text form of a Version.
func ParseVersion(s string) (Version, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return Version{}, fmt.Errorf("ids: parse Version: %w", err)
	}
	return Version(u), nil
}
