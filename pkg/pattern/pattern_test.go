package pattern_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/loom/pkg/ids"
	"github.com/cuemby/loom/pkg/pattern"
	"github.com/cuemby/loom/pkg/value"
)

func TestMatchesWildcard(t *testing.T) {
	p := value.Record("ping", value.Symbol("<...>"))
	v := value.Record("ping", value.Int(42))
	require.True(t, pattern.Matches(p, v))
}

func TestMatchesRecordArityMismatch(t *testing.T) {
	p := value.Record("ping", value.Int(1))
	v := value.Record("ping", value.Int(1), value.Int(2))
	require.False(t, pattern.Matches(p, v))
}

func TestMatchesSequence(t *testing.T) {
	p := value.Sequence(value.Int(1), value.Symbol("<...>"))
	v := value.Sequence(value.Int(1), value.Int(99))
	require.True(t, pattern.Matches(p, v))
}

func TestEvalAssertRetractSymmetry(t *testing.T) {
	e := pattern.NewEngine()
	id := ids.NewPatternId()
	facet := ids.NewFacetId()
	actor := ids.NewActorId()

	e.Register(pattern.Pattern{
		ID:      id,
		Facet:   facet,
		Actor:   actor,
		Pattern: value.Record("ping", value.Symbol("<...>")),
	})

	initial := len(e.Matches(id))
	require.Equal(t, 0, initial)

	handle := ids.NewHandle()
	fresh := e.EvalAssert(handle, value.Record("ping", value.Int(1)))
	require.Len(t, fresh, 1)
	require.Len(t, e.Matches(id), 1)

	affected := e.EvalRetract(handle)
	require.Equal(t, []pattern.PatternID{id}, affected)
	require.Len(t, e.Matches(id), initial)
}

func TestUnregisterCleansReverseIndex(t *testing.T) {
	e := pattern.NewEngine()
	id := ids.NewPatternId()
	e.Register(pattern.Pattern{ID: id, Pattern: value.Symbol("<...>")})

	handle := ids.NewHandle()
	e.EvalAssert(handle, value.Int(1))
	e.Unregister(id)

	affected := e.EvalRetract(handle)
	require.Empty(t, affected)
}
