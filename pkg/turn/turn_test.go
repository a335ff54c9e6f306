package turn_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/loom/pkg/ids"
	"github.com/cuemby/loom/pkg/state"
	"github.com/cuemby/loom/pkg/turn"
	"github.com/cuemby/loom/pkg/value"
)

func TestTurnIDDeterministic(t *testing.T) {
	actor := ids.NewActorId()
	inputs := []turn.Input{turn.ExternalMessage(actor, ids.NewFacetId(), value.Int(1))}

	id1, err := turn.ComputeTurnID(actor, 1, inputs)
	require.NoError(t, err)
	id2, err := turn.ComputeTurnID(actor, 1, inputs)
	require.NoError(t, err)
	require.Equal(t, id1, id2)
}

func TestTurnIDChangesWithInputs(t *testing.T) {
	actor := ids.NewActorId()
	facet := ids.NewFacetId()

	id1, err := turn.ComputeTurnID(actor, 1, []turn.Input{turn.ExternalMessage(actor, facet, value.Int(1))})
	require.NoError(t, err)
	id2, err := turn.ComputeTurnID(actor, 1, []turn.Input{turn.ExternalMessage(actor, facet, value.Int(2))})
	require.NoError(t, err)
	require.NotEqual(t, id1, id2)
}

func TestRecordRoundTrip(t *testing.T) {
	actor := ids.NewActorId()
	facet := ids.NewFacetId()
	handle := ids.NewHandle()

	inputs := []turn.Input{turn.ExternalMessage(actor, facet, value.String("hi"))}
	outputs := []turn.Output{{Kind: turn.OutputAssert, Handle: handle, Value: value.Int(42)}}
	delta := state.Delta{
		Assertions: state.AssertionDelta{
			Added: []state.AssertionAdd{{Actor: actor, Handle: handle, Value: value.Int(42), Version: ids.NewVersion()}},
		},
	}

	record, err := turn.NewRecord(actor, ids.Main, 1, nil, inputs, outputs, delta, 12345)
	require.NoError(t, err)

	encoded, err := turn.Encode(record)
	require.NoError(t, err)

	decoded, n, err := turn.Decode(encoded)
	require.NoError(t, err)
	require.Equal(t, len(encoded), n)

	require.Equal(t, record.TurnID, decoded.TurnID)
	require.Equal(t, record.Actor, decoded.Actor)
	require.Equal(t, record.Branch, decoded.Branch)
	require.Equal(t, record.Clock, decoded.Clock)
	require.Len(t, decoded.Inputs, 1)
	require.Len(t, decoded.Outputs, 1)
	require.Equal(t, record.Timestamp, decoded.Timestamp)
	require.Len(t, decoded.Delta.Assertions.Added, 1)
}
