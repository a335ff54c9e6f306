package value_test

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/loom/pkg/value"
)

func roundTrip(t *testing.T, v value.Value) value.Value {
	t.Helper()
	buf, err := value.Encode(nil, v)
	require.NoError(t, err)
	decoded, n, err := value.Decode(buf)
	require.NoError(t, err)
	require.Equal(t, len(buf), n)
	return decoded
}

func TestRoundTripAtoms(t *testing.T) {
	cases := []value.Value{
		value.Bool(true),
		value.Bool(false),
		value.Int(0),
		value.Int(-1234567),
		value.Float(3.25),
		value.Float(math.NaN()),
		value.String("hello"),
		value.Bytes([]byte{0x00, 0xff, 0x10}),
		value.Symbol("ping"),
	}
	for _, v := range cases {
		got := roundTrip(t, v)
		if diff := cmp.Diff(v, got, cmp.AllowUnexported(value.Value{}), cmp.Comparer(func(a, b float64) bool {
			return math.Float64bits(a) == math.Float64bits(b)
		})); diff != "" {
			t.Errorf("round trip mismatch (-want +got):\n%s", diff)
		}
	}
}

func TestRoundTripCompounds(t *testing.T) {
	rec := value.Record("ping", value.Int(1), value.String("a"))
	seq := value.Sequence(value.Int(1), value.Int(2), value.Int(3))
	set := value.SetOf(value.Int(3), value.Int(1), value.Int(2))
	dict := value.Dict(
		value.DictEntry{Key: value.Symbol("b"), Value: value.Int(2)},
		value.DictEntry{Key: value.Symbol("a"), Value: value.Int(1)},
	)

	for _, v := range []value.Value{rec, seq, set, dict} {
		got := roundTrip(t, v)
		require.True(t, value.Equal(v, got))
	}
}

func TestCanonicalEncodingDeterministic(t *testing.T) {
	a := value.Record("point", value.Int(1), value.Int(2))
	b := value.Record("point", value.Int(1), value.Int(2))

	encA, err := value.Encode(nil, a)
	require.NoError(t, err)
	encB, err := value.Encode(nil, b)
	require.NoError(t, err)
	require.Equal(t, encA, encB)
}

func TestSetCanonicalOrderIndependentOfConstructionOrder(t *testing.T) {
	s1 := value.SetOf(value.Int(1), value.Int(2), value.Int(3))
	s2 := value.SetOf(value.Int(3), value.Int(2), value.Int(1))

	enc1, err := value.Encode(nil, s1)
	require.NoError(t, err)
	enc2, err := value.Encode(nil, s2)
	require.NoError(t, err)
	require.Equal(t, enc1, enc2)
}

func TestWildcardDetection(t *testing.T) {
	require.True(t, value.Symbol("<...>").IsWildcard())
	require.True(t, value.Symbol("<x>").IsWildcard())
	require.False(t, value.Symbol("plain").IsWildcard())
	require.False(t, value.String("<...>").IsWildcard())
}
