package schema

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseSchema(t *testing.T) {
	s, err := Parse("BID 22 PRICE 0|ASK 25 PRICE 0|SYMBOL 3 ALPHANUMERIC 16")
	require.NoError(t, err)
	require.Equal(t, 3, s.Len())

	d, ok := s.ByID(22)
	require.True(t, ok)
	require.Equal(t, "BID", d.Name)
	require.Equal(t, Float64, d.Type)

	d2, ok := s.ByName("ASK")
	require.True(t, ok)
	require.Equal(t, 25, d2.ID)

	_, ok = s.ByName("ask")
	require.False(t, ok, "name lookup must be case-sensitive")

	_, ok = s.ByID(999)
	require.False(t, ok)

	min, max := s.MinMaxID()
	require.Equal(t, 3, min)
	require.Equal(t, 25, max)
}

func TestParseSchemaRejectsDuplicateID(t *testing.T) {
	_, err := Parse("BID 22 PRICE 0|ASK 22 PRICE 0")
	require.Error(t, err)
}

func TestSchemaRefreshIsAtomic(t *testing.T) {
	s, _ := Parse("BID 22 PRICE 0")
	other, _ := Parse("BID 22 PRICE 0|ASK 25 PRICE 0")
	s.Refresh(other)
	require.Equal(t, 2, s.Len())
	_, ok := s.ByID(25)
	require.True(t, ok)
}

func TestUndefinedFallsBackToString(t *testing.T) {
	s := New()
	require.Equal(t, Undefined, s.DeclaredType(77))
}

func TestFieldEqualityForConflation(t *testing.T) {
	a := NewFloat(22, Float64, 100.25)
	b := NewFloat(22, Float64, 100.25)
	c := NewFloat(22, Float64, 100.30)
	require.True(t, a.Equal(b))
	require.False(t, a.Equal(c))

	v1 := NewVector(1, []float64{1, 2, 3}, 2)
	v2 := NewVector(1, []float64{1, 2, 3}, 2)
	v3 := NewVector(1, []float64{1, 2, 4}, 2)
	require.True(t, v1.Equal(v2))
	require.False(t, v1.Equal(v3))
}
