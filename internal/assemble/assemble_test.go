package assemble

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/marketfeed/rtcore/internal/recache"
	"github.com/marketfeed/rtcore/internal/schema"
)

func TestByteStreamReassemblesInOrderRegardlessOfArrival(t *testing.T) {
	bs := NewByteStream(10)

	out, done := bs.Feed([]schema.Field{
		schema.NewByteStreamRef(10, []byte("World")),
		schema.NewInt(11, schema.Int32, -2), // terminal, index 1
	})
	require.False(t, done)
	require.Nil(t, out)

	out, done = bs.Feed([]schema.Field{
		schema.NewByteStreamRef(10, []byte("Hello ")),
		schema.NewInt(11, schema.Int32, 0),
	})
	require.True(t, done)
	require.Equal(t, "Hello World", string(out))
}

func TestByteStreamResetClearsFragments(t *testing.T) {
	bs := NewByteStream(10)
	bs.Feed([]schema.Field{schema.NewByteStreamRef(10, []byte("partial")), schema.NewInt(11, schema.Int32, 0)})
	bs.Reset()
	out, done := bs.Feed([]schema.Field{schema.NewByteStreamRef(10, []byte("x")), schema.NewInt(11, schema.Int32, -1)})
	require.True(t, done)
	require.Equal(t, "x", string(out))
}

func TestChainWalkFollowsLinksInOrder(t *testing.T) {
	cache := recache.New()

	link1 := cache.GetOrCreate("SVC", "0#.CHAIN")
	link1.Apply(BuildLinkFields([]string{"AAPL.O", "MSFT.O"}, "1#.CHAIN"), true)

	link2 := cache.GetOrCreate("SVC", "1#.CHAIN")
	link2.Apply(BuildLinkFields([]string{"GOOG.O"}, ""), true)

	c := NewChain("0#.CHAIN", 2)
	names, err := c.Walk("SVC", cache)
	require.NoError(t, err)
	require.Equal(t, []string{"AAPL.O", "MSFT.O", "GOOG.O"}, names)
}

func TestChainWalkErrorsOnMissingLink(t *testing.T) {
	cache := recache.New()
	c := NewChain("0#.CHAIN", 2)
	_, err := c.Walk("SVC", cache)
	require.Error(t, err)
}

func TestVectorExtractsFieldByID(t *testing.T) {
	fields := []schema.Field{schema.NewVector(5, []float64{1, 2, 3}, 4)}
	vals, prec, ok := Vector(fields, 5)
	require.True(t, ok)
	require.Equal(t, []float64{1, 2, 3}, vals)
	require.Equal(t, 4, prec)

	_, _, ok = Vector(fields, 99)
	require.False(t, ok)
}

func TestSurfaceAccumulatesRowsOutOfOrder(t *testing.T) {
	s := NewSurface(7)

	s.Feed(90, []schema.Field{schema.NewTimedVector(7, []int64{30, 60, 90}, []float64{0.2, 0.22, 0.24})})
	s.Feed(30, []schema.Field{schema.NewTimedVector(7, []int64{30, 60, 90}, []float64{0.18, 0.19, 0.20})})

	rowKeys, data, cols := s.Snapshot()
	require.Equal(t, []int64{30, 90}, rowKeys)
	require.Equal(t, []int64{30, 60, 90}, cols)
	require.Equal(t, []float64{0.18, 0.19, 0.20}, data[0])
	require.Equal(t, 2, s.Len())
}
