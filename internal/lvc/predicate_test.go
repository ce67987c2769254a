package lvc

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/marketfeed/rtcore/internal/schema"
)

func TestCompilePredicateFiltersByFieldValue(t *testing.T) {
	path := newFixture(t)
	w, err := OpenWriter(path)
	require.NoError(t, err)
	require.NoError(t, w.Put("SVC", "A", []schema.Field{schema.NewFloat(22, schema.Float64, 99)}))
	require.NoError(t, w.Put("SVC", "B", []schema.Field{schema.NewFloat(22, schema.Float64, 150)}))
	require.NoError(t, w.Flush())
	require.NoError(t, w.Close())

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	filter, err := CompilePredicate(r, "BID > 100")
	require.NoError(t, err)
	r.SetFilter(filter)

	seen := map[string]bool{}
	r.ViewAll(func(service, ticker string, fields []schema.Field, stale bool) { seen[ticker] = true })
	require.False(t, seen["A"])
	require.True(t, seen["B"])
}

func TestCompilePredicateRejectsInvalidExpression(t *testing.T) {
	path := newFixture(t)
	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	_, err = CompilePredicate(r, "not valid expr (((")
	require.Error(t, err)
}
