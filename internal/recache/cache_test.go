package recache

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/marketfeed/rtcore/internal/schema"
)

func TestGetOrCreateIsIdempotent(t *testing.T) {
	c := New()
	r1 := c.GetOrCreate("ELEKTRON_DD", "EUR=")
	r2 := c.GetOrCreate("ELEKTRON_DD", "EUR=")
	require.Same(t, r1, r2)
	require.Equal(t, 1, c.Count())
}

func TestLookupMissingReturnsFalse(t *testing.T) {
	c := New()
	_, ok := c.Lookup("SVC", "X")
	require.False(t, ok)
}

func TestImageMarksEveryFieldDirtyAndQueuesOnce(t *testing.T) {
	r := newRecord("SVC", "T")

	queued := r.Apply([]schema.Field{
		schema.NewFloat(22, schema.Float64, 100.0),
		schema.NewFloat(25, schema.Float64, 101.0),
	}, true)
	require.True(t, queued)
	require.True(t, r.HasImage())

	// A second Apply before drain must not re-queue (conflation).
	queued = r.Apply([]schema.Field{schema.NewFloat(22, schema.Float64, 100.5)}, false)
	require.False(t, queued)

	fields, hasImage := r.DrainDirty()
	require.True(t, hasImage)
	require.Len(t, fields, 2)
}

func TestUpdateOnlyMarksChangedFieldsDirty(t *testing.T) {
	r := newRecord("SVC", "T")
	r.Apply([]schema.Field{
		schema.NewFloat(22, schema.Float64, 100.0),
		schema.NewFloat(25, schema.Float64, 101.0),
	}, true)
	r.DrainDirty()

	queued := r.Apply([]schema.Field{
		schema.NewFloat(22, schema.Float64, 100.0), // unchanged
		schema.NewFloat(25, schema.Float64, 101.5), // changed
	}, false)
	require.True(t, queued)

	fields, _ := r.DrainDirty()
	require.Len(t, fields, 1)
	require.Equal(t, 25, fields[0].ID)
}

func TestApplyWithNoChangesDoesNotQueue(t *testing.T) {
	r := newRecord("SVC", "T")
	r.Apply([]schema.Field{schema.NewFloat(22, schema.Float64, 100.0)}, true)
	r.DrainDirty()

	queued := r.Apply([]schema.Field{schema.NewFloat(22, schema.Float64, 100.0)}, false)
	require.False(t, queued)
}

func TestDrainDirtyPreservesFirstDirtiedOrder(t *testing.T) {
	r := newRecord("SVC", "T")
	r.Apply([]schema.Field{
		schema.NewFloat(25, schema.Float64, 1),
		schema.NewFloat(22, schema.Float64, 1),
		schema.NewFloat(30, schema.Float64, 1),
	}, true)
	r.DrainDirty()

	// Touch 30 again, then 22, in that order; field 25 is untouched.
	r.Apply([]schema.Field{schema.NewFloat(30, schema.Float64, 2)}, false)
	r.Apply([]schema.Field{schema.NewFloat(22, schema.Float64, 2)}, false)

	fields, _ := r.DrainDirty()
	require.Len(t, fields, 2)
	require.Equal(t, 30, fields[0].ID)
	require.Equal(t, 22, fields[1].ID)
}

func TestImageReturnsFieldsInAscendingIDOrder(t *testing.T) {
	r := newRecord("SVC", "T")
	r.Apply([]schema.Field{
		schema.NewFloat(30, schema.Float64, 1),
		schema.NewFloat(10, schema.Float64, 1),
		schema.NewFloat(20, schema.Float64, 1),
	}, true)

	fields := r.Image()
	require.Len(t, fields, 3)
	require.Equal(t, 10, fields[0].ID)
	require.Equal(t, 20, fields[1].ID)
	require.Equal(t, 30, fields[2].ID)
}

func TestRemoveEvictsRecord(t *testing.T) {
	c := New()
	c.GetOrCreate("SVC", "T")
	c.Remove("SVC", "T")
	_, ok := c.Lookup("SVC", "T")
	require.False(t, ok)
}

func TestEachVisitsEveryRecord(t *testing.T) {
	c := New()
	c.GetOrCreate("SVC1", "A")
	c.GetOrCreate("SVC1", "B")
	c.GetOrCreate("SVC2", "C")

	seen := map[string]bool{}
	c.Each(func(r *Record) { seen[r.Service+"/"+r.Ticker] = true })
	require.Len(t, seen, 3)
}

func TestStatsCountsImagesAndUpdates(t *testing.T) {
	r := newRecord("SVC", "T")

	r.Apply([]schema.Field{schema.NewFloat(22, schema.Float64, 1)}, true)
	r.DrainDirty()
	r.Apply([]schema.Field{schema.NewFloat(22, schema.Float64, 2)}, false)
	r.DrainDirty()
	r.Apply([]schema.Field{schema.NewFloat(22, schema.Float64, 3)}, false)

	st := r.Stats()
	require.Equal(t, uint64(1), st.Images)
	require.Equal(t, uint64(2), st.Updates)
	require.False(t, st.LastUpdated.IsZero())
}
