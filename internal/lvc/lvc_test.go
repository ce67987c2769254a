package lvc

import (
	"encoding/binary"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/marketfeed/rtcore/internal/schema"
)

func newFixture(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.lvc")
	require.NoError(t, Create(path, "BID 22 PRICE 0|ASK 25 PRICE 0|SYMBOL 3 ALPHANUMERIC 16", CreateOptions{
		DirCapacity:  16,
		SlotCapacity: 16,
		MaxPayload:   512,
	}))
	return path
}

func TestWriteThenSnap(t *testing.T) {
	path := newFixture(t)

	w, err := OpenWriter(path)
	require.NoError(t, err)
	require.NoError(t, w.Put("ELEKTRON_DD", "EUR=", []schema.Field{
		schema.NewFloat(22, schema.Float64, 1.0925),
		schema.NewFloat(25, schema.Float64, 1.0927),
	}))
	require.NoError(t, w.Flush())
	require.NoError(t, w.Close())

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	require.Equal(t, 3, r.GetSchema().Len())

	fields, ok, stale := r.Snap("ELEKTRON_DD", "EUR=")
	require.True(t, ok)
	require.False(t, stale)
	require.Len(t, fields, 2)

	_, ok, _ = r.Snap("ELEKTRON_DD", "GBP=")
	require.False(t, ok)
}

func TestViewAllRespectsFilter(t *testing.T) {
	path := newFixture(t)
	w, err := OpenWriter(path)
	require.NoError(t, err)
	require.NoError(t, w.Put("SVC", "A", []schema.Field{schema.NewFloat(22, schema.Float64, 1)}))
	require.NoError(t, w.Put("SVC", "B", []schema.Field{schema.NewFloat(22, schema.Float64, 2)}))
	require.NoError(t, w.Flush())
	require.NoError(t, w.Close())

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	r.SetFilter(func(service, ticker string) bool { return ticker == "A" })

	seen := 0
	r.ViewAll(func(service, ticker string, fields []schema.Field, stale bool) { seen++ })
	require.Equal(t, 1, seen)
}

func TestSnapAllSafeTimesOutWithoutBlockingForever(t *testing.T) {
	path := newFixture(t)
	w, err := OpenWriter(path)
	require.NoError(t, err)
	require.NoError(t, w.Put("SVC", "A", []schema.Field{schema.NewFloat(22, schema.Float64, 1)}))
	require.NoError(t, w.Flush())
	require.NoError(t, w.Close())

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	all, err := r.SnapAll_safe(time.Second)
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestRefreshPicksUpNewRecords(t *testing.T) {
	path := newFixture(t)
	w, err := OpenWriter(path)
	require.NoError(t, err)
	require.NoError(t, w.Put("SVC", "A", []schema.Field{schema.NewFloat(22, schema.Float64, 1)}))
	require.NoError(t, w.Flush())

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	_, ok, _ := r.Snap("SVC", "B")
	require.False(t, ok)

	require.NoError(t, w.Put("SVC", "B", []schema.Field{schema.NewFloat(22, schema.Float64, 2)}))
	require.NoError(t, w.Flush())
	require.NoError(t, w.Close())

	require.NoError(t, r.Refresh())
	_, ok, _ = r.Snap("SVC", "B")
	require.True(t, ok)
}

func TestSnapReturnsLastObservedOnSeqlockExhaustion(t *testing.T) {
	path := newFixture(t)
	w, err := OpenWriter(path)
	require.NoError(t, err)
	require.NoError(t, w.Put("SVC", "A", []schema.Field{schema.NewFloat(22, schema.Float64, 1)}))
	require.NoError(t, w.Flush())

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	fields, ok, stale := r.Snap("SVC", "A")
	require.True(t, ok)
	require.False(t, stale)
	require.Len(t, fields, 1)

	// Simulate a writer that never finishes its mutation: leave the
	// slot's sequence counter odd so every retry sees "write in
	// progress" until the budget is exhausted.
	slot, ok := r.findSlot("SVC", "A")
	require.True(t, ok)
	view := w.mf.View()
	off := r.l.slotsOff + int64(slot)*int64(r.h.slotStride)
	seq := binary.LittleEndian.Uint64(view[off : off+8])
	binary.LittleEndian.PutUint64(view[off:off+8], seq+1)

	staleFields, ok, stale := r.Snap("SVC", "A")
	require.True(t, ok)
	require.True(t, stale)
	require.Equal(t, fields, staleFields)

	require.NoError(t, w.Close())
}
