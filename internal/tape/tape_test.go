package tape

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/marketfeed/rtcore/internal/schema"
	"github.com/marketfeed/rtcore/internal/wire"
)

func newTapeFixture(t *testing.T) (string, *schema.Schema) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.tape")
	require.NoError(t, Create(path, CreateOptions{
		SecPerIdxTape:   1,
		SecPerIdxRecord: 1,
		DictCapacity:    16,
		RecordCapacity:  16,
	}))
	sch, err := schema.Parse("PRICE 22 PRICE 0")
	require.NoError(t, err)
	return path, sch
}

func mustFloat(t *testing.T, f schema.Field) float64 {
	t.Helper()
	v, err := f.AsFloat64()
	require.NoError(t, err)
	return v
}

func TestAppendThenReadInOrder(t *testing.T) {
	path, sch := newTapeFixture(t)

	w, err := OpenWriter(path)
	require.NoError(t, err)
	base := int64(1_700_000_000) * nanosPerSecond
	for i := 0; i < 3; i++ {
		require.NoError(t, w.Append("SVC", "A", 1, base+int64(i)*int64(nanosPerSecond), wire.ProtoBinary,
			[]schema.Field{schema.NewFloat(22, schema.Float64, float64(i))}))
	}
	require.NoError(t, w.Flush())
	require.NoError(t, w.Close())

	r, err := Open(path, sch)
	require.NoError(t, err)
	defer r.Close()

	var got []float64
	for {
		msg, ok, err := r.Read()
		require.NoError(t, err)
		if !ok {
			break
		}
		got = append(got, mustFloat(t, msg.Fields[0]))
	}
	require.Equal(t, []float64{0, 1, 2}, got)
}

func TestPumpTickerWalksBackwardChainThenReverses(t *testing.T) {
	path, sch := newTapeFixture(t)

	w, err := OpenWriter(path)
	require.NoError(t, err)
	base := int64(1_700_000_000) * nanosPerSecond
	for i := 0; i < 5; i++ {
		require.NoError(t, w.Append("SVC", "A", 1, base+int64(i)*int64(nanosPerSecond), wire.ProtoBinary,
			[]schema.Field{schema.NewFloat(22, schema.Float64, float64(i))}))
	}
	require.NoError(t, w.Flush())
	require.NoError(t, w.Close())

	r, err := Open(path, sch)
	require.NoError(t, err)
	defer r.Close()

	var got []float64
	err = r.PumpTicker("SVC", "A", func(msg Message) bool {
		got = append(got, mustFloat(t, msg.Fields[0]))
		return true
	})
	require.NoError(t, err)
	require.Equal(t, []float64{0, 1, 2, 3, 4}, got)
}

func TestPumpTapeSliceDeliversInRangeAndStopHalts(t *testing.T) {
	path, sch := newTapeFixture(t)

	w, err := OpenWriter(path)
	require.NoError(t, err)
	base := int64(1_700_000_000) * nanosPerSecond
	const step = int64(100 * 1_000_000) // 100ms
	for i := 0; i < 10; i++ {
		require.NoError(t, w.Append("SVC", "A", 1, base+int64(i)*step, wire.ProtoBinary,
			[]schema.Field{schema.NewFloat(22, schema.Float64, float64(i))}))
	}
	require.NoError(t, w.Flush())
	require.NoError(t, w.Close())

	r, err := Open(path, sch)
	require.NoError(t, err)
	defer r.Close()

	tStart := base + 2*step + step/2 // t0+250ms
	tEnd := base + 6*step + step/2   // t0+650ms

	var got []float64
	err = r.PumpTapeSlice(tStart, tEnd, func(msg Message) bool {
		got = append(got, mustFloat(t, msg.Fields[0]))
		return true
	})
	require.NoError(t, err)
	require.Equal(t, []float64{3, 4, 5, 6}, got)

	var stopped []float64
	err = r.PumpTapeSlice(tStart, tEnd, func(msg Message) bool {
		stopped = append(stopped, mustFloat(t, msg.Fields[0]))
		return len(stopped) < 2
	})
	require.NoError(t, err)
	require.Equal(t, []float64{3, 4}, stopped)
}

func TestRewindToReplaysFromAnOffset(t *testing.T) {
	path, sch := newTapeFixture(t)

	w, err := OpenWriter(path)
	require.NoError(t, err)
	base := int64(1_700_000_000) * nanosPerSecond
	for i := 0; i < 3; i++ {
		require.NoError(t, w.Append("SVC", "A", 1, base+int64(i)*int64(nanosPerSecond), wire.ProtoBinary,
			[]schema.Field{schema.NewFloat(22, schema.Float64, float64(i))}))
	}
	require.NoError(t, w.Flush())
	require.NoError(t, w.Close())

	r, err := Open(path, sch)
	require.NoError(t, err)
	defer r.Close()

	entry := r.DictionaryEntries()[0]

	r.RewindTo(entry.FirstOffset)
	msg, ok, err := r.Read()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, float64(0), mustFloat(t, msg.Fields[0]))
}

func TestStartTapeSliceStopsCooperatively(t *testing.T) {
	path, sch := newTapeFixture(t)

	w, err := OpenWriter(path)
	require.NoError(t, err)
	base := int64(1_700_000_000) * nanosPerSecond
	const step = int64(100 * 1_000_000)
	for i := 0; i < 10; i++ {
		require.NoError(t, w.Append("SVC", "A", 1, base+int64(i)*step, wire.ProtoBinary,
			[]schema.Field{schema.NewFloat(22, schema.Float64, float64(i))}))
	}
	require.NoError(t, w.Flush())
	require.NoError(t, w.Close())

	r, err := Open(path, sch)
	require.NoError(t, err)
	defer r.Close()

	delivered := make(chan float64, 10)
	errs := make(chan error, 1)
	p := r.StartTapeSlice(base, base+10*step, func(msg Message) {
		delivered <- mustFloat(t, msg.Fields[0])
	}, errs)

	first := <-delivered
	second := <-delivered
	require.Equal(t, float64(0), first)
	require.Equal(t, float64(1), second)
	p.Stop()

	require.NoError(t, <-errs)
	require.Less(t, len(delivered), 9) // Stop must have cut the pump off before it drained the whole slice
}
