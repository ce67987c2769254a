package tape

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/marketfeed/rtcore/internal/schema"
	"github.com/marketfeed/rtcore/internal/wire"
)

func TestEncodeSampleLineContainsTagAndField(t *testing.T) {
	msg := Message{
		Service:     "SVC",
		Ticker:      "EUR=",
		TimestampNS: 1_700_000_000 * nanosPerSecond,
		Fields:      []schema.Field{schema.NewFloat(22, schema.Float64, 1.0925)},
	}

	line, err := EncodeSampleLine(msg)
	require.NoError(t, err)
	s := string(line)
	require.True(t, strings.HasPrefix(s, "EUR="))
	require.Contains(t, s, "service=SVC")
	require.Contains(t, s, "f22=")
}

func TestPumpTapeSliceSampleLinesWritesOneLinePerMessage(t *testing.T) {
	path, sch := newTapeFixture(t)

	w, err := OpenWriter(path)
	require.NoError(t, err)
	base := int64(1_700_000_000) * nanosPerSecond
	for i := 0; i < 3; i++ {
		require.NoError(t, w.Append("SVC", "EUR=", 1, base+int64(i)*nanosPerSecond, wire.ProtoBinary,
			[]schema.Field{schema.NewFloat(22, schema.Float64, float64(i))}))
	}
	require.NoError(t, w.Flush())
	require.NoError(t, w.Close())

	r, err := Open(path, sch)
	require.NoError(t, err)
	defer r.Close()

	var buf bytes.Buffer
	require.NoError(t, r.PumpTapeSliceSampleLines(0, base+10*nanosPerSecond, nanosPerSecond, nil, &buf))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
}
