package binary

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/marketfeed/rtcore/internal/schema"
	"github.com/marketfeed/rtcore/internal/wire"
)

func roundTrip(t *testing.T, c *Codec, env wire.Envelope) wire.Envelope {
	t.Helper()
	p, err := c.Encode(env, nil)
	require.NoError(t, err)

	got, n, err := c.Decode(p, nil)
	require.NoError(t, err)
	require.Equal(t, len(p), n)
	return got
}

func TestRoundTripEveryFieldType(t *testing.T) {
	c := New()
	env := wire.Envelope{
		Protocol: wire.ProtoBinary,
		Type:     wire.MsgUpdate,
		Service:  "ELEKTRON_DD",
		Ticker:   "EUR=",
		StreamID: 42,
		Tag:      0xCAFEBABE,
		Fields: []schema.Field{
			schema.NewString(3, ""),
			schema.NewString(4, "hello world"),
			schema.NewInt(10, schema.Int8, -128),
			schema.NewInt(11, schema.Int16, 32767),
			schema.NewInt(12, schema.Int32, -2147483648),
			schema.NewInt(13, schema.Int64, 9223372036854775807),
			schema.NewFloat(14, schema.Float32, 3.5),
			schema.NewFloat(15, schema.Float64, 100.25),
			schema.NewDate(16, schema.DateValue{Year: 2024, Month: 3, Day: 14}),
			schema.NewTime(17, schema.TimeOfDay{Hour: 13, Minute: 5, Second: 9, Millis: 250}, false),
			schema.NewTime(18, schema.TimeOfDay{Hour: 23, Minute: 59, Second: 59}, true),
			schema.NewReal(19, schema.RealValue{Mantissa: 12345, Exponent: -2}),
			schema.NewByteStreamRef(20, []byte{0x00, 0xFF, 0x10}),
			schema.NewVector(21, []float64{1.1, 2.2, 3.3}, 2),
			schema.NewTimedVector(22, []int64{1, 2, 3}, []float64{1.1, 2.2, 3.3}),
			schema.NewUnixTime(23, 1715000000000000000),
		},
	}

	got := roundTrip(t, c, env)
	require.Equal(t, env.Type, got.Type)
	require.Equal(t, env.Service, got.Service)
	require.Equal(t, env.Ticker, got.Ticker)
	require.Equal(t, env.StreamID, got.StreamID)
	require.Equal(t, env.Tag, got.Tag)
	require.Len(t, got.Fields, len(env.Fields))

	for i, want := range env.Fields {
		require.True(t, want.Equal(got.Fields[i]), "field %d mismatch: %+v != %+v", i, want, got.Fields[i])
	}
}

func TestPackedFlagRoundTrips(t *testing.T) {
	c := New()
	env := wire.Envelope{
		Protocol: wire.ProtoBinary,
		Type:     wire.MsgUpdate,
		Service:  "SVC",
		Ticker:   "X",
		Packed:   true,
		Fields:   []schema.Field{schema.NewFloat(22, schema.Float64, 1.5)},
	}
	got := roundTrip(t, c, env)
	require.True(t, got.Packed)

	env.Packed = false
	got = roundTrip(t, c, env)
	require.False(t, got.Packed)
}

func TestLongStringLenRoundTrips(t *testing.T) {
	c := &Codec{LongStringLen: true}
	big := make([]byte, 70000)
	for i := range big {
		big[i] = byte(i % 256)
	}
	env := wire.Envelope{
		Protocol: wire.ProtoBinary,
		Type:     wire.MsgUpdate,
		Service:  "SVC",
		Ticker:   "X",
		Fields:   []schema.Field{schema.NewByteStreamRef(1, big)},
	}
	got := roundTrip(t, c, env)
	require.Equal(t, big, got.Fields[0].AsBytes())
}

func TestDecodeShortMessage(t *testing.T) {
	c := New()
	env := wire.Envelope{Protocol: wire.ProtoBinary, Type: wire.MsgImage, Service: "S", Ticker: "T"}
	p, err := c.Encode(env, nil)
	require.NoError(t, err)

	_, _, err = c.Decode(p[:len(p)-2], nil)
	require.ErrorIs(t, err, wire.ErrShortMessage)
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	c := New()
	p, _ := c.Encode(wire.Envelope{Protocol: wire.ProtoBinary, Type: wire.MsgImage, Service: "S", Ticker: "T"}, nil)
	p[0] = 'X'
	_, _, err := c.Decode(p, nil)
	require.ErrorIs(t, err, wire.ErrMalformed)
}

func TestUnknownFieldDecodesAsUndefined(t *testing.T) {
	c := New()
	env := wire.Envelope{
		Protocol: wire.ProtoBinary,
		Type:     wire.MsgUpdate,
		Service:  "S",
		Ticker:   "T",
		Fields:   []schema.Field{schema.NewUndefined(99, schema.String, []byte("raw value"))},
	}
	got := roundTrip(t, c, env)
	require.Equal(t, schema.Undefined, got.Fields[0].DeclaredType)
	require.Equal(t, "raw value", got.Fields[0].AsString())
}
