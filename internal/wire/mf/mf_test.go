package mf

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/marketfeed/rtcore/internal/schema"
	"github.com/marketfeed/rtcore/internal/wire"
)

func testSchema(t *testing.T) *schema.Schema {
	t.Helper()
	s, err := schema.Parse("BID 22 PRICE 0|ASK 25 PRICE 0|SYMBOL 3 ALPHANUMERIC 16|QTY 27 INTEGER 0")
	require.NoError(t, err)
	return s
}

func TestRoundTripRecoversNativeTypesFromSchema(t *testing.T) {
	c := New()
	sch := testSchema(t)

	env := wire.Envelope{
		Protocol: wire.ProtoMF,
		Type:     wire.MsgUpdate,
		Service:  "ELEKTRON_DD",
		Ticker:   "EUR=",
		StreamID: 7,
		Tag:      123,
		Fields: []schema.Field{
			schema.NewFloat(22, schema.Float64, 1.0925),
			schema.NewFloat(25, schema.Float64, 1.0927),
			schema.NewString(3, "EUR="),
			schema.NewInt(27, schema.Int32, 1000),
		},
	}

	p, err := c.Encode(env, sch)
	require.NoError(t, err)

	got, n, err := c.Decode(p, sch)
	require.NoError(t, err)
	require.Equal(t, len(p), n)
	require.Equal(t, env.Type, got.Type)
	require.Equal(t, env.Service, got.Service)
	require.Equal(t, env.Ticker, got.Ticker)
	require.Equal(t, env.StreamID, got.StreamID)
	require.Equal(t, env.Tag, got.Tag)
	require.Len(t, got.Fields, 4)

	bid := got.Fields[0]
	require.Equal(t, schema.Float64, bid.DeclaredType)
	v, err := bid.AsFloat64()
	require.NoError(t, err)
	require.InDelta(t, 1.0925, v, 0.0001)

	qty := got.Fields[3]
	require.Equal(t, schema.Int32, qty.DeclaredType)
	iv, err := qty.AsInt64()
	require.NoError(t, err)
	require.Equal(t, int64(1000), iv)
}

func TestDecodeWithoutSchemaYieldsUndefined(t *testing.T) {
	c := New()
	env := wire.Envelope{
		Protocol: wire.ProtoMF,
		Type:     wire.MsgImage,
		Service:  "S",
		Ticker:   "T",
		Fields:   []schema.Field{schema.NewString(1, "hello")},
	}
	p, err := c.Encode(env, nil)
	require.NoError(t, err)

	got, _, err := c.Decode(p, nil)
	require.NoError(t, err)
	require.Equal(t, schema.Undefined, got.Fields[0].DeclaredType)
	require.Equal(t, "hello", got.Fields[0].AsString())
}

func TestDecodeShortMessageWaitsForTerminator(t *testing.T) {
	c := New()
	p, _ := c.Encode(wire.Envelope{Protocol: wire.ProtoMF, Type: wire.MsgPing, Service: "S", Ticker: "T"}, nil)
	_, _, err := c.Decode(p[:len(p)-1], nil)
	require.ErrorIs(t, err, wire.ErrShortMessage)
}

func TestPackedFlagRoundTrips(t *testing.T) {
	c := New()
	env := wire.Envelope{Protocol: wire.ProtoMF, Type: wire.MsgUpdate, Service: "S", Ticker: "T", Packed: true}
	p, _ := c.Encode(env, nil)
	got, _, err := c.Decode(p, nil)
	require.NoError(t, err)
	require.True(t, got.Packed)
}

func TestVectorFieldRoundTrips(t *testing.T) {
	c := New()
	s, err := schema.Parse("CURVE 50 NUMERIC 0")
	require.NoError(t, err)
	s2 := schema.New()
	require.NoError(t, s2.Add(schema.Def{ID: 50, Name: "CURVE", Type: schema.Vector}))

	env := wire.Envelope{
		Protocol: wire.ProtoMF,
		Type:     wire.MsgUpdate,
		Service:  "S",
		Ticker:   "T",
		Fields:   []schema.Field{schema.NewVector(50, []float64{1.5, 2.5, 3.5}, 2)},
	}
	p, err := c.Encode(env, s)
	require.NoError(t, err)

	got, _, err := c.Decode(p, s2)
	require.NoError(t, err)
	vals, _ := got.Fields[0].AsVector()
	require.Equal(t, []float64{1.5, 2.5, 3.5}, vals)
}
