package netbuf

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBufferGrowsAndCeiling(t *testing.T) {
	b := NewBuffer(4, 16)
	require.NoError(t, b.Push([]byte("hello")))
	require.Equal(t, 5, b.Len())
	require.ErrorIs(t, b.Push(bytes.Repeat([]byte{'x'}, 20)), ErrCeiling)
}

func TestBufferReadInAndMove(t *testing.T) {
	b := NewBuffer(8, 0)
	r := strings.NewReader("abcdefgh")
	n, err := b.ReadIn(r, 4)
	require.NoError(t, err)
	require.Equal(t, 4, n)
	require.Equal(t, "abcd", string(b.Bytes()))

	b.Move(2, 2)
	require.Equal(t, "cd", string(b.Bytes()))
}

func TestBufferWriteOut(t *testing.T) {
	b := NewBuffer(8, 0)
	require.NoError(t, b.Push([]byte("payload")))
	var out bytes.Buffer
	n, err := b.WriteOut(&out, 0, 4)
	require.NoError(t, err)
	require.Equal(t, 4, n)
	require.Equal(t, "payl", out.String())
}

type captureSink struct {
	raw  [][]byte
	roll int
}

func (c *captureSink) Raw(p []byte) { c.raw = append(c.raw, append([]byte(nil), p...)) }
func (c *captureSink) Roll(som, eom bool, total, fragment int64) { c.roll++ }

func TestBufferRawCapture(t *testing.T) {
	sink := &captureSink{}
	b := NewBuffer(8, 0)
	b.SetRawSink(sink)
	require.NoError(t, b.Push([]byte("abc")))
	require.Len(t, sink.raw, 1)
	require.Equal(t, "abc", string(sink.raw[0]))
}
