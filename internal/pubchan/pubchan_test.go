package pubchan

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/marketfeed/rtcore/internal/schema"
	"github.com/marketfeed/rtcore/internal/transport"
	"github.com/marketfeed/rtcore/internal/wire"
	"github.com/marketfeed/rtcore/internal/wire/binary"
)

func newPublishChannel(t *testing.T) (*PublishChannel, net.Conn, func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	connCh := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			connCh <- conn
		}
	}()

	sock := transport.New(transport.Config{Targets: ln.Addr().String()})
	require.NoError(t, sock.Dial())

	var peer net.Conn
	select {
	case peer = <-connCh:
	case <-time.After(time.Second):
		t.Fatal("server never accepted connection")
	}

	ch := New(Config{Codec: binary.New()})
	ch.cfg.Socket = sock

	return ch, peer, func() {
		ln.Close()
		peer.Close()
		sock.Close(nil)
	}
}

func readOneEnvelope(t *testing.T, ch *PublishChannel, peer net.Conn) wire.Envelope {
	t.Helper()
	_, err := ch.cfg.Socket.Flush()
	require.NoError(t, err)

	peer.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 8192)
	n, err := peer.Read(buf)
	require.NoError(t, err)

	env, _, err := binary.New().Decode(buf[:n], nil)
	require.NoError(t, err)
	return env
}

func TestPublishImageSendsEveryField(t *testing.T) {
	ch, peer, stop := newPublishChannel(t)
	defer stop()
	ch.SetBinary(true)

	err := ch.Init("SVC", "T", true).
		AddField(schema.NewFloat(22, schema.Float64, 1.5)).
		AddField(schema.NewFloat(25, schema.Float64, 1.6)).
		Publish()
	require.NoError(t, err)

	env := readOneEnvelope(t, ch, peer)
	require.Equal(t, wire.MsgImage, env.Type)
	require.Len(t, env.Fields, 2)
}

func TestPackedUpdateOnlySendsChangedFields(t *testing.T) {
	ch, peer, stop := newPublishChannel(t)
	defer stop()
	ch.SetBinary(true)

	require.NoError(t, ch.Init("SVC", "T", true).
		AddField(schema.NewFloat(22, schema.Float64, 1.5)).
		AddField(schema.NewFloat(25, schema.Float64, 1.6)).
		Publish())
	readOneEnvelope(t, ch, peer)

	require.NoError(t, ch.Init("SVC", "T", false).
		AddField(schema.NewFloat(22, schema.Float64, 1.5)). // unchanged
		AddField(schema.NewFloat(25, schema.Float64, 1.7)). // changed
		Publish())

	env := readOneEnvelope(t, ch, peer)
	require.Equal(t, wire.MsgUpdate, env.Type)
	require.Len(t, env.Fields, 1)
	require.Equal(t, 25, env.Fields[0].ID)
	require.True(t, env.Packed)
}

func TestUnpackedSendsEveryFieldEveryTime(t *testing.T) {
	ch, peer, stop := newPublishChannel(t)
	defer stop()
	ch.SetBinary(true)
	ch.SetUnPacked(true)

	require.NoError(t, ch.Init("SVC", "T", true).AddField(schema.NewFloat(22, schema.Float64, 1.5)).Publish())
	readOneEnvelope(t, ch, peer)

	require.NoError(t, ch.Init("SVC", "T", false).AddField(schema.NewFloat(22, schema.Float64, 1.5)).Publish())
	env := readOneEnvelope(t, ch, peer)
	require.Len(t, env.Fields, 1)
	require.False(t, env.Packed)
}

func TestHandleOpenRejectsWhenCallbackDeclines(t *testing.T) {
	ch, peer, stop := newPublishChannel(t)
	defer stop()
	ch.cfg.OnPubOpen = func(service, ticker string, tag uintptr) bool { return false }

	require.NoError(t, ch.HandleOpen("SVC", "T", 5))
	env := readOneEnvelope(t, ch, peer)
	require.Equal(t, wire.MsgClose, env.Type)
}

func TestHopCountIncrements(t *testing.T) {
	ch, _, stop := newPublishChannel(t)
	defer stop()

	require.Equal(t, 0, ch.HopCount("SVC", "T"))
	ch.RecordHop("SVC", "T")
	ch.RecordHop("SVC", "T")
	require.Equal(t, 2, ch.HopCount("SVC", "T"))
}
