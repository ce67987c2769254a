package cockpit

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/marketfeed/rtcore/internal/transport"
)

func newLoopback(t *testing.T) (*Channel, net.Conn, func()) {
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
	ch := New(sock)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, ch.Start(ctx))

	peer := <-connCh
	return ch, peer, func() {
		cancel()
		ch.Stop()
		peer.Close()
		ln.Close()
	}
}

func TestDoAck(t *testing.T) {
	ch, peer, cleanup := newLoopback(t)
	defer cleanup()

	done := make(chan struct{})
	go func() {
		buf := make([]byte, 4096)
		n, err := peer.Read(buf)
		require.NoError(t, err)
		require.Contains(t, string(buf[:n]), `<ADD Service="BB" Name="IBM"></ADD>`)
		_, err = peer.Write([]byte(`<ACK Service="BB" Name="IBM"></ACK>` + "\n"))
		require.NoError(t, err)
		close(done)
	}()

	resp, err := ch.Add("BB", "IBM", time.Second)
	require.NoError(t, err)
	require.True(t, resp.Ack)
	require.Equal(t, "BB", resp.Service)
	require.Equal(t, "IBM", resp.Name)
	<-done
}

func TestDoNak(t *testing.T) {
	ch, peer, cleanup := newLoopback(t)
	defer cleanup()

	go func() {
		buf := make([]byte, 4096)
		peer.Read(buf)
		peer.Write([]byte(`<NAK Service="BB" Name="XYZ" Reason="unknown ticker"></NAK>` + "\n"))
	}()

	resp, err := ch.Del("BB", "XYZ", time.Second)
	require.NoError(t, err)
	require.False(t, resp.Ack)
	require.Equal(t, "unknown ticker", resp.Reason)
}

func TestDoTimeout(t *testing.T) {
	ch, _, cleanup := newLoopback(t)
	defer cleanup()

	_, err := ch.Refresh("BB", "IBM", 20*time.Millisecond)
	require.Error(t, err)
}

func TestConfigLockBoundedWait(t *testing.T) {
	l := NewConfigLock()
	require.True(t, l.Lock(time.Second))

	ok := l.Lock(20 * time.Millisecond)
	require.False(t, ok, "second lock attempt must time out while held")

	l.Unlock()
	require.True(t, l.Lock(time.Second))
	l.Unlock()
}
