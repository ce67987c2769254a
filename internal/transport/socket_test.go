package transport

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func startEchoListener(t *testing.T) (addr string, stop func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				buf := make([]byte, 4096)
				for {
					n, err := conn.Read(buf)
					if err != nil {
						return
					}
					conn.Write(buf[:n])
				}
			}()
		}
	}()

	return ln.Addr().String(), func() {
		ln.Close()
		close(done)
	}
}

func TestDialConnectsToFirstReachableTarget(t *testing.T) {
	addr, stop := startEchoListener(t)
	defer stop()

	var connected string
	s := New(Config{Targets: "127.0.0.1:1,127.0.0.1:2," + addr})
	s.OnConnect = func(a string) { connected = a }

	require.NoError(t, s.Dial())
	require.Equal(t, StateConnected, s.State())
	require.Equal(t, addr, connected)
	s.Close(nil)
}

func TestDialFailsWhenAllTargetsUnreachable(t *testing.T) {
	s := New(Config{Targets: "127.0.0.1:1,127.0.0.1:2", DialTimeout: 200 * time.Millisecond})
	err := s.Dial()
	require.Error(t, err)
	require.Equal(t, StateDisconnected, s.State())
}

func TestEnqueueAndFlushRoundTrips(t *testing.T) {
	addr, stop := startEchoListener(t)
	defer stop()

	s := New(Config{Targets: addr})
	require.NoError(t, s.Dial())
	defer s.Close(nil)

	require.NoError(t, s.Enqueue([]byte("hello")))
	n, err := s.Flush()
	require.NoError(t, err)
	require.Equal(t, 5, n)
}

func TestCloseInvokesOnDisconnect(t *testing.T) {
	addr, stop := startEchoListener(t)
	defer stop()

	s := New(Config{Targets: addr})
	require.NoError(t, s.Dial())

	called := false
	s.OnDisconnect = func(err error) { called = true }
	require.NoError(t, s.Close(nil))
	require.True(t, called)
	require.Equal(t, "", s.RemoteAddr())
}
