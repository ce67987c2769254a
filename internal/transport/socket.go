// Package transport implements the Socket of spec §3.4/§4.4: a
// reconnecting TCP (or UDP) connection to one of a comma-separated
// list of failover targets, with outbound back-pressure handled by a
// CircularBuffer. The Socket sends no heartbeats and does not detect
// a silent peer.
//
// The reconnect/backoff shape mirrors the teacher's NATS client
// wrapper (pkg/nats/client.go): a handler invoked on disconnect, a
// handler invoked on reconnect, and a single connection object
// guarded by one mutex rather than exposed directly to callers.
package transport

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/marketfeed/rtcore/internal/netbuf"
	"github.com/marketfeed/rtcore/internal/rtlog"
)

// ErrNotConnected is returned by Flush/ReadInto when the socket has no
// live connection (between a failed attempt and the next retry).
var ErrNotConnected = errors.New("transport: not connected")

// State is the socket's current connection lifecycle state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	default:
		return "UNKNOWN"
	}
}

// Config configures a Socket.
type Config struct {
	// Targets is a comma-separated "host:port,host:port,..." failover
	// list, tried in order on every (re)connect attempt, per spec §3.4.
	Targets string
	// Network is "tcp" or "udp"; defaults to "tcp".
	Network string
	// DialTimeout bounds each individual connect attempt.
	DialTimeout time.Duration
	// MinBackoff/MaxBackoff bound the exponential reconnect delay.
	MinBackoff time.Duration
	MaxBackoff time.Duration
	// SendQueueCap sizes the outbound CircularBuffer.
	SendQueueCap int
	// SendHiLoBandPct sets the high/low watermark band on the send queue.
	SendHiLoBandPct int
}

func (c Config) targets() []string {
	var out []string
	for _, t := range strings.Split(c.Targets, ",") {
		t = strings.TrimSpace(t)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// Socket owns one outbound connection plus a send queue that absorbs
// bursts when the peer reads slower than the caller writes.
type Socket struct {
	cfg Config

	mu    sync.Mutex
	conn  net.Conn
	state State

	sendQ *netbuf.CircularBuffer

	OnConnect      func(addr string)
	OnDisconnect   func(err error)
	OnHighWatermark func(bool)
}

func New(cfg Config) *Socket {
	if cfg.Network == "" {
		cfg.Network = "tcp"
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.MinBackoff == 0 {
		cfg.MinBackoff = 250 * time.Millisecond
	}
	if cfg.MaxBackoff == 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	if cfg.SendQueueCap == 0 {
		cfg.SendQueueCap = 1 << 20
	}

	s := &Socket{cfg: cfg}
	s.sendQ = netbuf.NewCircularBuffer(cfg.SendQueueCap, cfg.SendHiLoBandPct)
	s.sendQ.OnWatermark(func(hi bool) {
		if s.OnHighWatermark != nil {
			s.OnHighWatermark(hi)
		}
	})
	return s
}

// Dial attempts to connect to the first reachable target in the
// failover list, returning an error only if every target failed.
func (s *Socket) Dial() error {
	targets := s.cfg.targets()
	if len(targets) == 0 {
		return fmt.Errorf("transport: no targets configured")
	}

	s.mu.Lock()
	s.state = StateConnecting
	s.mu.Unlock()

	var lastErr error
	for _, addr := range targets {
		conn, err := net.DialTimeout(s.cfg.Network, addr, s.cfg.DialTimeout)
		if err != nil {
			lastErr = err
			rtlog.Warnf("transport: dial %s failed: %v", addr, err)
			continue
		}

		s.mu.Lock()
		s.conn = conn
		s.state = StateConnected
		s.mu.Unlock()

		rtlog.Infof("transport: connected to %s", addr)
		if s.OnConnect != nil {
			s.OnConnect(addr)
		}
		return nil
	}

	s.mu.Lock()
	s.state = StateDisconnected
	s.mu.Unlock()
	return fmt.Errorf("transport: all targets failed, last error: %w", lastErr)
}

// DialWithBackoff retries Dial with exponential backoff until it
// succeeds or stop is closed.
func (s *Socket) DialWithBackoff(stop <-chan struct{}) error {
	backoff := s.cfg.MinBackoff
	for {
		if err := s.Dial(); err == nil {
			return nil
		}
		select {
		case <-stop:
			return fmt.Errorf("transport: dial cancelled")
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > s.cfg.MaxBackoff {
			backoff = s.cfg.MaxBackoff
		}
	}
}

// State returns the socket's current lifecycle state.
func (s *Socket) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Enqueue pushes p onto the outbound send queue for the ioloop's
// write-ready handler to drain; it never blocks, matching the
// poll/timer loop's non-blocking write contract (spec §4.3/§4.4).
func (s *Socket) Enqueue(p []byte) error {
	return s.sendQ.Push(p)
}

// Flush drains as much of the outbound queue as the connection will
// currently accept without blocking.
func (s *Socket) Flush() (int, error) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return 0, ErrNotConnected
	}
	n := s.sendQ.Len()
	if n == 0 {
		return 0, nil
	}
	return s.sendQ.WriteOut(conn, n)
}

// ReadInto reads available bytes from the connection into buf.
func (s *Socket) ReadInto(buf *netbuf.Buffer, max int) (int, error) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return 0, ErrNotConnected
	}
	return buf.ReadIn(conn, max)
}

// Close tears down the connection and notifies OnDisconnect if set.
func (s *Socket) Close(cause error) error {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.state = StateDisconnected
	s.mu.Unlock()

	if conn == nil {
		return nil
	}
	err := conn.Close()
	if s.OnDisconnect != nil {
		s.OnDisconnect(cause)
	}
	return err
}

// PendingBytes returns the number of bytes still queued to send.
func (s *Socket) PendingBytes() int {
	return s.sendQ.Len()
}

// RemoteAddr returns the address of the current connection, or "" if
// not connected.
func (s *Socket) RemoteAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return ""
	}
	return s.conn.RemoteAddr().String()
}
