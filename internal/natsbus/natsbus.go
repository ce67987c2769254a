// Package natsbus is the optional NATS mirror bus of SPEC_FULL §2
// row 18: a fan-out of status transitions and published updates for
// audit/monitoring, entirely independent of the core wire session —
// disconnecting it never affects subscribe/publish semantics.
//
// Grounded directly on the teacher's pkg/nats/client.go: the same
// singleton-free Client wrapping *nats.Conn, the same
// Disconnect/Reconnect/Error handler wiring, the same
// username+password or credentials-file auth. Only the surface is
// narrowed to what a mirror bus needs: Publish and Close.
package natsbus

import (
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/marketfeed/rtcore/internal/rtlog"
)

// Config configures the mirror bus connection.
type Config struct {
	Address       string
	Username      string
	Password      string
	CredsFilePath string
	Subject       string // subject updates/status transitions are published under
}

// Bus wraps a NATS connection used only to mirror rtcore events
// outward; it is never read from.
type Bus struct {
	conn    *nats.Conn
	subject string
	mu      sync.Mutex
}

// Connect dials the NATS server named in cfg. A Bus with a nil
// conn is a valid no-op: Publish silently drops when disconnected,
// per spec's "this is a mirror, not the wire session" framing.
func Connect(cfg Config) (*Bus, error) {
	if cfg.Address == "" {
		return &Bus{subject: cfg.Subject}, nil
	}

	var opts []nats.Option
	if cfg.Username != "" && cfg.Password != "" {
		opts = append(opts, nats.UserInfo(cfg.Username, cfg.Password))
	}
	if cfg.CredsFilePath != "" {
		opts = append(opts, nats.UserCredentials(cfg.CredsFilePath))
	}
	opts = append(opts, nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
		if err != nil {
			rtlog.Warnf("natsbus: disconnected: %v", err)
		}
	}))
	opts = append(opts, nats.ReconnectHandler(func(nc *nats.Conn) {
		rtlog.Infof("natsbus: reconnected to %s", nc.ConnectedUrl())
	}))
	opts = append(opts, nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
		rtlog.Errorf("natsbus: error: %v", err)
	}))

	nc, err := nats.Connect(cfg.Address, opts...)
	if err != nil {
		return nil, fmt.Errorf("natsbus: connect: %w", err)
	}

	rtlog.Infof("natsbus: connected to %s", cfg.Address)
	return &Bus{conn: nc, subject: cfg.Subject}, nil
}

// PublishStatus mirrors a connection/record status transition.
func (b *Bus) PublishStatus(service, ticker, status string) {
	b.publish(fmt.Sprintf("%s.status", b.subject), []byte(fmt.Sprintf("%s|%s|%s", service, ticker, status)))
}

// PublishUpdate mirrors one published field update, as a compact
// "service|ticker|fieldCount" line; full field payloads belong on the
// tape, not the audit bus.
func (b *Bus) PublishUpdate(service, ticker string, fieldCount int) {
	b.publish(fmt.Sprintf("%s.update", b.subject), []byte(fmt.Sprintf("%s|%s|%d", service, ticker, fieldCount)))
}

func (b *Bus) publish(subject string, data []byte) {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()

	if conn == nil {
		return
	}
	if err := conn.Publish(subject, data); err != nil {
		rtlog.Warnf("natsbus: publish to %s failed: %v", subject, err)
	}
}

// Close releases the underlying connection, if any.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn != nil {
		b.conn.Close()
		b.conn = nil
	}
}

// Connected reports whether the bus currently has a live connection.
func (b *Bus) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn != nil && b.conn.IsConnected()
}
