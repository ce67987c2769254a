// Package subchan implements the SubscriptionChannel of spec §3.3:
// subscribe/unsubscribe refcounting per (service, ticker), dispatch
// of incoming image/update/status messages into a RecordCache, and
// delivery to the consumer either by pull (EventPump.Wait) or by
// push (a Callback invoked directly from the channel's own
// goroutine, per spec §5's "callbacks run on the channel thread").
package subchan

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marketfeed/rtcore/internal/ioloop"
	"github.com/marketfeed/rtcore/internal/netbuf"
	"github.com/marketfeed/rtcore/internal/recache"
	"github.com/marketfeed/rtcore/internal/rtlog"
	"github.com/marketfeed/rtcore/internal/schema"
	"github.com/marketfeed/rtcore/internal/transport"
	"github.com/marketfeed/rtcore/internal/wire"
)

// Callback is invoked for every image/update/status event when the
// channel runs in push mode. It always runs on the channel's own
// goroutine; it must not block.
type Callback func(Event)

type subscription struct {
	refcount int
	tag      uintptr
	snapshot bool // BDS symbol-list open rather than a plain item open
}

// Config configures a SubscriptionChannel.
type Config struct {
	Codec  wire.Codec
	Schema *schema.Schema
	Cache  *recache.Cache
	Socket *transport.Socket
	// Callback, if non-nil, puts the channel in push mode. If nil, the
	// channel runs in pull mode and events queue on Pump.
	Callback Callback
}

// SubscriptionChannel drives one consuming session: it owns a
// Socket, a read Buffer, and the ioloop.Loop that pumps bytes through
// Codec and dispatches decoded envelopes.
type SubscriptionChannel struct {
	cfg   Config
	pump  *EventPump
	loop  *ioloop.Loop
	inbuf *netbuf.Buffer

	mu   sync.Mutex
	subs map[string]map[string]*subscription

	streamSeq int64
}

// New constructs a SubscriptionChannel. If cfg.Callback is nil the
// channel runs in pull mode and the caller drains it with Read.
func New(cfg Config) *SubscriptionChannel {
	c := &SubscriptionChannel{
		cfg:   cfg,
		pump:  NewEventPump(),
		inbuf: netbuf.NewBuffer(4096, 64<<20),
		subs:  make(map[string]map[string]*subscription),
	}

	c.loop = ioloop.New(ioloop.Callbacks{
		OnReadReady:  c.pollRead,
		PendingWrite: func() bool { return c.cfg.Socket.PendingBytes() > 0 },
		OnWriteReady: func() error { _, err := c.cfg.Socket.Flush(); return err },
	}, time.Second)

	return c
}

// Start dials the socket and begins driving the channel's loop in a
// new goroutine; it returns once the initial connection succeeds.
func (c *SubscriptionChannel) Start(ctx context.Context) error {
	if err := c.cfg.Socket.Dial(); err != nil {
		return err
	}
	go c.loop.Run(ctx)
	return nil
}

// Stop closes the event pump, unblocking any pull-mode Read.
func (c *SubscriptionChannel) Stop() {
	c.pump.Close()
}

func (c *SubscriptionChannel) pollRead() error {
	n, err := c.cfg.Socket.ReadInto(c.inbuf, 64*1024)
	if err != nil {
		return err
	}
	if n == 0 {
		return nil
	}

	for {
		env, consumed, err := c.cfg.Codec.Decode(c.inbuf.Bytes(), c.cfg.Schema)
		if err == wire.ErrShortMessage {
			break
		}
		if err != nil {
			rtlog.Errorf("subchan: decode error, dropping connection: %v", err)
			return err
		}
		c.dispatch(env)
		c.inbuf.Move(consumed, c.inbuf.Len()-consumed)
	}
	return nil
}

func (c *SubscriptionChannel) dispatch(env wire.Envelope) {
	switch env.Type {
	case wire.MsgImage, wire.MsgUpdate:
		rec := c.cfg.Cache.GetOrCreate(env.Service, env.Ticker)
		becameQueued := rec.Apply(env.Fields, env.Type == wire.MsgImage)

		if c.cfg.Callback != nil {
			// Push mode: no conflation, every message is its own
			// delivery, drained and handed to the callback immediately.
			fields, isImage := rec.DrainDirty()
			c.cfg.Callback(Event{
				Service: env.Service,
				Ticker:  env.Ticker,
				Type:    env.Type,
				Fields:  fields,
				Tag:     rec.Tag(),
				IsImage: isImage,
			})
			return
		}

		// Pull mode: only the false->true queued transition enqueues a
		// pending delivery; the dirty fields are drained later, when
		// the consumer actually calls Read, so a burst of updates that
		// arrives before the next Read coalesces into one event per
		// spec §4.7's conflation contract instead of one per message.
		if becameQueued {
			c.pump.AddRecord(rec, env.Service, env.Ticker, rec.Tag())
		}
	case wire.MsgStatusDead, wire.MsgStatusStale, wire.MsgStatusRecovering:
		c.deliver(Event{Service: env.Service, Ticker: env.Ticker, Type: env.Type, Tag: c.tagFor(env.Service, env.Ticker)})
	default:
		c.deliver(Event{Service: env.Service, Ticker: env.Ticker, Type: env.Type, Fields: env.Fields})
	}
}

func (c *SubscriptionChannel) deliver(ev Event) {
	if c.cfg.Callback != nil {
		c.cfg.Callback(ev)
		return
	}
	c.pump.Add(ev)
}

func (c *SubscriptionChannel) tagFor(service, ticker string) uintptr {
	c.mu.Lock()
	defer c.mu.Unlock()
	if svc, ok := c.subs[service]; ok {
		if s, ok := svc[ticker]; ok {
			return s.tag
		}
	}
	return 0
}

// Subscribe opens (service, ticker) if this is the first reference,
// incrementing a refcount otherwise. tag is echoed back on every
// Event for this item.
func (c *SubscriptionChannel) Subscribe(service, ticker string, tag uintptr) error {
	return c.open(service, ticker, tag, false)
}

// OpenBDS subscribes to a symbol-list (Batch Data Stream) item: the
// server responds with MsgBDS image/update pairs whose ticker
// changes per constituent, per spec §3.3's BDS variant.
func (c *SubscriptionChannel) OpenBDS(service, ticker string, tag uintptr) error {
	return c.open(service, ticker, tag, true)
}

func (c *SubscriptionChannel) open(service, ticker string, tag uintptr, snapshot bool) error {
	c.mu.Lock()
	svc, ok := c.subs[service]
	if !ok {
		svc = make(map[string]*subscription)
		c.subs[service] = svc
	}
	sub, ok := svc[ticker]
	if ok {
		sub.refcount++
		c.mu.Unlock()

		// A second (or later) subscriber joining an item that is
		// already open: it has no pending wire image of its own to
		// wait for, so hand it the record's current state immediately
		// rather than leaving it blind until the next wire update.
		if rec, ok := c.cfg.Cache.Lookup(service, ticker); ok && rec.HasImage() {
			c.deliver(Event{
				Service: service,
				Ticker:  ticker,
				Type:    wire.MsgImage,
				Fields:  rec.Image(),
				Tag:     tag,
				IsImage: true,
			})
		}
		return nil
	}
	sub = &subscription{refcount: 1, tag: tag, snapshot: snapshot}
	svc[ticker] = sub
	c.mu.Unlock()

	rec := c.cfg.Cache.GetOrCreate(service, ticker)
	rec.SetTag(tag)

	msgType := wire.MsgOpen
	if snapshot {
		msgType = wire.MsgBDS
	}
	streamID := atomic.AddInt64(&c.streamSeq, 1)
	env := wire.Envelope{
		Protocol: c.cfg.Codec.Protocol(),
		Type:     msgType,
		Service:  service,
		Ticker:   ticker,
		StreamID: streamID,
		Tag:      tag,
	}
	return c.send(env)
}

// Unsubscribe decrements the refcount for (service, ticker), sending
// a close request and evicting the cached record once it reaches
// zero.
func (c *SubscriptionChannel) Unsubscribe(service, ticker string) error {
	c.mu.Lock()
	svc, ok := c.subs[service]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("subchan: %s/%s not subscribed", service, ticker)
	}
	sub, ok := svc[ticker]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("subchan: %s/%s not subscribed", service, ticker)
	}
	sub.refcount--
	last := sub.refcount <= 0
	if last {
		delete(svc, ticker)
	}
	c.mu.Unlock()

	if !last {
		return nil
	}

	c.cfg.Cache.Remove(service, ticker)
	env := wire.Envelope{
		Protocol: c.cfg.Codec.Protocol(),
		Type:     wire.MsgClose,
		Service:  service,
		Ticker:   ticker,
	}
	return c.send(env)
}

func (c *SubscriptionChannel) send(env wire.Envelope) error {
	p, err := c.cfg.Codec.Encode(env, c.cfg.Schema)
	if err != nil {
		return err
	}
	return c.cfg.Socket.Enqueue(p)
}

// IsSnapshot reports whether (service, ticker) was opened via OpenBDS.
func (c *SubscriptionChannel) IsSnapshot(service, ticker string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	svc, ok := c.subs[service]
	if !ok {
		return false
	}
	sub, ok := svc[ticker]
	return ok && sub.snapshot
}

// Read blocks up to timeout for the next pull-mode event. It returns
// ok=false if the channel is running in push mode.
func (c *SubscriptionChannel) Read(timeout time.Duration) (Event, bool) {
	if c.cfg.Callback != nil {
		return Event{}, false
	}
	return c.pump.Wait(timeout)
}

// Pending returns the number of queued pull-mode events.
func (c *SubscriptionChannel) Pending() int {
	return c.pump.Len()
}
