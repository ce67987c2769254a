// Package pubchan implements the PublishChannel of spec §3.3/§6.5:
// the publish-side counterpart to subchan. It tracks one Stream per
// published (service, ticker), each with its own sequence counter and
// last-sent snapshot so publishing in "packed" mode can omit fields
// that have not changed since the previous publish, mirroring the
// record cache's conflation logic from the subscribe side.
package pubchan

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/marketfeed/rtcore/internal/rtlog"
	"github.com/marketfeed/rtcore/internal/schema"
	"github.com/marketfeed/rtcore/internal/transport"
	"github.com/marketfeed/rtcore/internal/wire"
)

// OnPubOpenFunc handles an interactive open request from the peer: it
// receives the requested (service, ticker) and the peer's opaque tag
// and returns whether to accept it, per spec §3.3's interactive
// open/close handshake.
type OnPubOpenFunc func(service, ticker string, tag uintptr) bool

// stream is the per-published-item publish state.
type stream struct {
	mu       sync.Mutex
	streamID int64
	seq      int64
	hopCount int
	last     map[int]schema.Field
}

// Config configures a PublishChannel.
type Config struct {
	Codec  wire.Codec
	Schema *schema.Schema
	Socket *transport.Socket

	// OnPubOpen, if set, is consulted for every open request before a
	// stream is created; a nil OnPubOpen accepts every request.
	OnPubOpen OnPubOpenFunc
}

// PublishChannel publishes image/update messages for a set of
// (service, ticker) items this process is the source of record for.
type PublishChannel struct {
	cfg Config

	binary   bool
	unpacked bool
	pubMsgTy wire.MsgType
	perms    int

	mu      sync.Mutex
	streams map[string]map[string]*stream

	streamSeq int64
}

func New(cfg Config) *PublishChannel {
	return &PublishChannel{
		cfg:      cfg,
		pubMsgTy: wire.MsgUpdate,
		streams:  make(map[string]map[string]*stream),
	}
}

// SetBinary selects the binary codec's packed encoding for subsequent
// publishes; has no effect on non-binary codecs.
func (p *PublishChannel) SetBinary(on bool) { p.binary = on }

// SetUnPacked forces every field to be sent on every publish,
// bypassing the conflation-by-last-snapshot optimization; used for
// debugging or for peers that cannot reconstruct state across gaps.
func (p *PublishChannel) SetUnPacked(on bool) { p.unpacked = on }

// SetUserPubMsgTy overrides the message type used for ordinary
// (non-image) publishes; some peers expect a custom message type for
// application-level refresh semantics.
func (p *PublishChannel) SetUserPubMsgTy(ty wire.MsgType) { p.pubMsgTy = ty }

// SetPerms stores a permission oracle value on the channel; the
// channel itself does not read it or send it on the wire.
func (p *PublishChannel) SetPerms(perms int) { p.perms = perms }

func (p *PublishChannel) getOrCreateStream(service, ticker string) *stream {
	p.mu.Lock()
	defer p.mu.Unlock()
	svc, ok := p.streams[service]
	if !ok {
		svc = make(map[string]*stream)
		p.streams[service] = svc
	}
	st, ok := svc[ticker]
	if !ok {
		st = &stream{streamID: atomic.AddInt64(&p.streamSeq, 1), last: make(map[int]schema.Field)}
		svc[ticker] = st
	}
	return st
}

// HandleOpen processes an inbound open request from the peer,
// consulting OnPubOpen and replying with MsgInsertAck (accept) or
// MsgClose (reject).
func (p *PublishChannel) HandleOpen(service, ticker string, tag uintptr) error {
	accept := true
	if p.cfg.OnPubOpen != nil {
		accept = p.cfg.OnPubOpen(service, ticker, tag)
	}

	if !accept {
		env := wire.Envelope{Protocol: p.cfg.Codec.Protocol(), Type: wire.MsgClose, Service: service, Ticker: ticker, Tag: tag}
		return p.send(env)
	}

	p.getOrCreateStream(service, ticker)
	env := wire.Envelope{Protocol: p.cfg.Codec.Protocol(), Type: wire.MsgInsertAck, Service: service, Ticker: ticker, Tag: tag}
	return p.send(env)
}

// HopCount returns the number of times (service, ticker) has been
// relayed through RecordHop, used by a downstream republisher to
// detect and break republish loops.
func (p *PublishChannel) HopCount(service, ticker string) int {
	st := p.getOrCreateStream(service, ticker)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.hopCount
}

// RecordHop increments the hop count for (service, ticker); a
// relaying publisher calls this once per inbound image/update it
// republishes downstream.
func (p *PublishChannel) RecordHop(service, ticker string) {
	st := p.getOrCreateStream(service, ticker)
	st.mu.Lock()
	st.hopCount++
	st.mu.Unlock()
}

// PublishBDS publishes a Batch Data Stream symbol-list image: one
// MsgBDS envelope carrying the constituent ticker names as one string
// field each, with field ids 1..n in order, per spec §3.3.
func (p *PublishChannel) PublishBDS(service, ticker string, constituents []string) error {
	fields := make([]schema.Field, len(constituents))
	for i, c := range constituents {
		fields[i] = schema.NewString(i+1, c)
	}
	env := wire.Envelope{
		Protocol: p.cfg.Codec.Protocol(),
		Type:     wire.MsgBDS,
		Service:  service,
		Ticker:   ticker,
		Fields:   fields,
	}
	return p.send(env)
}

func (p *PublishChannel) send(env wire.Envelope) error {
	bytes, err := p.cfg.Codec.Encode(env, p.cfg.Schema)
	if err != nil {
		return err
	}
	return p.cfg.Socket.Enqueue(bytes)
}

// Update is a builder for one outbound image or update message,
// accumulating fields before Publish sends it, per spec §6.5.
type Update struct {
	ch      *PublishChannel
	service string
	ticker  string
	isImage bool
	fields  []schema.Field
}

// Init starts building an update for (service, ticker). isImage marks
// this as a full-image publish (bypasses conflation, forcing every
// field onto the wire, and resets the stream's last-sent snapshot).
func (p *PublishChannel) Init(service, ticker string, isImage bool) *Update {
	return &Update{ch: p, service: service, ticker: ticker, isImage: isImage}
}

// AddField appends a field to the update being built.
func (u *Update) AddField(f schema.Field) *Update {
	u.fields = append(u.fields, f)
	return u
}

// PubChainLink appends one byte-stream fragment field at fid plus its
// index/terminal flag at fid+1, the shape assemble.ByteStream
// reassembles: callers publishing a multi-message sequence address
// each link by field id.
func (u *Update) PubChainLink(fid int, linkIndex int, data []byte, lastLink bool) *Update {
	u.fields = append(u.fields, schema.NewByteStreamRef(fid, data))
	flagID := fid + 1
	flag := int64(linkIndex)
	if lastLink {
		flag = -flag - 1 // negative encodes terminal link, matching the assembler's end-of-chain probe
	}
	u.fields = append(u.fields, schema.NewInt(flagID, schema.Int32, flag))
	return u
}

// PubVector appends a vector field with the given display precision.
func (u *Update) PubVector(fid int, values []float64, precision int) *Update {
	u.fields = append(u.fields, schema.NewVector(fid, values, precision))
	return u
}

// Publish sends the accumulated fields, applying packed-mode
// conflation against the stream's last-sent snapshot unless the
// channel is configured unpacked or this is an image publish.
func (u *Update) Publish() error {
	p := u.ch
	st := p.getOrCreateStream(u.service, u.ticker)

	st.mu.Lock()
	var outFields []schema.Field
	if u.isImage || p.unpacked || !p.binary {
		outFields = u.fields
		st.last = make(map[int]schema.Field, len(u.fields))
		for _, f := range u.fields {
			st.last[f.ID] = f
		}
	} else {
		for _, f := range u.fields {
			if prev, ok := st.last[f.ID]; !ok || !prev.Equal(f) {
				outFields = append(outFields, f)
				st.last[f.ID] = f
			}
		}
	}
	st.seq++
	seq := st.seq
	streamID := st.streamID
	st.mu.Unlock()

	if len(outFields) == 0 && !u.isImage {
		return nil // nothing changed; packed mode elides an empty update entirely
	}

	msgType := p.pubMsgTy
	if u.isImage {
		msgType = wire.MsgImage
	}

	env := wire.Envelope{
		Protocol: p.cfg.Codec.Protocol(),
		Type:     msgType,
		Service:  u.service,
		Ticker:   u.ticker,
		StreamID: streamID,
		Fields:   outFields,
		Packed:   p.binary && !p.unpacked && !u.isImage,
	}

	rtlog.Debugf("pubchan: publish %s/%s seq=%d fields=%d", u.service, u.ticker, seq, len(outFields))
	if err := p.send(env); err != nil {
		return fmt.Errorf("pubchan: publish %s/%s: %w", u.service, u.ticker, err)
	}
	return nil
}
