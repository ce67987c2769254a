// Package cockpit implements the Cockpit XML admin channel of spec
// §4.13: a request/response-only control path, distinct from the
// data channels, for adding, deleting, and refreshing tickers and BDS
// subscriptions out-of-band.
//
// Unlike SubscriptionChannel and PublishChannel (internal/subchan,
// internal/pubchan), Cockpit never streams; every request gets
// exactly one ACK or NAK, matched by (service, name). It shares
// the transport.Socket/ioloop.Loop shape the data channels use, since
// that is how the teacher drives every long-lived connection, but the
// framing is the flat admin-XML described in spec §4.13/§6.1 rather
// than the MSG/FLD data envelope in internal/wire/xml.
package cockpit

import (
	"context"
	"encoding/xml"
	"fmt"
	"sync"
	"time"

	"github.com/marketfeed/rtcore/internal/ioloop"
	"github.com/marketfeed/rtcore/internal/netbuf"
	"github.com/marketfeed/rtcore/internal/rtlog"
	"github.com/marketfeed/rtcore/internal/transport"
)

// Op identifies one of the four admin request kinds spec §4.13 names.
type Op string

const (
	OpAdd     Op = "ADD"
	OpDel     Op = "DEL"
	OpRefresh Op = "REFRESH"
	OpBDS     Op = "BDS"
)

// Request is one outbound Cockpit admin request.
type Request struct {
	Op      Op
	Service string
	Name    string
}

// Response is the peer's ACK or NAK for a previously sent Request.
type Response struct {
	Ack     bool
	Service string
	Name    string
	Reason  string // non-empty only on NAK
}

type wireReq struct {
	XMLName xml.Name `xml:""`
	Service string   `xml:"Service,attr"`
	Name    string   `xml:"Name,attr"`
}

type wireResp struct {
	XMLName xml.Name `xml:""`
	Service string   `xml:"Service,attr"`
	Name    string   `xml:"Name,attr"`
	Reason  string   `xml:"Reason,attr,omitempty"`
}

func encodeRequest(r Request) ([]byte, error) {
	w := wireReq{XMLName: xml.Name{Local: string(r.Op)}, Service: r.Service, Name: r.Name}
	body, err := xml.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("cockpit: encoding %s request: %w", r.Op, err)
	}
	return append(body, '\n'), nil
}

func decodeResponse(p []byte) (Response, error) {
	var probe struct {
		XMLName xml.Name
	}
	if err := xml.Unmarshal(p, &probe); err != nil {
		return Response{}, fmt.Errorf("cockpit: decoding response envelope: %w", err)
	}

	var w wireResp
	if err := xml.Unmarshal(p, &w); err != nil {
		return Response{}, fmt.Errorf("cockpit: decoding response body: %w", err)
	}

	switch probe.XMLName.Local {
	case "ACK":
		return Response{Ack: true, Service: w.Service, Name: w.Name}, nil
	case "NAK":
		return Response{Ack: false, Service: w.Service, Name: w.Name, Reason: w.Reason}, nil
	default:
		return Response{}, fmt.Errorf("cockpit: unexpected response element %q", probe.XMLName.Local)
	}
}

func key(service, name string) string { return service + "\x00" + name }

// Channel is one Cockpit admin session: request/response only, no
// streaming subscribes, per spec §4.13.
type Channel struct {
	socket *transport.Socket
	loop   *ioloop.Loop
	inbuf  *netbuf.Buffer

	mu      sync.Mutex
	pending map[string]chan Response
}

// New constructs a Cockpit channel over socket.
func New(socket *transport.Socket) *Channel {
	c := &Channel{
		socket:  socket,
		inbuf:   netbuf.NewBuffer(1024, 4<<20),
		pending: make(map[string]chan Response),
	}
	c.loop = ioloop.New(ioloop.Callbacks{
		OnReadReady:  c.pollRead,
		PendingWrite: func() bool { return c.socket.PendingBytes() > 0 },
		OnWriteReady: func() error { _, err := c.socket.Flush(); return err },
	}, time.Second)
	return c
}

// Start dials the socket and begins driving the admin channel's loop.
func (c *Channel) Start(ctx context.Context) error {
	if err := c.socket.Dial(); err != nil {
		return err
	}
	go c.loop.Run(ctx)
	return nil
}

// Stop tears down the channel's socket and unblocks any in-flight Do.
func (c *Channel) Stop() {
	c.socket.Close(nil)
	c.mu.Lock()
	for k, ch := range c.pending {
		close(ch)
		delete(c.pending, k)
	}
	c.mu.Unlock()
}

func (c *Channel) pollRead() error {
	n, err := c.socket.ReadInto(c.inbuf, 64*1024)
	if err != nil {
		return err
	}
	if n == 0 {
		return nil
	}

	for {
		line, consumed, ok := splitLine(c.inbuf.Bytes())
		if !ok {
			break
		}
		resp, err := decodeResponse(line)
		if err != nil {
			rtlog.Warnf("cockpit: %v", err)
		} else {
			c.complete(resp)
		}
		c.inbuf.Move(consumed, c.inbuf.Len()-consumed)
	}
	return nil
}

func splitLine(p []byte) ([]byte, int, bool) {
	for i, b := range p {
		if b == '\n' {
			return p[:i], i + 1, true
		}
	}
	return nil, 0, false
}

func (c *Channel) complete(resp Response) {
	k := key(resp.Service, resp.Name)
	c.mu.Lock()
	ch, ok := c.pending[k]
	if ok {
		delete(c.pending, k)
	}
	c.mu.Unlock()
	if ok {
		ch <- resp
		close(ch)
	}
}

// Do sends req and blocks for its matching ACK/NAK, up to timeout.
// Timeouts and retries beyond this single round trip are the
// application's responsibility, per spec §4.13.
func (c *Channel) Do(req Request, timeout time.Duration) (Response, error) {
	ch := make(chan Response, 1)
	k := key(req.Service, req.Name)

	c.mu.Lock()
	c.pending[k] = ch
	c.mu.Unlock()

	body, err := encodeRequest(req)
	if err != nil {
		c.mu.Lock()
		delete(c.pending, k)
		c.mu.Unlock()
		return Response{}, err
	}
	if err := c.socket.Enqueue(body); err != nil {
		c.mu.Lock()
		delete(c.pending, k)
		c.mu.Unlock()
		return Response{}, err
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return Response{}, fmt.Errorf("cockpit: channel stopped waiting for %s/%s", req.Service, req.Name)
		}
		return resp, nil
	case <-time.After(timeout):
		c.mu.Lock()
		delete(c.pending, k)
		c.mu.Unlock()
		return Response{}, fmt.Errorf("cockpit: timed out waiting for %s %s/%s", req.Op, req.Service, req.Name)
	}
}

// Add issues an ADD request for (service, name).
func (c *Channel) Add(service, name string, timeout time.Duration) (Response, error) {
	return c.Do(Request{Op: OpAdd, Service: service, Name: name}, timeout)
}

// Del issues a DEL request for (service, name).
func (c *Channel) Del(service, name string, timeout time.Duration) (Response, error) {
	return c.Do(Request{Op: OpDel, Service: service, Name: name}, timeout)
}

// Refresh issues a REFRESH request for (service, name).
func (c *Channel) Refresh(service, name string, timeout time.Duration) (Response, error) {
	return c.Do(Request{Op: OpRefresh, Service: service, Name: name}, timeout)
}

// BDS issues a BDS request for (service, name).
func (c *Channel) BDS(service, name string, timeout time.Duration) (Response, error) {
	return c.Do(Request{Op: OpBDS, Service: service, Name: name}, timeout)
}
