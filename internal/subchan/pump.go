package subchan

import (
	"sync"
	"time"

	"github.com/marketfeed/rtcore/internal/recache"
	"github.com/marketfeed/rtcore/internal/schema"
	"github.com/marketfeed/rtcore/internal/wire"
)

// Event is one notification delivered to a pull-mode consumer via
// EventPump.Wait, or to a push-mode consumer via a Callback.
type Event struct {
	Service string
	Ticker  string
	Type    wire.MsgType
	Fields  []schema.Field
	Tag     uintptr
	IsImage bool
}

// pendingItem is one entry on the pump's queue. Status/default
// messages carry a ready-built Event (built); image/update deliveries
// carry a reference to the dirtied Record instead (rec), so the
// actual field drain happens at pop time — not at enqueue time — per
// spec §4.7's conflation contract: "the drainer reads the dirty list
// and clears the queued flag inside the same critical section."
// Draining at enqueue time would reintroduce one-event-per-message
// delivery, defeating conflation even though only one item sits on
// the queue.
type pendingItem struct {
	built   *Event
	rec     *recache.Record
	service string
	ticker  string
	tag     uintptr
}

// EventPump is the pull-mode delivery mechanism of spec §3.3: records
// that became dirty queue themselves here once, and Read(timeout)
// blocks the consumer's own thread until one is available or the
// timeout elapses, matching the blocking Read(timeout) contract used
// throughout the original middleware API.
type EventPump struct {
	mu      sync.Mutex
	cond    *sync.Cond
	items   []pendingItem
	pending map[*recache.Record]struct{} // records already represented on items, for Add-side coalescing
	closed  bool
}

func NewEventPump() *EventPump {
	p := &EventPump{pending: make(map[*recache.Record]struct{})}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Add enqueues a pre-built event (status transitions and anything
// else not subject to per-record conflation) and wakes one blocked
// reader.
func (p *EventPump) Add(ev Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.items = append(p.items, pendingItem{built: &ev})
	p.cond.Signal()
}

// AddRecord enqueues rec for delivery, deferring the actual dirty-field
// drain until a consumer calls Wait. Per spec §3.3/§4.7, a record that
// is already queued (tracked here by the same record pointer already
// being on the pump) is not added a second time: Record.Apply's
// becameQueued return already prevents the caller from invoking
// AddRecord twice for the same undrained burst, and this check makes
// that coalescing hold even if a caller ever changes.
func (p *EventPump) AddRecord(rec *recache.Record, service, ticker string, tag uintptr) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	if _, already := p.pending[rec]; already {
		return
	}
	p.pending[rec] = struct{}{}
	p.items = append(p.items, pendingItem{rec: rec, service: service, ticker: ticker, tag: tag})
	p.cond.Signal()
}

// Wait blocks up to timeout for the next event. ok is false on
// timeout or after Close. For a record-backed item, the dirty fields
// are drained from the record only now, at pop time, so a burst of
// updates that arrived while this item sat on the queue is delivered
// as one coalesced event rather than one per Apply call.
func (p *EventPump) Wait(timeout time.Duration) (ev Event, ok bool) {
	deadline := time.Now().Add(timeout)

	p.mu.Lock()
	defer p.mu.Unlock()

	for len(p.items) == 0 && !p.closed {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return Event{}, false
		}
		timer := time.AfterFunc(remaining, func() {
			p.mu.Lock()
			p.cond.Broadcast()
			p.mu.Unlock()
		})
		p.cond.Wait()
		timer.Stop()
		if time.Now().After(deadline) && len(p.items) == 0 {
			return Event{}, false
		}
	}

	if p.closed && len(p.items) == 0 {
		return Event{}, false
	}

	item := p.items[0]
	p.items = p.items[1:]

	if item.rec != nil {
		delete(p.pending, item.rec)
		fields, isImage := item.rec.DrainDirty()
		msgType := wire.MsgUpdate
		if isImage {
			msgType = wire.MsgImage
		}
		return Event{
			Service: item.service,
			Ticker:  item.ticker,
			Type:    msgType,
			Fields:  fields,
			Tag:     item.tag,
			IsImage: isImage,
		}, true
	}
	return *item.built, true
}

// Close unblocks any waiter permanently; subsequent Add/AddRecord
// calls are dropped.
func (p *EventPump) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.cond.Broadcast()
}

// Len reports the number of events currently queued.
func (p *EventPump) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.items)
}
