// Package recache implements the per-(service,ticker) record cache of
// spec §3.3/§4.7: each subscribed item gets one Record holding its
// last-known field values, a dirty list of fields changed since the
// last drain, and a queued flag that implements update conflation —
// multiple wire updates arriving faster than the consumer drains them
// collapse into one pending notification instead of one per update.
//
// The tree shape (Cache -> per-service node -> per-ticker Record) is
// the same recursive children-map-plus-leaves structure the teacher
// uses for its metric hierarchy, generalized from an unbounded
// selector path to the fixed two-level (service, ticker) addressing
// this domain uses.
package recache

import (
	"sort"
	"sync"
	"time"

	"github.com/marketfeed/rtcore/internal/schema"
)

// Record holds the current field state for one subscribed item.
// All access goes through its methods; the mutex is never held
// across a callback or I/O per spec §5.
type Record struct {
	Service string
	Ticker  string

	mu             sync.Mutex
	fields         map[int]schema.Field
	dirty          map[int]struct{} // set membership, for O(1) "already dirty" checks
	dirtyOrder     []int            // insertion order since the last drain, per spec §3.3's "ordered dirty list"
	hasImage       bool
	pendingIsImage bool // true if an image was applied since the last drain (vs. "ever", which is hasImage)
	queued         bool
	tag            uintptr

	imageCount  uint64
	updateCount uint64
	lastUpdate  time.Time
}

func newRecord(service, ticker string) *Record {
	return &Record{
		Service: service,
		Ticker:  ticker,
		fields:  make(map[int]schema.Field),
		dirty:   make(map[int]struct{}),
	}
}

// markDirty adds fid to the dirty set, appending it to dirtyOrder only
// the first time it transitions from clean to dirty since the last
// drain, so DrainDirty yields fields in the order they were first
// touched rather than Go's unspecified map-iteration order.
func (r *Record) markDirty(fid int) {
	if _, already := r.dirty[fid]; already {
		return
	}
	r.dirty[fid] = struct{}{}
	r.dirtyOrder = append(r.dirtyOrder, fid)
}

// SetTag stores the opaque application token associated with this
// item's subscription, echoed back on every callback.
func (r *Record) SetTag(tag uintptr) {
	r.mu.Lock()
	r.tag = tag
	r.mu.Unlock()
}

func (r *Record) Tag() uintptr {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tag
}

// HasImage reports whether this record has received its initial
// image message yet. Updates that arrive before the image is
// accepted as a partial snapshot, per spec §4.7 edge case.
func (r *Record) HasImage() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hasImage
}

// Apply merges fields into the record's current state. isImage
// replaces the dirty baseline entirely (every field becomes dirty,
// since a consumer that missed the prior state needs everything);
// an update marks dirty only the fields that actually changed value,
// per the type-specific Field.Equal used for conflation.
//
// Apply returns true if this call transitioned the record from
// "not queued" to "queued" — the caller uses that edge to decide
// whether to push a single pending-notification onto an event pump,
// implementing the queued-flag conflation contract.
func (r *Record) Apply(fields []schema.Field, isImage bool) (becameQueued bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if isImage {
		r.hasImage = true
		r.pendingIsImage = true
		r.imageCount++
		ids := make([]int, 0, len(r.fields))
		for id := range r.fields {
			ids = append(ids, id)
		}
		sort.Ints(ids)
		for _, id := range ids {
			r.markDirty(id)
		}
	} else {
		r.updateCount++
	}
	r.lastUpdate = time.Now()

	for _, f := range fields {
		prev, existed := r.fields[id(f)]
		r.fields[id(f)] = f
		if isImage || !existed || !prev.Equal(f) {
			r.markDirty(id(f))
		}
	}

	if len(r.dirty) == 0 {
		return false
	}
	if r.queued {
		return false
	}
	r.queued = true
	return true
}

func id(f schema.Field) int { return f.ID }

// DrainDirty returns the fields dirtied since the last drain, in the
// order they were first touched, and clears the dirty set, the
// dirty-order list, and the queued flag, atomically with respect to
// Apply — this is the single critical section spec §4.7 calls for:
// "the drainer reads the dirty list and clears the queued flag inside
// the same critical section." The bool result reports whether an
// image was applied within the drained batch (vs. HasImage, which
// reports whether the record has ever received one); callers use it
// to decide whether to label this coalesced delivery an image or an
// update.
func (r *Record) DrainDirty() ([]schema.Field, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]schema.Field, 0, len(r.dirtyOrder))
	for _, id := range r.dirtyOrder {
		out = append(out, r.fields[id])
	}
	r.dirty = make(map[int]struct{})
	r.dirtyOrder = nil
	r.queued = false
	isImage := r.pendingIsImage
	r.pendingIsImage = false
	return out, isImage
}

// Image returns every field currently held, in ascending schema
// field-id order, regardless of dirty state — used to answer a fresh
// SubscriptionChannel.Subscribe with a full snapshot, per spec §3.3
// and §4.7's "yields the full current field map in schema order."
func (r *Record) Image() []schema.Field {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]int, 0, len(r.fields))
	for id := range r.fields {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]schema.Field, 0, len(r.fields))
	for _, id := range ids {
		out = append(out, r.fields[id])
	}
	return out
}

// Get returns the current value of field id, if present.
func (r *Record) Get(fid int) (schema.Field, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.fields[fid]
	return f, ok
}

// Len returns the number of distinct fields currently held.
func (r *Record) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.fields)
}

// Stats reports the per-record counters spec §3.3 calls for: how many
// images and updates this record has received, and the wall-clock
// time of the most recent Apply call (zero if none yet).
type Stats struct {
	Images      uint64
	Updates     uint64
	LastUpdated time.Time
}

// Stats returns a snapshot of this record's image/update counters.
func (r *Record) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Stats{Images: r.imageCount, Updates: r.updateCount, LastUpdated: r.lastUpdate}
}
