package lvc

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/marketfeed/rtcore/internal/mmapfile"
	"github.com/marketfeed/rtcore/internal/schema"
	wirebinary "github.com/marketfeed/rtcore/internal/wire/binary"
)

// maxSeqlockRetries bounds how long a reader spins against a writer
// that is (unusually) slow to finish one record update.
const maxSeqlockRetries = 1000

// FilterFunc decides whether a (service, ticker) pair should be
// visited by ViewAll/SnapAll; a nil filter visits everything.
type FilterFunc func(service, ticker string) bool

// Reader is a memory-mapped, read-only view of an LVC file. Multiple
// Readers (even across processes) may map the same file
// concurrently; none of them ever block the Writer.
type Reader struct {
	mu     sync.RWMutex // guards remap (Refresh), not individual record reads
	mf     *mmapfile.MappedFile
	h      header
	l      layout
	schema *schema.Schema
	codec  *wirebinary.Codec
	filter FilterFunc

	cleanup func() error // removes a downloaded s3:// temp file; nil for local sources

	lastMu   sync.Mutex
	lastGood map[int][]schema.Field // slot -> last successfully seqlock-read fields, for stale fallback
}

// Open maps path read-only and parses its schema.
func Open(path string) (*Reader, error) {
	mf, h, l, err := openMapped(path, mmapfile.ModeRead)
	if err != nil {
		return nil, err
	}

	view := mf.View()
	blob := string(view[l.schemaOff : l.schemaOff+int64(h.schemaLen)])
	sch, err := schema.Parse(blob)
	if err != nil {
		mf.Close()
		return nil, fmt.Errorf("lvc: parsing embedded schema: %w", err)
	}

	return &Reader{mf: mf, h: h, l: l, schema: sch, codec: wirebinary.New(), lastGood: make(map[int][]schema.Field)}, nil
}

// GetSchema returns the schema embedded in the LVC file at creation time.
func (r *Reader) GetSchema() *schema.Schema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.schema
}

// SetFilter restricts ViewAll/SnapAll/ViewAll_safe/SnapAll_safe to
// (service, ticker) pairs for which fn returns true.
func (r *Reader) SetFilter(fn FilterFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.filter = fn
}

// Close unmaps the file, and removes its local temp copy if it was
// downloaded from an s3:// source via OpenSource.
func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	err := r.mf.Close()
	if r.cleanup != nil {
		if cerr := r.cleanup(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// Refresh re-maps the file, picking up directory growth a writer has
// made since Open; the schema parsed at Open is kept as is. Callers that hold a Reader for
// a long time should call this periodically; per spec §6.2 readers
// never need to restart to see new items.
func (r *Reader) Refresh() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	path := r.mf.File().Name()
	mf, h, l, err := openMapped(path, mmapfile.ModeRead)
	if err != nil {
		return err
	}
	old := r.mf
	r.mf, r.h, r.l = mf, h, l
	return old.Close()
}

func (r *Reader) findSlot(service, ticker string) (int, bool) {
	view := r.mf.View()
	key := dirKey(service, ticker)
	for i := uint32(0); i < r.h.dirCount; i++ {
		svc, tk, slot := readDirEntry(view, r.l.dirOff, i)
		if dirKey(svc, tk) == key {
			return int(slot), true
		}
	}
	return 0, false
}

// readSlot performs one seqlock-guarded read of a record slot,
// retrying while a writer holds it (odd sequence number) or while the
// sequence number changes out from under the read. If the retry
// budget is exhausted it falls back to the last successfully observed
// payload for that slot (per spec §7/§4.10: "return last-observed
// state with stale flag" rather than treating the slot as absent).
func (r *Reader) readSlot(slot int) (fields []schema.Field, found bool, stale bool) {
	view := r.mf.View()
	off := r.l.slotsOff + int64(slot)*int64(r.h.slotStride)
	slotBuf := view[off : off+int64(r.h.slotStride)]

	for attempt := 0; attempt < maxSeqlockRetries; attempt++ {
		seq1 := binary.LittleEndian.Uint64(slotBuf[0:8])
		if seq1%2 == 1 {
			continue // writer in progress, spin
		}
		payloadLen := binary.LittleEndian.Uint32(slotBuf[8:12])
		payload := make([]byte, payloadLen)
		copy(payload, slotBuf[slotHeaderLen:int64(slotHeaderLen)+int64(payloadLen)])

		seq2 := binary.LittleEndian.Uint64(slotBuf[0:8])
		if seq1 != seq2 {
			continue // torn read, retry
		}
		if payloadLen == 0 {
			return nil, true, false
		}

		env, _, err := r.codec.Decode(payload, r.schema)
		if err != nil {
			return nil, false, false
		}
		r.rememberGood(slot, env.Fields)
		return env.Fields, true, false
	}

	if last, ok := r.lastObserved(slot); ok {
		return last, true, true
	}
	return nil, false, true
}

func (r *Reader) rememberGood(slot int, fields []schema.Field) {
	cp := make([]schema.Field, len(fields))
	copy(cp, fields)
	r.lastMu.Lock()
	r.lastGood[slot] = cp
	r.lastMu.Unlock()
}

func (r *Reader) lastObserved(slot int) ([]schema.Field, bool) {
	r.lastMu.Lock()
	defer r.lastMu.Unlock()
	fields, ok := r.lastGood[slot]
	if !ok {
		return nil, false
	}
	cp := make([]schema.Field, len(fields))
	copy(cp, fields)
	return cp, true
}

// Snap returns a point-in-time copy of (service, ticker)'s fields.
// stale is true if the seqlock retry budget was exhausted and the
// returned fields are the last successfully observed snapshot rather
// than a fresh read.
func (r *Reader) Snap(service, ticker string) (fields []schema.Field, found bool, stale bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	slot, ok := r.findSlot(service, ticker)
	if !ok {
		return nil, false, false
	}
	return r.readSlot(slot)
}

// View calls fn with (service, ticker)'s current fields (and whether
// they are stale, per Snap) without an extra copy beyond what the
// seqlock read itself requires.
func (r *Reader) View(service, ticker string, fn func(fields []schema.Field, stale bool)) bool {
	fields, ok, stale := r.Snap(service, ticker)
	if !ok {
		return false
	}
	fn(fields, stale)
	return true
}

func (r *Reader) each(fn func(service, ticker string, fields []schema.Field, stale bool)) {
	view := r.mf.View()
	type item struct {
		service, ticker string
		slot            int
	}
	items := make([]item, 0, r.h.dirCount)
	for i := uint32(0); i < r.h.dirCount; i++ {
		svc, tk, slot := readDirEntry(view, r.l.dirOff, i)
		if r.filter != nil && !r.filter(svc, tk) {
			continue
		}
		items = append(items, item{svc, tk, int(slot)})
	}

	for _, it := range items {
		fields, ok, stale := r.readSlot(it.slot)
		if !ok {
			continue
		}
		fn(it.service, it.ticker, fields, stale)
	}
}

// ViewAll calls fn for every (service, ticker) passing the current
// filter, without copying beyond one seqlock read per record.
func (r *Reader) ViewAll(fn func(service, ticker string, fields []schema.Field, stale bool)) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	r.each(fn)
}

// SnapAll returns a point-in-time copy of every (service, ticker)
// passing the current filter.
func (r *Reader) SnapAll() map[[2]string][]schema.Field {
	out := make(map[[2]string][]schema.Field)
	r.ViewAll(func(service, ticker string, fields []schema.Field, stale bool) {
		out[[2]string{service, ticker}] = fields
	})
	return out
}

// ViewAll_safe is ViewAll bounded by a wait on a concurrent Refresh:
// it waits up to timeout to acquire the reader lock instead of
// blocking indefinitely, so a cockpit admin request competing with an
// in-progress remap degrades to an error rather than a stall, per
// spec §3.8's bounded-wait mutex.
func (r *Reader) ViewAll_safe(timeout time.Duration, fn func(service, ticker string, fields []schema.Field, stale bool)) error {
	if !r.tryRLock(timeout) {
		return fmt.Errorf("lvc: ViewAll_safe: timed out waiting for reader lock")
	}
	defer r.mu.RUnlock()
	r.each(fn)
	return nil
}

// SnapAll_safe is SnapAll bounded by the same timeout as ViewAll_safe.
func (r *Reader) SnapAll_safe(timeout time.Duration) (map[[2]string][]schema.Field, error) {
	out := make(map[[2]string][]schema.Field)
	err := r.ViewAll_safe(timeout, func(service, ticker string, fields []schema.Field, stale bool) {
		out[[2]string{service, ticker}] = fields
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// tryRLock polls for the read lock since sync.RWMutex exposes no
// native timed acquire.
func (r *Reader) tryRLock(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if r.mu.TryRLock() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(time.Millisecond)
	}
}
