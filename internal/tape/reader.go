package tape

import (
	"encoding/binary"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/marketfeed/rtcore/internal/mmapfile"
	"github.com/marketfeed/rtcore/internal/schema"
	"github.com/marketfeed/rtcore/internal/wire"
	wirebinary "github.com/marketfeed/rtcore/internal/wire/binary"
)

// Message is one decoded tape frame.
type Message struct {
	Offset      int64
	BackPointer int64
	TimestampNS int64
	Protocol    wire.Protocol
	Fields      []schema.Field
	Service     string
	Ticker      string
}

// Reader is a read-only, memory-mapped view of a tape file supporting
// both linear scans and index-assisted replay per spec §3.7/§4.11.
type Reader struct {
	mu     sync.RWMutex
	mf     *mmapfile.MappedFile
	h      header
	l      layout
	codecs map[wire.Protocol]wire.Codec
	sch    *schema.Schema

	cursor int64 // current absolute read offset into the message stream

	cleanup func() error // removes a downloaded s3:// temp file; nil for local sources
}

// Open maps an existing tape file read-only.
func Open(path string, sch *schema.Schema) (*Reader, error) {
	mf, h, l, err := openMapped(path, mmapfile.ModeRead)
	if err != nil {
		return nil, err
	}
	return &Reader{
		mf: mf, h: h, l: l,
		codecs: map[wire.Protocol]wire.Codec{wire.ProtoBinary: wirebinary.New()},
		sch:    sch,
		cursor: l.streamOff,
	}, nil
}

// Close unmaps the tape file, and removes its local temp copy if it
// was downloaded from an s3:// source via OpenSource.
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

// Rewind resets the read cursor to the start of the message stream.
func (r *Reader) Rewind() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cursor = r.l.streamOff
}

// RewindTo positions the read cursor at a specific byte offset, as
// returned by the tape-wide or per-record time indices.
func (r *Reader) RewindTo(offset int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cursor = offset
}

func (r *Reader) decodeFrameAt(off int64) (Message, int64, error) {
	view := r.mf.View()
	if off+frameHdrSize > r.h.writeOffset {
		return Message{}, 0, fmt.Errorf("tape: offset %d past write cursor", off)
	}
	hdr := view[off : off+frameHdrSize]
	backPointer := int64(binary.LittleEndian.Uint64(hdr[0:8]))
	ts := int64(binary.LittleEndian.Uint64(hdr[8:16]))
	proto := wire.Protocol(hdr[16])
	length := binary.LittleEndian.Uint32(hdr[17:21])

	payloadOff := off + frameHdrSize
	if payloadOff+int64(length) > r.h.writeOffset {
		return Message{}, 0, fmt.Errorf("tape: truncated frame at offset %d", off)
	}
	payload := view[payloadOff : payloadOff+int64(length)]

	codec, ok := r.codecs[proto]
	if !ok {
		return Message{}, 0, fmt.Errorf("tape: no codec registered for protocol %v", proto)
	}
	env, _, err := codec.Decode(payload, r.sch)
	if err != nil {
		return Message{}, 0, err
	}

	msg := Message{
		Offset:      off,
		BackPointer: backPointer,
		TimestampNS: ts,
		Protocol:    proto,
		Fields:      env.Fields,
		Service:     env.Service,
		Ticker:      env.Ticker,
	}
	return msg, payloadOff + int64(length), nil
}

// Read decodes the frame at the current cursor and advances past it.
// It returns false once the cursor reaches the write offset.
func (r *Reader) Read() (Message, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cursor >= r.h.writeOffset {
		return Message{}, false, nil
	}
	msg, next, err := r.decodeFrameAt(r.cursor)
	if err != nil {
		return Message{}, false, err
	}
	r.cursor = next
	return msg, true, nil
}

// Decode decodes the frame at an arbitrary offset without touching
// the cursor, used by PumpTicker's backward-chain walk.
func (r *Reader) Decode(offset int64) (Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	msg, _, err := r.decodeFrameAt(offset)
	return msg, err
}

func (r *Reader) findDictEntry(service, ticker string) (channelID int32, recIdx uint32, firstOff, lastOff int64, ok bool) {
	view := r.mf.View()
	for i := uint32(0); i < r.h.dictCount; i++ {
		svc, tk, ch, ri, fo, lo := readDictEntry(view, r.l.dictOff, i)
		if svc == service && tk == ticker {
			return ch, ri, fo, lo, true
		}
	}
	return 0, 0, 0, 0, false
}

// PumpFullTape delivers up to maxMsgs messages starting at startOffset,
// in forward wall-clock order.
func (r *Reader) PumpFullTape(startOffset int64, maxMsgs int, emit func(Message) bool) error {
	r.mu.RLock()
	off := startOffset
	if off == 0 {
		off = r.l.streamOff
	}
	writeOffset := r.h.writeOffset
	r.mu.RUnlock()

	count := 0
	for off < writeOffset {
		if maxMsgs > 0 && count >= maxMsgs {
			return nil
		}
		msg, next, err := r.decodeFrameAt(off)
		if err != nil {
			return err
		}
		if !emit(msg) {
			return nil
		}
		off = next
		count++
	}
	return nil
}

// PumpTicker replays every message ever recorded for (service, ticker)
// in forward wall-clock order. Only a backward chain is stored on
// disk, so this walks tail-to-head via each frame's back-pointer and
// reverses the collected list before emitting.
func (r *Reader) PumpTicker(service, ticker string, emit func(Message) bool) error {
	r.mu.RLock()
	_, _, _, lastOff, ok := r.findDictEntry(service, ticker)
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("tape: no record for %s/%s", service, ticker)
	}

	var chain []Message
	off := lastOff
	for off >= r.l.streamOff {
		msg, err := r.Decode(off)
		if err != nil {
			return err
		}
		chain = append(chain, msg)
		if msg.BackPointer < r.l.streamOff {
			break
		}
		off = msg.BackPointer
	}

	for i := len(chain) - 1; i >= 0; i-- {
		if !emit(chain[i]) {
			return nil
		}
	}
	return nil
}

// tapeIndexFloor returns the largest indexed offset at or before
// tsNanos's bucket, or the stream start if nothing is indexed yet.
func (r *Reader) tapeIndexFloor(tsNanos int64) int64 {
	view := r.mf.View()
	bucket := secondOfDay(tsNanos) / int64(r.h.secPerIdxTape)
	for b := bucket; b >= 0; b-- {
		entryOff := r.l.tapeIdxOff + b*tapeIdxEntSize
		raw := int64(binary.LittleEndian.Uint64(view[entryOff : entryOff+8]))
		if raw != 0 {
			return raw - 1
		}
	}
	return r.l.streamOff
}

// PumpTapeSlice delivers, in forward wall-clock order, every message
// whose timestamp falls within [tStart, tEnd] (nanoseconds), using the
// tape-wide time index to skip straight to the first relevant bucket
// rather than scanning from the beginning of the tape.
func (r *Reader) PumpTapeSlice(tStart, tEnd int64, emit func(Message) bool) error {
	r.mu.RLock()
	startOff := r.tapeIndexFloor(tStart)
	writeOffset := r.h.writeOffset
	r.mu.RUnlock()

	off := startOff
	for off < writeOffset {
		msg, next, err := r.decodeFrameAt(off)
		if err != nil {
			return err
		}
		if msg.TimestampNS > tEnd {
			return nil
		}
		if msg.TimestampNS >= tStart {
			if !emit(msg) {
				return nil
			}
		}
		off = next
	}
	return nil
}

// PumpTapeSliceSample is PumpTapeSlice with time-bucketed subsampling:
// at most one message per interval (nanoseconds) is delivered, the
// first one observed in each bucket, optionally projected down to a
// subset of field ids.
func (r *Reader) PumpTapeSliceSample(tStart, tEnd, interval int64, fieldIDs []int, emit func(Message) bool) error {
	if interval <= 0 {
		return r.PumpTapeSlice(tStart, tEnd, emit)
	}
	var lastBucket int64 = -1
	haveBucket := false
	return r.PumpTapeSlice(tStart, tEnd, func(msg Message) bool {
		bucket := (msg.TimestampNS - tStart) / interval
		if haveBucket && bucket == lastBucket {
			return true
		}
		haveBucket, lastBucket = true, bucket
		if len(fieldIDs) > 0 {
			msg.Fields = projectFields(msg.Fields, fieldIDs)
		}
		return emit(msg)
	})
}

func projectFields(fields []schema.Field, ids []int) []schema.Field {
	want := make(map[int]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	out := make([]schema.Field, 0, len(ids))
	for _, f := range fields {
		if want[f.ID] {
			out = append(out, f)
		}
	}
	return out
}

// Pump is a cancellable handle returned by the Start* helpers so a
// caller can Stop a long-running pump from another goroutine.
type Pump struct {
	run int32
}

func newPump() *Pump {
	p := &Pump{}
	atomic.StoreInt32(&p.run, 1)
	return p
}

// Stop requests cooperative cancellation; the pump loop checks this
// flag between messages and returns once it observes it cleared.
func (p *Pump) Stop() { atomic.StoreInt32(&p.run, 0) }

func (p *Pump) stopped() bool { return atomic.LoadInt32(&p.run) == 0 }

// StartTapeSlice runs PumpTapeSlice on its own goroutine, delivering
// messages to emit until the slice is exhausted or Stop is called.
// errs receives a single error (or nil) when the pump finishes.
func (r *Reader) StartTapeSlice(tStart, tEnd int64, emit func(Message), errs chan<- error) *Pump {
	p := newPump()
	go func() {
		err := r.PumpTapeSlice(tStart, tEnd, func(msg Message) bool {
			if p.stopped() {
				return false
			}
			emit(msg)
			return !p.stopped()
		})
		if errs != nil {
			errs <- err
		}
	}()
	return p
}

// DictEntry describes one dictionary row: a (service, ticker,
// channelID) triple and the offsets of its first and last frame.
type DictEntry struct {
	Service, Ticker         string
	ChannelID               int32
	FirstOffset, LastOffset int64
}

// DictionaryEntries lists every (service, ticker, channelID) recorded
// on the tape, sorted by first-offset for deterministic iteration.
func (r *Reader) DictionaryEntries() []DictEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	view := r.mf.View()
	out := make([]DictEntry, 0, r.h.dictCount)
	for i := uint32(0); i < r.h.dictCount; i++ {
		svc, tk, ch, _, fo, lo := readDictEntry(view, r.l.dictOff, i)
		out = append(out, DictEntry{svc, tk, ch, fo, lo})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FirstOffset < out[j].FirstOffset })
	return out
}
