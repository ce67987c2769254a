package tape

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/marketfeed/rtcore/internal/mmapfile"
	"github.com/marketfeed/rtcore/internal/schema"
	"github.com/marketfeed/rtcore/internal/wire"
	wirebinary "github.com/marketfeed/rtcore/internal/wire/binary"
)

const nanosPerSecond = 1_000_000_000

type recKey struct {
	service, ticker string
	channelID       int32
}

// Writer appends messages to a tape file in wall-clock order,
// maintaining the dictionary, the two time indices, and each
// record's backward chain as it goes.
type Writer struct {
	mu     sync.Mutex
	path   string
	mf     *mmapfile.MappedFile
	h      header
	l      layout
	codecs map[wire.Protocol]wire.Codec
	dict   map[recKey]uint32 // -> record table index
}

// OpenWriter maps an existing tape file (created with Create) for appending.
func OpenWriter(path string) (*Writer, error) {
	mf, h, l, err := openMapped(path, mmapfile.ModeReadWrite)
	if err != nil {
		return nil, err
	}
	w := &Writer{
		path: path,
		mf:   mf, h: h, l: l,
		codecs: map[wire.Protocol]wire.Codec{wire.ProtoBinary: wirebinary.New()},
		dict:   make(map[recKey]uint32),
	}
	w.loadDict()
	return w, nil
}

func (w *Writer) loadDict() {
	view := w.mf.View()
	for i := uint32(0); i < w.h.dictCount; i++ {
		svc, tk, ch, recIdx, _, _ := readDictEntry(view, w.l.dictOff, i)
		w.dict[recKey{svc, tk, ch}] = recIdx
	}
}

// Append writes one message to the tape at the current write cursor.
// tsNanos is a unix-epoch timestamp in nanoseconds.
func (w *Writer) Append(service, ticker string, channelID int32, tsNanos int64, proto wire.Protocol, fields []schema.Field) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	codec, ok := w.codecs[proto]
	if !ok {
		return fmt.Errorf("tape: no codec registered for protocol %v", proto)
	}
	payload, err := codec.Encode(wire.Envelope{Protocol: proto, Type: wire.MsgUpdate, Service: service, Ticker: ticker, Fields: fields}, nil)
	if err != nil {
		return err
	}

	key := recKey{service, ticker, channelID}
	recIdx, existed := w.dict[key]
	var backPointer int64 = -1
	if !existed {
		if w.h.dictCount >= w.h.dictCapacity {
			return fmt.Errorf("tape: dictionary full (capacity %d)", w.h.dictCapacity)
		}
		recIdx = w.h.recCount
		if recIdx >= w.h.recCapacity {
			return fmt.Errorf("tape: record table full (capacity %d)", w.h.recCapacity)
		}
		w.h.recCount++
		w.dict[key] = recIdx
	} else {
		_, _, _, lastOff := w.readRecStat(recIdx)
		backPointer = lastOff
	}

	frameLen := int64(frameHdrSize + len(payload))
	off := w.h.writeOffset
	if err := w.ensureCapacity(off + frameLen); err != nil {
		return err
	}

	view := w.mf.View()
	frame := view[off : off+frameLen]
	binary.LittleEndian.PutUint64(frame[0:8], uint64(backPointer))
	binary.LittleEndian.PutUint64(frame[8:16], uint64(tsNanos))
	frame[16] = byte(proto)
	binary.LittleEndian.PutUint32(frame[17:21], uint32(len(payload)))
	copy(frame[frameHdrSize:], payload)

	w.h.writeOffset = off + frameLen
	binary.LittleEndian.PutUint64(view[40:48], uint64(w.h.writeOffset))

	w.updateRecStat(recIdx, service, ticker, off, !existed)
	w.updateRecTimeIndex(recIdx, tsNanos, off)
	w.updateTapeTimeIndex(tsNanos, off)

	if !existed {
		writeDictEntry(view, w.l.dictOff, w.h.dictCount, service, ticker, channelID, recIdx, off, off)
		w.h.dictCount++
		binary.LittleEndian.PutUint32(view[28:32], w.h.dictCount)
	} else {
		updateDictLastOffset(view, w.l.dictOff, w.h.dictCount, service, ticker, channelID, off)
	}
	binary.LittleEndian.PutUint32(view[36:40], w.h.recCount)

	return nil
}

func (w *Writer) ensureCapacity(need int64) error {
	size, err := w.mf.Stat()
	if err != nil {
		return err
	}
	if need <= size {
		return nil
	}
	newSize := size * 2
	for newSize < need {
		newSize *= 2
	}
	if err := w.mf.Grow(newSize); err != nil {
		return err
	}
	return w.mf.Map(0, newSize)
}

func (w *Writer) readRecStat(idx uint32) (service, ticker string, msgCount int64, lastOffset int64) {
	view := w.mf.View()
	off := w.l.recTableOff + int64(idx)*w.l.recStride
	buf := view[off : off+recStatSize]
	service = readFixed(buf[0:maxNameLen])
	ticker = readFixed(buf[maxNameLen : 2*maxNameLen])
	msgCount = int64(binary.LittleEndian.Uint64(buf[2*maxNameLen : 2*maxNameLen+8]))
	lastOffset = int64(binary.LittleEndian.Uint64(buf[2*maxNameLen+16 : 2*maxNameLen+24]))
	return
}

func (w *Writer) updateRecStat(idx uint32, service, ticker string, msgOff int64, isNew bool) {
	view := w.mf.View()
	off := w.l.recTableOff + int64(idx)*w.l.recStride
	buf := view[off : off+recStatSize]
	if isNew {
		writeFixed(buf[0:maxNameLen], service, maxNameLen)
		writeFixed(buf[maxNameLen:2*maxNameLen], ticker, maxNameLen)
		binary.LittleEndian.PutUint64(buf[2*maxNameLen:2*maxNameLen+8], 1)
		binary.LittleEndian.PutUint64(buf[2*maxNameLen+8:2*maxNameLen+16], uint64(msgOff))
		binary.LittleEndian.PutUint64(buf[2*maxNameLen+16:2*maxNameLen+24], uint64(msgOff))
		return
	}
	count := binary.LittleEndian.Uint64(buf[2*maxNameLen : 2*maxNameLen+8])
	binary.LittleEndian.PutUint64(buf[2*maxNameLen:2*maxNameLen+8], count+1)
	binary.LittleEndian.PutUint64(buf[2*maxNameLen+16:2*maxNameLen+24], uint64(msgOff))
}

func (w *Writer) updateRecTimeIndex(idx uint32, tsNanos int64, msgOff int64) {
	view := w.mf.View()
	recOff := w.l.recTableOff + int64(idx)*w.l.recStride
	idxBase := recOff + recStatSize
	bucket := secondOfDay(tsNanos) / int64(w.h.secPerIdxRec)
	entryOff := idxBase + bucket*recIdxEntSize
	existing := int64(binary.LittleEndian.Uint64(view[entryOff : entryOff+8]))
	if existing == 0 {
		binary.LittleEndian.PutUint64(view[entryOff:entryOff+8], uint64(msgOff+1)) // +1: 0 means "unset"
	}
}

func (w *Writer) updateTapeTimeIndex(tsNanos int64, msgOff int64) {
	view := w.mf.View()
	bucket := secondOfDay(tsNanos) / int64(w.h.secPerIdxTape)
	entryOff := w.l.tapeIdxOff + bucket*tapeIdxEntSize
	existing := int64(binary.LittleEndian.Uint64(view[entryOff : entryOff+8]))
	if existing == 0 {
		binary.LittleEndian.PutUint64(view[entryOff:entryOff+8], uint64(msgOff+1))
	}
}

func secondOfDay(tsNanos int64) int64 {
	secs := tsNanos / nanosPerSecond
	d := secs % secondsPerDay
	if d < 0 {
		d += secondsPerDay
	}
	return d
}

// Flush syncs the mapped file to disk.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.mf.Flush()
}

// Close unmaps and closes the underlying file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.mf.Close()
}

func writeDictEntry(view []byte, dictOff int64, idx uint32, service, ticker string, channelID int32, recIdx uint32, firstOff, lastOff int64) {
	off := dictOff + int64(idx)*dictEntrySize
	entry := view[off : off+dictEntrySize]
	writeFixed(entry[0:maxNameLen], service, maxNameLen)
	writeFixed(entry[maxNameLen:2*maxNameLen], ticker, maxNameLen)
	binary.LittleEndian.PutUint32(entry[2*maxNameLen:2*maxNameLen+4], uint32(channelID))
	binary.LittleEndian.PutUint32(entry[2*maxNameLen+4:2*maxNameLen+8], recIdx)
	binary.LittleEndian.PutUint64(entry[2*maxNameLen+8:2*maxNameLen+16], uint64(firstOff))
	binary.LittleEndian.PutUint64(entry[2*maxNameLen+16:2*maxNameLen+24], uint64(lastOff))
}

func updateDictLastOffset(view []byte, dictOff int64, count uint32, service, ticker string, channelID int32, lastOff int64) {
	for i := uint32(0); i < count; i++ {
		svc, tk, ch, _, _, _ := readDictEntry(view, dictOff, i)
		if svc == service && tk == ticker && ch == channelID {
			off := dictOff + int64(i)*dictEntrySize + int64(2*maxNameLen+16)
			binary.LittleEndian.PutUint64(view[off:off+8], uint64(lastOff))
			return
		}
	}
}

func readDictEntry(view []byte, dictOff int64, idx uint32) (service, ticker string, channelID int32, recIdx uint32, firstOff, lastOff int64) {
	off := dictOff + int64(idx)*dictEntrySize
	entry := view[off : off+dictEntrySize]
	service = readFixed(entry[0:maxNameLen])
	ticker = readFixed(entry[maxNameLen : 2*maxNameLen])
	channelID = int32(binary.LittleEndian.Uint32(entry[2*maxNameLen : 2*maxNameLen+4]))
	recIdx = binary.LittleEndian.Uint32(entry[2*maxNameLen+4 : 2*maxNameLen+8])
	firstOff = int64(binary.LittleEndian.Uint64(entry[2*maxNameLen+8 : 2*maxNameLen+16]))
	lastOff = int64(binary.LittleEndian.Uint64(entry[2*maxNameLen+16 : 2*maxNameLen+24]))
	return
}
