package lvc

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/marketfeed/rtcore/internal/mmapfile"
	"github.com/marketfeed/rtcore/internal/schema"
	"github.com/marketfeed/rtcore/internal/wire"
	wirebinary "github.com/marketfeed/rtcore/internal/wire/binary"
)

// Writer is the publish-side counterpart to Reader: it owns the same
// memory-mapped file and applies the seqlock write protocol (odd
// while writing, even once stable) so concurrently mapped readers
// never observe a torn record.
type Writer struct {
	mu     sync.Mutex
	mf     *mmapfile.MappedFile
	h      header
	l      layout
	codec  *wirebinary.Codec
	dirIdx map[string]int // "service\x00ticker" -> directory slot index
}

// OpenWriter maps an existing LVC file (created with Create) for writing.
func OpenWriter(path string) (*Writer, error) {
	mf, h, l, err := openMapped(path, mmapfile.ModeReadWrite)
	if err != nil {
		return nil, err
	}
	w := &Writer{mf: mf, h: h, l: l, codec: wirebinary.New(), dirIdx: make(map[string]int)}
	w.loadDirectory()
	return w, nil
}

func (w *Writer) loadDirectory() {
	view := w.mf.View()
	for i := uint32(0); i < w.h.dirCount; i++ {
		svc, tk, slot := readDirEntry(view, w.l.dirOff, i)
		w.dirIdx[dirKey(svc, tk)] = int(slot)
	}
}

func dirKey(service, ticker string) string { return service + "\x00" + ticker }

// Put writes fields for (service, ticker), allocating a new directory
// entry and slot on first use.
func (w *Writer) Put(service, ticker string, fields []schema.Field) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	key := dirKey(service, ticker)
	slot, ok := w.dirIdx[key]
	if !ok {
		if w.h.dirCount >= w.h.dirCapacity {
			return fmt.Errorf("lvc: directory full (capacity %d)", w.h.dirCapacity)
		}
		slot = int(w.h.dirCount)
		view := w.mf.View()
		writeDirEntry(view, w.l.dirOff, w.h.dirCount, service, ticker, uint32(slot))
		w.h.dirCount++
		binary.LittleEndian.PutUint32(view[16:20], w.h.dirCount)
		w.dirIdx[key] = slot
	}

	payload, err := w.codec.Encode(wire.Envelope{Protocol: wire.ProtoBinary, Type: wire.MsgImage, Fields: fields}, nil)
	if err != nil {
		return err
	}
	maxPayload := int(w.h.slotStride) - slotHeaderLen
	if len(payload) > maxPayload {
		return fmt.Errorf("lvc: record for %s/%s (%d bytes) exceeds slot capacity (%d)", service, ticker, len(payload), maxPayload)
	}

	off := w.l.slotsOff + int64(slot)*int64(w.h.slotStride)
	view := w.mf.View()
	slotBuf := view[off : off+int64(w.h.slotStride)]

	seq := binary.LittleEndian.Uint64(slotBuf[0:8])
	binary.LittleEndian.PutUint64(slotBuf[0:8], seq+1) // odd: write in progress
	binary.LittleEndian.PutUint32(slotBuf[8:12], uint32(len(payload)))
	copy(slotBuf[slotHeaderLen:], payload)
	binary.LittleEndian.PutUint64(slotBuf[0:8], seq+2) // even: stable again

	return nil
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
