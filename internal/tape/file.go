// Package tape implements the TapeReader (and its writer
// counterpart, used by tests and cmd/rtdigest to produce fixtures) of
// spec §3.7/§4.11/§6.3: a memory-mapped, append-only log of messages
// with a two-level time index (tape-wide buckets, per-record
// buckets) and a per-record backward chain for reverse/ticker replay.
//
// Like the LVC package, on-disk integers are little-endian and fixed
// width regardless of host architecture; spec §9 flags two historical
// header layouts (32-bit/64-bit longs) as something to translate
// through an explicit struct rather than rely on compiler padding —
// this implementation sidesteps that entirely by never using native
// `int`/`uintptr` in the on-disk layout, so there is only one layout.
package tape

import (
	"encoding/binary"
	"fmt"

	"github.com/marketfeed/rtcore/internal/mmapfile"
)

var fileMagic = [8]byte{'R', 'T', 'T', 'A', 'P', 'E', '0', '1'}

const (
	maxNameLen     = 32
	dictEntrySize  = maxNameLen + maxNameLen + 4 + 4 + 8 + 8 // service+ticker+channelID+recordIdx+firstOff+lastOff
	tapeIdxEntSize = 8 + 8                                   // firstMsgOffset + firstSeqNo
	recStatSize    = maxNameLen + maxNameLen + 8 + 8 + 8      // service+ticker+msgCount+firstOff+lastOff
	recIdxEntSize  = 8                                       // offset
	frameHdrSize   = 8 + 8 + 1 + 4                           // backPointer + timestamp + protocol + length
)

const secondsPerDay = 86400

type header struct {
	creationTime  int64
	secPerIdxTape uint32
	secPerIdxRec  uint32
	dictCapacity  uint32
	dictCount     uint32
	recCapacity   uint32
	recCount      uint32
	writeOffset   int64 // absolute file offset of the next message frame
}

const headerFixedLen = 8 + 8 + 4 + 4 + 4 + 4 + 4 + 4 + 8

func (h header) encode() []byte {
	buf := make([]byte, headerFixedLen)
	copy(buf[0:8], fileMagic[:])
	binary.LittleEndian.PutUint64(buf[8:16], uint64(h.creationTime))
	binary.LittleEndian.PutUint32(buf[16:20], h.secPerIdxTape)
	binary.LittleEndian.PutUint32(buf[20:24], h.secPerIdxRec)
	binary.LittleEndian.PutUint32(buf[24:28], h.dictCapacity)
	binary.LittleEndian.PutUint32(buf[28:32], h.dictCount)
	binary.LittleEndian.PutUint32(buf[32:36], h.recCapacity)
	binary.LittleEndian.PutUint32(buf[36:40], h.recCount)
	binary.LittleEndian.PutUint64(buf[40:48], uint64(h.writeOffset))
	return buf
}

func decodeHeader(p []byte) (header, error) {
	if len(p) < headerFixedLen {
		return header{}, fmt.Errorf("tape: file too short for header")
	}
	var magic [8]byte
	copy(magic[:], p[0:8])
	if magic != fileMagic {
		return header{}, fmt.Errorf("tape: bad magic, not a tape file")
	}
	return header{
		creationTime:  int64(binary.LittleEndian.Uint64(p[8:16])),
		secPerIdxTape: binary.LittleEndian.Uint32(p[16:20]),
		secPerIdxRec:  binary.LittleEndian.Uint32(p[20:24]),
		dictCapacity:  binary.LittleEndian.Uint32(p[24:28]),
		dictCount:     binary.LittleEndian.Uint32(p[28:32]),
		recCapacity:   binary.LittleEndian.Uint32(p[32:36]),
		recCount:      binary.LittleEndian.Uint32(p[36:40]),
		writeOffset:   int64(binary.LittleEndian.Uint64(p[40:48])),
	}, nil
}

type layout struct {
	dictOff     int64
	tapeIdxOff  int64
	tapeIdxLen  int64 // number of buckets
	recTableOff int64
	recStride   int64 // recStatSize + recIdxLen*recIdxEntSize
	recIdxLen   int64
	streamOff   int64
}

func computeLayout(h header) layout {
	var l layout
	l.dictOff = headerFixedLen
	l.tapeIdxOff = l.dictOff + int64(h.dictCapacity)*dictEntrySize
	l.tapeIdxLen = secondsPerDay / int64(h.secPerIdxTape)
	l.recTableOff = l.tapeIdxOff + l.tapeIdxLen*tapeIdxEntSize
	l.recIdxLen = secondsPerDay / int64(h.secPerIdxRec)
	l.recStride = recStatSize + l.recIdxLen*recIdxEntSize
	l.streamOff = l.recTableOff + int64(h.recCapacity)*l.recStride
	return l
}

// CreateOptions configures a new tape file.
type CreateOptions struct {
	CreationTime      int64
	SecPerIdxTape     uint32
	SecPerIdxRecord   uint32
	DictCapacity      uint32
	RecordCapacity    uint32
	InitialStreamSize int64
}

// Create lays out an empty tape file at path.
func Create(path string, opts CreateOptions) error {
	if opts.SecPerIdxTape == 0 {
		opts.SecPerIdxTape = 60
	}
	if opts.SecPerIdxRecord == 0 {
		opts.SecPerIdxRecord = 300
	}
	if opts.DictCapacity == 0 {
		opts.DictCapacity = 4096
	}
	if opts.RecordCapacity == 0 {
		opts.RecordCapacity = opts.DictCapacity
	}
	if opts.InitialStreamSize == 0 {
		opts.InitialStreamSize = 1 << 20
	}

	h := header{
		creationTime:  opts.CreationTime,
		secPerIdxTape: opts.SecPerIdxTape,
		secPerIdxRec:  opts.SecPerIdxRecord,
		dictCapacity:  opts.DictCapacity,
		recCapacity:   opts.RecordCapacity,
	}
	l := computeLayout(h)
	h.writeOffset = l.streamOff

	mf, err := mmapfile.Open(path, mmapfile.ModeReadWrite)
	if err != nil {
		return err
	}
	defer mf.Close()

	total := l.streamOff + opts.InitialStreamSize
	if err := mf.Grow(total); err != nil {
		return err
	}
	if err := mf.Map(0, total); err != nil {
		return err
	}

	view := mf.View()
	copy(view, h.encode())
	for i := range view[l.tapeIdxOff:l.recTableOff] {
		view[l.tapeIdxOff+int64(i)] = 0
	}
	return mf.Flush()
}

func openMapped(path string, mode mmapfile.Mode) (*mmapfile.MappedFile, header, layout, error) {
	mf, err := mmapfile.Open(path, mode)
	if err != nil {
		return nil, header{}, layout{}, err
	}
	size, err := mf.Stat()
	if err != nil {
		mf.Close()
		return nil, header{}, layout{}, err
	}
	if err := mf.Map(0, size); err != nil {
		mf.Close()
		return nil, header{}, layout{}, err
	}
	h, err := decodeHeader(mf.View())
	if err != nil {
		mf.Close()
		return nil, header{}, layout{}, err
	}
	l := computeLayout(h)
	return mf, h, l, nil
}

func writeFixed(dst []byte, s string, n int) {
	for i := range dst[:n] {
		dst[i] = 0
	}
	copy(dst[:n], s)
}

func readFixed(src []byte) string {
	for i, b := range src {
		if b == 0 {
			return string(src[:i])
		}
	}
	return string(src)
}
