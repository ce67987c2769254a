// Package lvc implements the Last-Value Cache reader of spec
// §3.6/§6.2: a memory-mapped, sequence-locked snapshot store that
// lets many reader processes see a writer's current field state
// without ever blocking the writer. Every record slot carries a
// seqlock-style counter (even = stable, odd = a write is in
// progress) in the classic Linux-kernel seqlock shape: readers spin
// past an in-progress write and retry rather than ever taking a
// kernel-visible lock, which is what makes this safe to memory-map
// across independent processes instead of just goroutines.
package lvc

import (
	"encoding/binary"
	"fmt"

	"github.com/marketfeed/rtcore/internal/mmapfile"
	"github.com/marketfeed/rtcore/internal/schema"
)

var fileMagic = [8]byte{'R', 'T', 'L', 'V', 'C', 'D', 'B', '1'}

const (
	maxNameLen    = 32
	dirEntrySize  = maxNameLen + maxNameLen + 4 + 4 // service + ticker + slot + pad
	slotHeaderLen = 8 + 4                           // seq + payloadLen
)

// header is the fixed-size region at the start of an LVC file.
type header struct {
	schemaLen    uint32
	dirCapacity  uint32
	dirCount     uint32
	slotCapacity uint32
	slotStride   uint32 // slotHeaderLen + max payload bytes per slot
}

const headerFixedLen = 8 + 4 + 4 + 4 + 4 + 4 // magic + the 5 header fields above

func (h header) encode() []byte {
	buf := make([]byte, headerFixedLen)
	copy(buf[0:8], fileMagic[:])
	binary.LittleEndian.PutUint32(buf[8:12], h.schemaLen)
	binary.LittleEndian.PutUint32(buf[12:16], h.dirCapacity)
	binary.LittleEndian.PutUint32(buf[16:20], h.dirCount)
	binary.LittleEndian.PutUint32(buf[20:24], h.slotCapacity)
	binary.LittleEndian.PutUint32(buf[24:28], h.slotStride)
	return buf
}

func decodeHeader(p []byte) (header, error) {
	if len(p) < headerFixedLen {
		return header{}, fmt.Errorf("lvc: file too short for header")
	}
	var magic [8]byte
	copy(magic[:], p[0:8])
	if magic != fileMagic {
		return header{}, fmt.Errorf("lvc: bad magic, not an LVC file")
	}
	return header{
		schemaLen:    binary.LittleEndian.Uint32(p[8:12]),
		dirCapacity:  binary.LittleEndian.Uint32(p[12:16]),
		dirCount:     binary.LittleEndian.Uint32(p[16:20]),
		slotCapacity: binary.LittleEndian.Uint32(p[20:24]),
		slotStride:   binary.LittleEndian.Uint32(p[24:28]),
	}, nil
}

// layout computes byte offsets into the mapped file for each region.
type layout struct {
	schemaOff int64
	dirOff    int64
	slotsOff  int64
	totalSize int64
}

func computeLayout(h header) layout {
	var l layout
	l.schemaOff = headerFixedLen
	l.dirOff = l.schemaOff + int64(h.schemaLen)
	l.slotsOff = l.dirOff + int64(h.dirCapacity)*dirEntrySize
	l.totalSize = l.slotsOff + int64(h.slotCapacity)*int64(h.slotStride)
	return l
}

// CreateOptions configures a new LVC file; used by Create.
type CreateOptions struct {
	Schema       *schema.Schema
	DirCapacity  uint32
	SlotCapacity uint32
	MaxPayload   uint32 // max encoded field bytes per record
}

// Create lays out a brand-new, empty LVC file at path.
func Create(path string, schemaBlob string, opts CreateOptions) error {
	if opts.DirCapacity == 0 {
		opts.DirCapacity = 4096
	}
	if opts.SlotCapacity == 0 {
		opts.SlotCapacity = opts.DirCapacity
	}
	if opts.MaxPayload == 0 {
		opts.MaxPayload = 4096
	}

	h := header{
		schemaLen:    uint32(len(schemaBlob)),
		dirCapacity:  opts.DirCapacity,
		dirCount:     0,
		slotCapacity: opts.SlotCapacity,
		slotStride:   uint32(slotHeaderLen) + opts.MaxPayload,
	}
	l := computeLayout(h)

	mf, err := mmapfile.Open(path, mmapfile.ModeReadWrite)
	if err != nil {
		return err
	}
	defer mf.Close()

	if err := mf.Grow(l.totalSize); err != nil {
		return err
	}
	if err := mf.Map(0, l.totalSize); err != nil {
		return err
	}

	view := mf.View()
	copy(view, h.encode())
	copy(view[l.schemaOff:l.schemaOff+int64(len(schemaBlob))], schemaBlob)

	return mf.Flush()
}

// openMapped opens and fully maps an existing LVC file, returning its
// parsed header and computed layout alongside the MappedFile.
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
	if size < l.totalSize {
		mf.Close()
		return nil, header{}, layout{}, fmt.Errorf("lvc: file truncated: have %d bytes, need %d", size, l.totalSize)
	}
	return mf, h, l, nil
}

func writeDirEntry(view []byte, dirOff int64, idx uint32, service, ticker string, slot uint32) {
	off := dirOff + int64(idx)*dirEntrySize
	entry := view[off : off+dirEntrySize]
	for i := range entry {
		entry[i] = 0
	}
	copy(entry[0:maxNameLen], service)
	copy(entry[maxNameLen:2*maxNameLen], ticker)
	binary.LittleEndian.PutUint32(entry[2*maxNameLen:2*maxNameLen+4], slot)
}

func readDirEntry(view []byte, dirOff int64, idx uint32) (service, ticker string, slot uint32) {
	off := dirOff + int64(idx)*dirEntrySize
	entry := view[off : off+dirEntrySize]
	service = cStringTrim(entry[0:maxNameLen])
	ticker = cStringTrim(entry[maxNameLen : 2*maxNameLen])
	slot = binary.LittleEndian.Uint32(entry[2*maxNameLen : 2*maxNameLen+4])
	return
}

func cStringTrim(p []byte) string {
	for i, b := range p {
		if b == 0 {
			return string(p[:i])
		}
	}
	return string(p)
}
