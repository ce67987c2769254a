// Package mmapfile provides a platform-uniform read/write memory
// mapping over a file, used by the LVC reader and the tape reader to
// view artifacts written by a peer process without copying them
// through the Go heap.
//
// Mapping errors leave the MappedFile in the unmapped state; callers
// must check Valid() before dereferencing View(). All offsets are
// 64-bit regardless of host architecture, per spec §4.2.
package mmapfile

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Mode selects how the underlying file is opened.
type Mode int

const (
	ModeRead      Mode = iota // "r": read-only, mapping is PROT_READ
	ModeReadWrite             // "r+": read-write, mapping is PROT_READ|PROT_WRITE
	ModeWrite                 // "w": truncate-create, read-write
	ModeAppend                // "a": create-if-missing, read-write, does not truncate
)

// MappedFile is a memory-mapped view over a window of a file.
type MappedFile struct {
	f       *os.File
	data    []byte
	mode    Mode
	mapOff  int64
	mapLen  int64
	valid   bool
}

// Open opens path in the given mode. It does not map anything yet;
// call Map to establish a view.
func Open(path string, mode Mode) (*MappedFile, error) {
	var flags int
	switch mode {
	case ModeRead:
		flags = os.O_RDONLY
	case ModeReadWrite:
		flags = os.O_RDWR
	case ModeWrite:
		flags = os.O_RDWR | os.O_CREATE | os.O_TRUNC
	case ModeAppend:
		flags = os.O_RDWR | os.O_CREATE
	default:
		return nil, fmt.Errorf("mmapfile: unknown mode %d", mode)
	}

	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, err
	}
	return &MappedFile{f: f, mode: mode}, nil
}

// GetPageSize returns the OS page size, for window-alignment.
func GetPageSize() int64 { return int64(os.Getpagesize()) }

// Stat returns the underlying file's current size.
func (m *MappedFile) Stat() (int64, error) {
	fi, err := m.f.Stat()
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

// Grow extends the underlying file to at least size bytes. Only valid
// for write/append/read-write modes.
func (m *MappedFile) Grow(size int64) error {
	return m.f.Truncate(size)
}

// Seek, SeekEnd, Tell operate on the underlying file descriptor's
// cursor, independent of any active mapping (used by callers that mix
// mmap'd reads with sequential appends, such as the tape writer-side
// tooling).
func (m *MappedFile) Seek(off int64) (int64, error)    { return m.f.Seek(off, 0) }
func (m *MappedFile) SeekEnd(off int64) (int64, error) { return m.f.Seek(off, 2) }
func (m *MappedFile) Tell() (int64, error)             { return m.f.Seek(0, 1) }

// Map establishes (or re-establishes) a mapped view [offset, offset+length).
// protection is chosen from the MappedFile's mode: read-only modes get
// PROT_READ, read-write modes get PROT_READ|PROT_WRITE.
func (m *MappedFile) Map(offset, length int64) error {
	if m.valid {
		if err := m.Unmap(); err != nil {
			return err
		}
	}

	prot := unix.PROT_READ
	if m.mode != ModeRead {
		prot |= unix.PROT_WRITE
	}

	data, err := unix.Mmap(int(m.f.Fd()), offset, int(length), prot, unix.MAP_SHARED)
	if err != nil {
		m.valid = false
		return fmt.Errorf("mmapfile: mmap offset=%d length=%d: %w", offset, length, err)
	}

	m.data = data
	m.mapOff = offset
	m.mapLen = length
	m.valid = true
	return nil
}

// Valid reports whether the MappedFile currently has a live mapping.
func (m *MappedFile) Valid() bool { return m.valid }

// View returns the raw mapped bytes. Callers must check Valid first;
// dereferencing after a failed Map produces a nil slice.
func (m *MappedFile) View() []byte { return m.data }

// Offset and Length describe the currently mapped window.
func (m *MappedFile) Offset() int64 { return m.mapOff }
func (m *MappedFile) Length() int64 { return m.mapLen }

// Flush synchronizes the mapped view back to disk (msync).
func (m *MappedFile) Flush() error {
	if !m.valid {
		return nil
	}
	return unix.Msync(m.data, unix.MS_SYNC)
}

// Unmap releases the current mapping, if any.
func (m *MappedFile) Unmap() error {
	if !m.valid {
		return nil
	}
	err := unix.Munmap(m.data)
	m.data = nil
	m.valid = false
	return err
}

// Close unmaps (if mapped) and closes the underlying file descriptor.
func (m *MappedFile) Close() error {
	if err := m.Unmap(); err != nil {
		return err
	}
	return m.f.Close()
}

// File exposes the underlying *os.File for callers that need raw
// ReadAt/WriteAt outside of the mapped window (e.g. growing a tape
// file beyond its currently mapped suffix).
func (m *MappedFile) File() *os.File { return m.f }
