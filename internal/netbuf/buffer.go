// Package netbuf implements the bounded byte containers that sit
// between a socket and the wire codec: a grow-by-doubling linear
// Buffer for inbound framing, and a CircularBuffer for outbound
// traffic with watermark notifications. Both can optionally tee every
// byte to a raw-capture log plus a companion roll log recording
// socket-boundary fragments, so operators can reconstruct
// application-framing vs kernel-framing after the fact.
//
// The growth policy mirrors the ClusterCockpit metric ring buffer: the
// backing array never reallocates once its capacity is reached, a new
// chunk is used instead. Here that becomes "refuse further Push calls
// once the ceiling is hit" since, unlike a time-series ring, a framing
// buffer cannot simply start a fresh chunk mid-message without losing
// byte-order continuity with a partially consumed message.
package netbuf

import (
	"errors"
	"io"
)

// ErrCeiling is returned by Push when growing the buffer would exceed
// its configured ceiling. The caller (normally a Socket) interprets
// this as back-pressure.
var ErrCeiling = errors.New("netbuf: buffer ceiling reached")

// RawSink receives a tee'd copy of every byte that moves through a
// Buffer or CircularBuffer, plus a companion fragment record so raw
// traffic capture can be correlated with kernel-level read/write
// boundaries.
type RawSink interface {
	// Raw receives the exact bytes transferred in one ReadIn/WriteOut/Push call.
	Raw(p []byte)
	// Roll records one socket-boundary fragment: start-of-message flag,
	// end-of-message flag, the running total byte count, and this
	// fragment's size.
	Roll(som, eom bool, total, fragment int64)
}

// Buffer is a linear, grow-by-doubling byte container used for
// inbound framing. It grows up to Ceiling; once growth would exceed
// that, Push and ReadIn fail with ErrCeiling so the caller can signal
// back-pressure to its peer instead of consuming unbounded memory.
type Buffer struct {
	data    []byte
	ceiling int
	total   int64
	raw     RawSink
}

// NewBuffer creates a Buffer with an initial capacity and a hard
// ceiling it will never grow past.
func NewBuffer(initialCap, ceiling int) *Buffer {
	if initialCap <= 0 {
		initialCap = 4096
	}
	return &Buffer{
		data:    make([]byte, 0, initialCap),
		ceiling: ceiling,
	}
}

// SetRawSink installs (or clears, with nil) the raw-capture sink.
// Raw logging is opt-in per channel, matching spec §4.1/§4.4.
func (b *Buffer) SetRawSink(s RawSink) { b.raw = s }

func (b *Buffer) growFor(extra int) error {
	need := len(b.data) + extra
	if need <= cap(b.data) {
		return nil
	}
	newCap := cap(b.data)
	if newCap == 0 {
		newCap = 4096
	}
	for newCap < need {
		newCap *= 2
	}
	if b.ceiling > 0 && newCap > b.ceiling {
		if need > b.ceiling {
			return ErrCeiling
		}
		newCap = b.ceiling
	}
	grown := make([]byte, len(b.data), newCap)
	copy(grown, b.data)
	b.data = grown
	return nil
}

// Push appends bytes to the buffer, growing as needed.
func (b *Buffer) Push(p []byte) error {
	if err := b.growFor(len(p)); err != nil {
		return err
	}
	b.data = append(b.data, p...)
	b.total += int64(len(p))
	if b.raw != nil {
		b.raw.Raw(p)
	}
	return nil
}

// ReadIn reads up to n bytes from r into the write cursor, growing the
// buffer as needed. It returns the number of bytes actually read.
func (b *Buffer) ReadIn(r io.Reader, n int) (int, error) {
	if err := b.growFor(n); err != nil {
		return 0, err
	}
	start := len(b.data)
	b.data = b.data[:start+n]
	read, err := r.Read(b.data[start : start+n])
	b.data = b.data[:start+read]
	b.total += int64(read)
	if read > 0 && b.raw != nil {
		b.raw.Raw(b.data[start : start+read])
		b.raw.Roll(start == 0, err == io.EOF, b.total, int64(read))
	}
	return read, err
}

// WriteOut drains n bytes starting at off to w, without consuming them
// from the buffer (the caller follows with Move once bytes are
// confirmed sent).
func (b *Buffer) WriteOut(w io.Writer, off, n int) (int, error) {
	if off < 0 || off+n > len(b.data) {
		return 0, errors.New("netbuf: WriteOut out of range")
	}
	written, err := w.Write(b.data[off : off+n])
	if b.raw != nil && written > 0 {
		b.raw.Raw(b.data[off : off+written])
	}
	return written, err
}

// Move slides the tail starting at off forward to the front of the
// buffer, discarding the first off bytes. Used after partial
// consumption by the wire codec.
func (b *Buffer) Move(off, length int) {
	if off <= 0 {
		return
	}
	if off >= len(b.data) {
		b.data = b.data[:0]
		return
	}
	n := copy(b.data, b.data[off:off+length])
	b.data = b.data[:n]
}

// Bytes returns the currently buffered bytes. The slice is only valid
// until the next mutating call.
func (b *Buffer) Bytes() []byte { return b.data }

// Len returns the number of buffered bytes.
func (b *Buffer) Len() int { return len(b.data) }

// Cap returns the current backing capacity.
func (b *Buffer) Cap() int { return cap(b.data) }

// TotalBytes returns the cumulative number of bytes ever pushed/read into this buffer.
func (b *Buffer) TotalBytes() int64 { return b.total }

// Reset empties the buffer without releasing its backing array.
func (b *Buffer) Reset() { b.data = b.data[:0] }
