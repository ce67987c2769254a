package netbuf

import (
	"errors"
	"io"
)

// ErrQueueFull is returned by CircularBuffer.Push when the ring has no
// room left and the caller has not configured drop-oldest behavior.
var ErrQueueFull = errors.New("netbuf: outbound queue full")

// WatermarkFunc is invoked when the CircularBuffer's fill level crosses
// the high or low watermark. `hi` is true for a QHiMark crossing.
type WatermarkFunc func(hi bool)

// CircularBuffer is the outbound byte ring used by a Socket. Push
// writes in up to two segments across the wrap point; WriteOut drains
// likewise in one or two syscalls. It tracks cumulative bytes sent and
// fires watermark callbacks as fill crosses configured thresholds,
// implementing spec §4.4's QHiMark/QLoMark back-pressure contract.
type CircularBuffer struct {
	data   []byte
	head   int // next byte to write out
	tail   int // next free slot to push into
	filled int
	sent   int64

	hiMark int // fill count at which QHiMark fires
	loMark int // fill count at which QLoMark fires
	aboveHi bool

	dropOldest bool
	onWatermark WatermarkFunc
	raw        RawSink
}

// NewCircularBuffer creates a ring of the given capacity. hiLoBandPct
// is the band width (e.g. 5..45) used to derive hi/lo marks from cap:
// hi = cap*(100-hiLoBandPct)/100, lo = cap*hiLoBandPct/100.
func NewCircularBuffer(capacity int, hiLoBandPct int) *CircularBuffer {
	if capacity <= 0 {
		capacity = 1 << 20
	}
	if hiLoBandPct <= 0 || hiLoBandPct >= 50 {
		hiLoBandPct = 20
	}
	return &CircularBuffer{
		data:   make([]byte, capacity),
		hiMark: capacity * (100 - hiLoBandPct) / 100,
		loMark: capacity * hiLoBandPct / 100,
	}
}

func (c *CircularBuffer) SetRawSink(s RawSink)             { c.raw = s }
func (c *CircularBuffer) SetDropOldest(drop bool)          { c.dropOldest = drop }
func (c *CircularBuffer) OnWatermark(fn WatermarkFunc)     { c.onWatermark = fn }
func (c *CircularBuffer) Cap() int                         { return len(c.data) }
func (c *CircularBuffer) Len() int                         { return c.filled }
func (c *CircularBuffer) TotalSent() int64                 { return c.sent }

// Push enqueues p, writing in up to two segments across the wrap
// point. If there isn't enough room: when dropOldest is set, the
// oldest bytes are discarded to make room (partial payload loss is the
// caller's risk); otherwise ErrQueueFull is returned, meaning the
// publish path should report a failure per spec §4.4's default
// behavior of blocking the logical publish rather than silently
// dropping data.
func (c *CircularBuffer) Push(p []byte) error {
	if len(p) > len(c.data) {
		return errors.New("netbuf: payload larger than ring capacity")
	}
	free := len(c.data) - c.filled
	if len(p) > free {
		if !c.dropOldest {
			return ErrQueueFull
		}
		need := len(p) - free
		c.head = (c.head + need) % len(c.data)
		c.filled -= need
	}

	n := len(p)
	first := len(c.data) - c.tail
	if first > n {
		first = n
	}
	copy(c.data[c.tail:c.tail+first], p[:first])
	if first < n {
		copy(c.data[0:n-first], p[first:])
	}
	c.tail = (c.tail + n) % len(c.data)
	c.filled += n
	c.sent += 0 // sent only counts bytes actually drained, see WriteOut

	if c.raw != nil {
		c.raw.Raw(p)
	}
	c.checkWatermark()
	return nil
}

// WriteOut drains up to n bytes to w in one or two segments, advancing
// head by however much was actually written.
func (c *CircularBuffer) WriteOut(w io.Writer, n int) (int, error) {
	if n > c.filled {
		n = c.filled
	}
	if n == 0 {
		return 0, nil
	}

	first := len(c.data) - c.head
	if first > n {
		first = n
	}

	written, err := w.Write(c.data[c.head : c.head+first])
	c.head = (c.head + written) % len(c.data)
	c.filled -= written
	c.sent += int64(written)
	if c.raw != nil && written > 0 {
		c.raw.Raw(c.data[(c.head-written+len(c.data))%len(c.data) : (c.head-written+len(c.data))%len(c.data)+written])
	}
	c.checkWatermark()

	if err != nil || written < first || n == first {
		return written, err
	}

	remain := n - first
	w2, err2 := w.Write(c.data[0:remain])
	c.head = (c.head + w2) % len(c.data)
	c.filled -= w2
	c.sent += int64(w2)
	c.checkWatermark()
	return written + w2, err2
}

func (c *CircularBuffer) checkWatermark() {
	if c.onWatermark == nil {
		return
	}
	if !c.aboveHi && c.filled >= c.hiMark {
		c.aboveHi = true
		c.onWatermark(true)
	} else if c.aboveHi && c.filled <= c.loMark {
		c.aboveHi = false
		c.onWatermark(false)
	}
}
