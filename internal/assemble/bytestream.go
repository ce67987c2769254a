// Package assemble implements the stateful decorators of spec §3.9/
// §4.12 that reconstruct multi-message sequences on top of plain
// field updates: byte-streams split across several publishes, chains
// of linked records, vectors, and 2-D surfaces. Each assembler keeps
// its own small per-item staging state, the same per-selector staging
// shape the teacher's DataStaging goroutine uses to accumulate
// metric points before a checkpoint flush, generalized here from "one
// map entry per selector" to "one map entry per chain link index."
package assemble

import (
	"sort"
	"sync"

	"github.com/marketfeed/rtcore/internal/schema"
)

// ByteStream reassembles a byte-stream field published across
// several updates via PubChainLink: a data field at fid paired with
// an index/terminal flag field at fid+1, per spec §4.12.
type ByteStream struct {
	mu       sync.Mutex
	fid      int
	frags    map[int][]byte
	lastIdx  int // index of the terminal fragment, -1 until it arrives
	complete bool
}

func NewByteStream(fid int) *ByteStream {
	return &ByteStream{fid: fid, frags: make(map[int][]byte), lastIdx: -1}
}

// Feed inspects fields for this assembler's data/flag field pair and
// accumulates the fragment. It returns the fully reassembled bytes
// and true once the terminal fragment and every fragment before it
// have arrived, in any order; until then it returns nil, false.
func (b *ByteStream) Feed(fields []schema.Field) ([]byte, bool) {
	var data *schema.Field
	var flag *schema.Field
	for i := range fields {
		switch fields[i].ID {
		case b.fid:
			data = &fields[i]
		case b.fid + 1:
			flag = &fields[i]
		}
	}
	if data == nil || flag == nil {
		return nil, false
	}

	raw, err := flag.AsInt64()
	if err != nil {
		return nil, false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	last := raw < 0
	idx := int(raw)
	if last {
		idx = int(-raw - 1)
	}
	b.frags[idx] = data.AsBytes()
	if last {
		b.lastIdx = idx
	}

	if b.lastIdx < 0 {
		return nil, false
	}
	for i := 0; i <= b.lastIdx; i++ {
		if _, ok := b.frags[i]; !ok {
			return nil, false
		}
	}

	b.complete = true
	indices := make([]int, 0, len(b.frags))
	for i := range b.frags {
		indices = append(indices, i)
	}
	sort.Ints(indices)

	total := 0
	for _, i := range indices {
		total += len(b.frags[i])
	}
	out := make([]byte, 0, total)
	for _, i := range indices {
		out = append(out, b.frags[i]...)
	}

	b.frags = make(map[int][]byte)
	b.lastIdx = -1
	return out, true
}

// Reset discards any partially assembled fragments, e.g. after a
// stale/dead status interrupts an in-progress byte-stream.
func (b *ByteStream) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.frags = make(map[int][]byte)
	b.lastIdx = -1
	b.complete = false
}
