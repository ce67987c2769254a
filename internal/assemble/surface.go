package assemble

import (
	"sort"
	"sync"

	"github.com/marketfeed/rtcore/internal/schema"
)

// Surface reassembles a 2-D grid (e.g. an option volatility surface:
// rows are expiries, columns are strikes/tenors) out of one
// TimedVector field per row, published independently and arriving in
// any order, per spec §3.9.
type Surface struct {
	mu   sync.Mutex
	fid  int
	rows map[int64][]float64
	cols []int64 // shared column axis, set by the first row seen
}

func NewSurface(fid int) *Surface {
	return &Surface{fid: fid, rows: make(map[int64][]float64)}
}

// Feed ingests one row's worth of field data. A row is a TimedVector
// whose Times give the column axis (e.g. tenor in days) and whose
// Values are the row's data; the row's own identity (e.g. expiry) is
// rowKey, supplied by the caller from the record's own ticker or a
// dedicated row-id field since the wire envelope does not carry it.
func (s *Surface) Feed(rowKey int64, fields []schema.Field) bool {
	tv, ok := TimedVector(fields, s.fid)
	if !ok {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cols == nil {
		s.cols = append([]int64(nil), tv.Times...)
	}
	s.rows[rowKey] = append([]float64(nil), tv.Values...)
	return true
}

// Snapshot returns the surface's current row keys in ascending order
// and a matching slice of row data, plus the shared column axis.
func (s *Surface) Snapshot() (rowKeys []int64, data [][]float64, cols []int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rowKeys = make([]int64, 0, len(s.rows))
	for k := range s.rows {
		rowKeys = append(rowKeys, k)
	}
	sort.Slice(rowKeys, func(i, j int) bool { return rowKeys[i] < rowKeys[j] })

	data = make([][]float64, len(rowKeys))
	for i, k := range rowKeys {
		data[i] = s.rows[k]
	}
	cols = append([]int64(nil), s.cols...)
	return rowKeys, data, cols
}

// Len returns the number of rows currently held.
func (s *Surface) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}
