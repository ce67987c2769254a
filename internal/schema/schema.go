package schema

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// Def is one field definition: id, name, declared native type, a max
// length hint (for strings/byte-streams), and a type-specific
// attribute (e.g. the exponent for a REAL field).
type Def struct {
	ID        int
	Name      string
	Type      Type
	MaxLen    int
	Attribute int
}

// Schema is an ordered collection of field definitions keyed uniquely
// by id and by name (spec §3.2). It is safe for concurrent readers;
// Refresh replaces the definition maps atomically so a channel can
// install a new schema mid-session without readers observing a
// half-updated map.
type Schema struct {
	mu      sync.RWMutex
	byID    map[int]Def
	byName  map[string]Def
	minID   int
	maxID   int
	ordered []Def
}

func New() *Schema {
	return &Schema{byID: map[int]Def{}, byName: map[string]Def{}}
}

// wireTypeNames maps the MDDirect-style type names from spec §4.6 to
// native types.
var wireTypeNames = map[string]Type{
	"ALPHANUMERIC":  String,
	"ALPHANUM_XTND": String,
	"BINARY":        String,
	"DATE":          Date,
	"ENUMERATED":    Int32,
	"INTEGER":       Int32,
	"NUMERIC":       Float64,
	"PRICE":         Float64,
	"TIME":          Time,
	"TIME_SECONDS":  TimeSeconds,
	"REAL":          Real,
	"BYTESTREAM":    ByteStreamRef,
}

// Parse builds a Schema from a pipe-delimited definition blob
// "DEF1|DEF2|..." where each DEF is "NAME FID TYPE MAXLEN", per spec §4.6.
func Parse(blob string) (*Schema, error) {
	s := New()
	if strings.TrimSpace(blob) == "" {
		return s, nil
	}
	for _, def := range strings.Split(blob, "|") {
		def = strings.TrimSpace(def)
		if def == "" {
			continue
		}
		fields := strings.Fields(def)
		if len(fields) < 4 {
			return nil, fmt.Errorf("schema: malformed definition %q", def)
		}
		name := fields[0]
		id, err := strconv.Atoi(fields[1])
		if err != nil {
			return nil, fmt.Errorf("schema: bad field id in %q: %w", def, err)
		}
		typeName := fields[2]
		maxLen, err := strconv.Atoi(fields[3])
		if err != nil {
			return nil, fmt.Errorf("schema: bad max length in %q: %w", def, err)
		}
		ty, ok := wireTypeNames[typeName]
		if !ok {
			return nil, fmt.Errorf("schema: unknown type %q in %q", typeName, def)
		}
		if err := s.Add(Def{ID: id, Name: name, Type: ty, MaxLen: maxLen}); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Add inserts a definition, rejecting duplicate ids or names.
func (s *Schema) Add(d Def) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[d.ID]; ok {
		return fmt.Errorf("schema: duplicate field id %d", d.ID)
	}
	if _, ok := s.byName[d.Name]; ok {
		return fmt.Errorf("schema: duplicate field name %q", d.Name)
	}
	s.byID[d.ID] = d
	s.byName[d.Name] = d
	s.ordered = append(s.ordered, d)
	sort.Slice(s.ordered, func(i, j int) bool { return s.ordered[i].ID < s.ordered[j].ID })
	if len(s.byID) == 1 || d.ID < s.minID {
		s.minID = d.ID
	}
	if d.ID > s.maxID {
		s.maxID = d.ID
	}
	return nil
}

// ByID looks up a definition by field id. ok is false for an unknown
// id; callers then treat the field as Undefined per spec §3.2.
func (s *Schema) ByID(id int) (Def, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.byID[id]
	return d, ok
}

// ByName looks up a definition by name. Lookup is case-sensitive.
func (s *Schema) ByName(name string) (Def, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.byName[name]
	return d, ok
}

// MinMaxID returns the smallest and largest field id known to this schema.
func (s *Schema) MinMaxID() (int, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.minID, s.maxID
}

// Len returns the number of field definitions.
func (s *Schema) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ordered)
}

// Each calls fn for every definition in ascending id order.
func (s *Schema) Each(fn func(Def)) {
	s.mu.RLock()
	ordered := s.ordered
	s.mu.RUnlock()
	for _, d := range ordered {
		fn(d)
	}
}

// Refresh atomically replaces this schema's definition maps with
// those of other. Per spec §3.2, refresh happens from the owning
// channel's thread and must not renumber existing records — callers
// apply Refresh without evicting any Record.
func (s *Schema) Refresh(other *Schema) {
	other.mu.RLock()
	byID := other.byID
	byName := other.byName
	ordered := other.ordered
	minID, maxID := other.minID, other.maxID
	other.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID = byID
	s.byName = byName
	s.ordered = ordered
	s.minID = minID
	s.maxID = maxID
}

// DeclaredType returns the native type for id, falling back to
// Undefined when the schema has no entry — native-typed accessors
// then fall back to string, per spec §3.2.
func (s *Schema) DeclaredType(id int) Type {
	d, ok := s.ByID(id)
	if !ok {
		return Undefined
	}
	return d.Type
}
