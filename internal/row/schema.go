package row

import (
	"slices"
	"strings"
	"sync"

	"github.com/zeebo/xxh3"
)

// Schema describes the column layout shared by every Row read from the same
// source. Schemas are immutable once built.
type Schema struct {
	names      []string
	normalized []string
	index      map[string]int
	signature  uint64
}

// Len is the number of schema columns.
func (s *Schema) Len() int { return len(s.names) }

// Names returns the original column names.
func (s *Schema) Names() []string { return slices.Clone(s.names) }

// Normalized returns the normalized column names.
func (s *Schema) Normalized() []string { return slices.Clone(s.normalized) }

// Signature is the xxh3 hash the schema is registered under.
func (s *Schema) Signature() uint64 { return s.signature }

// Index resolves key against original names first, then normalized names.
func (s *Schema) Index(key string) (int, bool) {
	i, ok := s.index[key]
	return i, ok
}

func newSchema(names []string, sig uint64) *Schema {
	s := &Schema{
		names:      slices.Clone(names),
		normalized: NormalizeNames(names),
		index:      make(map[string]int, 2*len(names)),
		signature:  sig,
	}
	// Normalized names go in first so that an original name always wins
	// when the two spaces overlap.
	for i, n := range s.normalized {
		s.index[n] = i
	}
	for i, n := range s.names {
		s.index[n] = i
	}
	return s
}

// Signature hashes a column list. The unit separator keeps ["ab","c"] and
// ["a","bc"] apart.
func Signature(names []string) uint64 {
	h := xxh3.New()
	for _, n := range names {
		_, _ = h.WriteString(n)
		_, _ = h.Write([]byte{0x1f})
	}
	return h.Sum64()
}

// Registry interns schemas by signature so rows with the same columns share
// one Schema. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	schemas map[uint64][]*Schema
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{schemas: make(map[uint64][]*Schema)}
}

// Schema returns the registered schema for names, creating it on first use.
func (r *Registry) Schema(names []string) *Schema {
	sig := Signature(names)

	r.mu.RLock()
	s := r.lookup(sig, names)
	r.mu.RUnlock()
	if s != nil {
		return s
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if s := r.lookup(sig, names); s != nil {
		return s
	}
	s = newSchema(names, sig)
	r.schemas[sig] = append(r.schemas[sig], s)
	return s
}

// Len is the number of distinct schemas held.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, b := range r.schemas {
		n += len(b)
	}
	return n
}

func (r *Registry) lookup(sig uint64, names []string) *Schema {
	for _, s := range r.schemas[sig] {
		if slices.Equal(s.names, names) {
			return s
		}
	}
	return nil
}

var defaultRegistry = NewRegistry()

// SchemaFor interns names in the process-wide registry.
func SchemaFor(names []string) *Schema {
	return defaultRegistry.Schema(names)
}

func (s *Schema) String() string {
	return "schema(" + strings.Join(s.names, ",") + ")"
}
