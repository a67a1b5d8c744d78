// Package row implements a compact record type for tabular sources.
//
// A Row stores values positionally and shares its column layout (a Schema)
// with every other row read from the same source. Values can be reached by
// index, by the original column name or by a normalized, identifier-safe
// name. Fields can be hidden (Delete) and revived (Set), and keys that are
// not part of the schema are kept in a small side map.
//
// Nil is the absent-value marker: it is what padding and Delete leave behind.
package row

import (
	"slices"
	"sort"
)

// Item is a key/value pair returned by Row.Items.
type Item struct {
	Key   string
	Value any
}

// Row is a single record. It is not safe for concurrent mutation.
type Row struct {
	schema  *Schema
	vals    []any
	deleted map[int]struct{}

	addedKeys []string
	added     map[string]any
}

// New builds a Row from positional values. Exactly schema.Len() values take
// the fast path; fewer are padded with nil and extras are dropped.
func New(schema *Schema, values ...any) *Row {
	n := schema.Len()
	if len(values) == n {
		return &Row{schema: schema, vals: values}
	}
	vals := make([]any, n)
	copy(vals, values)
	return &Row{schema: schema, vals: vals}
}

// NewWith builds a Row from positional values followed by keyword values.
// Keywords are matched by original or normalized name and override
// positional values; unknown keywords become added fields in sorted order.
func NewWith(schema *Schema, positional []any, named map[string]any) *Row {
	r := New(schema, positional...)
	if len(positional) == schema.Len() {
		r.vals = slices.Clone(positional)
	}
	if len(named) == 0 {
		return r
	}
	keys := make([]string, 0, len(named))
	for k := range named {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		r.Set(k, named[k])
	}
	return r
}

// Schema returns the shared schema.
func (r *Row) Schema() *Schema { return r.schema }

// Len counts live schema fields plus added fields.
func (r *Row) Len() int {
	return len(r.vals) - len(r.deleted) + len(r.addedKeys)
}

// Get returns the value for key, checking added fields, then original
// names, then normalized names. Deleted fields are not found.
func (r *Row) Get(key string) (any, bool) {
	if v, ok := r.added[key]; ok {
		return v, true
	}
	i, ok := r.schema.Index(key)
	if !ok || r.isDeleted(i) {
		return nil, false
	}
	return r.vals[i], true
}

// GetOr returns the value for key or def when key is absent.
func (r *Row) GetOr(key string, def any) any {
	if v, ok := r.Get(key); ok {
		return v
	}
	return def
}

// Set assigns key. Assigning a deleted schema field revives it; an unknown
// key becomes an added field.
func (r *Row) Set(key string, v any) {
	if _, ok := r.added[key]; ok {
		r.added[key] = v
		return
	}
	if i, ok := r.schema.Index(key); ok {
		r.vals[i] = v
		delete(r.deleted, i)
		return
	}
	if r.added == nil {
		r.added = make(map[string]any)
	}
	r.addedKeys = append(r.addedKeys, key)
	r.added[key] = v
}

// Delete hides key. It reports whether a live field was removed.
func (r *Row) Delete(key string) bool {
	if _, ok := r.added[key]; ok {
		delete(r.added, key)
		r.addedKeys = slices.DeleteFunc(r.addedKeys, func(k string) bool { return k == key })
		return true
	}
	i, ok := r.schema.Index(key)
	if !ok || r.isDeleted(i) {
		return false
	}
	if r.deleted == nil {
		r.deleted = make(map[int]struct{})
	}
	r.deleted[i] = struct{}{}
	r.vals[i] = nil
	return true
}

// Pop removes key and returns its value.
func (r *Row) Pop(key string) (any, bool) {
	v, ok := r.Get(key)
	if !ok {
		return nil, false
	}
	r.Delete(key)
	return v, true
}

// At returns the value at schema position i, ignoring the deleted set.
func (r *Row) At(i int) any { return r.vals[i] }

// SetAt assigns schema position i and revives it if it was deleted.
func (r *Row) SetAt(i int, v any) {
	r.vals[i] = v
	delete(r.deleted, i)
}

// Slice returns a copy of positional values [i, j).
func (r *Row) Slice(i, j int) []any { return slices.Clone(r.vals[i:j]) }

// Keys lists live keys: schema fields in declaration order, then added
// fields in insertion order.
func (r *Row) Keys(normalized bool) []string {
	names := r.schema.names
	if normalized {
		names = r.schema.normalized
	}
	out := make([]string, 0, r.Len())
	for i, n := range names {
		if !r.isDeleted(i) {
			out = append(out, n)
		}
	}
	return append(out, r.addedKeys...)
}

// Values lists live values in Keys order.
func (r *Row) Values() []any {
	out := make([]any, 0, r.Len())
	for i, v := range r.vals {
		if !r.isDeleted(i) {
			out = append(out, v)
		}
	}
	for _, k := range r.addedKeys {
		out = append(out, r.added[k])
	}
	return out
}

// Items pairs Keys with Values.
func (r *Row) Items(normalized bool) []Item {
	keys := r.Keys(normalized)
	vals := r.Values()
	out := make([]Item, len(keys))
	for i := range keys {
		out[i] = Item{Key: keys[i], Value: vals[i]}
	}
	return out
}

// ToMap returns live fields keyed by original name.
func (r *Row) ToMap() map[string]any {
	m := make(map[string]any, r.Len())
	for _, it := range r.Items(false) {
		m[it.Key] = it.Value
	}
	return m
}

// Copy returns a shallow copy: values are shared, containers are not.
func (r *Row) Copy() *Row {
	c := &Row{
		schema:    r.schema,
		vals:      slices.Clone(r.vals),
		addedKeys: slices.Clone(r.addedKeys),
	}
	if len(r.deleted) > 0 {
		c.deleted = make(map[int]struct{}, len(r.deleted))
		for i := range r.deleted {
			c.deleted[i] = struct{}{}
		}
	}
	if len(r.added) > 0 {
		c.added = make(map[string]any, len(r.added))
		for k, v := range r.added {
			c.added[k] = v
		}
	}
	return c
}

func (r *Row) isDeleted(i int) bool {
	_, ok := r.deleted[i]
	return ok
}
