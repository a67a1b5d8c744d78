package table

import (
	"maps"

	"surge/internal/paramstyle"
)

// SetValues replaces the current row with values extracted from rec.
//
// For each column: the source value is read (a single field, a list of
// fields, or the whole record), configured null strings become absent, an
// absent value takes the column default, and the transform chain runs. A
// failing transform leaves the value absent and bumps TransformErrors.
func (t *Table) SetValues(rec Record) {
	clear(t.values)
	for _, c := range t.cols {
		v := t.extract(c, rec)
		if v == nil && c.Default != nil {
			v = c.Default
		}
		if c.transform != nil {
			out, err := c.transform(v)
			if err != nil {
				t.transformErrors++
				out = nil
			}
			v = out
		}
		t.values[c.Bind] = v
	}
}

func (t *Table) extract(c *Column, rec Record) any {
	switch {
	case c.Source == WholeRecord:
		return rec
	case len(c.Sources) > 0:
		parts := make([]any, len(c.Sources))
		present := false
		for i, s := range c.Sources {
			if v, ok := rec.Get(s); ok {
				parts[i] = t.nullify(v)
				present = present || parts[i] != nil
			}
		}
		if !present {
			return nil
		}
		return parts
	default:
		v, ok := rec.Get(c.Source)
		if !ok {
			return nil
		}
		return t.nullify(v)
	}
}

func (t *Table) nullify(v any) any {
	if s, ok := v.(string); ok {
		if _, isNull := t.nullStrings[s]; isNull {
			return nil
		}
	}
	return v
}

// Value returns the current value for a bind name.
func (t *Table) Value(bind string) any { return t.values[bind] }

// Values returns a copy of the current row keyed by bind name.
func (t *Table) Values() map[string]any { return maps.Clone(t.values) }

// BindParams binds the current row for op in the connection's style: a
// positional list aligned to placeholder order, or a name→value map.
func (t *Table) BindParams(op Operation) (paramstyle.Params, error) {
	st, err := t.Statement(op)
	if err != nil {
		return paramstyle.Params{}, err
	}
	return t.Bind(st), nil
}

// Bind binds the current row against an already generated statement.
func (t *Table) Bind(st *Statement) paramstyle.Params {
	return paramstyle.Bind(st.Style, st.Names, t.Value)
}

// RowValues returns the current row in column order, for bulk formats.
func (t *Table) RowValues() []any {
	out := make([]any, len(t.cols))
	for i, c := range t.cols {
		out[i] = t.values[c.Bind]
	}
	return out
}

// ReqsMet reports whether every required column has a value.
func (t *Table) ReqsMet() bool { return len(t.ReqsMissing()) == 0 }

// ReqsMissing lists bind names of required columns without a value, in
// column order. Columns filled by a server expression are never missing.
func (t *Table) ReqsMissing() []string {
	if d := t.Dialect(); d != t.checkedFor {
		t.refreshChecked(d)
	}
	var out []string
	for _, c := range t.checked {
		if t.values[c.Bind] == nil {
			out = append(out, c.Bind)
		}
	}
	return out
}

// HasAllKeys reports whether every key column has a value.
func (t *Table) HasAllKeys() bool { return len(t.KeysMissing()) == 0 }

// KeysMissing lists bind names of key columns without a value.
func (t *Table) KeysMissing() []string {
	var out []string
	for _, c := range t.keys {
		if t.values[c.Bind] == nil {
			out = append(out, c.Bind)
		}
	}
	return out
}

// CalcUpdateExcludes keeps UPDATE and MERGE from overwriting columns the
// source cannot supply. Given the field names a source provides, every
// non-key column with no source among them is excluded. Cached update and
// merge statements are dropped. The excluded bind names are returned.
func (t *Table) CalcUpdateExcludes(fields []string) []string {
	have := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		have[f] = struct{}{}
	}
	d := t.Dialect()

	t.excludes = make(map[string]struct{})
	var out []string
	for _, c := range t.cols {
		if c.PrimaryKey || c.Source == WholeRecord || c.Literal(d) || c.Default != nil {
			continue
		}
		if hasAnySource(c, have) {
			continue
		}
		t.excludes[c.Bind] = struct{}{}
		out = append(out, c.Bind)
	}
	t.cache[Update] = nil
	t.cache[Merge] = nil
	return out
}

func hasAnySource(c *Column, have map[string]struct{}) bool {
	if len(c.Sources) > 0 {
		for _, s := range c.Sources {
			if _, ok := have[s]; ok {
				return true
			}
		}
		return false
	}
	_, ok := have[c.Source]
	return ok
}
