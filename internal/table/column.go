package table

import (
	"strings"

	"surge/internal/dialect"
	"surge/internal/transform"
)

// ColumnSpec declares one destination column.
type ColumnSpec struct {
	// Name is the destination column name.
	Name string `yaml:"name" json:"name"`
	// Source is the record field to read; defaults to Name. WholeRecord
	// passes the record itself.
	Source string `yaml:"source,omitempty" json:"source,omitempty"`
	// Sources reads several fields into a []any, for transforms such as
	// "join" or "first".
	Sources []string `yaml:"sources,omitempty" json:"sources,omitempty"`
	// Transforms are registry specs applied in order.
	Transforms []string `yaml:"transforms,omitempty" json:"transforms,omitempty"`
	// Default replaces an absent value before transforms run.
	Default any `yaml:"default,omitempty" json:"default,omitempty"`
	// SQL overrides the bind placeholder per dialect. A value containing
	// "#" has it replaced by the placeholder; a bare function name wraps
	// the placeholder; anything else is a literal server expression.
	SQL map[dialect.Dialect]string `yaml:"sql,omitempty" json:"sql,omitempty"`

	PrimaryKey bool  `yaml:"primary_key,omitempty" json:"primary_key,omitempty"`
	Required   bool  `yaml:"required,omitempty" json:"required,omitempty"`
	Nullable   *bool `yaml:"nullable,omitempty" json:"nullable,omitempty"`
	NoUpdate   bool  `yaml:"no_update,omitempty" json:"no_update,omitempty"`
}

// Column is a resolved ColumnSpec.
type Column struct {
	ColumnSpec
	// Bind is the placeholder name, unique within the table.
	Bind string

	transform transform.Func
}

func newColumn(spec ColumnSpec, reg *transform.Registry) (*Column, error) {
	c := &Column{ColumnSpec: spec}
	if c.Source == "" && len(c.Sources) == 0 {
		c.Source = c.Name
	}
	fn, err := reg.ResolveChain(spec.Transforms)
	if err != nil {
		return nil, err
	}
	c.transform = fn
	return c, nil
}

// isRequired covers explicit required flags, keys and NOT NULL columns
// whose value comes from a bind parameter.
func (c *Column) isRequired() bool {
	if c.PrimaryKey || c.Required {
		return true
	}
	return c.Nullable != nil && !*c.Nullable && c.Default == nil
}

// HasOverride reports whether d has a SQL expression for this column.
func (c *Column) HasOverride(d dialect.Dialect) bool {
	return c.SQL[d] != ""
}

// Literal reports whether the column's value for d is a server expression
// that takes no bind parameter.
func (c *Column) Literal(d dialect.Dialect) bool {
	_, binds := c.valueExpr(d)
	return !binds
}

// serverLiterals are bare words that are expressions, not function names.
var serverLiterals = map[string]struct{}{
	"CURRENT_TIMESTAMP": {}, "CURRENT_DATE": {}, "CURRENT_TIME": {},
	"LOCALTIMESTAMP": {}, "LOCALTIME": {}, "SYSDATE": {}, "SYSTIMESTAMP": {},
	"CURRENT_USER": {}, "USER": {}, "NULL": {}, "DEFAULT": {},
	"TRUE": {}, "FALSE": {},
}

// valueExpr returns the SQL that supplies this column's value in canonical
// ":bind" form, and whether it references the bind parameter.
func (c *Column) valueExpr(d dialect.Dialect) (string, bool) {
	ph := ":" + c.Bind
	o := strings.TrimSpace(c.SQL[d])
	switch {
	case o == "":
		return ph, true
	case strings.Contains(o, "#"):
		return strings.ReplaceAll(o, "#", ph), true
	case isFuncName(o):
		return o + "(" + ph + ")", true
	default:
		return o, false
	}
}

func isFuncName(s string) bool {
	if _, lit := serverLiterals[strings.ToUpper(s)]; lit {
		return false
	}
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && (r == '_' || r == '.' || (r >= '0' && r <= '9')):
		default:
			return false
		}
	}
	return true
}
