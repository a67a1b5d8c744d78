// Package table models a destination table for a load: which columns it
// has, where each column's value comes from in a source record, how that
// value is cleaned, and which SQL each operation runs.
//
// A Table is bound to a Describer (normally the connection) that reports
// the dialect and placeholder style. Generated SQL is cached per operation
// and rebuilt when either of them changes.
//
// Tables hold the current row's values and are not safe for concurrent use.
package table

import (
	"errors"
	"fmt"
	"strconv"

	"surge/internal/dialect"
	"surge/internal/paramstyle"
	"surge/internal/transform"
)

// Operation is a statement kind the table can generate.
type Operation int

const (
	Insert Operation = iota
	Select
	Update
	Delete
	Merge
	numOps
)

var opNames = [...]string{"insert", "select", "update", "delete", "merge"}

func (op Operation) String() string {
	if op >= 0 && op < numOps {
		return opNames[op]
	}
	return "op(" + strconv.Itoa(int(op)) + ")"
}

// ParseOperation maps "insert", "select", ... to an Operation.
func ParseOperation(s string) (Operation, error) {
	for i, n := range opNames {
		if n == s {
			return Operation(i), nil
		}
	}
	return 0, fmt.Errorf("table: unknown operation %q", s)
}

// NeedsKeys reports whether op filters on key columns.
func (op Operation) NeedsKeys() bool { return op != Insert }

// WholeRecord as a column Source passes the entire source record to the
// column's transforms.
const WholeRecord = "*"

var (
	// ErrNoKeys is returned for select/update/delete/merge on a table with
	// no primary-key columns.
	ErrNoKeys = errors.New("table: operation requires key columns")
	// ErrNoColumns is returned when a table is declared without columns.
	ErrNoColumns = errors.New("table: no columns")
	// ErrNothingToUpdate is returned when every non-key column is excluded
	// from UPDATE.
	ErrNothingToUpdate = errors.New("table: no updatable columns")
)

// Describer reports the dialect and placeholder style of a connection.
type Describer interface {
	Dialect() dialect.Dialect
	ParamStyle() paramstyle.Style
}

// Record is a source record.
type Record interface {
	Get(key string) (any, bool)
}

// MapRecord adapts a plain map to Record.
type MapRecord map[string]any

// Get implements Record.
func (m MapRecord) Get(key string) (any, bool) {
	v, ok := m[key]
	return v, ok
}

// DefaultNullStrings are source strings treated as absent.
var DefaultNullStrings = []string{"", "NULL", "null", "None", `\N`}

// Option customizes New.
type Option func(*Table)

// WithRegistry resolves transforms from reg instead of transform.Default().
func WithRegistry(reg *transform.Registry) Option {
	return func(t *Table) { t.registry = reg }
}

// WithNullStrings replaces DefaultNullStrings.
func WithNullStrings(ss ...string) Option {
	return func(t *Table) {
		t.nullStrings = make(map[string]struct{}, len(ss))
		for _, s := range ss {
			t.nullStrings[s] = struct{}{}
		}
	}
}

// Table is a destination table bound to a connection description.
type Table struct {
	name     string
	desc     Describer
	cols     []*Column
	byBind   map[string]*Column
	keys     []*Column
	required []*Column

	registry    *transform.Registry
	nullStrings map[string]struct{}
	excludes    map[string]struct{}

	cache    [numOps]*Statement
	cacheKey cacheKey

	// checked are the required columns that take a bind value under
	// checkedFor; server expressions are never missing.
	checked    []*Column
	checkedFor dialect.Dialect

	values          map[string]any
	counts          [numOps]int64
	transformErrors int64
}

// New validates specs and builds a Table. Transform specs are resolved here
// so unknown names fail fast.
func New(name string, specs []ColumnSpec, desc Describer, opts ...Option) (*Table, error) {
	if err := ValidateIdentifier(name); err != nil {
		return nil, err
	}
	if len(specs) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoColumns, name)
	}
	if desc == nil {
		return nil, fmt.Errorf("table %s: nil describer", name)
	}
	if !desc.Dialect().Valid() {
		return nil, fmt.Errorf("table %s: %w: %q", name, dialect.ErrUnknown, desc.Dialect())
	}

	t := &Table{
		name:     name,
		desc:     desc,
		byBind:   make(map[string]*Column, len(specs)),
		registry: transform.Default(),
		values:   make(map[string]any, len(specs)),
	}
	WithNullStrings(DefaultNullStrings...)(t)
	for _, o := range opts {
		o(t)
	}

	seen := make(map[string]struct{}, len(specs))
	for _, spec := range specs {
		if err := ValidateIdentifier(spec.Name); err != nil {
			return nil, fmt.Errorf("table %s: column: %w", name, err)
		}
		if _, dup := seen[spec.Name]; dup {
			return nil, fmt.Errorf("table %s: duplicate column %q", name, spec.Name)
		}
		seen[spec.Name] = struct{}{}

		c, err := newColumn(spec, t.registry)
		if err != nil {
			return nil, fmt.Errorf("table %s: column %s: %w", name, spec.Name, err)
		}
		c.Bind = t.uniqueBind(BindName(spec.Name))
		t.byBind[c.Bind] = c
		t.cols = append(t.cols, c)
		if c.PrimaryKey {
			t.keys = append(t.keys, c)
		}
	}
	for _, c := range t.cols {
		if c.isRequired() {
			t.required = append(t.required, c)
		}
	}
	t.refreshChecked(desc.Dialect())
	return t, nil
}

func (t *Table) refreshChecked(d dialect.Dialect) {
	t.checked = t.checked[:0]
	for _, c := range t.required {
		if !c.Literal(d) {
			t.checked = append(t.checked, c)
		}
	}
	t.checkedFor = d
}

func (t *Table) uniqueBind(base string) string {
	cand := base
	for k := 2; ; k++ {
		if _, taken := t.byBind[cand]; !taken {
			return cand
		}
		cand = base + "_" + strconv.Itoa(k)
	}
}

// Name is the (possibly dotted) table name.
func (t *Table) Name() string { return t.name }

// Dialect is the dialect of the bound connection.
func (t *Table) Dialect() dialect.Dialect { return t.desc.Dialect() }

// Columns returns the column definitions in declaration order.
func (t *Table) Columns() []*Column { return t.cols }

// ColumnNames lists column names in declaration order.
func (t *Table) ColumnNames() []string {
	out := make([]string, len(t.cols))
	for i, c := range t.cols {
		out[i] = c.Name
	}
	return out
}

// Column looks a column up by bind name.
func (t *Table) Column(bind string) (*Column, bool) {
	c, ok := t.byBind[bind]
	return c, ok
}

// KeyNames lists primary-key column names.
func (t *Table) KeyNames() []string {
	out := make([]string, len(t.keys))
	for i, c := range t.keys {
		out[i] = c.Name
	}
	return out
}

// HasSQLOverrides reports whether any column replaces its bind placeholder
// with a SQL expression for the current dialect.
func (t *Table) HasSQLOverrides() bool {
	d := t.Dialect()
	for _, c := range t.cols {
		if c.HasOverride(d) {
			return true
		}
	}
	return false
}

// ShouldUseUpsert reports whether Merge renders native upsert syntax.
func (t *Table) ShouldUseUpsert() bool { return t.Dialect().ShouldUseUpsert() }

// AddCount adds n executed rows to op's counter.
func (t *Table) AddCount(op Operation, n int64) {
	if op >= 0 && op < numOps {
		t.counts[op] += n
	}
}

// Count returns op's execution counter.
func (t *Table) Count(op Operation) int64 {
	if op >= 0 && op < numOps {
		return t.counts[op]
	}
	return 0
}

// Counts returns every non-zero counter.
func (t *Table) Counts() map[Operation]int64 {
	out := make(map[Operation]int64)
	for op, n := range t.counts {
		if n != 0 {
			out[Operation(op)] = n
		}
	}
	return out
}

// TransformErrors counts values a transform could not convert.
func (t *Table) TransformErrors() int64 { return t.transformErrors }
