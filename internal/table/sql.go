package table

import (
	"fmt"
	"strings"

	"surge/internal/dialect"
	"surge/internal/paramstyle"
)

// Statement is generated SQL for one operation.
type Statement struct {
	Op Operation
	// Template is the SQL with canonical ":bind" tokens.
	Template string
	// SQL is Template translated to the connection's placeholder style.
	SQL string
	// Names are the bind names in placeholder order, duplicates included.
	Names []string
	Style paramstyle.Style
}

// cacheKey is what cached statements were generated for.
type cacheKey struct {
	d     dialect.Dialect
	style paramstyle.Style
}

// Statement returns the cached statement for op, generating it on first
// use or after the connection's dialect or placeholder style changed.
func (t *Table) Statement(op Operation) (*Statement, error) {
	if op < 0 || op >= numOps {
		return nil, fmt.Errorf("table %s: unknown operation %d", t.name, int(op))
	}
	key := cacheKey{d: t.desc.Dialect(), style: t.desc.ParamStyle()}
	if key != t.cacheKey {
		t.Invalidate()
		t.cacheKey = key
	}
	style := key.style
	if st := t.cache[op]; st != nil {
		return st, nil
	}

	tpl, err := t.template(op)
	if err != nil {
		return nil, err
	}
	st, err := compile(op, tpl, style)
	if err != nil {
		return nil, fmt.Errorf("table %s: %s: %w", t.name, op, err)
	}
	t.cache[op] = st
	return st, nil
}

// SQL is shorthand for Statement(op).SQL.
func (t *Table) SQL(op Operation) (string, error) {
	st, err := t.Statement(op)
	if err != nil {
		return "", err
	}
	return st.SQL, nil
}

// Invalidate drops every cached statement.
func (t *Table) Invalidate() {
	t.cache = [numOps]*Statement{}
}

// InsertInto returns an INSERT with this table's shape aimed at target,
// used to fill staging tables. It is not cached.
func (t *Table) InsertInto(target string) (*Statement, error) {
	if err := ValidateIdentifier(strings.TrimPrefix(target, "#")); err != nil {
		return nil, err
	}
	return compile(Insert, t.insertTemplate(target), t.desc.ParamStyle())
}

// MergeUsing returns a statement merging every row of the table source
// into this table. It binds nothing. Dialects with native upsert get
// INSERT ... SELECT with the upsert clause, the others a MERGE.
func (t *Table) MergeUsing(source string) (*Statement, error) {
	if len(t.keys) == 0 {
		return nil, fmt.Errorf("table %s: merge: %w", t.name, ErrNoKeys)
	}
	d := t.Dialect()
	if d.ShouldUseUpsert() {
		names := t.ColumnNames()
		list := strings.Join(names, ", ")
		// SQLite only parses ON CONFLICT after a SELECT that has a WHERE.
		tpl := "INSERT INTO " + t.name + " (" + list + ")\nSELECT " + list + " FROM " + source + " WHERE 1=1\n" +
			d.UpsertClause(t.KeyNames(), t.updateNames())
		return compile(Merge, tpl, t.desc.ParamStyle())
	}
	var b strings.Builder
	b.WriteString("MERGE INTO " + d.Alias(t.name, "t") + " USING " + d.Alias(source, "s") + "\n")
	t.writeMergeBody(&b)
	return compile(Merge, b.String(), t.desc.ParamStyle())
}

func compile(op Operation, tpl string, style paramstyle.Style) (*Statement, error) {
	sql, names, err := paramstyle.Translate(tpl, style)
	if err != nil {
		return nil, err
	}
	return &Statement{Op: op, Template: tpl, SQL: sql, Names: names, Style: style}, nil
}

func (t *Table) template(op Operation) (string, error) {
	if op.NeedsKeys() && len(t.keys) == 0 {
		return "", fmt.Errorf("table %s: %s: %w", t.name, op, ErrNoKeys)
	}
	switch op {
	case Insert:
		return t.insertTemplate(t.name), nil
	case Select:
		return "SELECT " + strings.Join(t.ColumnNames(), ", ") + " FROM " + t.name + t.where(), nil
	case Update:
		set := t.updateColumns()
		if len(set) == 0 {
			return "", fmt.Errorf("table %s: %w", t.name, ErrNothingToUpdate)
		}
		d := t.Dialect()
		parts := make([]string, len(set))
		for i, c := range set {
			expr, _ := c.valueExpr(d)
			parts[i] = c.Name + " = " + expr
		}
		return "UPDATE " + t.name + " SET " + strings.Join(parts, ", ") + t.where(), nil
	case Delete:
		return "DELETE FROM " + t.name + t.where(), nil
	case Merge:
		return t.mergeTemplate(), nil
	}
	return "", fmt.Errorf("table %s: unknown operation %d", t.name, int(op))
}

func (t *Table) insertTemplate(target string) string {
	d := t.Dialect()
	vals := make([]string, len(t.cols))
	for i, c := range t.cols {
		vals[i], _ = c.valueExpr(d)
	}
	return "INSERT INTO " + target + " (" + strings.Join(t.ColumnNames(), ", ") +
		") VALUES (" + strings.Join(vals, ", ") + ")"
}

func (t *Table) where() string {
	parts := make([]string, len(t.keys))
	for i, k := range t.keys {
		parts[i] = k.Name + " = :" + k.Bind
	}
	return " WHERE " + strings.Join(parts, " AND ")
}

// updateColumns are the non-key columns not flagged no_update and not in
// the update-exclude set.
func (t *Table) updateColumns() []*Column {
	var out []*Column
	for _, c := range t.cols {
		if c.PrimaryKey || c.NoUpdate {
			continue
		}
		if _, ex := t.excludes[c.Bind]; ex {
			continue
		}
		out = append(out, c)
	}
	return out
}

func (t *Table) updateNames() []string {
	set := t.updateColumns()
	names := make([]string, len(set))
	for i, c := range set {
		names[i] = c.Name
	}
	return names
}

func (t *Table) mergeTemplate() string {
	d := t.Dialect()
	if d.ShouldUseUpsert() {
		return t.insertTemplate(t.name) + "\n" + d.UpsertClause(t.KeyNames(), t.updateNames())
	}

	sel := make([]string, len(t.cols))
	for i, c := range t.cols {
		expr, _ := c.valueExpr(d)
		sel[i] = expr + " AS " + c.Name
	}
	var b strings.Builder
	b.WriteString("MERGE INTO " + d.Alias(t.name, "t") + " USING ")
	b.WriteString(d.Alias("(SELECT "+strings.Join(sel, ", ")+d.SelectFrom()+")", "s"))
	b.WriteByte('\n')
	t.writeMergeBody(&b)
	return b.String()
}

func (t *Table) writeMergeBody(b *strings.Builder) {
	on := make([]string, len(t.keys))
	for i, k := range t.keys {
		on[i] = "t." + k.Name + " = s." + k.Name
	}
	b.WriteString("ON (" + strings.Join(on, " AND ") + ")\n")

	if set := t.updateColumns(); len(set) > 0 {
		parts := make([]string, len(set))
		for i, c := range set {
			parts[i] = "t." + c.Name + " = s." + c.Name
		}
		b.WriteString("WHEN MATCHED THEN UPDATE SET " + strings.Join(parts, ", ") + "\n")
	}

	names := t.ColumnNames()
	src := make([]string, len(names))
	for i, n := range names {
		src[i] = "s." + n
	}
	b.WriteString("WHEN NOT MATCHED THEN INSERT (" + strings.Join(names, ", ") +
		") VALUES (" + strings.Join(src, ", ") + ")")
	b.WriteString(t.Dialect().Terminator())
}
