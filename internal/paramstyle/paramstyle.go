// Package paramstyle rewrites SQL written with canonical ":name" bind tokens
// into the placeholder style a database driver expects, and binds values in
// the matching positional or named form.
package paramstyle

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Style is a driver placeholder convention.
type Style int

const (
	// QMark is "?".
	QMark Style = iota + 1
	// Numeric is ":1", ":2", ... numbered by occurrence.
	Numeric
	// Named is ":name".
	Named
	// Format is "%s".
	Format
	// PyFormat is "%(name)s".
	PyFormat
	// Dollar is "$1", "$2", ... (pgx).
	Dollar
	// AtP is "@p1", "@p2", ... (go-mssqldb).
	AtP
)

// ErrUnsupportedStyle is returned for a Style outside the known set.
var ErrUnsupportedStyle = errors.New("paramstyle: unsupported style")

var styleNames = map[Style]string{
	QMark:    "qmark",
	Numeric:  "numeric",
	Named:    "named",
	Format:   "format",
	PyFormat: "pyformat",
	Dollar:   "dollar",
	AtP:      "atp",
}

func (s Style) String() string {
	if n, ok := styleNames[s]; ok {
		return n
	}
	return "style(" + strconv.Itoa(int(s)) + ")"
}

// Valid reports whether s is one of the known styles.
func (s Style) Valid() bool {
	_, ok := styleNames[s]
	return ok
}

// Positional reports whether values are bound as an ordered list.
func (s Style) Positional() bool {
	switch s {
	case Named, PyFormat:
		return false
	default:
		return true
	}
}

// ParseStyle maps a DB-API style name to a Style.
func ParseStyle(name string) (Style, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	for s, v := range styleNames {
		if v == n {
			return s, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnsupportedStyle, name)
}

// Translate rewrites every ":name" token in query to style and returns the
// bind names in order of appearance. Repeated names are kept once per
// occurrence so that a positional value list lines up with the placeholders.
//
// Tokens inside quoted strings, quoted identifiers and comments are left
// alone, as are Postgres "::type" casts. For Format and PyFormat every
// literal "%" is doubled, literals and comments included, since those
// drivers interpolate the whole text.
func Translate(query string, style Style) (string, []string, error) {
	if !style.Valid() {
		return "", nil, fmt.Errorf("%w: %d", ErrUnsupportedStyle, int(style))
	}

	var (
		buf   = text{escape: style == Format || style == PyFormat}
		names []string
	)
	buf.Grow(len(query) + 8)

	for i := 0; i < len(query); {
		c := query[i]
		switch {
		case c == '\'' || c == '"' || c == '`':
			j := skipQuoted(query, i, c)
			buf.WriteString(query[i:j])
			i = j
		case c == '-' && i+1 < len(query) && query[i+1] == '-':
			j := strings.IndexAny(query[i:], "\r\n")
			if j < 0 {
				j = len(query) - i
			}
			buf.WriteString(query[i : i+j])
			i += j
		case c == '/' && i+1 < len(query) && query[i+1] == '*':
			j := strings.Index(query[i+2:], "*/")
			end := len(query)
			if j >= 0 {
				end = i + 2 + j + 2
			}
			buf.WriteString(query[i:end])
			i = end
		case c == ':' && i+1 < len(query) && query[i+1] == ':':
			buf.WriteString("::")
			i += 2
		case c == ':' && i+1 < len(query) && isNameStart(query[i+1]) && (i == 0 || query[i-1] != ':'):
			j := i + 2
			for j < len(query) && isNamePart(query[j]) {
				j++
			}
			name := query[i+1 : j]
			names = append(names, name)
			writePlaceholder(&buf.Builder, style, name, len(names))
			i = j
		default:
			buf.WriteByte(c)
			i++
		}
	}
	return buf.String(), names, nil
}

// text writes query text, doubling "%" when escape is set.
type text struct {
	strings.Builder
	escape bool
}

func (t *text) WriteString(s string) (int, error) {
	if !t.escape || !strings.Contains(s, "%") {
		return t.Builder.WriteString(s)
	}
	return t.Builder.WriteString(strings.ReplaceAll(s, "%", "%%"))
}

func (t *text) WriteByte(c byte) error {
	if t.escape && c == '%' {
		t.Builder.WriteString("%%")
		return nil
	}
	return t.Builder.WriteByte(c)
}

// Placeholder renders a single placeholder for name at 1-based position n.
func Placeholder(style Style, name string, n int) string {
	var b strings.Builder
	writePlaceholder(&b, style, name, n)
	return b.String()
}

func writePlaceholder(b *strings.Builder, style Style, name string, n int) {
	switch style {
	case QMark:
		b.WriteByte('?')
	case Numeric:
		b.WriteByte(':')
		b.WriteString(strconv.Itoa(n))
	case Named:
		b.WriteByte(':')
		b.WriteString(name)
	case Format:
		b.WriteString("%s")
	case PyFormat:
		b.WriteString("%(")
		b.WriteString(name)
		b.WriteString(")s")
	case Dollar:
		b.WriteByte('$')
		b.WriteString(strconv.Itoa(n))
	case AtP:
		b.WriteString("@p")
		b.WriteString(strconv.Itoa(n))
	}
}

// skipQuoted returns the index just past the quoted run starting at i.
// A doubled quote character is an escaped quote.
func skipQuoted(s string, i int, q byte) int {
	j := i + 1
	for j < len(s) {
		if s[j] == q {
			if j+1 < len(s) && s[j+1] == q {
				j += 2
				continue
			}
			return j + 1
		}
		j++
	}
	return len(s)
}

func isNameStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isNamePart(c byte) bool {
	return isNameStart(c) || (c >= '0' && c <= '9')
}

// Params holds one row of bound values in either positional or named form.
type Params struct {
	Positional []any
	Named      map[string]any
}

// Len is the number of bound values.
func (p Params) Len() int {
	if p.Named != nil {
		return len(p.Named)
	}
	return len(p.Positional)
}

// Args converts p into database/sql style arguments. Named values become
// sql.NamedArg in map order.
func (p Params) Args() []any {
	if p.Named == nil {
		return p.Positional
	}
	out := make([]any, 0, len(p.Named))
	for k, v := range p.Named {
		out = append(out, sql.Named(k, v))
	}
	return out
}

// Bind builds Params for names using lookup. Positional styles get one value
// per occurrence; named styles get one entry per distinct name.
func Bind(style Style, names []string, lookup func(name string) any) Params {
	if style.Positional() {
		vals := make([]any, len(names))
		for i, n := range names {
			vals[i] = lookup(n)
		}
		return Params{Positional: vals}
	}
	m := make(map[string]any, len(names))
	for _, n := range names {
		if _, ok := m[n]; ok {
			continue
		}
		m[n] = lookup(n)
	}
	return Params{Named: m}
}
