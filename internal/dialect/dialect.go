// Package dialect holds the per-database policy the SQL generator and the
// loaders consult: default placeholder style, upsert versus MERGE, temp
// table DDL and the text encoding used by native bulk copy.
package dialect

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"surge/internal/paramstyle"
)

// Dialect names a SQL dialect.
type Dialect string

const (
	Postgres  Dialect = "postgres"
	Oracle    Dialect = "oracle"
	MySQL     Dialect = "mysql"
	SQLServer Dialect = "sqlserver"
	SQLite    Dialect = "sqlite"
)

// ErrUnknown is returned by Parse for names outside the known set.
var ErrUnknown = errors.New("dialect: unknown")

type policy struct {
	style      paramstyle.Style
	upsert     bool
	bulk       bool
	aliasAS    bool   // MERGE target/source aliases use AS
	selectFrom string // FROM clause needed for a bare SELECT
	terminator string // statement terminator required by MERGE
	format     Format
}

var policies = map[Dialect]policy{
	Postgres: {
		style:   paramstyle.Dollar,
		upsert:  true,
		bulk:    true,
		aliasAS: true,
		format: Format{
			Delimiter: ',', Quote: '"', Null: `\N`,
			True: "t", False: "f",
			TimeLayout: "2006-01-02 15:04:05.999999999Z07:00",
		},
	},
	Oracle: {
		style:      paramstyle.Numeric,
		selectFrom: " FROM dual",
	},
	MySQL: {
		style:   paramstyle.QMark,
		upsert:  true,
		bulk:    true,
		aliasAS: true,
		format: Format{
			Delimiter: ',', Quote: '"', Null: `\N`,
			True: "1", False: "0",
			EscapeBackslash: true,
			TimeLayout:      "2006-01-02 15:04:05.999999",
		},
	},
	SQLServer: {
		style:      paramstyle.AtP,
		bulk:       true,
		aliasAS:    true,
		terminator: ";",
		format: Format{
			Delimiter: ',', Quote: '"', Null: `\N`,
			True: "1", False: "0",
			TimeLayout: "2006-01-02 15:04:05.999999999Z07:00",
		},
	},
	SQLite: {
		style:   paramstyle.QMark,
		upsert:  true,
		aliasAS: true,
	},
}

var aliases = map[string]Dialect{
	"postgres":   Postgres,
	"postgresql": Postgres,
	"pg":         Postgres,
	"pgx":        Postgres,
	"oracle":     Oracle,
	"godror":     Oracle,
	"mysql":      MySQL,
	"mariadb":    MySQL,
	"sqlserver":  SQLServer,
	"mssql":      SQLServer,
	"sqlite":     SQLite,
	"sqlite3":    SQLite,
}

// Parse resolves a dialect name or common alias.
func Parse(name string) (Dialect, error) {
	if d, ok := aliases[strings.ToLower(strings.TrimSpace(name))]; ok {
		return d, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknown, name)
}

// All lists the known dialects in sorted order.
func All() []Dialect {
	out := make([]Dialect, 0, len(policies))
	for d := range policies {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Valid reports whether d is a known dialect.
func (d Dialect) Valid() bool {
	_, ok := policies[d]
	return ok
}

func (d Dialect) String() string { return string(d) }

// DefaultStyle is the placeholder style the dialect's Go driver expects.
func (d Dialect) DefaultStyle() paramstyle.Style {
	return policies[d].style
}

// ShouldUseUpsert reports whether merge operations use native upsert
// syntax (INSERT ... ON CONFLICT / ON DUPLICATE KEY) instead of MERGE.
func (d Dialect) ShouldUseUpsert() bool {
	return policies[d].upsert
}

// SupportsBulkCopy reports whether a native streaming bulk path exists.
func (d Dialect) SupportsBulkCopy() bool {
	return policies[d].bulk
}

// BulkFormat returns the text encoding for native bulk copy.
func (d Dialect) BulkFormat() (Format, bool) {
	p := policies[d]
	return p.format, p.bulk
}

// CSV is the plain format used to dump rows for dialects without a bulk
// path.
var CSV = Format{
	Delimiter: ',', Quote: '"', Null: `\N`,
	True: "true", False: "false",
	TimeLayout: "2006-01-02T15:04:05.999999999Z07:00",
}

// DumpFormat is the bulk format when d has one, CSV otherwise.
func (d Dialect) DumpFormat() Format {
	if f, ok := d.BulkFormat(); ok {
		return f
	}
	return CSV
}

// UpsertClause renders the conflict clause appended to an INSERT.
func (d Dialect) UpsertClause(keys, updates []string) string {
	var b strings.Builder
	switch d {
	case MySQL:
		b.WriteString("ON DUPLICATE KEY UPDATE ")
		if len(updates) == 0 {
			b.WriteString(keys[0] + " = " + keys[0])
			return b.String()
		}
		for i, c := range updates {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(c + " = VALUES(" + c + ")")
		}
	default:
		b.WriteString("ON CONFLICT (" + strings.Join(keys, ", ") + ") ")
		if len(updates) == 0 {
			b.WriteString("DO NOTHING")
			return b.String()
		}
		b.WriteString("DO UPDATE SET ")
		for i, c := range updates {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(c + " = EXCLUDED." + c)
		}
	}
	return b.String()
}

// Alias renders "<expr> <alias>" the way MERGE accepts it for d.
func (d Dialect) Alias(expr, alias string) string {
	if policies[d].aliasAS {
		return expr + " AS " + alias
	}
	return expr + " " + alias
}

// SelectFrom is the FROM clause a constant SELECT needs (" FROM dual").
func (d Dialect) SelectFrom() string { return policies[d].selectFrom }

// Terminator is appended to MERGE statements (";" on SQL Server).
func (d Dialect) Terminator() string { return policies[d].terminator }
