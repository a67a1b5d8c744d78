package source

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode/utf8"

	"surge/internal/row"
	"surge/internal/table"
)

// NewCSV reads the header (unless disabled) and returns a Reader over the
// remaining lines. Without a header, fields are cfg.Columns, or col1..colN
// sized by the first line.
func NewCSV(rd io.Reader, cfg Config) (*Reader, error) {
	cr := csv.NewReader(rd)
	cr.ReuseRecord = true
	cr.LazyQuotes = cfg.LazyQuotes
	cr.FieldsPerRecord = -1
	if cfg.Comma != "" {
		c, _ := utf8.DecodeRuneInString(cfg.Comma)
		cr.Comma = c
	}
	trim := cfg.trimSpace()

	var (
		names   []string
		pending []string
		line    int
	)
	switch {
	case cfg.hasHeader():
		hdr, err := cr.Read()
		line++
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("source: csv header: %w", err)
		}
		names = make([]string, len(hdr))
		for i, h := range hdr {
			h = strings.TrimSpace(h)
			if i == 0 {
				h = strings.TrimPrefix(h, "\uFEFF")
			}
			names[i] = cfg.rename(h)
		}
	case len(cfg.Columns) > 0:
		for _, c := range cfg.Columns {
			names = append(names, cfg.rename(c))
		}
	default:
		first, err := cr.Read()
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("source: csv line 1: %w", err)
		}
		pending = append([]string(nil), first...)
		for i := range first {
			names = append(names, cfg.rename("col"+strconv.Itoa(i+1)))
		}
	}
	schema := row.SchemaFor(names)

	toRow := func(rec []string) *row.Row {
		vals := make([]any, len(rec))
		for i, v := range rec {
			if trim {
				v = strings.TrimSpace(v)
			}
			vals[i] = v
		}
		return row.New(schema, vals...)
	}

	records := func(yield func(table.Record, error) bool) {
		if pending != nil {
			line++
			if !yield(toRow(pending), nil) {
				return
			}
			pending = nil
		}
		for {
			rec, err := cr.Read()
			line++
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(nil, fmt.Errorf("source: csv line %d: %w", line, err))
				return
			}
			if !yield(toRow(rec), nil) {
				return
			}
		}
	}
	return &Reader{fields: names, records: records}, nil
}
