package source

import (
	"errors"
	"fmt"
	"io"
	"slices"

	"github.com/goccy/go-json"

	"surge/internal/row"
	"surge/internal/table"
)

// NewJSONLines reads a stream of JSON values: objects one per line
// (NDJSON), or arrays of objects. Each object becomes a row whose fields
// are its keys in sorted order. Numbers decode as json.Number.
func NewJSONLines(rd io.Reader, cfg Config) (*Reader, error) {
	dec := json.NewDecoder(rd)
	dec.UseNumber()

	// Buffer the first value so Fields is known before iteration.
	var first any
	err := dec.Decode(&first)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("source: json value 1: %w", err)
	}
	eof := errors.Is(err, io.EOF)

	var fields []string
	if obj := firstObject(first); obj != nil {
		fields = keys(obj, cfg)
	}

	records := func(yield func(table.Record, error) bool) {
		if eof {
			return
		}
		n := 1
		v := first
		for {
			if !emit(v, n, cfg, yield) {
				return
			}
			v = nil
			n++
			if err := dec.Decode(&v); err != nil {
				if !errors.Is(err, io.EOF) {
					yield(nil, fmt.Errorf("source: json value %d: %w", n, err))
				}
				return
			}
		}
	}
	return &Reader{fields: fields, records: records}, nil
}

// emit yields the objects in v and reports whether to continue.
func emit(v any, n int, cfg Config, yield func(table.Record, error) bool) bool {
	switch x := v.(type) {
	case map[string]any:
		return yield(objectRow(x, cfg), nil)
	case []any:
		for i, e := range x {
			obj, ok := e.(map[string]any)
			if !ok {
				return yield(nil, fmt.Errorf("source: json value %d element %d: not an object", n, i))
			}
			if !yield(objectRow(obj, cfg), nil) {
				return false
			}
		}
		return true
	case nil:
		return true
	default:
		return yield(nil, fmt.Errorf("source: json value %d: %T is not an object", n, v))
	}
}

func firstObject(v any) map[string]any {
	switch x := v.(type) {
	case map[string]any:
		return x
	case []any:
		if len(x) > 0 {
			obj, _ := x[0].(map[string]any)
			return obj
		}
	}
	return nil
}

func keys(obj map[string]any, cfg Config) []string {
	names := make([]string, 0, len(obj))
	for k := range obj {
		names = append(names, k)
	}
	slices.Sort(names)
	for i, k := range names {
		names[i] = cfg.rename(k)
	}
	return names
}

func objectRow(obj map[string]any, cfg Config) *row.Row {
	orig := make([]string, 0, len(obj))
	for k := range obj {
		orig = append(orig, k)
	}
	slices.Sort(orig)
	names := make([]string, len(orig))
	vals := make([]any, len(orig))
	for i, k := range orig {
		names[i] = cfg.rename(k)
		vals[i] = obj[k]
	}
	return row.New(row.SchemaFor(names), vals...)
}
