// Package source reads record streams for loading. Every record is a
// *row.Row whose schema comes from the shared row registry, so records of
// the same shape share one schema.
package source

import (
	"fmt"
	"io"
	"iter"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"go.uber.org/multierr"

	"surge/internal/table"
)

// Kinds understood by Open.
const (
	KindCSV   = "csv"
	KindJSONL = "jsonl"
)

// Config describes a file source.
type Config struct {
	// Kind is csv or jsonl; empty derives it from the file extension.
	Kind string `yaml:"kind" json:"kind"`
	Path string `yaml:"path" json:"path"`

	// CSV options.
	Comma      string   `yaml:"comma,omitempty" json:"comma,omitempty"`
	HasHeader  *bool    `yaml:"has_header,omitempty" json:"has_header,omitempty"`
	TrimSpace  *bool    `yaml:"trim_space,omitempty" json:"trim_space,omitempty"`
	LazyQuotes bool     `yaml:"lazy_quotes,omitempty" json:"lazy_quotes,omitempty"`
	Columns    []string `yaml:"columns,omitempty" json:"columns,omitempty"`

	// HeaderMap renames source fields before they reach the table.
	HeaderMap map[string]string `yaml:"header_map,omitempty" json:"header_map,omitempty"`
}

func (c Config) hasHeader() bool { return c.HasHeader == nil || *c.HasHeader }
func (c Config) trimSpace() bool { return c.TrimSpace == nil || *c.TrimSpace }

func (c Config) rename(name string) string {
	if m, ok := c.HeaderMap[name]; ok && m != "" {
		return m
	}
	return name
}

// Reader is an open source.
type Reader struct {
	fields  []string
	records iter.Seq2[table.Record, error]
	closers []io.Closer
}

// Fields lists the source field names known up front: the CSV header or
// the keys of the first JSON record.
func (r *Reader) Fields() []string { return r.fields }

// Records is the record stream. It can be ranged over once.
func (r *Reader) Records() iter.Seq2[table.Record, error] { return r.records }

// Close releases the underlying file.
func (r *Reader) Close() error {
	var err error
	for i := len(r.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, r.closers[i].Close())
	}
	r.closers = nil
	return err
}

// Kind returns cfg.Kind, or the kind implied by the path extension
// (compression suffixes are ignored).
func Kind(cfg Config) (string, error) {
	if cfg.Kind != "" {
		switch k := strings.ToLower(cfg.Kind); k {
		case KindCSV, KindJSONL:
			return k, nil
		case "ndjson", "json":
			return KindJSONL, nil
		}
		return "", fmt.Errorf("source: unsupported kind %q", cfg.Kind)
	}
	p := strings.ToLower(cfg.Path)
	for _, ext := range []string{".gz", ".zst", ".zstd", ".lz4"} {
		p = strings.TrimSuffix(p, ext)
	}
	switch filepath.Ext(p) {
	case ".csv", ".tsv", ".txt":
		return KindCSV, nil
	case ".jsonl", ".ndjson", ".json":
		return KindJSONL, nil
	}
	return "", fmt.Errorf("source: cannot infer kind of %q", cfg.Path)
}

// Open opens cfg.Path, decompressing .gz, .zst and .lz4 files.
func Open(cfg Config) (*Reader, error) {
	kind, err := Kind(cfg)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("source: %w", err)
	}
	closers := []io.Closer{f}
	var rd io.Reader = f

	switch strings.ToLower(filepath.Ext(cfg.Path)) {
	case ".gz":
		zr, err := gzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("source: gzip %s: %w", cfg.Path, err)
		}
		rd, closers = zr, append(closers, zr)
	case ".zst", ".zstd":
		zr, err := zstd.NewReader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("source: zstd %s: %w", cfg.Path, err)
		}
		rd, closers = zr, append(closers, zr.IOReadCloser())
	case ".lz4":
		rd = lz4.NewReader(f)
	}

	var r *Reader
	if kind == KindCSV {
		r, err = NewCSV(rd, cfg)
	} else {
		r, err = NewJSONLines(rd, cfg)
	}
	if err != nil {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i].Close()
		}
		return nil, err
	}
	r.closers = closers
	return r, nil
}
