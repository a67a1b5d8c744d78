package surge

import (
	"context"
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

// DumpFile dumps src into path, compressed with gzip, zstd or lz4 when path
// ends in .gz, .zst/.zstd or .lz4.
func (l *BulkLoader) DumpFile(ctx context.Context, src iter.Seq2[table.Record, error], path string) (stats Stats, err error) {
	f, err := os.Create(path)
	if err != nil {
		return stats, fmt.Errorf("surge: dump: %w", err)
	}
	defer func() { err = multierr.Append(err, f.Close()) }()

	w, err := compressor(f, path)
	if err != nil {
		return stats, err
	}
	stats, err = l.Dump(ctx, src, w)
	return stats, multierr.Append(err, w.Close())
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

func compressor(w io.Writer, path string) (io.WriteCloser, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".gz":
		return gzip.NewWriter(w), nil
	case ".zst", ".zstd":
		zw, err := zstd.NewWriter(w)
		if err != nil {
			return nil, fmt.Errorf("surge: zstd: %w", err)
		}
		return zw, nil
	case ".lz4":
		return lz4.NewWriter(w), nil
	}
	return nopCloser{w}, nil
}
