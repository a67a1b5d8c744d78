package surge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"surge/internal/dialect"
	"surge/internal/storage"
	"surge/internal/table"
)

// ErrSQLOverrides is returned when a bulk path meets columns whose values
// come from SQL expressions, which a raw bulk copy cannot evaluate.
var ErrSQLOverrides = errors.New("surge: table has SQL expression overrides")

// BulkLoader streams rows into the database's native bulk copy.
type BulkLoader struct {
	conn  storage.Conn
	table *table.Table
	opts  Options
	log   *zap.Logger
}

// NewBulkLoader binds t to conn. conn (or the transactions it begins, when
// Options.Transaction is set) must implement storage.BulkCopier for Load;
// Dump needs no connection and accepts a nil conn.
func NewBulkLoader(conn storage.Conn, t *table.Table, opts Options) *BulkLoader {
	opts = opts.withDefaults()
	return &BulkLoader{conn: conn, table: t, opts: opts, log: opts.Logger}
}

func (l *BulkLoader) check(requireCopy bool) error {
	if l.table.HasSQLOverrides() {
		return fmt.Errorf("%w: %s", ErrSQLOverrides, l.table.Name())
	}
	if requireCopy && !l.table.Dialect().SupportsBulkCopy() {
		return fmt.Errorf("%w: dialect %s", storage.ErrBulkUnsupported, l.table.Dialect())
	}
	return nil
}

// Load formats src in a background goroutine and feeds it to a single bulk
// copy call running on the caller's goroutine. A formatting error closes
// the stream, so the copy returns, and is then returned from Load.
func (l *BulkLoader) Load(ctx context.Context, src iter.Seq2[table.Record, error]) (stats Stats, err error) {
	start := time.Now()
	defer func() {
		stats.Duration = time.Since(start)
		record(l.opts.Job, "bulk", table.Insert.String(), stats, err)
	}()

	if err := l.check(true); err != nil {
		return stats, err
	}
	f, _ := l.table.Dialect().BulkFormat()

	conn := l.conn
	if l.opts.Transaction {
		tx, berr := begin(ctx, conn)
		if berr != nil {
			return stats, berr
		}
		conn = tx
		defer func() { err = finish(ctx, tx, err) }()
	}
	copier, ok := conn.(storage.BulkCopier)
	if !ok {
		return stats, fmt.Errorf("%w: %T", storage.ErrBulkUnsupported, conn)
	}

	// ws is written only by the formatter and read after Wait.
	var ws Stats
	pipe := NewPipe(l.opts.QueueSize)
	defer pipe.CloseRead()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (werr error) {
		defer func() { pipe.CloseWithError(werr) }()
		return l.format(gctx, src, pipe, f, &ws)
	})

	n, copyErr := copier.CopyFrom(ctx, l.table.Name(), l.table.ColumnNames(), pipe, f)
	pipe.CloseRead()
	werr := g.Wait()

	stats = ws
	switch {
	case werr != nil && !errors.Is(werr, ErrClosedPipe):
		err = werr
	case copyErr != nil:
		err = fmt.Errorf("surge: bulk copy into %s: %w", l.table.Name(), copyErr)
	case werr != nil:
		err = werr
	}
	if err != nil {
		stats.Errored = stats.Read - stats.Skipped
		return stats, err
	}

	stats.Loaded = n
	stats.Affected = n
	l.table.AddCount(table.Insert, n)
	if rows := stats.Read - stats.Skipped; rows != n {
		l.log.Warn("bulk copy row count differs from rows sent",
			zap.Int64("sent", rows),
			zap.Int64("copied", n),
		)
	}
	return stats, nil
}

// format writes every batch of src to w in f.
func (l *BulkLoader) format(ctx context.Context, src iter.Seq2[table.Record, error], w io.Writer, f dialect.Format, stats *Stats) error {
	b := NewBatcher(l.table, nil, l.opts.BatchSize, l.opts.SampleSize, stats)
	buf := make([]byte, 0, 64<<10)
	for batch, err := range b.Batches(src) {
		if err != nil {
			return fmt.Errorf("surge: read source: %w", err)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		buf = buf[:0]
		for _, r := range batch.Rows {
			buf = f.AppendRecord(buf, r)
		}
		if _, err := w.Write(buf); err != nil {
			return err
		}
		stats.Batches++
		l.log.Debug("batch formatted",
			zap.Int64("batch", batch.Seq),
			zap.Int("rows", len(batch.Rows)),
			zap.Int("bytes", len(buf)),
		)
	}
	return nil
}

// Dump writes src to w in the dialect's dump format instead of loading it.
// Rows written count as loaded.
func (l *BulkLoader) Dump(ctx context.Context, src iter.Seq2[table.Record, error], w io.Writer) (stats Stats, err error) {
	start := time.Now()
	defer func() {
		stats.Duration = time.Since(start)
		record(l.opts.Job, "dump", table.Insert.String(), stats, err)
	}()

	if err := l.check(false); err != nil {
		return stats, err
	}
	if err := l.format(ctx, src, w, l.table.Dialect().DumpFormat(), &stats); err != nil {
		stats.Errored = stats.Read - stats.Skipped
		return stats, err
	}
	stats.Loaded = stats.Read - stats.Skipped
	return stats, nil
}
