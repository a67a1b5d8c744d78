package surge

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"surge/internal/metrics"
	"surge/internal/paramstyle"
	"surge/internal/storage"
	"surge/internal/table"
)

// ErrNoTransactions is returned when a transaction is needed but the
// connection cannot begin one.
var ErrNoTransactions = errors.New("surge: connection does not support transactions")

// ErrNotLoadable is returned for operations that do not write rows.
var ErrNotLoadable = errors.New("surge: operation does not load rows")

// Loader executes batches with the connection's execute-many call.
type Loader struct {
	conn  storage.Conn
	table *table.Table
	opts  Options
	log   *zap.Logger
}

// NewLoader binds t to conn. t should describe conn (same dialect and
// placeholder style).
func NewLoader(conn storage.Conn, t *table.Table, opts Options) *Loader {
	opts = opts.withDefaults()
	return &Loader{conn: conn, table: t, opts: opts, log: opts.Logger}
}

// Table returns the loader's table.
func (l *Loader) Table() *table.Table { return l.table }

// Load runs op (insert, update, delete or merge) for every valid record of
// src. Rows missing required values are skipped and grouped by reason.
// Failed batches stop the load or are counted, per Options.RaiseOnError.
func (l *Loader) Load(ctx context.Context, op table.Operation, src iter.Seq2[table.Record, error]) (stats Stats, err error) {
	start := time.Now()
	defer func() {
		stats.Duration = time.Since(start)
		record(l.opts.Job, "executemany", op.String(), stats, err)
	}()

	if op == table.Select {
		return stats, fmt.Errorf("%w: %s", ErrNotLoadable, op)
	}

	conn := l.conn
	if l.opts.Transaction {
		tx, berr := begin(ctx, conn)
		if berr != nil {
			return stats, berr
		}
		conn = tx
		defer func() { err = finish(ctx, tx, err) }()
	}

	if op == table.Merge && l.strategy() == MergeTemp {
		err = l.loadTemp(ctx, conn, src, &stats)
		return stats, err
	}

	st, err := l.table.Statement(op)
	if err != nil {
		return stats, err
	}
	err = l.drain(ctx, op, st, src, &stats, func(ctx context.Context, b Batch) (int64, error) {
		return conn.ExecMany(ctx, st.SQL, b.Params)
	})
	return stats, err
}

func (l *Loader) strategy() MergeStrategy {
	switch l.opts.MergeStrategy {
	case MergeUpsert, MergeTemp:
		return l.opts.MergeStrategy
	}
	if l.table.ShouldUseUpsert() {
		return MergeUpsert
	}
	return MergeTemp
}

type batchFunc func(ctx context.Context, b Batch) (int64, error)

func (l *Loader) drain(ctx context.Context, op table.Operation, st *table.Statement, src iter.Seq2[table.Record, error], stats *Stats, run batchFunc) error {
	var (
		b          = NewBatcher(l.table, st, l.opts.BatchSize, l.opts.SampleSize, stats)
		start      = time.Now()
		lastFlush  = start
		lastLoaded int64
	)
	for batch, err := range b.Batches(src) {
		if err != nil {
			return fmt.Errorf("surge: read source: %w", err)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		n := int64(batch.Len())
		affected, err := run(ctx, batch)
		if err != nil {
			stats.Errored += n
			if l.opts.RaiseOnError {
				return fmt.Errorf("surge: %s batch %d: %w", op, batch.Seq, err)
			}
			l.log.Warn("batch failed",
				zap.Stringer("op", op),
				zap.Int64("batch", batch.Seq),
				zap.Int64("rows", n),
				zap.Error(err),
			)
			continue
		}
		stats.Loaded += n
		stats.Affected += affected
		stats.Batches++
		l.table.AddCount(op, n)

		now := time.Now()
		since := now.Sub(lastFlush)
		rps := float64(0)
		if since > 0 {
			rps = float64(stats.Loaded-lastLoaded) / since.Seconds()
		}
		l.log.Debug("batch loaded",
			zap.Stringer("op", op),
			zap.Int64("batch", batch.Seq),
			zap.Int64("rows", n),
			zap.Int64("total", stats.Loaded),
			zap.Float64("rps", rps),
			zap.Duration("elapsed", now.Sub(start).Truncate(time.Millisecond)),
		)
		lastFlush, lastLoaded = now, stats.Loaded
	}
	return nil
}

var tempSeq atomic.Int64

// loadTemp merges each batch through a staging table: create, insert the
// batch, MERGE ... USING the staging table, drop. Temp tables are session
// scoped, so every batch runs inside a transaction to pin one connection:
// the load's own when conn is a Tx, otherwise one per batch.
func (l *Loader) loadTemp(ctx context.Context, conn storage.Conn, src iter.Seq2[table.Record, error], stats *Stats) error {
	d := l.table.Dialect()
	suffix := strconv.Itoa(os.Getpid()) + "_" + strconv.FormatInt(tempSeq.Add(1), 10)
	tmp := d.TempTableName(l.table.Name(), suffix)

	ins, err := l.table.InsertInto(tmp)
	if err != nil {
		return err
	}
	merge, err := l.table.MergeUsing(tmp)
	if err != nil {
		return err
	}
	return l.drain(ctx, table.Merge, ins, src, stats, func(ctx context.Context, b Batch) (n int64, err error) {
		if _, inTx := conn.(storage.Tx); inTx {
			return l.stage(ctx, conn, tmp, ins, merge, b)
		}
		tx, err := begin(ctx, conn)
		if err != nil {
			return 0, err
		}
		defer func() { err = finish(ctx, tx, err) }()
		return l.stage(ctx, tx, tmp, ins, merge, b)
	})
}

func (l *Loader) stage(ctx context.Context, conn storage.Conn, tmp string, ins, merge *table.Statement, b Batch) (int64, error) {
	d := l.table.Dialect()
	create := d.CreateTempTableSQL(tmp, l.table.Name(), l.table.ColumnNames())
	if _, err := conn.Exec(ctx, create, paramstyle.Params{}); err != nil {
		return 0, fmt.Errorf("create %s: %w", tmp, err)
	}
	defer l.dropTemp(ctx, conn, tmp)

	if _, err := conn.ExecMany(ctx, ins.SQL, b.Params); err != nil {
		return 0, fmt.Errorf("stage into %s: %w", tmp, err)
	}
	n, err := conn.Exec(ctx, merge.SQL, paramstyle.Params{})
	if err != nil {
		return 0, fmt.Errorf("merge from %s: %w", tmp, err)
	}
	return n, nil
}

// dropTemp never fails the batch; a leftover temp table only lives as long
// as the session.
func (l *Loader) dropTemp(ctx context.Context, conn storage.Conn, tmp string) {
	ctx = context.WithoutCancel(ctx)
	for _, q := range l.table.Dialect().DropTempTableSQL(tmp) {
		if _, err := conn.Exec(ctx, q, paramstyle.Params{}); err != nil {
			l.log.Warn("drop temp table failed",
				zap.String("table", tmp),
				zap.String("sql", q),
				zap.Error(err),
			)
			return
		}
	}
}

func begin(ctx context.Context, conn storage.Conn) (storage.Tx, error) {
	tb, ok := conn.(storage.TxBeginner)
	if !ok {
		return nil, ErrNoTransactions
	}
	tx, err := tb.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("surge: begin: %w", err)
	}
	return tx, nil
}

// finish commits tx when err is nil and rolls it back otherwise.
func finish(ctx context.Context, tx storage.Tx, err error) error {
	if err != nil {
		if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil {
			err = multierr.Append(err, fmt.Errorf("surge: rollback: %w", rbErr))
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("surge: commit: %w", err)
	}
	return nil
}

func record(job, mode, op string, s Stats, err error) {
	metrics.RecordLoad(job, mode, op, err, s.Duration)
	metrics.RecordRows(job, metrics.KindRead, s.Read)
	metrics.RecordRows(job, metrics.KindLoaded, s.Loaded)
	metrics.RecordRows(job, metrics.KindSkipped, s.Skipped)
	metrics.RecordRows(job, metrics.KindErrored, s.Errored)
	metrics.RecordBatches(job, s.Batches)
}
