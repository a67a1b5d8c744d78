package surge

import (
	"iter"

	"surge/internal/paramstyle"
	"surge/internal/table"
)

// Batch is a run of consecutive valid rows.
type Batch struct {
	// Seq numbers batches from 0.
	Seq int64
	// Params is set when the batcher binds a statement.
	Params []paramstyle.Params
	// Rows is set otherwise: column-ordered values for bulk formats.
	Rows [][]any
}

// Len is the number of rows in b.
func (b Batch) Len() int {
	if b.Params != nil {
		return len(b.Params)
	}
	return len(b.Rows)
}

// Batcher turns records into batches through a Table. Rows missing
// required values are skipped and recorded in Stats.
type Batcher struct {
	table *table.Table
	stmt  *table.Statement
	size  int
	// Stats is updated as batches are pulled.
	Stats  *Stats
	sample int
}

// NewBatcher binds each valid row against stmt, or collects RowValues when
// stmt is nil. Size and sample default like Options.
func NewBatcher(t *table.Table, stmt *table.Statement, size, sample int, stats *Stats) *Batcher {
	if size <= 0 {
		size = DefaultBatchSize
	}
	if sample <= 0 {
		sample = DefaultSampleSize
	}
	if stats == nil {
		stats = &Stats{}
	}
	return &Batcher{table: t, stmt: stmt, size: size, sample: sample, Stats: stats}
}

// Batches lazily pulls src and yields full batches, then the final partial
// one. A source error is yielded once and ends the sequence. Stopping the
// iteration stops pulling src.
func (b *Batcher) Batches(src iter.Seq2[table.Record, error]) iter.Seq2[Batch, error] {
	return func(yield func(Batch, error) bool) {
		var (
			seq int64
			cur = b.newBatch(seq)
		)
		for rec, err := range src {
			if err != nil {
				yield(Batch{}, err)
				return
			}
			idx := b.Stats.Read
			b.Stats.Read++

			b.table.SetValues(rec)
			if missing := b.table.ReqsMissing(); len(missing) > 0 {
				b.Stats.skip(missing, idx, b.sample)
				continue
			}
			b.add(&cur)
			if cur.Len() >= b.size {
				if !yield(cur, nil) {
					return
				}
				seq++
				cur = b.newBatch(seq)
			}
		}
		if cur.Len() > 0 {
			yield(cur, nil)
		}
	}
}

func (b *Batcher) newBatch(seq int64) Batch {
	if b.stmt != nil {
		return Batch{Seq: seq, Params: make([]paramstyle.Params, 0, b.size)}
	}
	return Batch{Seq: seq, Rows: make([][]any, 0, b.size)}
}

func (b *Batcher) add(cur *Batch) {
	if b.stmt != nil {
		cur.Params = append(cur.Params, b.table.Bind(b.stmt))
		return
	}
	cur.Rows = append(cur.Rows, b.table.RowValues())
}

// Records adapts a slice to a record sequence.
func Records[R table.Record](recs []R) iter.Seq2[table.Record, error] {
	return func(yield func(table.Record, error) bool) {
		for _, r := range recs {
			if !yield(r, nil) {
				return
			}
		}
	}
}
