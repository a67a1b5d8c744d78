// Package surge loads record streams into a table.
//
// Three strategies share one batching core: Loader runs batched
// execute-many statements (with native upsert or temp-table MERGE for
// merges), BulkLoader streams the dialect's bulk text format into a single
// native copy call, and Dump writes that same format to a file.
package surge

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"surge/internal/logging"
)

// DefaultBatchSize is used when Options.BatchSize is not positive.
const DefaultBatchSize = 1000

// DefaultSampleSize caps the row indices kept per skip reason.
const DefaultSampleSize = 10

// DefaultQueueSize is the number of formatted batches a bulk load buffers
// ahead of the database.
const DefaultQueueSize = 4

// MergeStrategy selects how merge operations are executed.
type MergeStrategy string

const (
	// MergeAuto uses MergeUpsert on dialects with native upsert and
	// MergeTemp elsewhere.
	MergeAuto MergeStrategy = "auto"
	// MergeUpsert executes the table's merge statement once per row.
	MergeUpsert MergeStrategy = "upsert"
	// MergeTemp stages each batch in a temp table and merges from it.
	MergeTemp MergeStrategy = "temp"
)

// ParseMergeStrategy accepts "", "auto", "upsert" and "temp".
func ParseMergeStrategy(s string) (MergeStrategy, error) {
	switch ms := MergeStrategy(strings.ToLower(strings.TrimSpace(s))); ms {
	case "":
		return MergeAuto, nil
	case MergeAuto, MergeUpsert, MergeTemp:
		return ms, nil
	}
	return "", fmt.Errorf("surge: unknown merge strategy %q", s)
}

// Options configure a loader. The zero value is usable.
type Options struct {
	// Job labels logs and metrics.
	Job string
	// BatchSize bounds rows per execute-many call or formatted chunk.
	BatchSize int
	// RaiseOnError stops at the first failed batch. Otherwise the batch is
	// counted as errored and loading continues.
	RaiseOnError bool
	// Transaction wraps the whole load in one transaction.
	Transaction bool
	MergeStrategy MergeStrategy
	// QueueSize bounds buffered chunks between formatter and bulk copy.
	QueueSize int
	// SampleSize caps row indices recorded per skip reason.
	SampleSize int
	Logger     *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.QueueSize <= 0 {
		o.QueueSize = DefaultQueueSize
	}
	if o.SampleSize <= 0 {
		o.SampleSize = DefaultSampleSize
	}
	if o.MergeStrategy == "" {
		o.MergeStrategy = MergeAuto
	}
	if o.Logger == nil {
		o.Logger = logging.Named("surge")
	}
	if o.Job != "" {
		o.Logger = o.Logger.With(zap.String("job", o.Job))
	}
	return o
}
