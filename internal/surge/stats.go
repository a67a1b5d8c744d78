package surge

import (
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"
)

// SkipReason groups skipped rows by the exact set of missing bind names.
type SkipReason struct {
	Missing []string
	Count   int64
	// Sample holds the first source row indices (0-based) skipped for this
	// reason.
	Sample []int64
}

// Stats are the counters of one load.
type Stats struct {
	Read    int64
	Loaded  int64
	Skipped int64
	Errored int64
	Batches int64
	// Affected is what the database reported, which can differ from Loaded
	// (upserts, triggers).
	Affected    int64
	SkipReasons map[string]*SkipReason
	Duration    time.Duration
}

// SkipKey is the SkipReasons key for a set of missing bind names.
func SkipKey(missing []string) string { return strings.Join(missing, ",") }

func (s *Stats) skip(missing []string, idx int64, sample int) {
	s.Skipped++
	if s.SkipReasons == nil {
		s.SkipReasons = make(map[string]*SkipReason)
	}
	key := SkipKey(missing)
	r, ok := s.SkipReasons[key]
	if !ok {
		r = &SkipReason{Missing: slices.Clone(missing)}
		s.SkipReasons[key] = r
	}
	r.Count++
	if len(r.Sample) < sample {
		r.Sample = append(r.Sample, idx)
	}
}

// Reasons returns skip reasons ordered by count, then key.
func (s Stats) Reasons() []*SkipReason {
	out := make([]*SkipReason, 0, len(s.SkipReasons))
	for _, r := range s.SkipReasons {
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b *SkipReason) int {
		if a.Count != b.Count {
			if a.Count > b.Count {
				return -1
			}
			return 1
		}
		return strings.Compare(SkipKey(a.Missing), SkipKey(b.Missing))
	})
	return out
}

// LogSummary writes the end-of-run breakdown. Every read row is expected
// to end up loaded, skipped or errored; a mismatch is logged as a warning.
func LogSummary(l *zap.Logger, s Stats) {
	l.Info("load summary",
		zap.Int64("read", s.Read),
		zap.Int64("loaded", s.Loaded),
		zap.Int64("skipped", s.Skipped),
		zap.Int64("errored", s.Errored),
		zap.Int64("batches", s.Batches),
		zap.Int64("affected", s.Affected),
		zap.Duration("elapsed", s.Duration.Truncate(time.Millisecond)),
	)
	for _, r := range s.Reasons() {
		l.Info("rows skipped",
			zap.Strings("missing", r.Missing),
			zap.Int64("count", r.Count),
			zap.Int64s("sample_rows", r.Sample),
		)
	}
	if accounted := s.Loaded + s.Skipped + s.Errored; accounted != s.Read {
		l.Warn("row accounting mismatch",
			zap.Int64("read", s.Read),
			zap.Int64("accounted", accounted),
			zap.Int64("delta", s.Read-accounted),
		)
	}
}
