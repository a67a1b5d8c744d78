package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"

	"surge/internal/config"
	"surge/internal/dialect"
	"surge/internal/logging"
	"surge/internal/metrics"
	"surge/internal/metrics/datadog"
	"surge/internal/metrics/prompush"
	"surge/internal/paramstyle"
	"surge/internal/source"
	"surge/internal/storage"
	"surge/internal/surge"
	"surge/internal/table"
)

const defaultPushgatewayURL = "http://localhost:9091"

// app holds what every command that reads a source needs: the job, the
// logger, and the metrics flush hook.
type app struct {
	job   config.Job
	log   *zap.Logger
	flush func() error
}

func newApp(job config.Job, g *globalFlags) (*app, error) {
	lc := job.Log
	if g.verbose {
		lc.Level = "debug"
	}
	l, err := logging.Init(lc)
	if err != nil {
		return nil, err
	}
	a := &app{job: job, log: l.Named("surge")}
	a.setupMetrics(g)
	return a, nil
}

func (a *app) close() {
	if a.flush != nil {
		if err := a.flush(); err != nil {
			a.log.Warn("metrics flush failed", zap.Error(err))
		}
	}
	logging.Sync()
}

// setupMetrics picks the backend: flag, then job file, then env.
func (a *app) setupMetrics(g *globalFlags) {
	m := a.job.Metrics
	name := firstNonEmpty(g.metricsBackend, m.Backend, os.Getenv("METRICS_BACKEND"))
	jobName := firstNonEmpty(a.job.Name, "surge")

	var (
		b   metrics.Backend
		err error
	)
	switch name {
	case config.MetricsPushgateway:
		url := firstNonEmpty(g.pushgatewayURL, m.Options.String("url", ""), os.Getenv("PUSHGATEWAY_URL"), defaultPushgatewayURL)
		b, err = prompush.NewBackend(jobName, url)
		a.log.Debug("metrics backend", zap.String("backend", name), zap.String("url", url))
	case config.MetricsDatadog:
		b, err = datadog.NewBackend(datadog.Config{
			Addr:       m.Options.String("addr", os.Getenv("DD_DOGSTATSD_URL")),
			Namespace:  m.Options.String("namespace", "surge."),
			GlobalTags: append(m.Options.StringSlice("tags"), "job:"+jobName),
		})
		a.log.Debug("metrics backend", zap.String("backend", name))
	case "", config.MetricsNone:
		a.log.Debug("metrics disabled")
		return
	default:
		a.log.Warn("unknown metrics backend; metrics disabled", zap.String("backend", name))
		return
	}
	if err != nil {
		a.log.Warn("metrics backend init failed; using nop", zap.String("backend", name), zap.Error(err))
		return
	}
	metrics.SetBackend(b)
	a.flush = metrics.Flush
}

// options converts the job's load section. SURGE_BATCH_SIZE fills in an
// unset batch size.
func (a *app) options() (surge.Options, error) {
	opts, err := a.job.Load.Options(a.job.Name, a.log)
	if err != nil {
		return surge.Options{}, err
	}
	opts.BatchSize = pickInt(opts.BatchSize, getenvInt("SURGE_BATCH_SIZE", 0))
	return opts, nil
}

func (a *app) load(ctx context.Context, out io.Writer) error {
	op, err := a.job.Load.Operation()
	if err != nil {
		return err
	}
	opts, err := a.options()
	if err != nil {
		return err
	}

	db, err := storage.Open(ctx, a.job.Storage)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer db.Close()

	tbl, err := buildTable(a.job, db)
	if err != nil {
		return err
	}
	src, err := source.Open(a.job.Source)
	if err != nil {
		return err
	}
	defer src.Close()

	if (op == table.Update || op == table.Merge) && len(src.Fields()) > 0 {
		if ex := tbl.CalcUpdateExcludes(src.Fields()); len(ex) > 0 {
			a.log.Info("columns without a source are left out of updates", zap.Strings("columns", ex))
		}
	}

	mode := a.job.Load.LoadMode()
	a.log.Info("load started",
		zap.String("table", tbl.Name()),
		zap.Stringer("op", op),
		zap.String("mode", mode),
		zap.String("storage", a.job.Storage.Kind),
		zap.Stringer("dialect", tbl.Dialect()),
		zap.Int("batch_size", opts.BatchSize),
	)

	var stats surge.Stats
	if mode == config.ModeBulk {
		stats, err = surge.NewBulkLoader(db, tbl, opts).Load(ctx, src.Records())
	} else {
		stats, err = surge.NewLoader(db, tbl, opts).Load(ctx, op, src.Records())
	}
	surge.LogSummary(a.log, stats)
	printStats(out, stats)
	return err
}

func (a *app) dump(ctx context.Context, path string, out io.Writer) error {
	opts, err := a.options()
	if err != nil {
		return err
	}
	desc, err := describerFor(a.job.Storage)
	if err != nil {
		return err
	}
	tbl, err := buildTable(a.job, desc)
	if err != nil {
		return err
	}
	src, err := source.Open(a.job.Source)
	if err != nil {
		return err
	}
	defer src.Close()

	stats, err := surge.NewBulkLoader(nil, tbl, opts).DumpFile(ctx, src.Records(), path)
	surge.LogSummary(a.log, stats)
	printStats(out, stats)
	return err
}

// printSQL writes every statement the table can generate. Operations the
// table cannot support (no keys, nothing to update) are noted and skipped.
func printSQL(w io.Writer, job config.Job) error {
	desc, err := describerFor(job.Storage)
	if err != nil {
		return err
	}
	tbl, err := buildTable(job, desc)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "-- table %s, dialect %s, paramstyle %s\n", tbl.Name(), desc.Dialect(), desc.ParamStyle())
	for _, op := range []table.Operation{table.Insert, table.Select, table.Update, table.Delete, table.Merge} {
		q, err := tbl.SQL(op)
		if errors.Is(err, table.ErrNoKeys) || errors.Is(err, table.ErrNothingToUpdate) {
			fmt.Fprintf(w, "\n-- %s: %v\n", op, err)
			continue
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "\n-- %s\n%s\n", op, q)
	}
	return nil
}

func printStats(w io.Writer, s surge.Stats) {
	fmt.Fprintf(w, "read=%d loaded=%d skipped=%d errored=%d batches=%d duration=%s\n",
		s.Read, s.Loaded, s.Skipped, s.Errored, s.Batches, s.Duration.Truncate(time.Millisecond))
	for _, r := range s.Reasons() {
		fmt.Fprintf(w, "skipped %d missing %s rows %v\n", r.Count, surge.SkipKey(r.Missing), r.Sample)
	}
}

func buildTable(job config.Job, desc table.Describer) (*table.Table, error) {
	var opts []table.Option
	if len(job.Table.NullStrings) > 0 {
		opts = append(opts, table.WithNullStrings(job.Table.NullStrings...))
	}
	return table.New(job.Table.Name, job.Table.Columns, desc, opts...)
}

// describer stands in for a connection when only SQL text is needed.
type describer struct {
	d     dialect.Dialect
	style paramstyle.Style
}

func (x describer) Dialect() dialect.Dialect      { return x.d }
func (x describer) ParamStyle() paramstyle.Style { return x.style }

// describerFor derives dialect and style from the storage kind, or from
// storage.dialect for the generic sql backend.
func describerFor(cfg storage.Config) (describer, error) {
	name := cfg.Kind
	if cfg.Kind == "sql" {
		name = cfg.Dialect
	}
	d, err := dialect.Parse(name)
	if err != nil {
		return describer{}, err
	}
	style, err := cfg.Style(d.DefaultStyle())
	if err != nil {
		return describer{}, err
	}
	return describer{d: d, style: style}, nil
}

// ----------------------------------------------------------------------------
// Small helpers
// ----------------------------------------------------------------------------

// getenvInt reads an int from environment, returning def when unset/invalid.
func getenvInt(k string, def int) int {
	if s := os.Getenv(k); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	return def
}

// pickInt chooses the first positive value 'a', otherwise returns 'b'.
func pickInt(a, b int) int {
	if a > 0 {
		return a
	}
	return b
}

func firstNonEmpty(ss ...string) string {
	for _, s := range ss {
		if s != "" {
			return s
		}
	}
	return ""
}
