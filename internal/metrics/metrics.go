// Package metrics records load metrics through a pluggable Backend.
//
// The default backend is a no-op, so loaders can always call into this
// package. A binary installs a concrete backend (prompush, datadog) once at
// startup with SetBackend and calls Flush before exiting.
package metrics

import (
	"sync"
	"time"
)

// Metric names emitted by this package.
const (
	LoadTotal    = "surge_load_total"
	LoadDuration = "surge_load_duration_seconds"
	RowsTotal    = "surge_rows_total"
	BatchesTotal = "surge_batches_total"
)

// Row kinds passed to RecordRows.
const (
	KindRead    = "read"
	KindLoaded  = "loaded"
	KindSkipped = "skipped"
	KindErrored = "errored"
)

// Labels are string key/value pairs attached to a metric.
type Labels map[string]string

// Backend is the minimal interface a metrics system implements.
type Backend interface {
	// IncCounter increments a counter by delta.
	IncCounter(name string, delta float64, labels Labels)
	// ObserveHistogram records a duration-style value.
	ObserveHistogram(name string, value float64, labels Labels)
	// Flush pushes buffered metrics, if the backend needs it.
	Flush() error
}

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}
func (nopBackend) Flush() error                             { return nil }

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs b. Passing nil keeps the current backend.
func SetBackend(b Backend) {
	if b == nil {
		return
	}
	mu.Lock()
	backend = b
	mu.Unlock()
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// Flush delegates to the current backend.
func Flush() error { return current().Flush() }

// RecordLoad counts one finished load and its duration, labelled by mode
// (executemany, bulk, dump), operation and outcome.
func RecordLoad(job, mode, op string, err error, d time.Duration) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	lbls := Labels{"job": job, "mode": mode, "op": op, "status": status}
	b := current()
	b.IncCounter(LoadTotal, 1, lbls)
	b.ObserveHistogram(LoadDuration, d.Seconds(), lbls)
}

// RecordRows adds delta rows of kind (read, loaded, skipped, errored).
func RecordRows(job, kind string, delta int64) {
	if delta <= 0 {
		return
	}
	current().IncCounter(RowsTotal, float64(delta), Labels{"job": job, "kind": kind})
}

// RecordBatches adds delta executed batches.
func RecordBatches(job string, delta int64) {
	if delta <= 0 {
		return
	}
	current().IncCounter(BatchesTotal, float64(delta), Labels{"job": job})
}
