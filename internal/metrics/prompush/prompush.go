// Package prompush implements a Prometheus Pushgateway backend for the
// metrics package.
//
// Loads are short-lived batch jobs, so collected metrics are pushed to a
// Pushgateway on Flush rather than exposed on a scrape endpoint.
package prompush

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"surge/internal/metrics"
)

// Backend is a Prometheus Pushgateway metrics backend.
type Backend struct {
	gatewayURL string
	jobName    string
	reg        *prometheus.Registry

	loadCounter  *prometheus.CounterVec // surge_load_total
	loadDuration *prometheus.SummaryVec // surge_load_duration_seconds
	rowCounter   *prometheus.CounterVec // surge_rows_total
	batchCounter prometheus.Counter     // surge_batches_total
}

// NewBackend constructs a backend pushing to gatewayURL under jobName.
// An empty jobName defaults to "surge".
func NewBackend(jobName, gatewayURL string) (*Backend, error) {
	if gatewayURL == "" {
		return nil, fmt.Errorf("prompush: gateway URL is required")
	}
	if jobName == "" {
		jobName = "surge"
	}

	reg := prometheus.NewRegistry()
	loadCounter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: metrics.LoadTotal,
			Help: "Finished loads partitioned by mode, operation and status.",
		},
		[]string{"mode", "op", "status"},
	)
	loadDuration := prometheus.NewSummaryVec(
		prometheus.SummaryOpts{
			Name:       metrics.LoadDuration,
			Help:       "Load duration in seconds partitioned by mode and status.",
			Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
		},
		[]string{"mode", "status"},
	)
	rowCounter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: metrics.RowsTotal,
			Help: "Rows per kind (read, loaded, skipped, errored).",
		},
		[]string{"kind"},
	)
	batchCounter := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: metrics.BatchesTotal,
			Help: "Batches executed against the database.",
		},
	)

	for _, c := range []struct {
		what string
		c    prometheus.Collector
	}{
		{"load counter", loadCounter},
		{"load summary", loadDuration},
		{"row counter", rowCounter},
		{"batch counter", batchCounter},
	} {
		if err := reg.Register(c.c); err != nil {
			return nil, fmt.Errorf("prompush: register %s: %w", c.what, err)
		}
	}

	return &Backend{
		gatewayURL:   gatewayURL,
		jobName:      jobName,
		reg:          reg,
		loadCounter:  loadCounter,
		loadDuration: loadDuration,
		rowCounter:   rowCounter,
		batchCounter: batchCounter,
	}, nil
}

func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	switch name {
	case metrics.LoadTotal:
		if b.loadCounter == nil {
			return
		}
		b.loadCounter.WithLabelValues(labels["mode"], labels["op"], labels["status"]).Add(delta)
	case metrics.RowsTotal:
		if b.rowCounter == nil {
			return
		}
		b.rowCounter.WithLabelValues(labels["kind"]).Add(delta)
	case metrics.BatchesTotal:
		if b.batchCounter == nil {
			return
		}
		b.batchCounter.Add(delta)
	}
}

func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if name != metrics.LoadDuration || b.loadDuration == nil {
		return
	}
	b.loadDuration.WithLabelValues(labels["mode"], labels["status"]).Observe(value)
}

// Flush pushes the registry to the Pushgateway.
func (b *Backend) Flush() error {
	return push.New(b.gatewayURL, b.jobName).
		Gatherer(b.reg).
		Push()
}
