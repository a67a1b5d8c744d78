package prompush

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"surge/internal/metrics"
)

func readCounterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()

	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		t.Fatalf("Counter.Write() error = %v", err)
	}
	if m.GetCounter() == nil {
		t.Fatalf("metric did not contain Counter value")
	}
	return m.GetCounter().GetValue()
}

func readSummaryCountSum(t *testing.T, v *prometheus.SummaryVec, labels ...string) (uint64, float64) {
	t.Helper()

	m := &dto.Metric{}
	metric, ok := v.WithLabelValues(labels...).(prometheus.Metric)
	if !ok {
		t.Fatalf("SummaryVec.WithLabelValues(...) does not implement prometheus.Metric")
	}
	if err := metric.Write(m); err != nil {
		t.Fatalf("Summary.Write() error = %v", err)
	}
	s := m.GetSummary()
	if s == nil {
		t.Fatalf("metric did not contain Summary value")
	}
	return s.GetSampleCount(), s.GetSampleSum()
}

func TestNewBackend(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		jobName     string
		gatewayURL  string
		wantErr     bool
		wantJobName string
	}{
		{name: "missing gateway URL", jobName: "orders", wantErr: true},
		{name: "default job name", gatewayURL: "http://pushgateway:9091", wantJobName: "surge"},
		{name: "explicit job name", jobName: "orders", gatewayURL: "http://pushgateway:9091", wantJobName: "orders"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			b, err := NewBackend(tt.jobName, tt.gatewayURL)
			if tt.wantErr {
				if err == nil || b != nil {
					t.Fatalf("NewBackend(%q, %q) = %v, %v; want nil, error", tt.jobName, tt.gatewayURL, b, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewBackend error = %v", err)
			}
			if b.jobName != tt.wantJobName {
				t.Fatalf("jobName = %q, want %q", b.jobName, tt.wantJobName)
			}
			if b.loadCounter == nil || b.loadDuration == nil || b.rowCounter == nil || b.batchCounter == nil {
				t.Fatalf("collectors not initialized: %+v", b)
			}
		})
	}
}

func TestIncCounter_RoutesByName(t *testing.T) {
	t.Parallel()

	b, err := NewBackend("orders", "http://example.com")
	if err != nil {
		t.Fatalf("NewBackend() error = %v", err)
	}

	b.IncCounter(metrics.LoadTotal, 1, metrics.Labels{"mode": "bulk", "op": "insert", "status": "success"})
	b.IncCounter(metrics.RowsTotal, 5, metrics.Labels{"kind": metrics.KindLoaded})
	b.IncCounter(metrics.RowsTotal, 2, metrics.Labels{"kind": metrics.KindLoaded})
	b.IncCounter(metrics.BatchesTotal, 3, nil)
	b.IncCounter("unknown_metric", 10, metrics.Labels{"foo": "bar"})

	if got := readCounterValue(t, b.loadCounter.WithLabelValues("bulk", "insert", "success")); got != 1 {
		t.Fatalf("load counter = %v, want 1", got)
	}
	if got := readCounterValue(t, b.rowCounter.WithLabelValues(metrics.KindLoaded)); got != 7 {
		t.Fatalf("row counter = %v, want 7", got)
	}
	if got := readCounterValue(t, b.batchCounter); got != 3 {
		t.Fatalf("batch counter = %v, want 3", got)
	}
}

func TestIncCounter_NilCollectors(t *testing.T) {
	t.Parallel()

	b := &Backend{}
	b.IncCounter(metrics.LoadTotal, 1, metrics.Labels{})
	b.IncCounter(metrics.RowsTotal, 1, metrics.Labels{"kind": "read"})
	b.IncCounter(metrics.BatchesTotal, 1, nil)
	b.ObserveHistogram(metrics.LoadDuration, 1, nil)
}

func TestObserveHistogram(t *testing.T) {
	t.Parallel()

	b, err := NewBackend("orders", "http://example.com")
	if err != nil {
		t.Fatalf("NewBackend() error = %v", err)
	}

	lbls := metrics.Labels{"mode": "executemany", "status": "success"}
	b.ObserveHistogram(metrics.LoadDuration, 1.5, lbls)
	b.ObserveHistogram("other_metric", 2, lbls)

	count, sum := readSummaryCountSum(t, b.loadDuration, "executemany", "success")
	if count != 1 || sum != 1.5 {
		t.Fatalf("summary = (%d, %v), want (1, 1.5)", count, sum)
	}
}

func TestFlush_PushesToGateway(t *testing.T) {
	t.Parallel()

	type pushRequest struct {
		method  string
		path    string
		bodyLen int
	}
	reqCh := make(chan pushRequest, 1)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		body, _ := io.ReadAll(r.Body)
		reqCh <- pushRequest{method: r.Method, path: r.URL.Path, bodyLen: len(body)}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	b, err := NewBackend("orders", server.URL)
	if err != nil {
		t.Fatalf("NewBackend() error = %v", err)
	}
	b.IncCounter(metrics.RowsTotal, 1, metrics.Labels{"kind": metrics.KindRead})

	if err := b.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	var got pushRequest
	select {
	case got = <-reqCh:
	default:
		t.Fatalf("Flush() sent no request to the Pushgateway")
	}
	if got.method != http.MethodPut {
		t.Fatalf("method = %q, want PUT", got.method)
	}
	if got.path != "/metrics/job/orders" {
		t.Fatalf("path = %q, want /metrics/job/orders", got.path)
	}
	if got.bodyLen == 0 {
		t.Fatalf("push body is empty")
	}
}
