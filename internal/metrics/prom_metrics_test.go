package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPromMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPromMetrics(reg)

	m.ReadingIngested("http")
	m.ReadingIngested("http")
	m.ReadingIngested("mqtt")
	if got := testutil.ToFloat64(m.ingested.WithLabelValues("http")); got != 2 {
		t.Fatalf("expected 2 http readings, got %f", got)
	}

	m.IngestRejected("http", "malformed_payload")
	if got := testutil.ToFloat64(m.rejected.WithLabelValues("http", "malformed_payload")); got != 1 {
		t.Fatalf("expected 1 rejection, got %f", got)
	}

	m.ObserveStoreLatency("append", 0.01, nil)
	m.ObserveStoreLatency("append", 0.02, errors.New("boom"))
	if got := testutil.ToFloat64(m.storeErrors.WithLabelValues("append")); got != 1 {
		t.Fatalf("expected 1 store error, got %f", got)
	}
	if n := testutil.CollectAndCount(m.storeLatency); n != 1 {
		t.Fatalf("expected one latency series, got %d", n)
	}

	m.ObserveRequest("/readings", "POST", 201, 0.003)
	if n := testutil.CollectAndCount(m.requests); n != 1 {
		t.Fatalf("expected one request series, got %d", n)
	}
}
