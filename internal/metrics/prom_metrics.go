package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder receives the service's operational signals.
type Recorder interface {
	ReadingIngested(transport string)
	IngestRejected(transport, reason string)
	ObserveStoreLatency(op string, seconds float64, err error)
	ObserveRequest(route, method string, status int, seconds float64)
}

type PromMetrics struct {
	ingested     *prometheus.CounterVec
	rejected     *prometheus.CounterVec
	storeLatency *prometheus.HistogramVec
	storeErrors  *prometheus.CounterVec
	requests     *prometheus.HistogramVec
}

func NewPromMetrics(reg prometheus.Registerer) *PromMetrics {
	ingested := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "evergreen_readings_ingested_total",
		Help: "Readings accepted and appended to the record store.",
	}, []string{"transport"})
	rejected := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "evergreen_readings_rejected_total",
		Help: "Reading submissions that were not stored.",
	}, []string{"transport", "reason"})
	storeLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "evergreen_store_latency_seconds",
		Help:    "Latency of record store operations.",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
	}, []string{"op"})
	storeErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "evergreen_store_errors_total",
		Help: "Record store operations that failed.",
	}, []string{"op"})
	requests := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "evergreen_http_request_duration_seconds",
		Help:    "HTTP request latency by route and status.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "method", "status"})

	reg.MustRegister(ingested, rejected, storeLatency, storeErrors, requests)

	return &PromMetrics{
		ingested:     ingested,
		rejected:     rejected,
		storeLatency: storeLatency,
		storeErrors:  storeErrors,
		requests:     requests,
	}
}

func (p *PromMetrics) ReadingIngested(transport string) {
	p.ingested.WithLabelValues(transport).Inc()
}

func (p *PromMetrics) IngestRejected(transport, reason string) {
	p.rejected.WithLabelValues(transport, reason).Inc()
}

func (p *PromMetrics) ObserveStoreLatency(op string, seconds float64, err error) {
	p.storeLatency.WithLabelValues(op).Observe(seconds)
	if err != nil {
		p.storeErrors.WithLabelValues(op).Inc()
	}
}

func (p *PromMetrics) ObserveRequest(route, method string, status int, seconds float64) {
	p.requests.WithLabelValues(route, method, strconv.Itoa(status)).Observe(seconds)
}

// Nop discards everything.
type Nop struct{}

func (Nop) ReadingIngested(string) {}
func (Nop) IngestRejected(string, string) {}
func (Nop) ObserveStoreLatency(string, float64, error) {}
func (Nop) ObserveRequest(string, string, int, float64) {}

var (
	_ Recorder = (*PromMetrics)(nil)
	_ Recorder = Nop{}
)
