// Package metrics instruments the provider with the counters and histograms
// a host process scrapes to watch mechanism dispatch and KMS call health.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every provider metric. The label "result" is always "ok" or
// "error"; callers never pass anything else.
type Metrics struct {
	operationsTotal    *prometheus.CounterVec
	operationDuration   *prometheus.HistogramVec
	kmsCallsTotal       *prometheus.CounterVec
	kmsCallDuration      *prometheus.HistogramVec
	objectsTotal        *prometheus.GaugeVec
	sessionsTotal       *prometheus.GaugeVec
}

// NewMetrics creates a new metrics instance registered against the default
// Prometheus registry.
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry creates a metrics instance registered against reg,
// letting callers (and tests) avoid the default registry's duplicate-metric
// panic when more than one Metrics instance is built in a process.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		operationsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "token_operations_total",
				Help: "Total number of token API operations by mechanism and result",
			},
			[]string{"op", "mechanism", "result"},
		),
		operationDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "token_operation_duration_seconds",
				Help:    "Token API operation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"op", "mechanism"},
		),
		kmsCallsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "token_kms_calls_total",
				Help: "Total number of outbound KMS RPCs by method and result",
			},
			[]string{"method", "result"},
		),
		kmsCallDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "token_kms_call_duration_seconds",
				Help:    "KMS RPC duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		objectsTotal: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "token_objects_total",
				Help: "Number of objects currently exposed by a slot",
			},
			[]string{"slot"},
		),
		sessionsTotal: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "token_sessions_total",
				Help: "Number of sessions currently open on a slot",
			},
			[]string{"slot"},
		),
	}
}

// RecordOperation records one completed token API operation.
func (m *Metrics) RecordOperation(op, mechanism string, err error, duration time.Duration) {
	result := resultLabel(err)
	m.operationsTotal.WithLabelValues(op, mechanism, result).Inc()
	m.operationDuration.WithLabelValues(op, mechanism).Observe(duration.Seconds())
}

// RecordKMSCall records one outbound KMS RPC.
func (m *Metrics) RecordKMSCall(method string, err error, duration time.Duration) {
	m.kmsCallsTotal.WithLabelValues(method, resultLabel(err)).Inc()
	m.kmsCallDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// SetObjectsTotal records the current object count for a slot, called after
// every refresh.
func (m *Metrics) SetObjectsTotal(slot string, n int) {
	m.objectsTotal.WithLabelValues(slot).Set(float64(n))
}

// SetSessionsTotal records the current open-session count for a slot.
func (m *Metrics) SetSessionsTotal(slot string, n int) {
	m.sessionsTotal.WithLabelValues(slot).Set(float64(n))
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// Handler returns the HTTP handler for the metrics scrape endpoint. It
// always scrapes the default registry: callers that built their Metrics
// with NewMetricsWithRegistry must expose their own promhttp.HandlerFor.
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}