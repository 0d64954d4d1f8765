package monitor

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"safe-code-gate/internal/gate"
)

// Metrics holds all Prometheus metrics for the gate service.
type Metrics struct {
	Registry *prometheus.Registry

	ValidationsTotal   *prometheus.CounterVec
	ValidationDuration *prometheus.HistogramVec
	RejectionsTotal    *prometheus.CounterVec
	CodeSizeBytes      prometheus.Histogram
	RequestsInFlight   prometheus.Gauge
	PolicyReloads      *prometheus.CounterVec
	CacheLookups       *prometheus.CounterVec
	AuditDropped       prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics using a dedicated registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,

		ValidationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gate",
				Name:      "validations_total",
				Help:      "Total number of validations by verdict kind.",
			},
			[]string{"kind"},
		),

		ValidationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "gate",
				Name:      "validation_duration_seconds",
				Help:      "Duration of a single validation in seconds.",
				Buckets:   []float64{0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1},
			},
			[]string{"kind"},
		),

		RejectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gate",
				Name:      "rejections_total",
				Help:      "Total rejections by the rule that fired.",
			},
			[]string{"rule"},
		),

		CodeSizeBytes: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "gate",
				Name:      "code_size_bytes",
				Help:      "Size of submitted code in bytes.",
				Buckets:   prometheus.ExponentialBuckets(64, 2, 10),
			},
		),

		RequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "gate",
				Subsystem: "api",
				Name:      "requests_in_flight",
				Help:      "Number of HTTP requests currently being processed.",
			},
		),

		PolicyReloads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gate",
				Name:      "policy_reloads_total",
				Help:      "Policy reload attempts by result.",
			},
			[]string{"result"},
		),

		CacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gate",
				Name:      "cache_lookups_total",
				Help:      "Verdict cache lookups by result.",
			},
			[]string{"result"},
		),

		AuditDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "gate",
				Name:      "audit_dropped_total",
				Help:      "Audit records dropped because the write buffer was full.",
			},
		),
	}

	// Register all collectors
	reg.MustRegister(
		m.ValidationsTotal,
		m.ValidationDuration,
		m.RejectionsTotal,
		m.CodeSizeBytes,
		m.RequestsInFlight,
		m.PolicyReloads,
		m.CacheLookups,
		m.AuditDropped,
	)

	return m
}

// RecordVerdict records metrics for a completed validation.
func (m *Metrics) RecordVerdict(v gate.Verdict, codeBytes int, d time.Duration) {
	kind := v.Kind.String()
	m.ValidationsTotal.WithLabelValues(kind).Inc()
	m.ValidationDuration.WithLabelValues(kind).Observe(d.Seconds())
	m.CodeSizeBytes.Observe(float64(codeBytes))
	if !v.Valid() {
		m.RejectionsTotal.WithLabelValues(v.Rule).Inc()
	}
}

// RecordReload records a policy reload attempt.
func (m *Metrics) RecordReload(ok bool) {
	if ok {
		m.PolicyReloads.WithLabelValues("success").Inc()
		return
	}
	m.PolicyReloads.WithLabelValues("failure").Inc()
}

// RecordCacheLookup records a verdict cache hit or miss.
func (m *Metrics) RecordCacheLookup(hit bool) {
	if hit {
		m.CacheLookups.WithLabelValues("hit").Inc()
		return
	}
	m.CacheLookups.WithLabelValues("miss").Inc()
}
