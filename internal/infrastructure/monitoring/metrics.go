package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Invocation metrics
	Invocations        *prometheus.CounterVec
	InvocationDuration prometheus.Histogram
	ColdStarts         prometheus.Counter

	// Bootstrap metrics
	BootstrapState         prometheus.Gauge
	BootstrapConstructions prometheus.Counter
	BootstrapDuration      prometheus.Histogram
	EndpointResolutions    *prometheus.CounterVec

	// Span metrics
	SpansStarted prometheus.Counter
	SpansEnded   *prometheus.CounterVec
	SpansDropped prometheus.Counter
}

// NewMetrics registers all collectors with reg. Pass
// prometheus.DefaultRegisterer in production and a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tracedlambda_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tracedlambda_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "route"},
		),

		Invocations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tracedlambda_invocations_total",
				Help: "Total number of platform invocations by reply status class",
			},
			[]string{"status"},
		),
		InvocationDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tracedlambda_invocation_duration_seconds",
				Help:    "Invocation duration in seconds, including the bootstrap wait",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
		),
		ColdStarts: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "tracedlambda_cold_starts_total",
				Help: "Invocations served as the first on their execution instance",
			},
		),

		BootstrapState: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "tracedlambda_bootstrap_state",
				Help: "Trace bootstrap state (0 not started, 1 in progress, 2 ready, 3 failed)",
			},
		),
		BootstrapConstructions: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "tracedlambda_bootstrap_constructions_total",
				Help: "Trace pipeline construction attempts",
			},
		),
		BootstrapDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tracedlambda_bootstrap_duration_seconds",
				Help:    "Time from bootstrap start to a settled outcome",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
		),
		EndpointResolutions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tracedlambda_endpoint_resolutions_total",
				Help: "Collector endpoint resolution attempts by source and result",
			},
			[]string{"source", "result"},
		),

		SpansStarted: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "tracedlambda_spans_started_total",
				Help: "Spans opened by span scopes",
			},
		),
		SpansEnded: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tracedlambda_spans_ended_total",
				Help: "Spans closed by span scopes, by final status",
			},
			[]string{"status"},
		),
		SpansDropped: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "tracedlambda_spans_dropped_total",
				Help: "Spans not exported because the export breaker was open",
			},
		),
	}
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, route, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, route, status).Inc()
	m.RequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordInvocation records a finished platform invocation
func (m *Metrics) RecordInvocation(status string, duration time.Duration, coldStart bool) {
	if m == nil {
		return
	}
	m.Invocations.WithLabelValues(status).Inc()
	m.InvocationDuration.Observe(duration.Seconds())
	if coldStart {
		m.ColdStarts.Inc()
	}
}

// SetBootstrapState publishes the numeric bootstrap state
func (m *Metrics) SetBootstrapState(state int) {
	if m == nil {
		return
	}
	m.BootstrapState.Set(float64(state))
}

// RecordBootstrap records one pipeline construction and how long it took
func (m *Metrics) RecordBootstrap(duration time.Duration) {
	if m == nil {
		return
	}
	m.BootstrapConstructions.Inc()
	m.BootstrapDuration.Observe(duration.Seconds())
}

// RecordResolution records one endpoint source attempt
func (m *Metrics) RecordResolution(source, result string) {
	if m == nil {
		return
	}
	m.EndpointResolutions.WithLabelValues(source, result).Inc()
}

// SpanStarted counts an opened span
func (m *Metrics) SpanStarted() {
	if m == nil {
		return
	}
	m.SpansStarted.Inc()
}

// SpanEnded counts a closed span
func (m *Metrics) SpanEnded(status string) {
	if m == nil {
		return
	}
	m.SpansEnded.WithLabelValues(status).Inc()
}

// SpansDroppedAdd counts spans refused by the export breaker
func (m *Metrics) SpansDroppedAdd(n int) {
	if m == nil {
		return
	}
	m.SpansDropped.Add(float64(n))
}
