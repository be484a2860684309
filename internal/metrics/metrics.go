// Package metrics provides Prometheus metrics for the context assembler.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all assembler metrics.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// Codec operations
	CodecOperationsTotal   *prometheus.CounterVec
	CodecOperationDuration *prometheus.HistogramVec
	CodecQueueDepth        prometheus.Gauge

	// Token mending
	MendCacheHits   prometheus.Counter
	MendCacheMisses prometheus.Counter

	// Persistent token cache
	TokenStoreLookups *prometheus.CounterVec

	// Insertion outcomes
	InsertionsTotal    *prometheus.CounterVec
	InsertionTokens    prometheus.Histogram
	InsertionShuntSize prometheus.Histogram

	// Context assembly
	ContextAssemblyDuration *prometheus.HistogramVec
	ContextTokensUsed       *prometheus.HistogramVec
}

// New creates a new Metrics instance registered with the default registerer.
func New(namespace string) *Metrics {
	return NewWithRegisterer(namespace, prometheus.DefaultRegisterer)
}

// NewWithRegisterer creates a new Metrics instance registered with reg.
func NewWithRegisterer(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "ctxasm"
	}
	factory := promauto.With(reg)

	return &Metrics{
		// HTTP metrics
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "http_requests_in_flight",
				Help:      "Current number of HTTP requests being processed",
			},
		),

		// Codec operations
		CodecOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "codec_operations_total",
				Help:      "Total number of token codec calls",
			},
			[]string{"operation", "status"},
		),
		CodecOperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "codec_operation_duration_seconds",
				Help:      "Token codec call duration in seconds, including queueing",
				Buckets:   []float64{.00001, .00005, .0001, .0005, .001, .005, .01, .05, .1},
			},
			[]string{"operation"},
		),
		CodecQueueDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "codec_queue_depth",
				Help:      "Number of codec calls waiting for a runner slot",
			},
		),

		// Token mending
		MendCacheHits: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "mend_cache_hits_total",
				Help:      "Boundary re-encodes served from the mend cache",
			},
		),
		MendCacheMisses: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "mend_cache_misses_total",
				Help:      "Boundary re-encodes that required the codec",
			},
		),

		TokenStoreLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "token_store_lookups_total",
				Help:      "Persistent token cache lookups",
			},
			[]string{"result"},
		),

		// Insertion outcomes
		InsertionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "insertions_total",
				Help:      "Total number of candidate insertions by outcome",
			},
			[]string{"type", "reason"},
		),
		InsertionTokens: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "insertion_tokens",
				Help:      "Tokens consumed by successful insertions",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 14),
			},
		),
		InsertionShuntSize: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "insertion_shunt_characters",
				Help:      "Characters a shunted insertion was moved by",
				Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
			},
		),

		// Context assembly
		ContextAssemblyDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "context_assembly_duration_seconds",
				Help:      "Context assembly duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"status"},
		),
		ContextTokensUsed: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "context_tokens_used",
				Help:      "Number of tokens in assembled contexts",
				Buckets:   []float64{100, 250, 500, 1000, 2000, 4000, 8000, 16000, 32000},
			},
			[]string{"status"},
		),
	}
}

var (
	defaultMetrics *Metrics
	defaultOnce    sync.Once
)

// Default returns the default metrics instance, creating it if needed.
func Default() *Metrics {
	defaultOnce.Do(func() {
		defaultMetrics = New("ctxasm")
	})
	return defaultMetrics
}

// RecordHTTPRequest records an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path string, status int, duration float64) {
	statusStr := statusToString(status)
	m.HTTPRequestsTotal.WithLabelValues(method, path, statusStr).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration)
}

// RecordCodecOperation records an encode or decode call.
func (m *Metrics) RecordCodecOperation(operation string, success bool, duration float64) {
	status := "success"
	if !success {
		status = "error"
	}
	m.CodecOperationsTotal.WithLabelValues(operation, status).Inc()
	m.CodecOperationDuration.WithLabelValues(operation).Observe(duration)
}

// SetCodecQueueDepth sets the number of queued codec calls.
func (m *Metrics) SetCodecQueueDepth(depth int) {
	m.CodecQueueDepth.Set(float64(depth))
}

// RecordMendCache records a mend cache lookup.
func (m *Metrics) RecordMendCache(hit bool) {
	if hit {
		m.MendCacheHits.Inc()
		return
	}
	m.MendCacheMisses.Inc()
}

// RecordTokenStoreLookup records a persistent token cache lookup.
func (m *Metrics) RecordTokenStoreLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.TokenStoreLookups.WithLabelValues(result).Inc()
}

// RecordInsertion records the outcome of a candidate insertion.
// Reason is empty for accepted insertions.
func (m *Metrics) RecordInsertion(resultType, reason string, tokensUsed, shunted int) {
	m.InsertionsTotal.WithLabelValues(resultType, reason).Inc()
	if reason != "" {
		return
	}
	m.InsertionTokens.Observe(float64(tokensUsed))
	if shunted > 0 {
		m.InsertionShuntSize.Observe(float64(shunted))
	}
}

// RecordContextAssembly records a context assembly operation.
func (m *Metrics) RecordContextAssembly(success bool, duration float64, tokensUsed int) {
	status := "success"
	if !success {
		status = "error"
	}
	m.ContextAssemblyDuration.WithLabelValues(status).Observe(duration)
	m.ContextTokensUsed.WithLabelValues(status).Observe(float64(tokensUsed))
}

func statusToString(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	case status >= 200:
		return "2xx"
	default:
		return "1xx"
	}
}
