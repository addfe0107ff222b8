// Package metrics provides Prometheus metrics for the attribution engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager manages all Prometheus metrics for the attribution engine.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	constLabels      map[string]string
	registry         prometheus.Registerer

	// Matching
	eventsMatched *prometheus.CounterVec
	eventErrors   prometheus.Counter
	domainUpserts *prometheus.CounterVec
	domainErrors  prometheus.Counter
	statusChanges *prometheus.CounterVec
	matchLatency  prometheus.Histogram

	// Send index
	indexChunks       *prometheus.CounterVec
	indexChunkLatency prometheus.Histogram
	indexRetries      prometheus.Counter
	indexKeys         *prometheus.CounterVec

	// Jobs
	jobsTotal    *prometheus.CounterVec
	jobDuration  *prometheus.HistogramVec
	jobQueueSize prometheus.Gauge
	jobsInFlight prometheus.Gauge

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Errors
	errorRateByComponent *prometheus.CounterVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "attribution",
		subsystem:        "engine",
		histogramBuckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		constLabels:      map[string]string{},
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

func (m *Manager) counterOpts(name, help string) prometheus.CounterOpts {
	return prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.constLabels,
	}
}

func (m *Manager) gaugeOpts(name, help string) prometheus.GaugeOpts {
	return prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.constLabels,
	}
}

func (m *Manager) histogramOpts(name, help string, buckets []float64) prometheus.HistogramOpts {
	return prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		Buckets:     buckets,
		ConstLabels: m.constLabels,
	}
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // long function required for comprehensive metrics initialization
	auto := promauto.With(m.registry)

	m.eventsMatched = auto.NewCounterVec(
		m.counterOpts("events_matched_total", "Conversion events classified by match outcome"),
		[]string{"event_type", "outcome"},
	)
	m.eventErrors = auto.NewCounter(m.counterOpts("event_errors_total", "Conversion events that failed processing"))
	m.domainUpserts = auto.NewCounterVec(
		m.counterOpts("domain_upserts_total", "Attributed domain writes by result"),
		[]string{"result"},
	)
	m.domainErrors = auto.NewCounter(m.counterOpts("domain_upsert_errors_total", "Attributed domain writes that failed"))
	m.statusChanges = auto.NewCounterVec(
		m.counterOpts("status_transitions_total", "Attribution status transitions"),
		[]string{"from", "to", "action"},
	)
	m.matchLatency = auto.NewHistogram(m.histogramOpts(
		"batch_latency_milliseconds", "Time to match and aggregate one event batch", m.histogramBuckets))

	m.indexChunks = auto.NewCounterVec(
		m.counterOpts("index_chunks_total", "Send-index chunk lookups by key kind and result"),
		[]string{"kind", "result"},
	)
	m.indexChunkLatency = auto.NewHistogram(m.histogramOpts(
		"index_chunk_latency_milliseconds", "Latency of one send-index chunk lookup", m.histogramBuckets))
	m.indexRetries = auto.NewCounter(m.counterOpts("index_chunk_retries_total", "Send-index chunk lookups retried"))
	m.indexKeys = auto.NewCounterVec(
		m.counterOpts("index_keys_total", "Distinct keys looked up in the send index"),
		[]string{"kind"},
	)

	m.jobsTotal = auto.NewCounterVec(
		m.counterOpts("jobs_total", "Processing jobs by kind and terminal status"),
		[]string{"kind", "status"},
	)
	m.jobDuration = auto.NewHistogramVec(
		m.histogramOpts("job_duration_seconds", "Processing job wall time",
			[]float64{0.1, 0.5, 1, 5, 15, 30, 60, 300, 900, 1800, 3600}),
		[]string{"kind"},
	)
	m.jobQueueSize = auto.NewGauge(m.gaugeOpts("job_queue_size", "Jobs waiting for the runner"))
	m.jobsInFlight = auto.NewGauge(m.gaugeOpts("jobs_in_flight", "Jobs enqueued or running"))

	m.httpRequests = auto.NewCounterVec(
		m.counterOpts("http_requests_total", "Total number of HTTP requests by endpoint and method"),
		[]string{"endpoint", "method", "status_code"},
	)
	m.httpRequestDuration = auto.NewHistogramVec(
		m.histogramOpts("http_request_duration_milliseconds", "HTTP request duration in milliseconds", m.histogramBuckets),
		[]string{"endpoint", "method", "status_code"},
	)

	m.errorRateByComponent = auto.NewCounterVec(
		m.counterOpts("errors_by_component_total", "Errors by component and type"),
		[]string{"component", "error_type"},
	)

	m.systemMemoryUsage = auto.NewGauge(m.gaugeOpts("system_memory_usage_bytes", "System memory usage in bytes"))
	m.systemGoroutineCount = auto.NewGauge(m.gaugeOpts("system_goroutine_count", "Number of goroutines"))
	m.systemGCPauseTime = auto.NewHistogram(m.histogramOpts(
		"system_gc_pause_time_milliseconds", "GC pause time in milliseconds",
		[]float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000}))
}

// RecordEventMatched counts one conversion event by type and outcome
// (hard, soft, outside_window, never_emailed).
func RecordEventMatched(eventType, outcome string) {
	globalManager.eventsMatched.WithLabelValues(eventType, outcome).Inc()
}

// RecordEventError counts one per-event processing failure.
func RecordEventError() {
	globalManager.eventErrors.Inc()
}

// RecordDomainUpsert counts an attributed domain write ("created", "updated", "unchanged").
func RecordDomainUpsert(result string) {
	globalManager.domainUpserts.WithLabelValues(result).Inc()
}

// RecordDomainError counts one failed attributed domain write.
func RecordDomainError() {
	globalManager.domainErrors.Inc()
}

// RecordStatusTransition counts a status machine transition.
func RecordStatusTransition(from, to, action string) {
	globalManager.statusChanges.WithLabelValues(from, to, action).Inc()
}

// RecordBatchLatency records how long one event batch took, in milliseconds.
func RecordBatchLatency(latencyMs float64) {
	globalManager.matchLatency.Observe(latencyMs)
}

// RecordIndexChunk records one send-index chunk lookup.
func RecordIndexChunk(kind, result string, latencyMs float64) {
	globalManager.indexChunks.WithLabelValues(kind, result).Inc()
	globalManager.indexChunkLatency.Observe(latencyMs)
}

// RecordIndexRetry counts a retried chunk lookup.
func RecordIndexRetry() {
	globalManager.indexRetries.Inc()
}

// RecordIndexKeys counts distinct keys submitted to the send index.
func RecordIndexKeys(kind string, n int) {
	globalManager.indexKeys.WithLabelValues(kind).Add(float64(n))
}

// RecordJobFinished records a terminal job status and its duration in seconds.
func RecordJobFinished(kind, status string, seconds float64) {
	globalManager.jobsTotal.WithLabelValues(kind, status).Inc()
	globalManager.jobDuration.WithLabelValues(kind).Observe(seconds)
}

// UpdateJobQueueSize sets the number of jobs waiting in the runner queue.
func UpdateJobQueueSize(size int) {
	globalManager.jobQueueSize.Set(float64(size))
}

// UpdateJobsInFlight sets the number of jobs enqueued or running.
func UpdateJobsInFlight(count int) {
	globalManager.jobsInFlight.Set(float64(count))
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorRateByComponent.WithLabelValues(component, errorType).Inc()
}

// UpdateSystemMemoryUsage sets the system memory usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

// RecordSystemGCPauseTime records GC pause time in milliseconds.
func RecordSystemGCPauseTime(pauseMs float64) {
	globalManager.systemGCPauseTime.Observe(pauseMs)
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
