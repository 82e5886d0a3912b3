// Package metrics provides Prometheus metrics for the draft engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager owns every Prometheus collector the service exports.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	constLabels      prometheus.Labels
	registry         prometheus.Registerer

	// Session lifecycle
	sessionsCreated  prometheus.Counter
	sessionsLive     prometheus.Gauge
	sessionsFinished *prometheus.CounterVec
	sessionsRestored prometheus.Counter

	// Commands
	commandsTotal  *prometheus.CounterVec
	commandLatency *prometheus.HistogramVec
	rejections     *prometheus.CounterVec

	// Bidding
	bidsPlaced   prometheus.Counter
	bidAmount    prometheus.Histogram
	turnsSkipped *prometheus.CounterVec

	// Timers
	timersScheduled *prometheus.CounterVec
	timersFired     *prometheus.CounterVec
	timersStale     *prometheus.CounterVec
	timersCancelled *prometheus.CounterVec
	timersActive    prometheus.Gauge

	// Event bus
	eventsPublished     *prometheus.CounterVec
	eventHandlerFailure *prometheus.CounterVec
	eventSubscribers    prometheus.Gauge

	// Persistence
	persistOps     *prometheus.CounterVec
	persistLatency *prometheus.HistogramVec
	persistDropped prometheus.Counter
	archivesSwept  prometheus.Counter

	// Queues
	queueEnqueued *prometheus.CounterVec
	queueDequeued *prometheus.CounterVec
	queueErrors   *prometheus.CounterVec
	queueDepth    *prometheus.GaugeVec

	// Integrity
	invariantViolations prometheus.Counter
	duplicateCommands   prometheus.Counter

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Errors
	errorsByComponent *prometheus.CounterVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

// customRegistry keeps the default Go collectors out of /metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // metrics registry

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a metrics manager and registers its collectors.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "draftd",
		subsystem:        "engine",
		histogramBuckets: prometheus.DefBuckets,
		constLabels:      prometheus.Labels{},
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	})
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	}, labels)
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	})
}

func (m *Manager) histogram(name, help string, buckets []float64) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels, Buckets: buckets,
	})
}

func (m *Manager) histogramVec(name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
	return promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels, Buckets: buckets,
	}, labels)
}

func (m *Manager) initializeMetrics() { //nolint:funlen // one block per collector
	m.sessionsCreated = m.counter("sessions_created_total", "Sessions created")
	m.sessionsLive = m.gauge("sessions_live", "Sessions currently held in memory")
	m.sessionsFinished = m.counterVec("sessions_finished_total", "Sessions that reached a terminal status", "status", "reason")
	m.sessionsRestored = m.counter("sessions_restored_total", "Sessions rehydrated from storage on startup")

	m.commandsTotal = m.counterVec("commands_total", "Engine commands by operation and result", "op", "result")
	m.commandLatency = m.histogramVec("command_latency_milliseconds", "Engine command latency in milliseconds",
		[]float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25, 50, 100, 250}, "op")
	m.rejections = m.counterVec("rejections_total", "Validation rejections by operation and reason code", "op", "code")

	m.bidsPlaced = m.counter("bids_placed_total", "Accepted bids")
	m.bidAmount = m.histogram("bid_amount", "Accepted bid amounts",
		[]float64{1, 5, 10, 20, 50, 100, 200, 500, 1000})
	m.turnsSkipped = m.counterVec("turns_skipped_total", "Turns skipped by cause", "cause")

	m.timersScheduled = m.counterVec("timers_scheduled_total", "Timers scheduled by kind", "kind")
	m.timersFired = m.counterVec("timers_fired_total", "Timer fires delivered by kind", "kind")
	m.timersStale = m.counterVec("timers_stale_total", "Timer fires ignored because they were superseded", "kind")
	m.timersCancelled = m.counterVec("timers_cancelled_total", "Timers cancelled by kind", "kind")
	m.timersActive = m.gauge("timers_active", "Outstanding timers")

	m.eventsPublished = m.counterVec("events_published_total", "Events published by topic", "topic")
	m.eventHandlerFailure = m.counterVec("event_handler_failures_total", "Event handlers that returned an error or panicked", "topic")
	m.eventSubscribers = m.gauge("event_subscribers", "Active event subscriptions")

	m.persistOps = m.counterVec("persist_operations_total", "Repository operations by op and result", "op", "result")
	m.persistLatency = m.histogramVec("persist_latency_milliseconds", "Repository operation latency in milliseconds",
		m.histogramBuckets, "op")
	m.persistDropped = m.counter("persist_dropped_total", "Persistence jobs dropped because the writer queue was full or closed")
	m.archivesSwept = m.counter("archives_swept_total", "Archived sessions deleted by the retention sweeper")

	m.queueEnqueued = m.counterVec("queue_enqueued_total", "Items enqueued by queue", "queue")
	m.queueDequeued = m.counterVec("queue_dequeued_total", "Items dequeued by queue", "queue")
	m.queueErrors = m.counterVec("queue_errors_total", "Enqueue failures by queue and reason", "queue", "reason")
	m.queueDepth = promauto.With(m.registry).NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: "queue_depth", Help: "Items waiting by queue", ConstLabels: m.constLabels,
	}, []string{"queue"})

	m.invariantViolations = m.counter("invariant_violations_total", "Sessions force-cancelled after an internal consistency failure")
	m.duplicateCommands = m.counter("duplicate_commands_total", "Commands dropped by idempotency key")

	m.httpRequests = m.counterVec("http_requests_total", "HTTP requests", "endpoint", "method", "status_code")
	m.httpRequestDuration = m.histogramVec("http_request_duration_seconds", "HTTP request duration in seconds",
		m.histogramBuckets, "endpoint", "method", "status_code")

	m.errorsByComponent = m.counterVec("errors_total", "Errors by component and type", "component", "error_type")

	m.systemMemoryUsage = m.gauge("system_memory_usage_bytes", "Heap in use in bytes")
	m.systemGoroutineCount = m.gauge("system_goroutine_count", "Number of goroutines")
	m.systemGCPauseTime = m.histogram("system_gc_pause_time_milliseconds", "GC pause time in milliseconds",
		[]float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000})
}

// Session lifecycle.

// RecordSessionCreated counts a new session.
func RecordSessionCreated() { globalManager.sessionsCreated.Inc() }

// UpdateSessionsLive sets the number of sessions held in memory.
func UpdateSessionsLive(n int) { globalManager.sessionsLive.Set(float64(n)) }

// RecordSessionFinished counts a terminal transition.
func RecordSessionFinished(status, reason string) {
	globalManager.sessionsFinished.WithLabelValues(status, reason).Inc()
}

// RecordSessionRestored counts a rehydrated session.
func RecordSessionRestored() { globalManager.sessionsRestored.Inc() }

// Commands.

// RecordCommand counts an engine command outcome and observes its latency.
func RecordCommand(op, result string, latencyMs float64) {
	globalManager.commandsTotal.WithLabelValues(op, result).Inc()
	globalManager.commandLatency.WithLabelValues(op).Observe(latencyMs)
}

// RecordRejection counts a validation rejection reason.
func RecordRejection(op, code string) { globalManager.rejections.WithLabelValues(op, code).Inc() }

// Bidding.

// RecordBid counts an accepted bid.
func RecordBid(amount int) {
	globalManager.bidsPlaced.Inc()
	globalManager.bidAmount.Observe(float64(amount))
}

// RecordTurnSkipped counts a skipped turn; cause is "manual" or "timeout".
func RecordTurnSkipped(cause string) { globalManager.turnsSkipped.WithLabelValues(cause).Inc() }

// Timers.

// RecordTimerScheduled counts a scheduled timer.
func RecordTimerScheduled(kind string) { globalManager.timersScheduled.WithLabelValues(kind).Inc() }

// RecordTimerFired counts a delivered fire.
func RecordTimerFired(kind string) { globalManager.timersFired.WithLabelValues(kind).Inc() }

// RecordTimerStale counts a fire that arrived after its timer was replaced.
func RecordTimerStale(kind string) { globalManager.timersStale.WithLabelValues(kind).Inc() }

// RecordTimerCancelled counts a cancelled timer.
func RecordTimerCancelled(kind string) { globalManager.timersCancelled.WithLabelValues(kind).Inc() }

// UpdateTimersActive sets the number of outstanding timers.
func UpdateTimersActive(n int) { globalManager.timersActive.Set(float64(n)) }

// Event bus.

// RecordEventPublished counts a published event.
func RecordEventPublished(topic string) { globalManager.eventsPublished.WithLabelValues(topic).Inc() }

// RecordEventHandlerFailure counts a handler error or panic.
func RecordEventHandlerFailure(topic string) {
	globalManager.eventHandlerFailure.WithLabelValues(topic).Inc()
}

// UpdateEventSubscribers sets the number of subscriptions.
func UpdateEventSubscribers(n int) { globalManager.eventSubscribers.Set(float64(n)) }

// Persistence.

// RecordPersist counts a repository operation and observes its latency.
func RecordPersist(op, result string, latencyMs float64) {
	globalManager.persistOps.WithLabelValues(op, result).Inc()
	globalManager.persistLatency.WithLabelValues(op).Observe(latencyMs)
}

// RecordPersistDropped counts a dropped persistence job.
func RecordPersistDropped() { globalManager.persistDropped.Inc() }

// RecordArchivesSwept counts deleted archives.
func RecordArchivesSwept(n int) { globalManager.archivesSwept.Add(float64(n)) }

// Queues.

// RecordQueueEnqueue counts an enqueue on the named queue.
func RecordQueueEnqueue(queue string) { globalManager.queueEnqueued.WithLabelValues(queue).Inc() }

// RecordQueueDequeue counts a dequeue on the named queue.
func RecordQueueDequeue(queue string) { globalManager.queueDequeued.WithLabelValues(queue).Inc() }

// RecordQueueError counts an enqueue failure.
func RecordQueueError(queue, reason string) {
	globalManager.queueErrors.WithLabelValues(queue, reason).Inc()
}

// AddQueueDepth adjusts the depth gauge of the named queue.
func AddQueueDepth(queue string, delta int) {
	globalManager.queueDepth.WithLabelValues(queue).Add(float64(delta))
}

// Integrity.

// RecordInvariantViolation counts a force-cancel caused by a consistency failure.
func RecordInvariantViolation() { globalManager.invariantViolations.Inc() }

// RecordDuplicateCommand counts a command dropped by idempotency key.
func RecordDuplicateCommand() { globalManager.duplicateCommands.Inc() }

// HTTP.

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration in seconds.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorsByComponent.WithLabelValues(component, errorType).Inc()
}

// System.

// UpdateSystemMemoryUsage sets heap usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) { globalManager.systemMemoryUsage.Set(float64(bytes)) }

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) { globalManager.systemGoroutineCount.Set(float64(count)) }

// RecordSystemGCPauseTime records GC pause time in milliseconds.
func RecordSystemGCPauseTime(pauseMs float64) { globalManager.systemGCPauseTime.Observe(pauseMs) }

// GetRegistry returns the registry backing /metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
