package engine

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// OpMetric tracks count/error/latency for one named operation, mirrored
// onto Prometheus collectors for scraping and exposed via Snapshot for the
// host API's own diagnostics surface.
type OpMetric struct {
	Count        int
	Errors       int
	TotalNs      int64
	MaxNs        int64
	LastNs       int64
}

// MetricsSnapshot is the point-in-time view of engine operation metrics.
type MetricsSnapshot struct {
	ErrorCounters map[string]int
	OpStats       map[string]OpMetric
	RetryAttempts int
	LastUpdatedAt time.Time
}

// Metrics is the engine's operation metrics state, mirrored onto
// Prometheus collectors registered against reg.
type Metrics struct {
	mu            sync.RWMutex
	errorCounters map[string]int
	opMetrics     map[string]*OpMetric
	retryAttempts int
	lastUpdatedAt time.Time

	opCounter     *prometheus.CounterVec
	opErrors      *prometheus.CounterVec
	opLatency     *prometheus.HistogramVec
	retryCounter  prometheus.Counter
	dhtPoolGauge  prometheus.Gauge
	eventBacklog  prometheus.Gauge
}

// NewMetrics constructs a Metrics registered against reg. Pass
// prometheus.NewRegistry() in tests to avoid collisions with the process
// default registry across repeated engine construction.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		errorCounters: map[string]int{"api": 0, "network": 0, "crypto": 0, "storage": 0},
		opMetrics:     map[string]*OpMetric{},
		opCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dna_messenger",
			Name:      "operation_total",
			Help:      "Count of engine operations by name.",
		}, []string{"operation"}),
		opErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dna_messenger",
			Name:      "operation_errors_total",
			Help:      "Count of engine operation failures by name.",
		}, []string{"operation"}),
		opLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "dna_messenger",
			Name:      "operation_latency_seconds",
			Help:      "Engine operation latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		retryCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dna_messenger",
			Name:      "dht_retry_attempts_total",
			Help:      "Count of DHT put retry attempts observed by the engine heartbeat.",
		}),
		dhtPoolGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dna_messenger",
			Name:      "dht_worker_pool_in_use",
			Help:      "Current in-flight DHT worker pool slots.",
		}),
		eventBacklog: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dna_messenger",
			Name:      "event_channel_backlog",
			Help:      "Approximate depth of the host event dispatch channel.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.opCounter, m.opErrors, m.opLatency, m.retryCounter, m.dhtPoolGauge, m.eventBacklog)
	}
	return m
}

// RecordOp records one completed operation's latency, grouped by name.
func (m *Metrics) RecordOp(operation string, started time.Time) {
	latency := time.Since(started)
	m.mu.Lock()
	defer m.mu.Unlock()
	metric, ok := m.opMetrics[operation]
	if !ok {
		metric = &OpMetric{}
		m.opMetrics[operation] = metric
	}
	ns := latency.Nanoseconds()
	metric.Count++
	metric.TotalNs += ns
	metric.LastNs = ns
	if ns > metric.MaxNs {
		metric.MaxNs = ns
	}
	m.lastUpdatedAt = time.Now()
	m.opCounter.WithLabelValues(operation).Inc()
	m.opLatency.WithLabelValues(operation).Observe(latency.Seconds())
}

// RecordOpError records a failed operation, grouped by name and category.
func (m *Metrics) RecordOpError(operation string, category string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	metric, ok := m.opMetrics[operation]
	if !ok {
		metric = &OpMetric{}
		m.opMetrics[operation] = metric
	}
	metric.Errors++
	if category != "" {
		m.errorCounters[category] = m.errorCounters[category] + 1
	}
	m.lastUpdatedAt = time.Now()
	m.opErrors.WithLabelValues(operation).Inc()
}

// RecordRetryAttempt records one DHT put retry observed by the heartbeat.
func (m *Metrics) RecordRetryAttempt() {
	m.mu.Lock()
	m.retryAttempts++
	m.lastUpdatedAt = time.Now()
	m.mu.Unlock()
	m.retryCounter.Inc()
}

// SetDHTPoolInUse reports the DHT worker pool's current occupancy.
func (m *Metrics) SetDHTPoolInUse(n int) { m.dhtPoolGauge.Set(float64(n)) }

// SetEventBacklog reports the host event channel's current depth.
func (m *Metrics) SetEventBacklog(n int) { m.eventBacklog.Set(float64(n)) }

// Snapshot returns the current metrics state.
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counters := make(map[string]int, len(m.errorCounters))
	for k, v := range m.errorCounters {
		counters[k] = v
	}
	opStats := make(map[string]OpMetric, len(m.opMetrics))
	for name, metric := range m.opMetrics {
		opStats[name] = *metric
	}
	return MetricsSnapshot{
		ErrorCounters: counters,
		OpStats:       opStats,
		RetryAttempts: m.retryAttempts,
		LastUpdatedAt: m.lastUpdatedAt,
	}
}
