package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight *prometheus.GaugeVec

	// Circuit breaker metrics
	BreakerState            *prometheus.GaugeVec
	BreakerTransitionsTotal *prometheus.CounterVec
	BreakerRejectionsTotal  *prometheus.CounterVec
	GuardedCallsTotal       *prometheus.CounterVec
	GuardedCallDuration     *prometheus.HistogramVec

	// Memory metrics
	MemoryMode           prometheus.Gauge
	MemoryPressure       prometheus.Gauge
	MemoryUsedBytes      prometheus.Gauge
	MemoryAvailableBytes prometheus.Gauge
	SamplingErrorsTotal  prometheus.Counter
	ModeChangesTotal     *prometheus.CounterVec

	// Cache metrics
	CacheHitsTotal      *prometheus.CounterVec
	CacheMissesTotal    *prometheus.CounterVec
	CacheEvictionsTotal *prometheus.CounterVec

	// Model loader metrics
	ModelLoaded       prometheus.Gauge
	ModelLoadsTotal   *prometheus.CounterVec
	ModelLoadDuration prometheus.Histogram

	// Error metrics
	ErrorsTotal           *prometheus.CounterVec
	PanicsTotal           *prometheus.CounterVec
	ObserverFailuresTotal *prometheus.CounterVec
}

// Config holds metrics configuration
type Config struct {
	Namespace string `json:"namespace"`
	Subsystem string `json:"subsystem"`
	Enabled   bool   `json:"enabled"`
}

// DefaultConfig returns default metrics configuration
func DefaultConfig() *Config {
	return &Config{
		Namespace: "localmind",
		Subsystem: "",
		Enabled:   true,
	}
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(config *Config) *Metrics {
	if config == nil {
		config = DefaultConfig()
	}

	if !config.Enabled {
		return &Metrics{}
	}

	m := &Metrics{
		// HTTP metrics
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path", "status_code"},
		),
		HTTPRequestsInFlight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "http_requests_in_flight",
				Help:      "Number of HTTP requests currently being processed",
			},
			[]string{"method", "path"},
		),

		// Circuit breaker metrics
		BreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "breaker_state",
				Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open)",
			},
			[]string{"breaker"},
		),
		BreakerTransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "breaker_transitions_total",
				Help:      "Total number of circuit breaker state transitions",
			},
			[]string{"breaker", "from", "to"},
		),
		BreakerRejectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "breaker_rejections_total",
				Help:      "Total number of calls rejected without invoking the dependency",
			},
			[]string{"breaker"},
		),
		GuardedCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "guarded_calls_total",
				Help:      "Total number of guarded dependency calls",
			},
			[]string{"breaker", "status"},
		),
		GuardedCallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "guarded_call_duration_seconds",
				Help:      "Guarded dependency call duration in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"breaker"},
		),

		// Memory metrics
		MemoryMode: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "memory_mode",
				Help:      "Current operating mode (0=full, 1=lite, 2=minimal)",
			},
		),
		MemoryPressure: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "memory_pressure",
				Help:      "Fraction of system memory in use",
			},
		),
		MemoryUsedBytes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "memory_used_bytes",
				Help:      "Bytes of system memory in use at the last sample",
			},
		),
		MemoryAvailableBytes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "memory_available_bytes",
				Help:      "Bytes of system memory available at the last sample",
			},
		),
		SamplingErrorsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "memory_sampling_errors_total",
				Help:      "Total number of failed memory samples",
			},
		),
		ModeChangesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "memory_mode_changes_total",
				Help:      "Total number of operating mode changes",
			},
			[]string{"from", "to"},
		),

		// Cache metrics
		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "cache_hits_total",
				Help:      "Total number of cache hits",
			},
			[]string{"cache"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "cache_misses_total",
				Help:      "Total number of cache misses",
			},
			[]string{"cache"},
		),
		CacheEvictionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "cache_evictions_total",
				Help:      "Total number of cache evictions",
			},
			[]string{"cache"},
		),

		// Model loader metrics
		ModelLoaded: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "model_loaded",
				Help:      "Whether the inference model is currently loaded (0 or 1)",
			},
		),
		ModelLoadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "model_loads_total",
				Help:      "Total number of model load attempts",
			},
			[]string{"status"},
		),
		ModelLoadDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "model_load_duration_seconds",
				Help:      "Model construction duration in seconds",
				Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
			},
		),

		// Error metrics
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "errors_total",
				Help:      "Total number of errors",
			},
			[]string{"component", "error_type"},
		),
		PanicsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "panics_total",
				Help:      "Total number of panics",
			},
			[]string{"component"},
		),
		ObserverFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "observer_failures_total",
				Help:      "Total number of pressure observer callback failures",
			},
			[]string{"observer"},
		),
	}

	// Register all metrics
	prometheus.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.BreakerState,
		m.BreakerTransitionsTotal,
		m.BreakerRejectionsTotal,
		m.GuardedCallsTotal,
		m.GuardedCallDuration,
		m.MemoryMode,
		m.MemoryPressure,
		m.MemoryUsedBytes,
		m.MemoryAvailableBytes,
		m.SamplingErrorsTotal,
		m.ModeChangesTotal,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.CacheEvictionsTotal,
		m.ModelLoaded,
		m.ModelLoadsTotal,
		m.ModelLoadDuration,
		m.ErrorsTotal,
		m.PanicsTotal,
		m.ObserverFailuresTotal,
	)

	return m
}

// RecordHTTPRequest records HTTP request metrics
func (m *Metrics) RecordHTTPRequest(method, path string, statusCode int, duration time.Duration) {
	if m.HTTPRequestsTotal == nil {
		return
	}

	statusStr := strconv.Itoa(statusCode)
	m.HTTPRequestsTotal.WithLabelValues(method, path, statusStr).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path, statusStr).Observe(duration.Seconds())
}

// RecordBreakerTransition records a circuit breaker state transition
func (m *Metrics) RecordBreakerTransition(breaker, from, to string, stateValue int) {
	if m.BreakerTransitionsTotal == nil {
		return
	}

	m.BreakerTransitionsTotal.WithLabelValues(breaker, from, to).Inc()
	m.BreakerState.WithLabelValues(breaker).Set(float64(stateValue))
}

// RecordBreakerRejection records a call rejected by an open breaker
func (m *Metrics) RecordBreakerRejection(breaker string) {
	if m.BreakerRejectionsTotal == nil {
		return
	}

	m.BreakerRejectionsTotal.WithLabelValues(breaker).Inc()
}

// RecordGuardedCall records the outcome of a guarded dependency call
func (m *Metrics) RecordGuardedCall(breaker, status string, duration time.Duration) {
	if m.GuardedCallsTotal == nil {
		return
	}

	m.GuardedCallsTotal.WithLabelValues(breaker, status).Inc()
	m.GuardedCallDuration.WithLabelValues(breaker).Observe(duration.Seconds())
}

// UpdateMemorySample updates memory gauges from the latest sample
func (m *Metrics) UpdateMemorySample(usedBytes, availableBytes uint64, pressure float64) {
	if m.MemoryUsedBytes == nil {
		return
	}

	m.MemoryUsedBytes.Set(float64(usedBytes))
	m.MemoryAvailableBytes.Set(float64(availableBytes))
	m.MemoryPressure.Set(pressure)
}

// RecordModeChange records an operating mode change
func (m *Metrics) RecordModeChange(from, to string, modeValue int) {
	if m.ModeChangesTotal == nil {
		return
	}

	m.ModeChangesTotal.WithLabelValues(from, to).Inc()
	m.MemoryMode.Set(float64(modeValue))
}

// RecordSamplingError records a failed memory sample
func (m *Metrics) RecordSamplingError() {
	if m.SamplingErrorsTotal == nil {
		return
	}

	m.SamplingErrorsTotal.Inc()
}

// RecordCacheHit records a cache hit
func (m *Metrics) RecordCacheHit(cache string) {
	if m.CacheHitsTotal == nil {
		return
	}

	m.CacheHitsTotal.WithLabelValues(cache).Inc()
}

// RecordCacheMiss records a cache miss
func (m *Metrics) RecordCacheMiss(cache string) {
	if m.CacheMissesTotal == nil {
		return
	}

	m.CacheMissesTotal.WithLabelValues(cache).Inc()
}

// RecordCacheEviction records a cache eviction
func (m *Metrics) RecordCacheEviction(cache string) {
	if m.CacheEvictionsTotal == nil {
		return
	}

	m.CacheEvictionsTotal.WithLabelValues(cache).Inc()
}

// RecordModelLoad records a model load attempt
func (m *Metrics) RecordModelLoad(status string, duration time.Duration) {
	if m.ModelLoadsTotal == nil {
		return
	}

	m.ModelLoadsTotal.WithLabelValues(status).Inc()
	m.ModelLoadDuration.Observe(duration.Seconds())
}

// SetModelLoaded updates the loaded gauge
func (m *Metrics) SetModelLoaded(loaded bool) {
	if m.ModelLoaded == nil {
		return
	}

	if loaded {
		m.ModelLoaded.Set(1)
	} else {
		m.ModelLoaded.Set(0)
	}
}

// RecordError records error metrics
func (m *Metrics) RecordError(component, errorType string) {
	if m.ErrorsTotal == nil {
		return
	}

	m.ErrorsTotal.WithLabelValues(component, errorType).Inc()
}

// RecordPanic records panic metrics
func (m *Metrics) RecordPanic(component string) {
	if m.PanicsTotal == nil {
		return
	}

	m.PanicsTotal.WithLabelValues(component).Inc()
}

// RecordObserverFailure records a pressure observer callback failure
func (m *Metrics) RecordObserverFailure(observer string) {
	if m.ObserverFailuresTotal == nil {
		return
	}

	m.ObserverFailuresTotal.WithLabelValues(observer).Inc()
}

// PrometheusMiddleware creates a middleware for Prometheus metrics collection
func (m *Metrics) PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m.HTTPRequestsInFlight != nil {
			m.HTTPRequestsInFlight.WithLabelValues(c.Request.Method, c.FullPath()).Inc()
			defer m.HTTPRequestsInFlight.WithLabelValues(c.Request.Method, c.FullPath()).Dec()
		}

		start := time.Now()
		c.Next()
		duration := time.Since(start)

		m.RecordHTTPRequest(c.Request.Method, c.FullPath(), c.Writer.Status(), duration)
	}
}

// Handler returns the Prometheus metrics HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}
