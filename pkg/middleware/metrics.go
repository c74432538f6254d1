// Package middleware provides invocation middleware for the dispatch
// layer: Prometheus metrics and OpenTelemetry tracing around handler
// execution.
package middleware

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/databench/databench/pkg/server"
)

// MetricsConfig configures the Prometheus metrics middleware.
type MetricsConfig struct {
	// Namespace is the metrics namespace (default: "databench").
	Namespace string

	// Subsystem is the metrics subsystem (default: "").
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Buckets are the histogram buckets for handler duration.
	// Default: prometheus.DefBuckets.
	Buckets []float64

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer.
	Registry prometheus.Registerer
}

// MetricsOption configures the Prometheus metrics middleware.
type MetricsOption func(*MetricsConfig)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Namespace = namespace
	}
}

// WithSubsystem sets the metrics subsystem.
func WithSubsystem(subsystem string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Subsystem = subsystem
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) MetricsOption {
	return func(c *MetricsConfig) {
		c.ConstLabels = labels
	}
}

// WithBuckets sets the histogram buckets.
func WithBuckets(buckets []float64) MetricsOption {
	return func(c *MetricsConfig) {
		c.Buckets = buckets
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) MetricsOption {
	return func(c *MetricsConfig) {
		c.Registry = registry
	}
}

// defaultMetricsConfig returns the default metrics configuration.
func defaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Namespace: "databench",
		Buckets:   prometheus.DefBuckets,
		Registry:  prometheus.DefaultRegisterer,
	}
}

// metrics holds the Prometheus metrics for the dispatch layer.
type metrics struct {
	invocationsTotal *prometheus.CounterVec
	handlerDuration  *prometheus.HistogramVec
	handlerPanics    *prometheus.CounterVec
	activeSessions   prometheus.Gauge
	sessionsTotal    prometheus.Counter
}

// globalMetrics is the singleton metrics instance, created on first call
// to Prometheus().
var (
	globalMetrics   *metrics
	globalMetricsMu sync.Mutex
)

// initMetrics initializes the Prometheus metrics.
func initMetrics(config MetricsConfig) *metrics {
	factory := promauto.With(config.Registry)

	return &metrics{
		invocationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "handler_invocations_total",
			Help:        "Total handler invocations by analysis, signal, and status",
			ConstLabels: config.ConstLabels,
		}, []string{"analysis", "signal", "status"}),

		handlerDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "handler_duration_seconds",
			Help:        "Handler invocation duration in seconds",
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		}, []string{"analysis", "signal"}),

		handlerPanics: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "handler_panics_total",
			Help:        "Total handler panics by analysis",
			ConstLabels: config.ConstLabels,
		}, []string{"analysis"}),

		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "active_sessions",
			Help:        "Number of active analysis sessions",
			ConstLabels: config.ConstLabels,
		}),

		sessionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "sessions_total",
			Help:        "Total analysis sessions created",
			ConstLabels: config.ConstLabels,
		}),
	}
}

// Prometheus creates middleware that collects metrics for every handler
// invocation.
//
// Metrics collected:
//   - databench_handler_invocations_total by analysis, signal, status
//   - databench_handler_duration_seconds by analysis, signal
//   - databench_handler_panics_total by analysis
//   - databench_active_sessions (via RecordSessionCreate/Destroy)
//   - databench_sessions_total
//
// Expose them with promhttp; the built-in server mounts /metrics.
func Prometheus(opts ...MetricsOption) server.Middleware {
	config := defaultMetricsConfig()
	for _, opt := range opts {
		opt(&config)
	}

	globalMetricsMu.Lock()
	if globalMetrics == nil {
		globalMetrics = initMetrics(config)
	}
	m := globalMetrics
	globalMetricsMu.Unlock()

	return func(next server.InvokeFunc) server.InvokeFunc {
		return func(ctx context.Context, inv *server.Invocation) error {
			start := time.Now()

			err := next(ctx, inv)

			m.handlerDuration.WithLabelValues(inv.Analysis, inv.Signal).
				Observe(time.Since(start).Seconds())

			status := "success"
			if err != nil {
				status = "panic"
				m.handlerPanics.WithLabelValues(inv.Analysis).Inc()
			}
			m.invocationsTotal.WithLabelValues(inv.Analysis, inv.Signal, status).Inc()

			return err
		}
	}
}

// RecordSessionCreate records a new session creation. Wire it to
// SessionManager.SetOnSessionCreate.
func RecordSessionCreate() {
	if globalMetrics != nil {
		globalMetrics.activeSessions.Inc()
		globalMetrics.sessionsTotal.Inc()
	}
}

// RecordSessionDestroy records a session close. Wire it to
// SessionManager.SetOnSessionClose.
func RecordSessionDestroy() {
	if globalMetrics != nil {
		globalMetrics.activeSessions.Dec()
	}
}
