// Package observability provides logging, metrics and tracing for the sensor
package observability

import (
	"context"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Telemetry bundles the logger, metrics and tracer shared by sensor components
type Telemetry struct {
	logger       *zap.Logger
	tracer       trace.Tracer
	registry     *prometheus.Registry
	metrics      *Metrics
	config       Config
	shutdownOnce sync.Once
}

// Config configures telemetry
type Config struct {
	ServiceName    string `yaml:"service_name"`
	ServiceVersion string `yaml:"service_version"`
	AgentID        string `yaml:"agent_id"`

	// Logging
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"` // json, console

	// Metrics
	MetricsEnabled bool `yaml:"metrics_enabled"`
}

// Metrics holds Prometheus metrics for the sensor
type Metrics struct {
	// Collector metrics
	EventsEmitted   *prometheus.CounterVec
	EventsDiscarded prometheus.Counter
	WatchErrors     prometheus.Counter
	ActiveWatches   prometheus.Gauge

	// Queue metrics
	QueueDepth prometheus.Gauge

	// Shipping metrics
	SinkSends      *prometheus.CounterVec
	SinkFailures   *prometheus.CounterVec
	SinkDuration   *prometheus.HistogramVec
	BatchSize      prometheus.Histogram
	EventsFiltered prometheus.Counter

	// System metrics
	GoroutineCount prometheus.Gauge
	MemoryUsage    prometheus.Gauge
}

// New creates a new Telemetry instance
func New(cfg Config) (*Telemetry, error) {
	t := &Telemetry{
		config:   cfg,
		registry: prometheus.NewRegistry(),
	}

	logger, err := NewLogger(cfg)
	if err != nil {
		return nil, err
	}
	t.logger = logger

	// Spans go to whatever provider the process has installed globally.
	t.tracer = otel.Tracer(cfg.ServiceName)

	if cfg.MetricsEnabled {
		t.metrics = NewMetrics(t.registry)
	}

	return t, nil
}

// NewLogger builds a structured logger from cfg
func NewLogger(cfg Config) (*zap.Logger, error) {
	var config zap.Config

	if cfg.LogFormat == "console" {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		config = zap.NewProductionConfig()
		config.EncoderConfig.TimeKey = "timestamp"
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	config.Level = zap.NewAtomicLevelAt(ParseLevel(cfg.LogLevel))

	config.InitialFields = map[string]interface{}{
		"service":  cfg.ServiceName,
		"version":  cfg.ServiceVersion,
		"agent_id": cfg.AgentID,
	}

	return config.Build()
}

// ParseLevel maps a configured level name to a zap level, defaulting to info
func ParseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zap.DebugLevel
	case "warn":
		return zap.WarnLevel
	case "error":
		return zap.ErrorLevel
	default:
		return zap.InfoLevel
	}
}

// NewMetrics registers sensor metrics on reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	namespace := "edrsensor"
	factory := promauto.With(reg)

	return &Metrics{
		EventsEmitted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_emitted_total",
				Help:      "Security events enqueued by collectors",
			},
			[]string{"event_type", "severity"},
		),
		EventsDiscarded: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notifications_discarded_total",
				Help:      "Raw notifications that produced no security event",
			},
		),
		WatchErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "watch_errors_total",
				Help:      "Errors reported by the watch mechanism during active sessions",
			},
		),
		ActiveWatches: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_watches",
				Help:      "Watch sessions currently held",
			},
		),
		QueueDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "queue_depth",
				Help:      "Events waiting in the output queue",
			},
		),
		SinkSends: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sink_events_sent_total",
				Help:      "Events delivered by sink",
			},
			[]string{"sink"},
		),
		SinkFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sink_failures_total",
				Help:      "Failed batch deliveries by sink",
			},
			[]string{"sink"},
		),
		SinkDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "sink_send_duration_seconds",
				Help:      "Batch delivery duration by sink",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
			},
			[]string{"sink"},
		),
		BatchSize: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "dispatch_batch_size",
				Help:      "Events per dispatched batch",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
			},
		),
		EventsFiltered: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_filtered_total",
				Help:      "Events dropped by the dispatcher severity filter",
			},
		),
		GoroutineCount: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "goroutine_count",
				Help:      "Current goroutine count",
			},
		),
		MemoryUsage: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "memory_usage_bytes",
				Help:      "Current memory usage in bytes",
			},
		),
	}
}

// Logger returns the logger
func (t *Telemetry) Logger() *zap.Logger {
	return t.logger
}

// Tracer returns the tracer
func (t *Telemetry) Tracer() trace.Tracer {
	return t.tracer
}

// Metrics returns the metrics, nil when metrics are disabled
func (t *Telemetry) Metrics() *Metrics {
	return t.metrics
}

// MetricsHandler returns the Prometheus metrics handler
func (t *Telemetry) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{Registry: t.registry})
}

// StartSystemMetricsCollector starts collecting system metrics and the
// depth reported by depth, which may be nil
func (t *Telemetry) StartSystemMetricsCollector(ctx context.Context, interval time.Duration, depth func() int) {
	if t.metrics == nil || interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-ctx.Done():
				ticker.Stop()
				return
			case <-ticker.C:
				t.metrics.GoroutineCount.Set(float64(runtime.NumGoroutine()))
				var m runtime.MemStats
				runtime.ReadMemStats(&m)
				t.metrics.MemoryUsage.Set(float64(m.Alloc))
				if depth != nil {
					t.metrics.QueueDepth.Set(float64(depth()))
				}
			}
		}
	}()
}

// Shutdown flushes the logger. Sync errors on console file descriptors are
// ignored.
func (t *Telemetry) Shutdown() {
	t.shutdownOnce.Do(func() {
		_ = t.logger.Sync()
	})
}
