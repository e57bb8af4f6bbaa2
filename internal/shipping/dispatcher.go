package shipping

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lvonguyen/edrsensor/internal/events"
	"github.com/lvonguyen/edrsensor/internal/observability"
	"github.com/lvonguyen/edrsensor/internal/queue"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "github.com/lvonguyen/edrsensor/internal/shipping"

// DispatcherConfig controls batching and filtering.
type DispatcherConfig struct {
	Workers       int             `yaml:"workers"`
	BatchSize     int             `yaml:"batch_size"`
	FlushInterval time.Duration   `yaml:"flush_interval"`
	FlushTimeout  time.Duration   `yaml:"flush_timeout"`
	MinSeverity   events.Severity `yaml:"min_severity"`
}

// DefaultDispatcherConfig returns sensible defaults.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		Workers:       2,
		BatchSize:     100,
		FlushInterval: 2 * time.Second,
		FlushTimeout:  10 * time.Second,
		MinSeverity:   events.SeverityInfo,
	}
}

// DispatcherStats tracks dispatcher activity.
type DispatcherStats struct {
	Dispatched   int64 `json:"events_dispatched"`
	Filtered     int64 `json:"events_filtered"`
	Batches      int64 `json:"batches"`
	SinkFailures int64 `json:"sink_failures"`
}

// Dispatcher drains a queue and fans batches out to every sink. A failing
// sink is logged and counted; it never stops delivery to the others.
type Dispatcher struct {
	queue   *queue.Queue[events.SecurityEvent]
	sinks   []Sink
	config  DispatcherConfig
	logger  *zap.Logger
	metrics *observability.Metrics
	tracer  trace.Tracer

	dispatched   atomic.Int64
	filtered     atomic.Int64
	batches      atomic.Int64
	sinkFailures atomic.Int64
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithTracer sets the tracer used for delivery spans. The global provider's
// tracer is used otherwise.
func WithTracer(tracer trace.Tracer) DispatcherOption {
	return func(d *Dispatcher) {
		if tracer != nil {
			d.tracer = tracer
		}
	}
}

// NewDispatcher creates a dispatcher. Zero config fields fall back to
// DefaultDispatcherConfig. logger and metrics may be nil.
func NewDispatcher(q *queue.Queue[events.SecurityEvent], sinks []Sink, cfg DispatcherConfig, logger *zap.Logger, metrics *observability.Metrics, opts ...DispatcherOption) *Dispatcher {
	defaults := DefaultDispatcherConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = defaults.Workers
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaults.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaults.FlushInterval
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = defaults.FlushTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	d := &Dispatcher{
		queue:   q,
		sinks:   sinks,
		config:  cfg,
		logger:  logger.With(zap.String("component", "dispatcher")),
		metrics: metrics,
		tracer:  otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run starts the workers and blocks until ctx is done or the queue is closed
// and drained. Events already batched are flushed before Run returns.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Info("Starting dispatcher",
		zap.Int("workers", d.config.Workers),
		zap.Int("batch_size", d.config.BatchSize),
		zap.Int("sinks", len(d.sinks)),
		zap.String("min_severity", d.config.MinSeverity.String()))

	var wg sync.WaitGroup
	for i := 0; i < d.config.Workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			d.worker(ctx, id)
		}(i)
	}
	wg.Wait()

	d.logger.Info("Dispatcher stopped", zap.Int64("events_dispatched", d.dispatched.Load()))
	return ctx.Err()
}

// Stats returns a snapshot of dispatcher counters.
func (d *Dispatcher) Stats() DispatcherStats {
	return DispatcherStats{
		Dispatched:   d.dispatched.Load(),
		Filtered:     d.filtered.Load(),
		Batches:      d.batches.Load(),
		SinkFailures: d.sinkFailures.Load(),
	}
}

// Sinks returns the configured sinks.
func (d *Dispatcher) Sinks() []Sink {
	return d.sinks
}

func (d *Dispatcher) worker(ctx context.Context, id int) {
	batch := make([]events.SecurityEvent, 0, d.config.BatchSize)
	deadline := time.Now().Add(d.config.FlushInterval)

	flush := func(ctx context.Context) {
		if len(batch) > 0 {
			d.deliver(ctx, batch)
			batch = batch[:0]
		}
		deadline = time.Now().Add(d.config.FlushInterval)
	}

	for {
		waitCtx, cancel := context.WithDeadline(ctx, deadline)
		ev, err := d.queue.Recv(waitCtx)
		cancel()

		switch {
		case err == nil:
			d.observeDepth()
			if !ev.Severity.AtLeast(d.config.MinSeverity) {
				d.filtered.Add(1)
				if d.metrics != nil {
					d.metrics.EventsFiltered.Inc()
				}
				continue
			}
			batch = append(batch, ev)
			if len(batch) >= d.config.BatchSize {
				flush(ctx)
			}

		case errors.Is(err, queue.ErrClosed):
			flush(ctx)
			d.logger.Debug("Queue closed, worker exiting", zap.Int("worker", id))
			return

		case ctx.Err() != nil:
			flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.config.FlushTimeout)
			flush(flushCtx)
			cancel()
			return

		default:
			flush(ctx)
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, batch []events.SecurityEvent) {
	ctx, span := d.tracer.Start(ctx, "dispatcher.deliver",
		trace.WithAttributes(
			attribute.Int("batch.size", len(batch)),
			attribute.Int("sinks", len(d.sinks))))
	defer span.End()

	d.batches.Add(1)
	d.dispatched.Add(int64(len(batch)))
	if d.metrics != nil {
		d.metrics.BatchSize.Observe(float64(len(batch)))
	}

	var failed int
	for _, sink := range d.sinks {
		sendCtx, sendSpan := d.tracer.Start(ctx, "sink.send",
			trace.WithSpanKind(trace.SpanKindProducer),
			trace.WithAttributes(attribute.String("sink", sink.Name())))
		start := time.Now()
		err := sink.Send(sendCtx, batch)
		if d.metrics != nil {
			d.metrics.SinkDuration.WithLabelValues(sink.Name()).Observe(time.Since(start).Seconds())
		}
		if err != nil {
			sendSpan.RecordError(err)
			sendSpan.SetStatus(codes.Error, err.Error())
		}
		sendSpan.End()

		if err != nil {
			failed++
			d.sinkFailures.Add(1)
			if d.metrics != nil {
				d.metrics.SinkFailures.WithLabelValues(sink.Name()).Inc()
			}
			d.logger.Error("Sink delivery failed",
				zap.String("sink", sink.Name()),
				zap.Int("batch_size", len(batch)),
				zap.Error(err))
			continue
		}

		if d.metrics != nil {
			d.metrics.SinkSends.WithLabelValues(sink.Name()).Add(float64(len(batch)))
		}
	}

	if failed > 0 {
		span.SetStatus(codes.Error, "sink delivery failed")
		span.SetAttributes(attribute.Int("sinks.failed", failed))
	}
}

func (d *Dispatcher) observeDepth() {
	if d.metrics != nil {
		d.metrics.QueueDepth.Set(float64(d.queue.Len()))
	}
}
