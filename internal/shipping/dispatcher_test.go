package shipping

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/lvonguyen/edrsensor/internal/events"
	"github.com/lvonguyen/edrsensor/internal/observability"
	"github.com/lvonguyen/edrsensor/internal/queue"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

// recordingSink keeps a copy of every batch it receives.
type recordingSink struct {
	name string
	err  error

	mu      sync.Mutex
	batches [][]events.SecurityEvent
	closed  bool
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Send(_ context.Context, batch []events.SecurityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, append([]events.SecurityEvent(nil), batch...))
	return s.err
}

func (s *recordingSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *recordingSink) received() []events.SecurityEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []events.SecurityEvent
	for _, b := range s.batches {
		out = append(out, b...)
	}
	return out
}

func (s *recordingSink) batchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.batches)
}

func fileEvent(path string, sev events.Severity) events.SecurityEvent {
	return events.FileEvent(events.FileModified, path, "agent-001").Severity(sev).Build()
}

func runDispatcher(t *testing.T, d *Dispatcher) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()
	return cancel, done
}

func waitDone(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("dispatcher did not stop")
		return nil
	}
}

func TestDispatcherDeliversInOrderSingleWorker(t *testing.T) {
	q := queue.New[events.SecurityEvent]()
	sink := &recordingSink{name: "rec"}
	d := NewDispatcher(q, []Sink{sink}, DispatcherConfig{Workers: 1, BatchSize: 3, FlushInterval: 20 * time.Millisecond}, zaptest.NewLogger(t), nil)

	var want []string
	for _, p := range []string{"/a", "/b", "/c", "/d", "/e"} {
		require.True(t, q.Push(fileEvent(p, events.SeverityInfo)))
		want = append(want, p)
	}
	q.Close()

	_, done := runDispatcher(t, d)
	require.NoError(t, waitDone(t, done))

	var got []string
	for _, ev := range sink.received() {
		got = append(got, ev.Details["file_path"])
	}
	assert.Equal(t, want, got)
	assert.Equal(t, int64(5), d.Stats().Dispatched)
	assert.Equal(t, int64(2), d.Stats().Batches)
}

func TestDispatcherFlushesOnInterval(t *testing.T) {
	q := queue.New[events.SecurityEvent]()
	sink := &recordingSink{name: "rec"}
	d := NewDispatcher(q, []Sink{sink}, DispatcherConfig{Workers: 1, BatchSize: 100, FlushInterval: 10 * time.Millisecond}, nil, nil)

	cancel, done := runDispatcher(t, d)
	defer cancel()

	q.Push(fileEvent("/a", events.SeverityInfo))

	require.Eventually(t, func() bool { return len(sink.received()) == 1 }, 2*time.Second, 5*time.Millisecond)

	q.Close()
	require.NoError(t, waitDone(t, done))
}

func TestDispatcherMinSeverityFilter(t *testing.T) {
	q := queue.New[events.SecurityEvent]()
	sink := &recordingSink{name: "rec"}
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	d := NewDispatcher(q, []Sink{sink}, DispatcherConfig{Workers: 1, MinSeverity: events.SeverityMedium}, nil, metrics)

	for _, sev := range events.AllSeverities() {
		q.Push(fileEvent("/"+sev.String(), sev))
	}
	q.Close()

	_, done := runDispatcher(t, d)
	require.NoError(t, waitDone(t, done))

	var got []events.Severity
	for _, ev := range sink.received() {
		got = append(got, ev.Severity)
	}
	assert.Equal(t, []events.Severity{events.SeverityMedium, events.SeverityHigh, events.SeverityCritical}, got)
	assert.Equal(t, int64(2), d.Stats().Filtered)
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.EventsFiltered))
}

func TestDispatcherSinkFailureDoesNotStopOthers(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	q := queue.New[events.SecurityEvent]()
	bad := &recordingSink{name: "bad", err: errors.New("connection refused")}
	good := &recordingSink{name: "good"}
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	d := NewDispatcher(q, []Sink{bad, good}, DispatcherConfig{Workers: 1, BatchSize: 1}, zap.New(core), metrics)

	q.Push(fileEvent("/a", events.SeverityHigh))
	q.Push(fileEvent("/b", events.SeverityHigh))
	q.Close()

	_, done := runDispatcher(t, d)
	require.NoError(t, waitDone(t, done))

	assert.Len(t, good.received(), 2)
	assert.Equal(t, int64(2), d.Stats().SinkFailures)
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.SinkFailures.WithLabelValues("bad")))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.SinkSends.WithLabelValues("good")))
	assert.Equal(t, 2, logs.FilterMessage("Sink delivery failed").Len())
}

func TestDispatcherTracesDelivery(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	q := queue.New[events.SecurityEvent]()
	bad := &recordingSink{name: "bad", err: errors.New("connection refused")}
	good := &recordingSink{name: "good"}
	d := NewDispatcher(q, []Sink{bad, good}, DispatcherConfig{Workers: 1, BatchSize: 2}, zaptest.NewLogger(t), nil,
		WithTracer(tp.Tracer("test")))

	q.Push(fileEvent("/a", events.SeverityHigh))
	q.Push(fileEvent("/b", events.SeverityHigh))
	q.Close()

	_, done := runDispatcher(t, d)
	require.NoError(t, waitDone(t, done))

	spans := recorder.Ended()
	require.Len(t, spans, 3)

	sends := map[string]sdktrace.ReadOnlySpan{}
	var deliver sdktrace.ReadOnlySpan
	for _, s := range spans {
		switch s.Name() {
		case "sink.send":
			for _, kv := range s.Attributes() {
				if kv.Key == "sink" {
					sends[kv.Value.AsString()] = s
				}
			}
		case "dispatcher.deliver":
			deliver = s
		}
	}
	require.NotNil(t, deliver)
	require.Len(t, sends, 2)

	assert.Contains(t, deliver.Attributes(), attribute.Int("batch.size", 2))
	assert.Equal(t, codes.Error, deliver.Status().Code)
	assert.Equal(t, codes.Error, sends["bad"].Status().Code)
	assert.Len(t, sends["bad"].Events(), 1)
	assert.Equal(t, codes.Unset, sends["good"].Status().Code)
	for _, s := range sends {
		assert.Equal(t, deliver.SpanContext().SpanID(), s.Parent().SpanID())
	}
}

func TestDispatcherCancelFlushesPending(t *testing.T) {
	q := queue.New[events.SecurityEvent]()
	sink := &recordingSink{name: "rec"}
	d := NewDispatcher(q, []Sink{sink}, DispatcherConfig{Workers: 1, BatchSize: 100, FlushInterval: time.Hour}, nil, nil)

	cancel, done := runDispatcher(t, d)
	q.Push(fileEvent("/a", events.SeverityInfo))
	q.Push(fileEvent("/b", events.SeverityInfo))

	require.Eventually(t, func() bool { return q.Len() == 0 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	err := waitDone(t, done)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, sink.received(), 2)
}

func TestDispatcherMultipleWorkersDeliverExactlyOnce(t *testing.T) {
	q := queue.New[events.SecurityEvent]()
	sink := &recordingSink{name: "rec"}
	d := NewDispatcher(q, []Sink{sink}, DispatcherConfig{Workers: 4, BatchSize: 7, FlushInterval: 5 * time.Millisecond}, nil, nil)

	cancel, done := runDispatcher(t, d)
	defer cancel()

	const n = 500
	for i := 0; i < n; i++ {
		q.Push(events.New(events.FileCreated, events.SeverityInfo, "agent-001", "x").
			Detail("seq", strconv.Itoa(i)).
			Build())
	}
	q.Close()
	require.NoError(t, waitDone(t, done))

	seen := make(map[string]int)
	for _, ev := range sink.received() {
		seen[ev.Details["seq"]]++
	}
	assert.Len(t, seen, n)
	for k, c := range seen {
		assert.Equal(t, 1, c, k)
	}
	assert.GreaterOrEqual(t, sink.batchCount(), n/7)
}

func TestNewDispatcherDefaults(t *testing.T) {
	d := NewDispatcher(queue.New[events.SecurityEvent](), nil, DispatcherConfig{}, nil, nil)
	assert.Equal(t, DefaultDispatcherConfig(), d.config)
}
