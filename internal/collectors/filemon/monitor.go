// Package filemon observes filesystem subtrees and turns change
// notifications into security events.
package filemon

import (
	"os"
	"sync"
	"sync/atomic"

	"github.com/lvonguyen/edrsensor/internal/events"
	"github.com/lvonguyen/edrsensor/internal/observability"
	"github.com/lvonguyen/edrsensor/internal/queue"
	"github.com/lvonguyen/edrsensor/internal/watch"
	"go.uber.org/zap"
)

// Monitor watches one filesystem subtree at a time and pushes classified
// events onto its output queue.
type Monitor struct {
	out     *queue.Queue[events.SecurityEvent]
	agentID string
	backend watch.Backend
	logger  *zap.Logger
	metrics *observability.Metrics

	mu      sync.Mutex
	session watch.Session
	path    string

	emitted     atomic.Int64
	discarded   atomic.Int64
	watchErrors atomic.Int64
	sendErrors  atomic.Int64
}

// Stats reports monitor counters.
type Stats struct {
	Path        string `json:"path"`
	Active      bool   `json:"active"`
	Emitted     int64  `json:"events_emitted"`
	Discarded   int64  `json:"notifications_discarded"`
	WatchErrors int64  `json:"watch_errors"`
	SendErrors  int64  `json:"send_errors"`
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithBackend replaces the fsnotify backend.
func WithBackend(b watch.Backend) Option {
	return func(m *Monitor) { m.backend = b }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Monitor) { m.logger = l }
}

// WithMetrics records activity on the given metrics.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(m *Monitor) { m.metrics = metrics }
}

// New creates a monitor that sends to out and stamps events with agentID.
// No watch is held until StartMonitoring is called.
func New(out *queue.Queue[events.SecurityEvent], agentID string, opts ...Option) *Monitor {
	m := &Monitor{
		out:     out,
		agentID: agentID,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.backend == nil {
		m.backend = watch.NewFSNotify(watch.Options{})
	}
	m.logger = m.logger.With(zap.String("component", "file_monitor"))
	return m
}

// StartMonitoring registers a recursive watch rooted at path. An active watch
// is released first and replaced.
func (m *Monitor) StartMonitoring(path string) error {
	m.logger.Info("Starting file monitoring", zap.String("path", path))

	if _, err := os.Stat(path); err != nil {
		return &ObservationError{Op: "start", Path: path, Err: err}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.stopLocked()

	session, err := m.backend.Watch(path, true, m.handle)
	if err != nil {
		return &ObservationError{Op: "start", Path: path, Err: err}
	}

	m.session = session
	m.path = path
	if m.metrics != nil {
		m.metrics.ActiveWatches.Inc()
	}
	return nil
}

// StopMonitoring releases the active watch. Calling it without an active
// watch does nothing. Notifications already being classified may still
// reach the queue.
func (m *Monitor) StopMonitoring() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLocked()
}

func (m *Monitor) stopLocked() {
	if m.session == nil {
		return
	}
	if err := m.session.Close(); err != nil {
		m.logger.Warn("Error releasing watch", zap.String("path", m.path), zap.Error(err))
	}
	m.logger.Info("Stopped file monitoring", zap.String("path", m.path))
	m.session = nil
	m.path = ""
	if m.metrics != nil {
		m.metrics.ActiveWatches.Dec()
	}
}

// Active reports whether a watch is held.
func (m *Monitor) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session != nil
}

// Path returns the root of the active watch, or "".
func (m *Monitor) Path() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.path
}

// Stats returns a snapshot of monitor counters.
func (m *Monitor) Stats() Stats {
	m.mu.Lock()
	path, active := m.path, m.session != nil
	m.mu.Unlock()

	return Stats{
		Path:        path,
		Active:      active,
		Emitted:     m.emitted.Load(),
		Discarded:   m.discarded.Load(),
		WatchErrors: m.watchErrors.Load(),
		SendErrors:  m.sendErrors.Load(),
	}
}

// handle runs on the backend's delivery goroutine. It must not take m.mu,
// since StopMonitoring holds it while waiting for delivery to end.
func (m *Monitor) handle(raw watch.RawEvent, err error) {
	if err != nil {
		m.watchErrors.Add(1)
		if m.metrics != nil {
			m.metrics.WatchErrors.Inc()
		}
		m.logger.Warn("File system watch error", zap.Error(err))
		return
	}

	ev, ok := Classify(raw, m.agentID)
	if !ok {
		m.discarded.Add(1)
		if m.metrics != nil {
			m.metrics.EventsDiscarded.Inc()
		}
		return
	}

	if !m.out.Push(ev) {
		m.sendErrors.Add(1)
		m.logger.Error("Failed to send event",
			zap.String("event_type", ev.EventType.String()),
			zap.String("path", raw.Paths[0]))
		return
	}

	m.emitted.Add(1)
	if m.metrics != nil {
		m.metrics.EventsEmitted.WithLabelValues(ev.EventType.String(), ev.Severity.String()).Inc()
	}
}
