// Package api exposes the sensor's health, readiness and statistics over HTTP.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/lvonguyen/edrsensor/internal/collectors/filemon"
	"github.com/lvonguyen/edrsensor/internal/queue"
	"github.com/lvonguyen/edrsensor/internal/shipping"
	"go.uber.org/zap"
)

// MonitorSource reports file monitor state.
type MonitorSource interface {
	Stats() filemon.Stats
}

// DispatcherSource reports dispatcher state.
type DispatcherSource interface {
	Stats() shipping.DispatcherStats
}

// QueueSource reports queue state.
type QueueSource interface {
	Stats() queue.Stats
}

// Options wires the router to the running sensor. Nil sources are omitted
// from responses.
type Options struct {
	Version    string
	AgentID    string
	StartedAt  time.Time
	Monitors   []MonitorSource
	Dispatcher DispatcherSource
	Queue      QueueSource
	Sinks      []shipping.Sink
	Metrics    http.Handler
	Logger     *zap.Logger

	// ReadyTimeout bounds sink health checks on /ready.
	ReadyTimeout time.Duration
}

type handlers struct {
	opts Options
}

// NewRouter builds the HTTP handler.
func NewRouter(opts Options) http.Handler {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = 2 * time.Second
	}
	if opts.StartedAt.IsZero() {
		opts.StartedAt = time.Now()
	}
	h := &handlers{opts: opts}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(opts.Logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", h.handleHealth)
	r.Get("/ready", h.handleReady)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/stats", h.handleStats)
	})

	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	return r
}

func (h *handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": h.opts.Version,
	})
}

// readyResponse lists failing checks by name.
type readyResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func (h *handlers) handleReady(w http.ResponseWriter, r *http.Request) {
	failures := make(map[string]string)

	for i, m := range h.opts.Monitors {
		if st := m.Stats(); !st.Active {
			failures["monitor:"+strconv.Itoa(i)] = "file monitor not active"
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.opts.ReadyTimeout)
	defer cancel()
	for _, s := range h.opts.Sinks {
		hc, ok := s.(shipping.HealthChecker)
		if !ok {
			continue
		}
		if err := hc.HealthCheck(ctx); err != nil {
			failures["sink:"+s.Name()] = err.Error()
		}
	}

	if len(failures) > 0 {
		h.opts.Logger.Warn("Readiness check failed", zap.Any("checks", failures))
		writeJSON(w, http.StatusServiceUnavailable, readyResponse{Status: "not_ready", Checks: failures})
		return
	}
	writeJSON(w, http.StatusOK, readyResponse{Status: "ready"})
}

// statsResponse is the body of /api/v1/stats.
type statsResponse struct {
	AgentID       string                    `json:"agent_id"`
	Version       string                    `json:"version"`
	UptimeSeconds int64                     `json:"uptime_seconds"`
	Monitors      []filemon.Stats           `json:"monitors"`
	Queue         *queueStats               `json:"queue,omitempty"`
	Dispatcher    *shipping.DispatcherStats `json:"dispatcher,omitempty"`
	Sinks         []string                  `json:"sinks"`
}

type queueStats struct {
	Pushed   int64 `json:"pushed"`
	Received int64 `json:"received"`
	Dropped  int64 `json:"dropped"`
	Depth    int   `json:"depth"`
}

func (h *handlers) handleStats(w http.ResponseWriter, r *http.Request) {
	resp := statsResponse{
		AgentID:       h.opts.AgentID,
		Version:       h.opts.Version,
		UptimeSeconds: int64(time.Since(h.opts.StartedAt).Seconds()),
		Monitors:      make([]filemon.Stats, 0, len(h.opts.Monitors)),
		Sinks:         make([]string, 0, len(h.opts.Sinks)),
	}

	for _, m := range h.opts.Monitors {
		resp.Monitors = append(resp.Monitors, m.Stats())
	}
	if h.opts.Queue != nil {
		qs := h.opts.Queue.Stats()
		resp.Queue = &queueStats{Pushed: qs.Pushed, Received: qs.Received, Dropped: qs.Dropped, Depth: qs.Depth}
	}
	if h.opts.Dispatcher != nil {
		ds := h.opts.Dispatcher.Stats()
		resp.Dispatcher = &ds
	}
	for _, s := range h.opts.Sinks {
		resp.Sinks = append(resp.Sinks, s.Name())
	}

	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// requestLogger logs each request through zap.
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				logger.Debug("HTTP request",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Duration("duration", time.Since(start)),
					zap.String("request_id", middleware.GetReqID(r.Context())))
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
