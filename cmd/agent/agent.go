package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/lvonguyen/edrsensor/internal/api"
	"github.com/lvonguyen/edrsensor/internal/collectors/filemon"
	"github.com/lvonguyen/edrsensor/internal/config"
	"github.com/lvonguyen/edrsensor/internal/events"
	"github.com/lvonguyen/edrsensor/internal/observability"
	"github.com/lvonguyen/edrsensor/internal/queue"
	"github.com/lvonguyen/edrsensor/internal/shipping"
	"github.com/lvonguyen/edrsensor/internal/watch"
	"go.uber.org/zap"
)

// loadConfig reads the config file, applies flag overrides and validates.
func loadConfig(opts *rootOptions) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if opts.configPath != "" {
		loaded, err := config.Load(opts.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if len(opts.watchPaths) > 0 {
		cfg.Agent.WatchPaths = opts.watchPaths
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}
	if opts.logFormat != "" {
		cfg.Logging.Format = opts.logFormat
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// runAgent wires the sensor and blocks until SIGINT or SIGTERM. Shutdown
// releases the watches first, then lets the dispatcher drain the queue.
func runAgent(parent context.Context, cfg *config.Config) error {
	tel, err := observability.New(observability.Config{
		ServiceName:    "edrsensor",
		ServiceVersion: Version,
		AgentID:        cfg.Agent.ID,
		LogLevel:       cfg.Logging.Level,
		LogFormat:      cfg.Logging.Format,
		MetricsEnabled: cfg.Metrics.Enabled,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer tel.Shutdown()
	logger := tel.Logger()

	logger.Info("Starting edrsensor",
		zap.String("commit", GitCommit),
		zap.Strings("watch_paths", cfg.Agent.WatchPaths),
		zap.Strings("sinks", cfg.Sinks.Enabled()))

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	q := queue.New[events.SecurityEvent]()

	sinks, err := shipping.OpenSinks(ctx, cfg.Sinks, logger)
	if err != nil {
		return fmt.Errorf("failed to open sinks: %w", err)
	}
	defer shipping.CloseSinks(sinks, logger)

	dispatcher := shipping.NewDispatcher(q, sinks, cfg.Dispatcher, logger, tel.Metrics(),
		shipping.WithTracer(tel.Tracer()))

	// The dispatcher outlives the signal context so it can drain the queue.
	dispatchCtx, cancelDispatch := context.WithCancel(context.WithoutCancel(parent))
	defer cancelDispatch()
	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		dispatcher.Run(dispatchCtx)
	}()

	backend := watch.NewFSNotify(watch.Options{SkipDirs: cfg.Agent.SkipDirs})
	monitors := make([]*filemon.Monitor, 0, len(cfg.Agent.WatchPaths))
	stopMonitors := func() {
		for _, m := range monitors {
			m.StopMonitoring()
		}
	}

	for _, path := range cfg.Agent.WatchPaths {
		m := filemon.New(q, cfg.Agent.ID,
			filemon.WithBackend(backend),
			filemon.WithLogger(logger),
			filemon.WithMetrics(tel.Metrics()))
		if err := m.StartMonitoring(path); err != nil {
			stopMonitors()
			q.Close()
			<-dispatchDone
			return err
		}
		monitors = append(monitors, m)
	}

	tel.StartSystemMetricsCollector(ctx, cfg.Metrics.SystemInterval, q.Len)

	var server *http.Server
	if cfg.Server.Enabled {
		sources := make([]api.MonitorSource, len(monitors))
		for i, m := range monitors {
			sources[i] = m
		}

		var metricsHandler http.Handler
		if cfg.Metrics.Enabled {
			metricsHandler = tel.MetricsHandler()
		}

		server = &http.Server{
			Addr: fmt.Sprintf(":%d", cfg.Server.Port),
			Handler: api.NewRouter(api.Options{
				Version:    Version,
				AgentID:    cfg.Agent.ID,
				StartedAt:  time.Now(),
				Monitors:   sources,
				Dispatcher: dispatcher,
				Queue:      q,
				Sinks:      sinks,
				Metrics:    metricsHandler,
				Logger:     logger,
			}),
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
			IdleTimeout:  60 * time.Second,
		}

		go func() {
			logger.Info("Server listening", zap.String("addr", server.Addr))
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Server error", zap.Error(err))
				stop()
			}
		}()
	}

	<-ctx.Done()
	logger.Info("Shutting down")

	stopMonitors()
	q.Close()

	select {
	case <-dispatchDone:
	case <-time.After(cfg.Server.ShutdownTimeout):
		logger.Warn("Dispatcher did not drain in time, abandoning queued events",
			zap.Int("queued", q.Len()))
		cancelDispatch()
		<-dispatchDone
	}

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Server shutdown error", zap.Error(err))
		}
	}

	stats := dispatcher.Stats()
	logger.Info("edrsensor stopped",
		zap.Int64("events_dispatched", stats.Dispatched),
		zap.Int64("sink_failures", stats.SinkFailures))
	return nil
}
