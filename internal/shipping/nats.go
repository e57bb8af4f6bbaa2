package shipping

import (
	"context"
	"fmt"
	"time"

	"github.com/lvonguyen/edrsensor/internal/events"
	natsgo "github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// NATSConfig holds NATS sink settings.
type NATSConfig struct {
	Enabled        bool          `yaml:"enabled"`
	URL            string        `yaml:"url"`
	Name           string        `yaml:"name"`
	SubjectPrefix  string        `yaml:"subject_prefix"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	ReconnectWait  time.Duration `yaml:"reconnect_wait"`
	MaxReconnects  int           `yaml:"max_reconnects"`
}

// DefaultNATSConfig returns sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:            natsgo.DefaultURL,
		Name:           "edrsensor",
		SubjectPrefix:  "edr.events",
		ConnectTimeout: 10 * time.Second,
		ReconnectWait:  2 * time.Second,
		MaxReconnects:  60,
	}
}

// NATSSink publishes each event to <prefix>.<category>.<event_type>.
type NATSSink struct {
	nc     *natsgo.Conn
	config NATSConfig
}

// NewNATSSink connects to NATS.
func NewNATSSink(config NATSConfig, logger *zap.Logger) (*NATSSink, error) {
	if config.SubjectPrefix == "" {
		config.SubjectPrefix = DefaultNATSConfig().SubjectPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := []natsgo.Option{
		natsgo.Timeout(config.ConnectTimeout),
		natsgo.ReconnectWait(config.ReconnectWait),
		natsgo.MaxReconnects(config.MaxReconnects),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", zap.Error(err))
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}
	if config.Name != "" {
		opts = append(opts, natsgo.Name(config.Name))
	}

	nc, err := natsgo.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &NATSSink{nc: nc, config: config}, nil
}

// Name implements Sink.
func (s *NATSSink) Name() string { return "nats" }

// Subject returns the subject an event is published on.
func (s *NATSSink) Subject(ev events.SecurityEvent) string {
	return Subject(s.config.SubjectPrefix, ev)
}

// Subject builds <prefix>.<category>.<event_type>.
func Subject(prefix string, ev events.SecurityEvent) string {
	return fmt.Sprintf("%s.%s.%s", prefix, ev.EventType.Category(), ev.EventType)
}

// Send publishes the batch and flushes it to the server.
func (s *NATSSink) Send(ctx context.Context, batch []events.SecurityEvent) error {
	if len(batch) == 0 {
		return nil
	}

	for _, ev := range batch {
		data, err := ev.ToJSON()
		if err != nil {
			return fmt.Errorf("encode event: %w", err)
		}
		if err := s.nc.Publish(s.Subject(ev), data); err != nil {
			return fmt.Errorf("publish to %s: %w", s.Subject(ev), err)
		}
	}

	// FlushWithContext rejects contexts without a deadline.
	if _, ok := ctx.Deadline(); !ok {
		timeout := s.config.ConnectTimeout
		if timeout <= 0 {
			timeout = natsgo.DefaultTimeout
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := s.nc.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("flush NATS: %w", err)
	}
	return nil
}

// HealthCheck reports whether the connection is up.
func (s *NATSSink) HealthCheck(ctx context.Context) error {
	if !s.nc.IsConnected() {
		return fmt.Errorf("NATS not connected (status %s)", s.nc.Status())
	}
	return nil
}

// Close drains pending messages and closes the connection.
func (s *NATSSink) Close() error {
	return s.nc.Drain()
}
