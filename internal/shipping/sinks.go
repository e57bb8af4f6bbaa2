package shipping

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// SinksConfig selects and configures the enabled sinks.
type SinksConfig struct {
	Stdout StdoutConfig `yaml:"stdout"`
	Splunk HECConfig    `yaml:"splunk"`
	Redis  RedisConfig  `yaml:"redis"`
	NATS   NATSConfig   `yaml:"nats"`
}

// DefaultSinksConfig enables only the stdout sink.
func DefaultSinksConfig() SinksConfig {
	return SinksConfig{
		Stdout: StdoutConfig{Enabled: true},
		Splunk: DefaultHECConfig(),
		Redis:  DefaultRedisConfig(),
		NATS:   DefaultNATSConfig(),
	}
}

// Enabled lists the names of enabled sinks.
func (c SinksConfig) Enabled() []string {
	var names []string
	if c.Stdout.Enabled {
		names = append(names, "stdout")
	}
	if c.Splunk.Enabled {
		names = append(names, "splunk")
	}
	if c.Redis.Enabled {
		names = append(names, "redis")
	}
	if c.NATS.Enabled {
		names = append(names, "nats")
	}
	return names
}

// OpenSinks constructs every enabled sink. On failure, sinks opened so far
// are closed.
func OpenSinks(ctx context.Context, cfg SinksConfig, logger *zap.Logger) ([]Sink, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var sinks []Sink
	fail := func(err error) ([]Sink, error) {
		CloseSinks(sinks, logger)
		return nil, err
	}

	if cfg.Stdout.Enabled {
		s, err := NewJSONLinesSinkFromConfig(cfg.Stdout)
		if err != nil {
			return fail(err)
		}
		sinks = append(sinks, s)
	}

	if cfg.Splunk.Enabled {
		s, err := NewHECSink(cfg.Splunk)
		if err != nil {
			return fail(fmt.Errorf("splunk sink: %w", err))
		}
		sinks = append(sinks, s)
	}

	if cfg.Redis.Enabled {
		s, err := NewRedisStreamSink(ctx, cfg.Redis)
		if err != nil {
			return fail(fmt.Errorf("redis sink: %w", err))
		}
		sinks = append(sinks, s)
	}

	if cfg.NATS.Enabled {
		s, err := NewNATSSink(cfg.NATS, logger)
		if err != nil {
			return fail(fmt.Errorf("nats sink: %w", err))
		}
		sinks = append(sinks, s)
	}

	for _, s := range sinks {
		logger.Info("Sink enabled", zap.String("sink", s.Name()))
	}
	return sinks, nil
}

// CloseSinks closes every sink, logging failures.
func CloseSinks(sinks []Sink, logger *zap.Logger) {
	for _, s := range sinks {
		if err := s.Close(); err != nil {
			logger.Warn("Error closing sink", zap.String("sink", s.Name()), zap.Error(err))
		}
	}
}
