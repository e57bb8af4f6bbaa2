package shipping

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/lvonguyen/edrsensor/internal/events"
	"github.com/redis/go-redis/v9"
)

// RedisConfig holds Redis Streams sink settings.
type RedisConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Addr        string        `yaml:"addr"`
	PasswordEnv string        `yaml:"password_env"`
	DB          int           `yaml:"db"`
	PoolSize    int           `yaml:"pool_size"`
	Stream      string        `yaml:"stream"`
	MaxLen      int64         `yaml:"max_len"`
	Timeout     time.Duration `yaml:"timeout"`
}

// DefaultRedisConfig returns sensible defaults.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:        "localhost:6379",
		PasswordEnv: "REDIS_PASSWORD",
		PoolSize:    10,
		Stream:      "edrsensor:events",
		MaxLen:      100000,
		Timeout:     5 * time.Second,
	}
}

// RedisStreamSink appends events to a capped Redis stream. Each entry holds
// the indexed fields plus the full JSON document under "event".
type RedisStreamSink struct {
	client *redis.Client
	config RedisConfig
}

// NewRedisStreamSink connects to Redis and verifies the connection.
func NewRedisStreamSink(ctx context.Context, config RedisConfig) (*RedisStreamSink, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     os.Getenv(config.PasswordEnv),
		DB:           config.DB,
		PoolSize:     config.PoolSize,
		DialTimeout:  config.Timeout,
		ReadTimeout:  config.Timeout,
		WriteTimeout: config.Timeout,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", config.Addr, err)
	}

	return NewRedisStreamSinkWithClient(client, config), nil
}

// NewRedisStreamSinkWithClient wraps an existing client.
func NewRedisStreamSinkWithClient(client *redis.Client, config RedisConfig) *RedisStreamSink {
	if config.Stream == "" {
		config.Stream = DefaultRedisConfig().Stream
	}
	return &RedisStreamSink{client: client, config: config}
}

// Name implements Sink.
func (s *RedisStreamSink) Name() string { return "redis" }

// Send pipelines one XADD per event.
func (s *RedisStreamSink) Send(ctx context.Context, batch []events.SecurityEvent) error {
	if len(batch) == 0 {
		return nil
	}

	pipe := s.client.Pipeline()
	for _, ev := range batch {
		data, err := ev.ToJSON()
		if err != nil {
			return fmt.Errorf("encode event: %w", err)
		}
		args := &redis.XAddArgs{
			Stream: s.config.Stream,
			Values: map[string]interface{}{
				"event_type": ev.EventType.String(),
				"severity":   ev.Severity.String(),
				"source":     ev.Source,
				"event":      data,
			},
		}
		if s.config.MaxLen > 0 {
			args.MaxLen = s.config.MaxLen
			args.Approx = true
		}
		pipe.XAdd(ctx, args)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis XADD to %s: %w", s.config.Stream, err)
	}
	return nil
}

// HealthCheck pings Redis.
func (s *RedisStreamSink) HealthCheck(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the client.
func (s *RedisStreamSink) Close() error {
	return s.client.Close()
}
