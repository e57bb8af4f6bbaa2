package shipping

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/lvonguyen/edrsensor/internal/events"
)

// StdoutConfig enables the JSON lines sink.
type StdoutConfig struct {
	Enabled bool `yaml:"enabled"`
	// Path writes to a file instead of stdout when set.
	Path string `yaml:"path"`
}

// JSONLinesSink writes one JSON document per line.
type JSONLinesSink struct {
	mu     sync.Mutex
	w      io.Writer
	closer io.Closer
}

// NewJSONLinesSink writes to w. Close does not close w.
func NewJSONLinesSink(w io.Writer) *JSONLinesSink {
	return &JSONLinesSink{w: w}
}

// NewJSONLinesSinkFromConfig opens the configured file in append mode, or
// uses stdout.
func NewJSONLinesSinkFromConfig(config StdoutConfig) (*JSONLinesSink, error) {
	if config.Path == "" {
		return NewJSONLinesSink(os.Stdout), nil
	}

	f, err := os.OpenFile(config.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, fmt.Errorf("open event log %s: %w", config.Path, err)
	}
	return &JSONLinesSink{w: f, closer: f}, nil
}

// Name implements Sink.
func (s *JSONLinesSink) Name() string { return "stdout" }

// Send writes the batch. Lines from concurrent batches never interleave.
func (s *JSONLinesSink) Send(ctx context.Context, batch []events.SecurityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ev := range batch {
		data, err := ev.ToJSON()
		if err != nil {
			return fmt.Errorf("encode event: %w", err)
		}
		data = append(data, '\n')
		if _, err := s.w.Write(data); err != nil {
			return fmt.Errorf("write event: %w", err)
		}
	}
	return nil
}

// Close closes the file opened by NewJSONLinesSinkFromConfig.
func (s *JSONLinesSink) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}
