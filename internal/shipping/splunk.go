package shipping

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/lvonguyen/edrsensor/internal/events"
)

// HECConfig holds Splunk HTTP Event Collector settings.
type HECConfig struct {
	Enabled      bool          `yaml:"enabled"`
	HECURL       string        `yaml:"hec_url"`
	TokenEnv     string        `yaml:"token_env"`
	Index        string        `yaml:"index"`
	SourceType   string        `yaml:"sourcetype"`
	Host         string        `yaml:"host"`
	Timeout      time.Duration `yaml:"timeout"`
	RetryCount   int           `yaml:"retry_count"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
	VerifySSL    bool          `yaml:"verify_ssl"`
}

// DefaultHECConfig returns sensible defaults.
func DefaultHECConfig() HECConfig {
	return HECConfig{
		TokenEnv:     "SPLUNK_HEC_TOKEN",
		Index:        "edr",
		SourceType:   "edrsensor:event",
		Timeout:      30 * time.Second,
		RetryCount:   3,
		RetryBackoff: time.Second,
		VerifySSL:    true,
	}
}

// HECStats tracks sender metrics.
type HECStats struct {
	EventsSent   int64
	EventsFailed int64
	BytesSent    int64
	LastSendAt   time.Time
}

// hecEvent is the HEC event envelope.
type hecEvent struct {
	Time       float64              `json:"time"`
	Host       string               `json:"host,omitempty"`
	Source     string               `json:"source,omitempty"`
	SourceType string               `json:"sourcetype,omitempty"`
	Index      string               `json:"index,omitempty"`
	Event      events.SecurityEvent `json:"event"`
	Fields     map[string]string    `json:"fields,omitempty"`
}

// HECSink sends events to Splunk via HEC.
type HECSink struct {
	config     HECConfig
	token      string
	httpClient *http.Client
	mu         sync.RWMutex
	stats      HECStats
}

// NewHECSink creates a Splunk HEC sink. The token is read once from the
// environment variable named by TokenEnv.
func NewHECSink(config HECConfig) (*HECSink, error) {
	token := os.Getenv(config.TokenEnv)
	if token == "" {
		return nil, fmt.Errorf("HEC token not found in env var: %s", config.TokenEnv)
	}

	if config.HECURL == "" {
		return nil, fmt.Errorf("HEC URL is required")
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if !config.VerifySSL {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // operator opt-out
	}

	return &HECSink{
		config: config,
		token:  token,
		httpClient: &http.Client{
			Timeout:   config.Timeout,
			Transport: transport,
		},
	}, nil
}

// Name implements Sink.
func (s *HECSink) Name() string { return "splunk" }

// Send posts the batch as newline-delimited HEC events.
func (s *HECSink) Send(ctx context.Context, batch []events.SecurityEvent) error {
	if len(batch) == 0 {
		return nil
	}

	var buf bytes.Buffer
	for _, ev := range batch {
		data, err := json.Marshal(hecEvent{
			Time:       float64(ev.Timestamp.UnixNano()) / float64(time.Second),
			Host:       s.config.Host,
			Source:     ev.Source,
			SourceType: s.config.SourceType,
			Index:      s.config.Index,
			Event:      ev,
			Fields: map[string]string{
				"event_type": ev.EventType.String(),
				"severity":   ev.Severity.String(),
				"category":   string(ev.EventType.Category()),
			},
		})
		if err != nil {
			return fmt.Errorf("encode HEC event: %w", err)
		}
		buf.Write(data)
		buf.WriteByte('\n')
	}

	if err := s.sendWithRetry(ctx, buf.Bytes()); err != nil {
		s.mu.Lock()
		s.stats.EventsFailed += int64(len(batch))
		s.mu.Unlock()
		return err
	}

	s.mu.Lock()
	s.stats.EventsSent += int64(len(batch))
	s.stats.BytesSent += int64(buf.Len())
	s.stats.LastSendAt = time.Now()
	s.mu.Unlock()
	return nil
}

// sendWithRetry retries with quadratic backoff until ctx is done.
func (s *HECSink) sendWithRetry(ctx context.Context, data []byte) error {
	var lastErr error

	for attempt := 0; attempt <= s.config.RetryCount; attempt++ {
		if attempt > 0 {
			wait := time.Duration(attempt*attempt) * s.config.RetryBackoff
			select {
			case <-ctx.Done():
				return fmt.Errorf("HEC send cancelled: %w", ctx.Err())
			case <-time.After(wait):
			}
		}

		err := s.send(ctx, data)
		if err == nil {
			return nil
		}
		lastErr = err
	}

	return fmt.Errorf("failed after %d retries: %w", s.config.RetryCount, lastErr)
}

func (s *HECSink) send(ctx context.Context, data []byte) error {
	url := strings.TrimSuffix(s.config.HECURL, "/") + "/services/collector/event"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Splunk "+s.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HEC request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("HEC returned %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

// Stats returns current sender statistics.
func (s *HECSink) Stats() HECStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}

// HealthCheck verifies connectivity to Splunk HEC.
func (s *HECSink) HealthCheck(ctx context.Context) error {
	url := strings.TrimSuffix(s.config.HECURL, "/") + "/services/collector/health"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("Splunk HEC health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("Splunk HEC returned status %d", resp.StatusCode)
	}
	return nil
}

// Close releases idle connections.
func (s *HECSink) Close() error {
	s.httpClient.CloseIdleConnections()
	return nil
}
