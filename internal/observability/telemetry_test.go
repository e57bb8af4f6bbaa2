package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"info", zapcore.InfoLevel},
		{"warn", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
		{"", zapcore.InfoLevel},
		{"verbose", zapcore.InfoLevel},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLevel(tt.in), "level %q", tt.in)
	}
}

func TestNewLoggerFormats(t *testing.T) {
	for _, format := range []string{"json", "console"} {
		logger, err := NewLogger(Config{ServiceName: "edrsensor", LogLevel: "debug", LogFormat: format})
		require.NoError(t, err)
		assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))
	}
}

func TestNewMetricsIndependentRegistries(t *testing.T) {
	// Separate registries must not collide on metric names.
	m1 := NewMetrics(prometheus.NewRegistry())
	m2 := NewMetrics(prometheus.NewRegistry())

	m1.EventsEmitted.WithLabelValues("FileCreated", "High").Inc()
	m1.WatchErrors.Inc()

	assert.Equal(t, 1.0, testutil.ToFloat64(m1.EventsEmitted.WithLabelValues("FileCreated", "High")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m1.WatchErrors))
	assert.Equal(t, 0.0, testutil.ToFloat64(m2.WatchErrors))
}

func TestTelemetryMetricsHandler(t *testing.T) {
	tel, err := New(Config{ServiceName: "edrsensor", MetricsEnabled: true})
	require.NoError(t, err)
	defer tel.Shutdown()

	require.NotNil(t, tel.Metrics())
	tel.Metrics().EventsDiscarded.Add(3)

	rr := httptest.NewRecorder()
	tel.MetricsHandler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, strings.Contains(rr.Body.String(), "edrsensor_notifications_discarded_total 3"))
}

func TestTelemetryMetricsDisabled(t *testing.T) {
	tel, err := New(Config{ServiceName: "edrsensor"})
	require.NoError(t, err)
	assert.Nil(t, tel.Metrics())
	assert.NotNil(t, tel.Logger())
	assert.NotNil(t, tel.Tracer())
}
