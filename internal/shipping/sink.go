// Package shipping delivers security events from the collector queue to
// downstream consumers.
package shipping

import (
	"context"

	"github.com/lvonguyen/edrsensor/internal/events"
)

// Sink consumes batches of security events. Send must not retain the slice
// after it returns.
type Sink interface {
	Name() string
	Send(ctx context.Context, batch []events.SecurityEvent) error
	Close() error
}

// HealthChecker is implemented by sinks that can probe their backend.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}
