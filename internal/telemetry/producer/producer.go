// Package producer streams security events to a message broker for downstream consumers.
package producer

import (
	"context"

	"sdushare/backend/internal/telemetry"
)

// Producer emits security events. Callers use it best-effort: log and ignore errors.
type Producer interface {
	Emit(ctx context.Context, event *telemetry.Event) error
	// Close releases resources (e.g. Kafka writer). Safe to call if already closed.
	Close() error
}
