package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the counters for session lifecycle outcomes. A nil *Metrics records nothing.
type Metrics struct {
	authOutcomes metric.Int64Counter
	rotations    metric.Int64Counter
	revocations  metric.Int64Counter
	swept        metric.Int64Counter
}

// NewMetrics registers the counters on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	authOutcomes, err := meter.Int64Counter("auth.authenticate.outcomes",
		metric.WithDescription("Request authentication outcomes by reason"))
	if err != nil {
		return nil, err
	}
	rotations, err := meter.Int64Counter("session.rotations",
		metric.WithDescription("Session pointer rotations by operation and result"))
	if err != nil {
		return nil, err
	}
	revocations, err := meter.Int64Counter("session.revocations",
		metric.WithDescription("Tokens added to the revocation store"))
	if err != nil {
		return nil, err
	}
	swept, err := meter.Int64Counter("revocations.swept",
		metric.WithDescription("Dead revocation entries deleted by the sweeper"))
	if err != nil {
		return nil, err
	}
	return &Metrics{authOutcomes: authOutcomes, rotations: rotations, revocations: revocations, swept: swept}, nil
}

// RecordAuth counts one authentication outcome; reason is "ok", "anonymous" or a rejection reason.
func (m *Metrics) RecordAuth(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.authOutcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordRotation counts a pointer rotation attempt.
func (m *Metrics) RecordRotation(ctx context.Context, op, result string) {
	if m == nil {
		return
	}
	m.rotations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("result", result),
	))
}

// RecordRevocation counts tokens written to the blacklist.
func (m *Metrics) RecordRevocation(ctx context.Context, cause string) {
	if m == nil {
		return
	}
	m.revocations.Add(ctx, 1, metric.WithAttributes(attribute.String("cause", cause)))
}

// RecordSwept adds n deleted entries.
func (m *Metrics) RecordSwept(ctx context.Context, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.swept.Add(ctx, n)
}
