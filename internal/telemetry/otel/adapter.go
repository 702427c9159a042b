package otel

import (
	"context"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"sdushare/backend/internal/telemetry"
)

const instrumentationName = "sdushare.security"

// recordEmitter is the subset of otellog.Logger the adapter needs; tests capture records through it.
type recordEmitter interface {
	Emit(ctx context.Context, rec otellog.Record)
}

// NewEventEmitter returns an EventEmitter that sends events as OTel log records via the given LoggerProvider.
// If provider is nil, returns a no-op emitter.
func NewEventEmitter(provider *sdklog.LoggerProvider) telemetry.EventEmitter {
	if provider == nil {
		return noopEmitter{}
	}
	return &otelEmitter{logger: provider.Logger(instrumentationName)}
}

// NewEventEmitterWithLogger wraps an arbitrary record sink.
func NewEventEmitterWithLogger(logger recordEmitter) telemetry.EventEmitter {
	if logger == nil {
		return noopEmitter{}
	}
	return &otelEmitter{logger: logger}
}

type noopEmitter struct{}

func (noopEmitter) Emit(context.Context, *telemetry.Event) error { return nil }

type otelEmitter struct {
	logger recordEmitter
}

// Emit converts the event to an OTel log record. Rejections are emitted at WARN, everything else at INFO.
func (e *otelEmitter) Emit(ctx context.Context, event *telemetry.Event) error {
	if event == nil {
		return nil
	}
	rec := otellog.Record{}
	ts := event.CreatedAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	rec.SetTimestamp(ts)
	rec.SetBody(otellog.StringValue(event.Type))
	rec.SetSeverity(otellog.SeverityInfo)
	if event.Type == telemetry.EventAuthRejected || event.Type == telemetry.EventLoginFailed {
		rec.SetSeverity(otellog.SeverityWarn)
	}

	rec.AddAttributes(otellog.String("event_type", event.Type))
	if event.SubjectID != "" {
		rec.AddAttributes(otellog.String("subject_id", event.SubjectID))
	}
	if event.JTI != "" {
		rec.AddAttributes(otellog.String("jti", event.JTI))
	}
	if event.Reason != "" {
		rec.AddAttributes(otellog.String("reason", event.Reason))
	}
	if event.Source != "" {
		rec.AddAttributes(otellog.String("source", event.Source))
	}
	for k, v := range event.Metadata {
		rec.AddAttributes(otellog.String("meta."+k, v))
	}
	e.logger.Emit(ctx, rec)
	return nil
}
