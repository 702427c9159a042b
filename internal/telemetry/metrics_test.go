package telemetry

import (
	"context"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collectSums(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	out := make(map[string]int64)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				out[m.Name] += dp.Value
			}
		}
	}
	return out
}

func TestMetrics_Record(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := NewMetrics(mp.Meter("test"))
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	ctx := context.Background()
	m.RecordAuth(ctx, "ok")
	m.RecordAuth(ctx, "superseded")
	m.RecordRotation(ctx, "refresh", "conflict")
	m.RecordRevocation(ctx, "logout")
	m.RecordSwept(ctx, 7)
	m.RecordSwept(ctx, 0)

	sums := collectSums(t, reader)
	want := map[string]int64{
		"auth.authenticate.outcomes": 2,
		"session.rotations":          1,
		"session.revocations":        1,
		"revocations.swept":          7,
	}
	for name, v := range want {
		if sums[name] != v {
			t.Errorf("%s = %d, want %d", name, sums[name], v)
		}
	}
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.RecordAuth(context.Background(), "ok")
	m.RecordRotation(context.Background(), "issue", "ok")
	m.RecordRevocation(context.Background(), "rotation")
	m.RecordSwept(context.Background(), 3)
}
