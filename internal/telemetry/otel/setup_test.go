package otel

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
)

func TestNewProviders_EmptyEndpoint(t *testing.T) {
	ctx := context.Background()
	for _, endpoint := range []string{"", "   "} {
		providers, err := NewProviders(ctx, Config{Endpoint: endpoint, ServiceName: "test-service"})
		if err != nil {
			t.Fatalf("NewProviders(%q): %v", endpoint, err)
		}
		if providers.TracerProvider == nil || providers.MeterProvider == nil || providers.LoggerProvider == nil {
			t.Fatal("providers should be non-nil")
		}
		if err := providers.Shutdown(ctx); err != nil {
			t.Errorf("shutdown should be no-op for empty endpoint, got error: %v", err)
		}
	}
}

func TestNewProviders_InvalidEndpoint(t *testing.T) {
	for _, endpoint := range []string{"://invalid", "http://[invalid", "http://"} {
		if _, err := NewProviders(context.Background(), Config{Endpoint: endpoint}); err == nil {
			t.Errorf("NewProviders(%q) should return error", endpoint)
		}
	}
}

func TestParseEndpoint(t *testing.T) {
	cases := []struct {
		endpoint     string
		wantTarget   string
		wantInsecure bool
	}{
		{"localhost:4317", "localhost:4317", true},
		{"http://localhost:4317", "localhost:4317", true},
		{"http://localhost:4317/v1/traces", "localhost:4317", true},
		{"https://collector:4317", "collector:4317", false},
	}
	for _, tc := range cases {
		target, insecure, err := parseEndpoint(tc.endpoint)
		if err != nil {
			t.Fatalf("parseEndpoint(%q): %v", tc.endpoint, err)
		}
		if target != tc.wantTarget || insecure != tc.wantInsecure {
			t.Errorf("parseEndpoint(%q) = %q, %v; want %q, %v", tc.endpoint, target, insecure, tc.wantTarget, tc.wantInsecure)
		}
	}
}

func TestNewResource_ServiceName(t *testing.T) {
	res, err := newResource(Config{ServiceName: "sdushare-test", ServiceVersion: "1.2.3"})
	if err != nil {
		t.Fatalf("newResource: %v", err)
	}
	found := false
	for _, kv := range res.Attributes() {
		if string(kv.Key) == "service.name" && kv.Value.AsString() == "sdushare-test" {
			found = true
		}
	}
	if !found {
		t.Errorf("service.name not set in %v", res.Attributes())
	}
}

func TestSetGlobal_WithProviders(t *testing.T) {
	providers, err := NewProviders(context.Background(), Config{})
	if err != nil {
		t.Fatalf("NewProviders: %v", err)
	}
	providers.SetGlobal()
	if otel.GetTracerProvider() != providers.TracerProvider {
		t.Error("TracerProvider should be the global provider")
	}
	if otel.GetMeterProvider() != providers.MeterProvider {
		t.Error("MeterProvider should be the global provider")
	}
}
