package server

import (
	"log/slog"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"sdushare/backend/internal/server/interceptors"
)

// GRPCDeps holds the dependencies of the gRPC listener.
type GRPCDeps struct {
	// Guard authenticates every call except those the route policy opens (health, reflection).
	Guard *interceptors.Guard
	// Health is the standard health service; its status is driven by the readiness checks.
	Health *health.Server
	Logger *slog.Logger
}

// NewGRPCServer returns a gRPC server with OpenTelemetry stats, the auth interceptors and all
// services registered.
func NewGRPCServer(deps GRPCDeps) *grpc.Server {
	s := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(interceptors.AuthUnary(deps.Guard)),
		grpc.ChainStreamInterceptor(interceptors.AuthStream(deps.Guard)),
	)
	RegisterServices(s, deps)
	reflection.Register(s)
	return s
}

// RegisterServices registers the gRPC services with s:
//   - grpc.health.v1.Health → google.golang.org/grpc/health, driven by internal/health/handler
func RegisterServices(s grpc.ServiceRegistrar, deps GRPCDeps) {
	hs := deps.Health
	if hs == nil {
		hs = health.NewServer()
	}
	healthpb.RegisterHealthServer(s, hs)
}
