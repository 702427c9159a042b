package engine

import "context"

// RouteInput describes an inbound call for route policy evaluation. Path is the URL path for HTTP
// requests and the full method name for gRPC calls.
type RouteInput struct {
	Transport string
	Method    string
	Path      string
}

// Transports named in RouteInput.
const (
	TransportHTTP = "http"
	TransportGRPC = "grpc"
)

// Evaluator decides whether a route may be called without an authenticated principal.
type Evaluator interface {
	// AllowAnonymous reports whether in may proceed without a principal. Callers treat an error
	// as a deny.
	AllowAnonymous(ctx context.Context, in RouteInput) (bool, error)
}
