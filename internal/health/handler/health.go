// Package handler serves liveness and readiness for load balancers and Kubernetes, over HTTP and
// through the standard gRPC health service.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"sdushare/backend/internal/api"
)

const checkTimeout = 2 * time.Second

// Pinger is implemented by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// PolicyChecker is implemented by the route policy evaluator.
type PolicyChecker interface {
	HealthCheck(ctx context.Context) error
}

// Check is one named readiness dependency.
type Check struct {
	Name string
	Fn   func(ctx context.Context) error
}

// DatabaseCheck checks Postgres reachability.
func DatabaseCheck(p Pinger) Check {
	return Check{Name: "database", Fn: p.PingContext}
}

// PolicyCheck checks that the route policy still evaluates.
func PolicyCheck(pc PolicyChecker) Check {
	return Check{Name: "policy", Fn: pc.HealthCheck}
}

// Handler runs readiness checks. Liveness never consults dependencies.
type Handler struct {
	checks []Check
	logger *slog.Logger
}

// New returns a health handler over checks. logger may be nil.
func New(logger *slog.Logger, checks ...Check) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{checks: checks, logger: logger}
}

// Routes registers /healthz and /readyz on mux.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		api.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("GET /readyz", h.ready)
}

// Failing runs every check and returns the names of those that failed.
func (h *Handler) Failing(ctx context.Context) []string {
	var failed []string
	for _, c := range h.checks {
		cctx, cancel := context.WithTimeout(ctx, checkTimeout)
		err := c.Fn(cctx)
		cancel()
		if err != nil {
			h.logger.WarnContext(ctx, "readiness check failed", "check", c.Name, "error", err)
			failed = append(failed, c.Name)
		}
	}
	return failed
}

type readyResponse struct {
	Status string   `json:"status"`
	Failed []string `json:"failed,omitempty"`
}

func (h *Handler) ready(w http.ResponseWriter, r *http.Request) {
	if failed := h.Failing(r.Context()); len(failed) > 0 {
		api.WriteJSON(w, http.StatusServiceUnavailable, readyResponse{Status: "unavailable", Failed: failed})
		return
	}
	api.WriteJSON(w, http.StatusOK, readyResponse{Status: "ok"})
}

// WatchGRPC mirrors readiness into the gRPC health server every interval until ctx is done.
// The overall service ("") is reported.
func (h *Handler) WatchGRPC(ctx context.Context, hs *health.Server, interval time.Duration) {
	update := func() {
		status := healthpb.HealthCheckResponse_SERVING
		if len(h.Failing(ctx)) > 0 {
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
		hs.SetServingStatus("", status)
	}
	update()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			update()
		}
	}
}
