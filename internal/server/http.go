package server

import (
	"log/slog"
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"sdushare/backend/internal/logging"
	"sdushare/backend/internal/server/interceptors"
)

// RouteRegistrar is implemented by the HTTP handlers of each domain package.
type RouteRegistrar interface {
	Routes(mux *http.ServeMux)
}

// HTTPDeps holds the dependencies of the HTTP listener.
type HTTPDeps struct {
	Guard    *interceptors.Guard
	Logger   *slog.Logger
	Handlers []RouteRegistrar
	// DevCodes serves /dev/codes. Nil unless DEV_CODES is enabled outside production.
	DevCodes http.Handler
}

// NewHTTPHandler builds the mux and wraps it, outermost first, in tracing, request logging,
// client IP capture and the auth guard.
func NewHTTPHandler(deps HTTPDeps) http.Handler {
	mux := http.NewServeMux()
	for _, h := range deps.Handlers {
		h.Routes(mux)
	}
	if deps.DevCodes != nil {
		mux.Handle("/dev/codes", deps.DevCodes)
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	var h http.Handler = mux
	h = interceptors.RequireAuth(deps.Guard)(h)
	h = interceptors.WithClientIP(h)
	h = logging.WithRequestLogging(h, logger)
	return otelhttp.NewHandler(h, "sdushare.http")
}
