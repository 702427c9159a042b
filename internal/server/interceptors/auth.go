package interceptors

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"sdushare/backend/internal/api"
	"sdushare/backend/internal/policy/engine"
	sessiondomain "sdushare/backend/internal/session/domain"
)

// Authenticator resolves an Authorization header to a principal. Implemented by
// the session service's Authenticator.
type Authenticator interface {
	Authenticate(ctx context.Context, header string) (*sessiondomain.Principal, error)
	RejectMissing(ctx context.Context) error
}

// Guard combines the route policy with the request authenticator. Routes the policy opens to
// anonymous callers are not authenticated at all; every other route needs a valid access token.
type Guard struct {
	auth   Authenticator
	policy engine.Evaluator
	logger *slog.Logger
}

// NewGuard returns a Guard. logger may be nil.
func NewGuard(auth Authenticator, policy engine.Evaluator, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{auth: auth, policy: policy, logger: logger}
}

// Check returns (nil, nil) for a public route, the principal for an authenticated call, an
// *sessiondomain.UnauthenticatedError on rejection, or an error wrapping
// sessiondomain.ErrStoreUnavailable. A policy failure is treated as a protected route.
func (g *Guard) Check(ctx context.Context, in engine.RouteInput, header string) (*sessiondomain.Principal, error) {
	public, err := g.policy.AllowAnonymous(ctx, in)
	if err != nil {
		g.logger.WarnContext(ctx, "route policy failed; requiring authentication", "path", in.Path, "error", err)
		public = false
	}
	if public {
		return nil, nil
	}
	p, err := g.auth.Authenticate(ctx, header)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, g.auth.RejectMissing(ctx)
	}
	return p, nil
}

// RequireAuth is HTTP middleware applying the Guard to every request. Rejections get a generic
// 401 and store failures a 503; the rejection reason is only logged.
func RequireAuth(g *Guard) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			in := engine.RouteInput{Transport: engine.TransportHTTP, Method: r.Method, Path: r.URL.Path}
			p, err := g.Check(r.Context(), in, r.Header.Get("Authorization"))
			if err != nil {
				if errors.Is(err, sessiondomain.ErrStoreUnavailable) {
					api.WriteError(w, http.StatusServiceUnavailable, "unavailable", "service temporarily unavailable")
					return
				}
				w.Header().Set("WWW-Authenticate", `Bearer realm="sdushare"`)
				api.WriteError(w, http.StatusUnauthorized, "unauthenticated", "authentication required")
				return
			}
			if p != nil {
				r = r.WithContext(WithPrincipal(r.Context(), p))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// AuthUnary returns a unary server interceptor applying the Guard to the full method name,
// with the bearer token taken from the "authorization" metadata.
func AuthUnary(g *Guard) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		ctx, err := g.checkGRPC(ctx, info.FullMethod)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// AuthStream is the streaming counterpart of AuthUnary.
func AuthStream(g *Guard) grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx, err := g.checkGRPC(ss.Context(), info.FullMethod)
		if err != nil {
			return err
		}
		return handler(srv, &wrappedStream{ServerStream: ss, ctx: ctx})
	}
}

func (g *Guard) checkGRPC(ctx context.Context, fullMethod string) (context.Context, error) {
	in := engine.RouteInput{Transport: engine.TransportGRPC, Path: fullMethod}
	p, err := g.Check(ctx, in, authorizationHeader(ctx))
	if err != nil {
		if errors.Is(err, sessiondomain.ErrStoreUnavailable) {
			return ctx, status.Error(codes.Unavailable, "service temporarily unavailable")
		}
		return ctx, status.Error(codes.Unauthenticated, "missing or invalid authorization")
	}
	if p != nil {
		ctx = WithPrincipal(ctx, p)
	}
	return ctx, nil
}

// authorizationHeader returns the raw authorization metadata value, or "".
func authorizationHeader(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	vals := md.Get("authorization")
	if len(vals) == 0 {
		return ""
	}
	return vals[0]
}

type wrappedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (w *wrappedStream) Context() context.Context { return w.ctx }
