package interceptors

import (
	"context"
	"net"
	"net/http"
	"strings"

	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
)

// ClientIP returns the caller IP for audit entries. It prefers the value stored by WithClientIP
// for HTTP requests, then gRPC metadata (x-forwarded-for, x-real-ip), then the gRPC peer,
// else "unknown".
func ClientIP(ctx context.Context) string {
	if ip, ok := ctx.Value(clientIPKey).(string); ok && ip != "" {
		return ip
	}
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if vals := md.Get("x-forwarded-for"); len(vals) > 0 {
			if s := firstForwarded(vals[0]); s != "" {
				return s
			}
		}
		if vals := md.Get("x-real-ip"); len(vals) > 0 {
			if s := strings.TrimSpace(vals[0]); s != "" {
				return s
			}
		}
	}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		return hostOnly(p.Addr.String())
	}
	return "unknown"
}

// HTTPClientIP returns the caller IP of r from X-Forwarded-For, X-Real-IP or RemoteAddr.
func HTTPClientIP(r *http.Request) string {
	if s := firstForwarded(r.Header.Get("X-Forwarded-For")); s != "" {
		return s
	}
	if s := strings.TrimSpace(r.Header.Get("X-Real-IP")); s != "" {
		return s
	}
	if r.RemoteAddr != "" {
		return hostOnly(r.RemoteAddr)
	}
	return "unknown"
}

// WithClientIP stores HTTPClientIP(r) in the request context for ClientIP.
func WithClientIP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(withClientIP(r.Context(), HTTPClientIP(r))))
	})
}

func firstForwarded(v string) string {
	s := strings.TrimSpace(v)
	if i := strings.Index(s, ","); i >= 0 {
		s = strings.TrimSpace(s[:i])
	}
	return s
}

func hostOnly(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
