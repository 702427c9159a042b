package interceptors

import (
	"context"

	sessiondomain "sdushare/backend/internal/session/domain"
)

type contextKey struct{ name string }

var (
	principalKey = contextKey{"principal"}
	clientIPKey  = contextKey{"client_ip"}
)

// WithPrincipal returns a context carrying the authenticated principal.
// Handlers read it via GetSubjectID, GetJTI or PrincipalFrom.
func WithPrincipal(ctx context.Context, p *sessiondomain.Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFrom returns the principal from context, or nil for anonymous callers.
func PrincipalFrom(ctx context.Context) *sessiondomain.Principal {
	p, _ := ctx.Value(principalKey).(*sessiondomain.Principal)
	return p
}

// GetSubjectID returns the subject id from context and true if set; otherwise "", false.
func GetSubjectID(ctx context.Context) (string, bool) {
	p := PrincipalFrom(ctx)
	if p == nil || p.SubjectID == "" {
		return "", false
	}
	return p.SubjectID, true
}

// GetJTI returns the access token jti from context and true if set; otherwise "", false.
func GetJTI(ctx context.Context) (string, bool) {
	p := PrincipalFrom(ctx)
	if p == nil || p.JTI == "" {
		return "", false
	}
	return p.JTI, true
}

func withClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey, ip)
}
