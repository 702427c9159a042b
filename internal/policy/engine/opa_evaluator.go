package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
)

const anonymousQuery = "data.sdushare.routes.allow_anonymous"

// DefaultPolicy lists the routes that accept anonymous callers. Everything else requires a
// principal.
const DefaultPolicy = `package sdushare.routes

default allow_anonymous := false

public_http_paths := {
	"/api/login_passwd",
	"/api/login_email",
	"/api/register",
	"/api/token/",
	"/api/token/refresh/",
	"/api/logout",
	"/healthz",
	"/readyz",
}

allow_anonymous if {
	input.transport == "http"
	public_http_paths[input.path]
}

allow_anonymous if {
	input.transport == "http"
	startswith(input.path, "/dev/")
}

allow_anonymous if {
	input.transport == "grpc"
	startswith(input.path, "/grpc.health.v1.Health/")
}

allow_anonymous if {
	input.transport == "grpc"
	startswith(input.path, "/grpc.reflection.")
}
`

// OPAEvaluator evaluates the route policy with an in-process OPA Rego engine. The policy is
// compiled once at construction.
type OPAEvaluator struct {
	query  rego.PreparedEvalQuery
	logger *slog.Logger
}

// NewOPAEvaluator compiles policy (DefaultPolicy when empty) and prepares the anonymous-access
// query. logger may be nil.
func NewOPAEvaluator(ctx context.Context, policy string, logger *slog.Logger) (*OPAEvaluator, error) {
	if strings.TrimSpace(policy) == "" {
		policy = DefaultPolicy
	}
	if logger == nil {
		logger = slog.Default()
	}
	compiler, err := ast.CompileModules(map[string]string{"routes.rego": policy})
	if err != nil {
		return nil, fmt.Errorf("compile route policy: %w", err)
	}
	query, err := rego.New(
		rego.Query(anonymousQuery),
		rego.Compiler(compiler),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("prepare route policy: %w", err)
	}
	return &OPAEvaluator{query: query, logger: logger}, nil
}

// LoadPolicy reads a Rego policy from path. An empty path returns DefaultPolicy.
func LoadPolicy(path string) (string, error) {
	if path == "" {
		return DefaultPolicy, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read policy file: %w", err)
	}
	return string(b), nil
}

// AllowAnonymous evaluates the policy for in. An undefined result is a deny.
func (e *OPAEvaluator) AllowAnonymous(ctx context.Context, in RouteInput) (bool, error) {
	input := map[string]interface{}{
		"transport": in.Transport,
		"method":    in.Method,
		"path":      in.Path,
	}
	rs, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		e.logger.ErrorContext(ctx, "route policy evaluation failed", "path", in.Path, "error", err)
		return false, fmt.Errorf("eval route policy: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return false, nil
	}
	allow, ok := rs[0].Expressions[0].Value.(bool)
	if !ok {
		return false, fmt.Errorf("route policy returned %T, want bool", rs[0].Expressions[0].Value)
	}
	return allow, nil
}

// HealthCheck verifies the prepared policy still evaluates. Used by the readiness probe.
func (e *OPAEvaluator) HealthCheck(ctx context.Context) error {
	_, err := e.AllowAnonymous(ctx, RouteInput{Transport: TransportHTTP, Method: "GET", Path: "/readyz"})
	return err
}
