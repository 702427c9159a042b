// Package audit records security-relevant account events (logins, logouts, registrations) in audit_logs.
package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"sdushare/backend/internal/audit/domain"
	auditrepo "sdushare/backend/internal/audit/repository"
)

// Actions recorded by the auth and session code paths.
const (
	ActionLoginSuccess = "login_success"
	ActionLoginFailure = "login_failure"
	ActionLoginBlocked = "login_blocked"
	ActionLogout       = "logout"
	ActionRegister     = "register"
	ActionRefresh      = "refresh"
)

// Resources an action applies to.
const (
	ResourceSession = "session"
	ResourceUser    = "user"
)

// IPExtractor returns the client IP from the request context.
type IPExtractor func(context.Context) string

// AuditLogger writes a single audit event with explicit action/resource.
// LogEvent is best-effort: failures are logged and do not affect the caller.
type AuditLogger interface {
	LogEvent(ctx context.Context, userID, action, resource, metadata string)
}

// Logger implements AuditLogger using the audit repository and an optional IP extractor.
type Logger struct {
	repo        auditrepo.Repository
	ipExtractor IPExtractor
	logger      *slog.Logger
	now         func() time.Time
}

// NewLogger returns an AuditLogger that persists to repo and uses ipExtractor for client IP.
// ipExtractor may be nil; then IP is recorded as "unknown". logger may be nil.
func NewLogger(repo auditrepo.Repository, ipExtractor IPExtractor, logger *slog.Logger) *Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Logger{
		repo:        repo,
		ipExtractor: ipExtractor,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// LogEvent writes one audit log entry. Best-effort: errors are logged and not returned.
func (l *Logger) LogEvent(ctx context.Context, userID, action, resource, metadata string) {
	if l == nil || l.repo == nil {
		return
	}
	ip := "unknown"
	if l.ipExtractor != nil {
		if v := l.ipExtractor(ctx); v != "" {
			ip = v
		}
	}
	entry := &domain.AuditLog{
		ID:        uuid.New().String(),
		UserID:    userID,
		Action:    action,
		Resource:  resource,
		IP:        ip,
		Metadata:  metadata,
		CreatedAt: l.now(),
	}
	if err := l.repo.Create(ctx, entry); err != nil {
		l.logger.WarnContext(ctx, "audit write failed", "action", action, "resource", resource, "error", err)
	}
}

// Metadata encodes key/value pairs as a JSON object for the metadata column. Empty input yields "".
func Metadata(kv map[string]string) string {
	if len(kv) == 0 {
		return ""
	}
	b, err := json.Marshal(kv)
	if err != nil {
		return ""
	}
	return string(b)
}
