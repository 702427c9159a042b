// Package handler exposes token refresh and logout over HTTP.
package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"sdushare/backend/internal/api"
	"sdushare/backend/internal/audit"
	"sdushare/backend/internal/security"
	"sdushare/backend/internal/session/domain"
	"sdushare/backend/internal/session/service"
)

// Sessions is the subset of service.SessionService used by the handler.
type Sessions interface {
	Refresh(ctx context.Context, rawRefresh string) (*domain.Access, error)
	Logout(ctx context.Context, rawAccess, rawRefresh string) (string, error)
}

// Handler serves the refresh and logout routes. Both are public: the tokens in the request are
// the credential.
type Handler struct {
	sessions Sessions
	audit    audit.AuditLogger
	logger   *slog.Logger
}

// New returns a session HTTP handler. auditLogger and logger may be nil.
func New(sessions Sessions, auditLogger audit.AuditLogger, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{sessions: sessions, audit: auditLogger, logger: logger}
}

// Routes registers the handler on mux.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/token/refresh/{$}", h.refresh)
	mux.HandleFunc("POST /api/logout", h.logout)
}

type refreshRequest struct {
	Refresh string `json:"refresh"`
}

type refreshResponse struct {
	Access string `json:"access"`
}

type logoutRequest struct {
	Refresh string `json:"refresh"`
}

func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := api.DecodeJSON(w, r, &req); err != nil {
		api.WriteError(w, http.StatusBadRequest, "invalid_json", "request body must be a JSON object")
		return
	}
	if req.Refresh == "" {
		api.WriteError(w, http.StatusBadRequest, "invalid_input", "refresh is required")
		return
	}
	access, err := h.sessions.Refresh(r.Context(), req.Refresh)
	switch {
	case err == nil:
		h.logAudit(r.Context(), access.SubjectID, audit.ActionRefresh)
		api.WriteJSON(w, http.StatusOK, refreshResponse{Access: access.Token})
	case errors.Is(err, domain.ErrRotationConflict):
		api.WriteError(w, http.StatusConflict, "rotation_conflict", "a concurrent refresh won; retry")
	case errors.Is(err, domain.ErrStoreUnavailable):
		h.logger.ErrorContext(r.Context(), "refresh failed", "error", err)
		api.WriteError(w, http.StatusServiceUnavailable, "unavailable", "service temporarily unavailable")
	case isTokenError(err):
		api.WriteError(w, http.StatusUnauthorized, "token_not_valid", "token is invalid or expired")
	default:
		h.logger.ErrorContext(r.Context(), "refresh failed", "error", err)
		api.WriteError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	rawAccess, ok := service.ParseBearer(r.Header.Get("Authorization"))
	if !ok {
		api.WriteError(w, http.StatusBadRequest, "malformed_token", "bearer access token required")
		return
	}
	var req logoutRequest
	if err := api.DecodeJSON(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		api.WriteError(w, http.StatusBadRequest, "invalid_json", "request body must be a JSON object")
		return
	}
	subject, err := h.sessions.Logout(r.Context(), rawAccess, req.Refresh)
	switch {
	case err == nil:
		if subject != "" {
			h.logAudit(r.Context(), subject, audit.ActionLogout)
		}
		api.WriteJSON(w, http.StatusOK, struct {
			Detail string `json:"detail"`
		}{Detail: "logged out"})
	case errors.Is(err, domain.ErrStoreUnavailable):
		h.logger.ErrorContext(r.Context(), "logout failed", "error", err)
		api.WriteError(w, http.StatusServiceUnavailable, "unavailable", "service temporarily unavailable")
	case errors.Is(err, security.ErrMalformedToken), errors.Is(err, domain.ErrSubjectMismatch):
		api.WriteError(w, http.StatusBadRequest, "malformed_token", "token is malformed")
	default:
		h.logger.ErrorContext(r.Context(), "logout failed", "error", err)
		api.WriteError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

func (h *Handler) logAudit(ctx context.Context, subject, action string) {
	if h.audit != nil {
		h.audit.LogEvent(ctx, subject, action, audit.ResourceSession, "")
	}
}

func isTokenError(err error) bool {
	return errors.Is(err, security.ErrMalformedToken) ||
		errors.Is(err, security.ErrInvalidSignature) ||
		errors.Is(err, security.ErrTokenExpired) ||
		errors.Is(err, domain.ErrWrongTokenKind) ||
		errors.Is(err, domain.ErrRevoked) ||
		errors.Is(err, domain.ErrUnknownSubject)
}
