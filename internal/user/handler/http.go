// Package handler serves the authenticated principal's own profile and account activity.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"sdushare/backend/internal/api"
	auditdomain "sdushare/backend/internal/audit/domain"
	"sdushare/backend/internal/server/interceptors"
	"sdushare/backend/internal/user/domain"
)

const (
	defaultActivityLimit = 20
	maxActivityLimit     = 100
)

// UserReader loads principals by id.
type UserReader interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
}

// ActivityReader lists a principal's audit entries, newest first.
type ActivityReader interface {
	ListByUser(ctx context.Context, userID string, limit int) ([]*auditdomain.AuditLog, error)
}

// Handler serves /api/user/*. Both routes require a principal in the request context.
type Handler struct {
	users    UserReader
	activity ActivityReader
	logger   *slog.Logger
}

// New returns a user HTTP handler. logger may be nil.
func New(users UserReader, activity ActivityReader, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{users: users, activity: activity, logger: logger}
}

// Routes registers the handler on mux.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/user/me", h.me)
	mux.HandleFunc("GET /api/user/activity", h.listActivity)
}

type profileResponse struct {
	ID        string    `json:"user_id"`
	Username  string    `json:"user_name"`
	Email     string    `json:"email"`
	Campus    string    `json:"campus"`
	College   string    `json:"college"`
	Major     string    `json:"major"`
	CreatedAt time.Time `json:"created_at"`
}

type activityEntry struct {
	Action    string    `json:"action"`
	Resource  string    `json:"resource"`
	IP        string    `json:"ip"`
	CreatedAt time.Time `json:"created_at"`
}

type activityResponse struct {
	Entries []activityEntry `json:"entries"`
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	subject, ok := interceptors.GetSubjectID(r.Context())
	if !ok {
		api.WriteError(w, http.StatusUnauthorized, "unauthenticated", "authentication required")
		return
	}
	u, err := h.users.GetByID(r.Context(), subject)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "load profile failed", "subject_id", subject, "error", err)
		api.WriteError(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	if u == nil {
		api.WriteError(w, http.StatusNotFound, "not_found", "user not found")
		return
	}
	api.WriteJSON(w, http.StatusOK, profileResponse{
		ID:        u.ID,
		Username:  u.Username,
		Email:     u.Email,
		Campus:    u.Campus,
		College:   u.College,
		Major:     u.Major,
		CreatedAt: u.CreatedAt,
	})
}

func (h *Handler) listActivity(w http.ResponseWriter, r *http.Request) {
	subject, ok := interceptors.GetSubjectID(r.Context())
	if !ok {
		api.WriteError(w, http.StatusUnauthorized, "unauthenticated", "authentication required")
		return
	}
	limit := defaultActivityLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			api.WriteError(w, http.StatusBadRequest, "invalid_input", "limit must be a positive integer")
			return
		}
		limit = min(n, maxActivityLimit)
	}
	logs, err := h.activity.ListByUser(r.Context(), subject, limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list activity failed", "subject_id", subject, "error", err)
		api.WriteError(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	resp := activityResponse{Entries: make([]activityEntry, 0, len(logs))}
	for _, l := range logs {
		resp.Entries = append(resp.Entries, activityEntry{
			Action:    l.Action,
			Resource:  l.Resource,
			IP:        l.IP,
			CreatedAt: l.CreatedAt,
		})
	}
	api.WriteJSON(w, http.StatusOK, resp)
}
