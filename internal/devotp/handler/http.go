// Package handler exposes dev-only code retrieval over HTTP.
package handler

import (
	"net/http"

	"sdushare/backend/internal/api"
	"sdushare/backend/internal/devotp"
)

// Handler serves GET /dev/codes?email=... from the dev code store.
type Handler struct {
	store devotp.Store
}

// New returns a dev code handler. Mount it only when DEV_CODES is enabled.
func New(store devotp.Store) *Handler {
	return &Handler{store: store}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		api.WriteError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	email := r.URL.Query().Get("email")
	if email == "" {
		api.WriteError(w, http.StatusBadRequest, "invalid_input", "email is required")
		return
	}
	code, ok := h.store.Get(r.Context(), email)
	if !ok {
		api.WriteError(w, http.StatusNotFound, "code_not_found", "no code for email")
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]string{"email": email, "code": code})
}
