// Package handler exposes registration and login over HTTP.
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"sdushare/backend/internal/api"
	"sdushare/backend/internal/identity/service"
	"sdushare/backend/internal/otp"
	"sdushare/backend/internal/ratelimit"
	sessiondomain "sdushare/backend/internal/session/domain"
	userdomain "sdushare/backend/internal/user/domain"
)

// AuthService is the subset of service.AuthService used by the handler.
type AuthService interface {
	Login(ctx context.Context, identifier, password string) (*service.LoginResult, error)
	LoginWithCode(ctx context.Context, email, code string) (*service.LoginResult, error)
	Register(ctx context.Context, in service.RegisterInput) (*userdomain.User, error)
}

// CodeRequester sends one-time email codes.
type CodeRequester interface {
	RequestCode(ctx context.Context, email string) error
}

// Handler serves the login, token and registration routes.
type Handler struct {
	auth   AuthService
	codes  CodeRequester
	logger *slog.Logger
}

// New returns an auth HTTP handler. logger may be nil.
func New(auth AuthService, codes CodeRequester, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{auth: auth, codes: codes, logger: logger}
}

// Routes registers the handler on mux.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/login_passwd", h.loginPassword)
	mux.HandleFunc("POST /api/token/{$}", h.tokenPair)
	mux.HandleFunc("GET /api/login_email", h.sendCode)
	mux.HandleFunc("POST /api/login_email", h.loginEmail)
	mux.HandleFunc("GET /api/register", h.sendCode)
	mux.HandleFunc("POST /api/register", h.register)
}

type passwordLoginRequest struct {
	UserName string `json:"user_name"`
	PassWord string `json:"pass_word"`
}

type tokenPairRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type emailLoginRequest struct {
	Email     string `json:"email"`
	EmailCode string `json:"email_code"`
}

type registerRequest struct {
	UserName  string `json:"user_name"`
	PassWord  string `json:"pass_word"`
	Email     string `json:"email"`
	EmailCode string `json:"email_code"`
	Campus    string `json:"campus"`
	College   string `json:"college"`
	Major     string `json:"major"`
}

type tokenResponse struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
	UserID  string `json:"user_id"`
}

type registerResponse struct {
	UserID   string `json:"user_id"`
	UserName string `json:"user_name"`
}

type detailResponse struct {
	Detail string `json:"detail"`
}

func (h *Handler) loginPassword(w http.ResponseWriter, r *http.Request) {
	var req passwordLoginRequest
	if err := api.DecodeJSON(w, r, &req); err != nil {
		api.WriteError(w, http.StatusBadRequest, "invalid_json", "request body must be a JSON object")
		return
	}
	res, err := h.auth.Login(r.Context(), req.UserName, req.PassWord)
	if err != nil {
		h.writeAuthError(w, r, err)
		return
	}
	writeTokens(w, res)
}

// tokenPair is the username/password token endpoint kept for older clients.
func (h *Handler) tokenPair(w http.ResponseWriter, r *http.Request) {
	var req tokenPairRequest
	if err := api.DecodeJSON(w, r, &req); err != nil {
		api.WriteError(w, http.StatusBadRequest, "invalid_json", "request body must be a JSON object")
		return
	}
	res, err := h.auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		h.writeAuthError(w, r, err)
		return
	}
	writeTokens(w, res)
}

func (h *Handler) loginEmail(w http.ResponseWriter, r *http.Request) {
	var req emailLoginRequest
	if err := api.DecodeJSON(w, r, &req); err != nil {
		api.WriteError(w, http.StatusBadRequest, "invalid_json", "request body must be a JSON object")
		return
	}
	res, err := h.auth.LoginWithCode(r.Context(), req.Email, req.EmailCode)
	if err != nil {
		h.writeAuthError(w, r, err)
		return
	}
	writeTokens(w, res)
}

func (h *Handler) sendCode(w http.ResponseWriter, r *http.Request) {
	email := r.URL.Query().Get("email")
	if email == "" {
		api.WriteError(w, http.StatusBadRequest, "invalid_input", "email is required")
		return
	}
	if err := h.codes.RequestCode(r.Context(), email); err != nil {
		h.writeAuthError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, detailResponse{Detail: "code sent"})
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := api.DecodeJSON(w, r, &req); err != nil {
		api.WriteError(w, http.StatusBadRequest, "invalid_json", "request body must be a JSON object")
		return
	}
	u, err := h.auth.Register(r.Context(), service.RegisterInput{
		Username: req.UserName,
		Password: req.PassWord,
		Email:    req.Email,
		Code:     req.EmailCode,
		Campus:   req.Campus,
		College:  req.College,
		Major:    req.Major,
	})
	if err != nil {
		h.writeAuthError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusCreated, registerResponse{UserID: u.ID, UserName: u.Username})
}

func writeTokens(w http.ResponseWriter, res *service.LoginResult) {
	api.WriteJSON(w, http.StatusOK, tokenResponse{
		Access:  res.Pair.AccessToken,
		Refresh: res.Pair.RefreshToken,
		UserID:  res.Pair.SubjectID,
	})
}

// writeAuthError maps auth, code and session errors to HTTP statuses.
func (h *Handler) writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	var tooSoon *otp.SendTooSoonError
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		api.WriteError(w, http.StatusBadRequest, "invalid_input", err.Error())
	case errors.Is(err, otp.ErrInvalidEmail):
		api.WriteError(w, http.StatusBadRequest, "invalid_email", "invalid email address")
	case errors.Is(err, otp.ErrEmailDomain):
		api.WriteError(w, http.StatusBadRequest, "email_domain", "email domain not allowed")
	case errors.Is(err, service.ErrInvalidCredentials):
		api.WriteError(w, http.StatusUnauthorized, "invalid_credentials", "invalid credentials")
	case errors.Is(err, otp.ErrCodeInvalid):
		api.WriteError(w, http.StatusUnauthorized, "code_invalid", "email code is incorrect")
	case errors.Is(err, otp.ErrCodeNotFound):
		api.WriteError(w, http.StatusNotFound, "code_not_found", "no email code was requested")
	case errors.Is(err, otp.ErrCodeExpired):
		api.WriteError(w, http.StatusGone, "code_expired", "email code has expired")
	case errors.Is(err, service.ErrUsernameTaken):
		api.WriteError(w, http.StatusConflict, "username_taken", "username already registered")
	case errors.Is(err, service.ErrEmailTaken):
		api.WriteError(w, http.StatusConflict, "email_taken", "email already registered")
	case errors.Is(err, service.ErrAccountBlocked):
		api.WriteError(w, http.StatusLocked, "account_blocked", "account is blocked")
	case errors.As(err, &tooSoon):
		api.WriteRetryAfter(w, tooSoon.RetryAfter)
		api.WriteError(w, http.StatusTooManyRequests, "too_soon", tooSoon.Error())
	case errors.Is(err, ratelimit.ErrRateLimited):
		api.WriteError(w, http.StatusTooManyRequests, "rate_limited", "too many failed attempts; try again later")
	case errors.Is(err, sessiondomain.ErrStoreUnavailable), errors.Is(err, ratelimit.ErrUnavailable):
		h.logger.ErrorContext(r.Context(), "auth dependency unavailable", "path", r.URL.Path, "error", err)
		api.WriteError(w, http.StatusServiceUnavailable, "unavailable", "service temporarily unavailable")
	default:
		h.logger.ErrorContext(r.Context(), "auth request failed", "path", r.URL.Path, "error", err)
		api.WriteError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}
