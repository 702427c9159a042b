package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"sdushare/backend/internal/identity/service"
	"sdushare/backend/internal/otp"
	"sdushare/backend/internal/ratelimit"
	sessiondomain "sdushare/backend/internal/session/domain"
	userdomain "sdushare/backend/internal/user/domain"
)

type stubAuth struct {
	mu        sync.Mutex
	err       error
	lastID    string
	lastPass  string
	lastEmail string
	lastCode  string
	lastReg   service.RegisterInput
}

func (s *stubAuth) result(subject string) *service.LoginResult {
	return &service.LoginResult{
		Pair: &sessiondomain.Pair{SubjectID: subject, AccessToken: "acc", RefreshToken: "ref"},
		User: &userdomain.User{ID: subject},
	}
}

func (s *stubAuth) Login(ctx context.Context, identifier, password string) (*service.LoginResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastID, s.lastPass = identifier, password
	if s.err != nil {
		return nil, s.err
	}
	return s.result("u1"), nil
}

func (s *stubAuth) LoginWithCode(ctx context.Context, email, code string) (*service.LoginResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastEmail, s.lastCode = email, code
	if s.err != nil {
		return nil, s.err
	}
	return s.result("u2"), nil
}

func (s *stubAuth) Register(ctx context.Context, in service.RegisterInput) (*userdomain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastReg = in
	if s.err != nil {
		return nil, s.err
	}
	return &userdomain.User{ID: "u3", Username: in.Username}, nil
}

type stubCodes struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (c *stubCodes) RequestCode(ctx context.Context, email string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.sent = append(c.sent, email)
	return nil
}

func newTestMux(auth *stubAuth, codes *stubCodes) *http.ServeMux {
	mux := http.NewServeMux()
	New(auth, codes, nil).Routes(mux)
	return mux
}

func do(t *testing.T, mux *http.ServeMux, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal error body: %v: %s", err, rec.Body.String())
	}
	return body.Error.Code
}

func TestLoginRoutes_Success(t *testing.T) {
	testCases := []struct {
		name    string
		target  string
		body    string
		subject string
	}{
		{"password", "/api/login_passwd", `{"user_name":"alice","pass_word":"password1"}`, "u1"},
		{"token compat", "/api/token/", `{"username":"alice","password":"password1"}`, "u1"},
		{"email code", "/api/login_email", `{"email":"alice@mail.sdu.edu.cn","email_code":"123456"}`, "u2"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			auth := &stubAuth{}
			rec := do(t, newTestMux(auth, &stubCodes{}), http.MethodPost, tc.target, tc.body)
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
			}
			var resp tokenResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if resp.Access != "acc" || resp.Refresh != "ref" || resp.UserID != tc.subject {
				t.Errorf("resp = %+v", resp)
			}
		})
	}
}

func TestLoginPassword_PassesFields(t *testing.T) {
	auth := &stubAuth{}
	do(t, newTestMux(auth, &stubCodes{}), http.MethodPost, "/api/token/", `{"username":"bob","password":"pw"}`)
	if auth.lastID != "bob" || auth.lastPass != "pw" {
		t.Errorf("Login(%q, %q)", auth.lastID, auth.lastPass)
	}
}

func TestAuthErrors_StatusMapping(t *testing.T) {
	testCases := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"invalid input", fmt.Errorf("%w: user_name is required", service.ErrInvalidInput), http.StatusBadRequest, "invalid_input"},
		{"bad credentials", service.ErrInvalidCredentials, http.StatusUnauthorized, "invalid_credentials"},
		{"code invalid", otp.ErrCodeInvalid, http.StatusUnauthorized, "code_invalid"},
		{"code not found", otp.ErrCodeNotFound, http.StatusNotFound, "code_not_found"},
		{"code expired", otp.ErrCodeExpired, http.StatusGone, "code_expired"},
		{"blocked", service.ErrAccountBlocked, http.StatusLocked, "account_blocked"},
		{"rate limited", ratelimit.ErrRateLimited, http.StatusTooManyRequests, "rate_limited"},
		{"store down", fmt.Errorf("%w: db", sessiondomain.ErrStoreUnavailable), http.StatusServiceUnavailable, "unavailable"},
		{"limiter down", fmt.Errorf("%w: redis", ratelimit.ErrUnavailable), http.StatusServiceUnavailable, "unavailable"},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError, "internal"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			mux := newTestMux(&stubAuth{err: tc.err}, &stubCodes{})
			rec := do(t, mux, http.MethodPost, "/api/login_passwd", `{"user_name":"a","pass_word":"b"}`)
			if rec.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tc.wantStatus)
			}
			if got := errorCode(t, rec); got != tc.wantCode {
				t.Errorf("code = %q, want %q", got, tc.wantCode)
			}
		})
	}
}

func TestLogin_BadJSON(t *testing.T) {
	rec := do(t, newTestMux(&stubAuth{}, &stubCodes{}), http.MethodPost, "/api/login_passwd", `{"user_name":`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestSendCode(t *testing.T) {
	codes := &stubCodes{}
	mux := newTestMux(&stubAuth{}, codes)

	rec := do(t, mux, http.MethodGet, "/api/register?email=bob@mail.sdu.edu.cn", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	rec = do(t, mux, http.MethodGet, "/api/login_email?email=alice@mail.sdu.edu.cn", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(codes.sent) != 2 {
		t.Errorf("sent = %v", codes.sent)
	}

	rec = do(t, mux, http.MethodGet, "/api/register", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing email status = %d, want 400", rec.Code)
	}
}

func TestSendCode_Throttled(t *testing.T) {
	codes := &stubCodes{err: &otp.SendTooSoonError{RetryAfter: 40 * time.Second}}
	rec := do(t, newTestMux(&stubAuth{}, codes), http.MethodGet, "/api/register?email=bob@mail.sdu.edu.cn", "")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "40" {
		t.Errorf("Retry-After = %q, want 40", got)
	}
	if !strings.Contains(rec.Body.String(), "40s") {
		t.Errorf("body should carry the remaining seconds: %s", rec.Body.String())
	}
}

func TestSendCode_DomainRejected(t *testing.T) {
	codes := &stubCodes{err: otp.ErrEmailDomain}
	rec := do(t, newTestMux(&stubAuth{}, codes), http.MethodGet, "/api/register?email=bob@example.com", "")
	if rec.Code != http.StatusBadRequest || errorCode(t, rec) != "email_domain" {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
}

func TestRegister(t *testing.T) {
	auth := &stubAuth{}
	body := `{"user_name":"bob","pass_word":"secret123","email":"bob@mail.sdu.edu.cn","email_code":"111111","campus":"Qingdao","college":"CS","major":"SE"}`
	rec := do(t, newTestMux(auth, &stubCodes{}), http.MethodPost, "/api/register", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var resp registerResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.UserID != "u3" || resp.UserName != "bob" {
		t.Errorf("resp = %+v", resp)
	}
	if auth.lastReg.Code != "111111" || auth.lastReg.Campus != "Qingdao" {
		t.Errorf("RegisterInput = %+v", auth.lastReg)
	}
}

func TestRegister_Conflicts(t *testing.T) {
	for _, err := range []error{service.ErrUsernameTaken, service.ErrEmailTaken} {
		rec := do(t, newTestMux(&stubAuth{err: err}, &stubCodes{}), http.MethodPost, "/api/register", `{"user_name":"bob"}`)
		if rec.Code != http.StatusConflict {
			t.Errorf("%v: status = %d, want 409", err, rec.Code)
		}
	}
}

func TestRoutes_MethodAndPath(t *testing.T) {
	mux := newTestMux(&stubAuth{}, &stubCodes{})
	if rec := do(t, mux, http.MethodGet, "/api/login_passwd", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET login_passwd = %d, want 405", rec.Code)
	}
	if rec := do(t, mux, http.MethodPost, "/api/token/other", `{}`); rec.Code != http.StatusNotFound {
		t.Errorf("POST /api/token/other = %d, want 404", rec.Code)
	}
}
