package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"sdushare/backend/internal/audit"
	identitydomain "sdushare/backend/internal/identity/domain"
	"sdushare/backend/internal/otp"
	"sdushare/backend/internal/ratelimit"
	"sdushare/backend/internal/security"
	sessiondomain "sdushare/backend/internal/session/domain"
	userdomain "sdushare/backend/internal/user/domain"
	userrepo "sdushare/backend/internal/user/repository"
)

// Sentinel errors for the auth service; the HTTP handler maps them to status codes.
var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountBlocked     = errors.New("account is blocked")
	ErrUsernameTaken      = errors.New("username already registered")
	ErrEmailTaken         = errors.New("email already registered")
	// ErrRateLimited is the limiter's sentinel, re-exported for handlers.
	ErrRateLimited = ratelimit.ErrRateLimited
)

// LoginResult holds the issued token pair and the principal it belongs to.
type LoginResult struct {
	Pair *sessiondomain.Pair
	User *userdomain.User
}

// RegisterInput carries the registration form.
type RegisterInput struct {
	Username string
	Password string
	Email    string
	Code     string
	Campus   string
	College  string
	Major    string
}

// UserRepo is the minimal user repository needed by the auth service.
type UserRepo interface {
	GetByID(ctx context.Context, id string) (*userdomain.User, error)
	GetByUsername(ctx context.Context, username string) (*userdomain.User, error)
	GetByEmail(ctx context.Context, email string) (*userdomain.User, error)
	Create(ctx context.Context, u *userdomain.User) error
	ClearBlock(ctx context.Context, id string) error
}

// IdentityRepo is the minimal identity repository needed by the auth service.
type IdentityRepo interface {
	GetByUserAndProvider(ctx context.Context, userID string, provider identitydomain.IdentityProvider) (*identitydomain.Identity, error)
	Create(ctx context.Context, i *identitydomain.Identity) error
}

// CodeVerifier checks and consumes one-time email codes.
type CodeVerifier interface {
	CheckDomain(email string) error
	Verify(ctx context.Context, email, code string) error
	Consume(ctx context.Context, email string) error
}

// SessionIssuer mints a token pair and moves the session pointer for a verified principal.
type SessionIssuer interface {
	Issue(ctx context.Context, subjectID string) (*sessiondomain.Pair, error)
}

// AuthService implements registration, password login and email-code login.
// Token lifecycle after login belongs to the session service.
type AuthService struct {
	userRepo     UserRepo
	identityRepo IdentityRepo
	codes        CodeVerifier
	limiter      ratelimit.LoginLimiter
	sessions     SessionIssuer
	hasher       *security.Hasher
	audit        audit.AuditLogger
	logger       *slog.Logger
	now          func() time.Time
}

// NewAuthService returns an AuthService with the given dependencies. auditLogger and logger may be nil.
func NewAuthService(
	userRepo UserRepo,
	identityRepo IdentityRepo,
	codes CodeVerifier,
	limiter ratelimit.LoginLimiter,
	sessions SessionIssuer,
	hasher *security.Hasher,
	auditLogger audit.AuditLogger,
	logger *slog.Logger,
) *AuthService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthService{
		userRepo:     userRepo,
		identityRepo: identityRepo,
		codes:        codes,
		limiter:      limiter,
		sessions:     sessions,
		hasher:       hasher,
		audit:        auditLogger,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source used for block checks. Tests only.
func (s *AuthService) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Register verifies the email code and creates a principal with a local identity.
// The new principal has no session until its first login.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*userdomain.User, error) {
	username := strings.TrimSpace(in.Username)
	if username == "" || in.Password == "" || in.Email == "" || in.Code == "" {
		return nil, fmt.Errorf("%w: user_name, pass_word, email and email_code are required", ErrInvalidInput)
	}
	if err := validatePassword(in.Password); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	email, err := otp.NormalizeEmail(in.Email)
	if err != nil {
		return nil, err
	}
	if err := s.codes.CheckDomain(email); err != nil {
		return nil, err
	}
	if err := s.codes.Verify(ctx, email, in.Code); err != nil {
		return nil, err
	}

	if existing, err := s.userRepo.GetByUsername(ctx, username); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, ErrUsernameTaken
	}
	if existing, err := s.userRepo.GetByEmail(ctx, email); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, ErrEmailTaken
	}

	hashed, err := s.hasher.Hash([]byte(in.Password))
	if err != nil {
		return nil, err
	}
	now := s.now()
	user := &userdomain.User{
		ID:        uuid.New().String(),
		Username:  username,
		Email:     email,
		Campus:    strings.TrimSpace(in.Campus),
		College:   strings.TrimSpace(in.College),
		Major:     strings.TrimSpace(in.Major),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := user.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		if errors.Is(err, userrepo.ErrDuplicate) {
			return nil, ErrUsernameTaken
		}
		return nil, err
	}
	identity := &identitydomain.Identity{
		ID:           uuid.New().String(),
		UserID:       user.ID,
		Provider:     identitydomain.IdentityProviderLocal,
		ProviderID:   strings.ToLower(username),
		PasswordHash: hashed,
		CreatedAt:    now,
	}
	if err := s.identityRepo.Create(ctx, identity); err != nil {
		return nil, err
	}
	if err := s.codes.Consume(ctx, email); err != nil {
		s.logger.WarnContext(ctx, "consume registration code failed", "email", email, "error", err)
	}
	s.logAudit(ctx, user.ID, audit.ActionRegister, audit.ResourceUser, "")
	s.logger.InfoContext(ctx, "user registered", "user_id", user.ID)
	return user, nil
}

// VerifyPassword resolves identifier (username, or email when it contains "@") and checks secret
// against the local identity. Unknown principals cost one dummy bcrypt comparison.
func (s *AuthService) VerifyPassword(ctx context.Context, identifier, secret string) (*userdomain.User, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || secret == "" {
		return nil, ErrInvalidCredentials
	}
	var (
		user *userdomain.User
		err  error
	)
	if strings.Contains(identifier, "@") {
		user, err = s.userRepo.GetByEmail(ctx, strings.ToLower(identifier))
	} else {
		user, err = s.userRepo.GetByUsername(ctx, identifier)
	}
	if err != nil {
		return nil, err
	}
	if user == nil {
		_ = s.hasher.CompareDummy([]byte(secret))
		return nil, ErrInvalidCredentials
	}
	ident, err := s.identityRepo.GetByUserAndProvider(ctx, user.ID, identitydomain.IdentityProviderLocal)
	if err != nil {
		return nil, err
	}
	if ident == nil || ident.PasswordHash == "" {
		_ = s.hasher.CompareDummy([]byte(secret))
		return nil, ErrInvalidCredentials
	}
	if err := s.hasher.Compare(ident.PasswordHash, []byte(secret)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

// Login authenticates with username-or-email and password and issues a session.
// Order: failure budget, credential, budget reset, block state, issuance.
func (s *AuthService) Login(ctx context.Context, identifier, password string) (*LoginResult, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || password == "" {
		return nil, fmt.Errorf("%w: user_name and pass_word are required", ErrInvalidInput)
	}
	if err := s.limiter.Check(ctx, identifier); err != nil {
		if errors.Is(err, ratelimit.ErrRateLimited) {
			s.logAudit(ctx, "", audit.ActionLoginFailure, audit.ResourceSession, audit.Metadata(map[string]string{"reason": "rate_limited"}))
		}
		return nil, err
	}
	user, err := s.VerifyPassword(ctx, identifier, password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			s.recordFailure(ctx, identifier, "password")
		}
		return nil, err
	}
	return s.completeLogin(ctx, identifier, user, "password")
}

// LoginWithCode authenticates with an email code and issues a session. The code is consumed
// only when the login succeeds.
func (s *AuthService) LoginWithCode(ctx context.Context, email, code string) (*LoginResult, error) {
	if strings.TrimSpace(email) == "" || strings.TrimSpace(code) == "" {
		return nil, fmt.Errorf("%w: email and email_code are required", ErrInvalidInput)
	}
	email, err := otp.NormalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if err := s.limiter.Check(ctx, email); err != nil {
		return nil, err
	}
	if err := s.codes.Verify(ctx, email, code); err != nil {
		if errors.Is(err, otp.ErrCodeInvalid) {
			s.recordFailure(ctx, email, "email_code")
		}
		return nil, err
	}
	user, err := s.userRepo.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if user == nil {
		s.recordFailure(ctx, email, "email_code")
		return nil, ErrInvalidCredentials
	}
	res, err := s.completeLogin(ctx, email, user, "email_code")
	if err != nil {
		return nil, err
	}
	if err := s.codes.Consume(ctx, email); err != nil {
		s.logger.WarnContext(ctx, "consume login code failed", "user_id", user.ID, "error", err)
	}
	return res, nil
}

func (s *AuthService) completeLogin(ctx context.Context, identifier string, user *userdomain.User, method string) (*LoginResult, error) {
	if err := s.limiter.Reset(ctx, identifier); err != nil {
		s.logger.WarnContext(ctx, "reset login failures failed", "user_id", user.ID, "error", err)
	}
	if err := s.checkBlock(ctx, user); err != nil {
		return nil, err
	}
	pair, err := s.sessions.Issue(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, user.ID, audit.ActionLoginSuccess, audit.ResourceSession, audit.Metadata(map[string]string{"method": method}))
	s.logger.InfoContext(ctx, "login succeeded", "user_id", user.ID, "method", method)
	return &LoginResult{Pair: pair, User: user}, nil
}

// checkBlock rejects an active block and lifts an elapsed one.
func (s *AuthService) checkBlock(ctx context.Context, user *userdomain.User) error {
	now := s.now()
	if user.BlockActive(now) {
		s.logAudit(ctx, user.ID, audit.ActionLoginBlocked, audit.ResourceSession, "")
		return ErrAccountBlocked
	}
	if user.BlockElapsed(now) {
		if err := s.userRepo.ClearBlock(ctx, user.ID); err != nil {
			return err
		}
		user.Blocked = false
		user.BlockEndTime = nil
	}
	return nil
}

func (s *AuthService) recordFailure(ctx context.Context, identifier, method string) {
	if err := s.limiter.RecordFailure(ctx, identifier); err != nil {
		s.logger.WarnContext(ctx, "record login failure failed", "error", err)
	}
	s.logAudit(ctx, "", audit.ActionLoginFailure, audit.ResourceSession, audit.Metadata(map[string]string{"method": method}))
}

func (s *AuthService) logAudit(ctx context.Context, userID, action, resource, metadata string) {
	if s.audit != nil {
		s.audit.LogEvent(ctx, userID, action, resource, metadata)
	}
}

func validatePassword(password string) error {
	if len(password) < 8 {
		return errors.New("password must be at least 8 characters")
	}
	var hasLetter, hasNumber bool
	for _, r := range password {
		switch {
		case unicode.IsLetter(r):
			hasLetter = true
		case unicode.IsDigit(r):
			hasNumber = true
		}
	}
	if !hasLetter {
		return errors.New("password must contain at least one letter")
	}
	if !hasNumber {
		return errors.New("password must contain at least one number")
	}
	return nil
}
