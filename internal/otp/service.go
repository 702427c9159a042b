package otp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"sdushare/backend/internal/otp/domain"
	"sdushare/backend/internal/otp/repository"
)

// Defaults used when Config leaves a field zero.
const (
	DefaultTTL          = 10 * time.Minute
	DefaultSendInterval = time.Minute
)

var (
	ErrInvalidEmail = errors.New("invalid email address")
	ErrEmailDomain  = errors.New("email domain not allowed")
	ErrSendTooSoon  = errors.New("code requested too soon")
	ErrCodeNotFound = errors.New("no code requested for this email")
	ErrCodeInvalid  = errors.New("code does not match")
	ErrCodeExpired  = errors.New("code expired")
)

// SendTooSoonError carries the time left until another code may be requested.
// It matches ErrSendTooSoon with errors.Is.
type SendTooSoonError struct {
	RetryAfter time.Duration
}

func (e *SendTooSoonError) Error() string {
	return fmt.Sprintf("code requested too soon; retry in %ds", int(e.RetryAfter.Seconds()))
}

func (e *SendTooSoonError) Is(target error) bool { return target == ErrSendTooSoon }

// Sender delivers a plain code to an email address. Implementations must not log the code.
type Sender interface {
	Send(ctx context.Context, email, code string, expiresAt time.Time) error
}

// Config controls code lifetime, resend throttling and the allowed email domains.
type Config struct {
	TTL          time.Duration
	SendInterval time.Duration
	// Domains restricts RequestCode to these email domains; empty allows any.
	Domains []string
}

// Service issues and verifies one-time email codes.
type Service struct {
	repo   repository.Repository
	sender Sender
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

// NewService returns a code service. logger may be nil.
func NewService(repo repository.Repository, sender Sender, cfg Config, logger *slog.Logger) *Service {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.SendInterval <= 0 {
		cfg.SendInterval = DefaultSendInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:   repo,
		sender: sender,
		cfg:    cfg,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source. Tests only.
func (s *Service) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// NormalizeEmail trims and lowercases email and checks it is a bare address.
func NormalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", ErrInvalidEmail
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", ErrInvalidEmail
	}
	return email, nil
}

// CheckDomain returns ErrEmailDomain when email is outside the configured allow-list.
func (s *Service) CheckDomain(email string) error {
	if len(s.cfg.Domains) == 0 {
		return nil
	}
	at := strings.LastIndexByte(email, '@')
	domain := email[at+1:]
	for _, d := range s.cfg.Domains {
		if domain == d {
			return nil
		}
	}
	return ErrEmailDomain
}

// RequestCode stores a fresh code for email and hands it to the sender.
// At most one code is issued per SendInterval; a second request returns *SendTooSoonError.
func (s *Service) RequestCode(ctx context.Context, email string) error {
	email, err := NormalizeEmail(email)
	if err != nil {
		return err
	}
	if err := s.CheckDomain(email); err != nil {
		return err
	}
	now := s.now()
	latest, err := s.repo.Latest(ctx, email)
	if err != nil {
		return err
	}
	if latest != nil {
		if next := latest.CreatedAt.Add(s.cfg.SendInterval); now.Before(next) {
			return &SendTooSoonError{RetryAfter: next.Sub(now).Round(time.Second)}
		}
	}

	code, err := GenerateCode()
	if err != nil {
		return err
	}
	c := &domain.Code{
		ID:        uuid.New().String(),
		Email:     email,
		CodeHash:  HashCode(code),
		ExpiresAt: now.Add(s.cfg.TTL),
		CreatedAt: now,
	}
	if err := s.repo.Create(ctx, c); err != nil {
		return err
	}
	if err := s.sender.Send(ctx, email, code, c.ExpiresAt); err != nil {
		s.logger.ErrorContext(ctx, "code delivery failed", "email", email, "error", err)
		return fmt.Errorf("otp: send: %w", err)
	}
	s.logger.InfoContext(ctx, "code sent", "email", email)
	return nil
}

// Verify checks code against the newest code for email. The code is not consumed.
// Order of checks: missing, mismatch, expiry.
func (s *Service) Verify(ctx context.Context, email, code string) error {
	email, err := NormalizeEmail(email)
	if err != nil {
		return ErrCodeNotFound
	}
	latest, err := s.repo.Latest(ctx, email)
	if err != nil {
		return err
	}
	if latest == nil {
		return ErrCodeNotFound
	}
	if !CodeEqual(strings.TrimSpace(code), latest.CodeHash) {
		return ErrCodeInvalid
	}
	if latest.Expired(s.now()) {
		return ErrCodeExpired
	}
	return nil
}

// Consume deletes every code for email after a successful verification.
func (s *Service) Consume(ctx context.Context, email string) error {
	email, err := NormalizeEmail(email)
	if err != nil {
		return err
	}
	return s.repo.DeleteByEmail(ctx, email)
}

// PurgeExpired deletes codes past their expiry and returns how many were removed.
func (s *Service) PurgeExpired(ctx context.Context) (int64, error) {
	return s.repo.DeleteExpired(ctx, s.now())
}
