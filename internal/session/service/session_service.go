package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"sdushare/backend/internal/security"
	"sdushare/backend/internal/session/domain"
	"sdushare/backend/internal/session/repository"
	"sdushare/backend/internal/telemetry"
)

// TokenCodec mints and decodes signed tokens.
type TokenCodec interface {
	Issue(subjectID string, kind security.TokenKind, ttl time.Duration) (security.Token, error)
	Decode(raw string) (security.Token, error)
}

// RevocationStore is the minimal blacklist needed by the session service and authenticator.
type RevocationStore interface {
	Revoke(ctx context.Context, jti string, expiresAt time.Time) error
	IsRevoked(ctx context.Context, jti string, now time.Time) (bool, error)
}

// PointerStore is the minimal session pointer store. The session service is its only writer.
type PointerStore interface {
	GetCurrent(ctx context.Context, subjectID string) (string, error)
	SetCurrent(ctx context.Context, subjectID, jti string) error
	CompareAndSwap(ctx context.Context, subjectID, oldJTI, newJTI string) (bool, error)
}

// issueCASAttempts bounds how often a login retries a lost pointer swap before overwriting.
const issueCASAttempts = 3

// Config holds token lifetimes and the pointer rotation policy.
type Config struct {
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	// RevocationGrace is how long a superseded access jti stays blacklisted. Raised to AccessTTL if lower.
	RevocationGrace time.Duration
	Policy          domain.RotationPolicy
}

// SessionService issues token pairs, refreshes access tokens and logs out.
// It enforces one active access token per principal through the session pointer.
type SessionService struct {
	codec       TokenCodec
	revocations RevocationStore
	pointers    PointerStore
	cfg         Config
	logger      *slog.Logger
	emitter     telemetry.EventEmitter
	metrics     *telemetry.Metrics
	now         func() time.Time
}

// NewSessionService returns a SessionService. logger, emitter and metrics may be nil.
func NewSessionService(
	codec TokenCodec,
	revocations RevocationStore,
	pointers PointerStore,
	cfg Config,
	logger *slog.Logger,
	emitter telemetry.EventEmitter,
	metrics *telemetry.Metrics,
) *SessionService {
	if cfg.RevocationGrace < cfg.AccessTTL {
		cfg.RevocationGrace = cfg.AccessTTL
	}
	if cfg.Policy == "" {
		cfg.Policy = domain.RotationCAS
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionService{
		codec:       codec,
		revocations: revocations,
		pointers:    pointers,
		cfg:         cfg,
		logger:      logger,
		emitter:     emitter,
		metrics:     metrics,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source used for revocation expiry and checks. Tests only.
func (s *SessionService) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Issue mints an access/refresh pair for a principal whose credential was already verified,
// moves the session pointer to the new access jti and blacklists the previous one.
// Any access token issued earlier for subjectID is rejected from then on.
func (s *SessionService) Issue(ctx context.Context, subjectID string) (*domain.Pair, error) {
	if subjectID == "" {
		return nil, errors.New("session: subject is required")
	}
	access, err := s.codec.Issue(subjectID, security.KindAccess, s.cfg.AccessTTL)
	if err != nil {
		return nil, fmt.Errorf("session: issue access: %w", err)
	}
	refresh, err := s.codec.Issue(subjectID, security.KindRefresh, s.cfg.RefreshTTL)
	if err != nil {
		return nil, fmt.Errorf("session: issue refresh: %w", err)
	}
	old, err := s.claimPointer(ctx, subjectID, access.JTI)
	if err != nil {
		return nil, err
	}
	s.retire(ctx, subjectID, old)

	s.logger.InfoContext(ctx, "session issued", "subject_id", subjectID, "jti", access.JTI, "replaced", old != "")
	ev := telemetry.NewEvent(telemetry.EventSessionIssued, subjectID)
	ev.JTI = access.JTI
	telemetry.EmitAsync(s.emitter, ctx, ev)

	return &domain.Pair{
		SubjectID:        subjectID,
		AccessToken:      access.Raw,
		AccessJTI:        access.JTI,
		AccessExpiresAt:  access.ExpiresAt,
		RefreshToken:     refresh.Raw,
		RefreshJTI:       refresh.JTI,
		RefreshExpiresAt: refresh.ExpiresAt,
	}, nil
}

// Refresh exchanges a valid, unrevoked refresh token for a new access token and rotates the
// pointer exactly as Issue does. The refresh token itself is not rotated.
// Errors: security.ErrMalformedToken, ErrInvalidSignature, ErrTokenExpired,
// domain.ErrWrongTokenKind, ErrRevoked, ErrUnknownSubject, ErrRotationConflict, ErrStoreUnavailable.
func (s *SessionService) Refresh(ctx context.Context, rawRefresh string) (*domain.Access, error) {
	tok, err := s.codec.Decode(rawRefresh)
	if err != nil {
		return nil, err
	}
	if tok.Kind != security.KindRefresh {
		return nil, domain.ErrWrongTokenKind
	}
	revoked, err := s.revocations.IsRevoked(ctx, tok.JTI, s.now())
	if err != nil {
		return nil, storeErr(err)
	}
	if revoked {
		return nil, domain.ErrRevoked
	}

	old, err := s.currentPointer(ctx, tok.SubjectID)
	if err != nil {
		return nil, err
	}
	access, err := s.codec.Issue(tok.SubjectID, security.KindAccess, s.cfg.AccessTTL)
	if err != nil {
		return nil, fmt.Errorf("session: issue access: %w", err)
	}
	if err := s.movePointer(ctx, "refresh", tok.SubjectID, old, access.JTI); err != nil {
		return nil, err
	}
	s.retire(ctx, tok.SubjectID, old)

	ev := telemetry.NewEvent(telemetry.EventSessionRotated, tok.SubjectID)
	ev.JTI = access.JTI
	telemetry.EmitAsync(s.emitter, ctx, ev)

	return &domain.Access{
		SubjectID: tok.SubjectID,
		Token:     access.Raw,
		JTI:       access.JTI,
		ExpiresAt: access.ExpiresAt,
	}, nil
}

// Logout blacklists the access token, and the refresh token when given, each until its own expiry.
// The session pointer is left unchanged. An expired token needs no revocation and is skipped.
// Unparseable or foreign tokens return security.ErrMalformedToken. The returned subject is
// empty when both tokens had already expired.
func (s *SessionService) Logout(ctx context.Context, rawAccess, rawRefresh string) (string, error) {
	access, accessLive, err := s.decodeForLogout(rawAccess, security.KindAccess)
	if err != nil {
		return "", err
	}
	var refresh security.Token
	refreshLive := false
	if rawRefresh != "" {
		refresh, refreshLive, err = s.decodeForLogout(rawRefresh, security.KindRefresh)
		if err != nil {
			return "", err
		}
		if accessLive && refreshLive && refresh.SubjectID != access.SubjectID {
			return "", domain.ErrSubjectMismatch
		}
	}

	if accessLive {
		if err := s.revoke(ctx, access, "logout"); err != nil {
			return "", err
		}
	}
	if refreshLive {
		if err := s.revoke(ctx, refresh, "logout"); err != nil {
			return "", err
		}
	}
	subject := access.SubjectID
	if subject == "" {
		subject = refresh.SubjectID
	}
	s.logger.InfoContext(ctx, "logout", "subject_id", subject, "access_revoked", accessLive, "refresh_revoked", refreshLive)
	return subject, nil
}

// decodeForLogout reports live=false for an expired token of the right shape.
func (s *SessionService) decodeForLogout(raw string, kind security.TokenKind) (security.Token, bool, error) {
	tok, err := s.codec.Decode(raw)
	switch {
	case errors.Is(err, security.ErrTokenExpired):
		return security.Token{}, false, nil
	case err != nil:
		return security.Token{}, false, security.ErrMalformedToken
	case tok.Kind != kind:
		return security.Token{}, false, security.ErrMalformedToken
	}
	return tok, true, nil
}

func (s *SessionService) revoke(ctx context.Context, tok security.Token, cause string) error {
	if err := s.revocations.Revoke(ctx, tok.JTI, tok.ExpiresAt); err != nil {
		return storeErr(err)
	}
	s.metrics.RecordRevocation(ctx, cause)
	ev := telemetry.NewEvent(telemetry.EventTokenRevoked, tok.SubjectID)
	ev.JTI = tok.JTI
	ev.Reason = cause
	telemetry.EmitAsync(s.emitter, ctx, ev)
	return nil
}

func (s *SessionService) currentPointer(ctx context.Context, subjectID string) (string, error) {
	cur, err := s.pointers.GetCurrent(ctx, subjectID)
	if err != nil {
		return "", pointerErr(subjectID, err)
	}
	return cur, nil
}

// claimPointer moves the pointer to next for a fresh login and returns the jti it replaced.
// A login always wins: a lost CAS is retried against the re-read pointer, and after
// issueCASAttempts the pointer is overwritten.
func (s *SessionService) claimPointer(ctx context.Context, subjectID, next string) (string, error) {
	for attempt := 1; attempt <= issueCASAttempts; attempt++ {
		old, err := s.currentPointer(ctx, subjectID)
		if err != nil {
			return "", err
		}
		err = s.movePointer(ctx, "issue", subjectID, old, next)
		if !errors.Is(err, domain.ErrRotationConflict) {
			return old, err
		}
	}
	old, err := s.currentPointer(ctx, subjectID)
	if err != nil {
		return "", err
	}
	if err := s.pointers.SetCurrent(ctx, subjectID, next); err != nil {
		s.metrics.RecordRotation(ctx, "issue", "error")
		return "", pointerErr(subjectID, err)
	}
	s.metrics.RecordRotation(ctx, "issue", "ok")
	return old, nil
}

// movePointer applies the configured rotation policy.
func (s *SessionService) movePointer(ctx context.Context, op, subjectID, old, next string) error {
	if s.cfg.Policy == domain.RotationLastWriterWins {
		if err := s.pointers.SetCurrent(ctx, subjectID, next); err != nil {
			s.metrics.RecordRotation(ctx, op, "error")
			return pointerErr(subjectID, err)
		}
		s.metrics.RecordRotation(ctx, op, "ok")
		return nil
	}

	swapped, err := s.pointers.CompareAndSwap(ctx, subjectID, old, next)
	if err != nil {
		s.metrics.RecordRotation(ctx, op, "error")
		return storeErr(err)
	}
	if !swapped {
		s.metrics.RecordRotation(ctx, op, "conflict")
		s.logger.WarnContext(ctx, "session rotation lost race", "op", op, "subject_id", subjectID)
		return domain.ErrRotationConflict
	}
	s.metrics.RecordRotation(ctx, op, "ok")
	return nil
}

// retire blacklists the superseded access jti. Failures are logged, not returned;
// the pointer already rejects old.
func (s *SessionService) retire(ctx context.Context, subjectID, old string) {
	if old == "" {
		return
	}
	expiresAt := s.now().Add(s.cfg.RevocationGrace)
	if err := s.revocations.Revoke(ctx, old, expiresAt); err != nil {
		s.logger.WarnContext(ctx, "revoke superseded token failed", "subject_id", subjectID, "jti", old, "error", err)
		return
	}
	s.metrics.RecordRevocation(ctx, "rotation")
	ev := telemetry.NewEvent(telemetry.EventTokenRevoked, subjectID)
	ev.JTI = old
	ev.Reason = "rotation"
	telemetry.EmitAsync(s.emitter, ctx, ev)
}

func pointerErr(subjectID string, err error) error {
	if errors.Is(err, repository.ErrSubjectNotFound) {
		return fmt.Errorf("%w: %s", domain.ErrUnknownSubject, subjectID)
	}
	return storeErr(err)
}

func storeErr(err error) error {
	return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
}
