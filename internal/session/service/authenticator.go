package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"sdushare/backend/internal/security"
	"sdushare/backend/internal/session/domain"
	"sdushare/backend/internal/session/repository"
	"sdushare/backend/internal/telemetry"
)

// Authenticator resolves the Authorization header of an inbound request to a principal.
// Checks run cheapest first: header shape, signature and expiry, blacklist, session pointer.
// Store failures fail closed with domain.ErrStoreUnavailable.
type Authenticator struct {
	codec       TokenCodec
	revocations RevocationStore
	pointers    PointerStore
	logger      *slog.Logger
	emitter     telemetry.EventEmitter
	metrics     *telemetry.Metrics
	now         func() time.Time
}

// NewAuthenticator returns an Authenticator. logger, emitter and metrics may be nil.
func NewAuthenticator(
	codec TokenCodec,
	revocations RevocationStore,
	pointers PointerStore,
	logger *slog.Logger,
	emitter telemetry.EventEmitter,
	metrics *telemetry.Metrics,
) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Authenticator{
		codec:       codec,
		revocations: revocations,
		pointers:    pointers,
		logger:      logger,
		emitter:     emitter,
		metrics:     metrics,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source used for blacklist checks. Tests only.
func (a *Authenticator) SetClock(now func() time.Time) {
	if now != nil {
		a.now = now
	}
}

// Authenticate returns (nil, nil) for an empty header (anonymous caller), the principal on
// success, a *domain.UnauthenticatedError on rejection, or an error wrapping
// domain.ErrStoreUnavailable when a store could not be consulted.
func (a *Authenticator) Authenticate(ctx context.Context, header string) (*domain.Principal, error) {
	if strings.TrimSpace(header) == "" {
		a.metrics.RecordAuth(ctx, "anonymous")
		return nil, nil
	}
	raw, ok := ParseBearer(header)
	if !ok {
		return nil, a.reject(ctx, domain.ReasonMalformed, "", "", security.ErrMalformedToken)
	}

	tok, err := a.codec.Decode(raw)
	if err != nil {
		return nil, a.reject(ctx, decodeReason(err), "", "", err)
	}
	if tok.Kind != security.KindAccess {
		return nil, a.reject(ctx, domain.ReasonMalformed, tok.SubjectID, tok.JTI, domain.ErrWrongTokenKind)
	}

	revoked, err := a.revocations.IsRevoked(ctx, tok.JTI, a.now())
	if err != nil {
		return nil, a.unavailable(ctx, "revocation", err)
	}
	if revoked {
		return nil, a.reject(ctx, domain.ReasonRevoked, tok.SubjectID, tok.JTI, domain.ErrRevoked)
	}

	current, err := a.pointers.GetCurrent(ctx, tok.SubjectID)
	if errors.Is(err, repository.ErrSubjectNotFound) {
		return nil, a.reject(ctx, domain.ReasonSuperseded, tok.SubjectID, tok.JTI, domain.ErrUnknownSubject)
	}
	if err != nil {
		return nil, a.unavailable(ctx, "pointer", err)
	}
	if current != tok.JTI {
		return nil, a.reject(ctx, domain.ReasonSuperseded, tok.SubjectID, tok.JTI, domain.ErrSuperseded)
	}

	a.metrics.RecordAuth(ctx, "ok")
	return &domain.Principal{SubjectID: tok.SubjectID, JTI: tok.JTI, ExpiresAt: tok.ExpiresAt}, nil
}

// RejectMissing records a missing-credential rejection for a route that requires a principal.
func (a *Authenticator) RejectMissing(ctx context.Context) error {
	return a.reject(ctx, domain.ReasonMissing, "", "", nil)
}

func (a *Authenticator) reject(ctx context.Context, reason domain.Reason, subjectID, jti string, cause error) error {
	a.metrics.RecordAuth(ctx, string(reason))
	a.logger.InfoContext(ctx, "authentication rejected", "reason", reason, "subject_id", subjectID, "jti", jti)
	ev := telemetry.NewEvent(telemetry.EventAuthRejected, subjectID)
	ev.JTI = jti
	ev.Reason = string(reason)
	telemetry.EmitAsync(a.emitter, ctx, ev)
	return &domain.UnauthenticatedError{Reason: reason, Err: cause}
}

func (a *Authenticator) unavailable(ctx context.Context, store string, err error) error {
	a.metrics.RecordAuth(ctx, "store_unavailable")
	a.logger.ErrorContext(ctx, "authentication store unavailable", "store", store, "error", err)
	return fmt.Errorf("%w: %s: %v", domain.ErrStoreUnavailable, store, err)
}

func decodeReason(err error) domain.Reason {
	switch {
	case errors.Is(err, security.ErrTokenExpired):
		return domain.ReasonExpired
	case errors.Is(err, security.ErrInvalidSignature):
		return domain.ReasonInvalidSignature
	default:
		return domain.ReasonMalformed
	}
}

// ParseBearer splits an Authorization header of the form "Bearer <token>".
// The scheme is case-insensitive; anything other than exactly two fields is rejected.
func ParseBearer(header string) (string, bool) {
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}
