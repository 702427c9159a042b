package domain

import (
	"errors"
	"time"
)

// RevokedToken is a blacklist entry. Entries whose ExpiresAt has passed are dead
// and are ignored by revocation checks until the sweeper deletes them.
type RevokedToken struct {
	JTI       string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Live reports whether the entry still blocks its token at now.
func (r *RevokedToken) Live(now time.Time) bool {
	return r != nil && r.ExpiresAt.After(now)
}

// Pair is the result of a successful issuance.
type Pair struct {
	SubjectID        string
	AccessToken      string
	AccessJTI        string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshJTI       string
	RefreshExpiresAt time.Time
}

// Access is the result of a successful refresh: a new access token only.
type Access struct {
	SubjectID string
	Token     string
	JTI       string
	ExpiresAt time.Time
}

// Principal is an authenticated caller.
type Principal struct {
	SubjectID string
	JTI       string
	ExpiresAt time.Time
}

// RotationPolicy controls how the session pointer is moved on issuance and refresh.
type RotationPolicy string

const (
	// RotationCAS moves the pointer only if it still holds the value read before minting.
	RotationCAS RotationPolicy = "cas"
	// RotationLastWriterWins overwrites the pointer unconditionally.
	RotationLastWriterWins RotationPolicy = "lww"
)

// ParseRotationPolicy returns the policy named by s; empty selects RotationCAS.
func ParseRotationPolicy(s string) (RotationPolicy, error) {
	switch RotationPolicy(s) {
	case "", RotationCAS:
		return RotationCAS, nil
	case RotationLastWriterWins:
		return RotationLastWriterWins, nil
	default:
		return "", errors.New("rotation policy must be cas or lww")
	}
}

// Reason is the machine-readable cause of an authentication rejection.
// It is logged and counted but never returned to callers.
type Reason string

const (
	ReasonMissing          Reason = "missing"
	ReasonMalformed        Reason = "malformed"
	ReasonInvalidSignature Reason = "invalid_signature"
	ReasonExpired          Reason = "expired"
	ReasonRevoked          Reason = "revoked"
	ReasonSuperseded       Reason = "superseded"
)

var (
	// ErrRevoked is returned when the token's jti is on the blacklist.
	ErrRevoked = errors.New("token revoked")
	// ErrSuperseded is returned when a newer login or refresh moved the session pointer.
	ErrSuperseded = errors.New("token superseded")
	// ErrRotationConflict is returned when a concurrent rotation moved the pointer first.
	ErrRotationConflict = errors.New("session rotation conflict")
	// ErrStoreUnavailable wraps revocation or pointer store failures. Callers must fail closed.
	ErrStoreUnavailable = errors.New("session store unavailable")
	// ErrWrongTokenKind is returned when a refresh token is used as access or vice versa.
	ErrWrongTokenKind = errors.New("wrong token kind")
	// ErrUnknownSubject is returned when the token's principal no longer exists.
	ErrUnknownSubject = errors.New("unknown subject")
	// ErrSubjectMismatch is returned by logout when the refresh token belongs to another principal.
	ErrSubjectMismatch = errors.New("token subject mismatch")
)

// UnauthenticatedError is returned by the request authenticator.
type UnauthenticatedError struct {
	Reason Reason
	Err    error
}

func (e *UnauthenticatedError) Error() string {
	if e.Err != nil {
		return "unauthenticated: " + string(e.Reason) + ": " + e.Err.Error()
	}
	return "unauthenticated: " + string(e.Reason)
}

func (e *UnauthenticatedError) Unwrap() error { return e.Err }

// ReasonOf extracts the rejection reason from err, or "" when err is not an UnauthenticatedError.
func ReasonOf(err error) Reason {
	var ue *UnauthenticatedError
	if errors.As(err, &ue) {
		return ue.Reason
	}
	return ""
}
