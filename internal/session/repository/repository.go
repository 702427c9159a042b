package repository

import (
	"context"
	"errors"
	"time"
)

// ErrSubjectNotFound is returned by the pointer repository when no principal row exists.
var ErrSubjectNotFound = errors.New("subject not found")

// RevocationRepository is the token blacklist.
type RevocationRepository interface {
	// Revoke records jti as revoked until expiresAt. Revoking an already revoked jti is a no-op.
	Revoke(ctx context.Context, jti string, expiresAt time.Time) error
	// IsRevoked reports whether a live entry (expires_at > now) exists for jti.
	IsRevoked(ctx context.Context, jti string, now time.Time) (bool, error)
	// Sweep deletes entries with expires_at < now and returns how many were removed.
	Sweep(ctx context.Context, now time.Time) (int64, error)
}

// PointerRepository stores each principal's current access jti (users.current_jti).
// Only the session service writes through it.
type PointerRepository interface {
	// GetCurrent returns the current jti, "" when unset, or ErrSubjectNotFound.
	GetCurrent(ctx context.Context, subjectID string) (string, error)
	// SetCurrent overwrites the pointer unconditionally.
	SetCurrent(ctx context.Context, subjectID, jti string) error
	// CompareAndSwap moves the pointer to newJTI only if it still equals oldJTI ("" meaning unset).
	CompareAndSwap(ctx context.Context, subjectID, oldJTI, newJTI string) (bool, error)
}
