package repository

import (
	"context"
	"time"

	"sdushare/backend/internal/otp/domain"
)

// Repository defines persistence for email codes. Email matching is case-insensitive.
type Repository interface {
	Create(ctx context.Context, c *domain.Code) error
	// Latest returns the newest code for email, or nil if none exists.
	Latest(ctx context.Context, email string) (*domain.Code, error)
	// DeleteByEmail removes every code for email.
	DeleteByEmail(ctx context.Context, email string) error
	// DeleteExpired removes codes that expired before now and returns how many were deleted.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
