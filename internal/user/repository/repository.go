package repository

import (
	"context"
	"errors"

	"sdushare/backend/internal/user/domain"
)

// ErrDuplicate is returned by Create when the username or email is already taken.
var ErrDuplicate = errors.New("user already exists")

// Repository defines persistence for users. Lookups by username and email are case-insensitive.
// The session pointer column is owned by the session repository and is not written here.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByUsername(ctx context.Context, username string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	Create(ctx context.Context, u *domain.User) error
	// ClearBlock lifts an elapsed block.
	ClearBlock(ctx context.Context, id string) error
}
