package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"sdushare/backend/internal/otp/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns an email code repository that uses the given db.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create persists the code. The code must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, c *domain.Code) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO email_codes (id, email, code_hash, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		c.ID, c.Email, c.CodeHash, c.ExpiresAt.UTC(), c.CreatedAt.UTC())
	return err
}

// Latest returns the newest code for email, or nil if not found.
func (r *PostgresRepository) Latest(ctx context.Context, email string) (*domain.Code, error) {
	var c domain.Code
	err := r.db.QueryRowContext(ctx, `
		SELECT id, email, code_hash, expires_at, created_at
		FROM email_codes WHERE lower(email) = lower($1)
		ORDER BY created_at DESC LIMIT 1`, email).
		Scan(&c.ID, &c.Email, &c.CodeHash, &c.ExpiresAt, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

// DeleteByEmail removes all codes for email.
func (r *PostgresRepository) DeleteByEmail(ctx context.Context, email string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM email_codes WHERE lower(email) = lower($1)`, email)
	return err
}

// DeleteExpired removes codes that expired before now.
func (r *PostgresRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM email_codes WHERE expires_at < $1`, now.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
