package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// sweepBatchSize bounds how many rows a single DELETE removes.
const sweepBatchSize = 1000

// PostgresRevocationRepository stores revoked jtis in revoked_tokens.
type PostgresRevocationRepository struct {
	db *sql.DB
}

// NewPostgresRevocationRepository returns a revocation repository that uses the given db for persistence.
func NewPostgresRevocationRepository(db *sql.DB) *PostgresRevocationRepository {
	return &PostgresRevocationRepository{db: db}
}

// Revoke inserts the entry; a duplicate jti is ignored.
func (r *PostgresRevocationRepository) Revoke(ctx context.Context, jti string, expiresAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO revoked_tokens (jti, expires_at, created_at)
		VALUES ($1, $2, now())
		ON CONFLICT (jti) DO NOTHING`, jti, expiresAt.UTC())
	return err
}

// IsRevoked ignores entries whose expires_at is not after now.
func (r *PostgresRevocationRepository) IsRevoked(ctx context.Context, jti string, now time.Time) (bool, error) {
	var revoked bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM revoked_tokens WHERE jti = $1 AND expires_at > $2)`,
		jti, now.UTC()).Scan(&revoked)
	if err != nil {
		return false, err
	}
	return revoked, nil
}

// Sweep deletes dead entries in batches. Returns the total deleted even when a later batch fails.
func (r *PostgresRevocationRepository) Sweep(ctx context.Context, now time.Time) (int64, error) {
	var total int64
	for {
		res, err := r.db.ExecContext(ctx, `
			DELETE FROM revoked_tokens
			WHERE jti IN (
				SELECT jti FROM revoked_tokens WHERE expires_at < $1 LIMIT $2
			)`, now.UTC(), sweepBatchSize)
		if err != nil {
			return total, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, err
		}
		total += n
		if n < sweepBatchSize {
			return total, nil
		}
		if err := ctx.Err(); err != nil {
			return total, err
		}
	}
}

// PostgresPointerRepository reads and moves users.current_jti.
type PostgresPointerRepository struct {
	db *sql.DB
}

// NewPostgresPointerRepository returns a session pointer repository over the users table.
func NewPostgresPointerRepository(db *sql.DB) *PostgresPointerRepository {
	return &PostgresPointerRepository{db: db}
}

// GetCurrent returns "" for a null pointer and ErrSubjectNotFound for a missing row.
func (r *PostgresPointerRepository) GetCurrent(ctx context.Context, subjectID string) (string, error) {
	var jti sql.NullString
	err := r.db.QueryRowContext(ctx, `SELECT current_jti FROM users WHERE id = $1`, subjectID).Scan(&jti)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrSubjectNotFound
		}
		return "", err
	}
	return jti.String, nil
}

// SetCurrent overwrites the pointer. Returns ErrSubjectNotFound when no row was updated.
func (r *PostgresPointerRepository) SetCurrent(ctx context.Context, subjectID, jti string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE users SET current_jti = $2, updated_at = now() WHERE id = $1`,
		subjectID, nullString(jti))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrSubjectNotFound
	}
	return nil
}

// CompareAndSwap is a single conditional UPDATE; the row lock serializes concurrent swaps.
func (r *PostgresPointerRepository) CompareAndSwap(ctx context.Context, subjectID, oldJTI, newJTI string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE users SET current_jti = $3, updated_at = now()
		WHERE id = $1 AND current_jti IS NOT DISTINCT FROM $2`,
		subjectID, nullString(oldJTI), nullString(newJTI))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
