package repository

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const revokedKeyPrefix = "rvk:"

// RedisRevocationRepository keeps one key per revoked jti. The key carries the entry's
// expiry as its value and as its TTL, so Redis evicts dead entries on its own.
type RedisRevocationRepository struct {
	redis redis.UniversalClient
	now   func() time.Time
}

// NewRedisRevocationRepository returns a revocation repository backed by Redis.
func NewRedisRevocationRepository(client redis.UniversalClient) *RedisRevocationRepository {
	return &RedisRevocationRepository{
		redis: client,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (r *RedisRevocationRepository) key(jti string) string {
	return revokedKeyPrefix + jti
}

// Revoke stores the entry with SET NX; an existing entry is left untouched.
// An entry that is already dead is not written.
func (r *RedisRevocationRepository) Revoke(ctx context.Context, jti string, expiresAt time.Time) error {
	ttl := expiresAt.Sub(r.now())
	if ttl <= 0 {
		return nil
	}
	val := strconv.FormatInt(expiresAt.UTC().UnixMilli(), 10)
	return r.redis.SetNX(ctx, r.key(jti), val, ttl).Err()
}

// IsRevoked compares the stored expiry against now so callers see the same semantics as Postgres.
func (r *RedisRevocationRepository) IsRevoked(ctx context.Context, jti string, now time.Time) (bool, error) {
	val, err := r.redis.Get(ctx, r.key(jti)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, err
	}
	ms, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		// Unparseable entries still block the token.
		return true, nil
	}
	return time.UnixMilli(ms).After(now), nil
}

// Sweep is a no-op: key TTLs already remove dead entries.
func (r *RedisRevocationRepository) Sweep(ctx context.Context, now time.Time) (int64, error) {
	return 0, nil
}
