// Package ratelimit counts failed logins per identifier in fixed windows.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrRateLimited is returned by Check once the identifier reached the failure budget.
	ErrRateLimited = errors.New("too many failed attempts")
	// ErrUnavailable wraps limiter backend failures.
	ErrUnavailable = errors.New("rate limiter unavailable")
)

// Defaults used when Config leaves a field zero.
const (
	DefaultMaxFailures = 5
	DefaultWindow      = 5 * time.Minute
)

// Config holds the failure budget per window.
type Config struct {
	MaxFailures int
	Window      time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxFailures <= 0 {
		c.MaxFailures = DefaultMaxFailures
	}
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	return c
}

// LoginLimiter is implemented by the Redis and in-memory limiters.
type LoginLimiter interface {
	// Check returns ErrRateLimited when identifier has used up its failure budget.
	Check(ctx context.Context, identifier string) error
	// RecordFailure counts one failed attempt; the window starts at the first failure.
	RecordFailure(ctx context.Context, identifier string) error
	// Reset clears the counter after a successful login.
	Reset(ctx context.Context, identifier string) error
}

func key(identifier string) string {
	return "lf:" + strings.ToLower(strings.TrimSpace(identifier))
}

// RedisLimiter keeps counters in Redis so every server instance shares them.
type RedisLimiter struct {
	redis redis.UniversalClient
	cfg   Config
}

// NewRedisLimiter returns a limiter backed by the given Redis client.
func NewRedisLimiter(client redis.UniversalClient, cfg Config) *RedisLimiter {
	return &RedisLimiter{redis: client, cfg: cfg.withDefaults()}
}

func (l *RedisLimiter) Check(ctx context.Context, identifier string) error {
	count, err := l.redis.Get(ctx, key(identifier)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if count >= int64(l.cfg.MaxFailures) {
		return ErrRateLimited
	}
	return nil
}

// RecordFailure creates the counter with the window TTL and increments it in one MULTI,
// so a counter never exists without an expiry. An existing counter keeps its TTL.
func (l *RedisLimiter) RecordFailure(ctx context.Context, identifier string) error {
	k := key(identifier)
	_, err := l.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SetNX(ctx, k, 0, l.cfg.Window)
		pipe.Incr(ctx, k)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (l *RedisLimiter) Reset(ctx context.Context, identifier string) error {
	if err := l.redis.Del(ctx, key(identifier)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

type window struct {
	count   int
	resetAt time.Time
}

// MemoryLimiter is a single-process limiter for development and tests.
type MemoryLimiter struct {
	mu  sync.Mutex
	m   map[string]window
	cfg Config
	now func() time.Time
}

// NewMemoryLimiter returns an in-memory limiter.
func NewMemoryLimiter(cfg Config) *MemoryLimiter {
	return &MemoryLimiter{
		m:   make(map[string]window),
		cfg: cfg.withDefaults(),
		now: time.Now,
	}
}

func (l *MemoryLimiter) Check(ctx context.Context, identifier string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.current(key(identifier))
	if ok && w.count >= l.cfg.MaxFailures {
		return ErrRateLimited
	}
	return nil
}

func (l *MemoryLimiter) RecordFailure(ctx context.Context, identifier string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := key(identifier)
	w, ok := l.current(k)
	if !ok {
		w = window{resetAt: l.now().Add(l.cfg.Window)}
	}
	w.count++
	l.m[k] = w
	return nil
}

func (l *MemoryLimiter) Reset(ctx context.Context, identifier string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.m, key(identifier))
	return nil
}

// current returns the live window for k, dropping an elapsed one. Caller holds mu.
func (l *MemoryLimiter) current(k string) (window, bool) {
	w, ok := l.m[k]
	if !ok {
		return window{}, false
	}
	if !l.now().Before(w.resetAt) {
		delete(l.m, k)
		return window{}, false
	}
	return w, true
}
