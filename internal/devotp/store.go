// Package devotp keeps plain one-time codes in memory by email. Used only when DEV_CODES is enabled,
// in place of SMTP delivery, so codes can be read back from GET /dev/codes.
package devotp

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Store holds plain codes by email for dev-only retrieval. Not used in production.
type Store interface {
	// Send stores code for email until expiresAt, replacing any earlier code.
	Send(ctx context.Context, email, code string, expiresAt time.Time) error
	// Get returns the code for email if present and not expired.
	Get(ctx context.Context, email string) (code string, ok bool)
}

type entry struct {
	code      string
	expiresAt time.Time
}

// MemoryStore is an in-memory Store implementation.
type MemoryStore struct {
	mu  sync.RWMutex
	m   map[string]entry
	now func() time.Time
}

// NewMemoryStore returns a new in-memory dev code store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		m:   make(map[string]entry),
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Send stores code for email until expiresAt.
func (s *MemoryStore) Send(ctx context.Context, email, code string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[strings.ToLower(email)] = entry{code: code, expiresAt: expiresAt}
	return nil
}

// Get returns the code for email if present and not expired. Expired entries are dropped.
func (s *MemoryStore) Get(ctx context.Context, email string) (string, bool) {
	key := strings.ToLower(strings.TrimSpace(email))
	s.mu.RLock()
	e, ok := s.m[key]
	s.mu.RUnlock()
	if !ok {
		return "", false
	}
	if !e.expiresAt.After(s.now()) {
		s.mu.Lock()
		delete(s.m, key)
		s.mu.Unlock()
		return "", false
	}
	return e.code, true
}
