package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"sdushare/backend/internal/security"
	"sdushare/backend/internal/session/repository"
)

var errStoreDown = errors.New("store down")

// memRevocations is an in-memory RevocationStore that counts lookups.
type memRevocations struct {
	mu         sync.Mutex
	entries    map[string]time.Time
	checks     int
	failCheck  bool
	failRevoke bool
}

func newMemRevocations() *memRevocations {
	return &memRevocations{entries: make(map[string]time.Time)}
}

func (m *memRevocations) Revoke(ctx context.Context, jti string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failRevoke {
		return errStoreDown
	}
	if _, ok := m.entries[jti]; !ok {
		m.entries[jti] = expiresAt
	}
	return nil
}

func (m *memRevocations) IsRevoked(ctx context.Context, jti string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks++
	if m.failCheck {
		return false, errStoreDown
	}
	exp, ok := m.entries[jti]
	return ok && exp.After(now), nil
}

func (m *memRevocations) has(jti string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.entries[jti]
	return ok
}

func (m *memRevocations) checkCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.checks
}

// memPointers is an in-memory PointerStore. While barrierReads > 0, each GetCurrent call takes
// one slot and blocks on readBarrier until every slot is taken, forcing concurrent rotations
// to read the same value. Later reads pass straight through.
type memPointers struct {
	mu           sync.Mutex
	current      map[string]string
	failGet      bool
	readBarrier  *sync.WaitGroup
	barrierReads int
}

func newMemPointers(subjects ...string) *memPointers {
	p := &memPointers{current: make(map[string]string)}
	for _, s := range subjects {
		p.current[s] = ""
	}
	return p
}

func (p *memPointers) GetCurrent(ctx context.Context, subjectID string) (string, error) {
	p.mu.Lock()
	if p.failGet {
		p.mu.Unlock()
		return "", errStoreDown
	}
	cur, ok := p.current[subjectID]
	var barrier *sync.WaitGroup
	if p.barrierReads > 0 {
		p.barrierReads--
		barrier = p.readBarrier
	}
	p.mu.Unlock()
	if barrier != nil {
		barrier.Done()
		barrier.Wait()
	}
	if !ok {
		return "", repository.ErrSubjectNotFound
	}
	return cur, nil
}

func (p *memPointers) SetCurrent(ctx context.Context, subjectID, jti string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.current[subjectID]; !ok {
		return repository.ErrSubjectNotFound
	}
	p.current[subjectID] = jti
	return nil
}

func (p *memPointers) CompareAndSwap(ctx context.Context, subjectID, oldJTI, newJTI string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cur, ok := p.current[subjectID]
	if !ok || cur != oldJTI {
		return false, nil
	}
	p.current[subjectID] = newJTI
	return true, nil
}

func (p *memPointers) remove(subjectID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.current, subjectID)
}

func (p *memPointers) get(subjectID string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current[subjectID]
}

// testClock is a settable clock shared by the codec and the services.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	clock       *testClock
	codec       *security.TokenCodec
	revocations *memRevocations
	pointers    *memPointers
	sessions    *SessionService
	auth        *Authenticator
}

const (
	testAccessTTL  = time.Hour
	testRefreshTTL = 7 * 24 * time.Hour
)

func newHarness(t *testing.T, cfg Config, subjects ...string) *harness {
	t.Helper()
	clock := &testClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	codec, err := security.NewTestTokenCodec(security.WithClock(clock.Now))
	if err != nil {
		t.Fatalf("NewTestTokenCodec: %v", err)
	}
	if cfg.AccessTTL == 0 {
		cfg.AccessTTL = testAccessTTL
	}
	if cfg.RefreshTTL == 0 {
		cfg.RefreshTTL = testRefreshTTL
	}
	if len(subjects) == 0 {
		subjects = []string{"u1"}
	}
	revocations := newMemRevocations()
	pointers := newMemPointers(subjects...)
	sessions := NewSessionService(codec, revocations, pointers, cfg, nil, nil, nil)
	sessions.SetClock(clock.Now)
	auth := NewAuthenticator(codec, revocations, pointers, nil, nil, nil)
	auth.SetClock(clock.Now)
	return &harness{
		clock:       clock,
		codec:       codec,
		revocations: revocations,
		pointers:    pointers,
		sessions:    sessions,
		auth:        auth,
	}
}

func bearer(token string) string {
	return "Bearer " + token
}
