package repository

import (
	"context"
	"database/sql"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"sdushare/backend/internal/db"
	"sdushare/backend/internal/db/migrate"
)

// Integration tests run when TEST_DATABASE_URL points at a disposable Postgres.

func mustTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL is not set; skipping Postgres integration test")
	}
	if err := migrate.Run(dsn, migrate.Up); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	conn, err := db.Open(context.Background(), dsn)
	if err != nil {
		t.Fatalf("db.Open: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func mustCreateUser(t *testing.T, conn *sql.DB) string {
	t.Helper()
	id := uuid.NewString()
	_, err := conn.Exec(`INSERT INTO users (id, username, email) VALUES ($1, $2, $3)`,
		id, "u-"+id, id+"@mail.sdu.edu.cn")
	if err != nil {
		t.Fatalf("insert user: %v", err)
	}
	t.Cleanup(func() { _, _ = conn.Exec(`DELETE FROM users WHERE id = $1`, id) })
	return id
}

func TestPostgresRevocation_RevokeCheckSweep(t *testing.T) {
	conn := mustTestDB(t)
	repo := NewPostgresRevocationRepository(conn)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	live, dead, boundary := uuid.NewString(), uuid.NewString(), uuid.NewString()
	if err := repo.Revoke(ctx, live, now.Add(time.Hour)); err != nil {
		t.Fatalf("Revoke live: %v", err)
	}
	if err := repo.Revoke(ctx, live, now.Add(time.Hour)); err != nil {
		t.Fatalf("Revoke duplicate: %v", err)
	}
	if err := repo.Revoke(ctx, dead, now.Add(-time.Minute)); err != nil {
		t.Fatalf("Revoke dead: %v", err)
	}
	if err := repo.Revoke(ctx, boundary, now); err != nil {
		t.Fatalf("Revoke boundary: %v", err)
	}
	t.Cleanup(func() { _, _ = conn.Exec(`DELETE FROM revoked_tokens WHERE jti = $1`, boundary) })

	if ok, err := repo.IsRevoked(ctx, live, now); err != nil || !ok {
		t.Errorf("IsRevoked(live) = %v, %v", ok, err)
	}
	if ok, err := repo.IsRevoked(ctx, dead, now); err != nil || ok {
		t.Errorf("IsRevoked(dead) = %v, %v", ok, err)
	}
	if ok, err := repo.IsRevoked(ctx, boundary, now); err != nil || ok {
		t.Errorf("IsRevoked(boundary) = %v, %v; an entry expiring now is dead", ok, err)
	}

	n, err := repo.Sweep(ctx, now)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if n < 1 {
		t.Errorf("Sweep deleted %d rows, want >= 1", n)
	}
	if ok, err := repo.IsRevoked(ctx, live, now); err != nil || !ok {
		t.Errorf("live entry must survive the sweep: %v, %v", ok, err)
	}
	var kept bool
	if err := conn.QueryRow(`SELECT EXISTS (SELECT 1 FROM revoked_tokens WHERE jti = $1)`, boundary).Scan(&kept); err != nil {
		t.Fatalf("lookup boundary: %v", err)
	}
	if !kept {
		t.Error("entry with expires_at == now must survive Sweep(now)")
	}
	t.Cleanup(func() { _, _ = conn.Exec(`DELETE FROM revoked_tokens WHERE jti = $1`, live) })
}

func TestPostgresPointer_SetAndCompareAndSwap(t *testing.T) {
	conn := mustTestDB(t)
	repo := NewPostgresPointerRepository(conn)
	ctx := context.Background()
	subject := mustCreateUser(t, conn)

	cur, err := repo.GetCurrent(ctx, subject)
	if err != nil || cur != "" {
		t.Fatalf("GetCurrent on new user = %q, %v", cur, err)
	}
	swapped, err := repo.CompareAndSwap(ctx, subject, "", "a1")
	if err != nil || !swapped {
		t.Fatalf("CAS from null = %v, %v", swapped, err)
	}
	swapped, err = repo.CompareAndSwap(ctx, subject, "", "a2")
	if err != nil || swapped {
		t.Fatalf("stale CAS = %v, %v; want false", swapped, err)
	}
	if err := repo.SetCurrent(ctx, subject, "a3"); err != nil {
		t.Fatalf("SetCurrent: %v", err)
	}
	if cur, _ := repo.GetCurrent(ctx, subject); cur != "a3" {
		t.Errorf("GetCurrent = %q, want a3", cur)
	}
	if _, err := repo.GetCurrent(ctx, uuid.NewString()); err != ErrSubjectNotFound {
		t.Errorf("GetCurrent unknown subject: want ErrSubjectNotFound, got %v", err)
	}
	if err := repo.SetCurrent(ctx, uuid.NewString(), "x"); err != ErrSubjectNotFound {
		t.Errorf("SetCurrent unknown subject: want ErrSubjectNotFound, got %v", err)
	}
}

func TestPostgresPointer_ConcurrentCASHasOneWinner(t *testing.T) {
	conn := mustTestDB(t)
	repo := NewPostgresPointerRepository(conn)
	ctx := context.Background()
	subject := mustCreateUser(t, conn)
	if err := repo.SetCurrent(ctx, subject, "old"); err != nil {
		t.Fatalf("SetCurrent: %v", err)
	}

	const n = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := repo.CompareAndSwap(ctx, subject, "old", uuid.NewString())
			if err != nil {
				t.Errorf("CAS: %v", err)
				return
			}
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	if wins != 1 {
		t.Errorf("CAS winners = %d, want 1", wins)
	}
}
