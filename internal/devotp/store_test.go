package devotp

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestMemoryStore_SendThenGet(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	expiresAt := time.Now().UTC().Add(5 * time.Minute)

	if err := store.Send(ctx, "Alice@Mail.SDU.edu.cn", "123456", expiresAt); err != nil {
		t.Fatalf("Send: %v", err)
	}

	code, ok := store.Get(ctx, "alice@mail.sdu.edu.cn")
	if !ok {
		t.Fatal("Get should return the code after Send")
	}
	if code != "123456" {
		t.Errorf("code = %q, want %q", code, "123456")
	}
}

func TestMemoryStore_SendReplaces(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	expiresAt := time.Now().UTC().Add(5 * time.Minute)

	_ = store.Send(ctx, "a@example.com", "111111", expiresAt)
	_ = store.Send(ctx, "a@example.com", "222222", expiresAt)

	code, ok := store.Get(ctx, "a@example.com")
	if !ok || code != "222222" {
		t.Errorf("Get = %q, %v; want newest code", code, ok)
	}
}

func TestMemoryStore_Get_ReturnsFalseWhenMissing(t *testing.T) {
	store := NewMemoryStore()

	code, ok := store.Get(context.Background(), "nobody@example.com")
	if ok {
		t.Error("Get should return false when no code was sent")
	}
	if code != "" {
		t.Errorf("code = %q, want empty string", code)
	}
}

func TestMemoryStore_Get_DropsExpired(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	_ = store.Send(ctx, "a@example.com", "123456", now)

	if _, ok := store.Get(ctx, "a@example.com"); ok {
		t.Error("Get should return false when expiresAt is not after now")
	}
	store.mu.RLock()
	_, present := store.m["a@example.com"]
	store.mu.RUnlock()
	if present {
		t.Error("expired entry should be removed")
	}
}

func TestMemoryStore_ConcurrentAccess(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	expiresAt := time.Now().UTC().Add(5 * time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		email := fmt.Sprintf("user%d@example.com", i)
		go func() {
			defer wg.Done()
			_ = store.Send(ctx, email, "123456", expiresAt)
		}()
		go func() {
			defer wg.Done()
			store.Get(ctx, email)
		}()
	}
	wg.Wait()
}
