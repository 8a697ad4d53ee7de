package core

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStore_SetGet(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Set(ctx, "key1", "value1", time.Minute); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	got, err := store.Get(ctx, "key1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got != "value1" {
		t.Errorf("expected value1, got %q", got)
	}

	// Missing keys return empty without error
	got, err = store.Get(ctx, "missing")
	if err != nil || got != "" {
		t.Errorf("expected empty miss, got %q err=%v", got, err)
	}
}

func TestMemoryStore_Expiration(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_ = store.Set(ctx, "short", "v", 10*time.Millisecond)
	time.Sleep(25 * time.Millisecond)

	got, _ := store.Get(ctx, "short")
	if got != "" {
		t.Errorf("expected expired entry to be a miss, got %q", got)
	}

	exists, _ := store.Exists(ctx, "short")
	if exists {
		t.Error("expected expired key to not exist")
	}
}

func TestMemoryStore_Sweep(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_ = store.Set(ctx, "a", "1", 5*time.Millisecond)
	_ = store.Set(ctx, "b", "2", time.Hour)
	time.Sleep(20 * time.Millisecond)

	if evicted := store.Sweep(); evicted != 1 {
		t.Errorf("expected 1 evicted, got %d", evicted)
	}

	got, _ := store.Get(ctx, "b")
	if got != "2" {
		t.Errorf("live key should survive sweep, got %q", got)
	}
}

func TestMemoryStore_Delete(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_ = store.Set(ctx, "key", "v", 0)
	if err := store.Delete(ctx, "key"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	exists, _ := store.Exists(ctx, "key")
	if exists {
		t.Error("expected key to be deleted")
	}
}
