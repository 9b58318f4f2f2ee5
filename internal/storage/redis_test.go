package storage

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/hfi/leadguard/internal/config"
)

func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	store, err := NewRedisStore(context.Background(), mr.Addr(), "", 0, "")
	if err != nil {
		t.Fatalf("NewRedisStore() error: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store, mr
}

func TestRedisStore_InsertAndContains(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestRedisStore(t)

	if err := store.Insert(ctx, "sig-abc", time.Minute); err != nil {
		t.Fatalf("Insert() error: %v", err)
	}

	found, err := store.Contains(ctx, "sig-abc")
	if err != nil {
		t.Fatalf("Contains() error: %v", err)
	}
	if !found {
		t.Error("Contains() = false, want true")
	}

	if !mr.Exists(DefaultRedisPrefix + "sig-abc") {
		t.Error("key should be stored under the default prefix")
	}
	if ttl := mr.TTL(DefaultRedisPrefix + "sig-abc"); ttl != time.Minute {
		t.Errorf("TTL = %v, want %v", ttl, time.Minute)
	}
}

func TestRedisStore_Expiry(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestRedisStore(t)

	store.Insert(ctx, "k", 5*time.Second)
	mr.FastForward(6 * time.Second)

	found, err := store.Contains(ctx, "k")
	if err != nil {
		t.Fatalf("Contains() error: %v", err)
	}
	if found {
		t.Error("Contains() should be false after the TTL elapsed")
	}
}

func TestRedisStore_Reserve(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestRedisStore(t)

	ok, err := store.Reserve(ctx, "k", 5*time.Second)
	if err != nil {
		t.Fatalf("Reserve() error: %v", err)
	}
	if !ok {
		t.Fatal("first Reserve() = false, want true")
	}

	ok, _ = store.Reserve(ctx, "k", 5*time.Second)
	if ok {
		t.Error("Reserve() of a live key = true, want false")
	}

	mr.FastForward(6 * time.Second)
	ok, _ = store.Reserve(ctx, "k", 5*time.Second)
	if !ok {
		t.Error("Reserve() after expiry = false, want true")
	}
}

func TestRedisStore_SizeCountsOnlyPrefix(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestRedisStore(t)

	mr.Set("unrelated", "x")
	store.Insert(ctx, "a", time.Minute)
	store.Insert(ctx, "b", time.Minute)

	size, err := store.Size(ctx)
	if err != nil {
		t.Fatalf("Size() error: %v", err)
	}
	if size != 2 {
		t.Errorf("Size() = %d, want 2", size)
	}
}

func TestRedisStore_PurgeIsNoop(t *testing.T) {
	store, _ := newTestRedisStore(t)

	removed, err := store.PurgeExpired(context.Background())
	if err != nil || removed != 0 {
		t.Errorf("PurgeExpired() = (%d, %v), want (0, nil)", removed, err)
	}
}

func TestRedisStore_UnreachableServer(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err := NewRedisStore(ctx, addr, "", 0, ""); err == nil {
		t.Fatal("NewRedisStore() should fail when Redis is down")
	}
}

func TestOpen_Redis(t *testing.T) {
	mr := miniredis.RunT(t)

	store, err := Open(context.Background(), &config.StorageConfig{
		Type:  "redis",
		Redis: config.RedisConfig{Address: mr.Addr(), Prefix: "test:"},
	})
	if err != nil {
		t.Fatalf("Open(redis) error: %v", err)
	}
	defer store.Close()

	store.Insert(context.Background(), "k", time.Minute)
	if !mr.Exists("test:k") {
		t.Error("configured prefix was not applied")
	}
}

func TestOpen_RedisUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	store, err := Open(context.Background(), &config.StorageConfig{
		Type:  "redis",
		Redis: config.RedisConfig{Address: addr},
	})
	if err == nil {
		t.Fatal("Open(redis) with no server should fail")
	}
	if store != nil {
		t.Errorf("Open(redis) returned %T on error, want nil", store)
	}
}
