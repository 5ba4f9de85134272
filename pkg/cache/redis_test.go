package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func setupRedisTest(t *testing.T) *RedisCache {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	c, err := NewRedisCache(RedisConfig{URL: "redis://" + mr.Addr()})
	if err != nil {
		t.Fatalf("Failed to create redis cache: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestRedisCache_SetGet(t *testing.T) {
	c := setupRedisTest(t)
	ctx := context.Background()

	if _, err := c.Get(ctx, "absent"); err != ErrMiss {
		t.Errorf("Expected ErrMiss, got %v", err)
	}

	if err := c.Set(ctx, "k", []byte(`{"a":1}`), time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	got, err := c.Get(ctx, "k")
	if err != nil || string(got) != `{"a":1}` {
		t.Fatalf("Expected stored value back, got %q err=%v", got, err)
	}
}

func TestRedisCache_Delete(t *testing.T) {
	c := setupRedisTest(t)
	ctx := context.Background()

	c.Set(ctx, "a", []byte("1"), 0)

	if err := c.Delete(ctx); err != nil {
		t.Errorf("Deleting no keys must be a no-op, got %v", err)
	}
	if err := c.Delete(ctx, "a", "missing"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := c.Get(ctx, "a"); err != ErrMiss {
		t.Error("Expected a to be deleted")
	}
}

func TestRedisCache_DeletePattern(t *testing.T) {
	c := setupRedisTest(t)
	ctx := context.Background()

	c.Set(ctx, "authz:user:u1:data-scopes", []byte("1"), 0)
	c.Set(ctx, "authz:user:u1:filter-query:order", []byte("2"), 0)
	c.Set(ctx, "authz:user:u1:filter-query:invoice", []byte("3"), 0)
	c.Set(ctx, "authz:user:u2:filter-query:order", []byte("4"), 0)

	removed, err := c.DeletePattern(ctx, "authz:user:u1:filter-query:*")
	if err != nil {
		t.Fatalf("DeletePattern failed: %v", err)
	}
	if removed != 2 {
		t.Errorf("Expected 2 removals, got %d", removed)
	}

	if _, err := c.Get(ctx, "authz:user:u1:data-scopes"); err != nil {
		t.Error("Pattern must not match outside its family")
	}
	if _, err := c.Get(ctx, "authz:user:u2:filter-query:order"); err != nil {
		t.Error("Pattern must not match other users")
	}

	removed, err = c.DeletePattern(ctx, "authz:user:u3:*")
	if err != nil {
		t.Fatalf("DeletePattern failed: %v", err)
	}
	if removed != 0 {
		t.Errorf("Expected no removals for an unmatched pattern, got %d", removed)
	}
}

func TestRedisCache_Ping(t *testing.T) {
	c := setupRedisTest(t)
	if err := c.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}
