package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func setupTestRedis(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	c, err := NewRedisCache("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("failed to create redis cache: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c, s
}

func TestNewRedisCacheRejectsBadURL(t *testing.T) {
	if _, err := NewRedisCache("not a url"); err == nil {
		t.Fatal("expected error for invalid url")
	}
}

func TestSetAndGet(t *testing.T) {
	c, _ := setupTestRedis(t)
	ctx := context.Background()

	if err := c.Set(ctx, "k", []byte{0x50, 0x4b, 0x00}, time.Hour); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	got, ok, err := c.Get(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("Get = %v, %v", ok, err)
	}
	if string(got) != "PK\x00" {
		t.Errorf("unexpected value %q", got)
	}
}

func TestGetMiss(t *testing.T) {
	c, _ := setupTestRedis(t)
	got, ok, err := c.Get(context.Background(), "absent")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if ok || got != nil {
		t.Errorf("expected miss, got %q", got)
	}
}

func TestEntriesExpire(t *testing.T) {
	c, s := setupTestRedis(t)
	ctx := context.Background()

	if err := c.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	s.FastForward(2 * time.Minute)

	if _, ok, _ := c.Get(ctx, "k"); ok {
		t.Error("expected entry to expire")
	}
}

func TestDelete(t *testing.T) {
	c, s := setupTestRedis(t)
	ctx := context.Background()

	if err := c.Set(ctx, "k", []byte("v"), 0); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if !s.Exists("docmerge:k") {
		t.Fatal("expected prefixed key in redis")
	}
	if err := c.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if s.Exists("docmerge:k") {
		t.Error("expected key to be deleted")
	}
}
