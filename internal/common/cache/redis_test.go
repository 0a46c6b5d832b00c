package cache_test

import (
	"context"
	"testing"
	"time"

	"codejudge/internal/common/cache"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestCache(t *testing.T) (*cache.RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	rc, err := cache.NewRedisCacheWithClient(client)
	if err != nil {
		t.Fatalf("new cache failed: %v", err)
	}
	return rc, mr
}

func TestRedisCacheGetMissingKey(t *testing.T) {
	rc, _ := newTestCache(t)
	val, err := rc.Get(context.Background(), "missing")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if val != "" {
		t.Fatalf("expected empty value, got %q", val)
	}
}

func TestRedisCacheLockIsOwnerAware(t *testing.T) {
	rc, mr := newTestCache(t)
	ctx := context.Background()

	ok, err := rc.TryLock(ctx, "judge:lock:s1", "run-a", time.Minute)
	if err != nil || !ok {
		t.Fatalf("expected first lock to succeed, ok=%v err=%v", ok, err)
	}
	ok, err = rc.TryLock(ctx, "judge:lock:s1", "run-b", time.Minute)
	if err != nil {
		t.Fatalf("second lock failed: %v", err)
	}
	if ok {
		t.Fatalf("expected second owner to be rejected")
	}

	if err := rc.Unlock(ctx, "judge:lock:s1", "run-b"); err != nil {
		t.Fatalf("foreign unlock failed: %v", err)
	}
	if !mr.Exists("judge:lock:s1") {
		t.Fatalf("lock released by a non-owner")
	}
	if err := rc.Unlock(ctx, "judge:lock:s1", "run-a"); err != nil {
		t.Fatalf("owner unlock failed: %v", err)
	}
	if mr.Exists("judge:lock:s1") {
		t.Fatalf("lock still held after owner unlock")
	}
}

func TestRedisCacheRefreshLockIsOwnerAware(t *testing.T) {
	rc, mr := newTestCache(t)
	ctx := context.Background()

	if ok, err := rc.TryLock(ctx, "judge:lock:s1", "run-a", time.Minute); err != nil || !ok {
		t.Fatalf("lock failed, ok=%v err=%v", ok, err)
	}
	mr.FastForward(50 * time.Second)

	ok, err := rc.RefreshLock(ctx, "judge:lock:s1", "run-b", time.Minute)
	if err != nil {
		t.Fatalf("foreign refresh failed: %v", err)
	}
	if ok {
		t.Fatalf("expected non-owner refresh to be rejected")
	}
	ok, err = rc.RefreshLock(ctx, "judge:lock:s1", "run-a", time.Minute)
	if err != nil || !ok {
		t.Fatalf("owner refresh failed, ok=%v err=%v", ok, err)
	}
	if ttl := mr.TTL("judge:lock:s1"); ttl <= 50*time.Second {
		t.Fatalf("expected ttl to be reset, got %s", ttl)
	}

	mr.FastForward(2 * time.Minute)
	ok, err = rc.RefreshLock(ctx, "judge:lock:s1", "run-a", time.Minute)
	if err != nil {
		t.Fatalf("refresh of expired lock failed: %v", err)
	}
	if ok {
		t.Fatalf("expected refresh of an expired lock to report false")
	}
}

func TestJitterTTLStaysWithinTenPercent(t *testing.T) {
	ttl := 10 * time.Minute
	for i := 0; i < 50; i++ {
		got := cache.JitterTTL(ttl)
		if got > ttl || got < ttl-ttl/10 {
			t.Fatalf("jittered ttl out of range: %v", got)
		}
	}
}
