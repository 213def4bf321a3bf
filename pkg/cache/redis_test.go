package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

// redisTestAddr returns an address to test the Redis-backed cache
// against: a real instance when REDIS_TEST_ADDR is set, otherwise an
// in-process miniredis fake so these tests run without one.
func redisTestAddr(t *testing.T) string {
	t.Helper()
	if addr := os.Getenv("REDIS_TEST_ADDR"); addr != "" {
		return addr
	}
	mr := miniredis.RunT(t)
	return mr.Addr()
}

func TestNewRedisCache(t *testing.T) {
	opts := &Options{
		Backend:       "redis",
		RedisAddr:     redisTestAddr(t),
		RedisPassword: os.Getenv("REDIS_TEST_PASSWORD"),
		RedisDB:       0,
		DefaultTTL:    time.Minute,
	}

	cache, err := NewRedisCache(opts)
	if err != nil {
		t.Fatalf("NewRedisCache() error = %v", err)
	}
	defer cache.Close()

	ctx := context.Background()

	// Test Set/Get
	err = cache.Set(ctx, "test-key", []byte("test-value"), time.Minute)
	if err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	val, err := cache.Get(ctx, "test-key")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(val) != "test-value" {
		t.Errorf("Get() = %s, want test-value", string(val))
	}

	// Cleanup
	cache.Delete(ctx, "test-key")
}

func TestRedisCache_NotFound(t *testing.T) {
	opts := &Options{
		Backend:   "redis",
		RedisAddr: redisTestAddr(t),
	}

	cache, err := NewRedisCache(opts)
	if err != nil {
		t.Fatalf("NewRedisCache() error = %v", err)
	}
	defer cache.Close()

	_, err = cache.Get(context.Background(), "nonexistent-key")
	if err != ErrKeyNotFound {
		t.Errorf("Get() error = %v, want ErrKeyNotFound", err)
	}
}
