package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// newTestRedis connects to QUOTELINK_REDIS_ADDR or skips.
func newTestRedis(t *testing.T) *RedisCache {
	t.Helper()
	addr := os.Getenv("QUOTELINK_REDIS_ADDR")
	if addr == "" {
		t.Skip("QUOTELINK_REDIS_ADDR not set")
	}

	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis unavailable: %v", err)
	}
	t.Cleanup(func() { _ = rdb.Close() })

	c := NewRedisCache(rdb, RedisConfig{
		Prefix: "quotelink:test:" + t.Name() + ":",
		Policy: DefaultPolicy(),
	})
	t.Cleanup(func() { _ = c.Clear(context.Background()) })
	return c
}

func TestEscapeGlob(t *testing.T) {
	tests := map[string]string{
		"stocks":     "stocks",
		"a*b":        `a\*b`,
		"q?x":        `q\?x`,
		"[1]":        `\[1\]`,
		`back\slash`: `back\\slash`,
	}
	for in, want := range tests {
		if got := escapeGlob(in); got != want {
			t.Errorf("escapeGlob(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNewRedisCache_Defaults(t *testing.T) {
	c := NewRedisCache(nil, RedisConfig{})
	if c.config.Prefix != "quotelink:cache:" {
		t.Errorf("Prefix = %q", c.config.Prefix)
	}
	if c.config.ScanCount != 200 {
		t.Errorf("ScanCount = %d, want 200", c.config.ScanCount)
	}
}

func TestRedisCache_RoundTrip(t *testing.T) {
	c := newTestRedis(t)
	ctx := context.Background()

	err := c.SetEntry(ctx, "GET /stocks/AAPL", Entry{Data: []byte(`{"symbol":"AAPL"}`), TTL: time.Minute, ETag: `"e1"`})
	if err != nil {
		t.Fatalf("SetEntry error = %v", err)
	}

	e, ok := c.Get(ctx, "GET /stocks/AAPL")
	if !ok || string(e.Data) != `{"symbol":"AAPL"}` {
		t.Fatalf("Get = (%v, %v)", e, ok)
	}
	if v := c.ConditionalHeaders(ctx, "GET /stocks/AAPL"); v.IfNoneMatch != `"e1"` {
		t.Errorf("IfNoneMatch = %q", v.IfNoneMatch)
	}
	if !c.Has(ctx, "GET /stocks/AAPL") {
		t.Error("Has = false, want true")
	}
}

func TestRedisCache_StaleEvictedByGet(t *testing.T) {
	c := newTestRedis(t)
	ctx := context.Background()

	_ = c.SetEntry(ctx, "k", Entry{Data: []byte("v"), TTL: time.Second, WrittenAt: time.Now().Add(-time.Minute)})

	if _, ok := c.Peek(ctx, "k"); !ok {
		t.Fatal("Peek should see stale entry within retention")
	}
	if _, ok := c.Get(ctx, "k"); ok {
		t.Error("Get should report stale entry absent")
	}
	if _, ok := c.Peek(ctx, "k"); ok {
		t.Error("Get should have evicted the stale entry")
	}
}

func TestRedisCache_ClearByTag(t *testing.T) {
	c := newTestRedis(t)
	ctx := context.Background()

	for _, k := range []string{"GET /stocks/AAPL", "GET /stocks/MSFT", "GET /sectors"} {
		_ = c.Set(ctx, k, []byte("x"), time.Minute)
	}

	n, err := c.ClearByTag(ctx, "stocks")
	if err != nil {
		t.Fatalf("ClearByTag error = %v", err)
	}
	if n != 2 {
		t.Errorf("ClearByTag removed %d, want 2", n)
	}
	if !c.Has(ctx, "GET /sectors") {
		t.Error("sectors entry should survive")
	}
}
