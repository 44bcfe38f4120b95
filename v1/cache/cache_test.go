package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/mirkobrombin/go-warmlock/v1/conn"
)

type user struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

func newRemote(t *testing.T) (*conn.Manager, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run: %v", err)
	}
	port, err := strconv.Atoi(mr.Port())
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	m := conn.New(conn.Options{Host: mr.Host(), Port: port, RetryDelay: time.Millisecond, OpTimeout: time.Second})
	t.Cleanup(func() {
		_ = m.Close()
		mr.Close()
	})
	return m, mr
}

func newCache[T any](t *testing.T, opts ...Option[T]) (*Cache[T], *miniredis.Miniredis, context.Context) {
	t.Helper()
	m, mr := newRemote(t)
	return New[T](m, opts...), mr, context.Background()
}

func withLRU[T any](t *testing.T) Option[T] {
	t.Helper()
	f := NewLRU[T](100)
	t.Cleanup(f.Close)
	return WithFallback[T](f)
}

func TestCacheSetGetStruct(t *testing.T) {
	c, mr, ctx := newCache[user](t)

	want := user{ID: 1, Name: "ada"}
	c.Set(ctx, "user:1", want, time.Minute)

	got, ok := c.Get(ctx, "user:1")
	if !ok || got != want {
		t.Fatalf("expected %+v, got %+v %v", want, got, ok)
	}
	raw, err := mr.Get("user:1")
	if err != nil || raw != `{"id":1,"name":"ada"}` {
		t.Fatalf("stored %q err %v", raw, err)
	}
	if _, ok := c.Get(ctx, "user:2"); ok {
		t.Fatal("expected miss")
	}
}

func TestCacheDefaultTTL(t *testing.T) {
	c, mr, ctx := newCache[string](t, WithDefaultTTL[string](time.Hour))

	c.Set(ctx, "k", "v", 0)
	if ttl := mr.TTL("k"); ttl != time.Hour {
		t.Fatalf("ttl %v, want 1h", ttl)
	}
	d, ok := c.TTL(ctx, "k")
	if !ok || d <= 59*time.Minute || d > time.Hour {
		t.Fatalf("TTL %v %v", d, ok)
	}
}

func TestCacheTTLExpiry(t *testing.T) {
	c, mr, ctx := newCache[string](t)

	c.Set(ctx, "greeting", "hi", 5*time.Second)
	if v, ok := c.Get(ctx, "greeting"); !ok || v != "hi" {
		t.Fatalf("expected hi, got %q %v", v, ok)
	}
	mr.FastForward(6 * time.Second)
	if _, ok := c.Get(ctx, "greeting"); ok {
		t.Fatal("expected greeting expired")
	}
	if c.Exists(ctx, "greeting") {
		t.Fatal("expired key still exists")
	}
	if _, ok := c.TTL(ctx, "greeting"); ok {
		t.Fatal("expired key must report no ttl")
	}
}

func TestCacheTTLWithoutExpiry(t *testing.T) {
	c, mr, ctx := newCache[string](t)
	if err := mr.Set("plain", `"x"`); err != nil {
		t.Fatalf("seed: %v", err)
	}
	d, ok := c.TTL(ctx, "plain")
	if !ok || d != 0 {
		t.Fatalf("TTL %v %v, want 0 true", d, ok)
	}
}

func TestCacheDeleteAndExists(t *testing.T) {
	c, _, ctx := newCache[string](t)
	c.Set(ctx, "k", "v", time.Minute)
	if !c.Exists(ctx, "k") {
		t.Fatal("expected k to exist")
	}
	c.Delete(ctx, "k")
	if c.Exists(ctx, "k") {
		t.Fatal("expected k deleted")
	}
}

func TestCacheDecodeFailureIsMiss(t *testing.T) {
	c, mr, ctx := newCache[user](t)
	if err := mr.Set("user:1", "not json"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, ok := c.Get(ctx, "user:1"); ok {
		t.Fatal("undecodable value must read as absent")
	}
}

func TestCacheGetOrSet(t *testing.T) {
	c, _, ctx := newCache[int](t)

	calls := 0
	factory := func(context.Context) (int, error) {
		calls++
		return 42, nil
	}
	for i := 0; i < 2; i++ {
		v, err := c.GetOrSet(ctx, "answer", factory, time.Minute)
		if err != nil || v != 42 {
			t.Fatalf("GetOrSet: %v %v", v, err)
		}
	}
	if calls != 1 {
		t.Fatalf("factory called %d times, want 1", calls)
	}
}

func TestCacheGetOrSetFactoryError(t *testing.T) {
	c, _, ctx := newCache[int](t)
	boom := errors.New("boom")

	_, err := c.GetOrSet(ctx, "answer", func(context.Context) (int, error) { return 0, boom }, time.Minute)
	if !errors.Is(err, boom) {
		t.Fatalf("expected factory error, got %v", err)
	}
	if c.Exists(ctx, "answer") {
		t.Fatal("factory failure must not cache anything")
	}
}

func TestCacheDeleteByPattern(t *testing.T) {
	c, mr, ctx := newCache[string](t)
	for i := 0; i < 3; i++ {
		c.Set(ctx, fmt.Sprintf("session:%d", i), "v", time.Minute)
	}
	c.Set(ctx, "user:1", "v", time.Minute)

	if n := c.DeleteByPattern(ctx, "session:*"); n != 3 {
		t.Fatalf("deleted %d, want 3", n)
	}
	if keys := mr.Keys(); len(keys) != 1 || keys[0] != "user:1" {
		t.Fatalf("remaining keys %v", keys)
	}
	if n := c.DeleteByPattern(ctx, "nothing:*"); n != 0 {
		t.Fatalf("deleted %d, want 0", n)
	}
}

func TestCacheFlushAll(t *testing.T) {
	c, mr, ctx := newCache[string](t, withLRU[string](t))
	c.Set(ctx, "a", "1", time.Minute)
	c.Set(ctx, "b", "2", time.Minute)

	if !c.FlushAll(ctx) {
		t.Fatal("flush returned false")
	}
	if len(mr.Keys()) != 0 {
		t.Fatalf("keys left: %v", mr.Keys())
	}
}

func TestCacheIsHealthy(t *testing.T) {
	c, mr, ctx := newCache[string](t)
	if !c.IsHealthy(ctx) {
		t.Fatal("expected healthy store")
	}
	if len(mr.Keys()) != 0 {
		t.Fatalf("health sentinel left behind: %v", mr.Keys())
	}
	mr.Close()
	if c.IsHealthy(ctx) {
		t.Fatal("expected unhealthy after store shutdown")
	}
}

func TestCacheStats(t *testing.T) {
	c, _, ctx := newCache[string](t)
	c.Set(ctx, "a", "1", time.Minute)
	c.Set(ctx, "b", "2", time.Minute)

	st := c.Stats(ctx)
	if st == nil || st.Mode != "redis" || st.Keys != 2 {
		t.Fatalf("stats %+v", st)
	}
}

func TestParseInfo(t *testing.T) {
	info := parseInfo("# Server\r\nredis_version:7.2.0\r\nuptime_in_seconds:42\r\n\r\n# Clients\r\nconnected_clients:1\r\n")
	if info["redis_version"] != "7.2.0" || info["connected_clients"] != "1" || len(info) != 3 {
		t.Fatalf("parsed %v", info)
	}
}

func TestCacheBatch(t *testing.T) {
	c, _, ctx := newCache[int](t, WithBatchConcurrency[int](4))

	entries := make([]Entry[int], 50)
	for i := range entries {
		entries[i] = Entry[int]{Key: fmt.Sprintf("n:%d", i), Value: i, TTL: time.Minute}
	}
	c.SetBatch(ctx, entries)

	got := c.GetMany(ctx, "n:0", "n:49", "missing")
	if len(got) != 2 || got["n:0"] != 0 || got["n:49"] != 49 {
		t.Fatalf("GetMany %v", got)
	}
	if n := c.DeleteByPattern(ctx, "n:*"); n != 50 {
		t.Fatalf("deleted %d, want 50", n)
	}
}

func TestCacheDegradedUsesFallback(t *testing.T) {
	c, mr, ctx := newCache[string](t, withLRU[string](t))

	c.Set(ctx, "before", "remote", time.Minute)
	mr.Close()

	c.Set(ctx, "x", "local", time.Minute)
	if v, ok := c.Get(ctx, "x"); !ok || v != "local" {
		t.Fatalf("expected fallback value, got %q %v", v, ok)
	}
	if _, ok := c.Get(ctx, "before"); ok {
		t.Fatal("remote-only value must not be visible in fallback")
	}
	if !c.Exists(ctx, "x") {
		t.Fatal("expected x in fallback")
	}
	if st := c.Stats(ctx); st == nil || st.Mode != "fallback" || st.Keys != 1 {
		t.Fatalf("stats %+v", st)
	}
	if n := c.DeleteByPattern(ctx, "*"); n != 1 {
		t.Fatalf("fallback pattern delete removed %d, want 1", n)
	}
	if c.FlushAll(ctx) {
		t.Fatal("flush without store must report false")
	}
}

func TestCacheDegradedWithoutFallback(t *testing.T) {
	c, mr, ctx := newCache[string](t)
	mr.Close()

	c.Set(ctx, "x", "v", time.Minute)
	if _, ok := c.Get(ctx, "x"); ok {
		t.Fatal("expected absent without fallback")
	}
	if c.Exists(ctx, "x") {
		t.Fatal("expected false without fallback")
	}
	if c.Stats(ctx) != nil {
		t.Fatal("expected nil stats without store or fallback")
	}
	if c.DeleteByPattern(ctx, "*") != 0 {
		t.Fatal("expected 0 without store or fallback")
	}
}

func TestCacheRecoversAfterRestart(t *testing.T) {
	c, mr, ctx := newCache[string](t, withLRU[string](t))

	mr.Close()
	c.Set(ctx, "k", "local", time.Minute)
	if err := mr.Restart(); err != nil {
		t.Fatalf("restart: %v", err)
	}

	c.Set(ctx, "k", "remote", time.Minute)
	if raw, err := mr.Get("k"); err != nil || raw != `"remote"` {
		t.Fatalf("remote value %q err %v", raw, err)
	}
	mr.Close()
	if _, ok := c.Get(ctx, "k"); ok {
		t.Fatal("stale fallback value resurfaced")
	}
}

func TestCacheUnconfiguredStore(t *testing.T) {
	c := New[string](conn.New(conn.Options{}), withLRU[string](t))
	ctx := context.Background()

	c.Set(ctx, "k", "v", time.Minute)
	if v, ok := c.Get(ctx, "k"); !ok || v != "v" {
		t.Fatalf("expected fallback hit, got %q %v", v, ok)
	}
	if c.IsHealthy(ctx) {
		t.Fatal("no store configured must be unhealthy")
	}
}
