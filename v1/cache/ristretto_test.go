package cache

import (
	"testing"
	"time"
)

// newRistrettoFallback returns a Ristretto fallback for testing.
func newRistrettoFallback[T any](t *testing.T) *Ristretto[T] {
	t.Helper()
	r, err := NewRistretto[T](100)
	if err != nil {
		t.Fatalf("NewRistretto: %v", err)
	}
	t.Cleanup(r.Close)
	return r
}

func TestRistrettoGetSetDelete(t *testing.T) {
	r := newRistrettoFallback[string](t)

	r.Set("foo", "bar", time.Minute)
	if v, ok := r.Get("foo"); !ok || v != "bar" {
		t.Fatalf("Get: expected bar, got %v %v", v, ok)
	}
	if d, ok := r.TTL("foo"); !ok || d <= 0 || d > time.Minute {
		t.Fatalf("TTL: %v %v", d, ok)
	}
	if !r.Delete("foo") {
		t.Fatal("Delete: expected true")
	}
	if r.Exists("foo") {
		t.Fatal("expected miss after delete")
	}
}

func TestRistrettoExpiration(t *testing.T) {
	r := newRistrettoFallback[string](t)

	r.Set("foo", "bar", 10*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	if _, ok := r.Get("foo"); ok {
		t.Fatal("expected key to expire")
	}
}

func TestRistrettoNoExpiryAndClear(t *testing.T) {
	r := newRistrettoFallback[int](t)

	r.Set("n", 1, 0)
	if d, ok := r.TTL("n"); !ok || d != 0 {
		t.Fatalf("TTL: %v %v", d, ok)
	}
	if r.DeletePattern("*") != 0 {
		t.Fatal("DeletePattern must report 0")
	}
	r.Clear()
	if r.Exists("n") {
		t.Fatal("expected miss after clear")
	}
}

func TestFallbackByName(t *testing.T) {
	for _, name := range []string{"lru", "ristretto", "bigcache"} {
		f, err := FallbackByName[string](name, 10, JSONCodec{})
		if err != nil {
			t.Fatalf("FallbackByName(%q): %v", name, err)
		}
		f.Set("k", "v", 0)
		if v, ok := f.Get("k"); !ok || v != "v" {
			t.Fatalf("%s: got %v %v", name, v, ok)
		}
		f.Close()
	}
	if _, err := FallbackByName[string]("lfu", 10, nil); err == nil {
		t.Fatal("expected error for unknown engine")
	}
}
