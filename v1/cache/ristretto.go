package cache

import (
	"time"

	"github.com/dgraph-io/ristretto"
)

// Ristretto implements Fallback using dgraph-io/ristretto. Every entry costs
// one unit, so max bounds the entry count. Ristretto cannot enumerate its
// keys: DeletePattern is a no-op and Len is an estimate.
type Ristretto[T any] struct {
	c *ristretto.Cache
}

type ristrettoItem[T any] struct {
	value     T
	expiresAt time.Time
}

// NewRistretto returns a ristretto-backed Fallback holding about max entries.
func NewRistretto[T any](max int) (*Ristretto[T], error) {
	if max <= 0 {
		max = 1000
	}
	rc, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: int64(max) * 10,
		MaxCost:     int64(max),
		BufferItems: 64,
		Metrics:     true,
	})
	if err != nil {
		return nil, err
	}
	return &Ristretto[T]{c: rc}, nil
}

// Get implements Fallback.Get.
func (r *Ristretto[T]) Get(key string) (T, bool) {
	it, ok := r.item(key)
	if !ok {
		var zero T
		return zero, false
	}
	return it.value, true
}

func (r *Ristretto[T]) item(key string) (ristrettoItem[T], bool) {
	v, ok := r.c.Get(key)
	if !ok {
		return ristrettoItem[T]{}, false
	}
	it, ok := v.(ristrettoItem[T])
	if !ok || (!it.expiresAt.IsZero() && !time.Now().Before(it.expiresAt)) {
		return ristrettoItem[T]{}, false
	}
	return it, true
}

// Set implements Fallback.Set.
func (r *Ristretto[T]) Set(key string, value T, ttl time.Duration) {
	it := ristrettoItem[T]{value: value}
	if ttl > 0 {
		it.expiresAt = time.Now().Add(ttl)
	} else {
		ttl = 0
	}
	r.c.SetWithTTL(key, it, 1, ttl)
	r.c.Wait()
}

// Delete implements Fallback.Delete.
func (r *Ristretto[T]) Delete(key string) bool {
	_, ok := r.item(key)
	r.c.Del(key)
	r.c.Wait()
	return ok
}

// Exists implements Fallback.Exists.
func (r *Ristretto[T]) Exists(key string) bool {
	_, ok := r.item(key)
	return ok
}

// TTL implements Fallback.TTL.
func (r *Ristretto[T]) TTL(key string) (time.Duration, bool) {
	it, ok := r.item(key)
	if !ok {
		return 0, false
	}
	if it.expiresAt.IsZero() {
		return 0, true
	}
	return time.Until(it.expiresAt), true
}

// DeletePattern implements Fallback.DeletePattern. It always returns 0.
func (r *Ristretto[T]) DeletePattern(string) int { return 0 }

// Clear implements Fallback.Clear.
func (r *Ristretto[T]) Clear() { r.c.Clear() }

// Len implements Fallback.Len from ristretto's admission counters.
func (r *Ristretto[T]) Len() int {
	m := r.c.Metrics
	if m == nil {
		return 0
	}
	n := int64(m.KeysAdded()) - int64(m.KeysEvicted())
	if n < 0 {
		return 0
	}
	return int(n)
}

// Close releases resources held by the cache.
func (r *Ristretto[T]) Close() { r.c.Close() }
