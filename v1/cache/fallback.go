package cache

import (
	"fmt"
	"time"
)

// Fallback is the process-local store used while Redis is unreachable.
// It is never shared between processes. A ttl <= 0 means no expiry.
type Fallback[T any] interface {
	Get(key string) (T, bool)
	Set(key string, value T, ttl time.Duration)
	Delete(key string) bool
	Exists(key string) bool
	// TTL returns the remaining lifetime; zero with true means no expiry.
	TTL(key string) (time.Duration, bool)
	// DeletePattern removes keys matching a Redis-style glob and returns
	// how many were removed.
	DeletePattern(pattern string) int
	Clear()
	Len() int
	Close()
}

// FallbackByName builds the fallback engine named by engine ("lru",
// "ristretto" or "bigcache") sized for max entries. codec is only used by
// engines that store encoded values.
func FallbackByName[T any](engine string, max int, codec Codec) (Fallback[T], error) {
	switch engine {
	case "", "lru":
		return NewLRU[T](max), nil
	case "ristretto":
		r, err := NewRistretto[T](max)
		if err != nil {
			return nil, err
		}
		return r, nil
	case "bigcache":
		b, err := NewBigCache[T](max, codec)
		if err != nil {
			return nil, err
		}
		return b, nil
	}
	return nil, fmt.Errorf("cache: unknown fallback engine %q", engine)
}
