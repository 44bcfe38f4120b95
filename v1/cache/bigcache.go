package cache

import (
	"encoding/binary"
	stdErrors "errors"
	"sync"
	"time"

	bc "github.com/allegro/bigcache/v3"
	"github.com/tidwall/match"
)

const (
	bigCacheLifeWindow = 24 * time.Hour
	// Record header: expiry in unix nanoseconds, then insertion sequence.
	bigCacheHeader = 16
)

// BigCache implements Fallback on allegro/bigcache. Values are stored
// encoded with a codec behind a header holding their expiry and insertion
// order, since bigcache only knows a global life window. At most max
// entries are kept: a write of a new key into a full cache first drops
// expired records, then the oldest one.
type BigCache[T any] struct {
	c     *bc.BigCache
	codec Codec
	max   int

	mu  sync.Mutex
	seq uint64
}

// NewBigCache returns a bigcache-backed Fallback encoding values with codec.
func NewBigCache[T any](max int, codec Codec) (*BigCache[T], error) {
	if codec == nil {
		codec = JSONCodec{}
	}
	conf := bc.DefaultConfig(bigCacheLifeWindow)
	conf.CleanWindow = time.Minute
	if max > 0 {
		conf.MaxEntriesInWindow = max
	}
	conf.Verbose = false
	c, err := bc.NewBigCache(conf)
	if err != nil {
		return nil, err
	}
	return &BigCache[T]{c: c, codec: codec, max: max}, nil
}

// decode splits a stored record into its expiry and value. Expired and
// undecodable records read as absent.
func (b *BigCache[T]) decode(raw []byte) (T, time.Time, bool) {
	var zero T
	if len(raw) < bigCacheHeader {
		return zero, time.Time{}, false
	}
	var exp time.Time
	if ns := int64(binary.BigEndian.Uint64(raw[:8])); ns != 0 {
		exp = time.Unix(0, ns)
		if !time.Now().Before(exp) {
			return zero, time.Time{}, false
		}
	}
	var v T
	if err := b.codec.Unmarshal(raw[bigCacheHeader:], &v); err != nil {
		return zero, time.Time{}, false
	}
	return v, exp, true
}

func (b *BigCache[T]) lookup(key string) (T, time.Time, bool) {
	raw, err := b.c.Get(key)
	if err != nil {
		var zero T
		return zero, time.Time{}, false
	}
	return b.decode(raw)
}

// Get implements Fallback.Get.
func (b *BigCache[T]) Get(key string) (T, bool) {
	v, _, ok := b.lookup(key)
	return v, ok
}

// Set implements Fallback.Set. Values the codec cannot encode are dropped.
func (b *BigCache[T]) Set(key string, value T, ttl time.Duration) {
	data, err := b.codec.Marshal(value)
	if err != nil {
		return
	}
	rec := make([]byte, bigCacheHeader+len(data))
	if ttl > 0 {
		binary.BigEndian.PutUint64(rec[:8], uint64(time.Now().Add(ttl).UnixNano()))
	}
	copy(rec[bigCacheHeader:], data)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	binary.BigEndian.PutUint64(rec[8:bigCacheHeader], b.seq)
	if b.max > 0 {
		if _, err := b.c.Get(key); err != nil {
			b.makeRoom()
		}
	}
	_ = b.c.Set(key, rec)
}

// makeRoom deletes expired records and, if the cache is still full, the
// oldest live one. b.mu must be held.
func (b *BigCache[T]) makeRoom() {
	if b.c.Len() < b.max {
		return
	}
	var (
		oldest    string
		oldestSeq uint64
		found     bool
		expired   []string
	)
	now := time.Now()
	it := b.c.Iterator()
	for it.SetNext() {
		e, err := it.Value()
		if err != nil {
			continue
		}
		raw := e.Value()
		if len(raw) < bigCacheHeader {
			expired = append(expired, e.Key())
			continue
		}
		if ns := int64(binary.BigEndian.Uint64(raw[:8])); ns != 0 && !now.Before(time.Unix(0, ns)) {
			expired = append(expired, e.Key())
			continue
		}
		if seq := binary.BigEndian.Uint64(raw[8:bigCacheHeader]); !found || seq < oldestSeq {
			oldest, oldestSeq, found = e.Key(), seq, true
		}
	}
	for _, k := range expired {
		_ = b.c.Delete(k)
	}
	if b.c.Len() >= b.max && found {
		_ = b.c.Delete(oldest)
	}
}

// Delete implements Fallback.Delete.
func (b *BigCache[T]) Delete(key string) bool {
	_, _, ok := b.lookup(key)
	if err := b.c.Delete(key); err != nil && !stdErrors.Is(err, bc.ErrEntryNotFound) {
		return false
	}
	return ok
}

// Exists implements Fallback.Exists.
func (b *BigCache[T]) Exists(key string) bool {
	_, _, ok := b.lookup(key)
	return ok
}

// TTL implements Fallback.TTL.
func (b *BigCache[T]) TTL(key string) (time.Duration, bool) {
	_, exp, ok := b.lookup(key)
	if !ok {
		return 0, false
	}
	if exp.IsZero() {
		return 0, true
	}
	return time.Until(exp), true
}

// DeletePattern implements Fallback.DeletePattern by walking every entry.
func (b *BigCache[T]) DeletePattern(pattern string) int {
	var keys []string
	it := b.c.Iterator()
	for it.SetNext() {
		e, err := it.Value()
		if err != nil {
			continue
		}
		if _, _, ok := b.decode(e.Value()); ok && match.Match(e.Key(), pattern) {
			keys = append(keys, e.Key())
		}
	}
	n := 0
	for _, k := range keys {
		if b.c.Delete(k) == nil {
			n++
		}
	}
	return n
}

// Clear implements Fallback.Clear.
func (b *BigCache[T]) Clear() { _ = b.c.Reset() }

// Len implements Fallback.Len. Expired records not yet purged are counted.
func (b *BigCache[T]) Len() int { return b.c.Len() }

// Close implements Fallback.Close.
func (b *BigCache[T]) Close() { _ = b.c.Close() }
