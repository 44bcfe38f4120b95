package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/mirkobrombin/go-warmlock/v1/conn"
	"github.com/mirkobrombin/go-warmlock/v1/metrics"
)

const (
	defaultOpTimeout        = 2 * time.Second
	defaultBatchConcurrency = 16
	healthTTL               = 10 * time.Second
	deleteChunk             = 500
)

// Outcome labels recorded for every operation.
const (
	resultHit         = "hit"
	resultMiss        = "miss"
	resultOK          = "ok"
	resultError       = "error"
	resultFallback    = "fallback"
	resultUnavailable = "unavailable"
)

// Connector is the part of conn.Manager the cache relies on.
type Connector interface {
	EnsureConnected(ctx context.Context) bool
	ReportError(err error)
	Client() *redis.Client
}

// Entry is a single item of a SetBatch call. A TTL <= 0 uses the default.
type Entry[T any] struct {
	Key   string
	Value T
	TTL   time.Duration
}

// Cache stores values of type T in Redis, degrading to a local Fallback
// while the store is unreachable.
type Cache[T any] struct {
	conn       Connector
	codec      Codec
	fallback   Fallback[T]
	defaultTTL time.Duration
	opTimeout  time.Duration
	batchLimit int
	logger     *slog.Logger
}

// Option configures a Cache.
type Option[T any] func(*Cache[T])

// WithDefaultTTL sets the TTL used when Set receives ttl <= 0.
// Zero means entries do not expire.
func WithDefaultTTL[T any](d time.Duration) Option[T] {
	return func(c *Cache[T]) { c.defaultTTL = d }
}

// WithCodec sets the codec used for values stored in Redis. Defaults to JSONCodec.
func WithCodec[T any](codec Codec) Option[T] {
	return func(c *Cache[T]) {
		if codec != nil {
			c.codec = codec
		}
	}
}

// WithFallback enables degraded-mode caching in f. Without it, operations
// that cannot reach Redis return their empty result.
func WithFallback[T any](f Fallback[T]) Option[T] {
	return func(c *Cache[T]) { c.fallback = f }
}

// WithOpTimeout bounds every Redis command.
func WithOpTimeout[T any](d time.Duration) Option[T] {
	return func(c *Cache[T]) {
		if d > 0 {
			c.opTimeout = d
		}
	}
}

// WithBatchConcurrency limits the number of concurrent writes in SetBatch.
func WithBatchConcurrency[T any](n int) Option[T] {
	return func(c *Cache[T]) {
		if n > 0 {
			c.batchLimit = n
		}
	}
}

// WithLogger sets the logger used for swallowed failures.
func WithLogger[T any](l *slog.Logger) Option[T] {
	return func(c *Cache[T]) {
		if l != nil {
			c.logger = l
		}
	}
}

// New returns a Cache using cn for the remote store. cn may be nil, in which
// case only the fallback is used.
func New[T any](cn Connector, opts ...Option[T]) *Cache[T] {
	c := &Cache[T]{
		conn:       cn,
		codec:      JSONCodec{},
		opTimeout:  defaultOpTimeout,
		batchLimit: defaultBatchConcurrency,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// remote returns the Redis client when the connector reports a usable
// connection, nil otherwise.
func (c *Cache[T]) remote(ctx context.Context) *redis.Client {
	if c.conn == nil || !c.conn.EnsureConnected(ctx) {
		return nil
	}
	return c.conn.Client()
}

func (c *Cache[T]) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.opTimeout)
}

// fail logs a swallowed Redis failure and reports it to the connector.
func (c *Cache[T]) fail(op, key string, err error) {
	c.logger.Warn("warmlock: cache "+op+" failed", "key", key, "error", conn.Classify(err))
	c.conn.ReportError(err)
}

func (c *Cache[T]) ttlOrDefault(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return c.defaultTTL
	}
	return ttl
}

// Get returns the value stored under key. Failures are reported as misses.
func (c *Cache[T]) Get(ctx context.Context, key string) (T, bool) {
	ctx, op := metrics.TrackCache(ctx, "get", key)
	v, ok, result := c.get(ctx, key)
	op.End(result)
	return v, ok
}

func (c *Cache[T]) get(ctx context.Context, key string) (T, bool, string) {
	var zero T
	client := c.remote(ctx)
	if client == nil {
		if c.fallback == nil {
			return zero, false, resultUnavailable
		}
		v, ok := c.fallback.Get(key)
		if !ok {
			return zero, false, resultMiss
		}
		return v, true, resultFallback
	}
	cctx, cancel := c.opContext(ctx)
	defer cancel()
	data, err := client.Get(cctx, key).Bytes()
	if err == redis.Nil {
		return zero, false, resultMiss
	}
	if err != nil {
		c.fail("get", key, err)
		return zero, false, resultError
	}
	var v T
	if err := c.codec.Unmarshal(data, &v); err != nil {
		c.logger.Warn("warmlock: cache decode failed", "key", key, "error", err)
		return zero, false, resultError
	}
	return v, true, resultHit
}

// Set stores value under key for ttl, or the default TTL when ttl <= 0.
// Failures are logged and never returned.
func (c *Cache[T]) Set(ctx context.Context, key string, value T, ttl time.Duration) {
	ctx, op := metrics.TrackCache(ctx, "set", key)
	op.End(c.set(ctx, key, value, c.ttlOrDefault(ttl)))
}

func (c *Cache[T]) set(ctx context.Context, key string, value T, ttl time.Duration) string {
	client := c.remote(ctx)
	if client == nil {
		return c.setLocal(key, value, ttl)
	}
	data, err := c.codec.Marshal(value)
	if err != nil {
		c.logger.Warn("warmlock: cache encode failed", "key", key, "error", err)
		return resultError
	}
	cctx, cancel := c.opContext(ctx)
	defer cancel()
	if err := client.Set(cctx, key, data, ttl).Err(); err != nil {
		c.fail("set", key, err)
		if conn.IsConnectionError(err) {
			c.setLocal(key, value, ttl)
		}
		return resultError
	}
	if c.fallback != nil {
		// A value cached while degraded must not resurface on the next outage.
		c.fallback.Delete(key)
	}
	return resultOK
}

func (c *Cache[T]) setLocal(key string, value T, ttl time.Duration) string {
	if c.fallback == nil {
		return resultUnavailable
	}
	c.fallback.Set(key, value, ttl)
	return resultFallback
}

// Delete removes key from Redis and from the fallback.
func (c *Cache[T]) Delete(ctx context.Context, key string) {
	ctx, op := metrics.TrackCache(ctx, "delete", key)
	result := resultOK
	if c.fallback != nil {
		c.fallback.Delete(key)
	}
	if client := c.remote(ctx); client != nil {
		cctx, cancel := c.opContext(ctx)
		if err := client.Del(cctx, key).Err(); err != nil {
			c.fail("delete", key, err)
			result = resultError
		}
		cancel()
	} else if c.fallback != nil {
		result = resultFallback
	} else {
		result = resultUnavailable
	}
	op.End(result)
}

// Exists reports whether key holds a live value.
func (c *Cache[T]) Exists(ctx context.Context, key string) bool {
	client := c.remote(ctx)
	if client == nil {
		return c.fallback != nil && c.fallback.Exists(key)
	}
	cctx, cancel := c.opContext(ctx)
	defer cancel()
	n, err := client.Exists(cctx, key).Result()
	if err != nil {
		c.fail("exists", key, err)
		return false
	}
	return n > 0
}

// TTL returns the remaining lifetime of key. It returns 0 and true for keys
// without expiry, and false for absent keys.
func (c *Cache[T]) TTL(ctx context.Context, key string) (time.Duration, bool) {
	client := c.remote(ctx)
	if client == nil {
		if c.fallback == nil {
			return 0, false
		}
		return c.fallback.TTL(key)
	}
	cctx, cancel := c.opContext(ctx)
	defer cancel()
	d, err := client.PTTL(cctx, key).Result()
	if err != nil {
		c.fail("ttl", key, err)
		return 0, false
	}
	switch d {
	case -2:
		return 0, false
	case -1:
		return 0, true
	}
	return d, true
}

// GetOrSet returns the cached value for key, or calls factory, caches its
// result and returns it. A factory error is returned unchanged and nothing
// is cached. Concurrent callers missing the same key may all run factory.
func (c *Cache[T]) GetOrSet(ctx context.Context, key string, factory func(context.Context) (T, error), ttl time.Duration) (T, error) {
	if v, ok := c.Get(ctx, key); ok {
		return v, nil
	}
	v, err := factory(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	c.Set(ctx, key, v, ttl)
	return v, nil
}

// GetMany returns the live values among keys. Missing or undecodable keys
// are omitted.
func (c *Cache[T]) GetMany(ctx context.Context, keys ...string) map[string]T {
	out := make(map[string]T, len(keys))
	if len(keys) == 0 {
		return out
	}
	client := c.remote(ctx)
	if client == nil {
		if c.fallback != nil {
			for _, k := range keys {
				if v, ok := c.fallback.Get(k); ok {
					out[k] = v
				}
			}
		}
		return out
	}
	cctx, cancel := c.opContext(ctx)
	defer cancel()
	vals, err := client.MGet(cctx, keys...).Result()
	if err != nil {
		c.fail("mget", keys[0], err)
		return out
	}
	for i, raw := range vals {
		s, ok := raw.(string)
		if !ok {
			continue
		}
		var v T
		if err := c.codec.Unmarshal([]byte(s), &v); err != nil {
			c.logger.Warn("warmlock: cache decode failed", "key", keys[i], "error", err)
			continue
		}
		out[keys[i]] = v
	}
	return out
}

// SetBatch stores every entry concurrently. Entries are independent: a
// failing write does not affect the others.
func (c *Cache[T]) SetBatch(ctx context.Context, entries []Entry[T]) {
	var g errgroup.Group
	g.SetLimit(c.batchLimit)
	for _, e := range entries {
		e := e
		g.Go(func() error {
			c.Set(ctx, e.Key, e.Value, e.TTL)
			return nil
		})
	}
	_ = g.Wait()
}

// DeleteByPattern removes every key matching the Redis glob pattern and
// returns how many were removed. While degraded it scans the fallback.
func (c *Cache[T]) DeleteByPattern(ctx context.Context, pattern string) int {
	client := c.remote(ctx)
	if client == nil {
		if c.fallback == nil {
			c.logger.Warn("warmlock: delete by pattern skipped, store unavailable", "pattern", pattern)
			return 0
		}
		return c.fallback.DeletePattern(pattern)
	}
	cctx, cancel := c.opContext(ctx)
	defer cancel()
	keys, err := client.Keys(cctx, pattern).Result()
	if err != nil {
		c.fail("keys", pattern, err)
		return 0
	}
	deleted := 0
	for start := 0; start < len(keys); start += deleteChunk {
		end := min(start+deleteChunk, len(keys))
		n, err := client.Del(cctx, keys[start:end]...).Result()
		if err != nil {
			c.fail("delete", pattern, err)
			break
		}
		deleted += int(n)
	}
	if c.fallback != nil {
		c.fallback.DeletePattern(pattern)
	}
	return deleted
}

// FlushAll empties the configured Redis database and the fallback. The
// fallback is cleared even when Redis cannot be flushed; the result is true
// only when Redis confirmed the flush.
func (c *Cache[T]) FlushAll(ctx context.Context) bool {
	if c.fallback != nil {
		c.fallback.Clear()
	}
	client := c.remote(ctx)
	if client == nil {
		c.logger.Warn("warmlock: flush skipped on store, store unavailable")
		return false
	}
	cctx, cancel := c.opContext(ctx)
	defer cancel()
	if err := client.FlushDB(cctx).Err(); err != nil {
		c.fail("flush", "*", err)
		return false
	}
	return true
}

// IsHealthy writes a sentinel key, reads it back and deletes it. It returns
// true only when the value survived the round trip.
func (c *Cache[T]) IsHealthy(ctx context.Context) bool {
	client := c.remote(ctx)
	if client == nil {
		return false
	}
	cctx, cancel := c.opContext(ctx)
	defer cancel()
	token := uuid.NewString()
	key := "health:" + token
	if err := client.Set(cctx, key, token, healthTTL).Err(); err != nil {
		c.fail("health", key, err)
		return false
	}
	got, err := client.Get(cctx, key).Result()
	if delErr := client.Del(cctx, key).Err(); delErr != nil {
		c.logger.Debug("warmlock: health sentinel cleanup failed", "key", key, "error", delErr)
	}
	if err != nil {
		c.fail("health", key, err)
		return false
	}
	return got == token
}
