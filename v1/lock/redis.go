package lock

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"

	"github.com/mirkobrombin/go-warmlock/v1/conn"
	warmerrors "github.com/mirkobrombin/go-warmlock/v1/errors"
	"github.com/mirkobrombin/go-warmlock/v1/metrics"
)

const keyPrefix = "lock:"

// Acquisition defaults, overridden per call with WithTTL, WithRetryDelay and
// WithMaxRetries.
const (
	// DefaultTTL is how long a lock is held before Redis expires it.
	DefaultTTL = 10 * time.Second
	// DefaultRetryDelay is the pause between acquisition attempts.
	DefaultRetryDelay = 100 * time.Millisecond
	// DefaultMaxRetries is the number of attempts after the first one.
	DefaultMaxRetries = 10
)

var delScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
else
    return 0
end
`)

// Connector is the part of conn.Manager the locker relies on.
type Connector interface {
	EnsureConnected(ctx context.Context) bool
	ReportError(err error)
	Client() *redis.Client
}

// Redis acquires and releases locks on the store behind a Connector.
type Redis struct {
	conn   Connector
	logger *slog.Logger
}

// Option configures a Redis locker.
type Option func(*Redis)

// WithLogger sets the logger used for swallowed failures.
func WithLogger(l *slog.Logger) Option {
	return func(r *Redis) {
		if l != nil {
			r.logger = l
		}
	}
}

// AcquireOption tunes a single acquisition.
type AcquireOption func(*acquireConfig)

type acquireConfig struct {
	ttl        time.Duration
	retryDelay time.Duration
	maxRetries int
}

// WithTTL sets how long the lock is held before Redis expires it.
func WithTTL(d time.Duration) AcquireOption {
	return func(c *acquireConfig) { c.ttl = d }
}

// WithRetryDelay sets the pause between attempts.
func WithRetryDelay(d time.Duration) AcquireOption {
	return func(c *acquireConfig) { c.retryDelay = d }
}

// WithMaxRetries sets how many attempts follow the first one. Zero means a
// single attempt.
func WithMaxRetries(n int) AcquireOption {
	return func(c *acquireConfig) { c.maxRetries = n }
}

func newAcquireConfig(opts []AcquireOption) acquireConfig {
	cfg := acquireConfig{ttl: DefaultTTL, retryDelay: DefaultRetryDelay, maxRetries: DefaultMaxRetries}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.ttl < time.Millisecond {
		cfg.ttl = time.Millisecond
	}
	if cfg.maxRetries < 0 {
		cfg.maxRetries = 0
	}
	return cfg
}

// New returns a locker using cn for the remote store.
func New(cn Connector, opts ...Option) *Redis {
	r := &Redis{conn: cn, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Redis) remote(ctx context.Context) *redis.Client {
	if r.conn == nil || !r.conn.EnsureConnected(ctx) {
		return nil
	}
	return r.conn.Client()
}

// Acquire tries to take the lock on resource and returns the token needed to
// release it. It returns false when the store is unreachable, when every
// attempt found the lock held, or when ctx is done.
func (r *Redis) Acquire(ctx context.Context, resource string, opts ...AcquireOption) (string, bool) {
	token, _ := r.tryAcquire(ctx, resource, opts)
	return token, token != ""
}

func (r *Redis) tryAcquire(ctx context.Context, resource string, opts []AcquireOption) (string, string) {
	ctx, op := metrics.TrackLock(ctx, "acquire", resource)
	token, result := r.acquire(ctx, resource, newAcquireConfig(opts))
	op.End(result)
	return token, result
}

func (r *Redis) acquire(ctx context.Context, resource string, cfg acquireConfig) (string, string) {
	client := r.remote(ctx)
	if client == nil {
		return "", "unavailable"
	}
	key := keyPrefix + resource
	token := uuid.NewString()
	ttlMs := cfg.ttl.Milliseconds()

	for attempt := 0; ; attempt++ {
		err := client.Do(ctx, "SET", key, token, "NX", "PX", ttlMs).Err()
		switch {
		case err == nil:
			return token, "ok"
		case err == redis.Nil:
		default:
			if ctx.Err() != nil {
				return "", "cancelled"
			}
			r.logger.Warn("warmlock: lock acquire failed", "resource", resource, "error", conn.Classify(err))
			r.conn.ReportError(err)
			return "", "error"
		}
		if attempt >= cfg.maxRetries {
			return "", "exhausted"
		}
		t := time.NewTimer(cfg.retryDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			return "", "cancelled"
		case <-t.C:
		}
	}
}

// Release deletes the lock on resource if it still holds token. It reports
// whether this call removed the lock.
func (r *Redis) Release(ctx context.Context, resource, token string) bool {
	ctx, op := metrics.TrackLock(ctx, "release", resource)
	ok, result := r.release(ctx, resource, token)
	op.End(result)
	return ok
}

func (r *Redis) release(ctx context.Context, resource, token string) (bool, string) {
	client := r.remote(ctx)
	if client == nil {
		return false, "unavailable"
	}
	n, err := delScript.Run(ctx, client, []string{keyPrefix + resource}, token).Int64()
	if err != nil && err != redis.Nil {
		r.logger.Warn("warmlock: lock release failed", "resource", resource, "error", conn.Classify(err))
		r.conn.ReportError(err)
		return false, "error"
	}
	if n != 1 {
		return false, "mismatch"
	}
	return true, "ok"
}

// IsLocked reports whether any holder currently owns resource.
func (r *Redis) IsLocked(ctx context.Context, resource string) bool {
	client := r.remote(ctx)
	if client == nil {
		return false
	}
	n, err := client.Exists(ctx, keyPrefix+resource).Result()
	if err != nil {
		r.conn.ReportError(err)
		return false
	}
	return n > 0
}

// WithLock runs fn while holding the lock on resource. It returns
// ErrNotAcquired when the lock could not be taken, fn's error otherwise.
// When the store could not be reached the error also matches ErrUnavailable.
// The lock is released when fn returns or panics.
func (r *Redis) WithLock(ctx context.Context, resource string, fn func(context.Context) error, opts ...AcquireOption) error {
	_, err := Do(ctx, r, resource, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	}, opts...)
	return err
}

// Do is WithLock for functions returning a value.
func Do[T any](ctx context.Context, r *Redis, resource string, fn func(context.Context) (T, error), opts ...AcquireOption) (T, error) {
	token, result := r.tryAcquire(ctx, resource, opts)
	if token == "" {
		var zero T
		if result == "unavailable" || result == "error" {
			return zero, fmt.Errorf("%w: %w", warmerrors.ErrNotAcquired, warmerrors.ErrUnavailable)
		}
		return zero, warmerrors.ErrNotAcquired
	}
	defer func() {
		if !r.Release(context.WithoutCancel(ctx), resource, token) {
			r.logger.Warn("warmlock: lock expired before release", "resource", resource)
		}
	}()
	return fn(ctx)
}
