// Package presets wires a connection manager, a cache, a locker and a warmup
// coordinator from a config.Config.
package presets

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mirkobrombin/go-warmlock/v1/cache"
	"github.com/mirkobrombin/go-warmlock/v1/config"
	"github.com/mirkobrombin/go-warmlock/v1/conn"
	"github.com/mirkobrombin/go-warmlock/v1/lock"
	"github.com/mirkobrombin/go-warmlock/v1/warmup"
)

// Stack holds the components built from one configuration.
type Stack[T any] struct {
	Config *config.Config
	Conn   *conn.Manager
	Cache  *cache.Cache[T]
	Locker *lock.Redis
	Warmup *warmup.Coordinator

	fallback cache.Fallback[T]
	logger   *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Stack.
type Option func(*options)

type options struct {
	logger *slog.Logger
}

// WithLogger sets the logger shared by every component.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// New builds a Stack from cfg. Nothing is dialled until Start or the first
// operation.
func New[T any](cfg *config.Config, opts ...Option) (*Stack[T], error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	codec, err := cache.CodecByName(cfg.Cache.Codec)
	if err != nil {
		return nil, fmt.Errorf("presets: %w", err)
	}

	mgr := conn.New(conn.Options{
		Host:        cfg.Cache.Host,
		Port:        cfg.Cache.Port,
		Password:    cfg.Cache.Password,
		DB:          cfg.Cache.DB,
		MaxAttempts: cfg.Cache.RetryAttempts,
		RetryDelay:  cfg.Cache.RetryInterval(),
		OpTimeout:   cfg.Cache.CommandTimeout(),
	}, conn.WithLogger(o.logger))

	s := &Stack[T]{Config: cfg, Conn: mgr, logger: o.logger}

	cacheOpts := []cache.Option[T]{
		cache.WithDefaultTTL[T](cfg.Cache.DefaultTTL()),
		cache.WithCodec[T](codec),
		cache.WithOpTimeout[T](cfg.Cache.CommandTimeout()),
		cache.WithLogger[T](o.logger),
	}
	if cfg.Cache.Fallback {
		f, err := cache.FallbackByName[T](cfg.Cache.Engine, cfg.Cache.Max, codec)
		if err != nil {
			return nil, fmt.Errorf("presets: %w", err)
		}
		s.fallback = f
		cacheOpts = append(cacheOpts, cache.WithFallback[T](f))
	}
	s.Cache = cache.New[T](mgr, cacheOpts...)
	s.Locker = lock.New(mgr, lock.WithLogger(o.logger))
	s.Warmup = warmup.New(s.Locker, warmup.Options{
		Enabled:  cfg.Warmup.Enabled,
		Timeout:  cfg.Warmup.RunTimeout(),
		Interval: cfg.Warmup.Every(),
	}, warmup.WithLogger(o.logger))
	return s, nil
}

// Start connects to the store and launches the warmup schedule in the
// background. A store that cannot be reached is logged and leaves the stack
// running on its fallback.
func (s *Stack[T]) Start(ctx context.Context) {
	if s.Conn.Configured() {
		if err := s.Conn.Reconnect(ctx); err != nil {
			s.logger.Error("warmlock: starting without store", "addr", s.Config.Cache.Addr(), "error", err)
		}
	} else {
		s.logger.Info("warmlock: no store configured, using local fallback only")
	}

	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.Warmup.Start(ctx)
	}()
}

// Close stops the warmup schedule and releases the store connection and the
// fallback.
func (s *Stack[T]) Close() error {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
	if s.fallback != nil {
		s.fallback.Close()
	}
	return s.Conn.Close()
}
