package warmup

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	warmerrors "github.com/mirkobrombin/go-warmlock/v1/errors"
	"github.com/mirkobrombin/go-warmlock/v1/lock"
	"github.com/mirkobrombin/go-warmlock/v1/metrics"
)

const (
	lockPrefix     = "warmup:"
	defaultTimeout = 30 * time.Second
)

// Provider primes part of the cache. Providers with a higher Priority run
// first; equal priorities keep registration order.
type Provider struct {
	Key      string
	Priority int
	Run      func(ctx context.Context) error
}

// Locker is the part of lock.Redis the coordinator relies on.
type Locker interface {
	WithLock(ctx context.Context, resource string, fn func(context.Context) error, opts ...lock.AcquireOption) error
}

// Options controls when and how long providers run.
type Options struct {
	Enabled bool
	// Timeout bounds each provider run and is the TTL of its lock.
	Timeout time.Duration
	// Interval repeats the pass started by Start. Zero runs it once.
	Interval time.Duration
}

// Report lists the provider keys by outcome of a RunAll pass.
type Report struct {
	Executed []string
	Skipped  []string
	Failed   []string
}

// Coordinator runs providers in priority order under per-provider locks.
type Coordinator struct {
	locker Locker
	opts   Options
	logger *slog.Logger

	mu        sync.Mutex
	providers []Provider
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger for skipped and failed providers.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}

// New returns a Coordinator taking its locks from locker.
func New(locker Locker, opts Options, options ...Option) *Coordinator {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	c := &Coordinator{locker: locker, opts: opts, logger: slog.Default()}
	for _, o := range options {
		o(c)
	}
	return c
}

// Register adds p to the providers run by the next pass.
func (c *Coordinator) Register(p Provider) {
	c.mu.Lock()
	c.providers = append(c.providers, p)
	c.mu.Unlock()
}

// Providers returns the registered providers in execution order.
func (c *Coordinator) Providers() []Provider {
	c.mu.Lock()
	out := make([]Provider, len(c.providers))
	copy(out, c.providers)
	c.mu.Unlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority > out[j].Priority })
	return out
}

// RunAll runs every provider once, sequentially and in priority order. A
// failing provider is logged and does not stop the pass. Providers whose
// lock is held elsewhere, or that cannot be locked because the store is
// unreachable, are skipped.
func (c *Coordinator) RunAll(ctx context.Context) Report {
	var rep Report
	if !c.opts.Enabled {
		c.logger.Debug("warmlock: warmup disabled")
		return rep
	}
	for _, p := range c.Providers() {
		if ctx.Err() != nil {
			break
		}
		err := c.locker.WithLock(ctx, lockPrefix+p.Key, c.runner(p),
			lock.WithTTL(c.opts.Timeout), lock.WithMaxRetries(0))
		switch {
		case err == nil:
			rep.Executed = append(rep.Executed, p.Key)
			metrics.WarmupRuns.WithLabelValues(p.Key, "ok").Inc()
		case stdErrors.Is(err, warmerrors.ErrUnavailable):
			c.logger.Warn("warmlock: warmup skipped, store unavailable", "provider", p.Key)
			rep.Skipped = append(rep.Skipped, p.Key)
			metrics.WarmupRuns.WithLabelValues(p.Key, "unavailable").Inc()
		case stdErrors.Is(err, warmerrors.ErrNotAcquired):
			c.logger.Info("warmlock: warmup skipped, presumably warming on another instance", "provider", p.Key)
			rep.Skipped = append(rep.Skipped, p.Key)
			metrics.WarmupRuns.WithLabelValues(p.Key, "skipped").Inc()
		default:
			c.logger.Error("warmlock: warmup provider failed", "provider", p.Key, "error", err)
			rep.Failed = append(rep.Failed, p.Key)
			metrics.WarmupRuns.WithLabelValues(p.Key, "error").Inc()
		}
	}
	return rep
}

// runner wraps p.Run with the run deadline and turns panics into errors.
func (c *Coordinator) runner(p Provider) func(context.Context) error {
	return func(ctx context.Context) (err error) {
		ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("warmup %s panicked: %v", p.Key, r)
			}
		}()
		if p.Run == nil {
			return nil
		}
		return p.Run(ctx)
	}
}

// Start runs a pass immediately and then every Interval until ctx is done.
// It blocks; run it in its own goroutine.
func (c *Coordinator) Start(ctx context.Context) {
	c.RunAll(ctx)
	if c.opts.Interval <= 0 {
		return
	}
	ticker := time.NewTicker(c.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.RunAll(ctx)
		}
	}
}
