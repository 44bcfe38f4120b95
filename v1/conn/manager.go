package conn

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	warmerrors "github.com/mirkobrombin/go-warmlock/v1/errors"
	"github.com/mirkobrombin/go-warmlock/v1/metrics"
)

const (
	defaultMaxAttempts = 5
	defaultRetryDelay  = 5 * time.Second
	defaultDialTimeout = 2 * time.Second
)

// Options describes the store endpoint and the retry policy.
// An empty Host means no store is configured.
type Options struct {
	Host     string
	Port     int
	Password string
	DB       int

	// MaxAttempts is the number of consecutive failed attempts after which
	// the manager stops retrying on its own. Defaults to 5.
	MaxAttempts int
	// RetryDelay is the fixed pause between attempts. Defaults to 5s.
	RetryDelay time.Duration
	// DialTimeout bounds a single connection probe. Defaults to 2s.
	DialTimeout time.Duration
	// OpTimeout sets the client read and write timeouts when positive.
	OpTimeout time.Duration
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger used for state transitions.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithClock replaces time.Now for backoff bookkeeping.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithStateListener registers fn to be called on every state transition.
// fn runs on the goroutine that caused the transition and must not block.
func WithStateListener(fn func(from, to State)) Option {
	return func(m *Manager) { m.listener = fn }
}

// Manager owns the connection to the backing store.
type Manager struct {
	opts     Options
	addr     string
	logger   *slog.Logger
	now      func() time.Time
	listener func(from, to State)
	group    singleflight.Group

	mu          sync.Mutex
	client      *redis.Client
	state       State
	attempts    int
	lastFailure time.Time
	closed      bool
}

// New returns a Manager for opts. It does not dial; the first
// EnsureConnected, Connect or Reconnect call does.
func New(opts Options, options ...Option) *Manager {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.RetryDelay < 0 {
		opts.RetryDelay = 0
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = defaultDialTimeout
	}
	m := &Manager{
		opts:   opts,
		addr:   net.JoinHostPort(opts.Host, strconv.Itoa(opts.Port)),
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, o := range options {
		o(m)
	}
	if !m.Configured() {
		// Nothing to connect to: run on local fallback for the whole lifetime.
		m.state = Degraded
	}
	metrics.ConnectionState.Set(float64(m.state))
	return m
}

// Configured reports whether a store host was provided.
func (m *Manager) Configured() bool { return m.opts.Host != "" }

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Client returns the underlying client, or nil if none was created yet.
func (m *Manager) Client() *redis.Client {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.client
}

// Connect performs one connection cycle and re-arms auto-retry after it
// was exhausted or the manager was closed.
func (m *Manager) Connect(ctx context.Context) error {
	if !m.Configured() {
		return warmerrors.ErrNotConfigured
	}
	m.mu.Lock()
	m.attempts = 0
	m.closed = false
	m.mu.Unlock()
	return m.connect(ctx)
}

// EnsureConnected reports whether a usable connection exists, attempting at
// most one connection cycle when it does not. It never sleeps: while the
// retry delay since the last failure has not elapsed, or once the attempt
// budget is spent, it returns false immediately.
func (m *Manager) EnsureConnected(ctx context.Context) bool {
	if !m.Configured() {
		return false
	}
	m.mu.Lock()
	state, attempts, last, closed := m.state, m.attempts, m.lastFailure, m.closed
	m.mu.Unlock()
	switch {
	case state == Connected:
		return true
	case closed || attempts >= m.opts.MaxAttempts:
		return false
	case attempts > 0 && m.now().Sub(last) < m.opts.RetryDelay:
		return false
	}
	return m.connect(ctx) == nil
}

// Reconnect retries connection cycles with a fixed delay between them until
// one succeeds, the attempt budget is spent or ctx is done.
func (m *Manager) Reconnect(ctx context.Context) error {
	if !m.Configured() {
		return warmerrors.ErrNotConfigured
	}
	m.mu.Lock()
	m.attempts = 0
	m.closed = false
	m.mu.Unlock()
	for {
		err := m.connect(ctx)
		if err == nil {
			return nil
		}
		m.mu.Lock()
		attempts := m.attempts
		m.mu.Unlock()
		if attempts >= m.opts.MaxAttempts {
			return fmt.Errorf("%w after %d attempts: %v", warmerrors.ErrUnavailable, attempts, err)
		}
		timer := time.NewTimer(m.opts.RetryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// ReportError lets dependents signal a failed command. Connection errors
// move a connected manager to Degraded so the next EnsureConnected probes
// the store again; other errors are ignored.
func (m *Manager) ReportError(err error) {
	if !IsConnectionError(err) {
		return
	}
	m.mu.Lock()
	if m.state != Connected {
		m.mu.Unlock()
		return
	}
	m.lastFailure = m.now()
	from := m.swapState(Degraded)
	m.mu.Unlock()
	m.logger.Warn("warmlock: store command failed, degrading", "addr", m.addr, "error", Classify(err))
	m.notify(from, Degraded)
}

// Close closes the client and stops auto-retry until Connect is called.
func (m *Manager) Close() error {
	m.mu.Lock()
	client := m.client
	m.client = nil
	m.closed = true
	from := m.state
	if m.Configured() {
		m.swapState(Disconnected)
	}
	to := m.state
	m.mu.Unlock()
	m.notify(from, to)
	if client == nil {
		return nil
	}
	return client.Close()
}

func (m *Manager) connect(ctx context.Context) error {
	// The attempt is shared: one caller cancelling must not fail the others.
	ch := m.group.DoChan("connect", func() (any, error) {
		return nil, m.dial(context.WithoutCancel(ctx))
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) dial(ctx context.Context) error {
	m.mu.Lock()
	if m.state == Connected {
		m.mu.Unlock()
		return nil
	}
	if m.client == nil {
		m.client = redis.NewClient(&redis.Options{
			Addr:         m.addr,
			Password:     m.opts.Password,
			DB:           m.opts.DB,
			DialTimeout:  m.opts.DialTimeout,
			ReadTimeout:  m.opts.OpTimeout,
			WriteTimeout: m.opts.OpTimeout,
		})
	}
	client := m.client
	from := m.swapState(Connecting)
	m.mu.Unlock()
	m.notify(from, Connecting)

	pctx, cancel := context.WithTimeout(ctx, m.opts.DialTimeout)
	err := client.Ping(pctx).Err()
	cancel()

	m.mu.Lock()
	if m.closed || m.client != client {
		// Closed while the ping was in flight.
		from = m.swapState(Disconnected)
		m.mu.Unlock()
		m.notify(from, Disconnected)
		return fmt.Errorf("warmlock: connect %s: %w", m.addr, warmerrors.ErrConnectionClosed)
	}
	if err != nil {
		m.attempts++
		m.lastFailure = m.now()
		attempts := m.attempts
		to := Degraded
		if attempts >= m.opts.MaxAttempts {
			to = Disconnected
		}
		from = m.swapState(to)
		m.mu.Unlock()
		metrics.ConnectAttempts.WithLabelValues("error").Inc()
		if to == Disconnected {
			m.logger.Error("warmlock: giving up on store until next explicit connect",
				"addr", m.addr, "attempts", attempts, "error", Classify(err))
		} else {
			m.logger.Warn("warmlock: store connection failed",
				"addr", m.addr, "attempt", attempts, "max", m.opts.MaxAttempts, "error", Classify(err))
		}
		m.notify(from, to)
		return fmt.Errorf("warmlock: connect %s: %w", m.addr, Classify(err))
	}
	m.attempts = 0
	from = m.swapState(Connected)
	m.mu.Unlock()
	metrics.ConnectAttempts.WithLabelValues("ok").Inc()
	m.notify(from, Connected)
	return nil
}

// swapState sets the state and returns the previous one. m.mu must be held.
func (m *Manager) swapState(to State) State {
	from := m.state
	m.state = to
	return from
}

func (m *Manager) notify(from, to State) {
	if from == to {
		return
	}
	metrics.ConnectionState.Set(float64(to))
	m.logger.Info("warmlock: connection state changed", "addr", m.addr, "from", from.String(), "to", to.String())
	if m.listener != nil {
		m.listener(from, to)
	}
}
