package cache

import (
	"container/list"
	"sync"
	"time"

	"github.com/tidwall/match"
)

// defaultSweepInterval is the default period for removing expired items.
const defaultSweepInterval = time.Minute

// LRU is a bounded in-memory Fallback. Expired entries are dropped on access
// and by a background sweeper; when full, the least recently used entry
// makes room for the new one.
type LRU[T any] struct {
	mu    sync.Mutex
	items map[string]*list.Element
	order *list.List
	max   int
	now   func() time.Time

	sweepInterval time.Duration
	stop          chan struct{}
	stopOnce      sync.Once
	wg            sync.WaitGroup
}

type entry[T any] struct {
	key       string
	value     T
	expiresAt time.Time
}

// LRUOption configures an LRU.
type LRUOption[T any] func(*LRU[T])

// WithSweepInterval sets the interval at which expired items are removed.
// A zero or negative duration disables the background sweeper.
func WithSweepInterval[T any](d time.Duration) LRUOption[T] {
	return func(c *LRU[T]) { c.sweepInterval = d }
}

// WithClock replaces time.Now for expiry checks.
func WithClock[T any](now func() time.Time) LRUOption[T] {
	return func(c *LRU[T]) {
		if now != nil {
			c.now = now
		}
	}
}

// NewLRU returns an LRU holding at most max entries. A non-positive max
// means unbounded.
func NewLRU[T any](max int, opts ...LRUOption[T]) *LRU[T] {
	c := &LRU[T]{
		items:         make(map[string]*list.Element),
		order:         list.New(),
		max:           max,
		now:           time.Now,
		sweepInterval: defaultSweepInterval,
		stop:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.sweepInterval > 0 {
		c.wg.Add(1)
		go c.sweeper()
	}
	return c
}

// lookup returns the live entry for key, purging it if expired. c.mu must be held.
func (c *LRU[T]) lookup(key string) (*entry[T], bool) {
	el, ok := c.items[key]
	if !ok {
		return nil, false
	}
	e := el.Value.(*entry[T])
	if !e.expiresAt.IsZero() && !c.now().Before(e.expiresAt) {
		c.order.Remove(el)
		delete(c.items, key)
		return nil, false
	}
	return e, true
}

// Get implements Fallback.Get.
func (c *LRU[T]) Get(key string) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.lookup(key)
	if !ok {
		var zero T
		return zero, false
	}
	c.order.MoveToFront(c.items[key])
	return e.value, true
}

// Set implements Fallback.Set.
func (c *LRU[T]) Set(key string, value T, ttl time.Duration) {
	var exp time.Time
	if ttl > 0 {
		exp = c.now().Add(ttl)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		e := el.Value.(*entry[T])
		e.value = value
		e.expiresAt = exp
		c.order.MoveToFront(el)
		return
	}
	c.items[key] = c.order.PushFront(&entry[T]{key: key, value: value, expiresAt: exp})
	if c.max > 0 && len(c.items) > c.max {
		if tail := c.order.Back(); tail != nil {
			c.order.Remove(tail)
			delete(c.items, tail.Value.(*entry[T]).key)
		}
	}
}

// Delete implements Fallback.Delete.
func (c *LRU[T]) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.lookup(key); !ok {
		return false
	}
	c.order.Remove(c.items[key])
	delete(c.items, key)
	return true
}

// Exists implements Fallback.Exists.
func (c *LRU[T]) Exists(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.lookup(key)
	return ok
}

// TTL implements Fallback.TTL.
func (c *LRU[T]) TTL(key string) (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.lookup(key)
	if !ok {
		return 0, false
	}
	if e.expiresAt.IsZero() {
		return 0, true
	}
	return e.expiresAt.Sub(c.now()), true
}

// DeletePattern implements Fallback.DeletePattern with Redis glob semantics.
func (c *LRU[T]) DeletePattern(pattern string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for key := range c.items {
		if _, ok := c.lookup(key); !ok {
			continue
		}
		if match.Match(key, pattern) {
			c.order.Remove(c.items[key])
			delete(c.items, key)
			n++
		}
	}
	return n
}

// Clear implements Fallback.Clear.
func (c *LRU[T]) Clear() {
	c.mu.Lock()
	c.items = make(map[string]*list.Element)
	c.order.Init()
	c.mu.Unlock()
}

// Len implements Fallback.Len. Expired entries are not counted.
func (c *LRU[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	n := 0
	for _, el := range c.items {
		e := el.Value.(*entry[T])
		if e.expiresAt.IsZero() || now.Before(e.expiresAt) {
			n++
		}
	}
	return n
}

// Close stops the sweeper and drops every entry.
func (c *LRU[T]) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
	c.wg.Wait()
	c.Clear()
}

// sweeper periodically samples entries and removes the expired ones,
// repeating while a large share of the sample turns out expired.
func (c *LRU[T]) sweeper() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.sweepInterval)
	defer ticker.Stop()

	const (
		sampleSize    = 20
		evictionRatio = 0.25
	)

	for {
		select {
		case <-ticker.C:
			for {
				expired, checked := 0, 0
				now := c.now()
				c.mu.Lock()
				for k, el := range c.items {
					checked++
					e := el.Value.(*entry[T])
					if !e.expiresAt.IsZero() && !now.Before(e.expiresAt) {
						c.order.Remove(el)
						delete(c.items, k)
						expired++
					}
					if checked >= sampleSize {
						break
					}
				}
				c.mu.Unlock()
				if float64(expired) < float64(sampleSize)*evictionRatio {
					break
				}
			}
		case <-c.stop:
			return
		}
	}
}
