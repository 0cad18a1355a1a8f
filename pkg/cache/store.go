package cache

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"
)

// entry is one cached value. A zero expiresAt means the entry never
// expires.
type entry[V any] struct {
	key       string
	value     V
	expiresAt time.Time
}

func (e *entry[V]) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// store is the single implementation behind every strategy. maxEntries
// zero means unbounded; ttl zero means entries never expire. The four
// public strategies are just combinations of the two knobs, which keeps
// recency tracking, expiry, and statistics in one place instead of four.
//
// The order list runs most recently used at the front. Capacity
// eviction takes the back; expiry is checked lazily on reads and by the
// sweeper when one is running.
type store[V any] struct {
	maxEntries int
	ttl        time.Duration

	mu    sync.Mutex
	items map[string]*list.Element
	order *list.List

	rec     *recorder
	evictFn EvictCallback[V]

	// Sweeper coordination, nil unless ttl > 0.
	stop      chan struct{}
	swept     chan struct{}
	closeOnce sync.Once
}

// newStore builds a cache and, when ttl and sweepInterval are both
// positive, starts a sweeper bound to ctx.
func newStore[V any](
	ctx context.Context, maxEntries int, ttl, sweepInterval time.Duration, opts *cacheOptions[V],
) (*store[V], error) {
	rec, err := newRecorder(opts.metricsReg, opts.metricsPrefix)
	if err != nil {
		return nil, err
	}

	c := &store[V]{
		maxEntries: maxEntries,
		ttl:        ttl,
		items:      make(map[string]*list.Element),
		order:      list.New(),
		rec:        rec,
		evictFn:    opts.evictCallback,
	}

	if ttl > 0 && sweepInterval > 0 {
		c.stop = make(chan struct{})
		c.swept = make(chan struct{})
		go c.sweeper(ctx, sweepInterval)
	}
	return c, nil
}

// Get returns the value for key, refreshing recency. An expired entry
// is removed and reported as a miss.
func (c *store[V]) Get(key string) (V, bool) {
	var zero V

	c.mu.Lock()
	element, ok := c.items[key]
	if !ok {
		c.mu.Unlock()
		c.rec.miss()
		return zero, false
	}

	e := element.Value.(*entry[V])
	if e.expired(time.Now()) {
		c.unlink(element)
		size := len(c.items)
		c.mu.Unlock()

		c.rec.evict()
		c.rec.miss()
		c.rec.resize(size)
		if c.evictFn != nil {
			c.evictFn(e.key, e.value)
		}
		return zero, false
	}

	c.order.MoveToFront(element)
	c.mu.Unlock()

	c.rec.hit()
	return e.value, true
}

// Set stores value under key. Overwrites refresh recency and expiry; an
// insert past capacity evicts the least recently used entry first.
func (c *store[V]) Set(key string, value V) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}

	var expiresAt time.Time
	if c.ttl > 0 {
		expiresAt = time.Now().Add(c.ttl)
	}

	c.mu.Lock()
	if element, ok := c.items[key]; ok {
		e := element.Value.(*entry[V])
		e.value = value
		e.expiresAt = expiresAt
		c.order.MoveToFront(element)
		c.mu.Unlock()

		c.rec.set()
		return false, nil
	}

	c.items[key] = c.order.PushFront(&entry[V]{key: key, value: value, expiresAt: expiresAt})

	var dropped *entry[V]
	if c.maxEntries > 0 && len(c.items) > c.maxEntries {
		if tail := c.order.Back(); tail != nil {
			dropped = tail.Value.(*entry[V])
			c.unlink(tail)
		}
	}
	size := len(c.items)
	c.mu.Unlock()

	c.rec.set()
	c.rec.resize(size)
	if dropped != nil {
		c.rec.evict()
		if c.evictFn != nil {
			c.evictFn(dropped.key, dropped.value)
		}
	}
	return true, nil
}

// Delete removes the entry for key.
func (c *store[V]) Delete(key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}

	c.mu.Lock()
	element, ok := c.items[key]
	if !ok {
		c.mu.Unlock()
		return false, nil
	}
	e := element.Value.(*entry[V])
	c.unlink(element)
	size := len(c.items)
	c.mu.Unlock()

	c.rec.delete()
	c.rec.resize(size)
	if c.evictFn != nil {
		c.evictFn(e.key, e.value)
	}
	return true, nil
}

// Clear drops every entry, invoking the eviction callback for each.
func (c *store[V]) Clear() error {
	var flushed []*entry[V]

	c.mu.Lock()
	if c.evictFn != nil {
		flushed = make([]*entry[V], 0, len(c.items))
		for element := c.order.Front(); element != nil; element = element.Next() {
			flushed = append(flushed, element.Value.(*entry[V]))
		}
	}
	c.items = make(map[string]*list.Element)
	c.order.Init()
	c.mu.Unlock()

	c.rec.resize(0)
	for _, e := range flushed {
		c.evictFn(e.key, e.value)
	}
	return nil
}

// Size returns the stored entry count. Expired entries count until the
// sweeper or a read removes them.
func (c *store[V]) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Keys lists live keys, most recently used first.
func (c *store[V]) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	keys := make([]string, 0, len(c.items))
	for element := c.order.Front(); element != nil; element = element.Next() {
		if e := element.Value.(*entry[V]); !e.expired(now) {
			keys = append(keys, e.key)
		}
	}
	return keys
}

// Stats returns the always-on statistics.
func (c *store[V]) Stats() *Statistics {
	return c.rec.stats
}

// Close stops the sweeper and waits for it to exit. Safe to call more
// than once, and a no-op for strategies without a sweeper.
func (c *store[V]) Close() error {
	if c.stop == nil {
		return nil
	}
	c.closeOnce.Do(func() { close(c.stop) })

	select {
	case <-c.swept:
		return nil
	case <-time.After(5 * time.Second):
		return fmt.Errorf("cache sweeper did not exit within 5s")
	}
}

// unlink removes an element from the index and order list. Caller holds mu.
func (c *store[V]) unlink(element *list.Element) {
	delete(c.items, element.Value.(*entry[V]).key)
	c.order.Remove(element)
}

// sweeper periodically drops expired entries until Close or ctx ends it.
func (c *store[V]) sweeper(ctx context.Context, interval time.Duration) {
	defer close(c.swept)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

// sweep removes every expired entry in one pass.
func (c *store[V]) sweep() {
	now := time.Now()
	var expired []*entry[V]

	c.mu.Lock()
	for element := c.order.Front(); element != nil; {
		next := element.Next()
		if e := element.Value.(*entry[V]); e.expired(now) {
			expired = append(expired, e)
			c.unlink(element)
		}
		element = next
	}
	size := len(c.items)
	c.mu.Unlock()

	if len(expired) == 0 {
		return
	}
	c.rec.resize(size)
	for _, e := range expired {
		c.rec.evict()
		if c.evictFn != nil {
			c.evictFn(e.key, e.value)
		}
	}
}
