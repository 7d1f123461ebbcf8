// Package cache is a small in-memory TTL store with LRU eviction. It backs
// short-lived server bookkeeping: revoked token ids and the duplicate
// message guard. Model responses are never cached.
package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// Cache is safe for concurrent use.
type Cache struct {
	mu       sync.Mutex
	items    map[string]*entry
	order    *list.List // MRU at front, LRU at back
	maxItems int        // 0 = unlimited
	now      func() time.Time
}

type entry struct {
	key string
	v   any
	exp time.Time // zero = no expiry
	el  *list.Element
}

var (
	defaultCache *Cache
	once         sync.Once
	defaultMax   = 10000
)

func New(maxItems int) *Cache {
	if maxItems < 0 {
		maxItems = 0
	}
	return &Cache{items: make(map[string]*entry), order: list.New(), maxItems: maxItems, now: time.Now}
}

// Default returns the process-wide cache. Its janitor runs for the life of
// the process.
func Default() *Cache {
	once.Do(func() {
		defaultCache = New(defaultMax)
		go defaultCache.Janitor(context.Background(), time.Minute)
	})
	return defaultCache
}

func (c *Cache) expired(e *entry, now time.Time) bool {
	return !e.exp.IsZero() && !now.Before(e.exp)
}

// Get returns the value and whether it is present and unexpired.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.items[key]
	if !ok {
		return nil, false
	}
	if c.expired(e, c.now()) {
		c.removeLocked(e)
		return nil, false
	}
	c.order.MoveToFront(e.el)
	return e.v, true
}

// Set stores v under key. ttl<=0 means no expiry.
func (c *Cache) Set(key string, v any, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setLocked(key, v, ttl)
}

func (c *Cache) setLocked(key string, v any, ttl time.Duration) {
	var exp time.Time
	if ttl > 0 {
		exp = c.now().Add(ttl)
	}
	if e, ok := c.items[key]; ok {
		e.v, e.exp = v, exp
		c.order.MoveToFront(e.el)
		return
	}
	e := &entry{key: key, v: v, exp: exp}
	e.el = c.order.PushFront(e)
	c.items[key] = e
	for c.maxItems > 0 && c.order.Len() > c.maxItems {
		c.removeLocked(c.order.Back().Value.(*entry))
	}
}

// SetIfAbsent stores v only when key is missing or expired and reports
// whether it did.
func (c *Cache) SetIfAbsent(key string, v any, ttl time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.items[key]; ok && !c.expired(e, c.now()) {
		return false
	}
	c.setLocked(key, v, ttl)
	return true
}

func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.items[key]; ok {
		c.removeLocked(e)
	}
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Sweep drops every expired entry and returns how many were removed.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	n := 0
	for _, e := range c.items {
		if c.expired(e, now) {
			c.removeLocked(e)
			n++
		}
	}
	return n
}

// Janitor sweeps every interval until ctx is done.
func (c *Cache) Janitor(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			c.Sweep()
		}
	}
}

// removeLocked unlinks e; caller must hold c.mu.
func (c *Cache) removeLocked(e *entry) {
	c.order.Remove(e.el)
	delete(c.items, e.key)
}
