package cache

import (
	"container/list"
	"sync"
	"sync/atomic"
	"time"
)

// LRU is a generic cache with optional capacity and TTL bounds.
// capacity <= 0 means unbounded and ttl <= 0 means entries never expire.
// An unbounded, non-expiring LRU keeps no recency order, so Get only takes
// a read lock.
type LRU[K comparable, V any] struct {
	mu       sync.RWMutex
	capacity int
	ttl      time.Duration
	items    map[K]*list.Element
	order    *list.List
	nowFn    func() time.Time

	hits   atomic.Int64
	misses atomic.Int64
}

type entry[K comparable, V any] struct {
	key       K
	value     V
	expiresAt time.Time
}

func NewLRU[K comparable, V any](capacity int, ttl time.Duration) *LRU[K, V] {
	hint := capacity
	if hint < 0 {
		hint = 0
	}
	return &LRU[K, V]{
		capacity: capacity,
		ttl:      ttl,
		items:    make(map[K]*list.Element, hint),
		order:    list.New(),
		nowFn:    time.Now,
	}
}

func (c *LRU[K, V]) bounded() bool { return c.capacity > 0 }

func (c *LRU[K, V]) expires() bool { return c.ttl > 0 }

// Get returns the value for key if present and not expired.
func (c *LRU[K, V]) Get(key K) (V, bool) {
	if !c.bounded() && !c.expires() {
		return c.getShared(key)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		c.misses.Add(1)
		var zero V
		return zero, false
	}
	e := elem.Value.(*entry[K, V])
	if c.expires() && c.nowFn().After(e.expiresAt) {
		c.removeElement(elem)
		c.misses.Add(1)
		var zero V
		return zero, false
	}
	if c.bounded() {
		c.order.MoveToFront(elem)
	}
	c.hits.Add(1)
	return e.value, true
}

func (c *LRU[K, V]) getShared(key K) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	elem, ok := c.items[key]
	if !ok {
		c.misses.Add(1)
		var zero V
		return zero, false
	}
	c.hits.Add(1)
	return elem.Value.(*entry[K, V]).value, true
}

// Put adds or replaces the value for key.
func (c *LRU[K, V]) Put(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expiresAt time.Time
	if c.expires() {
		expiresAt = c.nowFn().Add(c.ttl)
	}

	if elem, ok := c.items[key]; ok {
		e := elem.Value.(*entry[K, V])
		e.value = value
		e.expiresAt = expiresAt
		if c.bounded() {
			c.order.MoveToFront(elem)
		}
		return
	}

	if c.bounded() && c.order.Len() >= c.capacity {
		c.evictOldest()
	}
	c.items[key] = c.order.PushFront(&entry[K, V]{key: key, value: value, expiresAt: expiresAt})
}

// Len counts stored entries, including expired ones not yet evicted.
func (c *LRU[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.order.Len()
}

func (c *LRU[K, V]) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *LRU[K, V]) evictOldest() {
	if elem := c.order.Back(); elem != nil {
		c.removeElement(elem)
	}
}

func (c *LRU[K, V]) removeElement(elem *list.Element) {
	c.order.Remove(elem)
	delete(c.items, elem.Value.(*entry[K, V]).key)
}
