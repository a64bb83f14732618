// Package cache provides a small in-process bounded LRU cache used to
// memoize lookups against slow dependencies.
package cache

import (
	"container/list"
	"sync"
)

// Stats holds cumulative counters for a cache instance
type Stats struct {
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
}

// BoundedCache is a thread-safe fixed-capacity LRU cache. When an insert
// would exceed capacity the least recently used entry is evicted. Both
// Get and Put count as use.
type BoundedCache[K comparable, V any] struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	items    map[K]*list.Element
	stats    Stats
	onEvict  func(key K, value V)
}

type entry[K comparable, V any] struct {
	key   K
	value V
}

// Option configures a BoundedCache
type Option[K comparable, V any] func(*BoundedCache[K, V])

// WithEvictionCallback registers a callback invoked after an entry is
// evicted to make room. It runs outside the cache lock.
func WithEvictionCallback[K comparable, V any](fn func(key K, value V)) Option[K, V] {
	return func(c *BoundedCache[K, V]) {
		c.onEvict = fn
	}
}

// NewBoundedCache creates a cache holding at most capacity entries.
// Capacity must be positive.
func NewBoundedCache[K comparable, V any](capacity int, opts ...Option[K, V]) *BoundedCache[K, V] {
	if capacity <= 0 {
		panic("cache: capacity must be positive")
	}
	c := &BoundedCache[K, V]{
		capacity: capacity,
		order:    list.New(),
		items:    make(map[K]*list.Element, capacity),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the value for key and marks it most recently used
func (c *BoundedCache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		c.stats.Misses++
		var zero V
		return zero, false
	}

	c.order.MoveToFront(elem)
	c.stats.Hits++
	return elem.Value.(*entry[K, V]).value, true
}

// Peek returns the value for key without updating recency
func (c *BoundedCache[K, V]) Peek(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		var zero V
		return zero, false
	}
	return elem.Value.(*entry[K, V]).value, true
}

// Put inserts or updates key, marking it most recently used. If the
// cache is full the least recently used entry is evicted first.
func (c *BoundedCache[K, V]) Put(key K, value V) {
	c.mu.Lock()

	if elem, ok := c.items[key]; ok {
		elem.Value.(*entry[K, V]).value = value
		c.order.MoveToFront(elem)
		c.mu.Unlock()
		return
	}

	var evicted *entry[K, V]
	if c.order.Len() >= c.capacity {
		oldest := c.order.Back()
		if oldest != nil {
			evicted = oldest.Value.(*entry[K, V])
			c.order.Remove(oldest)
			delete(c.items, evicted.key)
			c.stats.Evictions++
		}
	}

	c.items[key] = c.order.PushFront(&entry[K, V]{key: key, value: value})
	onEvict := c.onEvict
	c.mu.Unlock()

	if evicted != nil && onEvict != nil {
		onEvict(evicted.key, evicted.value)
	}
}

// Remove deletes key from the cache, reporting whether it was present
func (c *BoundedCache[K, V]) Remove(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return false
	}
	c.order.Remove(elem)
	delete(c.items, key)
	return true
}

// Len returns the number of entries currently cached
func (c *BoundedCache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Capacity returns the configured maximum number of entries
func (c *BoundedCache[K, V]) Capacity() int {
	return c.capacity
}

// Clear removes all entries without invoking eviction callbacks
func (c *BoundedCache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	c.items = make(map[K]*list.Element, c.capacity)
}

// Stats returns a snapshot of the cache counters
func (c *BoundedCache[K, V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}
