// Package cache memoizes compiled shader code.
//
// Compiling WGSL through naga dominates shader module creation, and
// applications tend to create the same module on every device they open.
// Cache keeps the most recently used results up to a fixed number of
// entries.
//
//	c := cache.New[[32]byte, []uint32](64)
//	words, err := c.GetOrCompile(sha256.Sum256(src), compile)
package cache

import "sync"

// Cache is a fixed-size LRU cache. It is safe for concurrent use and must
// not be copied after creation.
type Cache[K comparable, V any] struct {
	mu      sync.Mutex
	entries map[K]*node[K, V]
	limit   int
	// head is the most recently used entry, tail the least.
	head, tail *node[K, V]

	hits, misses, evictions uint64
}

type node[K comparable, V any] struct {
	key        K
	value      V
	prev, next *node[K, V]
}

// New returns a cache holding at most limit entries. A limit below 1 is
// treated as 1.
func New[K comparable, V any](limit int) *Cache[K, V] {
	return &Cache[K, V]{
		entries: make(map[K]*node[K, V]),
		limit:   max(limit, 1),
	}
}

// Get returns the value for key and marks it recently used.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.entries[key]
	if !ok {
		c.misses++
		var zero V
		return zero, false
	}
	c.hits++
	c.moveToFront(n)
	return n.value, true
}

// Add stores value for key, evicting the least recently used entry when
// the cache is full.
func (c *Cache[K, V]) Add(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n, ok := c.entries[key]; ok {
		n.value = value
		c.moveToFront(n)
		return
	}
	n := &node[K, V]{key: key, value: value}
	c.entries[key] = n
	c.pushFront(n)
	for len(c.entries) > c.limit {
		oldest := c.tail
		c.unlink(oldest)
		delete(c.entries, oldest.key)
		c.evictions++
	}
}

// GetOrCompile returns the cached value for key, or runs compile and caches
// its result. Failed compiles are not cached. compile runs without the
// cache lock held, so concurrent misses on one key may compile twice.
func (c *Cache[K, V]) GetOrCompile(key K, compile func() (V, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	v, err := compile()
	if err != nil {
		return v, err
	}
	c.Add(key, v)
	return v, nil
}

// Len returns the number of cached entries.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns the hit, miss and eviction counters.
func (c *Cache[K, V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{Len: len(c.entries), Limit: c.limit, Hits: c.hits, Misses: c.misses, Evictions: c.evictions}
}

// Stats contains cache counters.
type Stats struct {
	Len       int
	Limit     int
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

func (c *Cache[K, V]) pushFront(n *node[K, V]) {
	n.prev, n.next = nil, c.head
	if c.head != nil {
		c.head.prev = n
	}
	c.head = n
	if c.tail == nil {
		c.tail = n
	}
}

func (c *Cache[K, V]) moveToFront(n *node[K, V]) {
	if n == c.head {
		return
	}
	c.unlink(n)
	c.pushFront(n)
}

func (c *Cache[K, V]) unlink(n *node[K, V]) {
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		c.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		c.tail = n.prev
	}
	n.prev, n.next = nil, nil
}
