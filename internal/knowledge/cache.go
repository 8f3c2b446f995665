// Package knowledge provides the short-lived embedding cache used during
// conversation processing. The cache is best-effort and non-authoritative:
// a miss or cold cache never changes correctness, only retrieval quality.
package knowledge

import (
	"container/list"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultMaxEntries bounds the cache size.
	DefaultMaxEntries = 500
	// DefaultTTL is the per-entry time to live.
	DefaultTTL = time.Hour
)

// Clock returns the current time. Injectable for TTL testing.
type Clock func() time.Time

// MetricsHook is notified on cache hits and misses. The cache holds no
// dependency on the collector's implementation.
type MetricsHook func(hit bool)

// Stats reports cache occupancy and effectiveness.
type Stats struct {
	Size    int     `json:"size"`
	MaxSize int     `json:"maxSize"`
	HitRate float64 `json:"hitRate"`
}

type entry struct {
	key        string
	vector     []float32
	insertedAt time.Time
}

// Cache is a bounded key→vector cache with per-entry TTL and LRU eviction by
// last access. Keys are normalized so semantically identical queries with
// differing whitespace or case hit the same entry.
type Cache struct {
	mu      sync.Mutex
	maxSize int
	ttl     time.Duration
	clock   Clock
	metrics MetricsHook

	entries map[string]*list.Element
	lru     *list.List // front = most recently used

	hits    uint64
	lookups uint64
}

// Option configures a Cache.
type Option func(*Cache)

// WithMaxEntries overrides the size bound.
func WithMaxEntries(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.maxSize = n
		}
	}
}

// WithTTL overrides the per-entry TTL.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithClock injects a clock, used by tests to control TTL expiry.
func WithClock(clock Clock) Option {
	return func(c *Cache) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithMetricsHook injects the hit/miss notification callback.
func WithMetricsHook(hook MetricsHook) Option {
	return func(c *Cache) {
		c.metrics = hook
	}
}

// NewCache creates an empty cache.
func NewCache(opts ...Option) *Cache {
	c := &Cache{
		maxSize: DefaultMaxEntries,
		ttl:     DefaultTTL,
		clock:   time.Now,
		entries: make(map[string]*list.Element),
		lru:     list.New(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NormalizeKey trims, lowercases and collapses internal whitespace.
func NormalizeKey(key string) string {
	return strings.ToLower(strings.Join(strings.Fields(key), " "))
}

// Get returns the cached vector for the key, if present and fresh. A hit
// refreshes recency for LRU purposes.
func (c *Cache) Get(key string) ([]float32, bool) {
	normalized := NormalizeKey(key)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.lookups++

	elem, ok := c.entries[normalized]
	if !ok {
		c.notify(false)
		return nil, false
	}

	ent := elem.Value.(*entry)
	if c.clock().Sub(ent.insertedAt) > c.ttl {
		c.lru.Remove(elem)
		delete(c.entries, normalized)
		c.notify(false)
		return nil, false
	}

	c.lru.MoveToFront(elem)
	c.hits++
	c.notify(true)
	return ent.vector, true
}

// Set inserts or overwrites the entry for the key. At capacity, the least
// recently used entry (by last access, not insertion) is evicted first.
func (c *Cache) Set(key string, vector []float32) {
	normalized := NormalizeKey(key)
	if normalized == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[normalized]; ok {
		ent := elem.Value.(*entry)
		ent.vector = vector
		ent.insertedAt = c.clock()
		c.lru.MoveToFront(elem)
		return
	}

	if c.lru.Len() >= c.maxSize {
		oldest := c.lru.Back()
		if oldest != nil {
			c.lru.Remove(oldest)
			delete(c.entries, oldest.Value.(*entry).key)
		}
	}

	c.entries[normalized] = c.lru.PushFront(&entry{
		key:        normalized,
		vector:     vector,
		insertedAt: c.clock(),
	})
}

// Clear empties the cache and resets hit statistics.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*list.Element)
	c.lru.Init()
	c.hits = 0
	c.lookups = 0
}

// GetStats reports size and the running hit ratio since the last reset.
func (c *Cache) GetStats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	hitRate := 0.0
	if c.lookups > 0 {
		hitRate = float64(c.hits) / float64(c.lookups)
	}

	return Stats{
		Size:    c.lru.Len(),
		MaxSize: c.maxSize,
		HitRate: hitRate,
	}
}

func (c *Cache) notify(hit bool) {
	if c.metrics != nil {
		c.metrics(hit)
	}
}
