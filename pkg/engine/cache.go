package engine

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/txn2/graphql-webapp/pkg/metrics"
)

// cacheEntry is a cached value with its expiry.
type cacheEntry struct {
	value   []byte
	expires time.Time
}

// Cache is a byte-bounded LRU with per-entry expiry. It is safe for
// concurrent use.
type Cache struct {
	name     string
	maxBytes int64

	mu    sync.Mutex
	lru   *simplelru.LRU[string, cacheEntry]
	bytes int64
	now   func() time.Time
}

// NewCache creates a cache holding at most maxBytes of values.
func NewCache(name string, maxBytes int64) (*Cache, error) {
	c := &Cache{name: name, maxBytes: maxBytes, now: time.Now}
	// Every entry holds at least one byte, so the entry bound never binds
	// before the byte bound.
	capacity := int(max(maxBytes, 1))
	lru, err := simplelru.NewLRU[string, cacheEntry](capacity, func(_ string, e cacheEntry) {
		c.bytes -= int64(len(e.value))
	})
	if err != nil {
		return nil, err //nolint:wrapcheck // only fails for a non-positive size
	}
	c.lru = lru
	return c, nil
}

// Name returns the store name.
func (c *Cache) Name() string {
	return c.name
}

// Get returns a live value for key.
func (c *Cache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.lru.Get(key)
	if !ok {
		return nil, false
	}
	if !e.expires.IsZero() && c.now().After(e.expires) {
		c.lru.Remove(key)
		return nil, false
	}
	return e.value, true
}

// Set stores value for ttl (zero means no expiry), evicting least recently
// used entries until the byte budget holds. Values larger than the whole
// budget are not stored.
func (c *Cache) Set(key string, value []byte, ttl time.Duration) bool {
	size := int64(len(value))
	if size == 0 || size > c.maxBytes {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.lru.Remove(key)
	e := cacheEntry{value: value}
	if ttl > 0 {
		e.expires = c.now().Add(ttl)
	}
	c.lru.Add(key, e)
	c.bytes += size
	for c.bytes > c.maxBytes {
		if _, _, ok := c.lru.RemoveOldest(); !ok {
			break
		}
	}
	return true
}

// Len returns the number of entries, including expired ones not yet evicted.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Bytes returns the total size of stored values.
func (c *Cache) Bytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bytes
}

// collectors exports the store's size as gauges labelled with its name.
func (c *Cache) collectors() []prometheus.Collector {
	labels := prometheus.Labels{"store": c.name}
	return []prometheus.Collector{
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   metrics.Namespace,
			Subsystem:   "engine",
			Name:        "cache_entries",
			Help:        "Entries held by a cache store.",
			ConstLabels: labels,
		}, func() float64 { return float64(c.Len()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   metrics.Namespace,
			Subsystem:   "engine",
			Name:        "cache_bytes",
			Help:        "Bytes of values held by a cache store.",
			ConstLabels: labels,
		}, func() float64 { return float64(c.Bytes()) }),
	}
}
