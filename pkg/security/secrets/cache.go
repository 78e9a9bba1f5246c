package secrets

import (
	"sync"
	"time"
)

// CacheConfig bounds the Manager's cache. A non-positive TTL or MaxSize
// disables caching.
type CacheConfig struct {
	TTL     time.Duration
	MaxSize int
}

func (c CacheConfig) enabled() bool { return c.TTL > 0 && c.MaxSize > 0 }

type cacheEntry struct {
	value     string
	expiresAt time.Time
}

// Cache holds resolved secrets until their TTL expires. When full, the
// entry closest to expiry is evicted.
type Cache struct {
	cfg CacheConfig
	now func() time.Time

	mu      sync.Mutex
	entries map[string]cacheEntry
}

// NewCache creates a cache.
func NewCache(cfg CacheConfig) *Cache {
	return &Cache{cfg: cfg, now: time.Now, entries: make(map[string]cacheEntry)}
}

// Get returns an unexpired value.
func (c *Cache) Get(name string) (string, bool) {
	if !c.cfg.enabled() {
		return "", false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[name]
	if !ok {
		return "", false
	}
	if !c.now().Before(e.expiresAt) {
		delete(c.entries, name)
		return "", false
	}
	return e.value, true
}

// Set stores value for the configured TTL.
func (c *Cache) Set(name, value string) {
	if !c.cfg.enabled() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[name]; !ok && len(c.entries) >= c.cfg.MaxSize {
		c.evictLocked()
	}
	c.entries[name] = cacheEntry{value: value, expiresAt: c.now().Add(c.cfg.TTL)}
}

func (c *Cache) evictLocked() {
	var victim string
	var earliest time.Time
	for name, e := range c.entries {
		if victim == "" || e.expiresAt.Before(earliest) {
			victim, earliest = name, e.expiresAt
		}
	}
	delete(c.entries, victim)
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	clear(c.entries)
	c.mu.Unlock()
}

// Len returns the number of entries, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
