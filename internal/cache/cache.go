package cache

import (
	"sync"
	"time"
)

// Key prefixes for the values kept during one invocation
const (
	// Controller presence probes, keyed by controller type
	PrefixPresence = "presence/"

	// Arbitrated owner of a multipath device, keyed by device node
	PrefixOwner = "owner/"
)

// CacheEntry holds a cached value
type CacheEntry struct {
	Value     interface{}
	Err       error
	FetchedAt time.Time
}

// Age returns how long ago the entry was fetched
func (e *CacheEntry) Age() time.Duration {
	return time.Since(e.FetchedAt)
}

// Cache memoizes discovery results for the lifetime of the process.
// Hardware topology is assumed static while ledctl runs, so entries
// never expire.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*CacheEntry
	loading map[string]*sync.Mutex
}

// New creates a new cache instance
func New() *Cache {
	return &Cache{
		entries: make(map[string]*CacheEntry),
		loading: make(map[string]*sync.Mutex),
	}
}

// GetEntry retrieves the full cache entry (for checking age, etc.)
func (c *Cache) GetEntry(key string) *CacheEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries[key]
}

// Load returns the cached result for key, calling fetch at most once per
// key even when callers race. Errors are cached too: a backend found
// unavailable stays unavailable for the rest of the run.
func (c *Cache) Load(key string, fetch func() (interface{}, error)) (interface{}, error) {
	c.mu.Lock()
	if entry, ok := c.entries[key]; ok {
		c.mu.Unlock()
		return entry.Value, entry.Err
	}
	l, ok := c.loading[key]
	if !ok {
		l = &sync.Mutex{}
		c.loading[key] = l
	}
	c.mu.Unlock()

	l.Lock()
	defer l.Unlock()

	if entry := c.GetEntry(key); entry != nil {
		return entry.Value, entry.Err
	}

	value, err := fetch()

	c.mu.Lock()
	c.entries[key] = &CacheEntry{Value: value, Err: err, FetchedAt: time.Now()}
	delete(c.loading, key)
	c.mu.Unlock()

	return value, err
}

// Global cache instance
var global *Cache
var once sync.Once

// Global returns the global cache instance
func Global() *Cache {
	once.Do(func() {
		global = New()
	})
	return global
}
