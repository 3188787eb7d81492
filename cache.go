package toolrt

import (
	"fmt"
	"sync"
	"time"

	"github.com/gobwas/glob"
)

// CacheConfig holds tuning knobs for a ResultCache.
type CacheConfig struct {
	// TTL is how long an entry stays valid. Default: 5m.
	TTL time.Duration

	// MaxEntries bounds the cache size; inserting beyond it evicts the oldest
	// entry. Default: 1024.
	MaxEntries int

	// IncludePatterns restricts memoization to tools whose name matches one of
	// the glob patterns (e.g. "get_*", "inspect_*"). An empty list caches
	// every tool.
	IncludePatterns []string
}

func (c CacheConfig) withDefaults() CacheConfig {
	if c.TTL <= 0 {
		c.TTL = 5 * time.Minute
	}
	if c.MaxEntries <= 0 {
		c.MaxEntries = 1024
	}
	return c
}

// CacheStats holds cache performance metrics.
type CacheStats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
	Entries   int   `json:"entries"`
}

type cacheEntry struct {
	result    CallToolResult
	createdAt time.Time
}

// ResultCache memoizes tool call outcomes keyed by (tool name, literal argument
// serialization). Two calls with semantically equal arguments but different
// byte representations are distinct keys. It is safe for concurrent use.
type ResultCache struct {
	cfg      CacheConfig
	includes []glob.Glob

	mu      sync.Mutex
	entries map[string]cacheEntry
	stats   CacheStats

	now func() time.Time
}

// NewResultCache creates a ResultCache with the supplied configuration.
// Invalid include patterns are reported as an error.
func NewResultCache(cfg CacheConfig) (*ResultCache, error) {
	cfg = cfg.withDefaults()

	includes := make([]glob.Glob, 0, len(cfg.IncludePatterns))
	for _, p := range cfg.IncludePatterns {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compile cache pattern %q: %w", p, err)
		}
		includes = append(includes, g)
	}

	return &ResultCache{
		cfg:      cfg,
		includes: includes,
		entries:  make(map[string]cacheEntry),
		now:      time.Now,
	}, nil
}

// ShouldCache reports whether results for name are eligible for memoization.
// With no configured include patterns every tool is eligible.
func (c *ResultCache) ShouldCache(name string) bool {
	if len(c.includes) == 0 {
		return true
	}
	for _, g := range c.includes {
		if g.Match(name) {
			return true
		}
	}
	return false
}

func cacheKey(name string, args []byte) string {
	return name + "\x00" + string(args)
}

// TryGet returns the cached result for (name, args) if present and unexpired.
func (c *ResultCache) TryGet(name string, args []byte) (CallToolResult, bool) {
	key := cacheKey(name, args)

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.stats.Misses++
		return CallToolResult{}, false
	}
	if c.now().Sub(e.createdAt) > c.cfg.TTL {
		delete(c.entries, key)
		c.stats.Evictions++
		c.stats.Misses++
		return CallToolResult{}, false
	}

	c.stats.Hits++
	return e.result, true
}

// Put stores the result for (name, args), stamping it with the current time.
// If the cache is at capacity the oldest entry is evicted first.
func (c *ResultCache) Put(name string, args []byte, result CallToolResult) {
	key := cacheKey(name, args)

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.cfg.MaxEntries {
		c.evictOldestLocked()
	}
	c.entries[key] = cacheEntry{result: result, createdAt: c.now()}
}

func (c *ResultCache) evictOldestLocked() {
	var oldestKey string
	var oldest time.Time
	for k, e := range c.entries {
		if oldestKey == "" || e.createdAt.Before(oldest) {
			oldestKey = k
			oldest = e.createdAt
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
		c.stats.Evictions++
	}
}

// Invalidate removes every cached result for name, regardless of arguments.
// Used when a registration is overwritten or removed.
func (c *ResultCache) Invalidate(name string) {
	prefix := name + "\x00"

	c.mu.Lock()
	defer c.mu.Unlock()

	for k := range c.entries {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			delete(c.entries, k)
		}
	}
}

// Clear discards every entry without touching cumulative hit/miss counters.
func (c *ResultCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cacheEntry)
}

// Stats returns a snapshot of cache performance counters.
func (c *ResultCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.stats
	s.Entries = len(c.entries)
	return s
}
