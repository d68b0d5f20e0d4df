package fetch

import (
	"sync"
	"time"
)

type cacheEntry struct {
	content   string
	fetchedAt time.Time
}

// cache is a thread-safe in-memory cache with TTL expiration. Expired
// entries are cleaned up lazily on get; no background goroutine.
type cache struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry
	ttl     time.Duration
}

func newCache(ttl time.Duration) *cache {
	return &cache{
		entries: make(map[string]*cacheEntry),
		ttl:     ttl,
	}
}

func (c *cache) get(url string) (string, bool) {
	c.mu.RLock()
	entry, ok := c.entries[url]
	c.mu.RUnlock()
	if !ok {
		return "", false
	}

	if time.Since(entry.fetchedAt) > c.ttl {
		// Re-check under the write lock: a concurrent set may have replaced
		// the entry with a fresh one.
		c.mu.Lock()
		if current, ok := c.entries[url]; ok && time.Since(current.fetchedAt) > c.ttl {
			delete(c.entries, url)
		}
		c.mu.Unlock()
		return "", false
	}
	return entry.content, true
}

func (c *cache) set(url, content string) {
	c.mu.Lock()
	c.entries[url] = &cacheEntry{content: content, fetchedAt: time.Now()}
	c.mu.Unlock()
}
