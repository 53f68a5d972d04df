package dal

import (
	"sync"
	"time"

	"github.com/kitebase/kitebase/pkg/kid"
)

const defaultCacheSize = 512

type cacheEntry struct {
	query      *CompiledQuery
	insertedAt time.Time
}

// queryCache keeps compiled queries keyed by query text and principal.
// Entries compiled against an older schema version are dropped on lookup;
// at capacity the oldest entry is evicted.
type queryCache struct {
	mu      sync.RWMutex
	items   map[string]*cacheEntry
	maxSize int
}

func newQueryCache(maxSize int) *queryCache {
	if maxSize <= 0 {
		maxSize = defaultCacheSize
	}
	return &queryCache{
		items:   make(map[string]*cacheEntry),
		maxSize: maxSize,
	}
}

func cacheKey(text string, principal kid.KID) string {
	return text + "\x00" + string(principal)
}

func (c *queryCache) get(key string, version uint64) (*CompiledQuery, bool) {
	c.mu.RLock()
	e, ok := c.items[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if e.query.version != version {
		c.mu.Lock()
		delete(c.items, key)
		c.mu.Unlock()
		return nil, false
	}
	return e.query, true
}

func (c *queryCache) put(key string, q *CompiledQuery) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.items[key]; !ok && len(c.items) >= c.maxSize {
		c.evictOldest()
	}
	c.items[key] = &cacheEntry{query: q, insertedAt: time.Now()}
}

// evictOldest removes the oldest entry. Caller holds the write lock.
func (c *queryCache) evictOldest() {
	var oldestKey string
	var oldest time.Time
	for k, e := range c.items {
		if oldestKey == "" || e.insertedAt.Before(oldest) {
			oldestKey = k
			oldest = e.insertedAt
		}
	}
	if oldestKey != "" {
		delete(c.items, oldestKey)
	}
}

func (c *queryCache) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}
