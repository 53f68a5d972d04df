package sharing

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/kitebase/kitebase/pkg/kid"
)

// defaultPermTTL is the time-to-live for cached permission checks. Grant
// writes invalidate eagerly; the TTL only bounds staleness from writes made
// by other processes on the same tenant database.
const defaultPermTTL = 10 * time.Second

// permEntry stores one cached permission result with its expiration time.
type permEntry struct {
	allowed   bool
	expiresAt time.Time
}

// permCache is a short-lived in-memory cache for permission checks, keyed
// by record, user and permission column.
type permCache struct {
	ttl   time.Duration
	mu    sync.RWMutex
	cache map[string]permEntry
}

func newPermCache(ttl time.Duration) *permCache {
	return &permCache{ttl: ttl, cache: make(map[string]permEntry)}
}

func permKey(recordKID, userKID kid.KID, column string) string {
	return fmt.Sprintf("%s:%s:%s", recordKID, userKID, column)
}

func (c *permCache) get(key string) (bool, bool) {
	c.mu.RLock()
	entry, ok := c.cache[key]
	c.mu.RUnlock()
	if !ok || time.Now().After(entry.expiresAt) {
		return false, false
	}
	return entry.allowed, true
}

func (c *permCache) put(key string, allowed bool) {
	c.mu.Lock()
	c.cache[key] = permEntry{allowed: allowed, expiresAt: time.Now().Add(c.ttl)}
	c.mu.Unlock()
}

// clear drops the whole cache, used when group membership changes since
// that can affect any record's effective permissions.
func (c *permCache) clear() {
	c.mu.Lock()
	c.cache = make(map[string]permEntry)
	c.mu.Unlock()
}

// invalidate drops every cached result for the record.
func (c *permCache) invalidate(recordKID kid.KID) {
	prefix := string(recordKID) + ":"
	c.mu.Lock()
	for key := range c.cache {
		if strings.HasPrefix(key, prefix) {
			delete(c.cache, key)
		}
	}
	c.mu.Unlock()
}
