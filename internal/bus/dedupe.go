package bus

import (
	"sync"
	"time"
)

// DedupeCache remembers keys for a TTL, bounded to max entries.
type DedupeCache struct {
	ttl time.Duration
	max int
	now func() time.Time

	mu   sync.Mutex
	seen map[string]time.Time
}

// NewDedupeCache returns a cache that forgets keys after ttl and never
// holds more than max of them.
func NewDedupeCache(ttl time.Duration, max int) *DedupeCache {
	return &DedupeCache{ttl: ttl, max: max, now: time.Now, seen: make(map[string]time.Time)}
}

// Seen reports whether key was recorded within the TTL, recording it
// when it was not.
func (c *DedupeCache) Seen(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if at, ok := c.seen[key]; ok && now.Sub(at) < c.ttl {
		return true
	}
	if len(c.seen) >= c.max {
		c.evict(now)
	}
	c.seen[key] = now
	return false
}

// evict drops expired keys, then the oldest one if still full.
func (c *DedupeCache) evict(now time.Time) {
	var oldestKey string
	var oldest time.Time
	for k, at := range c.seen {
		if now.Sub(at) >= c.ttl {
			delete(c.seen, k)
			continue
		}
		if oldestKey == "" || at.Before(oldest) {
			oldestKey, oldest = k, at
		}
	}
	if len(c.seen) >= c.max && oldestKey != "" {
		delete(c.seen, oldestKey)
	}
}

// Len returns the number of remembered keys.
func (c *DedupeCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}
