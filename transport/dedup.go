package transport

import (
	"sync"
	"time"
)

// dedupCache remembers message IDs for a bounded window so redelivered
// envelopes are absorbed exactly once.
type dedupCache struct {
	mu     sync.Mutex
	seen   map[string]time.Time
	window time.Duration
	now    func() time.Time
}

func newDedupCache(window time.Duration, now func() time.Time) *dedupCache {
	return &dedupCache{
		seen:   make(map[string]time.Time),
		window: window,
		now:    now,
	}
}

// observe records the ID and reports whether it was already seen inside the
// window. Expired entries are reaped opportunistically.
func (c *dedupCache) observe(id string) bool {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()

	if at, ok := c.seen[id]; ok && now.Sub(at) < c.window {
		return true
	}
	c.seen[id] = now

	if len(c.seen)%1024 == 0 {
		for k, at := range c.seen {
			if now.Sub(at) >= c.window {
				delete(c.seen, k)
			}
		}
	}
	return false
}
