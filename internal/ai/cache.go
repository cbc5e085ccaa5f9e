package ai

import (
	"strings"
	"sync"
	"time"
)

type cacheEntry struct {
	est     Estimate
	expires time.Time
}

// estimateCache is a TTL cache keyed by (user, normalized text).
type estimateCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]cacheEntry
}

func newEstimateCache(ttl time.Duration) *estimateCache {
	if ttl <= 0 {
		return nil
	}
	return &estimateCache{ttl: ttl, now: time.Now, entries: make(map[string]cacheEntry)}
}

func cacheKey(req EstimateRequest) (string, bool) {
	if len(req.Image) > 0 {
		return "", false
	}
	text := strings.Join(strings.Fields(strings.ToLower(req.Text)), " ")
	if text == "" {
		return "", false
	}
	return strings.TrimSpace(req.UserID) + "|" + text, true
}

func (c *estimateCache) get(key string) (Estimate, bool) {
	if c == nil {
		return Estimate{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return Estimate{}, false
	}
	if c.now().After(e.expires) {
		delete(c.entries, key)
		return Estimate{}, false
	}
	return e.est, true
}

func (c *estimateCache) put(key string, est Estimate) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for k, e := range c.entries {
		if now.After(e.expires) {
			delete(c.entries, k)
		}
	}
	c.entries[key] = cacheEntry{est: est, expires: now.Add(c.ttl)}
}
