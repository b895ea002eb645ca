package application

import (
	"sync"
	"time"
)

// summaryCache keeps recently served public summaries. Completed sessions never change,
// so an entry only has to respect its own ttl and the token's expiry.
type summaryCache struct {
	mu         sync.RWMutex
	now        func() time.Time
	ttl        time.Duration
	maxEntries int
	entries    map[string]summaryCacheEntry
}

type summaryCacheEntry struct {
	summary   PublicSummary
	expiresAt time.Time
}

func newSummaryCache(ttl time.Duration, maxEntries int, now func() time.Time) *summaryCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if maxEntries <= 0 {
		maxEntries = 256
	}
	if now == nil {
		now = time.Now
	}
	return &summaryCache{
		now:        now,
		ttl:        ttl,
		maxEntries: maxEntries,
		entries:    make(map[string]summaryCacheEntry),
	}
}

func (c *summaryCache) Get(token string) (PublicSummary, bool) {
	if c == nil {
		return PublicSummary{}, false
	}
	c.mu.RLock()
	entry, ok := c.entries[token]
	c.mu.RUnlock()
	if !ok {
		return PublicSummary{}, false
	}
	if !c.now().Before(entry.expiresAt) {
		c.mu.Lock()
		delete(c.entries, token)
		c.mu.Unlock()
		return PublicSummary{}, false
	}
	return cloneSummary(entry.summary), true
}

func (c *summaryCache) Store(token string, summary PublicSummary) {
	if c == nil {
		return
	}
	expiry := c.now().Add(c.ttl)
	if !summary.ExpiresAt.IsZero() && summary.ExpiresAt.Before(expiry) {
		expiry = summary.ExpiresAt
	}
	cloned := cloneSummary(summary)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.cleanupLocked()
	if len(c.entries) >= c.maxEntries {
		c.evictOneLocked()
	}
	c.entries[token] = summaryCacheEntry{summary: cloned, expiresAt: expiry}
}

func (c *summaryCache) cleanupLocked() {
	now := c.now()
	for key, entry := range c.entries {
		if !now.Before(entry.expiresAt) {
			delete(c.entries, key)
		}
	}
}

func (c *summaryCache) evictOneLocked() {
	for key := range c.entries {
		delete(c.entries, key)
		return
	}
}

func cloneSummary(summary PublicSummary) PublicSummary {
	if len(summary.Events) > 0 {
		events := make([]PublicEvent, len(summary.Events))
		copy(events, summary.Events)
		summary.Events = events
	}
	return summary
}
