package nlp

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize is the response cache capacity when none is configured.
const DefaultCacheSize = 100

// ResponseCache maps request fingerprints to previously generated replies.
// It is bounded by entry count; the least recently used entry is evicted
// first and lookups refresh recency. Entries never expire by time.
//
// ResponseCache is safe for concurrent use.
type ResponseCache struct {
	entries *lru.Cache[Fingerprint, string]
	metrics *Metrics
}

// NewResponseCache creates a cache holding at most size entries. size <= 0
// selects DefaultCacheSize. metrics may be nil.
func NewResponseCache(size int, metrics *Metrics) (*ResponseCache, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	c := &ResponseCache{metrics: metrics}
	entries, err := lru.NewWithEvict[Fingerprint, string](size, func(Fingerprint, string) {
		c.metrics.cacheEviction()
	})
	if err != nil {
		return nil, fmt.Errorf("nlp: create response cache: %w", err)
	}
	c.entries = entries
	return c, nil
}

// Lookup returns the cached reply for fp and marks it most recently used.
func (c *ResponseCache) Lookup(fp Fingerprint) (string, bool) {
	v, ok := c.entries.Get(fp)
	if ok {
		c.metrics.cacheHit()
	} else {
		c.metrics.cacheMiss()
	}
	return v, ok
}

// Store records reply under fp, evicting the least recently used entry when
// full. Empty replies are not cached.
func (c *ResponseCache) Store(fp Fingerprint, reply string) {
	if reply == "" {
		return
	}
	c.entries.Add(fp, reply)
}

// Len returns the number of cached replies.
func (c *ResponseCache) Len() int {
	return c.entries.Len()
}
