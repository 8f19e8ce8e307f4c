// Package urlutil provides URL validation, normalization, and domain
// extraction shared by the scheduler, filters, and link processor.
package urlutil

import (
	"container/list"
	"net/url"
	"sync"
)

// parseCache is a bounded LRU cache over url.Parse results; crawls
// resolve and validate the same URLs repeatedly, so parses are worth
// memoizing.
type parseCache struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]*list.Element
	order    *list.List // front = most recently used
}

type parseCacheEntry struct {
	key    string
	parsed *url.URL
	err    error
}

func newParseCache(capacity int) *parseCache {
	return &parseCache{
		capacity: capacity,
		entries:  make(map[string]*list.Element, capacity),
		order:    list.New(),
	}
}

func (c *parseCache) get(raw string) (*url.URL, error, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[raw]; ok {
		c.order.MoveToFront(el)
		entry := el.Value.(*parseCacheEntry)
		return entry.parsed, entry.err, true
	}
	return nil, nil, false
}

func (c *parseCache) put(raw string, parsed *url.URL, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[raw]; ok {
		c.order.MoveToFront(el)
		el.Value.(*parseCacheEntry).parsed = parsed
		el.Value.(*parseCacheEntry).err = err
		return
	}

	el := c.order.PushFront(&parseCacheEntry{key: raw, parsed: parsed, err: err})
	c.entries[raw] = el

	for c.order.Len() > c.capacity {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*parseCacheEntry).key)
	}
}

// defaultCacheSize caps memory at a few MB for a typical crawl's URL set.
const defaultCacheSize = 50000

var globalParseCache = newParseCache(defaultCacheSize)

func cachedParse(raw string) (*url.URL, error) {
	if parsed, err, ok := globalParseCache.get(raw); ok {
		return parsed, err
	}
	parsed, err := url.Parse(raw)
	globalParseCache.put(raw, parsed, err)
	return parsed, err
}
