package scheduler

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// cacheEntry is one cached read result, weighed by its byte length for the
// cache's total-bytes budget and stamped with its insertion time for the
// TTL check in Get.
type cacheEntry struct {
	value     []byte
	size      int
	insertedAt time.Time
}

// ReadCache is a bounded, TTL'd cache of recently read byte ranges, keyed
// the same way as ReadDedup (ino, offset, size). It bounds itself on two
// axes at once: entry count (via the underlying LRU) and total bytes (via
// an explicit running counter that evicts the oldest entries once exceeded).
type ReadCache struct {
	mu         sync.Mutex
	lru        *lru.Cache[string, *cacheEntry]
	ttl        time.Duration
	maxBytes   int64
	usedBytes  int64
}

// NewReadCache builds a ReadCache bounded by maxEntries, maxBytes and ttl.
func NewReadCache(maxEntries int, maxBytes int64, ttl time.Duration) (*ReadCache, error) {
	c := &ReadCache{ttl: ttl, maxBytes: maxBytes}
	l, err := lru.NewWithEvict[string, *cacheEntry](maxEntries, func(_ string, v *cacheEntry) {
		c.usedBytes -= int64(v.size)
	})
	if err != nil {
		return nil, err
	}
	c.lru = l
	return c, nil
}

// Get returns the cached value for key if present and not yet past its
// TTL. A stale hit is treated as a miss and evicted.
func (c *ReadCache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.lru.Get(key)
	if !ok {
		return nil, false
	}
	if time.Since(entry.insertedAt) > c.ttl {
		c.lru.Remove(key)
		return nil, false
	}
	return entry.value, true
}

// Put inserts value under key, evicting the least-recently-used entries
// first if the total-bytes budget would otherwise be exceeded.
func (c *ReadCache) Put(key string, value []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	size := len(value)
	if int64(size) > c.maxBytes {
		// A single read larger than the whole cache budget is never cached.
		return
	}
	// Add on an existing key replaces the value without running the evict
	// callback, so drop any previous entry first to keep usedBytes honest.
	c.lru.Remove(key)
	c.lru.Add(key, &cacheEntry{value: value, size: size, insertedAt: time.Now()})
	c.usedBytes += int64(size)

	for c.usedBytes > c.maxBytes {
		if _, _, ok := c.lru.RemoveOldest(); !ok {
			break
		}
	}
}

// Invalidate drops key from the cache, used when a write or truncate makes
// a previously cached range stale.
func (c *ReadCache) Invalidate(key string) {
	c.mu.Lock()
	c.lru.Remove(key)
	c.mu.Unlock()
}

// Len returns the current entry count, for snapshots.
func (c *ReadCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Bytes returns the current weighted byte total held by the cache.
func (c *ReadCache) Bytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.usedBytes
}
