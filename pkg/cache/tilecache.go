// Package cache implements the storage manager's tile-byte cache: an
// in-memory LRU keyed by (uri, offset) that sits in front of every VFS read,
// following the same container/list LRU the teacher uses for directory
// listings (see pkg/metadata/cache), generalized here to arbitrary byte
// ranges instead of directory entries.
package cache

import (
	"container/list"
	"fmt"
	"sync"

	"github.com/marmos91/dittofs/internal/logger"
)

// skippedBasenames are never inserted into the cache: their metadata is
// already cached at the OpenArray level (array/fragment metadata is loaded
// once and held for the lifetime of the open array), so caching the raw
// bytes too would waste cache budget on data that's already pinned.
var skippedBasenames = map[string]bool{
	"__array_schema.tdb":      true,
	"__kv_schema.tdb":         true,
	"__fragment_metadata.tdb": true,
}

type entry struct {
	key     string
	data    []byte
	lruNode *list.Element
}

// TileCache is an LRU cache of tile byte ranges, bounded by total bytes
// rather than entry count: the storage manager's tiles vary wildly in size,
// so a count-based bound would let a handful of huge tiles starve the
// cache while a count-free byte bound degrades gracefully.
//
// Thread Safety: all operations are protected by a single mutex. The cache
// is shared by every reader goroutine across every open array, matching
// spec.md's requirement that the tile cache and VFS be shared, thread-safe
// collaborators.
type TileCache struct {
	mu sync.Mutex

	maxSize  int64
	curSize  int64
	entries  map[string]*entry
	lruList  *list.List

	hits   uint64
	misses uint64
}

// New creates a tile cache bounded to maxSizeBytes total resident bytes.
// maxSizeBytes of 0 disables the cache: Lookup always misses and Insert is
// always a no-op, which callers use to turn caching off entirely via
// config without special-casing the call sites.
func New(maxSizeBytes int64) *TileCache {
	return &TileCache{
		maxSize: maxSizeBytes,
		entries: make(map[string]*entry),
		lruList: list.New(),
	}
}

func key(uri string, offset int64) string {
	return fmt.Sprintf("%s+%d", uri, offset)
}

// Lookup returns the cached bytes for (uri, offset), if present. The
// returned slice is a copy; callers may mutate it freely.
func (c *TileCache) Lookup(uri string, offset int64) ([]byte, bool) {
	if c.maxSize == 0 {
		return nil, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key(uri, offset)]
	if !ok {
		c.misses++
		return nil, false
	}
	c.hits++
	c.lruList.MoveToFront(e.lruNode)
	out := make([]byte, len(e.data))
	copy(out, e.data)
	return out, true
}

// Insert stores buf under (uri, offset), evicting least-recently-used
// entries until the cache fits within maxSize. It silently skips insertion
// when buf exceeds maxSize outright (a single tile that large would evict
// everything else for a read that's probably a one-shot anyway) or when
// uri's basename is one of the schema/metadata sentinels already held at
// the OpenArray level.
func (c *TileCache) Insert(uri string, offset int64, buf []byte) {
	if c.maxSize == 0 || int64(len(buf)) > c.maxSize {
		return
	}
	if skippedBasenames[basename(uri)] {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	k := key(uri, offset)
	if existing, ok := c.entries[k]; ok {
		c.curSize -= int64(len(existing.data))
		c.lruList.Remove(existing.lruNode)
		delete(c.entries, k)
	}

	stored := make([]byte, len(buf))
	copy(stored, buf)

	for c.curSize+int64(len(stored)) > c.maxSize && c.lruList.Len() > 0 {
		c.evictOldest()
	}

	node := c.lruList.PushFront(k)
	c.entries[k] = &entry{key: k, data: stored, lruNode: node}
	c.curSize += int64(len(stored))
}

func (c *TileCache) evictOldest() {
	back := c.lruList.Back()
	if back == nil {
		return
	}
	k := back.Value.(string)
	e := c.entries[k]
	c.curSize -= int64(len(e.data))
	delete(c.entries, k)
	c.lruList.Remove(back)
}

// Invalidate drops every cached entry for uri (all offsets), used when a
// fragment is deleted or overwritten out from under the cache.
func (c *TileCache) Invalidate(uri string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prefix := uri + "+"
	var dead []*list.Element
	for k, e := range c.entries {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			dead = append(dead, e.lruNode)
			c.curSize -= int64(len(e.data))
			delete(c.entries, k)
		}
	}
	for _, n := range dead {
		c.lruList.Remove(n)
	}
}

// Stats reports cumulative hit/miss counters, for logging at shutdown the
// way the teacher logs its directory-cache hit rate.
func (c *TileCache) Stats() (hits, misses uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

func (c *TileCache) LogStats() {
	hits, misses := c.Stats()
	total := hits + misses
	if total == 0 {
		return
	}
	logger.Info("tile cache: %d hits, %d misses (%.1f%% hit rate)",
		hits, misses, 100*float64(hits)/float64(total))
}

func basename(uri string) string {
	for i := len(uri) - 1; i >= 0; i-- {
		if uri[i] == '/' {
			return uri[i+1:]
		}
	}
	return uri
}
