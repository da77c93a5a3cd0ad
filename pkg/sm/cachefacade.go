package sm

import (
	"context"

	"github.com/marmos91/dittofs/pkg/cache"
	"github.com/marmos91/dittofs/pkg/vfs"
)

// readFromCache checks the tile cache before falling through to the VFS,
// populating the cache on a miss. It is the sole read path every fragment
// reader should use once the storage manager owns both the VFS and the
// cache instance.
func readFromCache(ctx context.Context, v vfs.VFS, c *cache.TileCache, uri string, offset int64, nbytes int) ([]byte, error) {
	if cached, ok := c.Lookup(uri, offset); ok {
		if len(cached) >= nbytes {
			return cached[:nbytes], nil
		}
	}

	data, err := v.Read(ctx, uri, offset, nbytes)
	if err != nil {
		return nil, err
	}
	writeToCache(c, uri, offset, data)
	return data, nil
}

// writeToCache inserts buf into the tile cache, applying the skip rules
// §4.7 names: the cache's own Insert already enforces the size ceiling and
// the schema/fragment-metadata sentinel basenames, so this is a thin
// pass-through kept distinct for symmetry with readFromCache and as the
// one call site query execution is expected to use after a successful
// VFS write.
func writeToCache(c *cache.TileCache, uri string, offset int64, buf []byte) {
	c.Insert(uri, offset, buf)
}
