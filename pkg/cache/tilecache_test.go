package cache_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittofs/pkg/cache"
)

func TestTileCacheInsertLookup(t *testing.T) {
	c := cache.New(1024)

	c.Insert("array/__frag/0.tdb", 0, []byte("tile-bytes"))
	got, ok := c.Lookup("array/__frag/0.tdb", 0)
	require.True(t, ok)
	require.Equal(t, "tile-bytes", string(got))

	_, ok = c.Lookup("array/__frag/0.tdb", 64)
	require.False(t, ok)
}

func TestTileCacheDisabledWhenZeroSize(t *testing.T) {
	c := cache.New(0)
	c.Insert("array/__frag/0.tdb", 0, []byte("tile-bytes"))
	_, ok := c.Lookup("array/__frag/0.tdb", 0)
	require.False(t, ok)
}

func TestTileCacheSkipsOversizedEntry(t *testing.T) {
	c := cache.New(4)
	c.Insert("array/__frag/0.tdb", 0, []byte("way too big for the cache"))
	_, ok := c.Lookup("array/__frag/0.tdb", 0)
	require.False(t, ok)
}

func TestTileCacheSkipsSchemaSentinels(t *testing.T) {
	c := cache.New(1024)
	c.Insert("array/__array_schema.tdb", 0, []byte("schema"))
	_, ok := c.Lookup("array/__array_schema.tdb", 0)
	require.False(t, ok)

	c.Insert("array/__fragment_metadata.tdb", 0, []byte("meta"))
	_, ok = c.Lookup("array/__fragment_metadata.tdb", 0)
	require.False(t, ok)
}

func TestTileCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c := cache.New(10)

	c.Insert("a", 0, []byte("01234"))
	c.Insert("b", 0, []byte("56789"))
	// Touch "a" so "b" becomes the LRU victim.
	c.Lookup("a", 0)

	c.Insert("c", 0, []byte("abcde"))

	_, aOK := c.Lookup("a", 0)
	_, bOK := c.Lookup("b", 0)
	_, cOK := c.Lookup("c", 0)
	require.True(t, aOK)
	require.False(t, bOK)
	require.True(t, cOK)
}

func TestTileCacheInvalidate(t *testing.T) {
	c := cache.New(1024)
	c.Insert("array/__frag/0.tdb", 0, []byte("a"))
	c.Insert("array/__frag/0.tdb", 8, []byte("b"))
	c.Insert("array/__frag/1.tdb", 0, []byte("c"))

	c.Invalidate("array/__frag/0.tdb")

	_, ok := c.Lookup("array/__frag/0.tdb", 0)
	require.False(t, ok)
	_, ok = c.Lookup("array/__frag/0.tdb", 8)
	require.False(t, ok)
	_, ok = c.Lookup("array/__frag/1.tdb", 0)
	require.True(t, ok)
}
