package sm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittofs/pkg/cache"
	"github.com/marmos91/dittofs/pkg/vfs/memvfs"
)

func TestReadFromCachePopulatesOnMiss(t *testing.T) {
	ctx := context.Background()
	v := memvfs.New()
	require.NoError(t, v.Write(ctx, "arrays/a1/__frag/0.tdb", []byte("tile-data")))

	c := cache.New(1024)

	got, err := readFromCache(ctx, v, c, "arrays/a1/__frag/0.tdb", 0, 9)
	require.NoError(t, err)
	require.Equal(t, "tile-data", string(got))

	cached, ok := c.Lookup("arrays/a1/__frag/0.tdb", 0)
	require.True(t, ok)
	require.Equal(t, "tile-data", string(cached))
}

func TestReadFromCacheHitsWithoutTouchingVFS(t *testing.T) {
	ctx := context.Background()
	v := memvfs.New()
	c := cache.New(1024)

	writeToCache(c, "arrays/a1/__frag/0.tdb", 0, []byte("cached-bytes"))

	got, err := readFromCache(ctx, v, c, "arrays/a1/__frag/0.tdb", 0, 12)
	require.NoError(t, err)
	require.Equal(t, "cached-bytes", string(got))
}
