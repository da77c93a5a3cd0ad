package fragment_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittofs/pkg/fragment"
	"github.com/marmos91/dittofs/pkg/vfs/memvfs"
)

func TestSaveLoadDenseFragment(t *testing.T) {
	ctx := context.Background()
	v := memvfs.New()

	m := &fragment.Metadata{
		NonEmptyDomain:    []byte{1, 2, 3, 4},
		FragmentSizeBytes: 4096,
	}
	require.NoError(t, fragment.Save(ctx, v, "arrays/a1/__frag_100", m))

	isFrag, err := fragment.IsFragment(ctx, v, "arrays/a1/__frag_100")
	require.NoError(t, err)
	require.True(t, isFrag)

	loaded, err := fragment.Load(ctx, v, "arrays/a1/__frag_100", 100, nil)
	require.NoError(t, err)
	require.False(t, loaded.Sparse)
	require.Equal(t, uint64(100), loaded.Timestamp)
	require.Equal(t, int64(4096), loaded.FragmentSize())
}

func TestSaveLoadSparseFragment(t *testing.T) {
	ctx := context.Background()
	v := memvfs.New()

	m := &fragment.Metadata{Sparse: true, FragmentSizeBytes: 10}
	require.NoError(t, fragment.Save(ctx, v, "arrays/a1/__frag_5", m))

	loaded, err := fragment.Load(ctx, v, "arrays/a1/__frag_5", 5, nil)
	require.NoError(t, err)
	require.True(t, loaded.Sparse)
}

func TestIsFragmentFalseForPlainDirectory(t *testing.T) {
	ctx := context.Background()
	v := memvfs.New()
	require.NoError(t, v.CreateDir(ctx, "arrays/a1/not_a_fragment"))

	isFrag, err := fragment.IsFragment(ctx, v, "arrays/a1/not_a_fragment")
	require.NoError(t, err)
	require.False(t, isFrag)
}

func TestAddEstReadBufferSizesAccumulates(t *testing.T) {
	m1 := &fragment.Metadata{FragmentSizeBytes: 100}
	m2 := &fragment.Metadata{FragmentSizeBytes: 250}

	totals := map[string]int64{}
	m1.AddEstReadBufferSizes(totals)
	m2.AddEstReadBufferSizes(totals)

	require.Equal(t, int64(350), totals["__total__"])
}
