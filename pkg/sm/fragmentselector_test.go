package sm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittofs/pkg/fragment"
	"github.com/marmos91/dittofs/pkg/vfs/memvfs"
)

func TestListFragmentsSkipsHiddenAndNonFragmentDirs(t *testing.T) {
	ctx := context.Background()
	v := memvfs.New()

	require.NoError(t, fragment.Save(ctx, v, "arrays/a1/__cells_10", &fragment.Metadata{}))
	require.NoError(t, v.CreateDir(ctx, "arrays/a1/.hidden_99"))
	require.NoError(t, v.CreateDir(ctx, "arrays/a1/not_a_fragment"))

	infos, err := listFragments(ctx, v, "arrays/a1", 1000)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	require.Equal(t, "arrays/a1/__cells_10", infos[0].URI)
}

func TestListFragmentsFailsOnMalformedTimestamp(t *testing.T) {
	ctx := context.Background()
	v := memvfs.New()
	require.NoError(t, fragment.Save(ctx, v, "arrays/a1/__cells_notanumber", &fragment.Metadata{}))

	_, err := listFragments(ctx, v, "arrays/a1", 1000)
	require.Error(t, err)

	var smErr *Error
	require.ErrorAs(t, err, &smErr)
	require.Equal(t, ErrMalformedFragmentName, smErr.Code)
}

func TestParseFragmentTimestamp(t *testing.T) {
	ts, err := parseFragmentTimestamp("__cells_12345")
	require.NoError(t, err)
	require.Equal(t, uint64(12345), ts)

	_, err = parseFragmentTimestamp("noUnderscoreSuffix")
	require.Error(t, err)

	_, err = parseFragmentTimestamp("trailing_underscore_")
	require.Error(t, err)
}
