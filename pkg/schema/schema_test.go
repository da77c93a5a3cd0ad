package schema_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittofs/pkg/schema"
	"github.com/marmos91/dittofs/pkg/vfs"
	"github.com/marmos91/dittofs/pkg/vfs/memvfs"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	v := memvfs.New()

	s := &schema.ArraySchema{
		Kind:       schema.KindArray,
		Dimensions: []schema.Dimension{{Name: "x", Type: "int64", LowBound: 0, HighBound: 99, TileExtent: 10}},
		Attributes: []schema.Attribute{{Name: "value", Type: "float64"}},
		CellOrder:  "row-major",
		TileOrder:  "row-major",
	}
	require.NoError(t, schema.Save(ctx, v, "arrays/a1", s))

	got, err := schema.Load(ctx, v, "arrays/a1", schema.KindArray)
	require.NoError(t, err)
	require.Equal(t, s.Dimensions, got.Dimensions)
	require.Equal(t, s.Attributes, got.Attributes)
	require.Equal(t, s.CellOrder, got.CellOrder)
}

func TestLoadMissingSchemaFails(t *testing.T) {
	ctx := context.Background()
	v := memvfs.New()

	_, err := schema.Load(ctx, v, "arrays/nope", schema.KindArray)
	require.Error(t, err)
	require.ErrorIs(t, err, vfs.ErrNotExist)
}

func TestKeyValueSchemaUsesDistinctSentinel(t *testing.T) {
	ctx := context.Background()
	v := memvfs.New()

	s := &schema.ArraySchema{Kind: schema.KindKeyValue}
	require.NoError(t, schema.Save(ctx, v, "arrays/kv1", s))

	isFile, err := v.IsFile(ctx, "arrays/kv1/"+schema.KVSchemaFile)
	require.NoError(t, err)
	require.True(t, isFile)

	_, err = schema.Load(ctx, v, "arrays/kv1", schema.KindArray)
	require.Error(t, err)
}
