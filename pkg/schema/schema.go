// Package schema loads and saves the array-schema envelope the storage
// manager core treats as an opaque, immutable-once-loaded blob. The schema
// format itself (tile/cell layout, dimension/attribute definitions) is
// deliberately out of scope; this package only owns the JSON envelope and
// its on-disk sentinel name, following the JSON-for-complex-types strategy
// the teacher's badger metadata store documents in serialization.go.
package schema

import (
	"context"
	"encoding/json"
	"fmt"
	"path"

	"github.com/marmos91/dittofs/pkg/vfs"
)

// ArrayKind distinguishes the two schema sentinel files the core probes
// for when determining an object's type.
type ArrayKind int

const (
	KindArray ArrayKind = iota
	KindKeyValue
)

// ArraySchemaFile and KVSchemaFile are the on-disk sentinel basenames; their
// mere presence in an array directory is also how the core's ObjectType
// probe distinguishes ARRAY from KEY_VALUE from GROUP.
const (
	ArraySchemaFile = "__array_schema.tdb"
	KVSchemaFile    = "__kv_schema.tdb"
)

// ArraySchema is the immutable-once-loaded schema borrowed by every reader
// of an OpenArray. Dimension/attribute/tile-layout detail is intentionally
// thin here: the storage manager core only needs to load, cache, and hand
// out this value, never interpret it.
type ArraySchema struct {
	Kind ArrayKind `json:"kind"`

	// Dimensions describes the array's domain, one entry per dimension.
	Dimensions []Dimension `json:"dimensions"`

	// Attributes describes the array's non-coordinate cell fields.
	Attributes []Attribute `json:"attributes"`

	// CellOrder and TileOrder name the iteration order tile/query layout
	// code uses; their meaning belongs to query execution, not this core.
	CellOrder string `json:"cell_order"`
	TileOrder string `json:"tile_order"`

	// EncryptionType records how fragments under this array are encrypted,
	// "" meaning unencrypted. The storage manager never interprets key
	// bytes itself; it only compares them for equality across opens.
	EncryptionType string `json:"encryption_type,omitempty"`
}

// Dimension is one axis of an array's domain.
type Dimension struct {
	Name      string `json:"name"`
	Type      string `json:"type"`
	LowBound  int64  `json:"low_bound"`
	HighBound int64  `json:"high_bound"`
	TileExtent int64 `json:"tile_extent"`
}

// Attribute is one non-coordinate cell field.
type Attribute struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable"`
}

func sentinelName(kind ArrayKind) string {
	if kind == KindKeyValue {
		return KVSchemaFile
	}
	return ArraySchemaFile
}

// Load reads and decodes the schema stored at <arrayURI>/<sentinel>. It is
// called at most once per OpenArray entry; callers are responsible for
// memoizing the result (the schema, once set, is never reloaded for the
// lifetime of the entry).
func Load(ctx context.Context, v vfs.VFS, arrayURI string, kind ArrayKind) (*ArraySchema, error) {
	uri := path.Join(arrayURI, sentinelName(kind))
	isFile, err := v.IsFile(ctx, uri)
	if err != nil {
		return nil, fmt.Errorf("schema: probe %q: %w", uri, err)
	}
	if !isFile {
		return nil, fmt.Errorf("schema: %w: %s", vfs.ErrNotExist, uri)
	}

	const maxSchemaBytes = 16 * 1024 * 1024
	raw, err := v.Read(ctx, uri, 0, maxSchemaBytes)
	if err != nil {
		return nil, fmt.Errorf("schema: read %q: %w", uri, err)
	}

	var s ArraySchema
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("schema: decode %q: %w", uri, err)
	}
	s.Kind = kind
	return &s, nil
}

// Save writes the schema to <arrayURI>/<sentinel>, creating the array
// directory if needed. Used by array creation, not by the read path.
func Save(ctx context.Context, v vfs.VFS, arrayURI string, s *ArraySchema) error {
	if err := v.CreateDir(ctx, arrayURI); err != nil {
		return fmt.Errorf("schema: create dir %q: %w", arrayURI, err)
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("schema: encode: %w", err)
	}
	uri := path.Join(arrayURI, sentinelName(s.Kind))
	if err := v.Write(ctx, uri, raw); err != nil {
		return fmt.Errorf("schema: write %q: %w", uri, err)
	}
	return nil
}
