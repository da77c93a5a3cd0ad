// Package fragment implements FragmentMetadata: the per-fragment sidecar
// the storage manager's metadata loader (§4.4) loads in parallel and
// memoizes on each OpenArray entry. The tile-level contents of a fragment
// are out of scope here (query execution owns that); this package owns
// only the sentinel probe, the JSON envelope, and the two accessors the
// core's metadata loader contract names.
package fragment

import (
	"context"
	"encoding/json"
	"fmt"
	"path"

	"github.com/marmos91/dittofs/pkg/vfs"
)

// CoordsFile's presence distinguishes a sparse fragment (has explicit
// coordinate tiles) from dense (coordinates are implicit from the domain).
// MetadataFile's presence is what makes a directory a fragment at all —
// the fragment selector (§4.3) probes for exactly this file.
const (
	MetadataFile = "__fragment_metadata.tdb"
	CoordsFile   = "__coords.tdb"
)

// Metadata is the loaded, immutable-once-read sidecar for one fragment.
type Metadata struct {
	URI       string `json:"-"`
	Sparse    bool   `json:"sparse"`
	Timestamp uint64 `json:"timestamp"`

	// NonEmptyDomain bounds the cells this fragment actually wrote, per
	// dimension, serialized as opaque bytes (domain encoding belongs to
	// query execution, not this package).
	NonEmptyDomain []byte `json:"non_empty_domain"`

	// FragmentSizeBytes is the total on-disk size of the fragment's tile
	// data, used by query execution for read-buffer-size estimation.
	FragmentSizeBytes int64 `json:"fragment_size_bytes"`
}

// IsFragment reports whether dirURI names a fragment directory, per the
// same sentinel probe the fragment selector uses.
func IsFragment(ctx context.Context, v vfs.VFS, dirURI string) (bool, error) {
	return v.IsFile(ctx, path.Join(dirURI, MetadataFile))
}

// Load reads and decodes a fragment's metadata sidecar, detecting
// sparse-vs-dense from the presence of __coords.tdb. encryptionKey is
// accepted for interface symmetry with the schema loader and future
// encrypted-fragment support; the JSON envelope itself is not yet
// encrypted, matching the out-of-scope tile-encoding boundary in spec.md.
func Load(ctx context.Context, v vfs.VFS, fragmentURI string, timestamp uint64, encryptionKey []byte) (*Metadata, error) {
	sparse, err := v.IsFile(ctx, path.Join(fragmentURI, CoordsFile))
	if err != nil {
		return nil, fmt.Errorf("fragment: probe coords for %q: %w", fragmentURI, err)
	}

	metaURI := path.Join(fragmentURI, MetadataFile)
	const maxMetadataBytes = 64 * 1024 * 1024
	raw, err := v.Read(ctx, metaURI, 0, maxMetadataBytes)
	if err != nil {
		return nil, fmt.Errorf("fragment: read %q: %w", metaURI, err)
	}

	var m Metadata
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("fragment: decode %q: %w", metaURI, err)
		}
	}
	m.URI = fragmentURI
	m.Sparse = sparse
	m.Timestamp = timestamp
	return &m, nil
}

// Save writes a fragment's metadata sidecar, used by the write path once
// consolidation or a flush has produced one.
func Save(ctx context.Context, v vfs.VFS, fragmentURI string, m *Metadata) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("fragment: encode: %w", err)
	}
	metaURI := path.Join(fragmentURI, MetadataFile)
	if err := v.Write(ctx, metaURI, raw); err != nil {
		return fmt.Errorf("fragment: write %q: %w", metaURI, err)
	}
	if m.Sparse {
		if err := v.Touch(ctx, path.Join(fragmentURI, CoordsFile)); err != nil {
			return fmt.Errorf("fragment: touch coords marker: %w", err)
		}
	}
	return nil
}

// NonEmptyDomainBytes returns the fragment's recorded domain bounds.
func (m *Metadata) NonEmptyDomainBytes() []byte { return m.NonEmptyDomain }

// FragmentSize returns the fragment's recorded on-disk size.
func (m *Metadata) FragmentSize() int64 { return m.FragmentSizeBytes }

// AddEstReadBufferSizes is a placeholder accumulation hook for query
// execution's read-buffer-size estimation pass; the estimation algorithm
// itself belongs to that out-of-scope component, so this only folds this
// fragment's size into the running totals the caller maintains.
func (m *Metadata) AddEstReadBufferSizes(totals map[string]int64) {
	totals["__total__"] += m.FragmentSizeBytes
}
