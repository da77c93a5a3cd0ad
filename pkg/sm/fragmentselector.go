package sm

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/marmos91/dittofs/pkg/fragment"
	"github.com/marmos91/dittofs/pkg/vfs"
)

// FragmentInfo is the boundary-visible record callers can pass back into
// openForReads to skip enumeration (e.g. from a previous listFragments
// call), or that listFragments itself produces.
type FragmentInfo struct {
	URI                  string
	Sparse               bool
	Timestamp            uint64
	SizeBytes            int64
	NonEmptyDomainBytes  []byte
}

// listFragments enumerates arrayURI's children via v, keeping only those
// that are fragments (probed by __fragment_metadata.tdb presence) with a
// parseable trailing _<timestamp> suffix not exceeding snapshot, sorted
// ascending by (timestamp, uri) so that repeated opens at the same
// snapshot always return the same order regardless of the backend's
// listing order.
func listFragments(ctx context.Context, v vfs.VFS, arrayURI string, snapshot uint64) ([]FragmentInfo, error) {
	entries, err := v.Ls(ctx, arrayURI)
	if err != nil {
		return nil, wrapError(ErrInvalidURI, arrayURI, err, "list array directory")
	}

	var out []FragmentInfo
	for _, e := range entries {
		if !e.IsDir {
			continue
		}
		if strings.HasPrefix(e.Name, ".") {
			continue
		}

		childURI := arrayURI + "/" + e.Name
		isFrag, err := fragment.IsFragment(ctx, v, childURI)
		if err != nil {
			return nil, wrapError(ErrFragmentLoadFailed, childURI, err, "probe fragment sentinel")
		}
		if !isFrag {
			continue
		}

		ts, err := parseFragmentTimestamp(e.Name)
		if err != nil {
			return nil, wrapError(ErrMalformedFragmentName, childURI, err, "parse fragment timestamp suffix")
		}
		if ts > snapshot {
			continue
		}

		out = append(out, FragmentInfo{URI: childURI, Timestamp: ts})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp != out[j].Timestamp {
			return out[i].Timestamp < out[j].Timestamp
		}
		return out[i].URI < out[j].URI
	})
	return out, nil
}

// parseFragmentTimestamp extracts the trailing decimal-uint64 suffix after
// the last underscore in a fragment directory's basename, e.g.
// "__cells_1700000000" → 1700000000.
func parseFragmentTimestamp(basename string) (uint64, error) {
	idx := strings.LastIndexByte(basename, '_')
	if idx < 0 || idx == len(basename)-1 {
		return 0, fmt.Errorf("%q has no trailing _<timestamp> suffix", basename)
	}
	return strconv.ParseUint(basename[idx+1:], 10, 64)
}
