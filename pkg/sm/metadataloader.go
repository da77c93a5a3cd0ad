package sm

import (
	"context"

	"github.com/sourcegraph/conc/pool"

	"github.com/marmos91/dittofs/pkg/fragment"
	"github.com/marmos91/dittofs/pkg/vfs"
)

// loadFragmentMetadata loads metadata for every fragment in infos, reusing
// whatever's already memoized on entry and loading the rest in parallel
// across a worker pool. The caller holds entry.mtx for the duration of the
// whole fragment-loading step (per openForReads/reopen's protocol);
// concurrent insertion into entry's memo map is guarded separately by
// entry.fragMu so the parallel workers spawned here don't need to
// reacquire the already-held entry.mtx.
//
// Error policy: the first error from any parallel load is returned;
// fragments that did load successfully before the failure remain
// memoized, so a retried open only needs to load what's left.
func loadFragmentMetadata(ctx context.Context, v vfs.VFS, entry *OpenArray, infos []FragmentInfo, encryptionKey []byte, maxParallel int) ([]*fragment.Metadata, error) {
	out := make([]*fragment.Metadata, len(infos))

	type work struct {
		idx int
		fi  FragmentInfo
	}
	var pending []work
	for i, fi := range infos {
		if m, ok := entry.memoizedFragment(fi.URI); ok {
			out[i] = m
			continue
		}
		pending = append(pending, work{idx: i, fi: fi})
	}
	if len(pending) == 0 {
		return out, nil
	}

	base := pool.New()
	if maxParallel > 0 {
		base = base.WithMaxGoroutines(maxParallel)
	}
	p := base.WithErrors().WithContext(ctx).WithCancelOnError().WithFirstError()

	for _, w := range pending {
		w := w
		p.Go(func(ctx context.Context) error {
			m, err := fragment.Load(ctx, v, w.fi.URI, w.fi.Timestamp, encryptionKey)
			if err != nil {
				return wrapError(ErrFragmentLoadFailed, w.fi.URI, err, "load fragment metadata")
			}

			entry.memoizeFragment(w.fi.URI, m)
			out[w.idx] = m
			return nil
		})
	}

	if err := p.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
