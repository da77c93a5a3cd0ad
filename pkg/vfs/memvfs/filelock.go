package memvfs

import (
	"context"
	"fmt"
	"time"

	"github.com/marmos91/dittofs/pkg/vfs"
)

type lockHandle struct {
	vfs.FileLockHandleBase
	path      string
	exclusive bool
}

// FilelockLock simulates a shared/exclusive advisory lock within this
// process. There is no cross-process component: an exclusive hold blocks
// both further exclusive and further shared attempts from the same VFS
// instance, and shared holds stack, matching flock(2) semantics for a
// single contending process.
func (v *VFS) FilelockLock(ctx context.Context, uri string, shared bool) (vfs.FileLockHandle, error) {
	key := clean(uri)

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		v.lockMu.Lock()
		pl, ok := v.locks[key]
		if !ok {
			pl = &pathLock{}
			v.locks[key] = pl
		}

		if shared {
			if pl.tryRLock() {
				v.lockMu.Unlock()
				return &lockHandle{path: key, exclusive: false}, nil
			}
		} else {
			if pl.tryLock() {
				v.lockMu.Unlock()
				return &lockHandle{path: key, exclusive: true}, nil
			}
		}
		v.lockMu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
}

func (pl *pathLock) tryRLock() bool {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	if pl.readers < 0 {
		return false
	}
	pl.readers++
	return true
}

func (pl *pathLock) tryLock() bool {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	if pl.readers != 0 {
		return false
	}
	pl.readers = -1
	return true
}

func (v *VFS) FilelockUnlock(ctx context.Context, handle vfs.FileLockHandle) error {
	h, ok := handle.(*lockHandle)
	if !ok {
		return fmt.Errorf("memvfs: foreign filelock handle %T", handle)
	}

	v.lockMu.Lock()
	pl, ok := v.locks[h.path]
	v.lockMu.Unlock()
	if !ok {
		return fmt.Errorf("memvfs: no lock recorded for %q", h.path)
	}

	pl.mu.Lock()
	defer pl.mu.Unlock()
	if h.exclusive {
		pl.readers = 0
	} else {
		pl.readers--
	}
	return nil
}
