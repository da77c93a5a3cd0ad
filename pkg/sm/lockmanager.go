package sm

import (
	"context"
	"sync"

	"github.com/marmos91/dittofs/pkg/vfs"
)

// lockManager coordinates the global-exclusive / reader-drain protocol
// consolidation uses to take an array fully offline from intra-process
// readers before acquiring a cross-process exclusive filelock.
//
// Lock ordering, strictly enforced by call order in xlock: global
// exclusive mutex → reads-registry mutex → per-entry mutex → filelock.
// Every other path through the core only ever needs a prefix of this
// chain, which is what makes the full chain deadlock-free: nobody
// acquires a coarser lock while already holding a finer one.
type lockManager struct {
	// globalExclusive serializes xlock holders against each other: only
	// one exclusive-lock request is ever in flight across the whole
	// process at a time.
	globalExclusive sync.Mutex

	// cond guards and signals on the reads registry's emptiness for a
	// given URI; every close-for-reads broadcasts on it so a pending
	// xlock wakes as soon as the last reader leaves.
	cond *sync.Cond
	// condMu is cond's associated lock (sync.Cond requires a Locker; we
	// use it purely to serialize the drain-wait loop, not as a general
	// mutex).
	condMu sync.Mutex

	mu         sync.Mutex
	filelocks  map[string]vfs.FileLockHandle
}

func newLockManager() *lockManager {
	lm := &lockManager{filelocks: make(map[string]vfs.FileLockHandle)}
	lm.cond = sync.NewCond(&lm.condMu)
	return lm
}

// notifyReaderClosed wakes any xlock call waiting for an array's reader
// count to reach zero. CloseForReads, and the rollback of a failed
// OpenForReads, call it once an entry's ref count has reached zero and the
// entry has been removed from the reads registry.
func (lm *lockManager) notifyReaderClosed() {
	lm.condMu.Lock()
	lm.cond.Broadcast()
	lm.condMu.Unlock()
}

// xlock acquires the exclusive lock on uri: it blocks until no intra-
// process reader holds the array open, then takes a cross-process
// exclusive filelock via v. There is no timeout. The reader-drain wait
// checks ctx only when it is woken (by a reader's close or by
// cancelAllTasks's broadcast), so it ends early only if ctx has been
// cancelled by then; the broadcast by itself does not end it.
func (lm *lockManager) xlock(ctx context.Context, v vfs.VFS, reads *registry, uri string) error {
	lm.globalExclusive.Lock()

	lockfileURI := uri + "/__lockfile"

	lm.condMu.Lock()
	for reads.has(uri) {
		if err := ctx.Err(); err != nil {
			lm.condMu.Unlock()
			lm.globalExclusive.Unlock()
			return err
		}
		lm.cond.Wait()
	}
	lm.condMu.Unlock()

	handle, err := v.FilelockLock(ctx, lockfileURI, false)
	if err != nil {
		lm.globalExclusive.Unlock()
		return wrapError(ErrFilelockFailed, uri, err, "acquire exclusive filelock")
	}

	lm.mu.Lock()
	lm.filelocks[uri] = handle
	lm.mu.Unlock()

	return nil
}

// xunlock releases the exclusive lock previously acquired by xlock.
func (lm *lockManager) xunlock(ctx context.Context, v vfs.VFS, uri string) error {
	lm.mu.Lock()
	handle, ok := lm.filelocks[uri]
	if ok {
		delete(lm.filelocks, uri)
	}
	lm.mu.Unlock()

	if !ok {
		return newError(ErrNoLockHeld, uri, "xunlock called without a matching xlock")
	}

	lockfileURI := uri + "/__lockfile"
	err := v.FilelockUnlock(ctx, handle)
	lm.globalExclusive.Unlock()
	if err != nil {
		return wrapError(ErrFilelockFailed, uri, err, "release exclusive filelock at %s", lockfileURI)
	}
	return nil
}

// wakeAll is used by cancelAllTasks to unblock any reader-drain wait stuck
// on a cancelled context; sync.Cond.Wait itself doesn't observe context
// cancellation, so every waiter must be woken to re-check ctx.Err().
func (lm *lockManager) wakeAll() {
	lm.condMu.Lock()
	lm.cond.Broadcast()
	lm.condMu.Unlock()
}
