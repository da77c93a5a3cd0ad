package localfs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/marmos91/dittofs/pkg/vfs"
)

// lockHandle is the token localfs hands back from FilelockLock. It owns the
// open file descriptor the flock(2) hold is attached to; releasing it both
// unlocks and closes the fd.
type lockHandle struct {
	vfs.FileLockHandleBase
	file      *os.File
	exclusive bool
}

// intraProcessLocks serializes lock acquisition for the same path within
// this process. flock(2) is advisory per open file description: two fds in
// the same process opened separately don't contend with each other the way
// two processes would, so without this, two goroutines in one process could
// both "acquire" an exclusive lock on the same path. The registry mutex and
// per-entry mutex in pkg/sm already prevent this for the storage manager's
// own call pattern, but localfs is usable standalone, so it defends itself.
var intraProcessLocks sync.Map // map[string]*sync.RWMutex

func pathMutex(path string) *sync.RWMutex {
	v, _ := intraProcessLocks.LoadOrStore(path, &sync.RWMutex{})
	return v.(*sync.RWMutex)
}

// FilelockLock acquires a shared or exclusive flock(2) on uri. It first
// takes the in-process per-path mutex, a wait that does not observe ctx.
// flock itself has no cancellable wait, so it is then tried non-blocking
// on a short retry loop that returns ctx's error once ctx is cancelled.
func (f *VFS) FilelockLock(ctx context.Context, uri string, shared bool) (vfs.FileLockHandle, error) {
	p := f.path(uri)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return nil, err
	}

	mu := pathMutex(p)
	if shared {
		mu.RLock()
	} else {
		mu.Lock()
	}

	file, err := os.OpenFile(p, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		if shared {
			mu.RUnlock()
		} else {
			mu.Unlock()
		}
		return nil, fmt.Errorf("localfs: open lockfile %q: %w", p, err)
	}

	how := unix.LOCK_SH
	if !shared {
		how = unix.LOCK_EX
	}

	if err := flockWait(ctx, int(file.Fd()), how); err != nil {
		file.Close()
		if shared {
			mu.RUnlock()
		} else {
			mu.Unlock()
		}
		return nil, fmt.Errorf("localfs: flock %q: %w", p, err)
	}

	return &lockHandle{file: file, exclusive: !shared}, nil
}

// FilelockUnlock releases a lock acquired via FilelockLock.
func (f *VFS) FilelockUnlock(ctx context.Context, handle vfs.FileLockHandle) error {
	h, ok := handle.(*lockHandle)
	if !ok {
		return fmt.Errorf("localfs: foreign filelock handle %T", handle)
	}

	path := h.file.Name()
	err := unix.Flock(int(h.file.Fd()), unix.LOCK_UN)
	closeErr := h.file.Close()

	mu := pathMutex(path)
	// We don't know here whether the hold was shared or exclusive; RWMutex
	// requires releasing with the matching method. lockHandle records it.
	if h.exclusive {
		mu.Unlock()
	} else {
		mu.RUnlock()
	}

	if err != nil {
		return err
	}
	return closeErr
}

// flockWait retries a non-blocking flock attempt until it succeeds or ctx
// is cancelled, yielding between attempts so contended callers don't spin
// hot. Most real contention resolves on the first or second attempt since
// the in-process mutex above already serialized same-process callers.
func flockWait(ctx context.Context, fd int, how int) error {
	for {
		err := unix.Flock(fd, how|unix.LOCK_NB)
		if err == nil {
			return nil
		}
		if err != unix.EWOULDBLOCK {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(flockRetryInterval):
		}
	}
}

// flockRetryInterval is the poll interval while waiting for a contended
// flock(2) to clear. flock has no notify/wait primitive, so this is the
// usual way to make it cancellable.
const flockRetryInterval = 5 * time.Millisecond
