package badgervfs

import (
	"context"
	"fmt"
	"sync"

	"github.com/marmos91/dittofs/pkg/vfs"
)

// lockTable hands out per-path sync.RWMutex instances. BadgerDB is an
// embedded, single-process store, so there is no cross-process holder to
// coordinate with; an in-process reader/writer mutex gives FilelockLock the
// same shared/exclusive semantics the other backends expose, scoped to
// goroutines within this one process.
type lockTable struct {
	mu    sync.Mutex
	paths map[string]*sync.RWMutex
}

func newLockTable() *lockTable {
	return &lockTable{paths: make(map[string]*sync.RWMutex)}
}

func (t *lockTable) get(path string) *sync.RWMutex {
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.paths[path]
	if !ok {
		m = &sync.RWMutex{}
		t.paths[path] = m
	}
	return m
}

type lockHandle struct {
	vfs.FileLockHandleBase
	mu        *sync.RWMutex
	exclusive bool
}

// FilelockLock blocks until the lock is acquired or ctx is cancelled. Since
// sync.RWMutex has no context-aware Lock, acquisition happens on a separate
// goroutine so a cancelled ctx can still return promptly; the goroutine's
// eventual lock acquisition is then immediately released to avoid leaking a
// held lock nobody will ever unlock.
func (v *VFS) FilelockLock(ctx context.Context, uri string, shared bool) (vfs.FileLockHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mu := v.locks.get(clean(uri))

	acquired := make(chan struct{})
	go func() {
		if shared {
			mu.RLock()
		} else {
			mu.Lock()
		}
		close(acquired)
	}()

	select {
	case <-acquired:
		return &lockHandle{mu: mu, exclusive: !shared}, nil
	case <-ctx.Done():
		go func() {
			<-acquired
			if shared {
				mu.RUnlock()
			} else {
				mu.Unlock()
			}
		}()
		return nil, ctx.Err()
	}
}

func (v *VFS) FilelockUnlock(ctx context.Context, handle vfs.FileLockHandle) error {
	h, ok := handle.(*lockHandle)
	if !ok {
		return fmt.Errorf("badgervfs: foreign filelock handle %T", handle)
	}
	if h.exclusive {
		h.mu.Unlock()
	} else {
		h.mu.RUnlock()
	}
	return nil
}
