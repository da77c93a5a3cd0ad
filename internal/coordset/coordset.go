// Package coordset is a process-global registry of live storage-manager
// coordinators, so a single signal handler can reach every one of them
// at shutdown without each caller threading a reference through main.
package coordset

import (
	"context"
	"sync"
)

// Coordinator is the subset of pkg/sm.StorageManager that coordinated
// shutdown needs: stop accepting new async work, drain what's running,
// then release backing resources. Defined here rather than imported from
// pkg/sm so this package stays dependency-free and pkg/sm never needs to
// know this registry exists.
type Coordinator interface {
	CancelAllTasks(ctx context.Context) error
	Close(ctx context.Context) error
}

var global = &set{coordinators: make(map[string]Coordinator)}

type set struct {
	mu           sync.RWMutex
	coordinators map[string]Coordinator
}

// Register adds a coordinator under name, replacing any previous entry
// registered under the same name.
func Register(name string, c Coordinator) {
	global.mu.Lock()
	defer global.mu.Unlock()
	global.coordinators[name] = c
}

// Unregister removes a coordinator. Safe to call on a name that was
// never registered.
func Unregister(name string) {
	global.mu.Lock()
	defer global.mu.Unlock()
	delete(global.coordinators, name)
}

// Names returns the names of every currently registered coordinator, in
// no particular order.
func Names() []string {
	global.mu.RLock()
	defer global.mu.RUnlock()

	names := make([]string, 0, len(global.coordinators))
	for name := range global.coordinators {
		names = append(names, name)
	}
	return names
}

// ShutdownAll calls CancelAllTasks then Close on every registered
// coordinator. It collects and returns the first error encountered but
// still attempts every coordinator rather than stopping at the first
// failure, so one stuck array doesn't block the others from shutting
// down cleanly.
func ShutdownAll(ctx context.Context) error {
	global.mu.Lock()
	coordinators := make(map[string]Coordinator, len(global.coordinators))
	for name, c := range global.coordinators {
		coordinators[name] = c
	}
	global.mu.Unlock()

	var firstErr error
	for name, c := range coordinators {
		if err := c.CancelAllTasks(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := c.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
		Unregister(name)
	}
	return firstErr
}
