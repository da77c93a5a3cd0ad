// Package vfs defines the Virtual File System abstraction the storage
// manager core is built against.
//
// The storage manager never talks to a filesystem, an object store, or a
// KV-embedded store directly: every path, directory listing, read, write,
// and lock goes through this interface. That keeps the concurrency and
// lifecycle logic in pkg/sm free of any particular backend's quirks, and
// lets the same core run against local disk in production, an in-memory
// tree in tests, or object storage for cloud deployments.
package vfs

import (
	"context"
	"errors"
	"io"
)

// ErrNotExist is returned by Read, and by Ls on localfs and memvfs, when
// the target path does not exist.
var ErrNotExist = errors.New("vfs: path does not exist")

// ErrAlreadyExists names an already-existing target. No backend in this
// module returns it: CreateDir and Touch succeed on an existing path.
var ErrAlreadyExists = errors.New("vfs: path already exists")

// ErrUnsupportedScheme names a URI scheme no backend serves. No backend in
// this module returns it; pkg/sm reports an unsupported scheme with its own
// ErrInvalidURI code.
var ErrUnsupportedScheme = errors.New("vfs: unsupported URI scheme")

// DirEntry describes one child returned by Ls.
type DirEntry struct {
	// Name is the child's basename (no trailing slash).
	Name string
	// IsDir is true when the child is itself a directory.
	IsDir bool
}

// FileLockHandle is an opaque token returned by FilelockLock. Implementations
// may embed whatever bookkeeping they need; callers only ever pass it back
// to FilelockUnlock.
type FileLockHandle interface {
	// isFileLockHandle is unexported so only this package's backends can satisfy
	// the interface meaningfully; it exists purely to avoid `any`.
	isFileLockHandle()
}

// FileLockHandleBase must be embedded by every FileLockHandle implementation.
// isFileLockHandle is unexported, so only types embedding this package's own
// marker (as opposed to merely declaring a same-named method) satisfy the
// interface.
type FileLockHandleBase struct{}

func (FileLockHandleBase) isFileLockHandle() {}

// VFS is the storage manager's sole collaborator for file I/O, directory
// listing, and cross-process locking. spec.md §6 names the exact method
// set the core consumes; this interface is that set, generalized just
// enough to be backend-agnostic (scheme dispatch lives in
// pkg/smconfig.CreateVFS, which builds one backend from the configured
// scheme, not in this interface).
//
// Every method must be safe for concurrent use by multiple goroutines —
// the core shares one VFS instance across all open arrays.
type VFS interface {
	// SupportsURIScheme reports whether this backend can serve uri.
	SupportsURIScheme(uri string) bool

	// CreateDir creates a directory at uri, including any missing parents.
	// It is not an error if the directory already exists.
	CreateDir(ctx context.Context, uri string) error

	// IsDir reports whether uri names an existing directory.
	IsDir(ctx context.Context, uri string) (bool, error)

	// IsFile reports whether uri names an existing regular file.
	IsFile(ctx context.Context, uri string) (bool, error)

	// Ls lists the immediate children of the directory at uri. The order
	// is backend-defined; callers that need a deterministic order (the
	// fragment selector, object iteration) must sort explicitly.
	Ls(ctx context.Context, uri string) ([]DirEntry, error)

	// Touch creates an empty file at uri if it does not already exist.
	Touch(ctx context.Context, uri string) error

	// Read reads nbytes starting at offset from the file at uri.
	Read(ctx context.Context, uri string, offset int64, nbytes int) ([]byte, error)

	// Write appends buf to the file at uri, creating it if necessary.
	// Callers that need random-access writes should use WriteAt.
	Write(ctx context.Context, uri string, buf []byte) error

	// WriteAt writes buf at the given offset within the file at uri,
	// creating it if necessary and zero-filling any gap.
	WriteAt(ctx context.Context, uri string, offset int64, buf []byte) error

	// Sync flushes any buffered writes for uri to stable storage.
	Sync(ctx context.Context, uri string) error

	// CloseFile releases any backend-held resources (file descriptors,
	// upload sessions) associated with uri. Safe to call even if uri was
	// never opened explicitly by the caller.
	CloseFile(ctx context.Context, uri string) error

	// RemoveFile deletes the file at uri. Deleting a non-existent file is
	// not an error.
	RemoveFile(ctx context.Context, uri string) error

	// RemoveDir recursively deletes the directory at uri. Deleting a
	// non-existent directory is not an error.
	RemoveDir(ctx context.Context, uri string) error

	// MoveDir renames/moves the directory at oldURI to newURI.
	MoveDir(ctx context.Context, oldURI, newURI string) error

	// FilelockLock acquires a shared or exclusive advisory lock on uri.
	// It blocks until the lock is acquired or ctx is cancelled. The
	// returned handle must be passed to FilelockUnlock to release it.
	FilelockLock(ctx context.Context, uri string, shared bool) (FileLockHandle, error)

	// FilelockUnlock releases a lock previously acquired by FilelockLock.
	FilelockUnlock(ctx context.Context, handle FileLockHandle) error

	// CancelAllTasks instructs the backend to abort any outstanding
	// asynchronous I/O it has in flight (e.g., queued S3 multipart parts).
	// It must return only after all such I/O has been abandoned.
	CancelAllTasks(ctx context.Context) error

	// Terminate releases all backend resources (connections, file
	// descriptors, background goroutines). The VFS must not be used after
	// Terminate returns.
	Terminate(ctx context.Context) error
}

// SeekableReader names a random-access reader. Read returns a []byte in
// every backend, so no backend returns one, and pkg/sm never uses it.
type SeekableReader interface {
	io.ReaderAt
}
