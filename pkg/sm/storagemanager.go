// Package sm implements the storage manager: the concurrency and
// lifecycle coordinator between client query objects and the VFS. See the
// package-level docs in each file for the specific protocol each piece
// implements; this file wires them into the single long-lived
// StorageManager object a client context owns.
package sm

import (
	"context"

	"github.com/marmos91/dittofs/internal/logger"
	"github.com/marmos91/dittofs/pkg/cache"
	"github.com/marmos91/dittofs/pkg/fragment"
	"github.com/marmos91/dittofs/pkg/schema"
	"github.com/marmos91/dittofs/pkg/vfs"
)

// Config sizes the storage manager's worker pools and tile cache. See
// pkg/smconfig for loading this from file/env with validation; this
// struct is the decoded, defaulted result that struct itself produces.
type Config struct {
	NumAsyncThreads  int
	NumReaderThreads int
	NumWriterThreads int
	TileCacheSize    int64
	// AsyncSubmitRatePerSecond bounds submit_async's admission rate; 0
	// disables rate limiting.
	AsyncSubmitRatePerSecond float64
}

// DefaultConfig mirrors the teacher's DefaultCacheConfig pattern: a
// production-sane default a caller can start from and override fields on.
func DefaultConfig() Config {
	return Config{
		NumAsyncThreads:  4,
		NumReaderThreads: 8,
		NumWriterThreads: 4,
		TileCacheSize:    64 * 1024 * 1024,
	}
}

// StorageManager is the single long-lived coordinator object a client
// context owns. It never outlives its VFS; Close stops the async gateway
// and terminates the VFS, and leaves open array entries, their shared
// filelocks and any exclusive filelocks as they are.
type StorageManager struct {
	vfs   vfs.VFS
	cache *cache.TileCache

	reads  *registry
	writes *registry

	lockMgr    *lockManager
	quiescence *quiescence
	gateway    *asyncGateway

	maxParallelFragmentLoads int
}

// New constructs a storage manager over v, sized per cfg.
func New(v vfs.VFS, cfg Config) *StorageManager {
	return &StorageManager{
		vfs:                      v,
		cache:                    cache.New(cfg.TileCacheSize),
		reads:                    newRegistry(),
		writes:                   newRegistry(),
		lockMgr:                  newLockManager(),
		quiescence:               newQuiescence(),
		gateway:                  newAsyncGateway(cfg.NumAsyncThreads, cfg.AsyncSubmitRatePerSecond),
		maxParallelFragmentLoads: cfg.NumReaderThreads,
	}
}

// Close shuts down the async gateway and the underlying VFS. It does not
// forcibly close outstanding OpenArray entries; callers are expected to
// have closed every array they opened first.
func (sm *StorageManager) Close(ctx context.Context) error {
	sm.gateway.shutdown()
	sm.cache.LogStats()
	return sm.vfs.Terminate(ctx)
}

// CancelAllTasks implements §4.5's cancel_all_tasks: idempotent,
// concurrent-safe, callable from any goroutine. It blocks until every
// in-progress synchronous query has observed cancellation and exited.
func (sm *StorageManager) CancelAllTasks(ctx context.Context) error {
	return sm.quiescence.cancelAllTasks(ctx, sm.vfs, sm.gateway, sm.lockMgr)
}

// CancellationInProgress reports whether a CancelAllTasks call is
// currently draining in-progress queries; long-running query execution is
// expected to poll this at its own checkpoints.
func (sm *StorageManager) CancellationInProgress() bool {
	return sm.quiescence.cancellationInProgress()
}

// OpenResult is what openForReads/reopen hand back: the array's schema
// (borrowed, lifetime = the open session) and its visible fragment
// metadata at the requested snapshot, in selector order.
type OpenResult struct {
	Schema    *schema.ArraySchema
	Fragments []*fragment.Metadata
}

// OpenForReads implements §4.1's open_for_reads. snapshotTimestamp bounds
// which fragments are visible; encryptionKey must match whatever key was
// presented on the array's first open (nil/empty both mean unencrypted).
func (sm *StorageManager) OpenForReads(ctx context.Context, arrayURI string, snapshotTimestamp uint64, encryptionKey []byte) (*OpenResult, error) {
	infos, err := listFragments(ctx, sm.vfs, arrayURI, snapshotTimestamp)
	if err != nil {
		return nil, err
	}
	return sm.openForReadsWithFragments(ctx, arrayURI, infos, encryptionKey)
}

// OpenForReadsWithFragmentInfo is the overload named in §4.1 that accepts
// a pre-computed FragmentInfo list built by the caller, skipping
// enumeration and timestamp filtering entirely.
func (sm *StorageManager) OpenForReadsWithFragmentInfo(ctx context.Context, arrayURI string, infos []FragmentInfo, encryptionKey []byte) (*OpenResult, error) {
	return sm.openForReadsWithFragments(ctx, arrayURI, infos, encryptionKey)
}

func (sm *StorageManager) openForReadsWithFragments(ctx context.Context, arrayURI string, infos []FragmentInfo, encryptionKey []byte) (*OpenResult, error) {
	typ, err := sm.validateArrayURI(ctx, arrayURI)
	if err != nil {
		return nil, err
	}

	entry, _ := sm.reads.findOrCreate(arrayURI, QueryRead)

	// Per §4.1 steps 3-4, the entry mutex is held across ref-count
	// increment AND filelock acquisition as one critical section: that's
	// what makes "first opener acquires the filelock, later opens just
	// observe it already held" race-free, at the cost of serializing
	// filelock acquisition behind this entry's mutex rather than letting
	// concurrent openers race to set entry.sharedFilelock independently.
	entry.mtx.Lock()
	if err := entry.checkEncryptionKey(encryptionKey); err != nil {
		entry.mtx.Unlock()
		return nil, err
	}
	entry.refCount++

	rollbackLocked := func(cause error) (*OpenResult, error) {
		entry.refCount--
		refZero := entry.refCount == 0
		var handle vfs.FileLockHandle
		if refZero {
			handle = entry.sharedFilelock
			entry.sharedFilelock = nil
		}
		entry.mtx.Unlock()
		if refZero {
			sm.reads.remove(arrayURI)
			if handle != nil {
				if err := sm.vfs.FilelockUnlock(ctx, handle); err != nil {
					logger.Warn("sm: release shared filelock for %s: %v", arrayURI, err)
				}
			}
			sm.lockMgr.notifyReaderClosed()
		}
		return nil, cause
	}

	lockfileURI := arrayURI + "/__lockfile"
	if entry.sharedFilelock == nil {
		handle, err := sm.vfs.FilelockLock(ctx, lockfileURI, true)
		if err != nil {
			return rollbackLocked(wrapError(ErrFilelockFailed, arrayURI, err, "acquire shared filelock"))
		}
		entry.sharedFilelock = handle
	}

	if entry.schema == nil {
		loadKind := schema.KindArray
		if typ == ObjectKeyValue {
			loadKind = schema.KindKeyValue
		}
		s, err := schema.Load(ctx, sm.vfs, arrayURI, loadKind)
		if err != nil {
			return rollbackLocked(wrapError(ErrSchemaLoadFailed, arrayURI, err, "load schema"))
		}
		entry.schema = s
	}

	fragments, err := loadFragmentMetadata(ctx, sm.vfs, entry, infos, encryptionKey, sm.maxParallelFragmentLoads)
	if err != nil {
		return rollbackLocked(err)
	}
	result := &OpenResult{Schema: entry.schema, Fragments: fragments}
	entry.mtx.Unlock()
	return result, nil
}

// Reopen implements §4.1's reopen: the array must already be open for
// reads; it re-runs fragment enumeration/loading at a new snapshot. The
// encryption key must match the one recorded at first open.
func (sm *StorageManager) Reopen(ctx context.Context, arrayURI string, newSnapshotTimestamp uint64, encryptionKey []byte) (*OpenResult, error) {
	entry, ok := sm.reads.lookup(arrayURI)
	if !ok {
		return nil, newError(ErrArrayNotOpenForReads, arrayURI, "reopen requires the array already open for reads")
	}

	entry.mtx.Lock()
	if err := entry.checkEncryptionKey(encryptionKey); err != nil {
		entry.mtx.Unlock()
		return nil, err
	}
	entry.mtx.Unlock()

	infos, err := listFragments(ctx, sm.vfs, arrayURI, newSnapshotTimestamp)
	if err != nil {
		return nil, err
	}

	entry.mtx.Lock()
	fragments, err := loadFragmentMetadata(ctx, sm.vfs, entry, infos, encryptionKey, sm.maxParallelFragmentLoads)
	s := entry.schema
	entry.mtx.Unlock()
	if err != nil {
		return nil, err
	}

	return &OpenResult{Schema: s, Fragments: fragments}, nil
}

// CloseForReads implements §4.1's close_for_reads: decrements the ref
// count, and on reaching zero releases the shared filelock, removes the
// entry from the registry, and notifies any xlock waiting on this array's
// reader-drain.
func (sm *StorageManager) CloseForReads(ctx context.Context, arrayURI string) error {
	entry, ok := sm.reads.lookup(arrayURI)
	if !ok {
		return newError(ErrArrayNotOpenForReads, arrayURI, "close_for_reads on an array not open for reads")
	}

	entry.mtx.Lock()
	entry.refCount--
	refZero := entry.refCount == 0
	var handle vfs.FileLockHandle
	if refZero {
		handle = entry.sharedFilelock
		entry.sharedFilelock = nil
	}
	entry.mtx.Unlock()

	if refZero {
		sm.reads.remove(arrayURI)
		if handle != nil {
			if err := sm.vfs.FilelockUnlock(ctx, handle); err != nil {
				logger.Warn("sm: release shared filelock for %s: %v", arrayURI, err)
			}
		}
		sm.lockMgr.notifyReaderClosed()
	}
	return nil
}

// OpenForWrites implements §4.1's open_for_writes: same shape as reads,
// but no filelock is held — write serialization is the caller's
// responsibility via XLock, or tolerated as append-only with unique
// fragment names.
func (sm *StorageManager) OpenForWrites(ctx context.Context, arrayURI string, encryptionKey []byte) (*schema.ArraySchema, error) {
	typ, err := sm.validateArrayURI(ctx, arrayURI)
	if err != nil {
		return nil, err
	}

	entry, _ := sm.writes.findOrCreate(arrayURI, QueryWrite)

	entry.mtx.Lock()
	defer entry.mtx.Unlock()
	if err := entry.checkEncryptionKey(encryptionKey); err != nil {
		return nil, err
	}
	entry.refCount++

	if entry.schema == nil {
		loadKind := schema.KindArray
		if typ == ObjectKeyValue {
			loadKind = schema.KindKeyValue
		}
		s, err := schema.Load(ctx, sm.vfs, arrayURI, loadKind)
		if err != nil {
			entry.refCount--
			return nil, wrapError(ErrSchemaLoadFailed, arrayURI, err, "load schema")
		}
		entry.schema = s
	}
	return entry.schema, nil
}

// CloseForWrites implements §4.1's close_for_writes.
func (sm *StorageManager) CloseForWrites(ctx context.Context, arrayURI string) error {
	entry, ok := sm.writes.lookup(arrayURI)
	if !ok {
		return newError(ErrArrayNotOpenForReads, arrayURI, "close_for_writes on an array not open for writes")
	}

	entry.mtx.Lock()
	entry.refCount--
	refZero := entry.refCount == 0
	entry.mtx.Unlock()

	if refZero {
		sm.writes.remove(arrayURI)
	}
	return nil
}

// XLock implements §4.2's xlock: the exclusive-lock protocol consolidation
// uses to drain concurrent readers before taking a cross-process exclusive
// filelock.
func (sm *StorageManager) XLock(ctx context.Context, arrayURI string) error {
	return sm.lockMgr.xlock(ctx, sm.vfs, sm.reads, arrayURI)
}

// XUnlock implements §4.2's xunlock.
func (sm *StorageManager) XUnlock(ctx context.Context, arrayURI string) error {
	return sm.lockMgr.xunlock(ctx, sm.vfs, arrayURI)
}

// SubmitAsync implements §4.6's submit_async.
func (sm *StorageManager) SubmitAsync(ctx context.Context, query AsyncQuery) error {
	return sm.gateway.submitAsync(ctx, query)
}

// QuerySubmit brackets a synchronous query's execution with the
// in-progress counter §4.5 requires, so CancelAllTasks can observe
// quiescence. run is expected to poll CancellationInProgress at its own
// checkpoints.
func (sm *StorageManager) QuerySubmit(ctx context.Context, run func(ctx context.Context) error) error {
	leave := sm.quiescence.enter()
	defer leave()
	return run(ctx)
}

// ReadFromCache implements §4.7's read_from_cache.
func (sm *StorageManager) ReadFromCache(ctx context.Context, uri string, offset int64, nbytes int) ([]byte, error) {
	return readFromCache(ctx, sm.vfs, sm.cache, uri, offset, nbytes)
}

// WriteToCache implements §4.7's write_to_cache.
func (sm *StorageManager) WriteToCache(uri string, offset int64, buf []byte) {
	writeToCache(sm.cache, uri, offset, buf)
}

// NewObjectIterator implements §4.8's object iteration.
func (sm *StorageManager) NewObjectIterator(ctx context.Context, rootURI string, order IterationOrder, recursive bool) *ObjectIterator {
	return NewObjectIterator(ctx, sm.vfs, rootURI, order, recursive)
}

// validateArrayURI checks the URI is served by the configured VFS and
// names an ARRAY or KEY_VALUE object, per §4.1 step 1.
func (sm *StorageManager) validateArrayURI(ctx context.Context, arrayURI string) (ObjectType, error) {
	if !sm.vfs.SupportsURIScheme(arrayURI) {
		return ObjectInvalid, newError(ErrInvalidURI, arrayURI, "no VFS backend registered for this scheme")
	}
	isDir, err := sm.vfs.IsDir(ctx, arrayURI)
	if err != nil {
		return ObjectInvalid, wrapError(ErrInvalidURI, arrayURI, err, "probe array directory")
	}
	if !isDir {
		return ObjectInvalid, newError(ErrObjectNotFound, arrayURI, "array directory does not exist")
	}

	typ, err := probeObjectType(ctx, sm.vfs, arrayURI)
	if err != nil {
		return ObjectInvalid, wrapError(ErrInvalidURI, arrayURI, err, "probe object type")
	}
	if typ != ObjectArray && typ != ObjectKeyValue {
		return ObjectInvalid, newError(ErrNotAnArray, arrayURI, "object is not an array or key-value store")
	}
	return typ, nil
}
