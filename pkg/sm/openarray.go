package sm

import (
	"bytes"
	"sync"

	"github.com/marmos91/dittofs/pkg/fragment"
	"github.com/marmos91/dittofs/pkg/schema"
	"github.com/marmos91/dittofs/pkg/vfs"
)

// QueryType distinguishes the reads and writes registries; an array may
// have independent entries in both simultaneously.
type QueryType int

const (
	QueryRead QueryType = iota
	QueryWrite
)

// OpenArray is the interned per-array entry shared by every concurrent
// opener of the same URI within one registry. mtx is the sole writer gate
// for every field below it: schema load, fragment-metadata insertion, and
// ref-count mutation all happen under mtx, and registry-mutex scope is
// never held while mtx is held across blocking I/O.
type OpenArray struct {
	URI       string
	QueryType QueryType

	mtx sync.Mutex

	schema        *schema.ArraySchema
	encryptionKey []byte

	// fragMu protects fragmentMetadataByURI specifically, separate from
	// mtx: the metadata loader is called with mtx already held for the
	// duration of the whole fragment-loading step, but its parallel
	// workers each need to insert into the memo map independently, which
	// would deadlock if it were gated by the same non-reentrant mtx.
	fragMu                sync.Mutex
	fragmentMetadataByURI map[string]*fragment.Metadata

	refCount int

	// sharedFilelock is held (reads only) while refCount > 0. Writers do
	// not take a filelock; see openForWrites.
	sharedFilelock vfs.FileLockHandle
}

func newOpenArray(uri string, qt QueryType) *OpenArray {
	return &OpenArray{
		URI:                   uri,
		QueryType:             qt,
		fragmentMetadataByURI: make(map[string]*fragment.Metadata),
	}
}

// checkEncryptionKey verifies a presented key matches the one recorded on
// first open (nil/empty both mean "unencrypted" and compare equal). Must
// be called with mtx held.
func (e *OpenArray) checkEncryptionKey(key []byte) error {
	if e.encryptionKey == nil && e.refCount == 0 {
		e.encryptionKey = append([]byte(nil), key...)
		return nil
	}
	if !bytes.Equal(e.encryptionKey, key) {
		return newError(ErrEncryptionMismatch, e.URI, "presented encryption key does not match the key recorded at first open")
	}
	return nil
}

// memoizedFragment returns the fragment metadata for uri if already
// loaded, else nil.
func (e *OpenArray) memoizedFragment(uri string) (*fragment.Metadata, bool) {
	e.fragMu.Lock()
	defer e.fragMu.Unlock()
	m, ok := e.fragmentMetadataByURI[uri]
	return m, ok
}

// memoizeFragment records newly loaded metadata.
func (e *OpenArray) memoizeFragment(uri string, m *fragment.Metadata) {
	e.fragMu.Lock()
	defer e.fragMu.Unlock()
	e.fragmentMetadataByURI[uri] = m
}

// Schema returns the array's lazily loaded, immutable-once-set schema.
// Safe to call without mtx once the caller holds a live ref (schema never
// changes after being set).
func (e *OpenArray) Schema() *schema.ArraySchema {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	return e.schema
}

// FragmentMetadata returns a snapshot of all fragment metadata memoized so
// far on this entry, ordered by the caller's original enumeration (callers
// pass that ordering in separately; this is just the lookup table).
func (e *OpenArray) FragmentMetadata() map[string]*fragment.Metadata {
	e.fragMu.Lock()
	defer e.fragMu.Unlock()
	out := make(map[string]*fragment.Metadata, len(e.fragmentMetadataByURI))
	for k, v := range e.fragmentMetadataByURI {
		out[k] = v
	}
	return out
}

// RefCount reports the current outstanding-open count, for diagnostics.
func (e *OpenArray) RefCount() int {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	return e.refCount
}
