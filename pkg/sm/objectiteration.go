package sm

import (
	"context"
	"path"
	"sort"

	"github.com/marmos91/dittofs/pkg/vfs"
)

// ObjectType classifies a filesystem object the way the core's iterator
// and open path both need to: by the sentinel file found in its
// directory, checked in this exact order since a directory could in
// principle carry more than one marker left over from a prior failed
// operation, and array takes precedence as the most common case.
type ObjectType int

const (
	ObjectInvalid ObjectType = iota
	ObjectArray
	ObjectKeyValue
	ObjectGroup
)

const groupMarkerFile = "__tiledb_group.tdb"

// probeObjectType determines uri's ObjectType from the presence of its
// schema/group sentinel files, probing array → kv → group → invalid.
func probeObjectType(ctx context.Context, v vfs.VFS, uri string) (ObjectType, error) {
	isArray, err := v.IsFile(ctx, path.Join(uri, "__array_schema.tdb"))
	if err != nil {
		return ObjectInvalid, err
	}
	if isArray {
		return ObjectArray, nil
	}

	isKV, err := v.IsFile(ctx, path.Join(uri, "__kv_schema.tdb"))
	if err != nil {
		return ObjectInvalid, err
	}
	if isKV {
		return ObjectKeyValue, nil
	}

	isGroup, err := v.IsFile(ctx, path.Join(uri, groupMarkerFile))
	if err != nil {
		return ObjectInvalid, err
	}
	if isGroup {
		return ObjectGroup, nil
	}

	return ObjectInvalid, nil
}

// IterationOrder selects the object iterator's walk order.
type IterationOrder int

const (
	Preorder IterationOrder = iota
	Postorder
)

// ObjectEntry is one node the iterator yields: a URI paired with its
// probed type. Only entries whose type is not ObjectInvalid are ever
// yielded.
type ObjectEntry struct {
	URI  string
	Type ObjectType
}

type walkItem struct {
	uri      string
	expanded bool
}

// ObjectIterator walks a directory tree via the VFS, yielding only
// typed (non-invalid) objects, single-threaded, opaque to callers beyond
// Next/Err. rootURI itself is never probed or yielded — only its
// children (and, if recursive, their descendants) are candidates.
type ObjectIterator struct {
	ctx       context.Context
	v         vfs.VFS
	order     IterationOrder
	recursive bool

	work    []walkItem
	started bool
	rootURI string
	err     error
}

// NewObjectIterator starts an iteration over rootURI's children. recursive
// only affects Preorder (Postorder is always recursive, per §4.8).
func NewObjectIterator(ctx context.Context, v vfs.VFS, rootURI string, order IterationOrder, recursive bool) *ObjectIterator {
	return &ObjectIterator{
		ctx:       ctx,
		v:         v,
		order:     order,
		recursive: recursive,
		rootURI:   rootURI,
	}
}

// Err returns the first error encountered by Next, if any.
func (it *ObjectIterator) Err() error { return it.err }

// Next advances the iterator and returns the next typed object, or
// (ObjectEntry{}, false) once exhausted (or on error — check Err()).
func (it *ObjectIterator) Next() (ObjectEntry, bool) {
	if !it.started {
		it.started = true
		children, err := it.listChildDirs(it.rootURI)
		if err != nil {
			it.err = err
			return ObjectEntry{}, false
		}
		for _, c := range children {
			it.work = append(it.work, walkItem{uri: c})
		}
	}

	for len(it.work) > 0 {
		if err := it.ctx.Err(); err != nil {
			it.err = err
			return ObjectEntry{}, false
		}

		switch it.order {
		case Preorder:
			return it.nextPreorder()
		case Postorder:
			return it.nextPostorder()
		}
	}
	return ObjectEntry{}, false
}

func (it *ObjectIterator) nextPreorder() (ObjectEntry, bool) {
	front := it.work[0]
	it.work = it.work[1:]

	typ, err := probeObjectType(it.ctx, it.v, front.uri)
	if err != nil {
		it.err = err
		return ObjectEntry{}, false
	}

	if it.recursive {
		children, err := it.listChildDirs(front.uri)
		if err != nil {
			it.err = err
			return ObjectEntry{}, false
		}
		// Push reversed so the first child listed is processed next.
		for i := len(children) - 1; i >= 0; i-- {
			it.work = append([]walkItem{{uri: children[i]}}, it.work...)
		}
	}

	if typ == ObjectInvalid {
		return it.Next()
	}
	return ObjectEntry{URI: front.uri, Type: typ}, true
}

func (it *ObjectIterator) nextPostorder() (ObjectEntry, bool) {
	for {
		if len(it.work) == 0 {
			return ObjectEntry{}, false
		}
		front := it.work[0]

		if !front.expanded {
			children, err := it.listChildDirs(front.uri)
			if err != nil {
				it.err = err
				return ObjectEntry{}, false
			}
			it.work[0].expanded = true
			for i := len(children) - 1; i >= 0; i-- {
				it.work = append([]walkItem{{uri: children[i]}}, it.work...)
			}
			continue
		}

		it.work = it.work[1:]
		typ, err := probeObjectType(it.ctx, it.v, front.uri)
		if err != nil {
			it.err = err
			return ObjectEntry{}, false
		}
		if typ == ObjectInvalid {
			continue
		}
		return ObjectEntry{URI: front.uri, Type: typ}, true
	}
}

func (it *ObjectIterator) listChildDirs(uri string) ([]string, error) {
	entries, err := it.v.Ls(it.ctx, uri)
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })

	var dirs []string
	for _, e := range entries {
		if e.IsDir {
			dirs = append(dirs, path.Join(uri, e.Name))
		}
	}
	return dirs, nil
}
