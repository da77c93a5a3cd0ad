// Package badgervfs implements the storage manager's VFS interface on top of
// a single embedded BadgerDB database, for deployments that want array data
// durable on local disk without managing a directory tree of fragment
// files directly (e.g. one process, one data volume, many small arrays).
//
// Key Namespace Design:
// BadgerDB is a key-value store, so directories are emulated with prefixed
// keys, following the same namespacing the teacher's metadata store uses:
//
//	Data Type     Prefix   Key Format              Value
//	===========================================================
//	File bytes    "f:"     f:<path>                raw file content
//	Directory tag "d:"     d:<path>                 empty marker
//
// A path is "a directory" if a "d:<path>" marker key exists; listing a
// directory is a prefix scan over "f:<path>/" and "d:<path>/" one segment
// deep. This mirrors the teacher's children-map range-scan idiom (see
// pkg/store/metadata/badger/keys.go) applied to a flat path namespace
// instead of a UUID graph, since the storage manager addresses files by
// path, not by inode.
//
// Filelock Emulation:
// BadgerDB is single-process by design, so cross-process exclusion is moot;
// FilelockLock instead serializes goroutines within this process with an
// in-process reader/writer mutex per path, matching what the teacher's
// single-writer-transaction model already guarantees at the storage layer.
package badgervfs

import (
	"context"
	"errors"
	"fmt"
	"strings"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/marmos91/dittofs/internal/logger"
	"github.com/marmos91/dittofs/pkg/vfs"
)

const scheme = "badger://"

const (
	fileKeyPrefix = "f:"
	dirKeyPrefix  = "d:"
)

// VFS stores array data as keys in a single BadgerDB database.
type VFS struct {
	db *badger.DB

	locks *lockTable
}

// Open opens (creating if absent) a BadgerDB database at dir and wraps it
// as a VFS.
func Open(dir string) (*VFS, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badgervfs: open %q: %w", dir, err)
	}
	return &VFS{db: db, locks: newLockTable()}, nil
}

func (v *VFS) SupportsURIScheme(uri string) bool {
	return strings.HasPrefix(uri, scheme)
}

func clean(uri string) string {
	p := strings.TrimPrefix(uri, scheme)
	p = strings.Trim(p, "/")
	return p
}

func fileKey(path string) []byte { return []byte(fileKeyPrefix + path) }
func dirKey(path string) []byte  { return []byte(dirKeyPrefix + path) }

func parentDirs(path string) []string {
	if path == "" {
		return nil
	}
	segs := strings.Split(path, "/")
	var dirs []string
	for i := range segs {
		dirs = append(dirs, strings.Join(segs[:i+1], "/"))
	}
	return dirs
}

func (v *VFS) CreateDir(ctx context.Context, uri string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path := clean(uri)
	return v.db.Update(func(txn *badger.Txn) error {
		for _, d := range parentDirs(path) {
			if err := txn.Set(dirKey(d), nil); err != nil {
				return err
			}
		}
		return nil
	})
}

func (v *VFS) IsDir(ctx context.Context, uri string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	path := clean(uri)
	if path == "" {
		return true, nil
	}
	var found bool
	err := v.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(dirKey(path))
		if err == nil {
			found = true
			return nil
		}
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
	return found, err
}

func (v *VFS) IsFile(ctx context.Context, uri string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	path := clean(uri)
	var found bool
	err := v.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(fileKey(path))
		if err == nil {
			found = true
			return nil
		}
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
	return found, err
}

func (v *VFS) Ls(ctx context.Context, uri string) ([]vfs.DirEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := clean(uri)
	var prefixDir, prefixFile string
	if path == "" {
		prefixDir, prefixFile = dirKeyPrefix, fileKeyPrefix
	} else {
		prefixDir = dirKeyPrefix + path + "/"
		prefixFile = fileKeyPrefix + path + "/"
	}

	seen := map[string]vfs.DirEntry{}
	err := v.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		scan := func(prefix string, isDir bool) {
			for it.Seek([]byte(prefix)); it.ValidForPrefix([]byte(prefix)); it.Next() {
				rest := strings.TrimPrefix(string(it.Item().Key()), prefix)
				if rest == "" {
					continue
				}
				name, entryIsDir := rest, isDir
				if idx := strings.IndexByte(rest, '/'); idx >= 0 {
					name = rest[:idx]
					entryIsDir = true
				}
				if _, ok := seen[name]; ok {
					continue
				}
				seen[name] = vfs.DirEntry{Name: name, IsDir: entryIsDir}
			}
		}
		scan(prefixDir, true)
		scan(prefixFile, false)
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]vfs.DirEntry, 0, len(seen))
	for _, e := range seen {
		out = append(out, e)
	}
	return out, nil
}

func (v *VFS) Touch(ctx context.Context, uri string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path := clean(uri)
	return v.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(fileKey(path)); err == nil {
			return nil
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(fileKey(path), nil)
	})
}

func (v *VFS) Read(ctx context.Context, uri string, offset int64, nbytes int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := clean(uri)
	var data []byte
	err := v.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(fileKey(path))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return vfs.ErrNotExist
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			data = append([]byte(nil), val...)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if offset >= int64(len(data)) {
		return nil, nil
	}
	end := offset + int64(nbytes)
	if end > int64(len(data)) {
		end = int64(len(data))
	}
	return data[offset:end], nil
}

func (v *VFS) Write(ctx context.Context, uri string, buf []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path := clean(uri)
	return v.db.Update(func(txn *badger.Txn) error {
		existing, err := readLocked(txn, path)
		if err != nil {
			return err
		}
		for _, d := range parentDirs(parentOf(path)) {
			if err := txn.Set(dirKey(d), nil); err != nil {
				return err
			}
		}
		return txn.Set(fileKey(path), append(existing, buf...))
	})
}

func (v *VFS) WriteAt(ctx context.Context, uri string, offset int64, buf []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path := clean(uri)
	return v.db.Update(func(txn *badger.Txn) error {
		existing, err := readLocked(txn, path)
		if err != nil {
			return err
		}
		need := offset + int64(len(buf))
		if int64(len(existing)) < need {
			grown := make([]byte, need)
			copy(grown, existing)
			existing = grown
		}
		copy(existing[offset:], buf)
		for _, d := range parentDirs(parentOf(path)) {
			if err := txn.Set(dirKey(d), nil); err != nil {
				return err
			}
		}
		return txn.Set(fileKey(path), existing)
	})
}

func readLocked(txn *badger.Txn, path string) ([]byte, error) {
	item, err := txn.Get(fileKey(path))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []byte
	err = item.Value(func(val []byte) error {
		out = append([]byte(nil), val...)
		return nil
	})
	return out, err
}

func parentOf(path string) string {
	idx := strings.LastIndexByte(path, '/')
	if idx < 0 {
		return ""
	}
	return path[:idx]
}

func (v *VFS) Sync(ctx context.Context, uri string) error {
	return v.db.Sync()
}

func (v *VFS) CloseFile(ctx context.Context, uri string) error { return nil }

func (v *VFS) RemoveFile(ctx context.Context, uri string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path := clean(uri)
	return v.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete(fileKey(path))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
}

func (v *VFS) RemoveDir(ctx context.Context, uri string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path := clean(uri)
	prefixDir := dirKeyPrefix + path
	prefixFile := fileKeyPrefix + path

	return v.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		var toDelete [][]byte
		for _, prefix := range []string{prefixDir, prefixFile} {
			for it.Seek([]byte(prefix)); it.ValidForPrefix([]byte(prefix)); it.Next() {
				toDelete = append(toDelete, append([]byte(nil), it.Item().Key()...))
			}
		}
		for _, k := range toDelete {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func (v *VFS) MoveDir(ctx context.Context, oldURI, newURI string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	oldPath := clean(oldURI)
	newPath := clean(newURI)

	return v.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		it := txn.NewIterator(opts)
		defer it.Close()

		type rename struct {
			oldKey, newKey []byte
			val            []byte
		}
		var renames []rename

		for _, prefix := range []string{dirKeyPrefix + oldPath, fileKeyPrefix + oldPath} {
			for it.Seek([]byte(prefix)); it.ValidForPrefix([]byte(prefix)); it.Next() {
				oldKey := append([]byte(nil), it.Item().Key()...)
				var val []byte
				if err := it.Item().Value(func(v []byte) error {
					val = append([]byte(nil), v...)
					return nil
				}); err != nil {
					return err
				}
				suffix := strings.TrimPrefix(string(oldKey), prefix)
				var newKeyStr string
				if strings.HasPrefix(string(oldKey), dirKeyPrefix) {
					newKeyStr = dirKeyPrefix + newPath + suffix
				} else {
					newKeyStr = fileKeyPrefix + newPath + suffix
				}
				renames = append(renames, rename{oldKey: oldKey, newKey: []byte(newKeyStr), val: val})
			}
		}

		for _, r := range renames {
			if err := txn.Set(r.newKey, r.val); err != nil {
				return err
			}
			if err := txn.Delete(r.oldKey); err != nil {
				return err
			}
		}
		return nil
	})
}

func (v *VFS) CancelAllTasks(ctx context.Context) error {
	logger.Debug("badgervfs: cancel requested, no outstanding async I/O to abort")
	return nil
}

func (v *VFS) Terminate(ctx context.Context) error {
	return v.db.Close()
}
