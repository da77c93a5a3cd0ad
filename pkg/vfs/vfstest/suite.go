// Package vfstest is a shared conformance suite for vfs.VFS implementations.
// It tests the interface contract, not implementation details, so the same
// suite runs against localfs, memvfs, and badgervfs.
package vfstest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittofs/pkg/vfs"
)

// Suite exercises the VFS contract against a freshly constructed backend.
//
// Usage:
//
//	func TestLocalFS(t *testing.T) {
//	    (&vfstest.Suite{New: func() vfs.VFS {
//	        v, _ := localfs.New(t.TempDir())
//	        return v
//	    }}).Run(t)
//	}
type Suite struct {
	// New returns a fresh, empty VFS instance for each test.
	New func() vfs.VFS
}

// Run executes all tests in the suite.
func (s *Suite) Run(t *testing.T) {
	t.Run("DirLifecycle", s.runDirLifecycle)
	t.Run("FileReadWrite", s.runFileReadWrite)
	t.Run("WriteAtGapIsZeroFilled", s.runWriteAtGap)
	t.Run("MoveDir", s.runMoveDir)
	t.Run("RemoveIsIdempotent", s.runRemoveIdempotent)
	t.Run("SharedLocksStack", s.runSharedLocksStack)
	t.Run("ExclusiveExcludesShared", s.runExclusiveExcludesShared)
}

func (s *Suite) runDirLifecycle(t *testing.T) {
	ctx := context.Background()
	v := s.New()

	require.NoError(t, v.CreateDir(ctx, "a/b/c"))
	isDir, err := v.IsDir(ctx, "a/b/c")
	require.NoError(t, err)
	require.True(t, isDir)

	entries, err := v.Ls(ctx, "a/b")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "c", entries[0].Name)
	require.True(t, entries[0].IsDir)
}

func (s *Suite) runFileReadWrite(t *testing.T) {
	ctx := context.Background()
	v := s.New()

	require.NoError(t, v.Write(ctx, "dir/file.bin", []byte("hello ")))
	require.NoError(t, v.Write(ctx, "dir/file.bin", []byte("world")))

	got, err := v.Read(ctx, "dir/file.bin", 0, 11)
	require.NoError(t, err)
	require.Equal(t, "hello world", string(got))

	isFile, err := v.IsFile(ctx, "dir/file.bin")
	require.NoError(t, err)
	require.True(t, isFile)
}

func (s *Suite) runWriteAtGap(t *testing.T) {
	ctx := context.Background()
	v := s.New()

	require.NoError(t, v.WriteAt(ctx, "sparse.bin", 4, []byte("end")))
	got, err := v.Read(ctx, "sparse.bin", 0, 7)
	require.NoError(t, err)
	require.Equal(t, []byte{0, 0, 0, 0, 'e', 'n', 'd'}, got)
}

func (s *Suite) runMoveDir(t *testing.T) {
	ctx := context.Background()
	v := s.New()

	require.NoError(t, v.CreateDir(ctx, "from"))
	require.NoError(t, v.Write(ctx, "from/x.txt", []byte("x")))
	require.NoError(t, v.MoveDir(ctx, "from", "to"))

	got, err := v.Read(ctx, "to/x.txt", 0, 1)
	require.NoError(t, err)
	require.Equal(t, "x", string(got))

	isDir, err := v.IsDir(ctx, "from")
	require.NoError(t, err)
	require.False(t, isDir)
}

func (s *Suite) runRemoveIdempotent(t *testing.T) {
	ctx := context.Background()
	v := s.New()

	require.NoError(t, v.RemoveFile(ctx, "never-existed.txt"))
	require.NoError(t, v.RemoveDir(ctx, "never-existed-dir"))
}

func (s *Suite) runSharedLocksStack(t *testing.T) {
	ctx := context.Background()
	v := s.New()

	h1, err := v.FilelockLock(ctx, "lockfile", true)
	require.NoError(t, err)
	h2, err := v.FilelockLock(ctx, "lockfile", true)
	require.NoError(t, err)

	require.NoError(t, v.FilelockUnlock(ctx, h1))
	require.NoError(t, v.FilelockUnlock(ctx, h2))
}

func (s *Suite) runExclusiveExcludesShared(t *testing.T) {
	ctx := context.Background()
	v := s.New()

	h, err := v.FilelockLock(ctx, "lockfile", false)
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		h2, err := v.FilelockLock(ctx, "lockfile", true)
		if err == nil {
			close(acquired)
			v.FilelockUnlock(ctx, h2)
		}
	}()

	select {
	case <-acquired:
		t.Fatal("shared lock acquired while exclusive lock held")
	default:
	}

	require.NoError(t, v.FilelockUnlock(ctx, h))
}
