package memvfs_test

import (
	"testing"

	"github.com/marmos91/dittofs/pkg/vfs"
	"github.com/marmos91/dittofs/pkg/vfs/memvfs"
	"github.com/marmos91/dittofs/pkg/vfs/vfstest"
)

func TestMemVFSConformance(t *testing.T) {
	(&vfstest.Suite{
		New: func() vfs.VFS {
			return memvfs.New()
		},
	}).Run(t)
}
