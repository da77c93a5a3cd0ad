package localfs_test

import (
	"testing"

	"github.com/marmos91/dittofs/pkg/vfs"
	"github.com/marmos91/dittofs/pkg/vfs/localfs"
	"github.com/marmos91/dittofs/pkg/vfs/vfstest"
)

func TestLocalFSConformance(t *testing.T) {
	(&vfstest.Suite{
		New: func() vfs.VFS {
			v, err := localfs.New(t.TempDir())
			if err != nil {
				t.Fatal(err)
			}
			return v
		},
	}).Run(t)
}
