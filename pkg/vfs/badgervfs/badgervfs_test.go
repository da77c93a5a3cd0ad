package badgervfs_test

import (
	"context"
	"testing"

	"github.com/marmos91/dittofs/pkg/vfs"
	"github.com/marmos91/dittofs/pkg/vfs/badgervfs"
	"github.com/marmos91/dittofs/pkg/vfs/vfstest"
)

func TestBadgerVFSConformance(t *testing.T) {
	(&vfstest.Suite{
		New: func() vfs.VFS {
			v, err := badgervfs.Open(t.TempDir())
			if err != nil {
				t.Fatal(err)
			}
			t.Cleanup(func() { v.Terminate(context.Background()) })
			return v
		},
	}).Run(t)
}
