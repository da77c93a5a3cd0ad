package s3vfs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/marmos91/dittofs/pkg/vfs"
)

type lockHandle struct {
	vfs.FileLockHandleBase
	key string
}

// lockRetryInterval is how often FilelockLock retries a conditional put
// while another holder owns the lock object.
const lockRetryInterval = 100 * time.Millisecond

// FilelockLock emulates an exclusive lock with a conditional PutObject
// (If-None-Match: "*", i.e. "create only if absent"). Shared locks are
// approximated the same way, on a distinct suffixed key per caller, since
// S3 cannot express "N readers, 0 writers" directly; this means s3vfs
// shared locks only exclude concurrent *exclusive* holders, matching what
// spec.md actually needs the filelock for (consolidation draining
// readers), not true reader/reader coordination (S3 readers never
// conflict with each other regardless of locking).
func (v *VFS) FilelockLock(ctx context.Context, uri string, shared bool) (vfs.FileLockHandle, error) {
	key := v.key(uri) + ".lock"
	if shared {
		// Shared holders don't exclude each other; they only need to be
		// visible to an exclusive attempt, so each gets its own object.
		key = fmt.Sprintf("%s.shared/%d", key, time.Now().UnixNano())
		if err := v.putIfAbsent(ctx, key); err != nil {
			return nil, err
		}
		return &lockHandle{key: key}, nil
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		readers, err := v.Ls(ctx, uri+".lock.shared")
		if err == nil && len(readers) > 0 {
			// Exclusive waits for any shared holders to release first,
			// mirroring the reader-drain the core's lock manager performs
			// at the registry level before this is ever called.
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(lockRetryInterval):
			}
			continue
		}

		if err := v.putIfAbsent(ctx, key); err != nil {
			if errors.Is(err, errLockHeld) {
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(lockRetryInterval):
				}
				continue
			}
			return nil, err
		}
		return &lockHandle{key: key}, nil
	}
}

var errLockHeld = errors.New("s3vfs: lock already held")

func (v *VFS) putIfAbsent(ctx context.Context, key string) error {
	_, err := v.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(v.bucket),
		Key:         aws.String(key),
		IfNoneMatch: aws.String("*"),
	})
	if err == nil {
		return nil
	}
	var apiErr *types.PreconditionFailed
	if errors.As(err, &apiErr) {
		return errLockHeld
	}
	return fmt.Errorf("s3vfs: create lock object %q: %w", key, err)
}

func (v *VFS) FilelockUnlock(ctx context.Context, handle vfs.FileLockHandle) error {
	h, ok := handle.(*lockHandle)
	if !ok {
		return fmt.Errorf("s3vfs: foreign filelock handle %T", handle)
	}
	_, err := v.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(v.bucket),
		Key:    aws.String(h.key),
	})
	return err
}
