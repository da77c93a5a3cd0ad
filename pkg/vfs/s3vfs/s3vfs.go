// Package s3vfs implements the storage manager's VFS interface on top of
// Amazon S3 (or an S3-compatible endpoint), for arrays stored in object
// storage rather than on local disk.
//
// Path-Based Key Design:
//   - The VFS path (minus the "s3://" scheme) becomes the S3 object key
//     directly, so a bucket mirrors the array's directory structure and is
//     human-inspectable.
//   - "Directories" are not first-class in S3; IsDir/Ls are implemented via
//     prefix listing (ListObjectsV2 with a "/" delimiter), following the
//     same convention every S3-backed filesystem uses.
//
// Filelock Emulation:
// S3 has no advisory lock primitive. FilelockLock emulates one with a
// conditional put (If-None-Match: "*") on a lock object: the first writer
// to successfully create the object holds the lock, and unlock deletes it.
// This is best-effort, not linearizable — a caller that crashes while
// holding the lock leaves it held until manually cleared. The package
// documents this rather than pretending otherwise.
package s3vfs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/marmos91/dittofs/internal/logger"
	"github.com/marmos91/dittofs/pkg/vfs"
)

const scheme = "s3://"

// Config configures an S3-backed VFS.
type Config struct {
	// Client is a pre-configured S3 client (region, credentials, and any
	// custom endpoint for S3-compatible storage already applied).
	Client *s3.Client

	// Bucket is the S3 bucket name. Must already exist.
	Bucket string

	// KeyPrefix is an optional prefix applied to every object key, letting
	// multiple arrays or deployments share one bucket.
	KeyPrefix string

	// PartSize is stored on the VFS and defaults to 10MB, matching the
	// teacher's content-store default. Write and WriteAt upload each object
	// with a single PutObject and do not use it.
	PartSize int64
}

// VFS stores array data as objects in a single S3 bucket.
type VFS struct {
	client    *s3.Client
	bucket    string
	keyPrefix string
	partSize  int64
}

// New creates an S3-backed VFS. It does not verify bucket access; callers
// that want a fail-fast startup should call HeadBucket themselves.
func New(cfg Config) (*VFS, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("s3vfs: client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3vfs: bucket is required")
	}
	partSize := cfg.PartSize
	if partSize == 0 {
		partSize = 10 * 1024 * 1024
	}
	return &VFS{
		client:    cfg.Client,
		bucket:    cfg.Bucket,
		keyPrefix: cfg.KeyPrefix,
		partSize:  partSize,
	}, nil
}

func (v *VFS) SupportsURIScheme(uri string) bool {
	return strings.HasPrefix(uri, scheme)
}

func (v *VFS) key(uri string) string {
	rel := strings.TrimPrefix(uri, scheme)
	rel = strings.TrimPrefix(rel, "/")
	if v.keyPrefix == "" {
		return rel
	}
	return path.Join(v.keyPrefix, rel)
}

// CreateDir is a no-op: S3 has no directory objects, and prefix listing
// sees "directories" as soon as any object exists under them.
func (v *VFS) CreateDir(ctx context.Context, uri string) error {
	return ctx.Err()
}

func (v *VFS) IsDir(ctx context.Context, uri string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	prefix := v.key(uri)
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	out, err := v.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(v.bucket),
		Prefix:  aws.String(prefix),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return false, fmt.Errorf("s3vfs: list %q: %w", prefix, err)
	}
	return len(out.Contents) > 0 || len(out.CommonPrefixes) > 0, nil
}

func (v *VFS) IsFile(ctx context.Context, uri string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, err := v.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(v.bucket),
		Key:    aws.String(v.key(uri)),
	})
	if err == nil {
		return true, nil
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return false, nil
	}
	return false, fmt.Errorf("s3vfs: head %q: %w", uri, err)
}

func (v *VFS) Ls(ctx context.Context, uri string) ([]vfs.DirEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	prefix := v.key(uri)
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	var out []vfs.DirEntry
	var token *string
	for {
		resp, err := v.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(v.bucket),
			Prefix:            aws.String(prefix),
			Delimiter:         aws.String("/"),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, fmt.Errorf("s3vfs: list %q: %w", prefix, err)
		}
		for _, p := range resp.CommonPrefixes {
			name := strings.TrimSuffix(strings.TrimPrefix(aws.ToString(p.Prefix), prefix), "/")
			out = append(out, vfs.DirEntry{Name: name, IsDir: true})
		}
		for _, obj := range resp.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), prefix)
			if name == "" {
				continue
			}
			out = append(out, vfs.DirEntry{Name: name, IsDir: false})
		}
		if !aws.ToBool(resp.IsTruncated) {
			break
		}
		token = resp.NextContinuationToken
	}
	return out, nil
}

func (v *VFS) Touch(ctx context.Context, uri string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := v.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(v.bucket),
		Key:    aws.String(v.key(uri)),
		Body:   bytes.NewReader(nil),
	})
	return err
}

func (v *VFS) Read(ctx context.Context, uri string, offset int64, nbytes int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rng := fmt.Sprintf("bytes=%d-%d", offset, offset+int64(nbytes)-1)
	resp, err := v.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(v.bucket),
		Key:    aws.String(v.key(uri)),
		Range:  aws.String(rng),
	})
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return nil, vfs.ErrNotExist
	}
	if err != nil {
		return nil, fmt.Errorf("s3vfs: get %q: %w", uri, err)
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

// Write appends buf to the object. S3 has no append primitive, so it reads
// the existing object (at most maxObjectSizeForAppend bytes) and writes the
// existing bytes followed by buf back with one full-object PutObject.
func (v *VFS) Write(ctx context.Context, uri string, buf []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	existing, err := v.Read(ctx, uri, 0, maxObjectSizeForAppend)
	if err != nil && !errors.Is(err, vfs.ErrNotExist) {
		return err
	}
	_, err = v.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(v.bucket),
		Key:    aws.String(v.key(uri)),
		Body:   bytes.NewReader(append(existing, buf...)),
	})
	return err
}

// maxObjectSizeForAppend bounds the read-modify-write Write() performs; the
// storage manager's own writes are metadata/lockfile sized, never
// fragment-data sized, so this ceiling is generous without being unbounded.
const maxObjectSizeForAppend = 64 * 1024 * 1024

func (v *VFS) WriteAt(ctx context.Context, uri string, offset int64, buf []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	existing, err := v.Read(ctx, uri, 0, maxObjectSizeForAppend)
	if err != nil && !errors.Is(err, vfs.ErrNotExist) {
		return err
	}
	need := offset + int64(len(buf))
	if int64(len(existing)) < need {
		grown := make([]byte, need)
		copy(grown, existing)
		existing = grown
	}
	copy(existing[offset:], buf)
	_, err = v.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(v.bucket),
		Key:    aws.String(v.key(uri)),
		Body:   bytes.NewReader(existing),
	})
	return err
}

func (v *VFS) Sync(ctx context.Context, uri string) error {
	// PutObject is already durable once it returns; there is no local
	// buffer to flush.
	return ctx.Err()
}

func (v *VFS) CloseFile(ctx context.Context, uri string) error { return nil }

func (v *VFS) RemoveFile(ctx context.Context, uri string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := v.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(v.bucket),
		Key:    aws.String(v.key(uri)),
	})
	return err
}

func (v *VFS) RemoveDir(ctx context.Context, uri string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	prefix := v.key(uri)
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	var token *string
	for {
		resp, err := v.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(v.bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return fmt.Errorf("s3vfs: list %q: %w", prefix, err)
		}
		if len(resp.Contents) == 0 {
			break
		}
		var ids []types.ObjectIdentifier
		for _, obj := range resp.Contents {
			ids = append(ids, types.ObjectIdentifier{Key: obj.Key})
		}
		if _, err := v.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(v.bucket),
			Delete: &types.Delete{Objects: ids},
		}); err != nil {
			return fmt.Errorf("s3vfs: batch delete under %q: %w", prefix, err)
		}
		if !aws.ToBool(resp.IsTruncated) {
			break
		}
		token = resp.NextContinuationToken
	}
	return nil
}

func (v *VFS) MoveDir(ctx context.Context, oldURI, newURI string) error {
	entries, err := v.Ls(ctx, oldURI)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir {
			if err := v.MoveDir(ctx, path.Join(oldURI, e.Name), path.Join(newURI, e.Name)); err != nil {
				return err
			}
			continue
		}
		data, err := v.Read(ctx, path.Join(oldURI, e.Name), 0, maxObjectSizeForAppend)
		if err != nil {
			return err
		}
		if err := v.Write(ctx, path.Join(newURI, e.Name), data); err != nil {
			return err
		}
		if err := v.RemoveFile(ctx, path.Join(oldURI, e.Name)); err != nil {
			return err
		}
	}
	return nil
}

func (v *VFS) CancelAllTasks(ctx context.Context) error {
	// The AWS SDK's context cancellation already tears down in-flight HTTP
	// requests made with that context; there is no separate queue to drain.
	logger.Debug("s3vfs: cancel requested, relying on context cancellation for in-flight requests")
	return nil
}

func (v *VFS) Terminate(ctx context.Context) error {
	return nil
}
