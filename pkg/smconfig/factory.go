package smconfig

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/mitchellh/mapstructure"

	"github.com/marmos91/dittofs/pkg/vfs"
	"github.com/marmos91/dittofs/pkg/vfs/badgervfs"
	"github.com/marmos91/dittofs/pkg/vfs/localfs"
	"github.com/marmos91/dittofs/pkg/vfs/memvfs"
	"github.com/marmos91/dittofs/pkg/vfs/s3vfs"
)

// fileVFSConfig is the decoded shape of vfs.file.*.
type fileVFSConfig struct {
	Root string `mapstructure:"root"`
}

// s3VFSConfig is the decoded shape of vfs.s3.*.
type s3VFSConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	Region          string `mapstructure:"region"`
	Bucket          string `mapstructure:"bucket"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	KeyPrefix       string `mapstructure:"key_prefix"`
	PartSize        int64  `mapstructure:"part_size"`
}

// badgerVFSConfig is the decoded shape of vfs.badger.*.
type badgerVFSConfig struct {
	Dir string `mapstructure:"dir"`
}

// CreateVFS builds the VFS backend selected by cfg.VFS.Scheme. This
// mirrors the teacher's store factory shape (pkg/config/stores.go):
// a type-switch over a "which implementation" string field, each branch
// decoding its own map[string]any sub-config with mapstructure before
// constructing the concrete store.
func CreateVFS(ctx context.Context, cfg VFSConfig) (vfs.VFS, error) {
	switch cfg.Scheme {
	case "file":
		return createLocalVFS(cfg)
	case "mem":
		return memvfs.New(), nil
	case "s3":
		return createS3VFS(ctx, cfg)
	case "badger":
		return createBadgerVFS(cfg)
	default:
		return nil, fmt.Errorf("unknown vfs scheme: %q", cfg.Scheme)
	}
}

func createLocalVFS(cfg VFSConfig) (vfs.VFS, error) {
	var fc fileVFSConfig
	if err := mapstructure.Decode(cfg.File, &fc); err != nil {
		return nil, fmt.Errorf("invalid vfs.file config: %w", err)
	}
	v, err := localfs.New(fc.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to open local vfs at %q: %w", fc.Root, err)
	}
	return v, nil
}

func createS3VFS(ctx context.Context, cfg VFSConfig) (vfs.VFS, error) {
	var sc s3VFSConfig
	if err := mapstructure.Decode(cfg.S3, &sc); err != nil {
		return nil, fmt.Errorf("invalid vfs.s3 config: %w", err)
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(sc.Region),
	}
	if sc.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(sc.AccessKeyID, sc.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if sc.Endpoint != "" {
			o.BaseEndpoint = aws.String(sc.Endpoint)
			o.UsePathStyle = true
		}
	})

	v, err := s3vfs.New(s3vfs.Config{
		Client:    client,
		Bucket:    sc.Bucket,
		KeyPrefix: sc.KeyPrefix,
		PartSize:  sc.PartSize,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to construct s3 vfs: %w", err)
	}
	return v, nil
}

func createBadgerVFS(cfg VFSConfig) (vfs.VFS, error) {
	var bc badgerVFSConfig
	if err := mapstructure.Decode(cfg.Badger, &bc); err != nil {
		return nil, fmt.Errorf("invalid vfs.badger config: %w", err)
	}
	v, err := badgervfs.Open(bc.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger vfs at %q: %w", bc.Dir, err)
	}
	return v, nil
}
