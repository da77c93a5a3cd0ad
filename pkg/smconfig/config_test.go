package smconfig

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestApplyDefaultsFillsZeroValues(t *testing.T) {
	var cfg Config
	ApplyDefaults(&cfg)

	require.Equal(t, "INFO", cfg.Logging.Level)
	require.Equal(t, 4, cfg.SM.NumAsyncThreads)
	require.Equal(t, 8, cfg.SM.NumReaderThreads)
	require.Equal(t, "file", cfg.VFS.Scheme)
	require.NotEmpty(t, cfg.VFS.File["root"])

	require.NoError(t, Validate(&cfg))
}

func TestValidateRejectsMissingBucketForS3Scheme(t *testing.T) {
	cfg := Config{VFS: VFSConfig{Scheme: "s3", S3: map[string]any{}}}
	ApplyDefaults(&cfg)

	err := Validate(&cfg)
	require.Error(t, err)
	require.Contains(t, err.Error(), "vfs.s3.bucket")
}

func TestValidateRejectsZeroAsyncThreads(t *testing.T) {
	cfg := Config{SM: SMConfig{NumAsyncThreads: 0}}
	cfg.SM.NumReaderThreads = 1
	cfg.SM.NumWriterThreads = 1
	cfg.SM.ShutdownTimeout = 1
	cfg.VFS.Scheme = "mem"
	cfg.Logging.Level = "INFO"

	err := Validate(&cfg)
	require.Error(t, err)
}
