package smconfig

import (
	"strings"
	"time"
)

// ApplyDefaults fills zero-valued fields with sensible defaults and keeps
// non-zero values. A zero value is treated as unset, so an explicit zero is
// replaced as well: tile_cache_size 0 becomes the 256MiB default rather
// than disabling the cache, and async_submit_burst 0 becomes 100 rather
// than an unlimited rate.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applySMDefaults(&cfg.SM)
	applyVFSDefaults(&cfg.VFS)
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)
}

func applySMDefaults(cfg *SMConfig) {
	if cfg.NumAsyncThreads == 0 {
		cfg.NumAsyncThreads = 4
	}
	if cfg.NumReaderThreads == 0 {
		cfg.NumReaderThreads = 8
	}
	if cfg.NumWriterThreads == 0 {
		cfg.NumWriterThreads = 4
	}
	if cfg.TileCacheSize == 0 {
		cfg.TileCacheSize = 256 << 20 // 256MiB
	}
	if cfg.AsyncSubmitBurst == 0 {
		cfg.AsyncSubmitBurst = 100
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

func applyVFSDefaults(cfg *VFSConfig) {
	if cfg.Scheme == "" {
		cfg.Scheme = "file"
	}
	if cfg.File == nil {
		cfg.File = make(map[string]any)
	}
	if cfg.S3 == nil {
		cfg.S3 = make(map[string]any)
	}
	if cfg.Badger == nil {
		cfg.Badger = make(map[string]any)
	}

	if _, ok := cfg.File["root"]; !ok {
		cfg.File["root"] = "/var/lib/arraysmd/arrays"
	}
	if _, ok := cfg.Badger["dir"]; !ok {
		cfg.Badger["dir"] = "/var/lib/arraysmd/badger"
	}
}
