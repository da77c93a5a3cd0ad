// Package smconfig loads and validates configuration for an arraysmd
// storage manager process: which VFS backend backs the array root, how
// many worker goroutines each pool gets, and how large the tile cache is.
package smconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the complete configuration for a storage manager process.
//
// Configuration sources, in order of precedence:
//  1. Environment variables (ARRAYSMD_*)
//  2. Configuration file (YAML)
//  3. Default values (lowest priority)
type Config struct {
	Logging LoggingConfig `mapstructure:"logging"`
	SM      SMConfig      `mapstructure:"sm"`
	VFS     VFSConfig     `mapstructure:"vfs"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`
}

// SMConfig controls the storage manager's internal worker pools and cache.
type SMConfig struct {
	// NumAsyncThreads sizes the async query gateway's worker pool.
	NumAsyncThreads int `mapstructure:"num_async_threads" validate:"required,gt=0"`

	// NumReaderThreads bounds parallelism when loading fragment metadata
	// for a single array open.
	NumReaderThreads int `mapstructure:"num_reader_threads" validate:"required,gt=0"`

	// NumWriterThreads is reserved for future write-path parallelism; the
	// storage manager accepts and validates it today even though nothing
	// yet reads it, mirroring how the teacher's ServerConfig carries
	// fields ahead of the code paths that consume them.
	NumWriterThreads int `mapstructure:"num_writer_threads" validate:"required,gt=0"`

	// TileCacheSize is the tile cache's byte budget. ApplyDefaults replaces
	// zero with the default, so a Config returned by Load always has
	// caching enabled.
	TileCacheSize int64 `mapstructure:"tile_cache_size" validate:"gte=0"`

	// AsyncSubmitBurst bounds how many async submissions per second the
	// gateway accepts before callers start waiting.
	AsyncSubmitBurst float64 `mapstructure:"async_submit_burst" validate:"gte=0"`

	// ShutdownTimeout is the deadline of the context cmd/arraysmd passes to
	// CancelAllTasks and Close at shutdown. The wait for in-flight queries
	// inside CancelAllTasks and the wait for async workers inside Close do
	// not observe that deadline.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0"`
}

// VFSConfig selects the virtual filesystem backend and carries its
// backend-specific sub-configuration. Only the section matching Scheme
// is consulted; the others are ignored.
type VFSConfig struct {
	// Scheme picks the backend. Valid values: file, mem, s3, badger.
	Scheme string `mapstructure:"scheme" validate:"required,oneof=file mem s3 badger"`

	// File contains local-filesystem-specific configuration.
	File map[string]any `mapstructure:"file"`

	// S3 contains S3-specific configuration.
	S3 map[string]any `mapstructure:"s3"`

	// Badger contains embedded-KV-store-specific configuration.
	Badger map[string]any `mapstructure:"badger"`
}

// Load reads configuration from file, environment, and defaults, then
// validates the result.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	if err := readConfigFile(v, configPath); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("ARRAYSMD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		return
	}

	configDir := getConfigDir()
	v.AddConfigPath(configDir)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
}

func readConfigFile(v *viper.Viper, configPath string) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "arraysmd")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "arraysmd")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}
