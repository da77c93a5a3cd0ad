// Command arraysmd runs a standalone storage-manager process: it opens a
// VFS backend per configuration, wires it into a pkg/sm.StorageManager,
// registers that coordinator for signal-driven shutdown, and then just
// waits — this binary exists to exercise the storage manager end to end
// (array open/close/reopen, async queries, cancellation) behind a single
// process boundary, the way a real TileDB REST server or embedding host
// would use it.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"

	"github.com/marmos91/dittofs/internal/coordset"
	"github.com/marmos91/dittofs/internal/logger"
	"github.com/marmos91/dittofs/pkg/sm"
	"github.com/marmos91/dittofs/pkg/smconfig"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (default: $XDG_CONFIG_HOME/arraysmd/config.yaml)")
	logLevel := flag.String("log-level", "", "Override logging.level from the config file")
	flag.Parse()

	cfg, err := smconfig.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	logger.SetLevel(cfg.Logging.Level)

	fmt.Println("arraysmd - array storage manager")
	logger.Info("VFS backend: %s", cfg.VFS.Scheme)
	logger.Info("Tile cache size: %s", humanize.Bytes(uint64(cfg.SM.TileCacheSize)))
	logger.Info("Async threads: %d, reader threads: %d", cfg.SM.NumAsyncThreads, cfg.SM.NumReaderThreads)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	backend, err := smconfig.CreateVFS(ctx, cfg.VFS)
	if err != nil {
		log.Fatalf("Failed to initialize VFS backend: %v", err)
	}

	storage := sm.New(backend, sm.Config{
		NumAsyncThreads:          cfg.SM.NumAsyncThreads,
		NumReaderThreads:         cfg.SM.NumReaderThreads,
		NumWriterThreads:         cfg.SM.NumWriterThreads,
		TileCacheSize:            cfg.SM.TileCacheSize,
		AsyncSubmitRatePerSecond: cfg.SM.AsyncSubmitBurst,
	})

	coordset.Register("default", storage)
	defer coordset.Unregister("default")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("arraysmd is running. Press Ctrl+C to stop.")
	<-sigChan

	logger.Info("Shutdown signal received, cancelling in-flight tasks and closing storage manager...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.SM.ShutdownTimeout)
	defer shutdownCancel()

	if err := coordset.ShutdownAll(shutdownCtx); err != nil {
		logger.Error("Shutdown error: %v", err)
		os.Exit(1)
	}
	logger.Info("arraysmd stopped gracefully")
}
