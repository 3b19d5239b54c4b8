// vitalsd is the wearable time-series storage daemon. It opens the store
// and runs the daily archival and retention job.
package main

import (
	"context"
	"errors"
	"flag"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/xtxerr/vitals/internal/logging"
	"github.com/xtxerr/vitals/internal/storage"
	"github.com/xtxerr/vitals/internal/storage/config"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	// CLI flags
	cfgPath := flag.String("config", "config.yaml", "config file path")
	dsn := flag.String("dsn", "", "database path (overrides config)")
	exportDir := flag.String("export-dir", "", "cold export directory (overrides config, enables export)")
	logLevel := flag.String("log-level", "", "log level (overrides config)")
	runOnce := flag.Bool("run-once", false, "run the daily job once and exit")
	flag.Parse()

	// Load config
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg = config.DefaultConfig()
		} else {
			logging.Init(logging.ParseLevel("info"), false)
			logging.Component("vitalsd").Error("load config", "path", *cfgPath, "error", err)
			os.Exit(1)
		}
	}

	// CLI overrides
	if *dsn != "" {
		cfg.Database.DSN = *dsn
	}
	if *exportDir != "" {
		cfg.Export.Enabled = true
		cfg.Export.Dir = *exportDir
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}

	logging.Init(logging.ParseLevel(cfg.Logging.Level), cfg.Logging.JSON)
	logger := logging.Component("vitalsd")
	logger.Info("vitalsd starting", "version", Version, "config", *cfgPath)

	svc, err := storage.New(cfg)
	if err != nil {
		logger.Error("create storage service", "error", err)
		os.Exit(1)
	}

	if *runOnce {
		result, err := svc.RunArchival(context.Background())
		if stopErr := svc.Stop(); stopErr != nil {
			logger.Warn("stop storage service", "error", stopErr)
		}
		if err != nil {
			logger.Error("archival run failed", "error", err)
			os.Exit(1)
		}
		logger.Info("archival run complete", "plan", result.Plan.String(), "rows", result.Rows())
		return
	}

	if err := svc.Start(); err != nil {
		logger.Error("start storage service", "error", err)
		os.Exit(1)
	}

	// =========================================================================
	// Signal Handling and Graceful Shutdown
	// =========================================================================

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("shutting down")
	if err := svc.Stop(); err != nil {
		logger.Warn("stop storage service", "error", err)
		os.Exit(1)
	}
}
