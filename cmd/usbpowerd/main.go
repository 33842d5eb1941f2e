// USB Power Core - selective suspend control service
//
// This is the main entry point for the USB Power Core daemon. It enumerates
// USB device configuration entries, keeps an in-memory device set in step
// with the system store, applies power-management flag writes through a
// privilege-aware broker and serves the result to local UIs over HTTP and
// WebSocket.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/usbflow/usbpower-core/internal/api"
	"github.com/usbflow/usbpower-core/internal/audit"
	"github.com/usbflow/usbpower-core/internal/elevate"
	"github.com/usbflow/usbpower-core/internal/infrastructure/config"
	"github.com/usbflow/usbpower-core/internal/infrastructure/database"
	"github.com/usbflow/usbpower-core/internal/infrastructure/logging"
	"github.com/usbflow/usbpower-core/internal/reconcile"
	"github.com/usbflow/usbpower-core/internal/regstore"
	"github.com/usbflow/usbpower-core/internal/usb"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// helperBinaryName is the elevated helper expected beside the daemon when
// no explicit path is configured.
const helperBinaryName = "usbpower-helper.exe"

// auditPruneInterval is how often expired audit entries are removed.
const auditPruneInterval = time.Hour

func main() {
	// Cancel on interrupt signals (Ctrl+C, SIGTERM) for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting USB Power Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open the audit database
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	if err := db.Bootstrap(ctx); err != nil {
		return fmt.Errorf("bootstrapping schema: %w", err)
	}

	auditRepo := audit.NewRepository(db, log)

	// Device store, scanner and write broker
	store := regstore.NewPlatform()
	scanner := usb.NewScanner(store, cfg.Registry.Root, log)

	helperPath, err := resolveHelperPath(cfg.Elevation.HelperPath)
	if err != nil {
		return fmt.Errorf("resolving helper path: %w", err)
	}
	log.Info("elevated helper configured", "path", helperPath)

	broker := elevate.NewBroker(store, elevate.NewPlatformLauncher(helperPath), elevate.Options{
		Timeout:      cfg.Elevation.Timeout,
		PollInterval: cfg.Elevation.PollInterval,
		WorkDir:      cfg.Elevation.WorkDir,
	}, log)

	reconciler := reconcile.New(scanner, broker, auditRepo, cfg.Reconcile.Interval, log)

	// API server
	server, err := api.New(api.Deps{
		Config:     cfg.API,
		WS:         cfg.WebSocket,
		Logger:     log,
		Reconciler: reconciler,
		Audit:      auditRepo,
		Version:    version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	// Wire device set updates to WebSocket subscribers before either side starts
	reconciler.AddListener(server.DeviceListener())

	// Reconciliation loop
	recDone := make(chan error, 1)
	go func() { recDone <- reconciler.Run(ctx) }()

	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()
	log.Info("API server started", "host", cfg.API.Host, "port", cfg.API.Port)

	// Periodic audit pruning
	go pruneAuditLoop(ctx, auditRepo, cfg.Audit.Retention, log)

	log.Info("USB Power Core running")

	// Block until shutdown signal or reconciler failure
	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-recDone:
		if err != nil && ctx.Err() == nil {
			return fmt.Errorf("reconciler stopped: %w", err)
		}
	}

	return nil
}

// pruneAuditLoop removes audit entries past the retention window.
func pruneAuditLoop(ctx context.Context, repo *audit.Repository, retention time.Duration, log *logging.Logger) {
	ticker := time.NewTicker(auditPruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := repo.Prune(ctx, time.Now().Add(-retention)); err != nil {
				log.Error("audit prune failed", "error", err)
			}
		}
	}
}

// resolveHelperPath returns the configured helper path, or the helper binary
// beside the running executable when none is configured.
func resolveHelperPath(configured string) (string, error) {
	if configured != "" {
		return filepath.Abs(configured)
	}
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("locating executable: %w", err)
	}
	return filepath.Join(filepath.Dir(exe), helperBinaryName), nil
}

// getConfigPath returns the configuration file path.
// Uses USBPOWER_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("USBPOWER_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
