package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"prodsync/internal/config"
	"prodsync/internal/httpapi"
	"prodsync/internal/syncer"
)

// readHeaderTimeout bounds slow-header clients on the API listener.
const readHeaderTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the sync HTTP API server",
		Long: `Start the long-running server: HTTP API for triggering and controlling
sync runs, websocket progress streaming, consistency validation and repair,
and a health endpoint.

Edits to the config file are picked up live for batch size, image download
concurrency, and log level. Other settings need a restart.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}

	cmd.Flags().String("listen", "", "listen address (overrides config)")
	cmd.Flags().Int("batch-size", 0, "records per progress batch (overrides config)")
	cmd.Flags().Int("concurrent-images", 0, "parallel image downloads (overrides config)")

	return cmd
}

func runServe(parent context.Context) error {
	cfg := resolvedCfg
	logger := buildLogger()

	deps, err := buildDeps(parent, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.Close()

	// Runs that died with the previous process must not look active.
	if n, err := deps.store.MarkInterruptedSyncs(parent); err != nil {
		return fmt.Errorf("marking interrupted syncs: %w", err)
	} else if n > 0 {
		logger.Warn("marked interrupted sync runs as failed", slog.Int64("count", n))
	}

	if cfg.Server.PidFile != "" {
		cleanup, err := writePIDFile(cfg.Server.PidFile)
		if err != nil {
			return err
		}
		defer cleanup()
	}

	ctx := shutdownContext(parent, logger)

	api := httpapi.New(
		deps.engine, deps.store, deps.checker,
		deps.store, deps.objects, deps.feishu,
		httpapi.Config{CORSOrigins: cfg.Server.CORSOrigins},
		logger,
	)

	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	startConfigWatch(ctx, cfg, deps.engine, logger)

	errCh := make(chan error, 1)

	go func() {
		logger.Info("server listening", slog.String("addr", cfg.Server.ListenAddr))

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	return shutdownServer(cfg, deps.engine, srv, logger)
}

// startConfigWatch reloads tunable settings from the config file while the
// server runs. Watch failure is not fatal; the server keeps the settings it
// started with.
func startConfigWatch(ctx context.Context, cfg *config.Config, engine *syncer.Engine, logger *slog.Logger) {
	path := configPath()
	if _, err := os.Stat(path); err != nil {
		logger.Debug("no config file to watch", slog.String("path", path))

		return
	}

	holder := config.NewHolder(cfg, path)

	go func() {
		err := config.Watch(ctx, holder, logger, func(next *config.Config) {
			engine.UpdateTuning(next.Sync.BatchSize, next.Sync.ConcurrentImages)
			logLevel.Set(parseLogLevel(next.Logging.LogLevel))
		})
		if err != nil {
			logger.Warn("config watcher stopped", slog.String("error", err.Error()))
		}
	}()
}

// shutdownServer cancels any in-flight run, then drains the listener within
// the configured timeout.
func shutdownServer(cfg *config.Config, engine *syncer.Engine, srv *http.Server, logger *slog.Logger) error {
	timeout := cfg.Server.ShutdownTimeoutDuration()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if current, _, err := engine.Status(shutdownCtx); err == nil && current != nil {
		logger.Info("cancelling in-flight sync run", slog.String("sync_id", current.SyncID))

		if err := engine.Control(shutdownCtx, syncer.ActionCancel, current.SyncID); err != nil &&
			!errors.Is(err, syncer.ErrNoActiveSync) {
			logger.Warn("cancel on shutdown failed", slog.String("error", err.Error()))
		}
	}

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	logger.Info("server stopped")

	return nil
}
