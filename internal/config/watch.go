package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceDelay coalesces the burst of events editors emit on save
// (create temp, write, rename over the original).
const debounceDelay = 250 * time.Millisecond

// Watch monitors the config file for changes and pushes validated reloads
// into the Holder, notifying onReload after each successful swap. Invalid
// edits are logged and ignored — the previous config stays active. Watch
// blocks until ctx is cancelled; callers run it in a goroutine.
//
// The parent directory is watched rather than the file itself because most
// editors replace files by rename, which would silently detach a file-level
// watch.
func Watch(ctx context.Context, holder *Holder, logger *slog.Logger, onReload func(*Config)) error {
	path := holder.Path()
	if path == "" {
		return fmt.Errorf("config: watch requires a config file path")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: creating watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("config: watching %s: %w", dir, err)
	}

	logger.Debug("config watcher started", slog.String("file", path))

	var debounce *time.Timer

	debounceCh := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			if filepath.Clean(event.Name) != filepath.Clean(path) {
				continue
			}

			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}

			if debounce != nil {
				debounce.Stop()
			}

			debounce = time.AfterFunc(debounceDelay, func() {
				select {
				case debounceCh <- struct{}{}:
				default:
				}
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}

			logger.Warn("config watcher error", slog.String("error", err.Error()))

		case <-debounceCh:
			reload(holder, logger, onReload)
		}
	}
}

func reload(holder *Holder, logger *slog.Logger, onReload func(*Config)) {
	cfg, err := Load(holder.Path())
	if err != nil {
		logger.Warn("config reload rejected, keeping previous config",
			slog.String("error", err.Error()))

		return
	}

	holder.Update(cfg)
	logger.Info("config reloaded",
		slog.String("log_level", cfg.Logging.LogLevel),
		slog.Int("batch_size", cfg.Sync.BatchSize),
		slog.Int("concurrent_images", cfg.Sync.ConcurrentImages),
	)

	if onReload != nil {
		onReload(cfg)
	}
}
