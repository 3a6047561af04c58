package main

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/jpalmerr/telempoll/config"
)

// reloadDebounce collapses the burst of events an editor save produces.
const reloadDebounce = 200 * time.Millisecond

// watchAndServe runs the task and restarts it whenever the config file
// changes to a new valid configuration.
func watchAndServe(ctx context.Context, path string, cfg *config.Config, logger *slog.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	// watch the directory so editors that replace the file are still seen
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", path, err)
	}

	reloads := make(chan *config.Config)
	go watchConfig(ctx, watcher, path, logger, reloads)

	for {
		runCtx, cancel := context.WithCancel(ctx)
		errChan := make(chan error, 1)
		go func(cfg *config.Config) {
			errChan <- serve(runCtx, cfg, logger)
		}(cfg)

		select {
		case err := <-errChan:
			cancel()
			return err

		case next := <-reloads:
			cancel()
			if err := <-errChan; err != nil {
				logger.Warn("previous task ended with error", "error", err)
			}
			cfg = next
			logger.Info("config reloaded", "path", path, "task", cfg.Name)

		case <-ctx.Done():
			err := <-errChan
			cancel()
			return err
		}
	}
}

// watchConfig sends every valid new configuration on reloads until ctx is
// cancelled. Invalid files are logged and skipped.
func watchConfig(ctx context.Context, watcher *fsnotify.Watcher, path string, logger *slog.Logger, reloads chan<- *config.Config) {
	name := filepath.Clean(path)
	var pending <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != name || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			pending = time.After(reloadDebounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.Warn("config watcher error", "error", err)

		case <-pending:
			pending = nil
			cfg, err := loadConfig(ctx, path)
			if err != nil {
				logger.Warn("config reload rejected", "path", path, "error", err)
				continue
			}
			select {
			case reloads <- cfg:
			case <-ctx.Done():
				return
			}
		}
	}
}
