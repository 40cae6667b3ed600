package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/muurk/wbemd/internal/logging"
	"go.uber.org/zap"
)

// reloadDelay coalesces the burst of events an editor produces on save.
const reloadDelay = 100 * time.Millisecond

// Watch follows the configuration file at path and calls onChange with each
// new version that parses and validates. Invalid versions are logged and
// skipped. Watch blocks until ctx is done.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	resolved, err := ResolvePath(path)
	if err != nil {
		return fmt.Errorf("config path: %w", err)
	}
	resolved, err = filepath.Abs(resolved)
	if err != nil {
		return fmt.Errorf("absolute config path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("file watcher: %w", err)
	}
	defer watcher.Close()

	// The directory is watched so that atomic renames are seen.
	if err := watcher.Add(filepath.Dir(resolved)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(resolved), err)
	}
	logging.Debug("Watching configuration", zap.String("path", resolved))

	timer := time.NewTimer(reloadDelay)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != resolved {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				timer.Reset(reloadDelay)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logging.Warn("Configuration watcher error", zap.Error(err))

		case <-timer.C:
			cfg, err := Load(resolved)
			if err != nil {
				logging.Warn("Ignoring invalid configuration change",
					zap.String("path", resolved),
					zap.Error(err),
				)
				continue
			}
			logging.Info("Configuration reloaded", zap.String("path", resolved))
			onChange(cfg)
		}
	}
}
