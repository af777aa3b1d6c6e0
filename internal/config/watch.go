package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 300 * time.Millisecond

// Watch reloads the config file at path whenever it changes and passes
// the result to onChange. Editors that save via rename are handled by
// watching the parent directory. Invalid files are logged and skipped.
// Watch blocks until ctx is done.
func Watch(ctx context.Context, path string, current *Config, onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}
	defer watcher.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}
	slog.Info("watching config for changes", "path", abs)

	lastHash := ""
	if current != nil {
		lastHash = current.Hash()
	}
	var pending <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			pending = time.After(reloadDebounce)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("config watcher error", "error", err)
		case <-pending:
			pending = nil
			cfg, err := Load(abs)
			if err != nil {
				slog.Warn("config reload failed, keeping previous config", "path", abs, "error", err)
				continue
			}
			if h := cfg.Hash(); h == lastHash {
				continue
			} else {
				lastHash = h
			}
			slog.Info("config reloaded", "path", abs)
			onChange(cfg)
		}
	}
}
