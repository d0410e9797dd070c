package rules

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the engine whenever its policy file changes, until ctx ends.
// The parent directory is watched so that editors replacing the file are seen.
// It is a no-op for engines using the embedded policy.
func (e *Engine) Watch(ctx context.Context) error {
	if e.path == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create food rules watcher: %w", err)
	}
	defer watcher.Close()

	target := filepath.Clean(e.path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(target), err)
	}
	slog.Info("Engine.Watch: watching food rules", "path", target)

	for {
		select {
		case <-ctx.Done():
			slog.Debug("Engine.Watch: stopping", "path", target)
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				// A failed reload keeps the previous policy and is already logged.
				_ = e.Reload()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("Engine.Watch: watcher error", "error", err)
		}
	}
}
