package config

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads a config file whenever it changes on disk and hands each
// valid result to OnChange. Invalid files are logged and skipped, so the
// previous config stays active.
type Watcher struct {
	path     string
	onChange func(*Config)
}

// NewWatcher creates a Watcher for path.
func NewWatcher(path string, onChange func(*Config)) *Watcher {
	return &Watcher{path: filepath.Clean(path), onChange: onChange}
}

// Name returns the worker identifier.
func (w *Watcher) Name() string { return "config_watcher" }

// Run watches until ctx is cancelled. The parent directory is watched
// rather than the file so atomic saves (write temp, rename over) are seen.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		return err
	}
	slog.Info("watching config for changes", "path", w.path)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			cfg, err := Load(w.path)
			if err != nil {
				slog.Error("config reload failed, keeping previous config",
					"path", w.path, "error", err)
				continue
			}
			slog.Info("config reloaded", "path", w.path)
			w.onChange(cfg)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			slog.Error("config watcher error", "error", err)
		}
	}
}
