package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 250 * time.Millisecond

// Watch reloads path into cfg whenever the file changes, until ctx is done.
// The parent directory is watched so editors that replace the file via rename
// are picked up. Parse errors keep the previous config.
func Watch(ctx context.Context, path string, cfg *Config, onReload func()) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config watcher: %w", err)
	}
	defer w.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("config watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("config watcher: %w", err)
	}

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
			} else {
				timer.Reset(reloadDebounce)
			}
			fire = timer.C

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			slog.Warn("config watcher error", "error", err)

		case <-fire:
			fire = nil
			reload(path, cfg, onReload)
		}
	}
}

func reload(path string, cfg *Config, onReload func()) {
	next, err := Load(path)
	if err != nil {
		slog.Warn("config reload failed, keeping previous", "path", path, "error", err)
		return
	}
	if next.Hash() == cfg.Hash() {
		return
	}
	cfg.ReplaceFrom(next)
	slog.Info("config reloaded", "path", path)
	if onReload != nil {
		onReload()
	}
}
