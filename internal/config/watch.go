package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchDebounce coalesces the burst of fsnotify events most editors emit on
// save.
const watchDebounce = 250 * time.Millisecond

// Watch reloads the config whenever the file at path changes and calls
// onChange with the fresh config. It blocks until ctx is done. A file that
// fails to reload keeps the previous config in effect (logged, not fatal).
func Watch(ctx context.Context, path string, log *slog.Logger, onChange func(*Config)) error {
	if path == "" {
		path = DefaultPath()
	}
	if log == nil {
		log = slog.Default()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// Watch the directory; the file itself may be replaced atomically.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return err
	}

	var timer *time.Timer
	fire := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != filepath.Clean(path) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(watchDebounce, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn("config watcher error", "error", err)
		case <-fire:
			cfg, err := Load(path)
			if err != nil {
				log.Warn("config reload failed, keeping previous", "path", path, "error", err)
				continue
			}
			log.Info("config reloaded", "path", path)
			onChange(cfg)
		}
	}
}
