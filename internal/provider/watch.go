package provider

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDelay lets an editor finish writing before the file is read.
const reloadDelay = 50 * time.Millisecond

// Watch reloads the providers file into store whenever it changes, until ctx is
// cancelled. The directory is watched rather than the file so that editors that
// save by rename are picked up. A file that fails to load leaves the store as is.
// onReload, when non-nil, is called after every reload attempt.
func Watch(ctx context.Context, path string, store *Store, onReload func(error)) error {
	path = filepath.Clean(path)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch %s: %w", path, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			time.Sleep(reloadDelay)

			err := reload(path, store)
			if err != nil {
				slog.Warn("providers reload failed", "component", "provider", "path", path, "error", err)
			} else {
				slog.Info("providers reloaded", "component", "provider", "path", path, "active", store.Snapshot().Name)
			}
			if onReload != nil {
				onReload(err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("providers watcher error", "component", "provider", "error", err)
		}
	}
}

func reload(path string, store *Store) error {
	f, err := LoadFile(path)
	if err != nil {
		return err
	}
	return store.Replace(f.Providers, f.Active)
}
