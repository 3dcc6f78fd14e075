package config

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"

	"github.com/agencybridge/sidecar/internal/logging"
)

// WatchEnv monitors the env file for credential rotations. On change
// it reloads the file into the process environment and invokes
// onRotate so callers can drop sessions minted with the old secrets.
// It blocks until the context is cancelled.
func WatchEnv(ctx context.Context, envPath string, onRotate func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	// Editors replace files rather than writing in place, so watch the
	// directory and filter events by name.
	dir := filepath.Dir(envPath)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	base := filepath.Base(envPath)
	logging.Infof("watching %s for credential rotation", envPath)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if err := godotenv.Overload(envPath); err != nil {
				logging.Warnf("reload %s: %v", envPath, err)
				continue
			}
			logging.Infof("%s changed, credentials reloaded", base)
			if onRotate != nil {
				onRotate()
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logging.Warnf("env watcher: %v", err)
		}
	}
}
