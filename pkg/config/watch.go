package config

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watch reloads the global configuration whenever the config file changes.
// It blocks until the context is cancelled. The file may not exist yet, so
// the watch is on its directory.
func Watch(ctx context.Context, log zerolog.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()

	path := Get().ConfigFilePath()
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return err
	}
	log.Info().Str("path", path).Msg("config: watching")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Name != path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := Reload(); err != nil {
				log.Error().Err(err).Msg("config: reload failed")
				continue
			}
			log.Info().Msg("config: reloaded")
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Error().Err(err).Msg("config: watcher error")
		}
	}
}
