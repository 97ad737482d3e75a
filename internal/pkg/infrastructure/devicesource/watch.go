package devicesource

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/fsnotify/fsnotify"

	"github.com/diwise/integration-fieldbus/internal/pkg/application/registry"
)

// Watch reloads the device file at path whenever it is written or replaced
// and hands the new entries to onChange. A file that fails to load is logged
// and onChange is not called, so the previous snapshot stays active. Watch
// runs until ctx is cancelled.
func Watch(ctx context.Context, path string, onChange func([]registry.Entry)) error {
	path = filepath.Clean(path)
	logger := logging.GetFromContext(ctx).With().Str("path", path).Logger()

	if _, err := os.Stat(path); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// a save by rename replaces the inode, so the directory is watched
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return err
	}

	logger.Info().Msg("watching device file for changes")

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

			if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				logger.Warn().Msg("device file moved or removed, keeping previous registry")
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			entries, err := FromFile(path)
			if err != nil {
				logger.Error().Err(err).Msg("device file reload failed, keeping previous registry")
				continue
			}

			logger.Info().Int("entries", len(entries)).Msg("device file reloaded")
			onChange(entries)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Error().Err(err).Msg("device file watcher error")
		}
	}
}

// Poll fetches the registry from url every interval and hands the entries to
// onChange. A failed fetch keeps the previous snapshot. Poll runs until ctx
// is cancelled.
func Poll(ctx context.Context, url string, interval time.Duration, onChange func([]registry.Entry)) {
	logger := logging.GetFromContext(ctx).With().Str("url", url).Logger()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			entries, err := FromURL(ctx, url)
			if err != nil {
				logger.Error().Err(err).Msg("device registry refresh failed, keeping previous registry")
				continue
			}
			onChange(entries)
		}
	}
}
