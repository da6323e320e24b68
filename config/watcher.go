package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/robertmeta/strip-cli/model"
	"github.com/rs/zerolog"
)

// DefaultReloadDelay coalesces the burst of events an editor produces when
// saving a file.
const DefaultReloadDelay = 500 * time.Millisecond

// SettingsWatcher delivers re-validated settings whenever the settings file
// changes on disk.
type SettingsWatcher struct {
	path        string
	logger      zerolog.Logger
	watcher     *fsnotify.Watcher
	updates     chan model.Settings
	reloadDelay time.Duration
}

// NewSettingsWatcher watches the directory containing path. The directory is
// watched rather than the file so that atomic replacements are seen.
func NewSettingsWatcher(path string, reloadDelay time.Duration, logger zerolog.Logger) (*SettingsWatcher, error) {
	if reloadDelay <= 0 {
		reloadDelay = DefaultReloadDelay
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve settings path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	dir := filepath.Dir(abs)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch settings directory '%s': %w", dir, err)
	}

	return &SettingsWatcher{
		path:        abs,
		logger:      logger.With().Str("module", "SettingsWatcher").Logger(),
		watcher:     watcher,
		updates:     make(chan model.Settings, 1),
		reloadDelay: reloadDelay,
	}, nil
}

// Updates returns the channel of reloaded settings. It is closed when Run
// returns.
func (w *SettingsWatcher) Updates() <-chan model.Settings {
	return w.updates
}

// Run processes file events until ctx is done. Invalid settings are logged
// and skipped; the previous settings stay in effect.
func (w *SettingsWatcher) Run(ctx context.Context) error {
	defer close(w.updates)
	defer w.watcher.Close()

	reloadTimer := time.NewTimer(w.reloadDelay)
	reloadTimer.Stop()
	defer reloadTimer.Stop()

	w.logger.Info().Str("path", w.path).Msg("Watching settings file")

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.logger.Debug().Str("op", event.Op.String()).Msg("Settings file change detected")
			reloadTimer.Reset(w.reloadDelay)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error().Err(err).Msg("File watcher error")

		case <-reloadTimer.C:
			settings, err := LoadSettings(w.path)
			if err != nil {
				w.logger.Error().Err(err).Msg("Failed to reload settings, keeping previous values")
				continue
			}
			w.logger.Info().
				Bool("enabled", settings.Effective().Enabled).
				Str("time", settings.Fetch.TimeOfDay()).
				Msg("Settings reloaded")

			select {
			case w.updates <- settings:
			case <-ctx.Done():
				return nil
			}
		}
	}
}
