package watcher

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"

	"github.com/chilla55/backup-dashboard/config"
)

// ReloadFunc receives every configuration that loaded and validated.
type ReloadFunc func(cfg *config.Config)

// ConfigWatcher reloads the dashboard configuration when its file changes
type ConfigWatcher struct {
	path     string
	onReload ReloadFunc
	debounce time.Duration

	mu         sync.Mutex
	lastReload time.Time
	cooldown   time.Duration
}

// NewConfigWatcher creates a watcher for the YAML file at path
func NewConfigWatcher(path string, onReload ReloadFunc) *ConfigWatcher {
	return &ConfigWatcher{
		path:     filepath.Clean(path),
		onReload: onReload,
		debounce: 200 * time.Millisecond, // editors write in several steps
		cooldown: time.Second,
	}
}

// Start watches until ctx is done. The parent directory is watched so
// that replace-by-rename (ConfigMaps, vim) is seen as well.
func (w *ConfigWatcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()

	dir := filepath.Dir(w.path)
	if err := fsw.Add(dir); err != nil {
		return err
	}

	log.Info().Str("path", w.path).Msg("Watching configuration for changes")

	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			log.Info().Msg("Stopping configuration watcher")
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if !w.relevant(event) {
				continue
			}
			log.Debug().Str("file", event.Name).Str("op", event.Op.String()).Msg("Configuration file event")

			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			w.Reload()

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("Configuration watcher error")
		}
	}
}

func (w *ConfigWatcher) relevant(event fsnotify.Event) bool {
	if filepath.Clean(event.Name) != w.path {
		return false
	}
	return event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0
}

// Reload loads and validates the file and hands it to the callback.
// Broken files are logged and the running configuration is kept.
func (w *ConfigWatcher) Reload() bool {
	w.mu.Lock()
	if time.Since(w.lastReload) < w.cooldown {
		w.mu.Unlock()
		log.Debug().Msg("Skipping configuration reload (cooldown active)")
		return false
	}
	w.lastReload = time.Now()
	w.mu.Unlock()

	cfg, err := config.Load(w.path)
	if err != nil {
		log.Error().Err(err).Str("path", w.path).Msg("Failed to reload configuration")
		return false
	}
	if err := cfg.Validate(); err != nil {
		log.Error().Err(err).Str("path", w.path).Msg("Reloaded configuration is invalid, keeping the current one")
		return false
	}

	w.onReload(cfg)
	log.Info().Str("path", w.path).Msg("Configuration reloaded")
	return true
}
