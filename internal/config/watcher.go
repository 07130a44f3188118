package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const DefaultReloadDelay = 100 * time.Millisecond

// Resolve layers the file at path, when there is one, and the environment
// on top of base, then validates the result.
func Resolve(base Config, path string, changed map[string]bool) (Config, error) {
	cfg := base
	if path != "" && FileExists(path) {
		fc, err := LoadFileConfig(path)
		if err != nil {
			return cfg, err
		}
		if err := ApplyFileConfig(&cfg, fc, changed); err != nil {
			return cfg, err
		}
	}
	if err := ApplyEnvConfig(&cfg, changed); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Watcher resolves the configuration again each time its file is written
// and hands the result to a callback. Invalid files are logged and skipped.
type Watcher struct {
	path     string
	base     Config
	changed  map[string]bool
	onReload func(Config)
	logger   *slog.Logger
	delay    time.Duration

	mu       sync.Mutex
	debounce *time.Timer
}

// NewWatcher watches path. base is the configuration before the file is
// applied, usually defaults plus flags.
func NewWatcher(path string, base Config, changed map[string]bool, onReload func(Config), logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		path:     path,
		base:     base,
		changed:  changed,
		onReload: onReload,
		logger:   logger.With(slog.String("config", path)),
		delay:    DefaultReloadDelay,
	}
}

// Run blocks until ctx is done. The parent directory is watched so that
// editors replacing the file are noticed.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("config watcher: watch %s: %w", w.path, err)
	}
	defer w.stopDebounce()

	name := filepath.Base(w.path)
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.scheduleReload()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("config watcher error", slog.Any("error", err))
		}
	}
}

func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.debounce != nil {
		w.debounce.Stop()
	}
	w.debounce = time.AfterFunc(w.delay, w.reload)
}

func (w *Watcher) stopDebounce() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.debounce != nil {
		w.debounce.Stop()
	}
}

func (w *Watcher) reload() {
	cfg, err := Resolve(w.base, w.path, w.changed)
	if err != nil {
		w.logger.Warn("ignoring config change", slog.Any("error", err))
		return
	}
	w.logger.Info("config reloaded")
	w.onReload(cfg)
}
