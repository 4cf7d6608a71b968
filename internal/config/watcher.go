package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"reflect"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ReloadFunc receives a changed configuration.
type ReloadFunc func(ctx context.Context, cfg *Config) error

// Watcher reloads the config file when it changes and hands the new
// configuration to a callback. Bursts of writes are debounced, and a
// reload that parses to the same configuration is dropped.
type Watcher struct {
	path     string
	debounce time.Duration
	onReload ReloadFunc
	logger   *slog.Logger
	fsw      *fsnotify.Watcher
	current  *Config
}

// NewWatcher watches path. current is the configuration already in use.
func NewWatcher(path string, current *Config, onReload ReloadFunc, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	// Editors replace files on save, so the directory is watched.
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}
	return &Watcher{
		path:     abs,
		debounce: 250 * time.Millisecond,
		onReload: onReload,
		logger:   logger,
		fsw:      fsw,
		current:  current,
	}, nil
}

// SetDebounce changes the quiet period before a reload.
func (w *Watcher) SetDebounce(d time.Duration) {
	w.debounce = d
}

// Run processes file events until ctx is cancelled. It closes the
// underlying watcher on return.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fsw.Close()

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("config watcher error", "error", err)

		case <-fire:
			fire = nil
			w.reload(ctx)
		}
	}
}

func (w *Watcher) reload(ctx context.Context) {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Error("config reload failed, keeping current", "path", w.path, "error", err)
		return
	}
	if w.current != nil && reflect.DeepEqual(w.current, cfg) {
		w.logger.Debug("config unchanged", "path", w.path)
		return
	}
	w.logger.Info("config changed", "path", w.path, "version", cfg.Version)
	if err := w.onReload(ctx, cfg); err != nil {
		w.logger.Error("apply reloaded config", "version", cfg.Version, "error", err)
		return
	}
	w.current = cfg
}
