package config

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 500 * time.Millisecond

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithLoadFunc replaces Load as the way the file is re-read, e.g. to overlay
// command line flags before validation.
func WithLoadFunc(load func(path string) (*Config, error)) WatcherOption {
	return func(w *Watcher) {
		w.load = load
	}
}

// Watcher watches the config file and reloads it on change.
type Watcher struct {
	path     string
	load     func(string) (*Config, error)
	onReload func(*Config, error)
	debounce time.Duration
	fsw      *fsnotify.Watcher
	current  *Config
	mu       sync.Mutex
	reloads  atomic.Uint32
	done     chan struct{}
}

// NewWatcher starts watching path. initial is the configuration currently in
// effect; onReload receives every successfully reloaded config, or the error
// when the new file is invalid (the previous config stays current).
func NewWatcher(path string, initial *Config, onReload func(*Config, error), opts ...WatcherOption) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	// Editors often replace the file, so the directory is watched.
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to watch config directory: %w", err)
	}

	w := &Watcher{
		path:     abs,
		load:     Load,
		onReload: onReload,
		debounce: defaultDebounce,
		fsw:      fsw,
		current:  initial,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	go w.watch()

	return w, nil
}

// watch watches for configuration changes.
func (w *Watcher) watch() {
	defer close(w.done)

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}

			if filepath.Clean(event.Name) != w.path {
				continue
			}

			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(w.debounce, w.reload)
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}

			slog.Error("Watcher error", "error", err)
		}
	}
}

// reload reloads the config file.
func (w *Watcher) reload() {
	count := w.reloads.Add(1)
	slog.Info("Reloading config file", "path", w.path, "count", count)

	cfg, err := w.load(w.path)
	if err != nil {
		slog.Error("Failed to reload config", "error", err)
		w.onReload(nil, err)
		return
	}

	w.mu.Lock()
	prev := w.current
	w.current = cfg
	w.mu.Unlock()

	if prev != nil {
		if changed := RestartRequired(prev, cfg); len(changed) > 0 {
			slog.Warn("Config changes require a restart to take effect", "sections", changed)
		}
	}

	slog.Info("Config reloaded successfully", "count", count)
	w.onReload(cfg, nil)
}

// Close stops watching.
func (w *Watcher) Close() error {
	err := w.fsw.Close()
	<-w.done
	return err
}
