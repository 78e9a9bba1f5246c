package templates

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ErrWatcherRunning is returned when Watch is called twice.
var ErrWatcherRunning = errors.New("template watcher already running")

// WatcherConfig configures a Watcher.
type WatcherConfig struct {
	// Dir is the template directory to watch.
	Dir string

	// Debounce is the quiet period after the last change before a reload.
	Debounce time.Duration

	// Extensions are the file extensions that trigger reloads.
	Extensions []string
}

// DefaultWatcherConfig watches dir with a 100ms debounce.
func DefaultWatcherConfig(dir string) WatcherConfig {
	return WatcherConfig{
		Dir:        dir,
		Debounce:   100 * time.Millisecond,
		Extensions: []string{".yaml", ".yml"},
	}
}

// Watcher reloads a registry's custom templates when files under a
// directory change.
type Watcher struct {
	cfg      WatcherConfig
	registry *Registry
	fsw      *fsnotify.Watcher
	debounce *Debouncer
	logger   *slog.Logger

	// OnReload, when set, is called after each reload attempt.
	OnReload func(err error)

	mu      sync.Mutex
	running bool
}

// NewWatcher creates a watcher for registry. Call Watch to start it.
func NewWatcher(registry *Registry, cfg WatcherConfig, logger *slog.Logger) (*Watcher, error) {
	if cfg.Dir == "" {
		return nil, errors.New("template watcher requires a directory")
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = 100 * time.Millisecond
	}
	if len(cfg.Extensions) == 0 {
		cfg.Extensions = DefaultLoaderConfig().Extensions
	}
	if logger == nil {
		logger = slog.Default()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	return &Watcher{
		cfg:      cfg,
		registry: registry,
		fsw:      fsw,
		debounce: NewDebouncer(cfg.Debounce),
		logger:   logger.With("component", "templates.watcher"),
	}, nil
}

// Watch blocks, reloading templates on change, until ctx is done. The
// watcher is closed when Watch returns.
func (w *Watcher) Watch(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return ErrWatcherRunning
	}
	w.running = true
	w.mu.Unlock()

	defer func() {
		w.debounce.Stop()
		_ = w.fsw.Close()
	}()

	if err := w.addTree(w.cfg.Dir); err != nil {
		return err
	}
	w.logger.Info("watching templates",
		"dir", w.cfg.Dir,
		"debounce_ms", w.cfg.Debounce.Milliseconds(),
	)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("template watcher stopped")
			return nil

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return errors.New("watcher events channel closed")
			}
			if ev.Has(fsnotify.Create) {
				if isDir(ev.Name) {
					if err := w.addTree(ev.Name); err != nil {
						w.logger.Warn("failed to watch new directory", "path", ev.Name, "error", err)
					}
					w.debounce.Trigger(w.reload)
					continue
				}
			}
			if !w.relevant(ev) {
				continue
			}
			w.logger.Debug("template file changed", "path", ev.Name, "op", ev.Op.String())
			w.debounce.Trigger(w.reload)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return errors.New("watcher errors channel closed")
			}
			w.logger.Error("template watcher error", "error", err)
		}
	}
}

func (w *Watcher) reload() {
	err := w.registry.ReloadDir(w.cfg.Dir)
	if w.OnReload != nil {
		w.OnReload(err)
	}
}

func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") && path != dir {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			return fmt.Errorf("failed to watch directory %q: %w", path, err)
		}
		return nil
	})
}

func (w *Watcher) relevant(ev fsnotify.Event) bool {
	if ev.Op == fsnotify.Chmod {
		return false
	}
	if strings.HasPrefix(filepath.Base(ev.Name), ".") {
		return false
	}
	return hasExtension(ev.Name, w.cfg.Extensions)
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// Debouncer runs the most recent callback once events stop arriving for
// the interval.
type Debouncer struct {
	interval time.Duration

	mu       sync.Mutex
	timer    *time.Timer
	callback func()
	stopped  bool
}

// NewDebouncer creates a debouncer.
func NewDebouncer(interval time.Duration) *Debouncer {
	return &Debouncer{interval: interval}
}

// Trigger schedules callback, replacing any callback not yet run.
func (d *Debouncer) Trigger(callback func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.callback = callback
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.interval, d.fire)
}

func (d *Debouncer) fire() {
	d.mu.Lock()
	cb := d.callback
	d.callback = nil
	stopped := d.stopped
	d.mu.Unlock()
	if cb != nil && !stopped {
		cb()
	}
}

// Stop cancels any pending callback. Later triggers are ignored.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.callback = nil
}
