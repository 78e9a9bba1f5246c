package secrets

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// FileProvider reads secrets from files named after them in a directory.
type FileProvider struct {
	dir    string
	logger *slog.Logger

	mu       sync.RWMutex
	values   map[string]string
	onChange func()

	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewFileProvider creates a provider for dir. With watch, cached values are
// dropped whenever a file in dir is written, created, renamed or removed.
func NewFileProvider(dir string, watch bool, logger *slog.Logger) (*FileProvider, error) {
	if logger == nil {
		logger = slog.Default()
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("secrets directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("secrets directory %s is not a directory", dir)
	}

	p := &FileProvider{
		dir:    dir,
		logger: logger.With("component", "secrets.file"),
		values: make(map[string]string),
		done:   make(chan struct{}),
	}
	if !watch {
		return p, nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create secrets watcher: %w", err)
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, fmt.Errorf("watch secrets directory: %w", err)
	}
	p.watcher = w
	p.wg.Add(1)
	go p.watch()
	p.logger.Info("watching secrets directory", "dir", dir)
	return p, nil
}

// Name implements Provider.
func (p *FileProvider) Name() string { return "file" }

// Lookup implements Provider. Surrounding whitespace is trimmed from the
// file contents.
func (p *FileProvider) Lookup(_ context.Context, name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	p.mu.RLock()
	v, ok := p.values[name]
	p.mu.RUnlock()
	if ok {
		return v, nil
	}

	path := filepath.Join(p.dir, name)
	info, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: no file %s", ErrNotFound, path)
		}
		return "", fmt.Errorf("stat secret %s: %w", name, err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("secret %s is not a regular file", path)
	}
	if perm := info.Mode().Perm(); perm != 0o600 && perm != 0o400 {
		return "", fmt.Errorf("insecure permissions %04o on %s (want 0600 or 0400)", perm, path)
	}

	data, err := os.ReadFile(path) // #nosec G304 -- name is a bare file name
	if err != nil {
		return "", fmt.Errorf("read secret %s: %w", name, err)
	}
	v = strings.TrimSpace(string(data))

	p.mu.Lock()
	p.values[name] = v
	p.mu.Unlock()
	return v, nil
}

// Names lists the regular files in the directory.
func (p *FileProvider) Names() ([]string, error) {
	entries, err := os.ReadDir(p.dir)
	if err != nil {
		return nil, fmt.Errorf("read secrets directory: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.Type()&fs.ModeType == 0 && !strings.HasPrefix(e.Name(), ".") {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// SetOnChange registers fn to run after a file change dropped the cached
// values.
func (p *FileProvider) SetOnChange(fn func()) {
	p.mu.Lock()
	p.onChange = fn
	p.mu.Unlock()
}

// Refresh implements Refresher.
func (p *FileProvider) Refresh(context.Context) error {
	p.mu.Lock()
	clear(p.values)
	p.mu.Unlock()
	return nil
}

// Close stops watching.
func (p *FileProvider) Close() error {
	if p.watcher == nil {
		return nil
	}
	select {
	case <-p.done:
		return nil
	default:
	}
	close(p.done)
	err := p.watcher.Close()
	p.wg.Wait()
	return err
}

func (p *FileProvider) watch() {
	defer p.wg.Done()
	const relevant = fsnotify.Write | fsnotify.Create | fsnotify.Rename | fsnotify.Remove
	for {
		select {
		case ev, ok := <-p.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&relevant == 0 {
				continue
			}
			p.logger.Debug("secret file changed", "file", filepath.Base(ev.Name), "op", ev.Op.String())
			_ = p.Refresh(context.Background())
			p.mu.RLock()
			fn := p.onChange
			p.mu.RUnlock()
			if fn != nil {
				fn()
			}
		case err, ok := <-p.watcher.Errors:
			if !ok {
				return
			}
			p.logger.Error("secrets watcher error", "error", err)
		case <-p.done:
			return
		}
	}
}
