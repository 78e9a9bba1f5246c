package templates

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"unicode/utf8"

	"gopkg.in/yaml.v3"
)

// LoaderConfig controls template file loading.
type LoaderConfig struct {
	// MaxFileSize is the largest file accepted, in bytes.
	MaxFileSize int64

	// Extensions are the file extensions loaded from directories.
	Extensions []string

	// SkipHidden skips dot files and directories.
	SkipHidden bool
}

// DefaultLoaderConfig accepts .yaml and .yml files up to 1 MiB.
func DefaultLoaderConfig() *LoaderConfig {
	return &LoaderConfig{
		MaxFileSize: 1 << 20,
		Extensions:  []string{".yaml", ".yml"},
		SkipHidden:  true,
	}
}

// LoadFile reads the templates in a YAML file. A file holds one template
// per YAML document.
func LoadFile(path string) ([]*Template, error) {
	return loadFile(path, DefaultLoaderConfig())
}

// LoadDir reads every template file under dir. Files that fail are
// reported in an ErrorList alongside the templates that loaded.
func LoadDir(dir string) ([]*Template, error) {
	return loadDir(dir, DefaultLoaderConfig())
}

// Parse decodes templates from YAML documents.
func Parse(r io.Reader) ([]*Template, error) {
	dec := yaml.NewDecoder(r)
	var out []*Template
	for i := 0; ; i++ {
		var t Template
		err := dec.Decode(&t)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("document %d: %w", i, err)
		}
		if t.Name == "" && len(t.Rules) == 0 {
			continue
		}
		if err := t.Validate(); err != nil {
			return nil, fmt.Errorf("document %d: %w", i, err)
		}
		out = append(out, &t)
	}
	return out, nil
}

func loadFile(path string, cfg *LoaderConfig) ([]*Template, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &LoadError{FilePath: path, Message: "file not found", Cause: err}
		}
		return nil, &LoadError{FilePath: path, Message: "failed to access file", Cause: err}
	}
	if !info.Mode().IsRegular() {
		return nil, &LoadError{FilePath: path, Message: "not a regular file"}
	}
	if info.Size() > cfg.MaxFileSize {
		return nil, &LoadError{
			FilePath: path,
			Message:  fmt.Sprintf("file size %d bytes exceeds maximum %d bytes", info.Size(), cfg.MaxFileSize),
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{FilePath: path, Message: "failed to read file", Cause: err}
	}
	if !utf8.Valid(data) {
		return nil, &LoadError{FilePath: path, Message: "file contains invalid UTF-8 encoding"}
	}

	ts, err := Parse(bytes.NewReader(data))
	if err != nil {
		return nil, &LoadError{FilePath: path, Message: "invalid template", Cause: err}
	}
	for _, t := range ts {
		t.Source = path
	}
	return ts, nil
}

func loadDir(dir string, cfg *LoaderConfig) ([]*Template, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, &LoadError{FilePath: dir, Message: "failed to access directory", Cause: err}
	}
	if !info.IsDir() {
		return nil, &LoadError{FilePath: dir, Message: "not a directory"}
	}

	var files []string
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if cfg.SkipHidden && strings.HasPrefix(d.Name(), ".") && path != dir {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !hasExtension(path, cfg.Extensions) {
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, &LoadError{FilePath: dir, Message: "failed to walk directory", Cause: err}
	}
	slices.Sort(files)

	var out []*Template
	seen := make(map[string]string)
	errs := &ErrorList{}
	for _, f := range files {
		ts, err := loadFile(f, cfg)
		if err != nil {
			errs.Add(err)
			continue
		}
		for _, t := range ts {
			if prev, dup := seen[t.Name]; dup {
				errs.Add(&LoadError{FilePath: f, Message: fmt.Sprintf("template %q already defined in %s", t.Name, prev), Cause: ErrDuplicateName})
				continue
			}
			seen[t.Name] = f
			out = append(out, t)
		}
	}
	return out, errs.ToError()
}

func hasExtension(path string, exts []string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range exts {
		if ext == strings.ToLower(e) {
			return true
		}
	}
	return false
}

// LoadFile defines every template in path.
func (r *Registry) LoadFile(path string) error {
	ts, err := LoadFile(path)
	if err != nil {
		return err
	}
	for _, t := range ts {
		if err := r.Define(t); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
	}
	return nil
}

// ReloadDir replaces the custom templates with those under dir. On any
// error the previous templates stay in place.
func (r *Registry) ReloadDir(dir string) error {
	ts, err := LoadDir(dir)
	if err != nil {
		r.logger.Error("template reload failed, keeping previous templates",
			"dir", dir,
			"error", err,
		)
		return err
	}
	if err := r.Replace(ts); err != nil {
		r.logger.Error("template reload failed, keeping previous templates",
			"dir", dir,
			"error", err,
		)
		return err
	}
	r.logger.Info("templates reloaded",
		"dir", dir,
		"count", len(ts),
		"version", r.Version(),
	)
	return nil
}
