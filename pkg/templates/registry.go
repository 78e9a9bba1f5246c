package templates

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"
)

// Registry holds built-in and custom templates.
type Registry struct {
	mu        sync.RWMutex
	templates map[string]*Template
	version   uint64
	loadTime  time.Time
	now       func() time.Time
	logger    *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// WithClock overrides the time source used for policy creation times.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// NewRegistry creates a registry holding the built-in templates.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		templates: make(map[string]*Template),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default().With("component", "templates.registry")
	}
	for _, t := range builtins() {
		t.Builtin = true
		r.templates[t.Name] = t
	}
	r.loadTime = r.now()
	return r
}

// Get returns a copy of the named template.
func (r *Registry) Get(name string) (*Template, bool) {
	r.mu.RLock()
	t, ok := r.templates[name]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return t.Clone(), true
}

// Define adds or replaces a custom template. Built-ins cannot be replaced.
func (r *Registry) Define(t *Template) error {
	if t == nil {
		return &ValidationError{Rule: -1, Message: "template is nil"}
	}
	stored := t.Clone()
	stored.Builtin = false
	if err := stored.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.templates[stored.Name]; ok && existing.Builtin {
		return fmt.Errorf("%w: %q", ErrBuiltin, stored.Name)
	}
	r.templates[stored.Name] = stored
	r.version++
	r.logger.Debug("template defined", "template", stored.Name, "rules", len(stored.Rules))
	return nil
}

// Remove deletes a custom template.
func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.templates[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	if t.Builtin {
		return fmt.Errorf("%w: %q", ErrBuiltin, name)
	}
	delete(r.templates, name)
	r.version++
	return nil
}

// List returns summaries of every template sorted by name.
func (r *Registry) List() []Summary {
	r.mu.RLock()
	out := make([]Summary, 0, len(r.templates))
	for _, t := range r.templates {
		out = append(out, t.Summary())
	}
	r.mu.RUnlock()
	slices.SortFunc(out, func(a, b Summary) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// Names returns the sorted template names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.templates))
	for name := range r.templates {
		out = append(out, name)
	}
	r.mu.RUnlock()
	slices.Sort(out)
	return out
}

// Build composes a policy from the named template.
func (r *Registry) Build(name string, o Overrides) (*Policy, error) {
	r.mu.RLock()
	t, ok := r.templates[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return t.build(o, r.now())
}

// Replace atomically swaps every custom template for ts. Built-ins are
// kept. Nothing changes when any template is invalid.
func (r *Registry) Replace(ts []*Template) error {
	next := make(map[string]*Template, len(ts))
	for _, t := range ts {
		if t == nil {
			return &ValidationError{Rule: -1, Message: "template is nil"}
		}
		stored := t.Clone()
		stored.Builtin = false
		if err := stored.Validate(); err != nil {
			return err
		}
		if _, dup := next[stored.Name]; dup {
			return fmt.Errorf("%w: %q", ErrDuplicateName, stored.Name)
		}
		next[stored.Name] = stored
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for name := range next {
		if existing, ok := r.templates[name]; ok && existing.Builtin {
			return fmt.Errorf("%w: %q", ErrBuiltin, name)
		}
	}
	for name, t := range r.templates {
		if t.Builtin {
			next[name] = t
		}
	}
	r.templates = next
	r.version++
	r.loadTime = r.now()
	return nil
}

// Version changes whenever the template set changes.
func (r *Registry) Version() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.version
}

// LoadTime returns when the custom templates were last replaced.
func (r *Registry) LoadTime() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.loadTime
}
