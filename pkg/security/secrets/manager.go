package secrets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
)

var refPattern = regexp.MustCompile(`\$\{secret:([^}]*)\}`)

// HasReference reports whether s contains a ${secret:name} reference.
func HasReference(s string) bool {
	return refPattern.MatchString(s)
}

// Manager resolves secrets through an ordered list of providers.
type Manager struct {
	providers []Provider
	cache     *Cache
	logger    *slog.Logger
}

// NewManager creates a manager. Providers are consulted in order.
func NewManager(cache CacheConfig, providers ...Provider) *Manager {
	return &Manager{
		providers: providers,
		cache:     NewCache(cache),
		logger:    slog.Default().With("component", "secrets"),
	}
}

// Get returns the secret from the first provider that holds it.
func (m *Manager) Get(ctx context.Context, name string) (string, error) {
	if v, ok := m.cache.Get(name); ok {
		return v, nil
	}

	var errs []error
	for _, p := range m.providers {
		v, err := p.Lookup(ctx, name)
		if err == nil {
			m.cache.Set(name, v)
			m.logger.Debug("secret resolved", "secret", redactName(name), "provider", p.Name())
			return v, nil
		}
		if errors.Is(err, ErrInvalidName) {
			return "", err
		}
		if !errors.Is(err, ErrNotFound) {
			errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
		}
	}
	if len(errs) > 0 {
		return "", fmt.Errorf("secret %q: %w", name, errors.Join(errs...))
	}
	return "", fmt.Errorf("%w: %q", ErrNotFound, name)
}

// Resolve replaces every ${secret:name} reference in s. References that
// cannot be resolved are left in place and reported in the error.
func (m *Manager) Resolve(ctx context.Context, s string) (string, error) {
	var errs []error
	out := refPattern.ReplaceAllStringFunc(s, func(ref string) string {
		name := refPattern.FindStringSubmatch(ref)[1]
		v, err := m.Get(ctx, name)
		if err != nil {
			errs = append(errs, err)
			return ref
		}
		return v
	})
	return out, errors.Join(errs...)
}

// ResolveInPlace resolves each pointed-to string, stopping at the first
// failure.
func (m *Manager) ResolveInPlace(ctx context.Context, fields ...*string) error {
	for _, f := range fields {
		if f == nil || !HasReference(*f) {
			continue
		}
		v, err := m.Resolve(ctx, *f)
		if err != nil {
			return err
		}
		*f = v
	}
	return nil
}

// Refresh drops cached values in the manager and in every Refresher.
func (m *Manager) Refresh(ctx context.Context) error {
	m.cache.Clear()
	var errs []error
	for _, p := range m.providers {
		if r, ok := p.(Refresher); ok {
			if err := r.Refresh(ctx); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
			}
		}
	}
	return errors.Join(errs...)
}

// Close closes providers that hold resources.
func (m *Manager) Close() error {
	var errs []error
	for _, p := range m.providers {
		if c, ok := p.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// redactName keeps the first and last two characters of long names.
func redactName(name string) string {
	if len(name) <= 6 {
		return "***"
	}
	return name[:2] + "***" + name[len(name)-2:]
}
