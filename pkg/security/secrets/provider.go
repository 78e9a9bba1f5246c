package secrets

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when no provider holds a secret.
	ErrNotFound = errors.New("secret not found")
	// ErrInvalidName is returned for names that could escape a provider's
	// namespace, such as paths.
	ErrInvalidName = errors.New("invalid secret name")
)

// Provider looks secrets up in one backend.
type Provider interface {
	// Name identifies the backend in logs.
	Name() string

	// Lookup returns the secret value. It returns an error wrapping
	// ErrNotFound when the backend does not hold the secret.
	Lookup(ctx context.Context, name string) (string, error)
}

// Refresher is a Provider that caches values and can drop them.
type Refresher interface {
	Provider
	Refresh(ctx context.Context) error
}
