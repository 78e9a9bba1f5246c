package auth

import (
	"context"
	"errors"

	"mercator-hq/warden/pkg/config"
)

var (
	ErrMissingKey  = errors.New("missing API key")
	ErrInvalidKey  = errors.New("invalid API key")
	ErrKeyDisabled = errors.New("API key disabled")
)

// Method is how a caller was authenticated.
type Method string

const (
	MethodAPIKey      Method = "api_key"
	MethodCertificate Method = "client_certificate"
)

// Key is a named API key.
type Key struct {
	Name     string
	Value    string
	Disabled bool
}

// KeysFromConfig converts configured keys. A non-empty legacy token is
// added under the name "default".
func KeysFromConfig(keys []config.APIKeyConfig, token string) []Key {
	out := make([]Key, 0, len(keys)+1)
	if token != "" {
		out = append(out, Key{Name: "default", Value: token})
	}
	for _, k := range keys {
		out = append(out, Key{Name: k.Name, Value: k.Key, Disabled: k.Disabled})
	}
	return out
}

// Identity is an authenticated caller.
type Identity struct {
	Name   string `json:"name"`
	Method Method `json:"method"`
}

type identityKey struct{}

// WithIdentity returns a context carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// FromContext returns the caller identity stored by the middleware.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}
