package secrets

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// EnvProvider reads secrets from environment variables.
type EnvProvider struct {
	prefix string
}

// NewEnvProvider creates a provider reading prefix + the upper-cased secret
// name, with '-' and '.' mapped to '_'.
func NewEnvProvider(prefix string) *EnvProvider {
	return &EnvProvider{prefix: prefix}
}

// Name implements Provider.
func (p *EnvProvider) Name() string { return "env" }

// Lookup implements Provider. Empty variables count as unset.
func (p *EnvProvider) Lookup(_ context.Context, name string) (string, error) {
	if name == "" {
		return "", ErrInvalidName
	}
	v := os.Getenv(p.Variable(name))
	if v == "" {
		return "", fmt.Errorf("%w: %s not set", ErrNotFound, p.Variable(name))
	}
	return v, nil
}

// Variable returns the environment variable holding name.
func (p *EnvProvider) Variable(name string) string {
	return p.prefix + strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(name))
}
