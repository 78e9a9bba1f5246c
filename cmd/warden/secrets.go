package main

import (
	"context"
	"errors"
	"log/slog"
	"slices"

	"mercator-hq/warden/pkg/cli"
	"mercator-hq/warden/pkg/config"
	"mercator-hq/warden/pkg/security/auth"
	"mercator-hq/warden/pkg/security/secrets"
)

// newSecrets builds the secret manager. File secrets take precedence over
// environment variables.
func newSecrets(cfg *config.Config, logger *slog.Logger) (*secrets.Manager, *secrets.FileProvider, error) {
	sc := cfg.Secrets
	var providers []secrets.Provider
	var files *secrets.FileProvider
	if sc.Dir != "" {
		fp, err := secrets.NewFileProvider(sc.Dir, sc.Watch, logger)
		if err != nil {
			return nil, nil, cli.NewConfigError("secrets.dir", err.Error())
		}
		files = fp
		providers = append(providers, fp)
	}
	providers = append(providers, secrets.NewEnvProvider(sc.EnvPrefix))
	m := secrets.NewManager(secrets.CacheConfig{TTL: sc.CacheTTL, MaxSize: sc.CacheSize}, providers...)
	return m, files, nil
}

// resolveSecrets replaces ${secret:name} references in credential fields
// of cfg.
func resolveSecrets(ctx context.Context, m *secrets.Manager, cfg *config.Config) error {
	fields := []*string{&cfg.Server.AuthToken}
	for i := range cfg.Server.APIKeys {
		fields = append(fields, &cfg.Server.APIKeys[i].Key)
	}
	err := errors.Join(
		m.ResolveInPlace(ctx, fields...),
		resolveHeaders(ctx, m, cfg.Approval.Webhook.Headers),
		resolveHeaders(ctx, m, cfg.Telemetry.Tracing.OTLP.Headers),
	)
	if err != nil {
		return cli.NewConfigError("secrets", err.Error())
	}
	return nil
}

func resolveHeaders(ctx context.Context, m *secrets.Manager, headers map[string]string) error {
	var errs []error
	for k, v := range headers {
		if !secrets.HasReference(v) {
			continue
		}
		resolved, err := m.Resolve(ctx, v)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		headers[k] = resolved
	}
	return errors.Join(errs...)
}

// keyRotator re-resolves API keys from their configured references.
type keyRotator struct {
	secrets *secrets.Manager
	keys    []config.APIKeyConfig
	token   string
	target  *auth.Validator
	logger  *slog.Logger
}

func newKeyRotator(m *secrets.Manager, cfg *config.Config, logger *slog.Logger) *keyRotator {
	return &keyRotator{
		secrets: m,
		keys:    slices.Clone(cfg.Server.APIKeys),
		token:   cfg.Server.AuthToken,
		logger:  logger,
	}
}

// rotate resolves the captured references again and swaps the keys of
// the target validator. On failure the current keys stay in place.
func (r *keyRotator) rotate(ctx context.Context) {
	if r.target == nil {
		return
	}
	if err := r.secrets.Refresh(ctx); err != nil {
		r.logger.Warn("secret refresh failed", "error", err)
	}
	keys := slices.Clone(r.keys)
	token := r.token
	fields := []*string{&token}
	for i := range keys {
		fields = append(fields, &keys[i].Key)
	}
	if err := r.secrets.ResolveInPlace(ctx, fields...); err != nil {
		r.logger.Error("api key rotation failed, keeping current keys", "error", err)
		return
	}
	r.target.Replace(auth.KeysFromConfig(keys, token))
	r.logger.Info("api keys reloaded", "keys", r.target.Len())
}
