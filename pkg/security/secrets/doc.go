/*
Package secrets resolves ${secret:name} references in configuration values.

# Providers

A Manager consults its providers in order and returns the first value found:

  - FileProvider reads one file per secret from a directory, the layout
    Kubernetes uses for mounted secrets. Files must be mode 0600 or 0400.
  - EnvProvider reads environment variables. The secret "ops-api-key" with
    prefix "WARDEN_SECRET_" is read from WARDEN_SECRET_OPS_API_KEY.

# Usage

	files, err := secrets.NewFileProvider("/var/run/warden", true, logger)
	if err != nil {
		return err
	}
	m := secrets.NewManager(secrets.CacheConfig{TTL: 5 * time.Minute, MaxSize: 100},
		files, secrets.NewEnvProvider("WARDEN_SECRET_"))
	defer m.Close()

	token, err := m.Resolve(ctx, "Bearer ${secret:collector-token}")

Resolved values are cached for the cache TTL. A watching FileProvider drops
its cached values when files change and reports the change through OnChange
so callers can resolve again.
*/
package secrets
