package tls

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"

	"mercator-hq/warden/pkg/config"
)

// ParseVersion maps a min_version value to a protocol version. TLS 1.0
// and 1.1 are not accepted.
func ParseVersion(v string) (uint16, error) {
	switch v {
	case "", "1.3":
		return tls.VersionTLS13, nil
	case "1.2":
		return tls.VersionTLS12, nil
	default:
		return 0, fmt.Errorf("unsupported TLS version %q (want 1.2 or 1.3)", v)
	}
}

// ParseCipherSuites maps cipher suite names to IDs. Only suites Go
// considers secure are accepted. An empty list selects Go's defaults.
func ParseCipherSuites(names []string) ([]uint16, error) {
	if len(names) == 0 {
		return nil, nil
	}
	known := make(map[string]uint16)
	for _, s := range tls.CipherSuites() {
		known[s.Name] = s.ID
	}
	ids := make([]uint16, 0, len(names))
	var errs []error
	for _, name := range names {
		id, ok := known[name]
		if !ok {
			errs = append(errs, fmt.Errorf("unknown or insecure cipher suite %q", name))
			continue
		}
		ids = append(ids, id)
	}
	return ids, errors.Join(errs...)
}

// ParseClientAuth maps a client_auth_type value. The empty value
// requires and verifies client certificates.
func ParseClientAuth(s string) (tls.ClientAuthType, error) {
	switch s {
	case "", "require":
		return tls.RequireAndVerifyClientCert, nil
	case "verify_if_given":
		return tls.VerifyClientCertIfGiven, nil
	case "request":
		return tls.RequestClientCert, nil
	default:
		return 0, fmt.Errorf("unknown client auth type %q", s)
	}
}

// LoadCertPool reads a PEM bundle into a certificate pool.
func LoadCertPool(path string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(path) // #nosec G304 -- operator-configured path
	if err != nil {
		return nil, fmt.Errorf("read CA bundle: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates found in %s", path)
	}
	return pool, nil
}

// ServerConfig builds the listener configuration for cfg. The serving
// certificate is taken from reloader on every handshake.
func ServerConfig(cfg config.TLSConfig, reloader *CertificateReloader) (*tls.Config, error) {
	if reloader == nil {
		return nil, errors.New("tls: certificate reloader is required")
	}
	version, err := ParseVersion(cfg.MinVersion)
	if err != nil {
		return nil, err
	}
	suites, err := ParseCipherSuites(cfg.CipherSuites)
	if err != nil {
		return nil, err
	}

	out := &tls.Config{
		MinVersion:     version,
		CipherSuites:   suites,
		GetCertificate: reloader.GetCertificate,
	}

	if cfg.MTLS.Enabled {
		if cfg.MTLS.ClientCAFile == "" {
			return nil, errors.New("tls: client_ca_file is required when mTLS is enabled")
		}
		pool, err := LoadCertPool(cfg.MTLS.ClientCAFile)
		if err != nil {
			return nil, fmt.Errorf("mtls: %w", err)
		}
		auth, err := ParseClientAuth(cfg.MTLS.ClientAuthType)
		if err != nil {
			return nil, fmt.Errorf("mtls: %w", err)
		}
		out.ClientCAs = pool
		out.ClientAuth = auth
	}
	return out, nil
}
