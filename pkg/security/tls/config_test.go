package tls

import (
	"context"
	"crypto/tls"
	"path/filepath"
	"testing"

	"mercator-hq/warden/pkg/config"
)

func TestParseVersion(t *testing.T) {
	tests := []struct {
		in      string
		want    uint16
		wantErr bool
	}{
		{"", tls.VersionTLS13, false},
		{"1.3", tls.VersionTLS13, false},
		{"1.2", tls.VersionTLS12, false},
		{"1.1", 0, true},
		{"tls1.3", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseVersion(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("expected error %v, got %v", tt.wantErr, err)
			}
			if got != tt.want {
				t.Errorf("expected %x, got %x", tt.want, got)
			}
		})
	}
}

func TestParseCipherSuites(t *testing.T) {
	ids, err := ParseCipherSuites(nil)
	if err != nil || ids != nil {
		t.Errorf("expected nil for defaults, got %v (%v)", ids, err)
	}

	ids, err = ParseCipherSuites([]string{"TLS_AES_128_GCM_SHA256", "TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384"})
	if err != nil {
		t.Fatalf("ParseCipherSuites() error = %v", err)
	}
	if len(ids) != 2 || ids[0] != tls.TLS_AES_128_GCM_SHA256 || ids[1] != tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384 {
		t.Errorf("unexpected ids %v", ids)
	}

	if _, err := ParseCipherSuites([]string{"TLS_RSA_WITH_RC4_128_SHA"}); err == nil {
		t.Error("expected insecure suite to be rejected")
	}
	if _, err := ParseCipherSuites([]string{"NOT_A_SUITE"}); err == nil {
		t.Error("expected unknown suite to be rejected")
	}
}

func TestParseClientAuth(t *testing.T) {
	tests := []struct {
		in      string
		want    tls.ClientAuthType
		wantErr bool
	}{
		{"", tls.RequireAndVerifyClientCert, false},
		{"require", tls.RequireAndVerifyClientCert, false},
		{"verify_if_given", tls.VerifyClientCertIfGiven, false},
		{"request", tls.RequestClientCert, false},
		{"optional", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseClientAuth(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("expected error %v, got %v", tt.wantErr, err)
			}
			if got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestServerConfig(t *testing.T) {
	dir := t.TempDir()
	ca := issue(t, dir, "ca", certOpts{cn: "warden-ca", isCA: true}, nil)
	srv := issue(t, dir, "server", certOpts{cn: "warden.local", dnsNames: []string{"warden.local"}}, ca)

	reloader := NewCertificateReloader(srv.certFile, srv.keyFile, 0, nil)
	if err := reloader.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	tests := []struct {
		name    string
		cfg     config.TLSConfig
		wantErr bool
		check   func(t *testing.T, c *tls.Config)
	}{
		{
			name: "defaults",
			cfg:  config.TLSConfig{Enabled: true},
			check: func(t *testing.T, c *tls.Config) {
				if c.MinVersion != tls.VersionTLS13 {
					t.Errorf("expected TLS 1.3, got %x", c.MinVersion)
				}
				if c.ClientAuth != tls.NoClientCert {
					t.Errorf("expected no client auth, got %v", c.ClientAuth)
				}
				cert, err := c.GetCertificate(nil)
				if err != nil || cert.Leaf.Subject.CommonName != "warden.local" {
					t.Errorf("expected served certificate, got %v (%v)", cert, err)
				}
			},
		},
		{
			name: "mtls",
			cfg: config.TLSConfig{
				Enabled:    true,
				MinVersion: "1.2",
				MTLS:       config.MTLSConfig{Enabled: true, ClientCAFile: ca.certFile, ClientAuthType: "verify_if_given"},
			},
			check: func(t *testing.T, c *tls.Config) {
				if c.MinVersion != tls.VersionTLS12 {
					t.Errorf("expected TLS 1.2, got %x", c.MinVersion)
				}
				if c.ClientAuth != tls.VerifyClientCertIfGiven || c.ClientCAs == nil {
					t.Errorf("expected client verification, got %v", c.ClientAuth)
				}
			},
		},
		{
			name:    "bad version",
			cfg:     config.TLSConfig{MinVersion: "1.0"},
			wantErr: true,
		},
		{
			name:    "mtls without CA",
			cfg:     config.TLSConfig{MTLS: config.MTLSConfig{Enabled: true}},
			wantErr: true,
		},
		{
			name:    "mtls with unreadable CA",
			cfg:     config.TLSConfig{MTLS: config.MTLSConfig{Enabled: true, ClientCAFile: filepath.Join(dir, "missing.pem")}},
			wantErr: true,
		},
		{
			name:    "mtls with non-PEM CA",
			cfg:     config.TLSConfig{MTLS: config.MTLSConfig{Enabled: true, ClientCAFile: ca.keyFile}},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := ServerConfig(tt.cfg, reloader)
			if (err != nil) != tt.wantErr {
				t.Fatalf("expected error %v, got %v", tt.wantErr, err)
			}
			if tt.check != nil {
				tt.check(t, c)
			}
		})
	}

	if _, err := ServerConfig(config.TLSConfig{}, nil); err == nil {
		t.Error("expected error without reloader")
	}
}
