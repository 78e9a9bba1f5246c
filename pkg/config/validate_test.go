package config

import (
	"errors"
	"strings"
	"testing"
	"time"

	"mercator-hq/warden/pkg/policy"
	"mercator-hq/warden/pkg/ruledoc"
	"mercator-hq/warden/pkg/rules"
	"mercator-hq/warden/pkg/templates"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		modify    func(*Config)
		wantField string
	}{
		{"empty listen address", func(c *Config) { c.Server.ListenAddress = "" }, "server.listen_address"},
		{"listen address without port", func(c *Config) { c.Server.ListenAddress = "localhost" }, "server.listen_address"},
		{"negative read timeout", func(c *Config) { c.Server.ReadTimeout = -time.Second }, "server.read_timeout"},
		{"negative body limit", func(c *Config) { c.Server.MaxBodyBytes = -1 }, "server.max_body_bytes"},
		{"api key without name", func(c *Config) {
			c.Server.APIKeys = []APIKeyConfig{{Key: "k"}}
		}, "server.api_keys[0].name"},
		{"duplicate api key name", func(c *Config) {
			c.Server.APIKeys = []APIKeyConfig{{Name: "ops", Key: "a"}, {Name: "ops", Key: "b"}}
		}, "server.api_keys[1].name"},
		{"api key without key", func(c *Config) {
			c.Server.APIKeys = []APIKeyConfig{{Name: "ops"}}
		}, "server.api_keys[0].key"},
		{"tls without cert", func(c *Config) {
			c.Server.TLS.Enabled = true
			c.Server.TLS.KeyFile = "key.pem"
		}, "server.tls.cert_file"},
		{"tls version", func(c *Config) {
			c.Server.TLS = TLSConfig{Enabled: true, CertFile: "c", KeyFile: "k", MinVersion: "1.1"}
		}, "server.tls.min_version"},
		{"mtls without ca", func(c *Config) {
			c.Server.TLS.Enabled, c.Server.TLS.CertFile, c.Server.TLS.KeyFile = true, "c", "k"
			c.Server.TLS.MTLS.Enabled = true
		}, "server.tls.mtls.client_ca_file"},
		{"mtls identity source", func(c *Config) {
			c.Server.TLS.Enabled, c.Server.TLS.CertFile, c.Server.TLS.KeyFile = true, "c", "k"
			c.Server.TLS.MTLS = MTLSConfig{Enabled: true, ClientCAFile: "ca", ClientAuthType: "require", IdentitySource: "email"}
		}, "server.tls.mtls.identity_source"},
		{"secrets watch without dir", func(c *Config) { c.Secrets.Watch = true }, "secrets.watch"},
		{"policy without template", func(c *Config) {
			c.Policies = append(c.Policies, PolicyConfig{Overrides: templates.Overrides{Name: "x"}})
		}, "policies[1].template"},
		{"duplicate policy name", func(c *Config) {
			c.Policies = append(c.Policies, PolicyConfig{Template: "business-hours", Overrides: templates.Overrides{Name: "read-only"}})
		}, "policies[1].name"},
		{"invalid inline rule", func(c *Config) {
			c.Policies[0].Rules = ruledoc.List{policy.CooldownRule{}}
		}, "policies[0].rules[0]"},
		{"negative evaluate timeout", func(c *Config) { c.Engine.EvaluateTimeout = -1 }, "engine.evaluate_timeout"},
		{"unknown spending backend", func(c *Config) { c.Spending.Backend = "redis" }, "spending.backend"},
		{"sqlite spending without path", func(c *Config) {
			c.Spending.Backend = "sqlite"
			c.Spending.SQLite.Path = ""
		}, "spending.sqlite.path"},
		{"negative history", func(c *Config) { c.Approval.HistorySize = -1 }, "approval.history_size"},
		{"archive backend", func(c *Config) {
			c.Approval.Archive.Enabled = true
			c.Approval.Archive.Backend = "s3"
		}, "approval.archive.backend"},
		{"archive cron", func(c *Config) {
			c.Approval.Archive.Enabled = true
			c.Approval.Archive.Retention.PruneSchedule = "every day"
		}, "approval.archive.retention.prune_schedule"},
		{"logging level", func(c *Config) { c.Telemetry.Logging.Level = "trace" }, "telemetry.logging.level"},
		{"logging format", func(c *Config) { c.Telemetry.Logging.Format = "xml" }, "telemetry.logging.format"},
		{"empty redact pattern", func(c *Config) {
			c.Telemetry.Logging.RedactPatterns = []RedactPattern{{Name: "x"}}
		}, "telemetry.logging.redact_patterns[0].pattern"},
		{"metrics path", func(c *Config) { c.Telemetry.Metrics.Path = "metrics" }, "telemetry.metrics.path"},
		{"unsorted buckets", func(c *Config) {
			c.Telemetry.Metrics.ApprovalWaitBuckets = []float64{10, 1}
		}, "telemetry.metrics.approval_wait_buckets"},
		{"tracing without endpoint", func(c *Config) { c.Telemetry.Tracing.Enabled = true }, "telemetry.tracing.endpoint"},
		{"sample ratio", func(c *Config) { c.Telemetry.Tracing.SampleRatio = 1.5 }, "telemetry.tracing.sample_ratio"},
		{"sampler", func(c *Config) { c.Telemetry.Tracing.Sampler = "sometimes" }, "telemetry.tracing.sampler"},
		{"health path", func(c *Config) { c.Telemetry.Health.ReadinessPath = "ready" }, "telemetry.health.readiness_path"},
		{"health timeout", func(c *Config) { c.Telemetry.Health.CheckTimeout = 2 * time.Minute }, "telemetry.health.check_timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := MinimalConfig()
			tt.modify(cfg)

			err := Validate(cfg)
			if err == nil {
				t.Fatal("expected validation error")
			}
			var ve ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected ValidationError, got %T", err)
			}
			if !ve.Has(tt.wantField) {
				t.Errorf("expected error for %s, got %v", tt.wantField, err)
			}
		})
	}
}

func TestValidate_ArchiveDisabledSkipsChecks(t *testing.T) {
	cfg := MinimalConfig()
	cfg.Approval.Archive.Backend = "s3"
	if err := Validate(cfg); err != nil {
		t.Errorf("expected disabled archive to skip validation, got %v", err)
	}
}

func TestValidate_UnknownInlineRuleAccepted(t *testing.T) {
	cfg := MinimalConfig()
	cfg.Policies[0].Rules = ruledoc.List{rules.Unknown{Type: "future-rule"}}
	if err := Validate(cfg); err != nil {
		t.Errorf("expected unknown rule to be accepted, got %v", err)
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := MinimalConfig()
	cfg.Server.ListenAddress = ""
	cfg.Spending.Backend = "redis"
	cfg.Telemetry.Logging.Level = "loud"

	err := Validate(cfg)
	var ve ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(ve.Errors) != 3 {
		t.Errorf("expected 3 errors, got %d: %v", len(ve.Errors), ve.Errors)
	}
	if !strings.Contains(err.Error(), "3 errors") {
		t.Errorf("expected message to count errors, got %q", err.Error())
	}
}

func TestValidationError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  ValidationError
		want string
	}{
		{"empty", ValidationError{}, "configuration validation failed"},
		{"single", ValidationError{Errors: []FieldError{{Field: "a.b", Message: "bad"}}}, "configuration validation failed: a.b: bad"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}
