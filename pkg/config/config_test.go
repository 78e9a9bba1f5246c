package config

import (
	"testing"

	"mercator-hq/warden/pkg/templates"
)

// MinimalConfig returns a valid configuration with defaults applied.
func MinimalConfig() *Config {
	cfg := &Config{
		Policies: []PolicyConfig{
			{Template: templates.ReadOnly},
		},
	}
	ApplyDefaults(cfg)
	return cfg
}

func TestMinimalConfigIsValid(t *testing.T) {
	if err := Validate(MinimalConfig()); err != nil {
		t.Fatalf("expected minimal config to be valid, got %v", err)
	}
}

func TestPolicyConfig_PolicyName(t *testing.T) {
	tests := []struct {
		name string
		pc   PolicyConfig
		want string
	}{
		{"defaults to template", PolicyConfig{Template: "read-only"}, "read-only"},
		{"explicit name", PolicyConfig{Template: "read-only", Overrides: templates.Overrides{Name: "viewer"}}, "viewer"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.pc.PolicyName(); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestOptionalBools(t *testing.T) {
	var cfg Config
	if !cfg.Engine.StopOnFailure() {
		t.Error("expected unset stop_on_first_failure to mean true")
	}
	if !cfg.Telemetry.Logging.RedactEnabled() {
		t.Error("expected unset redact to mean true")
	}
	if !cfg.Telemetry.Metrics.MetricsEnabled() {
		t.Error("expected unset metrics enabled to mean true")
	}

	cfg.Engine.StopOnFirstFailure = boolPtr(false)
	cfg.Telemetry.Metrics.Enabled = boolPtr(false)
	if cfg.Engine.StopOnFailure() {
		t.Error("expected explicit false to be kept")
	}
	if cfg.Telemetry.Metrics.MetricsEnabled() {
		t.Error("expected metrics disabled")
	}
}
