package config

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"mercator-hq/warden/pkg/ruledoc"
	"mercator-hq/warden/pkg/rules"
)

// FieldError represents a validation error for a specific configuration field.
type FieldError struct {
	// Field is the dotted path to the configuration field (e.g., "server.listen_address").
	Field string

	// Message is a human-readable error message.
	Message string
}

// Error returns the error message for this field error.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError represents one or more validation errors in a configuration.
type ValidationError struct {
	// Errors contains all validation errors found in the configuration.
	Errors []FieldError
}

// Error returns a formatted string containing all validation errors.
func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "configuration validation failed with %d errors:\n", len(e.Errors))
	for _, err := range e.Errors {
		fmt.Fprintf(&sb, "  - %s\n", err.Error())
	}
	return sb.String()
}

// Has reports whether any error concerns field.
func (e ValidationError) Has(field string) bool {
	for _, fe := range e.Errors {
		if fe.Field == field {
			return true
		}
	}
	return false
}

// Validate validates the entire configuration. All errors are collected and
// returned together as a ValidationError.
func Validate(cfg *Config) error {
	var errs []FieldError

	errs = append(errs, validateServer(&cfg.Server)...)
	errs = append(errs, validatePolicies(cfg.Policies)...)
	errs = append(errs, validateEngine(&cfg.Engine)...)
	errs = append(errs, validateSpending(&cfg.Spending)...)
	errs = append(errs, validateApproval(&cfg.Approval)...)
	errs = append(errs, validateTelemetry(&cfg.Telemetry)...)
	errs = append(errs, validateSecrets(&cfg.Secrets)...)

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}
	return nil
}

func validateServer(cfg *ServerConfig) []FieldError {
	var errs []FieldError

	if cfg.ListenAddress == "" {
		errs = append(errs, FieldError{
			Field:   "server.listen_address",
			Message: "listen address is required",
		})
	} else if _, _, err := net.SplitHostPort(cfg.ListenAddress); err != nil {
		errs = append(errs, FieldError{
			Field:   "server.listen_address",
			Message: fmt.Sprintf("invalid listen address %q: %v", cfg.ListenAddress, err),
		})
	}

	for field, d := range map[string]time.Duration{
		"server.read_timeout":     cfg.ReadTimeout,
		"server.write_timeout":    cfg.WriteTimeout,
		"server.idle_timeout":     cfg.IdleTimeout,
		"server.shutdown_timeout": cfg.ShutdownTimeout,
	} {
		if d < 0 {
			errs = append(errs, FieldError{Field: field, Message: "timeout must be positive"})
		}
	}

	if cfg.MaxHeaderBytes < 0 {
		errs = append(errs, FieldError{
			Field:   "server.max_header_bytes",
			Message: "max header bytes must be non-negative",
		})
	}
	if cfg.MaxBodyBytes < 0 {
		errs = append(errs, FieldError{
			Field:   "server.max_body_bytes",
			Message: "max body bytes must be non-negative",
		})
	}

	seen := make(map[string]int, len(cfg.APIKeys))
	for i, k := range cfg.APIKeys {
		prefix := fmt.Sprintf("server.api_keys[%d]", i)
		if k.Name == "" {
			errs = append(errs, FieldError{Field: prefix + ".name", Message: "name is required"})
		} else if j, dup := seen[k.Name]; dup {
			errs = append(errs, FieldError{
				Field:   prefix + ".name",
				Message: fmt.Sprintf("duplicate key name %q (also server.api_keys[%d])", k.Name, j),
			})
		} else {
			seen[k.Name] = i
		}
		if k.Key == "" {
			errs = append(errs, FieldError{Field: prefix + ".key", Message: "key is required"})
		}
	}

	errs = append(errs, validateTLS(&cfg.TLS)...)
	return errs
}

func validateTLS(cfg *TLSConfig) []FieldError {
	if !cfg.Enabled {
		return nil
	}
	var errs []FieldError
	if cfg.CertFile == "" {
		errs = append(errs, FieldError{Field: "server.tls.cert_file", Message: "cert_file is required when TLS is enabled"})
	}
	if cfg.KeyFile == "" {
		errs = append(errs, FieldError{Field: "server.tls.key_file", Message: "key_file is required when TLS is enabled"})
	}
	if cfg.MinVersion != "1.2" && cfg.MinVersion != "1.3" {
		errs = append(errs, FieldError{
			Field:   "server.tls.min_version",
			Message: fmt.Sprintf("unsupported TLS version %q (want 1.2 or 1.3)", cfg.MinVersion),
		})
	}
	if cfg.ReloadInterval < 0 {
		errs = append(errs, FieldError{Field: "server.tls.reload_interval", Message: "reload interval must be positive"})
	}

	m := cfg.MTLS
	if !m.Enabled {
		return errs
	}
	if m.ClientCAFile == "" {
		errs = append(errs, FieldError{Field: "server.tls.mtls.client_ca_file", Message: "client_ca_file is required when mTLS is enabled"})
	}
	switch m.ClientAuthType {
	case "require", "request", "verify_if_given":
	default:
		errs = append(errs, FieldError{
			Field:   "server.tls.mtls.client_auth_type",
			Message: fmt.Sprintf("unsupported client auth type %q", m.ClientAuthType),
		})
	}
	switch m.IdentitySource {
	case "subject.CN", "subject.OU", "subject.O", "SAN":
	default:
		errs = append(errs, FieldError{
			Field:   "server.tls.mtls.identity_source",
			Message: fmt.Sprintf("unsupported identity source %q", m.IdentitySource),
		})
	}
	return errs
}

func validateSecrets(cfg *SecretsConfig) []FieldError {
	var errs []FieldError
	if cfg.Watch && cfg.Dir == "" {
		errs = append(errs, FieldError{Field: "secrets.watch", Message: "watch requires secrets.dir"})
	}
	if cfg.CacheSize < 0 {
		errs = append(errs, FieldError{Field: "secrets.cache_size", Message: "cache size must be non-negative"})
	}
	return errs
}

func validatePolicies(policies []PolicyConfig) []FieldError {
	var errs []FieldError
	seen := make(map[string]int, len(policies))

	for i, p := range policies {
		prefix := fmt.Sprintf("policies[%d]", i)
		if p.Template == "" {
			errs = append(errs, FieldError{
				Field:   prefix + ".template",
				Message: "template is required",
			})
			continue
		}

		name := p.PolicyName()
		if j, dup := seen[name]; dup {
			errs = append(errs, FieldError{
				Field:   prefix + ".name",
				Message: fmt.Sprintf("duplicate policy name %q (also policies[%d])", name, j),
			})
		} else {
			seen[name] = i
		}

		for k, r := range p.Rules {
			if _, unknown := r.(rules.Unknown); unknown {
				continue
			}
			if err := ruledoc.Validate(r); err != nil {
				errs = append(errs, FieldError{
					Field:   fmt.Sprintf("%s.rules[%d]", prefix, k),
					Message: err.Error(),
				})
			}
		}
	}

	return errs
}

func validateEngine(cfg *EngineConfig) []FieldError {
	if cfg.EvaluateTimeout < 0 {
		return []FieldError{{
			Field:   "engine.evaluate_timeout",
			Message: "evaluate timeout must be positive",
		}}
	}
	return nil
}

func validateSpending(cfg *SpendingConfig) []FieldError {
	var errs []FieldError

	switch cfg.Backend {
	case "memory":
	case "sqlite":
		if cfg.SQLite.Path == "" {
			errs = append(errs, FieldError{
				Field:   "spending.sqlite.path",
				Message: "path is required for the sqlite backend",
			})
		}
	default:
		errs = append(errs, FieldError{
			Field:   "spending.backend",
			Message: fmt.Sprintf("invalid backend %q: must be 'memory' or 'sqlite'", cfg.Backend),
		})
	}

	if cfg.CleanupAfter < 0 {
		errs = append(errs, FieldError{
			Field:   "spending.cleanup_after",
			Message: "cleanup interval must be positive",
		})
	}

	return errs
}

func validateApproval(cfg *ApprovalConfig) []FieldError {
	var errs []FieldError

	if cfg.HistorySize < 0 {
		errs = append(errs, FieldError{
			Field:   "approval.history_size",
			Message: "history size must be non-negative",
		})
	}
	if cfg.Webhook.Timeout < 0 {
		errs = append(errs, FieldError{
			Field:   "approval.webhook.timeout",
			Message: "webhook timeout must be positive",
		})
	}
	if cfg.Webhook.InitialInterval < 0 {
		errs = append(errs, FieldError{
			Field:   "approval.webhook.initial_interval",
			Message: "initial interval must be positive",
		})
	}

	if !cfg.Archive.Enabled {
		return errs
	}

	switch cfg.Archive.Backend {
	case "memory":
	case "sqlite":
		if cfg.Archive.SQLite.Path == "" {
			errs = append(errs, FieldError{
				Field:   "approval.archive.sqlite.path",
				Message: "path is required for the sqlite backend",
			})
		}
		if cfg.Archive.SQLite.MaxOpenConns < 0 {
			errs = append(errs, FieldError{
				Field:   "approval.archive.sqlite.max_open_conns",
				Message: "max open connections must be non-negative",
			})
		}
	default:
		errs = append(errs, FieldError{
			Field:   "approval.archive.backend",
			Message: fmt.Sprintf("invalid backend %q: must be 'memory' or 'sqlite'", cfg.Archive.Backend),
		})
	}

	if cfg.Archive.Retention.Days < 0 {
		errs = append(errs, FieldError{
			Field:   "approval.archive.retention.days",
			Message: "retention days must be non-negative",
		})
	}
	if cfg.Archive.Retention.MaxRecords < 0 {
		errs = append(errs, FieldError{
			Field:   "approval.archive.retention.max_records",
			Message: "max records must be non-negative",
		})
	}
	if s := cfg.Archive.Retention.PruneSchedule; s != "" {
		if _, err := cron.ParseStandard(s); err != nil {
			errs = append(errs, FieldError{
				Field:   "approval.archive.retention.prune_schedule",
				Message: fmt.Sprintf("invalid cron expression %q: %v", s, err),
			})
		}
	}

	return errs
}

func validateTelemetry(cfg *TelemetryConfig) []FieldError {
	var errs []FieldError

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Logging.Level] {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.level",
			Message: fmt.Sprintf("invalid logging level %q: must be 'debug', 'info', 'warn', or 'error'", cfg.Logging.Level),
		})
	}

	validFormats := map[string]bool{"json": true, "text": true, "console": true}
	if !validFormats[cfg.Logging.Format] {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.format",
			Message: fmt.Sprintf("invalid logging format %q: must be 'json', 'text', or 'console'", cfg.Logging.Format),
		})
	}

	for i, p := range cfg.Logging.RedactPatterns {
		if p.Pattern == "" {
			errs = append(errs, FieldError{
				Field:   fmt.Sprintf("telemetry.logging.redact_patterns[%d].pattern", i),
				Message: "pattern is required",
			})
		}
	}

	if cfg.Metrics.MetricsEnabled() && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		errs = append(errs, FieldError{
			Field:   "telemetry.metrics.path",
			Message: "metrics path must start with /",
		})
	}
	errs = append(errs, validateBuckets("telemetry.metrics.evaluation_duration_buckets", cfg.Metrics.EvaluationDurationBuckets)...)
	errs = append(errs, validateBuckets("telemetry.metrics.approval_wait_buckets", cfg.Metrics.ApprovalWaitBuckets)...)

	if cfg.Tracing.Enabled && cfg.Tracing.Endpoint == "" {
		errs = append(errs, FieldError{
			Field:   "telemetry.tracing.endpoint",
			Message: "tracing endpoint is required when tracing is enabled",
		})
	}
	if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1.0 {
		errs = append(errs, FieldError{
			Field:   "telemetry.tracing.sample_ratio",
			Message: "sample ratio must be between 0.0 and 1.0",
		})
	}
	validSamplers := map[string]bool{"always": true, "never": true, "ratio": true, "parent_based": true}
	if !validSamplers[cfg.Tracing.Sampler] {
		errs = append(errs, FieldError{
			Field:   "telemetry.tracing.sampler",
			Message: fmt.Sprintf("invalid sampler %q", cfg.Tracing.Sampler),
		})
	}
	if cfg.Tracing.Exporter != "otlp" {
		errs = append(errs, FieldError{
			Field:   "telemetry.tracing.exporter",
			Message: fmt.Sprintf("invalid exporter %q: must be 'otlp'", cfg.Tracing.Exporter),
		})
	}

	for field, path := range map[string]string{
		"telemetry.health.liveness_path":  cfg.Health.LivenessPath,
		"telemetry.health.readiness_path": cfg.Health.ReadinessPath,
		"telemetry.health.version_path":   cfg.Health.VersionPath,
	} {
		if !strings.HasPrefix(path, "/") {
			errs = append(errs, FieldError{Field: field, Message: "path must start with /"})
		}
	}
	if cfg.Health.CheckTimeout < 0 || cfg.Health.CheckTimeout > 60*time.Second {
		errs = append(errs, FieldError{
			Field:   "telemetry.health.check_timeout",
			Message: "check timeout must be between 0 and 60s",
		})
	}

	return errs
}

func validateBuckets(field string, buckets []float64) []FieldError {
	for i := 1; i < len(buckets); i++ {
		if buckets[i] <= buckets[i-1] {
			return []FieldError{{Field: field, Message: "buckets must be strictly increasing"}}
		}
	}
	return nil
}
