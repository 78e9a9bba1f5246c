package config

import (
	"time"

	"mercator-hq/warden/pkg/templates"
)

// Config is the root configuration structure for Warden.
type Config struct {
	// Server contains HTTP server configuration for the approval and
	// evaluation API.
	Server ServerConfig `yaml:"server"`

	// Templates configures custom template loading.
	Templates TemplatesConfig `yaml:"templates"`

	// Policies are the named policies the server evaluates against. Each
	// is built from a template.
	Policies []PolicyConfig `yaml:"policies"`

	// Engine contains evaluation settings shared by every policy.
	Engine EngineConfig `yaml:"engine"`

	// Spending configures where spending-cap counters are persisted.
	Spending SpendingConfig `yaml:"spending"`

	// Approval configures human approval delivery and the archive of
	// resolved requests.
	Approval ApprovalConfig `yaml:"approval"`

	// Telemetry contains logging, metrics, tracing and health settings.
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// Secrets configures how ${secret:name} references in string fields
	// are resolved.
	Secrets SecretsConfig `yaml:"secrets"`
}

// ServerConfig contains configuration for the HTTP server.
type ServerConfig struct {
	// ListenAddress is the address and port to listen on.
	// Default: "127.0.0.1:8400"
	ListenAddress string `yaml:"listen_address"`

	// ReadTimeout is the maximum duration for reading the entire request.
	// Default: 30s
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout is the maximum duration before timing out writes of the
	// response. Evaluations that wait for approval are bounded by it.
	// Default: 30s
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// IdleTimeout is the keep-alive idle timeout.
	// Default: 120s
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// ShutdownTimeout bounds graceful shutdown.
	// Default: 30s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// MaxHeaderBytes limits request header size.
	// Default: 1048576 (1MB)
	MaxHeaderBytes int `yaml:"max_header_bytes"`

	// MaxBodyBytes limits request body size.
	// Default: 1048576 (1MB)
	MaxBodyBytes int64 `yaml:"max_body_bytes"`

	// AuthToken, when set, is a bearer token accepted by the mutating
	// endpoints.
	AuthToken string `yaml:"auth_token"`

	// APIKeys are named keys accepted by the mutating endpoints. The key
	// name is recorded as the approver of requests resolved with it.
	APIKeys []APIKeyConfig `yaml:"api_keys"`

	// TLS configures HTTPS.
	TLS TLSConfig `yaml:"tls"`
}

// APIKeyConfig is a named API key.
type APIKeyConfig struct {
	// Name identifies the key holder. Required.
	Name string `yaml:"name"`

	// Key is the secret value, usually a ${secret:name} reference.
	// Required.
	Key string `yaml:"key"`

	// Disabled rejects the key without removing it.
	Disabled bool `yaml:"disabled"`
}

// TLSConfig configures HTTPS for the server.
type TLSConfig struct {
	// Enabled serves HTTPS instead of HTTP.
	Enabled bool `yaml:"enabled"`

	// CertFile and KeyFile are PEM files. Required when enabled.
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`

	// MinVersion is "1.2" or "1.3".
	// Default: "1.3"
	MinVersion string `yaml:"min_version"`

	// CipherSuites restricts TLS 1.2 cipher suites. Empty uses Go's
	// defaults.
	CipherSuites []string `yaml:"cipher_suites"`

	// ReloadInterval is how often the certificate files are checked for
	// changes.
	// Default: 5m
	ReloadInterval time.Duration `yaml:"reload_interval"`

	// MTLS configures client certificate authentication.
	MTLS MTLSConfig `yaml:"mtls"`
}

// MTLSConfig configures client certificate authentication.
type MTLSConfig struct {
	Enabled bool `yaml:"enabled"`

	// ClientCAFile is the PEM bundle client certificates are verified
	// against. Required when enabled.
	ClientCAFile string `yaml:"client_ca_file"`

	// ClientAuthType is "require", "request" or "verify_if_given".
	// Default: "require"
	ClientAuthType string `yaml:"client_auth_type"`

	// IdentitySource selects the certificate field recorded as the
	// approver: "subject.CN", "subject.OU", "subject.O" or "SAN".
	// Default: "subject.CN"
	IdentitySource string `yaml:"identity_source"`
}

// TemplatesConfig configures custom template loading.
type TemplatesConfig struct {
	// Dir is a directory of template YAML files. Empty disables loading.
	Dir string `yaml:"dir"`

	// Watch reloads templates when files under Dir change.
	// Default: false
	Watch bool `yaml:"watch"`

	// Debounce is the quiet period before a reload.
	// Default: 100ms
	Debounce time.Duration `yaml:"debounce"`
}

// PolicyConfig names a policy built from a template.
type PolicyConfig struct {
	// Template is the template to build from. Required.
	Template string `yaml:"template"`

	// Overrides rename the policy, fill template params, append rules and
	// set an expiry.
	templates.Overrides `yaml:",inline"`
}

// PolicyName returns the configured name, defaulting to the template name.
func (p PolicyConfig) PolicyName() string {
	if p.Name != "" {
		return p.Name
	}
	return p.Template
}

// EngineConfig contains evaluation settings.
type EngineConfig struct {
	// StopOnFirstFailure ends evaluation at the first failing rule.
	// Default: true
	StopOnFirstFailure *bool `yaml:"stop_on_first_failure"`

	// EvaluateTimeout bounds evaluations that wait for human approval.
	// Default: 5m
	EvaluateTimeout time.Duration `yaml:"evaluate_timeout"`
}

// StopOnFailure reports the effective StopOnFirstFailure value.
func (e EngineConfig) StopOnFailure() bool {
	return e.StopOnFirstFailure == nil || *e.StopOnFirstFailure
}

// SpendingConfig configures spending state persistence.
type SpendingConfig struct {
	// Backend selects the store.
	// Options: "memory", "sqlite"
	// Default: "memory"
	Backend string `yaml:"backend"`

	// SQLite configures the sqlite backend.
	SQLite SpendingSQLiteConfig `yaml:"sqlite"`

	// CleanupAfter removes state not updated for this long. Zero disables
	// cleanup.
	// Default: 0
	CleanupAfter time.Duration `yaml:"cleanup_after"`
}

// SpendingSQLiteConfig configures the spending sqlite store.
type SpendingSQLiteConfig struct {
	// Path is the database file path.
	// Default: "data/spending.db"
	Path string `yaml:"path"`

	// BusyTimeout is how long to wait on a locked database.
	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout"`

	// CheckpointInterval is how often the WAL is checkpointed.
	// Default: 5m
	CheckpointInterval time.Duration `yaml:"checkpoint_interval"`
}

// ApprovalConfig configures human approval.
type ApprovalConfig struct {
	// HistorySize bounds the resolved requests kept in memory per policy.
	// Default: 1024
	HistorySize int `yaml:"history_size"`

	// Webhook configures webhook delivery.
	Webhook WebhookConfig `yaml:"webhook"`

	// Archive configures long-term storage of resolved requests.
	Archive ArchiveConfig `yaml:"archive"`
}

// WebhookConfig configures approval webhooks.
type WebhookConfig struct {
	// Timeout is the per-attempt HTTP timeout.
	// Default: 5s
	Timeout time.Duration `yaml:"timeout"`

	// MaxTries is the number of delivery attempts.
	// Default: 3
	MaxTries uint `yaml:"max_tries"`

	// InitialInterval is the first retry backoff.
	// Default: 500ms
	InitialInterval time.Duration `yaml:"initial_interval"`

	// Headers are added to every webhook request.
	Headers map[string]string `yaml:"headers"`
}

// ArchiveConfig configures the approval archive.
type ArchiveConfig struct {
	// Enabled turns archiving on.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Backend selects the store.
	// Options: "memory", "sqlite"
	// Default: "sqlite"
	Backend string `yaml:"backend"`

	// SQLite configures the sqlite backend.
	SQLite ArchiveSQLiteConfig `yaml:"sqlite"`

	// Retention configures pruning.
	Retention RetentionConfig `yaml:"retention"`
}

// ArchiveSQLiteConfig configures the archive sqlite store.
type ArchiveSQLiteConfig struct {
	// Path is the database file path.
	// Default: "data/approvals.db"
	Path string `yaml:"path"`

	// MaxOpenConns bounds open connections.
	// Default: 4
	MaxOpenConns int `yaml:"max_open_conns"`

	// WALMode enables write-ahead logging.
	// Default: true
	WALMode *bool `yaml:"wal_mode"`

	// BusyTimeout is how long to wait on a locked database.
	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// RetentionConfig configures archive pruning.
type RetentionConfig struct {
	// Days keeps requests resolved within this many days. Zero keeps all.
	// Default: 90
	Days int `yaml:"days"`

	// MaxRecords caps the archive size. Zero disables the cap.
	// Default: 0
	MaxRecords int64 `yaml:"max_records"`

	// PruneSchedule is a cron expression for automatic pruning.
	// Default: "0 3 * * *"
	PruneSchedule string `yaml:"prune_schedule"`
}

// TelemetryConfig contains observability configuration.
type TelemetryConfig struct {
	// Logging contains logging configuration.
	Logging LoggingConfig `yaml:"logging"`

	// Metrics contains metrics collection configuration.
	Metrics MetricsConfig `yaml:"metrics"`

	// Tracing contains distributed tracing configuration.
	Tracing TracingConfig `yaml:"tracing"`

	// Health contains health check configuration.
	Health HealthConfig `yaml:"health"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level to emit.
	// Options: "debug", "info", "warn", "error"
	// Default: "info"
	Level string `yaml:"level"`

	// Format controls the log output format.
	// Options: "json", "text", "console"
	// Default: "json"
	Format string `yaml:"format"`

	// AddSource includes file and line number in log entries.
	// Default: false
	AddSource bool `yaml:"add_source"`

	// Redact enables redaction of signatures, tokens and keys in logs.
	// Default: true
	Redact *bool `yaml:"redact"`

	// RedactPatterns contains custom redaction patterns.
	RedactPatterns []RedactPattern `yaml:"redact_patterns"`
}

// RedactEnabled reports the effective Redact value.
func (l LoggingConfig) RedactEnabled() bool {
	return l.Redact == nil || *l.Redact
}

// RedactPattern defines a custom redaction pattern.
type RedactPattern struct {
	// Name is a descriptive name for the pattern.
	Name string `yaml:"name"`

	// Pattern is the regular expression to match.
	Pattern string `yaml:"pattern"`

	// Replacement is the string to replace matches with.
	Replacement string `yaml:"replacement"`
}

// MetricsConfig contains metrics configuration.
type MetricsConfig struct {
	// Enabled controls whether metrics are collected and served.
	// Default: true
	Enabled *bool `yaml:"enabled"`

	// Path is the HTTP path for the Prometheus endpoint.
	// Default: "/metrics"
	Path string `yaml:"path"`

	// Namespace is the metric name prefix.
	// Default: "warden"
	Namespace string `yaml:"namespace"`

	// Subsystem is the metric subsystem name.
	// Default: ""
	Subsystem string `yaml:"subsystem"`

	// EvaluationDurationBuckets are histogram buckets for evaluation
	// duration in seconds.
	// Default: [0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5]
	EvaluationDurationBuckets []float64 `yaml:"evaluation_duration_buckets"`

	// ApprovalWaitBuckets are histogram buckets for approval wait time in
	// seconds.
	// Default: [1, 10, 30, 60, 300, 900, 3600]
	ApprovalWaitBuckets []float64 `yaml:"approval_wait_buckets"`
}

// MetricsEnabled reports the effective Enabled value.
func (m MetricsConfig) MetricsEnabled() bool {
	return m.Enabled == nil || *m.Enabled
}

// TracingConfig contains distributed tracing configuration.
type TracingConfig struct {
	// Enabled controls whether tracing is active.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Sampler determines the sampling strategy.
	// Options: "always", "never", "ratio", "parent_based"
	// Default: "ratio"
	Sampler string `yaml:"sampler"`

	// SampleRatio is the fraction of traces to sample (0.0 to 1.0).
	// Default: 0.1
	SampleRatio float64 `yaml:"sample_ratio"`

	// Exporter determines the trace exporter.
	// Options: "otlp"
	// Default: "otlp"
	Exporter string `yaml:"exporter"`

	// Endpoint is the collector endpoint.
	// Example: "localhost:4317"
	Endpoint string `yaml:"endpoint"`

	// ServiceName is the service name in traces.
	// Default: "warden"
	ServiceName string `yaml:"service_name"`

	// OTLP contains OTLP exporter settings.
	OTLP OTLPConfig `yaml:"otlp"`
}

// OTLPConfig contains OTLP exporter settings.
type OTLPConfig struct {
	// Insecure disables TLS for the OTLP connection.
	// Default: false
	Insecure bool `yaml:"insecure"`

	// Timeout is the export timeout.
	// Default: 10s
	Timeout time.Duration `yaml:"timeout"`

	// Headers are sent with every export, typically collector
	// credentials given as ${secret:name} references.
	Headers map[string]string `yaml:"headers"`
}

// HealthConfig contains health endpoint configuration.
type HealthConfig struct {
	// LivenessPath is the liveness probe path.
	// Default: "/health"
	LivenessPath string `yaml:"liveness_path"`

	// ReadinessPath is the readiness probe path.
	// Default: "/ready"
	ReadinessPath string `yaml:"readiness_path"`

	// VersionPath is the version endpoint path.
	// Default: "/version"
	VersionPath string `yaml:"version_path"`

	// CheckTimeout bounds each readiness check.
	// Default: 5s
	CheckTimeout time.Duration `yaml:"check_timeout"`
}

// SecretsConfig configures secret resolution. File secrets take precedence
// over environment secrets.
type SecretsConfig struct {
	// EnvPrefix is prepended to the upper-cased secret name to form the
	// environment variable name.
	// Default: "WARDEN_SECRET_"
	EnvPrefix string `yaml:"env_prefix"`

	// Dir holds one file per secret, named after the secret. Empty
	// disables file secrets.
	Dir string `yaml:"dir"`

	// Watch drops cached file secrets when files under Dir change.
	Watch bool `yaml:"watch"`

	// CacheTTL bounds how long resolved secrets are cached. A negative
	// value disables caching.
	// Default: 5m
	CacheTTL time.Duration `yaml:"cache_ttl"`

	// CacheSize bounds the number of cached secrets.
	// Default: 100
	CacheSize int `yaml:"cache_size"`
}
