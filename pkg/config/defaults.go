package config

import "time"

// Default values for configuration fields.
const (
	// Server defaults
	DefaultListenAddress   = "127.0.0.1:8400"
	DefaultReadTimeout     = 30 * time.Second
	DefaultWriteTimeout    = 30 * time.Second
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 30 * time.Second
	DefaultMaxHeaderBytes  = 1048576 // 1MB
	DefaultMaxBodyBytes    = 1048576 // 1MB
	DefaultTLSMinVersion   = "1.3"
	DefaultTLSReload       = 5 * time.Minute
	DefaultClientAuthType  = "require"
	DefaultIdentitySource  = "subject.CN"

	// Template defaults
	DefaultTemplatesDebounce = 100 * time.Millisecond

	// Engine defaults
	DefaultStopOnFirstFailure = true
	DefaultEvaluateTimeout    = 5 * time.Minute

	// Spending defaults
	DefaultSpendingBackend            = "memory"
	DefaultSpendingSQLitePath         = "data/spending.db"
	DefaultSpendingBusyTimeout        = 5 * time.Second
	DefaultSpendingCheckpointInterval = 5 * time.Minute

	// Approval defaults
	DefaultApprovalHistorySize    = 1024
	DefaultWebhookTimeout         = 5 * time.Second
	DefaultWebhookMaxTries        = uint(3)
	DefaultWebhookInitialInterval = 500 * time.Millisecond
	DefaultArchiveBackend         = "sqlite"
	DefaultArchiveSQLitePath      = "data/approvals.db"
	DefaultArchiveMaxOpenConns    = 4
	DefaultArchiveWALMode         = true
	DefaultArchiveBusyTimeout     = 5 * time.Second
	DefaultArchiveRetentionDays   = 90
	DefaultArchivePruneSchedule   = "0 3 * * *"

	// Telemetry defaults
	DefaultLoggingLevel       = "info"
	DefaultLoggingFormat      = "json"
	DefaultMetricsPath        = "/metrics"
	DefaultMetricsNamespace   = "warden"
	DefaultTracingSampler     = "ratio"
	DefaultTracingSampleRatio = 0.1
	DefaultTracingExporter    = "otlp"
	DefaultTracingServiceName = "warden"
	DefaultOTLPTimeout        = 10 * time.Second
	DefaultLivenessPath       = "/health"
	DefaultReadinessPath      = "/ready"
	DefaultVersionPath        = "/version"
	DefaultHealthCheckTimeout = 5 * time.Second

	// Secrets defaults
	DefaultSecretsEnvPrefix = "WARDEN_SECRET_"
	DefaultSecretsCacheTTL  = 5 * time.Minute
	DefaultSecretsCacheSize = 100
)

// DefaultEvaluationDurationBuckets are histogram buckets in seconds. Rule
// evaluation is in-process, so most decisions land well under a millisecond.
var DefaultEvaluationDurationBuckets = []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5}

// DefaultApprovalWaitBuckets are histogram buckets in seconds for the time
// between an approval request and its resolution.
var DefaultApprovalWaitBuckets = []float64{1, 10, 30, 60, 300, 900, 3600}

// ApplyDefaults fills every unset field with its default value.
// It is idempotent.
func ApplyDefaults(cfg *Config) {
	// Server defaults
	if cfg.Server.ListenAddress == "" {
		cfg.Server.ListenAddress = DefaultListenAddress
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = DefaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.Server.MaxHeaderBytes == 0 {
		cfg.Server.MaxHeaderBytes = DefaultMaxHeaderBytes
	}
	if cfg.Server.MaxBodyBytes == 0 {
		cfg.Server.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.Server.TLS.MinVersion == "" {
		cfg.Server.TLS.MinVersion = DefaultTLSMinVersion
	}
	if cfg.Server.TLS.ReloadInterval == 0 {
		cfg.Server.TLS.ReloadInterval = DefaultTLSReload
	}
	if cfg.Server.TLS.MTLS.ClientAuthType == "" {
		cfg.Server.TLS.MTLS.ClientAuthType = DefaultClientAuthType
	}
	if cfg.Server.TLS.MTLS.IdentitySource == "" {
		cfg.Server.TLS.MTLS.IdentitySource = DefaultIdentitySource
	}

	if cfg.Templates.Debounce == 0 {
		cfg.Templates.Debounce = DefaultTemplatesDebounce
	}

	// Engine defaults
	if cfg.Engine.StopOnFirstFailure == nil {
		cfg.Engine.StopOnFirstFailure = boolPtr(DefaultStopOnFirstFailure)
	}
	if cfg.Engine.EvaluateTimeout == 0 {
		cfg.Engine.EvaluateTimeout = DefaultEvaluateTimeout
	}

	// Spending defaults
	if cfg.Spending.Backend == "" {
		cfg.Spending.Backend = DefaultSpendingBackend
	}
	if cfg.Spending.SQLite.Path == "" {
		cfg.Spending.SQLite.Path = DefaultSpendingSQLitePath
	}
	if cfg.Spending.SQLite.BusyTimeout == 0 {
		cfg.Spending.SQLite.BusyTimeout = DefaultSpendingBusyTimeout
	}
	if cfg.Spending.SQLite.CheckpointInterval == 0 {
		cfg.Spending.SQLite.CheckpointInterval = DefaultSpendingCheckpointInterval
	}

	// Approval defaults
	a := &cfg.Approval
	if a.HistorySize == 0 {
		a.HistorySize = DefaultApprovalHistorySize
	}
	if a.Webhook.Timeout == 0 {
		a.Webhook.Timeout = DefaultWebhookTimeout
	}
	if a.Webhook.MaxTries == 0 {
		a.Webhook.MaxTries = DefaultWebhookMaxTries
	}
	if a.Webhook.InitialInterval == 0 {
		a.Webhook.InitialInterval = DefaultWebhookInitialInterval
	}
	if a.Archive.Backend == "" {
		a.Archive.Backend = DefaultArchiveBackend
	}
	if a.Archive.SQLite.Path == "" {
		a.Archive.SQLite.Path = DefaultArchiveSQLitePath
	}
	if a.Archive.SQLite.MaxOpenConns == 0 {
		a.Archive.SQLite.MaxOpenConns = DefaultArchiveMaxOpenConns
	}
	if a.Archive.SQLite.WALMode == nil {
		a.Archive.SQLite.WALMode = boolPtr(DefaultArchiveWALMode)
	}
	if a.Archive.SQLite.BusyTimeout == 0 {
		a.Archive.SQLite.BusyTimeout = DefaultArchiveBusyTimeout
	}
	if a.Archive.Retention.Days == 0 {
		a.Archive.Retention.Days = DefaultArchiveRetentionDays
	}
	if a.Archive.Retention.PruneSchedule == "" {
		a.Archive.Retention.PruneSchedule = DefaultArchivePruneSchedule
	}

	applySecretsDefaults(&cfg.Secrets)

	// Telemetry defaults
	t := &cfg.Telemetry
	if t.Logging.Level == "" {
		t.Logging.Level = DefaultLoggingLevel
	}
	if t.Logging.Format == "" {
		t.Logging.Format = DefaultLoggingFormat
	}
	if t.Logging.Redact == nil {
		t.Logging.Redact = boolPtr(true)
	}
	if t.Metrics.Enabled == nil {
		t.Metrics.Enabled = boolPtr(true)
	}
	if t.Metrics.Path == "" {
		t.Metrics.Path = DefaultMetricsPath
	}
	if t.Metrics.Namespace == "" {
		t.Metrics.Namespace = DefaultMetricsNamespace
	}
	if len(t.Metrics.EvaluationDurationBuckets) == 0 {
		t.Metrics.EvaluationDurationBuckets = append([]float64(nil), DefaultEvaluationDurationBuckets...)
	}
	if len(t.Metrics.ApprovalWaitBuckets) == 0 {
		t.Metrics.ApprovalWaitBuckets = append([]float64(nil), DefaultApprovalWaitBuckets...)
	}
	if t.Tracing.Sampler == "" {
		t.Tracing.Sampler = DefaultTracingSampler
	}
	if t.Tracing.SampleRatio == 0 {
		t.Tracing.SampleRatio = DefaultTracingSampleRatio
	}
	if t.Tracing.Exporter == "" {
		t.Tracing.Exporter = DefaultTracingExporter
	}
	if t.Tracing.ServiceName == "" {
		t.Tracing.ServiceName = DefaultTracingServiceName
	}
	if t.Tracing.OTLP.Timeout == 0 {
		t.Tracing.OTLP.Timeout = DefaultOTLPTimeout
	}
	if t.Health.LivenessPath == "" {
		t.Health.LivenessPath = DefaultLivenessPath
	}
	if t.Health.ReadinessPath == "" {
		t.Health.ReadinessPath = DefaultReadinessPath
	}
	if t.Health.VersionPath == "" {
		t.Health.VersionPath = DefaultVersionPath
	}
	if t.Health.CheckTimeout == 0 {
		t.Health.CheckTimeout = DefaultHealthCheckTimeout
	}
}

func applySecretsDefaults(s *SecretsConfig) {
	if s.EnvPrefix == "" {
		s.EnvPrefix = DefaultSecretsEnvPrefix
	}
	if s.CacheTTL == 0 {
		s.CacheTTL = DefaultSecretsCacheTTL
	}
	if s.CacheSize == 0 {
		s.CacheSize = DefaultSecretsCacheSize
	}
}

func boolPtr(b bool) *bool { return &b }
