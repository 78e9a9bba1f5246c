package main

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"mercator-hq/warden/pkg/approval"
	"mercator-hq/warden/pkg/approval/archive"
	"mercator-hq/warden/pkg/cli"
	"mercator-hq/warden/pkg/config"
	"mercator-hq/warden/pkg/engine"
	"mercator-hq/warden/pkg/policy/storage"
	"mercator-hq/warden/pkg/telemetry/logging"
	"mercator-hq/warden/pkg/telemetry/metrics"
	"mercator-hq/warden/pkg/templates"
)

// loadConfig reads, overrides from the environment and validates the config
// file. A missing default config file yields the built-in defaults.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
	if err != nil {
		var ve config.ValidationError
		if errors.As(err, &ve) {
			return nil, cli.NewConfigError("", err.Error())
		}
		if errors.Is(err, os.ErrNotExist) {
			return nil, cli.NewConfigError("", fmt.Sprintf("config file %s not found", cfgFile))
		}
		return nil, cli.NewConfigError("", fmt.Sprintf("failed to load config: %v", err))
	}
	if logLevel != "" {
		cfg.Telemetry.Logging.Level = logLevel
	}
	if logFormat != "" {
		cfg.Telemetry.Logging.Format = logFormat
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*slog.Logger, error) {
	logger, err := logging.New(logging.FromConfig(cfg.Telemetry.Logging))
	if err != nil {
		return nil, cli.NewConfigError("telemetry.logging", err.Error())
	}
	return logger, nil
}

// newRegistry builds the template registry, loading custom templates from
// the configured directory.
func newRegistry(cfg *config.Config, logger *slog.Logger) (*templates.Registry, error) {
	reg := templates.NewRegistry(templates.WithLogger(logger))
	if cfg.Templates.Dir == "" {
		return reg, nil
	}
	if err := reg.ReloadDir(cfg.Templates.Dir); err != nil {
		return nil, fmt.Errorf("load templates from %s: %w", cfg.Templates.Dir, err)
	}
	return reg, nil
}

// buildOptions carries the shared dependencies policies are compiled with.
type buildOptions struct {
	logger   *slog.Logger
	metrics  *metrics.Collector
	spending storage.Store
	archive  archive.Store
}

// compilePolicies builds and compiles every configured policy.
func compilePolicies(cfg *config.Config, reg *templates.Registry, bo buildOptions) (*engine.Set, error) {
	instances := make([]*engine.Instance, 0, len(cfg.Policies))
	fail := func(err error) (*engine.Set, error) {
		for _, inst := range instances {
			inst.Close()
		}
		return nil, err
	}

	for i, pc := range cfg.Policies {
		overrides := pc.Overrides
		overrides.Name = pc.PolicyName()
		p, err := reg.Build(pc.Template, overrides)
		if err != nil {
			return fail(fmt.Errorf("policies[%d] (%s): %w", i, pc.PolicyName(), err))
		}
		inst, err := engine.Compile(p, engineOptions(cfg, bo))
		if err != nil {
			return fail(err)
		}
		instances = append(instances, inst)
	}
	set, err := engine.NewSet(instances...)
	if err != nil {
		return fail(err)
	}
	return set, nil
}

func engineOptions(cfg *config.Config, bo buildOptions) *engine.Options {
	opts := &engine.Options{
		StopOnFirstFailure: cfg.Engine.StopOnFailure(),
		SpendingStore:      bo.spending,
		Logger:             bo.logger,
		Approval:           approvalOptions(cfg, bo),
	}
	if bo.metrics != nil {
		opts.Metrics = bo.metrics
	}
	return opts
}

func approvalOptions(cfg *config.Config, bo buildOptions) []approval.Option {
	wc := cfg.Approval.Webhook
	webhook := []approval.WebhookOption{
		approval.WithHTTPClient(&http.Client{Timeout: wc.Timeout}),
		approval.WithRetry(wc.MaxTries, wc.InitialInterval),
	}
	for k, v := range wc.Headers {
		webhook = append(webhook, approval.WithHeader(k, v))
	}

	opts := []approval.Option{
		approval.WithHistorySize(cfg.Approval.HistorySize),
		approval.WithWebhookOptions(webhook...),
	}
	if bo.metrics != nil {
		opts = append(opts, approval.WithMetrics(bo.metrics))
	}
	if bo.archive != nil {
		opts = append(opts, approval.WithArchive(bo.archive))
	}
	return opts
}

// openSpendingStore opens the configured spending counter backend.
func openSpendingStore(cfg *config.Config) (storage.Store, error) {
	sc := cfg.Spending
	switch sc.Backend {
	case "memory":
		return storage.NewMemoryStore(), nil
	case "sqlite":
		if err := ensureDir(sc.SQLite.Path); err != nil {
			return nil, err
		}
		return storage.NewSQLiteStoreWithConfig(storage.SQLiteConfig{
			Path:               sc.SQLite.Path,
			BusyTimeout:        sc.SQLite.BusyTimeout,
			CheckpointInterval: sc.SQLite.CheckpointInterval,
		})
	default:
		return nil, cli.NewConfigError("spending.backend", fmt.Sprintf("unsupported backend %q", sc.Backend))
	}
}

// openArchive opens the approval archive, or returns nil when it is
// disabled.
func openArchive(cfg *config.Config) (archive.Store, error) {
	ac := cfg.Approval.Archive
	if !ac.Enabled {
		return nil, nil
	}
	switch ac.Backend {
	case "memory":
		return archive.NewMemoryStore(), nil
	case "sqlite":
		if err := ensureDir(ac.SQLite.Path); err != nil {
			return nil, err
		}
		sc := archive.DefaultSQLiteConfig()
		sc.Path = ac.SQLite.Path
		if ac.SQLite.MaxOpenConns > 0 {
			sc.MaxOpenConns = ac.SQLite.MaxOpenConns
		}
		if ac.SQLite.WALMode != nil {
			sc.WALMode = *ac.SQLite.WALMode
		}
		if ac.SQLite.BusyTimeout > 0 {
			sc.BusyTimeout = ac.SQLite.BusyTimeout
		}
		return archive.NewSQLiteStore(sc)
	default:
		return nil, cli.NewConfigError("approval.archive.backend", fmt.Sprintf("unsupported backend %q", ac.Backend))
	}
}

func retentionConfig(cfg *config.Config) *archive.RetentionConfig {
	rc := cfg.Approval.Archive.Retention
	return &archive.RetentionConfig{
		RetentionDays: rc.Days,
		MaxRecords:    rc.MaxRecords,
		PruneSchedule: rc.PruneSchedule,
	}
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create data directory %s: %w", dir, err)
	}
	return nil
}
