package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"mercator-hq/warden/pkg/cli"
	"mercator-hq/warden/pkg/config"
	"mercator-hq/warden/pkg/engine"
	"mercator-hq/warden/pkg/policy/storage"
	sectls "mercator-hq/warden/pkg/security/tls"
	"mercator-hq/warden/pkg/server"
	"mercator-hq/warden/pkg/telemetry/health"
	"mercator-hq/warden/pkg/telemetry/metrics"
	"mercator-hq/warden/pkg/telemetry/tracing"
	"mercator-hq/warden/pkg/templates"
)

// spendingCleanupSchedule is how often stale spending counters are removed.
const spendingCleanupSchedule = "@every 1h"

var serveFlags struct {
	listenAddress string
	dryRun        bool
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Warden API server",
	Long: `Start the Warden API server with the specified configuration.

The server compiles every configured policy and exposes evaluation, execution
recording and approval resolution over HTTP, together with health probes and
Prometheus metrics.

Examples:
  # Start with default config
  warden serve

  # Start with custom config
  warden serve --config /etc/warden/warden.yaml

  # Override listen address
  warden serve --listen 0.0.0.0:8400

  # Validate config and compile policies without starting the server
  warden serve --dry-run`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVarP(&serveFlags.listenAddress, "listen", "l", "", "override listen address")
	serveCmd.Flags().BoolVar(&serveFlags.dryRun, "dry-run", false, "compile policies without starting the server")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveFlags.listenAddress != "" {
		cfg.Server.ListenAddress = serveFlags.listenAddress
	}
	config.SetConfig(cfg)

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	ctx, cancel := cli.SetupSignalHandler(cmd.Context())
	defer cancel()

	secretMgr, secretFiles, err := newSecrets(cfg, logger)
	if err != nil {
		return err
	}
	defer secretMgr.Close()
	rotator := newKeyRotator(secretMgr, cfg, logger)
	if err := resolveSecrets(ctx, secretMgr, cfg); err != nil {
		return err
	}

	tracer, err := tracing.New(&cfg.Telemetry.Tracing, Version)
	if err != nil {
		return cli.NewConfigError("telemetry.tracing", err.Error())
	}
	defer func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer done()
		if err := tracer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("tracer shutdown failed", "error", err)
		}
	}()

	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, nil)

	reg, err := newRegistry(cfg, logger)
	if err != nil {
		return cli.NewCommandError("serve", err)
	}
	collector.RecordTemplateReload(nil, len(reg.Names()))

	spending, err := openSpendingStore(cfg)
	if err != nil {
		return err
	}
	defer spending.Close()

	approvals, err := openArchive(cfg)
	if err != nil {
		return err
	}
	if approvals != nil {
		defer approvals.Close()
	}

	bo := buildOptions{logger: logger, metrics: collector, spending: spending, archive: approvals}
	set, err := compilePolicies(cfg, reg, bo)
	if err != nil {
		return cli.NewCommandError("serve", err)
	}
	defer set.Close()

	var certs *sectls.CertificateReloader
	if cfg.Server.TLS.Enabled {
		tc := cfg.Server.TLS
		certs = sectls.NewCertificateReloader(tc.CertFile, tc.KeyFile, tc.ReloadInterval, logger)
		if err := certs.Start(ctx); err != nil {
			return cli.NewConfigError("server.tls", err.Error())
		}
	}

	if serveFlags.dryRun {
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Configuration valid (%d policies compiled)\n", set.Len())
		return nil
	}

	checker := health.New(cfg.Telemetry.Health.CheckTimeout)
	checker.RegisterCheck("templates", health.TemplatesCheck(reg))
	checker.RegisterCheck("policies", health.PoliciesCheck(set.Len, len(cfg.Policies)))
	if p, ok := spending.(health.Pinger); ok {
		checker.RegisterCheck("spending_store", health.PingCheck(p))
	}
	if p, ok := approvals.(health.Pinger); ok {
		checker.RegisterCheck("approval_archive", health.PingCheck(p))
	}
	if certs != nil {
		checker.RegisterCheck("tls_certificate", certs.Check)
	}

	if approvals != nil && cfg.Approval.Archive.Retention.PruneSchedule != "" {
		scheduler := archiveScheduler(approvals, cfg)
		if err := scheduler.Start(ctx); err != nil {
			logger.Warn("failed to start approval archive pruning", "error", err)
		} else {
			defer scheduler.Stop()
			if next := scheduler.NextRun(); next != nil {
				logger.Debug("approval archive pruning scheduled", "next_run", next)
			}
		}
	}

	if cfg.Spending.CleanupAfter > 0 {
		stop, err := scheduleSpendingCleanup(ctx, spending, cfg.Spending.CleanupAfter, logger)
		if err != nil {
			return cli.NewCommandError("serve", err)
		}
		defer stop()
	}

	if cfg.Templates.Watch && cfg.Templates.Dir != "" {
		if err := watchTemplates(ctx, cfg, reg, set, bo); err != nil {
			return cli.NewCommandError("serve", err)
		}
	}

	srv := server.New(cfg, server.Deps{
		Policies:  set,
		Templates: reg,
		Archive:   approvals,
		Metrics:   collector,
		Tracer:    tracer,
		Health:    checker,
		Version:   versionInfo(),
		Logger:    logger,

		Certificates: certs,
	})
	rotator.target = srv.Keys()
	if secretFiles != nil && cfg.Secrets.Watch {
		secretFiles.SetOnChange(func() { rotator.rotate(ctx) })
	}

	logger.Info("warden starting",
		"version", Version,
		"config", cfgFile,
		"policies", set.Names(),
		"templates", len(reg.Names()),
		"spending_backend", cfg.Spending.Backend,
		"archive", cfg.Approval.Archive.Enabled,
		"tracing", tracer.Enabled(),
		"tls", cfg.Server.TLS.Enabled,
	)
	if err := srv.Start(ctx); err != nil {
		return cli.NewCommandError("serve", err)
	}
	return nil
}

// watchTemplates reloads templates on change and recompiles every policy
// against the new registry contents.
func watchTemplates(ctx context.Context, cfg *config.Config, reg *templates.Registry, set *engine.Set, bo buildOptions) error {
	wc := templates.DefaultWatcherConfig(cfg.Templates.Dir)
	if cfg.Templates.Debounce > 0 {
		wc.Debounce = cfg.Templates.Debounce
	}
	w, err := templates.NewWatcher(reg, wc, bo.logger)
	if err != nil {
		return err
	}
	w.OnReload = func(err error) {
		bo.metrics.RecordTemplateReload(err, len(reg.Names()))
		if err != nil {
			return
		}
		next, err := compilePolicies(cfg, reg, bo)
		if err != nil {
			bo.logger.Error("policies not recompiled after template reload", "error", err)
			return
		}
		set.Replace(next)
		bo.logger.Info("policies recompiled after template reload", "policies", set.Len())
	}
	go func() {
		if err := w.Watch(ctx); err != nil {
			bo.logger.Error("template watcher stopped", "error", err)
		}
	}()
	return nil
}

// scheduleSpendingCleanup periodically removes spending counters untouched
// for longer than maxAge.
func scheduleSpendingCleanup(ctx context.Context, store storage.Store, maxAge time.Duration, logger *slog.Logger) (func(), error) {
	c := cron.New()
	_, err := c.AddFunc(spendingCleanupSchedule, func() {
		n, err := store.Cleanup(ctx, time.Now().Add(-maxAge))
		if err != nil {
			logger.Error("spending cleanup failed", "error", err)
			return
		}
		if n > 0 {
			logger.Info("stale spending counters removed", "count", n)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("schedule spending cleanup: %w", err)
	}
	c.Start()
	return func() { <-c.Stop().Done() }, nil
}
