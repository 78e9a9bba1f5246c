package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/warden/pkg/approval"
	"mercator-hq/warden/pkg/approval/archive"
	"mercator-hq/warden/pkg/cli"
	"mercator-hq/warden/pkg/config"
)

var approvalsFlags struct {
	format string
	output string
	status string
	policy string
	action string
	since  string
	until  string
	limit  int
}

var approvalsCmd = &cobra.Command{
	Use:   "approvals",
	Short: "Inspect the approval archive",
	Long: `Inspect resolved approval requests stored in the approval archive.

The archive must be enabled under approval.archive in the config file.`,
}

var approvalsExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export archived approval requests",
	Long: `Export archived approval requests as JSON or CSV.

Examples:
  # Everything approved for the treasury policy, as CSV
  warden approvals export --policy treasury --status approved --format csv

  # One week of history into a file
  warden approvals export --since 2026-03-01T00:00:00Z --until 2026-03-08T00:00:00Z -o week.json`,
	RunE: runApprovalsExport,
}

var approvalsPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Apply the retention policy to the archive once",
	RunE:  runApprovalsPrune,
}

func init() {
	rootCmd.AddCommand(approvalsCmd)
	approvalsCmd.AddCommand(approvalsExportCmd, approvalsPruneCmd)

	f := approvalsExportCmd.Flags()
	f.StringVar(&approvalsFlags.format, "format", "json", "output format: json, csv")
	f.StringVarP(&approvalsFlags.output, "output", "o", "", "output file (default stdout)")
	f.StringVar(&approvalsFlags.status, "status", "", "filter by status (approved, rejected, timed-out)")
	f.StringVar(&approvalsFlags.policy, "policy", "", "filter by policy")
	f.StringVar(&approvalsFlags.action, "action", "", "filter by action type")
	f.StringVar(&approvalsFlags.since, "since", "", "resolved at or after (RFC 3339)")
	f.StringVar(&approvalsFlags.until, "until", "", "resolved before (RFC 3339)")
	f.IntVar(&approvalsFlags.limit, "limit", 0, "maximum number of requests (default 100)")
}

func exportQuery() (archive.Query, error) {
	q := archive.Query{
		Status: approval.Status(approvalsFlags.status),
		Policy: approvalsFlags.policy,
		Action: approvalsFlags.action,
		Limit:  approvalsFlags.limit,
	}
	for name, pair := range map[string]struct {
		raw string
		dst *time.Time
	}{
		"since": {approvalsFlags.since, &q.Since},
		"until": {approvalsFlags.until, &q.Until},
	} {
		if pair.raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, pair.raw)
		if err != nil {
			return q, fmt.Errorf("invalid --%s: %w", name, err)
		}
		*pair.dst = t
	}
	return q, q.Validate()
}

func openArchiveForCommand() (*config.Config, archive.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	store, err := openArchive(cfg)
	if err != nil {
		return nil, nil, err
	}
	if store == nil {
		return nil, nil, cli.NewConfigError("approval.archive.enabled", "approval archive is disabled")
	}
	return cfg, store, nil
}

func runApprovalsExport(cmd *cobra.Command, args []string) error {
	q, err := exportQuery()
	if err != nil {
		return err
	}
	_, store, err := openArchiveForCommand()
	if err != nil {
		return err
	}
	defer store.Close()

	reqs, err := store.Query(cmd.Context(), q)
	if err != nil {
		return cli.NewCommandError("approvals export", err)
	}

	var w io.Writer = cmd.OutOrStdout()
	if approvalsFlags.output != "" {
		f, err := os.Create(approvalsFlags.output)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	switch cli.OutputFormat(approvalsFlags.format) {
	case cli.FormatJSON:
		err = archive.ExportJSON(w, reqs, true)
	case cli.FormatCSV:
		err = archive.ExportCSV(w, reqs)
	default:
		return fmt.Errorf("unsupported export format %q (want json or csv)", approvalsFlags.format)
	}
	if err != nil {
		return cli.NewCommandError("approvals export", err)
	}
	if approvalsFlags.output != "" {
		fmt.Fprintf(cmd.ErrOrStderr(), "✓ Exported %s requests to %s\n", strconv.Itoa(len(reqs)), approvalsFlags.output)
	}
	return nil
}

func runApprovalsPrune(cmd *cobra.Command, args []string) error {
	cfg, store, err := openArchiveForCommand()
	if err != nil {
		return err
	}
	defer store.Close()

	n, err := archive.NewPruner(store, retentionConfig(cfg)).Prune(cmd.Context())
	if err != nil {
		return cli.NewCommandError("approvals prune", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Pruned %d archived requests\n", n)
	return nil
}

func archiveScheduler(store archive.Store, cfg *config.Config) *archive.Scheduler {
	return archive.NewPruner(store, retentionConfig(cfg)).Scheduler()
}
