package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"mercator-hq/warden/pkg/cli"
	"mercator-hq/warden/pkg/templates"
)

var lintCmd = &cobra.Command{
	Use:   "lint [TEMPLATE_PATH...]",
	Short: "Validate the config file and template files",
	Long: `Validate the config file, compile every configured policy and, when paths
are given, validate the template files or directories they name.

Examples:
  # Validate the config and its policies
  warden lint

  # Also validate a template directory before deploying it
  warden lint ./templates`,
	RunE: runLint,
}

func init() {
	rootCmd.AddCommand(lintCmd)
}

func runLint(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	var (
		extra []*templates.Template
		errs  []error
	)
	for _, path := range args {
		ts, err := lintTemplates(path)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
			continue
		}
		extra = append(extra, ts...)
		fmt.Fprintf(out, "✓ %s: %d templates\n", path, len(ts))
	}
	if len(errs) > 0 {
		return cli.NewCommandError("lint", errors.Join(errs...))
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	reg, err := newRegistry(cfg, logger)
	if err != nil {
		return cli.NewCommandError("lint", err)
	}
	// Template files named on the command line take part in compilation.
	for _, t := range extra {
		if err := reg.Define(t); err != nil {
			return cli.NewCommandError("lint", fmt.Errorf("%s: %w", t.Source, err))
		}
	}

	set, err := compilePolicies(cfg, reg, buildOptions{logger: logger})
	if err != nil {
		return cli.NewCommandError("lint", err)
	}
	defer set.Close()

	fmt.Fprintf(out, "✓ %s: %d policies compiled\n", cfgFile, set.Len())
	return nil
}

// lintTemplates loads the template file or directory at path.
func lintTemplates(path string) ([]*templates.Template, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return templates.LoadDir(path)
	}
	return templates.LoadFile(path)
}
