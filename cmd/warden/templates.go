package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"mercator-hq/warden/pkg/cli"
)

var templatesFormat string

var templatesCmd = &cobra.Command{
	Use:   "templates",
	Short: "List and inspect policy templates",
	Long: `List and inspect the built-in policy templates and the custom templates
loaded from templates.dir.`,
}

var templatesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List available templates",
	Args:  cobra.NoArgs,
	RunE:  runTemplatesList,
}

var templatesShowCmd = &cobra.Command{
	Use:   "show NAME",
	Short: "Show a template's parameters and rules",
	Args:  cobra.ExactArgs(1),
	RunE:  runTemplatesShow,
}

func init() {
	rootCmd.AddCommand(templatesCmd)
	templatesCmd.AddCommand(templatesListCmd, templatesShowCmd)
	templatesCmd.PersistentFlags().StringVar(&templatesFormat, "format", "text", "output format: text, json, csv")
}

func runTemplatesList(cmd *cobra.Command, args []string) error {
	format, err := cli.ParseFormat(templatesFormat)
	if err != nil {
		return err
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
		return cli.NewCommandError("templates list", err)
	}

	summaries := reg.List()
	t := cli.Table{
		Headers: []string{"NAME", "BUILTIN", "RULES", "PARAMS", "DESCRIPTION"},
		Data:    summaries,
	}
	for _, s := range summaries {
		t.Rows = append(t.Rows, []string{
			s.Name,
			fmt.Sprint(s.Builtin),
			strings.Join(s.RuleTypes, ","),
			strings.Join(s.Params, ","),
			s.Description,
		})
	}
	return cli.NewFormatter(format).FormatTo(cmd.OutOrStdout(), t)
}

func runTemplatesShow(cmd *cobra.Command, args []string) error {
	format, err := cli.ParseFormat(templatesFormat)
	if err != nil {
		return err
	}
	if format == cli.FormatCSV {
		return fmt.Errorf("templates show does not support csv output")
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
		return cli.NewCommandError("templates show", err)
	}
	tmpl, ok := reg.Get(args[0])
	if !ok {
		return cli.NewCommandError("templates show", fmt.Errorf("template %q not found", args[0]))
	}

	out := cmd.OutOrStdout()
	if format == cli.FormatJSON {
		view := struct {
			Name        string `json:"name"`
			Description string `json:"description,omitempty"`
			Builtin     bool   `json:"builtin"`
			Source      string `json:"source,omitempty"`
			Params      any    `json:"params,omitempty"`
			Rules       any    `json:"rules"`
		}{tmpl.Name, tmpl.Description, tmpl.Builtin, tmpl.Source, tmpl.Params, tmpl.Rules}
		return cli.NewFormatter(format).FormatTo(out, view)
	}

	fmt.Fprintf(out, "Name:        %s\n", tmpl.Name)
	if tmpl.Description != "" {
		fmt.Fprintf(out, "Description: %s\n", tmpl.Description)
	}
	if tmpl.Source != "" {
		fmt.Fprintf(out, "Source:      %s\n", tmpl.Source)
	} else if tmpl.Builtin {
		fmt.Fprintln(out, "Source:      builtin")
	}
	if len(tmpl.Params) > 0 {
		fmt.Fprintln(out, "\nParameters:")
		params := cli.Table{Headers: []string{"  NAME", "RULE", "REQUIRED", "DESCRIPTION"}}
		for _, p := range tmpl.Params {
			params.Rows = append(params.Rows, []string{"  " + p.Name, fmt.Sprint(p.Rule), fmt.Sprint(p.Required), p.Description})
		}
		if err := cli.NewFormatter(cli.FormatText).FormatTo(out, params); err != nil {
			return err
		}
	}

	doc, err := yaml.Marshal(map[string]any{"rules": tmpl.Rules})
	if err != nil {
		return fmt.Errorf("render rules: %w", err)
	}
	fmt.Fprintf(out, "\n%s", doc)
	return nil
}
