package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/warden/pkg/approval"
	"mercator-hq/warden/pkg/cli"
	"mercator-hq/warden/pkg/engine"
	"mercator-hq/warden/pkg/server"
)

var checkFlags struct {
	policy string
	input  string
	mode   string
	format string
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Evaluate an action against a configured policy",
	Long: `Evaluate an action offline against one of the configured policies.

The input is a JSON document shaped like the body of POST /v1/evaluate. Use
"-" to read it from stdin. The command exits with status 3 when the action is
denied and 4 when it awaits human approval.

Examples:
  # Check a transfer against the treasury policy
  warden check --policy treasury --input transfer.json

  # Pipe an action and print the full decision
  cat transfer.json | warden check --input - --format json`,
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)

	checkCmd.Flags().StringVarP(&checkFlags.policy, "policy", "p", "", "policy name (overrides the input document)")
	checkCmd.Flags().StringVarP(&checkFlags.input, "input", "i", "-", "action document, or - for stdin")
	checkCmd.Flags().StringVar(&checkFlags.mode, "mode", server.ModeCheck, "evaluation mode: check, wait")
	checkCmd.Flags().StringVar(&checkFlags.format, "format", "text", "output format: text, json")
}

func readCheckInput(cmd *cobra.Command) (server.EvaluateRequest, error) {
	var req server.EvaluateRequest
	var r io.Reader = cmd.InOrStdin()
	if checkFlags.input != "-" {
		f, err := os.Open(checkFlags.input)
		if err != nil {
			return req, fmt.Errorf("open input: %w", err)
		}
		defer f.Close()
		r = f
	}
	dec := json.NewDecoder(r)
	dec.UseNumber()
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return req, fmt.Errorf("invalid input document: %w", err)
	}
	if checkFlags.policy != "" {
		req.Policy = checkFlags.policy
	}
	if req.Policy == "" || req.Action.Type == "" {
		return req, fmt.Errorf("policy and action.type are required")
	}
	if req.Context.Timestamp.IsZero() {
		req.Context.Timestamp = time.Now().UTC()
	}
	return req, nil
}

func runCheck(cmd *cobra.Command, args []string) error {
	format, err := cli.ParseFormat(checkFlags.format)
	if err != nil {
		return err
	}
	if format == cli.FormatCSV {
		return fmt.Errorf("check does not support csv output")
	}
	req, err := readCheckInput(cmd)
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
		return cli.NewCommandError("check", err)
	}
	spending, err := openSpendingStore(cfg)
	if err != nil {
		return err
	}
	defer spending.Close()

	set, err := compilePolicies(cfg, reg, buildOptions{logger: logger, spending: spending})
	if err != nil {
		return cli.NewCommandError("check", err)
	}
	defer set.Close()

	inst, err := set.Get(req.Policy)
	if err != nil {
		return cli.NewCommandError("check", err)
	}
	proofs, err := engine.DecodeProofs(inst.Policy(), req.Proofs)
	if err != nil {
		return cli.NewCommandError("check", err)
	}
	in := engine.Input{Action: req.Action, Context: req.Context, Proofs: proofs}

	ctx := cmd.Context()
	var d engine.Decision
	switch checkFlags.mode {
	case server.ModeCheck:
		d = inst.Evaluate(ctx, in)
	case server.ModeWait:
		d, err = inst.EvaluateAsync(ctx, in)
		if err != nil {
			return cli.NewCommandError("check", err)
		}
	default:
		return fmt.Errorf("unsupported mode %q (want check or wait)", checkFlags.mode)
	}

	out := cmd.OutOrStdout()
	if err := cli.NewFormatter(format).FormatTo(out, decisionOutput(d)); err != nil {
		return err
	}
	if format == cli.FormatText {
		fmt.Fprintln(out)
		fmt.Fprintln(out, decisionSummary(d))
	}
	if d.Allowed {
		return nil
	}
	return &cli.DecisionError{
		Policy:  d.Policy,
		Reason:  d.Reason,
		Pending: d.Approval != nil && d.Approval.Status == approval.StatusPending,
	}
}

func decisionOutput(d engine.Decision) cli.Table {
	t := cli.Table{
		Headers: []string{"INDEX", "RULE", "PASSED", "MESSAGE"},
		Data:    d,
	}
	for _, r := range d.Results {
		t.Rows = append(t.Rows, []string{
			strconv.Itoa(r.Index),
			r.RuleType,
			strconv.FormatBool(r.Passed),
			r.Message,
		})
	}
	return t
}

func decisionSummary(d engine.Decision) string {
	switch {
	case d.Allowed:
		return fmt.Sprintf("✓ %s: allowed", d.Policy)
	case d.Approval != nil && d.Approval.Status == approval.StatusPending:
		return fmt.Sprintf("… %s: approval required: %s", d.Policy, d.Reason)
	default:
		return fmt.Sprintf("✗ %s: denied: %s", d.Policy, d.Reason)
	}
}
