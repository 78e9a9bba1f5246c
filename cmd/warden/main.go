// Warden is an authorization and policy verification engine for agent
// actions.
//
// Policies are composed from rule templates and evaluated against proposed
// actions: authorization proofs, state conditions, timing windows, action
// policies such as spending caps and rate limits, and human approval.
//
// Usage:
//
//	# Serve the evaluation and approval API
//	warden serve --config warden.yaml
//
//	# Evaluate one action offline
//	warden check --policy treasury --input action.json
//
//	# Inspect templates
//	warden templates list
//	warden templates show treasury-multisig
//
//	# Validate configuration and template files
//	warden lint --config warden.yaml
//
//	# Export archived approval requests
//	warden approvals export --format csv --since 2026-01-01T00:00:00Z
package main

import (
	"fmt"
	"os"

	"mercator-hq/warden/pkg/cli"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(cli.ExitCode(err))
	}
}
