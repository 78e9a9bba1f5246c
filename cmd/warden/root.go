package main

import (
	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile   string
	logLevel  string
	logFormat string
)

var rootCmd = &cobra.Command{
	Use:   "warden",
	Short: "Warden - policy verification for agent actions",
	Long: `Warden decides whether an agent may execute an action.

Policies are built from templates of typed rules:
  - Authorization: signatures, multi-sig, thresholds, allow and deny lists,
    token and NFT gates, roles, DAO votes, time locks, social recovery
  - State conditions: balances, allowances, prices, liquidity, positions
  - Timing: windows, cooldowns, block-relative and absolute deadlines
  - Action policies: spending caps, rate limits, action allow and deny lists
  - Human approval with webhook or polling resolution`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "warden.yaml", "config file path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "override log format (json, text)")
}
