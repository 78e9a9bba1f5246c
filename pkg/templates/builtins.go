package templates

import (
	"time"

	"mercator-hq/warden/pkg/approval"
	"mercator-hq/warden/pkg/authorization"
	"mercator-hq/warden/pkg/policy"
	"mercator-hq/warden/pkg/ruledoc"
	"mercator-hq/warden/pkg/rules"
	"mercator-hq/warden/pkg/timing"
)

// Built-in template names.
const (
	ReadOnly           = "read-only"
	DailySpendingLimit = "daily-spending-limit"
	BusinessHours      = "business-hours"
	TreasuryMultisig   = "treasury-multisig"
	HighValueApproval  = "high-value-approval"
	DAOGoverned        = "dao-governed"
)

// oneEther is 10^18 base units.
var oneEther = rules.MustAmount("1000000000000000000")

func builtins() []*Template {
	return []*Template{
		{
			Name:        ReadOnly,
			Description: "Allow only read, get, list and query actions",
			Rules: ruledoc.List{
				policy.ActionWhitelistRule{AllowedActions: []string{"read:*", "get:*", "list:*", "query:*"}},
			},
		},
		{
			Name:        DailySpendingLimit,
			Description: "Cap spending at 1 ether per UTC day",
			Params: []Param{
				{Name: "max_per_day", Rule: 0, Description: "daily cap in base units"},
				{Name: "max_per_tx", Rule: 0, Description: "per-transaction cap in base units"},
			},
			Rules: ruledoc.List{
				policy.SpendingCapRule{MaxPerDay: oneEther},
			},
		},
		{
			Name:        BusinessHours,
			Description: "Allow actions Monday to Friday, 09:00-17:00 UTC",
			Params: []Param{
				{Name: "days", Rule: 0, Description: "weekdays, 0 = Sunday"},
				{Name: "start_hour", Rule: 0},
				{Name: "end_hour", Rule: 0},
				{Name: "utc_offset_minutes", Rule: 0},
			},
			Rules: ruledoc.List{
				timing.TimeWindow{
					Days:      []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday},
					StartHour: 9,
					EndHour:   17,
				},
			},
		},
		{
			Name:        TreasuryMultisig,
			Description: "Require 2 treasury signers and cap treasury outflow at 100 ether per day",
			Params: []Param{
				{Name: "signers", Rule: 0, Description: "treasury signer addresses", Required: true},
				{Name: "required", Rule: 0, Description: "signatures required"},
				{Name: "max_per_day", Rule: 1},
			},
			Rules: ruledoc.List{
				authorization.MultiSigRule{Required: 2},
				policy.SpendingCapRule{MaxPerDay: rules.MustAmount("100000000000000000000")},
			},
		},
		{
			Name:        HighValueApproval,
			Description: "Require human approval for amounts of 1 ether or more",
			Params: []Param{
				{Name: "triggers", Rule: 0},
				{Name: "timeout_seconds", Rule: 0},
				{Name: "channel", Rule: 0},
				{Name: "webhook_url", Rule: 0},
			},
			Rules: ruledoc.List{
				approval.Config{
					Triggers:       []approval.Trigger{{Type: approval.TriggerAmountThreshold, Threshold: oneEther}},
					TimeoutSeconds: 3600,
					Channel:        approval.ChannelPoll,
				},
			},
		},
		{
			Name:        DAOGoverned,
			Description: "Require a passed DAO proposal with majority support and 4% quorum",
			Params: []Param{
				{Name: "dao", Rule: 0, Description: "governor contract", Required: true},
				{Name: "proposal_id", Rule: 0},
				{Name: "threshold_bps", Rule: 0},
				{Name: "quorum_bps", Rule: 0},
			},
			Rules: ruledoc.List{
				authorization.DAOApprovalRule{ThresholdBps: 5001, QuorumBps: 400},
			},
		},
	}
}
