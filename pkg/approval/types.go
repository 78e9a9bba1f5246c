package approval

import (
	"errors"
	"fmt"
	"maps"
	"net/url"
	"time"

	"mercator-hq/warden/pkg/rules"
)

// RuleType is the rule tag of an approval configuration.
const RuleType = "human-approval"

// DefaultTimeout is the timeout rule documents get when they omit
// timeout_seconds.
const DefaultTimeout = 5 * time.Minute

var (
	ErrNoTriggers        = errors.New("approval config has no triggers")
	ErrInvalidTimeout    = errors.New("approval timeout must be positive")
	ErrInvalidTrigger    = errors.New("invalid approval trigger")
	ErrInvalidChannel    = errors.New("invalid approval channel")
	ErrMissingWebhookURL = errors.New("webhook channel requires webhook_url")
	ErrNoApprover        = errors.New("callback channel requires an approver")
	ErrRequestNotFound   = errors.New("approval request not found")
	ErrAlreadyResolved   = errors.New("approval request already resolved")
	ErrEngineClosed      = errors.New("approval engine closed")
)

// Status is the lifecycle state of an approval request.
type Status string

const (
	StatusPending     Status = "pending"
	StatusApproved    Status = "approved"
	StatusRejected    Status = "rejected"
	StatusTimedOut    Status = "timed-out"
	StatusNotRequired Status = "not-required"
)

// Terminal reports whether s is a final state.
func (s Status) Terminal() bool {
	return s != StatusPending
}

// Channel is how a pending request reaches a human.
type Channel string

const (
	ChannelCallback Channel = "callback"
	ChannelWebhook  Channel = "webhook"
	ChannelPoll     Channel = "poll"
)

// TriggerType selects how a trigger matches actions.
type TriggerType string

const (
	TriggerActionType      TriggerType = "action-type"
	TriggerAmountThreshold TriggerType = "amount-threshold"
	TriggerAlways          TriggerType = "always"
	TriggerCustom          TriggerType = "custom"
)

// Trigger decides whether an action needs approval.
type Trigger struct {
	Type TriggerType `yaml:"type" json:"type"`

	// Actions holds action type patterns for action-type triggers.
	Actions []string `yaml:"actions,omitempty" json:"actions,omitempty"`

	// Threshold is the amount at or above which an amount-threshold
	// trigger fires. Token optionally restricts it to one asset.
	Threshold rules.Amount `yaml:"threshold,omitempty" json:"threshold,omitzero"`
	Token     string       `yaml:"token,omitempty" json:"token,omitempty"`

	// Predicate names a predicate registered with WithPredicate.
	Predicate string `yaml:"predicate,omitempty" json:"predicate,omitempty"`
}

// String describes the trigger for request records and logs.
func (t Trigger) String() string {
	switch t.Type {
	case TriggerActionType:
		return fmt.Sprintf("action-type%v", t.Actions)
	case TriggerAmountThreshold:
		if t.Token != "" {
			return fmt.Sprintf("amount-threshold(%s %s)", t.Threshold, t.Token)
		}
		return fmt.Sprintf("amount-threshold(%s)", t.Threshold)
	case TriggerCustom:
		return fmt.Sprintf("custom(%s)", t.Predicate)
	default:
		return string(t.Type)
	}
}

func (t Trigger) validate() error {
	switch t.Type {
	case TriggerActionType:
		if len(t.Actions) == 0 {
			return fmt.Errorf("%w: action-type trigger requires actions", ErrInvalidTrigger)
		}
	case TriggerAmountThreshold:
		if !t.Threshold.IsSet() || t.Threshold.Sign() < 0 {
			return fmt.Errorf("%w: amount-threshold trigger requires a non-negative threshold", ErrInvalidTrigger)
		}
	case TriggerAlways:
	case TriggerCustom:
		if t.Predicate == "" {
			return fmt.Errorf("%w: custom trigger requires predicate", ErrInvalidTrigger)
		}
	default:
		return fmt.Errorf("%w: unknown trigger type %q", ErrInvalidTrigger, t.Type)
	}
	return nil
}

// Config configures human approval for a policy.
type Config struct {
	Triggers       []Trigger `yaml:"triggers" json:"triggers"`
	TimeoutSeconds int64     `yaml:"timeout_seconds,omitempty" json:"timeoutSeconds,omitempty"`
	Channel        Channel   `yaml:"channel,omitempty" json:"channel,omitempty"`
	WebhookURL     string    `yaml:"webhook_url,omitempty" json:"webhookUrl,omitempty"`
	Message        string    `yaml:"message,omitempty" json:"message,omitempty"`
}

func (Config) RuleType() string     { return RuleType }
func (Config) Family() rules.Family { return rules.FamilyApproval }

// Timeout returns the configured timeout.
func (c Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ChannelOrDefault returns the configured channel, defaulting to poll.
func (c Config) ChannelOrDefault() Channel {
	if c.Channel == "" {
		return ChannelPoll
	}
	return c.Channel
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if len(c.Triggers) == 0 {
		return ErrNoTriggers
	}
	for i, t := range c.Triggers {
		if err := t.validate(); err != nil {
			return fmt.Errorf("trigger %d: %w", i, err)
		}
	}
	if c.TimeoutSeconds <= 0 {
		return fmt.Errorf("%w: got %d seconds", ErrInvalidTimeout, c.TimeoutSeconds)
	}
	switch c.ChannelOrDefault() {
	case ChannelCallback, ChannelPoll:
	case ChannelWebhook:
		if c.WebhookURL == "" {
			return ErrMissingWebhookURL
		}
		u, err := url.Parse(c.WebhookURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("%w: invalid webhook_url %q", ErrMissingWebhookURL, c.WebhookURL)
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidChannel, c.Channel)
	}
	return nil
}

// Request is an approval request as seen by approvers and the archive.
type Request struct {
	ID         string            `json:"id"`
	Policy     string            `json:"policy,omitempty"`
	Action     rules.ActionInput `json:"action"`
	Triggers   []string          `json:"triggers"`
	Message    string            `json:"message,omitempty"`
	Channel    Channel           `json:"channel"`
	Status     Status            `json:"status"`
	Reason     string            `json:"reason,omitempty"`
	CreatedAt  time.Time         `json:"createdAt"`
	TimeoutAt  time.Time         `json:"timeoutAt"`
	ResolvedAt time.Time         `json:"resolvedAt,omitzero"`
	ResolvedBy string            `json:"resolvedBy,omitempty"`
}

// Clone returns a copy that shares no maps or slices with r.
func (r Request) Clone() Request {
	out := r
	out.Action.Params = maps.Clone(r.Action.Params)
	out.Triggers = append([]string(nil), r.Triggers...)
	return out
}

// Decision is the outcome of an approval check.
type Decision struct {
	Allowed   bool     `json:"allowed"`
	Status    Status   `json:"status"`
	Reason    string   `json:"reason,omitempty"`
	RequestID string   `json:"requestId,omitempty"`
	Triggers  []string `json:"triggers,omitempty"`
}

// CheckResult converts d to the shared result shape.
func (d Decision) CheckResult() rules.CheckResult {
	data := map[string]any{"status": string(d.Status)}
	if d.RequestID != "" {
		data["requestId"] = d.RequestID
	}
	if len(d.Triggers) > 0 {
		data["triggers"] = d.Triggers
	}
	if d.Allowed {
		return rules.Pass(RuleType, d.Reason, data)
	}
	return rules.Fail(RuleType, d.Reason, data)
}

func decisionFor(req Request) Decision {
	return Decision{
		Allowed:   req.Status == StatusApproved,
		Status:    req.Status,
		Reason:    req.Reason,
		RequestID: req.ID,
		Triggers:  req.Triggers,
	}
}
