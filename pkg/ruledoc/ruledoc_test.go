package ruledoc

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"mercator-hq/warden/pkg/approval"
	"mercator-hq/warden/pkg/authorization"
	"mercator-hq/warden/pkg/condition"
	"mercator-hq/warden/pkg/policy"
	"mercator-hq/warden/pkg/rules"
	"mercator-hq/warden/pkg/timing"
)

func TestDecode_Families(t *testing.T) {
	tests := []struct {
		name  string
		doc   string
		check func(t *testing.T, r rules.Rule)
	}{
		{
			name: "multi-sig",
			doc:  "type: multi-sig\nsigners: [\"0xA1\", \"0xB2\", \"0xC3\"]\nrequired: 2\n",
			check: func(t *testing.T, r rules.Rule) {
				ms, ok := r.(authorization.MultiSigRule)
				if !ok {
					t.Fatalf("expected MultiSigRule, got %T", r)
				}
				if ms.Required != 2 || len(ms.Signers) != 3 {
					t.Errorf("unexpected rule %+v", ms)
				}
			},
		},
		{
			name: "threshold snake case",
			doc:  "type: threshold\nvoters: [a, b]\nthreshold_bps: 6000\n",
			check: func(t *testing.T, r rules.Rule) {
				th := r.(authorization.ThresholdRule)
				if th.ThresholdBps != 6000 {
					t.Errorf("expected 6000 bps, got %d", th.ThresholdBps)
				}
			},
		},
		{
			name: "balance check with symbolic operator",
			doc:  "type: balance-check\ntoken: USDC\noperator: \">=\"\nvalue: \"1000000\"\n",
			check: func(t *testing.T, r rules.Rule) {
				bc := r.(condition.BalanceCheck)
				if bc.Operator != rules.OpGreaterEqual {
					t.Errorf("expected gte, got %q", bc.Operator)
				}
				if bc.Value.Cmp(rules.NewAmount(1000000)) != 0 {
					t.Errorf("expected value 1000000, got %s", bc.Value)
				}
			},
		},
		{
			name: "time window",
			doc:  "type: time-window\ndays: [1, 2, 3, 4, 5]\nstart_hour: 9\nend_hour: 17\n",
			check: func(t *testing.T, r rules.Rule) {
				tw := r.(timing.TimeWindow)
				if len(tw.Days) != 5 || tw.Days[0] != time.Monday || tw.EndHour != 17 {
					t.Errorf("unexpected rule %+v", tw)
				}
			},
		},
		{
			name: "before timestamp",
			doc:  "type: before-timestamp\ntimestamp: 2026-01-01T00:00:00Z\n",
			check: func(t *testing.T, r rules.Rule) {
				bt := r.(timing.BeforeTimestamp)
				if !bt.Timestamp.Equal(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)) {
					t.Errorf("unexpected timestamp %v", bt.Timestamp)
				}
			},
		},
		{
			name: "spending cap big amounts",
			doc:  "type: spending-cap\nmax_per_tx: \"1000000000000000000\"\nmax_per_day: 5000000000000000000\n",
			check: func(t *testing.T, r rules.Rule) {
				sc := r.(policy.SpendingCapRule)
				if sc.MaxPerTx.String() != "1000000000000000000" || sc.MaxPerDay.String() != "5000000000000000000" {
					t.Errorf("unexpected caps %s / %s", sc.MaxPerTx, sc.MaxPerDay)
				}
			},
		},
		{
			name: "human approval",
			doc:  "type: human-approval\ntriggers:\n  - type: amount-threshold\n    threshold: \"1000000000000000000\"\ntimeout_seconds: 300\nchannel: poll\n",
			check: func(t *testing.T, r rules.Rule) {
				cfg := r.(approval.Config)
				if len(cfg.Triggers) != 1 || cfg.TimeoutSeconds != 300 || cfg.Channel != approval.ChannelPoll {
					t.Errorf("unexpected config %+v", cfg)
				}
				if err := cfg.Validate(); err != nil {
					t.Errorf("expected valid config, got %v", err)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := DecodeYAML([]byte(tt.doc))
			if err != nil {
				t.Fatalf("DecodeYAML() error = %v", err)
			}
			tt.check(t, r)
		})
	}
}

func TestDecode_Map(t *testing.T) {
	r, err := Decode(map[string]any{
		"type":            "action-whitelist",
		"allowed_actions": []any{"read:*", "swap"},
	})
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	wl, ok := r.(policy.ActionWhitelistRule)
	if !ok {
		t.Fatalf("expected ActionWhitelistRule, got %T", r)
	}
	if len(wl.AllowedActions) != 2 {
		t.Errorf("expected 2 actions, got %v", wl.AllowedActions)
	}
}

func TestDecode_UnknownType(t *testing.T) {
	r, err := Decode(map[string]any{"type": "quantum-entanglement", "spooky": true})
	if err != nil {
		t.Fatalf("expected no error for unknown type, got %v", err)
	}
	u, ok := r.(rules.Unknown)
	if !ok {
		t.Fatalf("expected rules.Unknown, got %T", r)
	}
	if u.Type != "quantum-entanglement" {
		t.Errorf("expected type preserved, got %q", u.Type)
	}
	if res := rules.CheckUnknown(u); res.Passed || res.RuleType != rules.UnknownRuleType {
		t.Errorf("expected failed unknown result, got %v", res)
	}
	if err := Validate(r); err == nil {
		t.Error("expected Validate to reject unknown rule")
	}
}

func TestDecode_ApprovalTimeout(t *testing.T) {
	r, err := DecodeYAML([]byte("type: human-approval\ntriggers:\n  - type: always\n"))
	if err != nil {
		t.Fatalf("DecodeYAML() error = %v", err)
	}
	cfg := r.(approval.Config)
	if cfg.Timeout() != approval.DefaultTimeout {
		t.Errorf("expected omitted timeout to default to %s, got %s", approval.DefaultTimeout, cfg.Timeout())
	}

	r, err = DecodeYAML([]byte("type: human-approval\ntriggers:\n  - type: always\ntimeout_seconds: 0\n"))
	if err != nil {
		t.Fatalf("DecodeYAML() error = %v", err)
	}
	if err := Validate(r); !errors.Is(err, approval.ErrInvalidTimeout) {
		t.Errorf("expected explicit zero timeout to be rejected, got %v", err)
	}
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantErr error
	}{
		{"missing type", "signers: [a]\n", ErrMissingType},
		{"not a mapping", "- a\n- b\n", ErrNotMapping},
		{"unknown field", "type: signature\nsigner: a\nsignr: b\n", nil},
		{"bad amount", "type: spending-cap\nmax_per_tx: 1.5\n", nil},
		{"bad operator", "type: balance-check\noperator: \"~\"\nvalue: 1\n", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeYAML([]byte(tt.doc))
			if err == nil {
				t.Fatal("expected error")
			}
			var de *DecodeError
			if !errors.As(err, &de) {
				t.Errorf("expected DecodeError, got %T", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestDecodeList(t *testing.T) {
	doc := `
- type: signature
  signer: "0xabc"
- type: cooldown
  period_seconds: 60
- type: not-a-rule
- type: rate-limit
  max_calls: 10
  window_seconds: 60
`
	list, err := DecodeList([]byte(doc))
	if err != nil {
		t.Fatalf("DecodeList() error = %v", err)
	}
	if len(list) != 4 {
		t.Fatalf("expected 4 rules, got %d", len(list))
	}
	wantTypes := []string{"signature", "cooldown", rules.UnknownRuleType, "rate-limit"}
	for i, want := range wantTypes {
		if list[i].RuleType() != want {
			t.Errorf("rule %d: expected %s, got %s", i, want, list[i].RuleType())
		}
	}
}

func TestDecodeList_ErrorIndex(t *testing.T) {
	_, err := DecodeList([]byte("- type: signature\n  signer: a\n- signer: b\n"))
	var de *DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("expected DecodeError, got %v", err)
	}
	if de.Index != 1 {
		t.Errorf("expected index 1, got %d", de.Index)
	}
	if !strings.Contains(err.Error(), "rule 1") {
		t.Errorf("expected message to name rule 1, got %q", err.Error())
	}
}

func TestEncode_RoundTrip(t *testing.T) {
	in := policy.SpendingCapRule{MaxPerDay: rules.MustAmount("5000000000000000000")}
	doc, err := Encode(in)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if doc["type"] != "spending-cap" {
		t.Errorf("expected type tag, got %v", doc["type"])
	}
	if _, ok := doc["max_per_tx"]; ok {
		t.Error("expected unset max_per_tx to be omitted")
	}

	out, err := Decode(doc)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	sc := out.(policy.SpendingCapRule)
	if sc.MaxPerTx.IsSet() || sc.MaxPerDay.Cmp(in.MaxPerDay) != 0 {
		t.Errorf("round trip changed rule: %+v", sc)
	}
}

func TestTypes(t *testing.T) {
	types := Types()
	for _, want := range []string{"signature", "custom-check", "block-window", "spending-cap", "human-approval"} {
		if !Known(want) {
			t.Errorf("expected %s to be known", want)
		}
	}
	if len(types) != len(authorization.Types)+len(condition.Types)+len(timing.Types)+len(policy.Types)+1 {
		t.Errorf("unexpected number of types: %d", len(types))
	}
}

func TestList_MarshalJSON(t *testing.T) {
	l := List{
		policy.SpendingCapRule{MaxPerTx: rules.MustAmount("1000000000000000000")},
		rules.Unknown{Type: "mystery"},
	}
	raw, err := json.Marshal(l)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var docs []map[string]any
	if err := json.Unmarshal(raw, &docs); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("expected 2 documents, got %d", len(docs))
	}
	if docs[0]["type"] != "spending-cap" || docs[0]["max_per_tx"] != "1000000000000000000" {
		t.Errorf("unexpected spending cap document %v", docs[0])
	}
	if docs[1]["type"] != "mystery" {
		t.Errorf("expected unknown type preserved, got %v", docs[1])
	}
}

func TestList_UnmarshalJSON(t *testing.T) {
	in := List{
		authorization.MultiSigRule{Signers: []string{"0xA1", "0xB2"}, Required: 2},
		policy.SpendingCapRule{MaxPerTx: rules.MustAmount("1000000000000000000")},
		rules.Unknown{Type: "mystery"},
	}
	raw, err := json.Marshal(struct {
		Rules List `json:"rules"`
	}{in})
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var out struct {
		Rules List `json:"rules"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if len(out.Rules) != 3 {
		t.Fatalf("expected 3 rules, got %d", len(out.Rules))
	}
	ms, ok := out.Rules[0].(authorization.MultiSigRule)
	if !ok || ms.Required != 2 || len(ms.Signers) != 2 {
		t.Errorf("unexpected multi-sig rule %+v", out.Rules[0])
	}
	if sc := out.Rules[1].(policy.SpendingCapRule); sc.MaxPerTx.String() != "1000000000000000000" {
		t.Errorf("unexpected cap %s", sc.MaxPerTx)
	}
	if out.Rules[2].RuleType() != "mystery" {
		t.Errorf("expected unknown type preserved, got %s", out.Rules[2].RuleType())
	}

	var empty List
	if err := json.Unmarshal([]byte("null"), &empty); err != nil || empty != nil {
		t.Errorf("expected null to decode to nil list, got %v (%v)", empty, err)
	}
	if err := json.Unmarshal([]byte(`[{"signer": "0xa"}]`), &empty); err == nil {
		t.Error("expected error for document without type")
	}
}

func TestClone_SharesNothing(t *testing.T) {
	in := authorization.MultiSigRule{Signers: []string{"0xA1", "0xB2"}, Required: 1}
	out, err := Clone(in)
	if err != nil {
		t.Fatalf("Clone() error = %v", err)
	}
	out.(authorization.MultiSigRule).Signers[0] = "0xZZ"
	if in.Signers[0] != "0xA1" {
		t.Errorf("expected original signers untouched, got %v", in.Signers)
	}
}
