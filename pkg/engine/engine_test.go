package engine

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"mercator-hq/warden/pkg/approval"
	"mercator-hq/warden/pkg/authorization"
	"mercator-hq/warden/pkg/condition"
	"mercator-hq/warden/pkg/policy"
	"mercator-hq/warden/pkg/policy/storage"
	"mercator-hq/warden/pkg/rules"
	"mercator-hq/warden/pkg/templates"
	"mercator-hq/warden/pkg/timing"
)

var baseTime = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

func fixedClock() func() time.Time { return func() time.Time { return baseTime } }

func mustPolicy(t *testing.T, name string, rs ...rules.Rule) *templates.Policy {
	t.Helper()
	p, err := templates.NewPolicy(name, rs...)
	if err != nil {
		t.Fatalf("NewPolicy() error = %v", err)
	}
	return p
}

func compile(t *testing.T, p *templates.Policy, opts *Options) *Instance {
	t.Helper()
	if opts == nil {
		opts = DefaultOptions()
	}
	if opts.Clock == nil {
		opts.Clock = fixedClock()
	}
	inst, err := Compile(p, opts)
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	t.Cleanup(inst.Close)
	return inst
}

func transfer(amount any) Input {
	return Input{
		Action:  rules.ActionInput{Type: "transfer", Params: map[string]any{"amount": amount, "to": "0xbob"}},
		Context: rules.VerificationContext{Sender: "0xAlice", Timestamp: baseTime},
	}
}

type countingMetrics struct {
	mu        sync.Mutex
	decisions map[bool]int
	failures  map[string]int
	spent     *big.Int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{decisions: map[bool]int{}, failures: map[string]int{}, spent: new(big.Int)}
}

func (m *countingMetrics) RecordDecision(_ string, allowed bool, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.decisions[allowed]++
}

func (m *countingMetrics) RecordRuleResult(_ string, ruleType string, passed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !passed {
		m.failures[ruleType]++
	}
}

func (m *countingMetrics) RecordSpend(_ string, amount *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.spent.Add(m.spent, amount)
}

// ============================================================================
// Compile
// ============================================================================

func TestCompile_Errors(t *testing.T) {
	if _, err := Compile(nil, nil); err == nil {
		t.Error("expected error for nil policy")
	}

	invalid := &templates.Policy{Name: "bad", Rules: []rules.Rule{policy.ActionWhitelistRule{}}}
	_, err := Compile(invalid, nil)
	var ce *CompileError
	if !errors.As(err, &ce) {
		t.Fatalf("expected CompileError, got %v", err)
	}
	if !errors.Is(err, policy.ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}

	callback := mustPolicy(t, "cb", approval.Config{
		Triggers:       []approval.Trigger{{Type: approval.TriggerAlways}},
		TimeoutSeconds: 60,
		Channel:        approval.ChannelCallback,
	})
	_, err = Compile(callback, nil)
	if !errors.As(err, &ce) || ce.Rule != 0 {
		t.Fatalf("expected CompileError at rule 0, got %v", err)
	}
	if !errors.Is(err, approval.ErrNoApprover) {
		t.Errorf("expected ErrNoApprover, got %v", err)
	}
}

func TestCompile_FromTemplate(t *testing.T) {
	reg := templates.NewRegistry(templates.WithClock(fixedClock()))
	p, err := reg.Build(templates.ReadOnly, templates.Overrides{Name: "agent-7"})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	inst := compile(t, p, nil)

	if d := inst.Evaluate(context.Background(), Input{Action: rules.ActionInput{Type: "read:balance"}}); !d.Allowed {
		t.Errorf("expected read to pass, got %s", d.Reason)
	}
	d := inst.Evaluate(context.Background(), Input{Action: rules.ActionInput{Type: "transfer"}})
	if d.Allowed {
		t.Fatal("expected transfer to be denied")
	}
	if d.Policy != "agent-7" || d.FailedType != string(policy.TypeActionWhitelist) {
		t.Errorf("unexpected decision %+v", d)
	}
}

// ============================================================================
// Evaluate
// ============================================================================

func TestEvaluate_AllPass(t *testing.T) {
	p := mustPolicy(t, "ops",
		authorization.WhitelistRule{Addresses: []string{"0xalice"}},
		policy.ActionWhitelistRule{AllowedActions: []string{"transfer"}},
		policy.SpendingCapRule{MaxPerTx: rules.NewAmount(100)},
	)
	inst := compile(t, p, nil)

	d := inst.Evaluate(context.Background(), transfer(50))
	if !d.Allowed {
		t.Fatalf("expected allow, got %s", d.Reason)
	}
	if len(d.Results) != 3 || d.FailedRule != -1 {
		t.Errorf("expected 3 results and no failure, got %d / %d", len(d.Results), d.FailedRule)
	}
	for i, r := range d.Results {
		if r.Index != i || !r.Passed {
			t.Errorf("unexpected result %d: %+v", i, r)
		}
	}
	if d.Reason != "all 3 rules passed" {
		t.Errorf("unexpected reason %q", d.Reason)
	}
}

func TestEvaluate_StopOnFirstFailure(t *testing.T) {
	p := mustPolicy(t, "strict",
		policy.ActionWhitelistRule{AllowedActions: []string{"swap"}},
		policy.SpendingCapRule{MaxPerTx: rules.NewAmount(10)},
		timing.BeforeTimestamp{Timestamp: baseTime.Add(time.Hour)},
	)

	tests := []struct {
		name        string
		stop        bool
		wantResults int
	}{
		{"stop", true, 1},
		{"continue", false, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inst := compile(t, p, &Options{StopOnFirstFailure: tt.stop})
			d := inst.Evaluate(context.Background(), transfer(50))
			if d.Allowed {
				t.Fatal("expected deny")
			}
			if len(d.Results) != tt.wantResults {
				t.Errorf("expected %d results, got %d", tt.wantResults, len(d.Results))
			}
			if d.FailedRule != 0 || d.FailedType != string(policy.TypeActionWhitelist) {
				t.Errorf("expected first failure at rule 0, got %d (%s)", d.FailedRule, d.FailedType)
			}
			if !strings.Contains(d.Reason, "rule 0 (action-whitelist) failed") {
				t.Errorf("expected reason naming the rule, got %q", d.Reason)
			}
		})
	}
}

func TestEvaluate_ProofLookup(t *testing.T) {
	p := mustPolicy(t, "roles",
		authorization.RoleBasedRule{Role: "operator"},
		condition.BalanceCheck{Token: "USDC", Comparison: condition.Comparison{Operator: rules.OpGreaterEqual, Value: rules.NewAmount(100)}},
	)
	inst := compile(t, p, &Options{StopOnFirstFailure: false})

	operator := authorization.RoleProof{Roles: []string{"operator"}}
	viewer := authorization.RoleProof{Roles: []string{"viewer"}}
	rich := condition.BalanceProof{Balance: rules.NewAmount(500)}

	tests := []struct {
		name   string
		proofs Proofs
		want   []bool
	}{
		{"no proofs", Proofs{}, []bool{false, false}},
		{"by type", Proofs{ByType: map[string]any{"role-based": operator, "balance-check": rich}}, []bool{true, true}},
		{"index wins over type", Proofs{ByIndex: map[int]any{0: viewer}, ByType: map[string]any{"role-based": operator}}, []bool{false, false}},
		{"wrong family", Proofs{ByIndex: map[int]any{0: rich, 1: operator}}, []bool{false, false}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := transfer(1)
			in.Proofs = tt.proofs
			d := inst.Evaluate(context.Background(), in)
			for i, want := range tt.want {
				if d.Results[i].Passed != want {
					t.Errorf("rule %d: expected passed=%v, got %+v", i, want, d.Results[i])
				}
			}
		})
	}
}

func TestEvaluate_Expired(t *testing.T) {
	p := mustPolicy(t, "temp", policy.ActionBlacklistRule{BlockedActions: []string{"withdraw"}})
	p.ExpiresAt = baseTime

	inst := compile(t, p, nil)
	d := inst.Evaluate(context.Background(), transfer(1))
	if d.Allowed || d.Reason != ReasonExpired {
		t.Errorf("expected expired deny, got %+v", d)
	}
	if len(d.Results) != 0 {
		t.Errorf("expected no rules evaluated, got %d", len(d.Results))
	}
}

func TestEvaluate_UnknownRuleFails(t *testing.T) {
	p := mustPolicy(t, "mystery", rules.Unknown{Type: "teleport"})
	inst := compile(t, p, nil)
	d := inst.Evaluate(context.Background(), transfer(1))
	if d.Allowed {
		t.Fatal("expected unknown rule to deny")
	}
	if d.Results[0].RuleType != rules.UnknownRuleType {
		t.Errorf("expected unknown result, got %s", d.Results[0].RuleType)
	}
}

func TestEvaluate_EmptyPolicyAllows(t *testing.T) {
	inst := compile(t, mustPolicy(t, "open"), nil)
	if d := inst.Evaluate(context.Background(), transfer(1)); !d.Allowed {
		t.Errorf("expected empty policy to allow, got %s", d.Reason)
	}
}

func TestEvaluate_Metrics(t *testing.T) {
	m := newCountingMetrics()
	p := mustPolicy(t, "m", policy.SpendingCapRule{MaxPerTx: rules.NewAmount(10)})
	inst := compile(t, p, &Options{StopOnFirstFailure: true, Metrics: m})

	inst.Evaluate(context.Background(), transfer(5))
	inst.Evaluate(context.Background(), transfer(50))
	if err := inst.RecordExecution(context.Background(), transfer(5)); err != nil {
		t.Fatalf("RecordExecution() error = %v", err)
	}

	if m.decisions[true] != 1 || m.decisions[false] != 1 {
		t.Errorf("unexpected decisions %v", m.decisions)
	}
	if m.failures["spending-cap"] != 1 {
		t.Errorf("expected 1 spending-cap failure, got %v", m.failures)
	}
	if m.spent.Int64() != 5 {
		t.Errorf("expected 5 spent, got %s", m.spent)
	}
}

// ============================================================================
// RecordExecution
// ============================================================================

func TestRecordExecution_StatefulRules(t *testing.T) {
	p := mustPolicy(t, "stateful",
		policy.SpendingCapRule{MaxPerDay: rules.NewAmount(10)},
		timing.Cooldown{PeriodSeconds: 60},
	)
	inst := compile(t, p, nil)
	ctx := context.Background()

	if d := inst.Evaluate(ctx, transfer(6)); !d.Allowed {
		t.Fatalf("expected first transfer to pass, got %s", d.Reason)
	}
	if err := inst.RecordExecution(ctx, transfer(6)); err != nil {
		t.Fatalf("RecordExecution() error = %v", err)
	}

	d := inst.Evaluate(ctx, transfer(1))
	if d.Allowed || d.FailedType != "cooldown" {
		t.Errorf("expected cooldown deny, got %+v", d)
	}

	later := transfer(6)
	later.Context.Timestamp = baseTime.Add(2 * time.Minute)
	d = inst.Evaluate(ctx, later)
	if d.Allowed || d.FailedType != "spending-cap" {
		t.Errorf("expected daily cap deny, got %+v", d)
	}

	if _, ok := inst.PolicyFor(0); !ok {
		t.Error("expected stateful policy at rule 0")
	}
	if _, ok := inst.PolicyFor(1); ok {
		t.Error("expected no stateful policy for timing rule")
	}
}

func TestRecordExecution_RestoresSpending(t *testing.T) {
	store := storage.NewMemoryStore()
	p := mustPolicy(t, "persisted", policy.SpendingCapRule{MaxPerDay: rules.NewAmount(10)})

	first := compile(t, p, &Options{StopOnFirstFailure: true, SpendingStore: store})
	if err := first.RecordExecution(context.Background(), transfer(8)); err != nil {
		t.Fatalf("RecordExecution() error = %v", err)
	}
	first.Close()

	second := compile(t, p, &Options{StopOnFirstFailure: true, SpendingStore: store})
	if d := second.Evaluate(context.Background(), transfer(5)); d.Allowed {
		t.Error("expected restored spending to deny")
	}
	if d := second.Evaluate(context.Background(), transfer(2)); !d.Allowed {
		t.Errorf("expected remaining budget to allow, got %s", d.Reason)
	}
}

// ============================================================================
// Approval
// ============================================================================

func approvalPolicy(t *testing.T, extra ...rules.Rule) *templates.Policy {
	rs := append([]rules.Rule{
		approval.Config{
			Triggers:       []approval.Trigger{{Type: approval.TriggerAmountThreshold, Threshold: rules.NewAmount(100)}},
			TimeoutSeconds: 60,
		},
	}, extra...)
	return mustPolicy(t, "guarded", rs...)
}

func TestEvaluate_ApprovalQuickDeny(t *testing.T) {
	inst := compile(t, approvalPolicy(t), nil)

	d := inst.Evaluate(context.Background(), transfer(500))
	if d.Allowed {
		t.Fatal("expected pending approval to deny")
	}
	if d.Approval == nil || d.Approval.Status != approval.StatusPending {
		t.Fatalf("expected pending approval, got %+v", d.Approval)
	}
	if len(inst.Approvals().PendingRequests()) != 0 {
		t.Error("expected Evaluate not to open a request")
	}

	if d := inst.Evaluate(context.Background(), transfer(5)); !d.Allowed {
		t.Errorf("expected small transfer to pass, got %s", d.Reason)
	}
}

func TestEvaluateAsync_Approved(t *testing.T) {
	inst := compile(t, approvalPolicy(t), nil)

	go func() {
		for {
			pending := inst.Approvals().PendingRequests()
			if len(pending) == 1 {
				_ = inst.Approvals().Approve(pending[0].ID)
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	d, err := inst.EvaluateAsync(ctx, transfer(500))
	if err != nil {
		t.Fatalf("EvaluateAsync() error = %v", err)
	}
	if !d.Allowed || d.Approval.Status != approval.StatusApproved {
		t.Errorf("expected approved decision, got %+v", d)
	}
}

func TestSubmit_ApprovalEvaluatedLast(t *testing.T) {
	// The approval rule comes first but must not open a request when a
	// later rule already denies.
	p := approvalPolicy(t, policy.ActionBlacklistRule{BlockedActions: []string{"transfer"}})
	inst := compile(t, p, &Options{StopOnFirstFailure: false})

	d, f, err := inst.Submit(context.Background(), transfer(500))
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if d.Allowed || f != nil {
		t.Errorf("expected deny without a request, got %+v / %v", d, f)
	}
	if d.FailedRule != 1 {
		t.Errorf("expected blacklist failure at rule 1, got %d", d.FailedRule)
	}
	if d.Results[len(d.Results)-1].RuleType != approval.RuleType {
		t.Error("expected approval result last")
	}
	if len(inst.Approvals().PendingRequests()) != 0 {
		t.Error("expected no pending requests")
	}
}

func TestSubmit_OpensRequest(t *testing.T) {
	inst := compile(t, approvalPolicy(t), nil)

	d, f, err := inst.Submit(context.Background(), transfer(500))
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if f == nil || d.Approval.RequestID != f.RequestID() {
		t.Fatalf("expected future for request, got %+v", d.Approval)
	}
	if err := inst.Approvals().Reject(f.RequestID(), "too large"); err != nil {
		t.Fatalf("Reject() error = %v", err)
	}
	final, err := f.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if final.Allowed || final.Reason != "too large" {
		t.Errorf("unexpected final decision %+v", final)
	}
}

// ============================================================================
// Close
// ============================================================================

func TestClose(t *testing.T) {
	inst := compile(t, approvalPolicy(t), nil)
	_, f, err := inst.Submit(context.Background(), transfer(500))
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	inst.Close()
	inst.Close()

	final, _ := f.Wait(context.Background())
	if final.Allowed || final.Status != approval.StatusRejected {
		t.Errorf("expected pending request rejected on close, got %+v", final)
	}
	if _, err := inst.EvaluateAsync(context.Background(), transfer(1)); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if err := inst.RecordExecution(context.Background(), transfer(1)); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}
