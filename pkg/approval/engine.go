package approval

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"mercator-hq/warden/pkg/rules"
)

// Approver decides a request delivered through the callback channel. It
// should honour ctx, which expires at the request's timeout.
type Approver interface {
	Approve(ctx context.Context, req Request) (bool, error)
}

// ApproverFunc adapts a function to Approver.
type ApproverFunc func(ctx context.Context, req Request) (bool, error)

func (f ApproverFunc) Approve(ctx context.Context, req Request) (bool, error) { return f(ctx, req) }

// Archive receives every resolved request.
type Archive interface {
	Put(ctx context.Context, req Request) error
}

// Metrics receives approval lifecycle events.
type Metrics interface {
	RecordApprovalRequested(channel string)
	RecordApprovalResolved(channel, status string, wait time.Duration)
	SetApprovalsPending(n int)
	RecordNotificationFailure(channel string)
}

type nopMetrics struct{}

func (nopMetrics) RecordApprovalRequested(string)                       {}
func (nopMetrics) RecordApprovalResolved(string, string, time.Duration) {}
func (nopMetrics) SetApprovalsPending(int)                              {}
func (nopMetrics) RecordNotificationFailure(string)                     {}

const defaultHistorySize = 1024

// Option configures an Engine.
type Option func(*Engine)

// WithApprover sets the callback channel approver.
func WithApprover(a Approver) Option {
	return func(e *Engine) { e.approver = a }
}

// WithNotifier overrides the webhook notifier.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithWebhookOptions configures the notifier created for webhook channels
// when no notifier is set.
func WithWebhookOptions(opts ...WebhookOption) Option {
	return func(e *Engine) { e.webhookOpts = append(e.webhookOpts, opts...) }
}

// WithPredicate registers a custom trigger predicate under id.
func WithPredicate(id string, p Predicate) Option {
	return func(e *Engine) { e.predicates[id] = p }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithArchive stores resolved requests in a.
func WithArchive(a Archive) Option {
	return func(e *Engine) { e.archive = a }
}

// WithPolicyName labels requests with the owning policy.
func WithPolicyName(name string) Option {
	return func(e *Engine) { e.policy = name }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithHistorySize bounds how many resolved requests stay queryable.
func WithHistorySize(n int) Option {
	return func(e *Engine) { e.historySize = n }
}

type pendingRequest struct {
	req    Request
	future *Future
	timer  *time.Timer
}

// Engine evaluates approval triggers and tracks pending requests.
type Engine struct {
	cfg        Config
	channel    Channel
	timeout    time.Duration
	policy     string
	approver   Approver
	notifier   Notifier
	predicates map[string]Predicate

	webhookOpts []WebhookOption
	archive     Archive
	metrics     Metrics
	logger      *slog.Logger
	now         func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	pending     map[string]*pendingRequest
	resolved    map[string]Request
	history     []string
	historySize int
	closed      bool
	wg          sync.WaitGroup
}

// New creates an engine for cfg.
func New(cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		cfg:         cfg,
		channel:     cfg.ChannelOrDefault(),
		timeout:     cfg.Timeout(),
		predicates:  make(map[string]Predicate),
		metrics:     nopMetrics{},
		now:         time.Now,
		pending:     make(map[string]*pendingRequest),
		resolved:    make(map[string]Request),
		historySize: defaultHistorySize,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default().With("component", "approval")
	}
	e.ctx, e.cancel = context.WithCancel(context.Background())
	if e.metrics == nil {
		e.metrics = nopMetrics{}
	}
	switch e.channel {
	case ChannelCallback:
		if e.approver == nil {
			return nil, ErrNoApprover
		}
	case ChannelWebhook:
		if e.notifier == nil {
			e.notifier = NewWebhookNotifier(cfg.WebhookURL, e.webhookOpts...)
		}
	}
	for _, t := range cfg.Triggers {
		if t.Type == TriggerCustom {
			if _, ok := e.predicates[t.Predicate]; !ok {
				e.logger.Warn("custom trigger predicate not registered, trigger will never fire",
					"predicate", t.Predicate,
				)
			}
		}
	}
	return e, nil
}

// Config returns the engine's configuration.
func (e *Engine) Config() Config { return e.cfg }

// Check decides action without blocking. A triggered action is denied with
// status pending and no request is created.
func (e *Engine) Check(action rules.ActionInput) Decision {
	matched := e.Matches(action)
	if len(matched) == 0 {
		return Decision{Allowed: true, Status: StatusNotRequired, Reason: "approval not required"}
	}
	return Decision{
		Allowed:  false,
		Status:   StatusPending,
		Reason:   e.message(matched),
		Triggers: matched,
	}
}

// Submit opens an approval request for action and returns its future. An
// action that fires no trigger gets an already resolved future.
func (e *Engine) Submit(ctx context.Context, action rules.ActionInput) (*Future, error) {
	matched := e.Matches(action)
	if len(matched) == 0 {
		f := newFuture("")
		f.resolve(Decision{Allowed: true, Status: StatusNotRequired, Reason: "approval not required"})
		return f, nil
	}

	now := e.now()
	req := Request{
		ID:        uuid.New().String(),
		Policy:    e.policy,
		Action:    rules.ActionInput{Type: action.Type, Params: action.Params},
		Triggers:  matched,
		Message:   e.message(matched),
		Channel:   e.channel,
		Status:    StatusPending,
		CreatedAt: now,
		TimeoutAt: now.Add(e.timeout),
	}
	req = req.Clone()
	f := newFuture(req.ID)

	e.metrics.RecordApprovalRequested(string(e.channel))
	e.logger.Info("approval requested",
		"request_id", req.ID,
		"action", action.Type,
		"channel", e.channel,
		"triggers", matched,
	)

	if e.channel == ChannelCallback {
		e.mu.Lock()
		if e.closed {
			e.mu.Unlock()
			return nil, ErrEngineClosed
		}
		e.wg.Add(1)
		e.mu.Unlock()
		go e.runCallback(ctx, req, f)
		return f, nil
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, ErrEngineClosed
	}
	p := &pendingRequest{req: req, future: f}
	e.pending[req.ID] = p
	id := req.ID
	p.timer = time.AfterFunc(e.timeout, func() {
		_ = e.resolve(id, StatusTimedOut, fmt.Sprintf("approval timed out after %s", e.timeout), "")
	})
	count := len(e.pending)
	if e.channel == ChannelWebhook {
		e.wg.Add(1)
	}
	e.mu.Unlock()
	e.metrics.SetApprovalsPending(count)

	if e.channel == ChannelWebhook {
		go e.notify(req.Clone())
	}
	return f, nil
}

// CheckAsync submits action and waits for the decision. When ctx ends first
// the request is resolved as rejected and that decision is returned.
func (e *Engine) CheckAsync(ctx context.Context, action rules.ActionInput) (Decision, error) {
	f, err := e.Submit(ctx, action)
	if err != nil {
		return Decision{Allowed: false, Status: StatusRejected, Reason: err.Error()}, err
	}
	d, err := f.Wait(ctx)
	if err == nil {
		return d, nil
	}
	_ = e.resolve(f.RequestID(), StatusRejected, "approval wait cancelled: "+err.Error(), "")
	<-f.Done()
	d, _ = f.Decision()
	return d, nil
}

// Approve resolves a pending request as approved.
func (e *Engine) Approve(id string) error {
	return e.ApproveAs(id, "")
}

// ApproveAs resolves a pending request as approved, recording approver.
func (e *Engine) ApproveAs(id, approver string) error {
	return e.resolve(id, StatusApproved, "approved", approver)
}

// Reject resolves a pending request as rejected.
func (e *Engine) Reject(id, reason string) error {
	return e.RejectAs(id, "", reason)
}

// RejectAs resolves a pending request as rejected, recording approver.
func (e *Engine) RejectAs(id, approver, reason string) error {
	if reason == "" {
		reason = "rejected"
	}
	return e.resolve(id, StatusRejected, reason, approver)
}

// PendingRequests returns the pending requests, oldest first.
func (e *Engine) PendingRequests() []Request {
	e.mu.Lock()
	out := make([]Request, 0, len(e.pending))
	for _, p := range e.pending {
		out = append(out, p.req.Clone())
	}
	e.mu.Unlock()
	slices.SortFunc(out, func(a, b Request) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

// GetRequest returns a pending or recently resolved request.
func (e *Engine) GetRequest(id string) (Request, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if p, ok := e.pending[id]; ok {
		return p.req.Clone(), true
	}
	if r, ok := e.resolved[id]; ok {
		return r.Clone(), true
	}
	return Request{}, false
}

// Close rejects every pending request and waits for in-flight callbacks
// and notifications. Submit fails after Close.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.cancel()
	ids := make([]string, 0, len(e.pending))
	for id := range e.pending {
		ids = append(ids, id)
	}
	e.mu.Unlock()

	for _, id := range ids {
		_ = e.resolve(id, StatusRejected, ErrEngineClosed.Error(), "")
	}
	e.wg.Wait()
}

func (e *Engine) message(matched []string) string {
	if e.cfg.Message != "" {
		return e.cfg.Message
	}
	return "human approval required: " + strings.Join(matched, ", ")
}

// resolve moves a pending request to a terminal state. Exactly one caller
// wins; the rest get ErrAlreadyResolved.
func (e *Engine) resolve(id string, status Status, reason, by string) error {
	e.mu.Lock()
	p, ok := e.pending[id]
	if !ok {
		_, done := e.resolved[id]
		e.mu.Unlock()
		if done {
			return fmt.Errorf("%w: %s", ErrAlreadyResolved, id)
		}
		return fmt.Errorf("%w: %s", ErrRequestNotFound, id)
	}
	delete(e.pending, id)
	if p.timer != nil {
		p.timer.Stop()
	}
	p.req.Status = status
	p.req.Reason = reason
	p.req.ResolvedBy = by
	p.req.ResolvedAt = e.now()
	req := p.req.Clone()
	e.remember(req)
	count := len(e.pending)
	e.mu.Unlock()

	e.metrics.SetApprovalsPending(count)
	e.finish(req, p.future)
	return nil
}

// remember keeps req queryable. Caller holds e.mu.
func (e *Engine) remember(req Request) {
	if e.historySize <= 0 {
		return
	}
	e.resolved[req.ID] = req
	e.history = append(e.history, req.ID)
	for len(e.history) > e.historySize {
		delete(e.resolved, e.history[0])
		e.history = e.history[1:]
	}
}

func (e *Engine) finish(req Request, f *Future) {
	if !f.resolve(decisionFor(req)) {
		return
	}
	wait := req.ResolvedAt.Sub(req.CreatedAt)
	e.metrics.RecordApprovalResolved(string(req.Channel), string(req.Status), wait)

	level := slog.LevelInfo
	if req.Status == StatusTimedOut {
		level = slog.LevelWarn
	}
	e.logger.Log(context.Background(), level, "approval resolved",
		"request_id", req.ID,
		"status", req.Status,
		"reason", req.Reason,
		"wait", wait,
	)

	if e.archive != nil {
		if err := e.archive.Put(context.Background(), req); err != nil {
			e.logger.Error("failed to archive approval request",
				"request_id", req.ID,
				"error", err,
			)
		}
	}
}

func (e *Engine) runCallback(parent context.Context, req Request, f *Future) {
	defer e.wg.Done()

	ctx, cancel := context.WithTimeout(parent, e.timeout)
	defer cancel()

	type outcome struct {
		approved bool
		err      error
	}
	done := make(chan outcome, 1)
	snapshot := req.Clone()
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("approver panicked: %v", r)}
			}
		}()
		ok, err := e.approver.Approve(ctx, snapshot)
		done <- outcome{approved: ok, err: err}
	}()

	select {
	case out := <-done:
		switch {
		case out.err != nil:
			req.Status, req.Reason = StatusRejected, out.err.Error()
		case out.approved:
			req.Status, req.Reason = StatusApproved, "approved"
		default:
			req.Status, req.Reason = StatusRejected, "rejected by approver"
		}
	case <-e.ctx.Done():
		req.Status, req.Reason = StatusRejected, ErrEngineClosed.Error()
	case <-ctx.Done():
		if parent.Err() != nil {
			req.Status, req.Reason = StatusRejected, "approval wait cancelled: "+parent.Err().Error()
		} else {
			req.Status = StatusTimedOut
			req.Reason = fmt.Sprintf("approval timed out after %s", e.timeout)
		}
	}
	req.ResolvedAt = e.now()

	e.mu.Lock()
	e.remember(req)
	e.mu.Unlock()
	e.finish(req, f)
}

func (e *Engine) notify(req Request) {
	defer e.wg.Done()

	ctx, cancel := context.WithDeadline(e.ctx, req.TimeoutAt)
	defer cancel()

	if err := e.notifier.Notify(ctx, req); err != nil {
		e.metrics.RecordNotificationFailure(string(e.channel))
		e.logger.Error("approval notification failed",
			"request_id", req.ID,
			"error", err,
		)
		_ = e.resolve(req.ID, StatusRejected, "approval notification failed: "+err.Error(), "")
	}
}

// Future is the pending outcome of a submitted request.
type Future struct {
	id       string
	done     chan struct{}
	resolved atomic.Bool
	decision Decision
}

func newFuture(id string) *Future {
	return &Future{id: id, done: make(chan struct{})}
}

// resolve sets the decision once. It reports whether this call won.
func (f *Future) resolve(d Decision) bool {
	if !f.resolved.CompareAndSwap(false, true) {
		return false
	}
	f.decision = d
	close(f.done)
	return true
}

// RequestID returns the request's id, or "" when no approval was required.
func (f *Future) RequestID() string { return f.id }

// Done is closed once the decision is available.
func (f *Future) Done() <-chan struct{} { return f.done }

// Decision returns the decision and whether it is available.
func (f *Future) Decision() (Decision, bool) {
	select {
	case <-f.done:
		return f.decision, true
	default:
		return Decision{}, false
	}
}

// Wait blocks until the decision is available or ctx ends.
func (f *Future) Wait(ctx context.Context) (Decision, error) {
	select {
	case <-f.done:
		return f.decision, nil
	case <-ctx.Done():
		return Decision{}, ctx.Err()
	}
}
