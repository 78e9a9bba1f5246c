package approval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// Notifier tells a human that a request is waiting.
type Notifier interface {
	Notify(ctx context.Context, req Request) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, req Request) error

func (f NotifierFunc) Notify(ctx context.Context, req Request) error { return f(ctx, req) }

const (
	webhookRequestTimeout = 5 * time.Second
	webhookMaxTries       = 3
)

// WebhookEvent is the payload posted to a webhook.
type WebhookEvent struct {
	Event   string  `json:"event"`
	Request Request `json:"request"`
}

// WebhookNotifier posts pending requests to an HTTP endpoint. Server errors
// and transport failures are retried with exponential backoff; a 4xx response
// fails immediately.
type WebhookNotifier struct {
	url             string
	client          *http.Client
	headers         map[string]string
	maxTries        uint
	initialInterval time.Duration
}

// WebhookOption configures a WebhookNotifier.
type WebhookOption func(*WebhookNotifier)

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(c *http.Client) WebhookOption {
	return func(n *WebhookNotifier) { n.client = c }
}

// WithHeader adds a header to every request.
func WithHeader(key, value string) WebhookOption {
	return func(n *WebhookNotifier) { n.headers[key] = value }
}

// WithRetry sets the number of attempts and the first retry delay.
func WithRetry(maxTries uint, initial time.Duration) WebhookOption {
	return func(n *WebhookNotifier) {
		n.maxTries = maxTries
		n.initialInterval = initial
	}
}

// NewWebhookNotifier creates a notifier posting to url.
func NewWebhookNotifier(url string, opts ...WebhookOption) *WebhookNotifier {
	n := &WebhookNotifier{
		url:             url,
		client:          &http.Client{Timeout: webhookRequestTimeout},
		headers:         make(map[string]string),
		maxTries:        webhookMaxTries,
		initialInterval: 500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.maxTries == 0 {
		n.maxTries = 1
	}
	return n
}

// Notify posts req as an approval.requested event.
func (n *WebhookNotifier) Notify(ctx context.Context, req Request) error {
	body, err := json.Marshal(WebhookEvent{Event: "approval.requested", Request: req})
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = n.initialInterval

	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, n.post(ctx, body)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(n.maxTries),
	)
	if err != nil {
		return fmt.Errorf("webhook %s: %w", n.url, err)
	}
	return nil
}

func (n *WebhookNotifier) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))
	for k, v := range n.headers {
		req.Header.Set(k, v)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return backoff.Permanent(fmt.Errorf("webhook rejected: HTTP %d", resp.StatusCode))
	default:
		return fmt.Errorf("webhook server error: HTTP %d", resp.StatusCode)
	}
}
