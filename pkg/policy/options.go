package policy

import (
	"log/slog"
	"time"

	"mercator-hq/warden/pkg/policy/storage"
)

type options struct {
	now    func() time.Time
	logger *slog.Logger
	store  storage.Store
	key    string
}

// Option configures a stateful policy.
type Option func(*options)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithStore persists spending state in s.
func WithStore(s storage.Store) Option {
	return func(o *options) { o.store = s }
}

// WithKey sets the key the policy's state is stored under.
func WithKey(key string) Option {
	return func(o *options) { o.key = key }
}

func buildOptions(opts []Option, t Type) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default().With("component", "policy."+string(t))
	}
	if o.key == "" {
		o.key = string(t)
	}
	return o
}
