package auth

import (
	"log/slog"
	"net/http"
	"strings"
)

// Source is a header an API key may be presented in. Scheme, when set,
// must prefix the header value.
type Source struct {
	Header string
	Scheme string
}

// DefaultSources accepts "Authorization: Bearer <key>" and X-API-Key.
var DefaultSources = []Source{
	{Header: "Authorization", Scheme: "Bearer"},
	{Header: "X-API-Key"},
}

// DenyFunc writes the response for a rejected request.
type DenyFunc func(w http.ResponseWriter, r *http.Request, err error)

// Middleware authenticates requests with a Validator and, optionally, a
// verified client certificate.
type Middleware struct {
	validator *Validator
	sources   []Source
	peer      func(*http.Request) (string, bool)
	deny      DenyFunc
	logger    *slog.Logger
}

// Option configures a Middleware.
type Option func(*Middleware)

// WithSources replaces DefaultSources.
func WithSources(sources ...Source) Option {
	return func(m *Middleware) { m.sources = sources }
}

// WithClientCertificates accepts callers identified by peer, which should
// only report identities from verified certificates.
func WithClientCertificates(peer func(*http.Request) (string, bool)) Option {
	return func(m *Middleware) { m.peer = peer }
}

// WithDeny sets the rejection response. The default is a plain 401.
func WithDeny(fn DenyFunc) Option {
	return func(m *Middleware) { m.deny = fn }
}

// WithLogger sets the logger for authentication failures.
func WithLogger(l *slog.Logger) Option {
	return func(m *Middleware) { m.logger = l }
}

// NewMiddleware creates a middleware.
func NewMiddleware(v *Validator, opts ...Option) *Middleware {
	m := &Middleware{
		validator: v,
		sources:   DefaultSources,
		logger:    slog.Default(),
		deny: func(w http.ResponseWriter, _ *http.Request, _ error) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
		},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Handle wraps next. Requests that present a key are authenticated by
// the key even when a client certificate is also present.
func (m *Middleware) Handle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := m.authenticate(r)
		if err != nil {
			m.logger.WarnContext(r.Context(), "authentication failed",
				"error", err,
				"remote_addr", r.RemoteAddr,
				"path", r.URL.Path,
			)
			m.deny(w, r, err)
			return
		}
		m.logger.DebugContext(r.Context(), "authenticated", "identity", id.Name, "method", string(id.Method))
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}

func (m *Middleware) authenticate(r *http.Request) (Identity, error) {
	if key := m.extract(r); key != "" {
		return m.validator.Validate(key)
	}
	if m.peer != nil {
		if name, ok := m.peer(r); ok {
			return Identity{Name: name, Method: MethodCertificate}, nil
		}
	}
	return Identity{}, ErrMissingKey
}

// extract returns the first key found in the configured sources.
func (m *Middleware) extract(r *http.Request) string {
	for _, src := range m.sources {
		v := r.Header.Get(src.Header)
		if v == "" {
			continue
		}
		if src.Scheme == "" {
			return strings.TrimSpace(v)
		}
		scheme, rest, ok := strings.Cut(v, " ")
		if ok && strings.EqualFold(scheme, src.Scheme) {
			return strings.TrimSpace(rest)
		}
	}
	return ""
}
