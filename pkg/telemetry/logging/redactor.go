package logging

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"mercator-hq/warden/pkg/config"
)

// Redactor removes signatures, private keys and credentials from log fields.
type Redactor struct {
	patterns []redactPattern
}

type redactPattern struct {
	name        string
	regex       *regexp.Regexp
	replacement string
}

// Built-in pattern names.
const (
	PatternPrivateKey  = "private_key"
	PatternSignature   = "signature"
	PatternBearerToken = "bearer_token"
	PatternPassword    = "password"
)

var defaultPatterns = []struct {
	name        string
	regex       string
	replacement string
}{
	{PatternSignature, `\b0x[0-9a-fA-F]{130}\b`, "0x<signature>"},
	{PatternPrivateKey, `(?i)(private[_-]?key|mnemonic)(["']?\s*[:=]\s*)["']?[^\s"',]+`, "$1$2***"},
	{PatternBearerToken, `Bearer\s+[a-zA-Z0-9\-._~+/]+=*`, "Bearer ***"},
	{PatternPassword, `(password|passwd|pwd|secret)[:=]\s*[^\s]+`, "$1: ***"},
}

// sensitiveKeys mark attribute keys whose values are masked outright.
var sensitiveKeys = []string{
	"password", "secret", "token", "authorization", "auth_header",
	"private_key", "privatekey", "mnemonic", "seed", "signature", "api_key",
}

// NewRedactor creates a Redactor with the built-in patterns followed by
// custom ones. An invalid custom pattern is an error.
func NewRedactor(custom []config.RedactPattern) (*Redactor, error) {
	r := &Redactor{}
	for _, p := range defaultPatterns {
		r.patterns = append(r.patterns, redactPattern{
			name:        p.name,
			regex:       regexp.MustCompile(p.regex),
			replacement: p.replacement,
		})
	}
	for _, p := range custom {
		re, err := regexp.Compile(p.Pattern)
		if err != nil {
			return nil, fmt.Errorf("redact pattern %q: %w", p.Name, err)
		}
		r.patterns = append(r.patterns, redactPattern{name: p.Name, regex: re, replacement: p.Replacement})
	}
	return r, nil
}

// RedactString applies every pattern to value.
func (r *Redactor) RedactString(value string) string {
	if value == "" {
		return value
	}
	for _, p := range r.patterns {
		value = p.regex.ReplaceAllString(value, p.replacement)
	}
	return value
}

// RedactAttr masks sensitive keys and scrubs string values. Groups are
// walked recursively.
func (r *Redactor) RedactAttr(a slog.Attr) slog.Attr {
	v := a.Value.Resolve()
	switch v.Kind() {
	case slog.KindGroup:
		attrs := v.Group()
		out := make([]slog.Attr, len(attrs))
		for i, ga := range attrs {
			out[i] = r.RedactAttr(ga)
		}
		return slog.Attr{Key: a.Key, Value: slog.GroupValue(out...)}
	case slog.KindString:
		if IsSensitiveKey(a.Key) {
			return slog.String(a.Key, Mask(v.String()))
		}
		return slog.String(a.Key, r.RedactString(v.String()))
	default:
		if IsSensitiveKey(a.Key) {
			return slog.String(a.Key, "***")
		}
		if v.Kind() == slog.KindAny {
			if err, ok := v.Any().(error); ok {
				return slog.String(a.Key, r.RedactString(err.Error()))
			}
		}
		return slog.Attr{Key: a.Key, Value: v}
	}
}

// IsSensitiveKey reports whether key names a secret.
func IsSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, s := range sensitiveKeys {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

// Mask keeps a short prefix of value for correlation.
func Mask(value string) string {
	if len(value) <= 6 {
		return "***"
	}
	return value[:6] + "***"
}
