package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"mercator-hq/warden/pkg/config"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var m map[string]any
	line := strings.TrimSpace(buf.String())
	if err := json.Unmarshal([]byte(line), &m); err != nil {
		t.Fatalf("failed to decode log line %q: %v", line, err)
	}
	return m
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{"json", Config{Level: "info", Format: "json", Redact: true}, false},
		{"text", Config{Level: "debug", Format: "text"}, false},
		{"console", Config{Level: "warn", Format: "console", Redact: true}, false},
		{"defaults", Config{}, false},
		{"invalid level", Config{Level: "verbose"}, true},
		{"invalid format", Config{Format: "xml"}, true},
		{"invalid custom pattern", Config{Redact: true, RedactPatterns: []config.RedactPattern{{Name: "bad", Pattern: "("}}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.config.Writer = &bytes.Buffer{}
			logger, err := New(tt.config)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && logger == nil {
				t.Error("expected logger")
			}
		})
	}
}

func TestNew_LevelFiltering(t *testing.T) {
	buf := &bytes.Buffer{}
	logger, err := New(Config{Level: "warn", Writer: buf})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	logger.Info("hidden")
	if buf.Len() != 0 {
		t.Errorf("expected info to be filtered, got %q", buf.String())
	}
	logger.Warn("shown")
	if !strings.Contains(buf.String(), "shown") {
		t.Errorf("expected warn output, got %q", buf.String())
	}
}

func TestHandler_RedactsAttributes(t *testing.T) {
	buf := &bytes.Buffer{}
	logger, err := New(Config{Format: "json", Redact: true, Writer: buf})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	sig := "0x" + strings.Repeat("ab", 65)
	logger.Info("webhook",
		"auth_token", "supersecretvalue",
		"note", "sent with Bearer abc.def",
		"proof", "sig="+sig,
		"err", errors.New("private_key=deadbeef rejected"),
	)

	m := decodeLine(t, buf)
	if m["auth_token"] != "supers***" {
		t.Errorf("expected masked token, got %v", m["auth_token"])
	}
	if m["note"] != "sent with Bearer ***" {
		t.Errorf("expected bearer redaction, got %v", m["note"])
	}
	if m["proof"] != "sig=0x<signature>" {
		t.Errorf("expected signature redaction, got %v", m["proof"])
	}
	if m["err"] != "private_key=*** rejected" {
		t.Errorf("expected key redaction in error, got %v", m["err"])
	}
}

func TestHandler_RedactsWithAttrsAndGroups(t *testing.T) {
	buf := &bytes.Buffer{}
	logger, _ := New(Config{Format: "json", Redact: true, Writer: buf})

	logger.With("secret", "hunter2hunter2").
		Info("nested", slog.Group("webhook", slog.String("authorization", "Bearer xyz123")))

	m := decodeLine(t, buf)
	if m["secret"] != "hunter***" {
		t.Errorf("expected With attr masked, got %v", m["secret"])
	}
	group, ok := m["webhook"].(map[string]any)
	if !ok {
		t.Fatalf("expected webhook group, got %v", m["webhook"])
	}
	if group["authorization"] != "Bearer***" {
		t.Errorf("expected masked group value, got %v", group["authorization"])
	}
}

func TestHandler_NoRedaction(t *testing.T) {
	buf := &bytes.Buffer{}
	logger, _ := New(Config{Format: "json", Writer: buf})

	logger.Info("raw", "token", "plain")
	if m := decodeLine(t, buf); m["token"] != "plain" {
		t.Errorf("expected value untouched, got %v", m["token"])
	}
}

func TestHandler_ContextFields(t *testing.T) {
	buf := &bytes.Buffer{}
	logger, _ := New(Config{Format: "json", Writer: buf})

	ctx := WithRequestID(context.Background(), "req-1")
	ctx = WithPolicy(ctx, "treasury")
	ctx = WithAgent(ctx, "0xagent")
	ctx = WithApprovalID(ctx, "apr-9")
	logger.InfoContext(ctx, "decision", "allowed", true)

	m := decodeLine(t, buf)
	for key, want := range map[string]string{
		"request_id":  "req-1",
		"policy":      "treasury",
		"agent":       "0xagent",
		"approval_id": "apr-9",
	} {
		if m[key] != want {
			t.Errorf("expected %s=%s, got %v", key, want, m[key])
		}
	}
	if m["allowed"] != true {
		t.Errorf("expected allowed=true, got %v", m["allowed"])
	}
}

func TestFromConfig(t *testing.T) {
	cfg := config.LoggingConfig{Level: "debug", Format: "text"}
	got := FromConfig(cfg)
	if got.Level != "debug" || got.Format != "text" {
		t.Errorf("unexpected config %+v", got)
	}
	if !got.Redact {
		t.Error("expected redaction on when unset")
	}
}

func TestDiscard(t *testing.T) {
	if Discard().Enabled(context.Background(), slog.LevelError) {
		t.Error("expected discard logger to be disabled")
	}
}
