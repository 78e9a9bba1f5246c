package secrets

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"
)

func writeSecret(t *testing.T, dir, name, value string, perm os.FileMode) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(value), perm); err != nil {
		t.Fatalf("failed to write secret: %v", err)
	}
	if err := os.Chmod(path, perm); err != nil {
		t.Fatalf("failed to chmod secret: %v", err)
	}
}

// ==================== EnvProvider ====================

func TestEnvProvider(t *testing.T) {
	t.Setenv("WARDEN_SECRET_OPS_API_KEY", "k-123")
	p := NewEnvProvider("WARDEN_SECRET_")

	if got := p.Variable("ops-api.key"); got != "WARDEN_SECRET_OPS_API_KEY" {
		t.Errorf("expected WARDEN_SECRET_OPS_API_KEY, got %s", got)
	}
	v, err := p.Lookup(context.Background(), "ops-api-key")
	if err != nil || v != "k-123" {
		t.Fatalf("expected k-123, got %q (%v)", v, err)
	}
	if _, err := p.Lookup(context.Background(), "absent"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := p.Lookup(context.Background(), ""); !errors.Is(err, ErrInvalidName) {
		t.Errorf("expected ErrInvalidName, got %v", err)
	}
}

// ==================== FileProvider ====================

func TestFileProvider_Lookup(t *testing.T) {
	dir := t.TempDir()
	writeSecret(t, dir, "webhook-token", "  s3cret\n", 0o600)
	writeSecret(t, dir, "readonly", "ro", 0o400)
	writeSecret(t, dir, "loose", "x", 0o644)

	p, err := NewFileProvider(dir, false, nil)
	if err != nil {
		t.Fatalf("NewFileProvider() error = %v", err)
	}
	defer p.Close()

	tests := []struct {
		name    string
		secret  string
		want    string
		wantErr error
		anyErr  bool
	}{
		{name: "trimmed", secret: "webhook-token", want: "s3cret"},
		{name: "read only file", secret: "readonly", want: "ro"},
		{name: "missing", secret: "nope", wantErr: ErrNotFound},
		{name: "insecure permissions", secret: "loose", anyErr: true},
		{name: "traversal", secret: "../etc/passwd", wantErr: ErrInvalidName},
		{name: "hidden", secret: ".env", wantErr: ErrInvalidName},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := p.Lookup(context.Background(), tt.secret)
			switch {
			case tt.wantErr != nil:
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("expected %v, got %v", tt.wantErr, err)
				}
			case tt.anyErr:
				if err == nil {
					t.Error("expected error")
				}
			default:
				if err != nil || v != tt.want {
					t.Errorf("expected %q, got %q (%v)", tt.want, v, err)
				}
			}
		})
	}

	names, err := p.Names()
	if err != nil {
		t.Fatalf("Names() error = %v", err)
	}
	slices.Sort(names)
	if !slices.Equal(names, []string{"loose", "readonly", "webhook-token"}) {
		t.Errorf("unexpected names %v", names)
	}
}

func TestFileProvider_CachesUntilRefresh(t *testing.T) {
	dir := t.TempDir()
	writeSecret(t, dir, "token", "v1", 0o600)
	p, err := NewFileProvider(dir, false, nil)
	if err != nil {
		t.Fatalf("NewFileProvider() error = %v", err)
	}

	ctx := context.Background()
	if v, _ := p.Lookup(ctx, "token"); v != "v1" {
		t.Fatalf("expected v1, got %q", v)
	}
	writeSecret(t, dir, "token", "v2", 0o600)
	if v, _ := p.Lookup(ctx, "token"); v != "v1" {
		t.Errorf("expected cached v1, got %q", v)
	}
	if err := p.Refresh(ctx); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if v, _ := p.Lookup(ctx, "token"); v != "v2" {
		t.Errorf("expected v2 after refresh, got %q", v)
	}
}

func TestFileProvider_Watch(t *testing.T) {
	dir := t.TempDir()
	writeSecret(t, dir, "token", "v1", 0o600)
	p, err := NewFileProvider(dir, true, nil)
	if err != nil {
		t.Fatalf("NewFileProvider() error = %v", err)
	}
	changed := make(chan struct{}, 8)
	p.SetOnChange(func() { changed <- struct{}{} })
	defer p.Close()

	ctx := context.Background()
	if v, _ := p.Lookup(ctx, "token"); v != "v1" {
		t.Fatalf("expected v1, got %q", v)
	}
	writeSecret(t, dir, "token", "v2", 0o600)

	select {
	case <-changed:
	case <-time.After(2 * time.Second):
		t.Fatal("expected change notification")
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		v, _ := p.Lookup(ctx, "token")
		if v == "v2" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected v2 after change, got %q", v)
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := p.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestNewFileProvider_NotADirectory(t *testing.T) {
	dir := t.TempDir()
	writeSecret(t, dir, "file", "x", 0o600)
	if _, err := NewFileProvider(filepath.Join(dir, "file"), false, nil); err == nil {
		t.Error("expected error for a file path")
	}
	if _, err := NewFileProvider(filepath.Join(dir, "missing"), false, nil); err == nil {
		t.Error("expected error for a missing directory")
	}
}

// ==================== Cache ====================

func TestCache(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := NewCache(CacheConfig{TTL: time.Minute, MaxSize: 2})
	c.now = func() time.Time { return now }

	c.Set("a", "1")
	now = now.Add(time.Second)
	c.Set("b", "2")
	if v, ok := c.Get("a"); !ok || v != "1" {
		t.Errorf("expected a=1, got %q %v", v, ok)
	}

	c.Set("c", "3")
	if c.Len() != 2 {
		t.Errorf("expected 2 entries after eviction, got %d", c.Len())
	}
	if _, ok := c.Get("a"); ok {
		t.Error("expected a, the entry closest to expiry, to be evicted")
	}

	now = now.Add(2 * time.Minute)
	if _, ok := c.Get("b"); ok {
		t.Error("expected b to expire")
	}

	c.Clear()
	if c.Len() != 0 {
		t.Errorf("expected empty cache, got %d", c.Len())
	}
}

func TestCache_Disabled(t *testing.T) {
	c := NewCache(CacheConfig{TTL: -1, MaxSize: 10})
	c.Set("a", "1")
	if _, ok := c.Get("a"); ok {
		t.Error("expected disabled cache to miss")
	}
}

// ==================== Manager ====================

type countingProvider struct {
	values map[string]string
	calls  int
	err    error
}

func (p *countingProvider) Name() string { return "counting" }

func (p *countingProvider) Lookup(_ context.Context, name string) (string, error) {
	p.calls++
	if p.err != nil {
		return "", p.err
	}
	if v, ok := p.values[name]; ok {
		return v, nil
	}
	return "", ErrNotFound
}

func TestManager_ProviderOrder(t *testing.T) {
	first := &countingProvider{values: map[string]string{"shared": "from-first"}}
	second := &countingProvider{values: map[string]string{"shared": "from-second", "only-second": "x"}}
	m := NewManager(CacheConfig{}, first, second)
	ctx := context.Background()

	if v, err := m.Get(ctx, "shared"); err != nil || v != "from-first" {
		t.Errorf("expected from-first, got %q (%v)", v, err)
	}
	if v, err := m.Get(ctx, "only-second"); err != nil || v != "x" {
		t.Errorf("expected fallback to second provider, got %q (%v)", v, err)
	}
	if _, err := m.Get(ctx, "absent"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestManager_ProviderFailureReported(t *testing.T) {
	broken := &countingProvider{err: errors.New("permission denied")}
	m := NewManager(CacheConfig{}, broken, &countingProvider{})
	_, err := m.Get(context.Background(), "token")
	if err == nil || errors.Is(err, ErrNotFound) {
		t.Fatalf("expected provider failure, got %v", err)
	}
	if !strings.Contains(err.Error(), "permission denied") {
		t.Errorf("expected cause in error, got %v", err)
	}
}

func TestManager_Caching(t *testing.T) {
	p := &countingProvider{values: map[string]string{"token": "t"}}
	m := NewManager(CacheConfig{TTL: time.Minute, MaxSize: 10}, p)
	ctx := context.Background()

	for range 3 {
		if _, err := m.Get(ctx, "token"); err != nil {
			t.Fatalf("Get() error = %v", err)
		}
	}
	if p.calls != 1 {
		t.Errorf("expected 1 provider call, got %d", p.calls)
	}
	if err := m.Refresh(ctx); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if _, err := m.Get(ctx, "token"); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if p.calls != 2 {
		t.Errorf("expected refresh to bypass the cache, got %d calls", p.calls)
	}
}

func TestManager_Resolve(t *testing.T) {
	p := &countingProvider{values: map[string]string{"user": "ops", "pass": "hunter2"}}
	m := NewManager(CacheConfig{}, p)
	ctx := context.Background()

	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"no references", "plain", "plain", false},
		{"single", "Bearer ${secret:pass}", "Bearer hunter2", false},
		{"multiple", "${secret:user}:${secret:pass}", "ops:hunter2", false},
		{"unresolved kept", "x-${secret:missing}", "x-${secret:missing}", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := m.Resolve(ctx, tt.in)
			if (err != nil) != tt.wantErr {
				t.Errorf("expected error %v, got %v", tt.wantErr, err)
			}
			if got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestManager_ResolveInPlace(t *testing.T) {
	m := NewManager(CacheConfig{}, &countingProvider{values: map[string]string{"k": "v"}})
	a, b := "${secret:k}", "literal"
	if err := m.ResolveInPlace(context.Background(), &a, &b, nil); err != nil {
		t.Fatalf("ResolveInPlace() error = %v", err)
	}
	if a != "v" || b != "literal" {
		t.Errorf("unexpected values %q %q", a, b)
	}

	bad := "${secret:nope}"
	if err := m.ResolveInPlace(context.Background(), &bad); err == nil {
		t.Error("expected error for unresolved reference")
	}
	if bad != "${secret:nope}" {
		t.Errorf("expected failed field unchanged, got %q", bad)
	}
}

func TestManager_FileBeforeEnv(t *testing.T) {
	dir := t.TempDir()
	writeSecret(t, dir, "token", "from-file", 0o600)
	t.Setenv("TEST_SECRET_TOKEN", "from-env")
	t.Setenv("TEST_SECRET_OTHER", "env-only")

	files, err := NewFileProvider(dir, false, nil)
	if err != nil {
		t.Fatalf("NewFileProvider() error = %v", err)
	}
	m := NewManager(CacheConfig{}, files, NewEnvProvider("TEST_SECRET_"))
	defer m.Close()

	got, err := m.Resolve(context.Background(), "${secret:token}/${secret:other}")
	if err != nil || got != "from-file/env-only" {
		t.Errorf("expected from-file/env-only, got %q (%v)", got, err)
	}
}

func TestRedactName(t *testing.T) {
	if got := redactName("short"); got != "***" {
		t.Errorf("expected ***, got %s", got)
	}
	if got := redactName("webhook-token"); got != "we***en" {
		t.Errorf("expected we***en, got %s", got)
	}
}
