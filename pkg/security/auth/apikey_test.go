package auth

import (
	"errors"
	"slices"
	"testing"

	"mercator-hq/warden/pkg/config"
)

func TestKeysFromConfig(t *testing.T) {
	keys := KeysFromConfig([]config.APIKeyConfig{
		{Name: "ops", Key: "k-ops"},
		{Name: "old", Key: "k-old", Disabled: true},
	}, "legacy")

	if len(keys) != 3 {
		t.Fatalf("expected 3 keys, got %d", len(keys))
	}
	if keys[0].Name != "default" || keys[0].Value != "legacy" {
		t.Errorf("expected legacy token first, got %+v", keys[0])
	}
	if !keys[2].Disabled {
		t.Error("expected disabled flag carried over")
	}
	if got := KeysFromConfig(nil, ""); len(got) != 0 {
		t.Errorf("expected no keys, got %v", got)
	}
}

func TestValidator_Validate(t *testing.T) {
	v := NewValidator([]Key{
		{Name: "ops", Value: "k-ops"},
		{Name: "ci", Value: "k-ci"},
		{Name: "retired", Value: "k-retired", Disabled: true},
		{Name: "unset", Value: ""},
	})

	tests := []struct {
		name      string
		presented string
		wantName  string
		wantErr   error
	}{
		{"first key", "k-ops", "ops", nil},
		{"second key", "k-ci", "ci", nil},
		{"disabled", "k-retired", "", ErrKeyDisabled},
		{"unknown", "k-nope", "", ErrInvalidKey},
		{"prefix of a key", "k-op", "", ErrInvalidKey},
		{"empty", "", "", ErrMissingKey},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := v.Validate(tt.presented)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			if id.Name != tt.wantName {
				t.Errorf("expected %q, got %q", tt.wantName, id.Name)
			}
			if err == nil && id.Method != MethodAPIKey {
				t.Errorf("expected api_key method, got %s", id.Method)
			}
		})
	}

	if v.Len() != 3 {
		t.Errorf("expected keys with empty values dropped, got %d", v.Len())
	}
}

func TestValidator_Replace(t *testing.T) {
	v := NewValidator([]Key{{Name: "ops", Value: "old"}})
	if _, err := v.Validate("old"); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	v.Replace([]Key{{Name: "ops", Value: "new"}, {Name: "audit", Value: "a"}})
	if _, err := v.Validate("old"); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("expected rotated key rejected, got %v", err)
	}
	if id, err := v.Validate("new"); err != nil || id.Name != "ops" {
		t.Errorf("expected ops, got %+v (%v)", id, err)
	}
	if names := v.Names(); !slices.Equal(names, []string{"ops", "audit"}) {
		t.Errorf("unexpected names %v", names)
	}
}
