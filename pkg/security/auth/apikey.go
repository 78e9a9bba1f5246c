package auth

import (
	"crypto/subtle"
	"sync"
)

// Validator checks presented keys against a replaceable key set.
type Validator struct {
	mu   sync.RWMutex
	keys []Key
}

// NewValidator creates a validator for keys.
func NewValidator(keys []Key) *Validator {
	v := &Validator{}
	v.Replace(keys)
	return v
}

// Replace swaps the key set. Keys with an empty value are ignored.
func (v *Validator) Replace(keys []Key) {
	next := make([]Key, 0, len(keys))
	for _, k := range keys {
		if k.Value != "" {
			next = append(next, k)
		}
	}
	v.mu.Lock()
	v.keys = next
	v.mu.Unlock()
}

// Len returns the number of usable keys.
func (v *Validator) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.keys)
}

// Names returns the key names in configuration order.
func (v *Validator) Names() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	names := make([]string, len(v.keys))
	for i, k := range v.keys {
		names[i] = k.Name
	}
	return names
}

// Validate returns the identity owning presented. Every key is compared
// so the time taken does not depend on which key matched.
func (v *Validator) Validate(presented string) (Identity, error) {
	if presented == "" {
		return Identity{}, ErrMissingKey
	}
	v.mu.RLock()
	defer v.mu.RUnlock()

	var match *Key
	for i := range v.keys {
		if subtle.ConstantTimeCompare([]byte(presented), []byte(v.keys[i].Value)) == 1 && match == nil {
			match = &v.keys[i]
		}
	}
	switch {
	case match == nil:
		return Identity{}, ErrInvalidKey
	case match.Disabled:
		return Identity{}, ErrKeyDisabled
	}
	return Identity{Name: match.Name, Method: MethodAPIKey}, nil
}
