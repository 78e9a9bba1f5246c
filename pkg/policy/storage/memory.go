package storage

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps spending state in memory.
type MemoryStore struct {
	mu     sync.RWMutex
	states map[string]*SpendingState
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]*SpendingState)}
}

// Save implements Store.
func (m *MemoryStore) Save(_ context.Context, state *SpendingState) error {
	if state == nil || state.Policy == "" {
		return ErrEmptyPolicy
	}
	c := state.Clone()
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = time.Now()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[c.Policy] = c
	return nil
}

// Load implements Store.
func (m *MemoryStore) Load(_ context.Context, policy string) (*SpendingState, error) {
	if policy == "" {
		return nil, ErrEmptyPolicy
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.states[policy].Clone(), nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(_ context.Context, policy string) error {
	if policy == "" {
		return ErrEmptyPolicy
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, policy)
	return nil
}

// List implements Store. Results are sorted by policy name.
func (m *MemoryStore) List(_ context.Context) ([]*SpendingState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*SpendingState, 0, len(m.states))
	for _, s := range m.states {
		out = append(out, s.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Policy < out[j].Policy })
	return out, nil
}

// Cleanup implements Store.
func (m *MemoryStore) Cleanup(_ context.Context, olderThan time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	deleted := 0
	for k, s := range m.states {
		if s.UpdatedAt.Before(olderThan) {
			delete(m.states, k)
			deleted++
		}
	}
	return deleted, nil
}

// Close implements Store.
func (m *MemoryStore) Close() error { return nil }

// Len returns the number of stored states.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.states)
}
