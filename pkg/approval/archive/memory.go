package archive

import (
	"context"
	"slices"
	"sync"
	"time"

	"mercator-hq/warden/pkg/approval"
)

// MemoryStore is an in-memory Store.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]approval.Request
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]approval.Request)}
}

func (s *MemoryStore) Put(_ context.Context, req approval.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[req.ID] = req.Clone()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (approval.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id]
	if !ok {
		return approval.Request{}, ErrNotFound
	}
	return r.Clone(), nil
}

func (s *MemoryStore) Query(_ context.Context, q Query) ([]approval.Request, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	out := s.matching(q)
	if len(out) > q.limit() {
		out = out[:q.limit()]
	}
	return out, nil
}

func (s *MemoryStore) Count(_ context.Context, q Query) (int64, error) {
	if err := q.Validate(); err != nil {
		return 0, err
	}
	return int64(len(s.matching(q))), nil
}

func (s *MemoryStore) DeleteBefore(_ context.Context, t time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, r := range s.records {
		if r.ResolvedAt.Before(t) {
			delete(s.records, id)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) DeleteOldest(_ context.Context, n int64) (int64, error) {
	if n <= 0 {
		return 0, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	all := make([]approval.Request, 0, len(s.records))
	for _, r := range s.records {
		all = append(all, r)
	}
	sortNewestFirst(all)
	var deleted int64
	for i := len(all) - 1; i >= 0 && deleted < n; i-- {
		delete(s.records, all[i].ID)
		deleted++
	}
	return deleted, nil
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) matching(q Query) []approval.Request {
	s.mu.RLock()
	out := make([]approval.Request, 0, len(s.records))
	for _, r := range s.records {
		if q.matches(r) {
			out = append(out, r.Clone())
		}
	}
	s.mu.RUnlock()
	sortNewestFirst(out)
	return out
}

func sortNewestFirst(reqs []approval.Request) {
	slices.SortFunc(reqs, func(a, b approval.Request) int {
		if c := b.ResolvedAt.Compare(a.ResolvedAt); c != 0 {
			return c
		}
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
}
