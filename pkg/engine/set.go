package engine

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"mercator-hq/warden/pkg/approval"
)

// ErrPolicyNotFound is returned for an unknown policy name.
var ErrPolicyNotFound = errors.New("policy not found")

// Set holds the compiled policies served by one process, keyed by name.
// It is safe for concurrent use.
type Set struct {
	mu        sync.RWMutex
	instances map[string]*Instance
}

// NewSet returns a set holding instances. Duplicate names are an error.
func NewSet(instances ...*Instance) (*Set, error) {
	s := &Set{instances: make(map[string]*Instance, len(instances))}
	for _, inst := range instances {
		name := inst.Policy().Name
		if _, dup := s.instances[name]; dup {
			return nil, fmt.Errorf("duplicate policy %q", name)
		}
		s.instances[name] = inst
	}
	return s, nil
}

// Get returns the named instance.
func (s *Set) Get(name string) (*Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inst, ok := s.instances[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPolicyNotFound, name)
	}
	return inst, nil
}

// Names returns the policy names in order.
func (s *Set) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.instances))
	for name := range s.instances {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Len returns the number of policies.
func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.instances)
}

// Replace swaps in next's instances and closes the previous ones. Pending
// approval requests of the replaced instances are rejected.
func (s *Set) Replace(next *Set) {
	next.mu.Lock()
	incoming := next.instances
	next.instances = map[string]*Instance{}
	next.mu.Unlock()

	s.mu.Lock()
	old := s.instances
	s.instances = incoming
	s.mu.Unlock()

	for _, inst := range old {
		inst.Close()
	}
}

// PendingApprovals returns the pending requests of every policy, or of the
// named policy when name is not empty.
func (s *Set) PendingApprovals(name string) []approval.Request {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []approval.Request
	for pname, inst := range s.instances {
		if name != "" && pname != name {
			continue
		}
		if eng := inst.Approvals(); eng != nil {
			out = append(out, eng.PendingRequests()...)
		}
	}
	slices.SortFunc(out, func(a, b approval.Request) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return out
}

// FindApproval returns the approval engine that knows request id, along
// with the request.
func (s *Set) FindApproval(id string) (*approval.Engine, approval.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, inst := range s.instances {
		eng := inst.Approvals()
		if eng == nil {
			continue
		}
		if req, ok := eng.GetRequest(id); ok {
			return eng, req, nil
		}
	}
	return nil, approval.Request{}, approval.ErrRequestNotFound
}

// Close closes every instance.
func (s *Set) Close() {
	s.mu.Lock()
	old := s.instances
	s.instances = map[string]*Instance{}
	s.mu.Unlock()
	for _, inst := range old {
		inst.Close()
	}
}
