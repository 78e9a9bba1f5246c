package archive

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mercator-hq/warden/pkg/approval"
)

// ErrNotFound is returned by Get for an unknown request id.
var ErrNotFound = errors.New("archived request not found")

// Store persists resolved approval requests.
type Store interface {
	// Put stores req, replacing any record with the same id.
	Put(ctx context.Context, req approval.Request) error

	// Get returns the request with the given id or ErrNotFound.
	Get(ctx context.Context, id string) (approval.Request, error)

	// Query returns matching requests, newest first.
	Query(ctx context.Context, q Query) ([]approval.Request, error)

	// Count returns the number of matching requests.
	Count(ctx context.Context, q Query) (int64, error)

	// DeleteBefore removes requests resolved before t.
	DeleteBefore(ctx context.Context, t time.Time) (int64, error)

	// DeleteOldest removes the n oldest requests.
	DeleteOldest(ctx context.Context, n int64) (int64, error)

	Close() error
}

var _ approval.Archive = Store(nil)

// Query filters archived requests. Zero fields do not filter.
type Query struct {
	Status approval.Status
	Policy string
	Action string
	Since  time.Time
	Until  time.Time
	Limit  int
}

const (
	defaultQueryLimit = 100
	maxQueryLimit     = 10000
)

func (q Query) limit() int {
	switch {
	case q.Limit <= 0:
		return defaultQueryLimit
	case q.Limit > maxQueryLimit:
		return maxQueryLimit
	default:
		return q.Limit
	}
}

// Validate checks the query.
func (q Query) Validate() error {
	if !q.Since.IsZero() && !q.Until.IsZero() && q.Until.Before(q.Since) {
		return fmt.Errorf("invalid query: until %s is before since %s", q.Until.Format(time.RFC3339), q.Since.Format(time.RFC3339))
	}
	if q.Limit < 0 {
		return fmt.Errorf("invalid query: negative limit %d", q.Limit)
	}
	return nil
}

func (q Query) matches(req approval.Request) bool {
	if q.Status != "" && req.Status != q.Status {
		return false
	}
	if q.Policy != "" && req.Policy != q.Policy {
		return false
	}
	if q.Action != "" && req.Action.Type != q.Action {
		return false
	}
	if !q.Since.IsZero() && req.ResolvedAt.Before(q.Since) {
		return false
	}
	if !q.Until.IsZero() && !req.ResolvedAt.Before(q.Until) {
		return false
	}
	return true
}

// StorageError describes a failed backend operation.
type StorageError struct {
	Backend   string
	Operation string
	Cause     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("archive error [backend=%s, operation=%s]: %v", e.Backend, e.Operation, e.Cause)
}

func (e *StorageError) Unwrap() error { return e.Cause }

func storageError(backend, op string, cause error) error {
	return &StorageError{Backend: backend, Operation: op, Cause: cause}
}
