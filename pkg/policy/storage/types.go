package storage

import (
	"context"
	"errors"
	"time"

	"mercator-hq/warden/pkg/rules"
)

// ErrEmptyPolicy is returned when a state has no policy name.
var ErrEmptyPolicy = errors.New("policy name cannot be empty")

// Store persists SpendingState. Implementations are safe for concurrent use.
type Store interface {
	// Save inserts or replaces the state for state.Policy.
	Save(ctx context.Context, state *SpendingState) error

	// Load returns the state for policy, or nil if none exists.
	Load(ctx context.Context, policy string) (*SpendingState, error)

	// Delete removes the state for policy. Deleting a missing entry is a no-op.
	Delete(ctx context.Context, policy string) error

	// List returns every stored state.
	List(ctx context.Context) ([]*SpendingState, error)

	// Cleanup removes entries not updated since olderThan and returns how
	// many were removed.
	Cleanup(ctx context.Context, olderThan time.Time) (int, error)

	// Close releases resources. The store must not be used afterwards.
	Close() error
}

// SpendingState is the persisted counter of one spending-cap policy.
type SpendingState struct {
	// Policy names the spending-cap instance.
	Policy string `json:"policy"`

	// DailySpent is the amount recorded since LastResetDate.
	DailySpent rules.Amount `json:"dailySpent"`

	// LastResetDate is the UTC calendar date (YYYY-MM-DD) DailySpent
	// belongs to.
	LastResetDate string `json:"lastResetDate"`

	// TotalSpent is the lifetime amount recorded.
	TotalSpent rules.Amount `json:"totalSpent"`

	UpdatedAt time.Time `json:"updatedAt"`
}

// Clone returns a copy. Amounts are immutable, so a shallow copy suffices.
func (s *SpendingState) Clone() *SpendingState {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}
