package archive

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// RetentionConfig controls archive pruning.
type RetentionConfig struct {
	// RetentionDays is how long resolved requests are kept. 0 keeps them forever.
	RetentionDays int `yaml:"retention_days"`

	// MaxRecords caps the archive size. 0 means unlimited.
	MaxRecords int64 `yaml:"max_records"`

	// PruneSchedule is a standard cron expression, e.g. "0 3 * * *".
	PruneSchedule string `yaml:"prune_schedule"`
}

// DefaultRetentionConfig keeps 90 days and prunes daily at 3 AM.
func DefaultRetentionConfig() *RetentionConfig {
	return &RetentionConfig{
		RetentionDays: 90,
		PruneSchedule: "0 3 * * *",
	}
}

// Pruner deletes archived requests that fall outside the retention policy.
type Pruner struct {
	store     Store
	config    *RetentionConfig
	now       func() time.Time
	logger    *slog.Logger
	scheduler *Scheduler
}

// NewPruner creates a pruner for store.
func NewPruner(store Store, config *RetentionConfig) *Pruner {
	if config == nil {
		config = DefaultRetentionConfig()
	}
	p := &Pruner{
		store:  store,
		config: config,
		now:    time.Now,
		logger: slog.Default().With("component", "approval.archive.retention"),
	}
	p.scheduler = newScheduler(p)
	return p
}

// Scheduler returns the pruner's cron scheduler.
func (p *Pruner) Scheduler() *Scheduler { return p.scheduler }

// Prune deletes requests older than the retention period, then the oldest
// requests beyond MaxRecords. It returns the number deleted.
func (p *Pruner) Prune(ctx context.Context) (int64, error) {
	var total int64

	if p.config.RetentionDays > 0 {
		cutoff := p.now().AddDate(0, 0, -p.config.RetentionDays)
		n, err := p.store.DeleteBefore(ctx, cutoff)
		if err != nil {
			return total, fmt.Errorf("prune by age: %w", err)
		}
		total += n
		p.logger.Info("pruned approvals by age",
			"deleted_count", n,
			"retention_days", p.config.RetentionDays,
		)
	}

	if p.config.MaxRecords > 0 {
		count, err := p.store.Count(ctx, Query{})
		if err != nil {
			return total, fmt.Errorf("prune by count: %w", err)
		}
		if excess := count - p.config.MaxRecords; excess > 0 {
			n, err := p.store.DeleteOldest(ctx, excess)
			if err != nil {
				return total, fmt.Errorf("prune by count: %w", err)
			}
			total += n
			p.logger.Info("pruned approvals by count",
				"deleted_count", n,
				"max_records", p.config.MaxRecords,
			)
		}
	}

	return total, nil
}

// Scheduler runs a Pruner on a cron schedule.
type Scheduler struct {
	pruner  *Pruner
	cron    *cron.Cron
	mu      sync.Mutex
	logger  *slog.Logger
	running bool
}

func newScheduler(p *Pruner) *Scheduler {
	return &Scheduler{
		pruner: p,
		cron:   cron.New(),
		logger: slog.Default().With("component", "approval.archive.scheduler"),
	}
}

// Start schedules pruning until ctx ends or Stop is called. An empty
// schedule does nothing.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	schedule := s.pruner.config.PruneSchedule
	if schedule == "" {
		s.logger.Info("prune schedule not configured, skipping scheduler")
		return nil
	}
	if s.running {
		return nil
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", schedule, err)
	}
	if _, err := s.cron.AddFunc(schedule, func() { s.run(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule pruning: %w", err)
	}

	s.cron.Start()
	s.running = true
	s.logger.Info("approval retention scheduler started",
		"schedule", schedule,
		"retention_days", s.pruner.config.RetentionDays,
		"max_records", s.pruner.config.MaxRecords,
	)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

func (s *Scheduler) run(ctx context.Context) {
	deleted, err := s.pruner.Prune(ctx)
	if err != nil {
		s.logger.Error("scheduled pruning failed", "error", err)
		return
	}
	s.logger.Debug("scheduled pruning completed", "deleted_count", deleted)
}

// Stop stops the scheduler and waits for a running prune to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	<-s.cron.Stop().Done()
	s.running = false
	s.logger.Info("approval retention scheduler stopped")
}

// IsRunning reports whether the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// NextRun returns the next scheduled prune, or nil when not scheduled.
func (s *Scheduler) NextRun() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return nil
	}
	next := entries[0].Next
	return &next
}
