package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"mercator-hq/warden/pkg/rules"
)

// SQLiteStore implements Store on a SQLite database file.
//
// The database runs in WAL mode with a single connection; a background loop
// checkpoints the WAL every CheckpointInterval.
type SQLiteStore struct {
	db                 *sql.DB
	checkpointInterval time.Duration
	done               chan struct{}
	closeOnce          sync.Once

	saveStmt    *sql.Stmt
	loadStmt    *sql.Stmt
	deleteStmt  *sql.Stmt
	listStmt    *sql.Stmt
	cleanupStmt *sql.Stmt
}

// SQLiteConfig configures a SQLiteStore.
type SQLiteConfig struct {
	// Path is the database file. Required.
	Path string

	// CheckpointInterval is how often to checkpoint the WAL.
	// Default: 5 minutes
	CheckpointInterval time.Duration

	// BusyTimeout is how long to wait for locks.
	// Default: 5 seconds
	BusyTimeout time.Duration
}

// NewSQLiteStore opens (or creates) a store at path with default settings.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	return NewSQLiteStoreWithConfig(SQLiteConfig{Path: path})
}

// NewSQLiteStoreWithConfig opens a store with cfg.
func NewSQLiteStoreWithConfig(cfg SQLiteConfig) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("db path cannot be empty")
	}
	if cfg.CheckpointInterval == 0 {
		cfg.CheckpointInterval = 5 * time.Minute
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)",
		cfg.Path, cfg.BusyTimeout.Milliseconds())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &SQLiteStore{
		db:                 db,
		checkpointInterval: cfg.CheckpointInterval,
		done:               make(chan struct{}),
	}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	if err := s.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	go s.checkpointLoop()
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS spending_states (
		policy TEXT PRIMARY KEY,
		daily_spent TEXT NOT NULL,
		last_reset_date TEXT NOT NULL,
		total_spent TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_spending_updated_at ON spending_states(updated_at);
	`)
	return err
}

func (s *SQLiteStore) prepareStatements() error {
	var err error

	s.saveStmt, err = s.db.Prepare(`
		INSERT INTO spending_states (policy, daily_spent, last_reset_date, total_spent, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (policy) DO UPDATE SET
			daily_spent = excluded.daily_spent,
			last_reset_date = excluded.last_reset_date,
			total_spent = excluded.total_spent,
			updated_at = excluded.updated_at
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare save statement: %w", err)
	}

	s.loadStmt, err = s.db.Prepare(`
		SELECT policy, daily_spent, last_reset_date, total_spent, updated_at
		FROM spending_states WHERE policy = ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare load statement: %w", err)
	}

	s.deleteStmt, err = s.db.Prepare(`DELETE FROM spending_states WHERE policy = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare delete statement: %w", err)
	}

	s.listStmt, err = s.db.Prepare(`
		SELECT policy, daily_spent, last_reset_date, total_spent, updated_at
		FROM spending_states ORDER BY policy
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare list statement: %w", err)
	}

	s.cleanupStmt, err = s.db.Prepare(`DELETE FROM spending_states WHERE updated_at < ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare cleanup statement: %w", err)
	}
	return nil
}

// Save implements Store.
func (s *SQLiteStore) Save(ctx context.Context, state *SpendingState) error {
	if state == nil || state.Policy == "" {
		return ErrEmptyPolicy
	}
	updated := state.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}

	_, err := s.saveStmt.ExecContext(ctx,
		state.Policy,
		state.DailySpent.String(),
		state.LastResetDate,
		state.TotalSpent.String(),
		updated.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to save spending state: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanState(row scanner) (*SpendingState, error) {
	var (
		st                SpendingState
		daily, total      string
		updatedAtUnixMsec int64
	)
	if err := row.Scan(&st.Policy, &daily, &st.LastResetDate, &total, &updatedAtUnixMsec); err != nil {
		return nil, err
	}

	var err error
	if st.DailySpent, err = rules.ParseAmount(daily); err != nil {
		return nil, fmt.Errorf("invalid daily_spent for %s: %w", st.Policy, err)
	}
	if st.TotalSpent, err = rules.ParseAmount(total); err != nil {
		return nil, fmt.Errorf("invalid total_spent for %s: %w", st.Policy, err)
	}
	st.UpdatedAt = time.UnixMilli(updatedAtUnixMsec)
	return &st, nil
}

// Load implements Store.
func (s *SQLiteStore) Load(ctx context.Context, policy string) (*SpendingState, error) {
	if policy == "" {
		return nil, ErrEmptyPolicy
	}
	st, err := scanState(s.loadStmt.QueryRowContext(ctx, policy))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load spending state: %w", err)
	}
	return st, nil
}

// Delete implements Store.
func (s *SQLiteStore) Delete(ctx context.Context, policy string) error {
	if policy == "" {
		return ErrEmptyPolicy
	}
	if _, err := s.deleteStmt.ExecContext(ctx, policy); err != nil {
		return fmt.Errorf("failed to delete spending state: %w", err)
	}
	return nil
}

// List implements Store.
func (s *SQLiteStore) List(ctx context.Context) ([]*SpendingState, error) {
	rows, err := s.listStmt.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list spending states: %w", err)
	}
	defer rows.Close()

	var out []*SpendingState
	for rows.Next() {
		st, err := scanState(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return out, nil
}

// Cleanup implements Store.
func (s *SQLiteStore) Cleanup(ctx context.Context, olderThan time.Time) (int, error) {
	res, err := s.cleanupStmt.ExecContext(ctx, olderThan.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(n), nil
}

// Ping verifies the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close implements Store. It is idempotent.
func (s *SQLiteStore) Close() error {
	var closeErr error
	s.closeOnce.Do(func() {
		close(s.done)
		for _, stmt := range []*sql.Stmt{s.saveStmt, s.loadStmt, s.deleteStmt, s.listStmt, s.cleanupStmt} {
			if stmt != nil {
				stmt.Close()
			}
		}
		_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
		closeErr = s.db.Close()
	})
	return closeErr
}

func (s *SQLiteStore) checkpointLoop() {
	ticker := time.NewTicker(s.checkpointInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_, _ = s.db.Exec("PRAGMA wal_checkpoint(PASSIVE)")
		case <-s.done:
			return
		}
	}
}
