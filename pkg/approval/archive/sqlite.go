package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"mercator-hq/warden/pkg/approval"
)

const schema = `
CREATE TABLE IF NOT EXISTS approval_requests (
    id TEXT PRIMARY KEY,
    policy TEXT NOT NULL DEFAULT '',
    action_type TEXT NOT NULL,
    action_params TEXT,
    triggers TEXT,
    message TEXT,
    channel TEXT NOT NULL,
    status TEXT NOT NULL,
    reason TEXT,
    created_at INTEGER NOT NULL,
    timeout_at INTEGER NOT NULL,
    resolved_at INTEGER NOT NULL,
    resolved_by TEXT
);

CREATE INDEX IF NOT EXISTS idx_approval_requests_resolved_at ON approval_requests(resolved_at);
CREATE INDEX IF NOT EXISTS idx_approval_requests_status ON approval_requests(status);
CREATE INDEX IF NOT EXISTS idx_approval_requests_policy ON approval_requests(policy);
`

const columns = `id, policy, action_type, action_params, triggers, message, channel, status, reason, created_at, timeout_at, resolved_at, resolved_by`

const insertRequest = `INSERT OR REPLACE INTO approval_requests (` + columns + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// SQLiteConfig configures the SQLite archive.
type SQLiteConfig struct {
	// Path is the database file path.
	Path string

	// MaxOpenConns bounds open connections. Default: 4
	MaxOpenConns int

	// WALMode enables write-ahead logging. Default: true
	WALMode bool

	// BusyTimeout is how long to wait on a locked database. Default: 5s
	BusyTimeout time.Duration
}

// DefaultSQLiteConfig returns the default configuration.
func DefaultSQLiteConfig() *SQLiteConfig {
	return &SQLiteConfig{
		Path:         "data/approvals.db",
		MaxOpenConns: 4,
		WALMode:      true,
		BusyTimeout:  5 * time.Second,
	}
}

// SQLiteStore is a Store backed by SQLite.
type SQLiteStore struct {
	db        *sql.DB
	config    *SQLiteConfig
	insert    *sql.Stmt
	logger    *slog.Logger
	closeOnce sync.Once
	closeErr  error
}

// NewSQLiteStore opens or creates the archive database.
func NewSQLiteStore(config *SQLiteConfig) (*SQLiteStore, error) {
	if config == nil {
		config = DefaultSQLiteConfig()
	}
	if config.Path == "" {
		return nil, storageError("sqlite", "open", errors.New("database path is required"))
	}
	if config.MaxOpenConns <= 0 {
		config.MaxOpenConns = 4
	}

	db, err := sql.Open("sqlite3", config.Path)
	if err != nil {
		return nil, storageError("sqlite", "open", err)
	}
	db.SetMaxOpenConns(config.MaxOpenConns)

	s := &SQLiteStore{
		db:     db,
		config: config,
		logger: slog.Default().With("component", "approval.archive.sqlite"),
	}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	s.logger.Info("approval archive initialized",
		"path", config.Path,
		"wal_mode", config.WALMode,
	)
	return s, nil
}

func (s *SQLiteStore) initialize() error {
	if s.config.WALMode {
		if _, err := s.db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
			return storageError("sqlite", "enable_wal", err)
		}
	}
	if s.config.BusyTimeout > 0 {
		if _, err := s.db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d;", s.config.BusyTimeout.Milliseconds())); err != nil {
			return storageError("sqlite", "set_busy_timeout", err)
		}
	}
	if _, err := s.db.Exec(schema); err != nil {
		return storageError("sqlite", "create_schema", err)
	}
	if err := s.migrate(); err != nil {
		return storageError("sqlite", "migrate", err)
	}
	stmt, err := s.db.Prepare(insertRequest)
	if err != nil {
		return storageError("sqlite", "prepare", err)
	}
	s.insert = stmt
	return nil
}

// migrate adds columns missing from databases created by older versions.
func (s *SQLiteStore) migrate() error {
	rows, err := s.db.Query(`PRAGMA table_info(approval_requests)`)
	if err != nil {
		return err
	}
	have := make(map[string]bool)
	for rows.Next() {
		var (
			cid, notNull, pk int
			name, typ        string
			dflt             sql.NullString
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			rows.Close()
			return err
		}
		have[name] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	if !have["resolved_by"] {
		if _, err := s.db.Exec(`ALTER TABLE approval_requests ADD COLUMN resolved_by TEXT`); err != nil {
			return err
		}
		s.logger.Info("migrated approval archive", "added_column", "resolved_by")
	}
	return nil
}

func (s *SQLiteStore) Put(ctx context.Context, req approval.Request) error {
	params, err := json.Marshal(req.Action.Params)
	if err != nil {
		return storageError("sqlite", "put", fmt.Errorf("encode params: %w", err))
	}
	triggers, err := json.Marshal(req.Triggers)
	if err != nil {
		return storageError("sqlite", "put", fmt.Errorf("encode triggers: %w", err))
	}
	_, err = s.insert.ExecContext(ctx,
		req.ID, req.Policy, req.Action.Type, string(params), string(triggers),
		req.Message, string(req.Channel), string(req.Status), req.Reason,
		req.CreatedAt.UnixMilli(), req.TimeoutAt.UnixMilli(), unixMilli(req.ResolvedAt), req.ResolvedBy,
	)
	if err != nil {
		return storageError("sqlite", "put", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (approval.Request, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+columns+` FROM approval_requests WHERE id = ?`, id)
	req, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return approval.Request{}, ErrNotFound
	}
	if err != nil {
		return approval.Request{}, storageError("sqlite", "get", err)
	}
	return req, nil
}

func (s *SQLiteStore) Query(ctx context.Context, q Query) ([]approval.Request, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	where, args := whereClause(q)
	query := `SELECT ` + columns + ` FROM approval_requests` + where +
		fmt.Sprintf(` ORDER BY resolved_at DESC, id ASC LIMIT %d`, q.limit())

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageError("sqlite", "query", err)
	}
	defer rows.Close()

	var out []approval.Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, storageError("sqlite", "scan", err)
		}
		out = append(out, req)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("sqlite", "query", err)
	}
	return out, nil
}

func (s *SQLiteStore) Count(ctx context.Context, q Query) (int64, error) {
	if err := q.Validate(); err != nil {
		return 0, err
	}
	where, args := whereClause(q)
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM approval_requests`+where, args...).Scan(&n); err != nil {
		return 0, storageError("sqlite", "count", err)
	}
	return n, nil
}

func (s *SQLiteStore) DeleteBefore(ctx context.Context, t time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM approval_requests WHERE resolved_at < ?`, t.UnixMilli())
	if err != nil {
		return 0, storageError("sqlite", "delete", err)
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) DeleteOldest(ctx context.Context, n int64) (int64, error) {
	if n <= 0 {
		return 0, nil
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM approval_requests WHERE id IN (
		SELECT id FROM approval_requests ORDER BY resolved_at ASC, id DESC LIMIT ?)`, n)
	if err != nil {
		return 0, storageError("sqlite", "delete", err)
	}
	return res.RowsAffected()
}

// Ping verifies the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return storageError("sqlite", "ping", err)
	}
	return nil
}

// Close closes the database. It is safe to call more than once.
func (s *SQLiteStore) Close() error {
	s.closeOnce.Do(func() {
		if s.insert != nil {
			s.insert.Close()
		}
		s.closeErr = s.db.Close()
	})
	return s.closeErr
}

func whereClause(q Query) (string, []any) {
	var conds []string
	var args []any
	if q.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(q.Status))
	}
	if q.Policy != "" {
		conds = append(conds, "policy = ?")
		args = append(args, q.Policy)
	}
	if q.Action != "" {
		conds = append(conds, "action_type = ?")
		args = append(args, q.Action)
	}
	if !q.Since.IsZero() {
		conds = append(conds, "resolved_at >= ?")
		args = append(args, q.Since.UnixMilli())
	}
	if !q.Until.IsZero() {
		conds = append(conds, "resolved_at < ?")
		args = append(args, q.Until.UnixMilli())
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRequest(row scanner) (approval.Request, error) {
	var (
		req                              approval.Request
		params, triggers                 sql.NullString
		message, reason, resolvedBy      sql.NullString
		channel, status                  string
		createdAt, timeoutAt, resolvedAt int64
	)
	err := row.Scan(&req.ID, &req.Policy, &req.Action.Type, &params, &triggers,
		&message, &channel, &status, &reason, &createdAt, &timeoutAt, &resolvedAt, &resolvedBy)
	if err != nil {
		return approval.Request{}, err
	}
	if params.Valid && params.String != "" && params.String != "null" {
		dec := json.NewDecoder(strings.NewReader(params.String))
		dec.UseNumber()
		var p map[string]any
		if err := dec.Decode(&p); err != nil {
			return approval.Request{}, fmt.Errorf("decode params: %w", err)
		}
		req.Action.Params = p
	}
	if triggers.Valid && triggers.String != "" {
		if err := json.Unmarshal([]byte(triggers.String), &req.Triggers); err != nil {
			return approval.Request{}, fmt.Errorf("decode triggers: %w", err)
		}
	}
	req.Message = message.String
	req.Reason = reason.String
	req.ResolvedBy = resolvedBy.String
	req.Channel = approval.Channel(channel)
	req.Status = approval.Status(status)
	req.CreatedAt = time.UnixMilli(createdAt).UTC()
	req.TimeoutAt = time.UnixMilli(timeoutAt).UTC()
	if resolvedAt != 0 {
		req.ResolvedAt = time.UnixMilli(resolvedAt).UTC()
	}
	return req, nil
}

func unixMilli(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}
