// Package catalog keeps the run history in SQLite: one row per backup
// session, the outcome of every principal in it, and what retention pruned.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	// Pure-Go SQLite driver (no CGO).
	_ "modernc.org/sqlite"
)

// Status is a session's lifecycle state.
type Status string

// Session states.
const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	// StatusFailed means the run aborted and its output was deleted.
	StatusFailed Status = "failed"
	// StatusPartial means the run aborted and its output was kept.
	StatusPartial Status = "partial"
)

// ErrUnknownSession is returned when recording against a session that was
// never started.
var ErrUnknownSession = errors.New("catalog: unknown session")

const (
	sqlStartSession = `INSERT INTO sessions (name, run_id, backend, status, started_at)
		VALUES (?, ?, ?, 'running', ?)
		ON CONFLICT(name) DO UPDATE SET
		 run_id = excluded.run_id,
		 backend = excluded.backend,
		 status = 'running',
		 started_at = excluded.started_at,
		 finished_at = NULL`

	sqlFinishSession = `UPDATE sessions SET status = ?, finished_at = ? WHERE name = ?`

	sqlRecordPrincipal = `INSERT INTO principal_runs
		(session, login, documents, skipped, unrecoverable, bytes, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session, login) DO UPDATE SET
		 documents = excluded.documents,
		 skipped = excluded.skipped,
		 unrecoverable = excluded.unrecoverable,
		 bytes = excluded.bytes,
		 completed_at = excluded.completed_at`

	sqlRecordPruned = `INSERT OR REPLACE INTO pruned (session, login, pruned_at) VALUES (?, ?, ?)`

	sqlListSessions = `SELECT s.name, s.run_id, s.backend, s.status, s.started_at, s.finished_at,
		 COUNT(p.login), COALESCE(SUM(p.documents), 0), COALESCE(SUM(p.bytes), 0)
		FROM sessions s
		LEFT JOIN principal_runs p ON p.session = s.name
		GROUP BY s.name
		ORDER BY s.started_at DESC
		LIMIT ?`

	sqlListPrincipals = `SELECT login, documents, skipped, unrecoverable, bytes, completed_at
		FROM principal_runs WHERE session = ? ORDER BY login`

	sqlListPruned = `SELECT session, login, pruned_at FROM pruned ORDER BY pruned_at, session, login`
)

// SessionRecord is one row of run history.
type SessionRecord struct {
	Name       string
	RunID      string
	Backend    string
	Status     Status
	StartedAt  time.Time
	FinishedAt time.Time // zero while running
	Principals int
	Documents  int64
	Bytes      int64
}

// PrincipalRun is one principal's outcome within a session.
type PrincipalRun struct {
	Login         string
	Documents     int
	Skipped       int
	Unrecoverable int
	Bytes         int64
	CompletedAt   time.Time
}

// PrunedRecord notes that login's output was removed from session.
type PrunedRecord struct {
	Session  string
	Login    string
	PrunedAt time.Time
}

// Catalog is the run-history store. Safe for concurrent use.
type Catalog struct {
	db      *sql.DB
	logger  *slog.Logger
	nowFunc func() time.Time // injectable for deterministic tests
}

// Open opens (creating if needed) the catalog at path and migrates it.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Catalog, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("catalog: creating directory for %s: %w", path, err)
	}

	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)"+
			"&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)",
		path,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("catalog: opening database %s: %w", path, err)
	}

	// Parallel principals record concurrently; serialize writers.
	db.SetMaxOpenConns(1)

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	logger.Debug("catalog opened", slog.String("path", path))

	return &Catalog{db: db, logger: logger, nowFunc: time.Now}, nil
}

// Close closes the database.
func (c *Catalog) Close() error {
	return c.db.Close()
}

// StartSession records a new running session. Restarting a name resets it.
func (c *Catalog) StartSession(ctx context.Context, name, runID, backend string, startedAt time.Time) error {
	if _, err := c.db.ExecContext(ctx, sqlStartSession, name, runID, backend, startedAt.UnixNano()); err != nil {
		return fmt.Errorf("catalog: starting session %s: %w", name, err)
	}

	return nil
}

// FinishSession stamps the session's final status.
func (c *Catalog) FinishSession(ctx context.Context, name string, status Status) error {
	res, err := c.db.ExecContext(ctx, sqlFinishSession, string(status), c.nowFunc().UnixNano(), name)
	if err != nil {
		return fmt.Errorf("catalog: finishing session %s: %w", name, err)
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrUnknownSession, name)
	}

	return nil
}

// RecordPrincipal stores a completed principal's counters.
func (c *Catalog) RecordPrincipal(ctx context.Context, session string, run PrincipalRun) error {
	completed := run.CompletedAt
	if completed.IsZero() {
		completed = c.nowFunc()
	}

	_, err := c.db.ExecContext(ctx, sqlRecordPrincipal,
		session, run.Login, run.Documents, run.Skipped, run.Unrecoverable, run.Bytes, completed.UnixNano())
	if err != nil {
		return fmt.Errorf("catalog: recording %s in %s: %w", run.Login, session, err)
	}

	return nil
}

// RecordPruned stores retention deletions in one transaction.
func (c *Catalog) RecordPruned(ctx context.Context, entries []PrunedRecord) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("catalog: beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after Commit

	now := c.nowFunc()

	for _, e := range entries {
		at := e.PrunedAt
		if at.IsZero() {
			at = now
		}

		if _, err := tx.ExecContext(ctx, sqlRecordPruned, e.Session, e.Login, at.UnixNano()); err != nil {
			return fmt.Errorf("catalog: recording pruned %s/%s: %w", e.Session, e.Login, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("catalog: committing pruned entries: %w", err)
	}

	return nil
}

// Sessions returns up to limit sessions, newest first. limit <= 0 means all.
func (c *Catalog) Sessions(ctx context.Context, limit int) ([]SessionRecord, error) {
	if limit <= 0 {
		limit = -1
	}

	rows, err := c.db.QueryContext(ctx, sqlListSessions, limit)
	if err != nil {
		return nil, fmt.Errorf("catalog: listing sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionRecord

	for rows.Next() {
		var (
			r        SessionRecord
			status   string
			started  int64
			finished sql.NullInt64
		)

		if err := rows.Scan(&r.Name, &r.RunID, &r.Backend, &status, &started, &finished,
			&r.Principals, &r.Documents, &r.Bytes); err != nil {
			return nil, fmt.Errorf("catalog: scanning session row: %w", err)
		}

		r.Status = Status(status)
		r.StartedAt = time.Unix(0, started).UTC()

		if finished.Valid {
			r.FinishedAt = time.Unix(0, finished.Int64).UTC()
		}

		out = append(out, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog: iterating session rows: %w", err)
	}

	return out, nil
}

// Principals returns the principal outcomes of one session, by login.
func (c *Catalog) Principals(ctx context.Context, session string) ([]PrincipalRun, error) {
	rows, err := c.db.QueryContext(ctx, sqlListPrincipals, session)
	if err != nil {
		return nil, fmt.Errorf("catalog: listing principals of %s: %w", session, err)
	}
	defer rows.Close()

	var out []PrincipalRun

	for rows.Next() {
		var (
			r         PrincipalRun
			completed int64
		)

		if err := rows.Scan(&r.Login, &r.Documents, &r.Skipped, &r.Unrecoverable, &r.Bytes, &completed); err != nil {
			return nil, fmt.Errorf("catalog: scanning principal row: %w", err)
		}

		r.CompletedAt = time.Unix(0, completed).UTC()
		out = append(out, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog: iterating principal rows: %w", err)
	}

	return out, nil
}

// Pruned returns every recorded retention deletion, oldest first.
func (c *Catalog) Pruned(ctx context.Context) ([]PrunedRecord, error) {
	rows, err := c.db.QueryContext(ctx, sqlListPruned)
	if err != nil {
		return nil, fmt.Errorf("catalog: listing pruned entries: %w", err)
	}
	defer rows.Close()

	var out []PrunedRecord

	for rows.Next() {
		var (
			r  PrunedRecord
			at int64
		)

		if err := rows.Scan(&r.Session, &r.Login, &at); err != nil {
			return nil, fmt.Errorf("catalog: scanning pruned row: %w", err)
		}

		r.PrunedAt = time.Unix(0, at).UTC()
		out = append(out, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog: iterating pruned rows: %w", err)
	}

	return out, nil
}
