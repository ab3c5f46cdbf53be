// Package scheduler persists the scheduler.add/remove/list handler group's
// tasks: a run-at time, a task description, and an optional recurrence
// rule. Storage shape follows the session store's sqlite pattern
// (internal/ax/session/store.go): a single shared *sql.DB connection in
// WAL mode, migrations embedded with //go:embed and applied in
// numeric-prefix order inside a schema_migrations ledger table.
package scheduler

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Task is one scheduled task. Recurring marks a daily-at-this-time-of-day
// repeat; a one-shot task runs once and is left in the table (callers
// filter completed one-shots by run_at, matching scheduler.list's view).
type Task struct {
	ID        int64
	SessionID string
	RunAt     time.Time
	Task      string
	Recurring bool
	CreatedAt time.Time
}

// Store wraps the scheduler database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) the sqlite database at path and runs any
// pending migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("scheduler: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, p := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("scheduler: set pragma %q: %w", p, err)
		}
	}

	s := &Store{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) runMigrations() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY, name TEXT NOT NULL, applied_at TEXT NOT NULL)`); err != nil {
		return fmt.Errorf("scheduler: create schema_migrations: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("scheduler: read embedded migrations: %w", err)
	}
	type mig struct {
		version int
		name    string
	}
	var migs []mig
	for _, e := range entries {
		prefix, _, ok := strings.Cut(e.Name(), "_")
		if !ok {
			return fmt.Errorf("scheduler: migration %q missing numeric prefix", e.Name())
		}
		v, err := strconv.Atoi(prefix)
		if err != nil {
			return fmt.Errorf("scheduler: migration %q has non-numeric prefix: %w", e.Name(), err)
		}
		migs = append(migs, mig{version: v, name: e.Name()})
	}
	sort.Slice(migs, func(i, j int) bool { return migs[i].version < migs[j].version })

	for _, m := range migs {
		var count int
		if err := s.db.QueryRow(`SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, m.version).Scan(&count); err != nil {
			return err
		}
		if count > 0 {
			continue
		}
		data, err := migrationsFS.ReadFile("migrations/" + m.name)
		if err != nil {
			return err
		}
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(string(data)); err != nil {
			tx.Rollback()
			return fmt.Errorf("scheduler: apply migration %s: %w", m.name, err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)`,
			m.version, m.name, time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
			tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}

// Add inserts a new scheduled task and returns its ID.
func (s *Store) Add(ctx context.Context, sessionID string, runAt time.Time, task string, recurring bool) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO scheduled_tasks (session_id, run_at, task, recurring, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		sessionID, runAt.UTC().Format(time.RFC3339), task, boolToInt(recurring), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("scheduler: add task: %w", err)
	}
	return res.LastInsertId()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Remove deletes a task by ID, scoped to sessionID so one session cannot
// cancel another's task.
func (s *Store) Remove(ctx context.Context, sessionID string, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM scheduled_tasks WHERE id = ? AND session_id = ?`, id, sessionID)
	if err != nil {
		return fmt.Errorf("scheduler: remove task %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("scheduler: no task %d for this session", id)
	}
	return nil
}

// List returns sessionID's scheduled tasks ordered by run_at ascending.
func (s *Store) List(ctx context.Context, sessionID string) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, run_at, task, recurring, created_at
		FROM scheduled_tasks WHERE session_id = ? ORDER BY run_at ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("scheduler: list: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

// DueBefore returns every task across all sessions whose run_at is at or
// before cutoff, ordered by run_at ascending, for the heartbeat scheduler
// loop to dispatch.
func (s *Store) DueBefore(ctx context.Context, cutoff time.Time) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, run_at, task, recurring, created_at
		FROM scheduled_tasks WHERE run_at <= ? ORDER BY run_at ASC`, cutoff.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("scheduler: due before: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

func scanTasks(rows *sql.Rows) ([]Task, error) {
	var out []Task
	for rows.Next() {
		var t Task
		var runAt, createdAt string
		var recurring int
		if err := rows.Scan(&t.ID, &t.SessionID, &runAt, &t.Task, &recurring, &createdAt); err != nil {
			return nil, fmt.Errorf("scheduler: scan task: %w", err)
		}
		t.Recurring = recurring != 0
		t.RunAt, _ = time.Parse(time.RFC3339, runAt)
		t.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, t)
	}
	return out, rows.Err()
}
