// Package session persists session state: conversation turns, taint
// counters, user overrides, and the FIFO queue of pending inbound
// messages. Storage shape follows Ruriko's sqlite store
// (internal/ruriko/store/store.go): a single shared *sql.DB connection in
// WAL mode (SetMaxOpenConns(1) to keep write semantics single-writer
// without a separate application-level lock), migrations embedded with
// //go:embed and applied in numeric-prefix order inside a schema_migrations
// ledger table.
package session

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

// Store wraps the session database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) the sqlite database at path, applies
// pragmas for WAL durability, and runs any pending migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("session: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA cache_size=-20000",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("session: set pragma %q: %w", p, err)
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
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at TEXT NOT NULL
	)`); err != nil {
		return fmt.Errorf("session: create schema_migrations: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("session: read embedded migrations: %w", err)
	}

	type migration struct {
		version int
		name    string
	}
	var migs []migration
	seen := map[int]bool{}
	for _, e := range entries {
		name := e.Name()
		prefix, _, ok := strings.Cut(name, "_")
		if !ok {
			return fmt.Errorf("session: migration %q missing numeric prefix", name)
		}
		v, err := strconv.Atoi(prefix)
		if err != nil {
			return fmt.Errorf("session: migration %q has non-numeric prefix: %w", name, err)
		}
		if seen[v] {
			return fmt.Errorf("session: duplicate migration version %d", v)
		}
		seen[v] = true
		migs = append(migs, migration{version: v, name: name})
	}
	sort.Slice(migs, func(i, j int) bool { return migs[i].version < migs[j].version })

	for _, m := range migs {
		var count int
		if err := s.db.QueryRow(`SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, m.version).Scan(&count); err != nil {
			return fmt.Errorf("session: check migration %d: %w", m.version, err)
		}
		if count > 0 {
			continue
		}

		data, err := migrationsFS.ReadFile("migrations/" + m.name)
		if err != nil {
			return fmt.Errorf("session: read migration %s: %w", m.name, err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("session: begin migration %d: %w", m.version, err)
		}
		if _, err := tx.Exec(string(data)); err != nil {
			tx.Rollback()
			return fmt.Errorf("session: apply migration %d (%s): %w", m.version, m.name, err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)`,
			m.version, m.name, time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
			tx.Rollback()
			return fmt.Errorf("session: record migration %d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("session: commit migration %d: %w", m.version, err)
		}
	}
	return nil
}

// Turn is one conversation turn.
type Turn struct {
	Role    string
	Content string
	Sender  string
}

// EnsureSession creates the session row if it does not already exist,
// canonicalizing the channel-scoped address into id.
func (s *Store) EnsureSession(ctx context.Context, id, provider, scope, identifier string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, provider, scope, identifier, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		id, provider, scope, identifier, now, now)
	if err != nil {
		return fmt.Errorf("session: ensure %s: %w", id, err)
	}
	return nil
}

// AppendTurn records one conversation turn for id.
func (s *Store) AppendTurn(ctx context.Context, id string, turn Turn) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO turns (session_id, role, content, sender, created_at) VALUES (?, ?, ?, ?, ?)`,
		id, turn.Role, turn.Content, nullIfEmpty(turn.Sender), now)
	if err != nil {
		return fmt.Errorf("session: append turn for %s: %w", id, err)
	}
	_, err = s.db.ExecContext(ctx, `UPDATE sessions SET updated_at = ? WHERE id = ?`, now, id)
	return err
}

// RecentTurns returns up to limit most recent turns for id, oldest first.
func (s *Store) RecentTurns(ctx context.Context, id string, limit int) ([]Turn, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT role, content, COALESCE(sender, '') FROM turns
		WHERE session_id = ? ORDER BY id DESC LIMIT ?`, id, limit)
	if err != nil {
		return nil, fmt.Errorf("session: recent turns for %s: %w", id, err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var t Turn
		if err := rows.Scan(&t.Role, &t.Content, &t.Sender); err != nil {
			return nil, fmt.Errorf("session: scan turn: %w", err)
		}
		turns = append(turns, t)
	}
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, rows.Err()
}

// UpdateTaint persists the session's running token counters.
func (s *Store) UpdateTaint(ctx context.Context, id string, totalTokens, taintedTokens int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET total_tokens = ?, tainted_tokens = ?, updated_at = ? WHERE id = ?`,
		totalTokens, taintedTokens, time.Now().UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("session: update taint for %s: %w", id, err)
	}
	return nil
}

// LoadTaint returns the persisted token counters for id.
func (s *Store) LoadTaint(ctx context.Context, id string) (totalTokens, taintedTokens int64, err error) {
	err = s.db.QueryRowContext(ctx, `SELECT total_tokens, tainted_tokens FROM sessions WHERE id = ?`, id).
		Scan(&totalTokens, &taintedTokens)
	if err != nil {
		return 0, 0, fmt.Errorf("session: load taint for %s: %w", id, err)
	}
	return totalTokens, taintedTokens, nil
}

// AddOverride grants id a session-scoped override for action.
func (s *Store) AddOverride(ctx context.Context, id, action string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session_overrides (session_id, action, granted_at) VALUES (?, ?, ?)
		ON CONFLICT(session_id, action) DO NOTHING`,
		id, action, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("session: add override %s for %s: %w", action, id, err)
	}
	return nil
}

// Overrides returns the set of actions id has an override for.
func (s *Store) Overrides(ctx context.Context, id string) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT action FROM session_overrides WHERE session_id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("session: overrides for %s: %w", id, err)
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var action string
		if err := rows.Scan(&action); err != nil {
			return nil, err
		}
		out[action] = true
	}
	return out, rows.Err()
}

// SetCanary persists the most recently issued canary token for id.
func (s *Store) SetCanary(ctx context.Context, id, canary string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE sessions SET canary = ? WHERE id = ?`, canary, id)
	return err
}

// Canary returns id's most recently issued canary token.
func (s *Store) Canary(ctx context.Context, id string) (string, error) {
	var canary string
	err := s.db.QueryRowContext(ctx, `SELECT canary FROM sessions WHERE id = ?`, id).Scan(&canary)
	return canary, err
}

// EnqueueMessage appends a pending message for id.
func (s *Store) EnqueueMessage(ctx context.Context, id, content string) (int64, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO queued_messages (session_id, content, status, created_at, updated_at)
		VALUES (?, ?, 'pending', ?, ?)`, id, content, now, now)
	if err != nil {
		return 0, fmt.Errorf("session: enqueue for %s: %w", id, err)
	}
	return res.LastInsertId()
}

// DequeueNext atomically claims the oldest pending message for id,
// transitioning it to 'processing'; the select and the status update run
// in one transaction to keep dequeue atomic under concurrent dispatchers.
func (s *Store) DequeueNext(ctx context.Context, id string) (msgID int64, content string, ok bool, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, "", false, fmt.Errorf("session: dequeue begin: %w", err)
	}
	defer tx.Rollback()

	err = tx.QueryRowContext(ctx, `
		SELECT id, content FROM queued_messages
		WHERE session_id = ? AND status = 'pending' ORDER BY id ASC LIMIT 1`, id).
		Scan(&msgID, &content)
	if err == sql.ErrNoRows {
		return 0, "", false, nil
	}
	if err != nil {
		return 0, "", false, fmt.Errorf("session: dequeue select: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := tx.ExecContext(ctx, `
		UPDATE queued_messages SET status = 'processing', updated_at = ? WHERE id = ?`, now, msgID); err != nil {
		return 0, "", false, fmt.Errorf("session: dequeue mark processing: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, "", false, fmt.Errorf("session: dequeue commit: %w", err)
	}
	return msgID, content, true, nil
}

// CompleteMessage marks msgID done or error depending on workerErr.
func (s *Store) CompleteMessage(ctx context.Context, msgID int64, workerErr error) error {
	status := "done"
	if workerErr != nil {
		status = "error"
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE queued_messages SET status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now().UTC().Format(time.RFC3339Nano), msgID)
	return err
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
