// Package memory implements the persistent memory store backing the
// memory.* IPC handlers: write/read/query/delete/list over scope-
// partitioned entries with an FTS5 full-text index and per-entry taint
// tags. Storage shape is grounded on Ruriko's long-term-memory store
// (internal/ruriko/memory/ltm_sqlite.go) — marshal structured values to
// JSON before insert, modernc.org/sqlite as the driver — generalized from
// a single embedding-search table to AX's scope/key/tag model.
package memory

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Scope partitions memory entries by lifetime/visibility.
type Scope string

const (
	ScopeSession Scope = "session"
	ScopeAgent   Scope = "agent"
	ScopeGlobal  Scope = "global"
)

// Entry is one stored memory value.
type Entry struct {
	Scope     Scope
	Key       string
	Value     string
	Tainted   bool
	Tags      []string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Store wraps the memory database.
type Store struct {
	db *sql.DB
}

// Open opens the memory database at path and applies pending migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("memory: open %s: %w", path, err)
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
			return nil, fmt.Errorf("memory: set pragma %q: %w", p, err)
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
		return fmt.Errorf("memory: create schema_migrations: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("memory: read embedded migrations: %w", err)
	}
	type mig struct {
		version int
		name    string
	}
	var migs []mig
	for _, e := range entries {
		prefix, _, ok := strings.Cut(e.Name(), "_")
		if !ok {
			return fmt.Errorf("memory: migration %q missing numeric prefix", e.Name())
		}
		v, err := strconv.Atoi(prefix)
		if err != nil {
			return fmt.Errorf("memory: migration %q has non-numeric prefix: %w", e.Name(), err)
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
			return fmt.Errorf("memory: apply migration %s: %w", m.name, err)
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

// Write upserts one entry.
func (s *Store) Write(ctx context.Context, e Entry) error {
	tagsJSON, err := json.Marshal(e.Tags)
	if err != nil {
		return fmt.Errorf("memory: marshal tags: %w", err)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	tainted := 0
	if e.Tainted {
		tainted = 1
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO memory_entries (scope, key, value, tainted, tags, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(scope, key) DO UPDATE SET
			value = excluded.value, tainted = excluded.tainted, tags = excluded.tags, updated_at = excluded.updated_at`,
		string(e.Scope), e.Key, e.Value, tainted, string(tagsJSON), now, now)
	if err != nil {
		return fmt.Errorf("memory: write %s/%s: %w", e.Scope, e.Key, err)
	}
	return nil
}

// Read fetches one entry by scope and key.
func (s *Store) Read(ctx context.Context, scope Scope, key string) (Entry, bool, error) {
	var e Entry
	var scopeStr, tagsJSON string
	var tainted int
	var createdAt, updatedAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT scope, key, value, tainted, tags, created_at, updated_at
		FROM memory_entries WHERE scope = ? AND key = ?`, string(scope), key).
		Scan(&scopeStr, &e.Key, &e.Value, &tainted, &tagsJSON, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("memory: read %s/%s: %w", scope, key, err)
	}
	e.Scope = Scope(scopeStr)
	e.Tainted = tainted != 0
	_ = json.Unmarshal([]byte(tagsJSON), &e.Tags)
	e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	e.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return e, true, nil
}

// Delete removes one entry. Not an error if absent.
func (s *Store) Delete(ctx context.Context, scope Scope, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM memory_entries WHERE scope = ? AND key = ?`, string(scope), key)
	if err != nil {
		return fmt.Errorf("memory: delete %s/%s: %w", scope, key, err)
	}
	return nil
}

// List returns up to limit entries in scope whose key has the given
// prefix (prefix may be empty to list all).
func (s *Store) List(ctx context.Context, scope Scope, prefix string, limit int) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT scope, key, value, tainted, tags, created_at, updated_at
		FROM memory_entries
		WHERE scope = ? AND key LIKE ? ESCAPE '\'
		ORDER BY key ASC LIMIT ?`, string(scope), likePrefix(prefix), limit)
	if err != nil {
		return nil, fmt.Errorf("memory: list %s: %w", scope, err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// Query runs a full-text search over value/key/tags within scope,
// optionally filtered to entries carrying every tag in tags.
func (s *Store) Query(ctx context.Context, scope Scope, query string, tags []string, limit int) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.scope, m.key, m.value, m.tainted, m.tags, m.created_at, m.updated_at
		FROM memory_fts f
		JOIN memory_entries m ON m.rowid = f.rowid
		WHERE f.memory_fts MATCH ? AND m.scope = ?
		ORDER BY rank LIMIT ?`, query, string(scope), limit)
	if err != nil {
		return nil, fmt.Errorf("memory: query %s: %w", scope, err)
	}
	defer rows.Close()

	entries, err := scanEntries(rows)
	if err != nil {
		return nil, err
	}
	if len(tags) == 0 {
		return entries, nil
	}
	filtered := entries[:0]
	for _, e := range entries {
		if hasAllTags(e.Tags, tags) {
			filtered = append(filtered, e)
		}
	}
	return filtered, nil
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	var out []Entry
	for rows.Next() {
		var e Entry
		var scopeStr, tagsJSON string
		var tainted int
		var createdAt, updatedAt string
		if err := rows.Scan(&scopeStr, &e.Key, &e.Value, &tainted, &tagsJSON, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("memory: scan entry: %w", err)
		}
		e.Scope = Scope(scopeStr)
		e.Tainted = tainted != 0
		_ = json.Unmarshal([]byte(tagsJSON), &e.Tags)
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		e.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

func hasAllTags(have, want []string) bool {
	set := make(map[string]bool, len(have))
	for _, t := range have {
		set[t] = true
	}
	for _, t := range want {
		if !set[t] {
			return false
		}
	}
	return true
}

func likePrefix(prefix string) string {
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(prefix)
	return escaped + "%"
}
