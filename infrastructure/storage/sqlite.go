// Package storage implements the session persistence boundary on
// SQLite. Sessions, their allocation maps, and their conversation
// history live in one database file so a single transaction can keep
// the map and history consistent per turn.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/ahrav/go-pinwire/internal/domain"
	"github.com/ahrav/go-pinwire/internal/ports"
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

const timeLayout = time.RFC3339Nano

// Config holds session store configuration.
type Config struct {
	// Path is the database file location. The parent directory is
	// created if needed.
	Path string

	// MaxHistory bounds the number of messages retained per session.
	// Older messages are dropped oldest-first once the bound is
	// exceeded. Zero means unbounded.
	MaxHistory int
}

// DefaultConfig returns the default store configuration.
func DefaultConfig() Config {
	home, _ := os.UserHomeDir()
	return Config{
		Path:       filepath.Join(home, ".pinwire", "sessions.db"),
		MaxHistory: 40,
	}
}

// SessionStore is the SQLite-backed implementation of
// ports.SessionStore.
type SessionStore struct {
	db  *sql.DB
	cfg Config
}

var _ ports.SessionStore = (*SessionStore)(nil)

// NewSessionStore opens the database, applies performance pragmas, and
// runs migrations.
func NewSessionStore(cfg Config) (*SessionStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("storage: database path cannot be empty")
	}

	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("storage: create data dir: %w", err)
		}
	}

	db, err := openDB("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("storage: open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return nil, fmt.Errorf("storage: pragma %q: %w", p, err)
		}
	}

	s := &SessionStore{db: db, cfg: cfg}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("storage: migration: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *SessionStore) Close() error { return s.db.Close() }

func (s *SessionStore) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS sessions (
			id            TEXT PRIMARY KEY,
			created_at    TEXT NOT NULL,
			last_activity TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS allocations (
			session_id TEXT NOT NULL,
			pin        TEXT NOT NULL,
			function   TEXT NOT NULL,
			device     TEXT NOT NULL DEFAULT '',
			notes      TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (session_id, pin),
			FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
		);

		CREATE TABLE IF NOT EXISTS history (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			role       TEXT NOT NULL,
			content    TEXT NOT NULL,
			created_at TEXT NOT NULL,
			FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
		);

		CREATE INDEX IF NOT EXISTS idx_history_session  ON history(session_id, id);
		CREATE INDEX IF NOT EXISTS idx_sessions_activity ON sessions(last_activity);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Create starts a new empty session and returns it.
func (s *SessionStore) Create(ctx context.Context) (*domain.Session, error) {
	now := time.Now().UTC()
	id := uuid.NewString()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, created_at, last_activity) VALUES (?, ?, ?)`,
		id, now.Format(timeLayout), now.Format(timeLayout),
	)
	if err != nil {
		return nil, fmt.Errorf("storage: create session: %w", err)
	}

	return &domain.Session{
		ID:           id,
		CreatedAt:    now,
		LastActivity: now,
		Allocations:  domain.AllocationMap{},
	}, nil
}

// Get returns the session with its allocation map and history, or
// domain.ErrSessionNotFound.
func (s *SessionStore) Get(ctx context.Context, id string) (*domain.Session, error) {
	var createdRaw, activityRaw string
	err := s.db.QueryRowContext(ctx,
		`SELECT created_at, last_activity FROM sessions WHERE id = ?`, id,
	).Scan(&createdRaw, &activityRaw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("storage: session %q: %w", id, domain.ErrSessionNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get session: %w", err)
	}

	sess := &domain.Session{ID: id, Allocations: domain.AllocationMap{}}
	if sess.CreatedAt, err = time.Parse(timeLayout, createdRaw); err != nil {
		return nil, fmt.Errorf("storage: parse created_at: %w", err)
	}
	if sess.LastActivity, err = time.Parse(timeLayout, activityRaw); err != nil {
		return nil, fmt.Errorf("storage: parse last_activity: %w", err)
	}

	if err := s.loadAllocations(ctx, sess); err != nil {
		return nil, err
	}
	if err := s.loadHistory(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *SessionStore) loadAllocations(ctx context.Context, sess *domain.Session) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT pin, function, device, notes FROM allocations WHERE session_id = ?`, sess.ID,
	)
	if err != nil {
		return fmt.Errorf("storage: load allocations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var pin string
		var alloc domain.Allocation
		if err := rows.Scan(&pin, &alloc.Function, &alloc.Device, &alloc.Notes); err != nil {
			return fmt.Errorf("storage: scan allocation: %w", err)
		}
		sess.Allocations[domain.PinID(pin)] = alloc
	}
	return rows.Err()
}

func (s *SessionStore) loadHistory(ctx context.Context, sess *domain.Session) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content, created_at FROM history WHERE session_id = ? ORDER BY id`, sess.ID,
	)
	if err != nil {
		return fmt.Errorf("storage: load history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var msg domain.Message
		var createdRaw string
		if err := rows.Scan(&msg.Role, &msg.Content, &createdRaw); err != nil {
			return fmt.Errorf("storage: scan message: %w", err)
		}
		if msg.CreatedAt, err = time.Parse(timeLayout, createdRaw); err != nil {
			return fmt.Errorf("storage: parse message time: %w", err)
		}
		sess.History = append(sess.History, msg)
	}
	return rows.Err()
}

// Put replaces the session's allocation map and appends the history
// delta in one transaction. On failure the previously persisted state
// is left untouched.
func (s *SessionStore) Put(
	ctx context.Context,
	id string,
	allocations domain.AllocationMap,
	historyDelta []domain.Message,
) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx,
		`UPDATE sessions SET last_activity = ? WHERE id = ?`, now.Format(timeLayout), id,
	)
	if err != nil {
		return fmt.Errorf("storage: touch session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("storage: session %q: %w", id, domain.ErrSessionNotFound)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM allocations WHERE session_id = ?`, id); err != nil {
		return fmt.Errorf("storage: clear allocations: %w", err)
	}
	for _, pin := range allocations.SortedPins() {
		alloc := allocations[pin]
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO allocations (session_id, pin, function, device, notes) VALUES (?, ?, ?, ?, ?)`,
			id, string(pin), alloc.Function, alloc.Device, alloc.Notes,
		); err != nil {
			return fmt.Errorf("storage: insert allocation %s: %w", pin, err)
		}
	}

	for _, msg := range historyDelta {
		createdAt := msg.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO history (session_id, role, content, created_at) VALUES (?, ?, ?, ?)`,
			id, msg.Role, msg.Content, createdAt.UTC().Format(timeLayout),
		); err != nil {
			return fmt.Errorf("storage: append history: %w", err)
		}
	}

	if s.cfg.MaxHistory > 0 {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM history
			 WHERE session_id = ?
			   AND id NOT IN (
			       SELECT id FROM history WHERE session_id = ? ORDER BY id DESC LIMIT ?
			   )`,
			id, id, s.cfg.MaxHistory,
		); err != nil {
			return fmt.Errorf("storage: trim history: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage: commit: %w", err)
	}
	return nil
}

// DeletePin removes a single pin's allocation from the session.
// Removing an absent pin is not an error.
func (s *SessionStore) DeletePin(ctx context.Context, id string, pin domain.PinID) error {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM sessions WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("storage: session %q: %w", id, domain.ErrSessionNotFound)
	}
	if err != nil {
		return fmt.Errorf("storage: check session: %w", err)
	}

	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM allocations WHERE session_id = ? AND pin = ?`, id, string(pin),
	); err != nil {
		return fmt.Errorf("storage: delete pin: %w", err)
	}

	now := time.Now().UTC().Format(timeLayout)
	if _, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET last_activity = ? WHERE id = ?`, now, id,
	); err != nil {
		return fmt.Errorf("storage: touch session: %w", err)
	}
	return nil
}

// Delete removes the session, its allocations, and its history.
func (s *SessionStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("storage: delete session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("storage: session %q: %w", id, domain.ErrSessionNotFound)
	}
	return nil
}

// Sweep deletes sessions idle longer than maxIdle and reports how many
// were removed.
func (s *SessionStore) Sweep(ctx context.Context, maxIdle time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-maxIdle).Format(timeLayout)
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE last_activity < ?`, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("storage: sweep: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("storage: sweep count: %w", err)
	}
	return int(n), nil
}
