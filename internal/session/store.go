// Package session persists conversation turns in SQLite.
package session

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/hunterwarburton/sage/internal/core"
)

// DefaultTable is the session table name when none is configured.
const DefaultTable = "agent_sessions"

// Table names are interpolated into SQL, so they are restricted to plain
// identifiers.
var tableNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Store is a durable SQLite-backed session store. Appends are flushed
// before returning and serialized per session; different sessions append
// independently.
type Store struct {
	db    *sql.DB
	table string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithTable overrides the session table name.
func WithTable(name string) StoreOption {
	return func(s *Store) {
		if name != "" {
			s.table = name
		}
	}
}

// NewStore opens (or creates) the session database at dbPath and ensures
// the table exists.
func NewStore(dbPath string, opts ...StoreOption) (*Store, error) {
	s := &Store{
		table: DefaultTable,
		locks: make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(s)
	}
	if !tableNameRe.MatchString(s.table) {
		return nil, fmt.Errorf("invalid session table name %q", s.table)
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}

	// WAL keeps readers off the writer's back; synchronous=FULL flushes
	// every commit so a crash cannot lose an acknowledged append.
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open session database: %w", err)
	}

	schema := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_%s_session ON %s (session_id, id);`, s.table, s.table, s.table)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ensure session table: %w", err)
	}

	s.db = db
	return s, nil
}

// Append writes one turn. The row is committed before Append returns.
func (s *Store) Append(ctx context.Context, turn core.Turn) error {
	if turn.SessionID == "" {
		return fmt.Errorf("turn has no session id")
	}

	lock := s.sessionLock(turn.SessionID)
	lock.Lock()
	defer lock.Unlock()

	createdAt := turn.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	query := fmt.Sprintf("INSERT INTO %s (session_id, role, content, created_at) VALUES (?, ?, ?, ?)", s.table)
	if _, err := s.db.ExecContext(ctx, query, turn.SessionID, turn.Role, turn.Content, createdAt.UnixNano()); err != nil {
		return fmt.Errorf("failed to append turn: %w", err)
	}
	return nil
}

// Recent returns the limit most recent turns for the session, ordered
// oldest-first. An unknown session yields an empty slice.
func (s *Store) Recent(ctx context.Context, sessionID string, limit int) ([]core.Turn, error) {
	if limit <= 0 {
		return []core.Turn{}, nil
	}

	query := fmt.Sprintf("SELECT role, content, created_at FROM %s WHERE session_id = ? ORDER BY id DESC LIMIT ?", s.table)
	rows, err := s.db.QueryContext(ctx, query, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent turns: %w", err)
	}
	defer rows.Close()

	turns := make([]core.Turn, 0, limit)
	for rows.Next() {
		var turn core.Turn
		var createdAt int64
		if err := rows.Scan(&turn.Role, &turn.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}
		turn.SessionID = sessionID
		turn.CreatedAt = time.Unix(0, createdAt)
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read turns: %w", err)
	}

	// Query returned newest-first; callers want oldest-first.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// sessionLock returns the mutex serializing appends for one session.
func (s *Store) sessionLock(sessionID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[sessionID] = lock
	}
	return lock
}

var _ core.SessionStore = (*Store)(nil)
