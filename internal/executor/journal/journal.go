package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Entry is one executed (or suppressed) action attempt outcome.
type Entry struct {
	RequestID string
	Ticket    int64
	Kind      string
	Target    float64
	Reason    string
	Status    string
	Retries   int
	Error     string
	CreatedAt time.Time
}

// Store is the executor's private sqlite journal: an append-only action
// log plus the persistent cooldown stamps, so a restart does not forget
// quiet periods.
type Store struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
}

// Open opens or creates the journal database.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("journal path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := ensureSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, path: path}, nil
}

// Close closes the underlying db.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func ensureSchema(db *sql.DB) error {
	stmt := `
	CREATE TABLE IF NOT EXISTS action_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		request_id TEXT NOT NULL,
		ticket INTEGER NOT NULL,
		kind TEXT NOT NULL,
		target REAL,
		reason TEXT,
		status TEXT NOT NULL,
		retries INTEGER NOT NULL DEFAULT 0,
		error TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_action_log_ticket ON action_log(ticket);
	CREATE TABLE IF NOT EXISTS cooldowns (
		ticket INTEGER PRIMARY KEY,
		until_ms INTEGER NOT NULL
	);
	`
	_, err := db.Exec(stmt)
	return err
}

// Append records one finished action outcome.
func (s *Store) Append(ctx context.Context, e Entry) error {
	s.mu.Lock()
	db := s.db
	s.mu.Unlock()
	if db == nil {
		return fmt.Errorf("journal not initialized")
	}
	created := e.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO action_log(request_id, ticket, kind, target, reason, status, retries, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.RequestID, e.Ticket, e.Kind, nullIfZero(e.Target), nullIfEmpty(e.Reason),
		e.Status, e.Retries, nullIfEmpty(e.Error), created.UnixMilli())
	return err
}

// SetCooldown persists the quiet-period stamp for a ticket.
func (s *Store) SetCooldown(ctx context.Context, ticket int64, until time.Time) error {
	s.mu.Lock()
	db := s.db
	s.mu.Unlock()
	if db == nil {
		return fmt.Errorf("journal not initialized")
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO cooldowns(ticket, until_ms) VALUES (?, ?)
		ON CONFLICT(ticket) DO UPDATE SET until_ms=excluded.until_ms`,
		ticket, until.UnixMilli())
	return err
}

// LoadCooldowns returns the still-active cooldown stamps.
func (s *Store) LoadCooldowns(ctx context.Context) (map[int64]time.Time, error) {
	s.mu.Lock()
	db := s.db
	s.mu.Unlock()
	if db == nil {
		return nil, fmt.Errorf("journal not initialized")
	}
	rows, err := db.QueryContext(ctx, `SELECT ticket, until_ms FROM cooldowns WHERE until_ms > ?`, time.Now().UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[int64]time.Time)
	for rows.Next() {
		var ticket, untilMs int64
		if err := rows.Scan(&ticket, &untilMs); err != nil {
			return nil, err
		}
		out[ticket] = time.UnixMilli(untilMs)
	}
	return out, rows.Err()
}

// Recent returns the latest entries, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	s.mu.Lock()
	db := s.db
	s.mu.Unlock()
	if db == nil {
		return nil, fmt.Errorf("journal not initialized")
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := db.QueryContext(ctx, `
		SELECT request_id, ticket, kind, target, reason, status, retries, error, created_at
		FROM action_log ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var e Entry
		var target sql.NullFloat64
		var reason, errMsg sql.NullString
		var createdMs int64
		if err := rows.Scan(&e.RequestID, &e.Ticket, &e.Kind, &target, &reason, &e.Status, &e.Retries, &errMsg, &createdMs); err != nil {
			return nil, err
		}
		if target.Valid {
			e.Target = target.Float64
		}
		e.Reason = reason.String
		e.Error = errMsg.String
		e.CreatedAt = time.UnixMilli(createdMs)
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullIfZero(val float64) interface{} {
	if val == 0 {
		return nil
	}
	return val
}

func nullIfEmpty(s string) interface{} {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return s
}
