// Package journal persists the coordinator's event stream to SQLite so
// a swarm's history survives restarts and can be replayed for audit.
package journal

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/hivemesh/swarmcore/internal/shared"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	kind       TEXT NOT NULL,
	timestamp  INTEGER NOT NULL,
	entity_id  TEXT NOT NULL,
	state      TEXT NOT NULL,
	details    TEXT
);
CREATE INDEX IF NOT EXISTS idx_events_kind ON events(kind);
CREATE INDEX IF NOT EXISTS idx_events_entity ON events(entity_id);
`

// Store is an append-only SQLite event journal. Append order is the
// replay order.
type Store struct {
	mu sync.Mutex
	db *sql.DB
}

// Open creates or opens a journal at the given path. ":memory:" keeps
// the journal in process memory.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("journal path is empty")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}
	// The modernc driver serializes access per connection; a single
	// connection avoids table-lock errors under concurrent appends.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init journal schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Append writes one event to the journal.
func (s *Store) Append(e shared.Event) error {
	var details []byte
	if len(e.Details) > 0 {
		var err error
		details, err = json.Marshal(e.Details)
		if err != nil {
			return fmt.Errorf("marshal event details: %w", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(
		`INSERT INTO events (kind, timestamp, entity_id, state, details) VALUES (?, ?, ?, ?, ?)`,
		string(e.Kind), e.Timestamp, e.EntityID, e.State, string(details),
	)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// Replay returns journaled events in append order. A positive limit
// returns only the most recent events, still oldest first.
func (s *Store) Replay(limit int) ([]shared.Event, error) {
	query := `SELECT kind, timestamp, entity_id, state, details FROM events ORDER BY seq`
	args := []interface{}{}
	if limit > 0 {
		query = `SELECT kind, timestamp, entity_id, state, details FROM (
			SELECT seq, kind, timestamp, entity_id, state, details FROM events ORDER BY seq DESC LIMIT ?
		) ORDER BY seq`
		args = append(args, limit)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("replay events: %w", err)
	}
	defer rows.Close()

	var out []shared.Event
	for rows.Next() {
		var e shared.Event
		var kind, details string
		if err := rows.Scan(&kind, &e.Timestamp, &e.EntityID, &e.State, &details); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Kind = shared.EventKind(kind)
		if details != "" {
			if err := json.Unmarshal([]byte(details), &e.Details); err != nil {
				return nil, fmt.Errorf("unmarshal event details: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// CountByKind returns the number of journaled events per kind.
func (s *Store) CountByKind() (map[shared.EventKind]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`SELECT kind, COUNT(*) FROM events GROUP BY kind`)
	if err != nil {
		return nil, fmt.Errorf("count events: %w", err)
	}
	defer rows.Close()

	out := make(map[shared.EventKind]int)
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		out[shared.EventKind(kind)] = n
	}
	return out, rows.Err()
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
