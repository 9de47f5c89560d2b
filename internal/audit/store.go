// Package audit is the run journal: a SQLite record of every lifecycle
// event a simulation run produced, keyed by run ID.
package audit

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"grimm.is/leasenet/internal/clock"
)

// Event represents a single journal entry.
type Event struct {
	ID        int64          `json:"id"`
	RunID     string         `json:"run_id"`
	Timestamp time.Time      `json:"timestamp"`
	Action    string         `json:"action"`
	Source    string         `json:"source"`
	Subject   string         `json:"subject"` // identity or hostname
	Address   string         `json:"address,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// Run describes one journaled simulation run.
type Run struct {
	ID      string    `json:"id"`
	Started time.Time `json:"started"`
	Seed    uint64    `json:"seed"`
	Label   string    `json:"label,omitempty"`
}

// Store provides persistent storage for journal events.
type Store struct {
	mu sync.RWMutex
	db *sql.DB
}

// NewStore opens the journal at dbPath, creating it if needed. ":memory:"
// opens a private in-memory journal.
func NewStore(dbPath string) (*Store, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0750); err != nil {
			return nil, fmt.Errorf("create journal dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open journal db: %w", err)
	}
	// Each connection to :memory: is its own database.
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			started DATETIME NOT NULL,
			seed INTEGER NOT NULL,
			label TEXT
		);
		CREATE TABLE IF NOT EXISTS journal_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL REFERENCES runs(id),
			sim_ns INTEGER NOT NULL,
			action TEXT NOT NULL,
			source TEXT NOT NULL,
			subject TEXT NOT NULL,
			address TEXT,
			details TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_journal_run ON journal_events(run_id);
		CREATE INDEX IF NOT EXISTS idx_journal_action ON journal_events(action);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create journal tables: %w", err)
	}

	return &Store{db: db}, nil
}

// BeginRun registers a new run and returns its ID.
func (s *Store) BeginRun(seed uint64, label string, started time.Time) (Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run := Run{ID: uuid.NewString(), Started: started.UTC(), Seed: seed, Label: label}
	_, err := s.db.Exec(`INSERT INTO runs (id, started, seed, label) VALUES (?, ?, ?, ?)`,
		run.ID, run.Started.Format(time.RFC3339Nano), int64(run.Seed), run.Label)
	if err != nil {
		return Run{}, fmt.Errorf("insert run: %w", err)
	}
	return run, nil
}

// Runs lists journaled runs, oldest first.
func (s *Store) Runs() ([]Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT id, started, seed, label FROM runs ORDER BY started, id`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			r       Run
			started string
			seed    int64
			label   sql.NullString
		)
		if err := rows.Scan(&r.ID, &started, &seed, &label); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.Started, _ = time.Parse(time.RFC3339Nano, started)
		r.Seed = uint64(seed)
		r.Label = label.String
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Write persists a journal event.
func (s *Store) Write(evt Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var detailsJSON []byte
	if evt.Details != nil {
		var err error
		detailsJSON, err = json.Marshal(evt.Details)
		if err != nil {
			detailsJSON = []byte("{}")
		}
	}

	_, err := s.db.Exec(`
		INSERT INTO journal_events (run_id, sim_ns, action, source, subject, address, details)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, evt.RunID, int64(clock.Offset(evt.Timestamp)), evt.Action, evt.Source, evt.Subject, evt.Address, string(detailsJSON))
	if err != nil {
		return fmt.Errorf("insert journal event: %w", err)
	}
	return nil
}

// Query returns the events of a run in the order they were written. An
// empty action matches every action; limit <= 0 means no limit.
func (s *Store) Query(runID, action string, limit int) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT id, run_id, sim_ns, action, source, subject, address, details
		FROM journal_events WHERE run_id = ?`
	args := []any{runID}

	if action != "" {
		query += " AND action = ?"
		args = append(args, action)
	}
	query += " ORDER BY id"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query journal events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			evt         Event
			simNS       int64
			address     sql.NullString
			detailsJSON sql.NullString
		)
		err := rows.Scan(&evt.ID, &evt.RunID, &simNS, &evt.Action, &evt.Source,
			&evt.Subject, &address, &detailsJSON)
		if err != nil {
			return nil, fmt.Errorf("scan journal event: %w", err)
		}
		evt.Timestamp = clock.At(time.Duration(simNS))
		evt.Address = address.String
		if detailsJSON.Valid && detailsJSON.String != "" {
			json.Unmarshal([]byte(detailsJSON.String), &evt.Details)
		}
		events = append(events, evt)
	}
	return events, rows.Err()
}

// Count returns the number of events journaled for a run, or across all
// runs when runID is empty.
func (s *Store) Count(runID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	var err error
	if runID == "" {
		err = s.db.QueryRow("SELECT COUNT(*) FROM journal_events").Scan(&count)
	} else {
		err = s.db.QueryRow("SELECT COUNT(*) FROM journal_events WHERE run_id = ?", runID).Scan(&count)
	}
	return count, err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
