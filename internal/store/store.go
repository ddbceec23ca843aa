// Package store persists compile history in a local sqlite database. Every
// compose run is recorded with its rounds so past candidates and their
// problems can be inspected later.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Compilation statuses.
const (
	StatusSucceeded = "succeeded"
	StatusExhausted = "exhausted"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// ErrNotFound reports a compilation id with no record.
var ErrNotFound = errors.New("compilation not found")

// Record is one persisted compilation.
type Record struct {
	ID        string
	CreatedAt time.Time
	Task      string
	Status    string
	RoundsRun int
	Manifest  string // manifest JSON, empty when the run produced none
	Error     string

	// Rounds is populated by Get, not List.
	Rounds []RoundRecord
}

// RoundRecord is one generation or refinement attempt. Records are stored in
// slice order.
type RoundRecord struct {
	Index      int
	Candidate  string
	ErrorLines []string
}

// Store wraps the history database.
type Store struct {
	db *sql.DB
}

// Open creates or opens the history database at path and migrates it.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create history dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS compilations (
		id TEXT PRIMARY KEY,
		created_at TIMESTAMP NOT NULL,
		task TEXT NOT NULL,
		status TEXT NOT NULL,
		rounds_run INTEGER NOT NULL DEFAULT 0,
		manifest TEXT,
		error TEXT
	);

	CREATE TABLE IF NOT EXISTS rounds (
		compilation_id TEXT NOT NULL REFERENCES compilations(id),
		idx INTEGER NOT NULL,
		candidate TEXT NOT NULL,
		error_lines TEXT,
		created_at TIMESTAMP NOT NULL,
		UNIQUE(compilation_id, idx)
	);

	CREATE INDEX IF NOT EXISTS idx_compilations_created ON compilations(created_at);
	CREATE INDEX IF NOT EXISTS idx_rounds_compilation ON rounds(compilation_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Save inserts a compilation and its rounds in one transaction. A missing ID
// or timestamp is filled in.
func (s *Store) Save(rec *Record) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	rec.RoundsRun = len(rec.Rounds)

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO compilations (id, created_at, task, status, rounds_run, manifest, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.CreatedAt, rec.Task, rec.Status, rec.RoundsRun,
		nullable(rec.Manifest), nullable(rec.Error),
	)
	if err != nil {
		return err
	}

	for i, round := range rec.Rounds {
		var linesJSON any
		if len(round.ErrorLines) > 0 {
			data, err := json.Marshal(round.ErrorLines)
			if err != nil {
				return err
			}
			linesJSON = string(data)
		}
		_, err = tx.Exec(
			`INSERT INTO rounds (compilation_id, idx, candidate, error_lines, created_at)
			 VALUES (?, ?, ?, ?, ?)`,
			rec.ID, i, round.Candidate, linesJSON, rec.CreatedAt,
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// List returns the most recent compilations, newest first, without round
// detail. A non-positive limit defaults to 20.
func (s *Store) List(limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.Query(
		`SELECT id, created_at, task, status, rounds_run, manifest, error
		 FROM compilations ORDER BY created_at DESC, id LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		rec, err := scanRecord(rows.Scan)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Get returns one compilation with its rounds.
func (s *Store) Get(id string) (*Record, error) {
	row := s.db.QueryRow(
		`SELECT id, created_at, task, status, rounds_run, manifest, error
		 FROM compilations WHERE id = ?`, id,
	)
	rec, err := scanRecord(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(
		`SELECT idx, candidate, error_lines FROM rounds
		 WHERE compilation_id = ? ORDER BY idx`, id,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var round RoundRecord
		var linesJSON sql.NullString
		if err := rows.Scan(&round.Index, &round.Candidate, &linesJSON); err != nil {
			return nil, err
		}
		if linesJSON.Valid {
			if err := json.Unmarshal([]byte(linesJSON.String), &round.ErrorLines); err != nil {
				return nil, fmt.Errorf("decode error lines: %w", err)
			}
		}
		rec.Rounds = append(rec.Rounds, round)
	}
	return rec, rows.Err()
}

func scanRecord(scan func(dest ...any) error) (*Record, error) {
	var rec Record
	var manifest, errText sql.NullString
	err := scan(&rec.ID, &rec.CreatedAt, &rec.Task, &rec.Status, &rec.RoundsRun, &manifest, &errText)
	if err != nil {
		return nil, err
	}
	if manifest.Valid {
		rec.Manifest = manifest.String
	}
	if errText.Valid {
		rec.Error = errText.String
	}
	return &rec, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
