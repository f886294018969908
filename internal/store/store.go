// Package store provides SQLite-backed persistence for presencesim.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fentz26/presencesim/internal/models"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ActionHistoryLimit is how many executed actions are kept.
const ActionHistoryLimit = 500

// Store provides access to the presencesim SQLite database.
type Store struct {
	db *sql.DB
}

// New creates a new Store and runs migrations.
func New(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate runs idempotent schema migrations.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS run_state (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		running INTEGER NOT NULL DEFAULT 0,
		started_at DATETIME,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS action_history (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		time DATETIME NOT NULL,
		entity TEXT NOT NULL,
		action TEXT NOT NULL,
		source TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS pdr (
		id TEXT PRIMARY KEY,
		action TEXT NOT NULL,
		inputs_hash TEXT NOT NULL,
		outcome TEXT NOT NULL,
		subject TEXT,
		details TEXT,
		timestamp DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_action_history_entity ON action_history(entity);
	CREATE INDEX IF NOT EXISTS idx_pdr_action ON pdr(action);
	`

	_, err := s.db.Exec(schema)
	return err
}

// --- Settings ---

// LoadSettings returns the saved configuration overrides.
func (s *Store) LoadSettings() (map[string]interface{}, error) {
	rows, err := s.db.Query(`SELECT key, value FROM settings`)
	if err != nil {
		return nil, fmt.Errorf("query settings: %w", err)
	}
	defer rows.Close()

	out := make(map[string]interface{})
	for rows.Next() {
		var key, raw string
		if err := rows.Scan(&key, &raw); err != nil {
			return nil, fmt.Errorf("scan setting: %w", err)
		}
		var v interface{}
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			// A corrupt row falls back to the default for that key.
			continue
		}
		out[key] = v
	}
	return out, rows.Err()
}

// SaveSettings upserts every key of values in one transaction.
func (s *Store) SaveSettings(values map[string]interface{}) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for key, v := range values {
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode setting %s: %w", key, err)
		}
		_, err = tx.Exec(
			`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
			key, string(raw), now,
		)
		if err != nil {
			return fmt.Errorf("upsert setting %s: %w", key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// --- Run State ---

// GetRunState returns the persisted run state; a fresh database is stopped.
func (s *Store) GetRunState() (models.RunState, error) {
	var state models.RunState
	var startedAt sql.NullTime

	err := s.db.QueryRow(`SELECT running, started_at FROM run_state WHERE id = 1`).Scan(&state.Running, &startedAt)
	if err == sql.ErrNoRows {
		return models.RunState{}, nil
	}
	if err != nil {
		return models.RunState{}, fmt.Errorf("query run state: %w", err)
	}
	if startedAt.Valid {
		t := startedAt.Time
		state.StartedAt = &t
	}
	return state, nil
}

// SaveRunState persists the run state.
func (s *Store) SaveRunState(state models.RunState) error {
	var startedAt interface{}
	if state.StartedAt != nil {
		startedAt = state.StartedAt.UTC()
	}
	_, err := s.db.Exec(
		`INSERT INTO run_state (id, running, started_at, updated_at) VALUES (1, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET running = excluded.running, started_at = excluded.started_at, updated_at = excluded.updated_at`,
		state.Running, startedAt, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("save run state: %w", err)
	}
	return nil
}

// --- Action History ---

// RecordAction appends an executed action and evicts the oldest rows beyond
// ActionHistoryLimit.
func (s *Store) RecordAction(at time.Time, entity string, action models.ActionKind, source models.ActionSource) (*models.ActionRecord, error) {
	rec := &models.ActionRecord{
		ID:     uuid.New().String(),
		Time:   at.UTC(),
		Entity: entity,
		Action: action,
		Source: source,
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO action_history (id, time, entity, action, source) VALUES (?, ?, ?, ?, ?)`,
		rec.ID, rec.Time, rec.Entity, rec.Action, rec.Source,
	)
	if err != nil {
		return nil, fmt.Errorf("insert action: %w", err)
	}

	_, err = tx.Exec(
		`DELETE FROM action_history WHERE seq NOT IN (SELECT seq FROM action_history ORDER BY seq DESC LIMIT ?)`,
		ActionHistoryLimit,
	)
	if err != nil {
		return nil, fmt.Errorf("trim action history: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return rec, nil
}

// ListActions returns executed actions newest first. limit <= 0 returns all
// retained rows.
func (s *Store) ListActions(limit int) ([]models.ActionRecord, error) {
	if limit <= 0 || limit > ActionHistoryLimit {
		limit = ActionHistoryLimit
	}
	rows, err := s.db.Query(
		`SELECT id, time, entity, action, source FROM action_history ORDER BY seq DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query actions: %w", err)
	}
	defer rows.Close()

	var records []models.ActionRecord
	for rows.Next() {
		var rec models.ActionRecord
		if err := rows.Scan(&rec.ID, &rec.Time, &rec.Entity, &rec.Action, &rec.Source); err != nil {
			return nil, fmt.Errorf("scan action: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// CountActions returns the number of retained history rows.
func (s *Store) CountActions() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM action_history`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count actions: %w", err)
	}
	return n, nil
}

// --- PDR Operations ---

// WritePDR writes a Process Decision Record.
func (s *Store) WritePDR(action, inputsHash, outcome, subject, details string) (*models.PDREntry, error) {
	pdr := &models.PDREntry{
		ID:         uuid.New().String(),
		Action:     action,
		InputsHash: inputsHash,
		Outcome:    outcome,
		Subject:    subject,
		Details:    details,
		Timestamp:  time.Now().UTC(),
	}

	_, err := s.db.Exec(
		`INSERT INTO pdr (id, action, inputs_hash, outcome, subject, details, timestamp) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		pdr.ID, pdr.Action, pdr.InputsHash, pdr.Outcome, pdr.Subject, pdr.Details, pdr.Timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert pdr: %w", err)
	}
	return pdr, nil
}

// ListPDR returns audit records newest first, optionally filtered by action.
func (s *Store) ListPDR(action string, limit int) ([]models.PDREntry, error) {
	query := `SELECT id, action, inputs_hash, outcome, subject, details, timestamp FROM pdr`
	var args []interface{}
	if action != "" {
		query += ` WHERE action = ?`
		args = append(args, action)
	}
	query += ` ORDER BY timestamp DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query pdr: %w", err)
	}
	defer rows.Close()

	var entries []models.PDREntry
	for rows.Next() {
		var e models.PDREntry
		var subject, details sql.NullString
		if err := rows.Scan(&e.ID, &e.Action, &e.InputsHash, &e.Outcome, &subject, &details, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan pdr: %w", err)
		}
		e.Subject = subject.String
		e.Details = details.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
