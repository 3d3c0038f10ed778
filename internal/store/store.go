package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// Store is the durable audit log of autonomous actions. Snapshots and
// live state stay in memory; only actions taken land here.
type Store struct {
	logger *zap.Logger
	db     *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS healing_events (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	ts        TIMESTAMP NOT NULL,
	provider  TEXT NOT NULL,
	reason    TEXT NOT NULL,
	attempt   INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS failovers (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	ts               TIMESTAMP NOT NULL,
	primary_provider TEXT NOT NULL,
	backup_provider  TEXT NOT NULL,
	reason           TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS scaling_events (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	ts             TIMESTAMP NOT NULL,
	event_id       TEXT NOT NULL,
	action         TEXT NOT NULL,
	from_instances INTEGER NOT NULL,
	to_instances   INTEGER NOT NULL,
	utilization    REAL NOT NULL,
	predicted      INTEGER NOT NULL,
	success        INTEGER NOT NULL,
	error          TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS optimizations (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	ts        TIMESTAMP NOT NULL,
	opt_id    TEXT NOT NULL,
	provider  TEXT NOT NULL,
	category  TEXT NOT NULL,
	parameter TEXT NOT NULL,
	old_value REAL NOT NULL,
	new_value REAL NOT NULL,
	outcome   TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS predictions (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	ts            TIMESTAMP NOT NULL,
	prediction_id TEXT NOT NULL,
	provider      TEXT NOT NULL,
	type          TEXT NOT NULL,
	severity      TEXT NOT NULL,
	confidence    REAL NOT NULL
);
`

// Open opens (or creates) the audit database at path. Use ":memory:"
// for an ephemeral store.
func Open(path string, logger *zap.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open audit store: %w", err)
	}
	// sqlite handles one writer at a time
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create audit schema: %w", err)
	}

	return &Store{logger: logger, db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// HealingRecord is one persisted healing attempt.
type HealingRecord struct {
	Timestamp time.Time `json:"timestamp"`
	Provider  string    `json:"provider"`
	Reason    string    `json:"reason"`
	Attempt   int       `json:"attempt"`
}

func (s *Store) SaveHealing(ts time.Time, provider, reason string, attempt int) error {
	_, err := s.db.Exec(
		`INSERT INTO healing_events (ts, provider, reason, attempt) VALUES (?, ?, ?, ?)`,
		ts, provider, reason, attempt,
	)
	return err
}

// RecentHealing returns up to limit healing records, newest first.
func (s *Store) RecentHealing(limit int) ([]HealingRecord, error) {
	rows, err := s.db.Query(
		`SELECT ts, provider, reason, attempt FROM healing_events ORDER BY id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []HealingRecord
	for rows.Next() {
		var r HealingRecord
		if err := rows.Scan(&r.Timestamp, &r.Provider, &r.Reason, &r.Attempt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// FailoverRecord is one persisted failover.
type FailoverRecord struct {
	Timestamp time.Time `json:"timestamp"`
	Primary   string    `json:"primary"`
	Backup    string    `json:"backup"`
	Reason    string    `json:"reason"`
}

func (s *Store) SaveFailover(ts time.Time, primary, backup, reason string) error {
	_, err := s.db.Exec(
		`INSERT INTO failovers (ts, primary_provider, backup_provider, reason) VALUES (?, ?, ?, ?)`,
		ts, primary, backup, reason,
	)
	return err
}

func (s *Store) RecentFailovers(limit int) ([]FailoverRecord, error) {
	rows, err := s.db.Query(
		`SELECT ts, primary_provider, backup_provider, reason FROM failovers ORDER BY id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FailoverRecord
	for rows.Next() {
		var r FailoverRecord
		if err := rows.Scan(&r.Timestamp, &r.Primary, &r.Backup, &r.Reason); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ScalingRecord is one persisted scaling action.
type ScalingRecord struct {
	Timestamp   time.Time `json:"timestamp"`
	EventID     string    `json:"event_id"`
	Action      string    `json:"action"`
	From        int       `json:"from"`
	To          int       `json:"to"`
	Utilization float64   `json:"utilization"`
	Predicted   bool      `json:"predicted"`
	Success     bool      `json:"success"`
	Error       string    `json:"error,omitempty"`
}

func (s *Store) SaveScaling(r ScalingRecord) error {
	_, err := s.db.Exec(
		`INSERT INTO scaling_events (ts, event_id, action, from_instances, to_instances, utilization, predicted, success, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.Timestamp, r.EventID, r.Action, r.From, r.To, r.Utilization, r.Predicted, r.Success, r.Error,
	)
	return err
}

func (s *Store) RecentScaling(limit int) ([]ScalingRecord, error) {
	rows, err := s.db.Query(
		`SELECT ts, event_id, action, from_instances, to_instances, utilization, predicted, success, error
		 FROM scaling_events ORDER BY id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ScalingRecord
	for rows.Next() {
		var r ScalingRecord
		if err := rows.Scan(&r.Timestamp, &r.EventID, &r.Action, &r.From, &r.To,
			&r.Utilization, &r.Predicted, &r.Success, &r.Error); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// OptimizationRecord is one persisted optimization outcome.
type OptimizationRecord struct {
	Timestamp time.Time `json:"timestamp"`
	OptID     string    `json:"opt_id"`
	Provider  string    `json:"provider"`
	Category  string    `json:"category"`
	Parameter string    `json:"parameter"`
	OldValue  float64   `json:"old_value"`
	NewValue  float64   `json:"new_value"`
	Outcome   string    `json:"outcome"`
}

func (s *Store) SaveOptimization(r OptimizationRecord) error {
	_, err := s.db.Exec(
		`INSERT INTO optimizations (ts, opt_id, provider, category, parameter, old_value, new_value, outcome)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.Timestamp, r.OptID, r.Provider, r.Category, r.Parameter, r.OldValue, r.NewValue, r.Outcome,
	)
	return err
}

func (s *Store) RecentOptimizations(limit int) ([]OptimizationRecord, error) {
	rows, err := s.db.Query(
		`SELECT ts, opt_id, provider, category, parameter, old_value, new_value, outcome
		 FROM optimizations ORDER BY id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OptimizationRecord
	for rows.Next() {
		var r OptimizationRecord
		if err := rows.Scan(&r.Timestamp, &r.OptID, &r.Provider, &r.Category,
			&r.Parameter, &r.OldValue, &r.NewValue, &r.Outcome); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// PredictionRecord is one persisted prediction.
type PredictionRecord struct {
	Timestamp    time.Time `json:"timestamp"`
	PredictionID string    `json:"prediction_id"`
	Provider     string    `json:"provider"`
	Type         string    `json:"type"`
	Severity     string    `json:"severity"`
	Confidence   float64   `json:"confidence"`
}

func (s *Store) SavePrediction(r PredictionRecord) error {
	_, err := s.db.Exec(
		`INSERT INTO predictions (ts, prediction_id, provider, type, severity, confidence)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		r.Timestamp, r.PredictionID, r.Provider, r.Type, r.Severity, r.Confidence,
	)
	return err
}

func (s *Store) RecentPredictions(limit int) ([]PredictionRecord, error) {
	rows, err := s.db.Query(
		`SELECT ts, prediction_id, provider, type, severity, confidence
		 FROM predictions ORDER BY id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PredictionRecord
	for rows.Next() {
		var r PredictionRecord
		if err := rows.Scan(&r.Timestamp, &r.PredictionID, &r.Provider,
			&r.Type, &r.Severity, &r.Confidence); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
