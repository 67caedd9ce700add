// Package store persists mission runs and their transitions in SQLite.
package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/coop-transport/controller/pkg/fsm"
	"github.com/coop-transport/controller/pkg/geometry"
	customlog "github.com/coop-transport/controller/pkg/log"
	"github.com/coop-transport/controller/pkg/mission"
)

// DefaultListLimit bounds ListRuns when no limit is given.
const DefaultListLimit = 50

// ErrRunNotFound is returned for an unknown run id.
var ErrRunNotFound = errors.New("run not found")

//go:embed migrations/*.sql
var migrationFS embed.FS

// Store is a SQLite-backed mission history.
type Store struct{ db *sql.DB }

// RunRecord is one stored mission run.
type RunRecord struct {
	RunID      string        `json:"run_id"`
	RobotIndex int           `json:"robot_index"`
	Outcome    fsm.Outcome   `json:"outcome"`
	Error      string        `json:"error,omitempty"`
	Path       geometry.Path `json:"path"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
}

// NewStore opens the database at path and applies the migrations.
func NewStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One writer; the simulator records from several missions at once.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema, err := migrationFS.ReadFile("migrations/0001_init.sql")
	if err != nil {
		return err
	}
	if _, err := s.db.Exec(string(schema)); err != nil {
		return fmt.Errorf("apply migration: %w", err)
	}
	return nil
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	if s.db == nil {
		return errors.New("db not initialized")
	}
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordTransition appends t to the history of its run.
func (s *Store) RecordTransition(ctx context.Context, t fsm.Transition) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO transitions (run_id, machine, from_state, outcome, to_state, at, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.RunID, t.Machine, t.From, string(t.Outcome), t.To, t.At.UnixNano(), t.Err)
	if err != nil {
		return fmt.Errorf("record transition: %w", err)
	}
	return nil
}

// SaveRun inserts or replaces the summary of a run.
func (s *Store) SaveRun(ctx context.Context, r mission.MissionResult) error {
	path := r.Path
	if path == nil {
		path = geometry.Path{}
	}
	pathJSON, err := json.Marshal(path)
	if err != nil {
		return fmt.Errorf("encode path: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO runs (run_id, robot_index, outcome, error, path_json, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.RobotIndex, string(r.Outcome), r.Error, string(pathJSON),
		r.StartedAt.UnixNano(), r.FinishedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("save run: %w", err)
	}
	return nil
}

// ListRuns returns up to limit runs, most recent first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, robot_index, outcome, error, path_json, started_at, finished_at
		 FROM runs ORDER BY started_at DESC, run_id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := []RunRecord{}
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// GetRun returns one run.
func (s *Store) GetRun(ctx context.Context, runID string) (RunRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT run_id, robot_index, outcome, error, path_json, started_at, finished_at
		 FROM runs WHERE run_id = ?`, runID)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return RunRecord{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return r, err
}

// Transitions returns the transitions of a run in recording order.
func (s *Store) Transitions(ctx context.Context, runID string) ([]fsm.Transition, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, machine, from_state, outcome, to_state, at, error
		 FROM transitions WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("list transitions: %w", err)
	}
	defer rows.Close()

	out := []fsm.Transition{}
	for rows.Next() {
		var (
			t       fsm.Transition
			outcome string
			at      int64
		)
		if err := rows.Scan(&t.RunID, &t.Machine, &t.From, &outcome, &t.To, &at, &t.Err); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		t.Outcome = fsm.Outcome(outcome)
		t.At = time.Unix(0, at).UTC()
		out = append(out, t)
	}
	return out, rows.Err()
}

// Observer returns an fsm.Observer recording every transition. Write errors
// are logged, never returned to the mission.
func (s *Store) Observer(logger customlog.Logger) fsm.Observer {
	return func(t fsm.Transition) {
		if err := s.RecordTransition(context.Background(), t); err != nil {
			logger.Warnf("Failed to record transition: %v", err)
		}
	}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (RunRecord, error) {
	var (
		r                 RunRecord
		outcome, pathJSON string
		started, finished int64
	)
	if err := row.Scan(&r.RunID, &r.RobotIndex, &outcome, &r.Error, &pathJSON, &started, &finished); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return RunRecord{}, err
		}
		return RunRecord{}, fmt.Errorf("scan run: %w", err)
	}
	r.Outcome = fsm.Outcome(outcome)
	r.StartedAt = time.Unix(0, started).UTC()
	r.FinishedAt = time.Unix(0, finished).UTC()
	if err := json.Unmarshal([]byte(pathJSON), &r.Path); err != nil {
		return RunRecord{}, fmt.Errorf("decode path of run %s: %w", r.RunID, err)
	}
	return r, nil
}
