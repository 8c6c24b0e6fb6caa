package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/3cpo-dev/specrun/pkg/api"
)

// ErrNoRuns is returned by LatestRun on an empty journal.
var ErrNoRuns = errors.New("no runs recorded")

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store is the SQLite-backed dispatch journal.
type Store struct{ db *sql.DB }

//go:embed migrations/*.sql
var migrationFS embed.FS

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// Runner goroutines write concurrently; one connection serialises them.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma wal: %w", err)
	}
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

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Ping(ctx context.Context) error {
	if s.db == nil {
		return errors.New("db not initialized")
	}
	return s.db.PingContext(ctx)
}

// RecordDispatch journals a claimed task.
func (s *Store) RecordDispatch(ctx context.Context, d api.Dispatch) error {
	specs, err := json.Marshal(d.Specs)
	if err != nil {
		return fmt.Errorf("marshal specs: %w", err)
	}
	caps, err := json.Marshal(d.Capabilities)
	if err != nil {
		return fmt.Errorf("marshal capabilities: %w", err)
	}
	if d.Status == "" {
		d.Status = api.DispatchRunning
	}
	if d.DispatchedAt.IsZero() {
		d.DispatchedAt = time.Now()
	}
	log.Trace().Str("run_id", d.RunID).Str("task_id", d.TaskID).Msg("journal dispatch")
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO dispatches (run_id, task_id, lane, replica, kind, specs, capabilities, status, error, dispatched_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.RunID, d.TaskID, d.Lane, d.Replica, d.Kind, string(specs), string(caps),
		string(d.Status), d.Error, d.DispatchedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("insert dispatch %s/%s: %w", d.RunID, d.TaskID, err)
	}
	return nil
}

// MarkReleased records the outcome of a task.
func (s *Store) MarkReleased(ctx context.Context, runID, taskID string, status api.DispatchStatus, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE dispatches SET status = ?, error = ?, released_at = ? WHERE run_id = ? AND task_id = ?`,
		string(status), errMsg, time.Now().UTC().Format(timeLayout), runID, taskID,
	)
	if err != nil {
		return fmt.Errorf("update dispatch %s/%s: %w", runID, taskID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("dispatch %s/%s not found", runID, taskID)
	}
	return nil
}

// ListDispatches returns the tasks of a run in dispatch order.
func (s *Store) ListDispatches(ctx context.Context, runID string) ([]api.Dispatch, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, task_id, lane, replica, kind, specs, capabilities, status, error, dispatched_at, released_at
		 FROM dispatches WHERE run_id = ? ORDER BY dispatched_at, rowid`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []api.Dispatch
	for rows.Next() {
		var d api.Dispatch
		var specs, caps, status, dispatchedAt string
		var releasedAt sql.NullString
		if err := rows.Scan(&d.RunID, &d.TaskID, &d.Lane, &d.Replica, &d.Kind, &specs, &caps,
			&status, &d.Error, &dispatchedAt, &releasedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(specs), &d.Specs); err != nil {
			return nil, fmt.Errorf("unmarshal specs: %w", err)
		}
		if err := json.Unmarshal([]byte(caps), &d.Capabilities); err != nil {
			return nil, fmt.Errorf("unmarshal capabilities: %w", err)
		}
		d.Status = api.DispatchStatus(status)
		d.DispatchedAt, _ = time.Parse(timeLayout, dispatchedAt)
		if releasedAt.Valid {
			t, _ := time.Parse(timeLayout, releasedAt.String)
			d.ReleasedAt = &t
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// LatestRun summarises the most recently started run.
func (s *Store) LatestRun(ctx context.Context) (*api.RunSummary, error) {
	var runID string
	err := s.db.QueryRowContext(ctx,
		`SELECT run_id FROM dispatches GROUP BY run_id ORDER BY MIN(dispatched_at) DESC LIMIT 1`,
	).Scan(&runID)
	if err == sql.ErrNoRows {
		return nil, ErrNoRuns
	}
	if err != nil {
		return nil, err
	}
	return s.Summary(ctx, runID)
}

// Summary aggregates the dispatches of runID.
func (s *Store) Summary(ctx context.Context, runID string) (*api.RunSummary, error) {
	var started sql.NullString
	sum := &api.RunSummary{RunID: runID}
	err := s.db.QueryRowContext(ctx,
		`SELECT MIN(dispatched_at), COUNT(*), COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0)
		 FROM dispatches WHERE run_id = ?`, string(api.DispatchFailed), runID,
	).Scan(&started, &sum.Tasks, &sum.Failed)
	if err != nil {
		return nil, err
	}
	if sum.Tasks == 0 {
		return nil, fmt.Errorf("run %s not found", runID)
	}
	sum.StartedAt, _ = time.Parse(timeLayout, started.String)
	return sum, nil
}
