// Package repository provides SQLite repository implementations.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/whhaicheng/DB-StreamBench/internal/domain/history"
	"github.com/whhaicheng/DB-StreamBench/internal/domain/phase"
)

// timeLayout keeps a fixed width so that text ordering is time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteRunRepository stores run history and per-phase results in SQLite.
type SQLiteRunRepository struct {
	db *sql.DB
}

// NewSQLiteRunRepository creates a new SQLite run repository.
func NewSQLiteRunRepository(db *sql.DB) *SQLiteRunRepository {
	return &SQLiteRunRepository{db: db}
}

// Save saves a run to the database.
// If the run already exists (by ID), it will be updated.
func (r *SQLiteRunRepository) Save(ctx context.Context, rec *history.Record) error {
	var finishedAt *string
	if rec.FinishedAt != nil {
		f := rec.FinishedAt.UTC().Format(timeLayout)
		finishedAt = &f
	}
	var errMsg *string
	if rec.ErrorMessage != "" {
		errMsg = &rec.ErrorMessage
	}

	query := `
		INSERT INTO runs (
			id, started_at, finished_at, mode, state, results_dir, command,
			phase1_status, phase2_status, exit_code, duration_seconds, error_message
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			finished_at = excluded.finished_at,
			state = excluded.state,
			phase1_status = excluded.phase1_status,
			phase2_status = excluded.phase2_status,
			exit_code = excluded.exit_code,
			duration_seconds = excluded.duration_seconds,
			error_message = excluded.error_message
	`

	_, err := r.db.ExecContext(ctx, query,
		rec.ID,
		rec.StartedAt.UTC().Format(timeLayout),
		finishedAt,
		string(rec.Mode),
		string(rec.State),
		rec.ResultsDir,
		rec.Command,
		string(rec.Phase1),
		string(rec.Phase2),
		rec.ExitCode,
		rec.Duration.Seconds(),
		errMsg,
	)
	if err != nil {
		return fmt.Errorf("save run: %w", err)
	}
	return nil
}

// SavePhaseResult records one phase result for a run. A second result for the same
// phase replaces the first and keeps its position.
func (r *SQLiteRunRepository) SavePhaseResult(ctx context.Context, runID string, res phase.Result) error {
	query := `
		INSERT INTO phase_results (
			run_id, phase_id, seq, name, success, exit_code, duration_seconds, log_path, recorded_at
		) VALUES (?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM phase_results WHERE run_id = ?), ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, phase_id) DO UPDATE SET
			name = excluded.name,
			success = excluded.success,
			exit_code = excluded.exit_code,
			duration_seconds = excluded.duration_seconds,
			log_path = excluded.log_path,
			recorded_at = excluded.recorded_at
	`

	success := 0
	if res.Success {
		success = 1
	}

	_, err := r.db.ExecContext(ctx, query,
		runID,
		res.PhaseID,
		runID,
		res.Name,
		success,
		res.ExitCode,
		res.Duration.Seconds(),
		res.LogPath,
		time.Now().UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("save phase result %s: %w", res.PhaseID, err)
	}
	return nil
}

// FindByID finds a run and its phase results.
func (r *SQLiteRunRepository) FindByID(ctx context.Context, id string) (*history.Record, error) {
	row := r.db.QueryRowContext(ctx, selectRuns+` WHERE id = ?`, id)
	rec, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, history.ErrRecordNotFound
		}
		return nil, err
	}

	phases, err := r.phaseResults(ctx, id)
	if err != nil {
		return nil, err
	}
	rec.Phases = phases
	return rec, nil
}

// FindAll lists runs, newest first.
func (r *SQLiteRunRepository) FindAll(ctx context.Context, opts history.ListOptions) ([]*history.Record, error) {
	query := selectRuns
	var args []any
	if opts.State != "" {
		query += ` WHERE state = ?`
		args = append(args, string(opts.State))
	}
	query += ` ORDER BY started_at DESC`
	if opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []*history.Record
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return out, nil
}

// Delete removes a run and, through the foreign key, its phase results.
func (r *SQLiteRunRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return history.ErrRecordNotFound
	}
	return nil
}

func (r *SQLiteRunRepository) phaseResults(ctx context.Context, runID string) ([]phase.Result, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT phase_id, name, success, exit_code, duration_seconds, log_path
		FROM phase_results
		WHERE run_id = ?
		ORDER BY seq
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query phase results: %w", err)
	}
	defer rows.Close()

	var out []phase.Result
	for rows.Next() {
		var res phase.Result
		var success int
		var seconds float64
		if err := rows.Scan(&res.PhaseID, &res.Name, &success, &res.ExitCode, &seconds, &res.LogPath); err != nil {
			return nil, fmt.Errorf("scan phase result: %w", err)
		}
		res.Success = success == 1
		res.Duration = secondsToDuration(seconds)
		out = append(out, res)
	}
	return out, rows.Err()
}

const selectRuns = `
	SELECT id, started_at, finished_at, mode, state, results_dir, command,
	       phase1_status, phase2_status, exit_code, duration_seconds, error_message
	FROM runs`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*history.Record, error) {
	var rec history.Record
	var startedAt, mode, state, p1, p2 string
	var finishedAt, errMsg *string
	var seconds float64

	err := s.Scan(
		&rec.ID,
		&startedAt,
		&finishedAt,
		&mode,
		&state,
		&rec.ResultsDir,
		&rec.Command,
		&p1,
		&p2,
		&rec.ExitCode,
		&seconds,
		&errMsg,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan run: %w", err)
	}

	if rec.StartedAt, err = time.Parse(timeLayout, startedAt); err != nil {
		return nil, fmt.Errorf("parse started_at: %w", err)
	}
	if finishedAt != nil {
		t, err := time.Parse(timeLayout, *finishedAt)
		if err != nil {
			return nil, fmt.Errorf("parse finished_at: %w", err)
		}
		rec.FinishedAt = &t
	}
	rec.Mode = phase.Mode(mode)
	rec.State = phase.State(state)
	rec.Phase1 = phase.Status(p1)
	rec.Phase2 = phase.Status(p2)
	rec.Duration = secondsToDuration(seconds)
	if errMsg != nil {
		rec.ErrorMessage = *errMsg
	}
	return &rec, nil
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
