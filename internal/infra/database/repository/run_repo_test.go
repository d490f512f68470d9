// Package repository provides unit tests for run repository.
package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whhaicheng/DB-StreamBench/internal/domain/history"
	"github.com/whhaicheng/DB-StreamBench/internal/domain/phase"
	"github.com/whhaicheng/DB-StreamBench/internal/infra/database"
)

func setupRunRepo(t *testing.T) *SQLiteRunRepository {
	t.Helper()
	db, err := database.InitializeSQLite(context.Background(), filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewSQLiteRunRepository(db)
}

func newRecord(started time.Time) *history.Record {
	return &history.Record{
		ID:         uuid.New().String(),
		StartedAt:  started,
		Mode:       phase.ModeBoth,
		State:      phase.StateSetup,
		ResultsDir: "results/run_20260101_000000",
		Command:    "psql postgres",
		Phase1:     phase.StatusNotRequested,
		Phase2:     phase.StatusNotRequested,
	}
}

// TestSQLiteRunRepository_SaveAndFind tests run upsert and lookup.
func TestSQLiteRunRepository_SaveAndFind(t *testing.T) {
	ctx := context.Background()
	repo := setupRunRepo(t)

	started := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	rec := newRecord(started)
	require.NoError(t, repo.Save(ctx, rec))

	got, err := repo.FindByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, phase.StateSetup, got.State)
	assert.Nil(t, got.FinishedAt)
	assert.False(t, got.IsFinished())
	assert.True(t, started.Equal(got.StartedAt))

	finished := started.Add(90 * time.Second)
	rec.FinishedAt = &finished
	rec.State = phase.StateFailed
	rec.Phase1 = phase.StatusFailed
	rec.ExitCode = 1
	rec.Duration = 90 * time.Second
	rec.ErrorMessage = "phase 8 (Clustering) failed validation"
	require.NoError(t, repo.Save(ctx, rec))

	got, err = repo.FindByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, phase.StateFailed, got.State)
	assert.Equal(t, phase.StatusFailed, got.Phase1)
	assert.Equal(t, 1, got.ExitCode)
	assert.Equal(t, 90*time.Second, got.Duration)
	assert.Equal(t, "phase 8 (Clustering) failed validation", got.ErrorMessage)
	require.NotNil(t, got.FinishedAt)
	assert.True(t, finished.Equal(*got.FinishedAt))
	assert.True(t, got.IsFinished())
}

// TestSQLiteRunRepository_PhaseResultsIdempotent tests that a rerun replaces the earlier row.
func TestSQLiteRunRepository_PhaseResultsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := setupRunRepo(t)

	rec := newRecord(time.Now())
	require.NoError(t, repo.Save(ctx, rec))

	require.NoError(t, repo.SavePhaseResult(ctx, rec.ID, phase.Result{PhaseID: "0", Name: "Setup", Success: true, Duration: 1500 * time.Millisecond, LogPath: "00.log"}))
	require.NoError(t, repo.SavePhaseResult(ctx, rec.ID, phase.Result{PhaseID: "6a", Name: "Streaming", Success: false, ExitCode: 3, Duration: time.Second, LogPath: "06a.log"}))
	require.NoError(t, repo.SavePhaseResult(ctx, rec.ID, phase.Result{PhaseID: "6a", Name: "Streaming", Success: true, Duration: 2 * time.Second, LogPath: "06a.log"}))

	got, err := repo.FindByID(ctx, rec.ID)
	require.NoError(t, err)
	require.Len(t, got.Phases, 2)
	assert.Equal(t, "0", got.Phases[0].PhaseID)
	assert.Equal(t, 1500*time.Millisecond, got.Phases[0].Duration)
	assert.Equal(t, "6a", got.Phases[1].PhaseID)
	assert.True(t, got.Phases[1].Success)
	assert.Equal(t, 0, got.Phases[1].ExitCode)
	assert.Equal(t, 2*time.Second, got.Phases[1].Duration)
}

// TestSQLiteRunRepository_FindAll tests ordering, filtering and limits.
func TestSQLiteRunRepository_FindAll(t *testing.T) {
	ctx := context.Background()
	repo := setupRunRepo(t)

	base := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	var ids []string
	for i := 0; i < 3; i++ {
		rec := newRecord(base.Add(time.Duration(i) * time.Hour))
		if i == 1 {
			rec.State = phase.StateComplete
		}
		require.NoError(t, repo.Save(ctx, rec))
		ids = append(ids, rec.ID)
	}

	all, err := repo.FindAll(ctx, history.ListOptions{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, ids[2], all[0].ID)
	assert.Equal(t, ids[0], all[2].ID)

	limited, err := repo.FindAll(ctx, history.ListOptions{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	complete, err := repo.FindAll(ctx, history.ListOptions{State: phase.StateComplete})
	require.NoError(t, err)
	require.Len(t, complete, 1)
	assert.Equal(t, ids[1], complete[0].ID)
}

// TestSQLiteRunRepository_Delete tests deletion and not-found handling.
func TestSQLiteRunRepository_Delete(t *testing.T) {
	ctx := context.Background()
	repo := setupRunRepo(t)

	rec := newRecord(time.Now())
	require.NoError(t, repo.Save(ctx, rec))
	require.NoError(t, repo.SavePhaseResult(ctx, rec.ID, phase.Result{PhaseID: "0", Name: "Setup", Success: true}))

	require.NoError(t, repo.Delete(ctx, rec.ID))

	_, err := repo.FindByID(ctx, rec.ID)
	assert.ErrorIs(t, err, history.ErrRecordNotFound)
	assert.ErrorIs(t, repo.Delete(ctx, rec.ID), history.ErrRecordNotFound)
}
