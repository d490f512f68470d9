// Package usecase defines repository interfaces for database operations.
// These interfaces are defined by the use case layer and implemented by the infrastructure layer.
package usecase

import (
	"context"

	"github.com/whhaicheng/DB-StreamBench/internal/domain/history"
	"github.com/whhaicheng/DB-StreamBench/internal/domain/phase"
)

// RunRepository defines the interface for run history persistence.
type RunRepository interface {
	// Save saves a run. If the run already exists (by ID), it is updated.
	Save(ctx context.Context, rec *history.Record) error

	// SavePhaseResult stores one phase result for a run.
	// Saving the same phase id again overwrites the earlier result.
	SavePhaseResult(ctx context.Context, runID string, res phase.Result) error

	// FindByID finds a run by its ID, including its phase results.
	// Returns history.ErrRecordNotFound if there is no such run.
	FindByID(ctx context.Context, id string) (*history.Record, error)

	// FindAll finds runs, newest first.
	FindAll(ctx context.Context, opts history.ListOptions) ([]*history.Record, error)

	// Delete deletes a run and its phase results.
	Delete(ctx context.Context, id string) error
}
