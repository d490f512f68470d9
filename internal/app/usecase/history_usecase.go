package usecase

import (
	"context"
	"fmt"

	"github.com/whhaicheng/DB-StreamBench/internal/domain/history"
)

// HistoryUseCase provides run history queries.
type HistoryUseCase struct {
	runRepo RunRepository
}

// NewHistoryUseCase creates a new history use case.
func NewHistoryUseCase(runRepo RunRepository) *HistoryUseCase {
	return &HistoryUseCase{runRepo: runRepo}
}

// ListRuns returns runs newest first.
func (uc *HistoryUseCase) ListRuns(ctx context.Context, opts history.ListOptions) ([]*history.Record, error) {
	if opts.State != "" && !opts.State.IsValid() {
		return nil, fmt.Errorf("unknown state filter %q", opts.State)
	}
	return uc.runRepo.FindAll(ctx, opts)
}

// GetRun returns one run with its phase results.
func (uc *HistoryUseCase) GetRun(ctx context.Context, id string) (*history.Record, error) {
	rec, err := uc.runRepo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}
	return rec, nil
}

// DeleteRun removes a run from the history.
func (uc *HistoryUseCase) DeleteRun(ctx context.Context, id string) error {
	if err := uc.runRepo.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete run %s: %w", id, err)
	}
	return nil
}
