package usecase

import (
	"context"
	"sort"
	"sync"

	"github.com/whhaicheng/DB-StreamBench/internal/domain/history"
	"github.com/whhaicheng/DB-StreamBench/internal/domain/phase"
)

// MemoryRunRepository provides an in-memory implementation of RunRepository.
// It backs runs with history disabled and the orchestrator tests.
type MemoryRunRepository struct {
	mu     sync.RWMutex
	runs   map[string]*history.Record
	phases map[string][]phase.Result
}

// NewMemoryRunRepository creates a new in-memory run repository.
func NewMemoryRunRepository() *MemoryRunRepository {
	return &MemoryRunRepository{
		runs:   make(map[string]*history.Record),
		phases: make(map[string][]phase.Result),
	}
}

// Save saves a copy of the run.
func (r *MemoryRunRepository) Save(ctx context.Context, rec *history.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *rec
	cp.Phases = nil
	r.runs[rec.ID] = &cp
	return nil
}

// SavePhaseResult stores a phase result, replacing an earlier one with the same id.
func (r *MemoryRunRepository) SavePhaseResult(ctx context.Context, runID string, res phase.Result) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.phases[runID]
	for i := range list {
		if list[i].PhaseID == res.PhaseID {
			list[i] = res
			return nil
		}
	}
	r.phases[runID] = append(list, res)
	return nil
}

// FindByID finds a run by its ID.
func (r *MemoryRunRepository) FindByID(ctx context.Context, id string) (*history.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.runs[id]
	if !ok {
		return nil, history.ErrRecordNotFound
	}
	cp := *rec
	cp.Phases = append([]phase.Result(nil), r.phases[id]...)
	return &cp, nil
}

// FindAll lists runs newest first.
func (r *MemoryRunRepository) FindAll(ctx context.Context, opts history.ListOptions) ([]*history.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*history.Record, 0, len(r.runs))
	for _, rec := range r.runs {
		if opts.State != "" && rec.State != opts.State {
			continue
		}
		cp := *rec
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

// Delete deletes a run by its ID.
func (r *MemoryRunRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.runs[id]; !ok {
		return history.ErrRecordNotFound
	}
	delete(r.runs, id)
	delete(r.phases, id)
	return nil
}
