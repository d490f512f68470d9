// Package history provides the run history record domain model.
package history

import (
	"errors"
	"time"

	"github.com/whhaicheng/DB-StreamBench/internal/domain/phase"
)

var (
	// ErrRecordNotFound is returned when a run id is not in the history.
	ErrRecordNotFound = errors.New("run not found")
)

// Record is one benchmark run as kept in the history store.
type Record struct {
	ID         string      `json:"id"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt *time.Time  `json:"finished_at,omitempty"` // nil while the run is in flight
	Mode       phase.Mode  `json:"mode"`
	State      phase.State `json:"state"`
	ResultsDir string      `json:"results_dir"`
	Command    string      `json:"command"` // Workload client command line

	Phase1 phase.Status `json:"phase1"`
	Phase2 phase.Status `json:"phase2"`

	ExitCode     int           `json:"exit_code"`
	Duration     time.Duration `json:"duration"`
	ErrorMessage string        `json:"error_message,omitempty"`

	// Phases is filled by FindByID only.
	Phases []phase.Result `json:"phases,omitempty"`
}

// IsFinished reports whether the run reached a terminal state.
func (r *Record) IsFinished() bool {
	return r.State.IsTerminal()
}

// ListOptions controls history listing.
type ListOptions struct {
	Limit int // 0 = no limit
	State phase.State
}
