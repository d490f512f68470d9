package usecase

import (
	"errors"
	"fmt"
)

var (
	// ErrSetupFailure is returned when a setup sub-phase exits non-zero.
	ErrSetupFailure = errors.New("setup failed")

	// ErrValidationFailure is returned when a gate finds a disqualifying marker.
	ErrValidationFailure = errors.New("validation failed")

	// ErrInterrupted is returned when the operator stops the run.
	ErrInterrupted = errors.New("interrupted")

	// ErrScriptNotFound is returned when a phase's workload script is missing.
	ErrScriptNotFound = errors.New("script not found")

	// ErrPhaseFailed is returned when a load sub-phase exits non-zero or cannot start.
	ErrPhaseFailed = errors.New("phase failed")

	// ErrPreflightFailed is returned when a check before the first phase fails.
	ErrPreflightFailed = errors.New("preflight check failed")
)

// PhaseError describes the phase that stopped a run.
type PhaseError struct {
	PhaseID  string
	Name     string
	LogPath  string
	ExitCode int
	Err      error
}

func (e *PhaseError) Error() string {
	if e.LogPath == "" {
		return fmt.Sprintf("phase %s (%s): %v", e.PhaseID, e.Name, e.Err)
	}
	return fmt.Sprintf("phase %s (%s): %v (log: %s)", e.PhaseID, e.Name, e.Err, e.LogPath)
}

func (e *PhaseError) Unwrap() error {
	return e.Err
}
