// Package phase provides benchmark phase domain models and the orchestrator state machine.
package phase

import "fmt"

// State represents the state of a benchmark run.
type State string

const (
	StateSetup                 State = "SETUP"                    // Setup and validation sub-phases
	StatePhase1Running         State = "PHASE_1_RUNNING"          // Phase 1 (no indexes) running
	StatePhase1Done            State = "PHASE_1_DONE"             // Phase 1 passed every gate
	StateAwaitingPhase2Consent State = "AWAITING_PHASE_2_CONSENT" // Waiting for the go-ahead on phase 2
	StatePhase2Running         State = "PHASE_2_RUNNING"          // Phase 2 (with indexes) running
	StatePhase2Done            State = "PHASE_2_DONE"             // Phase 2 passed every gate
	StateFailed                State = "FAILED"                   // A sub-phase or gate failed
	StateComplete              State = "COMPLETE"                 // Run finished
	StateInterrupted           State = "INTERRUPTED"              // Stopped by the operator
)

// transitions lists the legal targets for each non-terminal state.
var transitions = map[State][]State{
	StateSetup:                 {StatePhase1Running, StateAwaitingPhase2Consent, StateFailed, StateInterrupted},
	StatePhase1Running:         {StatePhase1Done, StateFailed, StateInterrupted},
	StatePhase1Done:            {StateAwaitingPhase2Consent, StateComplete},
	StateAwaitingPhase2Consent: {StatePhase2Running, StateComplete, StateInterrupted},
	StatePhase2Running:         {StatePhase2Done, StateFailed, StateInterrupted},
	StatePhase2Done:            {StateComplete},
}

// IsValid checks if the state is valid.
func (s State) IsValid() bool {
	switch s {
	case StateSetup, StatePhase1Running, StatePhase1Done, StateAwaitingPhase2Consent,
		StatePhase2Running, StatePhase2Done, StateFailed, StateComplete, StateInterrupted:
		return true
	default:
		return false
	}
}

// IsTerminal checks if the state is a terminal state (no further transitions possible).
func (s State) IsTerminal() bool {
	return s == StateFailed || s == StateComplete || s == StateInterrupted
}

// CanTransitionTo checks if a transition from current state to target state is valid.
func (s State) CanTransitionTo(target State) bool {
	for _, allowed := range transitions[s] {
		if allowed == target {
			return true
		}
	}
	return false
}

// String implements Stringer interface.
func (s State) String() string {
	return string(s)
}

// InvalidTransitionError represents an invalid state transition.
type InvalidTransitionError struct {
	From State
	To   State
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid state transition: %s -> %s", e.From, e.To)
}

// Machine tracks the current state and every state it has passed through.
// It is owned by a single goroutine.
type Machine struct {
	current State
	history []State
}

// NewMachine returns a machine positioned at StateSetup.
func NewMachine() *Machine {
	return &Machine{current: StateSetup, history: []State{StateSetup}}
}

// Current returns the current state.
func (m *Machine) Current() State {
	return m.current
}

// History returns the visited states in order, starting with StateSetup.
func (m *Machine) History() []State {
	out := make([]State, len(m.history))
	copy(out, m.history)
	return out
}

// Reached reports whether the machine has ever been in the given state.
func (m *Machine) Reached(s State) bool {
	for _, h := range m.history {
		if h == s {
			return true
		}
	}
	return false
}

// Transition moves the machine to target.
// Returns an error if the transition is invalid.
func (m *Machine) Transition(target State) error {
	if !m.current.CanTransitionTo(target) {
		return &InvalidTransitionError{From: m.current, To: target}
	}
	m.current = target
	m.history = append(m.history, target)
	return nil
}
