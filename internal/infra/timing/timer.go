// Package timing records per-phase durations and the elapsed time of a run.
package timing

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/whhaicheng/DB-StreamBench/internal/domain/phase"
)

// Timer accumulates phase results keyed by phase id.
// Recording the same id again overwrites the earlier result in place.
type Timer struct {
	start time.Time

	mu      sync.RWMutex
	order   []string
	results map[string]phase.Result
}

// New starts a timer at the current time.
func New() *Timer {
	return &Timer{
		start:   time.Now(),
		results: make(map[string]phase.Result),
	}
}

// Record stores a result. Last write wins.
func (t *Timer) Record(r phase.Result) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.results[r.PhaseID]; !ok {
		t.order = append(t.order, r.PhaseID)
	}
	t.results[r.PhaseID] = r
}

// Result returns the recorded result for a phase id.
func (t *Timer) Result(id string) (phase.Result, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.results[id]
	return r, ok
}

// Results returns the recorded results in first-recorded order.
func (t *Timer) Results() []phase.Result {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]phase.Result, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, t.results[id])
	}
	return out
}

// StartedAt returns the construction time.
func (t *Timer) StartedAt() time.Time {
	return t.start
}

// TotalElapsed returns the wall time since New. It uses the monotonic clock.
func (t *Timer) TotalElapsed() time.Duration {
	return time.Since(t.start)
}

// FormatDuration renders d as "Xm Ys", truncating to whole seconds.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int64(d / time.Second)
	return fmt.Sprintf("%dm %ds", secs/60, secs%60)
}

// Line renders one timing.txt line for a result.
func Line(r phase.Result) string {
	line := fmt.Sprintf("Phase %s (%s): %.1fs", r.PhaseID, r.Name, r.Duration.Seconds())
	if !r.Success {
		line += fmt.Sprintf(" FAILED (exit %d)", r.ExitCode)
	}
	return line
}

// AppendTimingLine appends the result's line to the timing file, creating it if needed.
func AppendTimingLine(path string, r phase.Result) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open timing file: %w", err)
	}
	if _, err := fmt.Fprintln(f, Line(r)); err != nil {
		f.Close()
		return fmt.Errorf("write timing file: %w", err)
	}
	return f.Close()
}
