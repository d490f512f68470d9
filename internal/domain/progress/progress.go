// Package progress provides the progress events emitted while a load phase runs,
// and the marker grammar used to extract them from workload output.
package progress

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Kind identifies the variant of an Event.
type Kind string

const (
	KindBatch      Kind = "batch_progress"
	KindCheckpoint Kind = "checkpoint"
	KindComplete   Kind = "complete"
)

// Event is a tagged progress event. Only the fields of its Kind are set.
type Event struct {
	Kind Kind

	// KindBatch
	Batch      int     // Batch number
	BatchTotal int     // Total batches, as printed by the workload
	Hour       int     // Simulated hour (unit index)
	Size       int     // Rows in this batch
	TotalRows  float64 // Running total, millions of rows

	// KindCheckpoint
	Batches int     // Batches completed
	Rows    float64 // Millions of rows
}

// BatchProgress builds a KindBatch event.
func BatchProgress(batch, batchTotal, hour, size int, totalRows float64) Event {
	return Event{Kind: KindBatch, Batch: batch, BatchTotal: batchTotal, Hour: hour, Size: size, TotalRows: totalRows}
}

// Checkpoint builds a KindCheckpoint event.
func Checkpoint(batches int, rows float64) Event {
	return Event{Kind: KindCheckpoint, Batches: batches, Rows: rows}
}

// Complete builds a KindComplete event.
func Complete() Event {
	return Event{Kind: KindComplete}
}

func (e Event) String() string {
	switch e.Kind {
	case KindBatch:
		return fmt.Sprintf("batch %d/%d hour=%d size=%d total=%gM", e.Batch, e.BatchTotal, e.Hour, e.Size, e.TotalRows)
	case KindCheckpoint:
		return fmt.Sprintf("checkpoint %d batches %gM rows", e.Batches, e.Rows)
	default:
		return string(e.Kind)
	}
}

// Handler receives events. It is called from the monitor goroutine.
type Handler func(Event)

// DefaultCompletionMarkers are the phrases the streaming workload prints when it finishes.
var DefaultCompletionMarkers = []string{"Streaming complete!", "simulation complete!"}

// Grammar is the set of named matchers for progress lines.
//
//	NOTICE:  [Batch 10/500] Hour: 2, Size: 10000 rows, Total rows so far: 0.1M
//	NOTICE:  [Batch 10/500] Hour: 2, Size: 10000 rows, Total: 0.1M
//	NOTICE:  CHECKPOINT: 50 batches complete, 5.0M rows
type Grammar struct {
	Batch             *regexp.Regexp
	Checkpoint        *regexp.Regexp
	CompletionMarkers []string
}

var (
	batchPattern      = regexp.MustCompile(`\[Batch (\d+)/(\d+)\].*Hour: (\d+).*Size: (\d+) rows.*Total[^:]*: ([\d.]+)M`)
	checkpointPattern = regexp.MustCompile(`CHECKPOINT: (\d+) batches complete, ([\d.]+)M rows`)
)

// NewGrammar returns the standard grammar. Empty completion markers fall back to
// DefaultCompletionMarkers.
func NewGrammar(completionMarkers ...string) *Grammar {
	if len(completionMarkers) == 0 {
		completionMarkers = DefaultCompletionMarkers
	}
	markers := make([]string, len(completionMarkers))
	copy(markers, completionMarkers)
	return &Grammar{
		Batch:             batchPattern,
		Checkpoint:        checkpointPattern,
		CompletionMarkers: markers,
	}
}

// Parse extracts events from one line in the order batch, complete, checkpoint.
// Complete ends the stream, so nothing after it on the same line is reported.
// Lines that match nothing yield nil.
func (g *Grammar) Parse(line string) []Event {
	var events []Event

	if ev, ok := g.parseBatch(line); ok {
		events = append(events, ev)
	}
	if g.IsCompletion(line) {
		return append(events, Complete())
	}
	if ev, ok := g.parseCheckpoint(line); ok {
		events = append(events, ev)
	}

	return events
}

// IsCompletion reports whether the line carries a completion phrase.
func (g *Grammar) IsCompletion(line string) bool {
	for _, m := range g.CompletionMarkers {
		if m != "" && strings.Contains(line, m) {
			return true
		}
	}
	return false
}

func (g *Grammar) parseBatch(line string) (Event, bool) {
	m := g.Batch.FindStringSubmatch(line)
	if len(m) != 6 {
		return Event{}, false
	}
	batch, err1 := strconv.Atoi(m[1])
	total, err2 := strconv.Atoi(m[2])
	hour, err3 := strconv.Atoi(m[3])
	size, err4 := strconv.Atoi(m[4])
	rows, err5 := strconv.ParseFloat(m[5], 64)
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil || err5 != nil {
		return Event{}, false
	}
	return BatchProgress(batch, total, hour, size, rows), true
}

func (g *Grammar) parseCheckpoint(line string) (Event, bool) {
	if !strings.Contains(line, "CHECKPOINT") {
		return Event{}, false
	}
	m := g.Checkpoint.FindStringSubmatch(line)
	if len(m) != 3 {
		return Event{}, false
	}
	batches, err1 := strconv.Atoi(m[1])
	rows, err2 := strconv.ParseFloat(m[2], 64)
	if err1 != nil || err2 != nil {
		return Event{}, false
	}
	return Checkpoint(batches, rows), true
}
