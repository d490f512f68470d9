// Package tail follows a log file that another process is appending to and turns
// progress markers into events.
package tail

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/whhaicheng/DB-StreamBench/internal/domain/progress"
)

// Options configures a Monitor. Zero durations fall back to the defaults below.
type Options struct {
	// WaitTimeout bounds how long to wait for the file to appear.
	WaitTimeout time.Duration
	// WaitInterval is the existence poll interval.
	WaitInterval time.Duration
	// PollInterval is the idle sleep when no new line is available.
	PollInterval time.Duration

	Grammar *progress.Grammar
	Logger  *slog.Logger
}

const (
	defaultWaitTimeout  = 10 * time.Second
	defaultWaitInterval = 100 * time.Millisecond
	defaultPollInterval = 100 * time.Millisecond
)

// Monitor starts tail sessions. It holds no per-session state and may be reused.
type Monitor struct {
	waitTimeout  time.Duration
	waitInterval time.Duration
	pollInterval time.Duration
	grammar      *progress.Grammar
	logger       *slog.Logger
}

// NewMonitor creates a monitor.
func NewMonitor(opts Options) *Monitor {
	m := &Monitor{
		waitTimeout:  opts.WaitTimeout,
		waitInterval: opts.WaitInterval,
		pollInterval: opts.PollInterval,
		grammar:      opts.Grammar,
		logger:       opts.Logger,
	}
	if m.waitTimeout <= 0 {
		m.waitTimeout = defaultWaitTimeout
	}
	if m.waitInterval <= 0 {
		m.waitInterval = defaultWaitInterval
	}
	if m.pollInterval <= 0 {
		m.pollInterval = defaultPollInterval
	}
	if m.grammar == nil {
		m.grammar = progress.NewGrammar()
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	return m
}

// Session is one running tail of one file.
type Session struct {
	path   string
	ready  chan struct{}
	done   chan struct{}
	cancel context.CancelFunc

	mu        sync.Mutex
	closed    bool
	events    int
	completed bool
	handler   progress.Handler
}

// Start launches a goroutine that tails path and calls h for every event.
//
// The start offset is the file's size at the moment Start inspects it, or zero when
// the file does not exist yet. Nothing before the start offset is ever reported.
// The goroutine ends on a completion marker, on ctx cancellation, on Stop, or when
// the file does not appear within the wait timeout. Errors are never returned.
func (m *Monitor) Start(ctx context.Context, path string, h progress.Handler) *Session {
	ctx, cancel := context.WithCancel(ctx)
	s := &Session{
		path:    path,
		ready:   make(chan struct{}),
		done:    make(chan struct{}),
		cancel:  cancel,
		handler: h,
	}
	go m.run(ctx, s)
	return s
}

// Ready is closed once the start offset has been captured.
func (s *Session) Ready() <-chan struct{} {
	return s.ready
}

// Done is closed when the tail goroutine has exited.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Stop waits up to grace for the session to end on its own, then stops delivering
// events and cancels the tail. No handler call starts after Stop returns; a call
// already in flight is not waited for.
// It reports whether the session finished within the grace period.
func (s *Session) Stop(grace time.Duration) bool {
	finished := false
	if grace > 0 {
		t := time.NewTimer(grace)
		select {
		case <-s.done:
			finished = true
		case <-t.C:
		}
		t.Stop()
	} else {
		select {
		case <-s.done:
			finished = true
		default:
		}
	}

	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()
	return finished
}

// Events returns the number of events delivered so far.
func (s *Session) Events() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events
}

// Completed reports whether a completion marker was seen.
func (s *Session) Completed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completed
}

// deliver hands events to the handler unless the session was stopped.
// The handler runs without s.mu held so that Stop never waits on it.
// It reports whether a completion event was among them.
func (s *Session) deliver(events []progress.Event) bool {
	complete := false
	for _, ev := range events {
		s.mu.Lock()
		if ev.Kind == progress.KindComplete {
			complete = true
			s.completed = true
		}
		skip := s.closed || s.handler == nil
		s.mu.Unlock()
		if skip {
			continue
		}

		s.handler(ev)

		s.mu.Lock()
		s.events++
		s.mu.Unlock()
	}
	return complete
}

func (m *Monitor) run(ctx context.Context, s *Session) {
	defer close(s.done)
	defer s.cancel()

	var offset int64
	if fi, err := os.Stat(s.path); err == nil {
		offset = fi.Size()
	}
	close(s.ready)

	f := m.waitOpen(ctx, s.path)
	if f == nil {
		m.logger.Debug("Monitor: log file never appeared, no live progress", "log_file", s.path, "wait_timeout", m.waitTimeout)
		return
	}
	defer f.Close()

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		m.logger.Debug("Monitor: seek failed, no live progress", "log_file", s.path, "error", err)
		return
	}

	m.follow(ctx, s, f, offset)
}

// waitOpen polls for path until it can be opened, the wait times out or ctx ends.
func (m *Monitor) waitOpen(ctx context.Context, path string) *os.File {
	deadline := time.Now().Add(m.waitTimeout)
	ticker := time.NewTicker(m.waitInterval)
	defer ticker.Stop()

	for {
		f, err := os.Open(path)
		if err == nil {
			return f
		}
		if !errors.Is(err, os.ErrNotExist) {
			m.logger.Debug("Monitor: cannot open log file", "log_file", path, "error", err)
		}
		if time.Now().After(deadline) {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// follow reads complete lines from pos onward until completion or ctx ends.
// A trailing partial line is held back until its newline arrives.
func (m *Monitor) follow(ctx context.Context, s *Session, f *os.File, pos int64) {
	br := bufio.NewReader(f)
	var partial strings.Builder

	for {
		chunk, err := br.ReadString('\n')
		pos += int64(len(chunk))

		if err == nil {
			partial.WriteString(chunk)
			line := strings.TrimRight(partial.String(), "\r\n")
			partial.Reset()
			if events := m.grammar.Parse(line); len(events) > 0 {
				if s.deliver(events) {
					return
				}
			}
			continue
		}

		if !errors.Is(err, io.EOF) {
			m.logger.Debug("Monitor: read failed, no further progress", "log_file", s.path, "error", err)
			return
		}
		partial.WriteString(chunk)

		// A writer that truncates the file restarts it from the top.
		if fi, statErr := f.Stat(); statErr == nil && fi.Size() < pos {
			if _, seekErr := f.Seek(0, io.SeekStart); seekErr != nil {
				m.logger.Debug("Monitor: seek after truncation failed", "log_file", s.path, "error", seekErr)
				return
			}
			br.Reset(f)
			partial.Reset()
			pos = 0
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(m.pollInterval):
		}
	}
}
