// Package runner executes one workload command to completion with its combined
// output streamed into a log file.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

var (
	// ErrEmptyCommand is returned when a command line has no words.
	ErrEmptyCommand = errors.New("empty command")
	// ErrUnclosedQuote is returned when a command line ends inside a quote.
	ErrUnclosedQuote = errors.New("unclosed quote")
)

// Result is the outcome of one process execution.
type Result struct {
	ExitCode  int
	StartedAt time.Time
	Duration  time.Duration
	LogPath   string
	// Interrupted is set when the context was cancelled while the process ran.
	Interrupted bool
}

// Success reports whether the process exited zero.
func (r Result) Success() bool {
	return r.ExitCode == 0 && !r.Interrupted
}

// Options configures a Runner.
type Options struct {
	// Env is appended to the current process environment.
	Env []string
	// Dir is the working directory. Empty inherits the caller's.
	Dir    string
	Logger *slog.Logger
}

// Runner spawns workload processes.
type Runner struct {
	env    []string
	dir    string
	logger *slog.Logger
}

// New creates a runner.
func New(opts Options) *Runner {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{env: opts.Env, dir: opts.Dir, logger: logger}
}

// Run starts argv, truncates logPath and sends stdout and stderr to it, then blocks
// until the process exits. The log file is created before the process starts so
// concurrent readers can open it while the process writes.
//
// A non-zero exit is reported in Result, not as an error. An error is returned only
// when the process could not be started.
//
// Cancelling ctx sends os.Interrupt to the process and keeps waiting for it to exit.
func (r *Runner) Run(ctx context.Context, argv []string, logPath string) (Result, error) {
	res := Result{ExitCode: -1, LogPath: logPath}
	if len(argv) == 0 {
		return res, ErrEmptyCommand
	}

	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return res, fmt.Errorf("create log dir: %w", err)
	}
	logFile, err := os.Create(logPath)
	if err != nil {
		return res, fmt.Errorf("create log file: %w", err)
	}
	defer logFile.Close()

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = r.dir
	if len(r.env) > 0 {
		cmd.Env = append(os.Environ(), r.env...)
	}
	// Same *os.File on both streams: the child writes straight to the fd.
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.Cancel = func() error {
		return cmd.Process.Signal(os.Interrupt)
	}

	r.logger.Debug("Runner: starting process", "binary", argv[0], "arguments", argv[1:], "log_file", logPath, "env_count", len(r.env))

	res.StartedAt = time.Now()
	if err := cmd.Start(); err != nil {
		res.Duration = time.Since(res.StartedAt)
		return res, fmt.Errorf("start %s: %w", argv[0], err)
	}

	waitErr := cmd.Wait()
	res.Duration = time.Since(res.StartedAt)
	res.Interrupted = ctx.Err() != nil

	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}

	r.logger.Debug("Runner: process exited",
		"binary", argv[0],
		"exit_code", res.ExitCode,
		"duration", res.Duration,
		"interrupted", res.Interrupted,
		"wait_error", waitErr)

	return res, nil
}

// BuildCommand splits the client command line and appends the script argument,
// preceded by scriptFlag when it is non-empty.
//
//	BuildCommand("psql postgres", "-f", "sql/01.sql") = [psql postgres -f sql/01.sql]
func BuildCommand(commandLine, scriptFlag, script string) ([]string, error) {
	parts, err := SplitCommand(commandLine)
	if err != nil {
		return nil, err
	}
	if scriptFlag != "" {
		parts = append(parts, scriptFlag)
	}
	return append(parts, script), nil
}

// SplitCommand splits a command line into words.
// Single quotes, double quotes and backslash escapes are honoured.
func SplitCommand(cmdLine string) ([]string, error) {
	var parts []string
	var current strings.Builder
	var inSingle, inDouble, escapeNext, inWord bool

	for _, r := range cmdLine {
		if escapeNext {
			current.WriteRune(r)
			escapeNext = false
			continue
		}

		switch {
		case r == '\\' && !inSingle:
			escapeNext = true
			inWord = true
		case r == '\'' && !inDouble:
			inSingle = !inSingle
			inWord = true
		case r == '"' && !inSingle:
			inDouble = !inDouble
			inWord = true
		case (r == ' ' || r == '\t' || r == '\n') && !inSingle && !inDouble:
			if inWord {
				parts = append(parts, current.String())
				current.Reset()
				inWord = false
			}
		default:
			current.WriteRune(r)
			inWord = true
		}
	}

	if inSingle || inDouble {
		return nil, fmt.Errorf("%w in %q", ErrUnclosedQuote, cmdLine)
	}
	if inWord {
		parts = append(parts, current.String())
	}
	if len(parts) == 0 {
		return nil, ErrEmptyCommand
	}
	return parts, nil
}
