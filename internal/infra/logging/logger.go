// Package logging builds the run's structured logger: slog on top of a zap core.
package logging

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/exp/zapslog"
	"go.uber.org/zap/zapcore"
)

// ShutdownFunc flushes buffered log entries and closes the log file.
type ShutdownFunc func() error

// New creates a logger that writes human-readable entries at level to stderr and,
// when logFile is set, JSON entries at debug level to logFile.
func New(level, logFile string) (*slog.Logger, ShutdownFunc, error) {
	return newLogger(level, logFile, zapcore.Lock(os.Stderr))
}

func newLogger(level, logFile string, console zapcore.WriteSyncer) (*slog.Logger, ShutdownFunc, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, nil, fmt.Errorf("parse log level %q: %w", level, err)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	consoleCfg := encCfg
	consoleCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(consoleCfg), console, lvl),
	}

	var file *os.File
	if logFile != "" {
		if err := os.MkdirAll(filepath.Dir(logFile), 0o755); err != nil {
			return nil, nil, fmt.Errorf("create log directory: %w", err)
		}
		file, err = os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(file), zapcore.DebugLevel))
	}

	core := zapcore.NewTee(cores...)
	shutdown := func() error {
		// stderr returns EINVAL on Sync for terminals; only the file matters.
		_ = core.Sync()
		if file != nil {
			return file.Close()
		}
		return nil
	}
	return slog.New(zapslog.NewHandler(core, zapslog.WithCaller(true))), shutdown, nil
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
