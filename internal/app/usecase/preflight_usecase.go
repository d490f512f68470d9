package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/whhaicheng/DB-StreamBench/internal/domain/config"
	"github.com/whhaicheng/DB-StreamBench/internal/infra/preflight"
	"github.com/whhaicheng/DB-StreamBench/internal/infra/tool"
)

// ToolDetector finds the workload client named by a command line.
type ToolDetector interface {
	DetectCommand(ctx context.Context, commandLine string) *tool.ToolInfo
}

// DatabasePinger checks that a database answers.
type DatabasePinger interface {
	Ping(ctx context.Context, driver, dsn string) (*preflight.Result, error)
}

// PreflightUseCase verifies the workload client and, optionally, the target database
// before the first phase is launched.
type PreflightUseCase struct {
	cfg      config.PreflightConfig
	command  string
	detector ToolDetector
	pinger   DatabasePinger
	sink     Sink
	logger   *slog.Logger
}

// NewPreflightUseCase creates a new preflight use case.
func NewPreflightUseCase(
	cfg config.PreflightConfig,
	command string,
	detector ToolDetector,
	pinger DatabasePinger,
	sink Sink,
	logger *slog.Logger,
) *PreflightUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	return &PreflightUseCase{
		cfg:      cfg,
		command:  command,
		detector: detector,
		pinger:   pinger,
		sink:     sink,
		logger:   logger,
	}
}

// Check runs the enabled checks in order and stops at the first failure.
func (uc *PreflightUseCase) Check(ctx context.Context) error {
	if uc.cfg.CheckTool && uc.detector != nil {
		info := uc.detector.DetectCommand(ctx, uc.command)
		if !info.Found {
			uc.logger.Error("Preflight: workload client not found", "command", uc.command, "error", info.Error)
			return fmt.Errorf("%w: workload client: %s", ErrPreflightFailed, info.Error)
		}
		version := info.Version
		if version == "" {
			version = "unknown version"
		}
		uc.sink.Success(fmt.Sprintf("Workload client %s (%s) at %s", info.Name, version, info.Path))
	}

	if uc.cfg.Driver != "" && uc.pinger != nil {
		res, err := uc.pinger.Ping(ctx, uc.cfg.Driver, uc.cfg.DSN)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrPreflightFailed, err)
		}
		uc.sink.Success(fmt.Sprintf("Database reachable: %s in %s (%s)", res.Driver, res.Latency.Round(time.Millisecond), firstLine(res.Version)))
	}
	return nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
