package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/whhaicheng/DB-StreamBench/internal/infra/logging"
	"github.com/whhaicheng/DB-StreamBench/internal/infra/preflight"
	"github.com/whhaicheng/DB-StreamBench/internal/infra/tool"
)

func (c *cli) detectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "detect",
		Short: "Detect SQL clients and check the configured database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := c.loadConfig(nil)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			detector := tool.NewDetector()
			w := c.stdout

			fmt.Fprintln(w, "\nDetecting SQL clients...")
			fmt.Fprintln(w, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
			for _, info := range detector.DetectAllTools(ctx) {
				printTool(c, info)
			}

			fmt.Fprintln(w, "Workload command:")
			printTool(c, detector.DetectCommand(ctx, cfg.Workload.Command))
			fmt.Fprintln(w, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")

			if cfg.Preflight.Driver == "" {
				fmt.Fprintln(w, "\nNo database configured (preflight.driver); skipping ping.")
				return nil
			}
			res, err := preflight.NewChecker(cfg.Preflight.Timeout, logging.Discard()).
				Ping(ctx, cfg.Preflight.Driver, cfg.Preflight.DSN)
			if err != nil {
				fmt.Fprintf(w, "\n✗ %v\n", err)
				c.exitCode = 1
				return nil
			}
			fmt.Fprintf(w, "\n✓ %s reachable in %s\n  %s\n", res.Driver, res.Latency, res.Version)
			return nil
		},
	}
}

func printTool(c *cli, info *tool.ToolInfo) {
	w := c.stdout
	if !info.Found {
		fmt.Fprintf(w, "✗ %s (not found)\n\n", info.Name)
		return
	}
	fmt.Fprintf(w, "✓ %s\n", info.Name)
	fmt.Fprintf(w, "  Path:    %s\n", info.Path)
	if info.Version != "" {
		fmt.Fprintf(w, "  Version: %s\n", info.Version)
	}
	fmt.Fprintln(w)
}
