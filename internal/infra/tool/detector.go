// Package tool provides workload client detection and version checking.
package tool

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"sync"

	"github.com/whhaicheng/DB-StreamBench/internal/infra/runner"
)

var (
	// ErrToolNotFound is returned when the client executable is not on PATH.
	ErrToolNotFound = errors.New("tool not found")
)

// Client is a known SQL command-line client that can drive a workload script.
type Client struct {
	Name       string   // Display name
	Executable string   // Binary name on PATH
	VersionArg []string // Arguments that print the version
}

// KnownClients are the clients `streambench detect` reports on.
var KnownClients = []Client{
	{Name: "PostgreSQL", Executable: "psql", VersionArg: []string{"--version"}},
	{Name: "MySQL", Executable: "mysql", VersionArg: []string{"--version"}},
	{Name: "SQL Server", Executable: "sqlcmd", VersionArg: []string{"-?"}},
	{Name: "Oracle", Executable: "sqlplus", VersionArg: []string{"-V"}},
}

var versionPattern = regexp.MustCompile(`\d+(?:\.\d+)+`)

// Detector provides tool detection capabilities.
type Detector struct{}

// NewDetector creates a new tool detector.
func NewDetector() *Detector {
	return &Detector{}
}

// ToolInfo contains information about a detected tool.
type ToolInfo struct {
	Name    string `json:"name"`
	Found   bool   `json:"found"`
	Path    string `json:"path,omitempty"`
	Version string `json:"version,omitempty"`
	Error   string `json:"error,omitempty"`
}

// DetectTool looks the executable up on PATH.
func (d *Detector) DetectTool(executable string) (string, error) {
	path, err := exec.LookPath(executable)
	if err != nil {
		return "", fmt.Errorf("%w: %s not found in PATH", ErrToolNotFound, executable)
	}
	return path, nil
}

// GetToolVersion runs the executable with args and extracts a dotted version number.
// Clients that print help on a version flag may exit non-zero; their output is still used.
func (d *Detector) GetToolVersion(ctx context.Context, path string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, path, args...)
	output, err := cmd.CombinedOutput()
	if len(output) == 0 && err != nil {
		return "", fmt.Errorf("execute version command: %w", err)
	}

	version := parseVersion(string(output))
	if version == "" {
		return "", fmt.Errorf("failed to parse version from output: %s", strings.TrimSpace(string(output)))
	}
	return version, nil
}

// DetectCommand checks the client named by the first word of a workload command line.
func (d *Detector) DetectCommand(ctx context.Context, commandLine string) *ToolInfo {
	parts, err := runner.SplitCommand(commandLine)
	if err != nil {
		return &ToolInfo{Name: commandLine, Error: err.Error()}
	}

	client := Client{Name: parts[0], Executable: parts[0], VersionArg: []string{"--version"}}
	base := strings.TrimSuffix(filepath.Base(parts[0]), ".exe")
	for _, c := range KnownClients {
		if c.Executable == base {
			client.Name = c.Name
			client.VersionArg = c.VersionArg
			break
		}
	}
	return d.detect(ctx, client)
}

// DetectAllTools detects every known client concurrently. Results keep KnownClients order.
func (d *Detector) DetectAllTools(ctx context.Context) []*ToolInfo {
	results := make([]*ToolInfo, len(KnownClients))
	var wg sync.WaitGroup

	for i, c := range KnownClients {
		wg.Add(1)
		go func(i int, c Client) {
			defer wg.Done()
			results[i] = d.detect(ctx, c)
		}(i, c)
	}

	wg.Wait()
	return results
}

func (d *Detector) detect(ctx context.Context, c Client) *ToolInfo {
	info := &ToolInfo{Name: c.Name}

	executable := c.Executable
	if runtime.GOOS == "windows" && filepath.Ext(executable) == "" {
		executable += ".exe"
	}

	path, err := d.DetectTool(executable)
	if err != nil {
		info.Error = err.Error()
		return info
	}
	info.Found = true
	info.Path = path

	if version, err := d.GetToolVersion(ctx, path, c.VersionArg...); err == nil {
		info.Version = version
	}
	return info
}

// parseVersion returns the first dotted number in the output.
//
//	psql (PostgreSQL) 16.2          -> 16.2
//	mysql  Ver 8.0.36 for Linux     -> 8.0.36
//	SQL*Plus: Release 19.0.0.0.0    -> 19.0.0.0.0
func parseVersion(output string) string {
	return versionPattern.FindString(output)
}
