// Package main is the CLI entry point for streambench, the streaming INSERT
// benchmark orchestrator.
package main

import (
	"os"
)

// Version is set at build time with -ldflags "-X main.Version=...".
var Version = "1.0.0"

func main() {
	os.Exit(execute(os.Args[1:]))
}
