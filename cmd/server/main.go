// Package main is the entry point for the hypest server.
//
// MAIN PACKAGE IN GO:
// The main package should be kept minimal. Its job is to:
//  1. Read configuration (internal/config)
//  2. Create long-lived dependencies (logger, store, Redis)
//  3. Start the application
//
// All actual logic lives in imported packages (internal/server,
// internal/service, ...). The subcommands live in root.go.
//
// WHY cmd/server/?
// The cmd/ directory is a Go convention for executable entry points.
package main

import (
	"fmt"
	"os"
)

// Version information set at build time with -ldflags.
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	cmd := NewRootCmd()
	cmd.Version = fmt.Sprintf("%s (commit: %s)", version, commit)

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
