//go:build windows

// Package main is the entry point for winhost, the Windows-side process
// that loads a single VST2 plugin DLL and mirrors every call arriving
// over the five rendezvous channels into internal/nativehost.
package main

import (
	"fmt"
	"os"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	cmd := NewRootCmd()
	cmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date)

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
