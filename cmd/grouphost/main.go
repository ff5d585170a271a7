//go:build windows

// Package main is the entry point for grouphost, the shared Windows-side
// process that hosts multiple plugin instances behind one emulated Win32
// session, amortizing Wine's per-process startup cost across every
// instance that joins the same group.
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
