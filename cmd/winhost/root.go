//go:build windows

package main

import (
	"github.com/spf13/cobra"
)

var configFile string

// NewRootCmd creates the root command for winhost. Unlike nativeproxy,
// winhost never runs standalone from a terminal -- it's always spawned
// by nativeproxy's rendezvous.LaunchWH with --socket and --plugin set --
// but it still goes through cobra for flag parsing and --help/--version,
// matching the rest of this bridge's binaries.
func NewRootCmd() *cobra.Command {
	cfg := &hostConfig{}

	cmd := &cobra.Command{
		Use:   "winhost",
		Short: "Run a single VST2 plugin instance inside Wine",
		Long: `winhost loads one Windows VST2 plugin DLL and mirrors the
five rendezvous channels a spawning nativeproxy process dialed against,
forwarding dispatcher calls, parameter access, and audio blocks into the
loaded plugin and audioMaster callbacks back out to nativeproxy.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runHost(cmd.Context(), cfg)
		},
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")
	cmd.Flags().StringVar(&cfg.socketPath, "socket", "", "rendezvous Unix socket path to dial")
	cmd.Flags().StringVar(&cfg.pluginPath, "plugin", "", "path to the Windows VST2 plugin DLL")
	cmd.Flags().StringVar(&cfg.logFormat, "log-format", "json", "log format (json or text)")
	cmd.Flags().StringVar(&cfg.observabilityAddr, "observability-addr", "", "metrics/health HTTP address (empty = disabled)")

	return cmd
}

// hostConfig holds winhost's own command-line flags, separate from
// internal/config.Config since winhost reads a couple of nativeproxy-
// supplied values (socket, plugin) that never belong in the shared
// config file.
type hostConfig struct {
	socketPath        string
	pluginPath        string
	logFormat         string
	observabilityAddr string
}
