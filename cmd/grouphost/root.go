//go:build windows

package main

import (
	"github.com/spf13/cobra"
)

var configFile string

// NewRootCmd creates the root command for grouphost. Unlike winhost,
// grouphost runs for the lifetime of an entire group rather than one
// plugin instance, so --group-name identifies which rendezvous socket it
// listens on instead of a --socket/--plugin pair pointing at a single
// already-waiting nativeproxy.
func NewRootCmd() *cobra.Command {
	cfg := &groupConfig{}

	cmd := &cobra.Command{
		Use:   "grouphost",
		Short: "Host multiple VST2 plugin instances inside one Wine process",
		Long: `grouphost listens on a group rendezvous socket and accepts
instance requests from any number of nativeproxy processes sharing its
--group-name, loading a fresh plugin DLL per request and multiplexing
that instance's five bridge channels over the same underlying
connection via yamux, rather than spawning a dedicated winhost per
plugin.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runGroupHost(cmd.Context(), cfg)
		},
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")
	cmd.Flags().StringVar(&cfg.groupName, "group-name", "", "group name this process serves (required)")
	cmd.Flags().StringVar(&cfg.logFormat, "log-format", "json", "log format (json or text)")
	cmd.Flags().StringVar(&cfg.observabilityAddr, "observability-addr", "", "metrics/health HTTP address (empty = disabled)")
	_ = cmd.MarkFlagRequired("group-name")

	return cmd
}

// groupConfig holds grouphost's own command-line flags, separate from
// internal/config.Config for the same reason winhost's hostConfig is:
// these are process-identity values supplied at spawn time, not
// something that belongs in the shared config file.
type groupConfig struct {
	groupName         string
	logFormat         string
	observabilityAddr string
}
