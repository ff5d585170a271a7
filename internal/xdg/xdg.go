// Package xdg resolves the filesystem locations the bridge needs outside of
// its own working directory: the Wine prefix, the scratch directory used for
// rendezvous sockets, and the debug log directory.
package xdg

import (
	"os"
	"path/filepath"
)

const appName = "yabridge-go"

// ConfigDir returns the XDG config directory for the bridge.
// Checks XDG_CONFIG_HOME first, falls back to ~/.config.
func ConfigDir() (string, error) {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base != "" {
		return filepath.Join(base, appName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", appName), nil
}

// StateDir returns the XDG state directory for the bridge, where per-plugin
// debug logs are written when no explicit debug file is configured.
func StateDir() (string, error) {
	base := os.Getenv("XDG_STATE_HOME")
	if base != "" {
		return filepath.Join(base, appName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".local", "state", appName), nil
}

// RuntimeDir returns the XDG runtime directory, used as the default scratch
// directory for rendezvous Unix domain sockets. Falls back to StateDir/run
// when XDG_RUNTIME_DIR is unset, matching the behavior most display-less
// CI and group-host environments need.
func RuntimeDir() (string, error) {
	base := os.Getenv("XDG_RUNTIME_DIR")
	if base != "" {
		return filepath.Join(base, appName), nil
	}
	state, err := StateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(state, "run"), nil
}

// DefaultWinePrefix returns the Wine prefix the native proxy assumes when
// the user hasn't configured one explicitly: ~/.wine, Wine's own default.
func DefaultWinePrefix() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".wine"), nil
}

// EnsureDir creates a directory and all parent directories if they don't
// exist. Directories are created with 0700 permissions since rendezvous
// sockets and debug logs may contain plugin state.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0o700)
}
