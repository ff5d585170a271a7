package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWithNoFileOrFlags(t *testing.T) {
	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 4096, cfg.MIDIQueueCapacity)
	assert.Equal(t, 10*time.Second, cfg.RendezvousTimeout)
	assert.True(t, cfg.NotifyOnStartupFailure)
}

func TestLoadMissingFileIsNotAnError(t *testing.T) {
	cfg, err := Load("/nonexistent/does/not/exist.yaml", nil)
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log_level: debug\nmidi_queue_capacity: 8192\n"), 0o600))

	cfg, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 8192, cfg.MIDIQueueCapacity)
	// Untouched fields keep their defaults.
	assert.Equal(t, "json", cfg.LogFormat)
}

func TestLoadFlagsOverrideFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log_level: debug\n"), 0o600))

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("log_level", "warn", "")
	require.NoError(t, flags.Parse([]string{"--log_level=warn"}))

	cfg, err := Load(path, flags)
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.LogLevel)
}
