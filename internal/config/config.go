// Package config loads the bridge's runtime configuration from a layered
// koanf stack: defaults, an optional YAML file, then command-line flags,
// each layer overriding the one before it. All three of nativeproxy,
// winhost, and grouphost share this loader so a single config file can
// configure an entire bridged plugin instance.
package config

import (
	"os"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
)

// Config holds every setting the bridge's three binaries need. Not every
// binary reads every field: grouphost, for instance, never touches
// WinePrefix directly, but keeping one struct means one loader and one
// documented file format instead of three.
type Config struct {
	// WinePrefix is the WINEPREFIX winhost runs under. Defaults to
	// xdg.DefaultWinePrefix() when unset.
	WinePrefix string `koanf:"wine_prefix"`
	// ScratchDir holds rendezvous Unix sockets. Defaults to
	// xdg.RuntimeDir().
	ScratchDir string `koanf:"scratch_dir"`
	// DebugFile, when non-empty, is where verbose per-instance logs are
	// written instead of stderr; mirrors yabridge's YABRIDGE_DEBUG_FILE.
	DebugFile string `koanf:"debug_file"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `koanf:"log_level"`
	// LogFormat is "json" or "text", passed straight to internal/logging.Setup.
	LogFormat string `koanf:"log_format"`
	// GroupName, when non-empty, puts the bridge instance into group-host
	// mode under this name: a process named GroupName multiplexes all
	// instances sharing it over one rendezvous connection via yamux
	// instead of spawning one WH process per plugin instance.
	GroupName string `koanf:"group_name"`
	// RendezvousTimeout bounds how long NP waits for WH to connect all
	// five channels during Accepting before giving up and reporting
	// CodeStartupFailed.
	RendezvousTimeout time.Duration `koanf:"rendezvous_timeout"`
	// MIDIQueueCapacity bounds the host-bound MIDI queue drained once per
	// audio block; see internal/bridge/np. Defaults to 4096.
	MIDIQueueCapacity int `koanf:"midi_queue_capacity"`
	// ObservabilityAddr is the loopback address the Prometheus/health
	// HTTP server listens on. Empty disables it.
	ObservabilityAddr string `koanf:"observability_addr"`
	// NotifyOnStartupFailure controls whether a desktop notification is
	// sent when the bridge fails to start, mirroring yabridge's
	// send_notification call in VSTPluginMain's catch block.
	NotifyOnStartupFailure bool `koanf:"notify_on_startup_failure"`
}

func defaults() *Config {
	return &Config{
		LogLevel:                "info",
		LogFormat:               "json",
		RendezvousTimeout:       10 * time.Second,
		MIDIQueueCapacity:       4096,
		ObservabilityAddr:       "127.0.0.1:0",
		NotifyOnStartupFailure:  true,
	}
}

// Load builds a Config from, in increasing precedence: built-in defaults,
// the YAML file at path (skipped silently if path is empty or the file
// doesn't exist), then flags (skipped if flags is nil).
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil && !os.IsNotExist(err) {
			return nil, oops.With("path", path).Wrapf(err, "config: load file")
		}
	}

	if flags != nil {
		if err := k.Load(posflag.Provider(flags, ".", k), nil); err != nil {
			return nil, oops.Wrapf(err, "config: load flags")
		}
	}

	out := defaults()
	if err := k.Unmarshal("", out); err != nil {
		return nil, oops.Wrapf(err, "config: unmarshal")
	}
	return out, nil
}
