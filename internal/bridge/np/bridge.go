// Package np implements the native proxy's half of the bridge: the
// Linux-side shared object a VST2/VST3/CLAP host loads, which forwards
// every dispatcher call, parameter access, and audio block across the
// five rendezvous channels to the Windows host running the real plugin.
//
// np itself never touches cgo or the actual plugin ABI structs;
// internal/nativeproxy's trampolines decode the host's raw calls into the plain
// Go types here (Dispatch's index/value/opt/hint, ProcessAudio's
// AudioRequest) and encodes results back, which keeps this package
// testable with nothing more exotic than net.Pipe.
package np

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/samber/oops"

	"github.com/yabridge-go/bridge/internal/bridge/convert"
	"github.com/yabridge-go/bridge/internal/bridge/lifecycle"
	"github.com/yabridge-go/bridge/internal/bridge/rendezvous"
	"github.com/yabridge-go/bridge/internal/bridge/wire"
	"github.com/yabridge-go/bridge/internal/observability"
)

// HostCallbackSink is the real VST2 host the native proxy is embedded
// in. internal/nativeproxy's Instance implements it over the actual audioMaster
// callback the host gave VSTPluginMain; np.Bridge calls it whenever an
// audioMaster opcode needs an answer the bridge itself can't supply
// (sample rate, vendor strings, and the deferred MIDI drain).
type HostCallbackSink interface {
	// Call invokes the real audioMaster callback and returns its result.
	Call(opcode wire.Opcode, index int32, value int64, opt float32, hint convert.Hint) (wire.EventResult, error)
}

// Bridge is one loaded plugin instance's native-proxy side: it owns the
// five connected channels, the two converter tables, and the bits of
// plugin state (sample rate, block size, editor-open flag, the
// HostPreInit magic guard) the real AEffect struct would otherwise hold.
type Bridge struct {
	channels          *rendezvous.Channels
	dispatchTable     convert.Table
	hostCallbackTable convert.Table
	hostSink          HostCallbackSink
	machine           *lifecycle.Machine
	metrics           *observability.Metrics
	logger            *slog.Logger

	// magic mirrors AEffect.magic: zero until effOpen's WH round trip
	// completes successfully. Any dispatcher call arriving before that is
	// the Ardour 5.x HostPreInit condition and must be answered locally
	// without a WH round trip, since WH isn't ready to receive it yet.
	magic atomic.Bool

	editorOpen atomic.Bool

	mu          sync.Mutex
	sampleRate  float32
	blockSize   int32
	descriptor  wire.PluginDescriptor

	midiQueue *midiQueue

	// xmlRepresentationWarnOnce logs the effVST3GetXMLRepresentation
	// not-implemented notice at most once per instance rather than once
	// per call, since a host that queries it at all tends to query it
	// repeatedly.
	xmlRepresentationWarnOnce sync.Once
}

// Config bundles the dependencies New needs beyond the connected
// channels.
type Config struct {
	HostSink          HostCallbackSink
	Machine           *lifecycle.Machine
	Metrics           *observability.Metrics
	Logger            *slog.Logger
	MIDIQueueCapacity int
}

// New builds a Bridge ready to serve once channels are connected (i.e.
// after rendezvous.Listener.Accept or group.ClientSession.RequestInstance
// has returned). It does not itself start the host_callback serve loop;
// call Serve for that once the caller is ready to accept inbound calls
// from WH.
func New(channels *rendezvous.Channels, cfg Config) *Bridge {
	if cfg.MIDIQueueCapacity <= 0 {
		cfg.MIDIQueueCapacity = 4096
	}
	if cfg.Machine == nil {
		cfg.Machine = lifecycle.NewMachine()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Bridge{
		channels:          channels,
		dispatchTable:     convert.BuildDispatchTable(),
		hostCallbackTable: convert.BuildHostCallbackTable(),
		hostSink:          cfg.HostSink,
		machine:           cfg.Machine,
		metrics:           cfg.Metrics,
		logger:            logger,
		midiQueue:         newMIDIQueue(cfg.MIDIQueueCapacity),
	}
}

// Machine exposes the bridge's lifecycle state machine so callers (the
// observability readiness checker, the cgo shim's shutdown path) can
// observe or drive it.
func (b *Bridge) Machine() *lifecycle.Machine { return b.machine }

// Descriptor returns the cached plugin descriptor recorded after effOpen.
func (b *Bridge) Descriptor() wire.PluginDescriptor {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.descriptor
}

func (b *Bridge) setCachedAudioConfig(sampleRate float32, blockSize int32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sampleRate != 0 {
		b.sampleRate = sampleRate
	}
	if blockSize != 0 {
		b.blockSize = blockSize
	}
}

// CachedAudioConfig returns the most recently cached sample rate and
// block size, as recorded from effSetSampleRate/effSetBlockSize calls
// that completed a round trip to WH. Calls that arrive before effOpen
// are answered by Dispatch's pre-init guard and are not cached, and np
// never replays the cached values to WH.
func (b *Bridge) CachedAudioConfig() (sampleRate float32, blockSize int32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sampleRate, b.blockSize
}

// Close tears down every channel and transitions the lifecycle machine
// to Dead. It is best-effort: a channel already broken by a crashed WH
// process is not treated as a reason to stop closing the others.
func (b *Bridge) Close() error {
	if b.machine.State() != lifecycle.Closing {
		_ = b.machine.Transition(lifecycle.Closing)
	}
	err := b.channels.Close()
	_ = b.machine.Transition(lifecycle.Dead)
	if err != nil {
		return oops.Wrapf(err, "np: close channels")
	}
	return nil
}

// Serve starts the host_callback server loop, answering audioMaster
// calls WH makes on behalf of the plugin until ctx is cancelled or the
// channel breaks. Run it in its own goroutine; its lifetime matches the
// bridge instance's.
func (b *Bridge) Serve(ctx context.Context) error {
	return b.channels.HostCallback.Serve(ctx, b.handleHostCallback)
}

// errCode extracts an oops error code for metric labeling, falling back
// to "unknown" for a plain error (a closed pipe, a context deadline)
// that never went through oops.Wrapf.
func errCode(err error) string {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return "unknown"
	}
	code, ok := oopsErr.Code().(string)
	if !ok || code == "" {
		return "unknown"
	}
	return code
}
