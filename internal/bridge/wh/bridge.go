// Package wh implements the Windows host's half of the bridge: the
// process spawned under Wine that loads the real plugin DLL and mirrors
// every call np.Bridge forwards across the five channels, in the
// opposite role -- wh.Bridge serves dispatch/dispatch_midi/parameters/audio
// and calls out on host_callback, where np.Bridge does the reverse.
//
// Like internal/bridge/np, this package stays pure Go: the actual
// AEffect/audioMaster calls into the loaded DLL are made by
// internal/nativehost's cgo shim, which implements PluginHost.
package wh

import (
	"context"
	"log/slog"

	"github.com/samber/oops"

	"github.com/yabridge-go/bridge/internal/bridge/convert"
	"github.com/yabridge-go/bridge/internal/bridge/lifecycle"
	"github.com/yabridge-go/bridge/internal/bridge/rendezvous"
	"github.com/yabridge-go/bridge/internal/bridge/wire"
	"github.com/yabridge-go/bridge/internal/observability"
)

// PluginHost is the loaded VST2 plugin DLL, called through
// internal/nativehost's cgo bindings against the DLL's exported AEffect
// (only built under GOOS=windows). np's counterpart is
// np.HostCallbackSink; this is the analogous seam on the WH side.
type PluginHost interface {
	// Dispatch calls AEffect::dispatcher and returns its integer result
	// plus whatever native buffer data that opcode produced, decoded into
	// a Hint the same way np's dispatch table hints are populated.
	Dispatch(opcode wire.Opcode, index int32, value int64, opt float32, hint convert.Hint) (returnValue int64, result convert.Hint, err error)
	// ProcessReplacing runs one block through the plugin and returns the
	// output block. replacing is AudioRequest.Replacing as NP sent it;
	// internal/nativehost ignores it and always calls processReplacing.
	ProcessReplacing(inputs wire.AudioBuffers, replacing bool) (wire.AudioBuffers, error)
	GetParameter(index int32) (float32, error)
	SetParameter(index int32, value float32) error
}

// Bridge is one loaded plugin instance's WH-side state: the connected
// channels, the loaded plugin, and the converter table used when WH
// itself originates a call (an audioMaster callback forwarded to NP).
type Bridge struct {
	channels          *rendezvous.Channels
	host              PluginHost
	hostCallbackTable convert.Table
	machine           *lifecycle.Machine
	metrics           *observability.Metrics
	logger            *slog.Logger
}

// Config bundles Bridge's dependencies beyond the connected channels.
type Config struct {
	Host    PluginHost
	Machine *lifecycle.Machine
	Metrics *observability.Metrics
	Logger  *slog.Logger
}

// New builds a Bridge ready to serve once channels are connected.
func New(channels *rendezvous.Channels, cfg Config) *Bridge {
	if cfg.Machine == nil {
		cfg.Machine = lifecycle.NewMachine()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Bridge{
		channels:          channels,
		host:              cfg.Host,
		hostCallbackTable: convert.BuildHostCallbackTable(),
		machine:           cfg.Machine,
		metrics:           cfg.Metrics,
		logger:            logger,
	}
}

// Machine exposes the bridge's lifecycle state machine.
func (b *Bridge) Machine() *lifecycle.Machine { return b.machine }

// Serve runs all four of WH's serve loops (dispatch, dispatch_midi,
// parameters, audio) concurrently until ctx is cancelled or any one of
// them returns an error, in which case the first error is returned and
// the others are left to fail on their own closed channel. Callers that
// want finer-grained control over shutdown ordering can call the
// individual Serve* methods directly instead.
func (b *Bridge) Serve(ctx context.Context) error {
	errCh := make(chan error, 4)
	go func() { errCh <- b.ServeDispatch(ctx) }()
	go func() { errCh <- b.ServeDispatchMIDI(ctx) }()
	go func() { errCh <- b.ServeParameters(ctx) }()
	go func() { errCh <- b.ServeAudio(ctx) }()

	for i := 0; i < 4; i++ {
		if err := <-errCh; err != nil && ctx.Err() == nil {
			return err
		}
	}
	return nil
}

// Close tears down every channel and transitions the lifecycle machine
// to Dead.
func (b *Bridge) Close() error {
	if b.machine.State() != lifecycle.Closing {
		_ = b.machine.Transition(lifecycle.Closing)
	}
	err := b.channels.Close()
	_ = b.machine.Transition(lifecycle.Dead)
	if err != nil {
		return oops.Wrapf(err, "wh: close channels")
	}
	return nil
}
