//go:build integration

// Package bridge_test exercises internal/bridge/np and internal/bridge/wh
// wired together end to end, the same topology rendezvous.Listener/Dial
// produces in production minus the filesystem socket itself: five
// net.Pipe-backed channels, a real np.Bridge on one end, a real wh.Bridge
// on the other, and fakes standing in only for the two things this
// repository can't run on a Linux CI box -- the real VST2 host and the
// loaded Windows plugin DLL.
package bridge_test

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/yabridge-go/bridge/internal/bridge/channel"
	"github.com/yabridge-go/bridge/internal/bridge/convert"
	"github.com/yabridge-go/bridge/internal/bridge/np"
	"github.com/yabridge-go/bridge/internal/bridge/rendezvous"
	"github.com/yabridge-go/bridge/internal/bridge/wh"
	"github.com/yabridge-go/bridge/internal/bridge/wire"
)

// fakeHostCall records one audioMaster call the fakeHost answered.
type fakeHostCall struct {
	opcode wire.Opcode
	hint   convert.Hint
}

// fakeHost stands in for the real VST2 host NP is embedded in, answering
// every host_callback-forwarded audioMaster call with a fixed result and
// recording the call for assertions.
type fakeHost struct {
	mu    sync.Mutex
	calls []fakeHostCall
}

func (f *fakeHost) Call(opcode wire.Opcode, _ int32, _ int64, _ float32, hint convert.Hint) (wire.EventResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, fakeHostCall{opcode: opcode, hint: hint})
	f.mu.Unlock()
	return wire.EventResult{ReturnValue: 1}, nil
}

func (f *fakeHost) Calls() []fakeHostCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]fakeHostCall, len(f.calls))
	copy(out, f.calls)
	return out
}

// fakePlugin stands in for the loaded Windows VST2 DLL on WH's side. It
// holds just enough state (a chunk buffer, a parameter map, a speaker
// arrangement pair, a pending host-bound MIDI batch) to drive every
// scenario in spec.md section 8 without a real plugin binary.
type fakePlugin struct {
	wh *wh.Bridge

	mu             sync.Mutex
	params         map[int32]float32
	chunk          []byte
	outArrangement *wire.SpeakerArrangement
	inArrangement  *wire.SpeakerArrangement
	editorRect     wire.EditorRect
	numOutputs     int32
	pendingMIDI    []wire.MIDIEvent
	dispatchDelay  map[wire.Opcode]time.Duration
	onDispatch     func(opcode wire.Opcode, index int32)
}

func newFakePlugin() *fakePlugin {
	return &fakePlugin{
		params:        map[int32]float32{},
		numOutputs:    2,
		dispatchDelay: map[wire.Opcode]time.Duration{},
	}
}

func (f *fakePlugin) Dispatch(opcode wire.Opcode, index int32, _ int64, _ float32, hint convert.Hint) (int64, convert.Hint, error) {
	if f.onDispatch != nil {
		f.onDispatch(opcode, index)
	}
	if delay := f.dispatchDelay[opcode]; delay > 0 {
		time.Sleep(delay)
	}

	switch opcode {
	case wire.EffOpen:
		return 1, convert.Hint{Descriptor: &wire.PluginDescriptor{NumInputs: 1, NumOutputs: f.numOutputs, NumParams: 8, UniqueID: 42}}, nil
	case wire.EffGetChunk:
		f.mu.Lock()
		defer f.mu.Unlock()
		return int64(len(f.chunk)), convert.Hint{Bytes: f.chunk}, nil
	case wire.EffSetChunk:
		f.mu.Lock()
		f.chunk = append([]byte{}, hint.Bytes...)
		f.mu.Unlock()
		return 1, convert.Hint{}, nil
	case wire.EffEditGetRect:
		return 1, convert.Hint{Rect: &f.editorRect}, nil
	case wire.EffGetSpeakerArrangement:
		f.mu.Lock()
		defer f.mu.Unlock()
		h := convert.Hint{}
		if f.outArrangement != nil {
			h.Speakers = f.outArrangement
		}
		if f.inArrangement != nil {
			h.SpeakersOut = f.inArrangement
		}
		return 1, h, nil
	}
	return 1, convert.Hint{}, nil
}

func (f *fakePlugin) ProcessReplacing(inputs wire.AudioBuffers, _ bool) (wire.AudioBuffers, error) {
	f.mu.Lock()
	pending := f.pendingMIDI
	f.pendingMIDI = nil
	whBridge := f.wh
	f.mu.Unlock()

	if len(pending) > 0 && whBridge != nil {
		batch := wire.MIDIBatch{Events: pending}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_, err := whBridge.HostCallback(ctx, wire.AudioMasterProcessEvents, 0, 0, 0, convert.Hint{MIDI: &batch})
		cancel()
		if err != nil {
			return wire.AudioBuffers{}, err
		}
	}

	samples := make([]float32, int(f.numOutputs)*int(inputs.NumSamples))
	for i := range samples {
		samples[i] = 0.5
	}
	return wire.AudioBuffers{NumChannels: f.numOutputs, NumSamples: inputs.NumSamples, Samples: samples}, nil
}

func (f *fakePlugin) GetParameter(index int32) (float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.params[index], nil
}

func (f *fakePlugin) SetParameter(index int32, value float32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.params[index] = value
	return nil
}

func (f *fakePlugin) queueMIDIOut(evt wire.MIDIEvent) {
	f.mu.Lock()
	f.pendingMIDI = append(f.pendingMIDI, evt)
	f.mu.Unlock()
}

// harness wires a real np.Bridge to a real wh.Bridge over five
// net.Pipe-backed channels and starts both sides' serve loops, mirroring
// what rendezvous.Listener.Accept/Dial hand off to np.New/wh.New once
// every channel is connected.
type harness struct {
	np     *np.Bridge
	wh     *wh.Bridge
	host   *fakeHost
	plugin *fakePlugin
	cancel context.CancelFunc
}

func newHarness() *harness {
	npSide := &rendezvous.Channels{}
	whSide := &rendezvous.Channels{}

	for _, name := range channel.Order {
		a, b := net.Pipe()
		npConn := channel.New(name, a)
		whConn := channel.New(name, b)
		switch name {
		case channel.Dispatch:
			npSide.Dispatch, whSide.Dispatch = npConn, whConn
		case channel.DispatchMIDI:
			npSide.DispatchMIDI, whSide.DispatchMIDI = npConn, whConn
		case channel.HostCallback:
			npSide.HostCallback, whSide.HostCallback = npConn, whConn
		case channel.Parameters:
			npSide.Parameters, whSide.Parameters = npConn, whConn
		case channel.Audio:
			npSide.Audio, whSide.Audio = npConn, whConn
		}
	}

	host := &fakeHost{}
	plug := newFakePlugin()

	npBridge := np.New(npSide, np.Config{HostSink: host, MIDIQueueCapacity: 16})
	whBridge := wh.New(whSide, wh.Config{Host: plug})
	plug.wh = whBridge

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = npBridge.Serve(ctx) }()
	go func() { _ = whBridge.Serve(ctx) }()

	return &harness{np: npBridge, wh: whBridge, host: host, plugin: plug, cancel: cancel}
}

// open primes effOpen the way nativeproxy's bootstrap does, so magic is
// set and later dispatch calls aren't answered by the HostPreInit guard.
func (h *harness) open(ctx context.Context) {
	_, _ = h.np.Dispatch(ctx, wire.EffOpen, 0, 0, 0, convert.Hint{})
}

func (h *harness) close() {
	h.cancel()
	_ = h.np.Close()
	_ = h.wh.Close()
}
