package wh

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yabridge-go/bridge/internal/bridge/channel"
	"github.com/yabridge-go/bridge/internal/bridge/convert"
	"github.com/yabridge-go/bridge/internal/bridge/rendezvous"
	"github.com/yabridge-go/bridge/internal/bridge/wire"
	"github.com/yabridge-go/bridge/pkg/errutil"
)

// fakePluginHost stands in for internal/nativehost's cgo-backed Instance.
type fakePluginHost struct {
	dispatchReturn int64
	dispatchHint   convert.Hint
	dispatchErr    error
	lastOpcode     wire.Opcode
	lastHint       convert.Hint

	paramValues map[int32]float32

	// processReplacingOverride, when non-nil, replaces the identity
	// behavior ProcessReplacing normally has -- used to simulate a
	// plugin returning a malformed block shape.
	processReplacingOverride func(wire.AudioBuffers) wire.AudioBuffers
}

func (f *fakePluginHost) Dispatch(opcode wire.Opcode, _ int32, _ int64, _ float32, hint convert.Hint) (int64, convert.Hint, error) {
	f.lastOpcode = opcode
	f.lastHint = hint
	return f.dispatchReturn, f.dispatchHint, f.dispatchErr
}

func (f *fakePluginHost) ProcessReplacing(inputs wire.AudioBuffers, _ bool) (wire.AudioBuffers, error) {
	if f.processReplacingOverride != nil {
		return f.processReplacingOverride(inputs), nil
	}
	return inputs, nil
}

func (f *fakePluginHost) GetParameter(index int32) (float32, error) {
	return f.paramValues[index], nil
}

func (f *fakePluginHost) SetParameter(index int32, value float32) error {
	if f.paramValues == nil {
		f.paramValues = map[int32]float32{}
	}
	f.paramValues[index] = value
	return nil
}

// wiredPair builds a Bridge backed by net.Pipe connections for every
// channel and returns the Bridge alongside the raw peer ends a test
// fake-NP goroutine uses to drive requests.
func wiredPair(t *testing.T, host PluginHost) (*Bridge, *rendezvous.Channels) {
	t.Helper()

	whSide := &rendezvous.Channels{}
	npSide := &rendezvous.Channels{}

	for _, name := range channel.Order {
		a, b := net.Pipe()
		t.Cleanup(func() { a.Close(); b.Close() })
		wh := channel.New(name, a)
		np := channel.New(name, b)
		switch name {
		case channel.Dispatch:
			whSide.Dispatch, npSide.Dispatch = wh, np
		case channel.DispatchMIDI:
			whSide.DispatchMIDI, npSide.DispatchMIDI = wh, np
		case channel.HostCallback:
			whSide.HostCallback, npSide.HostCallback = wh, np
		case channel.Parameters:
			whSide.Parameters, npSide.Parameters = wh, np
		case channel.Audio:
			whSide.Audio, npSide.Audio = wh, np
		}
	}

	bridge := New(whSide, Config{Host: host})
	return bridge, npSide
}

func TestServeDispatchRoundTrip(t *testing.T) {
	host := &fakePluginHost{dispatchReturn: 1}
	bridge, np := wiredPair(t, host)

	serveCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go bridge.ServeDispatch(serveCtx)

	w := wire.NewWriter(32)
	wire.Event{Opcode: wire.EffOpen}.Serialize(w)

	callCtx, cancelCall := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancelCall()
	respBody, err := np.Dispatch.Call(callCtx, w.Bytes())
	require.NoError(t, err)

	result, err := wire.DeserializeEventResult(wire.NewReader(respBody))
	require.NoError(t, err)
	assert.EqualValues(t, 1, result.ReturnValue)
	assert.Equal(t, wire.EffOpen, host.lastOpcode)
}

func TestServeDispatchDecodesChunkRequestHint(t *testing.T) {
	host := &fakePluginHost{dispatchReturn: 1}
	bridge, np := wiredPair(t, host)

	serveCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go bridge.ServeDispatch(serveCtx)

	w := wire.NewWriter(32)
	wire.Event{
		Opcode:  wire.EffSetChunk,
		Payload: wire.EventPayload{Kind: wire.PayloadChunk, Chunk: []byte{1, 2, 3}},
	}.Serialize(w)

	callCtx, cancelCall := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancelCall()
	_, err := np.Dispatch.Call(callCtx, w.Bytes())
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, host.lastHint.Bytes)
}

func TestServeDispatchEncodesWantsStringResult(t *testing.T) {
	host := &fakePluginHost{dispatchReturn: 1, dispatchHint: convert.Hint{Bytes: []byte("Delay")}}
	bridge, np := wiredPair(t, host)

	serveCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go bridge.ServeDispatch(serveCtx)

	w := wire.NewWriter(32)
	wire.Event{
		Opcode:  wire.EffGetEffectName,
		Payload: wire.EventPayload{Kind: wire.PayloadWantsString},
	}.Serialize(w)

	callCtx, cancelCall := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancelCall()
	respBody, err := np.Dispatch.Call(callCtx, w.Bytes())
	require.NoError(t, err)

	result, err := wire.DeserializeEventResult(wire.NewReader(respBody))
	require.NoError(t, err)
	assert.Equal(t, wire.PayloadString, result.Payload.Kind)
	assert.Equal(t, "Delay", result.Payload.Str)
}

func TestServeDispatchEncodesRectResult(t *testing.T) {
	rect := wire.EditorRect{Top: 0, Left: 0, Bottom: 480, Right: 640}
	host := &fakePluginHost{dispatchReturn: 1, dispatchHint: convert.Hint{Rect: &rect}}
	bridge, np := wiredPair(t, host)

	serveCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go bridge.ServeDispatch(serveCtx)

	w := wire.NewWriter(32)
	wire.Event{
		Opcode:  wire.EffEditGetRect,
		Payload: wire.EventPayload{Kind: wire.PayloadWantsRect},
	}.Serialize(w)

	callCtx, cancelCall := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancelCall()
	respBody, err := np.Dispatch.Call(callCtx, w.Bytes())
	require.NoError(t, err)

	result, err := wire.DeserializeEventResult(wire.NewReader(respBody))
	require.NoError(t, err)
	assert.Equal(t, wire.PayloadEditorRect, result.Payload.Kind)
	assert.Equal(t, rect, result.Payload.Rect)
}

func TestServeDispatchEncodesDescriptorOnEffOpen(t *testing.T) {
	descriptor := wire.PluginDescriptor{NumInputs: 2, NumOutputs: 2, NumParams: 4, UniqueID: 1234}
	host := &fakePluginHost{dispatchReturn: 1, dispatchHint: convert.Hint{Descriptor: &descriptor}}
	bridge, np := wiredPair(t, host)

	serveCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go bridge.ServeDispatch(serveCtx)

	w := wire.NewWriter(32)
	wire.Event{Opcode: wire.EffOpen}.Serialize(w)

	callCtx, cancelCall := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancelCall()
	respBody, err := np.Dispatch.Call(callCtx, w.Bytes())
	require.NoError(t, err)

	result, err := wire.DeserializeEventResult(wire.NewReader(respBody))
	require.NoError(t, err)
	assert.Equal(t, wire.PayloadDescriptor, result.Payload.Kind)
	assert.Equal(t, descriptor, result.Payload.Descriptor)
}

func TestServeDispatchEncodesSpeakerArrangementFallback(t *testing.T) {
	arrangement := wire.SpeakerArrangement{}
	host := &fakePluginHost{dispatchReturn: 1, dispatchHint: convert.Hint{Speakers: &arrangement}}
	bridge, np := wiredPair(t, host)

	serveCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go bridge.ServeDispatch(serveCtx)

	w := wire.NewWriter(32)
	wire.Event{Opcode: wire.EffGetSpeakerArrangement}.Serialize(w)

	callCtx, cancelCall := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancelCall()
	respBody, err := np.Dispatch.Call(callCtx, w.Bytes())
	require.NoError(t, err)

	result, err := wire.DeserializeEventResult(wire.NewReader(respBody))
	require.NoError(t, err)
	assert.Equal(t, wire.PayloadSpeakerArrangement, result.Payload.Kind)
}

func TestServeDispatchMIDIUsesOwnChannel(t *testing.T) {
	host := &fakePluginHost{dispatchReturn: 1}
	bridge, np := wiredPair(t, host)

	serveCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go bridge.ServeDispatchMIDI(serveCtx)

	w := wire.NewWriter(32)
	wire.Event{
		Opcode:  wire.EffProcessEvents,
		Payload: wire.EventPayload{Kind: wire.PayloadMIDIBatch, MIDI: wire.MIDIBatch{Events: []wire.MIDIEvent{{DeltaFrames: 0}}}},
	}.Serialize(w)

	callCtx, cancelCall := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancelCall()
	_, err := np.DispatchMIDI.Call(callCtx, w.Bytes())
	require.NoError(t, err)
	assert.Equal(t, wire.EffProcessEvents, host.lastOpcode)
	assert.Len(t, host.lastHint.MIDI.Events, 1)
}

func TestServeAudioRoundTrip(t *testing.T) {
	host := &fakePluginHost{}
	bridge, np := wiredPair(t, host)

	serveCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go bridge.ServeAudio(serveCtx)

	req := wire.AudioRequest{
		Inputs:    wire.AudioBuffers{NumChannels: 2, NumSamples: 2, Samples: []float32{0.1, 0.2, 0.3, 0.4}},
		Replacing: true,
	}
	w := wire.NewWriter(64)
	req.Serialize(w)

	callCtx, cancelCall := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancelCall()
	respBody, err := np.Audio.Call(callCtx, w.Bytes())
	require.NoError(t, err)

	resp, err := wire.DeserializeAudioResponse(wire.NewReader(respBody))
	require.NoError(t, err)
	assert.Equal(t, req.Inputs.Samples, resp.Outputs.Samples)
}

func TestServeAudioProtocolMismatchOnMalformedBlock(t *testing.T) {
	host := &fakePluginHost{
		processReplacingOverride: func(wire.AudioBuffers) wire.AudioBuffers {
			// Claims 2 channels x 2 frames but only returns 3 samples.
			return wire.AudioBuffers{NumChannels: 2, NumSamples: 2, Samples: []float32{0.1, 0.2, 0.3}}
		},
	}
	bridge, np := wiredPair(t, host)

	serveErrCh := make(chan error, 1)
	go func() { serveErrCh <- bridge.ServeAudio(context.Background()) }()

	req := wire.AudioRequest{
		Inputs:    wire.AudioBuffers{NumChannels: 2, NumSamples: 2, Samples: []float32{0.1, 0.2, 0.3, 0.4}},
		Replacing: true,
	}
	w := wire.NewWriter(64)
	req.Serialize(w)

	callCtx, cancelCall := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancelCall()
	_, callErr := np.Audio.Call(callCtx, w.Bytes())
	require.Error(t, callErr, "ServeAudio must not write a response back for a malformed block")

	select {
	case err := <-serveErrCh:
		errutil.AssertErrorCode(t, err, errutil.CodeProtocolMismatch)
	case <-time.After(2 * time.Second):
		t.Fatal("ServeAudio never returned after the malformed block")
	}
}

func TestServeParametersGetAndSet(t *testing.T) {
	host := &fakePluginHost{paramValues: map[int32]float32{3: 0.5}}
	bridge, np := wiredPair(t, host)

	serveCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go bridge.ServeParameters(serveCtx)

	callCtx, cancelCall := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancelCall()

	getW := wire.NewWriter(16)
	wire.ParameterRequest{Index: 3}.Serialize(getW)
	getResp, err := np.Parameters.Call(callCtx, getW.Bytes())
	require.NoError(t, err)
	getResult, err := wire.DeserializeParameterResponse(wire.NewReader(getResp))
	require.NoError(t, err)
	require.NotNil(t, getResult.Value)
	assert.Equal(t, float32(0.5), *getResult.Value)

	setW := wire.NewWriter(16)
	wire.ParameterRequest{Index: 3, IsSet: true, Value: 0.9}.Serialize(setW)
	setResp, err := np.Parameters.Call(callCtx, setW.Bytes())
	require.NoError(t, err)
	assert.Equal(t, float32(0.9), host.paramValues[3])

	setResult, err := wire.DeserializeParameterResponse(wire.NewReader(setResp))
	require.NoError(t, err)
	assert.Nil(t, setResult.Value)
}

func TestHostCallbackForwardsToNP(t *testing.T) {
	host := &fakePluginHost{}
	bridge, np := wiredPair(t, host)

	serveErrCh := make(chan error, 1)
	go func() {
		serveErrCh <- np.HostCallback.Serve(context.Background(), func(reqBody []byte) ([]byte, error) {
			evt, err := wire.DeserializeEvent(wire.NewReader(reqBody))
			require.NoError(t, err)
			assert.Equal(t, wire.AudioMasterAutomate, evt.Opcode)

			w := wire.NewWriter(32)
			wire.EventResult{ReturnValue: 1}.Serialize(w)
			return w.Bytes(), nil
		})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	result, err := bridge.HostCallback(ctx, wire.AudioMasterAutomate, 3, 0, 0.5, convert.Hint{})
	require.NoError(t, err)
	assert.EqualValues(t, 1, result.ReturnValue)
}

func TestCloseTearsDownChannels(t *testing.T) {
	host := &fakePluginHost{}
	bridge, np := wiredPair(t, host)

	require.NoError(t, bridge.Close())

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, err := np.Dispatch.Call(ctx, []byte{})
	require.Error(t, err)
}
