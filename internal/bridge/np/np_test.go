package np

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

// wiredPair builds a Bridge backed by net.Pipe connections for every
// channel and returns the Bridge alongside the raw peer ends a test
// fake-WH goroutine uses to answer requests.
func wiredPair(t *testing.T) (*Bridge, *rendezvous.Channels) {
	t.Helper()

	npSide := &rendezvous.Channels{}
	whSide := &rendezvous.Channels{}

	for _, name := range channel.Order {
		a, b := net.Pipe()
		t.Cleanup(func() { a.Close(); b.Close() })
		np := channel.New(name, a)
		wh := channel.New(name, b)
		switch name {
		case channel.Dispatch:
			npSide.Dispatch, whSide.Dispatch = np, wh
		case channel.DispatchMIDI:
			npSide.DispatchMIDI, whSide.DispatchMIDI = np, wh
		case channel.HostCallback:
			npSide.HostCallback, whSide.HostCallback = np, wh
		case channel.Parameters:
			npSide.Parameters, whSide.Parameters = np, wh
		case channel.Audio:
			npSide.Audio, whSide.Audio = np, wh
		}
	}

	bridge := New(npSide, Config{MIDIQueueCapacity: 8})
	return bridge, whSide
}

func TestDispatchRoundTrip(t *testing.T) {
	bridge, wh := wiredPair(t)

	serveErrCh := make(chan error, 1)
	go func() {
		serveErrCh <- wh.Dispatch.Serve(context.Background(), func(reqBody []byte) ([]byte, error) {
			evt, err := wire.DeserializeEvent(wire.NewReader(reqBody))
			require.NoError(t, err)
			assert.Equal(t, wire.EffOpen, evt.Opcode)

			w := wire.NewWriter(32)
			wire.EventResult{ReturnValue: 1}.Serialize(w)
			return w.Bytes(), nil
		})
	}()

	// effOpen must be answered even though magic starts false: it's the
	// one opcode exempted from the HostPreInit guard.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	result, err := bridge.Dispatch(ctx, wire.EffOpen, 0, 0, 0, convert.Hint{})
	require.NoError(t, err)
	assert.EqualValues(t, 1, result.ReturnValue)
	assert.True(t, bridge.magic.Load())
}

func TestDispatchHostPreInitGuard(t *testing.T) {
	bridge, _ := wiredPair(t)

	// magic is false and opcode isn't effOpen, so this must be answered
	// locally without ever touching the dispatch channel (which has no
	// server running and would otherwise hang this test until timeout).
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	result, err := bridge.Dispatch(ctx, wire.EffGetEffectName, 0, 0, 0, convert.Hint{})
	require.NoError(t, err)
	assert.EqualValues(t, 0, result.ReturnValue)
}

func TestDispatchCockosViewAsConfigShortCircuit(t *testing.T) {
	bridge, _ := wiredPair(t)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	result, err := bridge.Dispatch(ctx, wire.EffCanDo, 0, 0, 0, convert.Hint{Bytes: []byte(hasCockosViewAsConfig)})
	require.NoError(t, err)
	assert.EqualValues(t, -1, result.ReturnValue)
}

func TestDispatchVST3XMLRepresentationNotImplemented(t *testing.T) {
	bridge, _ := wiredPair(t)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	// No dispatch server is running: this opcode must be answered locally
	// without ever touching the channel, same as the hasCockos short
	// circuit.
	result, err := bridge.Dispatch(ctx, wire.EffVST3GetXMLRepresentation, 0, 0, 0, convert.Hint{})
	require.NoError(t, err)
	assert.EqualValues(t, wire.ResultNotImplemented, result.ReturnValue)
}

func TestDispatchVST3ConnectionPointNotifyForwardsRawBytes(t *testing.T) {
	bridge, wh := wiredPair(t)
	bridge.magic.Store(true)

	var gotChunk []byte
	go func() {
		_ = wh.Dispatch.Serve(context.Background(), func(reqBody []byte) ([]byte, error) {
			evt, err := wire.DeserializeEvent(wire.NewReader(reqBody))
			require.NoError(t, err)
			assert.Equal(t, wire.EffVST3ConnectionPointNotify, evt.Opcode)
			gotChunk = evt.Payload.Chunk

			w := wire.NewWriter(32)
			wire.EventResult{ReturnValue: 1}.Serialize(w)
			return w.Bytes(), nil
		})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	message := []byte("notify-payload")
	result, err := bridge.Dispatch(ctx, wire.EffVST3ConnectionPointNotify, 0, 0, 0, convert.Hint{Bytes: message})
	require.NoError(t, err)
	assert.EqualValues(t, 1, result.ReturnValue)
	assert.Equal(t, message, gotChunk)
}

func TestEditorOpenTracking(t *testing.T) {
	bridge, wh := wiredPair(t)
	bridge.magic.Store(true)

	go func() {
		_ = wh.Dispatch.Serve(context.Background(), func(reqBody []byte) ([]byte, error) {
			w := wire.NewWriter(32)
			wire.EventResult{ReturnValue: 1}.Serialize(w)
			return w.Bytes(), nil
		})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := bridge.Dispatch(ctx, wire.EffEditOpen, 0, 0, 0, convert.Hint{WindowHandle: 42})
	require.NoError(t, err)
	assert.True(t, bridge.EditorOpen())

	_, err = bridge.Dispatch(ctx, wire.EffEditClose, 0, 0, 0, convert.Hint{})
	require.NoError(t, err)
	assert.False(t, bridge.EditorOpen())
}

func TestSampleRateAndBlockSizeCached(t *testing.T) {
	bridge, wh := wiredPair(t)
	bridge.magic.Store(true)

	go func() {
		_ = wh.Dispatch.Serve(context.Background(), func(reqBody []byte) ([]byte, error) {
			w := wire.NewWriter(32)
			wire.EventResult{ReturnValue: 1}.Serialize(w)
			return w.Bytes(), nil
		})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := bridge.Dispatch(ctx, wire.EffSetSampleRate, 0, 0, 44100, convert.Hint{})
	require.NoError(t, err)
	_, err = bridge.Dispatch(ctx, wire.EffSetBlockSize, 512, 0, 0, convert.Hint{})
	require.NoError(t, err)

	sr, bs := bridge.CachedAudioConfig()
	assert.Equal(t, float32(44100), sr)
	assert.EqualValues(t, 512, bs)
}

func TestGetSetParameter(t *testing.T) {
	bridge, wh := wiredPair(t)

	go func() {
		_ = wh.Parameters.Serve(context.Background(), func(reqBody []byte) ([]byte, error) {
			req, err := wire.DeserializeParameterRequest(wire.NewReader(reqBody))
			require.NoError(t, err)

			w := wire.NewWriter(16)
			if req.IsSet {
				wire.ParameterResponse{}.Serialize(w)
			} else {
				got := float32(0.75)
				wire.ParameterResponse{Value: &got}.Serialize(w)
			}
			return w.Bytes(), nil
		})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	value, err := bridge.GetParameter(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, float32(0.75), value)

	require.NoError(t, bridge.SetParameter(ctx, 3, 0.25))
}

func TestGetParameterProtocolMismatchWhenReplyCarriesNone(t *testing.T) {
	bridge, wh := wiredPair(t)

	go func() {
		_ = wh.Parameters.Serve(context.Background(), func(reqBody []byte) ([]byte, error) {
			w := wire.NewWriter(8)
			wire.ParameterResponse{}.Serialize(w)
			return w.Bytes(), nil
		})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := bridge.GetParameter(ctx, 3)
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, errutil.CodeProtocolMismatch)
}

func TestSetParameterProtocolMismatchWhenReplyCarriesSome(t *testing.T) {
	bridge, wh := wiredPair(t)

	go func() {
		_ = wh.Parameters.Serve(context.Background(), func(reqBody []byte) ([]byte, error) {
			w := wire.NewWriter(8)
			got := float32(0.25)
			wire.ParameterResponse{Value: &got}.Serialize(w)
			return w.Bytes(), nil
		})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := bridge.SetParameter(ctx, 3, 0.25)
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, errutil.CodeProtocolMismatch)
}

func TestProcessAudio(t *testing.T) {
	bridge, wh := wiredPair(t)

	go func() {
		_ = wh.Audio.Serve(context.Background(), func(reqBody []byte) ([]byte, error) {
			req, err := wire.DeserializeAudioRequest(wire.NewReader(reqBody))
			require.NoError(t, err)

			w := wire.NewWriter(64)
			wire.AudioResponse{Outputs: req.Inputs}.Serialize(w)
			return w.Bytes(), nil
		})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	req := wire.AudioRequest{
		Inputs:    wire.AudioBuffers{NumChannels: 2, NumSamples: 2, Samples: []float32{0.1, 0.2, 0.3, 0.4}},
		Replacing: true,
	}
	resp, err := bridge.ProcessAudio(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, req.Inputs.Samples, resp.Outputs.Samples)
}

func TestProcessAudioProtocolMismatchOnShortResponse(t *testing.T) {
	bridge, wh := wiredPair(t)

	go func() {
		_ = wh.Audio.Serve(context.Background(), func(reqBody []byte) ([]byte, error) {
			w := wire.NewWriter(64)
			// Claims 2 channels x 2 frames but only ships 3 samples.
			wire.AudioResponse{Outputs: wire.AudioBuffers{NumChannels: 2, NumSamples: 2, Samples: []float32{0.1, 0.2, 0.3}}}.Serialize(w)
			return w.Bytes(), nil
		})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	req := wire.AudioRequest{
		Inputs:    wire.AudioBuffers{NumChannels: 2, NumSamples: 2, Samples: []float32{0.1, 0.2, 0.3, 0.4}},
		Replacing: true,
	}
	_, err := bridge.ProcessAudio(ctx, req)
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, errutil.CodeProtocolMismatch)
}

func TestProcessAudioProtocolMismatchOnWrongFrameCount(t *testing.T) {
	bridge, wh := wiredPair(t)

	go func() {
		_ = wh.Audio.Serve(context.Background(), func(reqBody []byte) ([]byte, error) {
			w := wire.NewWriter(64)
			wire.AudioResponse{Outputs: wire.AudioBuffers{NumChannels: 2, NumSamples: 1, Samples: []float32{0.1, 0.2}}}.Serialize(w)
			return w.Bytes(), nil
		})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	req := wire.AudioRequest{
		Inputs:    wire.AudioBuffers{NumChannels: 2, NumSamples: 2, Samples: []float32{0.1, 0.2, 0.3, 0.4}},
		Replacing: true,
	}
	_, err := bridge.ProcessAudio(ctx, req)
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, errutil.CodeProtocolMismatch)
}

type fakeHostSink struct {
	calls []wire.Opcode
}

func (f *fakeHostSink) Call(opcode wire.Opcode, _ int32, _ int64, _ float32, _ convert.Hint) (wire.EventResult, error) {
	f.calls = append(f.calls, opcode)
	return wire.EventResult{ReturnValue: 1}, nil
}

func TestHostCallbackQueuesMIDIAndDrainsDuringProcessAudio(t *testing.T) {
	npSide := &rendezvous.Channels{}
	whSide := &rendezvous.Channels{}
	for _, name := range channel.Order {
		a, b := net.Pipe()
		t.Cleanup(func() { a.Close(); b.Close() })
		np := channel.New(name, a)
		wh := channel.New(name, b)
		switch name {
		case channel.Dispatch:
			npSide.Dispatch, whSide.Dispatch = np, wh
		case channel.DispatchMIDI:
			npSide.DispatchMIDI, whSide.DispatchMIDI = np, wh
		case channel.HostCallback:
			npSide.HostCallback, whSide.HostCallback = np, wh
		case channel.Parameters:
			npSide.Parameters, whSide.Parameters = np, wh
		case channel.Audio:
			npSide.Audio, whSide.Audio = np, wh
		}
	}

	sink := &fakeHostSink{}
	bridge := New(npSide, Config{MIDIQueueCapacity: 8, HostSink: sink})

	serveCtx, cancelServe := context.WithCancel(context.Background())
	defer cancelServe()
	go bridge.Serve(serveCtx)

	go func() {
		_ = whSide.Audio.Serve(context.Background(), func(reqBody []byte) ([]byte, error) {
			w := wire.NewWriter(32)
			wire.AudioResponse{Outputs: wire.AudioBuffers{}}.Serialize(w)
			return w.Bytes(), nil
		})
	}()

	// Simulate WH forwarding a plugin-originated audioMasterProcessEvents
	// call before the next ProcessAudio round.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	w := wire.NewWriter(64)
	wire.Event{
		Opcode:  wire.AudioMasterProcessEvents,
		Payload: wire.EventPayload{Kind: wire.PayloadMIDIBatch, MIDI: wire.MIDIBatch{Events: []wire.MIDIEvent{{DeltaFrames: 0}}}},
	}.Serialize(w)
	_, err := whSide.HostCallback.Call(ctx, w.Bytes())
	require.NoError(t, err)

	assert.Equal(t, 1, bridge.midiQueue.Depth())

	_, err = bridge.ProcessAudio(ctx, wire.AudioRequest{})
	require.NoError(t, err)

	assert.Equal(t, 0, bridge.midiQueue.Depth())
	assert.Contains(t, sink.calls, wire.AudioMasterProcessEvents)
}

func TestCloseEffectTearsDownChannels(t *testing.T) {
	bridge, wh := wiredPair(t)
	bridge.magic.Store(true)

	go func() {
		_ = wh.Dispatch.Serve(context.Background(), func(reqBody []byte) ([]byte, error) {
			w := wire.NewWriter(32)
			wire.EventResult{ReturnValue: 1}.Serialize(w)
			return w.Bytes(), nil
		})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, bridge.CloseEffect(ctx))

	_, err := bridge.GetParameter(ctx, 0)
	require.Error(t, err)
}
