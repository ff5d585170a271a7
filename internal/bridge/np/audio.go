package np

import (
	"context"
	"time"

	"github.com/samber/oops"

	"github.com/yabridge-go/bridge/internal/bridge/convert"
	"github.com/yabridge-go/bridge/internal/bridge/wire"
	"github.com/yabridge-go/bridge/pkg/errutil"
)

// ProcessAudio sends one block to WH's audio channel and returns the
// processed output, then drains whatever host-bound MIDI events
// accumulated in the queue while that block was in flight -- computing
// audio first and draining MIDI immediately after, rather than before,
// bounds the extra latency a queued audioMasterProcessEvents call adds
// to at most one block instead of stalling the block that's due right
// now.
func (b *Bridge) ProcessAudio(ctx context.Context, req wire.AudioRequest) (wire.AudioResponse, error) {
	started := time.Now()

	w := wire.NewWriter(256)
	req.Serialize(w)

	respBody, err := b.channels.Audio.Call(ctx, w.Bytes())
	if b.metrics != nil {
		b.metrics.ChannelCallLatency.WithLabelValues(string(b.channels.Audio.Name())).Observe(time.Since(started).Seconds())
	}
	if err != nil {
		if b.metrics != nil {
			b.metrics.ChannelErrorsTotal.WithLabelValues(string(b.channels.Audio.Name()), errCode(err)).Inc()
		}
		return wire.AudioResponse{}, oops.Wrapf(err, "np: process audio")
	}

	resp, err := wire.DeserializeAudioResponse(wire.NewReader(respBody))
	if err != nil {
		return wire.AudioResponse{}, oops.Wrapf(err, "np: decode audio response")
	}

	if err := b.validateAudioResponse(req, resp); err != nil {
		if b.metrics != nil {
			b.metrics.ChannelErrorsTotal.WithLabelValues(string(b.channels.Audio.Name()), errCode(err)).Inc()
		}
		return wire.AudioResponse{}, err
	}

	b.drainMIDIQueue()

	return resp, nil
}

// validateAudioResponse enforces that WH's reply describes exactly
// n_outputs x frames samples, where n_outputs comes from the plugin
// descriptor effOpen cached and frames is the block size this request
// asked for. A WH that returns a mismatched shape is a protocol
// violation, not something to silently zero-pad or truncate.
func (b *Bridge) validateAudioResponse(req wire.AudioRequest, resp wire.AudioResponse) error {
	if resp.Outputs.NumSamples != req.Inputs.NumSamples {
		return oops.Code(errutil.CodeProtocolMismatch).
			With("want_frames", req.Inputs.NumSamples).With("got_frames", resp.Outputs.NumSamples).
			Errorf("np: audio response frame count does not match the requested block size")
	}

	b.mu.Lock()
	wantChannels := b.descriptor.NumOutputs
	b.mu.Unlock()
	if wantChannels > 0 && resp.Outputs.NumChannels != wantChannels {
		return oops.Code(errutil.CodeProtocolMismatch).
			With("want_channels", wantChannels).With("got_channels", resp.Outputs.NumChannels).
			Errorf("np: audio response channel count does not match the plugin's declared outputs")
	}

	want := int(resp.Outputs.NumChannels) * int(resp.Outputs.NumSamples)
	if len(resp.Outputs.Samples) != want {
		return oops.Code(errutil.CodeProtocolMismatch).
			With("want_samples", want).With("got_samples", len(resp.Outputs.Samples)).
			Errorf("np: audio response sample count does not match num_channels x num_samples")
	}
	return nil
}

// drainMIDIQueue forwards every MIDI event queued by the host_callback
// handler since the last block to the real host via hostSink, batched
// into a single audioMasterProcessEvents-equivalent call. A drain with
// nothing queued is a no-op; most blocks never touch the host sink at
// all.
func (b *Bridge) drainMIDIQueue() {
	batch := b.midiQueue.Drain()
	if b.metrics != nil {
		b.metrics.MIDIQueueDepth.Set(0)
	}
	if len(batch.Events) == 0 {
		return
	}
	if b.hostSink == nil {
		b.logger.Warn("dropping host-bound MIDI batch: no host sink configured", "events", len(batch.Events))
		return
	}

	if _, err := b.hostSink.Call(wire.AudioMasterProcessEvents, 0, 0, 0, convert.Hint{MIDI: &batch}); err != nil {
		b.logger.Warn("failed to deliver host-bound MIDI batch", "error", err, "events", len(batch.Events))
	}
}
