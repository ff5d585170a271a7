package wh

import (
	"context"

	"github.com/samber/oops"

	"github.com/yabridge-go/bridge/internal/bridge/wire"
	"github.com/yabridge-go/bridge/pkg/errutil"
)

// ServeAudio answers every block NP sends on the audio channel by running
// it through PluginHost.ProcessReplacing, which in internal/nativehost
// always calls the plugin's processReplacing whatever the request's
// Replacing flag says.
func (b *Bridge) ServeAudio(ctx context.Context) error {
	return b.channels.Audio.Serve(ctx, b.handleAudio)
}

func (b *Bridge) handleAudio(reqBody []byte) ([]byte, error) {
	req, err := wire.DeserializeAudioRequest(wire.NewReader(reqBody))
	if err != nil {
		return nil, oops.Wrapf(err, "wh: decode audio request")
	}

	outputs, err := b.host.ProcessReplacing(req.Inputs, req.Replacing)
	if err != nil {
		return nil, oops.Wrapf(err, "wh: process audio block")
	}

	if outputs.NumSamples != req.Inputs.NumSamples {
		return nil, oops.Code(errutil.CodeProtocolMismatch).
			With("want_frames", req.Inputs.NumSamples).With("got_frames", outputs.NumSamples).
			Errorf("wh: plugin returned a different frame count than it was given")
	}
	if want := int(outputs.NumChannels) * int(outputs.NumSamples); len(outputs.Samples) != want {
		return nil, oops.Code(errutil.CodeProtocolMismatch).
			With("want_samples", want).With("got_samples", len(outputs.Samples)).
			Errorf("wh: plugin returned a sample count that doesn't match num_channels x num_samples")
	}

	resp := wire.AudioResponse{Outputs: outputs}
	w := wire.NewWriter(len(reqBody))
	resp.Serialize(w)
	return w.Bytes(), nil
}
