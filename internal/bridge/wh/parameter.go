package wh

import (
	"context"

	"github.com/samber/oops"

	"github.com/yabridge-go/bridge/internal/bridge/wire"
)

// ServeParameters answers getParameter/setParameter calls arriving on
// their own channel, kept off the audio channel so a parameter sweep from
// the host's UI thread never stalls sample delivery.
func (b *Bridge) ServeParameters(ctx context.Context) error {
	return b.channels.Parameters.Serve(ctx, b.handleParameter)
}

func (b *Bridge) handleParameter(reqBody []byte) ([]byte, error) {
	req, err := wire.DeserializeParameterRequest(wire.NewReader(reqBody))
	if err != nil {
		return nil, oops.Wrapf(err, "wh: decode parameter request")
	}

	// A set acknowledges with None, a get answers with Some(value): the
	// discipline np.GetParameter/SetParameter rely on to tell the two
	// apart on the wire.
	var resp wire.ParameterResponse
	if req.IsSet {
		if err := b.host.SetParameter(req.Index, req.Value); err != nil {
			return nil, oops.With("index", req.Index).Wrapf(err, "wh: set parameter")
		}
	} else {
		value, err := b.host.GetParameter(req.Index)
		if err != nil {
			return nil, oops.With("index", req.Index).Wrapf(err, "wh: get parameter")
		}
		resp.Value = &value
	}

	w := wire.NewWriter(8)
	resp.Serialize(w)
	return w.Bytes(), nil
}
