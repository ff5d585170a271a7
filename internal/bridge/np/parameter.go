package np

import (
	"context"
	"time"

	"github.com/samber/oops"

	"github.com/yabridge-go/bridge/internal/bridge/wire"
	"github.com/yabridge-go/bridge/pkg/errutil"
)

// GetParameter forwards AEffect::getParameter for index over the
// parameters channel, kept entirely separate from dispatch so a host
// automating dozens of parameters per block never queues up behind a
// slow effEditIdle call.
func (b *Bridge) GetParameter(ctx context.Context, index int32) (float32, error) {
	resp, err := b.callParameters(ctx, wire.ParameterRequest{Index: index, IsSet: false})
	if err != nil {
		return 0, err
	}
	if resp.Value == nil {
		return 0, oops.Code(errutil.CodeProtocolMismatch).With("index", index).
			Errorf("np: getParameter reply carried None, expected Some(value)")
	}
	return *resp.Value, nil
}

// SetParameter forwards AEffect::setParameter for index/value.
func (b *Bridge) SetParameter(ctx context.Context, index int32, value float32) error {
	resp, err := b.callParameters(ctx, wire.ParameterRequest{Index: index, IsSet: true, Value: value})
	if err != nil {
		return err
	}
	if resp.Value != nil {
		return oops.Code(errutil.CodeProtocolMismatch).With("index", index).
			Errorf("np: setParameter reply carried Some(value), expected None")
	}
	return nil
}

func (b *Bridge) callParameters(ctx context.Context, req wire.ParameterRequest) (wire.ParameterResponse, error) {
	started := time.Now()

	w := wire.NewWriter(16)
	req.Serialize(w)

	respBody, err := b.channels.Parameters.Call(ctx, w.Bytes())
	if b.metrics != nil {
		b.metrics.ChannelCallLatency.WithLabelValues(string(b.channels.Parameters.Name())).Observe(time.Since(started).Seconds())
	}
	if err != nil {
		if b.metrics != nil {
			b.metrics.ChannelErrorsTotal.WithLabelValues(string(b.channels.Parameters.Name()), errCode(err)).Inc()
		}
		return wire.ParameterResponse{}, oops.With("index", req.Index).Wrapf(err, "np: parameter call")
	}

	resp, err := wire.DeserializeParameterResponse(wire.NewReader(respBody))
	if err != nil {
		return wire.ParameterResponse{}, oops.Wrapf(err, "np: decode parameter response")
	}
	return resp, nil
}
