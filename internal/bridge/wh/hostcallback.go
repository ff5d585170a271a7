package wh

import (
	"context"
	"time"

	"github.com/samber/oops"

	"github.com/yabridge-go/bridge/internal/bridge/convert"
	"github.com/yabridge-go/bridge/internal/bridge/wire"
)

// HostCallback forwards one audioMaster callback to NP, the symmetric
// counterpart of np.Bridge.Dispatch: here WH originates the call and NP
// serves it. internal/nativehost's audioMaster trampoline reaches this,
// through the callback cmd/winhost and cmd/grouphost install with
// SetHostCallback, whenever the loaded plugin invokes its host callback
// pointer.
func (b *Bridge) HostCallback(ctx context.Context, opcode wire.Opcode, index int32, value int64, opt float32, hint convert.Hint) (wire.EventResult, error) {
	conv := b.hostCallbackTable.Lookup(opcode)
	payload, err := conv.ToPayload(index, value, opt, hint)
	if err != nil {
		return wire.EventResult{}, oops.With("opcode", int32(opcode)).Wrapf(err, "wh: build host callback payload")
	}

	started := time.Now()

	w := wire.NewWriter(128)
	wire.Event{Opcode: opcode, Index: index, Value: value, Opt: opt, Payload: payload}.Serialize(w)

	respBody, err := b.channels.HostCallback.Call(ctx, w.Bytes())
	if b.metrics != nil {
		b.metrics.ChannelCallLatency.WithLabelValues(string(b.channels.HostCallback.Name())).Observe(time.Since(started).Seconds())
	}
	if err != nil {
		if b.metrics != nil {
			b.metrics.ChannelErrorsTotal.WithLabelValues(string(b.channels.HostCallback.Name()), errCode(err)).Inc()
		}
		return wire.EventResult{}, oops.Wrapf(err, "wh: host callback call")
	}

	return wire.DeserializeEventResult(wire.NewReader(respBody))
}

// errCode extracts an oops error code for metric labeling, falling back
// to "unknown" for errors that never went through oops.
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
