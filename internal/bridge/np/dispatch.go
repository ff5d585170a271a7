package np

import (
	"context"
	"time"

	"github.com/samber/oops"

	"github.com/yabridge-go/bridge/internal/bridge/channel"
	"github.com/yabridge-go/bridge/internal/bridge/convert"
	"github.com/yabridge-go/bridge/internal/bridge/wire"
	"github.com/yabridge-go/bridge/pkg/errutil"
)

// hasCockosViewAsConfig is the one effCanDo string Reaper and a handful
// of other Cockos-derived hosts probe for on every plugin instantiation.
// Answering it locally instead of round-tripping to WH shaves a full
// dispatch call off of plugin load for every host that asks, which adds
// up across a session with many instances.
const hasCockosViewAsConfig = "hasCockosViewAsConfig"

// Dispatch forwards one AEffect::dispatcher call to WH and returns its
// result, applying the same short-circuits the real yabridge native
// proxy does before ever touching the wire: the Ardour HostPreInit
// guard, and the hasCockosViewAsConfig effCanDo probe.
func (b *Bridge) Dispatch(ctx context.Context, opcode wire.Opcode, index int32, value int64, opt float32, hint convert.Hint) (wire.EventResult, error) {
	if opcode == wire.EffCanDo && string(hint.Bytes) == hasCockosViewAsConfig {
		// libSwell's GUI path can't answer this truthfully; -1 tells the
		// host definitively "no" rather than "unknown", matching the
		// real plugin's own canDo convention for an unsupported query.
		return wire.EventResult{ReturnValue: -1}, nil
	}

	if opcode == wire.EffVST3GetXMLRepresentation {
		b.xmlRepresentationWarnOnce.Do(func() {
			errutil.LogError(b.logger, "VST3 XML representation controller is not implemented",
				oops.Code(errutil.CodeNotImplemented).With("opcode", int32(opcode)).
					Errorf("np: effVST3GetXMLRepresentation is a deliberate stub"))
		})
		return wire.EventResult{ReturnValue: wire.ResultNotImplemented}, nil
	}

	if !b.magic.Load() && opcode != wire.EffOpen {
		// Ardour's plugin scanner calls dispatcher (most often
		// effGetEffectName or effGetVendorString) against a freshly
		// allocated AEffect before effOpen has ever run, back when
		// AEffect.magic is still zero. WH hasn't connected yet at that
		// point, so there's nothing to forward to; answer as a
		// not-yet-initialized plugin would.
		errutil.LogError(b.logger, "dispatch call before effOpen completed",
			oops.Code(errutil.CodeHostPreInit).With("opcode", int32(opcode)).
				Errorf("np: dispatch arrived before effOpen completed"))
		return wire.EventResult{ReturnValue: 0}, nil
	}

	conv := b.dispatchTable.Lookup(opcode)
	payload, err := conv.ToPayload(index, value, opt, hint)
	if err != nil {
		return wire.EventResult{}, oops.With("opcode", int32(opcode)).Wrapf(err, "np: build dispatch payload")
	}

	ch := b.channels.Dispatch
	if opcode == wire.EffProcessEvents {
		ch = b.channels.DispatchMIDI
	}

	evt := wire.Event{Opcode: opcode, Index: index, Value: value, Opt: opt, Payload: payload}
	if conv.ToValuePayload != nil {
		evt.ValuePayload = conv.ToValuePayload(hint)
	}

	result, err := b.call(ctx, ch, evt)
	if err != nil {
		return wire.EventResult{}, err
	}

	b.observeDispatchSideEffects(opcode, index, opt, result)

	return result, nil
}

// call wraps one Event/EventResult round trip over ch, serializing the
// request and deserializing the response and recording channel metrics.
func (b *Bridge) call(ctx context.Context, ch *channel.Channel, evt wire.Event) (wire.EventResult, error) {
	started := time.Now()

	w := wire.NewWriter(128)
	evt.Serialize(w)

	respBody, err := ch.Call(ctx, w.Bytes())
	if b.metrics != nil {
		b.metrics.ChannelCallLatency.WithLabelValues(string(ch.Name())).Observe(time.Since(started).Seconds())
	}
	if err != nil {
		if b.metrics != nil {
			b.metrics.ChannelErrorsTotal.WithLabelValues(string(ch.Name()), errCode(err)).Inc()
		}
		return wire.EventResult{}, oops.With("channel", string(ch.Name())).Wrapf(err, "np: dispatch call")
	}

	result, err := wire.DeserializeEventResult(wire.NewReader(respBody))
	if err != nil {
		return wire.EventResult{}, oops.With("channel", string(ch.Name())).Wrapf(err, "np: decode dispatch result")
	}
	return result, nil
}

// observeDispatchSideEffects updates the local plugin-state mirror
// (magic, editorOpen, cached sample rate/block size, descriptor) after
// a successful round trip, the same bookkeeping the real AEffect struct
// would update in-process.
func (b *Bridge) observeDispatchSideEffects(opcode wire.Opcode, index int32, opt float32, result wire.EventResult) {
	switch opcode {
	case wire.EffOpen:
		b.magic.Store(true)
		if result.Payload.Kind == wire.PayloadDescriptor {
			b.mu.Lock()
			b.descriptor = result.Payload.Descriptor
			b.mu.Unlock()
		}
	case wire.EffClose:
		b.magic.Store(false)
	case wire.EffEditOpen:
		b.editorOpen.Store(true)
	case wire.EffEditClose:
		b.editorOpen.Store(false)
	case wire.EffSetSampleRate:
		b.setCachedAudioConfig(opt, 0)
	case wire.EffSetBlockSize:
		b.setCachedAudioConfig(0, int32(index))
	}
}

// EditorOpen reports whether the plugin's editor window is currently
// open, as tracked through effEditOpen/effEditClose dispatch calls.
func (b *Bridge) EditorOpen() bool { return b.editorOpen.Load() }

// CloseEffect performs effClose's best-effort shutdown: it dispatches
// effClose to WH with a short deadline so a hung plugin doesn't block
// the host's unload indefinitely, then tears down the channels
// regardless of whether that call succeeded.
func (b *Bridge) CloseEffect(ctx context.Context) error {
	if b.magic.Load() {
		closeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		_, err := b.Dispatch(closeCtx, wire.EffClose, 0, 0, 0, convert.Hint{})
		cancel()
		if err != nil {
			b.logger.Warn("effClose dispatch failed, closing channels anyway", "error", err)
		}
	}
	return b.Close()
}
