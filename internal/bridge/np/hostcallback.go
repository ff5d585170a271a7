package np

import (
	"github.com/samber/oops"

	"github.com/yabridge-go/bridge/internal/bridge/wire"
)

// handleHostCallback answers one audioMaster call WH forwarded on
// host_callback. audioMasterProcessEvents is special-cased: rather than
// calling into the real host synchronously (which could be arriving
// concurrently with, or just ahead of, the audio thread's own call into
// the plugin), its events are queued and acknowledged immediately; every
// other opcode is answered by calling straight through to hostSink.
func (b *Bridge) handleHostCallback(reqBody []byte) ([]byte, error) {
	evt, err := wire.DeserializeEvent(wire.NewReader(reqBody))
	if err != nil {
		return nil, oops.Wrapf(err, "np: decode host callback event")
	}

	conv := b.hostCallbackTable.Lookup(evt.Opcode)

	var result wire.EventResult
	if evt.Opcode == wire.AudioMasterProcessEvents {
		result = b.queueHostBoundMIDI(evt.Payload)
	} else {
		hint, err := conv.FromResult(wire.EventResult{Payload: evt.Payload})
		if err != nil {
			return nil, oops.With("opcode", int32(evt.Opcode)).Wrapf(err, "np: decode host callback hint")
		}
		if b.hostSink == nil {
			return nil, oops.Errorf("np: host callback received with no host sink configured")
		}
		result, err = b.hostSink.Call(evt.Opcode, evt.Index, evt.Value, evt.Opt, hint)
		if err != nil {
			return nil, oops.With("opcode", int32(evt.Opcode)).Wrapf(err, "np: host callback sink call")
		}
	}

	w := wire.NewWriter(64)
	result.Serialize(w)
	return w.Bytes(), nil
}

func (b *Bridge) queueHostBoundMIDI(payload wire.EventPayload) wire.EventResult {
	if payload.Kind != wire.PayloadMIDIBatch {
		return wire.EventResult{ReturnValue: 1}
	}

	accepted, dropped := b.midiQueue.PushBatch(payload.MIDI)
	if b.metrics != nil {
		b.metrics.MIDIQueueDepth.Set(float64(b.midiQueue.Depth()))
		if dropped > 0 {
			b.metrics.MIDIQueueDropsTotal.Add(float64(dropped))
		}
	}
	if dropped > 0 {
		b.logger.Warn("host-bound MIDI queue overflow, dropping events", "accepted", accepted, "dropped", dropped)
	}
	return wire.EventResult{ReturnValue: 1}
}
