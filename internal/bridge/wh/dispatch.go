package wh

import (
	"context"

	"github.com/samber/oops"

	"github.com/yabridge-go/bridge/internal/bridge/convert"
	"github.com/yabridge-go/bridge/internal/bridge/wire"
)

// ServeDispatch answers every Event arriving on the dispatch channel by
// calling through to the loaded plugin.
func (b *Bridge) ServeDispatch(ctx context.Context) error {
	return b.channels.Dispatch.Serve(ctx, b.handleDispatch)
}

// ServeDispatchMIDI answers effProcessEvents calls arriving on their own
// channel, kept separate from ServeDispatch for the same reason NP sends
// them there: a dense MIDI stream must never queue up behind a slow
// effEditIdle call sharing the main dispatch channel.
func (b *Bridge) ServeDispatchMIDI(ctx context.Context) error {
	return b.channels.DispatchMIDI.Serve(ctx, b.handleDispatch)
}

func (b *Bridge) handleDispatch(reqBody []byte) ([]byte, error) {
	evt, err := wire.DeserializeEvent(wire.NewReader(reqBody))
	if err != nil {
		return nil, oops.Wrapf(err, "wh: decode dispatch event")
	}

	hint := decodeDispatchRequest(evt.Payload)
	if evt.ValuePayload != nil && evt.ValuePayload.Kind == wire.PayloadSpeakerArrangement {
		speakersOut := evt.ValuePayload.Speakers
		hint.SpeakersOut = &speakersOut
	}

	returnValue, resultHint, err := b.host.Dispatch(evt.Opcode, evt.Index, evt.Value, evt.Opt, hint)
	if err != nil {
		return nil, oops.With("opcode", int32(evt.Opcode)).Wrapf(err, "wh: plugin dispatch")
	}

	result := wire.EventResult{
		ReturnValue: returnValue,
		Payload:     encodeDispatchResult(evt, resultHint),
	}
	if evt.Opcode == wire.EffGetSpeakerArrangement && resultHint.SpeakersOut != nil {
		result.ValuePayload = &wire.EventPayload{Kind: wire.PayloadSpeakerArrangement, Speakers: *resultHint.SpeakersOut}
	}

	w := wire.NewWriter(128)
	result.Serialize(w)
	return w.Bytes(), nil
}

// decodeDispatchRequest pulls whatever native-bound data NP attached to
// the request out of its EventPayload. Unlike np's dispatch table, this
// switches directly on the wire payload rather than going through
// convert.Table, since that table's ToPayload/FromResult pair models
// the request-initiating side's encode/decode; WH is always on the
// answering side of this channel and needs the data the payload already
// carries, not a re-derivation of it.
func decodeDispatchRequest(payload wire.EventPayload) convert.Hint {
	switch payload.Kind {
	case wire.PayloadChunk:
		return convert.Hint{Bytes: payload.Chunk}
	case wire.PayloadString:
		return convert.Hint{Bytes: []byte(payload.Str)}
	case wire.PayloadMIDIBatch:
		midi := payload.MIDI
		return convert.Hint{MIDI: &midi}
	case wire.PayloadSpeakerArrangement:
		speakers := payload.Speakers
		return convert.Hint{Speakers: &speakers}
	case wire.PayloadWindowHandle:
		return convert.Hint{WindowHandle: payload.WindowHandle}
	default:
		return convert.Hint{}
	}
}

// encodeDispatchResult builds the response payload NP expects for evt,
// using the request's own payload kind as the marker for what shape of
// answer it wants (PayloadWantsString, PayloadWantsRect,
// PayloadWantsChunkBuffer), falling back to the handful of
// get-properties opcodes whose request carries no marker at all.
func encodeDispatchResult(evt wire.Event, result convert.Hint) wire.EventPayload {
	switch evt.Payload.Kind {
	case wire.PayloadWantsString:
		return wire.EventPayload{Kind: wire.PayloadString, Str: string(result.Bytes)}
	case wire.PayloadWantsRect:
		rect := wire.EditorRect{}
		if result.Rect != nil {
			rect = *result.Rect
		}
		return wire.EventPayload{Kind: wire.PayloadEditorRect, Rect: rect}
	case wire.PayloadWantsChunkBuffer:
		return wire.EventPayload{Kind: wire.PayloadChunk, Chunk: result.Bytes}
	}

	switch evt.Opcode {
	case wire.EffOpen:
		descriptor := wire.PluginDescriptor{}
		if result.Descriptor != nil {
			descriptor = *result.Descriptor
		}
		return wire.EventPayload{Kind: wire.PayloadDescriptor, Descriptor: descriptor}
	case wire.EffGetInputProperties, wire.EffGetOutputProperties:
		props := wire.IOProperties{}
		if result.IOProps != nil {
			props = *result.IOProps
		}
		return wire.EventPayload{Kind: wire.PayloadIOProperties, IOProps: props}
	case wire.EffGetParameterProperties:
		props := wire.ParameterProperties{}
		if result.ParamProps != nil {
			props = *result.ParamProps
		}
		return wire.EventPayload{Kind: wire.PayloadParameterProperties, ParamProps: props}
	case wire.EffGetMidiKeyName:
		name := wire.MIDIKeyName{}
		if result.MIDIKeyName != nil {
			name = *result.MIDIKeyName
		}
		return wire.EventPayload{Kind: wire.PayloadMIDIKeyName, MIDIKeyName: name}
	case wire.EffGetSpeakerArrangement:
		arrangement := wire.SpeakerArrangement{}
		if result.Speakers != nil {
			arrangement = *result.Speakers
		}
		return wire.EventPayload{Kind: wire.PayloadSpeakerArrangement, Speakers: arrangement}
	}

	return wire.EventPayload{Kind: wire.PayloadNone}
}
