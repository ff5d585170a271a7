// Package convert implements the direction-aware opcode-to-payload
// conversion table that decides, for a given VST2 opcode and call
// direction, what an Event's value/ptr arguments actually mean on the
// wire. It is the Go rendering of yabridge's DispatchDataConverter: one
// table built once per direction, rather than hand-writing a branch for
// every opcode at every call site.
//
// NP and WH never interpret a raw pointer themselves; the cgo shims in
// internal/nativeproxy and internal/nativehost decode native buffers into a
// Hint before calling into this package, and encode a Hint's Write side
// back into the native buffer afterward. That keeps this package -- the
// part doing the actual protocol reasoning -- pure Go and unit-testable
// without a Windows host or a loaded plugin.
package convert

import (
	"github.com/samber/oops"

	"github.com/yabridge-go/bridge/internal/bridge/wire"
)

const CodeUnknownOpcode = "convert_unknown_opcode"

// Hint carries whatever out-of-band native data an opcode's ptr argument
// points to, decoded by the caller's native shim before the call reaches
// this package and re-encoded by the shim afterward.
type Hint struct {
	// Bytes is the input buffer contents for opcodes that write through
	// ptr (effSetChunk, effString2Parameter, and so on).
	Bytes []byte
	// BufferCap is the capacity of a caller-supplied output buffer, used
	// so ToPayload can tell a "give me a string" request apart from one
	// the plugin doesn't support at all. VST2 host implementations vary
	// widely in the buffer size they actually allocate; the original
	// yabridge code assumes worst case, and so do we.
	BufferCap    int32
	MIDI         *wire.MIDIBatch
	Speakers     *wire.SpeakerArrangement
	// SpeakersOut carries the second arrangement effSetSpeakerArrangement
	// and effGetSpeakerArrangement pass through their `value` argument
	// (the input arrangement) alongside `ptr`'s arrangement (the output
	// one, carried in Speakers). It travels as Event/EventResult's ValuePayload rather than
	// forwarding the native `value` pointer across processes, the same
	// indirection every other pointer-bearing opcode already needs.
	SpeakersOut  *wire.SpeakerArrangement
	WindowHandle uint64
	Rect         *wire.EditorRect
	IOProps      *wire.IOProperties
	ParamProps   *wire.ParameterProperties
	MIDIKeyName  *wire.MIDIKeyName
	// Descriptor carries the loaded plugin's static shape (channel/param
	// counts, unique ID, flags) back from WH's effOpen handling. Nothing
	// else populates it: every other opcode's result lives entirely in
	// the fields above.
	Descriptor *wire.PluginDescriptor
}

// ToPayload builds the EventPayload for opcode travelling in dir, given
// the dispatcher call's index/value/opt and any decoded native data in
// hint.
type ToPayload func(index int32, value int64, opt float32, hint Hint) (wire.EventPayload, error)

// FromResult extracts whatever the native shim needs to write back into
// the caller's buffer from an EventResult, returning the decoded Hint.
type FromResult func(result wire.EventResult) (Hint, error)

// Converter is one opcode's full read/write behavior for one direction.
type Converter struct {
	ToPayload  ToPayload
	FromResult FromResult
	// ToValuePayload builds the second EventPayload for the one opcode
	// family that needs it (effSetSpeakerArrangement, whose `value`
	// argument addresses a second VstSpeakerArrangement alongside `ptr`'s).
	// nil for every other opcode.
	ToValuePayload func(hint Hint) *wire.EventPayload
}

// Table is a direction's full opcode -> Converter map.
type Table map[wire.Opcode]Converter

// defaultConverter treats ptr as an input-only byte buffer and the result
// as a plain integer with no response payload, the behavior
// DispatchDataConverter falls back to for opcodes it has no special
// handling for (the vast majority: effMainsChanged, effSetSampleRate,
// effSetBlockSize, and so on only use index/value/opt).
var defaultConverter = Converter{
	ToPayload: func(index int32, value int64, opt float32, hint Hint) (wire.EventPayload, error) {
		if len(hint.Bytes) == 0 {
			return wire.EventPayload{Kind: wire.PayloadNone}, nil
		}
		return wire.EventPayload{Kind: wire.PayloadChunk, Chunk: hint.Bytes}, nil
	},
	FromResult: func(result wire.EventResult) (Hint, error) {
		return Hint{}, nil
	},
}

// stringReadConverter handles opcodes whose ptr argument is a `char*`
// the plugin or host writes a response string into (effGetEffectName-style
// calls). It is used only for the opcodes the tables below register it
// for; an opcode with no entry gets defaultConverter, which forwards any
// ptr bytes as a raw chunk and reads no string back.
var stringReadConverter = Converter{
	ToPayload: func(index int32, value int64, opt float32, hint Hint) (wire.EventPayload, error) {
		return wire.EventPayload{Kind: wire.PayloadWantsString}, nil
	},
	FromResult: func(result wire.EventResult) (Hint, error) {
		if result.Payload.Kind != wire.PayloadString {
			return Hint{}, nil
		}
		return Hint{Bytes: []byte(result.Payload.Str)}, nil
	},
}

// BuildDispatchTable returns the ToPlugin-direction table used for calls
// arriving on NP's dispatch/dispatch_midi channels (the VST2 host calling
// into the plugin through AEffect::dispatcher).
func BuildDispatchTable() Table {
	t := Table{}

	// Plain string-producing opcodes: the host passes a buffer, WH runs
	// the real dispatcher call and sends back whatever the plugin wrote.
	for _, op := range []wire.Opcode{
		wire.EffGetProgramName,
		wire.EffGetParamLabel,
		wire.EffGetParamDisplay,
		wire.EffGetParamName,
		wire.EffGetProgramNameIndexed,
		wire.EffGetEffectName,
		wire.EffGetVendorString,
		wire.EffGetProductString,
	} {
		t[op] = stringReadConverter
	}

	t[wire.EffEditGetRect] = Converter{
		ToPayload: func(index int32, value int64, opt float32, hint Hint) (wire.EventPayload, error) {
			return wire.EventPayload{Kind: wire.PayloadWantsRect}, nil
		},
		FromResult: func(result wire.EventResult) (Hint, error) {
			if result.Payload.Kind != wire.PayloadEditorRect {
				return Hint{}, nil
			}
			rect := result.Payload.Rect
			return Hint{Rect: &rect}, nil
		},
	}

	t[wire.EffEditOpen] = Converter{
		ToPayload: func(index int32, value int64, opt float32, hint Hint) (wire.EventPayload, error) {
			return wire.EventPayload{Kind: wire.PayloadWindowHandle, WindowHandle: hint.WindowHandle}, nil
		},
		FromResult: defaultConverter.FromResult,
	}

	t[wire.EffGetChunk] = Converter{
		ToPayload: func(index int32, value int64, opt float32, hint Hint) (wire.EventPayload, error) {
			return wire.EventPayload{Kind: wire.PayloadWantsChunkBuffer}, nil
		},
		FromResult: func(result wire.EventResult) (Hint, error) {
			if result.Payload.Kind != wire.PayloadChunk {
				return Hint{}, nil
			}
			return Hint{Bytes: result.Payload.Chunk}, nil
		},
	}

	t[wire.EffSetChunk] = Converter{
		ToPayload: func(index int32, value int64, opt float32, hint Hint) (wire.EventPayload, error) {
			return wire.EventPayload{Kind: wire.PayloadChunk, Chunk: hint.Bytes}, nil
		},
		FromResult: defaultConverter.FromResult,
	}

	// effProcessEvents: the host handed the plugin a MIDI event batch.
	// This travels over dispatch_midi rather than dispatch so a dense
	// MIDI stream can never head-of-line block a slow effEditIdle or
	// effGetChunk call sitting on the main dispatch channel.
	t[wire.EffProcessEvents] = Converter{
		ToPayload: func(index int32, value int64, opt float32, hint Hint) (wire.EventPayload, error) {
			if hint.MIDI == nil {
				return wire.EventPayload{Kind: wire.PayloadMIDIBatch, MIDI: wire.MIDIBatch{}}, nil
			}
			return wire.EventPayload{Kind: wire.PayloadMIDIBatch, MIDI: *hint.MIDI}, nil
		},
		FromResult: defaultConverter.FromResult,
	}

	t[wire.EffGetInputProperties] = ioPropertiesConverter()
	t[wire.EffGetOutputProperties] = ioPropertiesConverter()

	t[wire.EffGetParameterProperties] = Converter{
		ToPayload: func(index int32, value int64, opt float32, hint Hint) (wire.EventPayload, error) {
			return wire.EventPayload{Kind: wire.PayloadNone}, nil
		},
		FromResult: func(result wire.EventResult) (Hint, error) {
			if result.Payload.Kind != wire.PayloadParameterProperties {
				return Hint{}, nil
			}
			props := result.Payload.ParamProps
			return Hint{ParamProps: &props}, nil
		},
	}

	t[wire.EffGetMidiKeyName] = Converter{
		ToPayload: func(index int32, value int64, opt float32, hint Hint) (wire.EventPayload, error) {
			return wire.EventPayload{Kind: wire.PayloadNone}, nil
		},
		FromResult: func(result wire.EventResult) (Hint, error) {
			if result.Payload.Kind != wire.PayloadMIDIKeyName {
				return Hint{}, nil
			}
			name := result.Payload.MIDIKeyName
			return Hint{MIDIKeyName: &name}, nil
		},
	}

	t[wire.EffSetSpeakerArrangement] = Converter{
		ToPayload: func(index int32, value int64, opt float32, hint Hint) (wire.EventPayload, error) {
			if hint.Speakers == nil {
				return wire.EventPayload{Kind: wire.PayloadSpeakerArrangement}, nil
			}
			return wire.EventPayload{Kind: wire.PayloadSpeakerArrangement, Speakers: *hint.Speakers}, nil
		},
		ToValuePayload: func(hint Hint) *wire.EventPayload {
			if hint.SpeakersOut == nil {
				return nil
			}
			return &wire.EventPayload{Kind: wire.PayloadSpeakerArrangement, Speakers: *hint.SpeakersOut}
		},
		FromResult: defaultConverter.FromResult,
	}

	t[wire.EffGetSpeakerArrangement] = Converter{
		ToPayload: func(index int32, value int64, opt float32, hint Hint) (wire.EventPayload, error) {
			return wire.EventPayload{Kind: wire.PayloadNone}, nil
		},
		FromResult: func(result wire.EventResult) (Hint, error) {
			h := Hint{}
			if result.Payload.Kind == wire.PayloadSpeakerArrangement {
				speakers := result.Payload.Speakers
				h.Speakers = &speakers
			}
			if result.ValuePayload != nil && result.ValuePayload.Kind == wire.PayloadSpeakerArrangement {
				speakersOut := result.ValuePayload.Speakers
				h.SpeakersOut = &speakersOut
			}
			return h, nil
		},
	}

	// effCanDo: mostly a plain string round trip, but
	// "hasCockosViewAsConfig" is intercepted by NP itself before it ever
	// reaches this table -- see internal/bridge/np's dispatch
	// short-circuit -- so the converter here only ever sees the cases
	// that do need a WH round trip.
	t[wire.EffCanDo] = Converter{
		ToPayload: func(index int32, value int64, opt float32, hint Hint) (wire.EventPayload, error) {
			return wire.EventPayload{Kind: wire.PayloadString, Str: string(hint.Bytes)}, nil
		},
		FromResult: defaultConverter.FromResult,
	}

	t[wire.EffString2Parameter] = Converter{
		ToPayload: func(index int32, value int64, opt float32, hint Hint) (wire.EventPayload, error) {
			return wire.EventPayload{Kind: wire.PayloadString, Str: string(hint.Bytes)}, nil
		},
		FromResult: defaultConverter.FromResult,
	}

	return t
}

func ioPropertiesConverter() Converter {
	return Converter{
		ToPayload: func(index int32, value int64, opt float32, hint Hint) (wire.EventPayload, error) {
			return wire.EventPayload{Kind: wire.PayloadNone}, nil
		},
		FromResult: func(result wire.EventResult) (Hint, error) {
			if result.Payload.Kind != wire.PayloadIOProperties {
				return Hint{}, nil
			}
			props := result.Payload.IOProps
			return Hint{IOProps: &props}, nil
		},
	}
}

// BuildHostCallbackTable returns the ToHost-direction table used for
// audioMaster callbacks the plugin makes into the host, arriving on WH
// and forwarded over NP's host_callback channel.
func BuildHostCallbackTable() Table {
	t := Table{}

	t[wire.AudioMasterGetVendorString] = stringReadConverter
	t[wire.AudioMasterGetProductString] = stringReadConverter

	t[wire.AudioMasterCanDo] = Converter{
		ToPayload: func(index int32, value int64, opt float32, hint Hint) (wire.EventPayload, error) {
			return wire.EventPayload{Kind: wire.PayloadString, Str: string(hint.Bytes)}, nil
		},
		// Unlike the dispatch table's defaultConverter.FromResult fallback,
		// this one is actually reached: np.Bridge.handleHostCallback calls
		// FromResult against the *incoming* request's payload to recover
		// the capability string the plugin is asking about before handing
		// it to HostCallbackSink.Call. Losing it here would mean every
		// canDo query reaches the real host as an empty string.
		FromResult: func(result wire.EventResult) (Hint, error) {
			if result.Payload.Kind != wire.PayloadString {
				return Hint{}, nil
			}
			return Hint{Bytes: []byte(result.Payload.Str)}, nil
		},
	}

	t[wire.AudioMasterProcessEvents] = Converter{
		ToPayload: func(index int32, value int64, opt float32, hint Hint) (wire.EventPayload, error) {
			if hint.MIDI == nil {
				return wire.EventPayload{Kind: wire.PayloadMIDIBatch, MIDI: wire.MIDIBatch{}}, nil
			}
			return wire.EventPayload{Kind: wire.PayloadMIDIBatch, MIDI: *hint.MIDI}, nil
		},
		FromResult: defaultConverter.FromResult,
	}

	return t
}

// Lookup returns the Converter registered for op, falling back to
// defaultConverter. It never errors: an opcode with no special handling
// still needs a converter, it's just the no-op one. Use LookupStrict when
// an unrecognized opcode should be treated as a protocol violation
// instead (the host_callback direction, where the opcode set is closed
// and small).
func (t Table) Lookup(op wire.Opcode) Converter {
	if c, ok := t[op]; ok {
		return c
	}
	return defaultConverter
}

// LookupStrict returns an error for an opcode with no registered
// Converter instead of silently defaulting.
func (t Table) LookupStrict(op wire.Opcode) (Converter, error) {
	c, ok := t[op]
	if !ok {
		return Converter{}, oops.Code(CodeUnknownOpcode).With("opcode", int32(op)).Errorf("convert: no converter registered for opcode %d", op)
	}
	return c, nil
}
