package nativeproxy

/*
#include <stdint.h>
#include <stdlib.h>
#include <string.h>
#include "np_abi.h"
*/
import "C"

import (
	"context"
	"unsafe"

	"github.com/yabridge-go/bridge/internal/bridge/convert"
	"github.com/yabridge-go/bridge/internal/bridge/wire"
	"github.com/yabridge-go/bridge/pkg/errutil"
)

// npMaxStringLen bounds a string written back into a host-owned buffer
// whose real capacity this side never learns (unlike WH, which allocates
// the buffer itself and knows exactly how big it is). Every opcode that
// takes this path caps at a small, fixed label length in the VST2 SDK
// headers; 256 covers all of them with room to spare.
const npMaxStringLen = 256

// npDispatcherTrampoline answers a real VST2 host's AEffect::dispatcher
// call by decoding whatever ptr/value carry, forwarding the call to WH
// over np.Bridge, and writing the result back into the host's own
// buffers -- the inverse of internal/nativehost's encodeNativeArg/
// decodeNativeResult pair, which do the same translation for WH's
// outgoing calls into the actual plugin.
//
//export npDispatcherTrampoline
func npDispatcherTrampoline(effect unsafe.Pointer, opcode, index C.int32_t, value C.intptr_t, ptr unsafe.Pointer, opt C.float) C.intptr_t {
	inst := instanceForEffect(effect)
	if inst == nil || inst.bridge == nil {
		return 0
	}

	op := wire.Opcode(opcode)
	hint := decodeDispatchArg(op, C.int64_t(value), ptr)

	ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
	result, err := inst.bridge.Dispatch(ctx, op, int32(index), int64(value), float32(opt), hint)
	cancel()
	if err != nil {
		errutil.LogError(inst.logger, "dispatch failed", err)
		return 0
	}

	resultHint, err := convert.BuildDispatchTable().Lookup(op).FromResult(result)
	if err != nil {
		errutil.LogError(inst.logger, "failed to decode dispatch result", err)
		return C.intptr_t(result.ReturnValue)
	}

	inst.encodeDispatchResult(op, ptr, unsafe.Pointer(uintptr(value)), resultHint)

	return C.intptr_t(result.ReturnValue)
}

// decodeDispatchArg decodes whatever of the host's raw ptr/value argument
// an opcode's convert.Converter.ToPayload actually reads. Every opcode
// not listed here ignores the hint entirely (a bare string-reply opcode,
// a chunk-fetch opcode whose real input is the buffer the response
// writes into, and so on), so the default case leaves it empty.
func decodeDispatchArg(opcode wire.Opcode, value C.int64_t, ptr unsafe.Pointer) convert.Hint {
	switch opcode {
	case wire.EffEditOpen:
		return convert.Hint{WindowHandle: uint64(uintptr(ptr))}

	case wire.EffSetChunk:
		if ptr == nil || value <= 0 {
			return convert.Hint{}
		}
		return convert.Hint{Bytes: C.GoBytes(ptr, C.int(value))}

	case wire.EffString2Parameter, wire.EffCanDo:
		if ptr == nil {
			return convert.Hint{}
		}
		return convert.Hint{Bytes: []byte(C.GoString((*C.char)(ptr)))}

	case wire.EffProcessEvents:
		if ptr == nil {
			return convert.Hint{}
		}
		batch := decodeNPMIDIEvents((*C.VstEventsBlock)(ptr))
		return convert.Hint{MIDI: &batch}

	case wire.EffSetSpeakerArrangement:
		var hint convert.Hint
		if ptr != nil {
			in := decodeNPSpeakerArrangement((*C.VstSpeakerArrangementBlock)(ptr))
			hint.Speakers = &in
		}
		if valuePtr := unsafe.Pointer(uintptr(value)); valuePtr != nil {
			out := decodeNPSpeakerArrangement((*C.VstSpeakerArrangementBlock)(valuePtr))
			hint.SpeakersOut = &out
		}
		return hint

	default:
		return convert.Hint{}
	}
}

// encodeDispatchResult writes resultHint's data back into the host's own
// buffers at ptr (and, for the speaker-arrangement pair, valuePtr). A
// couple of opcodes (effGetChunk, effEditGetRect) hand the host a
// pointer into NP's own memory rather than a buffer the host allocated,
// since nothing else owns that data once WH's response is decoded; those
// allocations are tracked on Instance and freed on shutdown or the next
// call of the same kind, mirroring what a real in-process plugin would do
// with its own persistent buffers.
func (inst *Instance) encodeDispatchResult(opcode wire.Opcode, ptr, valuePtr unsafe.Pointer, hint convert.Hint) {
	switch opcode {
	case wire.EffGetProgramName, wire.EffGetParamLabel, wire.EffGetParamDisplay,
		wire.EffGetParamName, wire.EffGetProgramNameIndexed,
		wire.EffGetEffectName, wire.EffGetVendorString, wire.EffGetProductString:
		writeNPString(ptr, hint.Bytes)

	case wire.EffEditGetRect:
		if ptr == nil {
			return
		}
		rect := hint.Rect
		inst.mu.Lock()
		if inst.rectPtr == nil {
			inst.rectPtr = C.malloc(C.size_t(unsafe.Sizeof(C.ERect{})))
		}
		r := (*C.ERect)(inst.rectPtr)
		if rect != nil {
			r.top = C.int16_t(rect.Top)
			r.left = C.int16_t(rect.Left)
			r.bottom = C.int16_t(rect.Bottom)
			r.right = C.int16_t(rect.Right)
		}
		*(*unsafe.Pointer)(ptr) = inst.rectPtr
		inst.mu.Unlock()

	case wire.EffGetChunk:
		if ptr == nil {
			return
		}
		inst.mu.Lock()
		if inst.chunkPtr != nil {
			C.free(inst.chunkPtr)
			inst.chunkPtr = nil
		}
		if len(hint.Bytes) > 0 {
			inst.chunkPtr = C.malloc(C.size_t(len(hint.Bytes)))
			dst := unsafe.Slice((*byte)(inst.chunkPtr), len(hint.Bytes))
			copy(dst, hint.Bytes)
		}
		*(*unsafe.Pointer)(ptr) = inst.chunkPtr
		inst.mu.Unlock()

	case wire.EffGetInputProperties, wire.EffGetOutputProperties:
		if ptr == nil || hint.IOProps == nil {
			return
		}
		p := (*C.VstPinProperties)(ptr)
		writeNPFixedString(p.label[:], hint.IOProps.Label)
		writeNPFixedString(p.shortLabel[:], hint.IOProps.ShortLabel)
		p.flags = C.int32_t(hint.IOProps.Flags)
		p.arrangementType = C.int32_t(hint.IOProps.ArrangementType)

	case wire.EffGetParameterProperties:
		if ptr == nil || hint.ParamProps == nil {
			return
		}
		p := (*C.VstParameterProperties)(ptr)
		p.stepFloat = C.float(hint.ParamProps.StepFloat)
		p.smallStepFloat = C.float(hint.ParamProps.SmallStepFloat)
		p.largeStepFloat = C.float(hint.ParamProps.LargeStepFloat)
		writeNPFixedString(p.label[:], hint.ParamProps.Label)
		p.flags = C.int32_t(hint.ParamProps.Flags)
		p.minInteger = C.int32_t(hint.ParamProps.MinInteger)
		p.maxInteger = C.int32_t(hint.ParamProps.MaxInteger)
		p.stepInteger = C.int32_t(hint.ParamProps.StepInteger)
		p.largeStepInteger = C.int32_t(hint.ParamProps.LargeStepInteger)
		writeNPFixedString(p.shortLabel[:], hint.ParamProps.ShortLabel)
		p.category = C.int16_t(hint.ParamProps.Category)

	case wire.EffGetMidiKeyName:
		if ptr == nil || hint.MIDIKeyName == nil {
			return
		}
		p := (*C.MidiKeyName)(ptr)
		writeNPFixedString(p.name[:], hint.MIDIKeyName.Name)

	case wire.EffGetSpeakerArrangement:
		if ptr != nil && hint.Speakers != nil {
			encodeNPSpeakerArrangement((*C.VstSpeakerArrangementBlock)(ptr), hint.Speakers)
		}
		if valuePtr != nil && hint.SpeakersOut != nil {
			encodeNPSpeakerArrangement((*C.VstSpeakerArrangementBlock)(valuePtr), hint.SpeakersOut)
		}
	}
}

func writeNPString(ptr unsafe.Pointer, s []byte) {
	if ptr == nil {
		return
	}
	if len(s) > npMaxStringLen-1 {
		s = s[:npMaxStringLen-1]
	}
	dst := unsafe.Slice((*byte)(ptr), len(s)+1)
	copy(dst, s)
	dst[len(s)] = 0
}

// writeNPFixedString copies s into a fixed-size char[N] field, always
// leaving room for (and writing) the trailing null terminator.
func writeNPFixedString(field []C.char, s string) {
	n := len(field) - 1
	if n < 0 {
		return
	}
	if len(s) > n {
		s = s[:n]
	}
	for i := 0; i < len(s); i++ {
		field[i] = C.char(s[i])
	}
	field[len(s)] = 0
}

// decodeNPMIDIEvents and decodeNPSpeakerArrangement/encodeNPSpeakerArrangement
// mirror internal/nativehost's equivalents against this package's own cgo
// type instantiation of the same struct layout.
func decodeNPMIDIEvents(block *C.VstEventsBlock) wire.MIDIBatch {
	n := int(block.numEvents)
	if n > int(C.NP_MAX_MIDI_EVENTS) {
		n = int(C.NP_MAX_MIDI_EVENTS)
	}
	batch := wire.MIDIBatch{Events: make([]wire.MIDIEvent, 0, n)}
	for idx := 0; idx < n; idx++ {
		ev := block.events[idx]
		if ev == nil {
			continue
		}
		var data [4]byte
		for b := 0; b < 4; b++ {
			data[b] = byte(ev.data[b])
		}
		batch.Events = append(batch.Events, wire.MIDIEvent{
			DeltaFrames:     int32(ev.deltaFrames),
			Data:            data,
			NoteLength:      int32(ev.noteLength),
			NoteOffset:      int32(ev.noteOffset),
			Detune:          int8(ev.detune),
			NoteOffVelocity: uint8(ev.noteOffVelocity),
			Flags:           int32(ev.flags),
		})
	}
	return batch
}

func decodeNPSpeakerArrangement(p *C.VstSpeakerArrangementBlock) wire.SpeakerArrangement {
	n := int(p.numChannels)
	if n > int(C.NP_MAX_SPEAKERS) {
		n = int(C.NP_MAX_SPEAKERS)
	}
	arr := wire.SpeakerArrangement{Flags: int32(p.flags), Speakers: make([]wire.SpeakerProperties, 0, n)}
	for idx := 0; idx < n; idx++ {
		s := p.speakers[idx]
		arr.Speakers = append(arr.Speakers, wire.SpeakerProperties{
			Name:      C.GoString(&s.name[0]),
			Type:      int32(s._type),
			Azimuth:   float32(s.azimuth),
			Elevation: float32(s.elevation),
			Radius:    float32(s.radius),
			Reserved:  float32(s.reserved),
		})
	}
	return arr
}

func encodeNPSpeakerArrangement(block *C.VstSpeakerArrangementBlock, arr *wire.SpeakerArrangement) {
	block.flags = C.int32_t(arr.Flags)
	n := len(arr.Speakers)
	if n > int(C.NP_MAX_SPEAKERS) {
		n = int(C.NP_MAX_SPEAKERS)
	}
	block.numChannels = C.int32_t(n)
	for idx := 0; idx < n; idx++ {
		s := arr.Speakers[idx]
		dst := &block.speakers[idx]
		writeNPFixedString(dst.name[:], s.Name)
		dst._type = C.int32_t(s.Type)
		dst.azimuth = C.float(s.Azimuth)
		dst.elevation = C.float(s.Elevation)
		dst.radius = C.float(s.Radius)
		dst.reserved = C.float(s.Reserved)
	}
}

// npProcessReplacingTrampoline answers the host's processReplacing call
// by round-tripping the block through WH's audio channel. inputs/outputs
// are already allocated by the host as per-channel float* arrays; unlike
// WH's own ProcessReplacing (which must build both sides itself before
// calling into the real plugin), this side only needs to read one and
// write the other.
//
//export npProcessReplacingTrampoline
func npProcessReplacingTrampoline(effect unsafe.Pointer, inputs, outputs **C.float, sampleFrames C.int32_t) {
	inst := instanceForEffect(effect)
	if inst == nil || inst.bridge == nil {
		return
	}

	numIn := int(inst.effect.numInputs)
	numOut := int(inst.effect.numOutputs)
	frames := int(sampleFrames)

	req := wire.AudioRequest{
		Inputs:    decodeNPChannelPointers(inputs, numIn, frames),
		Replacing: true,
	}

	resp, err := inst.bridge.ProcessAudio(context.Background(), req)
	if err != nil {
		errutil.LogError(inst.logger, "process audio failed", err)
		return
	}

	encodeNPChannelPointers(outputs, resp.Outputs, numOut, frames)
}

func decodeNPChannelPointers(buf **C.float, channels, frames int) wire.AudioBuffers {
	if buf == nil || channels == 0 || frames == 0 {
		return wire.AudioBuffers{NumChannels: int32(channels), NumSamples: int32(frames)}
	}

	ptrArr := (*[1 << 20]*C.float)(unsafe.Pointer(buf))[:channels:channels]
	samples := make([]float32, channels*frames)
	for ch := 0; ch < channels; ch++ {
		chBuf := (*[1 << 20]C.float)(unsafe.Pointer(ptrArr[ch]))[:frames:frames]
		for f := 0; f < frames; f++ {
			samples[ch*frames+f] = float32(chBuf[f])
		}
	}
	return wire.AudioBuffers{NumChannels: int32(channels), NumSamples: int32(frames), Samples: samples}
}

func encodeNPChannelPointers(buf **C.float, audio wire.AudioBuffers, channels, frames int) {
	if buf == nil || channels == 0 || frames == 0 {
		return
	}

	ptrArr := (*[1 << 20]*C.float)(unsafe.Pointer(buf))[:channels:channels]
	for ch := 0; ch < channels; ch++ {
		chBuf := (*[1 << 20]C.float)(unsafe.Pointer(ptrArr[ch]))[:frames:frames]
		for f := 0; f < frames; f++ {
			if ch*frames+f < len(audio.Samples) {
				chBuf[f] = C.float(audio.Samples[ch*frames+f])
			}
		}
	}
}

// npSetParameterTrampoline/npGetParameterTrampoline forward the host's
// setParameter/getParameter straight across the parameters channel. VST2
// gives both calls error-free C signatures, so a failed round trip can
// only be logged, never reported back through the ABI.
//
//export npSetParameterTrampoline
func npSetParameterTrampoline(effect unsafe.Pointer, index C.int32_t, value C.float) {
	inst := instanceForEffect(effect)
	if inst == nil || inst.bridge == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
	defer cancel()
	if err := inst.bridge.SetParameter(ctx, int32(index), float32(value)); err != nil {
		errutil.LogError(inst.logger, "set parameter failed", err)
	}
}

//export npGetParameterTrampoline
func npGetParameterTrampoline(effect unsafe.Pointer, index C.int32_t) C.float {
	inst := instanceForEffect(effect)
	if inst == nil || inst.bridge == nil {
		return 0
	}
	ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
	defer cancel()
	value, err := inst.bridge.GetParameter(ctx, int32(index))
	if err != nil {
		errutil.LogError(inst.logger, "get parameter failed", err)
		return 0
	}
	return C.float(value)
}

// Call implements np.HostCallbackSink: it is how np.Bridge reaches the
// real host whenever WH's plugin needs an audioMaster answer the bridge
// can't supply locally (sample rate, vendor strings, a deferred MIDI
// drain). It is the mirror of the dispatcher trampolines above -- instead
// of decoding a host's native call into a Hint and forwarding it to WH,
// it encodes a Hint coming from WH into a native call against the host's
// own audioMaster function pointer.
func (inst *Instance) Call(opcode wire.Opcode, index int32, value int64, opt float32, hint convert.Hint) (wire.EventResult, error) {
	ptr, release := encodeHostCallbackArg(opcode, hint)
	defer release()

	ret := C.npCallAudioMaster(inst.hostCallback, unsafe.Pointer(inst.effect), C.int32_t(opcode), C.int32_t(index), C.intptr_t(value), ptr, C.float(opt))

	return decodeHostCallbackResult(opcode, ptr, ret), nil
}

// encodeHostCallbackArg builds the ptr argument for a call into the real
// host's audioMaster function: audioMasterCanDo's queried string and
// audioMasterProcessEvents' forwarded MIDI batch are the only opcodes
// np.hostCallbackTable ever builds a payload for that NP also forwards
// through this path (see internal/bridge/np's BuildHostCallbackTable).
func encodeHostCallbackArg(opcode wire.Opcode, hint convert.Hint) (unsafe.Pointer, func()) {
	switch opcode {
	case wire.AudioMasterCanDo:
		if len(hint.Bytes) == 0 {
			return nil, func() {}
		}
		buf := C.malloc(C.size_t(len(hint.Bytes) + 1))
		dst := unsafe.Slice((*byte)(buf), len(hint.Bytes)+1)
		copy(dst, hint.Bytes)
		dst[len(hint.Bytes)] = 0
		return buf, func() { C.free(buf) }

	case wire.AudioMasterProcessEvents:
		if hint.MIDI == nil || len(hint.MIDI.Events) == 0 {
			return nil, func() {}
		}
		return encodeNPMIDIEvents(hint.MIDI)

	case wire.AudioMasterGetVendorString, wire.AudioMasterGetProductString:
		buf := C.calloc(C.size_t(npMaxStringLen), 1)
		return buf, func() { C.free(buf) }

	default:
		return nil, func() {}
	}
}

func encodeNPMIDIEvents(batch *wire.MIDIBatch) (unsafe.Pointer, func()) {
	n := len(batch.Events)
	if n > int(C.NP_MAX_MIDI_EVENTS) {
		n = int(C.NP_MAX_MIDI_EVENTS)
	}

	block := (*C.VstEventsBlock)(C.calloc(1, C.size_t(unsafe.Sizeof(C.VstEventsBlock{}))))
	block.numEvents = C.int32_t(n)

	events := make([]*C.VstMidiEvent, n)
	for idx := 0; idx < n; idx++ {
		src := batch.Events[idx]
		ev := (*C.VstMidiEvent)(C.calloc(1, C.size_t(unsafe.Sizeof(C.VstMidiEvent{}))))
		ev._type = 1
		ev.byteSize = C.int32_t(unsafe.Sizeof(C.VstMidiEvent{}))
		ev.deltaFrames = C.int32_t(src.DeltaFrames)
		ev.noteLength = C.int32_t(src.NoteLength)
		ev.noteOffset = C.int32_t(src.NoteOffset)
		for b := 0; b < 4; b++ {
			ev.data[b] = C.char(src.Data[b])
		}
		ev.detune = C.int8_t(src.Detune)
		ev.noteOffVelocity = C.uint8_t(src.NoteOffVelocity)
		events[idx] = ev
		block.events[idx] = ev
	}

	release := func() {
		for _, ev := range events {
			C.free(unsafe.Pointer(ev))
		}
		C.free(unsafe.Pointer(block))
	}
	return unsafe.Pointer(block), release
}

// decodeHostCallbackResult reads back whatever the real host's
// audioMaster call wrote through ptr. Only the vendor/product string
// queries produce a response payload; every other opcode this path
// forwards is answered purely by its intptr_t return value.
func decodeHostCallbackResult(opcode wire.Opcode, ptr unsafe.Pointer, ret C.intptr_t) wire.EventResult {
	switch opcode {
	case wire.AudioMasterGetVendorString, wire.AudioMasterGetProductString:
		if ptr == nil {
			return wire.EventResult{ReturnValue: int64(ret)}
		}
		return wire.EventResult{
			ReturnValue: int64(ret),
			Payload:     wire.EventPayload{Kind: wire.PayloadString, Str: C.GoString((*C.char)(ptr))},
		}
	default:
		return wire.EventResult{ReturnValue: int64(ret)}
	}
}
