//go:build windows

package nativehost

/*
#include <stdint.h>
#include <stdlib.h>
#include <string.h>

typedef intptr_t (*dispatcherProc)(void *effect, int32_t opcode, int32_t index, intptr_t value, void *ptr, float opt);
typedef void (*processProc)(void *effect, float **inputs, float **outputs, int32_t sampleFrames);
typedef void (*setParameterProc)(void *effect, int32_t index, float value);
typedef float (*getParameterProc)(void *effect, int32_t index);
typedef intptr_t (*audioMasterCallback)(void *effect, int32_t opcode, int32_t index, intptr_t value, void *ptr, float opt);
typedef void *(*vstPluginMainProc)(audioMasterCallback hostCallback);

// AEffect mirrors the public, ABI-stable VST2 AEffect struct (unchanged
// since the SDK's introduction in the late 1990s): a handful of int32
// counters and flags around five callback pointers. pointer-sized fields
// use intptr_t/void* so the layout matches a native amd64 build exactly.
typedef struct {
    int32_t magic;
    dispatcherProc dispatcher;
    processProc process;
    setParameterProc setParameter;
    getParameterProc getParameter;
    int32_t numPrograms;
    int32_t numParams;
    int32_t numInputs;
    int32_t numOutputs;
    int32_t flags;
    intptr_t resvd1;
    intptr_t resvd2;
    int32_t initialDelay;
    int32_t realQualities;
    int32_t offQualities;
    float ioRatio;
    void *object;
    void *user;
    int32_t uniqueID;
    int32_t version;
    processProc processReplacing;
    processProc processDoubleReplacing;
    char future[56];
} AEffect;

typedef struct {
    int16_t top, left, bottom, right;
} ERect;

typedef struct {
    char label[64];
    int32_t flags;
    int32_t arrangementType;
    char shortLabel[8];
} VstPinProperties;

typedef struct {
    float stepFloat, smallStepFloat, largeStepFloat;
    char label[64];
    int32_t flags;
    int32_t minInteger, maxInteger, stepInteger, largeStepInteger;
    char shortLabel[8];
    int16_t category;
} VstParameterProperties;

typedef struct {
    int32_t channel, keyNumber;
    char name[64];
} MidiKeyName;

#define NH_MAX_MIDI_EVENTS 256
#define NH_MAX_SPEAKERS 8

// VstMidiEvent mirrors the common VstEvent header (type/byteSize/
// deltaFrames/flags) followed by the MIDI-specific fields; real VST2
// hosts vary the trailing fields by event type, but every plugin this
// bridge has to support only ever reads the MIDI layout.
typedef struct {
    int32_t type, byteSize, deltaFrames, flags;
    int32_t noteLength, noteOffset;
    char data[4];
    int8_t detune;
    uint8_t noteOffVelocity;
    int8_t reserved1, reserved2;
} VstMidiEvent;

// VstEventsBlock mirrors VstEvents, capped at NH_MAX_MIDI_EVENTS rather
// than VST2's flexible array member -- plenty for the dense keyboard
// input and automation bursts this bridge actually carries per block.
typedef struct {
    int32_t numEvents;
    intptr_t reserved;
    VstMidiEvent *events[NH_MAX_MIDI_EVENTS];
} VstEventsBlock;

typedef struct {
    char name[64];
    int32_t type;
    float azimuth, elevation, radius, reserved;
} VstSpeakerProperties;

// VstSpeakerArrangementBlock mirrors VstSpeakerArrangement, capped at
// NH_MAX_SPEAKERS rather than a dynamically sized tail -- every
// arrangement effGetSpeakerArrangement/effSetSpeakerArrangement actually
// negotiate for this bridge's supported formats fits comfortably.
typedef struct {
    int32_t flags;
    int32_t numChannels;
    VstSpeakerProperties speakers[NH_MAX_SPEAKERS];
} VstSpeakerArrangementBlock;

extern intptr_t goHostCallbackTrampoline(void *effect, int32_t opcode, int32_t index, intptr_t value, void *ptr, float opt);

static AEffect *callVSTPluginMain(vstPluginMainProc fn) {
    return (AEffect *)fn((audioMasterCallback)goHostCallbackTrampoline);
}

static intptr_t callDispatcher(AEffect *e, int32_t opcode, int32_t index, intptr_t value, void *ptr, float opt) {
    return e->dispatcher(e, opcode, index, value, ptr, opt);
}

static void callProcessReplacing(AEffect *e, float **inputs, float **outputs, int32_t sampleFrames) {
    e->processReplacing(e, inputs, outputs, sampleFrames);
}

static void callSetParameter(AEffect *e, int32_t index, float value) {
    e->setParameter(e, index, value);
}

static float callGetParameter(AEffect *e, int32_t index) {
    return e->getParameter(e, index);
}
*/
import "C"

import (
	"sync"
	"unsafe"

	"github.com/samber/oops"
	"golang.org/x/sys/windows"

	"github.com/yabridge-go/bridge/internal/bridge/convert"
	"github.com/yabridge-go/bridge/internal/bridge/wire"
)

const CodeNativeLoadFailed = "nativehost_load_failed"
const CodeNativeCallFailed = "nativehost_call_failed"

// HostCallback is the function an Instance forwards every audioMaster
// call the plugin makes to. cmd/winhost and cmd/grouphost wire this to
// their wh.Bridge's HostCallback method once the bridge exists -- which
// must happen after Load returns, since building the bridge itself
// needs a PluginHost and Load is what produces one.
type HostCallback func(opcode wire.Opcode, index int32, value int64, opt float32, hint convert.Hint) (wire.EventResult, error)

// registry maps a live AEffect pointer back to the Instance that loaded
// it, so the single process-wide host callback trampoline can route a
// call to the right instance even when grouphost has several DLLs loaded
// at once. loadingInstance covers the one window a pointer can't serve
// that purpose: the audioMaster calls a plugin makes from inside its own
// VSTPluginMain, before the dispatcher has returned an AEffect* at all.
// Loads are serialized by loadMu specifically so that window is
// unambiguous; loadingInstance itself is read and written under
// registryMu, since that callback runs while Load still holds loadMu.
var (
	registryMu      sync.Mutex
	registry        = map[uintptr]*Instance{}
	loadMu          sync.Mutex
	loadingInstance *Instance
)

// Instance is one loaded VST2 plugin DLL.
type Instance struct {
	handle   windows.Handle
	effect   *C.AEffect
	callback HostCallback
}

// Load opens path (a Windows VST2 plugin DLL, expected to be running
// under Wine) and calls its VSTPluginMain export. The returned Instance
// has no HostCallback wired yet -- call SetHostCallback once the
// surrounding wh.Bridge exists, since audioMaster calls this Instance
// forwards past its own bootstrap window need it.
func Load(path string) (*Instance, error) {
	pathPtr, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return nil, oops.Code(CodeNativeLoadFailed).With("path", path).Wrapf(err, "nativehost: encode path")
	}

	handle, err := windows.LoadLibrary(path)
	if err != nil {
		return nil, oops.Code(CodeNativeLoadFailed).With("path", path).Wrapf(err, "nativehost: LoadLibrary")
	}
	_ = pathPtr

	proc, err := windows.GetProcAddress(handle, "VSTPluginMain")
	if err != nil {
		proc, err = windows.GetProcAddress(handle, "main")
		if err != nil {
			_ = windows.FreeLibrary(handle)
			return nil, oops.Code(CodeNativeLoadFailed).With("path", path).Wrapf(err, "nativehost: no VSTPluginMain or main export")
		}
	}

	inst := &Instance{handle: handle}

	loadMu.Lock()
	registryMu.Lock()
	loadingInstance = inst
	registryMu.Unlock()
	effect := C.callVSTPluginMain(C.vstPluginMainProc(unsafe.Pointer(proc)))
	registryMu.Lock()
	loadingInstance = nil
	registryMu.Unlock()
	loadMu.Unlock()

	if effect == nil {
		_ = windows.FreeLibrary(handle)
		return nil, oops.Code(CodeNativeLoadFailed).With("path", path).Errorf("nativehost: VSTPluginMain returned nil")
	}
	inst.effect = effect

	registryMu.Lock()
	registry[uintptr(unsafe.Pointer(effect))] = inst
	registryMu.Unlock()

	return inst, nil
}

// SetHostCallback wires inst's outgoing audioMaster forwarding, see Load's
// doc comment for why this can't happen inside Load itself.
func (i *Instance) SetHostCallback(cb HostCallback) { i.callback = cb }

// Descriptor reads the plugin's static shape off the loaded AEffect,
// called by Dispatch right after effOpen so it can populate
// convert.Hint.Descriptor for NP.
func (i *Instance) Descriptor() wire.PluginDescriptor {
	e := i.effect
	return wire.PluginDescriptor{
		NumInputs:    int32(e.numInputs),
		NumOutputs:   int32(e.numOutputs),
		NumParams:    int32(e.numParams),
		NumPrograms:  int32(e.numPrograms),
		Flags:        int32(e.flags),
		UniqueID:     int32(e.uniqueID),
		Version:      int32(e.version),
		InitialDelay: int32(e.initialDelay),
		UsesChunks:   int32(e.flags)&effFlagsProgramChunks != 0,
	}
}

// effFlagsProgramChunks mirrors VST2's effFlagsProgramChunks bit, set
// when the plugin wants effGetChunk/effSetChunk used for state instead
// of per-parameter get/setParameter.
const effFlagsProgramChunks = 1 << 5

// Dispatch calls the loaded plugin's dispatcher.
func (i *Instance) Dispatch(opcode wire.Opcode, index int32, value int64, opt float32, hint convert.Hint) (int64, convert.Hint, error) {
	if opcode == wire.EffSetSpeakerArrangement || opcode == wire.EffGetSpeakerArrangement {
		return i.dispatchSpeakerArrangement(opcode, index, opt, hint)
	}

	ptr, resultHint, release := encodeNativeArg(opcode, hint)
	defer release()

	ret := C.callDispatcher(i.effect, C.int32_t(opcode), C.int32_t(index), C.intptr_t(value), ptr, C.float(opt))

	out, err := decodeNativeResult(opcode, ptr, int64(ret), resultHint)
	if err != nil {
		return int64(ret), convert.Hint{}, err
	}
	if opcode == wire.EffOpen {
		desc := i.Descriptor()
		out.Descriptor = &desc
	}
	return int64(ret), out, nil
}

// dispatchSpeakerArrangement handles effSetSpeakerArrangement and
// effGetSpeakerArrangement's two-pointer call shape: ptr addresses one
// VstSpeakerArrangement and value, reinterpreted as a pointer, addresses
// the other. Forwarding NP's raw `value` argument as a native pointer
// here would dereference garbage -- it was a pointer in NP's own address
// space, meaningless in WH's -- so both arrangements travel as decoded
// Hint fields (Speakers/SpeakersOut) instead, reconstructed into real
// native buffers only at this call site.
func (i *Instance) dispatchSpeakerArrangement(opcode wire.Opcode, index int32, opt float32, hint convert.Hint) (int64, convert.Hint, error) {
	var ptrBuf, valueBuf unsafe.Pointer
	if opcode == wire.EffSetSpeakerArrangement {
		ptrBuf = encodeSpeakerArrangement(hint.Speakers)
		valueBuf = encodeSpeakerArrangement(hint.SpeakersOut)
	} else {
		ptrBuf = C.calloc(1, C.size_t(unsafe.Sizeof(C.VstSpeakerArrangementBlock{})))
		valueBuf = C.calloc(1, C.size_t(unsafe.Sizeof(C.VstSpeakerArrangementBlock{})))
	}
	defer C.free(ptrBuf)
	defer C.free(valueBuf)

	ret := C.callDispatcher(i.effect, C.int32_t(opcode), C.int32_t(index), C.intptr_t(uintptr(valueBuf)), ptrBuf, C.float(opt))

	if opcode == wire.EffSetSpeakerArrangement {
		return int64(ret), convert.Hint{}, nil
	}

	in := decodeSpeakerArrangement((*C.VstSpeakerArrangementBlock)(ptrBuf))
	out := decodeSpeakerArrangement((*C.VstSpeakerArrangementBlock)(valueBuf))
	return int64(ret), convert.Hint{Speakers: &in, SpeakersOut: &out}, nil
}

// encodeNativeArg builds whatever opcode's dispatcher call expects in its
// ptr argument from hint, returning a release func that must run after
// the call (and after decodeNativeResult, for opcodes that read the
// buffer back out). The carried Hint is whatever of the input hint
// decodeNativeResult still needs -- BufferCap, mostly, since the buffer
// itself lives behind ptr, not in a Go slice, for the duration of the call.
func encodeNativeArg(opcode wire.Opcode, hint convert.Hint) (unsafe.Pointer, convert.Hint, func()) {
	switch opcode {
	case wire.EffSetChunk, wire.EffString2Parameter:
		if len(hint.Bytes) == 0 {
			return nil, hint, func() {}
		}
		buf := C.malloc(C.size_t(len(hint.Bytes) + 1))
		dst := unsafe.Slice((*byte)(buf), len(hint.Bytes)+1)
		copy(dst, hint.Bytes)
		dst[len(hint.Bytes)] = 0
		return buf, hint, func() { C.free(buf) }

	case wire.EffGetProgramName, wire.EffGetParamLabel, wire.EffGetParamDisplay,
		wire.EffGetParamName, wire.EffGetProgramNameIndexed,
		wire.EffGetEffectName, wire.EffGetVendorString, wire.EffGetProductString:
		cap := hint.BufferCap
		if cap <= 0 {
			cap = 256
		}
		buf := C.calloc(C.size_t(cap), 1)
		return buf, hint, func() { C.free(buf) }

	case wire.EffGetChunk, wire.EffEditGetRect:
		// the plugin writes a pointer to its own buffer into *ptr, so
		// ptr itself is a pointer-to-pointer slot this call owns.
		slot := C.malloc(C.size_t(unsafe.Sizeof(uintptr(0))))
		*(*unsafe.Pointer)(slot) = nil
		return slot, hint, func() { C.free(slot) }

	case wire.EffEditOpen:
		return unsafe.Pointer(uintptr(hint.WindowHandle)), hint, func() {}

	case wire.EffProcessEvents:
		return encodeMIDIEvents(hint.MIDI)

	case wire.EffGetInputProperties, wire.EffGetOutputProperties:
		buf := C.calloc(1, C.size_t(unsafe.Sizeof(C.VstPinProperties{})))
		return buf, hint, func() { C.free(buf) }

	case wire.EffGetParameterProperties:
		buf := C.calloc(1, C.size_t(unsafe.Sizeof(C.VstParameterProperties{})))
		return buf, hint, func() { C.free(buf) }

	case wire.EffGetMidiKeyName:
		buf := C.calloc(1, C.size_t(unsafe.Sizeof(C.MidiKeyName{})))
		if hint.MIDIKeyName != nil {
			keyName := (*C.MidiKeyName)(buf)
			keyName.channel = C.int32_t(hint.MIDIKeyName.Channel)
			keyName.keyNumber = C.int32_t(hint.MIDIKeyName.KeyNumber)
		}
		return buf, hint, func() { C.free(buf) }

	case wire.EffGetSpeakerArrangement:
		buf := C.calloc(1, C.size_t(unsafe.Sizeof(C.VstSpeakerArrangementBlock{})))
		return buf, hint, func() { C.free(buf) }

	case wire.EffSetSpeakerArrangement:
		buf := encodeSpeakerArrangement(hint.Speakers)
		return buf, hint, func() { C.free(buf) }

	default:
		return nil, hint, func() {}
	}
}

// decodeNativeResult pulls the answer opcode's call produced back out of
// ptr (or, for effGetChunk, out of ret -- the dispatcher's own return
// value doubles as the chunk's byte length).
func decodeNativeResult(opcode wire.Opcode, ptr unsafe.Pointer, ret int64, carry convert.Hint) (convert.Hint, error) {
	switch opcode {
	case wire.EffGetProgramName, wire.EffGetParamLabel, wire.EffGetParamDisplay,
		wire.EffGetParamName, wire.EffGetProgramNameIndexed,
		wire.EffGetEffectName, wire.EffGetVendorString, wire.EffGetProductString:
		return convert.Hint{Bytes: []byte(C.GoString((*C.char)(ptr)))}, nil

	case wire.EffGetChunk:
		if ptr == nil || ret <= 0 {
			return convert.Hint{}, nil
		}
		chunkPtr := *(*unsafe.Pointer)(ptr)
		if chunkPtr == nil {
			return convert.Hint{}, nil
		}
		return convert.Hint{Bytes: C.GoBytes(chunkPtr, C.int(ret))}, nil

	case wire.EffEditGetRect:
		if ptr == nil {
			return convert.Hint{}, nil
		}
		rectPtr := *(*unsafe.Pointer)(ptr)
		if rectPtr == nil {
			return convert.Hint{}, nil
		}
		r := (*C.ERect)(rectPtr)
		rect := wire.EditorRect{Top: int16(r.top), Left: int16(r.left), Bottom: int16(r.bottom), Right: int16(r.right)}
		return convert.Hint{Rect: &rect}, nil

	case wire.EffGetInputProperties, wire.EffGetOutputProperties:
		p := (*C.VstPinProperties)(ptr)
		props := wire.IOProperties{
			Label:           C.GoString(&p.label[0]),
			ShortLabel:      C.GoString(&p.shortLabel[0]),
			Flags:           int32(p.flags),
			ArrangementType: int32(p.arrangementType),
		}
		return convert.Hint{IOProps: &props}, nil

	case wire.EffGetParameterProperties:
		p := (*C.VstParameterProperties)(ptr)
		props := wire.ParameterProperties{
			StepFloat:        float32(p.stepFloat),
			SmallStepFloat:   float32(p.smallStepFloat),
			LargeStepFloat:   float32(p.largeStepFloat),
			Label:            C.GoString(&p.label[0]),
			Flags:            int32(p.flags),
			MinInteger:       int32(p.minInteger),
			MaxInteger:       int32(p.maxInteger),
			StepInteger:      int32(p.stepInteger),
			LargeStepInteger: int32(p.largeStepInteger),
			ShortLabel:       C.GoString(&p.shortLabel[0]),
			Category:         int16(p.category),
		}
		return convert.Hint{ParamProps: &props}, nil

	case wire.EffGetMidiKeyName:
		p := (*C.MidiKeyName)(ptr)
		name := wire.MIDIKeyName{
			Channel:   int32(p.channel),
			KeyNumber: int32(p.keyNumber),
			Name:      C.GoString(&p.name[0]),
		}
		return convert.Hint{MIDIKeyName: &name}, nil

	case wire.EffGetSpeakerArrangement:
		p := (*C.VstSpeakerArrangementBlock)(ptr)
		arrangement := decodeSpeakerArrangement(p)
		return convert.Hint{Speakers: &arrangement}, nil

	default:
		return carry, nil
	}
}

// encodeMIDIEvents builds a VstEventsBlock (capped at NH_MAX_MIDI_EVENTS)
// from batch, returning the ptr/carry/release triple encodeNativeArg's
// callers expect.
func encodeMIDIEvents(batch *wire.MIDIBatch) (unsafe.Pointer, convert.Hint, func()) {
	if batch == nil || len(batch.Events) == 0 {
		return nil, convert.Hint{}, func() {}
	}

	n := len(batch.Events)
	if n > int(C.NH_MAX_MIDI_EVENTS) {
		n = int(C.NH_MAX_MIDI_EVENTS)
	}

	block := (*C.VstEventsBlock)(C.calloc(1, C.size_t(unsafe.Sizeof(C.VstEventsBlock{}))))
	block.numEvents = C.int32_t(n)

	events := make([]*C.VstMidiEvent, n)
	for idx := 0; idx < n; idx++ {
		src := batch.Events[idx]
		ev := (*C.VstMidiEvent)(C.calloc(1, C.size_t(unsafe.Sizeof(C.VstMidiEvent{}))))
		ev._type = 1 // kVstMidiType
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
	return unsafe.Pointer(block), convert.Hint{}, release
}

// encodeSpeakerArrangement and decodeSpeakerArrangement cap at
// NH_MAX_SPEAKERS rather than carrying VstSpeakerArrangement's full
// dynamic tail -- every arrangement this bridge actually negotiates
// (mono/stereo/quad/5.1/7.1) fits well inside that.
func encodeSpeakerArrangement(arr *wire.SpeakerArrangement) unsafe.Pointer {
	block := (*C.VstSpeakerArrangementBlock)(C.calloc(1, C.size_t(unsafe.Sizeof(C.VstSpeakerArrangementBlock{}))))
	if arr == nil {
		return unsafe.Pointer(block)
	}
	block.flags = C.int32_t(arr.Flags)
	n := len(arr.Speakers)
	if n > int(C.NH_MAX_SPEAKERS) {
		n = int(C.NH_MAX_SPEAKERS)
	}
	block.numChannels = C.int32_t(n)
	for idx := 0; idx < n; idx++ {
		s := arr.Speakers[idx]
		dst := &block.speakers[idx]
		nameBytes := []byte(s.Name)
		if len(nameBytes) > 63 {
			nameBytes = nameBytes[:63]
		}
		for b, ch := range nameBytes {
			dst.name[b] = C.char(ch)
		}
		dst._type = C.int32_t(s.Type)
		dst.azimuth = C.float(s.Azimuth)
		dst.elevation = C.float(s.Elevation)
		dst.radius = C.float(s.Radius)
		dst.reserved = C.float(s.Reserved)
	}
	return unsafe.Pointer(block)
}

func decodeSpeakerArrangement(p *C.VstSpeakerArrangementBlock) wire.SpeakerArrangement {
	n := int(p.numChannels)
	if n > int(C.NH_MAX_SPEAKERS) {
		n = int(C.NH_MAX_SPEAKERS)
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

// decodeHostCallbackArg and encodeHostCallbackResult handle the audioMaster
// opcodes that carry data through ptr rather than purely through their
// primitive arguments: audioMasterCanDo's queried capability name and
// audioMasterProcessEvents' forwarded MIDI batch are inputs; the vendor/
// product string queries are pure outputs and need nothing decoded here.
func decodeHostCallbackArg(opcode wire.Opcode, ptr unsafe.Pointer) convert.Hint {
	switch opcode {
	case wire.AudioMasterCanDo:
		if ptr == nil {
			return convert.Hint{}
		}
		return convert.Hint{Bytes: []byte(C.GoString((*C.char)(ptr)))}
	case wire.AudioMasterProcessEvents:
		if ptr == nil {
			return convert.Hint{}
		}
		batch := decodeMIDIEvents((*C.VstEventsBlock)(ptr))
		return convert.Hint{MIDI: &batch}
	default:
		return convert.Hint{}
	}
}

// decodeMIDIEvents is encodeMIDIEvents' inverse, used for the one
// audioMaster call that forwards MIDI the other direction
// (audioMasterProcessEvents, a plugin pushing MIDI it generated back to
// the host).
func decodeMIDIEvents(block *C.VstEventsBlock) wire.MIDIBatch {
	n := int(block.numEvents)
	if n > int(C.NH_MAX_MIDI_EVENTS) {
		n = int(C.NH_MAX_MIDI_EVENTS)
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

func encodeHostCallbackResult(opcode wire.Opcode, ptr unsafe.Pointer, result wire.EventResult) {
	if ptr == nil {
		return
	}
	if result.Payload.Kind != wire.PayloadString {
		return
	}
	dst := unsafe.Slice((*byte)(ptr), len(result.Payload.Str)+1)
	copy(dst, result.Payload.Str)
	dst[len(result.Payload.Str)] = 0
}

// ProcessReplacing calls the loaded plugin's processReplacing (VST2 never
// exposes process()/processDoubleReplacing() through this bridge; every
// host speaking to NP negotiates the replacing call during effOpen).
func (i *Instance) ProcessReplacing(inputs wire.AudioBuffers, _ bool) (wire.AudioBuffers, error) {
	if i.effect.processReplacing == nil {
		return wire.AudioBuffers{}, oops.Code(CodeNativeCallFailed).Errorf("nativehost: plugin has no processReplacing")
	}

	numIn := int(i.effect.numInputs)
	numOut := int(i.effect.numOutputs)
	frames := int(inputs.NumSamples)

	inBufs, releaseIn := buildChannelPointers(inputs.Samples, numIn, frames)
	defer releaseIn()
	outSamples := make([]float32, numOut*frames)
	outBufs, releaseOut := buildChannelPointers(outSamples, numOut, frames)
	defer releaseOut()

	C.callProcessReplacing(i.effect, inBufs, outBufs, C.int32_t(frames))

	return wire.AudioBuffers{NumChannels: int32(numOut), NumSamples: int32(frames), Samples: outSamples}, nil
}

// GetParameter/SetParameter call straight through; VST2 never lets these
// fail, matching the error-free C signatures.
func (i *Instance) GetParameter(index int32) (float32, error) {
	return float32(C.callGetParameter(i.effect, C.int32_t(index))), nil
}

func (i *Instance) SetParameter(index int32, value float32) error {
	C.callSetParameter(i.effect, C.int32_t(index), C.float(value))
	return nil
}

// Close calls effClose and frees the library. The plugin's own effClose
// handler is responsible for freeing the AEffect struct itself, mirroring
// every native VST2 host's shutdown sequence.
func (i *Instance) Close() error {
	registryMu.Lock()
	delete(registry, uintptr(unsafe.Pointer(i.effect)))
	registryMu.Unlock()

	if i.effect != nil {
		C.callDispatcher(i.effect, C.int32_t(wire.EffClose), 0, 0, nil, 0)
	}
	return windows.FreeLibrary(i.handle)
}

// buildChannelPointers flattens a channel-major []float32 block into a
// native float** (an array of per-channel float* pointers), the shape
// VST2's process callbacks expect instead of a single interleaved array.
func buildChannelPointers(samples []float32, channels, frames int) (**C.float, func()) {
	if channels == 0 || frames == 0 {
		return nil, func() {}
	}

	ptrs := C.malloc(C.size_t(channels) * C.size_t(unsafe.Sizeof(uintptr(0))))
	ptrArr := (*[1 << 20]*C.float)(ptrs)[:channels:channels]

	for ch := 0; ch < channels; ch++ {
		buf := C.malloc(C.size_t(frames) * C.size_t(unsafe.Sizeof(C.float(0))))
		chBuf := (*[1 << 20]C.float)(buf)[:frames:frames]
		for f := 0; f < frames; f++ {
			if ch*frames+f < len(samples) {
				chBuf[f] = C.float(samples[ch*frames+f])
			}
		}
		ptrArr[ch] = (*C.float)(buf)
	}

	release := func() {
		for ch := 0; ch < channels; ch++ {
			C.free(unsafe.Pointer(ptrArr[ch]))
		}
		C.free(ptrs)
	}
	return (**C.float)(ptrs), release
}

//export goHostCallbackTrampoline
func goHostCallbackTrampoline(effect unsafe.Pointer, opcode, index C.int32_t, value C.intptr_t, ptr unsafe.Pointer, opt C.float) C.intptr_t {
	inst := instanceForCallback(effect)
	if inst == nil || inst.callback == nil {
		return 0
	}

	hint := decodeHostCallbackArg(wire.Opcode(opcode), ptr)
	result, err := inst.callback(wire.Opcode(opcode), int32(index), int64(value), float32(opt), hint)
	if err != nil {
		return 0
	}
	encodeHostCallbackResult(wire.Opcode(opcode), ptr, result)
	return C.intptr_t(result.ReturnValue)
}

func instanceForCallback(effect unsafe.Pointer) *Instance {
	registryMu.Lock()
	defer registryMu.Unlock()
	if effect == nil {
		return loadingInstance
	}
	return registry[uintptr(effect)]
}
