package wire

// PayloadKind tags which field of EventPayload is meaningful. EventPayload
// is modeled as a tagged union of concrete fields rather than an
// interface{}, the same way the teacher's wire types favor a discriminant
// field over a Go interface for anything that crosses a serialization
// boundary: it keeps (de)serialization a straight switch instead of a type
// registry.
type PayloadKind uint8

const (
	PayloadNone PayloadKind = iota
	// PayloadChunk carries a raw byte blob: effGetChunk's result or
	// effSetChunk's argument.
	PayloadChunk
	// PayloadString carries a UTF-8 string, used by every opcode whose
	// pointer argument is a plain `char*` buffer (names, labels, vendor
	// strings, program names, and so on).
	PayloadString
	// PayloadWantsString is a zero-length marker meaning "the plugin wrote
	// a string into the buffer the host gave it"; the actual bytes travel
	// back inside the EventResult, not the request payload.
	PayloadWantsString
	// PayloadWantsRect marks an effEditGetRect request: the response
	// carries an EditorRect.
	PayloadWantsRect
	// PayloadWantsChunkBuffer marks an effGetChunk request.
	PayloadWantsChunkBuffer
	PayloadIOProperties
	PayloadParameterProperties
	PayloadMIDIKeyName
	PayloadSpeakerArrangement
	PayloadMIDIBatch
	PayloadEditorRect
	PayloadDescriptor
	// PayloadWindowHandle carries the host-provided window handle for
	// effEditOpen, converted from a raw pointer into a portable integer.
	PayloadWindowHandle
)

// EventPayload is the variable part of an Event: the data an opcode's
// value/ptr argument actually represents once DispatchDataConverter has
// interpreted it. Only the field matching Kind is valid.
type EventPayload struct {
	Kind PayloadKind

	Chunk        []byte
	Str          string
	IOProps      IOProperties
	ParamProps   ParameterProperties
	MIDIKeyName  MIDIKeyName
	Speakers     SpeakerArrangement
	MIDI         MIDIBatch
	Rect         EditorRect
	Descriptor   PluginDescriptor
	WindowHandle uint64
}

func (p EventPayload) Serialize(w *Writer) {
	w.WriteU8(uint8(p.Kind))
	switch p.Kind {
	case PayloadNone, PayloadWantsString, PayloadWantsRect, PayloadWantsChunkBuffer:
		// No additional data beyond the tag.
	case PayloadChunk:
		w.WriteBytes(p.Chunk)
	case PayloadString:
		w.WriteString(p.Str)
	case PayloadIOProperties:
		p.IOProps.Serialize(w)
	case PayloadParameterProperties:
		p.ParamProps.Serialize(w)
	case PayloadMIDIKeyName:
		p.MIDIKeyName.Serialize(w)
	case PayloadSpeakerArrangement:
		p.Speakers.Serialize(w)
	case PayloadMIDIBatch:
		p.MIDI.Serialize(w)
	case PayloadEditorRect:
		p.Rect.Serialize(w)
	case PayloadDescriptor:
		p.Descriptor.Serialize(w)
	case PayloadWindowHandle:
		w.WriteU64(p.WindowHandle)
	}
}

func DeserializeEventPayload(r *Reader) (EventPayload, error) {
	tag, err := r.ReadU8("payload.kind")
	if err != nil {
		return EventPayload{}, err
	}
	p := EventPayload{Kind: PayloadKind(tag)}
	switch p.Kind {
	case PayloadNone, PayloadWantsString, PayloadWantsRect, PayloadWantsChunkBuffer:
		// Nothing further to read.
	case PayloadChunk:
		p.Chunk, err = r.ReadBytes("payload.chunk")
	case PayloadString:
		p.Str, err = r.ReadString("payload.str")
	case PayloadIOProperties:
		p.IOProps, err = DeserializeIOProperties(r)
	case PayloadParameterProperties:
		p.ParamProps, err = DeserializeParameterProperties(r)
	case PayloadMIDIKeyName:
		p.MIDIKeyName, err = DeserializeMIDIKeyName(r)
	case PayloadSpeakerArrangement:
		p.Speakers, err = DeserializeSpeakerArrangement(r)
	case PayloadMIDIBatch:
		p.MIDI, err = DeserializeMIDIBatch(r)
	case PayloadEditorRect:
		p.Rect, err = DeserializeEditorRect(r)
	case PayloadDescriptor:
		p.Descriptor, err = DeserializePluginDescriptor(r)
	case PayloadWindowHandle:
		p.WindowHandle, err = r.ReadU64("payload.window_handle")
	default:
		return EventPayload{}, errBadTag("payload.kind", tag)
	}
	return p, err
}

// EditorRect mirrors VST2's ERect: the plugin editor's requested bounds.
type EditorRect struct {
	Top, Left, Bottom, Right int16
}

func (v EditorRect) Serialize(w *Writer) {
	w.WriteI32(int32(v.Top))
	w.WriteI32(int32(v.Left))
	w.WriteI32(int32(v.Bottom))
	w.WriteI32(int32(v.Right))
}

func DeserializeEditorRect(r *Reader) (EditorRect, error) {
	var v EditorRect
	top, err := r.ReadI32("rect.top")
	if err != nil {
		return v, err
	}
	left, err := r.ReadI32("rect.left")
	if err != nil {
		return v, err
	}
	bottom, err := r.ReadI32("rect.bottom")
	if err != nil {
		return v, err
	}
	right, err := r.ReadI32("rect.right")
	if err != nil {
		return v, err
	}
	v.Top, v.Left, v.Bottom, v.Right = int16(top), int16(left), int16(bottom), int16(right)
	return v, nil
}

// IOProperties mirrors VstPinProperties, returned by
// effGetInputProperties/effGetOutputProperties.
type IOProperties struct {
	Label          string
	ShortLabel     string
	Flags          int32
	ArrangementType int32
}

func (v IOProperties) Serialize(w *Writer) {
	w.WriteString(v.Label)
	w.WriteString(v.ShortLabel)
	w.WriteI32(v.Flags)
	w.WriteI32(v.ArrangementType)
}

func DeserializeIOProperties(r *Reader) (IOProperties, error) {
	var v IOProperties
	var err error
	if v.Label, err = r.ReadString("io.label"); err != nil {
		return v, err
	}
	if v.ShortLabel, err = r.ReadString("io.short_label"); err != nil {
		return v, err
	}
	if v.Flags, err = r.ReadI32("io.flags"); err != nil {
		return v, err
	}
	if v.ArrangementType, err = r.ReadI32("io.arrangement_type"); err != nil {
		return v, err
	}
	return v, nil
}

// ParameterProperties mirrors VstParameterProperties, returned by
// effGetParameterProperties.
type ParameterProperties struct {
	StepFloat      float32
	SmallStepFloat float32
	LargeStepFloat float32
	Label          string
	Flags          int32
	MinInteger     int32
	MaxInteger     int32
	StepInteger    int32
	LargeStepInteger int32
	ShortLabel     string
	Category       int16
}

func (v ParameterProperties) Serialize(w *Writer) {
	w.WriteF32(v.StepFloat)
	w.WriteF32(v.SmallStepFloat)
	w.WriteF32(v.LargeStepFloat)
	w.WriteString(v.Label)
	w.WriteI32(v.Flags)
	w.WriteI32(v.MinInteger)
	w.WriteI32(v.MaxInteger)
	w.WriteI32(v.StepInteger)
	w.WriteI32(v.LargeStepInteger)
	w.WriteString(v.ShortLabel)
	w.WriteI32(int32(v.Category))
}

func DeserializeParameterProperties(r *Reader) (ParameterProperties, error) {
	var v ParameterProperties
	var err error
	if v.StepFloat, err = r.ReadF32("param.step_float"); err != nil {
		return v, err
	}
	if v.SmallStepFloat, err = r.ReadF32("param.small_step_float"); err != nil {
		return v, err
	}
	if v.LargeStepFloat, err = r.ReadF32("param.large_step_float"); err != nil {
		return v, err
	}
	if v.Label, err = r.ReadString("param.label"); err != nil {
		return v, err
	}
	if v.Flags, err = r.ReadI32("param.flags"); err != nil {
		return v, err
	}
	if v.MinInteger, err = r.ReadI32("param.min_integer"); err != nil {
		return v, err
	}
	if v.MaxInteger, err = r.ReadI32("param.max_integer"); err != nil {
		return v, err
	}
	if v.StepInteger, err = r.ReadI32("param.step_integer"); err != nil {
		return v, err
	}
	if v.LargeStepInteger, err = r.ReadI32("param.large_step_integer"); err != nil {
		return v, err
	}
	if v.ShortLabel, err = r.ReadString("param.short_label"); err != nil {
		return v, err
	}
	cat, err := r.ReadI32("param.category")
	if err != nil {
		return v, err
	}
	v.Category = int16(cat)
	return v, nil
}

// MIDIKeyName mirrors MidiKeyName, returned by effGetMidiKeyName.
type MIDIKeyName struct {
	Channel  int32
	KeyNumber int32
	Name     string
}

func (v MIDIKeyName) Serialize(w *Writer) {
	w.WriteI32(v.Channel)
	w.WriteI32(v.KeyNumber)
	w.WriteString(v.Name)
}

func DeserializeMIDIKeyName(r *Reader) (MIDIKeyName, error) {
	var v MIDIKeyName
	var err error
	if v.Channel, err = r.ReadI32("midikey.channel"); err != nil {
		return v, err
	}
	if v.KeyNumber, err = r.ReadI32("midikey.key_number"); err != nil {
		return v, err
	}
	if v.Name, err = r.ReadString("midikey.name"); err != nil {
		return v, err
	}
	return v, nil
}

// SpeakerProperties mirrors VstSpeakerProperties, one entry of a
// SpeakerArrangement.
type SpeakerProperties struct {
	Name         string
	Type         int32
	Azimuth      float32
	Elevation    float32
	Radius       float32
	Reserved     float32
}

func (v SpeakerProperties) Serialize(w *Writer) {
	w.WriteString(v.Name)
	w.WriteI32(v.Type)
	w.WriteF32(v.Azimuth)
	w.WriteF32(v.Elevation)
	w.WriteF32(v.Radius)
	w.WriteF32(v.Reserved)
}

func DeserializeSpeakerProperties(r *Reader) (SpeakerProperties, error) {
	var v SpeakerProperties
	var err error
	if v.Name, err = r.ReadString("speaker.name"); err != nil {
		return v, err
	}
	if v.Type, err = r.ReadI32("speaker.type"); err != nil {
		return v, err
	}
	if v.Azimuth, err = r.ReadF32("speaker.azimuth"); err != nil {
		return v, err
	}
	if v.Elevation, err = r.ReadF32("speaker.elevation"); err != nil {
		return v, err
	}
	if v.Radius, err = r.ReadF32("speaker.radius"); err != nil {
		return v, err
	}
	if v.Reserved, err = r.ReadF32("speaker.reserved"); err != nil {
		return v, err
	}
	return v, nil
}

// SpeakerArrangement mirrors VstSpeakerArrangement: a flags word plus a
// dynamically sized list of per-speaker properties (dynamic because VST2's
// fixed 8-speaker array is routinely exceeded by surround formats the
// original struct never anticipated).
type SpeakerArrangement struct {
	Flags    int32
	Speakers []SpeakerProperties
}

func (v SpeakerArrangement) Serialize(w *Writer) {
	w.WriteI32(v.Flags)
	w.WriteU32(uint32(len(v.Speakers)))
	for _, s := range v.Speakers {
		s.Serialize(w)
	}
}

func DeserializeSpeakerArrangement(r *Reader) (SpeakerArrangement, error) {
	var v SpeakerArrangement
	var err error
	if v.Flags, err = r.ReadI32("speakers.flags"); err != nil {
		return v, err
	}
	n, err := r.ReadU32("speakers.count")
	if err != nil {
		return v, err
	}
	if n > MaxBlobLen {
		return v, errOverflow("speakers.count", n, MaxBlobLen)
	}
	v.Speakers = make([]SpeakerProperties, 0, n)
	for i := uint32(0); i < n; i++ {
		s, err := DeserializeSpeakerProperties(r)
		if err != nil {
			return v, err
		}
		v.Speakers = append(v.Speakers, s)
	}
	return v, nil
}

// MIDIEvent mirrors VstMidiEvent, one entry of a MIDIBatch.
type MIDIEvent struct {
	DeltaFrames   int32
	Data          [4]byte
	NoteLength    int32
	NoteOffset    int32
	Detune        int8
	NoteOffVelocity uint8
	Flags         int32
}

func (v MIDIEvent) Serialize(w *Writer) {
	w.WriteI32(v.DeltaFrames)
	w.WriteU8(v.Data[0])
	w.WriteU8(v.Data[1])
	w.WriteU8(v.Data[2])
	w.WriteU8(v.Data[3])
	w.WriteI32(v.NoteLength)
	w.WriteI32(v.NoteOffset)
	w.WriteU8(uint8(v.Detune))
	w.WriteU8(v.NoteOffVelocity)
	w.WriteI32(v.Flags)
}

func DeserializeMIDIEvent(r *Reader) (MIDIEvent, error) {
	var v MIDIEvent
	var err error
	if v.DeltaFrames, err = r.ReadI32("midi.delta_frames"); err != nil {
		return v, err
	}
	for i := range v.Data {
		if v.Data[i], err = r.ReadU8("midi.data"); err != nil {
			return v, err
		}
	}
	if v.NoteLength, err = r.ReadI32("midi.note_length"); err != nil {
		return v, err
	}
	if v.NoteOffset, err = r.ReadI32("midi.note_offset"); err != nil {
		return v, err
	}
	detune, err := r.ReadU8("midi.detune")
	if err != nil {
		return v, err
	}
	v.Detune = int8(detune)
	if v.NoteOffVelocity, err = r.ReadU8("midi.note_off_velocity"); err != nil {
		return v, err
	}
	if v.Flags, err = r.ReadI32("midi.flags"); err != nil {
		return v, err
	}
	return v, nil
}

// MIDIBatch mirrors VstEventsDynamic: a host- or plugin-produced batch of
// MIDI events, sized dynamically rather than through VST2's fixed
// VstEvents::numEvents/reserved pair.
type MIDIBatch struct {
	Events []MIDIEvent
}

func (v MIDIBatch) Serialize(w *Writer) {
	w.WriteU32(uint32(len(v.Events)))
	for _, e := range v.Events {
		e.Serialize(w)
	}
}

func DeserializeMIDIBatch(r *Reader) (MIDIBatch, error) {
	var v MIDIBatch
	n, err := r.ReadU32("midibatch.count")
	if err != nil {
		return v, err
	}
	if n > MaxBlobLen {
		return v, errOverflow("midibatch.count", n, MaxBlobLen)
	}
	v.Events = make([]MIDIEvent, 0, n)
	for i := uint32(0); i < n; i++ {
		e, err := DeserializeMIDIEvent(r)
		if err != nil {
			return v, err
		}
		v.Events = append(v.Events, e)
	}
	return v, nil
}

// PluginDescriptor summarizes the AEffect fields the native proxy must
// mirror locally after effOpen: flags, I/O counts, unique ID, version, and
// the UsesChunks bit that decides whether get/setProgramData round-trips
// through effGetChunk/effSetChunk instead of per-parameter values.
type PluginDescriptor struct {
	NumInputs, NumOutputs       int32
	NumParams, NumPrograms      int32
	Flags                       int32
	UniqueID                    int32
	Version                     int32
	InitialDelay                int32
	UsesChunks                  bool
}

func (v PluginDescriptor) Serialize(w *Writer) {
	w.WriteI32(v.NumInputs)
	w.WriteI32(v.NumOutputs)
	w.WriteI32(v.NumParams)
	w.WriteI32(v.NumPrograms)
	w.WriteI32(v.Flags)
	w.WriteI32(v.UniqueID)
	w.WriteI32(v.Version)
	w.WriteI32(v.InitialDelay)
	w.WriteBool(v.UsesChunks)
}

func DeserializePluginDescriptor(r *Reader) (PluginDescriptor, error) {
	var v PluginDescriptor
	var err error
	if v.NumInputs, err = r.ReadI32("descriptor.num_inputs"); err != nil {
		return v, err
	}
	if v.NumOutputs, err = r.ReadI32("descriptor.num_outputs"); err != nil {
		return v, err
	}
	if v.NumParams, err = r.ReadI32("descriptor.num_params"); err != nil {
		return v, err
	}
	if v.NumPrograms, err = r.ReadI32("descriptor.num_programs"); err != nil {
		return v, err
	}
	if v.Flags, err = r.ReadI32("descriptor.flags"); err != nil {
		return v, err
	}
	if v.UniqueID, err = r.ReadI32("descriptor.unique_id"); err != nil {
		return v, err
	}
	if v.Version, err = r.ReadI32("descriptor.version"); err != nil {
		return v, err
	}
	if v.InitialDelay, err = r.ReadI32("descriptor.initial_delay"); err != nil {
		return v, err
	}
	if v.UsesChunks, err = r.ReadBool("descriptor.uses_chunks"); err != nil {
		return v, err
	}
	return v, nil
}

// HostDescriptor carries the information the WH-side audioMaster callback
// needs about the host that the native proxy is embedded in: sample rate,
// block size, and the host's product/vendor strings as seen through
// audioMasterGetProductString/audioMasterGetVendorString.
type HostDescriptor struct {
	SampleRate float32
	BlockSize  int32
	VendorName string
	ProductName string
	VendorVersion int32
}

func (v HostDescriptor) Serialize(w *Writer) {
	w.WriteF32(v.SampleRate)
	w.WriteI32(v.BlockSize)
	w.WriteString(v.VendorName)
	w.WriteString(v.ProductName)
	w.WriteI32(v.VendorVersion)
}

func DeserializeHostDescriptor(r *Reader) (HostDescriptor, error) {
	var v HostDescriptor
	var err error
	if v.SampleRate, err = r.ReadF32("host.sample_rate"); err != nil {
		return v, err
	}
	if v.BlockSize, err = r.ReadI32("host.block_size"); err != nil {
		return v, err
	}
	if v.VendorName, err = r.ReadString("host.vendor_name"); err != nil {
		return v, err
	}
	if v.ProductName, err = r.ReadString("host.product_name"); err != nil {
		return v, err
	}
	if v.VendorVersion, err = r.ReadI32("host.vendor_version"); err != nil {
		return v, err
	}
	return v, nil
}
