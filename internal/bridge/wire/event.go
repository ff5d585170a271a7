package wire

// Event is a single dispatcher call crossing the dispatch or dispatch_midi
// channel. It mirrors AEffect::dispatcher's five arguments
// (opcode, index, value, ptr, opt) with ptr/value interpreted into a
// concrete EventPayload by the convert package before it ever reaches the
// wire, so Serialize never has to branch on opcode itself.
type Event struct {
	Opcode  Opcode
	Index   int32
	Value   int64
	Opt     float32
	Payload EventPayload
	// ValuePayload is only non-nil for the one opcode family that passes
	// two pointers in a single dispatcher call: effSetSpeakerArrangement
	// and effGetSpeakerArrangement, where ptr/Value each address a
	// separate VstSpeakerArrangement. Every other opcode leaves this nil.
	ValuePayload *EventPayload
}

func (e Event) Serialize(w *Writer) {
	w.WriteI32(int32(e.Opcode))
	w.WriteI32(e.Index)
	w.WriteI64(e.Value)
	w.WriteF32(e.Opt)
	e.Payload.Serialize(w)
	serializeOptionalPayload(w, e.ValuePayload)
}

func DeserializeEvent(r *Reader) (Event, error) {
	var e Event
	op, err := r.ReadI32("event.opcode")
	if err != nil {
		return e, err
	}
	e.Opcode = Opcode(op)
	if e.Index, err = r.ReadI32("event.index"); err != nil {
		return e, err
	}
	if e.Value, err = r.ReadI64("event.value"); err != nil {
		return e, err
	}
	if e.Opt, err = r.ReadF32("event.opt"); err != nil {
		return e, err
	}
	if e.Payload, err = DeserializeEventPayload(r); err != nil {
		return e, err
	}
	e.ValuePayload, err = deserializeOptionalPayload(r)
	return e, err
}

// EventResult is the response to an Event, carrying the dispatcher's
// integer return value plus whatever payload that opcode produces (a
// string buffer, a chunk, an EditorRect, and so on).
type EventResult struct {
	ReturnValue int64
	Payload     EventPayload
	// ValuePayload mirrors Event.ValuePayload: populated only for
	// effGetSpeakerArrangement's second (input-arrangement) out pointer.
	ValuePayload *EventPayload
}

func (r EventResult) Serialize(w *Writer) {
	w.WriteI64(r.ReturnValue)
	r.Payload.Serialize(w)
	serializeOptionalPayload(w, r.ValuePayload)
}

func DeserializeEventResult(r *Reader) (EventResult, error) {
	var res EventResult
	v, err := r.ReadI64("result.return_value")
	if err != nil {
		return res, err
	}
	res.ReturnValue = v
	if res.Payload, err = DeserializeEventPayload(r); err != nil {
		return res, err
	}
	res.ValuePayload, err = deserializeOptionalPayload(r)
	return res, err
}

// serializeOptionalPayload/deserializeOptionalPayload write a presence
// flag ahead of an EventPayload, the same optional-value convention
// primitives.go uses for a bare float32 but for a whole tagged payload.
func serializeOptionalPayload(w *Writer, p *EventPayload) {
	if p == nil {
		w.WriteBool(false)
		return
	}
	w.WriteBool(true)
	p.Serialize(w)
}

func deserializeOptionalPayload(r *Reader) (*EventPayload, error) {
	present, err := r.ReadBool("event.value_payload.present")
	if err != nil {
		return nil, err
	}
	if !present {
		return nil, nil
	}
	p, err := DeserializeEventPayload(r)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// AudioBuffers carries one block's worth of per-channel float32 sample
// data for either the audio request (host -> plugin inputs) or the audio
// response (plugin -> host outputs). Samples are flattened channel-major
// so a single length prefix describes the whole block instead of one per
// channel.
type AudioBuffers struct {
	NumChannels int32
	NumSamples  int32
	Samples     []float32
}

func (a AudioBuffers) Serialize(w *Writer) {
	w.WriteI32(a.NumChannels)
	w.WriteI32(a.NumSamples)
	w.WriteU32(uint32(len(a.Samples)))
	for _, s := range a.Samples {
		w.WriteF32(s)
	}
}

func DeserializeAudioBuffers(r *Reader) (AudioBuffers, error) {
	var a AudioBuffers
	var err error
	if a.NumChannels, err = r.ReadI32("audio.num_channels"); err != nil {
		return a, err
	}
	if a.NumSamples, err = r.ReadI32("audio.num_samples"); err != nil {
		return a, err
	}
	n, err := r.ReadU32("audio.sample_count")
	if err != nil {
		return a, err
	}
	if n > MaxBlobLen {
		return a, errOverflow("audio.sample_count", n, MaxBlobLen)
	}
	a.Samples = make([]float32, n)
	for i := range a.Samples {
		if a.Samples[i], err = r.ReadF32("audio.sample"); err != nil {
			return a, err
		}
	}
	return a, nil
}

// AudioRequest is the message NP sends on the audio channel for every
// processReplacing/process call: the input block plus the current
// transport's sample position (some plugins query it via
// audioMasterGetCurrentProcessLevel rather than as an argument, but most
// query it through the VstTimeInfo path, which travels over host_callback
// instead — SamplePosition here is only the frame counter needed for
// logging/metrics).
type AudioRequest struct {
	Inputs        AudioBuffers
	SamplePosition int64
	Replacing     bool
}

func (a AudioRequest) Serialize(w *Writer) {
	a.Inputs.Serialize(w)
	w.WriteI64(a.SamplePosition)
	w.WriteBool(a.Replacing)
}

func DeserializeAudioRequest(r *Reader) (AudioRequest, error) {
	var a AudioRequest
	var err error
	if a.Inputs, err = DeserializeAudioBuffers(r); err != nil {
		return a, err
	}
	if a.SamplePosition, err = r.ReadI64("audio.sample_position"); err != nil {
		return a, err
	}
	if a.Replacing, err = r.ReadBool("audio.replacing"); err != nil {
		return a, err
	}
	return a, nil
}

// AudioResponse is WH's reply on the audio channel: the processed output
// block. MIDI the plugin queued for the host during this block travels
// separately over host_callback and is drained afterward, never bundled
// into this message, so the audio channel's round trip stays purely about
// samples.
type AudioResponse struct {
	Outputs AudioBuffers
}

func (a AudioResponse) Serialize(w *Writer) { a.Outputs.Serialize(w) }

func DeserializeAudioResponse(r *Reader) (AudioResponse, error) {
	var a AudioResponse
	var err error
	a.Outputs, err = DeserializeAudioBuffers(r)
	return a, err
}

// ParameterRequest carries either a getParameter or setParameter call over
// the parameters channel. IsSet distinguishes the two; Value is only
// meaningful when IsSet is true.
type ParameterRequest struct {
	Index int32
	IsSet bool
	Value float32
}

func (p ParameterRequest) Serialize(w *Writer) {
	w.WriteI32(p.Index)
	w.WriteBool(p.IsSet)
	w.WriteF32(p.Value)
}

func DeserializeParameterRequest(r *Reader) (ParameterRequest, error) {
	var p ParameterRequest
	var err error
	if p.Index, err = r.ReadI32("param_req.index"); err != nil {
		return p, err
	}
	if p.IsSet, err = r.ReadBool("param_req.is_set"); err != nil {
		return p, err
	}
	if p.Value, err = r.ReadF32("param_req.value"); err != nil {
		return p, err
	}
	return p, nil
}

// ParameterResponse answers a ParameterRequest. For a getParameter call
// Value is Some(current value); for a setParameter call Value is None,
// matching VST2's void setParameter semantics while still giving the
// native proxy an acknowledgement to wait on. A get reply with Value nil,
// or a set reply with Value non-nil, violates the get/set discipline and
// is a protocol mismatch for the caller to raise.
type ParameterResponse struct {
	Value *float32
}

func (p ParameterResponse) Serialize(w *Writer) { w.WriteOptionalF32(p.Value) }

func DeserializeParameterResponse(r *Reader) (ParameterResponse, error) {
	var p ParameterResponse
	v, err := r.ReadOptionalF32("param_resp.value")
	p.Value = v
	return p, err
}
