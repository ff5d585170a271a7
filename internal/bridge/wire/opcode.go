package wire

// Opcode identifies a VST2 dispatcher call. Values match the VST 2.4 SDK's
// AEffectOpcodes/AEffectXOpcodes enum so the native proxy can forward the
// host's opcode straight through without a translation table of its own.
type Opcode int32

// The subset of VST2 opcodes the converter table gives special treatment,
// either because their payload isn't a plain int/float/string or because
// the native proxy intercepts them before they ever reach the host.
const (
	EffOpen                    Opcode = 0
	EffClose                   Opcode = 1
	EffSetProgram              Opcode = 2
	EffGetProgramName          Opcode = 5
	EffGetParamLabel           Opcode = 6
	EffGetParamDisplay         Opcode = 7
	EffGetParamName            Opcode = 8
	EffSetSampleRate           Opcode = 10
	EffSetBlockSize            Opcode = 11
	EffMainsChanged            Opcode = 12
	EffEditGetRect             Opcode = 13
	EffEditOpen                Opcode = 14
	EffEditClose               Opcode = 15
	EffEditIdle                Opcode = 19
	EffIdentify                Opcode = 22
	EffGetChunk                Opcode = 23
	EffSetChunk                Opcode = 24
	EffProcessEvents           Opcode = 25
	EffCanBeAutomated          Opcode = 26
	EffString2Parameter        Opcode = 27
	EffGetProgramNameIndexed   Opcode = 29
	EffGetInputProperties      Opcode = 33
	EffGetOutputProperties     Opcode = 34
	EffGetPlugCategory         Opcode = 35
	EffSetSpeakerArrangement   Opcode = 42
	EffGetSpeakerArrangement   Opcode = 69
	EffSetBypass               Opcode = 44
	EffGetEffectName           Opcode = 45
	EffGetVendorString         Opcode = 47
	EffGetProductString        Opcode = 48
	EffGetVendorVersion        Opcode = 49
	EffCanDo                   Opcode = 51
	EffGetTailSize             Opcode = 52
	EffGetParameterProperties  Opcode = 56
	EffGetVstVersion           Opcode = 58
	EffKeysRequired             Opcode = 57
	EffEditKeyDown             Opcode = 59
	EffEditKeyUp               Opcode = 60
	EffSetEditKnobMode         Opcode = 61
	EffGetMidiProgramName      Opcode = 62
	EffGetCurrentMidiProgram   Opcode = 63
	EffGetMidiProgramCategory  Opcode = 64
	EffHasMidiProgramsChanged  Opcode = 65
	EffGetMidiKeyName          Opcode = 66
	EffBeginSetProgram         Opcode = 67
	EffEndSetProgram           Opcode = 68
	EffVendorSpecific          Opcode = 50
	EffGetEffectLoaded         Opcode = -1 // sentinel: no VST2 equivalent, used internally
)

// Direction distinguishes an opcode's meaning when it's travelling from the
// host into the plugin (dispatch) versus the reverse direction (the audio
// master callback on host_callback). The same int/float/ptr/string slots
// in AEffect's dispatcher mean different things depending on which way the
// call is going, so convert builds a separate Opcode-keyed table for each
// direction (BuildDispatchTable, BuildHostCallbackTable) rather than
// assuming one fixed meaning per opcode.
type Direction uint8

const (
	// ToPlugin marks a call the host made into the plugin (arriving on NP's
	// dispatch/dispatch_midi handling and forwarded to WH).
	ToPlugin Direction = iota
	// ToHost marks an audioMaster callback the plugin made into the host
	// (arriving on WH and forwarded to NP's host_callback channel).
	ToHost
)

func (d Direction) String() string {
	if d == ToHost {
		return "to_host"
	}
	return "to_plugin"
}

// AudioMaster opcodes: the plugin-to-host callback namespace, numerically
// unrelated to the AEffectOpcodes above despite sharing the Opcode type.
// These travel ToHost over host_callback.
const (
	AudioMasterAutomate            Opcode = 0
	AudioMasterVersion             Opcode = 1
	AudioMasterCurrentID           Opcode = 2
	AudioMasterIdle                Opcode = 3
	AudioMasterGetTime             Opcode = 7
	AudioMasterProcessEvents       Opcode = 8
	AudioMasterIOChanged           Opcode = 13
	AudioMasterSizeWindow          Opcode = 15
	AudioMasterGetSampleRate       Opcode = 16
	AudioMasterGetBlockSize        Opcode = 17
	AudioMasterGetCurrentProcessLevel Opcode = 23
	AudioMasterGetVendorString     Opcode = 32
	AudioMasterGetProductString    Opcode = 33
	AudioMasterGetVendorVersion    Opcode = 34
	AudioMasterVendorSpecific      Opcode = 35
	AudioMasterCanDo               Opcode = 37
	AudioMasterGetLanguage         Opcode = 38
	AudioMasterUpdateDisplay       Opcode = 42
	AudioMasterBeginEdit           Opcode = 43
	AudioMasterEndEdit             Opcode = 44
)

// VST3 extension opcodes tunneled over the dispatch channel. VST3 hosts
// and plugins wrapped behind this bridge's VST2 AEffect shim still need
// IConnectionPoint::notify and the edit controller's XML representation
// query, but neither has a VST2 dispatcher number of its own, so they're
// assigned a dedicated band well above any real AEffectOpcodes/
// AEffectXOpcodes value to avoid ever colliding with one.
const (
	// EffVST3ConnectionPointNotify carries a forwarded
	// IConnectionPoint::notify call. The message payload travels as
	// opaque bytes (convert.Hint.Bytes) the same way effCanDo's string
	// does; this bridge does not interpret VST3 IMessage attribute
	// lists, only relays them.
	EffVST3ConnectionPointNotify Opcode = 1000
	// EffVST3GetXMLRepresentation requests the edit controller's XML
	// unit/program-list description. np.Bridge answers this locally with
	// ResultNotImplemented rather than forwarding it to WH.
	EffVST3GetXMLRepresentation Opcode = 1001
)

// ResultNotImplemented mirrors VST3's FUnknown::kResultNotImplemented
// within AEffect::dispatcher's intptr_t return convention, used for VST3
// calls tunneled over the VST2 dispatcher that this bridge deliberately
// does not implement.
const ResultNotImplemented int64 = -1
