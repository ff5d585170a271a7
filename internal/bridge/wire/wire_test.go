package wire

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventRoundTripChunkPayload(t *testing.T) {
	in := Event{
		Opcode: EffSetChunk,
		Index:  0,
		Value:  4,
		Opt:    0,
		Payload: EventPayload{
			Kind:  PayloadChunk,
			Chunk: []byte{0xDE, 0xAD, 0xBE, 0xEF},
		},
	}

	w := NewWriter(64)
	in.Serialize(w)

	out, err := DeserializeEvent(NewReader(w.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestEventRoundTripStringPayload(t *testing.T) {
	in := Event{
		Opcode:  EffGetEffectName,
		Payload: EventPayload{Kind: PayloadString, Str: "My Plugin"},
	}

	w := NewWriter(64)
	in.Serialize(w)

	out, err := DeserializeEvent(NewReader(w.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestMIDIBatchRoundTrip(t *testing.T) {
	in := MIDIBatch{Events: []MIDIEvent{
		{DeltaFrames: 0, Data: [4]byte{0x90, 60, 127, 0}},
		{DeltaFrames: 128, Data: [4]byte{0x80, 60, 0, 0}},
	}}

	w := NewWriter(64)
	in.Serialize(w)

	out, err := DeserializeMIDIBatch(NewReader(w.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestSpeakerArrangementRoundTrip(t *testing.T) {
	in := SpeakerArrangement{
		Flags: 1,
		Speakers: []SpeakerProperties{
			{Name: "L", Type: 0},
			{Name: "R", Type: 1},
		},
	}

	w := NewWriter(64)
	in.Serialize(w)

	out, err := DeserializeSpeakerArrangement(NewReader(w.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestAudioBuffersRoundTrip(t *testing.T) {
	in := AudioBuffers{NumChannels: 2, NumSamples: 3, Samples: []float32{0.1, -0.2, 0.3, 0, 0, 0}}

	w := NewWriter(64)
	in.Serialize(w)

	out, err := DeserializeAudioBuffers(NewReader(w.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestReadBytesRejectsOverflow(t *testing.T) {
	w := NewWriter(8)
	w.WriteU32(MaxBlobLen + 1)

	_, err := NewReader(w.Bytes()).ReadBytes("field")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds limit")
}

func TestReadTruncated(t *testing.T) {
	r := NewReader([]byte{0x01, 0x02})
	_, err := r.ReadU32("field")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "truncated")
}

func TestFrameRoundTrip(t *testing.T) {
	body := []byte("hello frame")
	var buf bytes.Buffer

	require.NoError(t, WriteFrame(&buf, body))

	got, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, body, got)
}

func TestFrameEmptyBody(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, nil))

	got, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestReadFrameEOFOnCleanClose(t *testing.T) {
	r, w := io.Pipe()
	w.Close()

	_, err := ReadFrame(r)
	assert.ErrorIs(t, err, io.EOF)
}

func TestReadFrameRejectsOversizedLength(t *testing.T) {
	var buf bytes.Buffer
	var hdr [4]byte
	hdr[0], hdr[1], hdr[2], hdr[3] = 0xFF, 0xFF, 0xFF, 0x7F
	buf.Write(hdr[:])

	_, err := ReadFrame(&buf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds limit")
}
