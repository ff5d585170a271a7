package wire

import (
	"bytes"
	"encoding/binary"
	"math"
)

// MaxBlobLen bounds every length-prefixed string or byte blob the codec will
// accept. It exists so a corrupted or adversarial peer can never make either
// side allocate an unbounded buffer from a single four-byte length prefix.
// 64 MiB comfortably covers the largest legitimate payload on any channel
// (a VST2 bank/program chunk) with headroom.
const MaxBlobLen = 64 << 20

// Writer accumulates a message body in the bridge's little-endian,
// length-prefixed wire format. The zero value is ready to use.
type Writer struct {
	buf bytes.Buffer
}

// NewWriter returns a Writer with buf pre-sized, matching the teacher's
// pattern of sizing buffers up front for hot paths like the audio channel.
func NewWriter(sizeHint int) *Writer {
	w := &Writer{}
	w.buf.Grow(sizeHint)
	return w
}

// Bytes returns the accumulated body. The Writer must not be reused after
// calling Bytes.
func (w *Writer) Bytes() []byte { return w.buf.Bytes() }

func (w *Writer) WriteU8(v uint8) { w.buf.WriteByte(v) }

func (w *Writer) WriteBool(v bool) {
	if v {
		w.WriteU8(1)
	} else {
		w.WriteU8(0)
	}
}

func (w *Writer) WriteU16(v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	w.buf.Write(b[:])
}

func (w *Writer) WriteU32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.buf.Write(b[:])
}

func (w *Writer) WriteU64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.buf.Write(b[:])
}

func (w *Writer) WriteI32(v int32) { w.WriteU32(uint32(v)) }
func (w *Writer) WriteI64(v int64) { w.WriteU64(uint64(v)) }

func (w *Writer) WriteF32(v float32) { w.WriteU32(math.Float32bits(v)) }
func (w *Writer) WriteF64(v float64) { w.WriteU64(math.Float64bits(v)) }

// WriteBytes writes a u32 length prefix followed by raw bytes.
func (w *Writer) WriteBytes(v []byte) {
	w.WriteU32(uint32(len(v)))
	w.buf.Write(v)
}

// WriteString writes a u32 length prefix followed by the UTF-8 bytes of v.
func (w *Writer) WriteString(v string) {
	w.WriteU32(uint32(len(v)))
	w.buf.WriteString(v)
}

// WriteOptionalF32 writes a one-byte presence flag followed by the value
// when present; ParameterResponse.Value (present for a get, absent for a
// set) is encoded this way.
func (w *Writer) WriteOptionalF32(v *float32) {
	if v == nil {
		w.WriteBool(false)
		return
	}
	w.WriteBool(true)
	w.WriteF32(*v)
}

// Reader consumes a message body written by Writer. It never panics: every
// accessor returns an error once the remaining buffer is too short.
type Reader struct {
	buf []byte
	off int
}

// NewReader wraps buf for sequential decoding. buf is not copied.
func NewReader(buf []byte) *Reader { return &Reader{buf: buf} }

// Remaining reports how many bytes are left to read.
func (r *Reader) Remaining() int { return len(r.buf) - r.off }

func (r *Reader) take(field string, n int) ([]byte, error) {
	if r.Remaining() < n {
		return nil, errTruncated(field, n, r.Remaining())
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *Reader) ReadU8(field string) (uint8, error) {
	b, err := r.take(field, 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *Reader) ReadBool(field string) (bool, error) {
	v, err := r.ReadU8(field)
	if err != nil {
		return false, err
	}
	return v != 0, nil
}

func (r *Reader) ReadU16(field string) (uint16, error) {
	b, err := r.take(field, 2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (r *Reader) ReadU32(field string) (uint32, error) {
	b, err := r.take(field, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *Reader) ReadU64(field string) (uint64, error) {
	b, err := r.take(field, 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (r *Reader) ReadI32(field string) (int32, error) {
	v, err := r.ReadU32(field)
	return int32(v), err
}

func (r *Reader) ReadI64(field string) (int64, error) {
	v, err := r.ReadU64(field)
	return int64(v), err
}

func (r *Reader) ReadF32(field string) (float32, error) {
	v, err := r.ReadU32(field)
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(v), nil
}

func (r *Reader) ReadF64(field string) (float64, error) {
	v, err := r.ReadU64(field)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(v), nil
}

// ReadBytes reads a u32 length prefix followed by that many raw bytes,
// rejecting lengths above MaxBlobLen before attempting to slice.
func (r *Reader) ReadBytes(field string) ([]byte, error) {
	n, err := r.ReadU32(field)
	if err != nil {
		return nil, err
	}
	if n > MaxBlobLen {
		return nil, errOverflow(field, n, MaxBlobLen)
	}
	b, err := r.take(field, int(n))
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

// ReadString reads a u32 length prefix followed by that many UTF-8 bytes.
func (r *Reader) ReadString(field string) (string, error) {
	b, err := r.ReadBytes(field)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ReadOptionalF32 reads a one-byte presence flag and, when set, a float32.
func (r *Reader) ReadOptionalF32(field string) (*float32, error) {
	present, err := r.ReadBool(field + ".present")
	if err != nil {
		return nil, err
	}
	if !present {
		return nil, nil
	}
	v, err := r.ReadF32(field)
	if err != nil {
		return nil, err
	}
	return &v, nil
}
