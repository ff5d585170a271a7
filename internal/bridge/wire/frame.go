package wire

import (
	"encoding/binary"
	"io"

	"github.com/samber/oops"
)

// MaxFrameLen bounds the length prefix of a single framed message. It is
// set well above MaxBlobLen since a message body can carry several blobs
// plus fixed-width fields, but still far below what a corrupted length
// prefix could otherwise make ReadFrame allocate.
const MaxFrameLen = 128 << 20

// WriteFrame writes body to w prefixed by its length as a little-endian
// u32, the framing every one of the five duplex channels uses regardless
// of which message type the body decodes to.
func WriteFrame(w io.Writer, body []byte) error {
	if len(body) > MaxFrameLen {
		return errOverflow("frame", uint32(len(body)), MaxFrameLen)
	}
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(len(body)))
	if _, err := w.Write(hdr[:]); err != nil {
		return oops.Code("codec_io").Wrapf(err, "wire: write frame header")
	}
	if len(body) == 0 {
		return nil
	}
	if _, err := w.Write(body); err != nil {
		return oops.Code("codec_io").Wrapf(err, "wire: write frame body")
	}
	return nil
}

// ReadFrame reads one length-prefixed message body from r. It returns the
// raw body bytes for the caller to decode with the appropriate message
// type's Deserialize. io.EOF is returned verbatim when the peer closed the
// channel cleanly between frames (the channel's normal shutdown signal).
func ReadFrame(r io.Reader) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			return nil, oops.Code(CodeCodecTruncated).Wrapf(err, "wire: truncated frame header")
		}
		return nil, err
	}
	n := binary.LittleEndian.Uint32(hdr[:])
	if n > MaxFrameLen {
		return nil, errOverflow("frame", n, MaxFrameLen)
	}
	if n == 0 {
		return nil, nil
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		if err == io.ErrUnexpectedEOF {
			return nil, oops.Code(CodeCodecTruncated).Wrapf(err, "wire: truncated frame body")
		}
		return nil, err
	}
	return body, nil
}
