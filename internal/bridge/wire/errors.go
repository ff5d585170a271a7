package wire

import "github.com/samber/oops"

// Sentinel codec failures. Every wrapped error carries an oops code so the
// ambient error-handling helpers in pkg/errutil can classify it without
// string matching.
const (
	CodeCodecTruncated = "codec_truncated"
	CodeCodecOverflow  = "codec_overflow"
	CodeCodecBadTag    = "codec_bad_tag"
)

func errTruncated(field string, want, have int) error {
	return oops.Code(CodeCodecTruncated).
		With("field", field).
		With("want_bytes", want).
		With("have_bytes", have).
		Errorf("wire: truncated reading %s", field)
}

func errOverflow(field string, n, limit uint32) error {
	return oops.Code(CodeCodecOverflow).
		With("field", field).
		With("length", n).
		With("limit", limit).
		Errorf("wire: %s length %d exceeds limit %d", field, n, limit)
}

func errBadTag(kind string, tag uint8) error {
	return oops.Code(CodeCodecBadTag).
		With("kind", kind).
		With("tag", tag).
		Errorf("wire: unrecognized %s tag %d", kind, tag)
}
