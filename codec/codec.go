// Package codec implements the canonical, versioned byte encoding every
// signed consensus message (proposal, vote, QC, evidence, envelope) is
// hashed and signed over. Unlike a string-concatenation encoding — fragile
// because a field's Go stringification (e.g. an enum's debug format) can
// drift across versions without anyone touching the wire format on purpose
// — every field here gets an explicit length prefix and the whole buffer is
// read back exactly the way it was written.
package codec

import (
	"encoding/binary"
	"errors"

	"lukechampine.com/blake3"
)

// Version identifies the canonical encoding revision. Bumped whenever a
// field is added, removed, or reordered.
const Version byte = 1

// ErrTruncated is returned by a Reader when the buffer ends before a
// length-prefixed field can be fully consumed.
var ErrTruncated = errors.New("codec: truncated buffer")

// Writer builds a canonical byte buffer by appending explicitly
// length-prefixed fields in a fixed order.
type Writer struct {
	buf []byte
}

// NewWriter starts a canonical buffer, stamping the encoding version.
func NewWriter() *Writer {
	return &Writer{buf: []byte{Version}}
}

// WriteBytes appends a uint32 length prefix followed by the raw bytes.
func (w *Writer) WriteBytes(b []byte) *Writer {
	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(b)))
	w.buf = append(w.buf, length[:]...)
	w.buf = append(w.buf, b...)
	return w
}

// WriteString appends a length-prefixed UTF-8 string.
func (w *Writer) WriteString(s string) *Writer {
	return w.WriteBytes([]byte(s))
}

// WriteUint64 appends a fixed-width big-endian uint64.
func (w *Writer) WriteUint64(v uint64) *Writer {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	w.buf = append(w.buf, b[:]...)
	return w
}

// WriteInt64 appends a fixed-width big-endian int64.
func (w *Writer) WriteInt64(v int64) *Writer {
	return w.WriteUint64(uint64(v))
}

// WriteUint32 appends a fixed-width big-endian uint32.
func (w *Writer) WriteUint32(v uint32) *Writer {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
	return w
}

// WriteByte appends a single byte (commonly a tag/enum discriminant).
func (w *Writer) WriteByte(v byte) *Writer {
	w.buf = append(w.buf, v)
	return w
}

// WriteBool appends a single byte encoding a boolean.
func (w *Writer) WriteBool(v bool) *Writer {
	if v {
		return w.WriteByte(1)
	}
	return w.WriteByte(0)
}

// Bytes returns the accumulated canonical buffer.
func (w *Writer) Bytes() []byte {
	return w.buf
}

// Reader consumes a canonical buffer produced by Writer, in the same field
// order it was written.
type Reader struct {
	buf []byte
	pos int
	err error
}

// NewReader wraps buf for sequential decoding, validating the version byte.
func NewReader(buf []byte) (*Reader, error) {
	if len(buf) < 1 {
		return nil, ErrTruncated
	}
	if buf[0] != Version {
		return nil, errors.New("codec: unsupported encoding version")
	}
	return &Reader{buf: buf, pos: 1}, nil
}

// Err returns the first error encountered during decoding, if any.
func (r *Reader) Err() error {
	return r.err
}

func (r *Reader) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

// ReadBytes consumes a length-prefixed byte field.
func (r *Reader) ReadBytes() []byte {
	if r.err != nil {
		return nil
	}
	if r.pos+4 > len(r.buf) {
		r.fail(ErrTruncated)
		return nil
	}
	length := binary.BigEndian.Uint32(r.buf[r.pos : r.pos+4])
	r.pos += 4
	if r.pos+int(length) > len(r.buf) {
		r.fail(ErrTruncated)
		return nil
	}
	out := append([]byte(nil), r.buf[r.pos:r.pos+int(length)]...)
	r.pos += int(length)
	return out
}

// ReadString consumes a length-prefixed string field.
func (r *Reader) ReadString() string {
	return string(r.ReadBytes())
}

// ReadUint64 consumes a fixed-width big-endian uint64.
func (r *Reader) ReadUint64() uint64 {
	if r.err != nil {
		return 0
	}
	if r.pos+8 > len(r.buf) {
		r.fail(ErrTruncated)
		return 0
	}
	v := binary.BigEndian.Uint64(r.buf[r.pos : r.pos+8])
	r.pos += 8
	return v
}

// ReadInt64 consumes a fixed-width big-endian int64.
func (r *Reader) ReadInt64() int64 {
	return int64(r.ReadUint64())
}

// ReadUint32 consumes a fixed-width big-endian uint32.
func (r *Reader) ReadUint32() uint32 {
	if r.err != nil {
		return 0
	}
	if r.pos+4 > len(r.buf) {
		r.fail(ErrTruncated)
		return 0
	}
	v := binary.BigEndian.Uint32(r.buf[r.pos : r.pos+4])
	r.pos += 4
	return v
}

// ReadByte consumes a single byte.
func (r *Reader) ReadByte() byte {
	if r.err != nil {
		return 0
	}
	if r.pos+1 > len(r.buf) {
		r.fail(ErrTruncated)
		return 0
	}
	v := r.buf[r.pos]
	r.pos++
	return v
}

// ReadBool consumes a single boolean byte.
func (r *Reader) ReadBool() bool {
	return r.ReadByte() != 0
}

// Hash returns the blake3-256 digest of b. Used uniformly for every
// canonical hash in the module (block, proposal, vote, QC, evidence) so
// that no two message kinds silently share a hash-collision domain through
// incidental reuse of a different primitive.
func Hash(b []byte) [32]byte {
	return blake3.Sum256(b)
}
