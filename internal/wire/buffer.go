// Package wire provides low-level byte-order and string codec primitives
// shared by the tds package's message encoders and token parser.
//
// TDS mixes byte orders: packet headers and a handful of legacy fields are
// big-endian, but nearly everything inside a message body (lengths, IDs,
// numeric column values) is little-endian. Reader and Writer keep that
// distinction explicit instead of leaving it to caller discipline.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"unicode/utf16"

	"golang.org/x/text/encoding/unicode"
)

// Reader wraps a byte slice with a cursor and panics converted to errors
// are intentionally not used here: every method returns an error so the
// token parser can treat a truncated buffer as a resumable "need more
// data" condition rather than a programming bug.
type Reader struct {
	buf []byte
	pos int
}

// NewReader creates a Reader over buf starting at position 0.
func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

// Len returns the number of unread bytes.
func (r *Reader) Len() int {
	return len(r.buf) - r.pos
}

// Pos returns the current read offset.
func (r *Reader) Pos() int {
	return r.pos
}

// Seek repositions the cursor to an absolute offset.
func (r *Reader) Seek(pos int) error {
	if pos < 0 || pos > len(r.buf) {
		return fmt.Errorf("wire: seek %d out of range [0,%d]", pos, len(r.buf))
	}
	r.pos = pos
	return nil
}

// Bytes returns the remaining unread bytes without consuming them.
func (r *Reader) Bytes() []byte {
	return r.buf[r.pos:]
}

// Slice returns the bytes between absolute offsets [start,end) without
// moving the cursor.
func (r *Reader) Slice(start, end int) []byte {
	if start < 0 || end > len(r.buf) || start > end {
		return nil
	}
	return r.buf[start:end]
}

func (r *Reader) need(n int) error {
	if r.Len() < n {
		return fmt.Errorf("%w: need %d bytes, have %d", io.ErrUnexpectedEOF, n, r.Len())
	}
	return nil
}

// Byte reads a single byte.
func (r *Reader) Byte() (byte, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

// Bool reads a single byte as a boolean (non-zero is true).
func (r *Reader) Bool() (bool, error) {
	b, err := r.Byte()
	return b != 0, err
}

// Raw reads n raw bytes without any byte-order interpretation.
func (r *Reader) Raw(n int) ([]byte, error) {
	if err := r.need(n); err != nil {
		return nil, err
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

// Skip advances the cursor by n bytes without returning them.
func (r *Reader) Skip(n int) error {
	_, err := r.Raw(n)
	return err
}

// Uint16LE reads a little-endian uint16.
func (r *Reader) Uint16LE() (uint16, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint16(r.buf[r.pos:])
	r.pos += 2
	return v, nil
}

// Uint32LE reads a little-endian uint32.
func (r *Reader) Uint32LE() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v, nil
}

// Uint64LE reads a little-endian uint64.
func (r *Reader) Uint64LE() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(r.buf[r.pos:])
	r.pos += 8
	return v, nil
}

// Int16LE reads a little-endian int16.
func (r *Reader) Int16LE() (int16, error) {
	v, err := r.Uint16LE()
	return int16(v), err
}

// Int32LE reads a little-endian int32.
func (r *Reader) Int32LE() (int32, error) {
	v, err := r.Uint32LE()
	return int32(v), err
}

// Int64LE reads a little-endian int64.
func (r *Reader) Int64LE() (int64, error) {
	v, err := r.Uint64LE()
	return int64(v), err
}

// Uint16BE reads a big-endian uint16. The PRELOGIN codec does not use it;
// it reads its big-endian option headers with encoding/binary directly.
func (r *Reader) Uint16BE() (uint16, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint16(r.buf[r.pos:])
	r.pos += 2
	return v, nil
}

// Uint32BE reads a big-endian uint32.
func (r *Reader) Uint32BE() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v, nil
}

// Float32LE reads an IEEE-754 single-precision float.
func (r *Reader) Float32LE() (float32, error) {
	v, err := r.Uint32LE()
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(v), nil
}

// Float64LE reads an IEEE-754 double-precision float.
func (r *Reader) Float64LE() (float64, error) {
	v, err := r.Uint64LE()
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(v), nil
}

// BVarChar reads a B_VARCHAR: one length byte (character count) followed
// by that many UCS-2 characters.
func (r *Reader) BVarChar() (string, error) {
	n, err := r.Byte()
	if err != nil {
		return "", err
	}
	return r.ucs2String(int(n))
}

// UsVarChar reads a US_VARCHAR: a little-endian uint16 length (character
// count) followed by that many UCS-2 characters. This is the dominant
// string encoding in LOGIN7 and token streams.
func (r *Reader) UsVarChar() (string, error) {
	n, err := r.Uint16LE()
	if err != nil {
		return "", err
	}
	return r.ucs2String(int(n))
}

// ucs2String reads numChars UCS-2 characters (2 bytes each) and decodes
// them to a Go string, matching the teacher's ucs2ToString helper.
func (r *Reader) ucs2String(numChars int) (string, error) {
	raw, err := r.Raw(numChars * 2)
	if err != nil {
		return "", err
	}
	return UCS2ToString(raw), nil
}

// ucs2Decoder/ucs2Encoder are the shared little-endian UTF-16 transforms
// every UCS-2 string on the wire (LOGIN7 fields, NVARCHAR/NCHAR column
// values) goes through, matching the utf16Decoder go-mssqldb-style
// drivers use rather than hand-rolling surrogate-pair handling.
var (
	ucs2Decoder = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder()
	ucs2Encoder = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewEncoder()
)

// UCS2ToString decodes a raw little-endian UCS-2/UTF-16 byte slice.
func UCS2ToString(raw []byte) string {
	out, err := ucs2Decoder.Bytes(raw)
	if err != nil {
		// Malformed input (e.g. an odd trailing byte); fall back to
		// stdlib utf16 decoding rather than dropping the value.
		units := make([]uint16, len(raw)/2)
		for i := range units {
			units[i] = binary.LittleEndian.Uint16(raw[i*2:])
		}
		return string(utf16.Decode(units))
	}
	return string(out)
}

// StringToUCS2 encodes a Go string to little-endian UCS-2 bytes.
func StringToUCS2(s string) []byte {
	out, err := ucs2Encoder.Bytes([]byte(s))
	if err != nil {
		units := utf16.Encode([]rune(s))
		raw := make([]byte, len(units)*2)
		for i, u := range units {
			binary.LittleEndian.PutUint16(raw[i*2:], u)
		}
		return raw
	}
	return out
}

// Writer accumulates bytes for an outgoing TDS message body. Unlike
// Reader, Writer never fails: growth is handled by append, matching the
// teacher's *bytes.Buffer-backed encoders.
type Writer struct {
	buf []byte
}

// NewWriter creates an empty Writer, optionally pre-sized.
func NewWriter(capacity int) *Writer {
	return &Writer{buf: make([]byte, 0, capacity)}
}

// Bytes returns the accumulated bytes.
func (w *Writer) Bytes() []byte {
	return w.buf
}

// Len returns the number of bytes written so far.
func (w *Writer) Len() int {
	return len(w.buf)
}

// Byte appends a single byte.
func (w *Writer) Byte(b byte) {
	w.buf = append(w.buf, b)
}

// Bool appends a byte, 1 for true and 0 for false.
func (w *Writer) Bool(b bool) {
	if b {
		w.Byte(1)
	} else {
		w.Byte(0)
	}
}

// Raw appends raw bytes verbatim.
func (w *Writer) Raw(b []byte) {
	w.buf = append(w.buf, b...)
}

// Uint16LE appends a little-endian uint16.
func (w *Writer) Uint16LE(v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

// Uint32LE appends a little-endian uint32.
func (w *Writer) Uint32LE(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

// Uint64LE appends a little-endian uint64.
func (w *Writer) Uint64LE(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

// Int16LE appends a little-endian int16.
func (w *Writer) Int16LE(v int16) { w.Uint16LE(uint16(v)) }

// Int32LE appends a little-endian int32.
func (w *Writer) Int32LE(v int32) { w.Uint32LE(uint32(v)) }

// Int64LE appends a little-endian int64.
func (w *Writer) Int64LE(v int64) { w.Uint64LE(uint64(v)) }

// Uint16BE appends a big-endian uint16.
func (w *Writer) Uint16BE(v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

// Uint32BE appends a big-endian uint32.
func (w *Writer) Uint32BE(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

// Float32LE appends an IEEE-754 single-precision float.
func (w *Writer) Float32LE(v float32) {
	w.Uint32LE(math.Float32bits(v))
}

// Float64LE appends an IEEE-754 double-precision float.
func (w *Writer) Float64LE(v float64) {
	w.Uint64LE(math.Float64bits(v))
}

// BVarChar appends a B_VARCHAR (one length byte, then UCS-2 bytes). The
// caller is responsible for ensuring s encodes to at most 255 UTF-16
// code units.
func (w *Writer) BVarChar(s string) {
	enc := StringToUCS2(s)
	w.Byte(byte(len(enc) / 2))
	w.Raw(enc)
}

// UsVarChar appends a US_VARCHAR (uint16 length, then UCS-2 bytes).
func (w *Writer) UsVarChar(s string) {
	enc := StringToUCS2(s)
	w.Uint16LE(uint16(len(enc) / 2))
	w.Raw(enc)
}
