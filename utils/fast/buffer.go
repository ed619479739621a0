package fast

// buffer.go provides a lightweight, non-thread-safe wrapper around byte slices.
//
// Purpose:
// - Protocol payloads (commit/reveal messages, signatures, signing policies, relay
//   messages) are flat concatenations of fixed-width big-endian fields.
// - Writer simply appends to a slice; Reader advances an integer cursor.
// - Payloads come from the chain and are untrusted, so every read is bounds
//   checked and reports ErrShortBuffer instead of panicking.

import (
	"errors"
	"fmt"

	"github.com/Fantom-foundation/lachesis-base/common/bigendian"
)

// ErrShortBuffer is returned when a read asks for more bytes than remain.
var ErrShortBuffer = errors.New("fast: short buffer")

type Reader struct {
	// buf is the underlying data source.
	buf []byte
	// offset tracks the current reading position (cursor).
	offset int
}

type Writer struct {
	// buf is the accumulating byte slice.
	buf []byte
}

// NewReader creates a Reader to consume the provided byte slice.
func NewReader(bb []byte) *Reader {
	return &Reader{
		buf:    bb,
		offset: 0,
	}
}

// NewWriter creates a Writer that appends to the provided initial slice.
// Often called with `make([]byte, 0, capacity)` to pre-allocate memory.
func NewWriter(bb []byte) *Writer {
	return &Writer{
		buf: bb,
	}
}

// Write appends a slice of bytes (bulk write) to the buffer.
func (b *Writer) Write(v []byte) {
	b.buf = append(b.buf, v...)
}

// WriteUint8 appends a single byte.
func (b *Writer) WriteUint8(v uint8) {
	b.buf = append(b.buf, v)
}

// WriteUint16 appends v as 2 big-endian bytes.
func (b *Writer) WriteUint16(v uint16) {
	b.buf = append(b.buf, byte(v>>8), byte(v))
}

// WriteUint24 appends the low 24 bits of v as 3 big-endian bytes.
func (b *Writer) WriteUint24(v uint32) {
	b.buf = append(b.buf, byte(v>>16), byte(v>>8), byte(v))
}

// WriteUint32 appends v as 4 big-endian bytes.
func (b *Writer) WriteUint32(v uint32) {
	b.buf = append(b.buf, bigendian.Uint32ToBytes(v)...)
}

// Bytes returns the accumulated content of the Writer.
func (b *Writer) Bytes() []byte {
	return b.buf
}

// Next consumes and returns the next 'n' bytes from the buffer.
//
// Note: It returns a slice that *shares memory* with the original buffer.
// Modifying the returned slice will modify the original buffer.
func (b *Reader) Next(n int) ([]byte, error) {
	if n < 0 || b.Remaining() < n {
		return nil, fmt.Errorf("%w: want %d bytes at offset %d, have %d", ErrShortBuffer, n, b.offset, b.Remaining())
	}
	res := b.buf[b.offset : b.offset+n]
	b.offset += n
	return res, nil
}

// ReadByte consumes and returns a single byte.
func (b *Reader) ReadByte() (byte, error) {
	if b.Empty() {
		return 0, fmt.Errorf("%w: read byte at offset %d", ErrShortBuffer, b.offset)
	}
	res := b.buf[b.offset]
	b.offset++
	return res, nil
}

// ReadUint16 consumes 2 big-endian bytes.
func (b *Reader) ReadUint16() (uint16, error) {
	raw, err := b.Next(2)
	if err != nil {
		return 0, err
	}
	return uint16(raw[0])<<8 | uint16(raw[1]), nil
}

// ReadUint24 consumes 3 big-endian bytes.
func (b *Reader) ReadUint24() (uint32, error) {
	raw, err := b.Next(3)
	if err != nil {
		return 0, err
	}
	return uint32(raw[0])<<16 | uint32(raw[1])<<8 | uint32(raw[2]), nil
}

// ReadUint32 consumes 4 big-endian bytes.
func (b *Reader) ReadUint32() (uint32, error) {
	raw, err := b.Next(4)
	if err != nil {
		return 0, err
	}
	return bigendian.BytesToUint32(raw), nil
}

// Position returns the current cursor index of the Reader.
// Useful for determining how many bytes have been consumed.
func (b *Reader) Position() int {
	return b.offset
}

// Remaining returns the number of unread bytes.
func (b *Reader) Remaining() int {
	return len(b.buf) - b.offset
}

// Rest consumes and returns every unread byte.
func (b *Reader) Rest() []byte {
	res := b.buf[b.offset:]
	b.offset = len(b.buf)
	return res
}

// Bytes returns the entire underlying buffer of the Reader.
func (b *Reader) Bytes() []byte {
	return b.buf
}

// Empty checks if the Reader has reached the end of the buffer.
func (b *Reader) Empty() bool {
	return len(b.buf) == b.offset
}
