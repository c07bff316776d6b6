// Package buffer provides the growable byte buffer used by the wire codec.
//
// It is deliberately small: the codec's primitive marshal/unmarshal helpers
// (internal/encoding) and the performative definitions (internal/frames) are
// the only consumers, and they only ever need append-at-the-end writes and
// cursor-advancing reads.
package buffer

import "encoding/binary"

// Buffer is a byte buffer that supports both io.Writer-style appends and a
// read cursor for decoding, so the same value can be reused to build a frame
// and later, on the receive side, to walk through one.
type Buffer struct {
	b []byte
	i int // read cursor
}

// New wraps b for reading; writes append past whatever b already contains.
func New(b []byte) *Buffer {
	return &Buffer{b: b}
}

// Reset empties the buffer and rewinds the read cursor.
func (b *Buffer) Reset() {
	b.b = b.b[:0]
	b.i = 0
}

// Detach returns the underlying bytes and clears the buffer's reference to
// them, so the caller can hand the slice off (e.g. to a net.Conn.Write)
// without the buffer being reused out from under it.
func (b *Buffer) Detach() []byte {
	out := b.b
	b.b = nil
	b.i = 0
	return out
}

// Bytes returns the buffer's full backing slice (written bytes only).
func (b *Buffer) Bytes() []byte {
	return b.b
}

// Len returns the number of written bytes.
func (b *Buffer) Len() int {
	return len(b.b)
}

// Size returns the number of unread bytes (the same value as Unread), for
// symmetry with the read-side Next/Peek API.
func (b *Buffer) Size() int {
	return len(b.b) - b.i
}

func (b *Buffer) Write(p []byte) (int, error) {
	b.b = append(b.b, p...)
	return len(p), nil
}

func (b *Buffer) WriteString(s string) {
	b.b = append(b.b, s...)
}

func (b *Buffer) WriteByte(c byte) error {
	b.b = append(b.b, c)
	return nil
}

func (b *Buffer) WriteUint16(n uint16) {
	b.b = binary.BigEndian.AppendUint16(b.b, n)
}

func (b *Buffer) WriteUint32(n uint32) {
	b.b = binary.BigEndian.AppendUint32(b.b, n)
}

func (b *Buffer) WriteUint64(n uint64) {
	b.b = binary.BigEndian.AppendUint64(b.b, n)
}

// Next returns the next n unread bytes and advances the cursor. ok is false
// if fewer than n bytes remain.
func (b *Buffer) Next(n int64) (buf []byte, ok bool) {
	if n < 0 || int64(len(b.b)-b.i) < n {
		return nil, false
	}
	buf = b.b[b.i : b.i+int(n)]
	b.i += int(n)
	return buf, true
}

// Peek returns the next n unread bytes without advancing the cursor.
func (b *Buffer) Peek(n int) []byte {
	end := b.i + n
	if end > len(b.b) {
		end = len(b.b)
	}
	return b.b[b.i:end]
}

// ReadByte advances the cursor by one byte and returns it.
func (b *Buffer) ReadByte() (byte, error) {
	buf, ok := b.Next(1)
	if !ok {
		return 0, errBufferUnderflow
	}
	return buf[0], nil
}

// ReadUint16 reads a big-endian uint16 and advances the cursor.
func (b *Buffer) ReadUint16() (uint16, error) {
	buf, ok := b.Next(2)
	if !ok {
		return 0, errBufferUnderflow
	}
	return binary.BigEndian.Uint16(buf), nil
}

// ReadUint32 reads a big-endian uint32 and advances the cursor.
func (b *Buffer) ReadUint32() (uint32, error) {
	buf, ok := b.Next(4)
	if !ok {
		return 0, errBufferUnderflow
	}
	return binary.BigEndian.Uint32(buf), nil
}

// ReadUint64 reads a big-endian uint64 and advances the cursor.
func (b *Buffer) ReadUint64() (uint64, error) {
	buf, ok := b.Next(8)
	if !ok {
		return 0, errBufferUnderflow
	}
	return binary.BigEndian.Uint64(buf), nil
}

// Unread returns the number of bytes left to read.
func (b *Buffer) Unread() int {
	return len(b.b) - b.i
}
