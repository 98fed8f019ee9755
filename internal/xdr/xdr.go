// Package xdr provides big-endian binary encoding and decoding utilities
// for reading and writing MGH file data.
//
// MGH files use big-endian byte order for all multi-byte values throughout
// the format, including the header, the voxel buffer, and the trailing
// metadata tags. This package provides efficient, bounds-checked readers
// and writers for the primitive types the format uses.
package xdr

import (
	"encoding/binary"
	"errors"
	"math"
)

var (
	// ErrShortBuffer is returned when a read operation cannot complete
	// because there isn't enough data left in the buffer.
	ErrShortBuffer = errors.New("xdr: buffer too short")

	// ErrNegativeSize is returned when a size parameter is negative.
	ErrNegativeSize = errors.New("xdr: negative size")
)

// ByteOrder is the byte order used by MGH files.
var ByteOrder = binary.BigEndian

// Reader provides efficient big-endian binary reading from a byte slice.
// It maintains a read position and provides bounds checking on all operations.
type Reader struct {
	data []byte
	pos  int
}

// NewReader creates a Reader from a byte slice.
func NewReader(data []byte) *Reader {
	return &Reader{data: data, pos: 0}
}

// Len returns the number of unread bytes.
func (r *Reader) Len() int {
	if r.pos >= len(r.data) {
		return 0
	}
	return len(r.data) - r.pos
}

// Pos returns the current read position.
func (r *Reader) Pos() int {
	return r.pos
}

// Skip advances the read position by n bytes.
func (r *Reader) Skip(n int) error {
	if n < 0 {
		return ErrNegativeSize
	}
	if r.pos+n > len(r.data) {
		return ErrShortBuffer
	}
	r.pos += n
	return nil
}

// ReadByte reads a single byte.
func (r *Reader) ReadByte() (byte, error) {
	if r.pos >= len(r.data) {
		return 0, ErrShortBuffer
	}
	b := r.data[r.pos]
	r.pos++
	return b, nil
}

// ReadBytes reads n bytes into a new slice.
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	if n < 0 {
		return nil, ErrNegativeSize
	}
	if r.pos+n > len(r.data) {
		return nil, ErrShortBuffer
	}
	result := make([]byte, n)
	copy(result, r.data[r.pos:r.pos+n])
	r.pos += n
	return result, nil
}

// ReadUint16 reads an unsigned 16-bit integer in big-endian order.
func (r *Reader) ReadUint16() (uint16, error) {
	if r.pos+2 > len(r.data) {
		return 0, ErrShortBuffer
	}
	v := ByteOrder.Uint16(r.data[r.pos:])
	r.pos += 2
	return v, nil
}

// ReadInt16 reads a signed 16-bit integer in big-endian order.
func (r *Reader) ReadInt16() (int16, error) {
	v, err := r.ReadUint16()
	return int16(v), err
}

// ReadUint32 reads an unsigned 32-bit integer in big-endian order.
func (r *Reader) ReadUint32() (uint32, error) {
	if r.pos+4 > len(r.data) {
		return 0, ErrShortBuffer
	}
	v := ByteOrder.Uint32(r.data[r.pos:])
	r.pos += 4
	return v, nil
}

// ReadInt32 reads a signed 32-bit integer in big-endian order.
func (r *Reader) ReadInt32() (int32, error) {
	v, err := r.ReadUint32()
	return int32(v), err
}

// ReadUint64 reads an unsigned 64-bit integer in big-endian order.
func (r *Reader) ReadUint64() (uint64, error) {
	if r.pos+8 > len(r.data) {
		return 0, ErrShortBuffer
	}
	v := ByteOrder.Uint64(r.data[r.pos:])
	r.pos += 8
	return v, nil
}

// ReadInt64 reads a signed 64-bit integer in big-endian order.
func (r *Reader) ReadInt64() (int64, error) {
	v, err := r.ReadUint64()
	return int64(v), err
}

// ReadFloat32 reads a 32-bit IEEE 754 floating-point number.
func (r *Reader) ReadFloat32() (float32, error) {
	v, err := r.ReadUint32()
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(v), nil
}

// ReadFloat32s reads n consecutive 32-bit floats into a new slice.
func (r *Reader) ReadFloat32s(n int) ([]float32, error) {
	if n < 0 {
		return nil, ErrNegativeSize
	}
	if r.pos+4*n > len(r.data) {
		return nil, ErrShortBuffer
	}
	result := make([]float32, n)
	for i := range result {
		result[i] = math.Float32frombits(ByteOrder.Uint32(r.data[r.pos+4*i:]))
	}
	r.pos += 4 * n
	return result, nil
}

// ReadStringN reads a string of exactly n bytes, trimming trailing null bytes.
func (r *Reader) ReadStringN(n int) (string, error) {
	if n < 0 {
		return "", ErrNegativeSize
	}
	if r.pos+n > len(r.data) {
		return "", ErrShortBuffer
	}
	end := r.pos + n
	trimmed := end
	for trimmed > r.pos && r.data[trimmed-1] == 0 {
		trimmed--
	}
	s := string(r.data[r.pos:trimmed])
	r.pos = end
	return s, nil
}

// Writer provides a growing buffer for big-endian binary writing.
// It automatically expands to accommodate writes; the accumulated
// bytes are retrieved with Bytes.
type Writer struct {
	buf []byte
}

// NewWriter creates a Writer with an initial capacity.
func NewWriter(capacity int) *Writer {
	return &Writer{buf: make([]byte, 0, capacity)}
}

// Len returns the number of bytes written.
func (w *Writer) Len() int {
	return len(w.buf)
}

// Bytes returns the written data as a byte slice.
// The returned slice is valid until the next write operation.
func (w *Writer) Bytes() []byte {
	return w.buf
}

// WriteByte writes a single byte.
func (w *Writer) WriteByte(b byte) error {
	w.buf = append(w.buf, b)
	return nil
}

// WriteBytes writes a byte slice.
func (w *Writer) WriteBytes(b []byte) {
	w.buf = append(w.buf, b...)
}

// WriteZeros writes n zero bytes.
func (w *Writer) WriteZeros(n int) {
	w.buf = append(w.buf, make([]byte, n)...)
}

// WriteUint16 writes an unsigned 16-bit integer in big-endian order.
func (w *Writer) WriteUint16(v uint16) {
	w.buf = ByteOrder.AppendUint16(w.buf, v)
}

// WriteInt16 writes a signed 16-bit integer in big-endian order.
func (w *Writer) WriteInt16(v int16) {
	w.WriteUint16(uint16(v))
}

// WriteUint32 writes an unsigned 32-bit integer in big-endian order.
func (w *Writer) WriteUint32(v uint32) {
	w.buf = ByteOrder.AppendUint32(w.buf, v)
}

// WriteInt32 writes a signed 32-bit integer in big-endian order.
func (w *Writer) WriteInt32(v int32) {
	w.WriteUint32(uint32(v))
}

// WriteUint64 writes an unsigned 64-bit integer in big-endian order.
func (w *Writer) WriteUint64(v uint64) {
	w.buf = ByteOrder.AppendUint64(w.buf, v)
}

// WriteInt64 writes a signed 64-bit integer in big-endian order.
func (w *Writer) WriteInt64(v int64) {
	w.WriteUint64(uint64(v))
}

// WriteFloat32 writes a 32-bit IEEE 754 floating-point number.
func (w *Writer) WriteFloat32(v float32) {
	w.WriteUint32(math.Float32bits(v))
}

// WriteFloat32s writes consecutive 32-bit floats.
func (w *Writer) WriteFloat32s(vs []float32) {
	for _, v := range vs {
		w.WriteFloat32(v)
	}
}

// WriteString writes the raw bytes of a string with no terminator.
func (w *Writer) WriteString(s string) {
	w.buf = append(w.buf, s...)
}
