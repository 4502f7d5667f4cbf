package wire

import (
	"encoding/binary"
	"math"
	"unsafe"
)

// DefaultPageSize is the growth granularity of a Writer created with a
// non-positive page size.
const DefaultPageSize = 64 << 10

// Writer appends encoded values to a growable buffer.
//
// The backing store is allocated as 64-bit words so that offsets aligned
// relative to the start of the buffer are also aligned in memory. This is
// what lets ReadSlice hand out typed views without copying.
type Writer struct {
	words    []uint64
	buf      []byte
	n        int
	pageSize int
}

// NewWriter returns an empty Writer that grows in pages of pageSize bytes.
func NewWriter(pageSize int) *Writer {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	pageSize = (pageSize + 7) &^ 7
	return &Writer{pageSize: pageSize}
}

// Ensure guarantees room for n more bytes. It is the only place the
// buffer grows.
func (w *Writer) Ensure(n int) {
	need := w.n + n
	if need <= len(w.buf) {
		return
	}
	pages := (need + w.pageSize - 1) / w.pageSize
	words := make([]uint64, pages*w.pageSize/8)
	buf := unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(words))), len(words)*8)
	copy(buf, w.buf[:w.n])
	w.words, w.buf = words, buf
}

// Bytes returns the encoded data. The slice aliases the Writer's storage
// and is invalidated by the next write or Reset.
func (w *Writer) Bytes() []byte { return w.buf[:w.n:w.n] }

// Len returns the number of encoded bytes.
func (w *Writer) Len() int { return w.n }

// Cap returns the allocated size of the buffer.
func (w *Writer) Cap() int { return len(w.buf) }

// Reset discards the contents but keeps the allocation.
func (w *Writer) Reset() { w.n = 0 }

// WriteInt appends v as an unsigned varint.
func (w *Writer) WriteInt(v uint64) {
	w.Ensure(binary.MaxVarintLen64)
	w.n += binary.PutUvarint(w.buf[w.n:], v)
}

// WriteSint appends v as a zig-zag encoded varint.
func (w *Writer) WriteSint(v int64) {
	w.Ensure(binary.MaxVarintLen64)
	w.n += binary.PutVarint(w.buf[w.n:], v)
}

// WriteBool appends a single byte.
func (w *Writer) WriteBool(v bool) {
	w.Ensure(1)
	if v {
		w.buf[w.n] = 1
	} else {
		w.buf[w.n] = 0
	}
	w.n++
}

// WriteFloat32 appends the IEEE-754 bits of v, unaligned.
func (w *Writer) WriteFloat32(v float32) {
	w.Ensure(4)
	binary.LittleEndian.PutUint32(w.buf[w.n:], math.Float32bits(v))
	w.n += 4
}

// WriteBlock appends a varint length followed by b.
func (w *Writer) WriteBlock(b []byte) {
	w.WriteInt(uint64(len(b)))
	w.Ensure(len(b))
	w.n += copy(w.buf[w.n:], b)
}

// WriteText appends s as a length-prefixed block.
func (w *Writer) WriteText(s string) {
	w.WriteInt(uint64(len(s)))
	w.Ensure(len(s))
	w.n += copy(w.buf[w.n:], s)
}

// pad zero-fills up to the next multiple of align.
func (w *Writer) pad(align int) {
	p := padding(w.n, align)
	if p == 0 {
		return
	}
	w.Ensure(p)
	clear(w.buf[w.n : w.n+p])
	w.n += p
}

// Write appends the raw bytes of v after padding the buffer to align.
// T must not contain pointers, slices, strings, maps or interfaces.
func Write[T any](w *Writer, v T, align int) {
	w.pad(align)
	size := int(unsafe.Sizeof(v))
	if size == 0 {
		return
	}
	w.Ensure(size)
	w.n += copy(w.buf[w.n:], unsafe.Slice((*byte)(unsafe.Pointer(&v)), size))
}

// WriteSlice appends a varint element count followed by the raw elements,
// starting at an offset aligned to align.
func WriteSlice[T any](w *Writer, s []T, align int) {
	w.WriteInt(uint64(len(s)))
	if len(s) == 0 {
		return
	}
	w.pad(align)
	size := len(s) * int(unsafe.Sizeof(s[0]))
	w.Ensure(size)
	w.n += copy(w.buf[w.n:], unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(s))), size))
}

func padding(off, align int) int {
	if align <= 1 {
		return 0
	}
	return (align - off%align) % align
}
