package wire

import (
	"encoding/binary"
	"errors"
	"math"
	"unsafe"
)

// ErrShortBuffer is reported by Reader.Err when a field extends past the
// end of the data or a varint is malformed.
var ErrShortBuffer = errors.New("wire: short buffer")

// Reader decodes values produced by a Writer.
//
// Errors are sticky: after the first failed read every further read
// returns the zero value and Err reports ErrShortBuffer.
type Reader struct {
	data []byte
	off  int
	err  error
}

// NewReader returns a Reader over data.
func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// Err returns the first decoding error, if any.
func (r *Reader) Err() error { return r.err }

// Remaining returns the number of undecoded bytes.
func (r *Reader) Remaining() int { return len(r.data) - r.off }

// Offset returns the read position.
func (r *Reader) Offset() int { return r.off }

func (r *Reader) fail() bool {
	r.err = ErrShortBuffer
	r.off = len(r.data)
	return false
}

// need reports whether size bytes are available at off.
func (r *Reader) need(off, size int) bool {
	if r.err != nil {
		return false
	}
	if size < 0 || off > len(r.data) || size > len(r.data)-off {
		return r.fail()
	}
	return true
}

// ReadInt decodes an unsigned varint.
func (r *Reader) ReadInt() uint64 {
	if r.err != nil {
		return 0
	}
	v, n := binary.Uvarint(r.data[r.off:])
	if n <= 0 {
		r.fail()
		return 0
	}
	r.off += n
	return v
}

// ReadSint decodes a zig-zag varint.
func (r *Reader) ReadSint() int64 {
	if r.err != nil {
		return 0
	}
	v, n := binary.Varint(r.data[r.off:])
	if n <= 0 {
		r.fail()
		return 0
	}
	r.off += n
	return v
}

// ReadBool decodes a single byte written by WriteBool.
func (r *Reader) ReadBool() bool {
	if !r.need(r.off, 1) {
		return false
	}
	v := r.data[r.off] != 0
	r.off++
	return v
}

// ReadFloat32 decodes a value written by WriteFloat32.
func (r *Reader) ReadFloat32() float32 {
	if !r.need(r.off, 4) {
		return 0
	}
	v := math.Float32frombits(binary.LittleEndian.Uint32(r.data[r.off:]))
	r.off += 4
	return v
}

// ReadBlock returns the next length-prefixed block. The result aliases
// the Reader's data and must not be retained past its lifetime.
func (r *Reader) ReadBlock() []byte {
	n := r.ReadInt()
	if n > uint64(r.Remaining()) {
		r.fail()
		return nil
	}
	if !r.need(r.off, int(n)) {
		return nil
	}
	b := r.data[r.off : r.off+int(n) : r.off+int(n)]
	r.off += int(n)
	return b
}

// ReadText returns the next length-prefixed block as a string. Unlike
// ReadBlock the result is a copy.
func (r *Reader) ReadText() string {
	return string(r.ReadBlock())
}

func (r *Reader) skip(align int) bool {
	p := padding(r.off, align)
	if !r.need(r.off, p) {
		return false
	}
	r.off += p
	return true
}

// Read decodes a value written by Write with the same alignment.
func Read[T any](r *Reader, align int) T {
	var v T
	if !r.skip(align) {
		return v
	}
	size := int(unsafe.Sizeof(v))
	if !r.need(r.off, size) {
		return v
	}
	if size > 0 {
		copy(unsafe.Slice((*byte)(unsafe.Pointer(&v)), size), r.data[r.off:r.off+size])
	}
	r.off += size
	return v
}

// ReadSlice decodes a slice written by WriteSlice with the same alignment.
// When the data is suitably aligned in memory the result is a view into
// it; otherwise the elements are copied.
func ReadSlice[T any](r *Reader, align int) []T {
	n := r.ReadInt()
	if r.err != nil || n == 0 {
		return nil
	}
	if !r.skip(align) {
		return nil
	}
	var zero T
	size := int(unsafe.Sizeof(zero))
	if size == 0 || n > uint64(r.Remaining()/size) {
		r.fail()
		return nil
	}
	total := int(n) * size
	p := unsafe.Pointer(&r.data[r.off])
	var out []T
	if uintptr(p)%unsafe.Alignof(zero) == 0 {
		out = unsafe.Slice((*T)(p), int(n))
	} else {
		out = make([]T, n)
		copy(unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(out))), total), r.data[r.off:r.off+total])
	}
	r.off += total
	return out
}
