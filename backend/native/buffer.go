//go:build !nogpu

package native

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/gpucmd"
	"github.com/gogpu/gpucmd/handle"
)

// copyAlignment is the granularity of buffer copies and queue writes.
const copyAlignment = 4

type buffer struct {
	desc   gpucmd.BufferDesc
	raw    hal.Buffer
	size   uint64
	used   uint64 // frame serial of the last draw that bound it
	mapped bool
}

func (b *buffer) destroy(dev hal.Device) {
	if b.raw == nil {
		return
	}
	if b.mapped {
		_ = dev.UnmapBuffer(b.raw)
	}
	dev.DestroyBuffer(b.raw)
	b.raw = nil
}

func alignUp(n, a uint64) uint64 { return (n + a - 1) &^ (a - 1) }

func (d *Driver) newRawBuffer(desc *gpucmd.BufferDesc, size uint64) (hal.Buffer, error) {
	return d.dev.raw.CreateBuffer(&hal.BufferDescriptor{
		Label: "gpucmd_buffer",
		Size:  alignUp(max(size, copyAlignment), copyAlignment),
		Usage: bufferUsage(desc),
	})
}

func (d *Driver) buffer(id gpucmd.BufferID) (*buffer, bool) {
	if d.buffers == nil {
		return nil, false
	}
	return d.buffers.Get(handle.Handle(id))
}

// CreateBuffer implements gpucmd.Driver. Uniform buffers are allocated
// at a multiple of the uniform alignment.
func (d *Driver) CreateBuffer(id gpucmd.BufferID, desc *gpucmd.BufferDesc, data []byte) {
	if d.dev == nil {
		d.warn("create buffer", uint32(id), gpucmd.ErrNotInitialized)
		return
	}
	size := uint64(desc.AllocSize())
	raw, err := d.newRawBuffer(desc, size)
	if err != nil {
		d.warn("create buffer", uint32(id), err)
		return
	}
	b := buffer{desc: *desc, raw: raw, size: size}
	if !d.buffers.Set(handle.Handle(id), b) {
		d.dev.raw.DestroyBuffer(raw)
		d.warn("create buffer", uint32(id), errors.New("handle out of range"))
		return
	}
	if len(data) > 0 {
		d.write(&b, 0, data)
	}
}

// write uploads data through the queue. Unaligned tails are padded with
// zeros when the buffer has room for them.
func (d *Driver) write(b *buffer, offset uint64, data []byte) {
	if n := uint64(len(data)); n%copyAlignment != 0 && offset+alignUp(n, copyAlignment) <= alignUp(b.size, copyAlignment) {
		padded := make([]byte, alignUp(n, copyAlignment))
		copy(padded, data)
		data = padded
	}
	if err := d.dev.queue.WriteBuffer(b.raw, offset, data); err != nil {
		d.warn("write buffer", 0, err)
	}
}

// UpdateBuffer implements gpucmd.Driver. A discarding update of a buffer
// that a draw of the current frame already read replaces the native
// buffer, so the earlier draw keeps the old contents.
func (d *Driver) UpdateBuffer(id gpucmd.BufferID, offset uint32, data []byte, mode gpucmd.UpdateMode) {
	b, ok := d.buffer(id)
	if !ok {
		d.warn("update buffer", uint32(id), errors.New("unknown buffer"))
		return
	}
	if uint64(offset)+uint64(len(data)) > b.size {
		d.warn("update buffer", uint32(id), fmt.Errorf("range %d+%d exceeds size %d", offset, len(data), b.size))
		return
	}
	if mode == gpucmd.UpdateDiscard && b.used == d.serial && d.enc != nil {
		raw, err := d.newRawBuffer(&b.desc, b.size)
		if err != nil {
			d.warn("orphan buffer", uint32(id), err)
		} else {
			old, dev := b.raw, d.dev.raw
			d.retire(func() { dev.DestroyBuffer(old) })
			b.raw = raw
			b.used = 0
			// The bound streams still name the old native buffer.
			d.state.Invalidate()
		}
	}
	d.write(b, uint64(offset), data)
}

// ResizeBuffer implements gpucmd.Driver. The common prefix of the old
// contents is copied into the new allocation.
func (d *Driver) ResizeBuffer(id gpucmd.BufferID, size uint32) {
	b, ok := d.buffer(id)
	if !ok {
		d.warn("resize buffer", uint32(id), errors.New("unknown buffer"))
		return
	}
	desc := b.desc
	desc.Size = size
	newSize := uint64(desc.AllocSize())
	raw, err := d.newRawBuffer(&desc, newSize)
	if err != nil {
		d.warn("resize buffer", uint32(id), err)
		return
	}
	if keep := min(b.size, newSize) &^ (copyAlignment - 1); keep > 0 {
		if enc, err := d.encoder(); err == nil {
			d.suspend()
			enc.CopyBufferToBuffer(b.raw, raw, []hal.BufferCopy{{Size: keep}})
		} else {
			d.warn("resize buffer", uint32(id), err)
		}
	}
	old, dev := b.raw, d.dev.raw
	d.retire(func() { dev.DestroyBuffer(old) })
	b.raw, b.desc, b.size = raw, desc, newSize
	d.state.Invalidate()
}

// CopyBuffer implements gpucmd.Driver.
func (d *Driver) CopyBuffer(dst gpucmd.BufferID, dstOffset uint32, src gpucmd.BufferID, srcOffset, size uint32) {
	db, ok1 := d.buffer(dst)
	sb, ok2 := d.buffer(src)
	if !ok1 || !ok2 {
		d.warn("copy buffer", uint32(dst), errors.New("unknown buffer"))
		return
	}
	if uint64(dstOffset)+uint64(size) > db.size || uint64(srcOffset)+uint64(size) > sb.size {
		d.warn("copy buffer", uint32(dst), errors.New("range out of bounds"))
		return
	}
	enc, err := d.encoder()
	if err != nil {
		d.warn("copy buffer", uint32(dst), err)
		return
	}
	d.suspend()
	enc.CopyBufferToBuffer(sb.raw, db.raw, []hal.BufferCopy{{
		SrcOffset: uint64(srcOffset),
		DstOffset: uint64(dstOffset),
		Size:      uint64(size),
	}})
}

// mapRange maps [offset, offset+size) of raw and passes it to fn. With
// keep set the mapping is left open.
func (d *Driver) mapRange(raw hal.Buffer, offset, size uint64, keep bool, fn func([]byte)) error {
	if size == 0 {
		fn(nil)
		return nil
	}
	m, err := d.dev.raw.MapBuffer(raw, offset, size)
	if err != nil {
		return err
	}
	fn(unsafe.Slice((*byte)(m.Ptr), size))
	if keep {
		return nil
	}
	return d.dev.raw.UnmapBuffer(raw)
}

// ReadBuffer implements gpucmd.Driver. Host-visible buffers are mapped
// directly; device buffers go through a staging copy. Either way the
// pending frame is submitted and waited for first.
func (d *Driver) ReadBuffer(id gpucmd.BufferID, offset, size uint32, fn func([]byte)) {
	b, ok := d.buffer(id)
	if !ok || uint64(offset)+uint64(size) > b.size {
		d.warn("read buffer", uint32(id), errors.New("unknown buffer or range"))
		return
	}
	if b.desc.Access != gpucmd.AccessDevice {
		d.finish()
		if err := d.mapRange(b.raw, uint64(offset), uint64(size), false, fn); err != nil {
			d.warn("read buffer", uint32(id), err)
		}
		return
	}

	start := uint64(offset) &^ (copyAlignment - 1)
	length := alignUp(uint64(offset)+uint64(size), copyAlignment) - start
	length = min(length, alignUp(b.size, copyAlignment)-start)
	staging, err := d.dev.raw.CreateBuffer(&hal.BufferDescriptor{
		Label: "gpucmd_readback",
		Size:  alignUp(max(length, copyAlignment), copyAlignment),
		Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		d.warn("read buffer", uint32(id), err)
		return
	}
	defer d.dev.raw.DestroyBuffer(staging)

	enc, err := d.encoder()
	if err != nil {
		d.warn("read buffer", uint32(id), err)
		return
	}
	d.suspend()
	enc.CopyBufferToBuffer(b.raw, staging, []hal.BufferCopy{{SrcOffset: start, Size: length}})
	d.finish()

	skip := uint64(offset) - start
	err = d.mapRange(staging, 0, skip+uint64(size), false, func(p []byte) {
		fn(p[skip:])
	})
	if err != nil {
		d.warn("read buffer", uint32(id), err)
	}
}

// MapBuffer implements gpucmd.Driver.
func (d *Driver) MapBuffer(id gpucmd.BufferID, offset, size uint32, fn func([]byte)) {
	b, ok := d.buffer(id)
	if !ok || uint64(offset)+uint64(size) > b.size {
		d.warn("map buffer", uint32(id), errors.New("unknown buffer or range"))
		return
	}
	if b.desc.Access == gpucmd.AccessDevice {
		d.warn("map buffer", uint32(id), errors.New("buffer is not host visible"))
		return
	}
	if b.mapped {
		d.warn("map buffer", uint32(id), errors.New("already mapped"))
		return
	}
	d.finish()
	if err := d.mapRange(b.raw, uint64(offset), uint64(size), true, fn); err != nil {
		d.warn("map buffer", uint32(id), err)
		return
	}
	b.mapped = size > 0
}

// UnmapBuffer implements gpucmd.Driver.
func (d *Driver) UnmapBuffer(id gpucmd.BufferID) {
	b, ok := d.buffer(id)
	if !ok || !b.mapped {
		return
	}
	b.mapped = false
	if err := d.dev.raw.UnmapBuffer(b.raw); err != nil {
		d.warn("unmap buffer", uint32(id), err)
	}
}

// DeleteBuffer implements gpucmd.Driver.
func (d *Driver) DeleteBuffer(id gpucmd.BufferID) {
	if d.buffers == nil {
		return
	}
	b, ok := d.buffers.Delete(handle.Handle(id))
	if !ok {
		return
	}
	// Bound state may still name the handle.
	d.state.Invalidate()
	dev := d.dev.raw
	d.retire(func() { b.destroy(dev) })
}
