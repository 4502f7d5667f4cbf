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

// rowAlignment is the required bytes-per-row alignment of texture to
// buffer copies.
const rowAlignment = 256

type texture struct {
	desc gpucmd.TextureDesc
	raw  hal.Texture
	// view covers every mip level and is nil unless the texture is
	// sampled.
	view hal.TextureView
}

func (t *texture) destroy(dev hal.Device) {
	if t.view != nil {
		dev.DestroyTextureView(t.view)
		t.view = nil
	}
	if t.raw != nil {
		dev.DestroyTexture(t.raw)
		t.raw = nil
	}
}

func (d *Driver) texture(id gpucmd.TextureID) (*texture, bool) {
	if d.textures == nil {
		return nil, false
	}
	return d.textures.Get(handle.Handle(id))
}

// newTexture creates the native texture and, for sampled textures, its
// shader view.
func (d *Driver) newTexture(desc *gpucmd.TextureDesc, label string) (texture, error) {
	raw, err := d.dev.raw.CreateTexture(&hal.TextureDescriptor{
		Label:         label,
		Size:          hal.Extent3D{Width: uint32(desc.Width), Height: uint32(desc.Height), DepthOrArrayLayers: 1},
		MipLevelCount: uint32(max(desc.Levels, 1)),
		SampleCount:   uint32(max(desc.Samples, 1)),
		Dimension:     gputypes.TextureDimension2D,
		Format:        textureFormat(desc.Format),
		Usage:         textureUsage(desc),
	})
	if err != nil {
		return texture{}, err
	}
	t := texture{desc: *desc, raw: raw}
	if desc.Samples <= 1 && desc.Layout&gpucmd.LayoutSampled != 0 {
		t.view, err = d.dev.raw.CreateTextureView(raw, &hal.TextureViewDescriptor{
			Label:           label + "_view",
			Format:          textureFormat(desc.Format),
			Dimension:       gputypes.TextureViewDimension2D,
			Aspect:          dataAspect(desc.Format),
			MipLevelCount:   uint32(max(desc.Levels, 1)),
			ArrayLayerCount: 1,
		})
		if err != nil {
			d.dev.raw.DestroyTexture(raw)
			return texture{}, err
		}
	}
	return t, nil
}

// levelView creates a single-level view for use as an attachment.
func (d *Driver) levelView(t *texture, level uint32) (hal.TextureView, error) {
	return d.dev.raw.CreateTextureView(t.raw, &hal.TextureViewDescriptor{
		Label:           "gpucmd_attachment",
		Format:          textureFormat(t.desc.Format),
		Dimension:       gputypes.TextureViewDimension2D,
		Aspect:          gputypes.TextureAspectAll,
		BaseMipLevel:    level,
		MipLevelCount:   1,
		ArrayLayerCount: 1,
	})
}

// CreateTexture implements gpucmd.Driver.
func (d *Driver) CreateTexture(id gpucmd.TextureID, desc *gpucmd.TextureDesc, data []byte) {
	if d.dev == nil {
		d.warn("create texture", uint32(id), gpucmd.ErrNotInitialized)
		return
	}
	t, err := d.newTexture(desc, "gpucmd_texture")
	if err != nil {
		d.warn("create texture", uint32(id), err)
		return
	}
	if !d.textures.Set(handle.Handle(id), t) {
		t.destroy(d.dev.raw)
		d.warn("create texture", uint32(id), errors.New("handle out of range"))
		return
	}
	for level, block := range gpucmd.SplitMips(desc, data) {
		if block == nil {
			continue
		}
		w, h := gpucmd.MipExtent(int(desc.Width), int(desc.Height), level)
		d.upload(&t, uint32(level), gpucmd.Rect{Width: uint32(w), Height: uint32(h)}, block) //nolint:gosec // bounded by MaxTextureSize
	}
}

func (d *Driver) upload(t *texture, level uint32, region gpucmd.Rect, data []byte) {
	if !bufferCopyable(t.desc.Format) {
		d.warn("update texture", 0, fmt.Errorf("format %s cannot be uploaded", t.desc.Format))
		return
	}
	pitch := gpucmd.RowPitch(t.desc.Format, int(region.Width))
	rows := gpucmd.Rows(t.desc.Format, int(region.Height))
	if len(data) < pitch*rows {
		d.warn("update texture", 0, fmt.Errorf("have %d bytes, need %d", len(data), pitch*rows))
		return
	}
	err := d.dev.queue.WriteTexture(
		&hal.ImageCopyTexture{
			Texture:  t.raw,
			MipLevel: level,
			Origin:   hal.Origin3D{X: region.X, Y: region.Y},
			Aspect:   dataAspect(t.desc.Format),
		},
		data,
		&hal.ImageDataLayout{BytesPerRow: uint32(pitch), RowsPerImage: uint32(rows)}, //nolint:gosec // small
		&hal.Extent3D{Width: region.Width, Height: region.Height, DepthOrArrayLayers: 1},
	)
	if err != nil {
		d.warn("write texture", 0, err)
	}
}

// UpdateTexture implements gpucmd.Driver. An empty region covers the
// whole level.
func (d *Driver) UpdateTexture(id gpucmd.TextureID, level uint32, region gpucmd.Rect, data []byte) {
	t, ok := d.texture(id)
	if !ok {
		d.warn("update texture", uint32(id), errors.New("unknown texture"))
		return
	}
	w, h := gpucmd.MipExtent(int(t.desc.Width), int(t.desc.Height), int(level))
	if region.Empty() {
		region = gpucmd.Rect{Width: uint32(w), Height: uint32(h)} //nolint:gosec // bounded by MaxTextureSize
	}
	if level >= uint32(max(t.desc.Levels, 1)) || region.X+region.Width > uint32(w) || region.Y+region.Height > uint32(h) { //nolint:gosec // bounded
		d.warn("update texture", uint32(id), fmt.Errorf("region %+v outside level %d", region, level))
		return
	}
	d.upload(t, level, region, data)
}

// CopyTexture implements gpucmd.Driver.
func (d *Driver) CopyTexture(c *gpucmd.TextureCopy) {
	dst, ok1 := d.texture(c.Dst)
	src, ok2 := d.texture(c.Src)
	if !ok1 || !ok2 {
		d.warn("copy texture", uint32(c.Dst), errors.New("unknown texture"))
		return
	}
	if dst.desc.Format != src.desc.Format {
		d.warn("copy texture", uint32(c.Dst), fmt.Errorf("format %s != %s", dst.desc.Format, src.desc.Format))
		return
	}
	region := c.Region
	if region.Empty() {
		w, h := gpucmd.MipExtent(int(src.desc.Width), int(src.desc.Height), int(c.SrcLevel))
		region = gpucmd.Rect{Width: uint32(w), Height: uint32(h)} //nolint:gosec // bounded by MaxTextureSize
	}
	enc, err := d.encoder()
	if err != nil {
		d.warn("copy texture", uint32(c.Dst), err)
		return
	}
	d.suspend()
	enc.CopyTextureToTexture(src.raw, dst.raw, []hal.TextureCopy{{
		SrcBase: hal.ImageCopyTexture{
			Texture:  src.raw,
			MipLevel: c.SrcLevel,
			Origin:   hal.Origin3D{X: region.X, Y: region.Y},
			Aspect:   gputypes.TextureAspectAll,
		},
		DstBase: hal.ImageCopyTexture{
			Texture:  dst.raw,
			MipLevel: c.DstLevel,
			Origin:   hal.Origin3D{X: c.DstX, Y: c.DstY},
			Aspect:   gputypes.TextureAspectAll,
		},
		Size: hal.Extent3D{Width: region.Width, Height: region.Height, DepthOrArrayLayers: 1},
	}})
}

// ReadTexture implements gpucmd.Driver. The level is copied into a
// staging buffer with 256-byte aligned rows, the frame is submitted and
// waited for, and the rows are repacked tightly before fn sees them.
func (d *Driver) ReadTexture(id gpucmd.TextureID, level uint32, fn func([]byte, int)) {
	t, ok := d.texture(id)
	if !ok || level >= uint32(max(t.desc.Levels, 1)) {
		d.warn("read texture", uint32(id), errors.New("unknown texture or level"))
		return
	}
	if t.desc.Samples > 1 {
		d.warn("read texture", uint32(id), errors.New("multisampled textures cannot be read"))
		return
	}
	if !bufferCopyable(t.desc.Format) {
		d.warn("read texture", uint32(id), fmt.Errorf("format %s cannot be read back", t.desc.Format))
		return
	}
	w, h := gpucmd.MipExtent(int(t.desc.Width), int(t.desc.Height), int(level))
	pitch := gpucmd.RowPitch(t.desc.Format, w)
	rows := gpucmd.Rows(t.desc.Format, h)
	padded := int(alignUp(uint64(pitch), rowAlignment)) //nolint:gosec // small
	size := uint64(padded * rows)                       //nolint:gosec // small

	staging, err := d.dev.raw.CreateBuffer(&hal.BufferDescriptor{
		Label: "gpucmd_readback",
		Size:  size,
		Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		d.warn("read texture", uint32(id), err)
		return
	}
	defer d.dev.raw.DestroyBuffer(staging)

	enc, err := d.encoder()
	if err != nil {
		d.warn("read texture", uint32(id), err)
		return
	}
	d.suspend()
	enc.CopyTextureToBuffer(t.raw, staging, []hal.BufferTextureCopy{{
		BufferLayout: hal.ImageDataLayout{BytesPerRow: uint32(padded), RowsPerImage: uint32(rows)}, //nolint:gosec // small
		TextureBase: hal.ImageCopyTexture{
			Texture:  t.raw,
			MipLevel: level,
			Aspect:   dataAspect(t.desc.Format),
		},
		Size: hal.Extent3D{Width: uint32(w), Height: uint32(h), DepthOrArrayLayers: 1}, //nolint:gosec // small
	}})
	d.finish()

	m, err := d.dev.raw.MapBuffer(staging, 0, size)
	if err != nil {
		d.warn("read texture", uint32(id), err)
		return
	}
	src := unsafe.Slice((*byte)(m.Ptr), size)
	out := make([]byte, pitch*rows)
	for y := range rows {
		copy(out[y*pitch:(y+1)*pitch], src[y*padded:])
	}
	if err := d.dev.raw.UnmapBuffer(staging); err != nil {
		d.warn("read texture", uint32(id), err)
	}
	fn(out, pitch)
}

// DeleteTexture implements gpucmd.Driver.
func (d *Driver) DeleteTexture(id gpucmd.TextureID) {
	if d.textures == nil {
		return
	}
	t, ok := d.textures.Delete(handle.Handle(id))
	if !ok {
		return
	}
	// Bound state may still name the handle.
	d.state.Invalidate()
	dev := d.dev.raw
	d.retire(func() { t.destroy(dev) })
}
