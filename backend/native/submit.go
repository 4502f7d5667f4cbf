//go:build !nogpu

package native

import (
	"errors"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/gpucmd"
	"github.com/gogpu/gpucmd/bind"
)

// Bind group dirty bits.
const (
	dirtyUniforms uint8 = 1 << uniformGroup
	dirtyTextures uint8 = 1 << textureGroup
	dirtyAll            = dirtyUniforms | dirtyTextures
)

// bindings is what the open render pass has bound. Uniforms, textures
// and samplers are collected here and turned into bind groups right
// before a draw.
type bindings struct {
	pipeline gpucmd.PipelineID
	uniforms [gpucmd.MaxUniformSlots]gpucmd.UniformBinding
	textures [gpucmd.MaxTextureSlots]gpucmd.TextureID
	samplers [gpucmd.MaxSamplerSlots]gpucmd.Sampler
	dirty    uint8

	indexWidth bind.IndexWidth
	indexOK    bool

	targetWidth  uint32
	targetHeight uint32
}

// placeholders stand in for unbound or deleted resources so that a
// bind group always matches its layout.
type placeholders struct {
	texture   hal.Texture
	view      hal.TextureView
	depth     hal.Texture
	// depthView is bound to unbound depth texture slots.
	depthView hal.TextureView
	uniform   hal.Buffer
	sampler   hal.Sampler
}

func (p *placeholders) destroy(dev hal.Device) {
	if p.sampler != nil {
		dev.DestroySampler(p.sampler)
	}
	if p.uniform != nil {
		dev.DestroyBuffer(p.uniform)
	}
	if p.view != nil {
		dev.DestroyTextureView(p.view)
	}
	if p.texture != nil {
		dev.DestroyTexture(p.texture)
	}
	if p.depthView != nil {
		dev.DestroyTextureView(p.depthView)
	}
	if p.depth != nil {
		dev.DestroyTexture(p.depth)
	}
	*p = placeholders{}
}

func (d *Driver) createPlaceholders() error {
	t, err := d.newTexture(&gpucmd.TextureDesc{
		Width: 1, Height: 1, Format: gpucmd.FormatRGBA8, Layout: gpucmd.LayoutSampled, Levels: 1, Samples: 1,
	}, "gpucmd_blank")
	if err != nil {
		return err
	}
	d.blank.texture, d.blank.view = t.raw, t.view
	d.upload(&t, 0, gpucmd.Rect{Width: 1, Height: 1}, []byte{0xFF, 0xFF, 0xFF, 0xFF})

	if t, err = d.newTexture(&gpucmd.TextureDesc{
		Width: 1, Height: 1, Format: gpucmd.FormatD32F, Layout: gpucmd.LayoutSampled, Levels: 1, Samples: 1,
	}, "gpucmd_blank_depth"); err != nil {
		return err
	}
	d.blank.depth, d.blank.depthView = t.raw, t.view
	d.upload(&t, 0, gpucmd.Rect{Width: 1, Height: 1}, []byte{0x00, 0x00, 0x80, 0x3F}) // 1.0

	if d.blank.uniform, err = d.dev.raw.CreateBuffer(&hal.BufferDescriptor{
		Label: "gpucmd_blank_uniform",
		Size:  gpucmd.UniformAlignment,
		Usage: gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst,
	}); err != nil {
		return err
	}
	if d.blank.sampler, err = d.dev.raw.CreateSampler(d.samplers.descriptor(gpucmd.Sampler{})); err != nil {
		return err
	}
	return nil
}

// binder adapts the driver to bind.Binder.
type binder struct{ d *Driver }

func (b binder) SetPipeline(id gpucmd.PipelineID, _ bind.PartMask) {
	d := b.d
	d.bound.pipeline = id
	d.bound.dirty = dirtyAll
	if p, ok := d.pipeline(id); ok {
		d.rp.SetPipeline(p.raw)
	}
}

func (b binder) SetStencilRef(ref uint32) { b.d.rp.SetStencilReference(ref) }

func (b binder) SetVertexStreams(start int, streams []gpucmd.VertexStream) {
	d := b.d
	for i, s := range streams {
		if s.Buffer == 0 {
			continue
		}
		buf, ok := d.buffer(s.Buffer)
		if !ok {
			d.warnOnce("vertex stream names an unknown buffer", "buffer", s.Buffer)
			continue
		}
		buf.used = d.serial
		d.rp.SetVertexBuffer(uint32(start+i), buf.raw, uint64(s.Offset)) //nolint:gosec // slot < MaxVertexStreams
	}
}

func (b binder) SetIndexStream(s gpucmd.VertexStream, width bind.IndexWidth) {
	d := b.d
	d.bound.indexWidth = width
	d.bound.indexOK = false
	if width == bind.IndexNone {
		return
	}
	buf, ok := d.buffer(s.Buffer)
	if !ok {
		d.warnOnce("index stream names an unknown buffer", "buffer", s.Buffer)
		return
	}
	format := gputypes.IndexFormatUint16
	switch width {
	case bind.Index32:
		format = gputypes.IndexFormatUint32
	case bind.Index8:
		d.warnOnce("8-bit indices are not supported, indexed draws are skipped")
		return
	}
	buf.used = d.serial
	d.rp.SetIndexBuffer(buf.raw, format, uint64(s.Offset))
	d.bound.indexOK = true
}

// SetScissor clips r to the render target. An empty rectangle disables
// scissoring.
func (b binder) SetScissor(r gpucmd.Rect) {
	d := b.d
	w, h := d.bound.targetWidth, d.bound.targetHeight
	if r.Empty() {
		d.rp.SetScissorRect(0, 0, w, h)
		return
	}
	x, y := min(r.X, w), min(r.Y, h)
	d.rp.SetScissorRect(x, y, min(r.Width, w-x), min(r.Height, h-y))
}

func (b binder) SetSamplers(start int, samplers []gpucmd.Sampler) {
	copy(b.d.bound.samplers[start:], samplers)
	b.d.bound.dirty |= dirtyTextures
}

func (b binder) SetTextures(start int, textures []gpucmd.TextureID) {
	copy(b.d.bound.textures[start:], textures)
	b.d.bound.dirty |= dirtyTextures
}

func (b binder) SetUniforms(start int, uniforms []gpucmd.UniformBinding) {
	copy(b.d.bound.uniforms[start:], uniforms)
	b.d.bound.dirty |= dirtyUniforms
}

// uniformEntries resolves the uniform slots the pipeline declares.
func (d *Driver) uniformEntries(p *pipeline) []gputypes.BindGroupEntry {
	var entries []gputypes.BindGroupEntry
	for slot := range gpucmd.MaxUniformSlots {
		if p.desc.UniformMask&(1<<slot) == 0 {
			continue
		}
		u := d.bound.uniforms[slot]
		res := gputypes.BufferBinding{Buffer: d.blank.uniform.NativeHandle(), Size: gpucmd.UniformAlignment}
		if buf, ok := d.buffer(u.Buffer); ok && uint64(u.Offset) < buf.size {
			buf.used = d.serial
			size := uint64(u.Size)
			if size == 0 || uint64(u.Offset)+size > buf.size {
				size = buf.size - uint64(u.Offset)
			}
			res = gputypes.BufferBinding{Buffer: buf.raw.NativeHandle(), Offset: uint64(u.Offset), Size: size}
		}
		entries = append(entries, gputypes.BindGroupEntry{Binding: uint32(slot), Resource: res})
	}
	return entries
}

// textureEntries resolves the texture and sampler slots the pipeline
// declares.
func (d *Driver) textureEntries(p *pipeline) []gputypes.BindGroupEntry {
	var entries []gputypes.BindGroupEntry
	for slot := range gpucmd.MaxTextureSlots {
		if p.desc.TextureMask&(1<<slot) == 0 {
			continue
		}
		want := slotSampleType(&p.desc, slot)
		view := d.blank.view
		if want == gputypes.TextureSampleTypeDepth {
			view = d.blank.depthView
		}
		if t, ok := d.texture(d.bound.textures[slot]); ok && t.view != nil {
			if got := sampleType(t.desc.Format); bindable(want, got) {
				view = t.view
			} else {
				d.warnOnce("texture format does not match its slot",
					"texture", uint32(d.bound.textures[slot]), "format", t.desc.Format.String(), "slot", slot)
			}
		}
		entries = append(entries, gputypes.BindGroupEntry{
			Binding:  uint32(slot),
			Resource: gputypes.TextureViewBinding{TextureView: view.NativeHandle()},
		})
	}
	for slot := range gpucmd.MaxSamplerSlots {
		if p.desc.SamplerMask&(1<<slot) == 0 {
			continue
		}
		s, err := d.samplers.get(d.dev.raw, d.bound.samplers[slot])
		if err != nil {
			d.warnOnce("sampler creation failed", "error", err)
			s = d.blank.sampler
		}
		entries = append(entries, gputypes.BindGroupEntry{
			Binding:  uint32(samplerBinding + slot),
			Resource: gputypes.SamplerBinding{Sampler: s.NativeHandle()},
		})
	}
	return entries
}

// bindable reports whether a view of sample type got may be bound to a
// slot declared as want. Unfilterable floats are left to the device.
func bindable(want, got gputypes.TextureSampleType) bool {
	if want == gputypes.TextureSampleTypeDepth {
		return got == gputypes.TextureSampleTypeDepth
	}
	return got != gputypes.TextureSampleTypeDepth
}

// bindGroups creates and binds the groups marked dirty.
func (d *Driver) bindGroups(p *pipeline) error {
	dev := d.dev.raw
	for group := range p.groups {
		bit := uint8(1) << group
		if d.bound.dirty&bit == 0 {
			continue
		}
		var entries []gputypes.BindGroupEntry
		if group == uniformGroup {
			entries = d.uniformEntries(p)
		} else {
			entries = d.textureEntries(p)
		}
		bg, err := dev.CreateBindGroup(&hal.BindGroupDescriptor{
			Label:   "gpucmd_bind_group",
			Layout:  p.groups[group],
			Entries: entries,
		})
		if err != nil {
			return err
		}
		d.rp.SetBindGroup(uint32(group), bg, nil) //nolint:gosec // two groups
		d.retire(func() { dev.DestroyBindGroup(bg) })
		d.bound.dirty &^= bit
	}
	return nil
}

// Submit implements gpucmd.Driver. bind.State decides what each
// submission rebinds; bind groups are rebuilt only for the groups whose
// resources changed.
func (d *Driver) Submit(id gpucmd.PassID, subs []gpucmd.Submission) {
	if _, ok := d.resume(id); !ok {
		return
	}
	b := binder{d}
	for i := range subs {
		s := &subs[i]
		d.state.Apply(b, s)
		p, ok := d.pipeline(d.bound.pipeline)
		if !ok {
			d.warnOnce("draw with an unknown pipeline, skipped", "pipeline", s.Pipeline)
			continue
		}
		if err := d.bindGroups(p); err != nil {
			d.warn("bind group", uint32(s.Pipeline), err)
			continue
		}
		d.draw(&s.Range)
	}
}

var errNoIndex = errors.New("no usable index stream")

func (d *Driver) draw(r *gpucmd.Range) {
	if r.Count == 0 {
		return
	}
	instances := max(r.Instances, 1)
	if d.bound.indexWidth == bind.IndexNone {
		d.rp.Draw(r.Count, instances, r.First, 0)
		return
	}
	if !d.bound.indexOK {
		d.warnOnce("indexed draw skipped", "error", errNoIndex)
		return
	}
	d.rp.DrawIndexed(r.Count, instances, r.First, r.Base, 0)
}
