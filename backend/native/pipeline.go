//go:build !nogpu

package native

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/naga"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/gpucmd"
	"github.com/gogpu/gpucmd/bind"
	"github.com/gogpu/gpucmd/handle"
	"github.com/gogpu/gpucmd/internal/cache"
)

// Shader conventions. Uniform slots bind in group 0 at their slot
// number; group 1 holds textures at their slot and samplers at
// samplerBinding plus their slot.
const (
	vertexEntry    = "vs_main"
	fragmentEntry  = "fs_main"
	uniformGroup   = 0
	textureGroup   = 1
	samplerBinding = 16
	spirvMagic     = 0x07230203
)

type pipeline struct {
	desc     gpucmd.PipelineDesc
	parts    bind.Parts
	vertex   hal.ShaderModule
	fragment hal.ShaderModule
	groups   [2]hal.BindGroupLayout
	layout   hal.PipelineLayout
	raw      hal.RenderPipeline
}

func (p *pipeline) destroy(dev hal.Device) {
	if p.raw != nil {
		dev.DestroyRenderPipeline(p.raw)
	}
	if p.layout != nil {
		dev.DestroyPipelineLayout(p.layout)
	}
	for _, g := range p.groups {
		if g != nil {
			dev.DestroyBindGroupLayout(g)
		}
	}
	if p.fragment != nil && p.fragment != p.vertex {
		dev.DestroyShaderModule(p.fragment)
	}
	if p.vertex != nil {
		dev.DestroyShaderModule(p.vertex)
	}
	*p = pipeline{}
}

func (d *Driver) pipeline(id gpucmd.PipelineID) (*pipeline, bool) {
	if d.pipelines == nil {
		return nil, false
	}
	return d.pipelines.Get(handle.Handle(id))
}

// parts is the bind.PartsFunc of the driver.
func (d *Driver) parts(id gpucmd.PipelineID) bind.Parts {
	p, ok := d.pipeline(id)
	if !ok {
		return bind.Parts{}
	}
	return p.parts
}

// spirvWords converts little-endian SPIR-V bytes to words.
func spirvWords(code []byte) []uint32 {
	words := make([]uint32, len(code)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(code[i*4:])
	}
	return words
}

// shaderSource turns shader byte-code into a hal source. SPIR-V is
// recognized by its magic number. Anything else is WGSL: it is compiled
// with naga up front so errors surface here, and Vulkan receives the
// compiled SPIR-V while the other backends translate the WGSL text.
func shaderSource(code []byte, backend gputypes.Backend) (hal.ShaderSource, error) {
	if len(code) >= 4 && len(code)%4 == 0 && binary.LittleEndian.Uint32(code) == spirvMagic {
		return hal.ShaderSource{SPIRV: spirvWords(code)}, nil
	}
	src := string(code)
	t := translations.GetOrCreate(src, func() translation {
		spirv, err := naga.Compile(src)
		if err != nil {
			return translation{err: err}
		}
		return translation{spirv: spirvWords(spirv)}
	})
	if t.err != nil {
		return hal.ShaderSource{WGSL: src}, t.err
	}
	if backend == gputypes.BackendVulkan {
		return hal.ShaderSource{SPIRV: t.spirv}, nil
	}
	return hal.ShaderSource{WGSL: src}, nil
}

// translation is the naga result for one WGSL source.
type translation struct {
	spirv []uint32
	err   error
}

// translations is shared by all drivers; the result depends only on the
// source text.
var translations = cache.New[string, translation](128)

func (d *Driver) shaderModule(label string, code []byte) (hal.ShaderModule, error) {
	src, err := shaderSource(code, d.dev.backend.Variant())
	if err != nil {
		// The backend's own compiler gets a chance; naga may lag behind it.
		gpucmd.Logger().Warn("native: shader did not compile with naga", "shader", label, "error", err)
	}
	return d.dev.raw.CreateShaderModule(&hal.ShaderModuleDescriptor{Label: label, Source: src})
}

// groupLayouts returns the bind group layout entries for the masks of d.
func groupLayouts(d *gpucmd.PipelineDesc) (uniforms, textures []gputypes.BindGroupLayoutEntry) {
	stages := gputypes.ShaderStageVertex | gputypes.ShaderStageFragment
	for slot := range gpucmd.MaxUniformSlots {
		if d.UniformMask&(1<<slot) != 0 {
			uniforms = append(uniforms, gputypes.BindGroupLayoutEntry{
				Binding:    uint32(slot),
				Visibility: stages,
				Buffer:     &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform},
			})
		}
	}
	for slot := range gpucmd.MaxTextureSlots {
		if d.TextureMask&(1<<slot) != 0 {
			textures = append(textures, gputypes.BindGroupLayoutEntry{
				Binding:    uint32(slot),
				Visibility: stages,
				Texture: &gputypes.TextureBindingLayout{
					SampleType:    slotSampleType(d, slot),
					ViewDimension: gputypes.TextureViewDimension2D,
				},
			})
		}
	}
	for slot := range gpucmd.MaxSamplerSlots {
		if d.SamplerMask&(1<<slot) != 0 {
			textures = append(textures, gputypes.BindGroupLayoutEntry{
				Binding:    uint32(samplerBinding + slot),
				Visibility: stages,
				Sampler:    &gputypes.SamplerBindingLayout{Type: gputypes.SamplerBindingTypeFiltering},
			})
		}
	}
	return uniforms, textures
}

// slotSampleType is the sample type texture slot expects.
func slotSampleType(d *gpucmd.PipelineDesc, slot int) gputypes.TextureSampleType {
	if d.DepthTextureMask&(1<<slot) != 0 {
		return gputypes.TextureSampleTypeDepth
	}
	return gputypes.TextureSampleTypeFloat
}

// vertexLayouts builds one buffer layout per stream slot up to the last
// one an attribute reads, so the buffer index equals the stream number.
func vertexLayouts(d *gpucmd.PipelineDesc) []gputypes.VertexBufferLayout {
	attrs := d.VertexAttributes()
	streams := 0
	for _, a := range attrs {
		streams = max(streams, int(a.Stream)+1)
	}
	layouts := make([]gputypes.VertexBufferLayout, streams)
	for i := range layouts {
		s := d.Streams[i]
		layouts[i].ArrayStride = uint64(s.Stride)
		layouts[i].StepMode = gputypes.VertexStepModeVertexBufferNotUsed
		if s.Instanced {
			layouts[i].StepMode = gputypes.VertexStepModeInstance
		}
	}
	for _, a := range attrs {
		l := &layouts[a.Stream]
		if l.StepMode == gputypes.VertexStepModeVertexBufferNotUsed {
			l.StepMode = gputypes.VertexStepModeVertex
		}
		l.Attributes = append(l.Attributes, gputypes.VertexAttribute{
			Format:         lookup(vertexFormats[:], a.Format),
			Offset:         uint64(a.Offset),
			ShaderLocation: uint32(a.Location),
		})
	}
	return layouts
}

func stencilFace(ds *gpucmd.DepthStencilState) hal.StencilFaceState {
	if !ds.StencilTest {
		return hal.StencilFaceState{
			Compare:     gputypes.CompareFunctionAlways,
			FailOp:      hal.StencilOperationKeep,
			DepthFailOp: hal.StencilOperationKeep,
			PassOp:      hal.StencilOperationKeep,
		}
	}
	return hal.StencilFaceState{
		Compare:     lookup(compares[:], ds.StencilCompare),
		FailOp:      lookup(stencilOps[:], ds.StencilFail),
		DepthFailOp: lookup(stencilOps[:], ds.StencilDepthFail),
		PassOp:      lookup(stencilOps[:], ds.StencilPass),
	}
}

func depthStencilState(d *gpucmd.PipelineDesc) *hal.DepthStencilState {
	if d.DepthFormat == gpucmd.FormatUnknown {
		return nil
	}
	ds := &d.DepthStencil
	compare := gputypes.CompareFunctionAlways
	if ds.DepthTest {
		compare = lookup(compares[:], ds.DepthCompare)
	}
	face := stencilFace(ds)
	state := &hal.DepthStencilState{
		Format:              textureFormat(d.DepthFormat),
		DepthWriteEnabled:   ds.DepthWrite,
		DepthCompare:        compare,
		StencilFront:        face,
		StencilBack:         face,
		DepthBias:           d.Raster.DepthBias,
		DepthBiasSlopeScale: d.Raster.SlopeBias,
		DepthBiasClamp:      d.Raster.BiasClamp,
	}
	if ds.StencilTest {
		state.StencilReadMask = uint32(ds.StencilReadMask)
		state.StencilWriteMask = uint32(ds.StencilWriteMask)
	}
	return state
}

// colorTargets returns the fragment targets. A pipeline without color
// formats renders to the display format.
func (d *Driver) colorTargets(desc *gpucmd.PipelineDesc) []gputypes.ColorTargetState {
	formats := desc.ColorFormats[:desc.ColorCount]
	if len(formats) == 0 {
		formats = []gpucmd.Format{formatOf(d.surfaceFormat)}
	}
	mask := gputypes.ColorWriteMaskAll
	if m := desc.Blend.WriteMask & 0xF; m != 0 {
		mask = gputypes.ColorWriteMask(m)
	}
	var blend *gputypes.BlendState
	if b := &desc.Blend; b.Enabled {
		blend = &gputypes.BlendState{
			Color: gputypes.BlendComponent{
				SrcFactor: lookup(blendFactors[:], b.SrcColor),
				DstFactor: lookup(blendFactors[:], b.DstColor),
				Operation: lookup(blendOps[:], b.ColorOp),
			},
			Alpha: gputypes.BlendComponent{
				SrcFactor: lookup(blendFactors[:], b.SrcAlpha),
				DstFactor: lookup(blendFactors[:], b.DstAlpha),
				Operation: lookup(blendOps[:], b.AlphaOp),
			},
		}
	}
	targets := make([]gputypes.ColorTargetState, len(formats))
	for i, f := range formats {
		targets[i] = gputypes.ColorTargetState{Format: textureFormat(f), Blend: blend, WriteMask: mask}
	}
	return targets
}

func primitiveState(d *gpucmd.PipelineDesc) gputypes.PrimitiveState {
	ps := gputypes.PrimitiveState{
		Topology:  lookup(topologies[:], d.Topology),
		FrontFace: gputypes.FrontFaceCCW,
		CullMode:  gputypes.CullModeNone,
	}
	if d.Raster.FrontCW {
		ps.FrontFace = gputypes.FrontFaceCW
	}
	switch d.Raster.Cull {
	case gpucmd.CullBack:
		ps.CullMode = gputypes.CullModeBack
	case gpucmd.CullFront:
		ps.CullMode = gputypes.CullModeFront
	}
	return ps
}

// CreatePipeline implements gpucmd.Driver. The fragment shader may be
// empty, in which case the vertex code must also contain fs_main.
func (d *Driver) CreatePipeline(id gpucmd.PipelineID, desc *gpucmd.PipelineDesc, vertex, fragment []byte) {
	if d.dev == nil {
		d.warn("create pipeline", uint32(id), gpucmd.ErrNotInitialized)
		return
	}
	p, err := d.newPipeline(desc, vertex, fragment)
	if err != nil {
		d.warn("create pipeline", uint32(id), err)
		return
	}
	p.parts = bind.PartsOf(id, desc)
	if !d.pipelines.Set(handle.Handle(id), p) {
		p.destroy(d.dev.raw)
		d.warn("create pipeline", uint32(id), errors.New("handle out of range"))
	}
}

func (d *Driver) newPipeline(desc *gpucmd.PipelineDesc, vertex, fragment []byte) (p pipeline, err error) {
	dev := d.dev.raw
	p.desc = *desc
	defer func() {
		if err != nil {
			p.destroy(dev)
		}
	}()

	if desc.Raster.Fill == gpucmd.FillWireframe {
		d.warnOnce("wireframe fill is not supported, drawing solid")
	}
	if p.vertex, err = d.shaderModule("gpucmd_vs", vertex); err != nil {
		return p, fmt.Errorf("vertex shader: %w", err)
	}
	p.fragment = p.vertex
	if len(fragment) > 0 {
		if p.fragment, err = d.shaderModule("gpucmd_fs", fragment); err != nil {
			return p, fmt.Errorf("fragment shader: %w", err)
		}
	}

	uniforms, textures := groupLayouts(desc)
	if p.groups[uniformGroup], err = dev.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label: "gpucmd_uniforms", Entries: uniforms,
	}); err != nil {
		return p, fmt.Errorf("uniform layout: %w", err)
	}
	if p.groups[textureGroup], err = dev.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label: "gpucmd_textures", Entries: textures,
	}); err != nil {
		return p, fmt.Errorf("texture layout: %w", err)
	}
	if p.layout, err = dev.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            "gpucmd_layout",
		BindGroupLayouts: p.groups[:],
	}); err != nil {
		return p, fmt.Errorf("pipeline layout: %w", err)
	}

	p.raw, err = dev.CreateRenderPipeline(&hal.RenderPipelineDescriptor{
		Label:  "gpucmd_pipeline",
		Layout: p.layout,
		Vertex: hal.VertexState{
			Module:     p.vertex,
			EntryPoint: vertexEntry,
			Buffers:    vertexLayouts(desc),
		},
		Primitive:    primitiveState(desc),
		DepthStencil: depthStencilState(desc),
		Multisample: gputypes.MultisampleState{
			Count: uint32(d.caps.SampleCount(int(desc.Samples))), //nolint:gosec // at most MaxSamples
			Mask:  0xFFFFFFFF,
		},
		Fragment: &hal.FragmentState{
			Module:     p.fragment,
			EntryPoint: fragmentEntry,
			Targets:    d.colorTargets(desc),
		},
	})
	if err != nil {
		return p, fmt.Errorf("render pipeline: %w", err)
	}
	return p, nil
}

// DeletePipeline implements gpucmd.Driver.
func (d *Driver) DeletePipeline(id gpucmd.PipelineID) {
	if d.pipelines == nil {
		return
	}
	p, ok := d.pipelines.Delete(handle.Handle(id))
	if !ok {
		return
	}
	if d.bound.pipeline == id {
		d.bound.pipeline = 0
		d.state.Invalidate()
	}
	dev := d.dev.raw
	d.retire(func() { p.destroy(dev) })
}
