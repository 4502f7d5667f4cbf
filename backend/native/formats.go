//go:build !nogpu

package native

import (
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/gpucmd"
)

// formatEntry describes how a command-set format maps onto the device.
type formatEntry struct {
	native gputypes.TextureFormat
	// sample is the type a shader reads through a sampled view.
	sample gputypes.TextureSampleType
	// noBufferCopy marks formats whose texels cannot be copied to or from
	// a buffer in the layout Format.Info describes.
	noBufferCopy bool
}

var textureFormats = [...]formatEntry{
	gpucmd.FormatUnknown:   {native: gputypes.TextureFormatUndefined},
	gpucmd.FormatR8:        {gputypes.TextureFormatR8Unorm, gputypes.TextureSampleTypeFloat, false},
	gpucmd.FormatRG8:       {gputypes.TextureFormatRG8Unorm, gputypes.TextureSampleTypeFloat, false},
	gpucmd.FormatRGBA8:     {gputypes.TextureFormatRGBA8Unorm, gputypes.TextureSampleTypeFloat, false},
	gpucmd.FormatRGBA8Srgb: {gputypes.TextureFormatRGBA8UnormSrgb, gputypes.TextureSampleTypeFloat, false},
	gpucmd.FormatBGRA8:     {gputypes.TextureFormatBGRA8Unorm, gputypes.TextureSampleTypeFloat, false},
	gpucmd.FormatBGRA8Srgb: {gputypes.TextureFormatBGRA8UnormSrgb, gputypes.TextureSampleTypeFloat, false},
	gpucmd.FormatRGB10A2:   {gputypes.TextureFormatRGB10A2Unorm, gputypes.TextureSampleTypeFloat, false},
	gpucmd.FormatRG11B10F:  {gputypes.TextureFormatRG11B10Ufloat, gputypes.TextureSampleTypeFloat, false},
	gpucmd.FormatR16F:      {gputypes.TextureFormatR16Float, gputypes.TextureSampleTypeFloat, false},
	gpucmd.FormatRG16F:     {gputypes.TextureFormatRG16Float, gputypes.TextureSampleTypeFloat, false},
	gpucmd.FormatRGBA16F:   {gputypes.TextureFormatRGBA16Float, gputypes.TextureSampleTypeFloat, false},
	gpucmd.FormatR32F:      {gputypes.TextureFormatR32Float, gputypes.TextureSampleTypeUnfilterableFloat, false},
	gpucmd.FormatRG32F:     {gputypes.TextureFormatRG32Float, gputypes.TextureSampleTypeUnfilterableFloat, false},
	gpucmd.FormatRGBA32F:   {gputypes.TextureFormatRGBA32Float, gputypes.TextureSampleTypeUnfilterableFloat, false},
	gpucmd.FormatD16:       {gputypes.TextureFormatDepth16Unorm, gputypes.TextureSampleTypeDepth, false},
	gpucmd.FormatD24S8:     {gputypes.TextureFormatDepth24PlusStencil8, gputypes.TextureSampleTypeDepth, true},
	gpucmd.FormatD32F:      {gputypes.TextureFormatDepth32Float, gputypes.TextureSampleTypeDepth, false},
	gpucmd.FormatD32FS8:    {gputypes.TextureFormatDepth32FloatStencil8, gputypes.TextureSampleTypeDepth, true},
	gpucmd.FormatBC1:       {gputypes.TextureFormatBC1RGBAUnorm, gputypes.TextureSampleTypeFloat, false},
	gpucmd.FormatBC2:       {gputypes.TextureFormatBC2RGBAUnorm, gputypes.TextureSampleTypeFloat, false},
	gpucmd.FormatBC3:       {gputypes.TextureFormatBC3RGBAUnorm, gputypes.TextureSampleTypeFloat, false},
	gpucmd.FormatBC4:       {gputypes.TextureFormatBC4RUnorm, gputypes.TextureSampleTypeFloat, false},
	gpucmd.FormatBC5:       {gputypes.TextureFormatBC5RGUnorm, gputypes.TextureSampleTypeFloat, false},
	gpucmd.FormatBC7:       {gputypes.TextureFormatBC7RGBAUnorm, gputypes.TextureSampleTypeFloat, false},
}

func formatEntryOf(f gpucmd.Format) formatEntry {
	if int(f) >= len(textureFormats) {
		return textureFormats[0]
	}
	return textureFormats[f]
}

func textureFormat(f gpucmd.Format) gputypes.TextureFormat {
	return formatEntryOf(f).native
}

// formatOf maps a native format back, returning FormatUnknown for formats
// the command set does not name.
func formatOf(tf gputypes.TextureFormat) gpucmd.Format {
	for f, e := range textureFormats {
		if e.native == tf && f != 0 {
			return gpucmd.Format(f) //nolint:gosec // table index
		}
	}
	return gpucmd.FormatUnknown
}

// sampleType returns the binding sample type of a sampled view of f.
func sampleType(f gpucmd.Format) gputypes.TextureSampleType {
	return formatEntryOf(f).sample
}

// dataAspect is the aspect a sampled view or a buffer copy of f reads:
// the depth plane of depth formats, every plane otherwise. Views bound
// as attachments and texture-to-texture copies use TextureAspectAll.
func dataAspect(f gpucmd.Format) gputypes.TextureAspect {
	if f.Info().Depth {
		return gputypes.TextureAspectDepthOnly
	}
	return gputypes.TextureAspectAll
}

// bufferCopyable reports whether texels of f can move between a texture
// and a buffer.
func bufferCopyable(f gpucmd.Format) bool {
	e := formatEntryOf(f)
	return e.native != gputypes.TextureFormatUndefined && !e.noBufferCopy
}

func textureUsage(d *gpucmd.TextureDesc) gputypes.TextureUsage {
	u := gputypes.TextureUsageCopySrc | gputypes.TextureUsageCopyDst
	if d.Samples > 1 {
		return gputypes.TextureUsageRenderAttachment
	}
	if d.Layout&gpucmd.LayoutSampled != 0 {
		u |= gputypes.TextureUsageTextureBinding
	}
	if d.Layout&gpucmd.LayoutTarget != 0 {
		u |= gputypes.TextureUsageRenderAttachment
	}
	if d.Layout&gpucmd.LayoutStorage != 0 {
		u |= gputypes.TextureUsageStorageBinding
	}
	return u
}

func bufferUsage(d *gpucmd.BufferDesc) gputypes.BufferUsage {
	u := gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst
	switch d.Usage {
	case gpucmd.UsageVertex:
		u |= gputypes.BufferUsageVertex
	case gpucmd.UsageIndex:
		u |= gputypes.BufferUsageIndex
	case gpucmd.UsageUniform:
		u |= gputypes.BufferUsageUniform
	case gpucmd.UsageStorage:
		u |= gputypes.BufferUsageStorage
	}
	if d.Access != gpucmd.AccessDevice {
		u |= gputypes.BufferUsageMapRead | gputypes.BufferUsageMapWrite
	}
	return u
}

var vertexFormats = [...]gputypes.VertexFormat{
	gpucmd.VertexFloat32:   gputypes.VertexFormatFloat32,
	gpucmd.VertexFloat32x2: gputypes.VertexFormatFloat32x2,
	gpucmd.VertexFloat32x3: gputypes.VertexFormatFloat32x3,
	gpucmd.VertexFloat32x4: gputypes.VertexFormatFloat32x4,
	gpucmd.VertexUnorm8x4:  gputypes.VertexFormatUnorm8x4,
	gpucmd.VertexUint8x4:   gputypes.VertexFormatUint8x4,
	gpucmd.VertexFloat16x2: gputypes.VertexFormatFloat16x2,
	gpucmd.VertexFloat16x4: gputypes.VertexFormatFloat16x4,
	gpucmd.VertexUint32:    gputypes.VertexFormatUint32,
	gpucmd.VertexSint32:    gputypes.VertexFormatSint32,
}

var topologies = [...]gputypes.PrimitiveTopology{
	gpucmd.TriangleList:  gputypes.PrimitiveTopologyTriangleList,
	gpucmd.TriangleStrip: gputypes.PrimitiveTopologyTriangleStrip,
	gpucmd.LineList:      gputypes.PrimitiveTopologyLineList,
	gpucmd.LineStrip:     gputypes.PrimitiveTopologyLineStrip,
	gpucmd.PointList:     gputypes.PrimitiveTopologyPointList,
}

var blendFactors = [...]gputypes.BlendFactor{
	gpucmd.BlendZero:             gputypes.BlendFactorZero,
	gpucmd.BlendOne:              gputypes.BlendFactorOne,
	gpucmd.BlendSrcColor:         gputypes.BlendFactorSrc,
	gpucmd.BlendOneMinusSrcColor: gputypes.BlendFactorOneMinusSrc,
	gpucmd.BlendSrcAlpha:         gputypes.BlendFactorSrcAlpha,
	gpucmd.BlendOneMinusSrcAlpha: gputypes.BlendFactorOneMinusSrcAlpha,
	gpucmd.BlendDstColor:         gputypes.BlendFactorDst,
	gpucmd.BlendOneMinusDstColor: gputypes.BlendFactorOneMinusDst,
	gpucmd.BlendDstAlpha:         gputypes.BlendFactorDstAlpha,
	gpucmd.BlendOneMinusDstAlpha: gputypes.BlendFactorOneMinusDstAlpha,
}

var blendOps = [...]gputypes.BlendOperation{
	gpucmd.BlendAdd:             gputypes.BlendOperationAdd,
	gpucmd.BlendSubtract:        gputypes.BlendOperationSubtract,
	gpucmd.BlendReverseSubtract: gputypes.BlendOperationReverseSubtract,
	gpucmd.BlendMin:             gputypes.BlendOperationMin,
	gpucmd.BlendMax:             gputypes.BlendOperationMax,
}

var compares = [...]gputypes.CompareFunction{
	gpucmd.CompareAlways:       gputypes.CompareFunctionAlways,
	gpucmd.CompareNever:        gputypes.CompareFunctionNever,
	gpucmd.CompareLess:         gputypes.CompareFunctionLess,
	gpucmd.CompareLessEqual:    gputypes.CompareFunctionLessEqual,
	gpucmd.CompareEqual:        gputypes.CompareFunctionEqual,
	gpucmd.CompareNotEqual:     gputypes.CompareFunctionNotEqual,
	gpucmd.CompareGreaterEqual: gputypes.CompareFunctionGreaterEqual,
	gpucmd.CompareGreater:      gputypes.CompareFunctionGreater,
}

var stencilOps = [...]hal.StencilOperation{
	gpucmd.StencilKeep:      hal.StencilOperationKeep,
	gpucmd.StencilZero:      hal.StencilOperationZero,
	gpucmd.StencilReplace:   hal.StencilOperationReplace,
	gpucmd.StencilInvert:    hal.StencilOperationInvert,
	gpucmd.StencilIncrClamp: hal.StencilOperationIncrementClamp,
	gpucmd.StencilDecrClamp: hal.StencilOperationDecrementClamp,
	gpucmd.StencilIncrWrap:  hal.StencilOperationIncrementWrap,
	gpucmd.StencilDecrWrap:  hal.StencilOperationDecrementWrap,
}

var addressModes = [...]gputypes.AddressMode{
	gpucmd.WrapRepeat: gputypes.AddressModeRepeat,
	gpucmd.WrapClamp:  gputypes.AddressModeClampToEdge,
	gpucmd.WrapMirror: gputypes.AddressModeMirrorRepeat,
}

// lookup indexes a conversion table, falling back to the first entry for
// values outside it.
func lookup[T any, K ~uint8](table []T, k K) T {
	if int(k) >= len(table) {
		return table[0]
	}
	return table[k]
}
