package gpucmd

import (
	"github.com/gogpu/gpucontext"

	"github.com/gogpu/gpucmd/handle"
)

// Resource handles. The zero value of each means "no resource".
type (
	BufferID   handle.Handle
	TextureID  handle.Handle
	PipelineID handle.Handle
	PassID     handle.Handle
)

// Per-draw binding limits.
const (
	MaxVertexStreams    = 8
	MaxVertexAttributes = 16
	MaxUniformSlots     = 8
	MaxTextureSlots     = 16
	MaxSamplerSlots     = 16
	MaxColorAttachments = 8
	MaxMips             = 16
	MaxTextureSize      = 65535
	MaxSamples          = 16
)

// UniformAlignment is the granularity uniform buffer sizes are rounded
// up to before native allocation.
const UniformAlignment = 256

// Access describes who reads and writes a buffer.
type Access uint8

const (
	AccessDevice Access = iota
	AccessHost
	AccessDual
)

// Usage is the binding kind of a buffer.
type Usage uint8

const (
	UsageVertex Usage = iota
	UsageIndex
	UsageUniform
	UsageStorage
)

// UpdateMode selects how UpdateBuffer treats existing contents.
type UpdateMode uint8

const (
	// UpdateDiscard replaces the whole buffer. Contents past the written
	// range are undefined afterwards.
	UpdateDiscard UpdateMode = iota
	// UpdateNoOverwrite writes into a range the caller promises no
	// in-flight draw reads.
	UpdateNoOverwrite
)

// BufferDesc describes a buffer.
type BufferDesc struct {
	Access Access
	Usage  Usage
	_      [2]byte
	Size   uint32
}

// AllocSize returns the size the backend allocates for d.
func (d BufferDesc) AllocSize() uint32 {
	if d.Usage == UsageUniform {
		return (d.Size + UniformAlignment - 1) &^ (UniformAlignment - 1)
	}
	return d.Size
}

// Layout is a set of texture usage hints.
type Layout uint8

const (
	LayoutSampled Layout = 1 << iota
	LayoutTarget
	LayoutStorage
)

// TextureDesc describes a 2D texture.
type TextureDesc struct {
	Width   uint16
	Height  uint16
	Format  Format
	Layout  Layout
	Levels  uint8
	Samples uint8
}

// Rect is a rectangle in texels. A zero Rect stands for the whole target.
type Rect struct {
	X, Y          uint32
	Width, Height uint32
}

// Empty reports whether r has no area.
func (r Rect) Empty() bool { return r.Width == 0 || r.Height == 0 }

// TextureCopy describes a texel copy between two textures.
type TextureCopy struct {
	Dst, Src           TextureID
	DstLevel, SrcLevel uint32
	DstX, DstY         uint32
	Region             Rect
}

// Attachment is one color attachment of a pass. When Source is set the
// pass renders into Source, which must be multisampled, and Commit
// resolves it into Target.
type Attachment struct {
	Target TextureID
	Source TextureID
	Level  uint32
}

// PassDesc describes a set of render targets.
type PassDesc struct {
	Colors     [MaxColorAttachments]Attachment
	ColorCount uint32
	Depth      TextureID
}

// ColorAttachments returns the used color attachments.
func (d *PassDesc) ColorAttachments() []Attachment { return d.Colors[:d.ColorCount] }

// Topology is the primitive assembly mode.
type Topology uint8

const (
	TriangleList Topology = iota
	TriangleStrip
	LineList
	LineStrip
	PointList
)

// VertexFormat is the type of one vertex attribute.
type VertexFormat uint8

const (
	VertexFloat32 VertexFormat = iota
	VertexFloat32x2
	VertexFloat32x3
	VertexFloat32x4
	VertexUnorm8x4
	VertexUint8x4
	VertexFloat16x2
	VertexFloat16x4
	VertexUint32
	VertexSint32
)

// VertexAttribute binds part of a vertex stream to a shader location.
type VertexAttribute struct {
	Format   VertexFormat
	Stream   uint8
	Location uint8
	_        uint8
	Offset   uint32
}

// StreamLayout describes how a vertex stream is stepped.
type StreamLayout struct {
	Stride    uint32
	Instanced bool
	_         [3]byte
}

// BlendFactor and BlendOp follow the usual fixed-function blend equation.
type (
	BlendFactor uint8
	BlendOp     uint8
)

const (
	BlendZero BlendFactor = iota
	BlendOne
	BlendSrcColor
	BlendOneMinusSrcColor
	BlendSrcAlpha
	BlendOneMinusSrcAlpha
	BlendDstColor
	BlendOneMinusDstColor
	BlendDstAlpha
	BlendOneMinusDstAlpha
)

const (
	BlendAdd BlendOp = iota
	BlendSubtract
	BlendReverseSubtract
	BlendMin
	BlendMax
)

// BlendState applies to every color target of a pipeline.
type BlendState struct {
	Enabled   bool
	SrcColor  BlendFactor
	DstColor  BlendFactor
	ColorOp   BlendOp
	SrcAlpha  BlendFactor
	DstAlpha  BlendFactor
	AlphaOp   BlendOp
	// WriteMask selects the written channels, bit 0 red to bit 3 alpha.
	// Zero writes all of them.
	WriteMask uint8
}

// Compare is a depth or stencil comparison function.
type Compare uint8

const (
	CompareAlways Compare = iota
	CompareNever
	CompareLess
	CompareLessEqual
	CompareEqual
	CompareNotEqual
	CompareGreaterEqual
	CompareGreater
)

// StencilOp is a stencil buffer update.
type StencilOp uint8

const (
	StencilKeep StencilOp = iota
	StencilZero
	StencilReplace
	StencilInvert
	StencilIncrClamp
	StencilDecrClamp
	StencilIncrWrap
	StencilDecrWrap
)

// DepthStencilState is shared by front and back faces.
type DepthStencilState struct {
	DepthTest        bool
	DepthWrite       bool
	DepthCompare     Compare
	StencilTest      bool
	StencilCompare   Compare
	StencilFail      StencilOp
	StencilDepthFail StencilOp
	StencilPass      StencilOp
	StencilReadMask  uint8
	StencilWriteMask uint8
	_                [2]byte
}

// FillMode and CullMode control rasterization.
type (
	FillMode uint8
	CullMode uint8
)

const (
	FillSolid FillMode = iota
	FillWireframe
)

const (
	CullNone CullMode = iota
	CullBack
	CullFront
)

// RasterState configures the rasterizer.
type RasterState struct {
	Fill      FillMode
	Cull      CullMode
	FrontCW   bool
	_         uint8
	DepthBias int32
	SlopeBias float32
	BiasClamp float32
}

// PipelineDesc is the fixed-function state of a pipeline. Shader
// byte-code is passed alongside it.
type PipelineDesc struct {
	Topology         Topology
	AttributeCount   uint8
	ColorCount       uint8
	Samples          uint8
	Streams          [MaxVertexStreams]StreamLayout
	Attributes       [MaxVertexAttributes]VertexAttribute
	Blend            BlendState
	DepthStencil     DepthStencilState
	Raster           RasterState
	ColorFormats     [MaxColorAttachments]Format
	DepthFormat      Format
	UniformMask      uint8
	TextureMask      uint16
	SamplerMask      uint16
	// DepthTextureMask marks the texture slots read as depth textures.
	// It must be a subset of TextureMask.
	DepthTextureMask uint16
}

// VertexAttributes returns the used attributes.
func (d *PipelineDesc) VertexAttributes() []VertexAttribute {
	return d.Attributes[:d.AttributeCount]
}

// Wrap is a texture addressing mode.
type Wrap uint8

const (
	WrapRepeat Wrap = iota
	WrapClamp
	WrapMirror
)

// Filter is a texture filtering mode.
type Filter uint8

const (
	FilterLinear Filter = iota
	FilterPoint
	FilterAnisotropic
)

// Sampler is the sampling state of one slot. Backends create one native
// sampler per distinct Key.
type Sampler struct {
	WrapU  Wrap
	WrapV  Wrap
	Filter Filter
	_      uint8
}

// Key packs the sampler fields into an integer.
func (s Sampler) Key() uint32 {
	return uint32(s.WrapU) | uint32(s.WrapV)<<8 | uint32(s.Filter)<<16
}

// VertexStream binds a buffer range to a vertex or index slot. For the
// index stream, Stride selects the index width.
type VertexStream struct {
	Buffer BufferID
	Offset uint32
	Stride uint32
}

// UniformBinding binds a range of a uniform buffer.
type UniformBinding struct {
	Buffer BufferID
	Offset uint32
	Size   uint32
}

// Range selects the primitives of a draw. When the submission has an
// index stream, First indexes into it and Base is added to every index.
type Range struct {
	Count     uint32
	First     uint32
	Base      int32
	Instances uint32
}

// Submission is the complete bound state of one draw.
type Submission struct {
	Pipeline   PipelineID
	StencilRef uint32
	Scissor    Rect
	Range      Range
	Index      VertexStream
	Streams    [MaxVertexStreams]VertexStream
	Uniforms   [MaxUniformSlots]UniformBinding
	Textures   [MaxTextureSlots]TextureID
	Samplers   [MaxSamplerSlots]Sampler
}

// Clear selects which attachments Prepare clears.
type Clear uint8

const (
	ClearColor Clear = 1 << iota
	ClearDepth
	ClearStencil
)

// ClearValues are used by Prepare.
type ClearValues struct {
	Color   [4]float32
	Depth   float32
	Stencil uint32
	Flags   Clear
	_       [3]byte
}

// Viewport maps normalized device coordinates to the target. A zero
// Viewport covers the whole target with depth range [0, 1].
type Viewport struct {
	X, Y, Width, Height float32
	MinDepth, MaxDepth  float32
}

// Capacities bounds the number of live resources per kind.
type Capacities struct {
	Buffers   int `toml:"buffers" yaml:"buffers"`
	Textures  int `toml:"textures" yaml:"textures"`
	Pipelines int `toml:"pipelines" yaml:"pipelines"`
	Passes    int `toml:"passes" yaml:"passes"`
	Samplers  int `toml:"samplers" yaml:"samplers"`
}

// DefaultCapacities returns the handle package defaults.
func DefaultCapacities() Capacities {
	return Capacities{
		Buffers:   handle.MaxBuffers,
		Textures:  handle.MaxTextures,
		Pipelines: handle.MaxPipelines,
		Passes:    handle.MaxPasses,
		Samplers:  handle.MaxSamplers,
	}
}

// InitConfig is passed to Driver.Initialize.
type InitConfig struct {
	// Window and Display are native handles (HWND, NSView, X11 Window and
	// Display, wl_surface and wl_display). A zero Window selects headless
	// rendering into an offscreen display target.
	Window  uintptr
	Display uintptr

	// Provider, when set, supplies the display size if Width or Height
	// is zero. It is consulted on the recording side only.
	Provider gpucontext.WindowProvider

	Width   int
	Height  int
	Samples int
	VSync   bool

	// DisplayPass is the handle the driver registers the display pass
	// under.
	DisplayPass PassID

	Capacities Capacities
}

// Resolution is a display mode size.
type Resolution struct {
	Width, Height int
}

// Adapter describes a GPU adapter.
type Adapter struct {
	Name        string
	Vendor      string
	Driver      string
	Backend     string
	Type        gpucontext.AdapterType
	Resolutions []Resolution
}

// Capabilities is filled in by Driver.Initialize.
type Capabilities struct {
	Driver   string
	Backend  string
	Tier     string
	Adapter  int
	Adapters []Adapter

	// Samples maps a requested sample count to the highest supported
	// count not above it.
	Samples [MaxSamples + 1]uint8

	Tearing        bool
	Software       bool
	MaxTextureSize int
	DisplayFormat  Format
}

// SampleCount returns the supported sample count for a request.
func (c *Capabilities) SampleCount(requested int) int {
	if requested <= 1 {
		return 1
	}
	if requested > MaxSamples {
		requested = MaxSamples
	}
	if n := c.Samples[requested]; n > 0 {
		return int(n)
	}
	return 1
}

// Clone returns a deep copy of c.
func (c *Capabilities) Clone() *Capabilities {
	if c == nil {
		return nil
	}
	out := *c
	out.Adapters = make([]Adapter, len(c.Adapters))
	for i, a := range c.Adapters {
		a.Resolutions = append([]Resolution(nil), a.Resolutions...)
		out.Adapters[i] = a
	}
	return &out
}
