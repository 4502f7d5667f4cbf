// Package bind computes the minimal set of state changes between
// consecutive draw submissions.
//
// A backend keeps one State per device context. For every Submission it
// calls Apply with a Binder that translates the emitted calls into native
// API calls, then issues the draw itself. Apply compares the submission
// with the last one it applied, which survives across Submit batches, and
// for each binding category emits at most one call covering the slots
// from the first to the last one that changed.
package bind

import "github.com/gogpu/gpucmd"

// PartMask identifies the native sub-objects of a pipeline.
type PartMask uint8

const (
	PartShader PartMask = 1 << iota
	PartBlend
	PartDepthStencil
	PartRaster
	PartInputLayout
	PartTopology

	PartAll = PartShader | PartBlend | PartDepthStencil | PartRaster | PartInputLayout | PartTopology
)

// NumParts is the number of pipeline sub-objects.
const NumParts = 6

// Parts holds an identity key per pipeline sub-object, in PartMask bit
// order. Equal keys mean the native objects are interchangeable.
type Parts [NumParts]uint64

// PartsFunc looks up the sub-object keys of a pipeline. It returns the
// zero Parts for unknown pipelines.
type PartsFunc func(gpucmd.PipelineID) Parts

// Diff returns the mask of sub-objects whose keys differ.
func (p Parts) Diff(q Parts) PartMask {
	var m PartMask
	for i := range p {
		if p[i] != q[i] {
			m |= 1 << i
		}
	}
	return m
}

// IndexWidth is the size of one index in bits.
type IndexWidth uint8

const (
	IndexNone IndexWidth = 0
	Index8    IndexWidth = 8
	Index16   IndexWidth = 16
	Index32   IndexWidth = 32
)

// IndexWidthFromStride derives the index width from the stride of an
// index stream binding.
func IndexWidthFromStride(stride uint32) IndexWidth {
	switch stride {
	case 1:
		return Index8
	case 2:
		return Index16
	case 4:
		return Index32
	}
	return IndexNone
}

// Binder receives the state changes computed by Apply. Slices passed to
// it alias the submission and are only valid during the call.
type Binder interface {
	SetPipeline(id gpucmd.PipelineID, changed PartMask)
	SetStencilRef(ref uint32)
	SetVertexStreams(start int, streams []gpucmd.VertexStream)
	SetIndexStream(stream gpucmd.VertexStream, width IndexWidth)
	SetScissor(r gpucmd.Rect)
	SetSamplers(start int, samplers []gpucmd.Sampler)
	SetTextures(start int, textures []gpucmd.TextureID)
	SetUniforms(start int, uniforms []gpucmd.UniformBinding)
}

// Stats counts Binder calls by category.
type Stats struct {
	Pipelines     int
	StencilRefs   int
	VertexStreams int
	IndexStreams  int
	Scissors      int
	Samplers      int
	Textures      int
	Uniforms      int

	// Slots is the number of slots covered by the ranged calls.
	Slots int
	// Draws is the number of submissions applied.
	Draws int
}

// Calls returns the total number of Binder calls.
func (s Stats) Calls() int {
	return s.Pipelines + s.StencilRefs + s.VertexStreams + s.IndexStreams +
		s.Scissors + s.Samplers + s.Textures + s.Uniforms
}

// State is the last applied submission of a device context.
type State struct {
	last  gpucmd.Submission
	valid bool
	parts PartsFunc
	stats Stats
}

// NewState returns a State that treats every binding as unknown. parts
// may be nil, in which case any pipeline change rebinds everything.
func NewState(parts PartsFunc) *State {
	return &State{parts: parts}
}

// Invalidate forgets the applied state, so the next Apply binds
// everything. Backends call it when the native context loses its
// bindings, for example at the start of a render pass.
func (s *State) Invalidate() {
	s.valid = false
}

// Last returns the last applied submission.
func (s *State) Last() (gpucmd.Submission, bool) {
	return s.last, s.valid
}

// Stats returns the accumulated call counts.
func (s *State) Stats() Stats { return s.stats }

// ResetStats zeroes the call counts.
func (s *State) ResetStats() { s.stats = Stats{} }

// Apply emits the calls needed to go from the last applied submission
// to next, then records next as applied.
func (s *State) Apply(b Binder, next *gpucmd.Submission) {
	prev := &s.last
	full := !s.valid
	s.stats.Draws++

	if full || prev.Pipeline != next.Pipeline {
		mask := PartAll
		if !full && s.parts != nil {
			mask = s.parts(prev.Pipeline).Diff(s.parts(next.Pipeline))
		}
		if mask != 0 {
			b.SetPipeline(next.Pipeline, mask)
			s.stats.Pipelines++
		}
	}
	// The stencil reference is dynamic state and is checked whether or
	// not the pipeline changed.
	if full || prev.StencilRef != next.StencilRef {
		b.SetStencilRef(next.StencilRef)
		s.stats.StencilRefs++
	}
	if full || prev.Index != next.Index {
		b.SetIndexStream(next.Index, IndexWidthFromStride(next.Index.Stride))
		s.stats.IndexStreams++
	}
	if full || prev.Scissor != next.Scissor {
		b.SetScissor(next.Scissor)
		s.stats.Scissors++
	}
	if lo, hi, ok := changed(prev.Streams[:], next.Streams[:], full); ok {
		b.SetVertexStreams(lo, next.Streams[lo:hi])
		s.stats.VertexStreams++
		s.stats.Slots += hi - lo
	}
	if lo, hi, ok := changed(prev.Samplers[:], next.Samplers[:], full); ok {
		b.SetSamplers(lo, next.Samplers[lo:hi])
		s.stats.Samplers++
		s.stats.Slots += hi - lo
	}
	if lo, hi, ok := changed(prev.Textures[:], next.Textures[:], full); ok {
		b.SetTextures(lo, next.Textures[lo:hi])
		s.stats.Textures++
		s.stats.Slots += hi - lo
	}
	if lo, hi, ok := changed(prev.Uniforms[:], next.Uniforms[:], full); ok {
		b.SetUniforms(lo, next.Uniforms[lo:hi])
		s.stats.Uniforms++
		s.stats.Slots += hi - lo
	}

	s.last = *next
	s.valid = true
}

// changed returns the half-open slot range [lo, hi) spanning every slot
// where a and b differ. With all set it spans every slot.
func changed[T comparable](a, b []T, all bool) (lo, hi int, ok bool) {
	if all {
		return 0, len(b), len(b) > 0
	}
	lo = -1
	for i := range b {
		if a[i] != b[i] {
			if lo < 0 {
				lo = i
			}
			hi = i + 1
		}
	}
	return lo, hi, lo >= 0
}
