package bind

import (
	"hash/maphash"

	"github.com/gogpu/gpucmd"
)

var seed = maphash.MakeSeed()

type inputLayout struct {
	streams [gpucmd.MaxVertexStreams]gpucmd.StreamLayout
	attrs   [gpucmd.MaxVertexAttributes]gpucmd.VertexAttribute
	count   uint8
}

// PartsOf keys the sub-objects of pipeline id. Shaders are keyed by the
// pipeline itself; every other part by its fixed-function state, so two
// pipelines that differ only in blending share their input layout,
// rasterizer and depth-stencil keys.
func PartsOf(id gpucmd.PipelineID, d *gpucmd.PipelineDesc) Parts {
	layout := inputLayout{streams: d.Streams, count: d.AttributeCount}
	copy(layout.attrs[:], d.VertexAttributes())
	return Parts{
		uint64(id),
		maphash.Comparable(seed, d.Blend),
		maphash.Comparable(seed, d.DepthStencil),
		maphash.Comparable(seed, d.Raster),
		maphash.Comparable(seed, layout),
		uint64(d.Topology) + 1,
	}
}
