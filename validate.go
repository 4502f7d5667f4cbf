package gpucmd

import (
	"fmt"
	"math/bits"
)

// Validate checks d before a handle is spent on it.
func (d *BufferDesc) Validate() error {
	switch {
	case d.Size == 0:
		return fmt.Errorf("%w: zero-sized buffer", ErrInvalidDescriptor)
	case d.Access > AccessDual:
		return fmt.Errorf("%w: buffer access %d", ErrInvalidDescriptor, d.Access)
	case d.Usage > UsageStorage:
		return fmt.Errorf("%w: buffer usage %d", ErrInvalidDescriptor, d.Usage)
	}
	return nil
}

// Validate checks d and fills in defaults for a zero level or sample
// count.
func (d *TextureDesc) Validate() error {
	if d.Levels == 0 {
		d.Levels = 1
	}
	if d.Samples == 0 {
		d.Samples = 1
	}
	if d.Layout == 0 {
		d.Layout = LayoutSampled
	}
	info := d.Format.Info()
	switch {
	case d.Width == 0 || d.Height == 0:
		return fmt.Errorf("%w: texture size %dx%d", ErrInvalidDescriptor, d.Width, d.Height)
	case !d.Format.Valid():
		return fmt.Errorf("%w: texture format %s", ErrInvalidDescriptor, d.Format)
	case d.Levels > MaxMips:
		return fmt.Errorf("%w: %d mip levels exceed %d", ErrInvalidDescriptor, d.Levels, MaxMips)
	case int(d.Levels) > bits.Len16(max(d.Width, d.Height)):
		return fmt.Errorf("%w: %d mip levels for %dx%d", ErrInvalidDescriptor, d.Levels, d.Width, d.Height)
	case bits.OnesCount8(d.Samples) != 1 || d.Samples > MaxSamples:
		return fmt.Errorf("%w: sample count %d", ErrInvalidDescriptor, d.Samples)
	case d.Samples > 1 && (d.Levels > 1 || d.Layout&LayoutTarget == 0 || d.Layout&LayoutStorage != 0):
		return fmt.Errorf("%w: multisampled textures must be single-level render targets", ErrInvalidDescriptor)
	case info.Compressed && d.Layout&(LayoutTarget|LayoutStorage) != 0:
		return fmt.Errorf("%w: %s cannot be rendered to", ErrInvalidDescriptor, d.Format)
	case (info.Depth || info.Stencil) && d.Layout&LayoutStorage != 0:
		return fmt.Errorf("%w: %s cannot be used as storage", ErrInvalidDescriptor, d.Format)
	}
	return nil
}

// Validate checks the attachment counts of d.
func (d *PassDesc) Validate() error {
	if d.ColorCount > MaxColorAttachments {
		return fmt.Errorf("%w: %d color attachments exceed %d", ErrInvalidDescriptor, d.ColorCount, MaxColorAttachments)
	}
	if d.ColorCount == 0 && d.Depth == 0 {
		return fmt.Errorf("%w: pass without attachments", ErrInvalidDescriptor)
	}
	for i, a := range d.ColorAttachments() {
		if a.Target == 0 {
			return fmt.Errorf("%w: color attachment %d has no target", ErrInvalidDescriptor, i)
		}
	}
	return nil
}

// Validate checks the counts and indices in d.
func (d *PipelineDesc) Validate() error {
	if d.AttributeCount > MaxVertexAttributes {
		return fmt.Errorf("%w: %d vertex attributes exceed %d", ErrInvalidDescriptor, d.AttributeCount, MaxVertexAttributes)
	}
	if d.ColorCount > MaxColorAttachments {
		return fmt.Errorf("%w: %d color targets exceed %d", ErrInvalidDescriptor, d.ColorCount, MaxColorAttachments)
	}
	if d.Topology > PointList {
		return fmt.Errorf("%w: topology %d", ErrInvalidDescriptor, d.Topology)
	}
	for i, a := range d.VertexAttributes() {
		if a.Stream >= MaxVertexStreams {
			return fmt.Errorf("%w: attribute %d reads stream %d", ErrInvalidDescriptor, i, a.Stream)
		}
		if a.Format > VertexSint32 {
			return fmt.Errorf("%w: attribute %d format %d", ErrInvalidDescriptor, i, a.Format)
		}
	}
	for i := 0; i < int(d.ColorCount); i++ {
		if !d.ColorFormats[i].Valid() || d.ColorFormats[i].IsDepthStencil() {
			return fmt.Errorf("%w: color target %d format %s", ErrInvalidDescriptor, i, d.ColorFormats[i])
		}
	}
	if d.DepthFormat != FormatUnknown && !d.DepthFormat.IsDepthStencil() {
		return fmt.Errorf("%w: depth target format %s", ErrInvalidDescriptor, d.DepthFormat)
	}
	if extra := d.DepthTextureMask &^ d.TextureMask; extra != 0 {
		return fmt.Errorf("%w: depth texture slots %#x not in texture mask", ErrInvalidDescriptor, extra)
	}
	if d.Samples == 0 {
		d.Samples = 1
	}
	return nil
}
