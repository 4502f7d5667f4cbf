//go:build !nogpu

package native

import (
	"errors"
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/gpucmd"
	"github.com/gogpu/gpucmd/handle"
)

// attachment is a color attachment of the current frame. resolve is set
// when view is multisampled.
type attachment struct {
	view    hal.TextureView
	resolve hal.TextureView
}

type pass struct {
	desc     gpucmd.PassDesc
	viewport gpucmd.Viewport

	// The display pass owns its targets. color is nil when presenting to
	// a window surface.
	display bool
	color   *texture
	msaa    *texture
	depth   *texture

	// Views are created on first use in a frame and released at Commit.
	views       []attachment
	depthView   hal.TextureView
	depthFormat gpucmd.Format
	owned       []hal.TextureView
	width       uint32
	height      uint32
}

func (p *pass) destroy(dev hal.Device) {
	for _, v := range p.owned {
		dev.DestroyTextureView(v)
	}
	p.owned, p.views, p.depthView = nil, nil, nil
	for _, t := range []*texture{p.color, p.msaa, p.depth} {
		if t != nil {
			t.destroy(dev)
		}
	}
}

func (d *Driver) pass(id gpucmd.PassID) (*pass, bool) {
	if d.passes == nil {
		return nil, false
	}
	return d.passes.Get(handle.Handle(id))
}

// createDisplayPass builds the pass that renders to the window surface,
// or to an offscreen target when there is no window.
func (d *Driver) createDisplayPass(id gpucmd.PassID) error {
	w, h := uint16(d.cfg.Width), uint16(d.cfg.Height) //nolint:gosec // clamped to MaxTextureSize
	samples := uint8(d.cfg.Samples)                   //nolint:gosec // at most MaxSamples
	p := pass{display: true, width: uint32(w), height: uint32(h), depthFormat: gpucmd.FormatD24S8}

	if d.dev.surface == nil {
		t, err := d.newTexture(&gpucmd.TextureDesc{
			Width: w, Height: h, Format: formatOf(d.surfaceFormat),
			Layout: gpucmd.LayoutTarget, Levels: 1, Samples: 1,
		}, "gpucmd_display")
		if err != nil {
			return err
		}
		p.color = &t
	}
	if samples > 1 {
		t, err := d.newTexture(&gpucmd.TextureDesc{
			Width: w, Height: h, Format: formatOf(d.surfaceFormat),
			Layout: gpucmd.LayoutTarget, Levels: 1, Samples: samples,
		}, "gpucmd_display_msaa")
		if err != nil {
			p.destroy(d.dev.raw)
			return err
		}
		p.msaa = &t
	}
	t, err := d.newTexture(&gpucmd.TextureDesc{
		Width: w, Height: h, Format: p.depthFormat,
		Layout: gpucmd.LayoutTarget, Levels: 1, Samples: samples,
	}, "gpucmd_display_depth")
	if err != nil {
		p.destroy(d.dev.raw)
		return err
	}
	p.depth = &t

	if !d.passes.Set(handle.Handle(id), p) {
		p.destroy(d.dev.raw)
		return fmt.Errorf("pass handle %d out of range", id)
	}
	return nil
}

// CreatePass implements gpucmd.Driver. Attachments are looked up when
// the pass is first used in a frame, so textures may be recreated
// between frames.
func (d *Driver) CreatePass(id gpucmd.PassID, desc *gpucmd.PassDesc) {
	if d.dev == nil {
		d.warn("create pass", uint32(id), gpucmd.ErrNotInitialized)
		return
	}
	if !d.passes.Set(handle.Handle(id), pass{desc: *desc}) {
		d.warn("create pass", uint32(id), errors.New("handle out of range"))
	}
}

// DeletePass implements gpucmd.Driver. The display pass is kept.
func (d *Driver) DeletePass(id gpucmd.PassID) {
	p, ok := d.pass(id)
	if !ok {
		return
	}
	if p.display {
		d.warn("delete pass", uint32(id), errors.New("display pass cannot be deleted"))
		return
	}
	if d.active == id {
		d.suspend()
		d.active = 0
	}
	d.releaseViews(p)
	d.passes.Delete(handle.Handle(id))
}

func (d *Driver) view(p *pass, t *texture, level uint32) (hal.TextureView, error) {
	v, err := d.levelView(t, level)
	if err != nil {
		return nil, err
	}
	p.owned = append(p.owned, v)
	return v, nil
}

// acquireFrame acquires the next surface texture and a view of it.
func (d *Driver) acquireFrame() (hal.TextureView, error) {
	if d.frameRT != nil {
		return d.frameRT, nil
	}
	frame, err := d.dev.surface.AcquireTexture(nil)
	if err != nil {
		return nil, fmt.Errorf("acquire surface texture: %w", err)
	}
	view, err := d.dev.raw.CreateTextureView(frame.Texture, &hal.TextureViewDescriptor{
		Label:           "gpucmd_frame",
		Format:          d.surfaceFormat,
		Dimension:       gputypes.TextureViewDimension2D,
		Aspect:          gputypes.TextureAspectAll,
		MipLevelCount:   1,
		ArrayLayerCount: 1,
	})
	if err != nil {
		d.dev.surface.DiscardTexture(frame.Texture)
		return nil, err
	}
	if frame.Suboptimal {
		d.warnOnce("surface is suboptimal")
	}
	d.frame, d.frameRT = frame, view
	return view, nil
}

func (d *Driver) releaseFrame() {
	if d.frameRT != nil {
		view, dev := d.frameRT, d.dev.raw
		d.retire(func() { dev.DestroyTextureView(view) })
	}
	d.frame, d.frameRT = nil, nil
}

// attach creates the frame's attachment views of p if it has none.
func (d *Driver) attach(p *pass) error {
	if p.views != nil {
		return nil
	}
	if p.display {
		return d.attachDisplay(p)
	}

	p.width, p.height = 0, 0
	for _, a := range p.desc.ColorAttachments() {
		target, ok := d.texture(a.Target)
		if !ok {
			d.releaseViews(p)
			return fmt.Errorf("unknown target texture %d", a.Target)
		}
		w, h := gpucmd.MipExtent(int(target.desc.Width), int(target.desc.Height), int(a.Level))
		p.width, p.height = uint32(w), uint32(h) //nolint:gosec // bounded by MaxTextureSize
		tv, err := d.view(p, target, a.Level)
		if err != nil {
			d.releaseViews(p)
			return err
		}
		if a.Source == 0 {
			p.views = append(p.views, attachment{view: tv})
			continue
		}
		source, ok := d.texture(a.Source)
		if !ok {
			d.releaseViews(p)
			return fmt.Errorf("unknown source texture %d", a.Source)
		}
		sv, err := d.view(p, source, 0)
		if err != nil {
			d.releaseViews(p)
			return err
		}
		p.views = append(p.views, attachment{view: sv, resolve: tv})
	}
	if p.desc.Depth != 0 {
		depth, ok := d.texture(p.desc.Depth)
		if !ok {
			d.releaseViews(p)
			return fmt.Errorf("unknown depth texture %d", p.desc.Depth)
		}
		v, err := d.view(p, depth, 0)
		if err != nil {
			d.releaseViews(p)
			return err
		}
		p.depthView, p.depthFormat = v, depth.desc.Format
		if p.width == 0 {
			p.width, p.height = uint32(depth.desc.Width), uint32(depth.desc.Height)
		}
	}
	if p.views == nil {
		// Depth-only pass.
		p.views = []attachment{}
	}
	return nil
}

func (d *Driver) attachDisplay(p *pass) error {
	var target hal.TextureView
	var err error
	if p.color != nil {
		target, err = d.view(p, p.color, 0)
	} else {
		target, err = d.acquireFrame()
	}
	if err != nil {
		return err
	}
	a := attachment{view: target}
	if p.msaa != nil {
		v, err := d.view(p, p.msaa, 0)
		if err != nil {
			d.releaseViews(p)
			return err
		}
		a = attachment{view: v, resolve: target}
	}
	dv, err := d.view(p, p.depth, 0)
	if err != nil {
		d.releaseViews(p)
		return err
	}
	p.views = []attachment{a}
	p.depthView = dv
	return nil
}

// releaseViews retires the frame's views of p.
func (d *Driver) releaseViews(p *pass) {
	if len(p.owned) > 0 {
		owned, dev := p.owned, d.dev.raw
		d.retire(func() {
			for _, v := range owned {
				dev.DestroyTextureView(v)
			}
		})
	}
	p.owned, p.views, p.depthView = nil, nil, nil
}

// begin opens a render pass on p. With cv nil every attachment is
// loaded, which is how a pass resumes after a copy.
func (d *Driver) begin(p *pass, cv *gpucmd.ClearValues) error {
	if err := d.attach(p); err != nil {
		return err
	}
	enc, err := d.encoder()
	if err != nil {
		return err
	}
	var flags gpucmd.Clear
	if cv != nil {
		flags = cv.Flags
	}

	desc := hal.RenderPassDescriptor{Label: "gpucmd_pass"}
	for _, a := range p.views {
		att := hal.RenderPassColorAttachment{
			View:    a.view,
			LoadOp:  gputypes.LoadOpLoad,
			StoreOp: gputypes.StoreOpStore,
		}
		if flags&gpucmd.ClearColor != 0 {
			att.LoadOp = gputypes.LoadOpClear
			att.ClearValue = gputypes.Color{
				R: float64(cv.Color[0]),
				G: float64(cv.Color[1]),
				B: float64(cv.Color[2]),
				A: float64(cv.Color[3]),
			}
		}
		desc.ColorAttachments = append(desc.ColorAttachments, att)
	}
	if p.depthView != nil {
		ds := &hal.RenderPassDepthStencilAttachment{
			View:         p.depthView,
			DepthLoadOp:  gputypes.LoadOpLoad,
			DepthStoreOp: gputypes.StoreOpStore,
		}
		if flags&gpucmd.ClearDepth != 0 {
			ds.DepthLoadOp = gputypes.LoadOpClear
			ds.DepthClearValue = cv.Depth
		}
		if p.depthFormat.Info().Stencil {
			ds.StencilLoadOp = gputypes.LoadOpLoad
			ds.StencilStoreOp = gputypes.StoreOpStore
			if flags&gpucmd.ClearStencil != 0 {
				ds.StencilLoadOp = gputypes.LoadOpClear
				ds.StencilClearValue = cv.Stencil
			}
		} else {
			ds.StencilReadOnly = true
		}
		desc.DepthStencilAttachment = ds
	}

	d.rp = enc.BeginRenderPass(&desc)
	vp := p.viewport
	if vp.Width == 0 || vp.Height == 0 {
		vp.X, vp.Y = 0, 0
		vp.Width, vp.Height = float32(p.width), float32(p.height)
	}
	if vp.MinDepth == 0 && vp.MaxDepth == 0 {
		vp.MaxDepth = 1
	}
	d.rp.SetViewport(vp.X, vp.Y, vp.Width, vp.Height, vp.MinDepth, vp.MaxDepth)
	d.state.Invalidate()
	d.bound = bindings{targetWidth: p.width, targetHeight: p.height}
	return nil
}

// Prepare implements gpucmd.Driver.
func (d *Driver) Prepare(id gpucmd.PassID, cv *gpucmd.ClearValues, vp *gpucmd.Viewport) {
	p, ok := d.pass(id)
	if !ok {
		d.warn("prepare", uint32(id), errors.New("unknown pass"))
		return
	}
	d.suspend()
	p.viewport = *vp
	d.active = id
	if err := d.begin(p, cv); err != nil {
		d.warn("prepare", uint32(id), err)
		d.active = 0
	}
}

// resume makes id the rendering pass, reopening it with load operations
// if a copy or another pass interrupted it.
func (d *Driver) resume(id gpucmd.PassID) (*pass, bool) {
	p, ok := d.pass(id)
	if !ok {
		d.warn("submit", uint32(id), errors.New("unknown pass"))
		return nil, false
	}
	if d.active == id && d.rp != nil {
		return p, true
	}
	d.suspend()
	d.active = id
	if err := d.begin(p, nil); err != nil {
		d.warn("submit", uint32(id), err)
		d.active = 0
		return nil, false
	}
	return p, true
}

// Commit implements gpucmd.Driver. Multisampled attachments are resolved
// here and only here, in a load-only pass that targets the resolve view.
// The frame's work is then submitted and the display pass presented.
func (d *Driver) Commit(id gpucmd.PassID) {
	p, ok := d.pass(id)
	if !ok {
		d.warn("commit", uint32(id), errors.New("unknown pass"))
		return
	}
	d.suspend()
	if d.active == id {
		d.active = 0
	}
	if err := d.attach(p); err != nil {
		d.warn("commit", uint32(id), err)
	} else if err := d.resolve(p); err != nil {
		d.warn("commit", uint32(id), err)
	}
	d.flush()

	if p.display && d.frame != nil {
		if err := d.dev.queue.Present(d.dev.surface, d.frame.Texture, nil); err != nil {
			d.warn("present", uint32(id), err)
		}
		d.releaseFrame()
	}
	d.releaseViews(p)
	d.serial++
	d.collect()
}

func (d *Driver) resolve(p *pass) error {
	for _, a := range p.views {
		if a.resolve == nil {
			continue
		}
		enc, err := d.encoder()
		if err != nil {
			return err
		}
		rp := enc.BeginRenderPass(&hal.RenderPassDescriptor{
			Label: "gpucmd_resolve",
			ColorAttachments: []hal.RenderPassColorAttachment{{
				View:          a.view,
				ResolveTarget: a.resolve,
				LoadOp:        gputypes.LoadOpLoad,
				StoreOp:       gputypes.StoreOpStore,
			}},
		})
		rp.End()
	}
	return nil
}
