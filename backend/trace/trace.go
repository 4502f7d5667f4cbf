// Package trace provides a gpucmd driver that records every call and
// emulates resources in host memory.
//
// It backs the tests of the command pipeline and can stand in for a GPU
// when diagnosing what an application submits:
//
//	drv := trace.New()
//	svc, _ := gpucmd.NewService(drv)
//	...
//	for _, ev := range drv.Events() {
//	    fmt.Println(ev)
//	}
package trace

import (
	"fmt"
	"math"

	"github.com/gogpu/gpucontext"

	"github.com/gogpu/gpucmd"
	"github.com/gogpu/gpucmd/bind"
	"github.com/gogpu/gpucmd/handle"
)

func init() {
	gpucmd.Register("trace", func() gpucmd.Driver { return New() })
}

// Event is one recorded driver call.
type Event struct {
	Op     string
	ID     uint32
	Detail string
}

func (e Event) String() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s(%d)", e.Op, e.ID)
	}
	return fmt.Sprintf("%s(%d) %s", e.Op, e.ID, e.Detail)
}

// Option configures a Driver.
type Option func(*Driver)

// WithInitError makes Initialize fail with err.
func WithInitError(err error) Option {
	return func(d *Driver) { d.initErr = err }
}

// WithHook calls fn for every recorded event, on the execution
// goroutine.
func WithHook(fn func(Event)) Option {
	return func(d *Driver) { d.hook = fn }
}

type bufferRecord struct {
	desc   gpucmd.BufferDesc
	data   []byte
	mapped bool
}

type textureRecord struct {
	desc   gpucmd.TextureDesc
	levels [][]byte
}

type passRecord struct {
	desc    gpucmd.PassDesc
	display bool
	open    bool
}

type pipelineRecord struct {
	desc     gpucmd.PipelineDesc
	vertex   int
	fragment int
}

// Driver is a gpucmd.Driver that keeps everything in host memory.
//
// Accessors such as Events and Texture read state owned by the execution
// goroutine; call them only after a Flush has returned.
type Driver struct {
	initErr error
	hook    func(Event)

	ready   bool
	cfg     gpucmd.InitConfig
	caps    gpucmd.Capabilities
	events  []Event
	display gpucmd.TextureID

	buffers   *handle.Table[bufferRecord]
	textures  *handle.Table[textureRecord]
	passes    *handle.Table[passRecord]
	pipelines *handle.Table[pipelineRecord]

	state   *bind.State
	counter counter
}

var _ gpucmd.Driver = (*Driver)(nil)

// New returns an uninitialized trace driver.
func New(opts ...Option) *Driver {
	d := &Driver{}
	for _, opt := range opts {
		opt(d)
	}
	d.allocate(gpucmd.DefaultCapacities())
	return d
}

func (d *Driver) allocate(c gpucmd.Capacities) {
	// The display target lives one slot past the texture capacity so it
	// never collides with a handle from the Service.
	d.buffers = handle.NewTable[bufferRecord](c.Buffers)
	d.textures = handle.NewTable[textureRecord](c.Textures + 1)
	d.passes = handle.NewTable[passRecord](c.Passes)
	d.pipelines = handle.NewTable[pipelineRecord](c.Pipelines)
	d.display = gpucmd.TextureID(c.Textures + 1) //nolint:gosec // capacity is small
	d.state = bind.NewState(d.parts)
}

func (d *Driver) emit(op string, id uint32, format string, args ...any) {
	ev := Event{Op: op, ID: id}
	if format != "" {
		ev.Detail = fmt.Sprintf(format, args...)
	}
	d.events = append(d.events, ev)
	if d.hook != nil {
		d.hook(ev)
	}
}

func (d *Driver) warn(op string, id uint32, msg string) {
	gpucmd.Logger().Warn("trace: "+msg, "op", op, "id", id)
	d.emit("Error", id, "%s: %s", op, msg)
}

// Name implements gpucmd.Driver.
func (d *Driver) Name() string { return "trace" }

// Events returns a copy of the recorded calls.
func (d *Driver) Events() []Event { return append([]Event(nil), d.events...) }

// Ops returns the operation names of the recorded calls.
func (d *Driver) Ops() []string {
	ops := make([]string, len(d.events))
	for i, ev := range d.events {
		ops[i] = ev.Op
	}
	return ops
}

// ClearEvents drops the recorded calls.
func (d *Driver) ClearEvents() { d.events = d.events[:0] }

// Binds returns the state-change counts of all Submit calls so far.
func (d *Driver) Binds() bind.Stats { return d.state.Stats() }

// Texture returns the descriptor of a live texture.
func (d *Driver) Texture(id gpucmd.TextureID) (gpucmd.TextureDesc, bool) {
	t, ok := d.textures.Get(handle.Handle(id))
	if !ok {
		return gpucmd.TextureDesc{}, false
	}
	return t.desc, true
}

// Buffer returns a copy of the contents of a live buffer.
func (d *Driver) Buffer(id gpucmd.BufferID) ([]byte, bool) {
	b, ok := d.buffers.Get(handle.Handle(id))
	if !ok {
		return nil, false
	}
	return append([]byte(nil), b.data...), true
}

// Pipeline returns the descriptor of a live pipeline.
func (d *Driver) Pipeline(id gpucmd.PipelineID) (gpucmd.PipelineDesc, bool) {
	p, ok := d.pipelines.Get(handle.Handle(id))
	if !ok {
		return gpucmd.PipelineDesc{}, false
	}
	return p.desc, true
}

// Live returns the number of live buffers, textures, passes and
// pipelines, not counting the display pass and its target.
func (d *Driver) Live() (buffers, textures, passes, pipelines int) {
	textures, passes = d.textures.Len(), d.passes.Len()
	if d.ready {
		textures--
		passes--
	}
	return d.buffers.Len(), textures, passes, d.pipelines.Len()
}

// Initialize implements gpucmd.Driver.
func (d *Driver) Initialize(cfg *gpucmd.InitConfig) error {
	d.emit("Initialize", uint32(cfg.DisplayPass), "%dx%d samples=%d", cfg.Width, cfg.Height, cfg.Samples)
	if d.initErr != nil {
		return d.initErr
	}
	if d.ready {
		d.Reset()
	}
	d.cfg = *cfg
	d.allocate(cfg.Capacities)

	d.caps = gpucmd.Capabilities{
		Driver:         "trace",
		Backend:        "trace",
		Tier:           "host",
		Software:       true,
		MaxTextureSize: 16384,
		DisplayFormat:  gpucmd.FormatRGBA8,
		Adapters: []gpucmd.Adapter{{
			Name:        "Trace Adapter",
			Vendor:      "gogpu",
			Driver:      "trace",
			Backend:     "trace",
			Type:        gpucontext.AdapterTypeSoftware,
			Resolutions: []gpucmd.Resolution{{Width: cfg.Width, Height: cfg.Height}},
		}},
	}
	for n := 1; n <= gpucmd.MaxSamples; n++ {
		d.caps.Samples[n] = uint8(min(prevPow2(n), 4)) //nolint:gosec // at most 4
	}

	d.textures.Set(handle.Handle(d.display), textureRecord{desc: gpucmd.TextureDesc{
		Width: uint16(cfg.Width), Height: uint16(cfg.Height), //nolint:gosec // clamped by the Service
		Format: gpucmd.FormatRGBA8, Layout: gpucmd.LayoutTarget, Levels: 1, Samples: 1,
	}})
	desc := gpucmd.PassDesc{ColorCount: 1}
	desc.Colors[0].Target = d.display
	d.passes.Set(handle.Handle(cfg.DisplayPass), passRecord{desc: desc, display: true})
	d.ready = true
	return nil
}

func prevPow2(n int) int {
	p := 1
	for p*2 <= n {
		p *= 2
	}
	return p
}

// Reset implements gpucmd.Driver.
func (d *Driver) Reset() {
	d.emit("Reset", 0, "")
	d.buffers.Reset()
	d.textures.Reset()
	d.passes.Reset()
	d.pipelines.Reset()
	d.state.Invalidate()
	d.ready = false
}

// Capabilities implements gpucmd.Driver.
func (d *Driver) Capabilities() *gpucmd.Capabilities {
	if !d.ready {
		return nil
	}
	return &d.caps
}

func (d *Driver) buffer(op string, id gpucmd.BufferID) *bufferRecord {
	b, ok := d.buffers.Get(handle.Handle(id))
	if !ok {
		d.warn(op, uint32(id), "unknown buffer")
		return nil
	}
	return b
}

func (d *Driver) texture(op string, id gpucmd.TextureID) *textureRecord {
	t, ok := d.textures.Get(handle.Handle(id))
	if !ok {
		d.warn(op, uint32(id), "unknown texture")
		return nil
	}
	return t
}

// CreateBuffer implements gpucmd.Driver.
func (d *Driver) CreateBuffer(id gpucmd.BufferID, desc *gpucmd.BufferDesc, data []byte) {
	d.emit("CreateBuffer", uint32(id), "size=%d alloc=%d usage=%d", desc.Size, desc.AllocSize(), desc.Usage)
	b := bufferRecord{desc: *desc, data: make([]byte, desc.AllocSize())}
	copy(b.data, data)
	if !d.buffers.Set(handle.Handle(id), b) {
		d.warn("CreateBuffer", uint32(id), "handle out of range")
	}
}

// UpdateBuffer implements gpucmd.Driver.
func (d *Driver) UpdateBuffer(id gpucmd.BufferID, offset uint32, data []byte, mode gpucmd.UpdateMode) {
	d.emit("UpdateBuffer", uint32(id), "offset=%d len=%d mode=%d", offset, len(data), mode)
	b := d.buffer("UpdateBuffer", id)
	if b == nil {
		return
	}
	if int(offset)+len(data) > len(b.data) {
		d.warn("UpdateBuffer", uint32(id), "write out of range")
		return
	}
	if mode == gpucmd.UpdateDiscard {
		clear(b.data)
	}
	copy(b.data[offset:], data)
}

// ResizeBuffer implements gpucmd.Driver.
func (d *Driver) ResizeBuffer(id gpucmd.BufferID, size uint32) {
	d.emit("ResizeBuffer", uint32(id), "size=%d", size)
	b := d.buffer("ResizeBuffer", id)
	if b == nil {
		return
	}
	b.desc.Size = size
	data := make([]byte, b.desc.AllocSize())
	copy(data, b.data)
	b.data = data
}

// CopyBuffer implements gpucmd.Driver.
func (d *Driver) CopyBuffer(dst gpucmd.BufferID, dstOffset uint32, src gpucmd.BufferID, srcOffset, size uint32) {
	d.emit("CopyBuffer", uint32(dst), "src=%d size=%d", src, size)
	db, sb := d.buffer("CopyBuffer", dst), d.buffer("CopyBuffer", src)
	if db == nil || sb == nil {
		return
	}
	if uint64(dstOffset)+uint64(size) > uint64(len(db.data)) || uint64(srcOffset)+uint64(size) > uint64(len(sb.data)) {
		d.warn("CopyBuffer", uint32(dst), "copy out of range")
		return
	}
	copy(db.data[dstOffset:dstOffset+size], sb.data[srcOffset:srcOffset+size])
}

func (d *Driver) bufferRange(op string, id gpucmd.BufferID, offset, size uint32) (*bufferRecord, []byte) {
	b := d.buffer(op, id)
	if b == nil {
		return nil, nil
	}
	if uint64(offset)+uint64(size) > uint64(len(b.data)) {
		d.warn(op, uint32(id), "range out of bounds")
		return nil, nil
	}
	return b, b.data[offset : offset+size : offset+size]
}

// ReadBuffer implements gpucmd.Driver.
func (d *Driver) ReadBuffer(id gpucmd.BufferID, offset, size uint32, fn func([]byte)) {
	d.emit("ReadBuffer", uint32(id), "offset=%d size=%d", offset, size)
	if _, data := d.bufferRange("ReadBuffer", id, offset, size); data != nil {
		fn(append([]byte(nil), data...))
	}
}

// MapBuffer implements gpucmd.Driver.
func (d *Driver) MapBuffer(id gpucmd.BufferID, offset, size uint32, fn func([]byte)) {
	d.emit("MapBuffer", uint32(id), "offset=%d size=%d", offset, size)
	b, data := d.bufferRange("MapBuffer", id, offset, size)
	if b == nil {
		return
	}
	if b.desc.Access == gpucmd.AccessDevice {
		d.warn("MapBuffer", uint32(id), "buffer is not host visible")
		return
	}
	b.mapped = true
	fn(data)
}

// UnmapBuffer implements gpucmd.Driver.
func (d *Driver) UnmapBuffer(id gpucmd.BufferID) {
	d.emit("UnmapBuffer", uint32(id), "")
	if b := d.buffer("UnmapBuffer", id); b != nil {
		b.mapped = false
	}
}

// DeleteBuffer implements gpucmd.Driver.
func (d *Driver) DeleteBuffer(id gpucmd.BufferID) {
	d.emit("DeleteBuffer", uint32(id), "")
	d.buffers.Delete(handle.Handle(id))
}

// CreateTexture implements gpucmd.Driver.
func (d *Driver) CreateTexture(id gpucmd.TextureID, desc *gpucmd.TextureDesc, data []byte) {
	d.emit("CreateTexture", uint32(id), "%dx%d %s levels=%d samples=%d", desc.Width, desc.Height, desc.Format, desc.Levels, desc.Samples)
	t := textureRecord{desc: *desc, levels: make([][]byte, desc.Levels)}
	for l, mip := range gpucmd.SplitMips(desc, data) {
		if mip != nil {
			t.levels[l] = append([]byte(nil), mip...)
		}
	}
	if !d.textures.Set(handle.Handle(id), t) {
		d.warn("CreateTexture", uint32(id), "handle out of range")
	}
}

// level returns the storage of one mip level, allocating it on first
// use.
func (t *textureRecord) level(l uint32) []byte {
	if int(l) >= len(t.levels) {
		return nil
	}
	if t.levels[l] == nil {
		t.levels[l] = make([]byte, gpucmd.MipSize(t.desc.Format, int(t.desc.Width), int(t.desc.Height), int(l)))
	}
	return t.levels[l]
}

func (t *textureRecord) pitch(l uint32) int {
	w, _ := gpucmd.MipExtent(int(t.desc.Width), int(t.desc.Height), int(l))
	return gpucmd.RowPitch(t.desc.Format, w)
}

// UpdateTexture implements gpucmd.Driver.
func (d *Driver) UpdateTexture(id gpucmd.TextureID, level uint32, region gpucmd.Rect, data []byte) {
	d.emit("UpdateTexture", uint32(id), "level=%d region=%v len=%d", level, region, len(data))
	t := d.texture("UpdateTexture", id)
	if t == nil {
		return
	}
	dst := t.level(level)
	if dst == nil {
		d.warn("UpdateTexture", uint32(id), "level out of range")
		return
	}
	w, h := gpucmd.MipExtent(int(t.desc.Width), int(t.desc.Height), int(level))
	if region.Empty() {
		region = gpucmd.Rect{Width: uint32(w), Height: uint32(h)} //nolint:gosec // texture sizes fit
	}
	if t.desc.Format.Info().Compressed {
		copy(dst, data)
		return
	}
	bpp := t.desc.Format.Info().BitsPerPixel / 8
	pitch, rowLen := t.pitch(level), int(region.Width)*bpp
	for y := 0; y < int(region.Height) && int(region.Y)+y < h; y++ {
		src := data[min(y*rowLen, len(data)):min((y+1)*rowLen, len(data))]
		off := (int(region.Y)+y)*pitch + int(region.X)*bpp
		if off >= len(dst) {
			break
		}
		copy(dst[off:min(off+rowLen, len(dst))], src)
	}
}

// CopyTexture implements gpucmd.Driver.
func (d *Driver) CopyTexture(c *gpucmd.TextureCopy) {
	d.emit("CopyTexture", uint32(c.Dst), "src=%d region=%v", c.Src, c.Region)
	dt, st := d.texture("CopyTexture", c.Dst), d.texture("CopyTexture", c.Src)
	if dt == nil || st == nil {
		return
	}
	if dt.desc.Format != st.desc.Format {
		d.warn("CopyTexture", uint32(c.Dst), "format mismatch")
		return
	}
	src, dst := st.level(c.SrcLevel), dt.level(c.DstLevel)
	if src == nil || dst == nil || dt.desc.Format.Info().Compressed {
		copy(dst, src)
		return
	}
	bpp := dt.desc.Format.Info().BitsPerPixel / 8
	sp, dp := st.pitch(c.SrcLevel), dt.pitch(c.DstLevel)
	rowLen := int(c.Region.Width) * bpp
	for y := 0; y < int(c.Region.Height); y++ {
		so := (int(c.Region.Y)+y)*sp + int(c.Region.X)*bpp
		do := (int(c.DstY)+y)*dp + int(c.DstX)*bpp
		if so+rowLen > len(src) || do+rowLen > len(dst) {
			break
		}
		copy(dst[do:do+rowLen], src[so:so+rowLen])
	}
}

// ReadTexture implements gpucmd.Driver.
func (d *Driver) ReadTexture(id gpucmd.TextureID, level uint32, fn func([]byte, int)) {
	d.emit("ReadTexture", uint32(id), "level=%d", level)
	t := d.texture("ReadTexture", id)
	if t == nil {
		return
	}
	data := t.level(level)
	if data == nil {
		d.warn("ReadTexture", uint32(id), "level out of range")
		return
	}
	fn(append([]byte(nil), data...), t.pitch(level))
}

// DeleteTexture implements gpucmd.Driver.
func (d *Driver) DeleteTexture(id gpucmd.TextureID) {
	d.emit("DeleteTexture", uint32(id), "")
	d.textures.Delete(handle.Handle(id))
}

// CreatePass implements gpucmd.Driver.
func (d *Driver) CreatePass(id gpucmd.PassID, desc *gpucmd.PassDesc) {
	d.emit("CreatePass", uint32(id), "colors=%d depth=%d", desc.ColorCount, desc.Depth)
	for _, a := range desc.ColorAttachments() {
		if d.texture("CreatePass", a.Target) == nil {
			return
		}
	}
	d.passes.Set(handle.Handle(id), passRecord{desc: *desc})
}

// DeletePass implements gpucmd.Driver.
func (d *Driver) DeletePass(id gpucmd.PassID) {
	d.emit("DeletePass", uint32(id), "")
	d.passes.Delete(handle.Handle(id))
}

// CreatePipeline implements gpucmd.Driver.
func (d *Driver) CreatePipeline(id gpucmd.PipelineID, desc *gpucmd.PipelineDesc, vertex, fragment []byte) {
	d.emit("CreatePipeline", uint32(id), "topology=%d vs=%d fs=%d", desc.Topology, len(vertex), len(fragment))
	d.pipelines.Set(handle.Handle(id), pipelineRecord{desc: *desc, vertex: len(vertex), fragment: len(fragment)})
}

// DeletePipeline implements gpucmd.Driver.
func (d *Driver) DeletePipeline(id gpucmd.PipelineID) {
	d.emit("DeletePipeline", uint32(id), "")
	d.pipelines.Delete(handle.Handle(id))
}

func (d *Driver) parts(id gpucmd.PipelineID) bind.Parts {
	p, ok := d.pipelines.Get(handle.Handle(id))
	if !ok {
		return bind.Parts{}
	}
	return bind.PartsOf(id, &p.desc)
}

// Prepare implements gpucmd.Driver.
func (d *Driver) Prepare(pass gpucmd.PassID, cv *gpucmd.ClearValues, vp *gpucmd.Viewport) {
	d.emit("Prepare", uint32(pass), "clear=%03b viewport=%v", cv.Flags, *vp)
	p, ok := d.passes.Get(handle.Handle(pass))
	if !ok {
		d.warn("Prepare", uint32(pass), "unknown pass")
		return
	}
	p.open = true
	d.state.Invalidate()
	if cv.Flags&gpucmd.ClearColor == 0 {
		return
	}
	for _, a := range p.desc.ColorAttachments() {
		target := a.Target
		if a.Source != 0 {
			target = a.Source
		}
		if t, ok := d.textures.Get(handle.Handle(target)); ok {
			fill(t.level(a.Level), t.desc.Format, cv.Color)
		}
	}
}

func fill(dst []byte, f gpucmd.Format, c [4]float32) {
	var px [4]byte
	for i, v := range c {
		px[i] = byte(math.Round(float64(min(max(v, 0), 1)) * 255))
	}
	switch f {
	case gpucmd.FormatRGBA8, gpucmd.FormatRGBA8Srgb:
	case gpucmd.FormatBGRA8, gpucmd.FormatBGRA8Srgb:
		px[0], px[2] = px[2], px[0]
	default:
		return
	}
	for i := 0; i+4 <= len(dst); i += 4 {
		copy(dst[i:i+4], px[:])
	}
}

// Submit implements gpucmd.Driver.
func (d *Driver) Submit(pass gpucmd.PassID, subs []gpucmd.Submission) {
	d.emit("Submit", uint32(pass), "draws=%d", len(subs))
	p, ok := d.passes.Get(handle.Handle(pass))
	if !ok {
		d.warn("Submit", uint32(pass), "unknown pass")
		return
	}
	if !p.open {
		p.open = true
		d.state.Invalidate()
	}
	for i := range subs {
		d.state.Apply(&d.counter, &subs[i])
	}
}

// Commit implements gpucmd.Driver.
func (d *Driver) Commit(pass gpucmd.PassID) {
	d.emit("Commit", uint32(pass), "")
	p, ok := d.passes.Get(handle.Handle(pass))
	if !ok {
		d.warn("Commit", uint32(pass), "unknown pass")
		return
	}
	p.open = false
	for _, a := range p.desc.ColorAttachments() {
		if a.Source == 0 {
			continue
		}
		d.emit("Resolve", uint32(a.Source), "target=%d", a.Target)
		st, sok := d.textures.Get(handle.Handle(a.Source))
		tt, tok := d.textures.Get(handle.Handle(a.Target))
		if sok && tok {
			copy(tt.level(a.Level), st.level(0))
		}
	}
	if p.display {
		d.emit("Present", uint32(pass), "")
	}
}

// counter is the Binder of the trace driver. State changes are already
// counted by bind.State; nothing else needs to happen.
type counter struct{}

func (counter) SetPipeline(gpucmd.PipelineID, bind.PartMask)        {}
func (counter) SetStencilRef(uint32)                                {}
func (counter) SetVertexStreams(int, []gpucmd.VertexStream)         {}
func (counter) SetIndexStream(gpucmd.VertexStream, bind.IndexWidth) {}
func (counter) SetScissor(gpucmd.Rect)                              {}
func (counter) SetSamplers(int, []gpucmd.Sampler)                   {}
func (counter) SetTextures(int, []gpucmd.TextureID)                 {}
func (counter) SetUniforms(int, []gpucmd.UniformBinding)            {}
