//go:build !nogpu

package native

import (
	"fmt"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	_ "github.com/gogpu/wgpu/hal/vulkan" // registers the Vulkan backend

	"github.com/gogpu/gpucmd"
	"github.com/gogpu/gpucmd/bind"
	"github.com/gogpu/gpucmd/handle"
)

func init() {
	gpucmd.Register("native", func() gpucmd.Driver { return New() })
}

// Option configures a Driver.
type Option func(*Driver)

// WithBackends replaces the device fallback chain. Backends are tried
// in the given order.
func WithBackends(backends ...hal.Backend) Option {
	return func(d *Driver) { d.chain = backends }
}

// retired is a native object destroyed once the queue has completed the
// submission it was last used in.
type retired struct {
	after   uint64
	destroy func()
}

// Driver implements gpucmd.Driver on a hal device. It also implements
// gpucontext.DeviceProvider so that other gogpu libraries can share the
// device; those accessors are only meaningful after Initialize returned.
type Driver struct {
	chain []hal.Backend

	cfg           gpucmd.InitConfig
	caps          gpucmd.Capabilities
	dev           *device
	surfaceFormat gputypes.TextureFormat
	presentMode   gputypes.PresentMode

	buffers   *handle.Table[buffer]
	textures  *handle.Table[texture]
	passes    *handle.Table[pass]
	pipelines *handle.Table[pipeline]
	samplers  *samplerCache

	state  *bind.State
	bound  bindings
	blank  placeholders
	warned map[string]bool

	// Frame state. enc is open while commands are recorded; rp is open
	// while the active pass renders. A copy ends rp but keeps active, so
	// the next draw resumes the pass with load operations.
	enc     hal.CommandEncoder
	rp      hal.RenderPassEncoder
	active  gpucmd.PassID
	frame   *hal.AcquiredSurfaceTexture
	frameRT hal.TextureView
	serial  uint64
	lastSub uint64
	garbage []retired
}

var (
	_ gpucmd.Driver             = (*Driver)(nil)
	_ gpucontext.DeviceProvider = (*Driver)(nil)
)

// New returns an uninitialized driver.
func New(opts ...Option) *Driver {
	d := &Driver{}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Name implements gpucmd.Driver.
func (d *Driver) Name() string { return "native" }

// Capabilities implements gpucmd.Driver.
func (d *Driver) Capabilities() *gpucmd.Capabilities {
	if d.dev == nil {
		return nil
	}
	return &d.caps
}

// Initialize opens a device through the fallback chain, configures the
// window surface if there is one and creates the display pass.
func (d *Driver) Initialize(cfg *gpucmd.InitConfig) error {
	if d.dev != nil {
		d.Reset()
	}
	chain := d.chain
	if chain == nil {
		chain = defaultChain()
	}
	dev, err := openDevice(chain, cfg)
	if err != nil {
		return err
	}
	d.dev = dev
	d.cfg = *cfg
	d.surfaceFormat = displayFormat(dev)
	d.caps = probe(dev, d.surfaceFormat)
	d.presentMode, _ = presentMode(dev, cfg.VSync)

	if n := d.caps.SampleCount(cfg.Samples); n != cfg.Samples && cfg.Samples > 1 {
		gpucmd.Logger().Info("native: sample count not supported, falling back",
			"requested", cfg.Samples, "using", n)
		d.cfg.Samples = n
	}
	if d.cfg.Samples < 1 {
		d.cfg.Samples = 1
	}

	if dev.surface != nil {
		err := dev.surface.Configure(dev.raw, &hal.SurfaceConfiguration{
			Width:       uint32(cfg.Width),  //nolint:gosec // validated by the service
			Height:      uint32(cfg.Height), //nolint:gosec // validated by the service
			Format:      d.surfaceFormat,
			Usage:       gputypes.TextureUsageRenderAttachment,
			PresentMode: d.presentMode,
			AlphaMode:   gputypes.CompositeAlphaModeOpaque,
		})
		if err != nil {
			d.Reset()
			return fmt.Errorf("native: configure surface: %w", err)
		}
	}

	c := cfg.Capacities
	d.buffers = handle.NewTable[buffer](c.Buffers)
	d.textures = handle.NewTable[texture](c.Textures)
	d.passes = handle.NewTable[pass](c.Passes)
	d.pipelines = handle.NewTable[pipeline](c.Pipelines)
	d.samplers = newSamplerCache(c.Samplers, d.anisotropy())
	d.state = bind.NewState(d.parts)
	d.bound = bindings{}
	d.warned = make(map[string]bool)
	// Fresh buffers have used == 0, which must not match a frame.
	d.serial = 1

	if err := d.createPlaceholders(); err != nil {
		d.Reset()
		return fmt.Errorf("native: %w", err)
	}
	if err := d.createDisplayPass(cfg.DisplayPass); err != nil {
		d.Reset()
		return fmt.Errorf("native: display pass: %w", err)
	}
	gpucmd.Logger().Info("native: initialized",
		"adapter", dev.adapter().Info.Name, "size", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height),
		"samples", d.cfg.Samples, "format", d.caps.DisplayFormat)
	return nil
}

// Reset waits for the device to go idle and releases everything.
func (d *Driver) Reset() {
	if d.dev == nil {
		return
	}
	if d.rp != nil {
		d.rp.End()
		d.rp = nil
	}
	if d.enc != nil {
		d.enc.DiscardEncoding()
		d.enc = nil
	}
	if d.frame != nil {
		d.dev.surface.DiscardTexture(d.frame.Texture)
		d.releaseFrame()
	}
	if err := d.dev.raw.WaitIdle(); err != nil {
		gpucmd.Logger().Warn("native: wait idle", "error", err)
	}

	if d.pipelines != nil {
		raw := d.dev.raw
		d.pipelines.Each(func(_ handle.Handle, p *pipeline) bool { p.destroy(raw); return true })
		d.passes.Each(func(_ handle.Handle, p *pass) bool { p.destroy(raw); return true })
		d.textures.Each(func(_ handle.Handle, t *texture) bool { t.destroy(raw); return true })
		d.buffers.Each(func(_ handle.Handle, b *buffer) bool { b.destroy(raw); return true })
		d.samplers.destroy(d.dev.raw)
		d.pipelines.Reset()
		d.passes.Reset()
		d.textures.Reset()
		d.buffers.Reset()
	}
	d.blank.destroy(d.dev.raw)
	for _, g := range d.garbage {
		g.destroy()
	}
	d.garbage = nil

	d.dev.destroy()
	d.dev = nil
	d.active = 0
	d.caps = gpucmd.Capabilities{}
}

// anisotropy returns the sampler anisotropy for FilterAnisotropic.
func (d *Driver) anisotropy() uint16 {
	if d.dev.adapter().Capabilities.DownlevelCapabilities.Flags&hal.DownlevelFlagsAnisotropicFiltering != 0 {
		return 16
	}
	return 1
}

// warn logs a failed operation.
func (d *Driver) warn(op string, id uint32, err error) {
	gpucmd.Logger().Warn("native: "+op+" failed", "id", id, "error", err)
}

// warnOnce logs msg the first time it is seen after Initialize.
func (d *Driver) warnOnce(msg string, args ...any) {
	if d.warned[msg] {
		return
	}
	d.warned[msg] = true
	gpucmd.Logger().Warn("native: "+msg, args...)
}

// encoder returns the frame command encoder, starting it if needed.
func (d *Driver) encoder() (hal.CommandEncoder, error) {
	if d.enc != nil {
		return d.enc, nil
	}
	enc, err := d.dev.raw.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: "gpucmd_frame"})
	if err != nil {
		return nil, err
	}
	if err := enc.BeginEncoding("gpucmd_frame"); err != nil {
		return nil, err
	}
	d.enc = enc
	return enc, nil
}

// suspend ends the open render pass so that copies can be recorded. The
// active pass resumes on the next draw.
func (d *Driver) suspend() {
	if d.rp != nil {
		d.rp.End()
		d.rp = nil
	}
}

// flush submits everything recorded so far.
func (d *Driver) flush() {
	d.suspend()
	if d.enc == nil {
		return
	}
	enc := d.enc
	d.enc = nil
	cmd, err := enc.EndEncoding()
	if err != nil {
		d.warn("end encoding", 0, err)
		return
	}
	idx, err := d.dev.queue.Submit([]hal.CommandBuffer{cmd})
	if err != nil {
		d.warn("submit", 0, err)
		d.dev.raw.FreeCommandBuffer(cmd)
		return
	}
	d.lastSub = idx
	raw := d.dev.raw
	d.retire(func() { raw.FreeCommandBuffer(cmd) })
}

// finish submits pending work and blocks until the device is idle.
func (d *Driver) finish() {
	d.flush()
	if err := d.dev.raw.WaitIdle(); err != nil {
		d.warn("wait idle", 0, err)
	}
	d.collect()
}

// retire schedules destroy for after the next submission completes.
func (d *Driver) retire(destroy func()) {
	d.garbage = append(d.garbage, retired{after: d.lastSub + 1, destroy: destroy})
	if d.enc == nil {
		// Recorded work has already been submitted.
		d.garbage[len(d.garbage)-1].after = d.lastSub
	}
}

// collect destroys retired objects whose submission has completed.
func (d *Driver) collect() {
	done := d.dev.queue.PollCompleted()
	keep := d.garbage[:0]
	for _, g := range d.garbage {
		if g.after <= done {
			g.destroy()
		} else {
			keep = append(keep, g)
		}
	}
	clear(d.garbage[len(keep):])
	d.garbage = keep
}

// Stats returns the state-diff counters of the current device.
func (d *Driver) Stats() bind.Stats {
	if d.state == nil {
		return bind.Stats{}
	}
	return d.state.Stats()
}

// Device implements gpucontext.DeviceProvider.
func (d *Driver) Device() gpucontext.Device {
	if d.dev == nil {
		return nil
	}
	return d.dev.raw
}

// Queue implements gpucontext.DeviceProvider.
func (d *Driver) Queue() gpucontext.Queue {
	if d.dev == nil {
		return nil
	}
	return d.dev.queue
}

// Adapter implements gpucontext.DeviceProvider.
func (d *Driver) Adapter() gpucontext.Adapter {
	if d.dev == nil {
		return nil
	}
	return d.dev.adapter().Adapter
}

// SurfaceFormat implements gpucontext.DeviceProvider.
func (d *Driver) SurfaceFormat() gputypes.TextureFormat { return d.surfaceFormat }

// AdapterInfo implements gpucontext.DeviceProvider.
func (d *Driver) AdapterInfo() gpucontext.AdapterInfo {
	if d.dev == nil {
		return gpucontext.AdapterInfo{Type: gpucontext.AdapterTypeUnknown}
	}
	info := d.dev.adapter().Info
	return gpucontext.AdapterInfo{Name: info.Name, Type: adapterType(info.DeviceType)}
}
