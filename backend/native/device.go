//go:build !nogpu

package native

import (
	"errors"
	"fmt"
	"sort"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/software"

	"github.com/gogpu/gpucmd"
)

// hardwareBackends is the order hardware APIs are tried in. Backends
// that did not register on this platform are skipped.
var hardwareBackends = []gputypes.Backend{
	gputypes.BackendVulkan,
	gputypes.BackendMetal,
	gputypes.BackendDX12,
	gputypes.BackendGL,
}

// defaultChain returns the registered hardware backends followed by the
// CPU rasterizer, which always opens.
func defaultChain() []hal.Backend {
	var chain []hal.Backend
	for _, v := range hardwareBackends {
		if b, ok := hal.GetBackend(v); ok {
			chain = append(chain, b)
		}
	}
	return append(chain, software.API{})
}

// tier is one feature level a device is opened at.
type tier struct {
	name     string
	features func(gputypes.Features) gputypes.Features
	limits   func() gputypes.Limits
}

// optionalFeatures are kept by the reduced tier.
const optionalFeatures = gputypes.Features(gputypes.FeatureTextureAdapterSpecificFormatFeatures)

var tiers = []tier{
	{"full", func(f gputypes.Features) gputypes.Features { return f }, gputypes.DefaultLimits},
	{"reduced", func(f gputypes.Features) gputypes.Features { return f & optionalFeatures }, gputypes.DefaultLimits},
	{"downlevel", func(gputypes.Features) gputypes.Features { return 0 }, gputypes.DownlevelLimits},
}

// device is an opened hal device together with everything it was
// created from.
type device struct {
	backend  hal.Backend
	instance hal.Instance
	surface  hal.Surface
	adapters []hal.ExposedAdapter
	selected int
	tier     string
	features gputypes.Features
	limits   gputypes.Limits

	raw   hal.Device
	queue hal.Queue
}

func (d *device) adapter() *hal.ExposedAdapter { return &d.adapters[d.selected] }

func (d *device) destroy() {
	if d.raw != nil {
		if d.surface != nil {
			d.surface.Unconfigure(d.raw)
		}
		d.raw.Destroy()
	}
	if d.surface != nil {
		d.surface.Destroy()
	}
	if d.instance != nil {
		d.instance.Destroy()
	}
}

// adapterRank orders device types by preference. Lower is better.
func adapterRank(t gputypes.DeviceType) int {
	switch t {
	case gputypes.DeviceTypeDiscreteGPU:
		return 0
	case gputypes.DeviceTypeIntegratedGPU:
		return 1
	case gputypes.DeviceTypeCPU:
		return 3
	}
	return 2
}

// openDevice walks the backend chain and returns the first device that
// opens. Within a backend, adapters are tried in preference order and
// each adapter at every tier before moving on.
func openDevice(chain []hal.Backend, cfg *gpucmd.InitConfig) (*device, error) {
	var errs []error
	for _, b := range chain {
		dev, err := openBackend(b, cfg)
		if err == nil {
			return dev, nil
		}
		gpucmd.Logger().Warn("native: backend unavailable", "backend", b.Variant(), "error", err)
		errs = append(errs, fmt.Errorf("%s: %w", b.Variant(), err))
	}
	if len(errs) == 0 {
		return nil, fmt.Errorf("%w: no backends", gpucmd.ErrNoDevice)
	}
	return nil, fmt.Errorf("%w: %w", gpucmd.ErrNoDevice, errors.Join(errs...))
}

func openBackend(b hal.Backend, cfg *gpucmd.InitConfig) (*device, error) {
	instance, err := b.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return nil, fmt.Errorf("create instance: %w", err)
	}
	dev := &device{backend: b, instance: instance}

	if cfg.Window != 0 {
		surface, err := instance.CreateSurface(cfg.Display, cfg.Window)
		if err != nil {
			instance.Destroy()
			return nil, fmt.Errorf("create surface: %w", err)
		}
		dev.surface = surface
	}

	dev.adapters = instance.EnumerateAdapters(dev.surface)
	if len(dev.adapters) == 0 {
		dev.destroy()
		return nil, errors.New("no adapters found")
	}
	sort.SliceStable(dev.adapters, func(i, j int) bool {
		return adapterRank(dev.adapters[i].Info.DeviceType) < adapterRank(dev.adapters[j].Info.DeviceType)
	})

	var errs []error
	for i := range dev.adapters {
		a := &dev.adapters[i]
		if dev.surface != nil && a.Adapter.SurfaceCapabilities(dev.surface) == nil {
			errs = append(errs, fmt.Errorf("%s: cannot present to window", a.Info.Name))
			continue
		}
		for _, t := range tiers {
			features, limits := t.features(a.Features), t.limits()
			open, err := a.Adapter.Open(features, limits)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s (%s): %w", a.Info.Name, t.name, err))
				continue
			}
			dev.selected = i
			dev.tier = t.name
			dev.features = features
			dev.limits = limits
			dev.raw = open.Device
			dev.queue = open.Queue
			gpucmd.Logger().Info("native: device opened",
				"backend", b.Variant(), "adapter", a.Info.Name, "tier", t.name)
			return dev, nil
		}
	}
	dev.destroy()
	return nil, errors.Join(errs...)
}
