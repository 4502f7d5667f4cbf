//go:build !nogpu

package native

import (
	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/gpucmd"
)

// standardModes are the display sizes reported per adapter, clipped to
// the adapter's texture limit.
var standardModes = []gpucmd.Resolution{
	{Width: 640, Height: 480},
	{Width: 800, Height: 600},
	{Width: 1024, Height: 768},
	{Width: 1280, Height: 720},
	{Width: 1280, Height: 800},
	{Width: 1366, Height: 768},
	{Width: 1600, Height: 900},
	{Width: 1920, Height: 1080},
	{Width: 1920, Height: 1200},
	{Width: 2560, Height: 1440},
	{Width: 3840, Height: 2160},
	{Width: 7680, Height: 4320},
}

func resolutions(maxDim uint32) []gpucmd.Resolution {
	var out []gpucmd.Resolution
	for _, r := range standardModes {
		if uint32(r.Width) <= maxDim && uint32(r.Height) <= maxDim { //nolint:gosec // table values
			out = append(out, r)
		}
	}
	return out
}

func adapterType(t gputypes.DeviceType) gpucontext.AdapterType {
	switch t {
	case gputypes.DeviceTypeDiscreteGPU:
		return gpucontext.AdapterTypeDiscrete
	case gputypes.DeviceTypeIntegratedGPU:
		return gpucontext.AdapterTypeIntegrated
	case gputypes.DeviceTypeCPU:
		return gpucontext.AdapterTypeSoftware
	}
	return gpucontext.AdapterTypeUnknown
}

// supportsSamples reports whether a render target of a format with the
// given capability flags can be created with n samples. Counts other
// than 1 and 4 need adapter-specific format features.
func supportsSamples(n int, flags hal.TextureFormatCapabilityFlags, features gputypes.Features) bool {
	switch n {
	case 1:
		return true
	case 4:
		return flags&hal.TextureFormatCapabilityMultisample != 0
	case 2, 8, 16:
		return flags&hal.TextureFormatCapabilityMultisample != 0 &&
			features.Contains(gputypes.FeatureTextureAdapterSpecificFormatFeatures)
	}
	return false
}

// sampleTable maps every requested count to the highest supported power
// of two not above it.
func sampleTable(flags hal.TextureFormatCapabilityFlags, features gputypes.Features) [gpucmd.MaxSamples + 1]uint8 {
	var t [gpucmd.MaxSamples + 1]uint8
	best := 1
	for n := 1; n <= gpucmd.MaxSamples; n++ {
		if n&(n-1) == 0 && supportsSamples(n, flags, features) {
			best = n
		}
		t[n] = uint8(best) //nolint:gosec // at most MaxSamples
	}
	return t
}

// displayFormat picks the display pass format. A surface offers its own
// list; headless rendering uses BGRA8 like most swapchains do.
func displayFormat(dev *device) gputypes.TextureFormat {
	if dev.surface == nil {
		return gputypes.TextureFormatBGRA8Unorm
	}
	caps := dev.adapter().Adapter.SurfaceCapabilities(dev.surface)
	if caps == nil || len(caps.Formats) == 0 {
		return gputypes.TextureFormatBGRA8Unorm
	}
	for _, want := range []gputypes.TextureFormat{gputypes.TextureFormatBGRA8Unorm, gputypes.TextureFormatRGBA8Unorm} {
		for _, f := range caps.Formats {
			if f == want {
				return f
			}
		}
	}
	for _, f := range caps.Formats {
		if formatOf(f) != gpucmd.FormatUnknown {
			return f
		}
	}
	return caps.Formats[0]
}

// presentMode selects FIFO with vsync and the first tearing mode the
// surface offers without.
func presentMode(dev *device, vsync bool) (gputypes.PresentMode, bool) {
	tearing := false
	var modes []gputypes.PresentMode
	if dev.surface != nil {
		if caps := dev.adapter().Adapter.SurfaceCapabilities(dev.surface); caps != nil {
			modes = caps.PresentModes
		}
	}
	for _, m := range modes {
		if m == gputypes.PresentModeImmediate {
			tearing = true
		}
	}
	if vsync {
		return gputypes.PresentModeFifo, tearing
	}
	for _, want := range []gputypes.PresentMode{gputypes.PresentModeImmediate, gputypes.PresentModeMailbox} {
		for _, m := range modes {
			if m == want {
				return m, tearing
			}
		}
	}
	return gputypes.PresentModeFifo, tearing
}

// probe fills in the capabilities of an opened device.
func probe(dev *device, surfaceFormat gputypes.TextureFormat) gpucmd.Capabilities {
	a := dev.adapter()
	caps := gpucmd.Capabilities{
		Driver:         "native",
		Backend:        dev.backend.Variant().String(),
		Tier:           dev.tier,
		Adapter:        dev.selected,
		Software:       a.Info.DeviceType == gputypes.DeviceTypeCPU,
		MaxTextureSize: int(dev.limits.MaxTextureDimension2D),
		DisplayFormat:  formatOf(surfaceFormat),
	}
	if caps.MaxTextureSize > gpucmd.MaxTextureSize {
		caps.MaxTextureSize = gpucmd.MaxTextureSize
	}
	for _, e := range dev.adapters {
		caps.Adapters = append(caps.Adapters, gpucmd.Adapter{
			Name:        e.Info.Name,
			Vendor:      e.Info.Vendor,
			Driver:      e.Info.Driver,
			Backend:     e.Info.Backend.String(),
			Type:        adapterType(e.Info.DeviceType),
			Resolutions: resolutions(e.Capabilities.Limits.MaxTextureDimension2D),
		})
	}
	flags := a.Adapter.TextureFormatCapabilities(surfaceFormat).Flags
	caps.Samples = sampleTable(flags, dev.features)
	_, caps.Tearing = presentMode(dev, false)
	return caps
}
