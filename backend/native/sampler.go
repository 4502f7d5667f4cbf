//go:build !nogpu

package native

import (
	"errors"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/gpucmd"
	"github.com/gogpu/gpucmd/handle"
)

var errCacheFull = errors.New("sampler cache full")

// samplerCache creates native samplers on first use, one per distinct
// sampler key, and keeps them until the device is reset.
type samplerCache struct {
	pool       *handle.Pool[hal.Sampler]
	keys       map[uint32]handle.Handle
	anisotropy uint16
}

func newSamplerCache(capacity int, anisotropy uint16) *samplerCache {
	return &samplerCache{
		pool:       handle.NewPool[hal.Sampler](capacity),
		keys:       make(map[uint32]handle.Handle),
		anisotropy: anisotropy,
	}
}

func (c *samplerCache) descriptor(s gpucmd.Sampler) *hal.SamplerDescriptor {
	desc := &hal.SamplerDescriptor{
		Label:        "gpucmd_sampler",
		AddressModeU: lookup(addressModes[:], s.WrapU),
		AddressModeV: lookup(addressModes[:], s.WrapV),
		AddressModeW: gputypes.AddressModeClampToEdge,
		MagFilter:    gputypes.FilterModeLinear,
		MinFilter:    gputypes.FilterModeLinear,
		MipmapFilter: gputypes.FilterModeLinear,
		LodMaxClamp:  32,
		Anisotropy:   1,
	}
	switch s.Filter {
	case gpucmd.FilterPoint:
		desc.MagFilter = gputypes.FilterModeNearest
		desc.MinFilter = gputypes.FilterModeNearest
		desc.MipmapFilter = gputypes.FilterModeNearest
	case gpucmd.FilterAnisotropic:
		desc.Anisotropy = c.anisotropy
	}
	return desc
}

// get returns the sampler for s, creating it if needed. When the cache
// is full the first sampler created is shared.
func (c *samplerCache) get(dev hal.Device, s gpucmd.Sampler) (hal.Sampler, error) {
	key := s.Key()
	if h, ok := c.keys[key]; ok {
		raw, _ := c.pool.Get(h)
		return *raw, nil
	}
	if c.pool.Size() >= c.pool.Cap() {
		if raw, ok := c.pool.Get(1); ok {
			gpucmd.Logger().Warn("native: sampler cache full", "key", key)
			return *raw, nil
		}
	}
	raw, err := dev.CreateSampler(c.descriptor(s))
	if err != nil {
		return nil, err
	}
	h := c.pool.Allocate(raw)
	if h == handle.Invalid {
		dev.DestroySampler(raw)
		return nil, errCacheFull
	}
	c.keys[key] = h
	return raw, nil
}

// Len returns the number of native samplers.
func (c *samplerCache) Len() int { return c.pool.Size() }

func (c *samplerCache) destroy(dev hal.Device) {
	c.pool.Each(func(_ handle.Handle, s *hal.Sampler) bool {
		dev.DestroySampler(*s)
		return true
	})
	c.pool.Reset()
	clear(c.keys)
}
