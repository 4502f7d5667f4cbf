// Package handle provides bounded integer handles and the fixed-capacity
// storage indexed by them.
//
// Handles are 1-based slot indices; 0 is reserved as Invalid and means
// "no resource". Capacity is fixed at construction and allocation simply
// fails once it is exhausted.
package handle

// Handle identifies a slot in a fixed-capacity pool.
type Handle uint32

// Invalid is the reserved "no resource" handle.
const Invalid Handle = 0

// Default capacities per resource kind.
const (
	MaxBuffers   = 4096
	MaxTextures  = 4096
	MaxPipelines = 1024
	MaxPasses    = 256
	MaxSamplers  = 256
	MaxMaterials = 1024
)

// Valid reports whether h is not Invalid.
func (h Handle) Valid() bool { return h != Invalid }

// Allocator hands out handles in [1, capacity] and recycles freed ones.
//
// Freed handles go onto a LIFO freelist, except the highest outstanding
// handle, which lowers the high-water mark instead. Size always equals
// the high-water mark minus the freelist length.
//
// Allocator is not safe for concurrent use.
type Allocator struct {
	capacity uint32
	high     uint32
	free     []Handle
	live     []uint64
}

// NewAllocator returns an Allocator for capacity handles.
func NewAllocator(capacity int) *Allocator {
	if capacity < 0 {
		capacity = 0
	}
	return &Allocator{
		capacity: uint32(capacity), //nolint:gosec // capacity is a small positive constant
		live:     make([]uint64, (capacity+64)/64),
	}
}

// Allocate returns an unused handle, or Invalid if all are in use.
func (a *Allocator) Allocate() Handle {
	var h Handle
	switch {
	case len(a.free) > 0:
		h = a.free[len(a.free)-1]
		a.free = a.free[:len(a.free)-1]
	case a.high < a.capacity:
		a.high++
		h = Handle(a.high)
	default:
		return Invalid
	}
	a.setLive(h, true)
	return h
}

// Free releases h. It reports false for Invalid, for handles above the
// high-water mark and for handles that are not currently allocated.
func (a *Allocator) Free(h Handle) bool {
	if h == Invalid || uint32(h) > a.high || !a.Live(h) {
		return false
	}
	a.setLive(h, false)
	if uint32(h) == a.high {
		a.high--
	} else {
		a.free = append(a.free, h)
	}
	return true
}

// Live reports whether h is currently allocated.
func (a *Allocator) Live(h Handle) bool {
	if h == Invalid || uint32(h) > a.capacity {
		return false
	}
	return a.live[h/64]&(1<<(h%64)) != 0
}

func (a *Allocator) setLive(h Handle, v bool) {
	if v {
		a.live[h/64] |= 1 << (h % 64)
	} else {
		a.live[h/64] &^= 1 << (h % 64)
	}
}

// Size returns the number of outstanding handles.
func (a *Allocator) Size() int { return int(a.high) - len(a.free) }

// Cap returns the capacity.
func (a *Allocator) Cap() int { return int(a.capacity) }

// HighWaterMark returns the highest handle handed out and not yet
// retreated from.
func (a *Allocator) HighWaterMark() int { return int(a.high) }

// Reset frees every handle.
func (a *Allocator) Reset() {
	a.high = 0
	a.free = a.free[:0]
	clear(a.live)
}
