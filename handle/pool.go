package handle

// Pool pairs an Allocator with in-place storage for values of type T.
//
// Free does not clear the slot; callers that hold native resources in T
// must release them before freeing the handle.
type Pool[T any] struct {
	alloc *Allocator
	items []T
}

// NewPool returns a Pool holding up to capacity values.
func NewPool[T any](capacity int) *Pool[T] {
	a := NewAllocator(capacity)
	return &Pool[T]{
		alloc: a,
		items: make([]T, a.Cap()+1),
	}
}

// Allocate stores v in a free slot and returns its handle, or Invalid if
// the pool is full.
func (p *Pool[T]) Allocate(v T) Handle {
	h := p.alloc.Allocate()
	if h != Invalid {
		p.items[h] = v
	}
	return h
}

// Get returns the value stored at h.
func (p *Pool[T]) Get(h Handle) (*T, bool) {
	if !p.alloc.Live(h) {
		return nil, false
	}
	return &p.items[h], true
}

// Free releases h.
func (p *Pool[T]) Free(h Handle) bool { return p.alloc.Free(h) }

// Size returns the number of stored values.
func (p *Pool[T]) Size() int { return p.alloc.Size() }

// Cap returns the capacity.
func (p *Pool[T]) Cap() int { return p.alloc.Cap() }

// Each calls fn for every live slot in handle order until fn returns false.
func (p *Pool[T]) Each(fn func(Handle, *T) bool) {
	for i := 1; i <= p.alloc.HighWaterMark(); i++ {
		h := Handle(i) //nolint:gosec // bounded by capacity
		if p.alloc.Live(h) && !fn(h, &p.items[h]) {
			return
		}
	}
}

// Reset frees every slot and zeroes the storage.
func (p *Pool[T]) Reset() {
	p.alloc.Reset()
	clear(p.items)
}
