package handle

// Table is fixed-capacity storage indexed by handles allocated elsewhere.
//
// A command executor receives handles that were allocated by the
// recording side, so it cannot allocate them itself; it only fills and
// clears the slot each handle names.
type Table[T any] struct {
	items []T
	set   []bool
	n     int
}

// NewTable returns a Table for handles in [1, capacity].
func NewTable[T any](capacity int) *Table[T] {
	if capacity < 0 {
		capacity = 0
	}
	return &Table[T]{
		items: make([]T, capacity+1),
		set:   make([]bool, capacity+1),
	}
}

func (t *Table[T]) inRange(h Handle) bool {
	return h != Invalid && int(h) < len(t.items)
}

// Set stores v at h, replacing any previous value. It reports false if h
// is out of range.
func (t *Table[T]) Set(h Handle, v T) bool {
	if !t.inRange(h) {
		return false
	}
	if !t.set[h] {
		t.set[h] = true
		t.n++
	}
	t.items[h] = v
	return true
}

// Get returns the value at h.
func (t *Table[T]) Get(h Handle) (*T, bool) {
	if !t.inRange(h) || !t.set[h] {
		return nil, false
	}
	return &t.items[h], true
}

// Delete clears h and returns the value it held.
func (t *Table[T]) Delete(h Handle) (T, bool) {
	var zero T
	if !t.inRange(h) || !t.set[h] {
		return zero, false
	}
	v := t.items[h]
	t.items[h] = zero
	t.set[h] = false
	t.n--
	return v, true
}

// Len returns the number of occupied slots.
func (t *Table[T]) Len() int { return t.n }

// Cap returns the highest storable handle.
func (t *Table[T]) Cap() int { return len(t.items) - 1 }

// Each calls fn for every occupied slot in handle order until fn returns
// false.
func (t *Table[T]) Each(fn func(Handle, *T) bool) {
	for i := 1; i < len(t.items); i++ {
		if t.set[i] && !fn(Handle(i), &t.items[i]) { //nolint:gosec // bounded by capacity
			return
		}
	}
}

// Reset clears every slot.
func (t *Table[T]) Reset() {
	clear(t.items)
	clear(t.set)
	t.n = 0
}
