package handle

import "testing"

type record struct {
	width  int
	label  string
	closed bool
}

func TestPoolAllocateGetFree(t *testing.T) {
	p := NewPool[record](3)
	a := p.Allocate(record{width: 64, label: "a"})
	b := p.Allocate(record{width: 128, label: "b"})
	if a != 1 || b != 2 {
		t.Fatalf("handles = %d, %d", a, b)
	}

	r, ok := p.Get(b)
	if !ok || r.width != 128 {
		t.Fatalf("Get(%d) = %+v, %v", b, r, ok)
	}
	r.closed = true

	if !p.Free(b) {
		t.Fatal("Free() = false")
	}
	if _, ok := p.Get(b); ok {
		t.Error("Get() succeeded on freed handle")
	}
	if p.items[b].label != "b" || !p.items[b].closed {
		t.Error("Free() cleared the slot")
	}
	if p.Size() != 1 {
		t.Errorf("Size() = %d", p.Size())
	}
}

func TestPoolFull(t *testing.T) {
	p := NewPool[int](2)
	p.Allocate(1)
	p.Allocate(2)
	if h := p.Allocate(3); h != Invalid {
		t.Errorf("Allocate() on full pool = %d", h)
	}
}

func TestPoolEach(t *testing.T) {
	p := NewPool[int](4)
	for i := 1; i <= 4; i++ {
		p.Allocate(i * 10)
	}
	p.Free(2)

	var got []int
	p.Each(func(_ Handle, v *int) bool {
		got = append(got, *v)
		return true
	})
	want := []int{10, 30, 40}
	if len(got) != len(want) {
		t.Fatalf("Each visited %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Each visited %v, want %v", got, want)
		}
	}

	n := 0
	p.Each(func(Handle, *int) bool {
		n++
		return false
	})
	if n != 1 {
		t.Errorf("Each did not stop: %d visits", n)
	}

	p.Reset()
	if p.Size() != 0 {
		t.Errorf("Size() after Reset = %d", p.Size())
	}
}

func TestTable(t *testing.T) {
	tbl := NewTable[string](4)
	if tbl.Set(Invalid, "x") || tbl.Set(5, "x") {
		t.Fatal("Set accepted an out-of-range handle")
	}
	tbl.Set(5-1, "four")
	tbl.Set(2, "two")
	tbl.Set(2, "deux")
	if tbl.Len() != 2 {
		t.Errorf("Len() = %d, want 2", tbl.Len())
	}
	if v, ok := tbl.Get(2); !ok || *v != "deux" {
		t.Errorf("Get(2) = %v, %v", v, ok)
	}
	if v, ok := tbl.Delete(2); !ok || v != "deux" {
		t.Errorf("Delete(2) = %q, %v", v, ok)
	}
	if _, ok := tbl.Delete(2); ok {
		t.Error("second Delete(2) succeeded")
	}
	if _, ok := tbl.Get(3); ok {
		t.Error("Get(3) on empty slot succeeded")
	}

	var seen []Handle
	tbl.Each(func(h Handle, _ *string) bool {
		seen = append(seen, h)
		return true
	})
	if len(seen) != 1 || seen[0] != 4 {
		t.Errorf("Each visited %v", seen)
	}
	tbl.Reset()
	if tbl.Len() != 0 || tbl.Cap() != 4 {
		t.Errorf("Reset: Len=%d Cap=%d", tbl.Len(), tbl.Cap())
	}
}
