package cache

import (
	"sync"
	"testing"
)

func TestLRUGetSet(t *testing.T) {
	c := New[string, int](4)
	if _, ok := c.Get("a"); ok {
		t.Fatal("empty cache returned a value")
	}
	c.Set("a", 1)
	c.Set("a", 2)
	if v, ok := c.Get("a"); !ok || v != 2 {
		t.Errorf("Get(a) = %d, %v; want 2, true", v, ok)
	}
	if c.Len() != 1 {
		t.Errorf("Len = %d, want 1", c.Len())
	}
}

func TestLRUEvictsLeastRecentlyUsed(t *testing.T) {
	c := New[int, int](3)
	for i := range 3 {
		c.Set(i, i)
	}
	c.Get(0) // 1 is now the oldest
	c.Set(3, 3)

	if _, ok := c.Get(1); ok {
		t.Error("least recently used entry survived")
	}
	for _, k := range []int{0, 2, 3} {
		if _, ok := c.Get(k); !ok {
			t.Errorf("entry %d evicted", k)
		}
	}
	if st := c.Stats(); st.Evictions != 1 || st.Len != 3 {
		t.Errorf("stats = %+v", st)
	}
}

func TestLRUUnlimited(t *testing.T) {
	c := New[int, int](0)
	for i := range 1000 {
		c.Set(i, i)
	}
	if c.Len() != 1000 {
		t.Errorf("Len = %d, want 1000", c.Len())
	}
}

func TestLRUDeleteClear(t *testing.T) {
	c := New[int, string](2)
	c.Set(1, "one")
	c.Set(2, "two")
	if !c.Delete(1) || c.Delete(1) {
		t.Error("Delete did not report presence correctly")
	}
	c.Set(3, "three")
	c.Set(4, "four")
	if _, ok := c.Get(2); ok {
		t.Error("oldest entry survived after delete and refill")
	}
	c.Clear()
	if c.Len() != 0 {
		t.Errorf("Len after Clear = %d", c.Len())
	}
	c.Set(5, "five")
	if v, _ := c.Get(5); v != "five" {
		t.Error("cache unusable after Clear")
	}
}

func TestLRUGetOrCreate(t *testing.T) {
	c := New[string, int](8)
	calls := 0
	create := func() int { calls++; return 7 }

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if v := c.GetOrCreate("k", create); v != 7 {
				t.Errorf("GetOrCreate = %d", v)
			}
		}()
	}
	wg.Wait()

	if calls != 1 {
		t.Errorf("create called %d times, want 1", calls)
	}
	st := c.Stats()
	if st.Hits != 15 || st.Misses != 1 {
		t.Errorf("hits %d, misses %d", st.Hits, st.Misses)
	}
	if st.HitRate < 0.93 || st.HitRate > 0.94 {
		t.Errorf("HitRate = %v", st.HitRate)
	}
}
