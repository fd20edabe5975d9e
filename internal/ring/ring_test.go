package ring

import "testing"

func TestPushBackEvictsOldestWhenFull(t *testing.T) {
	r := New[int](4)
	for i := 1; i <= 4; i++ {
		if _, ok := r.PushBack(i); ok {
			t.Fatalf("unexpected eviction pushing %d into non-full ring", i)
		}
	}
	evicted, ok := r.PushBack(5)
	if !ok || evicted != 1 {
		t.Fatalf("PushBack(5) evicted=(%d,%v), want (1,true)", evicted, ok)
	}
	if r.Len() != 4 {
		t.Fatalf("Len() = %d, want 4", r.Len())
	}
	if got := r.Get(0); got != 2 {
		t.Fatalf("Get(0) = %d, want 2 (oldest surviving)", got)
	}
}

func TestPopFrontFIFOOrder(t *testing.T) {
	r := New[string](8)
	r.PushBack("a")
	r.PushBack("b")
	r.PushBack("c")
	for _, want := range []string{"a", "b", "c"} {
		got, ok := r.PopFront()
		if !ok || got != want {
			t.Fatalf("PopFront() = (%q,%v), want (%q,true)", got, ok, want)
		}
	}
	if _, ok := r.PopFront(); ok {
		t.Fatal("PopFront() on empty ring should report ok=false")
	}
}

func TestEachStopsEarly(t *testing.T) {
	r := New[int](8)
	for i := 0; i < 5; i++ {
		r.PushBack(i)
	}
	var seen []int
	r.Each(func(v int) bool {
		seen = append(seen, v)
		return v < 2
	})
	if want := []int{0, 1, 2}; !equal(seen, want) {
		t.Fatalf("Each() visited %v, want %v", seen, want)
	}
}

func equal(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
