package ref

import (
	"testing"

	"github.com/s417-lama/ityr-go/internal/cache"
	"github.com/s417-lama/ityr-go/internal/heap"
	"github.com/s417-lama/ityr-go/internal/mapper"
	"github.com/s417-lama/ityr-go/internal/transport"
)

func setup(t *testing.T, nelems, elemSize, blockSize uint64) (*heap.Allocation, *cache.Engine) {
	t.Helper()
	cluster := transport.NewCluster(1)
	h := heap.New(cluster[0])
	a, err := h.AllocCollective(nelems, elemSize, blockSize, mapper.Cyclic{})
	if err != nil {
		t.Fatalf("AllocCollective: %v", err)
	}
	e := cache.New(cluster[0], blockSize, 8)
	t.Cleanup(e.Close)
	return a, e
}

func TestCheckoutWriteThenReadRoundTrips(t *testing.T) {
	a, e := setup(t, 16, 8, 64)
	p := NewPtr[int64](a)

	co, err := CheckoutT(e, p, 8, Write)
	if err != nil {
		t.Fatalf("CheckoutT write: %v", err)
	}
	for i := range co.View() {
		co.View()[i] = int64(i * i)
	}
	co.Checkin()

	ro, err := CheckoutT(e, p, 8, Read)
	if err != nil {
		t.Fatalf("CheckoutT read: %v", err)
	}
	for i, v := range ro.View() {
		if v != int64(i*i) {
			t.Fatalf("View()[%d] = %d, want %d", i, v, i*i)
		}
	}
	ro.Checkin()
}

func TestCheckoutReadWriteModifiesBlockInPlace(t *testing.T) {
	a, e := setup(t, 4, 8, 32)
	p := NewPtr[int64](a)

	w, err := CheckoutT(e, p, 4, Write)
	if err != nil {
		t.Fatalf("CheckoutT write: %v", err)
	}
	for i := range w.View() {
		w.View()[i] = int64(i)
	}
	w.Checkin()

	rw, err := CheckoutT(e, p, 4, ReadWrite)
	if err != nil {
		t.Fatalf("CheckoutT read_write: %v", err)
	}
	for i := range rw.View() {
		rw.View()[i] *= 10
	}
	rw.Checkin()

	r, err := CheckoutT(e, p, 4, Read)
	if err != nil {
		t.Fatalf("CheckoutT read: %v", err)
	}
	for i, v := range r.View() {
		if v != int64(i*10) {
			t.Fatalf("View()[%d] = %d, want %d", i, v, i*10)
		}
	}
	r.Checkin()
}

func TestCheckoutSpansMultipleBlocks(t *testing.T) {
	a, e := setup(t, 32, 8, 32) // 32 elems * 8 bytes = 256 bytes, block=32 bytes -> 8 blocks
	p := NewPtr[int64](a)

	w, err := CheckoutT(e, p, 32, Write)
	if err != nil {
		t.Fatalf("CheckoutT write: %v", err)
	}
	for i := range w.View() {
		w.View()[i] = int64(i)
	}
	w.Checkin()

	r, err := CheckoutT(e, p, 32, Read)
	if err != nil {
		t.Fatalf("CheckoutT read: %v", err)
	}
	for i, v := range r.View() {
		if v != int64(i) {
			t.Fatalf("View()[%d] = %d, want %d", i, v, i)
		}
	}
	r.Checkin()
}

func TestCheckinTwicePanics(t *testing.T) {
	a, e := setup(t, 4, 8, 32)
	p := NewPtr[int64](a)
	co, err := CheckoutT(e, p, 4, Read)
	if err != nil {
		t.Fatalf("CheckoutT: %v", err)
	}
	co.Checkin()
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on double Checkin")
		}
	}()
	co.Checkin()
}

func TestWithCheckoutChecksInOnPanic(t *testing.T) {
	a, e := setup(t, 4, 8, 32)
	p := NewPtr[int64](a)

	func() {
		defer func() { recover() }()
		_ = WithCheckout(e, p, 4, Write, func(view []int64) {
			panic("boom")
		})
	}()

	// The pinned block from the panicking checkout must have been
	// released by WithCheckout's deferred Checkin, so a fresh checkout
	// succeeds instead of failing with ErrCachePinned.
	co, err := CheckoutT(e, p, 4, Read)
	if err != nil {
		t.Fatalf("CheckoutT after panic: %v", err)
	}
	co.Checkin()
}
