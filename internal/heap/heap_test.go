package heap

import (
	"sync"
	"testing"

	"github.com/s417-lama/ityr-go/internal/mapper"
	"github.com/s417-lama/ityr-go/internal/transport"
)

func TestAllocCollectiveAgreesAcrossProcesses(t *testing.T) {
	const nprocs = 4
	cluster := transport.NewCluster(nprocs)

	allocs := make([]*Allocation, nprocs)
	var wg sync.WaitGroup
	wg.Add(nprocs)
	for r := 0; r < nprocs; r++ {
		go func(rank int) {
			defer wg.Done()
			h := New(cluster[rank])
			a, err := h.AllocCollective(1024, 8, 256, mapper.Cyclic{})
			if err != nil {
				t.Errorf("rank %d: AllocCollective: %v", rank, err)
				return
			}
			allocs[rank] = a
		}(r)
	}
	wg.Wait()

	want := allocs[0]
	for r := 1; r < nprocs; r++ {
		got := allocs[r]
		if got == nil {
			t.Fatalf("rank %d got nil allocation", r)
		}
		if got.ID != want.ID {
			t.Errorf("rank %d ID = %d, want %d", r, got.ID, want.ID)
		}
		for owner := 0; owner < nprocs; owner++ {
			if got.baseOffset[owner] != want.baseOffset[owner] {
				t.Errorf("rank %d baseOffset[%d] = %d, want %d", r, owner, got.baseOffset[owner], want.baseOffset[owner])
			}
		}
	}
}

func TestOwnerOfMatchesMapper(t *testing.T) {
	cluster := transport.NewCluster(1)
	h := New(cluster[0])
	a, err := h.AllocCollective(100, 8, 64, mapper.Cyclic{})
	if err != nil {
		t.Fatalf("AllocCollective: %v", err)
	}
	// single process: every element is owned by rank 0.
	for i := uint64(0); i < 100; i++ {
		if owner := a.OwnerOf(i); owner != 0 {
			t.Fatalf("OwnerOf(%d) = %d, want 0", i, owner)
		}
	}
}

func TestFreeMarksAllocation(t *testing.T) {
	cluster := transport.NewCluster(1)
	h := New(cluster[0])
	a, err := h.AllocCollective(10, 8, 64, mapper.Cyclic{})
	if err != nil {
		t.Fatalf("AllocCollective: %v", err)
	}
	if a.Freed() {
		t.Fatal("freshly allocated Allocation reports Freed()")
	}
	h.Free(a)
	if !a.Freed() {
		t.Fatal("Free did not mark allocation as freed")
	}
}

func TestAllocZeroSizeFails(t *testing.T) {
	cluster := transport.NewCluster(1)
	h := New(cluster[0])
	if _, err := h.AllocCollective(0, 8, 64, mapper.Cyclic{}); err == nil {
		t.Fatal("expected error for zero-element allocation")
	}
}
